package models

import (
	"context"
	"errors"
	"math"
	"math/rand/v2"
	"slices"
	"testing"

	"tracemh/internal/diagnostics"
	"tracemh/internal/mh"
	"tracemh/internal/ppl"
	"tracemh/internal/stats"
)

func newRuntime(seed uint64) *ppl.Runtime {
	return ppl.NewRuntime(rand.NewPCG(seed, seed+1))
}

func TestLookupResolvesAliases(t *testing.T) {
	for alias, want := range map[string]string{
		"flip_pair":        "flip-pair",
		"OneOrTwo":         "one-or-two",
		"model-geometric":  "geometric",
		"gaussian":         "gaussian-mean",
		"Dirichlet Die":    "dirichlet-die",
		"nested_inference": "nested",
	} {
		m, err := Lookup(alias)
		if err != nil {
			t.Fatalf("lookup %q: %v", alias, err)
		}
		if m.Name != want {
			t.Fatalf("lookup %q: got=%s want=%s", alias, m.Name, want)
		}
	}
	if _, err := Lookup("no-such-model"); !errors.Is(err, ErrModelNotFound) {
		t.Fatalf("expected model not found, got %v", err)
	}
}

func TestListIsSorted(t *testing.T) {
	want := []string{"dirichlet-die", "flip-pair", "gaussian-mean", "geometric", "nested", "one-or-two"}
	if names := Names(); !slices.Equal(names, want) {
		t.Fatalf("unexpected names: %v", names)
	}
}

func TestRegisterRejectsDuplicatesAndInvalidModels(t *testing.T) {
	if err := Register(Model{Name: "two_flips", Program: FlipPair, DefaultIterations: 10}); !errors.Is(err, ErrModelExists) {
		t.Fatalf("expected duplicate error, got %v", err)
	}
	if err := Register(Model{Name: "no-program", DefaultIterations: 10}); !errors.Is(err, ErrInvalidModel) {
		t.Fatalf("expected invalid model for missing program, got %v", err)
	}
	if err := Register(Model{Name: "bad-burn-in", Program: FlipPair, DefaultIterations: 10, DefaultBurnIn: 10}); !errors.Is(err, ErrInvalidModel) {
		t.Fatalf("expected invalid model for burn-in, got %v", err)
	}
}

func TestExactPosteriorsAreNormalized(t *testing.T) {
	for _, m := range List() {
		if !m.HasExact() {
			if len(m.Mean) == 0 {
				t.Fatalf("%s: expected an exact posterior or a posterior mean", m.Name)
			}
			continue
		}
		total := 0.0
		for _, o := range m.Exact {
			if o.Probability <= 0 {
				t.Fatalf("%s: non-positive probability for %v", m.Name, o.Value)
			}
			total += o.Probability
		}
		if math.Abs(total-1) > 1e-12 {
			t.Fatalf("%s: exact posterior sums to %v", m.Name, total)
		}
		if m.Tolerance <= 0 {
			t.Fatalf("%s: tolerance must be positive", m.Name)
		}
	}
}

func TestDiscreteModelsConverge(t *testing.T) {
	for i, name := range []string{"flip-pair", "one-or-two", "geometric"} {
		t.Run(name, func(t *testing.T) {
			m, err := Lookup(name)
			if err != nil {
				t.Fatalf("lookup: %v", err)
			}
			d, err := mh.Run(context.Background(), newRuntime(uint64(100+i)), m.Program, mh.Options{
				Iterations: m.DefaultIterations,
				BurnIn:     m.DefaultBurnIn,
			})
			if err != nil {
				t.Fatalf("run: %v", err)
			}
			if tv := stats.TotalVariation(d, m.Exact); tv >= m.Tolerance {
				t.Fatalf("total variation %v exceeds tolerance %v", tv, m.Tolerance)
			}
		})
	}
}

func TestGeometricStaysWithinLimit(t *testing.T) {
	d, err := mh.Run(context.Background(), newRuntime(8), Geometric, mh.Options{Iterations: 2000, BurnIn: 100})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	for _, o := range d.Outcomes() {
		if o.Value.(int) > geometricLimit {
			t.Fatalf("outcome %v beyond limit %d", o.Value, geometricLimit)
		}
	}
}

// chainMeans runs m with diagnostics and returns the numeric traces of its
// return value with their means.
func chainMeans(t *testing.T, m Model, seed uint64) ([]float64, [][]float64) {
	t.Helper()
	collector := &diagnostics.Collector{}
	_, err := mh.Run(context.Background(), newRuntime(seed), m.Program, mh.Options{
		Iterations:  m.DefaultIterations,
		BurnIn:      m.DefaultBurnIn,
		Diagnostics: true,
		Reporter:    collector,
	})
	if err != nil {
		t.Fatalf("run %s: %v", m.Name, err)
	}
	report, ok := collector.Last()
	if !ok {
		t.Fatalf("%s: no diagnostics report", m.Name)
	}
	traces, err := diagnostics.Numeric(report.Samples)
	if err != nil {
		t.Fatalf("%s: numeric traces: %v", m.Name, err)
	}
	means := make([]float64, len(traces))
	for i, tr := range traces {
		if means[i], err = stats.Avg(tr); err != nil {
			t.Fatalf("%s: mean of component %d: %v", m.Name, i, err)
		}
	}
	return means, traces
}

func TestGaussianMeanPosterior(t *testing.T) {
	m, err := Lookup("gaussian-mean")
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	means, traces := chainMeans(t, m, 21)
	if math.Abs(means[0]-m.Mean[0]) > 0.05 {
		t.Fatalf("posterior mean %v, want %v", means[0], m.Mean[0])
	}
	std, err := stats.Std(traces[0])
	if err != nil {
		t.Fatalf("std: %v", err)
	}
	if math.Abs(std-math.Sqrt(0.2)) > 0.05 {
		t.Fatalf("posterior std %v, want %v", std, math.Sqrt(0.2))
	}
}

func TestDirichletDiePosteriorMean(t *testing.T) {
	m, err := Lookup("dirichlet-die")
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	means, _ := chainMeans(t, m, 22)
	if len(means) != 3 {
		t.Fatalf("expected 3 components, got %d", len(means))
	}
	for i, mean := range means {
		if math.Abs(mean-m.Mean[i]) > 0.1 {
			t.Fatalf("component %d: mean %v, want %v", i, mean, m.Mean[i])
		}
	}
}

func TestNestedModelMatchesPosterior(t *testing.T) {
	if testing.Short() {
		t.Skip("nested inference runs an inner chain per outer step")
	}
	m, err := Lookup("nested")
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	rt := newRuntime(23)
	d, err := mh.Run(context.Background(), rt, m.Program, mh.Options{Iterations: m.DefaultIterations, BurnIn: m.DefaultBurnIn})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if tv := stats.TotalVariation(d, m.Exact); tv >= m.Tolerance {
		t.Fatalf("total variation %v exceeds tolerance %v", tv, m.Tolerance)
	}
	if rt.Depth() != 0 {
		t.Fatalf("handler leaked, depth=%d", rt.Depth())
	}
}
