package stats

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/stat"

	"tracemh/internal/diagnostics"
	"tracemh/internal/marginal"
	"tracemh/internal/model"
)

var ErrEmptySeries = errors.New("empty series")

func Avg(values []float64) (float64, error) {
	if len(values) == 0 {
		return 0, ErrEmptySeries
	}
	return stat.Mean(values, nil), nil
}

// Std is the population standard deviation.
func Std(values []float64) (float64, error) {
	if len(values) == 0 {
		return 0, ErrEmptySeries
	}
	_, variance := stat.PopMeanVariance(values, nil)
	return math.Sqrt(variance), nil
}

// TotalVariation is the total variation distance between d and an exact
// distribution. Mass d places outside the exact support counts in full.
func TotalVariation(d *marginal.Dist, exact []marginal.Outcome) float64 {
	covered := 0.0
	dist := 0.0
	for _, o := range exact {
		p := d.Prob(o.Value)
		covered += p
		dist += math.Abs(p - o.Probability)
	}
	dist += math.Max(0, 1-covered)
	return dist / 2
}

// MarginalEntries encodes the outcomes of d for persistence.
func MarginalEntries(d *marginal.Dist) ([]model.MarginalEntry, error) {
	outcomes := d.Outcomes()
	out := make([]model.MarginalEntry, 0, len(outcomes))
	for _, o := range outcomes {
		raw, err := json.Marshal(o.Value)
		if err != nil {
			return nil, fmt.Errorf("encode outcome %v: %w", o.Value, err)
		}
		out = append(out, model.MarginalEntry{Value: raw, Count: o.Count, Probability: o.Probability})
	}
	return out, nil
}

// EncodeSamples encodes a sample chain for persistence.
func EncodeSamples(samples []any) ([]json.RawMessage, error) {
	out := make([]json.RawMessage, len(samples))
	for i, s := range samples {
		raw, err := json.Marshal(s)
		if err != nil {
			return nil, fmt.Errorf("encode sample %d: %w", i, err)
		}
		out[i] = raw
	}
	return out, nil
}

// DecodeSamples reverses EncodeSamples into generic JSON values.
func DecodeSamples(raw []json.RawMessage) ([]any, error) {
	out := make([]any, len(raw))
	for i, r := range raw {
		if err := json.Unmarshal(r, &out[i]); err != nil {
			return nil, fmt.Errorf("decode sample %d: %w", i, err)
		}
	}
	return out, nil
}

// BuildDiagnostics summarizes a chain report. Non-numeric chains keep only
// the counters.
func BuildDiagnostics(r diagnostics.Report) DiagnosticsArtifact {
	out := DiagnosticsArtifact{
		Accepted:       r.Accepted,
		Rejected:       r.Rejected,
		AcceptanceRate: r.AcceptanceRate,
		Samples:        len(r.Samples),
	}
	traces, err := diagnostics.Numeric(r.Samples)
	if err != nil {
		return out
	}
	for i, tr := range traces {
		c := ComponentDiagnostics{Component: i}
		c.Mean, _ = Avg(tr)
		c.Std, _ = Std(tr)
		if scores, err := diagnostics.Geweke(tr, diagnostics.DefaultGewekeFirst, diagnostics.DefaultGewekeLast, diagnostics.DefaultGewekeIntervals); err == nil {
			c.Geweke = scores
			c.MaxAbsZ = diagnostics.MaxAbsZ(scores)
		}
		out.Components = append(out.Components, c)
	}
	return out
}
