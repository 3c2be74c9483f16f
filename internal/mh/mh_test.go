package mh

import (
	"context"
	"errors"
	"math"
	"math/rand/v2"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"

	"tracemh/internal/diagnostics"
	"tracemh/internal/erp"
	"tracemh/internal/marginal"
	"tracemh/internal/ppl"
	"tracemh/internal/trace"
)

func newRuntime(seed uint64) *ppl.Runtime {
	return ppl.NewRuntime(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
}

func flipPair(rt *ppl.Runtime, s ppl.Store, k ppl.Continuation, a ppl.Address) {
	rt.Sample(s, func(s ppl.Store, x ppl.Value) {
		rt.Sample(s, func(s ppl.Store, y ppl.Value) {
			rt.Factor(s, func(s ppl.Store, _ ppl.Value) {
				k(s, [2]bool{x.(bool), y.(bool)})
			}, a.Child("f"), 0)
		}, a.Child("y"), erp.Flip, erp.Params{0.5})
	}, a.Child("x"), erp.Flip, erp.Params{0.5})
}

// oneOrTwo has one or two random choices depending on the first.
func oneOrTwo(rt *ppl.Runtime, s ppl.Store, k ppl.Continuation, a ppl.Address) {
	rt.Sample(s, func(s ppl.Store, first ppl.Value) {
		if !first.(bool) {
			rt.Factor(s, func(s ppl.Store, _ ppl.Value) { k(s, "A0") }, a.Child("w"), math.Log(1))
			return
		}
		rt.Sample(s, func(s ppl.Store, second ppl.Value) {
			if second.(bool) {
				rt.Factor(s, func(s ppl.Store, _ ppl.Value) { k(s, "A1B1") }, a.Child("w"), math.Log(0.5))
				return
			}
			rt.Factor(s, func(s ppl.Store, _ ppl.Value) { k(s, "A1B0") }, a.Child("w"), math.Log(2))
		}, a.Child("b"), erp.Flip, erp.Params{0.4})
	}, a.Child("a"), erp.Flip, erp.Params{0.7})
}

func TestAcceptProbInitialAndImpossibleStates(t *testing.T) {
	var cur trace.Trace
	require.NoError(t, cur.Append(trace.Choice{Name: "x"}))

	p, err := AcceptProb(&cur, nil, 0, -3, 0)
	require.NoError(t, err)
	require.Equal(t, 1.0, p)

	p, err = AcceptProb(&cur, &cur, 0, -3, math.Inf(-1))
	require.NoError(t, err)
	require.Equal(t, 1.0, p)
}

func TestAcceptProbAccountsForVanishedChoices(t *testing.T) {
	var prev, cur trace.Trace
	require.NoError(t, prev.Append(trace.Choice{Name: "a", LogProb: math.Log(0.7)}))
	require.NoError(t, prev.Append(trace.Choice{Name: "b", LogProb: math.Log(0.4)}))
	require.NoError(t, cur.Append(trace.Choice{Name: "a", LogProb: math.Log(0.3), ForwardScore: math.Log(0.3), ReverseScore: math.Log(0.7)}))

	prevScore := math.Log(0.7) + math.Log(0.4) + math.Log(0.5)
	currScore := math.Log(0.3)
	p, err := AcceptProb(&cur, &prev, 0, currScore, prevScore)
	require.NoError(t, err)

	fw := -math.Log(2) + math.Log(0.3)
	bw := -math.Log(1) + math.Log(0.7) + math.Log(0.4)
	want := math.Min(1, math.Exp(currScore-prevScore+bw-fw))
	require.InDelta(t, want, p, 1e-12)
}

func TestAcceptProbStaysInUnitInterval(t *testing.T) {
	rng := rand.New(rand.NewPCG(11, 12))
	for range 500 {
		var prev, cur trace.Trace
		n := 1 + rng.IntN(4)
		for i := range n {
			name := ppl.Root.Index("c", i)
			require.NoError(t, prev.Append(trace.Choice{Name: name, LogProb: -rng.ExpFloat64()}))
			if rng.IntN(2) == 0 || i == 0 {
				require.NoError(t, cur.Append(trace.Choice{Name: name, ForwardScore: -rng.ExpFloat64(), ReverseScore: -rng.ExpFloat64()}))
			}
		}
		p, err := AcceptProb(&cur, &prev, 0, -10*rng.Float64(), -10*rng.Float64())
		require.NoError(t, err)
		require.False(t, math.IsNaN(p))
		require.GreaterOrEqual(t, p, 0.0)
		require.LessOrEqual(t, p, 1.0)
	}
}

func TestAcceptProbRejectsNaN(t *testing.T) {
	var cur trace.Trace
	require.NoError(t, cur.Append(trace.Choice{Name: "x"}))
	_, err := AcceptProb(&cur, &cur, 0, math.NaN(), 0)
	require.ErrorIs(t, err, ErrInvalidAcceptance)
}

func TestBurnInZeroKeepsEveryIteration(t *testing.T) {
	d, err := Run(context.Background(), newRuntime(1), flipPair, Options{Iterations: 300, BurnIn: 0})
	require.NoError(t, err)
	require.Equal(t, 300, d.Total())
}

func TestDefaultBurnIn(t *testing.T) {
	d, err := Run(context.Background(), newRuntime(2), flipPair, Options{Iterations: 100, BurnIn: DefaultBurnIn})
	require.NoError(t, err)
	require.Equal(t, 50, d.Total())

	d, err = Run(context.Background(), newRuntime(2), flipPair, Options{Iterations: 2000, BurnIn: DefaultBurnIn})
	require.NoError(t, err)
	require.Equal(t, 1500, d.Total())
}

func TestSingleSiteConvergesToPrior(t *testing.T) {
	weights := []float64{1, 2, 3, 4}
	program := func(rt *ppl.Runtime, s ppl.Store, k ppl.Continuation, a ppl.Address) {
		rt.Sample(s, k, a.Child("x"), erp.Discrete, weights)
	}
	d, err := Run(context.Background(), newRuntime(3), program, Options{Iterations: 10000, BurnIn: 500})
	require.NoError(t, err)

	obs := make([]float64, len(weights))
	exp := make([]float64, len(weights))
	for i, w := range weights {
		obs[i] = d.Prob(i) * float64(d.Total())
		exp[i] = w / 10 * float64(d.Total())
	}
	chi := stat.ChiSquare(obs, exp)
	pValue := distuv.ChiSquared{K: float64(len(weights) - 1)}.Survival(chi)
	require.Greater(t, pValue, 0.001, "chi-square %v", chi)
}

func TestPriorOnlyProposalsAreAlwaysAccepted(t *testing.T) {
	var c diagnostics.Collector
	_, err := Run(context.Background(), newRuntime(4), flipPair, Options{
		Iterations:  2000,
		BurnIn:      0,
		Diagnostics: true,
		Reporter:    &c,
	})
	require.NoError(t, err)
	r, ok := c.Last()
	require.True(t, ok)
	require.Greater(t, r.AcceptanceRate, 0.999)
	require.Len(t, r.Samples, 2000)
}

func TestVariableLengthTraceMatchesPosterior(t *testing.T) {
	d, err := Run(context.Background(), newRuntime(5), oneOrTwo, Options{Iterations: 20000, BurnIn: 1000})
	require.NoError(t, err)
	require.InDelta(t, 0.234375, d.Prob("A0"), 0.03)
	require.InDelta(t, 0.65625, d.Prob("A1B0"), 0.03)
	require.InDelta(t, 0.109375, d.Prob("A1B1"), 0.03)
}

func TestGaussianDriftPosteriorMean(t *testing.T) {
	program := func(rt *ppl.Runtime, s ppl.Store, k ppl.Continuation, a ppl.Address) {
		rt.Sample(s, func(s ppl.Store, mu ppl.Value) {
			ll := erp.Gaussian.Score(erp.Params{mu.(float64), 1}, 1.0)
			rt.Factor(s, func(s ppl.Store, _ ppl.Value) { k(s, mu) }, a.Child("obs"), ll)
		}, a.Child("mu"), erp.GaussianDrift, erp.Params{0, 1})
	}
	d, err := Run(context.Background(), newRuntime(6), program, Options{Iterations: 20000, BurnIn: 1000})
	require.NoError(t, err)
	mean := d.Expect(func(v any) float64 { return v.(float64) })
	require.InDelta(t, 0.5, mean, 0.1)
}

func TestRegenerateReusesUnaffectedChoices(t *testing.T) {
	rt := newRuntime(7)
	m, err := newSampler(rt, Options{Iterations: 10, BurnIn: 0})
	require.NoError(t, err)

	program := func(rt *ppl.Runtime, s ppl.Store, k ppl.Continuation, a ppl.Address) {
		rt.Sample(s, func(s ppl.Store, x ppl.Value) {
			s = s.With("x", x)
			rt.Sample(s, func(s ppl.Store, y ppl.Value) {
				rt.Sample(s, func(s ppl.Store, z ppl.Value) {
					k(s, []float64{x.(float64), y.(float64), z.(float64)})
				}, a.Child("z"), erp.Gaussian, erp.Params{x.(float64), 1})
			}, a.Child("y"), erp.Uniform, erp.Params{0, 1})
		}, a.Child("x"), erp.Gaussian, erp.Params{0, 1})
	}

	err = ppl.Within(context.Background(), rt, func() {
		restore := rt.Install(m)
		defer restore()
		m.execute(func() { program(rt, ppl.Store{}, rt.Exit, ppl.Root) })
		m.decide()
		before := m.trace
		m.regenerate(0)

		require.Same(t, before, m.oldTrace)
		require.Equal(t, 3, m.trace.Len())
		x, y, z := m.trace.At(0), m.trace.At(1), m.trace.At(2)
		oldX, oldY, oldZ := before.At(0), before.At(1), before.At(2)

		require.False(t, x.Reused)
		require.NotEqual(t, oldX.Value, x.Value)
		require.InDelta(t, oldX.LogProb, x.ReverseScore, 1e-12)
		require.InDelta(t, x.LogProb, x.ForwardScore, 1e-12)

		require.True(t, y.Reused)
		require.Equal(t, oldY.Value, y.Value)
		require.Zero(t, y.ForwardScore)
		require.Zero(t, y.ReverseScore)
		require.InDelta(t, x.Score+x.LogProb, y.Score, 1e-12)

		require.False(t, z.Reused)
		require.InDelta(t, oldZ.LogProb, z.ReverseScore, 1e-12)

		stored, ok := y.Store.Get("x")
		require.True(t, ok)
		require.Equal(t, x.Value, stored)
		_, ok = x.Store.Get("x")
		require.False(t, ok, "snapshot must precede the binding")
	})
	require.NoError(t, err)
	require.Zero(t, rt.Depth())
}

func TestDriftProposalScoresAreSymmetric(t *testing.T) {
	rt := newRuntime(8)
	m, err := newSampler(rt, Options{Iterations: 10, BurnIn: 0})
	require.NoError(t, err)
	program := func(rt *ppl.Runtime, s ppl.Store, k ppl.Continuation, a ppl.Address) {
		rt.Sample(s, k, a.Child("mu"), erp.GaussianDrift, erp.Params{0, 2})
	}
	err = ppl.Within(context.Background(), rt, func() {
		restore := rt.Install(m)
		defer restore()
		m.execute(func() { program(rt, ppl.Store{}, rt.Exit, ppl.Root) })
		m.decide()
		m.regenerate(0)
		c := m.trace.At(0)
		want := distuv.Normal{Mu: m.oldTrace.At(0).Value.(float64), Sigma: 2 * erp.GaussianDriftScale}.LogProb(c.Value.(float64))
		require.InDelta(t, want, c.ForwardScore, 1e-12)
		require.InDelta(t, c.ForwardScore, c.ReverseScore, 1e-12)
	})
	require.NoError(t, err)
}

func TestChangedERPIsDrawnFresh(t *testing.T) {
	rt := newRuntime(9)
	m, err := newSampler(rt, Options{Iterations: 10, BurnIn: 0})
	require.NoError(t, err)
	program := func(rt *ppl.Runtime, s ppl.Store, k ppl.Continuation, a ppl.Address) {
		rt.Sample(s, func(s ppl.Store, b ppl.Value) {
			if b.(bool) {
				rt.Sample(s, k, a.Child("v"), erp.RandomInteger, erp.Params{3})
				return
			}
			rt.Sample(s, k, a.Child("v"), erp.Gaussian, erp.Params{0, 1})
		}, a.Child("b"), erp.Flip, erp.Params{0.5})
	}
	err = ppl.Within(context.Background(), rt, func() {
		restore := rt.Install(m)
		defer restore()
		m.execute(func() { program(rt, ppl.Store{}, rt.Exit, ppl.Root) })
		m.decide()
		found := false
		for range 200 {
			prevB := m.trace.At(0).Value
			prevV := *m.trace.At(1)
			m.regenerate(0)
			next := m.trace
			m.decide()
			if next.At(0).Value == prevB {
				continue
			}
			v := next.At(1)
			require.NotEqual(t, prevV.ERP.Name(), v.ERP.Name())
			require.False(t, v.Reused)
			require.InDelta(t, prevV.LogProb, v.ReverseScore, 1e-12)
			found = true
			break
		}
		require.True(t, found, "no proposal switched branches")
	})
	require.NoError(t, err)
}

func TestNaNScoreAborts(t *testing.T) {
	rt := newRuntime(10)
	program := func(rt *ppl.Runtime, s ppl.Store, k ppl.Continuation, a ppl.Address) {
		rt.Sample(s, k, a.Child("x"), erp.Flip, erp.Params{1.5})
	}
	_, err := Run(context.Background(), rt, program, Options{Iterations: 10, BurnIn: 0})
	require.ErrorIs(t, err, ErrInvalidScore)
	require.Zero(t, rt.Depth())
}

func TestInvalidFactorAborts(t *testing.T) {
	for _, w := range []float64{math.NaN(), math.Inf(1)} {
		rt := newRuntime(11)
		program := func(rt *ppl.Runtime, s ppl.Store, k ppl.Continuation, a ppl.Address) {
			rt.Factor(s, func(s ppl.Store, _ ppl.Value) { k(s, 1) }, a, w)
		}
		_, err := Run(context.Background(), rt, program, Options{Iterations: 10, BurnIn: 0})
		require.ErrorIs(t, err, ppl.ErrInvalidWeight)
		require.Zero(t, rt.Depth())
	}
}

func TestNegativeInfiniteFactorIsAllowed(t *testing.T) {
	program := func(rt *ppl.Runtime, s ppl.Store, k ppl.Continuation, a ppl.Address) {
		rt.Sample(s, func(s ppl.Store, x ppl.Value) {
			w := 0.0
			if !x.(bool) {
				w = math.Inf(-1)
			}
			rt.Factor(s, func(s ppl.Store, _ ppl.Value) { k(s, x) }, a.Child("w"), w)
		}, a.Child("x"), erp.Flip, erp.Params{0.5})
	}
	d, err := Run(context.Background(), newRuntime(12), program, Options{Iterations: 500, BurnIn: 100})
	require.NoError(t, err)
	require.Equal(t, 1.0, d.Prob(true))
}

func TestDuplicateAddressAborts(t *testing.T) {
	program := func(rt *ppl.Runtime, s ppl.Store, k ppl.Continuation, a ppl.Address) {
		rt.Sample(s, func(s ppl.Store, _ ppl.Value) {
			rt.Sample(s, k, a.Child("x"), erp.Flip, erp.Params{0.5})
		}, a.Child("x"), erp.Flip, erp.Params{0.5})
	}
	_, err := Run(context.Background(), newRuntime(13), program, Options{Iterations: 10})
	require.ErrorIs(t, err, trace.ErrDuplicateAddress)
}

func TestInvalidOptions(t *testing.T) {
	rt := newRuntime(14)
	_, err := Run(context.Background(), rt, flipPair, Options{Iterations: 0})
	require.ErrorIs(t, err, ErrInvalidOptions)
	require.Zero(t, rt.Depth())
}

func TestBurnInSwallowingEverySampleFails(t *testing.T) {
	_, err := Run(context.Background(), newRuntime(15), flipPair, Options{Iterations: 10, BurnIn: 10})
	require.ErrorIs(t, err, ErrNoSamples)
}

func TestDeterministicProgram(t *testing.T) {
	calls := 0
	program := func(rt *ppl.Runtime, s ppl.Store, k ppl.Continuation, a ppl.Address) {
		calls++
		k(s, "const")
	}
	d, err := Run(context.Background(), newRuntime(16), program, Options{Iterations: 50, BurnIn: 0})
	require.NoError(t, err)
	require.Equal(t, 50, d.Total())
	require.Equal(t, 1.0, d.Prob("const"))
	require.Equal(t, 1, calls)
}

func TestUnhashableReturnAborts(t *testing.T) {
	program := func(rt *ppl.Runtime, s ppl.Store, k ppl.Continuation, a ppl.Address) {
		k(s, func() {})
	}
	_, err := Run(context.Background(), newRuntime(17), program, Options{Iterations: 5, BurnIn: 0})
	require.ErrorIs(t, err, marginal.ErrUnhashable)
}

func TestCancelledContextAborts(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	rt := newRuntime(18)
	_, err := Run(ctx, rt, flipPair, Options{Iterations: 100, BurnIn: 0})
	require.ErrorIs(t, err, context.Canceled)
	require.Zero(t, rt.Depth())
}

func TestNestedInference(t *testing.T) {
	rt := newRuntime(19)
	var depths []int
	inner := func(p float64) ppl.Program {
		return func(rt *ppl.Runtime, s ppl.Store, k ppl.Continuation, a ppl.Address) {
			rt.Sample(s, k, a.Child("coin"), erp.Flip, erp.Params{p})
		}
	}
	outer := func(rt *ppl.Runtime, s ppl.Store, k ppl.Continuation, a ppl.Address) {
		rt.Sample(s, func(s ppl.Store, b ppl.Value) {
			p := 0.5
			if b.(bool) {
				p = 0.9
			}
			Infer(rt, s, func(s ppl.Store, d ppl.Value) {
				depths = append(depths, rt.Depth())
				rt.Sample(s, k, a.Child("draw"), d.(*marginal.Dist), nil)
			}, a.Child("inner"), inner(p), Options{Iterations: 200, BurnIn: 0})
		}, a.Child("b"), erp.Flip, erp.Params{0.5})
	}

	d, err := Run(context.Background(), rt, outer, Options{Iterations: 3000, BurnIn: 500})
	require.NoError(t, err)
	require.InDelta(t, 0.7, d.Prob(true), 0.07)
	require.NotEmpty(t, depths)
	for _, depth := range depths {
		require.Equal(t, 1, depth, "inner handler must be released before its continuation runs")
	}
	require.Zero(t, rt.Depth())
}

func TestNestedSupportFollowsOuterChoice(t *testing.T) {
	inner := func(high bool) ppl.Program {
		return func(rt *ppl.Runtime, s ppl.Store, k ppl.Continuation, a ppl.Address) {
			if high {
				k(s, "hi")
				return
			}
			k(s, "lo")
		}
	}
	outer := func(rt *ppl.Runtime, s ppl.Store, k ppl.Continuation, a ppl.Address) {
		rt.Sample(s, func(s ppl.Store, b ppl.Value) {
			Infer(rt, s, func(s ppl.Store, d ppl.Value) {
				rt.Sample(s, k, a.Child("draw"), d.(*marginal.Dist), nil)
			}, a.Child("inner"), inner(b.(bool)), Options{Iterations: 10, BurnIn: 0})
		}, a.Child("b"), erp.Flip, erp.Params{0.5})
	}

	for seed := uint64(1); seed <= 4; seed++ {
		d, err := Run(context.Background(), newRuntime(seed), outer, Options{Iterations: 2000, BurnIn: 0})
		require.NoError(t, err)
		require.InDelta(t, 0.5, d.Prob("hi"), 0.08, "seed %d", seed)
		require.InDelta(t, 0.5, d.Prob("lo"), 0.08, "seed %d", seed)
	}
}

func TestMetricsCountEveryIteration(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := NewMetrics(reg)
	_, err := Run(context.Background(), newRuntime(20), oneOrTwo, Options{Iterations: 400, BurnIn: 0, Metrics: metrics})
	require.NoError(t, err)

	accepted := testutil.ToFloat64(metrics.proposals.WithLabelValues("accepted"))
	rejected := testutil.ToFloat64(metrics.proposals.WithLabelValues("rejected"))
	require.Equal(t, 400.0, accepted+rejected)
	require.Equal(t, 1.0, testutil.ToFloat64(metrics.runs))
	require.Equal(t, 1, testutil.CollectAndCount(metrics.traceLength))
}

func TestAbortLeavesOuterHandlerInstalled(t *testing.T) {
	rt := newRuntime(21)
	outer := &recorder{}
	restore := rt.Install(outer)
	defer restore()

	err := ppl.Guard(func() {
		Infer(rt, ppl.Store{}, func(ppl.Store, ppl.Value) {}, ppl.Root, flipPair, Options{Iterations: 0})
	})
	require.True(t, errors.Is(err, ErrInvalidOptions))
	require.Equal(t, 1, rt.Depth())
	require.Same(t, outer, rt.Current())
}

type recorder struct{}

func (*recorder) Sample(s ppl.Store, k ppl.Continuation, _ ppl.Address, _ erp.ERP, _ erp.Params) {
	k(s, nil)
}
func (*recorder) Factor(s ppl.Store, k ppl.Continuation, _ ppl.Address, _ float64) { k(s, nil) }
func (*recorder) Exit(ppl.Store, ppl.Value)                                        {}

func TestAcceptProbRejectsImpossibleProposal(t *testing.T) {
	var cur trace.Trace
	require.NoError(t, cur.Append(trace.Choice{Name: "x", ForwardScore: math.Inf(-1)}))
	p, err := AcceptProb(&cur, &cur, 0, math.Inf(-1), -2)
	require.NoError(t, err)
	require.Equal(t, 0.0, p)
}
