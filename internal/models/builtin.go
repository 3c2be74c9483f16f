package models

import (
	"math"

	"tracemh/internal/erp"
	"tracemh/internal/marginal"
	"tracemh/internal/mh"
	"tracemh/internal/ppl"
)

const (
	// geometricLimit conditions the geometric model on at most this many
	// failures before the first success.
	geometricLimit = 3

	nestedInnerIterations = 300
	nestedInnerBurnIn     = 50
)

var (
	gaussianObservations = []float64{1.2, 0.8, 1.5, 0.9}
	dieCounts            = []float64{5, 2, 1}
)

func init() {
	mustRegister(Model{
		Name:        "flip-pair",
		Description: "two independent fair flips under a zero factor",
		Program:     FlipPair,
		Exact: []marginal.Outcome{
			{Value: [2]bool{false, false}, Probability: 0.25},
			{Value: [2]bool{false, true}, Probability: 0.25},
			{Value: [2]bool{true, false}, Probability: 0.25},
			{Value: [2]bool{true, true}, Probability: 0.25},
		},
		Tolerance:         0.03,
		DefaultIterations: 5000,
		DefaultBurnIn:     500,
	})
	mustRegister(Model{
		Name:        "one-or-two",
		Description: "one or two flips depending on the first, reweighted per branch",
		Program:     OneOrTwo,
		Exact: []marginal.Outcome{
			{Value: "A0", Probability: 0.3 / 1.28},
			{Value: "A1B0", Probability: 0.84 / 1.28},
			{Value: "A1B1", Probability: 0.14 / 1.28},
		},
		Tolerance:         0.03,
		DefaultIterations: 20000,
		DefaultBurnIn:     1000,
	})
	mustRegister(Model{
		Name:        "geometric",
		Description: "failures before the first fair-coin success, conditioned on at most 3",
		Program:     Geometric,
		Exact: []marginal.Outcome{
			{Value: 0, Probability: 8.0 / 15},
			{Value: 1, Probability: 4.0 / 15},
			{Value: 2, Probability: 2.0 / 15},
			{Value: 3, Probability: 1.0 / 15},
		},
		Tolerance:         0.03,
		DefaultIterations: 20000,
		DefaultBurnIn:     1000,
	})
	mustRegister(Model{
		Name:              "gaussian-mean",
		Description:       "mean of unit-variance observations under a standard normal prior, gaussian drift proposals",
		Program:           GaussianMean,
		Mean:              []float64{sum(gaussianObservations) / float64(len(gaussianObservations)+1)},
		DefaultIterations: 20000,
		DefaultBurnIn:     1000,
	})
	mustRegister(Model{
		Name:              "dirichlet-die",
		Description:       "weights of a three-sided die from observed roll counts, dirichlet drift proposals",
		Program:           DirichletDie,
		Mean:              dirichletPosteriorMean(erp.Params{1, 1, 1}, dieCounts),
		DefaultIterations: 30000,
		DefaultBurnIn:     1000,
	})
	mustRegister(Model{
		Name:        "nested",
		Description: "draws from the marginal of an inner inference whose prior depends on an outer flip",
		Program:     Nested,
		Exact: []marginal.Outcome{
			{Value: true, Probability: 0.5*0.9 + 0.5*(0.18/0.26)},
			{Value: false, Probability: 0.5*0.1 + 0.5*(0.08/0.26)},
		},
		Tolerance:         0.08,
		DefaultIterations: 3000,
		DefaultBurnIn:     300,
	})
}

// FlipPair returns both outcomes of two fair flips.
func FlipPair(rt *ppl.Runtime, s ppl.Store, k ppl.Continuation, a ppl.Address) {
	rt.Sample(s, func(s ppl.Store, x ppl.Value) {
		rt.Sample(s, func(s ppl.Store, y ppl.Value) {
			rt.Factor(s, func(s ppl.Store, _ ppl.Value) {
				k(s, [2]bool{x.(bool), y.(bool)})
			}, a.Child("f"), 0)
		}, a.Child("y"), erp.Flip, erp.Params{0.5})
	}, a.Child("x"), erp.Flip, erp.Params{0.5})
}

// OneOrTwo makes a second choice only when the first comes up true, so its
// trace length varies between executions.
func OneOrTwo(rt *ppl.Runtime, s ppl.Store, k ppl.Continuation, a ppl.Address) {
	rt.Sample(s, func(s ppl.Store, first ppl.Value) {
		if !first.(bool) {
			rt.Factor(s, func(s ppl.Store, _ ppl.Value) { k(s, "A0") }, a.Child("w"), 0)
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

// Geometric counts fair-coin failures before the first success. Runs longer
// than geometricLimit have zero posterior weight.
func Geometric(rt *ppl.Runtime, s ppl.Store, k ppl.Continuation, a ppl.Address) {
	var step func(s ppl.Store, n int)
	step = func(s ppl.Store, n int) {
		rt.Sample(s, func(s ppl.Store, heads ppl.Value) {
			if !heads.(bool) {
				step(s, n+1)
				return
			}
			weight := 0.0
			if n > geometricLimit {
				weight = math.Inf(-1)
			}
			rt.Factor(s, func(s ppl.Store, _ ppl.Value) { k(s, n) }, a.Child("limit"), weight)
		}, a.Index("flip", n), erp.Flip, erp.Params{0.5})
	}
	step(s, 0)
}

// GaussianMean infers the mean of gaussianObservations.
func GaussianMean(rt *ppl.Runtime, s ppl.Store, k ppl.Continuation, a ppl.Address) {
	rt.Sample(s, func(s ppl.Store, v ppl.Value) {
		mu := v.(float64)
		score := 0.0
		for _, x := range gaussianObservations {
			score += erp.Gaussian.Score(erp.Params{mu, 1}, x)
		}
		rt.Factor(s, func(s ppl.Store, _ ppl.Value) { k(s, mu) }, a.Child("data"), score)
	}, a.Child("mu"), erp.GaussianDrift, erp.Params{0, 1})
}

// DirichletDie infers die weights from dieCounts.
func DirichletDie(rt *ppl.Runtime, s ppl.Store, k ppl.Continuation, a ppl.Address) {
	rt.Sample(s, func(s ppl.Store, v ppl.Value) {
		theta := v.([]float64)
		score := 0.0
		for i, c := range dieCounts {
			score += c * math.Log(theta[i])
		}
		rt.Factor(s, func(s ppl.Store, _ ppl.Value) { k(s, theta) }, a.Child("rolls"), score)
	}, a.Child("theta"), erp.DirichletDrift, erp.Params{1, 1, 1})
}

// Nested flips a coin that sets the prior of an inner program, runs a
// separate inference over the inner program, and draws from its marginal.
func Nested(rt *ppl.Runtime, s ppl.Store, k ppl.Continuation, a ppl.Address) {
	rt.Sample(s, func(s ppl.Store, b ppl.Value) {
		p := 0.5
		if b.(bool) {
			p = 0.2
		}
		mh.Infer(rt, s, func(s ppl.Store, d ppl.Value) {
			rt.Sample(s, k, a.Child("draw"), d.(*marginal.Dist), nil)
		}, a.Child("inner"), evidenceCoin(p), mh.Options{Iterations: nestedInnerIterations, BurnIn: nestedInnerBurnIn})
	}, a.Child("b"), erp.Flip, erp.Params{0.5})
}

// evidenceCoin observes evidence that favours heads nine to one.
func evidenceCoin(p float64) ppl.Program {
	return func(rt *ppl.Runtime, s ppl.Store, k ppl.Continuation, a ppl.Address) {
		rt.Sample(s, func(s ppl.Store, c ppl.Value) {
			w := math.Log(0.1)
			if c.(bool) {
				w = math.Log(0.9)
			}
			rt.Factor(s, func(s ppl.Store, _ ppl.Value) { k(s, c) }, a.Child("evidence"), w)
		}, a.Child("coin"), erp.Flip, erp.Params{p})
	}
}

func sum(xs []float64) float64 {
	total := 0.0
	for _, x := range xs {
		total += x
	}
	return total
}

func dirichletPosteriorMean(alpha erp.Params, counts []float64) []float64 {
	total := sum(alpha) + sum(counts)
	out := make([]float64, len(alpha))
	for i := range alpha {
		out[i] = (alpha[i] + counts[i]) / total
	}
	return out
}
