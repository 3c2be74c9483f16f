package marginal

import (
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/stat/distuv"

	"tracemh/internal/erp"
)

// Outcome is one distinct return value with its empirical frequency.
type Outcome struct {
	Value       any
	Count       int
	Probability float64
}

// Dist is a normalized empirical distribution over return values. It is
// immutable and itself an ERP, so programs can sample from the result of a
// nested inference.
type Dist struct {
	outcomes []Outcome
	buckets  bucketIndex
	total    int
}

// FromValues aggregates vs into a distribution.
func FromValues(vs ...any) (*Dist, error) {
	h := NewHistogram()
	for _, v := range vs {
		if err := h.Add(v); err != nil {
			return nil, err
		}
	}
	return h.Dist()
}

// Outcomes returns the support in first-seen order.
func (d *Dist) Outcomes() []Outcome {
	out := make([]Outcome, len(d.outcomes))
	copy(out, d.outcomes)
	return out
}

// Len returns the number of distinct outcomes.
func (d *Dist) Len() int { return len(d.outcomes) }

// Total returns the number of samples the distribution was built from.
func (d *Dist) Total() int { return d.total }

// Prob returns the probability of v, zero outside the support.
func (d *Dist) Prob(v any) float64 {
	hash, err := Hash(v)
	if err != nil {
		return 0
	}
	if i, ok := d.buckets.find(d.outcomes, hash, v); ok {
		return d.outcomes[i].Probability
	}
	return 0
}

// Mode returns the most frequent outcome. Ties resolve to the first seen.
func (d *Dist) Mode() Outcome {
	best := d.outcomes[0]
	for _, o := range d.outcomes[1:] {
		if o.Count > best.Count {
			best = o
		}
	}
	return best
}

// Expect returns the expectation of f under d.
func (d *Dist) Expect(f func(any) float64) float64 {
	var sum float64
	for _, o := range d.outcomes {
		sum += o.Probability * f(o.Value)
	}
	return sum
}

func (d *Dist) Name() string { return "marginal" }

// SameAs reports whether other is a distribution with the same outcomes and
// probabilities. Distributions produced by separate inference runs rarely
// compare equal, so a site drawing from a recomputed marginal is redrawn.
func (d *Dist) SameAs(other erp.ERP) bool {
	o, ok := other.(*Dist)
	if !ok || o == nil {
		return false
	}
	if o == d {
		return true
	}
	if len(o.outcomes) != len(d.outcomes) {
		return false
	}
	for _, out := range d.outcomes {
		if o.Prob(out.Value) != out.Probability {
			return false
		}
	}
	return true
}

func (d *Dist) Sample(rng *rand.Rand, _ erp.Params) erp.Value {
	weights := make([]float64, len(d.outcomes))
	for i, o := range d.outcomes {
		weights[i] = o.Probability
	}
	i := int(distuv.NewCategorical(weights, rng).Rand())
	return d.outcomes[i].Value
}

func (d *Dist) Score(_ erp.Params, v erp.Value) float64 {
	p := d.Prob(v)
	if p == 0 {
		return math.Inf(-1)
	}
	return math.Log(p)
}
