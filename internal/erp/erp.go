// Package erp defines the elementary random primitive contract consumed by
// the inference engine and a small set of gonum-backed primitives.
package erp

import (
	"math"
	"math/rand/v2"
	"slices"
)

// Value is an outcome drawn from an ERP.
type Value = any

// Params parameterize an ERP at one call site.
type Params []float64

// ERP is an immutable distribution descriptor.
//
// Score returns a natural-log probability (or density). It may return -Inf for
// values outside the support and returns NaN only for malformed parameters.
type ERP interface {
	Name() string
	Sample(rng *rand.Rand, params Params) Value
	Score(params Params, v Value) float64
}

// Proposer is implemented by drift ERPs. ProposalParams maps the prior
// parameters and the previous value to the parameters of the proposal kernel,
// which is the ERP itself evaluated under those parameters.
type Proposer interface {
	ProposalParams(params Params, prev Value) Params
}

// IsDrift reports whether e carries its own proposal kernel.
func IsDrift(e ERP) bool {
	_, ok := e.(Proposer)
	return ok
}

// Comparer is implemented by ERPs whose identity is not captured by their
// name and parameters, such as distributions built while a program runs.
type Comparer interface {
	SameAs(other ERP) bool
}

// Same reports whether two call sites use the same ERP with identical
// parameters.
func Same(a ERP, aParams Params, b ERP, bParams Params) bool {
	if a == nil || b == nil {
		return a == b
	}
	if a.Name() != b.Name() || !slices.Equal(aParams, bParams) {
		return false
	}
	if c, ok := a.(Comparer); ok {
		return c.SameAs(b)
	}
	if _, ok := b.(Comparer); ok {
		return false
	}
	return true
}

func param(params Params, i int) float64 {
	if i < 0 || i >= len(params) {
		return math.NaN()
	}
	return params[i]
}

func (p Params) clone() Params {
	if p == nil {
		return nil
	}
	return append(Params(nil), p...)
}
