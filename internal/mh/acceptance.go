package mh

import (
	"fmt"
	"math"

	"tracemh/internal/trace"
)

// AcceptProb returns the Metropolis-Hastings acceptance probability of moving
// from previous to current, where current was produced by regenerating from
// index regenFrom. Both traces share their first regenFrom records.
//
// The proposal picks a site uniformly, so each direction carries a
// -log(trace length) term. Beyond the regeneration point the forward move
// pays for every value it drew; the reverse move pays for redrawing the
// previous values at sites that still exist, and for redrawing from the prior
// every previous site the current path no longer reaches.
func AcceptProb(current, previous *trace.Trace, regenFrom int, currScore, prevScore float64) (float64, error) {
	if previous == nil || math.IsInf(prevScore, -1) {
		return 1, nil
	}
	if math.IsInf(currScore, -1) {
		return 0, nil
	}
	fw := -math.Log(float64(previous.Len()))
	for _, c := range current.Choices()[regenFrom:] {
		fw += c.ForwardScore
	}
	bw := -math.Log(float64(current.Len()))
	for _, c := range current.Choices()[regenFrom:] {
		bw += c.ReverseScore
	}
	for _, c := range previous.Choices()[min(regenFrom, previous.Len()):] {
		if _, ok := current.Find(c.Name); !ok {
			bw += c.LogProb
		}
	}
	p := math.Exp(currScore - prevScore + bw - fw)
	if math.IsNaN(p) {
		return 0, fmt.Errorf("%w: score %v -> %v, forward %v, backward %v", ErrInvalidAcceptance, prevScore, currScore, fw, bw)
	}
	return math.Min(1, p), nil
}
