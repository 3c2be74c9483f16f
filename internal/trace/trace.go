// Package trace holds the execution history of one run of a probabilistic
// program: the ordered random choices it made and how to resume it from each.
package trace

import (
	"errors"
	"fmt"

	"tracemh/internal/erp"
	"tracemh/internal/ppl"
)

var ErrDuplicateAddress = errors.New("random choice address sampled twice in one execution")

// Choice is one random-choice site.
type Choice struct {
	Name   ppl.Address
	ERP    erp.ERP
	Params erp.Params
	Value  ppl.Value

	// Score is the execution's accumulated log-weight on arrival at this
	// site, before LogProb is added.
	Score float64
	// LogProb is the site's own prior log-probability of Value.
	LogProb float64
	// ForwardScore and ReverseScore are the log-probabilities of the proposal
	// that produced Value and of the reverse proposal back to the value it
	// replaced. Both are zero for reused sites.
	ForwardScore float64
	ReverseScore float64
	Reused       bool

	Continuation ppl.Continuation
	Store        ppl.Store
}

// Trace is an ordered sequence of choices with unique names. The zero value is
// an empty trace.
type Trace struct {
	choices []Choice
	index   map[ppl.Address]int
}

// Len returns the number of choices.
func (t *Trace) Len() int {
	if t == nil {
		return 0
	}
	return len(t.choices)
}

// At returns the i-th choice in execution order.
func (t *Trace) At(i int) *Choice {
	return &t.choices[i]
}

// Choices returns the choices in execution order. The slice must not be
// modified.
func (t *Trace) Choices() []Choice {
	if t == nil {
		return nil
	}
	return t.choices
}

// Find returns the choice recorded under name.
func (t *Trace) Find(name ppl.Address) (*Choice, bool) {
	if t == nil {
		return nil, false
	}
	i, ok := t.index[name]
	if !ok {
		return nil, false
	}
	return &t.choices[i], true
}

// Append records c as the next choice.
func (t *Trace) Append(c Choice) error {
	if t.index == nil {
		t.index = make(map[ppl.Address]int)
	}
	if _, ok := t.index[c.Name]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateAddress, c.Name)
	}
	t.index[c.Name] = len(t.choices)
	t.choices = append(t.choices, c)
	return nil
}

// Prefix returns an independent trace holding the first n choices. Store
// snapshots are shared with t and must be cloned before a continuation is
// resumed from them.
func (t *Trace) Prefix(n int) *Trace {
	if t == nil {
		return &Trace{}
	}
	out := &Trace{
		choices: make([]Choice, n, max(n, t.Len())),
		index:   make(map[ppl.Address]int, n),
	}
	copy(out.choices, t.choices[:n])
	for i := range out.choices {
		out.index[out.choices[i].Name] = i
	}
	return out
}

// Names returns the choice addresses in execution order.
func (t *Trace) Names() []ppl.Address {
	names := make([]ppl.Address, 0, t.Len())
	for _, c := range t.Choices() {
		names = append(names, c.Name)
	}
	return names
}
