package mh

import (
	"fmt"
	"math"

	"tracemh/internal/erp"
	"tracemh/internal/marginal"
	"tracemh/internal/ppl"
	"tracemh/internal/trace"
)

// sampler is the inference state of one MH call and the effect handler
// installed while it runs.
type sampler struct {
	rt   *ppl.Runtime
	opts Options

	trace     *trace.Trace
	oldTrace  *trace.Trace
	currScore float64
	oldScore  float64
	val       ppl.Value
	oldVal    ppl.Value
	regenFrom int
	exited    bool

	iterations int
	accepted   int
	rejected   int
	hist       *marginal.Histogram
	samples    []any
}

func newSampler(rt *ppl.Runtime, opts Options) (*sampler, error) {
	opts, err := opts.normalize()
	if err != nil {
		return nil, err
	}
	return &sampler{
		rt:         rt,
		opts:       opts,
		trace:      &trace.Trace{},
		oldScore:   math.Inf(-1),
		iterations: opts.Iterations,
		hist:       marginal.NewHistogram(),
	}, nil
}

func (m *sampler) Sample(s ppl.Store, k ppl.Continuation, a ppl.Address, e erp.ERP, params erp.Params) {
	m.propose(s, k, a, e, params, false)
}

func (m *sampler) Factor(s ppl.Store, k ppl.Continuation, a ppl.Address, score float64) {
	if math.IsNaN(score) || math.IsInf(score, 1) {
		ppl.Abortf("%w: %v at %s", ppl.ErrInvalidWeight, score, a)
	}
	m.currScore += score
	k(s, nil)
}

func (m *sampler) Exit(_ ppl.Store, v ppl.Value) {
	if m.exited {
		ppl.Abort(ErrMultipleExit)
	}
	m.exited = true
	m.val = v
}

// propose resolves the choice at a against the previous trace, records it and
// resumes k. force requests a fresh proposal even when the site is unchanged.
func (m *sampler) propose(s ppl.Store, k ppl.Continuation, a ppl.Address, e erp.ERP, params erp.Params, force bool) {
	rng := m.rt.Rand()
	c := trace.Choice{
		Name:         a,
		ERP:          e,
		Params:       params,
		Score:        m.currScore,
		Continuation: k,
		Store:        s.Clone(),
	}

	prev, ok := m.oldTrace.Find(a)
	switch {
	case !ok:
		c.Value = e.Sample(rng, params)
		c.ForwardScore = e.Score(params, c.Value)
	case prev.ERP.Name() != e.Name():
		// The old value need not lie in the new ERP's domain.
		c.Value = e.Sample(rng, params)
		c.ForwardScore = e.Score(params, c.Value)
		c.ReverseScore = prev.LogProb
	case force || !erp.Same(prev.ERP, prev.Params, e, params):
		if p, ok := e.(erp.Proposer); ok {
			proposal := p.ProposalParams(params, prev.Value)
			c.Value = e.Sample(rng, proposal)
			c.ForwardScore = e.Score(proposal, c.Value)
			c.ReverseScore = e.Score(p.ProposalParams(prev.Params, c.Value), prev.Value)
		} else {
			c.Value = e.Sample(rng, params)
			c.ForwardScore = e.Score(params, c.Value)
			c.ReverseScore = prev.LogProb
		}
	default:
		c.Value = prev.Value
		c.Reused = true
	}

	c.LogProb = e.Score(params, c.Value)
	if math.IsNaN(c.LogProb) {
		ppl.Abortf("%w: %s%v at %s", ErrInvalidScore, e.Name(), []float64(params), a)
	}
	if err := m.trace.Append(c); err != nil {
		ppl.Abort(err)
	}
	m.currScore += c.LogProb
	k(s, c.Value)
}

// regenerate starts a proposal that resamples the i-th choice of the current
// trace and re-executes the program from there.
func (m *sampler) regenerate(i int) {
	regen := *m.trace.At(i)
	m.regenFrom = i
	m.oldTrace = m.trace
	m.trace = m.trace.Prefix(i)
	m.oldScore = m.currScore
	m.currScore = regen.Score
	m.oldVal = m.val
	m.execute(func() {
		m.propose(regen.Store.Clone(), regen.Continuation, regen.Name, regen.ERP, regen.Params, true)
	})
}

// execute runs fn until the program reaches its exit continuation.
func (m *sampler) execute(fn func()) {
	m.exited = false
	fn()
	if !m.exited {
		ppl.Abort(ppl.ErrNoExit)
	}
}

// decide accepts or rejects the execution that just finished and records the
// resulting state once burn-in has passed.
func (m *sampler) decide() {
	p, err := AcceptProb(m.trace, m.oldTrace, m.regenFrom, m.currScore, m.oldScore)
	if err != nil {
		ppl.Abort(err)
	}
	accepted := m.rt.Rand().Float64() < p
	m.opts.Metrics.observeStep(p, accepted, m.trace.Len())
	if accepted {
		m.accepted++
	} else {
		m.rejected++
		m.trace = m.oldTrace
		m.currScore = m.oldScore
		m.val = m.oldVal
	}
	m.iterations--
	if m.accepted+m.rejected > m.opts.BurnIn {
		m.record(m.val)
	}
}

func (m *sampler) record(v ppl.Value) {
	if err := m.hist.Add(v); err != nil {
		ppl.Abort(fmt.Errorf("record %T: %w", v, err))
	}
	if m.opts.Diagnostics {
		m.samples = append(m.samples, v)
	}
}
