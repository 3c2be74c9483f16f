// Package mh implements single-site trace Metropolis-Hastings for
// continuation-passing probabilistic programs.
//
// Each iteration picks one random choice of the current execution trace
// uniformly, proposes a new value for it, and re-executes the program from
// that point, reusing every later choice whose distribution is unchanged.
// The new trace is accepted with the Metropolis-Hastings probability, which
// corrects for the proposal kernels and for changes in trace length.
package mh

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"tracemh/internal/diagnostics"
	"tracemh/internal/marginal"
	"tracemh/internal/ppl"
)

// Infer runs program under MH and passes the resulting marginal distribution
// over return values to k, together with the store it was called with. The
// previous handler is active again by the time k runs. Failures abort the
// enclosing run; see ppl.Guard.
func Infer(rt *ppl.Runtime, s ppl.Store, k ppl.Continuation, a ppl.Address, program ppl.Program, opts Options) {
	m, err := newSampler(rt, opts)
	if err != nil {
		ppl.Abort(err)
	}
	restore := rt.Install(m)
	defer restore()

	dist := m.run(s, a, program)
	restore()
	m.report()
	k(s, dist)
}

// Run is the direct-style entry point: it runs program from the root address
// with an empty store and returns the marginal.
func Run(ctx context.Context, rt *ppl.Runtime, program ppl.Program, opts Options) (*marginal.Dist, error) {
	var dist *marginal.Dist
	err := ppl.Within(ctx, rt, func() {
		Infer(rt, ppl.Store{}, func(_ ppl.Store, v ppl.Value) {
			dist = v.(*marginal.Dist)
		}, ppl.Root, program, opts)
	})
	if err != nil {
		return nil, err
	}
	return dist, nil
}

func (m *sampler) run(s ppl.Store, a ppl.Address, program ppl.Program) *marginal.Dist {
	log := m.opts.Logger
	log.Debug("mh started",
		zap.String("address", string(a)),
		zap.Int("iterations", m.opts.Iterations),
		zap.Int("burn_in", m.opts.BurnIn),
	)

	m.execute(func() { program(m.rt, s.Clone(), m.rt.Exit, a) })
	for {
		m.decide()
		if m.iterations == 0 {
			break
		}
		if m.trace.Len() == 0 {
			// Nothing to propose; every remaining iteration repeats the state.
			for ; m.iterations > 0; m.iterations-- {
				m.accepted++
				if m.accepted+m.rejected > m.opts.BurnIn {
					m.record(m.val)
				}
			}
			break
		}
		if err := m.rt.Context().Err(); err != nil {
			ppl.Abort(err)
		}
		m.regenerate(m.rt.Rand().IntN(m.trace.Len()))
	}

	dist, err := m.hist.Dist()
	if errors.Is(err, marginal.ErrEmpty) {
		ppl.Abort(fmt.Errorf("%w: %d iterations with burn-in %d", ErrNoSamples, m.opts.Iterations, m.opts.BurnIn))
	}
	if err != nil {
		ppl.Abort(err)
	}
	m.opts.Metrics.observeRun()
	log.Debug("mh finished",
		zap.String("address", string(a)),
		zap.Int("accepted", m.accepted),
		zap.Int("rejected", m.rejected),
		zap.Int("samples", m.hist.Total()),
		zap.Int("support", dist.Len()),
	)
	return dist
}

func (m *sampler) report() {
	if !m.opts.Diagnostics {
		return
	}
	m.opts.Reporter.Report(diagnostics.NewReport(m.accepted, m.rejected, m.samples))
}
