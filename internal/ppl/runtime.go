// Package ppl is the continuation-passing execution substrate that probabilistic
// programs run on. Programs never call a global: every effect goes through the
// explicit *Runtime, whose handler stack decides how sample and factor resolve.
package ppl

import (
	"context"
	"fmt"
	"math/rand/v2"

	"tracemh/internal/erp"
)

// Value is a program value.
type Value = erp.Value

// Address names a random-choice site along a control-flow path.
type Address string

// Root is the conventional address of a top-level program.
const Root Address = "root"

// Child extends the address with a call-site label.
func (a Address) Child(label string) Address {
	return a + "/" + Address(label)
}

// Index extends the address with a labelled loop iteration.
func (a Address) Index(label string, i int) Address {
	return a.Child(fmt.Sprintf("%s[%d]", label, i))
}

// Continuation is the rest of the program. Factor resumes it with a nil value.
type Continuation func(s Store, v Value)

// Program is a probabilistic program. It must invoke k exactly once per
// execution path, directly or through further continuations.
type Program func(rt *Runtime, s Store, k Continuation, a Address)

// Handler resolves the effects raised by a running program.
type Handler interface {
	Sample(s Store, k Continuation, a Address, e erp.ERP, params erp.Params)
	Factor(s Store, k Continuation, a Address, score float64)
	Exit(s Store, v Value)
}

// Runtime owns the handler stack and the random source for one logical
// thread of execution. It is not safe for concurrent use; independent chains
// use independent runtimes.
type Runtime struct {
	rng      *rand.Rand
	ctx      context.Context
	handlers []Handler
}

// NewRuntime returns a runtime drawing from src. A nil src selects an
// unseeded source.
func NewRuntime(src rand.Source) *Runtime {
	if src == nil {
		src = rand.NewPCG(rand.Uint64(), rand.Uint64())
	}
	return &Runtime{rng: rand.New(src)}
}

// Rand returns the runtime's random source.
func (rt *Runtime) Rand() *rand.Rand { return rt.rng }

// Context returns the context bound by the innermost Run.
func (rt *Runtime) Context() context.Context {
	if rt.ctx == nil {
		return context.Background()
	}
	return rt.ctx
}

// Depth reports how many handlers are installed.
func (rt *Runtime) Depth() int { return len(rt.handlers) }

// Current returns the active handler, or nil.
func (rt *Runtime) Current() Handler {
	if len(rt.handlers) == 0 {
		return nil
	}
	return rt.handlers[len(rt.handlers)-1]
}

// Install makes h the active handler. The returned restore func reinstates
// the previous handler; it must be called exactly once, in LIFO order with
// respect to other installs.
func (rt *Runtime) Install(h Handler) (restore func()) {
	rt.handlers = append(rt.handlers, h)
	depth := len(rt.handlers)
	released := false
	return func() {
		if released {
			return
		}
		released = true
		if len(rt.handlers) != depth {
			panic(fmt.Errorf("%w: depth %d, expected %d", ErrHandlerOrder, len(rt.handlers), depth))
		}
		rt.handlers[depth-1] = nil
		rt.handlers = rt.handlers[:depth-1]
	}
}

// Sample raises a random-choice effect.
func (rt *Runtime) Sample(s Store, k Continuation, a Address, e erp.ERP, params erp.Params) {
	rt.active().Sample(s, k, a, e, params)
}

// Factor raises a soft-constraint effect adding score to the execution's
// log-weight.
func (rt *Runtime) Factor(s Store, k Continuation, a Address, score float64) {
	rt.active().Factor(s, k, a, score)
}

// Exit is the exit continuation handed to top-level programs.
func (rt *Runtime) Exit(s Store, v Value) {
	rt.active().Exit(s, v)
}

func (rt *Runtime) active() Handler {
	h := rt.Current()
	if h == nil {
		Abort(ErrNoHandler)
	}
	return h
}

func (rt *Runtime) bind(ctx context.Context) (restore func()) {
	prev := rt.ctx
	rt.ctx = ctx
	return func() { rt.ctx = prev }
}

// Run executes program once by forward sampling from the prior and returns
// its value. Factor effects outside of an inference handler abort the run.
func Run(ctx context.Context, rt *Runtime, s Store, a Address, program Program) (Value, error) {
	fw := forward{rt: rt}
	err := Within(ctx, rt, func() {
		restore := rt.Install(&fw)
		defer restore()
		program(rt, s.Clone(), rt.Exit, a)
	})
	if err != nil {
		return nil, err
	}
	if !fw.exited {
		return nil, ErrNoExit
	}
	return fw.value, nil
}

// Within binds ctx to the runtime for the duration of fn and converts aborts
// raised inside fn into an error.
func Within(ctx context.Context, rt *Runtime, fn func()) error {
	restore := rt.bind(ctx)
	defer restore()
	return Guard(fn)
}

// forward resolves effects by sampling from the prior.
type forward struct {
	rt     *Runtime
	exited bool
	value  Value
}

func (f *forward) Sample(s Store, k Continuation, _ Address, e erp.ERP, params erp.Params) {
	k(s, e.Sample(f.rt.rng, params))
}

func (f *forward) Factor(Store, Continuation, Address, float64) {
	Abort(ErrFactorOutsideInference)
}

func (f *forward) Exit(_ Store, v Value) {
	f.exited = true
	f.value = v
}
