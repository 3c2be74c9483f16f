package ppl

import (
	"errors"
	"fmt"
)

var (
	ErrNoHandler              = errors.New("no effect handler installed")
	ErrHandlerOrder           = errors.New("effect handlers released out of order")
	ErrInvalidWeight          = errors.New("factor weight must be finite or -Inf")
	ErrFactorOutsideInference = errors.New("factor is only allowed inside inference")
	ErrNoExit                 = errors.New("program returned without reaching its exit continuation")
)

// AbortError carries a fatal condition out of a continuation-passing run.
type AbortError struct {
	Err error
}

func (e *AbortError) Error() string { return "inference aborted: " + e.Err.Error() }

func (e *AbortError) Unwrap() error { return e.Err }

// Abort unwinds the current run. It is recovered by Guard, which returns err.
func Abort(err error) {
	panic(&AbortError{Err: err})
}

// Abortf is Abort with a formatted, wrapped error.
func Abortf(format string, args ...any) {
	Abort(fmt.Errorf(format, args...))
}

// Guard runs fn and converts an Abort raised inside it into an error. Other
// panics propagate unchanged.
func Guard(fn func()) (err error) {
	defer func() {
		r := recover()
		if r == nil {
			return
		}
		abort, ok := r.(*AbortError)
		if !ok {
			panic(r)
		}
		err = abort
	}()
	fn()
	return nil
}
