package mh

import (
	"errors"
	"fmt"

	"go.uber.org/zap"

	"tracemh/internal/diagnostics"
)

var (
	ErrInvalidOptions    = errors.New("invalid mh options")
	ErrInvalidAcceptance = errors.New("acceptance probability is NaN")
	ErrInvalidScore      = errors.New("random choice scored NaN")
	ErrNoSamples         = errors.New("no samples recorded after burn-in")
	ErrMultipleExit      = errors.New("program reached its exit continuation twice")
)

// DefaultBurnIn selects the burn-in of min(500, iterations/2).
const DefaultBurnIn = -1

const maxDefaultBurnIn = 500

// Options configure one inference call.
type Options struct {
	// Iterations is the number of completed executions, including the
	// initial one. Must be positive.
	Iterations int
	// BurnIn is the number of leading executions excluded from the marginal.
	// Negative selects the default.
	BurnIn int
	// Diagnostics retains the post-burn-in samples and hands them to
	// Reporter when the chain finishes.
	Diagnostics bool
	// Reporter defaults to a LogReporter on Logger.
	Reporter diagnostics.Reporter
	Logger   *zap.Logger
	Metrics  *Metrics
}

func (o Options) normalize() (Options, error) {
	if o.Iterations <= 0 {
		return o, fmt.Errorf("%w: iterations must be positive, got %d", ErrInvalidOptions, o.Iterations)
	}
	if o.BurnIn < 0 {
		o.BurnIn = min(maxDefaultBurnIn, o.Iterations/2)
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	if o.Diagnostics && o.Reporter == nil {
		o.Reporter = diagnostics.LogReporter{Logger: o.Logger}
	}
	return o, nil
}
