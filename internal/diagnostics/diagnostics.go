// Package diagnostics receives the end-of-run summary of an MCMC chain.
package diagnostics

import (
	"math"
	"sync"

	"go.uber.org/zap"
)

// Report summarizes one finished chain. Samples holds the post-burn-in return
// values in chain order.
type Report struct {
	Accepted       int
	Rejected       int
	AcceptanceRate float64
	Samples        []any
}

// Reporter consumes chain summaries. Implementations must not retain or
// mutate Samples past the call unless they copy it.
type Reporter interface {
	Report(r Report)
}

// ReporterFunc adapts a function to Reporter.
type ReporterFunc func(Report)

func (f ReporterFunc) Report(r Report) { f(r) }

// NewReport derives the acceptance rate from the counters.
func NewReport(accepted, rejected int, samples []any) Report {
	rate := 0.0
	if total := accepted + rejected; total > 0 {
		rate = float64(accepted) / float64(total)
	}
	return Report{Accepted: accepted, Rejected: rejected, AcceptanceRate: rate, Samples: samples}
}

// LogReporter writes the summary to a zap logger. Numeric chains also get a
// convergence line per component with the largest Geweke z-score.
type LogReporter struct {
	Logger *zap.Logger
}

func (l LogReporter) Report(r Report) {
	log := l.Logger
	if log == nil {
		log = zap.NewNop()
	}
	log.Info("chain finished",
		zap.Float64("acceptance_rate", r.AcceptanceRate),
		zap.Int("accepted", r.Accepted),
		zap.Int("rejected", r.Rejected),
		zap.Int("samples", len(r.Samples)),
	)
	traces, err := Numeric(r.Samples)
	if err != nil {
		log.Debug("samples are not numeric, skipping convergence check", zap.Error(err))
		return
	}
	for i, tr := range traces {
		scores, err := Geweke(tr, DefaultGewekeFirst, DefaultGewekeLast, DefaultGewekeIntervals)
		if err != nil {
			log.Debug("geweke skipped", zap.Int("component", i), zap.Error(err))
			continue
		}
		log.Info("geweke", zap.Int("component", i), zap.Float64("max_abs_z", MaxAbsZ(scores)))
	}
}

// Collector keeps every report it receives. It is safe for concurrent use.
type Collector struct {
	mu      sync.Mutex
	reports []Report
}

func (c *Collector) Report(r Report) {
	c.mu.Lock()
	defer c.mu.Unlock()
	r.Samples = append([]any(nil), r.Samples...)
	c.reports = append(c.reports, r)
}

// Last returns the most recent report.
func (c *Collector) Last() (Report, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.reports) == 0 {
		return Report{}, false
	}
	return c.reports[len(c.reports)-1], true
}

// Reports returns all reports in arrival order.
func (c *Collector) Reports() []Report {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Report(nil), c.reports...)
}

// Multi fans a report out to every non-nil reporter.
func Multi(reporters ...Reporter) Reporter {
	return ReporterFunc(func(r Report) {
		for _, rep := range reporters {
			if rep != nil {
				rep.Report(r)
			}
		}
	})
}

// MaxAbsZ returns the largest absolute z-score, ignoring NaNs.
func MaxAbsZ(scores []GewekeScore) float64 {
	best := 0.0
	for _, s := range scores {
		if z := math.Abs(s.Z); !math.IsNaN(z) && z > best {
			best = z
		}
	}
	return best
}
