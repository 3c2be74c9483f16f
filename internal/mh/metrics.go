package mh

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics are the prometheus collectors updated by the sampler. A nil
// *Metrics disables instrumentation.
type Metrics struct {
	proposals   *prometheus.CounterVec
	acceptance  prometheus.Histogram
	traceLength prometheus.Histogram
	runs        prometheus.Counter
}

// NewMetrics registers the sampler collectors with reg. A nil reg registers
// with the default registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)
	return &Metrics{
		// result: accepted, rejected
		proposals: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tracemh",
			Name:      "proposals_total",
			Help:      "Metropolis-Hastings proposals by outcome",
		}, []string{"result"}),
		acceptance: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "tracemh",
			Name:      "acceptance_probability",
			Help:      "Distribution of computed acceptance probabilities",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7, 0.8, 0.9, 0.95, 1.0},
		}),
		traceLength: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "tracemh",
			Name:      "trace_length",
			Help:      "Number of random choices per completed execution",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 10),
		}),
		runs: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "tracemh",
			Name:      "runs_total",
			Help:      "Completed inference runs",
		}),
	}
}

func (m *Metrics) observeStep(p float64, accepted bool, traceLen int) {
	if m == nil {
		return
	}
	m.acceptance.Observe(p)
	m.traceLength.Observe(float64(traceLen))
	if accepted {
		m.proposals.WithLabelValues("accepted").Inc()
	} else {
		m.proposals.WithLabelValues("rejected").Inc()
	}
}

func (m *Metrics) observeRun() {
	if m == nil {
		return
	}
	m.runs.Inc()
}
