package diagnostics

import (
	"math"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestNewReportRate(t *testing.T) {
	r := NewReport(3, 1, []any{1.0})
	require.Equal(t, 0.75, r.AcceptanceRate)
	require.Zero(t, NewReport(0, 0, nil).AcceptanceRate, "empty chain")
}

func TestCollectorCopiesSamples(t *testing.T) {
	var c Collector
	samples := []any{1, 2}
	c.Report(NewReport(1, 1, samples))
	samples[0] = 99
	last, ok := c.Last()
	require.True(t, ok)
	require.Equal(t, 1, last.Samples[0], "collector aliased samples")
}

func TestMultiFansOut(t *testing.T) {
	var a, b Collector
	Multi(&a, nil, &b).Report(NewReport(1, 0, nil))
	require.Len(t, a.Reports(), 1)
	require.Len(t, b.Reports(), 1)
}

func TestLogReporterWritesSummary(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	samples := make([]any, 200)
	rng := rand.New(rand.NewPCG(1, 2))
	for i := range samples {
		samples[i] = rng.NormFloat64()
	}
	LogReporter{Logger: zap.New(core)}.Report(NewReport(150, 50, samples))

	finished := logs.FilterMessage("chain finished").All()
	require.Len(t, finished, 1)
	fields := finished[0].ContextMap()
	require.Equal(t, 0.75, fields["acceptance_rate"])
	require.Equal(t, int64(200), fields["samples"])
	require.Equal(t, 1, logs.FilterMessage("geweke").Len(), "scalar chain gets a geweke line")
}

func TestNumericProjection(t *testing.T) {
	traces, err := Numeric([]any{[]float64{1, 2}, []any{3.0, 4}, []int{5, 6}})
	require.NoError(t, err)
	require.Equal(t, [][]float64{{1, 3, 5}, {2, 4, 6}}, traces)

	scalars, err := Numeric([]any{true, false, 2})
	require.NoError(t, err)
	require.Equal(t, [][]float64{{1, 0, 2}}, scalars)

	_, err = Numeric([]any{"x"})
	require.ErrorIs(t, err, ErrNotNumeric)
	_, err = Numeric([]any{1.0, []float64{1, 2}})
	require.ErrorIs(t, err, ErrNotNumeric, "ragged components")
}

func TestGewekeStationaryChain(t *testing.T) {
	rng := rand.New(rand.NewPCG(5, 6))
	x := make([]float64, 2000)
	for i := range x {
		x[i] = rng.NormFloat64()
	}
	scores, err := Geweke(x, DefaultGewekeFirst, DefaultGewekeLast, DefaultGewekeIntervals)
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(scores), DefaultGewekeIntervals-1)
	require.LessOrEqual(t, MaxAbsZ(scores), 4.0, "stationary chain flagged")
}

func TestGewekeDetectsDrift(t *testing.T) {
	x := make([]float64, 1000)
	for i := range x {
		x[i] = float64(i) + math.Sin(float64(i))
	}
	scores, err := Geweke(x, DefaultGewekeFirst, DefaultGewekeLast, DefaultGewekeIntervals)
	require.NoError(t, err)
	require.GreaterOrEqual(t, MaxAbsZ(scores), 2.0, "trending chain not flagged")
}

func TestGewekeRejectsBadInput(t *testing.T) {
	_, err := Geweke([]float64{1, 2, 3}, 0.1, 0.5, 20)
	require.ErrorIs(t, err, ErrShortSeries)
	_, err = Geweke(make([]float64, 100), 0.6, 0.5, 20)
	require.ErrorIs(t, err, ErrGewekeWindows)
}
