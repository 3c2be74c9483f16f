package diagnostics

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/stat"
)

const (
	DefaultGewekeFirst     = 0.1
	DefaultGewekeLast      = 0.5
	DefaultGewekeIntervals = 20
)

var (
	ErrNotNumeric    = errors.New("samples are not numeric")
	ErrShortSeries   = errors.New("series too short for geweke diagnostic")
	ErrGewekeWindows = errors.New("invalid geweke windows")
)

// GewekeScore is the z-score of the chain segment starting at Start.
type GewekeScore struct {
	Start int     `json:"start"`
	Z     float64 `json:"z"`
}

// Geweke compares the mean of the first fraction of the chain with the mean of
// its last fraction, for intervals start offsets spread over the first half.
// Scores far outside [-2, 2] suggest the chain has not converged.
func Geweke(x []float64, first, last float64, intervals int) ([]GewekeScore, error) {
	if first <= 0 || last <= 0 || first+last > 1 || intervals < 2 {
		return nil, fmt.Errorf("%w: first=%v last=%v intervals=%d", ErrGewekeWindows, first, last, intervals)
	}
	end := len(x) - 1
	step := int(float64(end) / 2 / float64(intervals-1))
	if step < 1 {
		return nil, fmt.Errorf("%w: %d samples", ErrShortSeries, len(x))
	}
	var out []GewekeScore
	for start := 0; start < end/2; start += step {
		a := x[start : start+int(first*float64(end-start))]
		b := x[int(float64(end)-last*float64(end-start)):]
		if len(a) < 2 || len(b) < 2 {
			continue
		}
		ma, va := stat.PopMeanVariance(a, nil)
		mb, vb := stat.PopMeanVariance(b, nil)
		if va+vb == 0 {
			// Constant segments: identical means score zero, differing
			// means have no finite score.
			if ma == mb {
				out = append(out, GewekeScore{Start: start})
			}
			continue
		}
		out = append(out, GewekeScore{Start: start, Z: (ma - mb) / math.Sqrt(va+vb)})
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%w: %d samples", ErrShortSeries, len(x))
	}
	return out, nil
}

// Numeric projects samples onto numeric traces, one per component. Scalar
// samples give a single trace; vector samples give one trace per element.
// Booleans map to 0 and 1.
func Numeric(samples []any) ([][]float64, error) {
	if len(samples) == 0 {
		return nil, nil
	}
	width := -1
	var traces [][]float64
	for i, s := range samples {
		row, err := numericRow(s)
		if err != nil {
			return nil, fmt.Errorf("sample %d: %w", i, err)
		}
		if width < 0 {
			width = len(row)
			traces = make([][]float64, width)
			for j := range traces {
				traces[j] = make([]float64, 0, len(samples))
			}
		}
		if len(row) != width {
			return nil, fmt.Errorf("%w: sample %d has %d components, expected %d", ErrNotNumeric, i, len(row), width)
		}
		for j, v := range row {
			traces[j] = append(traces[j], v)
		}
	}
	return traces, nil
}

func numericRow(v any) ([]float64, error) {
	if f, ok := scalar(v); ok {
		return []float64{f}, nil
	}
	switch x := v.(type) {
	case []float64:
		return append([]float64(nil), x...), nil
	case []int:
		out := make([]float64, len(x))
		for i, n := range x {
			out[i] = float64(n)
		}
		return out, nil
	case []any:
		out := make([]float64, len(x))
		for i, e := range x {
			f, ok := scalar(e)
			if !ok {
				return nil, fmt.Errorf("%w: element %d is %T", ErrNotNumeric, i, e)
			}
			out[i] = f
		}
		return out, nil
	}
	return nil, fmt.Errorf("%w: %T", ErrNotNumeric, v)
}

func scalar(v any) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case float32:
		return float64(x), true
	case int:
		return float64(x), true
	case int64:
		return float64(x), true
	case bool:
		if x {
			return 1, true
		}
		return 0, true
	}
	return 0, false
}
