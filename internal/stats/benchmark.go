package stats

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"time"
)

const benchmarkExperimentsDir = "experiments"

const (
	benchmarkSummaryFile = "benchmark_summary.json"
	benchmarkSeriesFile  = "benchmark_series.csv"
)

// BenchmarkChain is the outcome of one independent chain of a benchmark.
type BenchmarkChain struct {
	Chain          int     `json:"chain"`
	Seed           uint64  `json:"seed"`
	TotalVariation float64 `json:"total_variation"`
	AcceptanceRate float64 `json:"acceptance_rate"`
	SupportSize    int     `json:"support_size"`
}

// BenchmarkSummary compares independent chains of one model against its
// exact posterior.
type BenchmarkSummary struct {
	ID             string           `json:"id"`
	Model          string           `json:"model"`
	Iterations     int              `json:"iterations"`
	BurnIn         int              `json:"burn_in"`
	GeneratedAtUTC string           `json:"generated_at_utc"`
	TVMean         float64          `json:"tv_mean"`
	TVStd          float64          `json:"tv_std"`
	TVMin          float64          `json:"tv_min"`
	TVMax          float64          `json:"tv_max"`
	Threshold      float64          `json:"threshold"`
	Passed         bool             `json:"passed"`
	Chains         []BenchmarkChain `json:"chains"`
}

// BuildBenchmarkSummary aggregates chain results. The benchmark passes when
// the mean total variation distance does not exceed threshold.
func BuildBenchmarkSummary(id, modelName string, iterations, burnIn int, chains []BenchmarkChain, threshold float64) (BenchmarkSummary, error) {
	if len(chains) == 0 {
		return BenchmarkSummary{}, fmt.Errorf("benchmark %s: %w", id, ErrEmptySeries)
	}
	sorted := append([]BenchmarkChain(nil), chains...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Chain < sorted[j].Chain })

	tv := make([]float64, len(sorted))
	for i, c := range sorted {
		tv[i] = c.TotalVariation
	}
	summary := BenchmarkSummary{
		ID:             id,
		Model:          modelName,
		Iterations:     iterations,
		BurnIn:         burnIn,
		GeneratedAtUTC: time.Now().UTC().Format(time.RFC3339Nano),
		Threshold:      threshold,
		Chains:         sorted,
		TVMin:          tv[0],
		TVMax:          tv[0],
	}
	summary.TVMean, _ = Avg(tv)
	summary.TVStd, _ = Std(tv)
	for _, v := range tv[1:] {
		summary.TVMin = min(summary.TVMin, v)
		summary.TVMax = max(summary.TVMax, v)
	}
	summary.Passed = summary.TVMean <= threshold
	return summary, nil
}

// WriteBenchmarkReport writes the summary and a per-chain CSV series under
// baseDir/experiments/<id>.
func WriteBenchmarkReport(baseDir string, summary BenchmarkSummary) (string, error) {
	if summary.ID == "" {
		return "", fmt.Errorf("benchmark id is required")
	}
	dir := filepath.Join(baseDir, benchmarkExperimentsDir, summary.ID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	if err := writeJSON(filepath.Join(dir, benchmarkSummaryFile), summary); err != nil {
		return "", err
	}
	if err := writeBenchmarkSeries(filepath.Join(dir, benchmarkSeriesFile), summary.Chains); err != nil {
		return "", err
	}
	return dir, nil
}

func ReadBenchmarkSummary(baseDir, id string) (BenchmarkSummary, bool, error) {
	if id == "" {
		return BenchmarkSummary{}, false, fmt.Errorf("benchmark id is required")
	}
	var summary BenchmarkSummary
	ok, err := readJSON(filepath.Join(baseDir, benchmarkExperimentsDir, id, benchmarkSummaryFile), &summary)
	return summary, ok, err
}

// ListBenchmarkSummaries returns every stored benchmark, newest first.
func ListBenchmarkSummaries(baseDir string) ([]BenchmarkSummary, error) {
	root := filepath.Join(baseDir, benchmarkExperimentsDir)
	entries, err := os.ReadDir(root)
	if err != nil {
		if os.IsNotExist(err) {
			return []BenchmarkSummary{}, nil
		}
		return nil, err
	}

	out := make([]BenchmarkSummary, 0, len(entries))
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		summary, ok, err := ReadBenchmarkSummary(baseDir, entry.Name())
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		out = append(out, summary)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].GeneratedAtUTC == out[j].GeneratedAtUTC {
			return out[i].ID < out[j].ID
		}
		return out[i].GeneratedAtUTC > out[j].GeneratedAtUTC
	})
	return out, nil
}

func writeBenchmarkSeries(path string, chains []BenchmarkChain) error {
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	if err := writer.Write([]string{"chain", "seed", "total_variation", "acceptance_rate", "support_size"}); err != nil {
		return err
	}
	for _, c := range chains {
		if err := writer.Write([]string{
			strconv.Itoa(c.Chain),
			strconv.FormatUint(c.Seed, 10),
			strconv.FormatFloat(c.TotalVariation, 'f', -1, 64),
			strconv.FormatFloat(c.AcceptanceRate, 'f', -1, 64),
			strconv.Itoa(c.SupportSize),
		}); err != nil {
			return err
		}
	}
	writer.Flush()
	return writer.Error()
}

// ReadBenchmarkSeries returns the per-chain total variation column.
func ReadBenchmarkSeries(baseDir, id string) ([]float64, bool, error) {
	path := filepath.Join(baseDir, benchmarkExperimentsDir, id, benchmarkSeriesFile)
	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}
		return nil, false, err
	}
	defer file.Close()

	reader := csv.NewReader(file)
	header, err := reader.Read()
	if err != nil {
		if err == io.EOF {
			return []float64{}, true, nil
		}
		return nil, false, err
	}
	if len(header) < 3 {
		return nil, false, fmt.Errorf("benchmark series header must have at least 3 columns")
	}

	series := make([]float64, 0, 16)
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, false, err
		}
		if len(record) < 3 {
			return nil, false, fmt.Errorf("benchmark series row must have at least 3 columns")
		}
		value, err := strconv.ParseFloat(record[2], 64)
		if err != nil {
			return nil, false, err
		}
		series = append(series, value)
	}
	return series, true, nil
}
