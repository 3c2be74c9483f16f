package stats

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"tracemh/internal/diagnostics"
	"tracemh/internal/model"
)

const runIndexFile = "run_index.json"

const (
	configFile      = "config.json"
	marginalFile    = "marginal.json"
	diagnosticsFile = "diagnostics.json"
	// traceFile holds the raw post-burn-in samples, one JSON value per
	// sample, in the layout external trace-plotting tools read.
	traceFile = "trace.json"
)

type RunConfig struct {
	RunID       string `json:"run_id"`
	Model       string `json:"model"`
	Iterations  int    `json:"iterations"`
	BurnIn      int    `json:"burn_in"`
	Seed        uint64 `json:"seed"`
	Diagnostics bool   `json:"diagnostics"`
	Store       string `json:"store,omitempty"`
}

// ComponentDiagnostics is the convergence check of one numeric trace
// component.
type ComponentDiagnostics struct {
	Component int                       `json:"component"`
	Mean      float64                   `json:"mean"`
	Std       float64                   `json:"std"`
	MaxAbsZ   float64                   `json:"max_abs_z"`
	Geweke    []diagnostics.GewekeScore `json:"geweke"`
}

type DiagnosticsArtifact struct {
	Accepted       int                    `json:"accepted"`
	Rejected       int                    `json:"rejected"`
	AcceptanceRate float64                `json:"acceptance_rate"`
	Samples        int                    `json:"samples"`
	Components     []ComponentDiagnostics `json:"components,omitempty"`
}

type RunArtifacts struct {
	Config      RunConfig             `json:"config"`
	Marginal    []model.MarginalEntry `json:"marginal"`
	Diagnostics *DiagnosticsArtifact  `json:"diagnostics,omitempty"`
	Trace       []json.RawMessage     `json:"trace,omitempty"`
}

type RunIndexEntry struct {
	RunID          string  `json:"run_id"`
	Model          string  `json:"model"`
	Iterations     int     `json:"iterations"`
	BurnIn         int     `json:"burn_in"`
	Seed           uint64  `json:"seed"`
	AcceptanceRate float64 `json:"acceptance_rate"`
	SupportSize    int     `json:"support_size"`
	CreatedAtUTC   string  `json:"created_at_utc"`
}

// WriteRunArtifacts writes the run directory under baseDir. Diagnostics and
// trace files are only written when present.
func WriteRunArtifacts(baseDir string, artifacts RunArtifacts) (string, error) {
	if artifacts.Config.RunID == "" {
		return "", fmt.Errorf("run id is required")
	}

	runDir := filepath.Join(baseDir, artifacts.Config.RunID)
	if err := os.MkdirAll(runDir, 0o755); err != nil {
		return "", err
	}

	if err := writeJSON(filepath.Join(runDir, configFile), artifacts.Config); err != nil {
		return "", err
	}
	if err := writeJSON(filepath.Join(runDir, marginalFile), artifacts.Marginal); err != nil {
		return "", err
	}
	if artifacts.Diagnostics != nil {
		if err := writeJSON(filepath.Join(runDir, diagnosticsFile), artifacts.Diagnostics); err != nil {
			return "", err
		}
	}
	if artifacts.Trace != nil {
		if err := writeJSON(filepath.Join(runDir, traceFile), artifacts.Trace); err != nil {
			return "", err
		}
	}

	return runDir, nil
}

func AppendRunIndex(baseDir string, entry RunIndexEntry) error {
	if entry.RunID == "" {
		return fmt.Errorf("run id is required")
	}
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return err
	}

	index, err := ListRunIndex(baseDir)
	if err != nil {
		return err
	}

	for i := range index {
		if index[i].RunID == entry.RunID {
			index[i] = entry
			return writeJSON(filepath.Join(baseDir, runIndexFile), index)
		}
	}

	index = append(index, entry)
	return writeJSON(filepath.Join(baseDir, runIndexFile), index)
}

func ListRunIndex(baseDir string) ([]RunIndexEntry, error) {
	path := filepath.Join(baseDir, runIndexFile)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return []RunIndexEntry{}, nil
		}
		return nil, err
	}

	var entries []RunIndexEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, err
	}

	type indexedEntry struct {
		entry RunIndexEntry
		idx   int
	}
	indexed := make([]indexedEntry, len(entries))
	for i := range entries {
		indexed[i] = indexedEntry{entry: entries[i], idx: i}
	}
	sort.Slice(indexed, func(i, j int) bool {
		if indexed[i].entry.CreatedAtUTC == indexed[j].entry.CreatedAtUTC {
			// Prefer later appended entries for equal timestamps.
			return indexed[i].idx > indexed[j].idx
		}
		return indexed[i].entry.CreatedAtUTC > indexed[j].entry.CreatedAtUTC
	})

	sorted := make([]RunIndexEntry, 0, len(indexed))
	for _, item := range indexed {
		sorted = append(sorted, item.entry)
	}
	return sorted, nil
}

// ExportRunArtifacts copies a run directory to outDir/runID.
func ExportRunArtifacts(baseDir, runID, outDir string) (string, error) {
	if runID == "" {
		return "", fmt.Errorf("run id is required")
	}

	src := filepath.Join(baseDir, runID)
	if _, err := os.Stat(src); err != nil {
		return "", err
	}

	dst := filepath.Join(outDir, runID)
	if err := os.MkdirAll(dst, 0o755); err != nil {
		return "", err
	}

	for _, file := range []string{configFile, marginalFile} {
		if err := copyFile(filepath.Join(src, file), filepath.Join(dst, file)); err != nil {
			return "", err
		}
	}
	for _, file := range []string{diagnosticsFile, traceFile} {
		path := filepath.Join(src, file)
		if _, err := os.Stat(path); err == nil {
			if err := copyFile(path, filepath.Join(dst, file)); err != nil {
				return "", err
			}
		} else if !os.IsNotExist(err) {
			return "", err
		}
	}

	return dst, nil
}

func ReadRunConfig(baseDir, runID string) (RunConfig, bool, error) {
	var cfg RunConfig
	ok, err := readJSON(filepath.Join(baseDir, runID, configFile), &cfg)
	return cfg, ok, err
}

func WriteRunConfig(baseDir, runID string, cfg RunConfig) error {
	if strings.TrimSpace(runID) == "" {
		return fmt.Errorf("run id is required")
	}
	if strings.TrimSpace(cfg.RunID) == "" {
		cfg.RunID = strings.TrimSpace(runID)
	}
	if cfg.RunID != strings.TrimSpace(runID) {
		return fmt.Errorf("run config run id mismatch: got=%s want=%s", cfg.RunID, strings.TrimSpace(runID))
	}
	runDir := filepath.Join(baseDir, runID)
	if err := os.MkdirAll(runDir, 0o755); err != nil {
		return err
	}
	return writeJSON(filepath.Join(runDir, configFile), cfg)
}

func ReadMarginal(baseDir, runID string) ([]model.MarginalEntry, bool, error) {
	var entries []model.MarginalEntry
	ok, err := readJSON(filepath.Join(baseDir, runID, marginalFile), &entries)
	return entries, ok, err
}

func ReadDiagnostics(baseDir, runID string) (DiagnosticsArtifact, bool, error) {
	var diag DiagnosticsArtifact
	ok, err := readJSON(filepath.Join(baseDir, runID, diagnosticsFile), &diag)
	return diag, ok, err
}

func ReadTrace(baseDir, runID string) ([]json.RawMessage, bool, error) {
	var samples []json.RawMessage
	ok, err := readJSON(filepath.Join(baseDir, runID, traceFile), &samples)
	return samples, ok, err
}

func readJSON(path string, out any) (bool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	if err := json.Unmarshal(data, out); err != nil {
		return false, err
	}
	return true, nil
}

func writeJSON(path string, value any) error {
	data, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return err
	}
	data = append(data, '\n')
	return os.WriteFile(path, data, 0o644)
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Sync()
}
