// Package platform runs registered models through the sampler and persists
// what each run produced.
package platform

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"tracemh/internal/diagnostics"
	"tracemh/internal/marginal"
	"tracemh/internal/mh"
	"tracemh/internal/model"
	"tracemh/internal/models"
	"tracemh/internal/ppl"
	"tracemh/internal/stats"
	"tracemh/internal/storage"
)

// seedStream is the second PCG word derived from a run seed.
const seedStream = 0x9e3779b97f4a7c15

var (
	ErrNotStarted  = errors.New("service not started")
	ErrRunNotFound = errors.New("run not found")
)

type Config struct {
	Store storage.Store
	// ArtifactsDir receives per-run artifact directories and the run index.
	// Empty disables artifacts.
	ArtifactsDir string
	Logger       *zap.Logger
	Metrics      *mh.Metrics
}

// RunConfig selects a model and the chain settings. Zero Iterations and a
// negative BurnIn take the model defaults.
type RunConfig struct {
	RunID       string
	Model       string
	Iterations  int
	BurnIn      int
	Seed        uint64
	Diagnostics bool
}

type RunResult struct {
	Record       model.RunRecord
	Dist         *marginal.Dist
	Report       diagnostics.Report
	ArtifactsDir string
}

type Service struct {
	store        storage.Store
	artifactsDir string
	logger       *zap.Logger
	metrics      *mh.Metrics

	mu      sync.RWMutex
	started bool
}

func NewService(cfg Config) *Service {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		store:        cfg.Store,
		artifactsDir: cfg.ArtifactsDir,
		logger:       logger,
		metrics:      cfg.Metrics,
	}
}

func (s *Service) Init(ctx context.Context) error {
	if s.store == nil {
		return fmt.Errorf("store is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return nil
	}
	if err := s.store.Init(ctx); err != nil {
		return err
	}
	s.started = true
	return nil
}

func (s *Service) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.started = false
}

func (s *Service) Started() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.started
}

func (s *Service) Store() storage.Store { return s.store }

func (s *Service) ArtifactsDir() string { return s.artifactsDir }

// Run executes one chain of the configured model and persists the run record,
// its post-burn-in samples and, when enabled, its artifacts.
func (s *Service) Run(ctx context.Context, cfg RunConfig) (RunResult, error) {
	if !s.Started() {
		return RunResult{}, ErrNotStarted
	}
	m, err := models.Lookup(cfg.Model)
	if err != nil {
		return RunResult{}, err
	}
	cfg.Model = m.Name
	if cfg.Iterations <= 0 {
		cfg.Iterations = m.DefaultIterations
	}
	if cfg.BurnIn < 0 {
		cfg.BurnIn = min(m.DefaultBurnIn, cfg.Iterations-1)
	}
	if cfg.RunID == "" {
		cfg.RunID = uuid.NewString()
	}

	logger := s.logger.With(zap.String("run_id", cfg.RunID), zap.String("model", cfg.Model))
	collector := &diagnostics.Collector{}
	reporter := diagnostics.Reporter(collector)
	if cfg.Diagnostics {
		reporter = diagnostics.Multi(collector, diagnostics.LogReporter{Logger: logger})
	}
	rt := ppl.NewRuntime(rand.NewPCG(cfg.Seed, cfg.Seed^seedStream))
	dist, err := mh.Run(ctx, rt, m.Program, mh.Options{
		Iterations:  cfg.Iterations,
		BurnIn:      cfg.BurnIn,
		Diagnostics: true,
		Reporter:    reporter,
		Logger:      logger,
		Metrics:     s.metrics,
	})
	if err != nil {
		return RunResult{}, fmt.Errorf("run %s: %w", cfg.Model, err)
	}
	report, _ := collector.Last()

	entries, err := stats.MarginalEntries(dist)
	if err != nil {
		return RunResult{}, err
	}
	samples, err := stats.EncodeSamples(report.Samples)
	if err != nil {
		return RunResult{}, err
	}
	record := model.RunRecord{
		VersionedRecord: storage.CurrentVersion(),
		ID:              cfg.RunID,
		Model:           cfg.Model,
		Iterations:      cfg.Iterations,
		BurnIn:          cfg.BurnIn,
		Seed:            cfg.Seed,
		Accepted:        report.Accepted,
		Rejected:        report.Rejected,
		AcceptanceRate:  report.AcceptanceRate,
		SupportSize:     dist.Len(),
		CreatedAtUTC:    time.Now().UTC().Format(time.RFC3339Nano),
		Marginal:        entries,
	}
	if err := s.store.SaveRun(ctx, record); err != nil {
		return RunResult{}, fmt.Errorf("save run %s: %w", cfg.RunID, err)
	}
	if err := s.store.SaveSamples(ctx, model.SampleChain{
		VersionedRecord: storage.CurrentVersion(),
		RunID:           cfg.RunID,
		Samples:         samples,
	}); err != nil {
		return RunResult{}, fmt.Errorf("save samples %s: %w", cfg.RunID, err)
	}

	result := RunResult{Record: record, Dist: dist, Report: report}
	if s.artifactsDir != "" {
		dir, err := s.writeArtifacts(cfg, record, report, samples)
		if err != nil {
			return RunResult{}, err
		}
		result.ArtifactsDir = dir
	}
	logger.Info("run persisted",
		zap.Int("support_size", record.SupportSize),
		zap.Float64("acceptance_rate", record.AcceptanceRate),
		zap.String("artifacts_dir", result.ArtifactsDir),
	)
	return result, nil
}

func (s *Service) writeArtifacts(cfg RunConfig, record model.RunRecord, report diagnostics.Report, samples []json.RawMessage) (string, error) {
	artifacts := stats.RunArtifacts{
		Config: stats.RunConfig{
			RunID:       cfg.RunID,
			Model:       cfg.Model,
			Iterations:  cfg.Iterations,
			BurnIn:      cfg.BurnIn,
			Seed:        cfg.Seed,
			Diagnostics: cfg.Diagnostics,
		},
		Marginal: record.Marginal,
	}
	if cfg.Diagnostics {
		diag := stats.BuildDiagnostics(report)
		artifacts.Diagnostics = &diag
		artifacts.Trace = samples
	}
	dir, err := stats.WriteRunArtifacts(s.artifactsDir, artifacts)
	if err != nil {
		return "", fmt.Errorf("write artifacts %s: %w", cfg.RunID, err)
	}
	if err := stats.AppendRunIndex(s.artifactsDir, stats.RunIndexEntry{
		RunID:          record.ID,
		Model:          record.Model,
		Iterations:     record.Iterations,
		BurnIn:         record.BurnIn,
		Seed:           record.Seed,
		AcceptanceRate: record.AcceptanceRate,
		SupportSize:    record.SupportSize,
		CreatedAtUTC:   record.CreatedAtUTC,
	}); err != nil {
		return "", fmt.Errorf("append run index: %w", err)
	}
	return dir, nil
}

func (s *Service) GetRun(ctx context.Context, id string) (model.RunRecord, error) {
	if !s.Started() {
		return model.RunRecord{}, ErrNotStarted
	}
	run, ok, err := s.store.GetRun(ctx, id)
	if err != nil {
		return model.RunRecord{}, err
	}
	if !ok {
		return model.RunRecord{}, fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	return run, nil
}

// ListRuns returns run summaries newest first. modelName may be an alias.
func (s *Service) ListRuns(ctx context.Context, modelName string, limit int) ([]model.RunRecord, error) {
	if !s.Started() {
		return nil, ErrNotStarted
	}
	if modelName != "" {
		if m, err := models.Lookup(modelName); err == nil {
			modelName = m.Name
		}
	}
	return s.store.ListRuns(ctx, modelName, limit)
}

func (s *Service) DeleteRun(ctx context.Context, id string) error {
	if !s.Started() {
		return ErrNotStarted
	}
	return s.store.DeleteRun(ctx, id)
}

// Samples decodes the persisted chain of a run into generic JSON values.
func (s *Service) Samples(ctx context.Context, runID string) ([]any, error) {
	if !s.Started() {
		return nil, ErrNotStarted
	}
	chain, ok, err := s.store.GetSamples(ctx, runID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: samples for %s", ErrRunNotFound, runID)
	}
	return stats.DecodeSamples(chain.Samples)
}

// Diagnostics recomputes convergence diagnostics from a persisted run.
func (s *Service) Diagnostics(ctx context.Context, runID string) (stats.DiagnosticsArtifact, error) {
	run, err := s.GetRun(ctx, runID)
	if err != nil {
		return stats.DiagnosticsArtifact{}, err
	}
	samples, err := s.Samples(ctx, runID)
	if err != nil {
		return stats.DiagnosticsArtifact{}, err
	}
	return stats.BuildDiagnostics(diagnostics.NewReport(run.Accepted, run.Rejected, samples)), nil
}
