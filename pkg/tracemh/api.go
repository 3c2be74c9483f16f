// Package tracemh is the public client for running built-in probabilistic
// programs through the trace-based Metropolis-Hastings sampler.
package tracemh

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"path/filepath"
	"runtime"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"tracemh/internal/diagnostics"
	"tracemh/internal/mh"
	"tracemh/internal/models"
	"tracemh/internal/platform"
	"tracemh/internal/ppl"
	"tracemh/internal/stats"
	"tracemh/internal/storage"
)

const (
	defaultArtifactsDir = "tracemh-artifacts"
	defaultExportsDir   = "exports"
	defaultDBPath       = "tracemh.db"
	defaultRunsLimit    = 20
	defaultChains       = 4
	defaultThreshold    = 0.05
)

type Options struct {
	StoreKind    string
	DBPath       string
	ArtifactsDir string
	ExportsDir   string
	Logger       *zap.Logger
	// Registerer receives the sampler metrics. Nil disables metrics.
	Registerer prometheus.Registerer
}

type Client struct {
	store   storage.Store
	service *platform.Service
	logger  *zap.Logger
	metrics *mh.Metrics

	artifactsDir string
	exportsDir   string
}

// RunRequest configures one chain. Zero Iterations and a negative BurnIn take
// the model defaults.
type RunRequest struct {
	RunID       string
	Model       string
	Iterations  int
	BurnIn      int
	Seed        uint64
	Diagnostics bool
}

type Outcome struct {
	Value       any
	Count       int
	Probability float64
}

type RunSummary struct {
	RunID          string
	Model          string
	ArtifactsDir   string
	Iterations     int
	BurnIn         int
	Accepted       int
	Rejected       int
	AcceptanceRate float64
	Outcomes       []Outcome
}

type RunsRequest struct {
	Model string
	Limit int
}

type RunItem struct {
	RunID          string
	CreatedAtUTC   string
	Model          string
	Seed           uint64
	Iterations     int
	BurnIn         int
	AcceptanceRate float64
	SupportSize    int
}

type ExportRequest struct {
	RunID  string
	Latest bool
	OutDir string
}

type ExportSummary struct {
	RunID     string
	Directory string
}

type DiagnosticsRequest struct {
	RunID  string
	Latest bool
}

type BenchmarkRequest struct {
	ID         string
	Model      string
	Chains     int
	Iterations int
	BurnIn     int
	Seed       uint64
	// Threshold is the mean total variation distance a passing benchmark
	// stays under. Zero takes the model tolerance.
	Threshold float64
	Workers   int
}

type BenchmarkSummary struct {
	stats.BenchmarkSummary
	Directory string
}

type ModelItem struct {
	Name              string
	Description       string
	HasExact          bool
	DefaultIterations int
	DefaultBurnIn     int
}

func New(opts Options) (*Client, error) {
	storeKind := opts.StoreKind
	if storeKind == "" {
		storeKind = storage.DefaultStoreKind()
	}
	dbPath := opts.DBPath
	if dbPath == "" {
		dbPath = defaultDBPath
	}
	artifactsDir := opts.ArtifactsDir
	if artifactsDir == "" {
		artifactsDir = defaultArtifactsDir
	}
	exportsDir := opts.ExportsDir
	if exportsDir == "" {
		exportsDir = defaultExportsDir
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	store, err := storage.NewStore(storeKind, dbPath)
	if err != nil {
		return nil, err
	}
	var metrics *mh.Metrics
	if opts.Registerer != nil {
		metrics = mh.NewMetrics(opts.Registerer)
	}

	return &Client{
		store:        store,
		logger:       logger,
		metrics:      metrics,
		artifactsDir: artifactsDir,
		exportsDir:   exportsDir,
	}, nil
}

func (c *Client) Close() error {
	if c.service != nil {
		c.service.Stop()
	}
	return storage.CloseIfSupported(c.store)
}

func (c *Client) Init(ctx context.Context) error {
	_, err := c.ensureService(ctx)
	return err
}

func (c *Client) Run(ctx context.Context, req RunRequest) (RunSummary, error) {
	if req.Model == "" {
		return RunSummary{}, errors.New("model is required")
	}
	svc, err := c.ensureService(ctx)
	if err != nil {
		return RunSummary{}, err
	}
	result, err := svc.Run(ctx, platform.RunConfig{
		RunID:       req.RunID,
		Model:       req.Model,
		Iterations:  req.Iterations,
		BurnIn:      req.BurnIn,
		Seed:        req.Seed,
		Diagnostics: req.Diagnostics,
	})
	if err != nil {
		return RunSummary{}, err
	}

	rec := result.Record
	summary := RunSummary{
		RunID:          rec.ID,
		Model:          rec.Model,
		ArtifactsDir:   result.ArtifactsDir,
		Iterations:     rec.Iterations,
		BurnIn:         rec.BurnIn,
		Accepted:       rec.Accepted,
		Rejected:       rec.Rejected,
		AcceptanceRate: rec.AcceptanceRate,
	}
	for _, o := range result.Dist.Outcomes() {
		summary.Outcomes = append(summary.Outcomes, Outcome{Value: o.Value, Count: o.Count, Probability: o.Probability})
	}
	return summary, nil
}

func (c *Client) Runs(ctx context.Context, req RunsRequest) ([]RunItem, error) {
	if req.Limit <= 0 {
		req.Limit = defaultRunsLimit
	}
	svc, err := c.ensureService(ctx)
	if err != nil {
		return nil, err
	}
	runs, err := svc.ListRuns(ctx, req.Model, req.Limit)
	if err != nil {
		return nil, err
	}
	out := make([]RunItem, 0, len(runs))
	for _, r := range runs {
		out = append(out, RunItem{
			RunID:          r.ID,
			CreatedAtUTC:   r.CreatedAtUTC,
			Model:          r.Model,
			Seed:           r.Seed,
			Iterations:     r.Iterations,
			BurnIn:         r.BurnIn,
			AcceptanceRate: r.AcceptanceRate,
			SupportSize:    r.SupportSize,
		})
	}
	return out, nil
}

func (c *Client) Export(_ context.Context, req ExportRequest) (ExportSummary, error) {
	if req.RunID != "" && req.Latest {
		return ExportSummary{}, errors.New("use either run id or latest")
	}
	if req.RunID == "" && !req.Latest {
		return ExportSummary{}, errors.New("export requires run id or latest")
	}
	if req.OutDir == "" {
		req.OutDir = c.exportsDir
	}

	runID := req.RunID
	if req.Latest {
		entries, err := stats.ListRunIndex(c.artifactsDir)
		if err != nil {
			return ExportSummary{}, err
		}
		if len(entries) == 0 {
			return ExportSummary{}, errors.New("no runs available to export")
		}
		runID = entries[0].RunID
	}

	exportedDir, err := stats.ExportRunArtifacts(c.artifactsDir, runID, req.OutDir)
	if err != nil {
		return ExportSummary{}, err
	}
	return ExportSummary{RunID: runID, Directory: filepath.Clean(exportedDir)}, nil
}

// Diagnostics recomputes acceptance counters and Geweke scores from the
// samples persisted with a run.
func (c *Client) Diagnostics(ctx context.Context, req DiagnosticsRequest) (stats.DiagnosticsArtifact, error) {
	if req.RunID != "" && req.Latest {
		return stats.DiagnosticsArtifact{}, errors.New("use either run id or latest")
	}
	svc, err := c.ensureService(ctx)
	if err != nil {
		return stats.DiagnosticsArtifact{}, err
	}
	runID := req.RunID
	if req.Latest {
		runs, err := svc.ListRuns(ctx, "", 1)
		if err != nil {
			return stats.DiagnosticsArtifact{}, err
		}
		if len(runs) == 0 {
			return stats.DiagnosticsArtifact{}, errors.New("no runs available")
		}
		runID = runs[0].ID
	}
	if runID == "" {
		return stats.DiagnosticsArtifact{}, errors.New("diagnostics requires run id or latest")
	}
	return svc.Diagnostics(ctx, runID)
}

// Benchmark runs independent chains of a model concurrently and compares
// each chain's marginal with the model's exact posterior.
func (c *Client) Benchmark(ctx context.Context, req BenchmarkRequest) (BenchmarkSummary, error) {
	m, err := models.Lookup(req.Model)
	if err != nil {
		return BenchmarkSummary{}, err
	}
	if !m.HasExact() {
		return BenchmarkSummary{}, fmt.Errorf("model %s has no exact posterior to benchmark against", m.Name)
	}
	if req.Chains <= 0 {
		req.Chains = defaultChains
	}
	if req.Iterations <= 0 {
		req.Iterations = m.DefaultIterations
	}
	if req.BurnIn < 0 {
		req.BurnIn = min(m.DefaultBurnIn, req.Iterations-1)
	}
	if req.Threshold <= 0 {
		req.Threshold = m.Tolerance
	}
	if req.Threshold <= 0 {
		req.Threshold = defaultThreshold
	}
	if req.Workers <= 0 {
		req.Workers = runtime.GOMAXPROCS(0)
	}
	if req.ID == "" {
		req.ID = uuid.NewString()
	}

	chains := make([]stats.BenchmarkChain, req.Chains)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(req.Workers)
	for i := range chains {
		seed := req.Seed + uint64(i)
		g.Go(func() error {
			rt := ppl.NewRuntime(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
			var rate float64
			dist, err := mh.Run(gctx, rt, m.Program, mh.Options{
				Iterations:  req.Iterations,
				BurnIn:      req.BurnIn,
				Diagnostics: true,
				Reporter:    diagnostics.ReporterFunc(func(r diagnostics.Report) { rate = r.AcceptanceRate }),
				Logger:      c.logger.With(zap.Int("chain", i)),
				Metrics:     c.metrics,
			})
			if err != nil {
				return fmt.Errorf("chain %d: %w", i, err)
			}
			chains[i] = stats.BenchmarkChain{
				Chain:          i,
				Seed:           seed,
				TotalVariation: stats.TotalVariation(dist, m.Exact),
				AcceptanceRate: rate,
				SupportSize:    dist.Len(),
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return BenchmarkSummary{}, err
	}

	summary, err := stats.BuildBenchmarkSummary(req.ID, m.Name, req.Iterations, req.BurnIn, chains, req.Threshold)
	if err != nil {
		return BenchmarkSummary{}, err
	}
	dir, err := stats.WriteBenchmarkReport(c.artifactsDir, summary)
	if err != nil {
		return BenchmarkSummary{}, err
	}
	c.logger.Info("benchmark finished",
		zap.String("id", summary.ID),
		zap.String("model", summary.Model),
		zap.Float64("tv_mean", summary.TVMean),
		zap.Bool("passed", summary.Passed),
	)
	return BenchmarkSummary{BenchmarkSummary: summary, Directory: dir}, nil
}

func (c *Client) Models() []ModelItem {
	list := models.List()
	out := make([]ModelItem, 0, len(list))
	for _, m := range list {
		out = append(out, ModelItem{
			Name:              m.Name,
			Description:       m.Description,
			HasExact:          m.HasExact(),
			DefaultIterations: m.DefaultIterations,
			DefaultBurnIn:     m.DefaultBurnIn,
		})
	}
	return out
}

func (c *Client) ensureService(ctx context.Context) (*platform.Service, error) {
	if c.service != nil {
		return c.service, nil
	}
	svc := platform.NewService(platform.Config{
		Store:        c.store,
		ArtifactsDir: c.artifactsDir,
		Logger:       c.logger,
		Metrics:      c.metrics,
	})
	if err := svc.Init(ctx); err != nil {
		return nil, err
	}
	c.service = svc
	return c.service, nil
}
