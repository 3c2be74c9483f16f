package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"tracemh/internal/config"
	"tracemh/internal/logging"
	"tracemh/pkg/tracemh"
)

// app carries the state shared by every subcommand of one invocation.
type app struct {
	configPath string
	exportsDir string
	cfg        config.Config
	logger     *zap.Logger
}

func newRootCmd() *cobra.Command {
	a := &app{cfg: config.Default()}
	root := &cobra.Command{
		Use:           "mhctl",
		Short:         "Run built-in probabilistic programs through trace-based Metropolis-Hastings",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.setup(cmd)
		},
		PersistentPostRun: func(*cobra.Command, []string) {
			if a.logger != nil {
				_ = a.logger.Sync()
			}
		},
	}

	f := root.PersistentFlags()
	f.StringVar(&a.configPath, "config", "", "YAML run configuration")
	f.String("store", "", "store backend: memory|sqlite (default depends on build)")
	f.String("db-path", "tracemh.db", "sqlite database path")
	f.String("artifacts-dir", config.DefaultArtifactsDir, "directory for run artifacts and benchmark reports")
	f.StringVar(&a.exportsDir, "exports-dir", "exports", "directory for exported runs")
	f.String("log-level", config.DefaultLogLevel, "log level: debug|info|warn|error")
	f.Bool("log-json", false, "emit JSON logs")

	root.AddCommand(
		newInitCmd(a),
		newModelsCmd(a),
		newRunCmd(a),
		newRunsCmd(a),
		newExportCmd(a),
		newDiagnosticsCmd(a),
		newBenchmarkCmd(a),
	)
	return root
}

// setup loads the config file, applies explicitly set persistent flags over
// it and builds the logger.
func (a *app) setup(cmd *cobra.Command) error {
	if a.configPath != "" {
		cfg, err := config.Load(a.configPath)
		if err != nil {
			return err
		}
		a.cfg = cfg
	}
	flags := cmd.Flags()
	if flags.Changed("store") {
		a.cfg.Store, _ = flags.GetString("store")
	}
	if flags.Changed("db-path") || a.cfg.DBPath == "" {
		a.cfg.DBPath, _ = flags.GetString("db-path")
	}
	if flags.Changed("artifacts-dir") || a.cfg.ArtifactsDir == "" {
		a.cfg.ArtifactsDir, _ = flags.GetString("artifacts-dir")
	}
	if flags.Changed("log-level") {
		a.cfg.LogLevel, _ = flags.GetString("log-level")
	}
	if flags.Changed("log-json") {
		a.cfg.LogJSON, _ = flags.GetBool("log-json")
	}
	if err := a.cfg.Validate(); err != nil {
		return err
	}

	logger, err := logging.New(a.cfg.LogLevel, a.cfg.LogJSON)
	if err != nil {
		return err
	}
	a.logger = logger
	return nil
}

func (a *app) client() (*tracemh.Client, error) {
	client, err := tracemh.New(tracemh.Options{
		StoreKind:    a.cfg.Store,
		DBPath:       a.cfg.DBPath,
		ArtifactsDir: a.cfg.ArtifactsDir,
		ExportsDir:   a.exportsDir,
		Logger:       a.logger,
	})
	if err != nil {
		return nil, fmt.Errorf("open client: %w", err)
	}
	return client, nil
}
