package main

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"tracemh/pkg/tracemh"
)

func newInitCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Initialize the run store",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			client, err := a.client()
			if err != nil {
				return err
			}
			defer client.Close()
			if err := client.Init(cmd.Context()); err != nil {
				return err
			}
			store := a.cfg.Store
			if store == "" {
				store = "default"
			}
			fmt.Fprintf(cmd.OutOrStdout(), "initialized store=%s\n", store)
			return nil
		},
	}
}

func newModelsCmd(a *app) *cobra.Command {
	var jsonOut bool
	cmd := &cobra.Command{
		Use:   "models",
		Short: "List built-in models",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			client, err := a.client()
			if err != nil {
				return err
			}
			defer client.Close()
			items := client.Models()
			if jsonOut {
				return writeJSON(cmd.OutOrStdout(), items)
			}
			t := newTable(cmd.OutOrStdout())
			t.header("model", "iterations", "burn-in", "exact", "description")
			for _, m := range items {
				t.row(m.Name, m.DefaultIterations, m.DefaultBurnIn, m.HasExact, m.Description)
			}
			t.render()
			return nil
		},
	}
	cmd.Flags().BoolVar(&jsonOut, "json", false, "emit JSON")
	return cmd
}

func newRunCmd(a *app) *cobra.Command {
	var (
		runID   string
		jsonOut bool
	)
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run one chain of a model and persist the result",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			flags := cmd.Flags()
			if flags.Changed("model") {
				a.cfg.Model, _ = flags.GetString("model")
			}
			if flags.Changed("iterations") {
				a.cfg.Iterations, _ = flags.GetInt("iterations")
			}
			if flags.Changed("burn-in") {
				a.cfg.BurnIn, _ = flags.GetInt("burn-in")
			}
			if flags.Changed("seed") {
				a.cfg.Seed, _ = flags.GetUint64("seed")
			}
			if flags.Changed("diagnostics") {
				a.cfg.Diagnostics, _ = flags.GetBool("diagnostics")
			}
			if err := a.cfg.Validate(); err != nil {
				return err
			}
			if a.cfg.Model == "" {
				return fmt.Errorf("model is required (see mhctl models)")
			}

			client, err := a.client()
			if err != nil {
				return err
			}
			defer client.Close()
			summary, err := client.Run(cmd.Context(), tracemh.RunRequest{
				RunID:       runID,
				Model:       a.cfg.Model,
				Iterations:  a.cfg.Iterations,
				BurnIn:      a.cfg.BurnIn,
				Seed:        a.cfg.Seed,
				Diagnostics: a.cfg.Diagnostics,
			})
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if jsonOut {
				return writeJSON(out, summary)
			}
			fmt.Fprintf(out, "run_id=%s model=%s iterations=%d burn_in=%d accepted=%d rejected=%d acceptance_rate=%.4f\n",
				summary.RunID, summary.Model, summary.Iterations, summary.BurnIn, summary.Accepted, summary.Rejected, summary.AcceptanceRate)
			if summary.ArtifactsDir != "" {
				fmt.Fprintf(out, "artifacts=%s\n", summary.ArtifactsDir)
			}
			if len(summary.Outcomes) > maxOutcomeRows {
				fmt.Fprintf(out, "support_size=%d (showing %d)\n", len(summary.Outcomes), maxOutcomeRows)
			}
			t := newTable(out)
			t.header("value", "count", "probability")
			for i, o := range summary.Outcomes {
				if i == maxOutcomeRows {
					break
				}
				t.row(formatValue(o.Value), o.Count, fmt.Sprintf("%.4f", o.Probability))
			}
			t.render()
			return nil
		},
	}
	f := cmd.Flags()
	f.String("model", "", "model name or alias")
	f.Int("iterations", 0, "MH iterations (0 uses the model default)")
	f.Int("burn-in", -1, "iterations discarded before recording (-1 uses the model default)")
	f.Uint64("seed", 0, "random seed")
	f.Bool("diagnostics", false, "log diagnostics and write diagnostics and trace artifacts")
	f.StringVar(&runID, "run-id", "", "explicit run id (default generated)")
	f.BoolVar(&jsonOut, "json", false, "emit JSON")
	return cmd
}

func newRunsCmd(a *app) *cobra.Command {
	var (
		modelName string
		limit     int
		jsonOut   bool
	)
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "List persisted runs, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if limit <= 0 {
				return fmt.Errorf("limit must be > 0")
			}
			client, err := a.client()
			if err != nil {
				return err
			}
			defer client.Close()
			items, err := client.Runs(cmd.Context(), tracemh.RunsRequest{Model: modelName, Limit: limit})
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if jsonOut {
				return writeJSON(out, items)
			}
			if len(items) == 0 {
				fmt.Fprintln(out, "no runs found")
				return nil
			}
			t := newTable(out)
			t.header("run id", "created", "model", "seed", "iterations", "burn-in", "acceptance", "support")
			for _, r := range items {
				t.row(r.RunID, r.CreatedAtUTC, r.Model, r.Seed, r.Iterations, r.BurnIn, fmt.Sprintf("%.4f", r.AcceptanceRate), r.SupportSize)
			}
			t.render()
			return nil
		},
	}
	f := cmd.Flags()
	f.StringVar(&modelName, "model", "", "only runs of this model")
	f.IntVar(&limit, "limit", 20, "max runs to list")
	f.BoolVar(&jsonOut, "json", false, "emit JSON")
	return cmd
}

func newExportCmd(a *app) *cobra.Command {
	var (
		runID  string
		latest bool
		outDir string
	)
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Copy the artifacts of a run to the exports directory",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			client, err := a.client()
			if err != nil {
				return err
			}
			defer client.Close()
			summary, err := client.Export(cmd.Context(), tracemh.ExportRequest{RunID: runID, Latest: latest, OutDir: outDir})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "exported run_id=%s dir=%s\n", summary.RunID, summary.Directory)
			return nil
		},
	}
	f := cmd.Flags()
	f.StringVar(&runID, "run-id", "", "run to export")
	f.BoolVar(&latest, "latest", false, "export the newest run")
	f.StringVar(&outDir, "out", "", "output directory (default --exports-dir)")
	return cmd
}

func newDiagnosticsCmd(a *app) *cobra.Command {
	var (
		runID   string
		latest  bool
		jsonOut bool
	)
	cmd := &cobra.Command{
		Use:   "diagnostics",
		Short: "Acceptance counters and Geweke scores of a persisted run",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			client, err := a.client()
			if err != nil {
				return err
			}
			defer client.Close()
			diag, err := client.Diagnostics(cmd.Context(), tracemh.DiagnosticsRequest{RunID: runID, Latest: latest})
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if jsonOut {
				return writeJSON(out, diag)
			}
			fmt.Fprintf(out, "accepted=%d rejected=%d acceptance_rate=%.4f samples=%d\n",
				diag.Accepted, diag.Rejected, diag.AcceptanceRate, diag.Samples)
			if len(diag.Components) == 0 {
				fmt.Fprintln(out, "no numeric components")
				return nil
			}
			t := newTable(out)
			t.header("component", "mean", "std", "max |z|", "scores")
			for _, c := range diag.Components {
				t.row(c.Component, fmt.Sprintf("%.4f", c.Mean), fmt.Sprintf("%.4f", c.Std), fmt.Sprintf("%.3f", c.MaxAbsZ), len(c.Geweke))
			}
			t.render()
			return nil
		},
	}
	f := cmd.Flags()
	f.StringVar(&runID, "run-id", "", "run to diagnose")
	f.BoolVar(&latest, "latest", false, "diagnose the newest run")
	f.BoolVar(&jsonOut, "json", false, "emit JSON")
	return cmd
}

func newBenchmarkCmd(a *app) *cobra.Command {
	var req tracemh.BenchmarkRequest
	var jsonOut bool
	cmd := &cobra.Command{
		Use:   "benchmark",
		Short: "Run independent chains and compare their marginals with the exact posterior",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			flags := cmd.Flags()
			if req.Model == "" {
				req.Model = a.cfg.Model
			}
			if !flags.Changed("chains") && a.cfg.Chains > 0 {
				req.Chains = a.cfg.Chains
			}
			if a.configPath != "" {
				if !flags.Changed("threshold") {
					req.Threshold = a.cfg.Threshold
				}
				if !flags.Changed("iterations") {
					req.Iterations = a.cfg.Iterations
				}
				if !flags.Changed("burn-in") {
					req.BurnIn = a.cfg.BurnIn
				}
				if !flags.Changed("seed") {
					req.Seed = a.cfg.Seed
				}
			}
			if req.Model == "" {
				return fmt.Errorf("model is required (see mhctl models)")
			}

			client, err := a.client()
			if err != nil {
				return err
			}
			defer client.Close()
			summary, err := client.Benchmark(cmd.Context(), req)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if jsonOut {
				return writeJSON(out, summary)
			}
			fmt.Fprintf(out, "benchmark id=%s model=%s chains=%d tv_mean=%.4f tv_std=%.4f threshold=%.4f passed=%t dir=%s\n",
				summary.ID, summary.Model, len(summary.Chains), summary.TVMean, summary.TVStd, summary.Threshold, summary.Passed, summary.Directory)
			t := newTable(out)
			t.header("chain", "seed", "total variation", "acceptance", "support")
			for _, c := range summary.Chains {
				t.row(c.Chain, c.Seed, fmt.Sprintf("%.4f", c.TotalVariation), fmt.Sprintf("%.4f", c.AcceptanceRate), c.SupportSize)
			}
			t.render()
			if !summary.Passed {
				return fmt.Errorf("benchmark failed: tv_mean=%.4f exceeds threshold %.4f", summary.TVMean, summary.Threshold)
			}
			return nil
		},
	}
	f := cmd.Flags()
	f.StringVar(&req.ID, "id", "", "benchmark id (default generated)")
	f.StringVar(&req.Model, "model", "", "model name or alias")
	f.IntVar(&req.Chains, "chains", 4, "independent chains")
	f.IntVar(&req.Iterations, "iterations", 0, "MH iterations per chain (0 uses the model default)")
	f.IntVar(&req.BurnIn, "burn-in", -1, "burn-in per chain (-1 uses the model default)")
	f.Uint64Var(&req.Seed, "seed", 1, "seed of the first chain; chain i uses seed+i")
	f.Float64Var(&req.Threshold, "threshold", 0, "mean total variation a passing benchmark stays under (0 uses the model tolerance)")
	f.IntVar(&req.Workers, "workers", 0, "concurrent chains (0 uses GOMAXPROCS)")
	f.BoolVar(&jsonOut, "json", false, "emit JSON")
	return cmd
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
