package main

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"
	"github.com/spf13/cobra"

	"selinf/adapters/excel"
	"selinf/adapters/postgres"
	"selinf/adapters/rng"
	"selinf/app"
	"selinf/domain/core"
	"selinf/domain/selection"
	"selinf/internal"
	"selinf/internal/config"
	"selinf/internal/inference"
	"selinf/internal/randomization"
	"selinf/internal/report"
	"selinf/internal/testkit"
	"selinf/ports"
)

func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.LoadFile(path)
	}
	return config.Load()
}

func newSimulateCmd() *cobra.Command {
	var configPath, scenario, xlsx, reportPath, databaseURL string
	var replicates, workers, verify int
	var seed uint64
	var showMetrics bool

	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Run independent replicates of a simulation scenario",
		Long: `Run replicates of a synthetic scenario and check the null p-values for uniformity.

Scenarios: gaussian_target, lasso_bootstrap, two_views, residual_importance

Example: selinf simulate --scenario lasso_bootstrap --replicates 50 --workers 8 --xlsx out.xlsx`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			flags := cmd.Flags()
			if flags.Changed("scenario") {
				cfg.Replicates.Scenario = scenario
			}
			if flags.Changed("replicates") {
				cfg.Replicates.Count = replicates
			}
			if flags.Changed("workers") {
				cfg.Replicates.Workers = workers
			}
			if flags.Changed("seed") {
				cfg.Replicates.Seed = seed
			}
			if flags.Changed("xlsx") {
				cfg.Export.XLSXPath = xlsx
			}
			if flags.Changed("report") {
				cfg.Export.ReportPath = reportPath
			}
			if flags.Changed("database-url") {
				cfg.Database.URL = databaseURL
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			return runSimulate(cmd, cfg, showMetrics, verify)
		},
	}

	cmd.Flags().StringVar(&configPath, "config", "", "YAML configuration file")
	cmd.Flags().StringVar(&scenario, "scenario", "lasso_bootstrap", "Simulation scenario")
	cmd.Flags().IntVar(&replicates, "replicates", 20, "Number of independent replicates")
	cmd.Flags().IntVar(&workers, "workers", 4, "Replicates run concurrently")
	cmd.Flags().Uint64Var(&seed, "seed", 42, "Base seed of the run")
	cmd.Flags().StringVar(&xlsx, "xlsx", "", "Write p-values to this workbook")
	cmd.Flags().StringVar(&reportPath, "report", "", "Write a Markdown report, or HTML for a .html path")
	cmd.Flags().StringVar(&databaseURL, "database-url", "", "Store the run in this PostgreSQL database")
	cmd.Flags().BoolVar(&showMetrics, "metrics", false, "Print the run metrics in Prometheus text format")
	cmd.Flags().IntVar(&verify, "verify", 0, "Replay the first N replicates and fail unless they reproduce exactly")

	return cmd
}

func runSimulate(cmd *cobra.Command, cfg *config.Config, showMetrics bool, verify int) error {
	logger := internal.NewDefaultLogger()
	logger.Info("configuration: %s", cfg)

	scenario, err := testkit.ScenarioFor(cfg)
	if err != nil {
		return err
	}
	rngPort := rng.NewPCGAdapter()
	driver, err := inference.NewDriver(cfg.Settings(), rngPort, logger)
	if err != nil {
		return err
	}
	sink, closeSink, err := resultSinks(cmd.Context(), cfg, logger)
	if err != nil {
		return err
	}
	defer closeSink()
	registry := prometheus.NewRegistry()
	service := app.NewReplicateService(driver, rngPort, sink, app.NewMetrics(registry), logger)

	summary, err := service.Run(cmd.Context(), app.ReplicateRequest{
		Scenario:    scenario,
		Replicates:  cfg.Replicates.Count,
		Workers:     cfg.Replicates.Workers,
		Seed:        cfg.Replicates.Seed,
		Fingerprint: cfg.Fingerprint(),
	})
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "run:          %s\n", summary.RunID)
	fmt.Fprintf(out, "fingerprint:  %s\n", summary.Fingerprint.String())
	fmt.Fprintf(out, "replicates:   %d (%d targets skipped)\n", summary.Replicates, summary.Skipped)
	fmt.Fprintf(out, "null:         %d p-values, mean %.4f, sd %.4f\n", len(summary.Null), summary.NullMean, summary.NullStdDev)
	if summary.Uniformity != nil {
		fmt.Fprintf(out, "uniformity:   KS D %.4f, p %.4f\n", summary.Uniformity.Statistic, summary.Uniformity.PValue)
	}
	fmt.Fprintf(out, "alternative:  %d p-values, %d at or below 0.05\n", len(summary.Alternative), countBelow(summary.Alternative, 0.05))

	if verify > len(summary.Outcomes) {
		verify = len(summary.Outcomes)
	}
	for _, outcome := range summary.Outcomes[:max(verify, 0)] {
		if err := service.Replay(cmd.Context(), scenario, cfg.Replicates.Seed, outcome); err != nil {
			if core.IsDeterminismError(err) {
				logger.Error("determinism check failed: %v", err)
			}
			return err
		}
	}
	if verify > 0 {
		fmt.Fprintf(out, "verified:     %d replicates reproduce exactly\n", verify)
	}

	if showMetrics {
		families, err := registry.Gather()
		if err != nil {
			return err
		}
		for _, mf := range families {
			if _, err := expfmt.MetricFamilyToText(out, mf); err != nil {
				return err
			}
		}
	}
	return nil
}

// resultSinks chains the configured exports. The returned func releases the
// database connection when one was opened.
func resultSinks(ctx context.Context, cfg *config.Config, logger *internal.Logger) (ports.ResultSinkPort, func(), error) {
	var xlsx, md, db ports.ResultSinkPort
	closeFn := func() {}
	if cfg.Export.XLSXPath != "" {
		xlsx = excel.NewResultWriter(cfg.Export.XLSXPath, logger)
	}
	if cfg.Export.ReportPath != "" {
		md = report.NewWriter(cfg.Export.ReportPath)
	}
	if cfg.Database.URL != "" {
		store, err := postgres.Open(ctx, cfg.Database.URL, logger)
		if err != nil {
			return nil, nil, err
		}
		db = store
		closeFn = func() { store.Close() }
	}
	return app.NewSinkChain(xlsx, md, db), closeFn, nil
}

func newInferCmd() *cobra.Command {
	var configPath, response, sheet string
	var lambda, sigma float64
	var seed uint64

	cmd := &cobra.Command{
		Use:   "infer [data-file]",
		Short: "Test the lasso selection on a CSV or Excel data set",
		Long: `Fit a randomized lasso of the response on every other column and report a
selective p-value for each selected coefficient.

Example: selinf infer data.csv --response y --seed 7`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("seed") {
				cfg.Replicates.Seed = seed
			}
			ec := excel.DefaultExcelConfig()
			ec.FilePath, ec.Response, ec.Enabled = args[0], response, true
			if sheet != "" {
				ec.Sheet = sheet
			}
			return runInfer(cmd, cfg, ec, lambda, sigma)
		},
	}

	cmd.Flags().StringVar(&configPath, "config", "", "YAML configuration file")
	cmd.Flags().StringVar(&response, "response", "y", "Response column header")
	cmd.Flags().StringVar(&sheet, "sheet", "", "Sheet to read from an Excel file")
	cmd.Flags().Float64Var(&lambda, "lambda", 0, "Lasso penalty; 0 uses the theoretical value")
	cmd.Flags().Float64Var(&sigma, "sigma", 0, "Noise level; 0 estimates it by least squares")
	cmd.Flags().Uint64Var(&seed, "seed", 42, "Random seed")

	return cmd
}

func runInfer(cmd *cobra.Command, cfg *config.Config, ec excel.ExcelConfig, lambda, sigma float64) error {
	logger := internal.NewDefaultLogger()
	r, w, tail, err := cfg.Families()
	if err != nil {
		return err
	}
	law, err := randomization.New(r, cfg.Sampler.RandomizationScale)
	if err != nil {
		return err
	}

	ds, err := excel.NewDataReader(ec, logger).ReadDataset(ec.Response)
	if err != nil {
		return err
	}
	rngPort := rng.NewPCGAdapter()
	driver, err := inference.NewDriver(cfg.Settings(), rngPort, logger)
	if err != nil {
		return err
	}
	res, err := app.NewInferService(driver, rngPort, logger).Infer(cmd.Context(), app.InferRequest{
		X:             ds.X,
		Y:             ds.Y,
		Columns:       ds.Columns,
		Randomization: law,
		Weights:       w,
		Lambda:        lambda,
		Sigma:         sigma,
		Tail:          tail,
		Seed:          cfg.Replicates.Seed,
	})
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "lambda %.4g, sigma %.4g, selected %d of %d: %s\n",
		res.Lambda, res.Sigma, len(res.Selected), len(ds.Columns), strings.Join(res.Selected, ", "))
	for _, result := range res.Results {
		printResult(out, result)
	}
	if res.Joint != nil {
		printResult(out, res.Joint)
	}
	return nil
}

func printResult(out io.Writer, r *selection.Result) {
	fmt.Fprintf(out, "  %-20s observed %10.4f  p %.4f  (%s, %d draws)\n", r.Target, r.Observed, r.PValue, r.Tail, r.Retained)
}

func newConfigCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "config",
		Short: "Validate and print the effective configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), cfg.String())
			fmt.Fprintf(cmd.OutOrStdout(), "fingerprint %s\n", cfg.Fingerprint().String())
			return nil
		},
	}
	cmd.Flags().StringVar(&configPath, "config", "", "YAML configuration file")
	return cmd
}

func countBelow(ps []float64, alpha float64) int {
	n := 0
	for _, p := range ps {
		if p <= alpha {
			n++
		}
	}
	return n
}
