package main

import (
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	"selinf/internal"
	"selinf/ui"
)

func newServeCmd() *cobra.Command {
	var configPath, addr, databaseURL string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve replicate runs, reports and metrics over HTTP",
		Long: `Start an HTTP server. POST /api/runs starts a replicate run from the loaded
configuration with optional overrides, GET /runs/{id}/report renders its
report and GET /metrics exposes the Prometheus collectors.

Example: selinf serve --addr :8080 --database-url postgres://localhost/selinf`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("addr") {
				cfg.Server.Addr = addr
			}
			if cmd.Flags().Changed("database-url") {
				cfg.Database.URL = databaseURL
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			logger := internal.NewDefaultLogger()
			// per-run exports go to the database only; file exports would
			// overwrite each other across requests
			cfg.Export.XLSXPath, cfg.Export.ReportPath = "", ""
			sink, closeSink, err := resultSinks(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer closeSink()

			if logger.GetLevel() < internal.LogLevelDebug {
				gin.SetMode(gin.ReleaseMode)
			}
			return ui.NewServer(cfg, sink, logger).Run(ctx, cfg.Server.Addr)
		},
	}

	cmd.Flags().StringVar(&configPath, "config", "", "YAML configuration file")
	cmd.Flags().StringVar(&addr, "addr", ":8080", "Listen address")
	cmd.Flags().StringVar(&databaseURL, "database-url", "", "Store every run in this PostgreSQL database")
	return cmd
}
