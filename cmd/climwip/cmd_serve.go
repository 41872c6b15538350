package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/tzfnuist/ClimWIP/internal/api"
	"github.com/tzfnuist/ClimWIP/internal/hermes"
	"github.com/tzfnuist/ClimWIP/internal/metrics"
	"github.com/tzfnuist/ClimWIP/internal/pipeline"
	"github.com/tzfnuist/ClimWIP/internal/store"
)

func newServeCommand(root *rootOptions) *cobra.Command {
	var queueWorkers int

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the weighting API and consume NATS run requests",
		Long: `Serve the weighting API and consume NATS run requests.

Runs and their weights are persisted to PostgreSQL when database.url is set.
Lifecycle events are published to NATS when hermes.url is set. Metrics and a
health check are served on server.metrics_port.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := root.loadConfig()
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			logger := newLogger(cfg.Logging, os.Stdout)

			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()

			// Database (optional)
			var db store.Store
			if cfg.Database.URL != "" {
				pg, err := store.NewPostgresStore(ctx, cfg.Database.URL)
				if err != nil {
					return fmt.Errorf("connect to database: %w", err)
				}
				defer pg.Close()
				if err := pg.EnsureSchema(ctx); err != nil {
					return fmt.Errorf("ensure schema: %w", err)
				}
				db = pg
				logger.Info("connected to database")
			} else {
				logger.Warn("no database configured, runs are not persisted")
			}

			// Hermes (optional)
			var hermesClient hermes.Client
			if cfg.Hermes.URL != "" {
				hc, err := hermes.NewNATSClient(ctx, cfg.Hermes.URL, logger)
				if err != nil {
					logger.Warn("failed to connect to hermes, running without events", "error", err)
				} else {
					hermesClient = hc
					defer hc.Close()
					logger.Info("connected to hermes")
				}
			}

			loader, err := newLoader(cfg)
			if err != nil {
				return fmt.Errorf("input source: %w", err)
			}

			reg := prometheus.NewRegistry()
			reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
			m := metrics.New(reg)

			runner := pipeline.New(db, hermesClient, loader, m, cfg, logger)
			runner.Start(ctx, queueWorkers)
			defer runner.Stop()
			runner.SetupSubscriptions()
			logger.Info("pipeline started", "queue_workers", queueWorkers)

			apiServer := &http.Server{
				Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
				Handler:           api.NewRouter(db, runner, cfg, logger),
				ReadHeaderTimeout: 10 * time.Second,
			}
			metricsServer := &http.Server{
				Addr:              fmt.Sprintf(":%d", cfg.Server.MetricsPort),
				Handler:           api.NewMetricsRouter(reg),
				ReadHeaderTimeout: 10 * time.Second,
			}

			go func() {
				logger.Info("API server starting", "port", cfg.Server.Port)
				if err := apiServer.ListenAndServe(); err != http.ErrServerClosed {
					logger.Error("API server error", "error", err)
					cancel()
				}
			}()

			go func() {
				logger.Info("metrics server starting", "port", cfg.Server.MetricsPort)
				if err := metricsServer.ListenAndServe(); err != http.ErrServerClosed {
					logger.Error("metrics server error", "error", err)
				}
			}()

			// Graceful shutdown
			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
			select {
			case <-sigCh:
			case <-ctx.Done():
			}

			logger.Info("shutting down...")
			cancel()

			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer shutdownCancel()

			_ = apiServer.Shutdown(shutdownCtx)
			_ = metricsServer.Shutdown(shutdownCtx)

			logger.Info("shutdown complete")
			return nil
		},
	}

	cmd.Flags().IntVar(&queueWorkers, "queue-workers", 2, "runs computed concurrently from the queue")
	return cmd
}
