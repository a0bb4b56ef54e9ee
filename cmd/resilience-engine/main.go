package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/miradorstack/mirador-resilience/internal/api"
	"github.com/miradorstack/mirador-resilience/internal/config"
	"github.com/miradorstack/mirador-resilience/internal/metrics"
	"github.com/miradorstack/mirador-resilience/internal/telemetry"
	"github.com/miradorstack/mirador-resilience/internal/utils"
)

var version = "dev"

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var configPath string
	root := &cobra.Command{
		Use:           "resilience-engine",
		Short:         "Error resilience and business continuity engine",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "Path to configuration file")

	root.AddCommand(&cobra.Command{
		Use:   "serve",
		Short: "Run the gRPC server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(configPath)
			if err != nil {
				slog.Error("failed to load config", slog.String("path", configPath), slog.Any("error", err))
				return err
			}
			return serve(cmd.Context(), cfg)
		},
	})
	root.AddCommand(&cobra.Command{
		Use:   "validate-config",
		Short: "Load and validate the configuration, then exit",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(configPath)
			if err != nil {
				fmt.Fprintf(cmd.ErrOrStderr(), "invalid configuration: %v\n", err)
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "configuration ok (grpc %s, metrics %s)\n", cfg.Server.Address, cfg.Server.MetricsAddress)
			return nil
		},
	})
	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the build version",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), version)
		},
	})
	return root
}

func loadConfig(path string) (*config.Config, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func serve(parent context.Context, cfg *config.Config) error {
	if parent == nil {
		parent = context.Background()
	}
	logger := utils.NewLogger(cfg.Logging.Level, cfg.Logging.JSON)
	logger.Info("starting mirador-resilience", slog.String("address", cfg.Server.Address), slog.String("version", version))

	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
		logger.Error("failed to register metrics", slog.Any("error", err))
		return err
	}

	shutdownTracing, err := telemetry.InitTracing(ctx, cfg.Tracing, version, logger)
	if err != nil {
		logger.Error("failed to initialise tracing", slog.Any("error", err))
		return err
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(flushCtx); err != nil {
			logger.Warn("tracer shutdown", slog.Any("error", err))
		}
	}()

	a, err := build(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to build engine", slog.Any("error", err))
		return err
	}
	defer a.close()

	restoreCtx, cancelRestore := context.WithTimeout(ctx, 2*time.Second)
	if err := a.service.RestoreHealthSnapshot(restoreCtx); err != nil {
		logger.Warn("health snapshot not restored", slog.Any("error", err))
	}
	cancelRestore()

	a.queue.Start(ctx)
	defer a.queue.Stop()

	sub, err := a.service.SubscribeEvents(a.bus, cfg.Bus.EventSubject)
	if err != nil {
		logger.Error("failed to subscribe to events", slog.String("subject", cfg.Bus.EventSubject), slog.Any("error", err))
		return err
	}
	defer func() { _ = sub.Unsubscribe() }()

	maintenanceDone := make(chan struct{})
	go func() {
		defer close(maintenanceDone)
		a.service.RunMaintenance(ctx, cfg.Health.TickInterval, cfg.Health.SnapshotInterval)
	}()

	server, err := api.NewServer(cfg.Server, api.NewHandler(a.service, logger), logger)
	if err != nil {
		logger.Error("failed to create gRPC server", slog.Any("error", err))
		return err
	}

	var metricsServer *http.Server
	if cfg.Server.MetricsAddress != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		metricsServer = &http.Server{
			Addr:         cfg.Server.MetricsAddress,
			Handler:      mux,
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 15 * time.Second,
		}
		go func() {
			logger.Info("metrics server listening", slog.String("address", cfg.Server.MetricsAddress))
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics server exited", slog.Any("error", err))
				stop()
			}
		}()
	}

	go func() {
		if serveErr := server.Start(); serveErr != nil {
			logger.Error("gRPC server exited", slog.Any("error", serveErr))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), server.GracefulTimeout())
	defer cancel()
	server.Shutdown(shutdownCtx)

	if metricsServer != nil {
		metricsCtx, cancelMetrics := context.WithTimeout(context.Background(), 5*time.Second)
		if err := metricsServer.Shutdown(metricsCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Warn("metrics server shutdown", slog.Any("error", err))
		}
		cancelMetrics()
	}

	<-maintenanceDone
	logger.Info("mirador-resilience stopped")
	return nil
}
