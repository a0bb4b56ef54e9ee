package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/miradorstack/mirador-resilience/internal/analytics"
	"github.com/miradorstack/mirador-resilience/internal/bus"
	"github.com/miradorstack/mirador-resilience/internal/cache"
	"github.com/miradorstack/mirador-resilience/internal/config"
	"github.com/miradorstack/mirador-resilience/internal/engine"
	"github.com/miradorstack/mirador-resilience/internal/patterns"
	"github.com/miradorstack/mirador-resilience/internal/prediction"
	"github.com/miradorstack/mirador-resilience/internal/repo"
	"github.com/miradorstack/mirador-resilience/internal/services"
	"github.com/miradorstack/mirador-resilience/internal/utils"
)

// app holds the constructed components and the cleanup hooks run on shutdown.
type app struct {
	service *services.ResilienceService
	bus     bus.EventBus
	queue   *bus.WorkerQueue
	closers []func()
}

func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

func healthSettings(cfg config.HealthConfig) engine.HealthSettings {
	return engine.HealthSettings{
		Window:                    cfg.Window,
		BaselineRequestsPerMinute: cfg.BaselineRequestsPerMinute,
		DegradedThreshold:         cfg.DegradedThreshold,
		CriticalThreshold:         cfg.CriticalThreshold,
		EmergencyThreshold:        cfg.EmergencyThreshold,
		CleanChecks:               cfg.CleanChecks,
	}
}

func predictionSettings(cfg *config.Config) prediction.Settings {
	p := cfg.Prediction
	return prediction.Settings{
		LatencyBudget:     p.LatencyBudget,
		CacheTTL:          p.CacheTTL,
		Estimators:        p.Estimators,
		Weights:           p.Weights,
		RevenuePerError:   p.RevenuePerError,
		CustomersPerError: p.CustomersPerError,
		BatchConcurrency:  p.BatchConcurrency,
		Health:            healthSettings(cfg.Health),
	}
}

func analyticsSettings(cfg *config.Config) analytics.Settings {
	a := cfg.Analytics
	return analytics.Settings{
		AggregationBudget:   a.AggregationBudget,
		CacheTTL:            a.CacheTTL,
		AnomalyThreshold:    a.AnomalyThreshold,
		MaxSamplesPerBucket: a.MaxSamplesPerBucket,
		MaxBuckets:          a.MaxBuckets,
		Health:              healthSettings(cfg.Health),
		Detector:            a.Detector,
	}
}

func openCache(cfg config.CacheConfig, logger *slog.Logger) cache.Provider {
	if !cfg.Enabled || cfg.Addr == "" {
		return cache.NoopProvider{}
	}
	provider, err := cache.NewRedisProvider(cache.RedisConfig{
		Addr:         cfg.Addr,
		Username:     cfg.Username,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		MaxRetries:   cfg.MaxRetries,
		TLS:          cfg.TLS,
		KeyPrefix:    cfg.KeyPrefix,
	})
	if err != nil {
		logger.Warn("redis cache unavailable, continuing with local cache only", slog.Any("error", err))
		return cache.NoopProvider{}
	}
	return provider
}

func openBus(cfg config.BusConfig, logger *slog.Logger) (bus.EventBus, error) {
	if cfg.NATSURL == "" {
		logger.Info("using in-process event bus")
		return bus.NewMemoryBus(logger), nil
	}
	return bus.NewNATSBus(cfg.NATSURL, "mirador-resilience", cfg.ConnectTimeout, logger)
}

func openAudit(ctx context.Context, cfg config.AuditConfig, logger *slog.Logger) (engine.AuditTrail, func(), error) {
	if cfg.PostgresDSN == "" {
		logger.Info("audit trail kept in memory")
		return repo.NewMemoryAuditTrail(), func() {}, nil
	}
	trail, err := repo.NewPostgresAuditTrail(ctx, cfg.PostgresDSN, cfg.Table, logger)
	if err != nil {
		return nil, nil, err
	}
	return trail, trail.Close, nil
}

// build wires every component from cfg. The caller owns Start of the worker queue.
func build(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*app, error) {
	logger = utils.LoggerOr(logger)
	a := &app{}

	shared := openCache(cfg.Cache, logger)
	a.closers = append(a.closers, func() { _ = shared.Close() })
	results := cache.NewResultCache(cache.NewMemoryProvider(cfg.Cache.LocalCapacity), shared, logger)

	classifier := engine.NewClassifier()
	hs := healthSettings(cfg.Health)
	health := engine.NewHealthAggregator(hs, logger)

	predictor := prediction.NewEngine(predictionSettings(cfg), classifier, results, logger)
	logger.Info("prediction estimators active", slog.Any("estimators", predictor.ActiveEstimators()))

	audit, closeAudit, err := openAudit(ctx, cfg.Audit, logger)
	if err != nil {
		a.close()
		return nil, fmt.Errorf("open audit trail: %w", err)
	}
	a.closers = append(a.closers, closeAudit)

	var remote analytics.EventSource
	if cfg.Clients.Events.BaseURL != "" {
		remote = repo.NewEventsClient(cfg.Clients.Events.BaseURL, cfg.Clients.Events.EventsPath, repo.EventsClientOptions{
			Timeout:        cfg.Clients.Events.Timeout,
			BreakerTimeout: cfg.Clients.Events.BreakerTimeout,
			MaxFailures:    cfg.Clients.Events.MaxFailures,
		}, logger)
	}

	store := analytics.NewBucketStore(cfg.Analytics.MinuteRetention, cfg.Analytics.HourRetention,
		cfg.Analytics.MaxSamplesPerBucket, classifier)
	miner := patterns.NewMiner(logger, patterns.CacheStore(shared, cfg.Cache.PatternsTTL))
	aggregator := analytics.NewAggregator(analyticsSettings(cfg), store,
		analytics.NewRealtimeTracker(cfg.Analytics.RealtimeWindow), remote, audit, health, classifier, miner, results, logger)

	eventBus, err := openBus(cfg.Bus, logger)
	if err != nil {
		a.close()
		return nil, fmt.Errorf("open event bus: %w", err)
	}
	a.bus = eventBus
	a.closers = append(a.closers, func() { _ = eventBus.Close() })

	a.queue = bus.NewWorkerQueue(cfg.Orchestrator.JobQueueSize, cfg.Orchestrator.JobWorkers,
		bus.PublishJobs(eventBus, cfg.Bus.JobSubject), logger)

	playbooks, err := engine.LoadPlaybooks(cfg.Orchestrator.PlaybooksPath, logger)
	if err != nil {
		a.close()
		return nil, fmt.Errorf("load playbooks: %w", err)
	}
	graph, err := engine.NewPropagationGraph(cfg.Orchestrator.Dependents)
	if err != nil {
		a.close()
		return nil, fmt.Errorf("build propagation graph: %w", err)
	}
	orchestrator := engine.NewOrchestrator(logger, classifier, health, graph, playbooks,
		bus.NewActuator(eventBus, cfg.Bus.DirectiveSubject), audit, a.queue,
		engine.OrchestratorSettings{
			HighLoadThreshold:   cfg.Orchestrator.HighLoadThreshold,
			MaxPropagationDepth: cfg.Orchestrator.MaxPropagationDepth,
		})

	a.service = services.NewResilienceService(logger, health, predictor, aggregator, orchestrator, shared, cfg.Cache.HealthTTL)
	return a, nil
}
