package services

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/miradorstack/mirador-resilience/internal/analytics"
	"github.com/miradorstack/mirador-resilience/internal/bus"
	"github.com/miradorstack/mirador-resilience/internal/cache"
	"github.com/miradorstack/mirador-resilience/internal/engine"
	"github.com/miradorstack/mirador-resilience/internal/metrics"
	"github.com/miradorstack/mirador-resilience/internal/models"
	"github.com/miradorstack/mirador-resilience/internal/prediction"
	"github.com/miradorstack/mirador-resilience/internal/utils"
)

// HealthSnapshotKey is the cache key holding the persisted layer health levels.
const HealthSnapshotKey = "health:snapshot"

// IngestResult reports how a batch of events was absorbed.
type IngestResult struct {
	Accepted    int                       `json:"accepted"`
	Rejected    int                       `json:"rejected"`
	Errors      []string                  `json:"errors,omitempty"`
	Transitions []models.HealthTransition `json:"transitions,omitempty"`
}

// ResilienceService is the facade every transport calls into.
type ResilienceService struct {
	logger       *slog.Logger
	health       *engine.HealthAggregator
	predictor    *prediction.Engine
	analytics    *analytics.Aggregator
	orchestrator *engine.Orchestrator
	snapshots    cache.Provider
	snapshotTTL  time.Duration
	latencies    *utils.LatencyTracker
}

// NewResilienceService constructs the service facade. snapshots may be nil to disable
// health persistence.
func NewResilienceService(
	logger *slog.Logger,
	health *engine.HealthAggregator,
	predictor *prediction.Engine,
	aggregator *analytics.Aggregator,
	orchestrator *engine.Orchestrator,
	snapshots cache.Provider,
	snapshotTTL time.Duration,
) *ResilienceService {
	if snapshots == nil {
		snapshots = cache.NoopProvider{}
	}
	if snapshotTTL <= 0 {
		snapshotTTL = 24 * time.Hour
	}
	return &ResilienceService{
		logger:       utils.LoggerOr(logger),
		health:       health,
		predictor:    predictor,
		analytics:    aggregator,
		orchestrator: orchestrator,
		snapshots:    snapshots,
		snapshotTTL:  snapshotTTL,
		latencies:    utils.NewLatencyTracker(1024),
	}
}

// IngestEvents feeds each valid event to the health aggregator and the analytics store.
// Invalid events are rejected individually.
func (s *ResilienceService) IngestEvents(ctx context.Context, events []models.ErrorEvent) (IngestResult, error) {
	const op = "services.IngestEvents"
	if len(events) == 0 {
		return IngestResult{}, utils.NewValidationError(op, "at least one event is required")
	}
	var res IngestResult
	for i, ev := range events {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		if err := ev.Validate(); err != nil {
			res.Rejected++
			res.Errors = append(res.Errors, fmt.Sprintf("event %d: %v", i, err))
			continue
		}
		_, transition, err := s.health.Ingest(ev)
		if err != nil {
			res.Rejected++
			res.Errors = append(res.Errors, fmt.Sprintf("event %d: %v", i, err))
			continue
		}
		s.analytics.Ingest(ev)
		metrics.IncEventIngested(string(ev.Layer), string(ev.Severity))
		res.Accepted++
		if transition != nil {
			s.observeTransition(*transition)
			res.Transitions = append(res.Transitions, *transition)
		}
	}
	if res.Rejected > 0 {
		s.logger.Debug("rejected malformed events", slog.Int("rejected", res.Rejected), slog.Int("accepted", res.Accepted))
	}
	return res, nil
}

// RecordRequestVolume supplies the request count a layer served in the minute holding at.
func (s *ResilienceService) RecordRequestVolume(ctx context.Context, layer models.SystemLayer, count int, at time.Time) error {
	if at.IsZero() {
		at = time.Now()
	}
	if err := s.health.RecordRequests(layer, count, at); err != nil {
		return err
	}
	s.analytics.RecordRequests(layer, count, at)
	return nil
}

// RecordHealthCheck applies an externally measured error rate.
func (s *ResilienceService) RecordHealthCheck(ctx context.Context, sample engine.HealthSample) (models.SystemLayerHealth, error) {
	state, transition, err := s.health.ApplyHealthCheck(sample)
	if err != nil {
		return models.SystemLayerHealth{}, err
	}
	if transition != nil {
		s.observeTransition(*transition)
	}
	return state, nil
}

// LayerHealth returns one layer's state, or every layer when layer is empty.
func (s *ResilienceService) LayerHealth(ctx context.Context, layer string) ([]models.SystemLayerHealth, error) {
	if strings.TrimSpace(layer) == "" {
		return s.health.GetAllLayerHealth(), nil
	}
	parsed, err := models.ParseSystemLayer(layer)
	if err != nil {
		return nil, utils.NewValidationError("services.LayerHealth", err.Error())
	}
	state, err := s.health.GetLayerHealth(parsed)
	if err != nil {
		return nil, err
	}
	return []models.SystemLayerHealth{state}, nil
}

// GeneratePrediction forecasts errors for one context.
func (s *ResilienceService) GeneratePrediction(ctx context.Context, pc models.PredictionContext) (models.ErrorPredictionResult, error) {
	start := time.Now()
	res, err := s.predictor.GeneratePrediction(ctx, pc)
	duration := time.Since(start)
	if err != nil {
		metrics.ObservePrediction(duration, metrics.OutcomeError, false)
		return models.ErrorPredictionResult{}, err
	}
	metrics.ObservePrediction(duration, metrics.OutcomeSuccess, res.Cached)
	s.latencies.Observe(duration)
	if total := s.latencies.Total(); total%100 == 0 {
		ps := s.latencies.Percentiles(50, 95, 99)
		s.logger.Info("prediction latency",
			slog.Duration("p50", ps[0]), slog.Duration("p95", ps[1]), slog.Duration("p99", ps[2]),
			slog.Uint64("observed", total))
	}
	return res, nil
}

// GenerateBatchPredictions forecasts every context; results keep input order.
func (s *ResilienceService) GenerateBatchPredictions(ctx context.Context, contexts []models.PredictionContext) ([]models.ErrorPredictionResult, error) {
	start := time.Now()
	res, err := s.predictor.GenerateBatchPredictions(ctx, contexts)
	if err != nil {
		metrics.ObservePrediction(time.Since(start), metrics.OutcomeError, false)
		return nil, err
	}
	for _, r := range res {
		metrics.ObservePrediction(r.ExecutionTime, metrics.OutcomeSuccess, r.Cached)
	}
	return res, nil
}

// ValidatePredictionAccuracy scores the predictor against observed outcomes.
func (s *ResilienceService) ValidatePredictionAccuracy(ctx context.Context, samples []models.AccuracySample) (models.AccuracyMetrics, error) {
	return s.predictor.ValidatePredictionAccuracy(ctx, samples)
}

// BusinessImpactMetrics reports revenue and customer exposure over r.
func (s *ResilienceService) BusinessImpactMetrics(ctx context.Context, r models.AnalyticsTimeRange) (models.BusinessImpactMetrics, error) {
	return s.analytics.BusinessImpactMetrics(ctx, r)
}

// SystemHealthMetrics reports per-layer health over r.
func (s *ResilienceService) SystemHealthMetrics(ctx context.Context, r models.AnalyticsTimeRange) (models.SystemHealthMetrics, error) {
	return s.analytics.SystemHealthMetrics(ctx, r)
}

// AnomalyAnalytics flags outlier buckets over r.
func (s *ResilienceService) AnomalyAnalytics(ctx context.Context, r models.AnalyticsTimeRange) (models.AnomalyAnalytics, error) {
	return s.analytics.AnomalyAnalytics(ctx, r)
}

// PreventionAnalytics reports containment effectiveness over r.
func (s *ResilienceService) PreventionAnalytics(ctx context.Context, r models.AnalyticsTimeRange) (models.PreventionAnalytics, error) {
	return s.analytics.PreventionAnalytics(ctx, r)
}

// DashboardData gathers every analytics section for r.
func (s *ResilienceService) DashboardData(ctx context.Context, r models.AnalyticsTimeRange) (models.DashboardData, error) {
	return s.analytics.DashboardData(ctx, r)
}

// RealtimeAnalytics answers from the live window.
func (s *ResilienceService) RealtimeAnalytics(ctx context.Context) (models.RealtimeAnalytics, error) {
	return s.analytics.RealtimeAnalytics(ctx)
}

// HandleTrigger evaluates a triggering signal and contains it when it crosses the threshold.
func (s *ResilienceService) HandleTrigger(ctx context.Context, req models.TriggerRequest) (models.TriggerOutcome, error) {
	out, err := s.orchestrator.HandleTrigger(ctx, req)
	if err != nil {
		return models.TriggerOutcome{}, err
	}
	if out.Detected && out.Record != nil {
		metrics.ObserveContainment(string(out.Record.ContainmentStrategy), out.Record.Outcome, len(out.Record.PreventedCascades))
	}
	return out, nil
}

// ExecuteEmergencyContinuity runs the matching playbooks. Authorization is required.
func (s *ResilienceService) ExecuteEmergencyContinuity(ctx context.Context, req models.EmergencyRequest) (models.ContinuityExecution, error) {
	return s.orchestrator.ExecuteEmergencyContinuity(ctx, req)
}

// GetCascadeRecord returns one audit entry.
func (s *ResilienceService) GetCascadeRecord(ctx context.Context, propagationID string) (models.CascadePreventionRecord, error) {
	return s.orchestrator.Record(ctx, propagationID)
}

// ListCascadeRecords returns the audit entries in r.
func (s *ResilienceService) ListCascadeRecords(ctx context.Context, r models.AnalyticsTimeRange) ([]models.CascadePreventionRecord, error) {
	return s.orchestrator.Records(ctx, r)
}

// QueueStats reports continuity job throughput.
func (s *ResilienceService) QueueStats() models.QueueStats {
	return s.orchestrator.QueueStats()
}

// SubscribeEvents ingests JSON events published on subject. A message may hold one event
// or an array of events.
func (s *ResilienceService) SubscribeEvents(b bus.EventBus, subject string) (bus.Subscription, error) {
	return b.Subscribe(subject, func(ctx context.Context, data []byte) error {
		events, err := decodeEvents(data)
		if err != nil {
			return err
		}
		res, err := s.IngestEvents(ctx, events)
		if err != nil {
			return err
		}
		if res.Rejected > 0 {
			return fmt.Errorf("rejected %d of %d events: %s", res.Rejected, len(events), strings.Join(res.Errors, "; "))
		}
		return nil
	})
}

// Tick re-evaluates layer health so quiet layers step back down.
func (s *ResilienceService) Tick(now time.Time) []models.HealthTransition {
	transitions := s.health.Tick(now)
	for _, t := range transitions {
		s.observeTransition(t)
	}
	return transitions
}

// RunMaintenance ticks health and persists snapshots until ctx is done.
func (s *ResilienceService) RunMaintenance(ctx context.Context, tickInterval, snapshotInterval time.Duration) {
	if tickInterval <= 0 {
		tickInterval = 15 * time.Second
	}
	if snapshotInterval <= 0 {
		snapshotInterval = time.Minute
	}
	tick := time.NewTicker(tickInterval)
	defer tick.Stop()
	snap := time.NewTicker(snapshotInterval)
	defer snap.Stop()

	for {
		select {
		case <-ctx.Done():
			saveCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			if err := s.SaveHealthSnapshot(saveCtx); err != nil {
				s.logger.Warn("final health snapshot failed", slog.Any("error", err))
			}
			cancel()
			return
		case now := <-tick.C:
			s.Tick(now)
		case <-snap.C:
			if err := s.SaveHealthSnapshot(ctx); err != nil {
				s.logger.Warn("health snapshot failed", slog.Any("error", err))
			}
		}
	}
}

// SaveHealthSnapshot persists every layer's level.
func (s *ResilienceService) SaveHealthSnapshot(ctx context.Context) error {
	return cache.SetJSON(ctx, s.snapshots, HealthSnapshotKey, s.health.Snapshot(), s.snapshotTTL)
}

// RestoreHealthSnapshot reinstates persisted levels. A missing snapshot is not an error.
func (s *ResilienceService) RestoreHealthSnapshot(ctx context.Context) error {
	var snap engine.HealthSnapshot
	found, err := cache.GetJSON(ctx, s.snapshots, HealthSnapshotKey, &snap)
	if err != nil || !found {
		return err
	}
	s.health.Restore(snap)
	for _, l := range snap.Layers {
		metrics.SetLayerHealth(string(l.Layer), int(l.Health))
		s.orchestrator.ObserveHealthTransition(models.HealthTransition{Layer: l.Layer, To: l.Health, At: snap.TakenAt})
	}
	s.logger.Info("restored health snapshot", slog.Time("taken_at", snap.TakenAt), slog.Int("layers", len(snap.Layers)))
	return nil
}

// LatencyP95 returns the current p95 prediction latency.
func (s *ResilienceService) LatencyP95() time.Duration {
	if s.latencies == nil {
		return 0
	}
	return s.latencies.Percentile(95)
}

func (s *ResilienceService) observeTransition(t models.HealthTransition) {
	s.orchestrator.ObserveHealthTransition(t)
	metrics.SetLayerHealth(string(t.Layer), int(t.To))
}

func decodeEvents(data []byte) ([]models.ErrorEvent, error) {
	trimmed := strings.TrimSpace(string(data))
	if strings.HasPrefix(trimmed, "[") {
		var events []models.ErrorEvent
		if err := json.Unmarshal(data, &events); err != nil {
			return nil, fmt.Errorf("decode events: %w", err)
		}
		return events, nil
	}
	var ev models.ErrorEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		return nil, fmt.Errorf("decode event: %w", err)
	}
	return []models.ErrorEvent{ev}, nil
}
