package engine

import (
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/miradorstack/mirador-resilience/internal/models"
	"github.com/miradorstack/mirador-resilience/internal/utils"
)

// HealthSettings tunes the per-layer health state machine.
type HealthSettings struct {
	Window                    time.Duration
	BaselineRequestsPerMinute float64
	DegradedThreshold         float64
	CriticalThreshold         float64
	EmergencyThreshold        float64
	// CleanChecks is the number of consecutive clean checks needed to step down one level.
	CleanChecks int
}

// DefaultHealthSettings mirrors the shipped configuration defaults.
func DefaultHealthSettings() HealthSettings {
	return HealthSettings{
		Window:                    5 * time.Minute,
		BaselineRequestsPerMinute: 20,
		DegradedThreshold:         0.05,
		CriticalThreshold:         0.15,
		EmergencyThreshold:        0.35,
		CleanChecks:               3,
	}
}

// LevelFor maps an error rate onto the level it implies.
func (s HealthSettings) LevelFor(rate float64) models.HealthLevel {
	switch {
	case rate >= s.EmergencyThreshold:
		return models.HealthEmergency
	case rate >= s.CriticalThreshold:
		return models.HealthCritical
	case rate >= s.DegradedThreshold:
		return models.HealthDegraded
	default:
		return models.HealthHealthy
	}
}

type minuteBucket struct {
	errors      int
	requests    int
	hasRequests bool
}

// layerShard owns the rolling window of one layer. All access goes through mu.
type layerShard struct {
	mu      sync.Mutex
	state   models.SystemLayerHealth
	buckets map[int64]*minuteBucket
	dropped int
}

// HealthSample is an externally measured error rate for a layer.
type HealthSample struct {
	Layer     models.SystemLayer `json:"layer"`
	ErrorRate float64            `json:"errorRate"`
	At        time.Time          `json:"at"`
}

// HealthSnapshot is the persisted form of every layer's level.
type HealthSnapshot struct {
	Layers  []models.SystemLayerHealth `json:"layers"`
	TakenAt time.Time                  `json:"takenAt"`
}

// HealthAggregator maintains rolling per-layer health. Writes are serialised per layer;
// different layers never contend.
type HealthAggregator struct {
	settings HealthSettings
	shards   map[models.SystemLayer]*layerShard
	now      func() time.Time
	logger   *slog.Logger
}

// NewHealthAggregator constructs an aggregator with one shard per known layer.
func NewHealthAggregator(settings HealthSettings, logger *slog.Logger) *HealthAggregator {
	if settings.Window <= 0 {
		settings.Window = DefaultHealthSettings().Window
	}
	if settings.CleanChecks <= 0 {
		settings.CleanChecks = DefaultHealthSettings().CleanChecks
	}
	shards := make(map[models.SystemLayer]*layerShard, len(models.AllLayers()))
	for _, layer := range models.AllLayers() {
		shards[layer] = &layerShard{
			state:   models.SystemLayerHealth{Layer: layer, Health: models.HealthHealthy},
			buckets: make(map[int64]*minuteBucket),
		}
	}
	return &HealthAggregator{
		settings: settings,
		shards:   shards,
		now:      time.Now,
		logger:   utils.LoggerOr(logger),
	}
}

// Settings returns the active thresholds.
func (a *HealthAggregator) Settings() HealthSettings { return a.settings }

// Ingest records an error event and re-evaluates its layer.
func (a *HealthAggregator) Ingest(ev models.ErrorEvent) (models.SystemLayerHealth, *models.HealthTransition, error) {
	if err := ev.Validate(); err != nil {
		return models.SystemLayerHealth{}, nil, utils.NewValidationError("health.Ingest", err.Error())
	}
	shard := a.shards[ev.Layer]
	now := a.now()

	shard.mu.Lock()
	defer shard.mu.Unlock()

	if ev.Timestamp.Unix()/60 < a.windowStart(now) {
		shard.dropped++
		a.logger.Debug("dropping event older than health window",
			slog.String("layer", string(ev.Layer)),
			slog.Time("timestamp", ev.Timestamp))
		return shard.state, nil, nil
	}

	bucket := shard.bucket(ev.Timestamp)
	bucket.errors++

	rate := a.windowRate(shard, now)
	transition := a.evaluate(shard, rate, now)
	return shard.state, transition, nil
}

// RecordRequests supplies observed request volume for a layer's minute.
func (a *HealthAggregator) RecordRequests(layer models.SystemLayer, count int, at time.Time) error {
	shard, ok := a.shards[layer]
	if !ok {
		return utils.NewValidationError("health.RecordRequests", fmt.Sprintf("unknown system layer %q", layer))
	}
	if count < 0 {
		return utils.NewValidationError("health.RecordRequests", "request count cannot be negative")
	}
	if at.IsZero() {
		at = a.now()
	}

	shard.mu.Lock()
	defer shard.mu.Unlock()
	bucket := shard.bucket(at)
	bucket.requests += count
	bucket.hasRequests = true
	return nil
}

// ApplyHealthCheck evaluates a layer against an externally measured error rate.
func (a *HealthAggregator) ApplyHealthCheck(sample HealthSample) (models.SystemLayerHealth, *models.HealthTransition, error) {
	const op = "health.ApplyHealthCheck"
	shard, ok := a.shards[sample.Layer]
	if !ok {
		return models.SystemLayerHealth{}, nil, utils.NewValidationError(op, fmt.Sprintf("unknown system layer %q", sample.Layer))
	}
	if math.IsNaN(sample.ErrorRate) || sample.ErrorRate < 0 || sample.ErrorRate > 1 {
		return models.SystemLayerHealth{}, nil, utils.NewValidationError(op, "error rate must be within [0,1]")
	}
	at := sample.At
	if at.IsZero() {
		at = a.now()
	}

	shard.mu.Lock()
	defer shard.mu.Unlock()
	transition := a.evaluate(shard, sample.ErrorRate, at)
	return shard.state, transition, nil
}

// Tick re-evaluates every layer from its window and returns any transitions.
func (a *HealthAggregator) Tick(now time.Time) []models.HealthTransition {
	if now.IsZero() {
		now = a.now()
	}
	var transitions []models.HealthTransition
	for _, layer := range models.AllLayers() {
		shard := a.shards[layer]
		shard.mu.Lock()
		rate := a.windowRate(shard, now)
		if t := a.evaluate(shard, rate, now); t != nil {
			transitions = append(transitions, *t)
		}
		shard.mu.Unlock()
	}
	return transitions
}

// GetLayerHealth returns a copy of one layer's state.
func (a *HealthAggregator) GetLayerHealth(layer models.SystemLayer) (models.SystemLayerHealth, error) {
	shard, ok := a.shards[layer]
	if !ok {
		return models.SystemLayerHealth{}, utils.NewValidationError("health.GetLayerHealth", fmt.Sprintf("unknown system layer %q", layer))
	}
	shard.mu.Lock()
	defer shard.mu.Unlock()
	return shard.state, nil
}

// GetAllLayerHealth returns every layer in stable order.
func (a *HealthAggregator) GetAllLayerHealth() []models.SystemLayerHealth {
	out := make([]models.SystemLayerHealth, 0, len(a.shards))
	for _, layer := range models.AllLayers() {
		state, _ := a.GetLayerHealth(layer)
		out = append(out, state)
	}
	return out
}

// Dropped reports how many late events a layer discarded.
func (a *HealthAggregator) Dropped(layer models.SystemLayer) int {
	shard, ok := a.shards[layer]
	if !ok {
		return 0
	}
	shard.mu.Lock()
	defer shard.mu.Unlock()
	return shard.dropped
}

// Snapshot captures every layer's level for persistence.
func (a *HealthAggregator) Snapshot() HealthSnapshot {
	return HealthSnapshot{Layers: a.GetAllLayerHealth(), TakenAt: a.now().UTC()}
}

// Restore reinstates persisted levels. Rolling windows start empty. Entries with an
// undefined level or an error rate outside [0,1] are skipped.
func (a *HealthAggregator) Restore(snap HealthSnapshot) {
	for _, saved := range snap.Layers {
		shard, ok := a.shards[saved.Layer]
		if !ok {
			continue
		}
		if !saved.Health.Valid() || math.IsNaN(saved.ErrorRate) || saved.ErrorRate < 0 || saved.ErrorRate > 1 {
			a.logger.Warn("skipping invalid health snapshot entry",
				slog.String("layer", string(saved.Layer)),
				slog.Int("health", int(saved.Health)),
				slog.Float64("error_rate", saved.ErrorRate))
			continue
		}
		shard.mu.Lock()
		shard.state.Health = saved.Health
		shard.state.ErrorRate = saved.ErrorRate
		shard.state.LastCheck = saved.LastCheck
		shard.state.CleanChecks = 0
		shard.mu.Unlock()
	}
}

func (s *layerShard) bucket(ts time.Time) *minuteBucket {
	key := ts.Unix() / 60
	b, ok := s.buckets[key]
	if !ok {
		b = &minuteBucket{}
		s.buckets[key] = b
	}
	return b
}

// windowStart is the first minute key inside the rolling window ending at now.
func (a *HealthAggregator) windowStart(now time.Time) int64 {
	minutes := int64(a.settings.Window / time.Minute)
	if minutes < 1 {
		minutes = 1
	}
	return now.Unix()/60 - minutes + 1
}

// windowRate prunes expired buckets and computes errors/requests over the window.
// Minutes without a supplied volume count the baseline.
func (a *HealthAggregator) windowRate(shard *layerShard, now time.Time) float64 {
	first := a.windowStart(now)
	newest := now.Unix() / 60

	errors := 0
	volume := 0.0
	for key, b := range shard.buckets {
		if key < first {
			delete(shard.buckets, key)
			continue
		}
		errors += b.errors
		// future-dated buckets (clock skew) still carry their supplied volume
		if key > newest && b.hasRequests {
			volume += float64(b.requests)
		}
	}
	for key := first; key <= newest; key++ {
		if b, ok := shard.buckets[key]; ok && b.hasRequests {
			volume += float64(b.requests)
			continue
		}
		volume += a.settings.BaselineRequestsPerMinute
	}

	shard.state.Errors = errors
	shard.state.Requests = int(volume)
	if errors == 0 {
		return 0
	}
	if volume < float64(errors) {
		volume = float64(errors)
	}
	return float64(errors) / volume
}

// evaluate applies one check. Upward moves are one level per check; downward moves need
// CleanChecks consecutive checks whose implied level is below the current one.
func (a *HealthAggregator) evaluate(shard *layerShard, rate float64, at time.Time) *models.HealthTransition {
	state := &shard.state
	from := state.Health
	implied := a.settings.LevelFor(rate)

	switch {
	case implied > from:
		state.Health = from + 1
		state.CleanChecks = 0
	case implied < from:
		state.CleanChecks++
		if state.CleanChecks >= a.settings.CleanChecks {
			state.Health = from - 1
			state.CleanChecks = 0
		}
	default:
		state.CleanChecks = 0
	}
	state.ErrorRate = rate
	state.LastCheck = at

	if state.Health == from {
		return nil
	}
	a.logger.Info("layer health transition",
		slog.String("layer", string(state.Layer)),
		slog.String("from", from.String()),
		slog.String("to", state.Health.String()),
		slog.Float64("error_rate", rate))
	return &models.HealthTransition{
		Layer:     state.Layer,
		From:      from,
		To:        state.Health,
		ErrorRate: rate,
		At:        at,
	}
}
