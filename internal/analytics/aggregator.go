package analytics

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/miradorstack/mirador-resilience/internal/cache"
	"github.com/miradorstack/mirador-resilience/internal/engine"
	"github.com/miradorstack/mirador-resilience/internal/extractors"
	"github.com/miradorstack/mirador-resilience/internal/metrics"
	"github.com/miradorstack/mirador-resilience/internal/models"
	"github.com/miradorstack/mirador-resilience/internal/patterns"
	"github.com/miradorstack/mirador-resilience/internal/utils"
)

var tracer = otel.Tracer("github.com/miradorstack/mirador-resilience/internal/analytics")

// Operation names used for cache keys and metrics.
const (
	OpBusinessImpact = "business_impact"
	OpSystemHealth   = "system_health"
	OpAnomalies      = "anomalies"
	OpPrevention     = "prevention"
	OpDashboard      = "dashboard"
	OpRealtime       = "realtime"

	sourceLocal    = "local"
	sourceUpstream = "upstream"

	maxErrorEvents = 100
)

// EventSource streams raw historical events for a range.
type EventSource interface {
	FetchEvents(ctx context.Context, start, end time.Time) ([]models.ErrorEvent, error)
}

// RecordSource lists cascade prevention records for a range.
type RecordSource interface {
	ListRange(ctx context.Context, start, end time.Time) ([]models.CascadePreventionRecord, error)
}

// HealthReader exposes the live per-layer health snapshot.
type HealthReader interface {
	GetAllLayerHealth() []models.SystemLayerHealth
}

// Settings tunes range aggregation.
type Settings struct {
	AggregationBudget   time.Duration
	CacheTTL            time.Duration
	AnomalyThreshold    float64
	MaxSamplesPerBucket int
	// MaxBuckets caps the step buckets one range may span.
	MaxBuckets int
	Health              engine.HealthSettings
	Detector            string
}

// DefaultSettings mirrors the shipped configuration defaults.
func DefaultSettings() Settings {
	return Settings{
		AggregationBudget:   5 * time.Second,
		CacheTTL:            30 * time.Second,
		AnomalyThreshold:    3,
		MaxSamplesPerBucket: 50,
		MaxBuckets:          10080,
		Health:              engine.DefaultHealthSettings(),
		Detector:            extractors.DetectorMAD,
	}
}

// Aggregator answers range-scoped business analytics from pre-aggregated buckets and an
// optional upstream event source.
type Aggregator struct {
	settings   Settings
	store      *BucketStore
	realtime   *RealtimeTracker
	remote     EventSource
	records    RecordSource
	health     HealthReader
	classifier *engine.Classifier
	miner      *patterns.Miner
	detector   extractors.Detector
	results    *cache.ResultCache
	logger     *slog.Logger
	now        func() time.Time
}

// NewAggregator wires the aggregator. remote, records, miner and results may be nil.
func NewAggregator(
	settings Settings,
	store *BucketStore,
	realtime *RealtimeTracker,
	remote EventSource,
	records RecordSource,
	health HealthReader,
	classifier *engine.Classifier,
	miner *patterns.Miner,
	results *cache.ResultCache,
	logger *slog.Logger,
) *Aggregator {
	defaults := DefaultSettings()
	if settings.AggregationBudget <= 0 {
		settings.AggregationBudget = defaults.AggregationBudget
	}
	if settings.AnomalyThreshold <= 0 {
		settings.AnomalyThreshold = defaults.AnomalyThreshold
	}
	if settings.MaxSamplesPerBucket <= 0 {
		settings.MaxSamplesPerBucket = defaults.MaxSamplesPerBucket
	}
	if settings.MaxBuckets <= 0 {
		settings.MaxBuckets = defaults.MaxBuckets
	}
	if settings.Health.EmergencyThreshold <= 0 {
		settings.Health = defaults.Health
	}
	if classifier == nil {
		classifier = engine.NewClassifier()
	}
	if store == nil {
		store = NewBucketStore(0, 0, settings.MaxSamplesPerBucket, classifier)
	}
	if realtime == nil {
		realtime = NewRealtimeTracker(time.Minute)
	}
	return &Aggregator{
		settings:   settings,
		store:      store,
		realtime:   realtime,
		remote:     remote,
		records:    records,
		health:     health,
		classifier: classifier,
		miner:      miner,
		detector:   extractors.NewDetector(settings.Detector),
		results:    results,
		logger:     utils.LoggerOr(logger),
		now:        time.Now,
	}
}

// Ingest folds one validated event into the bucket store and the realtime window.
func (a *Aggregator) Ingest(ev models.ErrorEvent) bool {
	impact := a.store.Impact(ev)
	a.realtime.Record(ev, impact)
	return a.store.add(ev, impact)
}

// RecordRequests folds request volume into the bucket store.
func (a *Aggregator) RecordRequests(layer models.SystemLayer, count int, at time.Time) {
	a.store.RecordRequests(layer, count, at)
}

// BusinessImpactMetrics reports revenue and customer exposure over r.
func (a *Aggregator) BusinessImpactMetrics(ctx context.Context, r models.AnalyticsTimeRange) (models.BusinessImpactMetrics, error) {
	return runCached(ctx, a, OpBusinessImpact, r, func(m models.BusinessImpactMetrics) bool {
		return len(m.DegradedSources) == 0
	}, a.businessImpact)
}

// SystemHealthMetrics reports per-layer health over r.
func (a *Aggregator) SystemHealthMetrics(ctx context.Context, r models.AnalyticsTimeRange) (models.SystemHealthMetrics, error) {
	return runCached(ctx, a, OpSystemHealth, r, func(m models.SystemHealthMetrics) bool {
		return len(m.DegradedSources) == 0
	}, a.systemHealth)
}

// AnomalyAnalytics flags outlier buckets over r.
func (a *Aggregator) AnomalyAnalytics(ctx context.Context, r models.AnalyticsTimeRange) (models.AnomalyAnalytics, error) {
	return runCached(ctx, a, OpAnomalies, r, func(m models.AnomalyAnalytics) bool {
		return len(m.DegradedSources) == 0
	}, a.anomalies)
}

// PreventionAnalytics reports containment effectiveness over r.
func (a *Aggregator) PreventionAnalytics(ctx context.Context, r models.AnalyticsTimeRange) (models.PreventionAnalytics, error) {
	return runCached(ctx, a, OpPrevention, r, nil, a.prevention)
}

// RealtimeAnalytics answers from the in-memory window and live health. It is never cached.
func (a *Aggregator) RealtimeAnalytics(ctx context.Context) (models.RealtimeAnalytics, error) {
	start := time.Now()
	if err := ctx.Err(); err != nil {
		return models.RealtimeAnalytics{}, err
	}
	snap := a.realtime.Snapshot()
	snap.OverallHealth = models.HealthHealthy
	snap.Layers = make([]models.SystemLayerHealth, 0, len(models.AllLayers()))
	if a.health != nil {
		snap.Layers = append(snap.Layers, a.health.GetAllLayerHealth()...)
	}
	for _, l := range snap.Layers {
		snap.OverallHealth = models.WorstHealth(snap.OverallHealth, l.Health)
	}
	metrics.ObserveAggregation(OpRealtime, time.Since(start), metrics.OutcomeSuccess)
	return snap, nil
}

// DashboardData gathers every section concurrently. A failed section is left nil and listed.
func (a *Aggregator) DashboardData(ctx context.Context, r models.AnalyticsTimeRange) (models.DashboardData, error) {
	const op = "analytics.DashboardData"
	r, err := a.checkRange(op, r)
	if err != nil {
		return models.DashboardData{}, err
	}
	start := time.Now()

	ctx, span := tracer.Start(ctx, op, trace.WithAttributes(attribute.String("granularity", string(r.Granularity))))
	defer span.End()
	ctx, cancel := context.WithTimeout(ctx, a.settings.AggregationBudget)
	defer cancel()

	res := utils.Gather(ctx,
		utils.Source[any]{Name: OpBusinessImpact, Fetch: func(ctx context.Context) (any, error) {
			return a.BusinessImpactMetrics(ctx, r)
		}},
		utils.Source[any]{Name: OpSystemHealth, Fetch: func(ctx context.Context) (any, error) {
			return a.SystemHealthMetrics(ctx, r)
		}},
		utils.Source[any]{Name: OpAnomalies, Fetch: func(ctx context.Context) (any, error) {
			return a.AnomalyAnalytics(ctx, r)
		}},
		utils.Source[any]{Name: OpPrevention, Fetch: func(ctx context.Context) (any, error) {
			return a.PreventionAnalytics(ctx, r)
		}},
		utils.Source[any]{Name: OpRealtime, Fetch: func(ctx context.Context) (any, error) {
			return a.RealtimeAnalytics(ctx)
		}},
	)
	if res.AllFailed() {
		err := utils.NewDependencyError(op, "every dashboard section failed", res.JoinedError())
		span.SetStatus(codes.Error, err.Error())
		metrics.ObserveAggregation(OpDashboard, time.Since(start), metrics.OutcomeError)
		return models.DashboardData{}, err
	}

	out := models.DashboardData{Range: r, GeneratedAt: a.now().UTC()}
	if v, ok := res.Successes[OpBusinessImpact].(models.BusinessImpactMetrics); ok {
		out.BusinessImpact = &v
	}
	if v, ok := res.Successes[OpSystemHealth].(models.SystemHealthMetrics); ok {
		out.SystemHealth = &v
	}
	if v, ok := res.Successes[OpAnomalies].(models.AnomalyAnalytics); ok {
		out.Anomalies = &v
	}
	if v, ok := res.Successes[OpPrevention].(models.PreventionAnalytics); ok {
		out.Prevention = &v
	}
	if v, ok := res.Successes[OpRealtime].(models.RealtimeAnalytics); ok {
		out.Realtime = &v
	}

	outcome := metrics.OutcomeSuccess
	if failed := res.FailedNames(); len(failed) > 0 {
		out.DegradedSections = failed
		outcome = metrics.OutcomePartial
		a.logger.Warn("dashboard answered with degraded sections",
			slog.Any("sections", failed), slog.Any("error", res.JoinedError()))
	}
	span.SetAttributes(attribute.Int("degraded_sections", len(out.DegradedSections)))
	metrics.ObserveAggregation(OpDashboard, time.Since(start), outcome)
	return out, nil
}

// runCached validates and normalises r, then computes under the aggregation budget through
// the result cache. Results with degraded sources are returned but never stored.
func runCached[T any](
	ctx context.Context,
	a *Aggregator,
	name string,
	r models.AnalyticsTimeRange,
	complete func(T) bool,
	compute func(context.Context, models.AnalyticsTimeRange) (T, error),
) (T, error) {
	var zero T
	op := "analytics." + name
	r, err := a.checkRange(op, r)
	if err != nil {
		return zero, err
	}
	start := time.Now()

	ctx, span := tracer.Start(ctx, op, trace.WithAttributes(
		attribute.String("granularity", string(r.Granularity)),
		attribute.String("timezone", r.Timezone),
	))
	defer span.End()

	var (
		value T
		hit   bool
	)
	if a.results != nil {
		value, hit, err = cache.Fetch(ctx, a.results, cache.Request[T]{
			Key:    RangeKey(name, r),
			TTL:    a.settings.CacheTTL,
			Budget: a.settings.AggregationBudget,
			Store:  complete,
		}, func(ctx context.Context) (T, error) {
			return compute(ctx, r)
		})
	} else {
		budgetCtx, cancel := context.WithTimeout(ctx, a.settings.AggregationBudget)
		value, err = compute(budgetCtx, r)
		cancel()
	}

	if err != nil {
		if utils.KindOf(err) == utils.KindInternal && errors.Is(err, context.DeadlineExceeded) {
			err = utils.NewTimeoutError(op, "aggregation budget exceeded", err)
		}
		span.SetStatus(codes.Error, err.Error())
		metrics.ObserveAggregation(name, time.Since(start), metrics.OutcomeError)
		return zero, err
	}

	outcome := metrics.OutcomeSuccess
	if complete != nil && !complete(value) {
		outcome = metrics.OutcomePartial
	}
	span.SetAttributes(attribute.Bool("cached", hit))
	metrics.ObserveAggregation(name, time.Since(start), outcome)
	return value, nil
}

// checkRange validates and normalises r and rejects ranges wider than MaxBuckets steps.
func (a *Aggregator) checkRange(op string, r models.AnalyticsTimeRange) (models.AnalyticsTimeRange, error) {
	if err := r.Validate(); err != nil {
		return r, utils.NewValidationError(op, err.Error())
	}
	r = r.Normalised()
	if n := r.BucketCount(); n > int64(a.settings.MaxBuckets) {
		return r, utils.NewValidationError(op, fmt.Sprintf(
			"time range spans %d %s buckets, limit is %d; use a coarser granularity", n, r.Granularity, a.settings.MaxBuckets))
	}
	return r, nil
}

// RangeKey is the cache key of one range-scoped operation.
func RangeKey(name string, r models.AnalyticsTimeRange) string {
	return fmt.Sprintf("analytics:%s:%d:%d:%s:%s", name, r.Start.Unix(), r.End.Unix(), r.Granularity, r.Timezone)
}

// collect gathers every event source for r and merges them into one series. Sources are
// disjoint. Failed sources are reported by name.
func (a *Aggregator) collect(ctx context.Context, r models.AnalyticsTimeRange) (*Series, []string, error) {
	const op = "analytics.collect"
	sources := []utils.Source[*Series]{{
		Name: sourceLocal,
		Fetch: func(ctx context.Context) (*Series, error) {
			return a.store.Series(ctx, r)
		},
	}}
	if a.remote != nil {
		sources = append(sources, utils.Source[*Series]{
			Name: sourceUpstream,
			Fetch: func(ctx context.Context) (*Series, error) {
				events, err := a.remote.FetchEvents(ctx, r.Start, r.End)
				if err != nil {
					return nil, err
				}
				series, err := newSeries(ctx, r)
				if err != nil {
					return nil, err
				}
				for _, ev := range events {
					if err := ev.Validate(); err != nil {
						continue
					}
					series.addEvent(ev, a.store.Impact(ev), a.settings.MaxSamplesPerBucket)
				}
				return series, nil
			},
		})
	}

	gatherCtx, cancel := context.WithTimeout(ctx, a.settings.AggregationBudget*9/10)
	defer cancel()
	res := utils.Gather(gatherCtx, sources...)
	if res.AllFailed() {
		return nil, nil, utils.NewDependencyError(op, "every analytics source failed", res.JoinedError())
	}

	degraded := res.FailedNames()
	for _, name := range degraded {
		metrics.IncGatherFailure(name)
		a.logger.Warn("analytics source failed", slog.String("source", name), slog.Any("error", res.Failures[name]))
	}

	merged, err := newSeries(ctx, r)
	if err != nil {
		return nil, nil, err
	}
	for _, name := range []string{sourceLocal, sourceUpstream} {
		if s, ok := res.Successes[name]; ok && s != nil {
			merged.merge(s, a.settings.MaxSamplesPerBucket)
		}
	}
	if len(degraded) == 0 {
		degraded = nil
	}
	return merged, degraded, nil
}

func (a *Aggregator) businessImpact(ctx context.Context, r models.AnalyticsTimeRange) (models.BusinessImpactMetrics, error) {
	series, degraded, err := a.collect(ctx, r)
	if err != nil {
		return models.BusinessImpactMetrics{}, err
	}
	totals := series.Totals()

	out := models.BusinessImpactMetrics{
		Range:              r,
		TotalRevenueLoss:   totals.Revenue,
		CustomersAffected:  totals.Customers,
		TotalEvents:        totals.Events,
		SeverityCounts:     severityCounts(totals),
		ImpactDistribution: make(map[string]int, 4),
		PeakImpact:         models.ImpactUnknown,
		ErrorEvents:        topSummaries(totals.Samples, maxErrorEvents),
		DegradedSources:    degraded,
		GeneratedAt:        a.now().UTC(),
	}
	for _, tier := range []models.BusinessImpact{models.ImpactLow, models.ImpactMedium, models.ImpactHigh, models.ImpactCritical} {
		n := totals.Impacts[tier]
		out.ImpactDistribution[tier.String()] = n
		if n > 0 {
			out.PeakImpact = tier
		}
	}
	return out, nil
}

func (a *Aggregator) systemHealth(ctx context.Context, r models.AnalyticsTimeRange) (models.SystemHealthMetrics, error) {
	series, degraded, err := a.collect(ctx, r)
	if err != nil {
		return models.SystemHealthMetrics{}, err
	}
	totals := series.Totals()

	out := models.SystemHealthMetrics{
		Range:           r,
		OverallHealth:   a.rangeHealth(totals.Severity[models.SeverityCritical], totals.Severity[models.SeverityHigh], totals.ErrorRate()),
		Layers:          make([]models.LayerRangeHealth, 0, len(models.AllLayers())),
		TotalEvents:     totals.Events,
		DegradedSources: degraded,
		GeneratedAt:     a.now().UTC(),
	}
	index := make(map[models.SystemLayer]int, len(models.AllLayers()))
	for _, layer := range models.AllLayers() {
		lh := models.LayerRangeHealth{Layer: layer}
		if t, ok := totals.Layers[layer]; ok {
			lh.Events, lh.CriticalEvents, lh.HighEvents = t.Events, t.Critical, t.High
			if t.Requests > 0 {
				lh.ErrorRate = math.Min(1, float64(t.Events)/float64(t.Requests))
			}
		}
		lh.Health = a.rangeHealth(lh.CriticalEvents, lh.HighEvents, lh.ErrorRate)
		index[layer] = len(out.Layers)
		out.Layers = append(out.Layers, lh)
		out.OverallHealth = models.WorstHealth(out.OverallHealth, lh.Health)
	}

	if now := a.now(); a.health != nil && !now.Before(r.Start) && !now.After(r.End) {
		for _, live := range a.health.GetAllLayerHealth() {
			if i, ok := index[live.Layer]; ok {
				out.Layers[i].Health = models.WorstHealth(out.Layers[i].Health, live.Health)
				out.OverallHealth = models.WorstHealth(out.OverallHealth, live.Health)
			}
		}
	}
	return out, nil
}

// rangeHealth derives a level from range counts. A zero rate means no request volume was
// supplied and only the counts apply.
func (a *Aggregator) rangeHealth(critical, high int, rate float64) models.HealthLevel {
	level := models.HealthHealthy
	switch {
	case critical >= 10:
		level = models.HealthEmergency
	case critical >= 3 || high >= 20:
		level = models.HealthCritical
	case critical >= 1 || high >= 5:
		level = models.HealthDegraded
	}
	if rate > 0 {
		level = models.WorstHealth(level, a.settings.Health.LevelFor(rate))
	}
	return level
}

func (a *Aggregator) anomalies(ctx context.Context, r models.AnalyticsTimeRange) (models.AnomalyAnalytics, error) {
	series, degraded, err := a.collect(ctx, r)
	if err != nil {
		return models.AnomalyAnalytics{}, err
	}

	points := make([]extractors.Point, len(series.Buckets))
	nonEmpty := 0
	for i, b := range series.Buckets {
		points[i] = extractors.Point{Timestamp: b.Start, Value: b.ErrorScore()}
		if b.Events > 0 {
			nonEmpty++
		}
	}
	scores := a.detector.Scores(points)
	threshold := a.settings.AnomalyThreshold

	out := models.AnomalyAnalytics{
		Range:             r,
		DetectedAnomalies: make([]models.Anomaly, 0),
		DegradedSources:   degraded,
		GeneratedAt:       a.now().UTC(),
	}
	maxScore := 0.0
	for i, b := range series.Buckets {
		if b.Events == 0 {
			continue
		}
		score := scores[i]
		hasCritical := b.Severity[models.SeverityCritical] > 0
		if score < threshold && !hasCritical {
			continue
		}
		if score < threshold {
			score = threshold
		}
		maxScore = math.Max(maxScore, score)
		severity := a.bucketSeverity(b)
		layer := b.DominantLayer()
		out.DetectedAnomalies = append(out.DetectedAnomalies, models.Anomaly{
			Timestamp:   worstSampleTime(b),
			BucketStart: b.Start,
			Layer:       layer,
			Severity:    severity,
			Score:       score,
			ErrorScore:  b.ErrorScore(),
			Events:      b.Events,
			Description: fmt.Sprintf("%d %s errors in %s bucket starting %s (score %.2f)",
				b.Events, severity, r.Granularity, b.Start.In(r.Location()).Format(time.RFC3339), score),
		})
	}

	if len(out.DetectedAnomalies) > 0 {
		out.AnomalyScore = math.Min(1, maxScore/(2*threshold))
	}
	if nonEmpty > 0 {
		out.ConfidenceLevel = 0.5 + 0.5*math.Min(1, float64(nonEmpty)/24)
	}
	out.Recommendations = recommendations(out.DetectedAnomalies, nonEmpty)
	return out, nil
}

// bucketSeverity is the classifier tier of the bucket's worst severity at its error rate.
func (a *Aggregator) bucketSeverity(b *Bucket) models.Severity {
	worst := b.MaxSeverity()
	impact, _, err := a.classifier.Classify(engine.ImpactInput{Severity: worst, ErrorRate: b.ErrorRate()})
	if err != nil {
		return worst
	}
	return models.SeverityForImpact(impact)
}

func (a *Aggregator) prevention(ctx context.Context, r models.AnalyticsTimeRange) (models.PreventionAnalytics, error) {
	const op = "analytics.PreventionAnalytics"
	out := models.PreventionAnalytics{
		Range:       r,
		ByStrategy:  make(map[models.ContainmentStrategy]int, 3),
		ByImpact:    make(map[string]int, 4),
		Patterns:    make([]models.CascadePattern, 0),
		GeneratedAt: a.now().UTC(),
	}
	for _, s := range []models.ContainmentStrategy{models.StrategyIsolate, models.StrategyThrottle, models.StrategyFailover} {
		out.ByStrategy[s] = 0
	}
	for _, tier := range []models.BusinessImpact{models.ImpactLow, models.ImpactMedium, models.ImpactHigh, models.ImpactCritical} {
		out.ByImpact[tier.String()] = 0
	}
	if a.records == nil {
		return out, nil
	}

	records, err := a.records.ListRange(ctx, r.Start, r.End)
	if err != nil {
		return models.PreventionAnalytics{}, utils.NewDependencyError(op, "audit trail unavailable", err)
	}
	for _, rec := range records {
		out.TotalIncidents++
		switch rec.Outcome {
		case models.OutcomeContained:
			out.Contained++
		case models.OutcomeEscalated:
			out.Escalated++
		}
		if rec.FailSafe {
			out.FailSafe++
		}
		out.PreventedCascades += len(rec.PreventedCascades)
		if rec.ContainmentStrategy != "" {
			out.ByStrategy[rec.ContainmentStrategy]++
		}
		if rec.BusinessImpact.Valid() {
			out.ByImpact[rec.BusinessImpact.String()]++
		}
	}
	if out.TotalIncidents > 0 {
		out.Effectiveness = float64(out.Contained) / float64(out.TotalIncidents)
	}

	if a.miner != nil && len(records) > 0 {
		mined, err := a.miner.Mine(ctx, records)
		if err != nil {
			a.logger.Warn("cascade pattern mining failed", slog.Any("error", err))
		} else {
			out.Patterns = mined
		}
	}
	return out, nil
}

func severityCounts(b *Bucket) map[models.Severity]int {
	out := make(map[models.Severity]int, 4)
	for _, sev := range []models.Severity{models.SeverityLow, models.SeverityMedium, models.SeverityHigh, models.SeverityCritical} {
		out[sev] = b.Severity[sev]
	}
	return out
}

func topSummaries(samples []models.EventSummary, limit int) []models.EventSummary {
	out := append(make([]models.EventSummary, 0, len(samples)), samples...)
	sort.SliceStable(out, func(i, j int) bool { return moreSevere(out[i], out[j]) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}

func worstSampleTime(b *Bucket) time.Time {
	if len(b.Samples) == 0 {
		return b.Start
	}
	worst := b.Samples[0]
	for _, s := range b.Samples[1:] {
		if moreSevere(s, worst) {
			worst = s
		}
	}
	return worst.Timestamp
}

func recommendations(anomalies []models.Anomaly, nonEmpty int) []string {
	out := make([]string, 0)
	seen := make(map[models.SystemLayer]bool)
	for _, an := range anomalies {
		if an.Layer == "" || seen[an.Layer] {
			continue
		}
		seen[an.Layer] = true
		switch an.Severity {
		case models.SeverityCritical:
			out = append(out, fmt.Sprintf("Review containment readiness for the %s layer: critical error bursts were detected", an.Layer))
		case models.SeverityHigh:
			out = append(out, fmt.Sprintf("Investigate elevated %s layer errors before they cascade to dependents", an.Layer))
		default:
			out = append(out, fmt.Sprintf("Track %s layer error volume against its baseline", an.Layer))
		}
	}
	if nonEmpty > 0 && nonEmpty < 6 {
		out = append(out, "Widen the range or lower the granularity: too few populated buckets for a stable baseline")
	}
	return out
}
