package prediction

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/miradorstack/mirador-resilience/internal/cache"
	"github.com/miradorstack/mirador-resilience/internal/engine"
	"github.com/miradorstack/mirador-resilience/internal/models"
	"github.com/miradorstack/mirador-resilience/internal/utils"
)

var tracer = otel.Tracer("github.com/miradorstack/mirador-resilience/internal/prediction")

// Settings tunes the ensemble.
type Settings struct {
	LatencyBudget     time.Duration
	CacheTTL          time.Duration
	Estimators        []string
	Weights           map[string]float64
	RevenuePerError   float64
	CustomersPerError float64
	BatchConcurrency  int
	Health            engine.HealthSettings
}

// DefaultSettings mirrors the shipped configuration defaults.
func DefaultSettings() Settings {
	return Settings{
		LatencyBudget: 100 * time.Millisecond,
		CacheTTL:      time.Minute,
		Estimators:    []string{EstimatorEWMA, EstimatorLinearTrend, EstimatorThresholdRules},
		Weights: map[string]float64{
			EstimatorEWMA:           0.4,
			EstimatorLinearTrend:    0.35,
			EstimatorThresholdRules: 0.25,
		},
		RevenuePerError:   25,
		CustomersPerError: 0.3,
		BatchConcurrency:  8,
		Health:            engine.DefaultHealthSettings(),
	}
}

type weightedEstimator struct {
	est    Estimator
	weight float64
}

// Engine blends several estimators into one prediction per context.
type Engine struct {
	settings   Settings
	estimators []weightedEstimator
	classifier *engine.Classifier
	results    *cache.ResultCache
	logger     *slog.Logger
	now        func() time.Time
	newID      func() string
}

// NewEngine builds an engine. When no estimators are passed the configured built-ins are used;
// unknown names and non-positive weights deactivate an estimator.
func NewEngine(settings Settings, classifier *engine.Classifier, results *cache.ResultCache, logger *slog.Logger, estimators ...Estimator) *Engine {
	logger = utils.LoggerOr(logger)
	defaults := DefaultSettings()
	if settings.LatencyBudget <= 0 {
		settings.LatencyBudget = defaults.LatencyBudget
	}
	if settings.BatchConcurrency <= 0 {
		settings.BatchConcurrency = defaults.BatchConcurrency
	}
	if settings.Health.EmergencyThreshold <= 0 {
		settings.Health = defaults.Health
	}
	if classifier == nil {
		classifier = engine.NewClassifier()
	}

	if len(estimators) == 0 {
		for _, name := range settings.Estimators {
			est, ok := BuiltinEstimator(name)
			if !ok {
				logger.Warn("unknown estimator ignored", slog.String("estimator", name))
				continue
			}
			estimators = append(estimators, est)
		}
	}

	var active []weightedEstimator
	for _, est := range estimators {
		weight, ok := settings.Weights[est.Name()]
		if !ok {
			weight = 1
		}
		if weight <= 0 {
			logger.Info("estimator disabled by weight", slog.String("estimator", est.Name()))
			continue
		}
		active = append(active, weightedEstimator{est: est, weight: weight})
	}

	return &Engine{
		settings:   settings,
		estimators: active,
		classifier: classifier,
		results:    results,
		logger:     logger,
		now:        time.Now,
		newID:      uuid.NewString,
	}
}

// ActiveEstimators lists the estimators that take part in the ensemble.
func (e *Engine) ActiveEstimators() []string {
	names := make([]string, 0, len(e.estimators))
	for _, w := range e.estimators {
		names = append(names, w.est.Name())
	}
	return names
}

// GeneratePrediction forecasts error volume, rate, impact and health for one context within
// the latency budget. Identical contexts inside the cache TTL are answered from cache.
func (e *Engine) GeneratePrediction(ctx context.Context, pc models.PredictionContext) (models.ErrorPredictionResult, error) {
	const op = "prediction.GeneratePrediction"
	ctx, span := tracer.Start(ctx, op, trace.WithAttributes(attribute.String("layer", string(pc.Layer))))
	defer span.End()
	start := e.now()

	res, hit, err := e.generate(ctx, pc)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return models.ErrorPredictionResult{}, err
	}
	res.PredictionID = e.newID()
	res.Cached = hit
	res.ExecutionTime = e.now().Sub(start)
	span.SetAttributes(attribute.Bool("cached", hit), attribute.Float64("data_quality", res.DataQuality))
	return res, nil
}

func (e *Engine) generate(ctx context.Context, pc models.PredictionContext) (models.ErrorPredictionResult, bool, error) {
	const op = "prediction.GeneratePrediction"
	if err := validateContext(pc); err != nil {
		return models.ErrorPredictionResult{}, false, utils.NewInvalidPredictionError(op, err.Error())
	}
	if len(e.estimators) < 2 {
		return models.ErrorPredictionResult{}, false, utils.NewConfigurationError(op,
			fmt.Sprintf("at least two active estimators are required, %d configured", len(e.estimators)))
	}
	key, err := CacheKey(pc)
	if err != nil {
		return models.ErrorPredictionResult{}, false, utils.NewAppError(op, "derive cache key", err)
	}

	budgetCtx, cancel := context.WithTimeout(ctx, e.settings.LatencyBudget)
	defer cancel()

	var (
		res models.ErrorPredictionResult
		hit bool
	)
	compute := func(ctx context.Context) (models.ErrorPredictionResult, error) { return e.compute(ctx, pc) }
	if e.results != nil {
		res, hit, err = cache.Fetch(budgetCtx, e.results, cache.Request[models.ErrorPredictionResult]{
			Key:    key,
			TTL:    e.settings.CacheTTL,
			Budget: e.settings.LatencyBudget,
		}, compute)
	} else {
		res, err = compute(budgetCtx)
	}
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return models.ErrorPredictionResult{}, false, utils.NewTimeoutError(op,
				fmt.Sprintf("prediction exceeded the %s latency budget", e.settings.LatencyBudget), err)
		}
		if errors.Is(err, context.Canceled) {
			return models.ErrorPredictionResult{}, false, fmt.Errorf("%s: %w", op, err)
		}
		return models.ErrorPredictionResult{}, false, err
	}
	return res, hit, nil
}

// GenerateBatchPredictions validates every context before doing any work; one invalid
// context fails the whole batch. Identical contexts are computed once.
func (e *Engine) GenerateBatchPredictions(ctx context.Context, contexts []models.PredictionContext) ([]models.ErrorPredictionResult, error) {
	const op = "prediction.GenerateBatchPredictions"
	ctx, span := tracer.Start(ctx, op, trace.WithAttributes(attribute.Int("contexts", len(contexts))))
	defer span.End()

	if len(contexts) == 0 {
		return nil, utils.NewInvalidPredictionError(op, "at least one prediction context is required")
	}
	keys := make([]string, len(contexts))
	slot := make(map[string]int)
	var unique []int
	for i, pc := range contexts {
		if err := validateContext(pc); err != nil {
			return nil, utils.NewInvalidPredictionError(op, fmt.Sprintf("context %d: %v", i, err))
		}
		key, err := CacheKey(pc)
		if err != nil {
			return nil, utils.NewAppError(op, "derive cache key", err)
		}
		keys[i] = key
		if _, ok := slot[key]; !ok {
			slot[key] = len(unique)
			unique = append(unique, i)
		}
	}

	computed := make([]models.ErrorPredictionResult, len(unique))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.settings.BatchConcurrency)
	for j, idx := range unique {
		j := j
		pc := contexts[idx]
		g.Go(func() error {
			res, err := e.GeneratePrediction(gctx, pc)
			if err != nil {
				return err
			}
			computed[j] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	out := make([]models.ErrorPredictionResult, len(contexts))
	used := make(map[string]bool, len(unique))
	for i, key := range keys {
		res := computed[slot[key]].Clone()
		if used[key] {
			res.PredictionID = e.newID()
		}
		used[key] = true
		out[i] = res
	}
	span.SetAttributes(attribute.Int("unique_contexts", len(unique)))
	return out, nil
}

// CacheKey is the SHA-256 of the canonical JSON of pc without volatile fields.
func CacheKey(pc models.PredictionContext) (string, error) {
	canonical := pc
	canonical.RequestID = ""
	canonical.PredictionWindow = models.Window{Start: pc.PredictionWindow.Start.UTC(), End: pc.PredictionWindow.End.UTC()}
	canonical.HistoricalData = make([]models.HistoricalPoint, len(pc.HistoricalData))
	for i, p := range pc.HistoricalData {
		p.Timestamp = p.Timestamp.UTC()
		canonical.HistoricalData[i] = p
	}
	data, err := json.Marshal(canonical)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(data)
	return "prediction:" + hex.EncodeToString(sum[:]), nil
}

func validateContext(pc models.PredictionContext) error {
	if len(pc.Features) == 0 {
		return errors.New("features must not be empty")
	}
	for name, v := range pc.Features {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("feature %q is not a finite number", utils.SafeLabel(name))
		}
	}
	w := pc.PredictionWindow
	if w.Start.IsZero() || w.End.IsZero() {
		return errors.New("prediction window start and end are required")
	}
	if !w.Start.Before(w.End) {
		return errors.New("prediction window start must be before end")
	}
	if _, err := models.ParseSystemLayer(string(pc.Layer)); err != nil {
		return err
	}
	for i, p := range pc.HistoricalData {
		if p.ErrorCount < 0 || p.RequestCount < 0 || math.IsNaN(p.ErrorCount) || math.IsNaN(p.RequestCount) {
			return fmt.Errorf("historical point %d has a negative or undefined count", i)
		}
	}
	return nil
}

type contribution struct {
	name     string
	weight   float64
	estimate Estimate
}

func (e *Engine) compute(ctx context.Context, pc models.PredictionContext) (models.ErrorPredictionResult, error) {
	const op = "prediction.compute"
	series, interval := buildSeries(pc)
	if len(pc.HistoricalData) == 0 {
		e.logger.Info("no historical data, prediction quality degraded", slog.String("layer", string(pc.Layer)))
	}

	var parts []contribution
	for _, w := range e.estimators {
		if err := ctx.Err(); err != nil {
			return models.ErrorPredictionResult{}, err
		}
		est, err := w.est.Estimate(ctx, series)
		if err != nil {
			e.logger.Warn("estimator failed", slog.String("estimator", w.est.Name()), slog.Any("error", err))
			continue
		}
		parts = append(parts, contribution{name: w.est.Name(), weight: w.weight, estimate: est})
	}
	if err := ctx.Err(); err != nil {
		return models.ErrorPredictionResult{}, err
	}
	if len(parts) == 0 {
		return models.ErrorPredictionResult{}, utils.NewDependencyError(op, "every estimator failed", nil)
	}

	shares, count, rate, confidence := blend(parts)
	bc := pc.BusinessContext
	if bc.MaintenanceScheduled {
		count *= 1.1
	}

	countTrend := trendOf(count, recentMean(series.Counts)*series.Intervals, len(series.Counts))
	rateTrend := trendOf(rate, recentMean(series.Rates), len(series.Rates))

	multiplier := ImpactMultiplier(bc)
	customers := int(math.Ceil(count * e.settings.CustomersPerError * multiplier))
	level := e.settings.Health.LevelFor(rate)
	score, err := e.classifier.Score(engine.ImpactInput{
		Severity:          models.SeverityForImpact(models.ImpactForHealth(level)),
		ErrorRate:         rate,
		AffectedCustomers: customers,
	})
	if err != nil {
		return models.ErrorPredictionResult{}, err
	}
	score = math.Min(100, score+(multiplier-1)*10)

	healthScore := 100 * (1 - math.Min(1, rate/e.settings.Health.EmergencyThreshold))

	e.logger.Debug("prediction computed",
		slog.String("layer", string(pc.Layer)),
		slog.Duration("interval", interval),
		slog.Float64("horizon_intervals", series.Intervals),
		slog.Int("estimators", len(parts)))

	return models.ErrorPredictionResult{
		Layer:            pc.Layer,
		PredictionWindow: pc.PredictionWindow,
		ErrorCount:       models.ValuePrediction{Predicted: count, ConfidenceScore: confidence, Trend: countTrend},
		ErrorRate:        models.ValuePrediction{Predicted: rate, ConfidenceScore: confidence, Trend: rateTrend},
		BusinessImpact: models.ImpactPrediction{
			Tier:              engine.TierForScore(score),
			Score:             score,
			RevenueAtRisk:     count * e.settings.RevenuePerError * multiplier,
			CustomersAffected: customers,
			ConfidenceScore:   confidence,
			Trend:             countTrend,
		},
		SystemHealth: models.HealthPrediction{
			Level:           level,
			Score:           healthScore,
			ConfidenceScore: confidence,
			Trend:           invertTrend(rateTrend),
		},
		ModelContributions: shares,
		FeatureImportance:  featureImportance(pc.Features),
		DataQuality:        dataQuality(pc.HistoricalData),
		GeneratedAt:        e.now().UTC(),
	}, nil
}

// blend weights each estimate by weight*confidence. Contributions sum to 1; the blended
// confidence is the weight-normalised mean of the estimator confidences.
func blend(parts []contribution) (map[string]float64, float64, float64, float64) {
	var total, weights, confidence float64
	for _, p := range parts {
		total += p.weight * p.estimate.Confidence
		weights += p.weight
		confidence += p.weight * p.estimate.Confidence
	}
	shares := make(map[string]float64, len(parts))
	var count, rate float64
	for _, p := range parts {
		share := 1 / float64(len(parts))
		if total > 0 {
			share = p.weight * p.estimate.Confidence / total
		}
		shares[p.name] += share
		count += share * p.estimate.ErrorCount
		rate += share * p.estimate.ErrorRate
	}
	return shares, math.Max(0, count), clamp01(rate), clamp01(confidence / weights)
}

// ImpactMultiplier scales exposure for the business calendar.
func ImpactMultiplier(bc models.BusinessContext) float64 {
	m := 1.0
	if bc.CriticalPeriod {
		m += 0.5
	}
	if bc.CampaignActive {
		m += 0.3
	}
	if bc.HighTrafficExpected {
		m += 0.2
	}
	return m
}

func buildSeries(pc models.PredictionContext) (Series, time.Duration) {
	points := append([]models.HistoricalPoint(nil), pc.HistoricalData...)
	sort.SliceStable(points, func(i, j int) bool { return points[i].Timestamp.Before(points[j].Timestamp) })

	s := Series{Features: utils.SafeFeatures(pc.Features)}
	for _, p := range points {
		s.Counts = append(s.Counts, p.ErrorCount)
		s.Requests = append(s.Requests, p.RequestCount)
		rate := 0.0
		if p.RequestCount > 0 {
			rate = p.ErrorCount / math.Max(p.RequestCount, p.ErrorCount)
		}
		s.Rates = append(s.Rates, rate)
	}

	interval := historyInterval(points)
	s.Intervals = math.Max(1, float64(pc.PredictionWindow.End.Sub(pc.PredictionWindow.Start))/float64(interval))
	return s, interval
}

// historyInterval is the median spacing of the history, or one minute.
func historyInterval(points []models.HistoricalPoint) time.Duration {
	if len(points) < 2 {
		return time.Minute
	}
	gaps := make([]time.Duration, 0, len(points)-1)
	for i := 1; i < len(points); i++ {
		if gap := points[i].Timestamp.Sub(points[i-1].Timestamp); gap > 0 {
			gaps = append(gaps, gap)
		}
	}
	if len(gaps) == 0 {
		return time.Minute
	}
	sort.Slice(gaps, func(i, j int) bool { return gaps[i] < gaps[j] })
	return gaps[len(gaps)/2]
}

func recentMean(xs []float64) float64 {
	if len(xs) > 5 {
		xs = xs[len(xs)-5:]
	}
	return mean(xs)
}

func trendOf(predicted, baseline float64, points int) models.Trend {
	if points == 0 {
		return models.TrendStable
	}
	if baseline == 0 {
		if predicted > 0 {
			return models.TrendIncreasing
		}
		return models.TrendStable
	}
	change := (predicted - baseline) / baseline
	switch {
	case change > 0.1:
		return models.TrendIncreasing
	case change < -0.1:
		return models.TrendDecreasing
	default:
		return models.TrendStable
	}
}

func invertTrend(t models.Trend) models.Trend {
	switch t {
	case models.TrendIncreasing:
		return models.TrendDecreasing
	case models.TrendDecreasing:
		return models.TrendIncreasing
	default:
		return models.TrendStable
	}
}

// dataQuality is 0 without history and grows with length and request-volume completeness.
func dataQuality(points []models.HistoricalPoint) float64 {
	if len(points) == 0 {
		return 0
	}
	complete := 0
	for _, p := range points {
		if p.RequestCount > 0 {
			complete++
		}
	}
	completeness := float64(complete) / float64(len(points))
	return dataFactor(len(points)) * (0.5 + 0.5*completeness)
}

// featureImportance normalises absolute feature magnitudes over identity-free keys only.
func featureImportance(features map[string]float64) map[string]float64 {
	safe := utils.SafeFeatures(features)
	if len(safe) == 0 {
		return nil
	}
	var total float64
	for _, v := range safe {
		total += math.Abs(v)
	}
	out := make(map[string]float64, len(safe))
	for k, v := range safe {
		if total == 0 {
			out[k] = 1 / float64(len(safe))
			continue
		}
		out[k] = math.Abs(v) / total
	}
	return out
}
