package prediction

import (
	"context"
	"encoding/json"
	"math"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/miradorstack/mirador-resilience/internal/cache"
	"github.com/miradorstack/mirador-resilience/internal/models"
	"github.com/miradorstack/mirador-resilience/internal/utils"
)

var base = time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

func sampleContext() models.PredictionContext {
	history := make([]models.HistoricalPoint, 24)
	for i := range history {
		history[i] = models.HistoricalPoint{
			Timestamp:    base.Add(time.Duration(i-24) * time.Minute),
			ErrorCount:   float64(8 + i%3),
			RequestCount: 1000,
		}
	}
	return models.PredictionContext{
		RequestID:        "req-1",
		PredictionWindow: models.Window{Start: base, End: base.Add(15 * time.Minute)},
		Layer:            models.LayerAPI,
		Features: map[string]float64{
			FeatureErrorRate:      0.01,
			FeatureRequestRate:    1000,
			FeatureCPUUtilization: 0.4,
		},
		HistoricalData: history,
	}
}

type countingEstimator struct {
	calls atomic.Int64
	delay time.Duration
}

func (c *countingEstimator) Name() string { return "counting" }

func (c *countingEstimator) Estimate(ctx context.Context, s Series) (Estimate, error) {
	c.calls.Add(1)
	if c.delay > 0 {
		select {
		case <-time.After(c.delay):
		case <-ctx.Done():
			return Estimate{}, ctx.Err()
		}
	}
	return Estimate{ErrorCount: 5 * s.Intervals, ErrorRate: 0.005, Confidence: 0.9}, nil
}

func newTestEngine(t *testing.T, estimators ...Estimator) (*Engine, *cache.MemoryProvider) {
	t.Helper()
	shared := cache.NewMemoryProvider(64)
	results := cache.NewResultCache(nil, shared, nil)
	return NewEngine(DefaultSettings(), nil, results, nil, estimators...), shared
}

func TestPredictionContributionsSumToOne(t *testing.T) {
	eng, _ := newTestEngine(t)

	res, err := eng.GeneratePrediction(context.Background(), sampleContext())
	require.NoError(t, err)

	var sum float64
	for _, share := range res.ModelContributions {
		sum += share
	}
	assert.InDelta(t, 1.0, sum, 0.01)
	assert.Len(t, res.ModelContributions, 3)
	assert.Less(t, res.ExecutionTime, 100*time.Millisecond)
	assert.NotEmpty(t, res.PredictionID)
	assert.Greater(t, res.ErrorCount.Predicted, 0.0)
	assert.GreaterOrEqual(t, res.ErrorCount.ConfidenceScore, 0.0)
	assert.LessOrEqual(t, res.ErrorCount.ConfidenceScore, 1.0)
	assert.InDelta(t, 1.0, res.DataQuality, 1e-9)
}

func TestBusinessContextIsMonotonic(t *testing.T) {
	eng, _ := newTestEngine(t)
	ctx := context.Background()

	plain := sampleContext()
	flagged := sampleContext()
	flagged.BusinessContext = models.BusinessContext{CriticalPeriod: true, CampaignActive: true, HighTrafficExpected: true}

	a, err := eng.GeneratePrediction(ctx, plain)
	require.NoError(t, err)
	b, err := eng.GeneratePrediction(ctx, flagged)
	require.NoError(t, err)

	assert.Greater(t, b.BusinessImpact.RevenueAtRisk, a.BusinessImpact.RevenueAtRisk)
	assert.GreaterOrEqual(t, b.BusinessImpact.CustomersAffected, a.BusinessImpact.CustomersAffected)
	assert.GreaterOrEqual(t, b.BusinessImpact.Score, a.BusinessImpact.Score)
	assert.InDelta(t, a.ErrorCount.Predicted, b.ErrorCount.Predicted, 1e-9)

	for _, flag := range []models.BusinessContext{{CriticalPeriod: true}, {CampaignActive: true}, {HighTrafficExpected: true}} {
		pc := sampleContext()
		pc.BusinessContext = flag
		res, err := eng.GeneratePrediction(ctx, pc)
		require.NoError(t, err)
		assert.GreaterOrEqual(t, res.BusinessImpact.RevenueAtRisk, a.BusinessImpact.RevenueAtRisk)
	}
}

func TestMaintenanceInflatesErrorCount(t *testing.T) {
	eng, _ := newTestEngine(t)
	plain, err := eng.GeneratePrediction(context.Background(), sampleContext())
	require.NoError(t, err)

	pc := sampleContext()
	pc.BusinessContext.MaintenanceScheduled = true
	res, err := eng.GeneratePrediction(context.Background(), pc)
	require.NoError(t, err)
	assert.InDelta(t, plain.ErrorCount.Predicted*1.1, res.ErrorCount.Predicted, 1e-6)
}

func TestEmptyHistoryDegradesQualityNotError(t *testing.T) {
	eng, _ := newTestEngine(t)
	pc := sampleContext()
	pc.HistoricalData = nil

	res, err := eng.GeneratePrediction(context.Background(), pc)
	require.NoError(t, err)
	assert.Zero(t, res.DataQuality)
	assert.Equal(t, models.TrendStable, res.ErrorCount.Trend)
}

func TestPredictionInputValidation(t *testing.T) {
	eng, _ := newTestEngine(t)

	noFeatures := sampleContext()
	noFeatures.Features = nil
	inverted := sampleContext()
	inverted.PredictionWindow = models.Window{Start: base, End: base}
	badLayer := sampleContext()
	badLayer.Layer = "mainframe"
	nan := sampleContext()
	nan.Features["cpu_utilization"] = math.NaN()

	for name, pc := range map[string]models.PredictionContext{
		"no features": noFeatures,
		"inverted":    inverted,
		"bad layer":   badLayer,
		"nan feature": nan,
	} {
		_, err := eng.GeneratePrediction(context.Background(), pc)
		require.Error(t, err, name)
		assert.True(t, utils.IsKind(err, utils.KindInvalidPrediction), name)
	}
}

func TestSingleEstimatorIsConfigurationError(t *testing.T) {
	settings := DefaultSettings()
	settings.Estimators = []string{EstimatorEWMA, "prophet"}
	eng := NewEngine(settings, nil, nil, nil)

	_, err := eng.GeneratePrediction(context.Background(), sampleContext())
	require.Error(t, err)
	assert.True(t, utils.IsKind(err, utils.KindConfiguration))
	assert.Equal(t, []string{EstimatorEWMA}, eng.ActiveEstimators())
}

func TestIdenticalContextsHitCache(t *testing.T) {
	counter := &countingEstimator{}
	eng, _ := newTestEngine(t, counter, EWMA{})

	first, err := eng.GeneratePrediction(context.Background(), sampleContext())
	require.NoError(t, err)
	assert.False(t, first.Cached)

	again := sampleContext()
	again.RequestID = "req-2"
	second, err := eng.GeneratePrediction(context.Background(), again)
	require.NoError(t, err)

	assert.True(t, second.Cached)
	assert.NotEqual(t, first.PredictionID, second.PredictionID)
	assert.Equal(t, first.ErrorCount, second.ErrorCount)
	assert.Equal(t, int64(1), counter.calls.Load())
	assert.LessOrEqual(t, second.ExecutionTime, first.ExecutionTime+5*time.Millisecond)
}

func TestConcurrentIdenticalPredictionsComputeOnce(t *testing.T) {
	counter := &countingEstimator{delay: 10 * time.Millisecond}
	eng, _ := newTestEngine(t, counter, EWMA{})

	var wg sync.WaitGroup
	results := make([]models.ErrorPredictionResult, 10)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := eng.GeneratePrediction(context.Background(), sampleContext())
			assert.NoError(t, err)
			results[i] = res
		}(i)
	}
	wg.Wait()

	assert.LessOrEqual(t, counter.calls.Load(), int64(2))
	for _, res := range results[1:] {
		assert.InDelta(t, results[0].BusinessImpact.RevenueAtRisk, res.BusinessImpact.RevenueAtRisk, 1e-9)
	}
}

func TestLatencyBudgetTimesOutWithoutCaching(t *testing.T) {
	slow := &countingEstimator{delay: 500 * time.Millisecond}
	settings := DefaultSettings()
	settings.LatencyBudget = 20 * time.Millisecond
	shared := cache.NewMemoryProvider(8)
	eng := NewEngine(settings, nil, cache.NewResultCache(nil, shared, nil), nil, slow, EWMA{})

	_, err := eng.GeneratePrediction(context.Background(), sampleContext())
	require.Error(t, err)
	assert.True(t, utils.IsKind(err, utils.KindTimeout))

	time.Sleep(60 * time.Millisecond)
	assert.Zero(t, shared.Len())
}

func TestPredictionNeverEchoesIdentity(t *testing.T) {
	eng, _ := newTestEngine(t)
	pc := sampleContext()
	pc.Features["user_email"] = 1
	pc.Features["alice@example.com"] = 2
	pc.Features["customer_id"] = 987654321
	pc.Features["+1 555 010 9999"] = 3

	res, err := eng.GeneratePrediction(context.Background(), pc)
	require.NoError(t, err)
	raw, err := json.Marshal(res)
	require.NoError(t, err)

	for _, sentinel := range []string{"user_email", "alice@example.com", "customer_id", "987654321", "555 010 9999"} {
		assert.False(t, strings.Contains(string(raw), sentinel), sentinel)
	}
	assert.Contains(t, res.FeatureImportance, FeatureCPUUtilization)
}

func TestBatchDeduplicatesAndKeepsOrder(t *testing.T) {
	counter := &countingEstimator{}
	eng, _ := newTestEngine(t, counter, EWMA{})

	other := sampleContext()
	other.Layer = models.LayerDataAccess
	third := sampleContext()
	third.Layer = models.LayerSecurity
	batch := []models.PredictionContext{sampleContext(), other, sampleContext(), third, other}

	out, err := eng.GenerateBatchPredictions(context.Background(), batch)
	require.NoError(t, err)
	require.Len(t, out, 5)
	assert.Equal(t, int64(3), counter.calls.Load())

	ids := map[string]bool{}
	for i, res := range out {
		assert.Equal(t, batch[i].Layer, res.Layer)
		ids[res.PredictionID] = true
	}
	assert.Len(t, ids, 5)
}

func TestBatchFailsWholeOnInvalidContext(t *testing.T) {
	counter := &countingEstimator{}
	eng, _ := newTestEngine(t, counter, EWMA{})

	bad := sampleContext()
	bad.Features = map[string]float64{}
	_, err := eng.GenerateBatchPredictions(context.Background(), []models.PredictionContext{sampleContext(), sampleContext(), bad})
	require.Error(t, err)
	assert.True(t, utils.IsKind(err, utils.KindInvalidPrediction))
	assert.Contains(t, err.Error(), "context 2")
	assert.Zero(t, counter.calls.Load())
}

func TestBatchCancellationDiscardsResults(t *testing.T) {
	eng, _ := newTestEngine(t, &countingEstimator{delay: 50 * time.Millisecond}, EWMA{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	out, err := eng.GenerateBatchPredictions(ctx, []models.PredictionContext{sampleContext()})
	require.Error(t, err)
	assert.Nil(t, out)
}

func TestValidatePredictionAccuracy(t *testing.T) {
	eng, _ := newTestEngine(t)

	_, err := eng.ValidatePredictionAccuracy(context.Background(), nil)
	assert.True(t, utils.IsKind(err, utils.KindValidation))

	pred, err := eng.GeneratePrediction(context.Background(), sampleContext())
	require.NoError(t, err)

	m, err := eng.ValidatePredictionAccuracy(context.Background(), []models.AccuracySample{{
		Context:          sampleContext(),
		ActualErrorCount: pred.ErrorCount.Predicted,
		ActualErrorRate:  pred.ErrorRate.Predicted,
	}})
	require.NoError(t, err)
	assert.Equal(t, 1, m.Samples)
	assert.InDelta(t, 0, m.MeanAbsoluteError, 1e-9)
	assert.InDelta(t, 1, m.Accuracy, 1e-9)
}

func TestCacheKeyIgnoresRequestIDAndZone(t *testing.T) {
	a := sampleContext()
	b := sampleContext()
	b.RequestID = "other"
	loc := time.FixedZone("UTC+2", 2*3600)
	b.PredictionWindow.Start = b.PredictionWindow.Start.In(loc)

	ka, err := CacheKey(a)
	require.NoError(t, err)
	kb, err := CacheKey(b)
	require.NoError(t, err)
	assert.Equal(t, ka, kb)

	b.Features[FeatureCPUUtilization] = 0.9
	kc, _ := CacheKey(b)
	assert.NotEqual(t, ka, kc)
}
