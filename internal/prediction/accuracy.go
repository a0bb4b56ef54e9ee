package prediction

import (
	"context"
	"math"

	"github.com/miradorstack/mirador-resilience/internal/models"
	"github.com/miradorstack/mirador-resilience/internal/utils"
)

// ValidatePredictionAccuracy scores the ensemble against observed outcomes.
func (e *Engine) ValidatePredictionAccuracy(ctx context.Context, samples []models.AccuracySample) (models.AccuracyMetrics, error) {
	const op = "prediction.ValidatePredictionAccuracy"
	if len(samples) == 0 {
		return models.AccuracyMetrics{}, utils.NewValidationError(op, "at least one accuracy sample is required")
	}
	for _, s := range samples {
		if s.ActualErrorCount < 0 || s.ActualErrorRate < 0 || s.ActualErrorRate > 1 {
			return models.AccuracyMetrics{}, utils.NewValidationError(op, "actual outcomes must be non-negative and rates within [0,1]")
		}
	}

	contexts := make([]models.PredictionContext, len(samples))
	for i, s := range samples {
		contexts[i] = s.Context
	}
	predictions, err := e.GenerateBatchPredictions(ctx, contexts)
	if err != nil {
		return models.AccuracyMetrics{}, err
	}

	var absSum, sqSum, pctSum, rateAbsSum, actualSum, confSum float64
	pctSamples := 0
	for i, s := range samples {
		p := predictions[i]
		diff := p.ErrorCount.Predicted - s.ActualErrorCount
		absSum += math.Abs(diff)
		sqSum += diff * diff
		if s.ActualErrorCount > 0 {
			pctSum += math.Abs(diff) / s.ActualErrorCount
			pctSamples++
		}
		rateAbsSum += math.Abs(p.ErrorRate.Predicted - s.ActualErrorRate)
		actualSum += s.ActualErrorCount
		confSum += p.ErrorCount.ConfidenceScore
	}

	n := float64(len(samples))
	m := models.AccuracyMetrics{
		Samples:               len(samples),
		MeanAbsoluteError:     absSum / n,
		RootMeanSquaredError:  math.Sqrt(sqSum / n),
		RateMeanAbsoluteError: rateAbsSum / n,
		MeanConfidence:        confSum / n,
	}
	if pctSamples > 0 {
		m.MeanAbsolutePercentageError = 100 * pctSum / float64(pctSamples)
	}
	switch meanActual := actualSum / n; {
	case meanActual > 0:
		m.Accuracy = math.Max(0, 1-m.MeanAbsoluteError/meanActual)
	case m.MeanAbsoluteError == 0:
		m.Accuracy = 1
	}
	return m, nil
}
