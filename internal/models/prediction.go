package models

import "time"

// Window bounds a prediction horizon.
type Window struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// HistoricalPoint is one observation of request and error volume.
type HistoricalPoint struct {
	Timestamp    time.Time `json:"timestamp"`
	ErrorCount   float64   `json:"errorCount"`
	RequestCount float64   `json:"requestCount"`
}

// BusinessContext carries calendar signals that scale predicted impact.
type BusinessContext struct {
	CampaignActive       bool `json:"campaignActive"`
	MaintenanceScheduled bool `json:"maintenanceScheduled"`
	HighTrafficExpected  bool `json:"highTrafficExpected"`
	CriticalPeriod       bool `json:"criticalPeriod"`
}

// PredictionContext is the per-request input bundle for the prediction engine.
type PredictionContext struct {
	// RequestID is volatile and never part of the cache key.
	RequestID        string             `json:"requestId,omitempty"`
	PredictionWindow Window             `json:"predictionWindow"`
	Layer            SystemLayer        `json:"systemLayer"`
	Features         map[string]float64 `json:"features"`
	HistoricalData   []HistoricalPoint  `json:"historicalData"`
	BusinessContext  BusinessContext    `json:"businessContext"`
}

// Trend is the direction of a forecast relative to recent history.
type Trend string

const (
	TrendIncreasing Trend = "increasing"
	TrendStable     Trend = "stable"
	TrendDecreasing Trend = "decreasing"
)

// ValuePrediction is a numeric forecast.
type ValuePrediction struct {
	Predicted       float64 `json:"predicted"`
	ConfidenceScore float64 `json:"confidenceScore"`
	Trend           Trend   `json:"trend"`
}

// ImpactPrediction forecasts business exposure.
type ImpactPrediction struct {
	Tier              BusinessImpact `json:"tier"`
	Score             float64        `json:"score"`
	RevenueAtRisk     float64        `json:"revenueAtRisk"`
	CustomersAffected int            `json:"customersAffected"`
	ConfidenceScore   float64        `json:"confidenceScore"`
	Trend             Trend          `json:"trend"`
}

// HealthPrediction forecasts layer health.
type HealthPrediction struct {
	Level           HealthLevel `json:"level"`
	Score           float64     `json:"score"`
	ConfidenceScore float64     `json:"confidenceScore"`
	Trend           Trend       `json:"trend"`
}

// ErrorPredictionResult is the ensemble output for one PredictionContext.
type ErrorPredictionResult struct {
	PredictionID       string             `json:"predictionId"`
	Layer              SystemLayer        `json:"systemLayer"`
	PredictionWindow   Window             `json:"predictionWindow"`
	ErrorCount         ValuePrediction    `json:"errorCount"`
	ErrorRate          ValuePrediction    `json:"errorRate"`
	BusinessImpact     ImpactPrediction   `json:"businessImpact"`
	SystemHealth       HealthPrediction   `json:"systemHealth"`
	ModelContributions map[string]float64 `json:"modelContributions"`
	FeatureImportance  map[string]float64 `json:"featureImportance,omitempty"`
	DataQuality        float64            `json:"dataQuality"`
	ExecutionTime      time.Duration      `json:"executionTime"`
	Cached             bool               `json:"cached"`
	GeneratedAt        time.Time          `json:"generatedAt"`
}

// Clone returns a deep copy so cached results are never shared.
func (r ErrorPredictionResult) Clone() ErrorPredictionResult {
	out := r
	out.ModelContributions = copyFloatMap(r.ModelContributions)
	out.FeatureImportance = copyFloatMap(r.FeatureImportance)
	return out
}

// AccuracySample pairs a context with observed outcomes.
type AccuracySample struct {
	Context          PredictionContext `json:"context"`
	ActualErrorCount float64           `json:"actualErrorCount"`
	ActualErrorRate  float64           `json:"actualErrorRate"`
}

// AccuracyMetrics summarises prediction error over a test set.
type AccuracyMetrics struct {
	Samples                     int     `json:"samples"`
	MeanAbsoluteError           float64 `json:"meanAbsoluteError"`
	RootMeanSquaredError        float64 `json:"rootMeanSquaredError"`
	MeanAbsolutePercentageError float64 `json:"meanAbsolutePercentageError"`
	RateMeanAbsoluteError       float64 `json:"rateMeanAbsoluteError"`
	Accuracy                    float64 `json:"accuracy"`
	MeanConfidence              float64 `json:"meanConfidence"`
}

func copyFloatMap(in map[string]float64) map[string]float64 {
	if in == nil {
		return nil
	}
	out := make(map[string]float64, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
