package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	// OutcomeSuccess labels successful operations.
	OutcomeSuccess = "success"
	// OutcomeError labels failed operations (validation, dependency or budget issues).
	OutcomeError = "error"
	// OutcomePartial labels aggregations answered with degraded sources.
	OutcomePartial = "partial"

	namespace = "mirador_resilience"
)

var (
	predictionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "predictions_total",
			Help:      "Total number of predictions generated, partitioned by outcome and cache status.",
		},
		[]string{"outcome", "cached"},
	)

	predictionDurationSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "prediction_seconds",
			Help:      "Prediction latency in seconds.",
			Buckets:   []float64{0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.075, 0.1, 0.25},
		},
	)

	aggregationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "aggregations_total",
			Help:      "Total number of analytics aggregations, partitioned by operation and outcome.",
		},
		[]string{"operation", "outcome"},
	)

	aggregationDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "aggregation_seconds",
			Help:      "Analytics aggregation latency in seconds.",
			Buckets:   []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 3, 5},
		},
		[]string{"operation"},
	)

	eventsIngestedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_ingested_total",
			Help:      "Error events ingested, partitioned by layer and severity.",
		},
		[]string{"layer", "severity"},
	)

	layerHealth = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "layer_health",
			Help:      "Current health level per layer (0 healthy, 1 degraded, 2 critical, 3 emergency).",
		},
		[]string{"layer"},
	)

	containmentDecisionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "containment_decisions_total",
			Help:      "Containment decisions, partitioned by strategy and outcome.",
		},
		[]string{"strategy", "outcome"},
	)

	cascadesPreventedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cascades_prevented_total",
			Help:      "Downstream cascades prevented by containment.",
		},
	)

	gatherSourceFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "gather_source_failures_total",
			Help:      "Per-source failures absorbed by partial aggregation.",
		},
		[]string{"source"},
	)
)

// Register attaches mirador-resilience collectors to the supplied Prometheus registerer.
func Register(reg prometheus.Registerer) error {
	collectors := []prometheus.Collector{
		predictionsTotal,
		predictionDurationSeconds,
		aggregationsTotal,
		aggregationDurationSeconds,
		eventsIngestedTotal,
		layerHealth,
		containmentDecisionsTotal,
		cascadesPreventedTotal,
		gatherSourceFailuresTotal,
	}

	for _, collector := range collectors {
		if err := reg.Register(collector); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); ok {
				continue
			}
			return err
		}
	}
	return nil
}

// ObservePrediction records a prediction duration, outcome and cache status.
func ObservePrediction(duration time.Duration, outcome string, cached bool) {
	cachedLabel := "false"
	if cached {
		cachedLabel = "true"
	}
	predictionsTotal.WithLabelValues(normaliseOutcome(outcome), cachedLabel).Inc()
	predictionDurationSeconds.Observe(nonNegative(duration).Seconds())
}

// ObserveAggregation records an analytics call.
func ObserveAggregation(operation string, duration time.Duration, outcome string) {
	aggregationsTotal.WithLabelValues(operation, normaliseOutcome(outcome)).Inc()
	aggregationDurationSeconds.WithLabelValues(operation).Observe(nonNegative(duration).Seconds())
}

// IncEventIngested counts one ingested event.
func IncEventIngested(layer, severity string) {
	eventsIngestedTotal.WithLabelValues(layer, severity).Inc()
}

// SetLayerHealth publishes the current level of a layer.
func SetLayerHealth(layer string, level int) {
	layerHealth.WithLabelValues(layer).Set(float64(level))
}

// ObserveContainment counts a containment decision and the cascades it prevented.
func ObserveContainment(strategy, outcome string, prevented int) {
	containmentDecisionsTotal.WithLabelValues(strategy, outcome).Inc()
	if prevented > 0 {
		cascadesPreventedTotal.Add(float64(prevented))
	}
}

// IncGatherFailure counts a source failure absorbed by a partial aggregation.
func IncGatherFailure(source string) {
	gatherSourceFailuresTotal.WithLabelValues(source).Inc()
}

func normaliseOutcome(outcome string) string {
	switch outcome {
	case OutcomeError, OutcomePartial:
		return outcome
	default:
		return OutcomeSuccess
	}
}

func nonNegative(d time.Duration) time.Duration {
	if d < 0 {
		return 0
	}
	return d
}
