package prediction

import (
	"context"
	"math"
)

// Series is the estimator view of one prediction context.
type Series struct {
	Counts   []float64
	Rates    []float64
	Requests []float64
	// Intervals is the prediction horizon measured in history intervals.
	Intervals float64
	Features  map[string]float64
}

// Estimate is one estimator's forecast over the whole horizon.
type Estimate struct {
	ErrorCount float64
	ErrorRate  float64
	Confidence float64
}

// Estimator is a pluggable forecasting model.
type Estimator interface {
	Name() string
	Estimate(ctx context.Context, s Series) (Estimate, error)
}

// Built-in estimator names.
const (
	EstimatorEWMA           = "ewma"
	EstimatorLinearTrend    = "linear_trend"
	EstimatorThresholdRules = "threshold_rules"
)

// fullHistory is the number of points after which history counts as adequate.
const fullHistory = 24

// Well-known feature keys read by the rule estimator.
const (
	FeatureErrorRate          = "error_rate"
	FeatureRequestRate        = "request_rate"
	FeatureCPUUtilization     = "cpu_utilization"
	FeatureLatencyP99         = "latency_p99_ms"
	FeatureDependencyFailures = "dependency_failures"
)

// BuiltinEstimator returns the named built-in estimator.
func BuiltinEstimator(name string) (Estimator, bool) {
	switch name {
	case EstimatorEWMA:
		return EWMA{Alpha: 0.3}, true
	case EstimatorLinearTrend:
		return LinearTrend{}, true
	case EstimatorThresholdRules:
		return ThresholdRules{}, true
	default:
		return nil, false
	}
}

// EWMA forecasts the next interval as an exponentially weighted moving average.
type EWMA struct {
	Alpha float64
}

func (EWMA) Name() string { return EstimatorEWMA }

func (e EWMA) Estimate(_ context.Context, s Series) (Estimate, error) {
	n := len(s.Counts)
	if n == 0 {
		return Estimate{Confidence: 0.55}, nil
	}
	alpha := e.Alpha
	if alpha <= 0 || alpha > 1 {
		alpha = 0.3
	}
	level, rate := s.Counts[0], s.Rates[0]
	for i := 1; i < n; i++ {
		level = alpha*s.Counts[i] + (1-alpha)*level
		rate = alpha*s.Rates[i] + (1-alpha)*rate
	}
	stability := 1 - math.Min(1, coefficientOfVariation(s.Counts))
	return Estimate{
		ErrorCount: math.Max(0, level) * s.Intervals,
		ErrorRate:  clamp01(rate),
		Confidence: 0.55 + 0.4*dataFactor(n)*stability,
	}, nil
}

// LinearTrend extrapolates a least-squares line to the middle of the horizon.
type LinearTrend struct{}

func (LinearTrend) Name() string { return EstimatorLinearTrend }

func (LinearTrend) Estimate(_ context.Context, s Series) (Estimate, error) {
	n := len(s.Counts)
	switch n {
	case 0:
		return Estimate{Confidence: 0.5}, nil
	case 1:
		return Estimate{ErrorCount: s.Counts[0] * s.Intervals, ErrorRate: clamp01(s.Rates[0]), Confidence: 0.5}, nil
	}

	// extrapolation is capped at one history length ahead
	ahead := math.Min(s.Intervals, float64(n))
	x := float64(n-1) + (ahead+1)/2

	a, b, fit := leastSquares(s.Counts)
	perInterval := math.Max(0, a+b*x)
	if ceiling := 3 * maxOf(s.Counts); perInterval > ceiling {
		perInterval = ceiling
	}
	ra, rb, _ := leastSquares(s.Rates)

	return Estimate{
		ErrorCount: perInterval * s.Intervals,
		ErrorRate:  clamp01(ra + rb*x),
		Confidence: 0.5 + 0.45*dataFactor(n)*fit,
	}, nil
}

// ThresholdRules scales the current error rate by simple operational signals.
type ThresholdRules struct{}

func (ThresholdRules) Name() string { return EstimatorThresholdRules }

func (ThresholdRules) Estimate(_ context.Context, s Series) (Estimate, error) {
	confidence := 0.5
	rate, ok := s.Features[FeatureErrorRate]
	if ok {
		confidence += 0.1
	} else if n := len(s.Rates); n > 0 {
		rate = s.Rates[n-1]
	}
	rate = clamp01(rate)

	if s.Features[FeatureCPUUtilization] >= 0.85 {
		rate *= 1.5
		confidence += 0.05
	}
	if s.Features[FeatureLatencyP99] >= 1000 {
		rate *= 1.3
		confidence += 0.05
	}
	if failures := s.Features[FeatureDependencyFailures]; failures > 0 {
		rate += 0.02 * failures
		confidence += 0.05
	}
	rate = clamp01(rate)

	requests, ok := s.Features[FeatureRequestRate]
	if !ok {
		requests = mean(s.Requests)
	}
	return Estimate{
		ErrorCount: rate * math.Max(0, requests) * s.Intervals,
		ErrorRate:  rate,
		Confidence: math.Min(0.8, confidence),
	}, nil
}

func dataFactor(n int) float64 {
	return math.Min(1, float64(n)/fullHistory)
}

// leastSquares fits y = a + b*x over x = 0..n-1 and returns R² as the fit quality.
func leastSquares(ys []float64) (a, b, r2 float64) {
	n := float64(len(ys))
	var sx, sy, sxx, sxy float64
	for i, y := range ys {
		x := float64(i)
		sx += x
		sy += y
		sxx += x * x
		sxy += x * y
	}
	den := n*sxx - sx*sx
	if den == 0 {
		return sy / n, 0, 0
	}
	b = (n*sxy - sx*sy) / den
	a = (sy - b*sx) / n

	meanY := sy / n
	var ssTot, ssRes float64
	for i, y := range ys {
		pred := a + b*float64(i)
		ssRes += (y - pred) * (y - pred)
		ssTot += (y - meanY) * (y - meanY)
	}
	if ssTot == 0 {
		return a, b, 1
	}
	return a, b, math.Max(0, 1-ssRes/ssTot)
}

func coefficientOfVariation(xs []float64) float64 {
	m := mean(xs)
	if m == 0 {
		return 0
	}
	var ss float64
	for _, x := range xs {
		ss += (x - m) * (x - m)
	}
	return math.Sqrt(ss/float64(len(xs))) / m
}

func mean(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	var sum float64
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

func maxOf(xs []float64) float64 {
	max := 0.0
	for _, x := range xs {
		if x > max {
			max = x
		}
	}
	return max
}

func clamp01(v float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
