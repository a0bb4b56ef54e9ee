package prediction

import (
	"context"
	"testing"
)

func constantSeries(n int, count float64) Series {
	s := Series{Intervals: 10}
	for i := 0; i < n; i++ {
		s.Counts = append(s.Counts, count)
		s.Rates = append(s.Rates, count/1000)
		s.Requests = append(s.Requests, 1000)
	}
	return s
}

func TestEWMAOnStableSeries(t *testing.T) {
	est, err := EWMA{Alpha: 0.3}.Estimate(context.Background(), constantSeries(24, 10))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if est.ErrorCount != 100 {
		t.Fatalf("expected 100 errors over the horizon, got %v", est.ErrorCount)
	}
	if est.Confidence < 0.949 || est.Confidence > 0.951 {
		t.Fatalf("expected full confidence 0.95, got %v", est.Confidence)
	}
}

func TestLinearTrendFollowsSlope(t *testing.T) {
	s := Series{Intervals: 2}
	for i := 0; i < 10; i++ {
		s.Counts = append(s.Counts, float64(i))
		s.Rates = append(s.Rates, 0.01)
	}
	est, _ := LinearTrend{}.Estimate(context.Background(), s)
	// next two points are 10 and 11
	if est.ErrorCount < 20.9 || est.ErrorCount > 21.1 {
		t.Fatalf("expected ~21, got %v", est.ErrorCount)
	}
	if est.Confidence <= 0.5 {
		t.Fatalf("perfect fit should raise confidence, got %v", est.Confidence)
	}
}

func TestLinearTrendNeverNegative(t *testing.T) {
	s := Series{Intervals: 50}
	for i := 0; i < 10; i++ {
		s.Counts = append(s.Counts, float64(10-i))
		s.Rates = append(s.Rates, 0)
	}
	est, _ := LinearTrend{}.Estimate(context.Background(), s)
	if est.ErrorCount < 0 || est.ErrorRate < 0 {
		t.Fatalf("negative forecast: %+v", est)
	}
}

func TestThresholdRulesEscalateOnSignals(t *testing.T) {
	calm := Series{Intervals: 1, Features: map[string]float64{FeatureErrorRate: 0.02, FeatureRequestRate: 100}}
	hot := Series{Intervals: 1, Features: map[string]float64{
		FeatureErrorRate:          0.02,
		FeatureRequestRate:        100,
		FeatureCPUUtilization:     0.95,
		FeatureLatencyP99:         1500,
		FeatureDependencyFailures: 2,
	}}
	a, _ := ThresholdRules{}.Estimate(context.Background(), calm)
	b, _ := ThresholdRules{}.Estimate(context.Background(), hot)
	if b.ErrorRate <= a.ErrorRate || b.ErrorCount <= a.ErrorCount {
		t.Fatalf("signals should raise the forecast: calm=%+v hot=%+v", a, b)
	}
	if b.Confidence > 0.8 {
		t.Fatalf("rule confidence is capped at 0.8, got %v", b.Confidence)
	}
}

func TestBuiltinEstimatorLookup(t *testing.T) {
	for _, name := range []string{EstimatorEWMA, EstimatorLinearTrend, EstimatorThresholdRules} {
		est, ok := BuiltinEstimator(name)
		if !ok || est.Name() != name {
			t.Fatalf("builtin %s not resolvable", name)
		}
	}
	if _, ok := BuiltinEstimator("lightgbm"); ok {
		t.Fatalf("unknown estimator should not resolve")
	}
}
