package extractors

import (
	"testing"
	"time"
)

func spikeSeries() []Point {
	start := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	series := make([]Point, 0, 24)
	for i := 0; i < 24; i++ {
		value := float64(4 + i%2)
		if i == 6 || i == 18 {
			value = 104
		}
		series = append(series, Point{Timestamp: start.Add(time.Duration(i) * time.Hour), Value: value})
	}
	return series
}

func TestRobustDetectorFlagsSpikes(t *testing.T) {
	anomalies := Detect(NewRobustDetector(), spikeSeries(), 3)
	if len(anomalies) != 2 {
		t.Fatalf("expected 2 anomalies, got %d", len(anomalies))
	}
	if anomalies[0].Timestamp.Hour() != 6 || anomalies[1].Timestamp.Hour() != 18 {
		t.Fatalf("unexpected anomaly buckets: %+v", anomalies)
	}
}

func TestRobustDetectorFlatSeries(t *testing.T) {
	series := spikeSeries()
	for i := range series {
		series[i].Value = 7
	}
	if got := Detect(NewRobustDetector(), series, 3); len(got) != 0 {
		t.Fatalf("flat series should have no anomalies, got %d", len(got))
	}
}

func TestRobustDetectorMostlyIdentical(t *testing.T) {
	series := spikeSeries()
	for i := range series {
		if series[i].Value < 100 {
			series[i].Value = 1
		}
	}
	if got := Detect(NewRobustDetector(), series, 3); len(got) != 2 {
		t.Fatalf("expected spikes to be found with zero MAD, got %d", len(got))
	}
}

func TestZScoreDetector(t *testing.T) {
	anomalies := Detect(NewZScoreDetector(), spikeSeries(), 2)
	if len(anomalies) == 0 {
		t.Fatalf("expected anomalies, got none")
	}
	if NewDetector("zscore").Name() != DetectorZScore || NewDetector("").Name() != DetectorMAD {
		t.Fatalf("detector lookup mismatch")
	}
}
