package extractors

import (
	"math"
	"sort"
	"time"
)

// Point is one bucket of an error-score series.
type Point struct {
	Timestamp time.Time
	Value     float64
}

// Outlier is a bucket whose score crossed the detector threshold.
type Outlier struct {
	Timestamp time.Time
	Value     float64
	Score     float64
	Threshold float64
}

// Detector finds outliers in a bucketed series.
type Detector interface {
	Name() string
	// Scores returns one non-negative outlier score per point, aligned with series.
	Scores(series []Point) []float64
}

// Detector names accepted by NewDetector.
const (
	DetectorMAD    = "mad"
	DetectorZScore = "zscore"
)

// NewDetector returns the named detector, defaulting to the robust MAD detector.
func NewDetector(name string) Detector {
	if name == DetectorZScore {
		return NewZScoreDetector()
	}
	return NewRobustDetector()
}

// Detect applies d and keeps the points scoring at least threshold.
func Detect(d Detector, series []Point, threshold float64) []Outlier {
	if len(series) == 0 {
		return nil
	}
	if threshold <= 0 {
		threshold = 3
	}
	scores := d.Scores(series)
	anomalies := make([]Outlier, 0)
	for i, point := range series {
		if scores[i] >= threshold {
			anomalies = append(anomalies, Outlier{
				Timestamp: point.Timestamp,
				Value:     point.Value,
				Score:     scores[i],
				Threshold: threshold,
			})
		}
	}
	return anomalies
}

func values(series []Point) []float64 {
	out := make([]float64, len(series))
	for i, p := range series {
		out[i] = p.Value
	}
	return out
}

func percentile(values []float64, p float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	idx := int(math.Round(p * float64(len(sorted)-1)))
	if idx < 0 {
		idx = 0
	}
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}

func meanAbsoluteDeviation(values []float64, center float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range values {
		sum += math.Abs(v - center)
	}
	return sum / float64(len(values))
}
