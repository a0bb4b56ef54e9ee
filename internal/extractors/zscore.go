package extractors

import "math"

// ZScoreDetector scores points by standard deviations above the mean.
type ZScoreDetector struct{}

// NewZScoreDetector creates a z-score detector.
func NewZScoreDetector() *ZScoreDetector {
	return &ZScoreDetector{}
}

func (d *ZScoreDetector) Name() string { return DetectorZScore }

// Scores returns (x-mean)/stddev per point, clamped at 0.
func (d *ZScoreDetector) Scores(series []Point) []float64 {
	scores := make([]float64, len(series))
	if len(series) == 0 {
		return scores
	}

	mean := 0.0
	for _, point := range series {
		mean += point.Value
	}
	mean /= float64(len(series))

	variance := 0.0
	for _, point := range series {
		variance += math.Pow(point.Value-mean, 2)
	}
	variance /= float64(len(series))
	stdDev := math.Sqrt(variance)
	if stdDev == 0 {
		return scores
	}

	for i, point := range series {
		scores[i] = math.Max(0, (point.Value-mean)/stdDev)
	}
	return scores
}
