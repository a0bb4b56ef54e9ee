package extractors

import "math"

// RobustDetector scores upward deviations from the median in units of the median absolute
// deviation, so a handful of spikes cannot inflate their own baseline.
type RobustDetector struct{}

// NewRobustDetector constructs a MAD detector.
func NewRobustDetector() *RobustDetector {
	return &RobustDetector{}
}

func (d *RobustDetector) Name() string { return DetectorMAD }

// Scores returns the modified z-score 0.6745*(x-median)/MAD for each point, clamped at 0.
// When more than half the series is identical the MAD is zero and the mean absolute
// deviation stands in for it.
func (d *RobustDetector) Scores(series []Point) []float64 {
	vals := values(series)
	scores := make([]float64, len(vals))
	if len(vals) == 0 {
		return scores
	}

	median := percentile(vals, 0.5)
	deviations := make([]float64, len(vals))
	for i, v := range vals {
		deviations[i] = math.Abs(v - median)
	}
	mad := percentile(deviations, 0.5)
	scale := 0.6745
	if mad == 0 {
		mad = meanAbsoluteDeviation(vals, median)
		scale = 0.7979
	}
	if mad == 0 {
		return scores
	}
	for i, v := range vals {
		scores[i] = math.Max(0, scale*(v-median)/mad)
	}
	return scores
}
