package engine

import (
	"fmt"
	"math"

	"github.com/miradorstack/mirador-resilience/internal/models"
	"github.com/miradorstack/mirador-resilience/internal/utils"
)

// Tier thresholds on the 0-100 impact score.
const (
	CriticalScoreThreshold = 90.0
	HighScoreThreshold     = 70.0
	MediumScoreThreshold   = 40.0
)

var severityBase = map[models.Severity]float64{
	models.SeverityLow:      10,
	models.SeverityMedium:   40,
	models.SeverityHigh:     70,
	models.SeverityCritical: 90,
}

// ImpactInput is everything the classifier can score.
type ImpactInput struct {
	Severity          models.Severity
	ErrorRate         float64
	AffectedCustomers int
	// Score, when set, bypasses the computation.
	Score *float64
}

// Classifier maps events and aggregates onto business impact tiers. It is pure.
type Classifier struct{}

// NewClassifier constructs a Classifier.
func NewClassifier() *Classifier { return &Classifier{} }

// Score computes the 0-100 impact score for in.
func (c *Classifier) Score(in ImpactInput) (float64, error) {
	const op = "classifier.Score"
	if in.Score != nil {
		if math.IsNaN(*in.Score) || math.IsInf(*in.Score, 0) {
			return 0, utils.NewValidationError(op, "score must be a finite number")
		}
		return clamp(*in.Score, 0, 100), nil
	}
	if in.Severity == "" {
		return 0, utils.NewValidationError(op, "severity or explicit score is required")
	}
	base, ok := severityBase[in.Severity]
	if !ok {
		return 0, utils.NewValidationError(op, fmt.Sprintf("unknown severity %q", in.Severity))
	}
	if math.IsNaN(in.ErrorRate) || in.ErrorRate < 0 || in.ErrorRate > 1 {
		return 0, utils.NewValidationError(op, fmt.Sprintf("error rate %v outside [0,1]", in.ErrorRate))
	}
	if in.AffectedCustomers < 0 {
		return 0, utils.NewValidationError(op, "affected customers cannot be negative")
	}

	customers := math.Min(10, 4*math.Log10(1+float64(in.AffectedCustomers)))
	return clamp(base+20*in.ErrorRate+customers, 0, 100), nil
}

// Classify scores in and maps the score onto a tier.
func (c *Classifier) Classify(in ImpactInput) (models.BusinessImpact, float64, error) {
	score, err := c.Score(in)
	if err != nil {
		return models.ImpactUnknown, 0, err
	}
	return TierForScore(score), score, nil
}

// ClassifyEvent classifies a single event observed at the given layer error rate.
func (c *Classifier) ClassifyEvent(ev models.ErrorEvent, errorRate float64) (models.BusinessImpact, float64, error) {
	return c.Classify(ImpactInput{
		Severity:          ev.Severity,
		ErrorRate:         errorRate,
		AffectedCustomers: ev.AffectedCustomers,
	})
}

// ClassifyAggregate classifies a set of events. The result is never below the worst single event.
func (c *Classifier) ClassifyAggregate(events []models.ErrorEvent, errorRate float64) (models.BusinessImpact, float64, error) {
	if len(events) == 0 {
		return models.ImpactUnknown, 0, utils.NewValidationError("classifier.ClassifyAggregate", "at least one event is required")
	}

	worst := models.ImpactUnknown
	var worstSeverity models.Severity
	customers := 0
	for _, ev := range events {
		tier, _, err := c.ClassifyEvent(ev, errorRate)
		if err != nil {
			return models.ImpactUnknown, 0, err
		}
		worst = models.MaxImpact(worst, tier)
		if ev.Severity.Rank() > worstSeverity.Rank() {
			worstSeverity = ev.Severity
		}
		customers += ev.AffectedCustomers
	}

	score, err := c.Score(ImpactInput{Severity: worstSeverity, ErrorRate: errorRate, AffectedCustomers: customers})
	if err != nil {
		return models.ImpactUnknown, 0, err
	}
	return models.MaxImpact(worst, TierForScore(score)), score, nil
}

// TierForScore applies the tier thresholds exactly: 90 is CRITICAL, 89.9 is HIGH.
func TierForScore(score float64) models.BusinessImpact {
	switch {
	case score >= CriticalScoreThreshold:
		return models.ImpactCritical
	case score >= HighScoreThreshold:
		return models.ImpactHigh
	case score >= MediumScoreThreshold:
		return models.ImpactMedium
	default:
		return models.ImpactLow
	}
}

func clamp(value, min, max float64) float64 {
	if value < min {
		return min
	}
	if value > max {
		return max
	}
	return value
}
