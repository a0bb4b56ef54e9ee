package models

import (
	"fmt"
	"strings"
	"time"
)

// BusinessImpact is an ordinal tier: LOW < MEDIUM < HIGH < CRITICAL.
type BusinessImpact int

const (
	ImpactUnknown BusinessImpact = iota
	ImpactLow
	ImpactMedium
	ImpactHigh
	ImpactCritical
)

func (b BusinessImpact) String() string {
	switch b {
	case ImpactLow:
		return "LOW"
	case ImpactMedium:
		return "MEDIUM"
	case ImpactHigh:
		return "HIGH"
	case ImpactCritical:
		return "CRITICAL"
	default:
		return "UNKNOWN"
	}
}

// Valid reports whether b is a real tier.
func (b BusinessImpact) Valid() bool { return b >= ImpactLow && b <= ImpactCritical }

// MarshalText encodes the tier by name.
func (b BusinessImpact) MarshalText() ([]byte, error) {
	return []byte(b.String()), nil
}

// UnmarshalText decodes a tier name.
func (b *BusinessImpact) UnmarshalText(text []byte) error {
	parsed, err := ParseBusinessImpact(string(text))
	if err != nil {
		return err
	}
	*b = parsed
	return nil
}

// ParseBusinessImpact accepts tier names case-insensitively.
func ParseBusinessImpact(value string) (BusinessImpact, error) {
	switch strings.ToUpper(strings.TrimSpace(value)) {
	case "LOW":
		return ImpactLow, nil
	case "MEDIUM":
		return ImpactMedium, nil
	case "HIGH":
		return ImpactHigh, nil
	case "CRITICAL":
		return ImpactCritical, nil
	case "", "UNKNOWN":
		return ImpactUnknown, nil
	default:
		return ImpactUnknown, fmt.Errorf("unknown business impact %q", value)
	}
}

// MaxImpact returns the highest tier. Aggregates never average down.
func MaxImpact(impacts ...BusinessImpact) BusinessImpact {
	max := ImpactUnknown
	for _, impact := range impacts {
		if impact > max {
			max = impact
		}
	}
	return max
}

// ReduceImpact lowers a tier by steps, never below LOW.
func ReduceImpact(b BusinessImpact, steps int) BusinessImpact {
	reduced := b - BusinessImpact(steps)
	if reduced < ImpactLow {
		return ImpactLow
	}
	return reduced
}

// ImpactForSeverity is the floor tier implied by a severity alone.
func ImpactForSeverity(s Severity) BusinessImpact {
	switch s {
	case SeverityLow:
		return ImpactLow
	case SeverityMedium:
		return ImpactMedium
	case SeverityHigh:
		return ImpactHigh
	case SeverityCritical:
		return ImpactCritical
	default:
		return ImpactUnknown
	}
}

// SeverityForImpact maps a tier onto the anomaly severity vocabulary.
func SeverityForImpact(b BusinessImpact) Severity {
	switch b {
	case ImpactCritical:
		return SeverityCritical
	case ImpactHigh:
		return SeverityHigh
	case ImpactMedium:
		return SeverityMedium
	default:
		return SeverityLow
	}
}

// HealthLevel is the per-layer health state: healthy < degraded < critical < emergency.
type HealthLevel int

const (
	HealthHealthy HealthLevel = iota
	HealthDegraded
	HealthCritical
	HealthEmergency
)

func (h HealthLevel) String() string {
	switch h {
	case HealthHealthy:
		return "healthy"
	case HealthDegraded:
		return "degraded"
	case HealthCritical:
		return "critical"
	case HealthEmergency:
		return "emergency"
	default:
		return "unknown"
	}
}

// Valid reports whether h is one of the four defined levels.
func (h HealthLevel) Valid() bool {
	return h >= HealthHealthy && h <= HealthEmergency
}

// MarshalText encodes the level by name.
func (h HealthLevel) MarshalText() ([]byte, error) {
	return []byte(h.String()), nil
}

// UnmarshalText decodes a level name.
func (h *HealthLevel) UnmarshalText(text []byte) error {
	parsed, err := ParseHealthLevel(string(text))
	if err != nil {
		return err
	}
	*h = parsed
	return nil
}

// ParseHealthLevel accepts level names case-insensitively.
func ParseHealthLevel(value string) (HealthLevel, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "", "healthy":
		return HealthHealthy, nil
	case "degraded":
		return HealthDegraded, nil
	case "critical":
		return HealthCritical, nil
	case "emergency":
		return HealthEmergency, nil
	default:
		return HealthHealthy, fmt.Errorf("unknown health level %q", value)
	}
}

// WorstHealth returns the most severe level.
func WorstHealth(levels ...HealthLevel) HealthLevel {
	worst := HealthHealthy
	for _, level := range levels {
		if level > worst {
			worst = level
		}
	}
	return worst
}

// ImpactForHealth maps a health level onto the impact floor it implies.
func ImpactForHealth(h HealthLevel) BusinessImpact {
	switch h {
	case HealthEmergency:
		return ImpactCritical
	case HealthCritical:
		return ImpactHigh
	case HealthDegraded:
		return ImpactMedium
	default:
		return ImpactLow
	}
}

// SystemLayerHealth is the rolling health state of one layer.
type SystemLayerHealth struct {
	Layer     SystemLayer `json:"layer"`
	Health    HealthLevel `json:"health"`
	ErrorRate float64     `json:"errorRate"`
	LastCheck time.Time   `json:"lastCheck"`
	// CleanChecks counts consecutive checks whose rate implied a lower level.
	CleanChecks int `json:"cleanChecks"`
	Errors      int `json:"errors"`
	Requests    int `json:"requests"`
}

// HealthTransition is emitted whenever a layer changes level.
type HealthTransition struct {
	Layer     SystemLayer `json:"layer"`
	From      HealthLevel `json:"from"`
	To        HealthLevel `json:"to"`
	ErrorRate float64     `json:"errorRate"`
	At        time.Time   `json:"at"`
}

// Escalating reports whether the transition moved to a worse level.
func (t HealthTransition) Escalating() bool { return t.To > t.From }
