package models

import (
	"fmt"
	"strings"
	"time"
)

// SystemLayer identifies a logical tier whose health is tracked independently.
type SystemLayer string

const (
	LayerAPI              SystemLayer = "api"
	LayerDataAccess       SystemLayer = "data_access"
	LayerExternalServices SystemLayer = "external_services"
	LayerBusinessLogic    SystemLayer = "business_logic"
	LayerInfrastructure   SystemLayer = "infrastructure"
	LayerSecurity         SystemLayer = "security"
)

// AllLayers returns every known layer in a stable order.
func AllLayers() []SystemLayer {
	return []SystemLayer{
		LayerAPI,
		LayerDataAccess,
		LayerExternalServices,
		LayerBusinessLogic,
		LayerInfrastructure,
		LayerSecurity,
	}
}

// ParseSystemLayer normalises a layer name.
func ParseSystemLayer(value string) (SystemLayer, error) {
	normalised := SystemLayer(strings.ToLower(strings.TrimSpace(value)))
	for _, layer := range AllLayers() {
		if layer == normalised {
			return layer, nil
		}
	}
	return "", fmt.Errorf("unknown system layer %q", value)
}

// Severity captures the observed severity of a single error.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Rank orders severities; unknown values rank 0.
func (s Severity) Rank() int {
	switch s {
	case SeverityLow:
		return 1
	case SeverityMedium:
		return 2
	case SeverityHigh:
		return 3
	case SeverityCritical:
		return 4
	default:
		return 0
	}
}

// Valid reports whether s is one of the known severities.
func (s Severity) Valid() bool { return s.Rank() > 0 }

// ParseSeverity normalises a severity name.
func ParseSeverity(value string) (Severity, error) {
	sev := Severity(strings.ToLower(strings.TrimSpace(value)))
	if !sev.Valid() {
		return "", fmt.Errorf("unknown severity %q", value)
	}
	return sev, nil
}

// AllSeverities lists severities from lowest to highest.
func AllSeverities() []Severity {
	return []Severity{SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical}
}

// ErrorEvent is the canonical, immutable unit of observed failure.
type ErrorEvent struct {
	ID                string         `json:"id,omitempty"`
	Timestamp         time.Time      `json:"timestamp"`
	Layer             SystemLayer    `json:"systemLayer"`
	Severity          Severity       `json:"severity"`
	Kind              string         `json:"errorKind"`
	AffectedCustomers int            `json:"affectedCustomers,omitempty"`
	RevenueImpact     float64        `json:"revenueImpact,omitempty"`
	Context           map[string]any `json:"context,omitempty"`
}

// Per-severity estimates used when an event does not carry explicit impact figures.
var (
	estimatedRevenue = map[Severity]float64{
		SeverityLow:      10,
		SeverityMedium:   100,
		SeverityHigh:     1000,
		SeverityCritical: 10000,
	}
	estimatedCustomers = map[Severity]int{
		SeverityLow:      1,
		SeverityMedium:   5,
		SeverityHigh:     25,
		SeverityCritical: 100,
	}
)

// EstimatedRevenueLoss returns the explicit revenue impact or the severity estimate.
func (e ErrorEvent) EstimatedRevenueLoss() float64 {
	if e.RevenueImpact > 0 {
		return e.RevenueImpact
	}
	return estimatedRevenue[e.Severity]
}

// EstimatedCustomers returns the explicit customer count or the severity estimate.
func (e ErrorEvent) EstimatedCustomers() int {
	if e.AffectedCustomers > 0 {
		return e.AffectedCustomers
	}
	return estimatedCustomers[e.Severity]
}

// Validate checks the fields the core depends on.
func (e ErrorEvent) Validate() error {
	if e.Timestamp.IsZero() {
		return fmt.Errorf("event timestamp is required")
	}
	if _, err := ParseSystemLayer(string(e.Layer)); err != nil {
		return err
	}
	if !e.Severity.Valid() {
		return fmt.Errorf("unknown severity %q", e.Severity)
	}
	return nil
}

// EventSummary is the PII-free projection of an ErrorEvent used in aggregate outputs.
type EventSummary struct {
	Timestamp time.Time      `json:"timestamp"`
	Layer     SystemLayer    `json:"systemLayer"`
	Severity  Severity       `json:"severity"`
	Kind      string         `json:"errorKind"`
	Impact    BusinessImpact `json:"businessImpact"`
}
