package models

import "time"

// BusinessImpactMetrics rolls up revenue and customer exposure over a range.
// Outputs are statistics only and never carry identifying fields.
type BusinessImpactMetrics struct {
	Range              AnalyticsTimeRange `json:"range"`
	TotalRevenueLoss   float64            `json:"totalRevenueLoss"`
	CustomersAffected  int                `json:"customersAffected"`
	TotalEvents        int                `json:"totalEvents"`
	SeverityCounts     map[Severity]int   `json:"severityCounts"`
	ImpactDistribution map[string]int     `json:"impactDistribution"`
	PeakImpact         BusinessImpact     `json:"peakImpact"`
	ErrorEvents        []EventSummary     `json:"errorEvents"`
	DegradedSources    []string           `json:"degradedSources,omitempty"`
	GeneratedAt        time.Time          `json:"generatedAt"`
}

// LayerRangeHealth is the health of one layer derived from a range of events.
type LayerRangeHealth struct {
	Layer          SystemLayer `json:"layer"`
	Health         HealthLevel `json:"health"`
	Events         int         `json:"events"`
	CriticalEvents int         `json:"criticalEvents"`
	HighEvents     int         `json:"highEvents"`
	ErrorRate      float64     `json:"errorRate"`
}

// SystemHealthMetrics summarises per-layer health over a range.
type SystemHealthMetrics struct {
	Range           AnalyticsTimeRange `json:"range"`
	OverallHealth   HealthLevel        `json:"overallHealth"`
	Layers          []LayerRangeHealth `json:"layers"`
	TotalEvents     int                `json:"totalEvents"`
	DegradedSources []string           `json:"degradedSources,omitempty"`
	GeneratedAt     time.Time          `json:"generatedAt"`
}

// Anomaly is one outlier bucket of the error-score series.
type Anomaly struct {
	Timestamp   time.Time   `json:"timestamp"`
	BucketStart time.Time   `json:"bucketStart"`
	Layer       SystemLayer `json:"systemLayer,omitempty"`
	Severity    Severity    `json:"severity"`
	Score       float64     `json:"score"`
	ErrorScore  float64     `json:"errorScore"`
	Events      int         `json:"events"`
	Description string      `json:"description"`
}

// AnomalyAnalytics is the result of statistical outlier detection over a range.
type AnomalyAnalytics struct {
	Range             AnalyticsTimeRange `json:"range"`
	DetectedAnomalies []Anomaly          `json:"detectedAnomalies"`
	AnomalyScore      float64            `json:"anomalyScore"`
	ConfidenceLevel   float64            `json:"confidenceLevel"`
	Recommendations   []string           `json:"recommendations"`
	DegradedSources   []string           `json:"degradedSources,omitempty"`
	GeneratedAt       time.Time          `json:"generatedAt"`
}

// CascadePattern is a recurring propagation signature mined from the audit trail.
type CascadePattern struct {
	ID               string              `json:"id"`
	SourceSystem     SystemLayer         `json:"sourceSystem"`
	TargetSystems    []SystemLayer       `json:"targetSystems"`
	Occurrences      int                 `json:"occurrences"`
	Prevalence       float64             `json:"prevalence"`
	DominantStrategy ContainmentStrategy `json:"dominantStrategy"`
	EscalationRate   float64             `json:"escalationRate"`
	LastSeen         time.Time           `json:"lastSeen"`
}

// PreventionAnalytics reports how effective containment has been over a range.
type PreventionAnalytics struct {
	Range             AnalyticsTimeRange          `json:"range"`
	TotalIncidents    int                         `json:"totalIncidents"`
	Contained         int                         `json:"contained"`
	Escalated         int                         `json:"escalated"`
	FailSafe          int                         `json:"failSafe"`
	PreventedCascades int                         `json:"preventedCascades"`
	Effectiveness     float64                     `json:"effectiveness"`
	ByStrategy        map[ContainmentStrategy]int `json:"byStrategy"`
	ByImpact          map[string]int              `json:"byImpact"`
	Patterns          []CascadePattern            `json:"patterns"`
	GeneratedAt       time.Time                   `json:"generatedAt"`
}

// RealtimeAnalytics is the hot-path snapshot answered from in-memory aggregates.
type RealtimeAnalytics struct {
	AsOf              time.Time           `json:"asOf"`
	Window            time.Duration       `json:"window"`
	ErrorsInWindow    int                 `json:"errorsInWindow"`
	ErrorsPerMinute   float64             `json:"errorsPerMinute"`
	SeverityCounts    map[Severity]int    `json:"severityCounts"`
	RevenueAtRisk     float64             `json:"revenueAtRisk"`
	CustomersAffected int                 `json:"customersAffected"`
	CurrentImpact     BusinessImpact      `json:"currentImpact"`
	OverallHealth     HealthLevel         `json:"overallHealth"`
	Layers            []SystemLayerHealth `json:"layers"`
	TotalIngested     uint64              `json:"totalIngested"`
	LastEventAt       time.Time           `json:"lastEventAt,omitempty"`
}

// DashboardData gathers every analytics section; failed sections are nil and listed.
type DashboardData struct {
	Range            AnalyticsTimeRange     `json:"range"`
	BusinessImpact   *BusinessImpactMetrics `json:"businessImpact,omitempty"`
	SystemHealth     *SystemHealthMetrics   `json:"systemHealth,omitempty"`
	Anomalies        *AnomalyAnalytics      `json:"anomalies,omitempty"`
	Prevention       *PreventionAnalytics   `json:"prevention,omitempty"`
	Realtime         *RealtimeAnalytics     `json:"realtime,omitempty"`
	DegradedSections []string               `json:"degradedSections,omitempty"`
	GeneratedAt      time.Time              `json:"generatedAt"`
}
