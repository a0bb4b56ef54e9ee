package models

import (
	"fmt"
	"strings"
	"time"
)

// Granularity controls analytics bucket width.
type Granularity string

const (
	GranularityMinute Granularity = "minute"
	GranularityHour   Granularity = "hour"
	GranularityDay    Granularity = "day"
)

// AnalyticsTimeRange bounds a range-scoped analytics query.
type AnalyticsTimeRange struct {
	Start       time.Time   `json:"start"`
	End         time.Time   `json:"end"`
	Granularity Granularity `json:"granularity"`
	Timezone    string      `json:"timezone,omitempty"`
}

// Normalised returns a copy with defaults applied. Call Validate first.
func (r AnalyticsTimeRange) Normalised() AnalyticsTimeRange {
	out := r
	if out.Granularity == "" {
		out.Granularity = GranularityHour
	}
	out.Granularity = Granularity(strings.ToLower(string(out.Granularity)))
	if out.Timezone == "" {
		out.Timezone = "UTC"
	}
	out.Start = out.Start.UTC()
	out.End = out.End.UTC()
	return out
}

// Validate rejects inverted or empty ranges and unknown granularity or timezone values.
// Ranges are never swapped.
func (r AnalyticsTimeRange) Validate() error {
	if r.Start.IsZero() || r.End.IsZero() {
		return fmt.Errorf("time range start and end are required")
	}
	if !r.Start.Before(r.End) {
		return fmt.Errorf("time range start %s must be before end %s", r.Start.Format(time.RFC3339), r.End.Format(time.RFC3339))
	}
	switch Granularity(strings.ToLower(string(r.Granularity))) {
	case "", GranularityMinute, GranularityHour, GranularityDay:
	default:
		return fmt.Errorf("unknown granularity %q", r.Granularity)
	}
	if r.Timezone != "" {
		if _, err := time.LoadLocation(r.Timezone); err != nil {
			return fmt.Errorf("unknown timezone %q", r.Timezone)
		}
	}
	return nil
}

// Step returns the bucket width implied by the granularity.
func (r AnalyticsTimeRange) Step() time.Duration {
	switch Granularity(strings.ToLower(string(r.Granularity))) {
	case GranularityMinute:
		return time.Minute
	case GranularityDay:
		return 24 * time.Hour
	default:
		return time.Hour
	}
}

// BucketCount is an upper bound on the step buckets needed to cover the range.
func (r AnalyticsTimeRange) BucketCount() int64 {
	if !r.Start.Before(r.End) {
		return 0
	}
	return int64(r.End.Sub(r.Start)/r.Step()) + 2
}

// Location resolves the timezone, defaulting to UTC.
func (r AnalyticsTimeRange) Location() *time.Location {
	if r.Timezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(r.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// Contains reports whether ts falls in [Start, End).
func (r AnalyticsTimeRange) Contains(ts time.Time) bool {
	return !ts.Before(r.Start) && ts.Before(r.End)
}
