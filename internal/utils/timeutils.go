package utils

import (
	"fmt"
	"time"
)

// ParseRFC3339 returns a time from the provided string or an error.
func ParseRFC3339(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, fmt.Errorf("empty time value")
	}
	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse time: %w", err)
	}
	return t, nil
}

// TruncateIn floors ts to a multiple of step measured in loc. Day steps honour local midnight.
func TruncateIn(ts time.Time, step time.Duration, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	local := ts.In(loc)
	if step >= 24*time.Hour {
		y, m, d := local.Date()
		return time.Date(y, m, d, 0, 0, 0, 0, loc).UTC()
	}
	return local.Truncate(step).UTC()
}

// BucketStarts lists every bucket start covering [start, end) at the given step.
func BucketStarts(start, end time.Time, step time.Duration, loc *time.Location) []time.Time {
	if !start.Before(end) || step <= 0 {
		return nil
	}
	var out []time.Time
	cursor := TruncateIn(start, step, loc)
	for cursor.Before(end) {
		out = append(out, cursor)
		if step >= 24*time.Hour {
			cursor = cursor.In(locOrUTC(loc)).AddDate(0, 0, 1).UTC()
			continue
		}
		cursor = cursor.Add(step)
	}
	return out
}

// MinutesBetween returns the minute span between two instants.
func MinutesBetween(start, end time.Time) float64 {
	if end.Before(start) {
		start, end = end, start
	}
	return end.Sub(start).Minutes()
}

func locOrUTC(loc *time.Location) *time.Location {
	if loc == nil {
		return time.UTC
	}
	return loc
}
