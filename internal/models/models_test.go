package models

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMaxImpactNeverAveragesDown(t *testing.T) {
	assert.Equal(t, ImpactCritical, MaxImpact(ImpactLow, ImpactLow, ImpactCritical, ImpactMedium))
	assert.Equal(t, ImpactUnknown, MaxImpact())
	assert.Equal(t, ImpactLow, ReduceImpact(ImpactMedium, 3))
	assert.Equal(t, ImpactMedium, ReduceImpact(ImpactCritical, 2))
}

func TestBusinessImpactTextRoundTrip(t *testing.T) {
	data, err := json.Marshal(struct {
		Impact BusinessImpact `json:"impact"`
	}{ImpactHigh})
	require.NoError(t, err)
	assert.JSONEq(t, `{"impact":"HIGH"}`, string(data))

	var decoded struct {
		Impact BusinessImpact `json:"impact"`
	}
	require.NoError(t, json.Unmarshal([]byte(`{"impact":"critical"}`), &decoded))
	assert.Equal(t, ImpactCritical, decoded.Impact)

	_, err = ParseBusinessImpact("severe")
	assert.Error(t, err)
}

func TestTimeRangeValidation(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	cases := []struct {
		name    string
		r       AnalyticsTimeRange
		wantErr bool
	}{
		{"valid", AnalyticsTimeRange{Start: now, End: now.Add(time.Hour)}, false},
		{"equal", AnalyticsTimeRange{Start: now, End: now}, true},
		{"inverted", AnalyticsTimeRange{Start: now.Add(time.Hour), End: now}, true},
		{"zero", AnalyticsTimeRange{End: now}, true},
		{"bad granularity", AnalyticsTimeRange{Start: now, End: now.Add(time.Hour), Granularity: "week"}, true},
		{"bad timezone", AnalyticsTimeRange{Start: now, End: now.Add(time.Hour), Timezone: "Mars/Olympus"}, true},
		{"named timezone", AnalyticsTimeRange{Start: now, End: now.Add(time.Hour), Timezone: "Europe/Berlin"}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.r.Validate()
			if tc.wantErr {
				assert.Error(t, err)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestTimeRangeNormalisedDefaults(t *testing.T) {
	now := time.Now()
	r := AnalyticsTimeRange{Start: now, End: now.Add(time.Hour)}.Normalised()
	assert.Equal(t, GranularityHour, r.Granularity)
	assert.Equal(t, "UTC", r.Timezone)
	assert.Equal(t, time.Hour, r.Step())
}

func TestIncidentStateMachine(t *testing.T) {
	assert.True(t, CanTransition(StateDetected, StateClassified))
	assert.True(t, CanTransition(StateContainmentDecided, StateEscalated))
	assert.True(t, CanTransition(StateEscalated, StateResolved))
	assert.False(t, CanTransition(StateDetected, StateContainmentDecided))
	assert.False(t, CanTransition(StateResolved, StateDetected))
	assert.False(t, CanTransition(StateContained, StateEscalated))
}

func TestEventEstimates(t *testing.T) {
	ev := ErrorEvent{Severity: SeverityHigh}
	assert.Equal(t, 1000.0, ev.EstimatedRevenueLoss())
	assert.Equal(t, 25, ev.EstimatedCustomers())

	ev.RevenueImpact = 42
	ev.AffectedCustomers = 3
	assert.Equal(t, 42.0, ev.EstimatedRevenueLoss())
	assert.Equal(t, 3, ev.EstimatedCustomers())
}

func TestCascadeRecordCloneIsDeep(t *testing.T) {
	rec := CascadePreventionRecord{
		TargetSystems: []SystemLayer{LayerAPI},
		Metadata:      map[string]string{"k": "v"},
	}
	clone := rec.Clone()
	clone.TargetSystems[0] = LayerSecurity
	clone.Metadata["k"] = "changed"
	assert.Equal(t, LayerAPI, rec.TargetSystems[0])
	assert.Equal(t, "v", rec.Metadata["k"])
}
