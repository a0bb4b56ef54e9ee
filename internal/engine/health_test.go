package engine

import (
	"math"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/miradorstack/mirador-resilience/internal/models"
	"github.com/miradorstack/mirador-resilience/internal/utils"
)

func newTestAggregator(now time.Time) *HealthAggregator {
	settings := DefaultHealthSettings()
	settings.BaselineRequestsPerMinute = 0
	agg := NewHealthAggregator(settings, nil)
	agg.now = func() time.Time { return now }
	return agg
}

func TestHealthEscalatesOneLevelPerCheck(t *testing.T) {
	now := time.Date(2026, 5, 1, 12, 0, 30, 0, time.UTC)
	agg := newTestAggregator(now)
	layer := models.LayerDataAccess

	var levels []models.HealthLevel
	for i := 0; i < 3; i++ {
		// keep the window error rate at 0.2, above the critical threshold
		require.NoError(t, agg.RecordRequests(layer, 5, now))
		state, _, err := agg.Ingest(models.ErrorEvent{Timestamp: now, Layer: layer, Severity: models.SeverityHigh})
		require.NoError(t, err)
		assert.InDelta(t, 0.2, state.ErrorRate, 1e-9)
		levels = append(levels, state.Health)
	}

	assert.Equal(t, []models.HealthLevel{models.HealthDegraded, models.HealthCritical, models.HealthCritical}, levels)
}

func TestHealthHysteresisRequiresCleanChecks(t *testing.T) {
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	agg := newTestAggregator(now)
	layer := models.LayerAPI
	k := agg.Settings().CleanChecks

	_, tr, err := agg.ApplyHealthCheck(HealthSample{Layer: layer, ErrorRate: 0.08})
	require.NoError(t, err)
	require.NotNil(t, tr)
	assert.Equal(t, models.HealthDegraded, tr.To)

	for i := 0; i < k-1; i++ {
		state, tr, err := agg.ApplyHealthCheck(HealthSample{Layer: layer, ErrorRate: 0})
		require.NoError(t, err)
		assert.Nil(t, tr)
		assert.Equal(t, models.HealthDegraded, state.Health)
	}

	// a dirty check resets the counter
	state, _, _ := agg.ApplyHealthCheck(HealthSample{Layer: layer, ErrorRate: 0.06})
	assert.Equal(t, 0, state.CleanChecks)

	for i := 0; i < k-1; i++ {
		state, _, _ = agg.ApplyHealthCheck(HealthSample{Layer: layer, ErrorRate: 0})
		assert.Equal(t, models.HealthDegraded, state.Health)
	}
	state, tr, _ = agg.ApplyHealthCheck(HealthSample{Layer: layer, ErrorRate: 0})
	require.NotNil(t, tr)
	assert.Equal(t, models.HealthHealthy, state.Health)
	assert.False(t, tr.Escalating())
}

func TestHealthDropsEventsOutsideWindow(t *testing.T) {
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	agg := newTestAggregator(now)

	state, tr, err := agg.Ingest(models.ErrorEvent{Timestamp: now.Add(-time.Hour), Layer: models.LayerSecurity, Severity: models.SeverityCritical})
	require.NoError(t, err)
	assert.Nil(t, tr)
	assert.Equal(t, models.HealthHealthy, state.Health)
	assert.Equal(t, 1, agg.Dropped(models.LayerSecurity))
}

func TestHealthWindowExpiresOnTick(t *testing.T) {
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	agg := newTestAggregator(now)
	layer := models.LayerBusinessLogic

	require.NoError(t, agg.RecordRequests(layer, 10, now))
	_, _, err := agg.Ingest(models.ErrorEvent{Timestamp: now, Layer: layer, Severity: models.SeverityMedium})
	require.NoError(t, err)

	later := now.Add(10 * time.Minute)
	agg.Tick(later)
	state, err := agg.GetLayerHealth(layer)
	require.NoError(t, err)
	assert.Zero(t, state.ErrorRate)
	assert.Zero(t, state.Errors)
}

func TestHealthLayersAreIndependentUnderConcurrency(t *testing.T) {
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	settings := DefaultHealthSettings()
	settings.BaselineRequestsPerMinute = 1000
	agg := NewHealthAggregator(settings, nil)
	agg.now = func() time.Time { return now }

	var wg sync.WaitGroup
	for _, layer := range models.AllLayers() {
		for i := 0; i < 50; i++ {
			wg.Add(1)
			go func(layer models.SystemLayer, i int) {
				defer wg.Done()
				ts := now.Add(-time.Duration(i%4) * time.Minute)
				_, _, err := agg.Ingest(models.ErrorEvent{Timestamp: ts, Layer: layer, Severity: models.SeverityLow})
				assert.NoError(t, err)
			}(layer, i)
		}
	}
	wg.Wait()

	for _, state := range agg.GetAllLayerHealth() {
		assert.Equal(t, 50, state.Errors, string(state.Layer))
	}
}

func TestHealthSnapshotRestore(t *testing.T) {
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	agg := newTestAggregator(now)
	_, _, err := agg.ApplyHealthCheck(HealthSample{Layer: models.LayerInfrastructure, ErrorRate: 0.5})
	require.NoError(t, err)

	snap := agg.Snapshot()
	restored := newTestAggregator(now)
	restored.Restore(snap)

	state, err := restored.GetLayerHealth(models.LayerInfrastructure)
	require.NoError(t, err)
	assert.Equal(t, models.HealthDegraded, state.Health)

	_, err = restored.GetLayerHealth("mainframe")
	assert.Error(t, err)
}

func TestHealthCheckRejectsNaN(t *testing.T) {
	agg := newTestAggregator(time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC))
	_, _, err := agg.ApplyHealthCheck(HealthSample{Layer: models.LayerAPI, ErrorRate: math.NaN()})
	assert.True(t, utils.IsKind(err, utils.KindValidation), "got %v", err)
}

func TestRestoreSkipsInvalidEntries(t *testing.T) {
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	agg := newTestAggregator(now)
	agg.Restore(HealthSnapshot{TakenAt: now, Layers: []models.SystemLayerHealth{
		{Layer: models.LayerAPI, Health: models.HealthLevel(9), ErrorRate: 0.2},
		{Layer: models.LayerSecurity, Health: models.HealthCritical, ErrorRate: math.NaN()},
		{Layer: models.LayerInfrastructure, Health: models.HealthCritical, ErrorRate: 0.2},
	}})

	for layer, want := range map[models.SystemLayer]models.HealthLevel{
		models.LayerAPI:            models.HealthHealthy,
		models.LayerSecurity:       models.HealthHealthy,
		models.LayerInfrastructure: models.HealthCritical,
	} {
		state, err := agg.GetLayerHealth(layer)
		require.NoError(t, err)
		assert.Equal(t, want, state.Health, layer)
	}
}
