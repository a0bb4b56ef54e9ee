package patterns

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/miradorstack/mirador-resilience/internal/cache"
	"github.com/miradorstack/mirador-resilience/internal/models"
)

type fakePatternStore struct {
	stored int
}

func (f *fakePatternStore) StorePatterns(ctx context.Context, patterns []models.CascadePattern) error {
	f.stored += len(patterns)
	return nil
}

func record(source models.SystemLayer, strategy models.ContainmentStrategy, outcome string, at time.Time, targets ...models.SystemLayer) models.CascadePreventionRecord {
	return models.CascadePreventionRecord{
		SourceSystem:        source,
		TargetSystems:       targets,
		ContainmentStrategy: strategy,
		Outcome:             outcome,
		Timestamp:           at,
	}
}

func TestMinerMinesPatterns(t *testing.T) {
	store := &fakePatternStore{}
	miner := NewMiner(nil, store)

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	records := []models.CascadePreventionRecord{
		record(models.LayerDataAccess, models.StrategyThrottle, models.OutcomeContained, now, models.LayerBusinessLogic, models.LayerAPI),
		record(models.LayerDataAccess, models.StrategyThrottle, models.OutcomeEscalated, now.Add(time.Hour), models.LayerAPI, models.LayerBusinessLogic),
		record(models.LayerDataAccess, models.StrategyFailover, models.OutcomeContained, now.Add(2*time.Hour), models.LayerBusinessLogic, models.LayerAPI),
		record(models.LayerSecurity, models.StrategyIsolate, models.OutcomeContained, now, models.LayerAPI),
	}

	patterns, err := miner.Mine(context.Background(), records)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(patterns) != 2 {
		t.Fatalf("expected 2 signatures, got %d", len(patterns))
	}
	top := patterns[0]
	if top.SourceSystem != models.LayerDataAccess || top.Occurrences != 3 {
		t.Fatalf("unexpected top pattern: %+v", top)
	}
	if top.DominantStrategy != models.StrategyThrottle {
		t.Fatalf("expected throttle to dominate, got %s", top.DominantStrategy)
	}
	if top.Prevalence != 0.75 {
		t.Fatalf("expected prevalence 0.75, got %v", top.Prevalence)
	}
	if top.EscalationRate < 0.33 || top.EscalationRate > 0.34 {
		t.Fatalf("expected escalation rate 1/3, got %v", top.EscalationRate)
	}
	if !top.LastSeen.Equal(now.Add(2 * time.Hour)) {
		t.Fatalf("unexpected last seen %s", top.LastSeen)
	}
	if store.stored == 0 {
		t.Fatalf("expected patterns to be stored")
	}
}

func TestMinerMinOccurrences(t *testing.T) {
	miner := NewMiner(nil, nil, WithMinOccurrences(2))
	now := time.Now()
	patterns, err := miner.Mine(context.Background(), []models.CascadePreventionRecord{
		record(models.LayerAPI, models.StrategyIsolate, models.OutcomeContained, now),
		record(models.LayerInfrastructure, models.StrategyFailover, models.OutcomeContained, now),
		record(models.LayerInfrastructure, models.StrategyFailover, models.OutcomeContained, now),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(patterns) != 1 || patterns[0].SourceSystem != models.LayerInfrastructure {
		t.Fatalf("expected only the repeated signature, got %+v", patterns)
	}
}

func TestMinerEmptyInput(t *testing.T) {
	patterns, err := NewMiner(nil, nil).Mine(context.Background(), nil)
	if err != nil || patterns == nil || len(patterns) != 0 {
		t.Fatalf("expected empty non-nil result, got %v %v", patterns, err)
	}
}

func TestCacheStorePersistsPatterns(t *testing.T) {
	provider := cache.NewMemoryProvider(0)
	miner := NewMiner(nil, CacheStore(provider, time.Minute))
	now := time.Now()
	if _, err := miner.Mine(context.Background(), []models.CascadePreventionRecord{
		record(models.LayerExternalServices, models.StrategyThrottle, models.OutcomeContained, now, models.LayerBusinessLogic),
	}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	data, err := provider.Get(context.Background(), PatternsKey)
	if err != nil {
		t.Fatalf("expected stored patterns: %v", err)
	}
	var stored []models.CascadePattern
	if err := json.Unmarshal(data, &stored); err != nil || len(stored) != 1 {
		t.Fatalf("unexpected stored payload %s (%v)", data, err)
	}
}
