package patterns

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/miradorstack/mirador-resilience/internal/models"
)

// Store abstracts persistence for mined patterns.
type Store interface {
	StorePatterns(ctx context.Context, patterns []models.CascadePattern) error
}

// Miner mines recurring cascade signatures from the prevention audit trail.
type Miner struct {
	store          Store
	logger         *slog.Logger
	minOccurrences int
}

// Option customises a Miner.
type Option func(*Miner)

// WithMinOccurrences drops signatures seen fewer than n times.
func WithMinOccurrences(n int) Option {
	return func(m *Miner) {
		if n > 0 {
			m.minOccurrences = n
		}
	}
}

// NewMiner constructs a Miner; store may be nil for dry runs.
func NewMiner(logger *slog.Logger, store Store, opts ...Option) *Miner {
	if logger == nil {
		logger = slog.Default()
	}
	m := &Miner{store: store, logger: logger, minOccurrences: 1}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Mine groups records by source layer and target set and returns the signatures ordered by
// prevalence.
func (m *Miner) Mine(ctx context.Context, records []models.CascadePreventionRecord) ([]models.CascadePattern, error) {
	patterns := make([]models.CascadePattern, 0)
	if len(records) == 0 {
		return patterns, nil
	}

	signatures := make(map[string]*signatureAggregate)
	for _, rec := range records {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		targets := sortedTargets(rec.TargetSystems)
		key := signatureKey(rec.SourceSystem, targets)
		agg, ok := signatures[key]
		if !ok {
			agg = &signatureAggregate{
				source:     rec.SourceSystem,
				targets:    targets,
				strategies: make(map[models.ContainmentStrategy]int),
			}
			signatures[key] = agg
		}
		agg.count++
		agg.strategies[rec.ContainmentStrategy]++
		if rec.Outcome == models.OutcomeEscalated {
			agg.escalated++
		}
		if rec.Timestamp.After(agg.lastSeen) {
			agg.lastSeen = rec.Timestamp
		}
	}

	for key, agg := range signatures {
		if agg.count < m.minOccurrences {
			continue
		}
		patterns = append(patterns, models.CascadePattern{
			ID:               "cascade-" + key,
			SourceSystem:     agg.source,
			TargetSystems:    agg.targets,
			Occurrences:      agg.count,
			Prevalence:       float64(agg.count) / float64(len(records)),
			DominantStrategy: agg.dominantStrategy(),
			EscalationRate:   float64(agg.escalated) / float64(agg.count),
			LastSeen:         agg.lastSeen.UTC(),
		})
	}

	sort.Slice(patterns, func(i, j int) bool {
		if patterns[i].Prevalence != patterns[j].Prevalence {
			return patterns[i].Prevalence > patterns[j].Prevalence
		}
		return patterns[i].ID < patterns[j].ID
	})

	if m.store != nil && len(patterns) > 0 {
		if err := m.store.StorePatterns(ctx, patterns); err != nil {
			m.logger.Warn("pattern store failed", slog.Any("error", err))
		}
	}

	return patterns, nil
}

type signatureAggregate struct {
	source     models.SystemLayer
	targets    []models.SystemLayer
	count      int
	escalated  int
	strategies map[models.ContainmentStrategy]int
	lastSeen   time.Time
}

// dominantStrategy prefers the most used strategy, then the less invasive one.
func (agg *signatureAggregate) dominantStrategy() models.ContainmentStrategy {
	var (
		best  models.ContainmentStrategy
		count int
	)
	for strategy, n := range agg.strategies {
		if n > count || (n == count && strategy.Invasiveness() < best.Invasiveness()) {
			best, count = strategy, n
		}
	}
	return best
}

func sortedTargets(targets []models.SystemLayer) []models.SystemLayer {
	out := append([]models.SystemLayer(nil), targets...)
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func signatureKey(source models.SystemLayer, targets []models.SystemLayer) string {
	if source == "" {
		source = "unknown"
	}
	parts := make([]string, len(targets))
	for i, t := range targets {
		parts[i] = string(t)
	}
	if len(parts) == 0 {
		return string(source)
	}
	return string(source) + "->" + strings.Join(parts, "+")
}
