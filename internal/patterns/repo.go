package patterns

import (
	"context"
	"time"

	"github.com/miradorstack/mirador-resilience/internal/cache"
	"github.com/miradorstack/mirador-resilience/internal/models"
)

// StoreFunc adapts a function to the Store interface.
type StoreFunc func(ctx context.Context, patterns []models.CascadePattern) error

// StorePatterns implements Store.
func (f StoreFunc) StorePatterns(ctx context.Context, patterns []models.CascadePattern) error {
	return f(ctx, patterns)
}

// PatternsKey is the cache key holding the most recently mined signatures.
const PatternsKey = "patterns:cascade:latest"

// CacheStore persists mined patterns into a cache provider.
func CacheStore(provider cache.Provider, ttl time.Duration) Store {
	return StoreFunc(func(ctx context.Context, patterns []models.CascadePattern) error {
		return cache.SetJSON(ctx, provider, PatternsKey, patterns, ttl)
	})
}
