package cache

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"golang.org/x/sync/singleflight"
)

// ResultCache layers an in-process cache over a shared Provider and collapses
// concurrent identical computations into one.
type ResultCache struct {
	local  *MemoryProvider
	shared Provider
	group  singleflight.Group
	logger *slog.Logger
}

// NewResultCache wires the local tier and an optional shared provider.
func NewResultCache(local *MemoryProvider, shared Provider, logger *slog.Logger) *ResultCache {
	if local == nil {
		local = NewMemoryProvider(0)
	}
	if shared == nil {
		shared = NoopProvider{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ResultCache{local: local, shared: shared, logger: logger}
}

// Request describes one cached computation.
type Request[T any] struct {
	Key string
	TTL time.Duration
	// Budget bounds the computation independently of any single caller.
	Budget time.Duration
	// Store decides whether a computed value is complete enough to cache. Nil stores everything.
	Store func(T) bool
}

// Fetch returns the cached value for req.Key or computes it once across concurrent callers.
// Each caller receives its own decoded copy. The bool result reports a cache hit.
func Fetch[T any](ctx context.Context, c *ResultCache, req Request[T], compute func(context.Context) (T, error)) (T, bool, error) {
	var zero T

	if data, ok := c.lookup(ctx, req.Key, req.TTL); ok {
		var out T
		if err := json.Unmarshal(data, &out); err == nil {
			return out, true, nil
		}
		c.logger.Warn("discarding undecodable cache entry", slog.String("key", req.Key))
		_ = c.local.Del(ctx, req.Key)
	}

	ch := c.group.DoChan(req.Key, func() (interface{}, error) {
		runCtx := context.WithoutCancel(ctx)
		var cancel context.CancelFunc
		if req.Budget > 0 {
			runCtx, cancel = context.WithTimeout(runCtx, req.Budget)
		} else {
			runCtx, cancel = context.WithCancel(runCtx)
		}
		defer cancel()

		value, err := compute(runCtx)
		if err != nil {
			return nil, err
		}
		data, err := json.Marshal(value)
		if err != nil {
			return nil, err
		}
		if req.Store == nil || req.Store(value) {
			c.store(runCtx, req.Key, data, req.TTL)
		}
		return data, nil
	})

	select {
	case <-ctx.Done():
		return zero, false, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return zero, false, res.Err
		}
		var out T
		if err := json.Unmarshal(res.Val.([]byte), &out); err != nil {
			return zero, false, err
		}
		return out, false, nil
	}
}

// Invalidate removes a key from both tiers.
func (c *ResultCache) Invalidate(ctx context.Context, key string) {
	_ = c.local.Del(ctx, key)
	if err := c.shared.Del(ctx, key); err != nil {
		c.logger.Debug("shared cache delete failed", slog.String("key", key), slog.Any("error", err))
	}
}

// Shared exposes the shared provider for snapshot persistence.
func (c *ResultCache) Shared() Provider { return c.shared }

func (c *ResultCache) lookup(ctx context.Context, key string, ttl time.Duration) ([]byte, bool) {
	if data, err := c.local.Get(ctx, key); err == nil {
		return data, true
	}
	data, err := c.shared.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, ErrCacheMiss) {
			c.logger.Debug("shared cache lookup failed", slog.String("key", key), slog.Any("error", err))
		}
		return nil, false
	}
	_ = c.local.Set(ctx, key, data, ttl)
	return data, true
}

func (c *ResultCache) store(ctx context.Context, key string, data []byte, ttl time.Duration) {
	_ = c.local.Set(ctx, key, data, ttl)
	if err := c.shared.Set(ctx, key, data, ttl); err != nil {
		c.logger.Debug("shared cache write failed", slog.String("key", key), slog.Any("error", err))
	}
}
