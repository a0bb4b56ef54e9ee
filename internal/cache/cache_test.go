package cache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubProvider struct {
	mu    sync.Mutex
	store map[string][]byte
	fail  bool
}

func newStubProvider() *stubProvider {
	return &stubProvider{store: make(map[string][]byte)}
}

func (s *stubProvider) Get(_ context.Context, key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail {
		return nil, errors.New("unreachable")
	}
	v, ok := s.store[key]
	if !ok {
		return nil, ErrCacheMiss
	}
	return append([]byte(nil), v...), nil
}

func (s *stubProvider) Set(_ context.Context, key string, value []byte, _ time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail {
		return errors.New("unreachable")
	}
	s.store[key] = append([]byte(nil), value...)
	return nil
}

func (s *stubProvider) SetNX(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	return true, s.Set(ctx, key, value, ttl)
}

func (s *stubProvider) Del(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.store, key)
	return nil
}

func (s *stubProvider) Close() error { return nil }

type payload struct {
	Total float64 `json:"total"`
	Full  bool    `json:"full"`
}

func TestMemoryProviderTTLAndCapacity(t *testing.T) {
	ctx := context.Background()
	clock := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	mem := NewMemoryProvider(2)
	mem.now = func() time.Time { return clock }

	require.NoError(t, mem.Set(ctx, "a", []byte("1"), time.Second))
	ok, err := mem.SetNX(ctx, "a", []byte("2"), time.Second)
	require.NoError(t, err)
	assert.False(t, ok)

	clock = clock.Add(2 * time.Second)
	_, err = mem.Get(ctx, "a")
	assert.ErrorIs(t, err, ErrCacheMiss)

	require.NoError(t, mem.Set(ctx, "b", []byte("1"), time.Minute))
	require.NoError(t, mem.Set(ctx, "c", []byte("1"), time.Hour))
	require.NoError(t, mem.Set(ctx, "d", []byte("1"), time.Hour))
	assert.Equal(t, 2, mem.Len())
	_, err = mem.Get(ctx, "b")
	assert.ErrorIs(t, err, ErrCacheMiss, "soonest-expiring key is evicted first")
}

func TestFetchCollapsesConcurrentCalls(t *testing.T) {
	rc := NewResultCache(nil, newStubProvider(), nil)
	var calls int32
	release := make(chan struct{})

	compute := func(context.Context) (payload, error) {
		atomic.AddInt32(&calls, 1)
		<-release
		return payload{Total: 42.5, Full: true}, nil
	}

	var wg sync.WaitGroup
	results := make([]payload, 10)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			v, _, err := Fetch(context.Background(), rc, Request[payload]{Key: "k", TTL: time.Minute}, compute)
			assert.NoError(t, err)
			results[i] = v
		}(i)
	}
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.LessOrEqual(t, atomic.LoadInt32(&calls), int32(2))
	for _, r := range results {
		assert.Equal(t, 42.5, r.Total)
	}

	v, hit, err := Fetch(context.Background(), rc, Request[payload]{Key: "k", TTL: time.Minute}, compute)
	require.NoError(t, err)
	assert.True(t, hit)
	assert.Equal(t, 42.5, v.Total)
}

func TestFetchSkipsIncompleteResults(t *testing.T) {
	rc := NewResultCache(nil, nil, nil)
	req := Request[payload]{Key: "partial", TTL: time.Minute, Store: func(p payload) bool { return p.Full }}

	_, _, err := Fetch(context.Background(), rc, req, func(context.Context) (payload, error) {
		return payload{Total: 1}, nil
	})
	require.NoError(t, err)

	_, hit, err := Fetch(context.Background(), rc, req, func(context.Context) (payload, error) {
		return payload{Total: 2, Full: true}, nil
	})
	require.NoError(t, err)
	assert.False(t, hit)
}

func TestFetchErrorIsNotCached(t *testing.T) {
	rc := NewResultCache(nil, nil, nil)
	req := Request[payload]{Key: "err", TTL: time.Minute}
	_, _, err := Fetch(context.Background(), rc, req, func(context.Context) (payload, error) {
		return payload{}, errors.New("boom")
	})
	require.Error(t, err)

	v, hit, err := Fetch(context.Background(), rc, req, func(context.Context) (payload, error) {
		return payload{Total: 3}, nil
	})
	require.NoError(t, err)
	assert.False(t, hit)
	assert.Equal(t, 3.0, v.Total)
}

func TestFetchBudgetAndCallerCancellation(t *testing.T) {
	rc := NewResultCache(nil, nil, nil)
	req := Request[payload]{Key: "slow", TTL: time.Minute, Budget: 20 * time.Millisecond}
	_, _, err := Fetch(context.Background(), rc, req, func(ctx context.Context) (payload, error) {
		<-ctx.Done()
		return payload{}, ctx.Err()
	})
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, _, err = Fetch(ctx, rc, Request[payload]{Key: "cancelled"}, func(context.Context) (payload, error) {
		time.Sleep(10 * time.Millisecond)
		return payload{}, nil
	})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestFetchReadsSharedTier(t *testing.T) {
	shared := newStubProvider()
	shared.store["remote"] = []byte(`{"total":7,"full":true}`)
	rc := NewResultCache(nil, shared, nil)

	v, hit, err := Fetch(context.Background(), rc, Request[payload]{Key: "remote", TTL: time.Minute}, func(context.Context) (payload, error) {
		t.Fatal("compute must not run on a shared hit")
		return payload{}, nil
	})
	require.NoError(t, err)
	assert.True(t, hit)
	assert.Equal(t, 7.0, v.Total)

	shared.fail = true
	_, _, err = Fetch(context.Background(), rc, Request[payload]{Key: "other"}, func(context.Context) (payload, error) {
		return payload{Total: 1}, nil
	})
	assert.NoError(t, err, "shared tier failures degrade to recomputation")
}

func TestJSONHelpers(t *testing.T) {
	ctx := context.Background()
	p := NewMemoryProvider(0)

	var out map[string]int
	found, err := GetJSON(ctx, p, "k", &out)
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, SetJSON(ctx, p, "k", map[string]int{"a": 1}, time.Minute))
	found, err = GetJSON(ctx, p, "k", &out)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, 1, out["a"])

	require.NoError(t, p.Set(ctx, "bad", []byte("{"), time.Minute))
	_, err = GetJSON(ctx, p, "bad", &out)
	assert.Error(t, err)

	found, err = GetJSON(ctx, NoopProvider{}, "k", &out)
	require.NoError(t, err)
	assert.False(t, found)
}
