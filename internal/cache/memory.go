package cache

import (
	"context"
	"sync"
	"time"
)

type memoryItem struct {
	value     []byte
	expiresAt time.Time
}

func (i memoryItem) expired(now time.Time) bool {
	return !i.expiresAt.IsZero() && now.After(i.expiresAt)
}

// MemoryProvider is a bounded in-process Provider with per-key TTL.
type MemoryProvider struct {
	mu       sync.Mutex
	data     map[string]memoryItem
	capacity int
	now      func() time.Time
}

// NewMemoryProvider creates a memory cache holding at most capacity keys.
func NewMemoryProvider(capacity int) *MemoryProvider {
	if capacity <= 0 {
		capacity = 4096
	}
	return &MemoryProvider{data: make(map[string]memoryItem), capacity: capacity, now: time.Now}
}

// Get returns a copy of the stored bytes.
func (m *MemoryProvider) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	it, ok := m.data[key]
	if !ok {
		return nil, ErrCacheMiss
	}
	if it.expired(m.now()) {
		delete(m.data, key)
		return nil, ErrCacheMiss
	}
	return append([]byte(nil), it.value...), nil
}

// Set replaces the value atomically.
func (m *MemoryProvider) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.store(key, value, ttl)
	return nil
}

// SetNX stores the value only when the key is absent or expired.
func (m *MemoryProvider) SetNX(_ context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if it, ok := m.data[key]; ok && !it.expired(m.now()) {
		return false, nil
	}
	m.store(key, value, ttl)
	return true, nil
}

// Del removes an entry.
func (m *MemoryProvider) Del(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}

// Close drops every entry.
func (m *MemoryProvider) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data = make(map[string]memoryItem)
	return nil
}

// Len reports the number of live entries.
func (m *MemoryProvider) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	n := 0
	for _, it := range m.data {
		if !it.expired(now) {
			n++
		}
	}
	return n
}

// store must be called with mu held.
func (m *MemoryProvider) store(key string, value []byte, ttl time.Duration) {
	now := m.now()
	if _, exists := m.data[key]; !exists && len(m.data) >= m.capacity {
		m.evict(now)
	}
	var expires time.Time
	if ttl > 0 {
		expires = now.Add(ttl)
	}
	m.data[key] = memoryItem{value: append([]byte(nil), value...), expiresAt: expires}
}

// evict drops expired keys, then the key closest to expiry when still full.
func (m *MemoryProvider) evict(now time.Time) {
	for key, it := range m.data {
		if it.expired(now) {
			delete(m.data, key)
		}
	}
	if len(m.data) < m.capacity {
		return
	}
	var victim string
	var soonest time.Time
	for key, it := range m.data {
		if victim == "" || (!it.expiresAt.IsZero() && (soonest.IsZero() || it.expiresAt.Before(soonest))) {
			victim, soonest = key, it.expiresAt
		}
	}
	delete(m.data, victim)
}
