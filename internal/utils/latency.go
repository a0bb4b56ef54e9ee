package utils

import (
	"math"
	"sort"
	"sync"
	"time"
)

// LatencyTracker keeps the most recent durations in a fixed ring and answers
// nearest-rank percentiles over them.
type LatencyTracker struct {
	mu    sync.Mutex
	ring  []time.Duration
	next  int
	full  bool
	total uint64
}

// NewLatencyTracker creates a tracker retaining up to size samples.
func NewLatencyTracker(size int) *LatencyTracker {
	if size <= 0 {
		size = 512
	}
	return &LatencyTracker{ring: make([]time.Duration, size)}
}

// Observe records d, overwriting the oldest retained sample once the ring is full.
func (l *LatencyTracker) Observe(d time.Duration) {
	if d < 0 {
		d = 0
	}
	l.mu.Lock()
	l.ring[l.next] = d
	l.next = (l.next + 1) % len(l.ring)
	if l.next == 0 {
		l.full = true
	}
	l.total++
	l.mu.Unlock()
}

// Percentile returns the p-th (0-100) percentile of the retained samples, or zero when empty.
func (l *LatencyTracker) Percentile(p float64) time.Duration {
	return l.Percentiles(p)[0]
}

// Percentiles answers several percentiles from one sorted copy.
func (l *LatencyTracker) Percentiles(ps ...float64) []time.Duration {
	out := make([]time.Duration, len(ps))
	sorted := l.sorted()
	if len(sorted) == 0 {
		return out
	}
	for i, p := range ps {
		out[i] = sorted[rank(p, len(sorted))]
	}
	return out
}

// Count returns the number of retained samples.
func (l *LatencyTracker) Count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.retained()
}

// Total returns every observation ever recorded, including evicted ones.
func (l *LatencyTracker) Total() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.total
}

func (l *LatencyTracker) retained() int {
	if l.full {
		return len(l.ring)
	}
	return l.next
}

func (l *LatencyTracker) sorted() []time.Duration {
	l.mu.Lock()
	sorted := append([]time.Duration(nil), l.ring[:l.retained()]...)
	l.mu.Unlock()
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	return sorted
}

// rank maps p onto an index with the nearest-rank method.
func rank(p float64, n int) int {
	if p <= 0 || math.IsNaN(p) {
		return 0
	}
	if p >= 100 {
		return n - 1
	}
	idx := int(math.Ceil(p/100*float64(n))) - 1
	if idx < 0 {
		return 0
	}
	return idx
}
