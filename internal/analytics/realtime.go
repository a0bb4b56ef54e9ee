package analytics

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/miradorstack/mirador-resilience/internal/models"
)

type secondSlot struct {
	second    int64
	events    int
	severity  [4]int
	revenue   float64
	customers int
	peak      models.BusinessImpact
}

// RealtimeTracker keeps a per-second ring covering the realtime window, keyed on arrival time.
type RealtimeTracker struct {
	mu     sync.Mutex
	slots  []secondSlot
	window time.Duration
	total  atomic.Uint64
	last   atomic.Int64
	now    func() time.Time
}

// NewRealtimeTracker constructs a tracker for the given window, one slot per second.
func NewRealtimeTracker(window time.Duration) *RealtimeTracker {
	if window < time.Second {
		window = time.Minute
	}
	return &RealtimeTracker{
		slots:  make([]secondSlot, int(window/time.Second)),
		window: window,
		now:    time.Now,
	}
}

// Record counts ev against the current second.
func (t *RealtimeTracker) Record(ev models.ErrorEvent, impact models.BusinessImpact) {
	now := t.now()
	sec := now.Unix()
	t.total.Add(1)
	t.last.Store(now.UnixNano())

	t.mu.Lock()
	defer t.mu.Unlock()
	slot := &t.slots[int(sec%int64(len(t.slots)))]
	if slot.second != sec {
		*slot = secondSlot{second: sec}
	}
	slot.events++
	if r := ev.Severity.Rank(); r >= 1 && r <= 4 {
		slot.severity[r-1]++
	}
	slot.revenue += ev.EstimatedRevenueLoss()
	slot.customers += ev.EstimatedCustomers()
	if impact > slot.peak {
		slot.peak = impact
	}
}

// Snapshot reduces the live window. Layer health is filled in by the caller.
func (t *RealtimeTracker) Snapshot() models.RealtimeAnalytics {
	now := t.now()
	oldest := now.Unix() - int64(len(t.slots)) + 1
	out := models.RealtimeAnalytics{
		AsOf:           now.UTC(),
		Window:         t.window,
		SeverityCounts: make(map[models.Severity]int, 4),
		TotalIngested:  t.total.Load(),
	}
	for _, sev := range []models.Severity{models.SeverityLow, models.SeverityMedium, models.SeverityHigh, models.SeverityCritical} {
		out.SeverityCounts[sev] = 0
	}
	if last := t.last.Load(); last > 0 {
		out.LastEventAt = time.Unix(0, last).UTC()
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	for i := range t.slots {
		slot := t.slots[i]
		if slot.events == 0 || slot.second < oldest || slot.second > now.Unix() {
			continue
		}
		out.ErrorsInWindow += slot.events
		out.RevenueAtRisk += slot.revenue
		out.CustomersAffected += slot.customers
		for rank, n := range slot.severity {
			out.SeverityCounts[severityForRank(rank+1)] += n
		}
		if slot.peak > out.CurrentImpact {
			out.CurrentImpact = slot.peak
		}
	}
	out.ErrorsPerMinute = float64(out.ErrorsInWindow) / t.window.Minutes()
	return out
}

func severityForRank(rank int) models.Severity {
	switch rank {
	case 4:
		return models.SeverityCritical
	case 3:
		return models.SeverityHigh
	case 2:
		return models.SeverityMedium
	default:
		return models.SeverityLow
	}
}
