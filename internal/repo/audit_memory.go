package repo

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/miradorstack/mirador-resilience/internal/models"
)

// MemoryAuditTrail keeps cascade prevention records in process. Records are immutable once
// appended.
type MemoryAuditTrail struct {
	mu      sync.RWMutex
	records map[string]models.CascadePreventionRecord
}

// NewMemoryAuditTrail constructs an empty trail.
func NewMemoryAuditTrail() *MemoryAuditTrail {
	return &MemoryAuditTrail{records: make(map[string]models.CascadePreventionRecord)}
}

// Append stores rec, rejecting a propagation id that was already recorded.
func (m *MemoryAuditTrail) Append(_ context.Context, rec models.CascadePreventionRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.records[rec.PropagationID]; exists {
		return fmt.Errorf("%w: %s", models.ErrDuplicatePropagation, rec.PropagationID)
	}
	m.records[rec.PropagationID] = rec.Clone()
	return nil
}

// Get returns a copy of the record with the given propagation id.
func (m *MemoryAuditTrail) Get(_ context.Context, propagationID string) (models.CascadePreventionRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.records[propagationID]
	if !ok {
		return models.CascadePreventionRecord{}, models.ErrRecordNotFound
	}
	return rec.Clone(), nil
}

// ListRange returns copies of the records in [start, end), oldest first.
func (m *MemoryAuditTrail) ListRange(ctx context.Context, start, end time.Time) ([]models.CascadePreventionRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	out := make([]models.CascadePreventionRecord, 0)
	for _, rec := range m.records {
		if !rec.Timestamp.Before(start) && rec.Timestamp.Before(end) {
			out = append(out, rec.Clone())
		}
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Timestamp.Equal(out[j].Timestamp) {
			return out[i].PropagationID < out[j].PropagationID
		}
		return out[i].Timestamp.Before(out[j].Timestamp)
	})
	return out, nil
}
