package analytics

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/miradorstack/mirador-resilience/internal/engine"
	"github.com/miradorstack/mirador-resilience/internal/models"
)

// BucketStore keeps minute and hour buckets for bounded retention windows. Memory is bounded
// by retention/width buckets per tier, each with at most maxSamples summaries.
type BucketStore struct {
	mu              sync.RWMutex
	minutes         map[int64]*Bucket
	hours           map[int64]*Bucket
	minuteRetention time.Duration
	hourRetention   time.Duration
	maxSamples      int
	classifier      *engine.Classifier
	now             func() time.Time
	lastPrune       time.Time
}

// NewBucketStore constructs a store with the given retention per tier.
func NewBucketStore(minuteRetention, hourRetention time.Duration, maxSamples int, classifier *engine.Classifier) *BucketStore {
	if minuteRetention <= 0 {
		minuteRetention = 48 * time.Hour
	}
	if hourRetention <= 0 {
		hourRetention = 90 * 24 * time.Hour
	}
	if maxSamples <= 0 {
		maxSamples = 50
	}
	if classifier == nil {
		classifier = engine.NewClassifier()
	}
	return &BucketStore{
		minutes:         make(map[int64]*Bucket),
		hours:           make(map[int64]*Bucket),
		minuteRetention: minuteRetention,
		hourRetention:   hourRetention,
		maxSamples:      maxSamples,
		classifier:      classifier,
		now:             time.Now,
	}
}

// Impact classifies a single event for bucket tallies.
func (s *BucketStore) Impact(ev models.ErrorEvent) models.BusinessImpact {
	impact, _, err := s.classifier.ClassifyEvent(ev, 0)
	if err != nil {
		return models.ImpactForSeverity(ev.Severity)
	}
	return impact
}

// Add folds an event into its minute and hour buckets. Events older than the hour
// retention are ignored and reported as not stored.
func (s *BucketStore) Add(ev models.ErrorEvent) bool {
	return s.add(ev, s.Impact(ev))
}

func (s *BucketStore) add(ev models.ErrorEvent, impact models.BusinessImpact) bool {
	now := s.now()
	if ev.Timestamp.Before(now.Add(-s.hourRetention)) {
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if ev.Timestamp.After(now.Add(-s.minuteRetention)) {
		s.bucketFor(s.minutes, ev.Timestamp, time.Minute).addEvent(ev, impact, s.maxSamples)
	}
	s.bucketFor(s.hours, ev.Timestamp, time.Hour).addEvent(ev, impact, s.maxSamples)
	s.pruneLocked(now)
	return true
}

// RecordRequests folds request volume into the buckets covering at.
func (s *BucketStore) RecordRequests(layer models.SystemLayer, count int, at time.Time) {
	if count <= 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bucketFor(s.minutes, at, time.Minute).addRequests(layer, count)
	s.bucketFor(s.hours, at, time.Hour).addRequests(layer, count)
}

// Series reduces the stored buckets for r. Minute granularity reads minute buckets; hour
// and day granularity read hour buckets, so cost is proportional to range/width.
func (s *BucketStore) Series(ctx context.Context, r models.AnalyticsTimeRange) (*Series, error) {
	out, err := newSeries(ctx, r)
	if err != nil {
		return nil, err
	}
	width := time.Hour
	tier := s.hours
	if r.Step() == time.Minute {
		width = time.Minute
		tier = s.minutes
	}
	w := int64(width / time.Second)
	first := r.Start.Unix() / w
	last := (r.End.Unix() - 1) / w

	s.mu.RLock()
	defer s.mu.RUnlock()
	for key := first; key <= last; key++ {
		if (key-first)%1024 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, fmt.Errorf("bucket scan: %w", err)
			}
		}
		if b, ok := tier[key]; ok {
			out.addBucket(b, s.maxSamples)
		}
	}
	return out, nil
}

// Len reports the number of minute and hour buckets held.
func (s *BucketStore) Len() (minutes, hours int) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.minutes), len(s.hours)
}

func (s *BucketStore) bucketFor(tier map[int64]*Bucket, ts time.Time, width time.Duration) *Bucket {
	key := ts.Unix() / int64(width/time.Second)
	b, ok := tier[key]
	if !ok {
		b = newBucket(time.Unix(key*int64(width/time.Second), 0).UTC())
		tier[key] = b
	}
	return b
}

// pruneLocked drops expired buckets at most once a minute.
func (s *BucketStore) pruneLocked(now time.Time) {
	if now.Sub(s.lastPrune) < time.Minute {
		return
	}
	s.lastPrune = now
	minuteCutoff := now.Add(-s.minuteRetention).Unix() / 60
	for key := range s.minutes {
		if key < minuteCutoff {
			delete(s.minutes, key)
		}
	}
	hourCutoff := now.Add(-s.hourRetention).Unix() / 3600
	for key := range s.hours {
		if key < hourCutoff {
			delete(s.hours, key)
		}
	}
}
