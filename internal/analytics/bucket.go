package analytics

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/miradorstack/mirador-resilience/internal/models"
	"github.com/miradorstack/mirador-resilience/internal/utils"
)

// severityWeight turns severity counts into a bucket error score.
var severityWeight = map[models.Severity]float64{
	models.SeverityLow:      1,
	models.SeverityMedium:   5,
	models.SeverityHigh:     25,
	models.SeverityCritical: 100,
}

// LayerTally is the per-layer share of a bucket.
type LayerTally struct {
	Events   int
	Critical int
	High     int
	Requests int
	Score    float64
}

// Bucket is a pre-aggregated slice of time. It never holds raw events, only counts and a
// bounded list of identity-free summaries.
type Bucket struct {
	Start     time.Time
	Events    int
	Severity  map[models.Severity]int
	Impacts   map[models.BusinessImpact]int
	Layers    map[models.SystemLayer]*LayerTally
	Requests  int
	Revenue   float64
	Customers int
	Samples   []models.EventSummary
}

func newBucket(start time.Time) *Bucket {
	return &Bucket{
		Start:    start,
		Severity: make(map[models.Severity]int),
		Impacts:  make(map[models.BusinessImpact]int),
		Layers:   make(map[models.SystemLayer]*LayerTally),
	}
}

func (b *Bucket) layer(l models.SystemLayer) *LayerTally {
	t, ok := b.Layers[l]
	if !ok {
		t = &LayerTally{}
		b.Layers[l] = t
	}
	return t
}

func (b *Bucket) addEvent(ev models.ErrorEvent, impact models.BusinessImpact, maxSamples int) {
	b.Events++
	b.Severity[ev.Severity]++
	b.Impacts[impact]++
	b.Revenue += ev.EstimatedRevenueLoss()
	b.Customers += ev.EstimatedCustomers()

	t := b.layer(ev.Layer)
	t.Events++
	t.Score += severityWeight[ev.Severity]
	switch ev.Severity {
	case models.SeverityCritical:
		t.Critical++
	case models.SeverityHigh:
		t.High++
	}

	b.Samples = keepMostSevere(append(b.Samples, models.EventSummary{
		Timestamp: ev.Timestamp.UTC(),
		Layer:     ev.Layer,
		Severity:  ev.Severity,
		Kind:      utils.SafeLabel(ev.Kind),
		Impact:    impact,
	}), maxSamples)
}

func (b *Bucket) addRequests(l models.SystemLayer, count int) {
	b.Requests += count
	b.layer(l).Requests += count
}

func (b *Bucket) merge(o *Bucket, maxSamples int) {
	b.Events += o.Events
	b.Requests += o.Requests
	b.Revenue += o.Revenue
	b.Customers += o.Customers
	for sev, n := range o.Severity {
		b.Severity[sev] += n
	}
	for impact, n := range o.Impacts {
		b.Impacts[impact] += n
	}
	for l, ot := range o.Layers {
		t := b.layer(l)
		t.Events += ot.Events
		t.Critical += ot.Critical
		t.High += ot.High
		t.Requests += ot.Requests
		t.Score += ot.Score
	}
	if len(o.Samples) > 0 {
		b.Samples = keepMostSevere(append(b.Samples, o.Samples...), maxSamples)
	}
}

// ErrorScore is the severity-weighted event count.
func (b *Bucket) ErrorScore() float64 {
	var score float64
	for sev, n := range b.Severity {
		score += severityWeight[sev] * float64(n)
	}
	return score
}

// ErrorRate is events over supplied request volume, or 0 when no volume is known.
func (b *Bucket) ErrorRate() float64 {
	if b.Requests <= 0 {
		return 0
	}
	if b.Events >= b.Requests {
		return 1
	}
	return float64(b.Events) / float64(b.Requests)
}

// MaxSeverity returns the worst severity seen, or "" for an empty bucket.
func (b *Bucket) MaxSeverity() models.Severity {
	var worst models.Severity
	for sev, n := range b.Severity {
		if n > 0 && sev.Rank() > worst.Rank() {
			worst = sev
		}
	}
	return worst
}

// DominantLayer is the layer contributing the highest error score.
func (b *Bucket) DominantLayer() models.SystemLayer {
	var (
		best  models.SystemLayer
		score float64
	)
	for _, l := range models.AllLayers() {
		if t, ok := b.Layers[l]; ok && t.Score > score {
			best, score = l, t.Score
		}
	}
	return best
}

func moreSevere(a, b models.EventSummary) bool {
	if a.Impact != b.Impact {
		return a.Impact > b.Impact
	}
	if a.Severity.Rank() != b.Severity.Rank() {
		return a.Severity.Rank() > b.Severity.Rank()
	}
	return a.Timestamp.After(b.Timestamp)
}

func keepMostSevere(samples []models.EventSummary, max int) []models.EventSummary {
	if max <= 0 || len(samples) <= max {
		return samples
	}
	sort.SliceStable(samples, func(i, j int) bool { return moreSevere(samples[i], samples[j]) })
	return samples[:max:max]
}

// Series is a time range reduced into step buckets.
type Series struct {
	Range   models.AnalyticsTimeRange
	Buckets []*Bucket
}

func newSeries(ctx context.Context, r models.AnalyticsTimeRange) (*Series, error) {
	starts := utils.BucketStarts(r.Start, r.End, r.Step(), r.Location())
	s := &Series{Range: r, Buckets: make([]*Bucket, len(starts))}
	for i, start := range starts {
		if i%1024 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, fmt.Errorf("build series: %w", err)
			}
		}
		s.Buckets[i] = newBucket(start)
	}
	return s, nil
}

// slot finds the step bucket holding ts, or -1.
func (s *Series) slot(ts time.Time) int {
	i := sort.Search(len(s.Buckets), func(i int) bool { return s.Buckets[i].Start.After(ts) }) - 1
	if i < 0 || !ts.Before(s.Range.End) {
		return -1
	}
	return i
}

func (s *Series) addEvent(ev models.ErrorEvent, impact models.BusinessImpact, maxSamples int) {
	if !s.Range.Contains(ev.Timestamp) {
		return
	}
	if i := s.slot(ev.Timestamp); i >= 0 {
		s.Buckets[i].addEvent(ev, impact, maxSamples)
	}
}

func (s *Series) addBucket(b *Bucket, maxSamples int) {
	if i := s.slot(b.Start); i >= 0 {
		s.Buckets[i].merge(b, maxSamples)
	}
}

func (s *Series) merge(o *Series, maxSamples int) {
	for _, b := range o.Buckets {
		if b.Events > 0 || b.Requests > 0 {
			s.addBucket(b, maxSamples)
		}
	}
}

// Totals folds every bucket into one.
func (s *Series) Totals() *Bucket {
	total := newBucket(s.Range.Start)
	for _, b := range s.Buckets {
		total.merge(b, 0)
	}
	return total
}
