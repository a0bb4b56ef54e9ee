package bus

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/miradorstack/mirador-resilience/internal/utils"
)

// ErrClosed is returned by a bus that has been shut down.
var ErrClosed = errors.New("bus closed")

// MemoryBus delivers messages synchronously to in-process subscribers.
type MemoryBus struct {
	mu     sync.RWMutex
	subs   map[string]map[int]Handler
	nextID int
	closed bool
	logger *slog.Logger
}

// NewMemoryBus constructs an empty in-process bus.
func NewMemoryBus(logger *slog.Logger) *MemoryBus {
	return &MemoryBus{subs: make(map[string]map[int]Handler), logger: utils.LoggerOr(logger)}
}

// Publish calls every handler subscribed to subject. Handler errors are logged, not returned.
func (b *MemoryBus) Publish(ctx context.Context, subject string, data []byte) error {
	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return ErrClosed
	}
	handlers := make([]Handler, 0, len(b.subs[subject]))
	for _, h := range b.subs[subject] {
		handlers = append(handlers, h)
	}
	b.mu.RUnlock()

	payload := append([]byte(nil), data...)
	for _, h := range handlers {
		if err := h(ctx, payload); err != nil {
			b.logger.Warn("bus handler failed", slog.String("subject", subject), slog.Any("error", err))
		}
	}
	return nil
}

// Subscribe registers handler for subject.
func (b *MemoryBus) Subscribe(subject string, handler Handler) (Subscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, ErrClosed
	}
	if b.subs[subject] == nil {
		b.subs[subject] = make(map[int]Handler)
	}
	b.nextID++
	id := b.nextID
	b.subs[subject][id] = handler
	return memorySubscription{bus: b, subject: subject, id: id}, nil
}

// Close drops every subscription.
func (b *MemoryBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	b.subs = make(map[string]map[int]Handler)
	return nil
}

type memorySubscription struct {
	bus     *MemoryBus
	subject string
	id      int
}

func (s memorySubscription) Unsubscribe() error {
	s.bus.mu.Lock()
	defer s.bus.mu.Unlock()
	delete(s.bus.subs[s.subject], s.id)
	return nil
}
