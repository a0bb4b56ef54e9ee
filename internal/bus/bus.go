package bus

import (
	"context"
)

// Handler processes one message delivered on a subject.
type Handler func(ctx context.Context, data []byte) error

// Subscription is an active subject listener.
type Subscription interface {
	Unsubscribe() error
}

// EventBus publishes and subscribes to raw message subjects.
type EventBus interface {
	Publish(ctx context.Context, subject string, data []byte) error
	Subscribe(subject string, handler Handler) (Subscription, error)
	Close() error
}
