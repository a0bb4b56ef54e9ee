package bus

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/miradorstack/mirador-resilience/internal/utils"
)

// NATSBus is an EventBus backed by a core NATS connection.
type NATSBus struct {
	nc      *nats.Conn
	logger  *slog.Logger
	timeout time.Duration
}

// NewNATSBus connects to url. The connection reconnects indefinitely.
func NewNATSBus(url, name string, timeout time.Duration, logger *slog.Logger) (*NATSBus, error) {
	logger = utils.LoggerOr(logger)
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	nc, err := nats.Connect(url,
		nats.Name(name),
		nats.Timeout(timeout),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("nats disconnected", slog.Any("error", err))
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info("nats reconnected", slog.String("url", c.ConnectedUrl()))
		}),
	)
	if err != nil {
		return nil, utils.NewDependencyError("bus.NewNATSBus", "connect to nats", err)
	}
	return &NATSBus{nc: nc, logger: logger, timeout: timeout}, nil
}

// Publish sends data on subject.
func (b *NATSBus) Publish(ctx context.Context, subject string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := b.nc.Publish(subject, data); err != nil {
		return fmt.Errorf("publish %s: %w", subject, err)
	}
	return nil
}

// Subscribe delivers each message on subject to handler. Handler errors are logged.
func (b *NATSBus) Subscribe(subject string, handler Handler) (Subscription, error) {
	sub, err := b.nc.Subscribe(subject, func(msg *nats.Msg) {
		ctx, cancel := context.WithTimeout(context.Background(), b.timeout)
		defer cancel()
		if err := handler(ctx, msg.Data); err != nil {
			b.logger.Warn("bus handler failed", slog.String("subject", msg.Subject), slog.Any("error", err))
		}
	})
	if err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", subject, err)
	}
	return sub, nil
}

// Close drains pending messages and closes the connection.
func (b *NATSBus) Close() error {
	if b.nc == nil {
		return nil
	}
	return b.nc.Drain()
}
