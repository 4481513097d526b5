package broker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/lorrc/notify-gateway/internal/core/domain"
	apperrors "github.com/lorrc/notify-gateway/internal/core/errors"
	"github.com/lorrc/notify-gateway/internal/core/ports"
)

// NATS fans envelopes out on a core NATS subject. Delivery is at most once,
// matching the other backends.
type NATS struct {
	conn    *nats.Conn
	subject string
	sub     *nats.Subscription
	status  *statusTracker
	logger  *slog.Logger
}

var _ ports.Broker = (*NATS)(nil)

func NewNATS(url, subject string, logger *slog.Logger) (*NATS, error) {
	b := &NATS{
		subject: subject,
		status:  newStatusTracker(BackendNATS),
		logger:  logger.With("component", "broker", "backend", BackendNATS),
	}

	conn, err := nats.Connect(url,
		nats.Name("notify-gateway"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			b.status.setConnected(false)
			if err != nil {
				b.status.recordError(err)
				b.logger.Warn("disconnected", "error", err)
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			b.status.setConnected(true)
			b.logger.Info("reconnected", "url", c.ConnectedUrlRedacted())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("nats broker: %w", err)
	}

	b.conn = conn
	b.status.setConnected(true)
	return b, nil
}

func (n *NATS) Name() string { return BackendNATS }

func (n *NATS) Publish(ctx context.Context, env domain.Envelope) error {
	payload, err := encodeEnvelope(env)
	if err != nil {
		n.status.recordPublish(err)
		return err
	}

	if err := n.conn.Publish(n.subject, payload); err != nil {
		err = fmt.Errorf("%w: %v", apperrors.ErrBrokerUnavailable, err)
		n.status.recordPublish(err)
		return err
	}
	n.status.recordPublish(nil)
	return nil
}

// Start subscribes and returns once the server has seen the subscription.
func (n *NATS) Start(ctx context.Context, handler ports.EnvelopeHandler) error {
	sub, err := n.conn.Subscribe(n.subject, func(msg *nats.Msg) {
		receive(msg.Data, handler, n.status, n.logger)
	})
	if err != nil {
		n.status.recordError(err)
		return fmt.Errorf("nats broker subscribe: %w", err)
	}
	if err := n.conn.FlushWithContext(ctx); err != nil {
		_ = sub.Unsubscribe()
		return fmt.Errorf("nats broker subscribe: %w", err)
	}
	n.sub = sub

	go func() {
		<-ctx.Done()
		_ = sub.Unsubscribe()
	}()
	return nil
}

func (n *NATS) Health(ctx context.Context) error {
	if !n.conn.IsConnected() {
		return fmt.Errorf("%w: %s", apperrors.ErrBrokerUnavailable, n.conn.Status())
	}
	return nil
}

func (n *NATS) Status() domain.BrokerStatus { return n.status.snapshot() }

func (n *NATS) Close() error {
	if n.sub != nil {
		_ = n.sub.Unsubscribe()
	}
	n.conn.Close()
	return nil
}
