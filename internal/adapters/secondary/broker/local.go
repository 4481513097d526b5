package broker

import (
	"context"

	"github.com/lorrc/notify-gateway/internal/core/domain"
	"github.com/lorrc/notify-gateway/internal/core/ports"
)

// Local is the single-process broker. Local delivery already reached every
// connection, so publishing has nothing left to do.
type Local struct {
	status *statusTracker
}

var _ ports.Broker = (*Local)(nil)

func NewLocal() *Local {
	status := newStatusTracker(BackendLocal)
	status.setConnected(true)
	return &Local{status: status}
}

func (l *Local) Name() string { return BackendLocal }

func (l *Local) Publish(ctx context.Context, env domain.Envelope) error {
	return nil
}

func (l *Local) Start(ctx context.Context, handler ports.EnvelopeHandler) error {
	return nil
}

func (l *Local) Health(ctx context.Context) error { return nil }

func (l *Local) Status() domain.BrokerStatus { return l.status.snapshot() }

func (l *Local) Close() error { return nil }
