// Package broker implements the cross-process fan-out medium. Every gateway
// process publishes every envelope it dispatches and applies the envelopes
// published by its peers to its own connections.
package broker

import (
	"context"
	"fmt"
	"log/slog"

	apperrors "github.com/lorrc/notify-gateway/internal/core/errors"
	"github.com/lorrc/notify-gateway/internal/core/ports"
)

const (
	BackendLocal    = "local"
	BackendPostgres = "postgres"
	BackendRedis    = "redis"
	BackendNATS     = "nats"
)

// Options selects and addresses a backend.
type Options struct {
	Backend string
	URL     string
	Channel string
}

// New connects the backend named by opts.Backend.
func New(ctx context.Context, opts Options, logger *slog.Logger) (ports.Broker, error) {
	switch opts.Backend {
	case BackendLocal, "":
		return NewLocal(), nil
	case BackendPostgres:
		return NewPostgres(ctx, opts.URL, opts.Channel, logger)
	case BackendRedis:
		return NewRedis(ctx, opts.URL, opts.Channel, logger)
	case BackendNATS:
		return NewNATS(opts.URL, opts.Channel, logger)
	default:
		return nil, fmt.Errorf("%w: %q", apperrors.ErrUnknownBroker, opts.Backend)
	}
}
