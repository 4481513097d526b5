package ports

import (
	"context"

	"github.com/lorrc/notify-gateway/internal/core/domain"
)

// Dispatcher is the publish surface other backend services call into.
type Dispatcher interface {
	NotifyUser(ctx context.Context, userID string, event domain.Event) (domain.DispatchResult, error)
	NotifyTopic(ctx context.Context, topic domain.Topic, event domain.Event) (domain.DispatchResult, error)
	NotifyRole(ctx context.Context, role domain.Role, event domain.Event) (domain.DispatchResult, error)
	Broadcast(ctx context.Context, event domain.Event) (domain.DispatchResult, error)
	NotifyStatusChange(ctx context.Context, params StatusChangeParams) (domain.DispatchResult, error)
	DisconnectUser(ctx context.Context, userID, reason string) (domain.DispatchResult, error)
}

// StatusChangeParams defines the input of the composite status-change
// notification.
type StatusChangeParams struct {
	TicketID        string
	OldStatus       string
	NewStatus       string
	AffectedUserIDs []string
	Origin          string
	Metadata        map[string]string
}

// LocalDeliverer applies envelopes to the connections held by this process.
type LocalDeliverer interface {
	// Deliver pushes the envelope's event to every local connection it
	// addresses and returns how many connections it was queued for.
	Deliver(env domain.Envelope) int
	// Disconnect closes every local connection of userID.
	Disconnect(userID, reason string) int
}

// EnvelopeHandler consumes envelopes received from the broker.
type EnvelopeHandler func(env domain.Envelope)

// Broker is the shared pub/sub medium connecting gateway processes. Every
// process publishes every envelope and filters locally on receipt.
type Broker interface {
	Name() string
	Publish(ctx context.Context, env domain.Envelope) error
	// Start subscribes and feeds received envelopes to handler until ctx
	// is cancelled. It returns once the subscription loop is running.
	Start(ctx context.Context, handler EnvelopeHandler) error
	Health(ctx context.Context) error
	Status() domain.BrokerStatus
	Close() error
}

// TopicAuthorizer decides whether an identity may join a topic. It runs
// before membership is granted for every explicit join.
type TopicAuthorizer interface {
	AuthorizeJoin(ctx context.Context, identity domain.Identity, topic domain.Topic) (bool, error)
}

// HubStatsProvider exposes the local hub state to the stats monitor.
type HubStatsProvider interface {
	Stats() domain.HubStats
	Connections(userID string) []domain.ConnectionInfo
}

// StatsService is the Health/Stats monitor surface.
type StatsService interface {
	Snapshot(ctx context.Context) domain.Snapshot
	Topics() []domain.TopicStats
	Connections(userID string) []domain.ConnectionInfo
}
