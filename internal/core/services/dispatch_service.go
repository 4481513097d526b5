package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/lorrc/notify-gateway/internal/core/domain"
	apperrors "github.com/lorrc/notify-gateway/internal/core/errors"
	"github.com/lorrc/notify-gateway/internal/core/ports"
	"github.com/lorrc/notify-gateway/internal/infrastructure/telemetry"
)

// publishTimeout bounds how long a dispatch waits on the broker. Local
// delivery has already happened by then.
const publishTimeout = 5 * time.Second

// DispatchService implements the publish surface backend services call.
// Every dispatch is delivered to this node's connections synchronously
// and then handed to the broker for the other nodes.
type DispatchService struct {
	nodeID  string
	local   ports.LocalDeliverer
	broker  ports.Broker
	metrics *telemetry.Metrics
	logger  *slog.Logger
}

var _ ports.Dispatcher = (*DispatchService)(nil)

// NewDispatchService creates a new dispatch service
func NewDispatchService(
	nodeID string,
	local ports.LocalDeliverer,
	broker ports.Broker,
	metrics *telemetry.Metrics,
	logger *slog.Logger,
) *DispatchService {
	if metrics == nil {
		metrics = telemetry.NewNoopMetrics()
	}
	return &DispatchService{
		nodeID:  nodeID,
		local:   local,
		broker:  broker,
		metrics: metrics,
		logger:  logger.With("component", "dispatch_service"),
	}
}

// NotifyUser delivers event to every connection of userID.
func (s *DispatchService) NotifyUser(ctx context.Context, userID string, event domain.Event) (domain.DispatchResult, error) {
	if userID == "" {
		return domain.DispatchResult{}, apperrors.ErrUserIDRequired
	}
	return s.dispatchTopics(ctx, "user", event, domain.UserTopic(userID))
}

// NotifyTopic delivers event to every member of topic.
func (s *DispatchService) NotifyTopic(ctx context.Context, topic domain.Topic, event domain.Event) (domain.DispatchResult, error) {
	parsed, err := domain.ParseTopic(string(topic))
	if err != nil {
		return domain.DispatchResult{}, err
	}
	return s.dispatchTopics(ctx, "topic", event, parsed)
}

// NotifyRole delivers event to every connection authenticated with role.
func (s *DispatchService) NotifyRole(ctx context.Context, role domain.Role, event domain.Event) (domain.DispatchResult, error) {
	if !role.Valid() {
		return domain.DispatchResult{}, apperrors.ErrInvalidRole
	}
	return s.dispatchTopics(ctx, "role", event, domain.RoleTopic(role))
}

// Broadcast delivers event to every open connection.
func (s *DispatchService) Broadcast(ctx context.Context, event domain.Event) (domain.DispatchResult, error) {
	event, err := normalizeEvent(event)
	if err != nil {
		return domain.DispatchResult{}, err
	}
	return s.dispatch(ctx, "broadcast", domain.NewBroadcastEnvelope(s.nodeID, event)), nil
}

// NotifyStatusChange tells the followers of a ticket and the affected users
// that its status moved. A connection that is both following the ticket
// and owned by an affected user receives the event once.
func (s *DispatchService) NotifyStatusChange(ctx context.Context, params ports.StatusChangeParams) (domain.DispatchResult, error) {
	if params.TicketID == "" {
		return domain.DispatchResult{}, apperrors.ErrTicketIDRequired
	}

	event, err := domain.NewEvent(
		domain.StatusChangeKind(params.NewStatus),
		params.Origin,
		domain.StatusChange{
			TicketID:  params.TicketID,
			OldStatus: params.OldStatus,
			NewStatus: params.NewStatus,
		},
	)
	if err != nil {
		return domain.DispatchResult{}, err
	}
	if len(params.Metadata) > 0 {
		event = event.WithMetadata(params.Metadata)
	}

	topics := make([]domain.Topic, 0, len(params.AffectedUserIDs)+1)
	topics = append(topics, domain.TicketTopic(params.TicketID))
	for _, userID := range params.AffectedUserIDs {
		if userID != "" {
			topics = append(topics, domain.UserTopic(userID))
		}
	}
	return s.dispatchTopics(ctx, "status_change", event, topics...)
}

// DisconnectUser closes every connection of userID on every node.
func (s *DispatchService) DisconnectUser(ctx context.Context, userID, reason string) (domain.DispatchResult, error) {
	env, err := domain.NewDisconnectEnvelope(s.nodeID, userID, reason)
	if err != nil {
		return domain.DispatchResult{}, err
	}

	closed := s.local.Disconnect(userID, reason)
	s.logger.InfoContext(ctx, "user disconnect requested",
		"user_id", userID,
		"reason", reason,
		"local_connections", closed,
	)
	return domain.DispatchResult{
		EnvelopeID:      env.ID,
		LocalRecipients: closed,
		Forwarded:       s.forward(ctx, env),
	}, nil
}

// HandleEnvelope applies an envelope received from the broker. Envelopes
// this node published were already applied locally and are skipped.
func (s *DispatchService) HandleEnvelope(env domain.Envelope) {
	if env.Node == s.nodeID {
		return
	}
	s.metrics.EnvelopeReceived(context.Background(), s.broker.Name())

	switch env.Action {
	case domain.ActionDeliver:
		s.local.Deliver(env)
	case domain.ActionDisconnect:
		s.local.Disconnect(env.UserID, env.Reason)
	default:
		s.logger.Warn("ignoring envelope with unknown action",
			"envelope_id", env.ID,
			"action", env.Action,
			"origin_node", env.Node,
		)
	}
}

func (s *DispatchService) dispatchTopics(ctx context.Context, target string, event domain.Event, topics ...domain.Topic) (domain.DispatchResult, error) {
	event, err := normalizeEvent(event)
	if err != nil {
		return domain.DispatchResult{}, err
	}
	env, err := domain.NewDeliveryEnvelope(s.nodeID, event, topics...)
	if err != nil {
		return domain.DispatchResult{}, err
	}
	return s.dispatch(ctx, target, env), nil
}

func (s *DispatchService) dispatch(ctx context.Context, target string, env domain.Envelope) domain.DispatchResult {
	recipients := s.local.Deliver(env)
	s.metrics.EventDispatched(ctx, string(env.Event.Kind), target)

	forwarded := s.forward(ctx, env)

	s.logger.DebugContext(ctx, "event dispatched",
		"envelope_id", env.ID,
		"event", env.Event.Kind,
		"target", target,
		"topics", env.Topics,
		"local_recipients", recipients,
		"forwarded", forwarded,
	)
	return domain.DispatchResult{
		EnvelopeID:      env.ID,
		LocalRecipients: recipients,
		Forwarded:       forwarded,
	}
}

// forward publishes env for the other nodes. A broker failure degrades
// cross-process delivery only; it is recorded and never returned.
func (s *DispatchService) forward(ctx context.Context, env domain.Envelope) bool {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()

	if err := s.broker.Publish(ctx, env); err != nil {
		s.metrics.PublishFailed(ctx, s.broker.Name())
		s.logger.WarnContext(ctx, "cross-process publish failed",
			"envelope_id", env.ID,
			"broker", s.broker.Name(),
			"error", err,
		)
		return false
	}
	return true
}

func normalizeEvent(event domain.Event) (domain.Event, error) {
	if !event.Kind.Valid() {
		return domain.Event{}, fmt.Errorf("%w: %q", apperrors.ErrUnknownEventKind, event.Kind)
	}
	if event.Origin == "" {
		event.Origin = domain.SystemOrigin
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}
	return event, nil
}
