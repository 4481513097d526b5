package websocket

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/lorrc/notify-gateway/internal/core/domain"
	apperrors "github.com/lorrc/notify-gateway/internal/core/errors"
	"github.com/lorrc/notify-gateway/internal/core/ports"
	"github.com/lorrc/notify-gateway/internal/infrastructure/logging"
	"github.com/lorrc/notify-gateway/internal/infrastructure/telemetry"
)

// HubConfig configures the hub and the connections it creates.
type HubConfig struct {
	Client ClientConfig
	// How often idle connections are looked for. Defaults to half of
	// Client.PongWait.
	ReapInterval time.Duration
}

// Hub ties the connection registry and topic rooms together and applies
// envelopes to the connections of this process.
type Hub struct {
	registry   *Registry
	rooms      *Rooms
	authorizer ports.TopicAuthorizer
	metrics    *telemetry.Metrics
	cfg        HubConfig

	delivered     atomic.Uint64
	dropped       atomic.Uint64
	reaped        atomic.Uint64
	rejectedJoins atomic.Uint64
	total         atomic.Uint64

	logger *slog.Logger
}

var (
	_ ports.LocalDeliverer   = (*Hub)(nil)
	_ ports.HubStatsProvider = (*Hub)(nil)
)

// NewHub creates a new WebSocket hub
func NewHub(authorizer ports.TopicAuthorizer, metrics *telemetry.Metrics, logger *slog.Logger, cfg HubConfig) *Hub {
	if metrics == nil {
		metrics = telemetry.NewNoopMetrics()
	}
	if cfg.Client == (ClientConfig{}) {
		cfg.Client = DefaultClientConfig()
	}
	if cfg.ReapInterval <= 0 {
		cfg.ReapInterval = cfg.Client.PongWait / 2
	}
	return &Hub{
		registry:   NewRegistry(),
		rooms:      NewRooms(),
		authorizer: authorizer,
		metrics:    metrics,
		cfg:        cfg,
		logger:     logger.With("component", "websocket_hub"),
	}
}

// NewClient wraps an upgraded connection for identity. The client is not
// visible to anyone until Register.
func (h *Hub) NewClient(conn *websocket.Conn, identity domain.Identity, codec Codec, remoteAddr string) *Client {
	return newClient(h, conn, identity, codec, remoteAddr)
}

// Register records the connection and joins its identity topics, then
// greets the client with its connection id.
func (h *Hub) Register(c *Client) {
	h.registry.Register(c)
	for _, topic := range c.identity.Topics() {
		h.rooms.Join(c.id, topic)
		c.addTopic(topic)
	}
	h.total.Add(1)
	h.metrics.ConnectionOpened(context.Background(), string(c.identity.Role))

	c.sendFrame(ServerFrame{Type: FrameConnected, Payload: ConnectedPayload{
		ConnectionID: c.id,
		UserID:       c.identity.UserID,
		Role:         c.identity.Role,
		TenantID:     c.identity.TenantID,
		Timestamp:    c.connectedAt,
	}})

	c.logger.Info("client registered",
		"user_connections", h.registry.CountForUser(c.identity.UserID),
		"total_connections", h.registry.TotalConnections(),
	)
}

// Unregister purges every trace of the connection. It runs on the
// connection's read loop exit.
func (h *Hub) Unregister(c *Client) {
	if !h.registry.Unregister(c.id, c.identity.UserID) {
		return
	}
	topics := c.Topics()
	for _, topic := range topics {
		h.rooms.Leave(c.id, topic)
		c.removeTopic(topic)
	}
	h.metrics.ConnectionClosed(context.Background(), string(c.identity.Role))

	sessions := logging.SessionLogger{Logger: c.logger}
	sessions.LogSessionEnd(context.Background(),
		c.remoteAddr,
		time.Since(c.connectedAt),
		len(topics),
		h.registry.CountForUser(c.identity.UserID),
		c.framesIn.Load(),
	)
}

// Subscribe joins c to the requested topic after the authorizer allows it.
func (h *Hub) Subscribe(ctx context.Context, c *Client, req SubscriptionRequest) (SubscriptionAck, error) {
	topic, filter, err := domain.ResolveSubscription(req.Topic, req.Filter)
	if err != nil {
		return SubscriptionAck{}, err
	}
	ack := SubscriptionAck{Topic: topic, Filter: filter}

	// Identity topics are held from registration on.
	if slices.Contains(c.identity.Topics(), topic) {
		return ack, nil
	}

	allowed, err := h.authorizer.AuthorizeJoin(ctx, c.identity, topic)
	if err != nil {
		c.logger.Error("topic authorization failed", "topic", topic, "error", err)
		return SubscriptionAck{}, fmt.Errorf("authorize join: %w", err)
	}
	if !allowed {
		h.rejectedJoins.Add(1)
		h.metrics.JoinRejected(ctx, string(topic.Family()))
		c.logger.Info("topic join rejected", "topic", topic)
		return SubscriptionAck{}, fmt.Errorf("%w: %s", apperrors.ErrTopicForbidden, topic)
	}

	if h.rooms.Join(c.id, topic) {
		c.addTopic(topic)
		c.logger.Debug("client subscribed", "topic", topic)
	}
	return ack, nil
}

// Unsubscribe removes c from the requested topic. Leaving a topic the
// connection never joined, or one of its identity topics, does nothing.
func (h *Hub) Unsubscribe(c *Client, req SubscriptionRequest) (SubscriptionAck, error) {
	topic, filter, err := domain.ResolveSubscription(req.Topic, req.Filter)
	if err != nil {
		return SubscriptionAck{}, err
	}
	ack := SubscriptionAck{Topic: topic, Filter: filter}

	if slices.Contains(c.identity.Topics(), topic) {
		return ack, nil
	}
	if h.rooms.Leave(c.id, topic) {
		c.removeTopic(topic)
		c.logger.Debug("client unsubscribed", "topic", topic)
	}
	return ack, nil
}

// Deliver pushes the envelope's event to every addressed local connection,
// once per connection, and returns how many frames were queued. A failed
// push never stops delivery to the remaining recipients.
func (h *Hub) Deliver(env domain.Envelope) int {
	if env.Action != domain.ActionDeliver || env.Event == nil {
		return 0
	}

	var targets []*Client
	if env.All {
		targets = h.registry.All()
	} else {
		for _, id := range h.rooms.MembersOfAny(env.Topics) {
			if c, ok := h.registry.Get(id); ok {
				targets = append(targets, c)
			}
		}
	}
	if len(targets) == 0 {
		return 0
	}

	frame := eventFrame(env.Event)
	encoded := make(map[string][]byte, 2)
	queued := 0

	for _, c := range targets {
		data, ok := encoded[c.codec.Name()]
		if !ok {
			var err error
			data, err = c.codec.Encode(frame)
			if err != nil {
				h.logger.Error("failed to encode event",
					"envelope_id", env.ID,
					"codec", c.codec.Name(),
					"error", err,
				)
				continue
			}
			encoded[c.codec.Name()] = data
		}

		switch c.enqueue(data) {
		case deliverQueued:
			queued++
		case deliverClosed:
			h.dropped.Add(1)
			h.metrics.Dropped(context.Background(), "closed")
			c.logger.Debug("skipping closed connection", "envelope_id", env.ID)
		case deliverFull:
			h.dropped.Add(1)
			h.metrics.Dropped(context.Background(), "buffer_full")
			c.logger.Warn("client send buffer full, closing", "envelope_id", env.ID)
			c.Close(CloseSlowConsumer, "send buffer full")
		}
	}

	h.delivered.Add(uint64(queued))
	h.metrics.Delivered(context.Background(), queued)

	h.logger.Debug("envelope delivered",
		"envelope_id", env.ID,
		"event", env.Event.Kind,
		"targets", len(targets),
		"queued", queued,
	)
	return queued
}

// Disconnect closes every local connection of userID and returns how many
// there were.
func (h *Hub) Disconnect(userID, reason string) int {
	clients := h.registry.ForUser(userID)
	for _, c := range clients {
		c.Close(CloseForcedDisconnect, reason)
	}
	if len(clients) > 0 {
		h.logger.Info("user disconnected", "user_id", userID, "connections", len(clients), "reason", reason)
	}
	return len(clients)
}

// Run reaps connections that stopped answering pings until ctx is done.
// This MUST be run as a goroutine.
func (h *Hub) Run(ctx context.Context) {
	ticker := time.NewTicker(h.cfg.ReapInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.reapIdle(time.Now())
		}
	}
}

func (h *Hub) reapIdle(now time.Time) int {
	reaped := 0
	h.registry.Each(func(c *Client) {
		if now.Sub(c.LastActivity()) > h.cfg.Client.PongWait {
			c.logger.Info("closing idle connection", "last_activity", c.LastActivity())
			c.Close(CloseIdleTimeout, "idle timeout")
			reaped++
		}
	})
	h.reaped.Add(uint64(reaped))
	return reaped
}

// Shutdown closes every connection with going-away.
func (h *Hub) Shutdown() {
	clients := h.registry.All()
	for _, c := range clients {
		c.Close(websocket.CloseGoingAway, "server shutting down")
	}
	h.logger.Info("hub shut down", "closed_connections", len(clients))
}

// Stats returns the hub's counters and topic memberships.
func (h *Hub) Stats() domain.HubStats {
	return domain.HubStats{
		Connections:      h.registry.TotalConnections(),
		UniqueUsers:      h.registry.UniqueUserCount(),
		Topics:           h.rooms.Stats(),
		Delivered:        h.delivered.Load(),
		Dropped:          h.dropped.Load(),
		Reaped:           h.reaped.Load(),
		RejectedJoins:    h.rejectedJoins.Load(),
		ConnectionsTotal: h.total.Load(),
	}
}

// Connections lists the open connections of userID.
func (h *Hub) Connections(userID string) []domain.ConnectionInfo {
	clients := h.registry.ForUser(userID)
	infos := make([]domain.ConnectionInfo, 0, len(clients))
	for _, c := range clients {
		infos = append(infos, c.Info())
	}
	return infos
}

// IsConnected reports whether userID has at least one open connection.
func (h *Hub) IsConnected(userID string) bool {
	return h.registry.IsConnected(userID)
}

// CountForUser returns the number of open connections of userID.
func (h *Hub) CountForUser(userID string) int {
	return h.registry.CountForUser(userID)
}

// TopicMembers returns the connection ids joined to topic.
func (h *Hub) TopicMembers(topic domain.Topic) []string {
	return h.rooms.MembersOf(topic)
}
