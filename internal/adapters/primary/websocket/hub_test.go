package websocket

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/lorrc/notify-gateway/internal/adapters/secondary/policy"
	"github.com/lorrc/notify-gateway/internal/core/domain"
	apperrors "github.com/lorrc/notify-gateway/internal/core/errors"
	"github.com/lorrc/notify-gateway/internal/core/mocks"
	"github.com/lorrc/notify-gateway/internal/core/ports"
)

type decodedFrame struct {
	Type    string          `json:"type"`
	ID      string          `json:"id"`
	Payload json.RawMessage `json:"payload"`
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestHub(authorizer ports.TopicAuthorizer, cfg ClientConfig) *Hub {
	return NewHub(authorizer, nil, testLogger(), HubConfig{Client: cfg})
}

// connect registers a client without a transport and discards its
// connected frame.
func connect(t *testing.T, h *Hub, userID string, role domain.Role) *Client {
	t.Helper()
	c := h.NewClient(nil, domain.Identity{UserID: userID, Role: role, TenantID: "org-1"}, nil, "127.0.0.1")
	h.Register(c)
	frame := nextFrame(t, c)
	require.Equal(t, FrameConnected, frame.Type)
	return c
}

func nextFrame(t *testing.T, c *Client) decodedFrame {
	t.Helper()
	select {
	case data := <-c.send:
		var f decodedFrame
		require.NoError(t, json.Unmarshal(data, &f))
		return f
	default:
		t.Fatalf("no frame queued for %s", c.identity.UserID)
		return decodedFrame{}
	}
}

func assertNoFrame(t *testing.T, c *Client) {
	t.Helper()
	assert.Len(t, c.send, 0, "unexpected frame for %s", c.identity.UserID)
}

func subscribe(t *testing.T, h *Hub, c *Client, topic string) {
	t.Helper()
	_, err := h.Subscribe(context.Background(), c, SubscriptionRequest{Topic: topic})
	require.NoError(t, err)
}

func ticketEvent(t *testing.T, kind domain.EventKind) domain.Event {
	t.Helper()
	event, err := domain.NewEvent(kind, "agent-001", map[string]any{"ticketId": "456"})
	require.NoError(t, err)
	return event
}

func TestHub_RegisterJoinsIdentityTopics(t *testing.T) {
	h := newTestHub(policy.AllowAll{}, DefaultClientConfig())
	c := connect(t, h, "tenant-001", domain.RoleTenant)

	assert.ElementsMatch(t, []domain.Topic{"user:tenant-001", "role:tenant"}, c.Topics())
	assert.Equal(t, []string{c.ID()}, h.TopicMembers("user:tenant-001"))
	assert.Equal(t, []string{c.ID()}, h.TopicMembers("role:tenant"))
}

func TestHub_ConnectedFrame(t *testing.T) {
	h := newTestHub(policy.AllowAll{}, DefaultClientConfig())
	c := h.NewClient(nil, domain.Identity{UserID: "agent-001", Role: domain.RoleAgent, TenantID: "org-1"}, nil, "")
	h.Register(c)

	frame := nextFrame(t, c)
	require.Equal(t, FrameConnected, frame.Type)

	var payload ConnectedPayload
	require.NoError(t, json.Unmarshal(frame.Payload, &payload))
	assert.Equal(t, c.ID(), payload.ConnectionID)
	assert.Equal(t, "agent-001", payload.UserID)
	assert.Equal(t, domain.RoleAgent, payload.Role)
	assert.Equal(t, "org-1", payload.TenantID)
}

func TestHub_MultipleConnectionsPerUser(t *testing.T) {
	h := newTestHub(policy.AllowAll{}, DefaultClientConfig())

	clients := make([]*Client, 3)
	for i := range clients {
		clients[i] = connect(t, h, "tenant-001", domain.RoleTenant)
	}
	assert.Equal(t, 3, h.CountForUser("tenant-001"))

	h.Unregister(clients[0])
	assert.Equal(t, 2, h.CountForUser("tenant-001"))
	assert.True(t, h.IsConnected("tenant-001"))

	h.Unregister(clients[1])
	h.Unregister(clients[2])
	assert.False(t, h.IsConnected("tenant-001"))
	assert.Empty(t, h.Stats().Topics, "no trace of the connections remains")
}

func TestHub_UnregisterPurgesTopics(t *testing.T) {
	h := newTestHub(policy.AllowAll{}, DefaultClientConfig())
	c := connect(t, h, "tenant-001", domain.RoleTenant)
	subscribe(t, h, c, "ticket:456")

	h.Unregister(c)
	h.Unregister(c)

	assert.Empty(t, h.TopicMembers("ticket:456"))
	assert.Empty(t, h.TopicMembers("user:tenant-001"))
	assert.Equal(t, 0, h.Stats().Connections)
}

func TestHub_DeliverToTicketSubscribers(t *testing.T) {
	h := newTestHub(policy.AllowAll{}, DefaultClientConfig())
	tenant := connect(t, h, "tenant-001", domain.RoleTenant)
	contractor := connect(t, h, "contractor-001", domain.RoleContractor)
	agent := connect(t, h, "agent-001", domain.RoleAgent)

	subscribe(t, h, tenant, "ticket:456")
	subscribe(t, h, contractor, "ticket:456")

	env, err := domain.NewDeliveryEnvelope("node-a", ticketEvent(t, domain.EventTicketUpdated), domain.TicketTopic("456"))
	require.NoError(t, err)

	assert.Equal(t, 2, h.Deliver(env))
	assert.Equal(t, "ticket:updated", nextFrame(t, tenant).Type)
	assert.Equal(t, "ticket:updated", nextFrame(t, contractor).Type)
	assertNoFrame(t, agent)
}

func TestHub_DeliverToRole(t *testing.T) {
	h := newTestHub(policy.AllowAll{}, DefaultClientConfig())
	contractors := []*Client{
		connect(t, h, "contractor-001", domain.RoleContractor),
		connect(t, h, "contractor-002", domain.RoleContractor),
		connect(t, h, "contractor-003", domain.RoleContractor),
	}
	tenant := connect(t, h, "tenant-001", domain.RoleTenant)

	env, err := domain.NewDeliveryEnvelope("node-a", ticketEvent(t, domain.EventJobAvailable), domain.RoleTopic(domain.RoleContractor))
	require.NoError(t, err)

	assert.Equal(t, 3, h.Deliver(env))
	for _, c := range contractors {
		assert.Equal(t, "job:available", nextFrame(t, c).Type)
	}
	assertNoFrame(t, tenant)
}

func TestHub_DeliverUnionOncePerConnection(t *testing.T) {
	h := newTestHub(policy.AllowAll{}, DefaultClientConfig())
	tenant := connect(t, h, "tenant-001", domain.RoleTenant)
	subscribe(t, h, tenant, "ticket:456")

	env, err := domain.NewDeliveryEnvelope("node-a", ticketEvent(t, domain.EventTicketAssigned),
		domain.TicketTopic("456"), domain.UserTopic("tenant-001"))
	require.NoError(t, err)

	assert.Equal(t, 1, h.Deliver(env))
	frame := nextFrame(t, tenant)
	assert.Equal(t, "ticket:assigned", frame.Type)

	var event domain.Event
	require.NoError(t, json.Unmarshal(frame.Payload, &event))
	assert.Equal(t, domain.EventTicketAssigned, event.Kind)
	assert.Equal(t, "agent-001", event.Origin)
	assertNoFrame(t, tenant)
}

func TestHub_Broadcast(t *testing.T) {
	h := newTestHub(policy.AllowAll{}, DefaultClientConfig())
	a := connect(t, h, "tenant-001", domain.RoleTenant)
	b := connect(t, h, "agent-001", domain.RoleAgent)

	env := domain.NewBroadcastEnvelope("node-a", ticketEvent(t, domain.EventMessageReceived))
	assert.Equal(t, 2, h.Deliver(env))
	assert.Equal(t, "message:received", nextFrame(t, a).Type)
	assert.Equal(t, "message:received", nextFrame(t, b).Type)
	assert.Equal(t, uint64(2), h.Stats().Delivered)
}

func TestHub_DeliverWithNoRecipients(t *testing.T) {
	h := newTestHub(policy.AllowAll{}, DefaultClientConfig())
	env, err := domain.NewDeliveryEnvelope("node-a", ticketEvent(t, domain.EventTicketCreated), domain.TicketTopic("none"))
	require.NoError(t, err)
	assert.Equal(t, 0, h.Deliver(env))
}

func TestHub_DeliverSkipsClosedConnections(t *testing.T) {
	h := newTestHub(policy.AllowAll{}, DefaultClientConfig())
	closed := connect(t, h, "tenant-001", domain.RoleTenant)
	open := connect(t, h, "tenant-002", domain.RoleTenant)
	closed.Close(CloseForcedDisconnect, "gone")

	env, err := domain.NewDeliveryEnvelope("node-a", ticketEvent(t, domain.EventTicketCreated), domain.RoleTopic(domain.RoleTenant))
	require.NoError(t, err)

	assert.Equal(t, 1, h.Deliver(env))
	assert.Equal(t, "ticket:created", nextFrame(t, open).Type)
	assert.Equal(t, uint64(1), h.Stats().Dropped)
}

func TestHub_SlowConsumerIsClosed(t *testing.T) {
	cfg := DefaultClientConfig()
	cfg.SendBufferSize = 1
	h := newTestHub(policy.AllowAll{}, cfg)

	// The connected frame fills the one-slot buffer.
	c := h.NewClient(nil, domain.Identity{UserID: "tenant-001", Role: domain.RoleTenant}, nil, "")
	h.Register(c)

	env, err := domain.NewDeliveryEnvelope("node-a", ticketEvent(t, domain.EventTicketCreated), domain.UserTopic("tenant-001"))
	require.NoError(t, err)

	assert.Equal(t, 0, h.Deliver(env))
	select {
	case <-c.Done():
	default:
		t.Fatal("slow consumer was not closed")
	}
	assert.Equal(t, CloseSlowConsumer, c.closeCode)
	assert.Equal(t, uint64(1), h.Stats().Dropped)
}

func TestHub_SubscribeForbidden(t *testing.T) {
	authorizer := mocks.NewMockTopicAuthorizer()
	authorizer.On("AuthorizeJoin", mock.Anything, mock.Anything, domain.Topic("jobs:trade=plumbing")).Return(false, nil)
	h := newTestHub(authorizer, DefaultClientConfig())
	c := connect(t, h, "tenant-001", domain.RoleTenant)

	_, err := h.Subscribe(context.Background(), c, SubscriptionRequest{
		Topic:  "jobs",
		Filter: domain.JobFilter{"trade": "plumbing"},
	})
	assert.ErrorIs(t, err, apperrors.ErrTopicForbidden)
	assert.Empty(t, h.TopicMembers("jobs:trade=plumbing"))
	assert.Equal(t, uint64(1), h.Stats().RejectedJoins)
	authorizer.AssertExpectations(t)
}

func TestHub_SubscribeAuthorizerError(t *testing.T) {
	authorizer := mocks.NewMockTopicAuthorizer()
	authorizer.On("AuthorizeJoin", mock.Anything, mock.Anything, mock.Anything).Return(false, assert.AnError)
	h := newTestHub(authorizer, DefaultClientConfig())
	c := connect(t, h, "tenant-001", domain.RoleTenant)

	_, err := h.Subscribe(context.Background(), c, SubscriptionRequest{Topic: "ticket:1"})
	assert.ErrorIs(t, err, assert.AnError)
	assert.Equal(t, CodeInternal, errorCode(err))
}

func TestHub_SubscribeJobsEchoesFilter(t *testing.T) {
	h := newTestHub(policy.AllowAll{}, DefaultClientConfig())
	c := connect(t, h, "contractor-001", domain.RoleContractor)

	ack, err := h.Subscribe(context.Background(), c, SubscriptionRequest{
		Topic:  "jobs",
		Filter: domain.JobFilter{"trade": "plumbing", "region": "north"},
	})
	require.NoError(t, err)
	assert.Equal(t, domain.Topic("jobs:region=north,trade=plumbing"), ack.Topic)
	assert.Equal(t, domain.JobFilter{"trade": "plumbing", "region": "north"}, ack.Filter)
	assert.Equal(t, []string{c.ID()}, h.TopicMembers(ack.Topic))
}

func TestHub_SubscribeInvalidTopic(t *testing.T) {
	h := newTestHub(policy.AllowAll{}, DefaultClientConfig())
	c := connect(t, h, "tenant-001", domain.RoleTenant)

	_, err := h.Subscribe(context.Background(), c, SubscriptionRequest{Topic: "building:7"})
	assert.ErrorIs(t, err, apperrors.ErrUnknownFamily)
	assert.Equal(t, CodeInvalidTopic, errorCode(err))
}

func TestHub_Unsubscribe(t *testing.T) {
	h := newTestHub(policy.AllowAll{}, DefaultClientConfig())
	c := connect(t, h, "tenant-001", domain.RoleTenant)
	subscribe(t, h, c, "ticket:456")

	_, err := h.Unsubscribe(c, SubscriptionRequest{Topic: "ticket:456"})
	require.NoError(t, err)
	assert.Empty(t, h.TopicMembers("ticket:456"))

	_, err = h.Unsubscribe(c, SubscriptionRequest{Topic: "ticket:999"})
	assert.NoError(t, err, "leaving a topic never joined is not an error")

	_, err = h.Unsubscribe(c, SubscriptionRequest{Topic: "user:tenant-001"})
	require.NoError(t, err)
	assert.Equal(t, []string{c.ID()}, h.TopicMembers("user:tenant-001"), "identity topics cannot be left")
}

func TestHub_Disconnect(t *testing.T) {
	h := newTestHub(policy.AllowAll{}, DefaultClientConfig())
	a := connect(t, h, "tenant-001", domain.RoleTenant)
	b := connect(t, h, "tenant-001", domain.RoleTenant)
	other := connect(t, h, "tenant-002", domain.RoleTenant)

	assert.Equal(t, 2, h.Disconnect("tenant-001", "revoked"))
	for _, c := range []*Client{a, b} {
		<-c.Done()
		assert.Equal(t, CloseForcedDisconnect, c.closeCode)
		assert.Equal(t, "revoked", c.closeReason)
	}
	select {
	case <-other.Done():
		t.Fatal("unrelated connection was closed")
	default:
	}
	assert.Equal(t, 0, h.Disconnect("nobody", "revoked"))
}

func TestClient_CloseTruncatesReason(t *testing.T) {
	h := newTestHub(policy.AllowAll{}, DefaultClientConfig())
	c := connect(t, h, "tenant-001", domain.RoleTenant)

	// 122 ASCII bytes then a 3-byte rune straddling the limit.
	c.Close(CloseForcedDisconnect, strings.Repeat("a", 122)+"€€")
	<-c.Done()

	assert.Equal(t, strings.Repeat("a", 122), c.closeReason)
	assert.True(t, utf8.ValidString(c.closeReason))
}

func TestHub_ReapIdle(t *testing.T) {
	h := newTestHub(policy.AllowAll{}, DefaultClientConfig())
	idle := connect(t, h, "tenant-001", domain.RoleTenant)
	active := connect(t, h, "tenant-002", domain.RoleTenant)

	idle.lastActivity.Store(time.Now().Add(-2 * h.cfg.Client.PongWait).UnixNano())

	assert.Equal(t, 1, h.reapIdle(time.Now()))
	<-idle.Done()
	assert.Equal(t, CloseIdleTimeout, idle.closeCode)
	select {
	case <-active.Done():
		t.Fatal("active connection was reaped")
	default:
	}
	assert.Equal(t, uint64(1), h.Stats().Reaped)
}

func TestHub_Shutdown(t *testing.T) {
	h := newTestHub(policy.AllowAll{}, DefaultClientConfig())
	c := connect(t, h, "tenant-001", domain.RoleTenant)

	h.Shutdown()
	<-c.Done()
}

func TestHub_StatsAndConnections(t *testing.T) {
	h := newTestHub(policy.AllowAll{}, DefaultClientConfig())
	a := connect(t, h, "tenant-001", domain.RoleTenant)
	connect(t, h, "tenant-001", domain.RoleTenant)
	connect(t, h, "agent-001", domain.RoleAgent)
	subscribe(t, h, a, "ticket:456")

	stats := h.Stats()
	assert.Equal(t, 3, stats.Connections)
	assert.Equal(t, 2, stats.UniqueUsers)
	assert.Equal(t, uint64(3), stats.ConnectionsTotal)
	assert.Contains(t, stats.Topics, domain.TopicStats{Topic: "role:tenant", Members: 2})
	assert.Contains(t, stats.Topics, domain.TopicStats{Topic: "ticket:456", Members: 1})

	infos := h.Connections("tenant-001")
	require.Len(t, infos, 2)
	for _, info := range infos {
		assert.Equal(t, domain.RoleTenant, info.Role)
		assert.Equal(t, "org-1", info.TenantID)
	}
}

func TestCBORCodec_EncodesFrames(t *testing.T) {
	codec := CodecFor(SubprotocolCBOR)
	event := ticketEvent(t, domain.EventTicketCreated)

	data, err := codec.Encode(eventFrame(&event))
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, cborDec.Unmarshal(data, &decoded))
	assert.Equal(t, "ticket:created", decoded["type"])
	payload, ok := decoded["payload"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "agent-001", payload["origin"])

	msgData, err := cborEnc.Marshal(ClientMessage{Type: MessageSubscribe, ID: "1", Topic: "ticket:456"})
	require.NoError(t, err)
	var msg ClientMessage
	require.NoError(t, codec.Decode(msgData, &msg))
	assert.Equal(t, "ticket:456", msg.Topic)
}

func TestHub_JobsKeyOrderSharesOneRoom(t *testing.T) {
	h := newTestHub(policy.AllowAll{}, DefaultClientConfig())
	viaFilter := connect(t, h, "contractor-001", domain.RoleContractor)
	viaTopic := connect(t, h, "contractor-002", domain.RoleContractor)

	_, err := h.Subscribe(context.Background(), viaFilter, SubscriptionRequest{
		Topic:  "jobs",
		Filter: domain.JobFilter{"trade": "plumbing", "region": "north"},
	})
	require.NoError(t, err)
	ack, err := h.Subscribe(context.Background(), viaTopic, SubscriptionRequest{Topic: "jobs:trade=plumbing,region=north"})
	require.NoError(t, err)
	assert.Equal(t, domain.Topic("jobs:region=north,trade=plumbing"), ack.Topic)
	assert.Len(t, h.TopicMembers(ack.Topic), 2)

	topic, err := domain.ParseTopic("jobs:trade=plumbing,region=north")
	require.NoError(t, err)
	env, err := domain.NewDeliveryEnvelope("node-a", ticketEvent(t, domain.EventTicketUpdated), topic)
	require.NoError(t, err)

	assert.Equal(t, 2, h.Deliver(env))
	assert.Equal(t, "ticket:updated", nextFrame(t, viaFilter).Type)
	assert.Equal(t, "ticket:updated", nextFrame(t, viaTopic).Type)
}
