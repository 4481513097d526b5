package services_test

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/lorrc/notify-gateway/internal/core/domain"
	apperrors "github.com/lorrc/notify-gateway/internal/core/errors"
	"github.com/lorrc/notify-gateway/internal/core/mocks"
	"github.com/lorrc/notify-gateway/internal/core/ports"
	"github.com/lorrc/notify-gateway/internal/core/services"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newDispatchFixture() (*services.DispatchService, *mocks.MockLocalDeliverer, *mocks.MockBroker) {
	local := mocks.NewMockLocalDeliverer()
	broker := mocks.NewMockBroker()
	broker.On("Name").Return("redis").Maybe()
	svc := services.NewDispatchService("node-a", local, broker, nil, discardLogger())
	return svc, local, broker
}

func topicsAre(topics ...domain.Topic) interface{} {
	return mock.MatchedBy(func(env domain.Envelope) bool {
		return assert.ObjectsAreEqual(topics, env.Topics)
	})
}

func TestDispatchService_NotifyUser(t *testing.T) {
	ctx := context.Background()

	t.Run("delivers locally and forwards", func(t *testing.T) {
		svc, local, broker := newDispatchFixture()
		local.On("Deliver", topicsAre("user:tenant-001")).Return(2)
		broker.On("Publish", mock.Anything, mock.MatchedBy(func(env domain.Envelope) bool {
			return env.Node == "node-a" && env.Action == domain.ActionDeliver
		})).Return(nil)

		result, err := svc.NotifyUser(ctx, "tenant-001", domain.Event{Kind: domain.EventMessageReceived, Data: "hi"})

		require.NoError(t, err)
		assert.NotEmpty(t, result.EnvelopeID)
		assert.Equal(t, 2, result.LocalRecipients)
		assert.True(t, result.Forwarded)
		local.AssertExpectations(t)
		broker.AssertExpectations(t)
	})

	t.Run("broker failure degrades without error", func(t *testing.T) {
		svc, local, broker := newDispatchFixture()
		local.On("Deliver", mock.Anything).Return(1)
		broker.On("Publish", mock.Anything, mock.Anything).Return(apperrors.ErrBrokerUnavailable)

		result, err := svc.NotifyUser(ctx, "tenant-001", domain.Event{Kind: domain.EventMessageReceived})

		require.NoError(t, err)
		assert.Equal(t, 1, result.LocalRecipients)
		assert.False(t, result.Forwarded)
	})

	t.Run("unknown event kind", func(t *testing.T) {
		svc, local, broker := newDispatchFixture()

		_, err := svc.NotifyUser(ctx, "tenant-001", domain.Event{Kind: "ticket:exploded"})

		assert.ErrorIs(t, err, apperrors.ErrUnknownEventKind)
		local.AssertNotCalled(t, "Deliver", mock.Anything)
		broker.AssertNotCalled(t, "Publish", mock.Anything, mock.Anything)
	})

	t.Run("missing user", func(t *testing.T) {
		svc, _, _ := newDispatchFixture()
		_, err := svc.NotifyUser(ctx, "", domain.Event{Kind: domain.EventMessageReceived})
		assert.ErrorIs(t, err, apperrors.ErrUserIDRequired)
	})
}

func TestDispatchService_NotifyTopic(t *testing.T) {
	ctx := context.Background()

	t.Run("valid topic", func(t *testing.T) {
		svc, local, broker := newDispatchFixture()
		local.On("Deliver", topicsAre("ticket:456")).Return(2)
		broker.On("Publish", mock.Anything, mock.Anything).Return(nil)

		result, err := svc.NotifyTopic(ctx, "ticket:456", domain.Event{Kind: domain.EventTicketUpdated})
		require.NoError(t, err)
		assert.Equal(t, 2, result.LocalRecipients)
	})

	t.Run("jobs key is sorted before delivery", func(t *testing.T) {
		svc, local, broker := newDispatchFixture()
		local.On("Deliver", topicsAre("jobs:region=north,trade=plumbing")).Return(2)
		broker.On("Publish", mock.Anything, topicsAre("jobs:region=north,trade=plumbing")).Return(nil)

		result, err := svc.NotifyTopic(ctx, "jobs:trade=plumbing,region=north", domain.Event{Kind: domain.EventJobAvailable})
		require.NoError(t, err)
		assert.Equal(t, 2, result.LocalRecipients)
		local.AssertExpectations(t)
		broker.AssertExpectations(t)
	})

	t.Run("invalid topic", func(t *testing.T) {
		svc, _, _ := newDispatchFixture()
		_, err := svc.NotifyTopic(ctx, "ticket",domain.Event{Kind: domain.EventTicketUpdated})
		assert.ErrorIs(t, err, apperrors.ErrInvalidTopic)
	})
}

func TestDispatchService_NotifyRole(t *testing.T) {
	ctx := context.Background()

	t.Run("valid role", func(t *testing.T) {
		svc, local, broker := newDispatchFixture()
		local.On("Deliver", topicsAre("role:contractor")).Return(3)
		broker.On("Publish", mock.Anything, mock.Anything).Return(nil)

		result, err := svc.NotifyRole(ctx, domain.RoleContractor, domain.Event{Kind: domain.EventJobAvailable})
		require.NoError(t, err)
		assert.Equal(t, 3, result.LocalRecipients)
	})

	t.Run("unknown role", func(t *testing.T) {
		svc, _, _ := newDispatchFixture()
		_, err := svc.NotifyRole(ctx, "landlord", domain.Event{Kind: domain.EventJobAvailable})
		assert.ErrorIs(t, err, apperrors.ErrInvalidRole)
	})
}

func TestDispatchService_Broadcast(t *testing.T) {
	svc, local, broker := newDispatchFixture()
	local.On("Deliver", mock.MatchedBy(func(env domain.Envelope) bool {
		return env.All && env.Event.Origin == domain.SystemOrigin && !env.Event.CreatedAt.IsZero()
	})).Return(5)
	broker.On("Publish", mock.Anything, mock.Anything).Return(nil)

	result, err := svc.Broadcast(context.Background(), domain.Event{Kind: domain.EventMessageReceived})
	require.NoError(t, err)
	assert.Equal(t, 5, result.LocalRecipients)
	local.AssertExpectations(t)
}

func TestDispatchService_NotifyStatusChange(t *testing.T) {
	ctx := context.Background()

	t.Run("targets ticket followers and affected users once", func(t *testing.T) {
		svc, local, broker := newDispatchFixture()

		var delivered domain.Envelope
		local.On("Deliver", mock.Anything).Run(func(args mock.Arguments) {
			delivered = args.Get(0).(domain.Envelope)
		}).Return(2)
		broker.On("Publish", mock.Anything, mock.Anything).Return(nil)

		_, err := svc.NotifyStatusChange(ctx, ports.StatusChangeParams{
			TicketID:        "456",
			OldStatus:       "open",
			NewStatus:       "assigned",
			AffectedUserIDs: []string{"tenant-001", "contractor-001", "tenant-001", ""},
			Origin:          "agent-001",
			Metadata:        map[string]string{"tenantId": "org-1"},
		})
		require.NoError(t, err)

		assert.Equal(t, []domain.Topic{"ticket:456", "user:tenant-001", "user:contractor-001"}, delivered.Topics)
		require.NotNil(t, delivered.Event)
		assert.Equal(t, domain.EventTicketAssigned, delivered.Event.Kind)
		assert.Equal(t, "agent-001", delivered.Event.Origin)
		assert.Equal(t, "org-1", delivered.Event.Metadata["tenantId"])
		assert.Equal(t, domain.StatusChange{TicketID: "456", OldStatus: "open", NewStatus: "assigned"}, delivered.Event.Data)
	})

	t.Run("kind follows new status", func(t *testing.T) {
		svc, local, broker := newDispatchFixture()
		local.On("Deliver", mock.MatchedBy(func(env domain.Envelope) bool {
			return env.Event.Kind == domain.EventTicketUpdated
		})).Return(0)
		broker.On("Publish", mock.Anything, mock.Anything).Return(nil)

		_, err := svc.NotifyStatusChange(ctx, ports.StatusChangeParams{TicketID: "456", NewStatus: "in_progress"})
		require.NoError(t, err)
		local.AssertExpectations(t)
	})

	t.Run("missing ticket", func(t *testing.T) {
		svc, _, _ := newDispatchFixture()
		_, err := svc.NotifyStatusChange(ctx, ports.StatusChangeParams{NewStatus: "completed"})
		assert.ErrorIs(t, err, apperrors.ErrTicketIDRequired)
	})
}

func TestDispatchService_DisconnectUser(t *testing.T) {
	svc, local, broker := newDispatchFixture()
	local.On("Disconnect", "tenant-001", "revoked").Return(2)
	broker.On("Publish", mock.Anything, mock.MatchedBy(func(env domain.Envelope) bool {
		return env.Action == domain.ActionDisconnect && env.UserID == "tenant-001"
	})).Return(nil)

	result, err := svc.DisconnectUser(context.Background(), "tenant-001", "revoked")
	require.NoError(t, err)
	assert.Equal(t, 2, result.LocalRecipients)
	assert.True(t, result.Forwarded)

	_, err = svc.DisconnectUser(context.Background(), "", "revoked")
	assert.ErrorIs(t, err, apperrors.ErrUserIDRequired)
}

func TestDispatchService_HandleEnvelope(t *testing.T) {
	event, err := domain.NewEvent(domain.EventTicketCreated, "", nil)
	require.NoError(t, err)

	t.Run("own envelopes are skipped", func(t *testing.T) {
		svc, local, _ := newDispatchFixture()
		env, err := domain.NewDeliveryEnvelope("node-a", event, "ticket:1")
		require.NoError(t, err)

		svc.HandleEnvelope(env)
		local.AssertNotCalled(t, "Deliver", mock.Anything)
	})

	t.Run("remote delivery", func(t *testing.T) {
		svc, local, _ := newDispatchFixture()
		env, err := domain.NewDeliveryEnvelope("node-b", event, "ticket:1")
		require.NoError(t, err)
		local.On("Deliver", env).Return(1)

		svc.HandleEnvelope(env)
		local.AssertExpectations(t)
	})

	t.Run("remote disconnect", func(t *testing.T) {
		svc, local, _ := newDispatchFixture()
		env, err := domain.NewDisconnectEnvelope("node-b", "tenant-001", "revoked")
		require.NoError(t, err)
		local.On("Disconnect", "tenant-001", "revoked").Return(1)

		svc.HandleEnvelope(env)
		local.AssertExpectations(t)
	})
}
