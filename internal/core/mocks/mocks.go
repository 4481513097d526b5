package mocks

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/lorrc/notify-gateway/internal/core/domain"
	"github.com/lorrc/notify-gateway/internal/core/ports"
)

// MockBroker is a mock implementation of ports.Broker
type MockBroker struct {
	mock.Mock
}

var _ ports.Broker = (*MockBroker)(nil)

func NewMockBroker() *MockBroker {
	return &MockBroker{}
}

func (m *MockBroker) Name() string {
	args := m.Called()
	return args.String(0)
}

func (m *MockBroker) Publish(ctx context.Context, env domain.Envelope) error {
	args := m.Called(ctx, env)
	return args.Error(0)
}

func (m *MockBroker) Start(ctx context.Context, handler ports.EnvelopeHandler) error {
	args := m.Called(ctx, handler)
	return args.Error(0)
}

func (m *MockBroker) Health(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func (m *MockBroker) Status() domain.BrokerStatus {
	args := m.Called()
	return args.Get(0).(domain.BrokerStatus)
}

func (m *MockBroker) Close() error {
	args := m.Called()
	return args.Error(0)
}

// MockLocalDeliverer is a mock implementation of ports.LocalDeliverer
type MockLocalDeliverer struct {
	mock.Mock
}

var _ ports.LocalDeliverer = (*MockLocalDeliverer)(nil)

func NewMockLocalDeliverer() *MockLocalDeliverer {
	return &MockLocalDeliverer{}
}

func (m *MockLocalDeliverer) Deliver(env domain.Envelope) int {
	args := m.Called(env)
	return args.Int(0)
}

func (m *MockLocalDeliverer) Disconnect(userID, reason string) int {
	args := m.Called(userID, reason)
	return args.Int(0)
}

// MockTopicAuthorizer is a mock implementation of ports.TopicAuthorizer
type MockTopicAuthorizer struct {
	mock.Mock
}

var _ ports.TopicAuthorizer = (*MockTopicAuthorizer)(nil)

func NewMockTopicAuthorizer() *MockTopicAuthorizer {
	return &MockTopicAuthorizer{}
}

func (m *MockTopicAuthorizer) AuthorizeJoin(ctx context.Context, identity domain.Identity, topic domain.Topic) (bool, error) {
	args := m.Called(ctx, identity, topic)
	return args.Bool(0), args.Error(1)
}

// MockHubStatsProvider is a mock implementation of ports.HubStatsProvider
type MockHubStatsProvider struct {
	mock.Mock
}

var _ ports.HubStatsProvider = (*MockHubStatsProvider)(nil)

func NewMockHubStatsProvider() *MockHubStatsProvider {
	return &MockHubStatsProvider{}
}

func (m *MockHubStatsProvider) Stats() domain.HubStats {
	args := m.Called()
	return args.Get(0).(domain.HubStats)
}

func (m *MockHubStatsProvider) Connections(userID string) []domain.ConnectionInfo {
	args := m.Called(userID)
	if args.Get(0) == nil {
		return nil
	}
	return args.Get(0).([]domain.ConnectionInfo)
}

// MockNodeRepository is a mock implementation of ports.NodeRepository
type MockNodeRepository struct {
	mock.Mock
}

var _ ports.NodeRepository = (*MockNodeRepository)(nil)

func NewMockNodeRepository() *MockNodeRepository {
	return &MockNodeRepository{}
}

func (m *MockNodeRepository) Upsert(ctx context.Context, node domain.NodeStatus) error {
	args := m.Called(ctx, node)
	return args.Error(0)
}

func (m *MockNodeRepository) ListActive(ctx context.Context, since time.Time) ([]domain.NodeStatus, error) {
	args := m.Called(ctx, since)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.NodeStatus), args.Error(1)
}

func (m *MockNodeRepository) Delete(ctx context.Context, nodeID string) error {
	args := m.Called(ctx, nodeID)
	return args.Error(0)
}

// MockDispatcher is a mock implementation of ports.Dispatcher
type MockDispatcher struct {
	mock.Mock
}

var _ ports.Dispatcher = (*MockDispatcher)(nil)

func NewMockDispatcher() *MockDispatcher {
	return &MockDispatcher{}
}

func (m *MockDispatcher) NotifyUser(ctx context.Context, userID string, event domain.Event) (domain.DispatchResult, error) {
	args := m.Called(ctx, userID, event)
	return args.Get(0).(domain.DispatchResult), args.Error(1)
}

func (m *MockDispatcher) NotifyTopic(ctx context.Context, topic domain.Topic, event domain.Event) (domain.DispatchResult, error) {
	args := m.Called(ctx, topic, event)
	return args.Get(0).(domain.DispatchResult), args.Error(1)
}

func (m *MockDispatcher) NotifyRole(ctx context.Context, role domain.Role, event domain.Event) (domain.DispatchResult, error) {
	args := m.Called(ctx, role, event)
	return args.Get(0).(domain.DispatchResult), args.Error(1)
}

func (m *MockDispatcher) Broadcast(ctx context.Context, event domain.Event) (domain.DispatchResult, error) {
	args := m.Called(ctx, event)
	return args.Get(0).(domain.DispatchResult), args.Error(1)
}

func (m *MockDispatcher) NotifyStatusChange(ctx context.Context, params ports.StatusChangeParams) (domain.DispatchResult, error) {
	args := m.Called(ctx, params)
	return args.Get(0).(domain.DispatchResult), args.Error(1)
}

func (m *MockDispatcher) DisconnectUser(ctx context.Context, userID, reason string) (domain.DispatchResult, error) {
	args := m.Called(ctx, userID, reason)
	return args.Get(0).(domain.DispatchResult), args.Error(1)
}
