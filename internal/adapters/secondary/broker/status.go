package broker

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/lorrc/notify-gateway/internal/core/domain"
)

// statusTracker records the health counters every backend reports.
// A failed publish or subscription error marks the broker degraded until
// the next reconnect, or the next successful publish while connected.
type statusTracker struct {
	backend string

	mu          sync.Mutex
	connected   bool
	degraded    bool
	lastError   string
	lastErrorAt *time.Time

	published atomic.Uint64
	failures  atomic.Uint64
	received  atomic.Uint64
}

func newStatusTracker(backend string) *statusTracker {
	return &statusTracker{backend: backend}
}

func (s *statusTracker) setConnected(connected bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connected = connected
	if connected {
		s.degraded = false
	}
}

func (s *statusTracker) recordPublish(err error) {
	if err == nil {
		s.published.Add(1)
		s.mu.Lock()
		if s.connected {
			s.degraded = false
		}
		s.mu.Unlock()
		return
	}
	s.failures.Add(1)
	s.recordError(err)
}

func (s *statusTracker) recordError(err error) {
	now := time.Now().UTC()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.degraded = true
	s.lastError = err.Error()
	s.lastErrorAt = &now
}

func (s *statusTracker) isConnected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}

func (s *statusTracker) recordReceived() {
	s.received.Add(1)
}

func (s *statusTracker) snapshot() domain.BrokerStatus {
	s.mu.Lock()
	defer s.mu.Unlock()

	status := domain.BrokerStatus{
		Backend:         s.backend,
		Connected:       s.connected,
		Degraded:        s.degraded,
		LastError:       s.lastError,
		Published:       s.published.Load(),
		PublishFailures: s.failures.Load(),
		Received:        s.received.Load(),
	}
	if s.lastErrorAt != nil {
		at := *s.lastErrorAt
		status.LastErrorAt = &at
	}
	return status
}
