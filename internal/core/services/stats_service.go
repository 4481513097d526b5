package services

import (
	"context"
	"log/slog"
	"os"
	"runtime"
	"time"

	"github.com/shirou/gopsutil/v3/process"

	"github.com/lorrc/notify-gateway/internal/core/domain"
	"github.com/lorrc/notify-gateway/internal/core/ports"
)

// StatsService assembles the operational view of this node and, when a
// node repository is configured, of the cluster.
type StatsService struct {
	nodeID        string
	version       string
	startedAt     time.Time
	hub           ports.HubStatsProvider
	broker        ports.Broker
	nodes         ports.NodeRepository
	clusterWindow time.Duration
	proc          *process.Process
	logger        *slog.Logger
}

var _ ports.StatsService = (*StatsService)(nil)

// NewStatsService creates a new stats service. nodes may be nil, in which
// case snapshots carry no cluster view.
func NewStatsService(
	nodeID, version string,
	hub ports.HubStatsProvider,
	broker ports.Broker,
	nodes ports.NodeRepository,
	clusterWindow time.Duration,
	logger *slog.Logger,
) *StatsService {
	logger = logger.With("component", "stats_service")

	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		logger.Warn("process stats unavailable", "error", err)
		proc = nil
	}

	return &StatsService{
		nodeID:        nodeID,
		version:       version,
		startedAt:     time.Now().UTC(),
		hub:           hub,
		broker:        broker,
		nodes:         nodes,
		clusterWindow: clusterWindow,
		proc:          proc,
		logger:        logger,
	}
}

// StartedAt is when this node came up.
func (s *StatsService) StartedAt() time.Time {
	return s.startedAt
}

// Snapshot reports everything the monitor knows right now.
func (s *StatsService) Snapshot(ctx context.Context) domain.Snapshot {
	now := time.Now().UTC()
	snap := domain.Snapshot{
		NodeID:    s.nodeID,
		Version:   s.version,
		Timestamp: now,
		Uptime:    now.Sub(s.startedAt).Round(time.Second).String(),
		Hub:       s.hub.Stats(),
		Broker:    s.broker.Status(),
		Process:   s.processStats(ctx),
	}

	if s.nodes != nil {
		nodes, err := s.nodes.ListActive(ctx, now.Add(-s.clusterWindow))
		if err != nil {
			s.logger.WarnContext(ctx, "failed to list cluster nodes", "error", err)
		} else {
			snap.Cluster = nodes
		}
	}
	return snap
}

// Topics lists every live topic with its membership count.
func (s *StatsService) Topics() []domain.TopicStats {
	return s.hub.Stats().Topics
}

// Connections lists the open connections of userID on this node.
func (s *StatsService) Connections(userID string) []domain.ConnectionInfo {
	return s.hub.Connections(userID)
}

func (s *StatsService) processStats(ctx context.Context) *domain.ProcessStats {
	stats := &domain.ProcessStats{
		PID:        int32(os.Getpid()),
		Goroutines: runtime.NumGoroutine(),
	}
	if s.proc == nil {
		return stats
	}

	if mem, err := s.proc.MemoryInfoWithContext(ctx); err == nil {
		stats.RSSBytes = mem.RSS
	}
	if cpu, err := s.proc.CPUPercentWithContext(ctx); err == nil {
		stats.CPUPercent = cpu
	}
	return stats
}
