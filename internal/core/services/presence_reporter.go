package services

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/lorrc/notify-gateway/internal/core/domain"
	"github.com/lorrc/notify-gateway/internal/core/ports"
)

// PresenceReporter keeps this node's row in the cluster node table fresh
// so every node's monitor can list its peers.
type PresenceReporter struct {
	repo     ports.NodeRepository
	hub      ports.HubStatsProvider
	node     domain.NodeStatus
	interval time.Duration
	logger   *slog.Logger
	done     chan struct{}
}

// NewPresenceReporter creates a reporter for the node described by base.
func NewPresenceReporter(
	repo ports.NodeRepository,
	hub ports.HubStatsProvider,
	base domain.NodeStatus,
	interval time.Duration,
	logger *slog.Logger,
) *PresenceReporter {
	if base.Hostname == "" {
		base.Hostname, _ = os.Hostname()
	}
	return &PresenceReporter{
		repo:     repo,
		hub:      hub,
		node:     base,
		interval: interval,
		logger:   logger.With("component", "presence_reporter"),
		done:     make(chan struct{}),
	}
}

// Run heartbeats until ctx is done, then removes the node's row.
// This MUST be run as a goroutine. Run must be called at most once.
func (p *PresenceReporter) Run(ctx context.Context) {
	defer close(p.done)
	p.beat(ctx)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			p.deregister()
			return
		case <-ticker.C:
			p.beat(ctx)
		}
	}
}

// Done is closed once Run has returned and the node row is removed.
func (p *PresenceReporter) Done() <-chan struct{} { return p.done }

func (p *PresenceReporter) beat(ctx context.Context) {
	stats := p.hub.Stats()

	node := p.node
	node.LastSeenAt = time.Now().UTC()
	node.Connections = stats.Connections
	node.UniqueUsers = stats.UniqueUsers
	node.Topics = len(stats.Topics)

	if err := p.repo.Upsert(ctx, node); err != nil {
		p.logger.WarnContext(ctx, "presence heartbeat failed", "error", err)
	}
}

func (p *PresenceReporter) deregister() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := p.repo.Delete(ctx, p.node.NodeID); err != nil {
		p.logger.Warn("failed to remove node row", "error", err)
		return
	}
	p.logger.Info("node deregistered", "node_id", p.node.NodeID)
}
