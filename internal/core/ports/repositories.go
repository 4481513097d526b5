package ports

import (
	"context"
	"time"

	"github.com/lorrc/notify-gateway/internal/core/domain"
)

// NodeRepository stores the heartbeat row of each gateway process.
type NodeRepository interface {
	Upsert(ctx context.Context, node domain.NodeStatus) error
	ListActive(ctx context.Context, since time.Time) ([]domain.NodeStatus, error)
	Delete(ctx context.Context, nodeID string) error
}
