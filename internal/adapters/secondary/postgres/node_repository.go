package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/lorrc/notify-gateway/internal/core/domain"
	"github.com/lorrc/notify-gateway/internal/core/ports"
)

const (
	upsertNodeSQL = `
INSERT INTO notify_nodes (node_id, hostname, broker, version, started_at, last_seen_at, connections, unique_users, topics)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
ON CONFLICT (node_id) DO UPDATE SET
    hostname     = EXCLUDED.hostname,
    broker       = EXCLUDED.broker,
    version      = EXCLUDED.version,
    last_seen_at = EXCLUDED.last_seen_at,
    connections  = EXCLUDED.connections,
    unique_users = EXCLUDED.unique_users,
    topics       = EXCLUDED.topics`

	listActiveNodesSQL = `
SELECT node_id, hostname, broker, version, started_at, last_seen_at, connections, unique_users, topics
FROM notify_nodes
WHERE last_seen_at >= $1
ORDER BY node_id`

	deleteNodeSQL = `DELETE FROM notify_nodes WHERE node_id = $1`
)

type NodeRepository struct {
	pool *pgxpool.Pool
}

var _ ports.NodeRepository = (*NodeRepository)(nil)

func NewNodeRepository(pool *pgxpool.Pool) *NodeRepository {
	return &NodeRepository{pool: pool}
}

// Upsert writes the node's heartbeat. started_at is kept from the first row.
func (r *NodeRepository) Upsert(ctx context.Context, node domain.NodeStatus) error {
	startedAt := node.StartedAt
	if startedAt.IsZero() {
		startedAt = node.LastSeenAt
	}

	_, err := r.pool.Exec(ctx, upsertNodeSQL,
		node.NodeID,
		node.Hostname,
		node.Broker,
		node.Version,
		startedAt,
		node.LastSeenAt,
		node.Connections,
		node.UniqueUsers,
		node.Topics,
	)
	if err != nil {
		return fmt.Errorf("upsert node %s: %w", node.NodeID, err)
	}
	return nil
}

func (r *NodeRepository) ListActive(ctx context.Context, since time.Time) ([]domain.NodeStatus, error) {
	rows, err := r.pool.Query(ctx, listActiveNodesSQL, since)
	if err != nil {
		return nil, fmt.Errorf("list nodes: %w", err)
	}

	nodes, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.NodeStatus, error) {
		var n domain.NodeStatus
		err := row.Scan(
			&n.NodeID,
			&n.Hostname,
			&n.Broker,
			&n.Version,
			&n.StartedAt,
			&n.LastSeenAt,
			&n.Connections,
			&n.UniqueUsers,
			&n.Topics,
		)
		n.StartedAt = n.StartedAt.UTC()
		n.LastSeenAt = n.LastSeenAt.UTC()
		return n, err
	})
	if err != nil {
		return nil, fmt.Errorf("scan nodes: %w", err)
	}
	return nodes, nil
}

func (r *NodeRepository) Delete(ctx context.Context, nodeID string) error {
	if _, err := r.pool.Exec(ctx, deleteNodeSQL, nodeID); err != nil {
		return fmt.Errorf("delete node %s: %w", nodeID, err)
	}
	return nil
}

// Ping reports whether the database is reachable.
func (r *NodeRepository) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}
