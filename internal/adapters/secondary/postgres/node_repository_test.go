package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lorrc/notify-gateway/internal/core/domain"
)

func TestNodeRepository_UpsertListDelete(t *testing.T) {
	pool := requirePool(t)
	ctx := context.Background()
	repo := NewNodeRepository(pool)

	now := time.Now().UTC().Truncate(time.Microsecond)
	started := now.Add(-time.Hour)

	node := domain.NodeStatus{
		NodeID:      "node-a",
		Hostname:    "host-a",
		Broker:      "postgres",
		Version:     "1.0.0",
		StartedAt:   started,
		LastSeenAt:  now,
		Connections: 10,
		UniqueUsers: 7,
		Topics:      3,
	}
	require.NoError(t, repo.Upsert(ctx, node))
	t.Cleanup(func() { _ = repo.Delete(ctx, "node-a") })

	stale := domain.NodeStatus{
		NodeID:     "node-stale",
		Broker:     "postgres",
		StartedAt:  now.Add(-2 * time.Hour),
		LastSeenAt: now.Add(-10 * time.Minute),
	}
	require.NoError(t, repo.Upsert(ctx, stale))
	t.Cleanup(func() { _ = repo.Delete(ctx, "node-stale") })

	// A second heartbeat moves the counters but keeps started_at.
	node.LastSeenAt = now.Add(time.Second)
	node.StartedAt = now
	node.Connections = 12
	require.NoError(t, repo.Upsert(ctx, node))

	active, err := repo.ListActive(ctx, now.Add(-time.Minute))
	require.NoError(t, err)
	require.Len(t, active, 1)

	got := active[0]
	assert.Equal(t, "node-a", got.NodeID)
	assert.Equal(t, "host-a", got.Hostname)
	assert.Equal(t, 12, got.Connections)
	assert.Equal(t, 7, got.UniqueUsers)
	assert.Equal(t, 3, got.Topics)
	assert.True(t, started.Equal(got.StartedAt), "started_at kept from the first heartbeat")
	assert.True(t, node.LastSeenAt.Equal(got.LastSeenAt))

	require.NoError(t, repo.Delete(ctx, "node-a"))
	active, err = repo.ListActive(ctx, now.Add(-time.Minute))
	require.NoError(t, err)
	assert.Empty(t, active)
}

func TestNodeRepository_Ping(t *testing.T) {
	pool := requirePool(t)
	assert.NoError(t, NewNodeRepository(pool).Ping(context.Background()))
}

func TestRunMigrations_EmptyURL(t *testing.T) {
	assert.Error(t, RunMigrations(""))
}
