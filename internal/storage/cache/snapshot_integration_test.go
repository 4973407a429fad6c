//go:build integration

package cache

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/xenking/sfa-scheme-engine/internal/domain/scheme"
)

func startRedis(t *testing.T) *redis.Client {
	t.Helper()
	ctx := context.Background()

	c, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7-alpine",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor: wait.ForLog("Ready to accept connections").
				WithStartupTimeout(30 * time.Second),
		},
		Started: true,
	})
	testcontainers.CleanupContainer(t, c)
	require.NoError(t, err)

	host, err := c.Host(ctx)
	require.NoError(t, err)
	port, err := c.MappedPort(ctx, "6379/tcp")
	require.NoError(t, err)

	rdb := redis.NewClient(&redis.Options{Addr: fmt.Sprintf("%s:%s", host, port.Port())})
	t.Cleanup(func() { _ = rdb.Close() })
	require.NoError(t, rdb.Ping(ctx).Err())
	return rdb
}

func TestSnapshotCache_Redis(t *testing.T) {
	rdb := startRedis(t)
	ctx := context.Background()

	repo := &countingRepo{defs: []scheme.Definition{slabDef()}}
	c := NewSnapshotCache(rdb, repo, time.Minute)

	_, err := c.Snapshot(ctx)
	require.NoError(t, err)

	ttl, err := rdb.TTL(ctx, DefaultKey).Result()
	require.NoError(t, err)
	assert.Greater(t, ttl, time.Duration(0))

	// A second cache instance reads the entry written by the first.
	other := NewSnapshotCache(rdb, repo, time.Minute)
	got, err := other.Snapshot(ctx)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "slab-1", got[0].ID)
	assert.Equal(t, int32(1), repo.calls.Load())

	require.NoError(t, other.Invalidate(ctx))
	_, err = rdb.Get(ctx, DefaultKey).Result()
	require.ErrorIs(t, err, redis.Nil)
}
