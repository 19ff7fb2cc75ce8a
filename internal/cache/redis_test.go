package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// setupRedis starts a throwaway Redis container and returns its address.
func setupRedis(t *testing.T) (string, func()) {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping Redis container test in short mode")
	}

	ctx := context.Background()
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7-alpine",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForListeningPort("6379/tcp").WithStartupTimeout(60 * time.Second),
		},
		Started: true,
	})
	require.NoError(t, err, "failed to start redis container")

	endpoint, err := container.Endpoint(ctx, "")
	require.NoError(t, err, "failed to get redis endpoint")

	cleanup := func() {
		if err := container.Terminate(ctx); err != nil {
			t.Logf("failed to terminate container: %v", err)
		}
	}
	return endpoint, cleanup
}

func TestRedis_SetGetClear(t *testing.T) {
	addr, cleanup := setupRedis(t)
	defer cleanup()

	ctx := context.Background()
	r, err := NewRedis(ctx, RedisConfig{Addr: addr, Prefix: "test:"}, time.Minute)
	require.NoError(t, err)
	defer r.Close()

	require.NoError(t, r.Set(ctx, "routes:1", sample{Name: "pool-7", Score: 0.5}))
	require.NoError(t, r.Set(ctx, "routes:2", sample{Name: "pool-9", Score: 0.1}))

	var got sample
	hit, err := r.Get(ctx, "routes:1", &got)
	require.NoError(t, err)
	assert.True(t, hit)
	assert.Equal(t, "pool-7", got.Name)

	stats, err := r.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"routes:1", "routes:2"}, stats.Keys)

	require.NoError(t, r.Clear(ctx))
	hit, err = r.Get(ctx, "routes:1", &got)
	require.NoError(t, err)
	assert.False(t, hit)
}

func TestRedis_PingFailure(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	_, err := NewRedis(ctx, RedisConfig{Addr: "127.0.0.1:1"}, time.Minute)
	assert.Error(t, err)
}
