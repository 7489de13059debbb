package cache_test

import (
	"context"
	"testing"
	"time"

	"github.com/bomyoungkim-gmail/vivacampo-app-sub001/internal/cache"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

func setupRedis(t *testing.T) *cache.RedisCache {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	ctx := context.Background()
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7-alpine",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForLog("Ready to accept connections").WithStartupTimeout(30 * time.Second),
		},
		Started: true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, container.Terminate(ctx)) })

	endpoint, err := container.Endpoint(ctx, "")
	require.NoError(t, err)
	rc, err := cache.NewRedisCache("redis://" + endpoint)
	require.NoError(t, err)
	t.Cleanup(func() { _ = rc.Close() })
	require.NoError(t, rc.Ping(ctx))
	return rc
}

func TestRedisCache_SceneEntryOutlivesTTLUntilRetention(t *testing.T) {
	rc := setupRedis(t)
	ctx := context.Background()
	sc := cache.NewSceneCache(rc, time.Second, 2*time.Second)
	fp := "fp-" + uuid.NewString()[:8]

	require.NoError(t, sc.Put(ctx, fp, []string{"S2A_1"}))
	time.Sleep(1500 * time.Millisecond)

	var fresh []string
	ok, err := sc.Fresh(ctx, fp, &fresh)
	require.NoError(t, err)
	assert.False(t, ok, "entry is past its TTL")

	var stale []string
	entry, ok, err := sc.Stale(ctx, fp, &stale)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []string{"S2A_1"}, stale)
	assert.Equal(t, time.Second, entry.TTL)

	time.Sleep(2 * time.Second)
	_, ok, err = sc.Stale(ctx, fp, &stale)
	require.NoError(t, err)
	assert.False(t, ok, "redis expired the key after retention")
}

func TestRedisCache_MissIsNotAnError(t *testing.T) {
	rc := setupRedis(t)
	val, found, err := rc.Get(context.Background(), cache.SceneKey("unknown"))
	require.NoError(t, err)
	assert.False(t, found)
	assert.Nil(t, val)
}

func TestRedisCache_RateWindowCountsAndResets(t *testing.T) {
	rc := setupRedis(t)
	ctx := context.Background()
	key := cache.RateLimitKey("vc_" + uuid.NewString()[:8])

	for want := int64(1); want <= 3; want++ {
		n, err := rc.IncrWithExpiry(ctx, key, time.Second)
		require.NoError(t, err)
		assert.Equal(t, want, n)
	}

	time.Sleep(1500 * time.Millisecond)
	n, err := rc.IncrWithExpiry(ctx, key, time.Second)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n, "a new window starts from one")
}

func TestKeyBuilders(t *testing.T) {
	assert.Equal(t, "scene:abc123", cache.SceneKey("abc123"))
	assert.Equal(t, "breaker:optical-primary", cache.BreakerKey("optical-primary"))
	assert.Equal(t, "ratelimit:vc_abcd1234", cache.RateLimitKey("vc_abcd1234"))
	assert.Equal(t, "tilewarm:node-a:f1:14/6011/9270", cache.TileWarmKey("node-a", "f1", 14, 6011, 9270))

	keys := map[string]bool{
		cache.SceneKey("x"):                  true,
		cache.BreakerKey("x"):                true,
		cache.RateLimitKey("x"):              true,
		cache.TileWarmKey("x", "y", 1, 2, 3): true,
	}
	assert.Len(t, keys, 4)
}
