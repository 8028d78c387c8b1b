package cache

import (
	"context"
	"testing"
	"time"

	mr "github.com/alicebob/miniredis/v2"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/noosphere/hub/internal/models"
	"github.com/noosphere/hub/pkg/metrics"
)

func sampleUser() *models.User {
	return &models.User{
		ID:          "u-1",
		Login:       "alice",
		Email:       "alice@example.com",
		APIKey:      "key-1",
		LangKey:     "en",
		Activated:   true,
		Authorities: []string{"ROLE_USER"},
	}
}

func TestLRUUserCache_PutGetEvict(t *testing.T) {
	ctx := context.Background()
	c := NewLRUUserCache("test-lru", 10, time.Minute)

	_, ok := c.Get(ctx, "alice@example.com")
	require.False(t, ok)

	c.Put(ctx, "alice@example.com", sampleUser())
	got, ok := c.Get(ctx, "alice@example.com")
	require.True(t, ok)
	require.Equal(t, "u-1", got.ID)

	// mutating the returned copy must not leak into the cache
	got.Authorities[0] = "ROLE_ADMIN"
	again, ok := c.Get(ctx, "alice@example.com")
	require.True(t, ok)
	require.Equal(t, []string{"ROLE_USER"}, again.Authorities)

	c.Evict(ctx, "alice@example.com")
	_, ok = c.Get(ctx, "alice@example.com")
	require.False(t, ok)
}

func TestLRUUserCache_TTLExpiry(t *testing.T) {
	ctx := context.Background()
	c := NewLRUUserCache("test-lru-ttl", 10, 50*time.Millisecond)
	c.Put(ctx, "k", sampleUser())

	_, ok := c.Get(ctx, "k")
	require.True(t, ok)

	time.Sleep(120 * time.Millisecond)
	_, ok = c.Get(ctx, "k")
	require.False(t, ok)
}

func TestLRUUserCache_Metrics(t *testing.T) {
	ctx := context.Background()
	c := NewLRUUserCache("test-lru-metrics", 10, time.Minute)
	hits := testutil.ToFloat64(metrics.UserCacheLookups.WithLabelValues("test-lru-metrics", "hit"))
	misses := testutil.ToFloat64(metrics.UserCacheLookups.WithLabelValues("test-lru-metrics", "miss"))

	c.Get(ctx, "absent")
	c.Put(ctx, "present", sampleUser())
	c.Get(ctx, "present")

	require.Equal(t, hits+1, testutil.ToFloat64(metrics.UserCacheLookups.WithLabelValues("test-lru-metrics", "hit")))
	require.Equal(t, misses+1, testutil.ToFloat64(metrics.UserCacheLookups.WithLabelValues("test-lru-metrics", "miss")))
}

func TestRedisUserCache_PutGetEvict(t *testing.T) {
	m, err := mr.Run()
	require.NoError(t, err)
	defer m.Close()

	client := redis.NewClient(&redis.Options{Addr: m.Addr()})
	c := NewRedisUserCache(client, UsersByAPIKey, time.Minute)
	ctx := context.Background()

	_, ok := c.Get(ctx, "key-1")
	require.False(t, ok)

	c.Put(ctx, "key-1", sampleUser())
	require.True(t, m.Exists("usersByApiKey:key-1"))

	got, ok := c.Get(ctx, "key-1")
	require.True(t, ok)
	require.Equal(t, "alice@example.com", got.Email)
	require.Equal(t, []string{"ROLE_USER"}, got.Authorities)

	c.Evict(ctx, "key-1")
	_, ok = c.Get(ctx, "key-1")
	require.False(t, ok)
}

func TestRedisUserCache_TTLExpiry(t *testing.T) {
	m, err := mr.Run()
	require.NoError(t, err)
	defer m.Close()

	client := redis.NewClient(&redis.Options{Addr: m.Addr()})
	c := NewRedisUserCache(client, UsersByEmail, time.Second)
	ctx := context.Background()

	c.Put(ctx, "alice@example.com", sampleUser())
	_, ok := c.Get(ctx, "alice@example.com")
	require.True(t, ok)

	m.FastForward(2 * time.Second)
	_, ok = c.Get(ctx, "alice@example.com")
	require.False(t, ok)
}

func TestRedisUserCache_CorruptEntryIsMiss(t *testing.T) {
	m, err := mr.Run()
	require.NoError(t, err)
	defer m.Close()

	client := redis.NewClient(&redis.Options{Addr: m.Addr()})
	c := NewRedisUserCache(client, UsersByEmail, time.Minute)
	require.NoError(t, m.Set("usersByEmail:bad", "{not json"))

	_, ok := c.Get(context.Background(), "bad")
	require.False(t, ok)
	require.False(t, m.Exists("usersByEmail:bad"))
}

func TestRedisUserCache_BackendDownIsMiss(t *testing.T) {
	m, err := mr.Run()
	require.NoError(t, err)
	client := redis.NewClient(&redis.Options{Addr: m.Addr()})
	c := NewRedisUserCache(client, UsersByEmail, time.Minute)
	m.Close()

	_, ok := c.Get(context.Background(), "alice@example.com")
	require.False(t, ok)
	// must not panic
	c.Put(context.Background(), "alice@example.com", sampleUser())
	c.Evict(context.Background(), "alice@example.com")
}

func TestManager_PutAndEvictUser(t *testing.T) {
	ctx := context.Background()
	mgr := NewLRUManager(10, time.Minute)
	u := sampleUser()

	mgr.PutUser(ctx, u)
	_, ok := mgr.ByEmail.Get(ctx, u.Email)
	require.True(t, ok)
	_, ok = mgr.ByAPIKey.Get(ctx, u.APIKey)
	require.True(t, ok)

	mgr.EvictUser(ctx, u)
	_, ok = mgr.ByEmail.Get(ctx, u.Email)
	require.False(t, ok)
	_, ok = mgr.ByAPIKey.Get(ctx, u.APIKey)
	require.False(t, ok)

	require.Equal(t, UsersByEmail, mgr.ByEmail.Name())
	require.Equal(t, UsersByAPIKey, mgr.ByAPIKey.Name())
}
