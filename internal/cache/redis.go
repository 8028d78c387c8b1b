package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/noosphere/hub/internal/models"
	"github.com/noosphere/hub/pkg/logger"
)

// RedisUserCache stores users as JSON under "<name>:<key>" so replicas share
// one view. Entries expire after ttl.
type RedisUserCache struct {
	client *redis.Client
	name   string
	ttl    time.Duration
}

// NewRedisUserCache creates a Redis-backed cache. A zero ttl keeps entries
// until evicted.
func NewRedisUserCache(client *redis.Client, name string, ttl time.Duration) *RedisUserCache {
	return &RedisUserCache{client: client, name: name, ttl: ttl}
}

// NewRedisManager builds both caches on the same client.
func NewRedisManager(client *redis.Client, ttl time.Duration) *Manager {
	return NewManager(NewRedisUserCache(client, UsersByEmail, ttl), NewRedisUserCache(client, UsersByAPIKey, ttl))
}

func (c *RedisUserCache) Name() string { return c.name }

func (c *RedisUserCache) key(k string) string {
	return c.name + ":" + k
}

func (c *RedisUserCache) Get(ctx context.Context, key string) (*models.User, bool) {
	b, err := c.client.Get(ctx, c.key(key)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			observe(c.name, "miss")
			return nil, false
		}
		logger.Warnf("cache %s: get failed: %v", c.name, err)
		observe(c.name, "error")
		return nil, false
	}
	var u models.User
	if err := json.Unmarshal(b, &u); err != nil {
		logger.Warnf("cache %s: dropping undecodable entry: %v", c.name, err)
		_ = c.client.Del(ctx, c.key(key)).Err()
		observe(c.name, "error")
		return nil, false
	}
	observe(c.name, "hit")
	return &u, true
}

func (c *RedisUserCache) Put(ctx context.Context, key string, u *models.User) {
	if u == nil {
		return
	}
	b, err := json.Marshal(u)
	if err != nil {
		logger.Warnf("cache %s: encode failed: %v", c.name, err)
		return
	}
	if err := c.client.Set(ctx, c.key(key), b, c.ttl).Err(); err != nil {
		logger.Warnf("cache %s: put failed: %v", c.name, err)
	}
}

func (c *RedisUserCache) Evict(ctx context.Context, key string) {
	if err := c.client.Del(ctx, c.key(key)).Err(); err != nil {
		logger.Warnf("cache %s: evict failed: %v", c.name, err)
	}
}
