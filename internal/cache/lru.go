package cache

import (
	"context"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/noosphere/hub/internal/models"
)

const defaultSize = 1000

// LRUUserCache keeps users in process with a size bound and a TTL.
type LRUUserCache struct {
	name string
	lru  *lru.LRU[string, *models.User]
}

// NewLRUUserCache creates an in-process cache. A zero ttl disables expiry.
func NewLRUUserCache(name string, size int, ttl time.Duration) *LRUUserCache {
	if size <= 0 {
		size = defaultSize
	}
	return &LRUUserCache{name: name, lru: lru.NewLRU[string, *models.User](size, nil, ttl)}
}

func (c *LRUUserCache) Name() string { return c.name }

func (c *LRUUserCache) Get(_ context.Context, key string) (*models.User, bool) {
	u, ok := c.lru.Get(key)
	if !ok {
		observe(c.name, "miss")
		return nil, false
	}
	observe(c.name, "hit")
	return u.Clone(), true
}

func (c *LRUUserCache) Put(_ context.Context, key string, u *models.User) {
	if u == nil {
		return
	}
	c.lru.Add(key, u.Clone())
}

func (c *LRUUserCache) Evict(_ context.Context, key string) {
	c.lru.Remove(key)
}

// Len reports the number of live entries.
func (c *LRUUserCache) Len() int { return c.lru.Len() }
