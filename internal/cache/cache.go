package cache

import (
	"context"
	"time"

	"github.com/noosphere/hub/internal/models"
	"github.com/noosphere/hub/pkg/metrics"
)

// Names of the two user caches.
const (
	UsersByEmail  = "usersByEmail"
	UsersByAPIKey = "usersByApiKey"
)

// UserCache is a named key -> user cache. Get reports a miss with false;
// implementations log backend errors and treat them as misses.
// Values are copied on the way in and out.
type UserCache interface {
	Name() string
	Get(ctx context.Context, key string) (*models.User, bool)
	Put(ctx context.Context, key string, u *models.User)
	Evict(ctx context.Context, key string)
}

// Manager groups the by-email and by-api-key caches. It is created once at
// startup and injected into the user service.
type Manager struct {
	ByEmail  UserCache
	ByAPIKey UserCache
}

// NewManager returns a Manager over the given caches.
func NewManager(byEmail, byAPIKey UserCache) *Manager {
	return &Manager{ByEmail: byEmail, ByAPIKey: byAPIKey}
}

// NewLRUManager builds both caches in-process.
func NewLRUManager(size int, ttl time.Duration) *Manager {
	return NewManager(NewLRUUserCache(UsersByEmail, size, ttl), NewLRUUserCache(UsersByAPIKey, size, ttl))
}

// EvictUser drops the entries for the user's current email and api key.
func (m *Manager) EvictUser(ctx context.Context, u *models.User) {
	if u == nil {
		return
	}
	if u.Email != "" {
		m.ByEmail.Evict(ctx, u.Email)
	}
	if u.APIKey != "" {
		m.ByAPIKey.Evict(ctx, u.APIKey)
	}
}

// PutUser stores the user under its current email and api key.
func (m *Manager) PutUser(ctx context.Context, u *models.User) {
	if u == nil {
		return
	}
	if u.Email != "" {
		m.ByEmail.Put(ctx, u.Email, u)
	}
	if u.APIKey != "" {
		m.ByAPIKey.Put(ctx, u.APIKey, u)
	}
}

func observe(name, result string) {
	metrics.UserCacheLookups.WithLabelValues(name, result).Inc()
}
