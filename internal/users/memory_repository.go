package users

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/noosphere/hub/internal/models"
)

// MemoryUserRepository keeps users in process. It enforces the same
// uniqueness as the Mongo indexes: id, non-empty email, non-empty api key.
// Used when MONGODB_URI is unset and in tests.
type MemoryUserRepository struct {
	mu    sync.RWMutex
	store map[string]*models.User
}

func NewMemoryUserRepository() *MemoryUserRepository {
	return &MemoryUserRepository{store: make(map[string]*models.User)}
}

func (m *MemoryUserRepository) find(match func(*models.User) bool, f ActivationFilter) *models.User {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, u := range m.store {
		if match(u) && f.Matches(u) {
			return u.Clone()
		}
	}
	return nil
}

func (m *MemoryUserRepository) GetByAPIKey(_ context.Context, apiKey string, f ActivationFilter) (*models.User, error) {
	return m.find(func(u *models.User) bool { return u.APIKey != "" && u.APIKey == apiKey }, f), nil
}

func (m *MemoryUserRepository) GetByEmail(_ context.Context, email string, f ActivationFilter) (*models.User, error) {
	return m.find(func(u *models.User) bool { return u.Email != "" && u.Email == email }, f), nil
}

// conflict must be called with the lock held.
func (m *MemoryUserRepository) conflict(u *models.User) bool {
	for id, other := range m.store {
		if id == u.ID {
			continue
		}
		if u.Email != "" && other.Email == u.Email {
			return true
		}
		if u.APIKey != "" && other.APIKey == u.APIKey {
			return true
		}
	}
	return false
}

func (m *MemoryUserRepository) Insert(_ context.Context, u *models.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.store[u.ID]; ok || m.conflict(u) {
		return fmt.Errorf("%w: %s", ErrDuplicateUser, u.ID)
	}
	m.store[u.ID] = u.Clone()
	return nil
}

func (m *MemoryUserRepository) Save(_ context.Context, u *models.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.conflict(u) {
		return fmt.Errorf("%w: %s", ErrDuplicateUser, u.ID)
	}
	m.store[u.ID] = u.Clone()
	return nil
}

// Len returns the number of stored users.
func (m *MemoryUserRepository) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.store)
}

// MemoryAuthorityRepository keeps authority names in process.
type MemoryAuthorityRepository struct {
	mu    sync.RWMutex
	names map[string]struct{}
}

func NewMemoryAuthorityRepository(initial ...string) *MemoryAuthorityRepository {
	r := &MemoryAuthorityRepository{names: make(map[string]struct{})}
	for _, n := range initial {
		r.names[n] = struct{}{}
	}
	return r
}

func (r *MemoryAuthorityRepository) List(_ context.Context) ([]models.Authority, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]models.Authority, 0, len(r.names))
	for n := range r.names {
		out = append(out, models.Authority{Name: n})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (r *MemoryAuthorityRepository) Insert(_ context.Context, name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.names[name] = struct{}{}
	return nil
}
