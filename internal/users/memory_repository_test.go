package users

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/noosphere/hub/internal/models"
)

func TestMemoryUserRepository_Lookups(t *testing.T) {
	repo := NewMemoryUserRepository()
	ctx := context.Background()
	require.NoError(t, repo.Insert(ctx, &models.User{ID: "u1", Email: "a@x", APIKey: "k1", Activated: true}))
	require.NoError(t, repo.Insert(ctx, &models.User{ID: "u2", Email: "b@x", Activated: false}))

	u, err := repo.GetByAPIKey(ctx, "k1", ActiveOnly)
	require.NoError(t, err)
	require.Equal(t, "u1", u.ID)

	u, err = repo.GetByAPIKey(ctx, "k1", InactiveOnly)
	require.NoError(t, err)
	require.Nil(t, u)

	u, err = repo.GetByEmail(ctx, "b@x", ActiveOnly)
	require.NoError(t, err)
	require.Nil(t, u)

	u, err = repo.GetByEmail(ctx, "b@x", AnyStatus)
	require.NoError(t, err)
	require.Equal(t, "u2", u.ID)

	// empty api keys never match
	u, err = repo.GetByAPIKey(ctx, "", AnyStatus)
	require.NoError(t, err)
	require.Nil(t, u)
}

func TestMemoryUserRepository_Uniqueness(t *testing.T) {
	repo := NewMemoryUserRepository()
	ctx := context.Background()
	require.NoError(t, repo.Insert(ctx, &models.User{ID: "u1", Email: "a@x", APIKey: "k1"}))

	require.ErrorIs(t, repo.Insert(ctx, &models.User{ID: "u1", Email: "other@x"}), ErrDuplicateUser)
	require.ErrorIs(t, repo.Insert(ctx, &models.User{ID: "u2", Email: "a@x"}), ErrDuplicateUser)
	require.ErrorIs(t, repo.Insert(ctx, &models.User{ID: "u2", Email: "c@x", APIKey: "k1"}), ErrDuplicateUser)
	require.ErrorIs(t, repo.Save(ctx, &models.User{ID: "u3", APIKey: "k1"}), ErrDuplicateUser)

	// saving the same id replaces it
	require.NoError(t, repo.Save(ctx, &models.User{ID: "u1", Email: "a2@x", APIKey: "k1"}))
	require.Equal(t, 1, repo.Len())
}

func TestMemoryUserRepository_ReturnsCopies(t *testing.T) {
	repo := NewMemoryUserRepository()
	ctx := context.Background()
	in := &models.User{ID: "u1", Email: "a@x", Authorities: []string{RoleUser}}
	require.NoError(t, repo.Insert(ctx, in))
	in.Authorities[0] = RoleAdmin

	u, err := repo.GetByEmail(ctx, "a@x", AnyStatus)
	require.NoError(t, err)
	require.Equal(t, []string{RoleUser}, u.Authorities)
}

func TestMemoryAuthorityRepository(t *testing.T) {
	repo := NewMemoryAuthorityRepository(RoleUser)
	ctx := context.Background()
	require.NoError(t, repo.Insert(ctx, RoleAdmin))
	require.NoError(t, repo.Insert(ctx, RoleAdmin))

	list, err := repo.List(ctx)
	require.NoError(t, err)
	require.Equal(t, []models.Authority{{Name: RoleAdmin}, {Name: RoleUser}}, list)
}

