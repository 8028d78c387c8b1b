package users

import (
	"context"
	"fmt"
	"strings"

	"github.com/noosphere/hub/internal/keycloak"
	"github.com/noosphere/hub/internal/models"
)

// Keycloak user attributes read during provisioning.
const (
	AttrAPIKey   = keycloak.APIKeyAttribute
	AttrLangKey  = "langKey"
	AttrImageURL = "imageUrl"
)

// Keycloak groups and the roles they grant.
const (
	GroupAdmins = "Admins"
	GroupUsers  = "Users"
	RoleAdmin   = "ROLE_ADMIN"
	RoleUser    = "ROLE_USER"
)

// IdentityProvider is the part of the Keycloak admin API the mirror uses.
type IdentityProvider interface {
	SearchByAPIKeyAttribute(ctx context.Context, key string) ([]keycloak.User, error)
	ListGroups(ctx context.Context, userID string) ([]keycloak.Group, error)
}

// authoritiesFromGroups maps the two recognised groups to roles,
// case-insensitively. Other groups are ignored.
func authoritiesFromGroups(groups []keycloak.Group) []string {
	var out []string
	for _, g := range groups {
		switch {
		case strings.EqualFold(g.Name, GroupAdmins):
			out = append(out, RoleAdmin)
		case strings.EqualFold(g.Name, GroupUsers):
			out = append(out, RoleUser)
		}
	}
	return out
}

// translateCandidate builds a complete user from a Keycloak record,
// including its group-derived authorities. Nothing is persisted here.
func (s *Service) translateCandidate(ctx context.Context, rec keycloak.User) (*models.User, error) {
	lang := rec.Attribute(AttrLangKey)
	if lang == "" {
		lang = DefaultLangKey
	}
	u := &models.User{
		ID:        rec.ID,
		Login:     strings.ToLower(rec.Username),
		FirstName: rec.FirstName,
		LastName:  rec.LastName,
		Name:      BuildFullName(lang, rec.FirstName, rec.LastName),
		Email:     strings.ToLower(rec.Email),
		APIKey:    rec.Attribute(AttrAPIKey),
		LangKey:   lang,
		ImageURL:  rec.Attribute(AttrImageURL),
		Activated: rec.Enabled,
	}
	if u.Login == "" {
		u.Login = u.ID
	}

	groups, err := s.idp.ListGroups(ctx, rec.ID)
	if err != nil {
		return nil, fmt.Errorf("%w: list groups of %s: %v", ErrUpstreamUnavailable, rec.ID, err)
	}
	u.SetAuthorities(authoritiesFromGroups(groups))
	return u, nil
}
