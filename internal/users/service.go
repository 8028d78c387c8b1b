package users

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/noosphere/hub/internal/cache"
	"github.com/noosphere/hub/internal/models"
	"github.com/noosphere/hub/internal/tokens"
	"github.com/noosphere/hub/pkg/logger"
)

var (
	// ErrAmbiguousIdentity means Keycloak matched more than one user.
	ErrAmbiguousIdentity = errors.New("more than one identity matches")
	// ErrUpstreamUnavailable wraps storage and Keycloak failures.
	ErrUpstreamUnavailable = errors.New("identity upstream unavailable")

	errNoCandidate = errors.New("no identity matches")
)

// provisionTimeout bounds one Keycloak lookup plus the writes that follow.
const provisionTimeout = 30 * time.Second

// Service is the local mirror of Keycloak users. Reads go through the
// caches, then storage, then (for api keys only) Keycloak.
type Service struct {
	repo        UserRepository
	authorities AuthorityRepository
	caches      *cache.Manager
	idp         IdentityProvider

	// provisioning is keyed by api key so concurrent first sightings of a
	// key share one Keycloak round trip and one insert.
	provisioning singleflight.Group
	now          func() time.Time
}

// NewService wires the mirror. idp may be nil, which disables provisioning.
func NewService(repo UserRepository, authorities AuthorityRepository, caches *cache.Manager, idp IdentityProvider) *Service {
	return &Service{
		repo:        repo,
		authorities: authorities,
		caches:      caches,
		idp:         idp,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// FindByAPIKey resolves an api key to a user. A key unknown locally is looked
// up in Keycloak and provisioned when exactly one user carries it.
// It returns (nil, nil) when no single identity matches the key and filter.
func (s *Service) FindByAPIKey(ctx context.Context, key string, f ActivationFilter) (*models.User, error) {
	if key == "" {
		return nil, nil
	}
	if u, ok := s.caches.ByAPIKey.Get(ctx, key); ok && f.Matches(u) {
		return u, nil
	}

	u, err := s.repo.GetByAPIKey(ctx, key, f)
	if err != nil {
		return nil, fmt.Errorf("%w: find by api key: %v", ErrUpstreamUnavailable, err)
	}
	if u != nil {
		s.caches.ByAPIKey.Put(ctx, key, u)
		return u, nil
	}
	if s.idp == nil {
		return nil, nil
	}

	// detached from the caller: every joined request gets the flight's outcome
	v, err, shared := s.provisioning.Do(f.String()+":"+key, func() (interface{}, error) {
		pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), provisionTimeout)
		defer cancel()
		return s.provision(pctx, key, f)
	})
	switch {
	case errors.Is(err, errNoCandidate):
		logger.Debugf("no identity carries api key %s", logger.MaskSecret(key))
		return nil, nil
	case errors.Is(err, ErrAmbiguousIdentity):
		logger.Warnf("api key %s: %v", logger.MaskSecret(key), err)
		return nil, nil
	case err != nil:
		return nil, err
	}
	u = v.(*models.User).Clone()
	if shared {
		logger.Debugf("api key %s: joined in-flight provisioning", logger.MaskSecret(key))
	}
	if !f.Matches(u) {
		logger.Infof("user %s mirrored from keycloak does not pass filter (%s)", u.ID, f)
		return nil, nil
	}
	return u, nil
}

// provision runs at most once per key and filter at a time.
func (s *Service) provision(ctx context.Context, key string, f ActivationFilter) (*models.User, error) {
	// another flight may have finished between our storage miss and now
	if u, err := s.repo.GetByAPIKey(ctx, key, f); err != nil {
		return nil, fmt.Errorf("%w: find by api key: %v", ErrUpstreamUnavailable, err)
	} else if u != nil {
		return u, nil
	}

	candidates, err := s.idp.SearchByAPIKeyAttribute(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("%w: search by api key: %v", ErrUpstreamUnavailable, err)
	}
	switch len(candidates) {
	case 0:
		return nil, errNoCandidate
	case 1:
	default:
		return nil, fmt.Errorf("%w: %d candidates", ErrAmbiguousIdentity, len(candidates))
	}

	u, err := s.translateCandidate(ctx, candidates[0])
	if err != nil {
		return nil, err
	}
	if u.APIKey == "" {
		u.APIKey = key
	}

	if err := s.CreateUser(ctx, u); err != nil {
		if !errors.Is(err, ErrDuplicateUser) {
			return nil, fmt.Errorf("%w: insert user: %v", ErrUpstreamUnavailable, err)
		}
		if err := s.resync(ctx, key, u); err != nil {
			return nil, err
		}
	}
	s.ensureAuthorities(ctx, u.Authorities)
	s.caches.EvictUser(ctx, u)
	s.caches.PutUser(ctx, u)
	logger.Infof("provisioned user %s (%s) from keycloak", u.ID, u.Login)
	return u, nil
}

// resync overwrites the stored copy of u's subject after an insert conflict.
// The subject is stored already: inactive, under an older key, or written
// by another replica a moment ago. Keycloak's record wins. A key stored
// for a different subject is ambiguous.
func (s *Service) resync(ctx context.Context, key string, u *models.User) error {
	existing, err := s.repo.GetByAPIKey(ctx, key, AnyStatus)
	if err != nil {
		return fmt.Errorf("%w: find by api key: %v", ErrUpstreamUnavailable, err)
	}
	if existing != nil {
		if existing.ID != u.ID {
			return fmt.Errorf("%w: key stored for %s, keycloak has %s", ErrAmbiguousIdentity, existing.ID, u.ID)
		}
		u.CreatedAt = existing.CreatedAt
	}
	if err := s.repo.Save(ctx, u); err != nil {
		return fmt.Errorf("%w: save user: %v", ErrUpstreamUnavailable, err)
	}
	logger.Debugf("re-synced stored user %s from keycloak", u.ID)
	return nil
}

// FindByEmail looks a user up by email through the cache. It never
// provisions.
func (s *Service) FindByEmail(ctx context.Context, email string, f ActivationFilter) (*models.User, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return nil, nil
	}
	if u, ok := s.caches.ByEmail.Get(ctx, email); ok && f.Matches(u) {
		return u, nil
	}
	u, err := s.repo.GetByEmail(ctx, email, f)
	if err != nil {
		return nil, fmt.Errorf("%w: find by email: %v", ErrUpstreamUnavailable, err)
	}
	if u != nil {
		s.caches.ByEmail.Put(ctx, email, u)
	}
	return u, nil
}

// Upsert saves u and evicts the cache entries under its current email and
// api key. Entries under values the user had before are left alone.
func (s *Service) Upsert(ctx context.Context, u *models.User) error {
	now := s.now()
	if u.CreatedAt.IsZero() {
		u.CreatedAt = now
	}
	u.LastModifiedAt = now
	if err := s.repo.Save(ctx, u); err != nil {
		return err
	}
	s.caches.EvictUser(ctx, u)
	return nil
}

// CreateUser stores a new user built locally.
func (s *Service) CreateUser(ctx context.Context, u *models.User) error {
	if u.ID == "" {
		return errors.New("user id is required")
	}
	u.Email = strings.ToLower(u.Email)
	if u.LangKey == "" {
		u.LangKey = DefaultLangKey
	}
	if u.Login == "" {
		u.Login = u.ID
	}
	u.Name = BuildFullName(u.LangKey, u.FirstName, u.LastName)
	now := s.now()
	u.CreatedAt, u.LastModifiedAt = now, now
	if err := s.repo.Insert(ctx, u); err != nil {
		return err
	}
	s.caches.EvictUser(ctx, u)
	logger.Debugf("created user %s", u.ID)
	return nil
}

// AccountUpdate carries the self-service editable fields. Empty Email and
// APIKey leave the stored values unchanged.
type AccountUpdate struct {
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	Email     string `json:"email"`
	APIKey    string `json:"apiKey"`
	LangKey   string `json:"langKey"`
	ImageURL  string `json:"imageUrl"`
}

// UpdateAccount applies upd to the user currently known by email.
func (s *Service) UpdateAccount(ctx context.Context, currentEmail string, upd AccountUpdate) (*models.User, error) {
	u, err := s.FindByEmail(ctx, currentEmail, AnyStatus)
	if err != nil {
		return nil, err
	}
	if u == nil {
		return nil, ErrUserNotFound
	}
	applyProfile(u, upd)
	if err := s.Upsert(ctx, u); err != nil {
		return nil, err
	}
	logger.Debugf("changed information for user %s", u.ID)
	return u, nil
}

func applyProfile(u *models.User, upd AccountUpdate) {
	if upd.LangKey != "" {
		u.LangKey = upd.LangKey
	}
	u.FirstName = upd.FirstName
	u.LastName = upd.LastName
	u.Name = BuildFullName(u.LangKey, upd.FirstName, upd.LastName)
	if upd.Email != "" {
		u.Email = strings.ToLower(upd.Email)
	}
	if k := strings.TrimSpace(upd.APIKey); k != "" {
		u.APIKey = k
	}
	u.ImageURL = upd.ImageURL
}

// Authorities lists every locally known role name.
func (s *Service) Authorities(ctx context.Context) ([]string, error) {
	list, err := s.authorities.List(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(list))
	for _, a := range list {
		out = append(out, a.Name)
	}
	return out, nil
}

func (s *Service) ensureAuthorities(ctx context.Context, names []string) {
	if len(names) == 0 {
		return
	}
	known, err := s.Authorities(ctx)
	if err != nil {
		logger.Warnf("list authorities: %v", err)
		return
	}
	have := toSet(known...)
	for _, n := range names {
		if _, ok := have[n]; ok {
			continue
		}
		logger.Debugf("saving authority %q", n)
		if err := s.authorities.Insert(ctx, n); err != nil {
			logger.Warnf("save authority %q: %v", n, err)
		}
	}
}

// SyncUserWithIdP mirrors a token-bearing user into storage and returns
// the stored record. An existing record is overwritten when the token's
// updated_at is newer than its LastModifiedAt, or when the token has none.
func (s *Service) SyncUserWithIdP(ctx context.Context, claims map[string]interface{}, user *models.User) (*models.User, error) {
	s.ensureAuthorities(ctx, user.Authorities)

	existing, err := s.FindByEmail(ctx, user.Email, AnyStatus)
	if err != nil {
		return nil, err
	}
	if existing == nil {
		logger.Debugf("saving user %s in local storage", user.Login)
		now := s.now()
		user.CreatedAt, user.LastModifiedAt = now, now
		err := s.repo.Insert(ctx, user)
		if err == nil {
			s.caches.EvictUser(ctx, user)
			s.caches.PutUser(ctx, user)
			return user, nil
		}
		if !errors.Is(err, ErrDuplicateUser) {
			return nil, err
		}
		// stored concurrently, or the subject is stored under another email
		existing, err = s.repo.GetByEmail(ctx, user.Email, AnyStatus)
		if err != nil {
			return nil, fmt.Errorf("%w: find by email: %v", ErrUpstreamUnavailable, err)
		}
		if existing == nil {
			if err := s.Upsert(ctx, user); err != nil {
				return nil, err
			}
			return user, nil
		}
	}

	if idpModified, ok := parseUpdatedAt(claims); ok && !idpModified.After(existing.LastModifiedAt) {
		return existing, nil
	}
	logger.Debugf("updating user %s in local storage", user.Login)
	applyProfile(existing, AccountUpdate{
		FirstName: user.FirstName,
		LastName:  user.LastName,
		Email:     user.Email,
		APIKey:    user.APIKey,
		LangKey:   user.LangKey,
		ImageURL:  user.ImageURL,
	})
	existing.SetAuthorities(user.Authorities)
	if err := s.Upsert(ctx, existing); err != nil {
		return nil, err
	}
	return existing, nil
}

// GetUserFromAuthentication syncs the holder of a verified token and
// returns its public view.
func (s *Service) GetUserFromAuthentication(ctx context.Context, tok tokens.Verified) (models.UserSummary, error) {
	var (
		attrs       map[string]interface{}
		authorities []string
	)
	switch t := tok.(type) {
	case tokens.OAuth2Token:
		attrs, authorities = t.UserAttributes(), t.Authorities
	case tokens.JWTToken:
		attrs, authorities = t.TokenAttributes(), t.Authorities
	default:
		return models.UserSummary{}, tokens.ErrUnsupportedToken
	}

	user := userFromClaims(attrs)
	if user.ID == "" {
		return models.UserSummary{}, errors.New("token has no subject")
	}
	user.SetAuthorities(authorities)

	synced, err := s.SyncUserWithIdP(ctx, attrs, user)
	if err != nil {
		return models.UserSummary{}, err
	}
	return synced.Summary(), nil
}
