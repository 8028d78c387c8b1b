package security

import (
	"context"
	"errors"
	"strings"

	"github.com/noosphere/hub/internal/models"
	"github.com/noosphere/hub/internal/users"
	"github.com/noosphere/hub/pkg/logger"
	"github.com/noosphere/hub/pkg/metrics"
)

// ErrInvalidCredentials is the only error Authenticate returns. Its message
// says nothing about why the key was refused.
var ErrInvalidCredentials = errors.New("api key was not found or not the expected value")

// UserFinder resolves api keys; *users.Service satisfies it.
type UserFinder interface {
	FindByAPIKey(ctx context.Context, key string, f users.ActivationFilter) (*models.User, error)
}

// Authenticator resolves raw api keys to principals.
type Authenticator struct {
	users UserFinder
}

func NewAuthenticator(u UserFinder) *Authenticator {
	return &Authenticator{users: u}
}

// Authenticate resolves principal, the raw api key, to an active user.
// The credential is the extractor's placeholder and is not checked.
func (a *Authenticator) Authenticate(ctx context.Context, principal, credential string) (*Principal, error) {
	if principal == "" || strings.EqualFold(strings.TrimSpace(principal), "null") {
		return nil, a.reject("no api key supplied", nil)
	}

	u, err := a.users.FindByAPIKey(ctx, principal, users.ActiveOnly)
	if err != nil {
		return nil, a.reject("api key "+logger.MaskSecret(principal), err)
	}
	if u == nil {
		return nil, a.reject("api key "+logger.MaskSecret(principal)+" matched no active user", nil)
	}

	metrics.APIKeyAuthentications.WithLabelValues("success").Inc()
	logger.Debugf("api key %s authenticated as %s", logger.MaskSecret(principal), u.ID)
	return newPrincipal(u.ID, principal, u.Authorities), nil
}

func (a *Authenticator) reject(msg string, cause error) error {
	metrics.APIKeyAuthentications.WithLabelValues("rejected").Inc()
	if cause != nil {
		logger.Warnf("authentication failed: %s: %v", msg, cause)
	} else {
		logger.Debugf("authentication failed: %s", msg)
	}
	return ErrInvalidCredentials
}
