package oidc

import (
	"context"
	"fmt"

	"github.com/coreos/go-oidc/v3/oidc"

	"github.com/noosphere/hub/internal/tokens"
)

// IDToken is a minimal interface for token payloads that allows extracting claims
// It is satisfied by *oidc.IDToken and by test fakes.
type IDToken interface {
	Claims(v interface{}) error
}

// Verifier wraps the OIDC provider and token verifier
type Verifier struct {
	provider *oidc.Provider
	verifier *oidc.IDTokenVerifier
}

// NewVerifier creates a new OIDC verifier for the given issuer and client ID
func NewVerifier(ctx context.Context, issuer, clientID string) (*Verifier, error) {
	provider, err := oidc.NewProvider(ctx, issuer)
	if err != nil {
		return nil, fmt.Errorf("failed to discover OIDC provider: %w", err)
	}
	verifier := provider.Verifier(&oidc.Config{ClientID: clientID})
	return &Verifier{provider: provider, verifier: verifier}, nil
}

// Verify checks the raw ID token and returns it as an OAuth2 login token.
func (v *Verifier) Verify(ctx context.Context, raw string) (tokens.Verified, error) {
	idToken, err := v.verifier.Verify(ctx, raw)
	if err != nil {
		return nil, err
	}
	return toOAuth2Token(idToken)
}

// toOAuth2Token copies the token claims into an OAuth2Token. Authorities
// come from the "roles" and "groups" claims.
func toOAuth2Token(t IDToken) (tokens.Verified, error) {
	var claims map[string]interface{}
	if err := t.Claims(&claims); err != nil {
		return nil, fmt.Errorf("failed to parse claims: %w", err)
	}
	return tokens.OAuth2Token{
		Attributes:  claims,
		Authorities: tokens.AuthoritiesFromClaims(claims),
	}, nil
}
