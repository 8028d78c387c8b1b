// Package tokens holds the bearer tokens a request can present once their
// signature has been checked. Verified is closed: only OAuth2Token and
// JWTToken implement it.
package tokens

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// ErrUnsupportedToken is returned for a Verified value of an unknown shape.
var ErrUnsupportedToken = errors.New("authentication token is not OAuth2 or JWT")

// Verified is a token whose signature has already been checked.
type Verified interface {
	// Subject is the token's sub claim.
	Subject() string
	// GrantedAuthorities lists the role names carried by the token.
	GrantedAuthorities() []string
	sealed()
}

// OAuth2Token is produced by the OIDC login flow. Attributes are the ID
// token claims of the logged-in principal.
type OAuth2Token struct {
	Attributes  map[string]interface{}
	Authorities []string
}

func (t OAuth2Token) Subject() string              { return stringClaim(t.Attributes, "sub") }
func (t OAuth2Token) GrantedAuthorities() []string { return t.Authorities }
func (OAuth2Token) sealed()                        {}

// UserAttributes returns the principal's attributes.
func (t OAuth2Token) UserAttributes() map[string]interface{} {
	return t.Attributes
}

// JWTToken is produced by resource-server bearer authentication.
type JWTToken struct {
	Claims      jwt.MapClaims
	Authorities []string
}

func (t JWTToken) Subject() string              { return stringClaim(t.Claims, "sub") }
func (t JWTToken) GrantedAuthorities() []string { return t.Authorities }
func (JWTToken) sealed()                        {}

// TokenAttributes returns the token claims as a plain map.
func (t JWTToken) TokenAttributes() map[string]interface{} {
	return map[string]interface{}(t.Claims)
}

// ParseJWT verifies an HS256 token with secret and returns it as a JWTToken.
// Authorities are read from the "roles" and "groups" claims.
func ParseJWT(secret, raw string) (JWTToken, error) {
	if secret == "" {
		return JWTToken{}, errors.New("jwt secret is not configured")
	}
	claims := jwt.MapClaims{}
	_, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (interface{}, error) {
		return []byte(secret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return JWTToken{}, fmt.Errorf("parse jwt: %w", err)
	}
	return JWTToken{Claims: claims, Authorities: AuthoritiesFromClaims(claims)}, nil
}

// AuthoritiesFromClaims collects role names from the "roles" and "groups"
// claims, which may be a string or a list of strings. Group paths such as
// "/ROLE_ADMIN" are reduced to their last segment.
func AuthoritiesFromClaims(claims map[string]interface{}) []string {
	seen := map[string]struct{}{}
	for _, name := range []string{"roles", "groups"} {
		switch v := claims[name].(type) {
		case string:
			addAuthority(seen, v)
		case []interface{}:
			for _, e := range v {
				if s, ok := e.(string); ok {
					addAuthority(seen, s)
				}
			}
		case []string:
			for _, s := range v {
				addAuthority(seen, s)
			}
		}
	}
	out := make([]string, 0, len(seen))
	for a := range seen {
		out = append(out, a)
	}
	sort.Strings(out)
	return out
}

func addAuthority(seen map[string]struct{}, s string) {
	s = strings.TrimSpace(s)
	if i := strings.LastIndex(s, "/"); i >= 0 {
		s = s[i+1:]
	}
	if s != "" {
		seen[s] = struct{}{}
	}
}

func stringClaim(m map[string]interface{}, key string) string {
	s, _ := m[key].(string)
	return s
}

// HS256Verifier verifies resource-server tokens signed with a shared secret.
type HS256Verifier struct {
	Secret string
}

func (v HS256Verifier) Verify(_ context.Context, raw string) (Verified, error) {
	tok, err := ParseJWT(v.Secret, raw)
	if err != nil {
		return nil, err
	}
	return tok, nil
}
