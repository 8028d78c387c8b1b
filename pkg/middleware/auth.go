package middleware

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noosphere/hub/internal/security"
	"github.com/noosphere/hub/internal/tokens"
)

// ContextToken is the gin context key holding the verified bearer token.
const ContextToken = "token"

// Verifier checks a raw bearer token and returns its verified form.
type Verifier interface {
	Verify(ctx context.Context, raw string) (tokens.Verified, error)
}

// FirstOf tries each verifier in order and returns the first success.
func FirstOf(vers ...Verifier) Verifier {
	return chain(vers)
}

type chain []Verifier

func (ch chain) Verify(ctx context.Context, raw string) (tokens.Verified, error) {
	var errs []error
	for _, v := range ch {
		if v == nil {
			continue
		}
		tok, err := v.Verify(ctx, raw)
		if err == nil {
			return tok, nil
		}
		errs = append(errs, err)
	}
	if len(errs) == 0 {
		return nil, errors.New("no token verifier configured")
	}
	return nil, errors.Join(errs...)
}

// AuthMiddleware returns a Gin middleware that verifies Bearer tokens using the provided verifier
func AuthMiddleware(ver Verifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		auth := c.GetHeader("Authorization")
		if auth == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing Authorization header"})
			return
		}
		// Expect 'Bearer <token>'
		var token string
		if n, _ := fmt.Sscanf(auth, "Bearer %s", &token); n != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid Authorization header"})
			return
		}

		tok, err := ver.Verify(c.Request.Context(), token)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}

		c.Set(ContextToken, tok)
		c.Next()
	}
}

// VerifiedToken returns the token stored by AuthMiddleware.
func VerifiedToken(c *gin.Context) (tokens.Verified, bool) {
	v, ok := c.Get(ContextToken)
	if !ok {
		return nil, false
	}
	tok, ok := v.(tokens.Verified)
	return tok, ok
}

// APIKeyAuthenticator resolves a raw api key; *security.Authenticator
// satisfies it.
type APIKeyAuthenticator interface {
	Authenticate(ctx context.Context, principal, credential string) (*security.Principal, error)
}

// APIKeyAuth authenticates the request by the api key in header and installs
// the principal in the request context. Any failure is a
// 401 with the same body.
func APIKeyAuth(authn APIKeyAuthenticator, header string) gin.HandlerFunc {
	return func(c *gin.Context) {
		principal, credential := security.ExtractCredentials(c.Request, header)
		p, err := authn.Authenticate(c.Request.Context(), principal, credential)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": security.ErrInvalidCredentials.Error()})
			return
		}
		c.Request = c.Request.WithContext(security.WithPrincipal(c.Request.Context(), p))
		c.Next()
	}
}

// CurrentPrincipal returns the principal stored by APIKeyAuth.
func CurrentPrincipal(c *gin.Context) (*security.Principal, bool) {
	return security.PrincipalFrom(c.Request.Context())
}

// RequireAuthority rejects requests whose api key principal or bearer token
// lacks role. Roles are compared as plain strings.
func RequireAuthority(role string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if p, ok := CurrentPrincipal(c); ok && p.HasAuthority(role) {
			c.Next()
			return
		}
		if tok, ok := VerifiedToken(c); ok {
			for _, a := range tok.GrantedAuthorities() {
				if a == role {
					c.Next()
					return
				}
			}
		}
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "forbidden"})
	}
}
