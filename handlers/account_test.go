package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noosphere/hub/internal/cache"
	"github.com/noosphere/hub/internal/models"
	"github.com/noosphere/hub/internal/security"
	"github.com/noosphere/hub/internal/tokens"
	"github.com/noosphere/hub/internal/users"
	"github.com/noosphere/hub/pkg/middleware"
)

// fakeVerifier maps raw bearer strings to tokens.
type fakeVerifier map[string]tokens.Verified

func (f fakeVerifier) Verify(ctx context.Context, raw string) (tokens.Verified, error) {
	if t, ok := f[raw]; ok {
		return t, nil
	}
	return nil, assert.AnError
}

func newTestRouter(t *testing.T) (*gin.Engine, *users.MemoryUserRepository) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	repo := users.NewMemoryUserRepository()
	svc := users.NewService(repo, users.NewMemoryAuthorityRepository(), cache.NewLRUManager(10, time.Minute), nil)
	require.NoError(t, repo.Insert(context.Background(), &models.User{
		ID: "u-key", Email: "key@example.com", APIKey: "k-1", Activated: true, Authorities: []string{users.RoleUser},
	}))

	ver := fakeVerifier{
		"user-token": tokens.OAuth2Token{
			Attributes:  map[string]interface{}{"sub": "kc-1", "email": "Jane@Example.com", "given_name": "Jane", "family_name": "Doe"},
			Authorities: []string{users.RoleUser},
		},
		"admin-token": tokens.JWTToken{
			Claims:      map[string]interface{}{"sub": "root@example.com", "uid": "kc-0"},
			Authorities: []string{users.RoleAdmin},
		},
	}

	r := gin.New()
	h := NewAccountHandler(svc)
	h.Register(r.Group("/api"),
		middleware.APIKeyAuth(security.NewAuthenticator(svc), security.DefaultAPIKeyHeader),
		middleware.AuthMiddleware(ver))
	return r, repo
}

func do(r http.Handler, method, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestMe_APIKey(t *testing.T) {
	r, _ := newTestRouter(t)

	w := do(r, http.MethodGet, "/api/me", "", map[string]string{"X-API-KEY": "k-1"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"id":"u-key","authorities":["ROLE_USER"]}`, w.Body.String())

	w = do(r, http.MethodGet, "/api/me", "", map[string]string{"X-API-KEY": "nope"})
	require.Equal(t, http.StatusUnauthorized, w.Code)
	assert.JSONEq(t, `{"error":"api key was not found or not the expected value"}`, w.Body.String())
}

func TestGetAccount_SyncsTokenUser(t *testing.T) {
	r, repo := newTestRouter(t)

	w := do(r, http.MethodGet, "/api/account", "", map[string]string{"Authorization": "Bearer user-token"})
	require.Equal(t, http.StatusOK, w.Code)

	var sum models.UserSummary
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &sum))
	assert.Equal(t, "kc-1", sum.ID)
	assert.Equal(t, "jane@example.com", sum.Email)
	assert.Equal(t, "Jane Doe", sum.Name)
	assert.Equal(t, []string{users.RoleUser}, sum.Authorities)
	assert.Equal(t, 2, repo.Len())

	w = do(r, http.MethodGet, "/api/account", "", nil)
	require.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestUpdateAccount(t *testing.T) {
	r, repo := newTestRouter(t)
	auth := map[string]string{"Authorization": "Bearer user-token"}

	w := do(r, http.MethodPut, "/api/account", `{"firstName":"Janet","lastName":"Doe","apiKey":" k-9 ","langKey":"en"}`, auth)
	require.Equal(t, http.StatusOK, w.Code)

	var sum models.UserSummary
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &sum))
	assert.Equal(t, "Janet Doe", sum.Name)

	u, err := repo.GetByAPIKey(context.Background(), "k-9", users.AnyStatus)
	require.NoError(t, err)
	require.NotNil(t, u)
	assert.Equal(t, "kc-1", u.ID)

	w = do(r, http.MethodPut, "/api/account", `{not json`, auth)
	require.Equal(t, http.StatusBadRequest, w.Code)

	// api key already held by another user
	w = do(r, http.MethodPut, "/api/account", `{"apiKey":"k-1"}`, auth)
	require.Equal(t, http.StatusConflict, w.Code)
}

func TestListAuthorities_RequiresAdmin(t *testing.T) {
	r, _ := newTestRouter(t)

	w := do(r, http.MethodGet, "/api/authorities", "", map[string]string{"Authorization": "Bearer user-token"})
	require.Equal(t, http.StatusForbidden, w.Code)

	// admin sync stores ROLE_ADMIN before listing
	w = do(r, http.MethodGet, "/api/account", "", map[string]string{"Authorization": "Bearer admin-token"})
	require.Equal(t, http.StatusOK, w.Code)

	w = do(r, http.MethodGet, "/api/authorities", "", map[string]string{"Authorization": "Bearer admin-token"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `["ROLE_ADMIN"]`, w.Body.String())
}

func TestRegister_AfterMiddlewareRunsBetweenAuthAndHandler(t *testing.T) {
	gin.SetMode(gin.TestMode)
	repo := users.NewMemoryUserRepository()
	svc := users.NewService(repo, users.NewMemoryAuthorityRepository(), cache.NewLRUManager(10, time.Minute), nil)
	require.NoError(t, repo.Insert(context.Background(), &models.User{ID: "u-key", APIKey: "k-1", Activated: true}))

	var order []string
	r := gin.New()
	NewAccountHandler(svc).Register(r.Group("/api"),
		func(c *gin.Context) {
			order = append(order, "auth")
			middleware.APIKeyAuth(security.NewAuthenticator(svc), security.DefaultAPIKeyHeader)(c)
		},
		middleware.AuthMiddleware(fakeVerifier{}),
		func(c *gin.Context) {
			order = append(order, "after")
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "slow down"})
		})

	w := do(r, http.MethodGet, "/api/me", "", map[string]string{"X-API-KEY": "k-1"})
	require.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.JSONEq(t, `{"error":"slow down"}`, w.Body.String())
	require.Equal(t, []string{"auth", "after"}, order)
}
