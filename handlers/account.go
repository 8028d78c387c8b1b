package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noosphere/hub/internal/models"
	"github.com/noosphere/hub/internal/tokens"
	"github.com/noosphere/hub/internal/users"
	"github.com/noosphere/hub/pkg/logger"
	"github.com/noosphere/hub/pkg/middleware"
)

// AccountService is the part of users.Service the account endpoints use.
type AccountService interface {
	GetUserFromAuthentication(ctx context.Context, tok tokens.Verified) (models.UserSummary, error)
	UpdateAccount(ctx context.Context, currentEmail string, upd users.AccountUpdate) (*models.User, error)
	Authorities(ctx context.Context) ([]string, error)
}

// AccountHandler holds dependencies
type AccountHandler struct {
	svc AccountService
}

func NewAccountHandler(svc AccountService) *AccountHandler {
	return &AccountHandler{svc: svc}
}

// Register mounts the api-key and bearer routes on rg. after runs behind
// authentication and ahead of each handler, e.g. a rate limiter keyed by
// the authenticated subject.
func (h *AccountHandler) Register(rg *gin.RouterGroup, apiKeyAuth, bearerAuth gin.HandlerFunc, after ...gin.HandlerFunc) {
	keyed := rg.Group("", append([]gin.HandlerFunc{apiKeyAuth}, after...)...)
	keyed.GET("/me", h.Me)

	acc := rg.Group("", append([]gin.HandlerFunc{bearerAuth}, after...)...)
	acc.GET("/account", h.GetAccount)
	acc.PUT("/account", h.UpdateAccount)
	acc.GET("/authorities", middleware.RequireAuthority(users.RoleAdmin), h.ListAuthorities)
}

// Me returns the principal resolved from the api key.
func (h *AccountHandler) Me(c *gin.Context) {
	p, ok := middleware.CurrentPrincipal(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthenticated"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": p.Subject(), "authorities": p.Authorities()})
}

// GetAccount syncs the token holder into local storage and returns it.
func (h *AccountHandler) GetAccount(c *gin.Context) {
	sum, ok := h.currentUser(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, sum)
}

// UpdateAccount edits the profile of the token holder.
func (h *AccountHandler) UpdateAccount(c *gin.Context) {
	var req users.AccountUpdate
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	sum, ok := h.currentUser(c)
	if !ok {
		return
	}
	u, err := h.svc.UpdateAccount(c.Request.Context(), sum.Email, req)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, u.Summary())
}

// ListAuthorities returns every known role name.
func (h *AccountHandler) ListAuthorities(c *gin.Context) {
	names, err := h.svc.Authorities(c.Request.Context())
	if err != nil {
		writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, names)
}

func (h *AccountHandler) currentUser(c *gin.Context) (models.UserSummary, bool) {
	tok, ok := middleware.VerifiedToken(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthenticated"})
		return models.UserSummary{}, false
	}
	sum, err := h.svc.GetUserFromAuthentication(c.Request.Context(), tok)
	if err != nil {
		writeServiceError(c, err)
		return models.UserSummary{}, false
	}
	return sum, true
}

func writeServiceError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, tokens.ErrUnsupportedToken):
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unsupported token"})
	case errors.Is(err, users.ErrUserNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "user not found"})
	case errors.Is(err, users.ErrDuplicateUser):
		c.JSON(http.StatusConflict, gin.H{"error": "email or api key already in use"})
	case errors.Is(err, users.ErrUpstreamUnavailable):
		logger.Errorf("account: %v", err)
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "temporarily unavailable"})
	default:
		logger.Errorf("account: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}
