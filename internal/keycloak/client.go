// Package keycloak is a small client for the two Keycloak admin API calls
// the user mirror needs: searching users by the apiKey attribute and
// listing a user's groups.
package keycloak

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/oauth2/clientcredentials"

	"github.com/noosphere/hub/internal/config"
	"github.com/noosphere/hub/pkg/metrics"
)

// APIKeyAttribute is the user attribute holding the api key.
const APIKeyAttribute = "apiKey"

// ErrUnavailable wraps transport failures and non-2xx answers.
var ErrUnavailable = errors.New("keycloak unavailable")

// User is the subset of Keycloak's UserRepresentation used here.
type User struct {
	ID         string              `json:"id"`
	Username   string              `json:"username"`
	FirstName  string              `json:"firstName"`
	LastName   string              `json:"lastName"`
	Email      string              `json:"email"`
	Enabled    bool                `json:"enabled"`
	Attributes map[string][]string `json:"attributes,omitempty"`
}

// Attribute returns the first value of a multi-valued attribute.
func (u User) Attribute(name string) string {
	if v := u.Attributes[name]; len(v) > 0 {
		return v[0]
	}
	return ""
}

// Group is the subset of GroupRepresentation used here.
type Group struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Path string `json:"path"`
}

// Client talks to {baseURL}/admin/realms/{realm} with a service-account token.
type Client struct {
	baseURL string
	realm   string
	http    *http.Client
}

// NewClient builds a client that obtains admin tokens through the client
// credentials grant against the realm's token endpoint.
func NewClient(ctx context.Context, cfg config.KeycloakConfig) *Client {
	base := strings.TrimRight(cfg.URL, "/")
	cc := clientcredentials.Config{
		ClientID:     cfg.AdminClientID,
		ClientSecret: cfg.AdminClientSecret,
		TokenURL:     base + "/realms/" + url.PathEscape(cfg.Realm) + "/protocol/openid-connect/token",
	}
	hc := cc.Client(ctx)
	if cfg.Timeout > 0 {
		hc.Timeout = cfg.Timeout
	}
	return NewClientWithHTTP(base, cfg.Realm, hc)
}

// NewClientWithHTTP uses an already authenticated http.Client.
func NewClientWithHTTP(baseURL, realm string, hc *http.Client) *Client {
	if hc == nil {
		hc = &http.Client{Timeout: 10 * time.Second}
	}
	return &Client{baseURL: strings.TrimRight(baseURL, "/"), realm: realm, http: hc}
}

func (c *Client) adminURL(path string) string {
	return c.baseURL + "/admin/realms/" + url.PathEscape(c.realm) + path
}

// SearchByAPIKeyAttribute returns every user whose apiKey attribute equals key.
func (c *Client) SearchByAPIKeyAttribute(ctx context.Context, key string) ([]User, error) {
	q := url.Values{}
	q.Set("q", APIKeyAttribute+":"+key)
	q.Set("exact", "true")
	q.Set("briefRepresentation", "false")
	var out []User
	if err := c.get(ctx, "search_users", c.adminURL("/users")+"?"+q.Encode(), &out); err != nil {
		return nil, err
	}
	return out, nil
}

// ListGroups returns the groups the user is a direct member of.
func (c *Client) ListGroups(ctx context.Context, userID string) ([]Group, error) {
	var out []Group
	if err := c.get(ctx, "list_groups", c.adminURL("/users/"+url.PathEscape(userID)+"/groups"), &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) get(ctx context.Context, op, u string, dst interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		metrics.IdPRequests.WithLabelValues(op, "error").Inc()
		return fmt.Errorf("%w: %s: %v", ErrUnavailable, op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		metrics.IdPRequests.WithLabelValues(op, "error").Inc()
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%w: %s: status %d: %s", ErrUnavailable, op, resp.StatusCode, strings.TrimSpace(string(body)))
	}
	if err := json.NewDecoder(resp.Body).Decode(dst); err != nil {
		metrics.IdPRequests.WithLabelValues(op, "error").Inc()
		return fmt.Errorf("%w: %s: decode: %v", ErrUnavailable, op, err)
	}
	metrics.IdPRequests.WithLabelValues(op, "ok").Inc()
	return nil
}
