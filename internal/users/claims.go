package users

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/noosphere/hub/internal/models"
)

// DefaultLangKey is used when the IdP supplies no language.
const DefaultLangKey = "en"

// userFromClaims builds a transient user from verified token claims.
// Resource-server JWTs carry the id in "uid" and the login in "sub".
func userFromClaims(claims map[string]interface{}) *models.User {
	u := &models.User{Activated: true}
	sub := claimString(claims, "sub")
	username := strings.ToLower(claimString(claims, "preferred_username"))

	if uid := claimString(claims, "uid"); uid != "" {
		u.ID = uid
		u.Login = sub
	} else {
		u.ID = sub
	}
	if username != "" {
		u.Login = username
	} else if u.Login == "" {
		u.Login = u.ID
	}

	if v := claimString(claims, "given_name"); v != "" {
		u.FirstName = v
	} else if v := claimString(claims, "name"); v != "" {
		u.FirstName = v
	}
	u.LastName = claimString(claims, "family_name")

	if v, ok := claims["email_verified"].(bool); ok {
		u.Activated = v
	}

	switch email := claimString(claims, "email"); {
	case email != "":
		u.Email = strings.ToLower(email)
	case strings.Contains(sub, "|") && strings.Contains(username, "@"):
		// Auth0 puts the connection in sub and the address in the username
		u.Email = username
	default:
		u.Email = sub
	}

	if v := claimString(claims, "langKey"); v != "" {
		u.LangKey = v
	} else if locale := claimString(claims, "locale"); locale != "" {
		if i := strings.IndexAny(locale, "_-"); i >= 0 {
			locale = locale[:i]
		}
		u.LangKey = strings.ToLower(locale)
	} else {
		u.LangKey = DefaultLangKey
	}

	u.ImageURL = claimString(claims, "picture")
	u.APIKey = claimString(claims, "api_key")
	u.Name = BuildFullName(u.LangKey, u.FirstName, u.LastName)
	return u
}

func claimString(claims map[string]interface{}, key string) string {
	switch v := claims[key].(type) {
	case string:
		return v
	case nil:
		return ""
	default:
		return fmt.Sprint(v)
	}
}

// parseUpdatedAt reads the IdP modification time from the "updated_at"
// claim. ok is false when the claim is absent or unreadable.
func parseUpdatedAt(claims map[string]interface{}) (t time.Time, ok bool) {
	switch v := claims["updated_at"].(type) {
	case time.Time:
		return v.UTC(), true
	case float64:
		return time.Unix(int64(v), 0).UTC(), true
	case int64:
		return time.Unix(v, 0).UTC(), true
	case int:
		return time.Unix(int64(v), 0).UTC(), true
	case json.Number:
		n, err := v.Int64()
		if err != nil {
			f, ferr := v.Float64()
			if ferr != nil {
				return time.Time{}, false
			}
			n = int64(f)
		}
		return time.Unix(n, 0).UTC(), true
	case string:
		parsed, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return time.Time{}, false
		}
		return parsed.UTC(), true
	}
	return time.Time{}, false
}
