package models

import (
	"sort"
	"time"
)

// User is the local mirror of an identity managed by Keycloak.
// ID is the IdP subject and is never generated locally.
type User struct {
	ID             string    `bson:"_id" json:"id"`
	Login          string    `bson:"login" json:"login"`
	FirstName      string    `bson:"firstName,omitempty" json:"firstName,omitempty"`
	LastName       string    `bson:"lastName,omitempty" json:"lastName,omitempty"`
	Name           string    `bson:"name,omitempty" json:"name,omitempty"`
	Email          string    `bson:"email" json:"email"`
	APIKey         string    `bson:"apiKey,omitempty" json:"apiKey,omitempty"`
	LangKey        string    `bson:"langKey" json:"langKey"`
	ImageURL       string    `bson:"imageUrl,omitempty" json:"imageUrl,omitempty"`
	Activated      bool      `bson:"activated" json:"activated"`
	Authorities    []string  `bson:"authorities" json:"authorities"`
	CreatedAt      time.Time `bson:"createdAt" json:"createdAt"`
	LastModifiedAt time.Time `bson:"lastModifiedAt" json:"lastModifiedAt"`
}

// Clone returns a deep copy so cached records cannot be mutated by callers.
func (u *User) Clone() *User {
	if u == nil {
		return nil
	}
	c := *u
	if u.Authorities != nil {
		c.Authorities = append([]string(nil), u.Authorities...)
	}
	return &c
}

// AddAuthority adds a role name if it is not already present.
func (u *User) AddAuthority(name string) {
	for _, a := range u.Authorities {
		if a == name {
			return
		}
	}
	u.Authorities = append(u.Authorities, name)
}

// SetAuthorities replaces the role set, dropping duplicates and blanks.
func (u *User) SetAuthorities(names []string) {
	u.Authorities = nil
	for _, n := range names {
		if n != "" {
			u.AddAuthority(n)
		}
	}
}

// Authority is a role name ever observed from the IdP.
type Authority struct {
	Name string `bson:"_id" json:"name"`
}

// UserSummary is the public view of a user returned by the account endpoints.
type UserSummary struct {
	ID          string   `json:"id"`
	Login       string   `json:"login"`
	Name        string   `json:"name"`
	FirstName   string   `json:"firstName,omitempty"`
	LastName    string   `json:"lastName,omitempty"`
	Email       string   `json:"email"`
	ImageURL    string   `json:"imageUrl,omitempty"`
	LangKey     string   `json:"langKey"`
	Activated   bool     `json:"activated"`
	Authorities []string `json:"authorities"`
}

// Summary builds the public view. Authorities are sorted for stable output.
func (u *User) Summary() UserSummary {
	auths := append([]string{}, u.Authorities...)
	sort.Strings(auths)
	return UserSummary{
		ID:          u.ID,
		Login:       u.Login,
		Name:        u.Name,
		FirstName:   u.FirstName,
		LastName:    u.LastName,
		Email:       u.Email,
		ImageURL:    u.ImageURL,
		LangKey:     u.LangKey,
		Activated:   u.Activated,
		Authorities: auths,
	}
}
