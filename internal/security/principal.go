// Package security turns a raw api key header into an authenticated
// principal and carries it through the request context.
package security

import (
	"context"
	"sort"
)

// Principal is an identity resolved from an api key.
//
// A Principal is always authenticated and never changes after construction.
// Only Authenticator creates one; a failed lookup returns an error instead
// of a partial value.
type Principal struct {
	subject     string
	credential  string
	authorities map[string]struct{}
}

func newPrincipal(subject, credential string, authorities []string) *Principal {
	set := make(map[string]struct{}, len(authorities))
	for _, a := range authorities {
		set[a] = struct{}{}
	}
	return &Principal{subject: subject, credential: credential, authorities: set}
}

// Subject is the user id the key resolved to.
func (p *Principal) Subject() string { return p.subject }

// Principal is the raw api key the caller presented.
func (p *Principal) Principal() string { return p.credential }

// IsAuthenticated is always true.
func (p *Principal) IsAuthenticated() bool { return true }

// Authorities returns the granted role names, sorted.
func (p *Principal) Authorities() []string {
	out := make([]string, 0, len(p.authorities))
	for a := range p.authorities {
		out = append(out, a)
	}
	sort.Strings(out)
	return out
}

// HasAuthority reports whether role was granted.
func (p *Principal) HasAuthority(role string) bool {
	_, ok := p.authorities[role]
	return ok
}

type principalKey struct{}

// WithPrincipal returns a copy of ctx carrying p.
func WithPrincipal(ctx context.Context, p *Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

// PrincipalFrom returns the principal installed in ctx, if any.
func PrincipalFrom(ctx context.Context) (*Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(*Principal)
	return p, ok && p != nil
}
