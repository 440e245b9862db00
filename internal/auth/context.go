package auth

import (
	"context"
	"slices"
	"strings"
)

// Caller is the authenticated identity behind a request.
type Caller struct {
	Subject string
	Roles   []string
}

// Has reports whether c carries role, compared case-insensitively.
func (c Caller) Has(role string) bool {
	return slices.Contains(c.Roles, strings.ToLower(strings.TrimSpace(role)))
}

// Can reports whether any of c's roles grants perm.
func (c Caller) Can(perm string) bool {
	for _, role := range c.Roles {
		if slices.Contains(roleGrants[role], perm) {
			return true
		}
	}
	return false
}

type callerKey struct{}

// WithCaller attaches the caller to ctx with roles normalised.
func WithCaller(ctx context.Context, subject string, roles []string) context.Context {
	return context.WithValue(ctx, callerKey{}, Caller{
		Subject: strings.TrimSpace(subject),
		Roles:   dedupeRoles(roles),
	})
}

// CallerFrom returns the caller stored by WithCaller. ok is false for
// anonymous requests.
func CallerFrom(ctx context.Context) (Caller, bool) {
	c, ok := ctx.Value(callerKey{}).(Caller)
	if !ok || c.Subject == "" {
		return Caller{}, false
	}
	return c, true
}
