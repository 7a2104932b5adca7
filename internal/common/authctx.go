package common

import (
	"context"
	"strings"
)

type ctxKey string

const principalKey ctxKey = "auth/principal"

// Roles recognised by the roster.
const (
	RoleAdmin = "Admin"
	RoleUser  = "User"
)

// Principal identifies the employee and session behind a request.
type Principal struct {
	UserName  string
	Role      string
	SessionID string
}

// IsAdmin reports whether the principal holds the Admin role.
func (p Principal) IsAdmin() bool {
	return strings.EqualFold(p.Role, RoleAdmin)
}

// WithPrincipal stores the authenticated principal on the provided context.
func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey, p)
}

// PrincipalFrom extracts the authenticated principal from the context if present.
func PrincipalFrom(ctx context.Context) (Principal, bool) {
	v := ctx.Value(principalKey)
	if v == nil {
		return Principal{}, false
	}
	p, ok := v.(Principal)
	return p, ok
}

// UserName returns the authenticated employee name from the context if present.
func UserName(ctx context.Context) (string, bool) {
	p, ok := PrincipalFrom(ctx)
	if !ok || p.UserName == "" {
		return "", false
	}
	return p.UserName, true
}
