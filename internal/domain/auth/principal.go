package auth

import (
	"context"
	"strings"
)

// Roles recognised by the API.
const (
	RoleCustomer = "customer"
	RoleAdmin    = "admin"
	// RoleSystem is used by background workers acting without a user.
	RoleSystem = "system"
)

// Principal is the authenticated caller.
type Principal struct {
	ID   string
	Role string
}

// IsAdmin reports whether the principal may perform administrative operations.
func (p Principal) IsAdmin() bool {
	return strings.EqualFold(p.Role, RoleAdmin) || strings.EqualFold(p.Role, RoleSystem)
}

// CanAccess reports whether the principal may read a resource owned by ownerID.
func (p Principal) CanAccess(ownerID string) bool {
	return p.IsAdmin() || (p.ID != "" && p.ID == ownerID)
}

// System is the principal used by background jobs.
var System = Principal{ID: "system", Role: RoleSystem}

type principalKey struct{}

// WithPrincipal stores p in ctx.
func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

// FromContext returns the principal stored in ctx.
func FromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(Principal)
	return p, ok
}
