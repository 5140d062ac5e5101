package auth

import (
	"context"
	"fmt"
	"strings"
)

// Roles known to the policy defaults.
const (
	RoleAdmin                = "admin"
	RoleDirector             = "director"
	RoleSeniorProjectManager = "senior_project_manager"
	RoleProjectManager       = "project_manager"
	RoleUser                 = "user"
)

// Principal is the already-authenticated caller of an operation.
type Principal struct {
	ID   string `json:"id"`
	Role string `json:"role"`
}

func (p Principal) Valid() bool {
	return strings.TrimSpace(p.ID) != ""
}

// ForbiddenError indicates the principal's role may not run an operation.
type ForbiddenError struct {
	Operation string
	Role      string
}

func (e ForbiddenError) Error() string {
	if e.Role == "" {
		return fmt.Sprintf("%s requires an authenticated principal", e.Operation)
	}
	return fmt.Sprintf("role %s may not %s", e.Role, e.Operation)
}

// RequireRole fails unless p holds one of roles.
func RequireRole(p Principal, operation string, roles []string) error {
	if !p.Valid() {
		return ForbiddenError{Operation: operation}
	}
	for _, r := range roles {
		if r == p.Role {
			return nil
		}
	}
	return ForbiddenError{Operation: operation, Role: p.Role}
}

type principalCtxKey struct{}

func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalCtxKey{}, p)
}

func FromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalCtxKey{}).(Principal)
	return p, ok && p.Valid()
}
