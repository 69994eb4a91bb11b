package auth

import "context"

// Principal is the authorization collaborator's verdict on a request:
// who is calling and with which resolved roles.
type Principal struct {
	ID    string
	Email string
	Roles RoleSet
}

// IsAdmin reports whether the principal holds the admin role.
func (p Principal) IsAdmin() bool { return p.Roles.Has(RoleAdmin) }

// CanModerate reports whether the principal may mutate signal state.
func (p Principal) CanModerate() bool {
	return p.Roles.HasAny(RoleModerator, RoleOperator, RoleAdmin)
}

type principalContextKey struct{}

// ContextWithPrincipal attaches the authenticated principal to the context.
func ContextWithPrincipal(ctx context.Context, principal Principal) context.Context {
	return context.WithValue(ctx, principalContextKey{}, &principal)
}

// PrincipalFromContext extracts the authenticated principal from the context.
func PrincipalFromContext(ctx context.Context) (Principal, bool) {
	if ctx == nil {
		return Principal{}, false
	}
	v, ok := ctx.Value(principalContextKey{}).(*Principal)
	if !ok || v == nil {
		return Principal{}, false
	}
	return *v, true
}
