package approval

import (
	"context"

	"signali.bg/internal/auth"
)

// Tx is the view inside one atomic unit covering the approval request,
// the user's role document and the grant ledger. Reads observe committed
// state; writes commit together or not at all.
type Tx interface {
	GetRequest(id string) (Request, error)
	PutRequest(r Request) error

	GetUserRoles(userID string) (auth.RoleSet, error)
	PutUserRoles(userID string, roles auth.RoleSet) error

	AddGrant(g Grant) error
	ActiveGrant(userID string, role auth.Role) (Grant, bool, error)
	PutGrant(g Grant) error
}

// Store persists approval requests, role grants and user role documents.
// Same transaction contract as the signal store: abort-on-conflict
// surfaces as ErrConflict, no implicit retry.
type Store interface {
	RunTransaction(ctx context.Context, fn func(tx Tx) error) error
	GetRequest(ctx context.Context, id string) (Request, error)
	ListRequests(ctx context.Context, status RequestStatus) ([]Request, error)
	ListGrants(ctx context.Context, userID string) ([]Grant, error)
	GetUserRoles(ctx context.Context, userID string) (auth.RoleSet, error)
	// AdminIDs lists users holding the admin role, for decision routing.
	AdminIDs(ctx context.Context) ([]string, error)
}
