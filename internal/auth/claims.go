package auth

import (
	"context"
	"strings"
	"sync"
)

// ClaimsStore mirrors user role sets into the external claims/authorization
// store. Role mutations are not complete until the claims store agrees with
// the user document, so SyncRoles failures abort the enclosing operation.
type ClaimsStore interface {
	SyncRoles(ctx context.Context, userID string, roles RoleSet) error
}

// MemoryClaimsStore is an in-process claims mirror for tests and local runs.
type MemoryClaimsStore struct {
	mu     sync.RWMutex
	claims map[string]RoleSet
}

func NewMemoryClaimsStore() *MemoryClaimsStore {
	return &MemoryClaimsStore{claims: make(map[string]RoleSet)}
}

func (s *MemoryClaimsStore) SyncRoles(ctx context.Context, userID string, roles RoleSet) error {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return ErrInvalidInput
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.claims[userID] = roles.Clone()
	return nil
}

// Roles returns the mirrored role set for a user.
func (s *MemoryClaimsStore) Roles(userID string) RoleSet {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.claims[userID].Clone()
}
