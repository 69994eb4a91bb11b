package approval

import (
	"context"
	"sort"
	"sync"

	"signali.bg/internal/auth"
)

// MemoryStore implements Store in-process with serialized transactions
// and a staged write set, mirroring the optimistic document store.
type MemoryStore struct {
	mu       sync.Mutex
	requests map[string]Request
	grants   map[string]Grant
	users    map[string]auth.RoleSet

	nextCommitErr error
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		requests: make(map[string]Request),
		grants:   make(map[string]Grant),
		users:    make(map[string]auth.RoleSet),
	}
}

// FailNextCommit aborts the next transaction with err after fn has run.
func (s *MemoryStore) FailNextCommit(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextCommitErr = err
}

// SeedUser installs a user's role document.
func (s *MemoryStore) SeedUser(userID string, roles auth.RoleSet) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[userID] = roles.Clone()
}

type memoryTx struct {
	store *MemoryStore

	stagedRequests map[string]Request
	stagedGrants   map[string]Grant
	stagedUsers    map[string]auth.RoleSet
}

func (tx *memoryTx) GetRequest(id string) (Request, error) {
	if r, ok := tx.stagedRequests[id]; ok {
		return r, nil
	}
	r, ok := tx.store.requests[id]
	if !ok {
		return Request{}, ErrNotFound
	}
	return r, nil
}

func (tx *memoryTx) PutRequest(r Request) error {
	if r.ID == "" {
		return ErrValidation
	}
	tx.stagedRequests[r.ID] = r
	return nil
}

func (tx *memoryTx) GetUserRoles(userID string) (auth.RoleSet, error) {
	if roles, ok := tx.stagedUsers[userID]; ok {
		return roles.Clone(), nil
	}
	roles, ok := tx.store.users[userID]
	if !ok {
		return auth.RoleSet{}, ErrNotFound
	}
	return roles.Clone(), nil
}

func (tx *memoryTx) PutUserRoles(userID string, roles auth.RoleSet) error {
	if userID == "" {
		return ErrValidation
	}
	tx.stagedUsers[userID] = roles.Clone()
	return nil
}

func (tx *memoryTx) AddGrant(g Grant) error {
	if g.ID == "" || g.UserID == "" {
		return ErrValidation
	}
	tx.stagedGrants[g.ID] = g
	return nil
}

func (tx *memoryTx) ActiveGrant(userID string, role auth.Role) (Grant, bool, error) {
	for _, g := range tx.stagedGrants {
		if g.UserID == userID && g.Role == role && g.Status == GrantActive {
			return g, true, nil
		}
	}
	for _, g := range tx.store.grants {
		if _, staged := tx.stagedGrants[g.ID]; staged {
			continue
		}
		if g.UserID == userID && g.Role == role && g.Status == GrantActive {
			return g, true, nil
		}
	}
	return Grant{}, false, nil
}

func (tx *memoryTx) PutGrant(g Grant) error {
	if g.ID == "" {
		return ErrValidation
	}
	tx.stagedGrants[g.ID] = g
	return nil
}

func (s *MemoryStore) RunTransaction(ctx context.Context, fn func(tx Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &memoryTx{
		store:          s,
		stagedRequests: make(map[string]Request),
		stagedGrants:   make(map[string]Grant),
		stagedUsers:    make(map[string]auth.RoleSet),
	}
	if err := fn(tx); err != nil {
		return err
	}
	if s.nextCommitErr != nil {
		err := s.nextCommitErr
		s.nextCommitErr = nil
		return err
	}

	for id, r := range tx.stagedRequests {
		s.requests[id] = r
	}
	for id, g := range tx.stagedGrants {
		s.grants[id] = g
	}
	for id, roles := range tx.stagedUsers {
		s.users[id] = roles
	}
	return nil
}

func (s *MemoryStore) GetRequest(ctx context.Context, id string) (Request, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.requests[id]
	if !ok {
		return Request{}, ErrNotFound
	}
	return r, nil
}

func (s *MemoryStore) ListRequests(ctx context.Context, status RequestStatus) ([]Request, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Request
	for _, r := range s.requests {
		if status != "" && r.Status != status {
			continue
		}
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *MemoryStore) ListGrants(ctx context.Context, userID string) ([]Grant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Grant
	for _, g := range s.grants {
		if userID != "" && g.UserID != userID {
			continue
		}
		out = append(out, g)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *MemoryStore) GetUserRoles(ctx context.Context, userID string) (auth.RoleSet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	roles, ok := s.users[userID]
	if !ok {
		return auth.RoleSet{}, ErrNotFound
	}
	return roles.Clone(), nil
}

func (s *MemoryStore) AdminIDs(ctx context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for id, roles := range s.users {
		if roles.Has(auth.RoleAdmin) {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out, nil
}
