package audit

import (
	"context"
	"sync"
)

// MemoryStore is an in-process append-only store for tests and local runs.
type MemoryStore struct {
	mu      sync.RWMutex
	entries []Entry
	failErr error
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// FailWith makes every Append return err. Lets tests assert that audit
// failures are surfaced as warnings without failing the primary operation.
func (s *MemoryStore) FailWith(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failErr = err
}

func (s *MemoryStore) Append(ctx context.Context, e Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failErr != nil {
		return s.failErr
	}
	s.entries = append(s.entries, e)
	return nil
}

func (s *MemoryStore) List(ctx context.Context, f Filter) ([]Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Entry
	for _, e := range s.entries {
		if f.Event != "" && e.Event != f.Event {
			continue
		}
		if f.TargetType != "" && e.Target.Type != f.TargetType {
			continue
		}
		if f.TargetID != "" && e.Target.ID != f.TargetID {
			continue
		}
		out = append(out, e)
		if f.Limit > 0 && len(out) >= f.Limit {
			break
		}
	}
	return out, nil
}
