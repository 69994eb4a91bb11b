package signal

import (
	"context"
	"sort"
	"sync"
)

// MemoryStore implements Store with in-process transactions. Units are
// serialized by a mutex, so isolation is trivially strict; the staged
// write set still goes through a commit step so the abort-on-conflict
// contract can be exercised in tests.
type MemoryStore struct {
	mu      sync.Mutex
	signals map[string]Signal
	notes   map[string][]Note

	nextCommitErr error
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		signals: make(map[string]Signal),
		notes:   make(map[string][]Note),
	}
}

// FailNextCommit aborts the next transaction with err after fn has run.
// Lets tests drive the caller-must-retry conflict path.
func (s *MemoryStore) FailNextCommit(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextCommitErr = err
}

// Seed inserts a signal outside any transaction. Test setup helper that
// mirrors the citizen-submission path, which is out of scope here.
func (s *MemoryStore) Seed(sig Signal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sig.Version = 1
	s.signals[sig.ID] = sig
}

type memoryTx struct {
	store *MemoryStore

	stagedSignals map[string]Signal
	stagedNotes   []Note
	deleted       map[string]struct{}
}

func (tx *memoryTx) GetSignal(id string) (Signal, error) {
	if _, gone := tx.deleted[id]; gone {
		return Signal{}, ErrNotFound
	}
	if staged, ok := tx.stagedSignals[id]; ok {
		return cloneSignal(staged), nil
	}
	sig, ok := tx.store.signals[id]
	if !ok {
		return Signal{}, ErrNotFound
	}
	return cloneSignal(sig), nil
}

func (tx *memoryTx) PutSignal(sig Signal) error {
	if sig.ID == "" {
		return ErrValidation
	}
	tx.stagedSignals[sig.ID] = cloneSignal(sig)
	delete(tx.deleted, sig.ID)
	return nil
}

func (tx *memoryTx) AddNote(n Note) error {
	if n.SignalID == "" || n.Body == "" {
		return ErrValidation
	}
	tx.stagedNotes = append(tx.stagedNotes, n)
	return nil
}

func (tx *memoryTx) DeleteSignal(id string) error {
	if _, ok := tx.store.signals[id]; !ok {
		if _, staged := tx.stagedSignals[id]; !staged {
			return ErrNotFound
		}
	}
	delete(tx.stagedSignals, id)
	tx.deleted[id] = struct{}{}
	return nil
}

func (s *MemoryStore) RunTransaction(ctx context.Context, fn func(tx Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &memoryTx{
		store:         s,
		stagedSignals: make(map[string]Signal),
		deleted:       make(map[string]struct{}),
	}
	if err := fn(tx); err != nil {
		return err
	}
	if s.nextCommitErr != nil {
		err := s.nextCommitErr
		s.nextCommitErr = nil
		return err
	}

	// Commit: apply the staged write set, bumping versions.
	for id, sig := range tx.stagedSignals {
		sig.Version = s.signals[id].Version + 1
		s.signals[id] = sig
	}
	for _, n := range tx.stagedNotes {
		s.notes[n.SignalID] = append(s.notes[n.SignalID], n)
	}
	for id := range tx.deleted {
		delete(s.signals, id)
		delete(s.notes, id)
	}
	return nil
}

func (s *MemoryStore) GetSignal(ctx context.Context, id string) (Signal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sig, ok := s.signals[id]
	if !ok {
		return Signal{}, ErrNotFound
	}
	return cloneSignal(sig), nil
}

func (s *MemoryStore) ListSignals(ctx context.Context, f Filter) ([]Signal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []Signal
	for _, sig := range s.signals {
		if f.Status != "" && sig.Status != f.Status {
			continue
		}
		if f.SettlementID != "" && sig.SettlementID != f.SettlementID {
			continue
		}
		if f.HasComplaint != nil && sig.HasComplaint != *f.HasComplaint {
			continue
		}
		if f.HasDuplicates != nil && sig.HasDuplicates != *f.HasDuplicates {
			continue
		}
		if !f.CreatedAfter.IsZero() && sig.CreatedAt.Before(f.CreatedAfter) {
			continue
		}
		if !f.CreatedBefore.IsZero() && sig.CreatedAt.After(f.CreatedBefore) {
			continue
		}
		out = append(out, cloneSignal(sig))
	}
	// Single-field ordering by creation time, oldest first.
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (s *MemoryStore) ListNotes(ctx context.Context, signalID string, includeInternal bool) ([]Note, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Note
	for _, n := range s.notes[signalID] {
		if n.Type == NoteInternal && !includeInternal {
			continue
		}
		out = append(out, n)
	}
	return out, nil
}

func cloneSignal(sig Signal) Signal {
	out := sig
	if sig.ConfirmedAt != nil {
		t := *sig.ConfirmedAt
		out.ConfirmedAt = &t
	}
	if sig.Images != nil {
		out.Images = append([]string(nil), sig.Images...)
	}
	return out
}
