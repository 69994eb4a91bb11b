package signal

import (
	"context"
	"time"
)

// Tx is the view inside one atomic unit. Reads observe committed state;
// writes are staged and become visible only when the unit commits.
type Tx interface {
	GetSignal(id string) (Signal, error)
	PutSignal(s Signal) error
	AddNote(n Note) error
	DeleteSignal(id string) error
}

// Filter narrows triage listings. Zero values mean "any".
type Filter struct {
	Status        Status
	SettlementID  string
	HasComplaint  *bool
	HasDuplicates *bool
	CreatedAfter  time.Time
	CreatedBefore time.Time
	Limit         int
}

// Store is the document-store abstraction for signals and notes.
//
// RunTransaction runs fn as one atomic read-modify-write unit with
// abort-on-conflict semantics: a conflicting concurrent unit surfaces as
// ErrConflict and is NOT retried here. Callers decide whether to retry.
type Store interface {
	RunTransaction(ctx context.Context, fn func(tx Tx) error) error
	GetSignal(ctx context.Context, id string) (Signal, error)
	ListSignals(ctx context.Context, f Filter) ([]Signal, error)
	ListNotes(ctx context.Context, signalID string, includeInternal bool) ([]Note, error)
}
