package signal

import (
	"errors"
	"time"
)

// Signal is a reported issue moving through the operator lifecycle.
//
// Invariants:
// - Status moves only along the edge table in status.go.
// - ConfirmedAt is set exactly once, on the first transition away from
//   novo, and is never cleared or rewritten.
// - ResolvedAt is stamped on entering popraven and survives archiving;
//   it is cleared only when the signal is reopened into v_proces.
type Signal struct {
	ID           string     `json:"id"`
	Title        string     `json:"title"`
	Description  string     `json:"description"`
	Category     string     `json:"category"`
	SettlementID string     `json:"settlement_id"`
	Status       Status     `json:"status"`
	CreatedAt    time.Time  `json:"created_at"`
	ConfirmedAt  *time.Time `json:"confirmed_at,omitempty"`
	ResolvedAt   *time.Time `json:"resolved_at,omitempty"`
	UpdatedAt    time.Time  `json:"updated_at"`
	AuthorID     string     `json:"author_id"`
	OwnerUserID  string     `json:"owner_user_id,omitempty"`
	HasComplaint bool       `json:"has_complaint"`
	HasDuplicates bool      `json:"has_duplicates"`
	Images       []string   `json:"images,omitempty"`

	// Version backs optimistic concurrency in the stores. Zero for a
	// freshly constructed signal, bumped on every committed write.
	Version int64 `json:"-"`
}

// NoteType separates reporter-visible comments from operator notes.
type NoteType string

const (
	NotePublic   NoteType = "public"
	NoteInternal NoteType = "internal" // never visible to the reporter
)

// Note is a comment attached to a signal.
type Note struct {
	ID        string    `json:"id"`
	SignalID  string    `json:"signal_id"`
	Type      NoteType  `json:"type"`
	AuthorID  string    `json:"author_id"`
	Body      string    `json:"body"`
	CreatedAt time.Time `json:"created_at"`
}

var (
	ErrNotFound = errors.New("signal: not found")
	// ErrInvalidTransition marks a lifecycle edge outside the table.
	ErrInvalidTransition = errors.New("signal: invalid transition")
	// ErrConflict is an aborted optimistic transaction; callers retry.
	ErrConflict = errors.New("signal: transaction conflict")
	ErrValidation = errors.New("signal: invalid input")
)
