// Package pg backs the governance stores with postgres via database/sql
// and the pgx stdlib driver. Transactions run serializable; serialization
// failures map to the stores' conflict sentinels and are never retried
// here. Callers decide whether to retry.
package pg

import (
	"database/sql"
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"signali.bg/internal/approval"
	"signali.bg/internal/audit"
	"signali.bg/internal/signal"
)

// Store owns the pooled handle. The typed sub-stores share it; each one
// satisfies its package's store contract.
type Store struct {
	db *sql.DB
}

var (
	_ signal.Store   = (*SignalStore)(nil)
	_ approval.Store = (*ApprovalStore)(nil)
	_ audit.Store    = (*AuditStore)(nil)
)

func Open(dsn string) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	// Tuned pool defaults; adjust under load tests
	db.SetMaxOpenConns(50)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(15 * time.Minute)
	db.SetConnMaxIdleTime(5 * time.Minute)
	return &Store{db: db}, nil
}

// NewStore wraps an existing handle. Used by tests with sqlmock.
func NewStore(db *sql.DB) *Store { return &Store{db: db} }

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) DB() *sql.DB { return s.db }

func (s *Store) Signals() *SignalStore     { return &SignalStore{db: s.db} }
func (s *Store) Approvals() *ApprovalStore { return &ApprovalStore{db: s.db} }
func (s *Store) Audit() *AuditStore        { return &AuditStore{db: s.db} }

const (
	pgErrUniqueViolation   = "23505"
	pgErrSerializationFail = "40001"
	pgErrDeadlockDetected  = "40P01"
)

func maybePgError(err error) (*pgconn.PgError, bool) {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr, true
	}
	return nil, false
}

// isConflict reports whether err is a concurrency abort worth retrying:
// a serialization failure, a deadlock, or a unique-key race.
func isConflict(err error) bool {
	pgErr, ok := maybePgError(err)
	if !ok {
		return false
	}
	switch pgErr.Code {
	case pgErrSerializationFail, pgErrDeadlockDetected, pgErrUniqueViolation:
		return true
	}
	return false
}

func nullIfEmpty(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullIfZeroTime(t *time.Time) sql.NullTime {
	if t == nil || t.IsZero() {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}
