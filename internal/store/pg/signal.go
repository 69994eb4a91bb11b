package pg

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"signali.bg/internal/signal"
)

const signalColumns = `id, title, description, category, settlement_id, status,
	created_at, confirmed_at, resolved_at, updated_at, author_id, owner_user_id,
	has_complaint, has_duplicates, images, version`

// SignalStore implements signal.Store over postgres.
type SignalStore struct {
	db *sql.DB
}

type signalTx struct {
	ctx context.Context
	tx  *sql.Tx
}

func (s *SignalStore) RunTransaction(ctx context.Context, fn func(tx signal.Tx) error) error {
	dbTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return err
	}
	defer func() { _ = dbTx.Rollback() }()

	if err := fn(&signalTx{ctx: ctx, tx: dbTx}); err != nil {
		if isConflict(err) {
			return signal.ErrConflict
		}
		return err
	}
	if err := dbTx.Commit(); err != nil {
		if isConflict(err) {
			return signal.ErrConflict
		}
		return err
	}
	return nil
}

func (tx *signalTx) GetSignal(id string) (signal.Signal, error) {
	row := tx.tx.QueryRowContext(tx.ctx, `
		select `+signalColumns+`
		from signals where id = $1
		for update
	`, id)
	return scanSignal(row)
}

func (tx *signalTx) PutSignal(sig signal.Signal) error {
	if sig.ID == "" {
		return signal.ErrValidation
	}
	images, err := json.Marshal(sig.Images)
	if err != nil {
		return fmt.Errorf("encode images: %w", err)
	}
	if sig.Version == 0 {
		_, err := tx.tx.ExecContext(tx.ctx, `
			insert into signals (id, title, description, category, settlement_id, status,
				created_at, confirmed_at, resolved_at, updated_at, author_id, owner_user_id,
				has_complaint, has_duplicates, images, version)
			values ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,1)
		`, sig.ID, sig.Title, sig.Description, sig.Category, sig.SettlementID, string(sig.Status),
			sig.CreatedAt, nullIfZeroTime(sig.ConfirmedAt), nullIfZeroTime(sig.ResolvedAt),
			sig.UpdatedAt, sig.AuthorID,
			nullIfEmpty(sig.OwnerUserID), sig.HasComplaint, sig.HasDuplicates, images)
		if err != nil && isConflict(err) {
			return signal.ErrConflict
		}
		return err
	}

	res, err := tx.tx.ExecContext(tx.ctx, `
		update signals set
			title = $3, description = $4, category = $5, settlement_id = $6,
			status = $7, confirmed_at = $8, resolved_at = $9, updated_at = $10,
			owner_user_id = $11, has_complaint = $12, has_duplicates = $13,
			images = $14, version = version + 1
		where id = $1 and version = $2
	`, sig.ID, sig.Version, sig.Title, sig.Description, sig.Category, sig.SettlementID,
		string(sig.Status), nullIfZeroTime(sig.ConfirmedAt), nullIfZeroTime(sig.ResolvedAt),
		sig.UpdatedAt,
		nullIfEmpty(sig.OwnerUserID), sig.HasComplaint, sig.HasDuplicates, images)
	if err != nil {
		if isConflict(err) {
			return signal.ErrConflict
		}
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		// Row moved under us or was deleted.
		return signal.ErrConflict
	}
	return nil
}

func (tx *signalTx) AddNote(n signal.Note) error {
	if n.ID == "" || n.SignalID == "" {
		return signal.ErrValidation
	}
	_, err := tx.tx.ExecContext(tx.ctx, `
		insert into signal_notes (id, signal_id, type, author_id, body, created_at)
		values ($1,$2,$3,$4,$5,$6)
	`, n.ID, n.SignalID, string(n.Type), n.AuthorID, n.Body, n.CreatedAt)
	if err != nil && isConflict(err) {
		return signal.ErrConflict
	}
	return err
}

func (tx *signalTx) DeleteSignal(id string) error {
	if _, err := tx.tx.ExecContext(tx.ctx, `delete from signal_notes where signal_id = $1`, id); err != nil {
		return err
	}
	res, err := tx.tx.ExecContext(tx.ctx, `delete from signals where id = $1`, id)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return signal.ErrNotFound
	}
	return nil
}

func (s *SignalStore) GetSignal(ctx context.Context, id string) (signal.Signal, error) {
	row := s.db.QueryRowContext(ctx, `
		select `+signalColumns+`
		from signals where id = $1
	`, id)
	return scanSignal(row)
}

func (s *SignalStore) ListSignals(ctx context.Context, f signal.Filter) ([]signal.Signal, error) {
	var (
		where []string
		args  []any
		idx   = 1
	)
	if f.Status != "" {
		where = append(where, fmt.Sprintf("status = $%d", idx))
		args = append(args, string(f.Status))
		idx++
	}
	if f.SettlementID != "" {
		where = append(where, fmt.Sprintf("settlement_id = $%d", idx))
		args = append(args, f.SettlementID)
		idx++
	}
	if f.HasComplaint != nil {
		where = append(where, fmt.Sprintf("has_complaint = $%d", idx))
		args = append(args, *f.HasComplaint)
		idx++
	}
	if f.HasDuplicates != nil {
		where = append(where, fmt.Sprintf("has_duplicates = $%d", idx))
		args = append(args, *f.HasDuplicates)
		idx++
	}
	if !f.CreatedAfter.IsZero() {
		where = append(where, fmt.Sprintf("created_at >= $%d", idx))
		args = append(args, f.CreatedAfter)
		idx++
	}
	if !f.CreatedBefore.IsZero() {
		where = append(where, fmt.Sprintf("created_at < $%d", idx))
		args = append(args, f.CreatedBefore)
		idx++
	}

	limit := f.Limit
	if limit <= 0 || limit > 1000 {
		limit = 200
	}
	query := `select ` + signalColumns + ` from signals`
	if len(where) > 0 {
		query += " where " + strings.Join(where, " and ")
	}
	query += fmt.Sprintf(" order by created_at asc limit $%d", idx)
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []signal.Signal
	for rows.Next() {
		sig, err := scanSignal(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, sig)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (s *SignalStore) ListNotes(ctx context.Context, signalID string, includeInternal bool) ([]signal.Note, error) {
	query := `
		select id, signal_id, type, author_id, body, created_at
		from signal_notes
		where signal_id = $1
	`
	if !includeInternal {
		query += ` and type = 'public'`
	}
	query += ` order by created_at asc`

	rows, err := s.db.QueryContext(ctx, query, signalID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []signal.Note
	for rows.Next() {
		var (
			n   signal.Note
			typ string
		)
		if err := rows.Scan(&n.ID, &n.SignalID, &typ, &n.AuthorID, &n.Body, &n.CreatedAt); err != nil {
			return nil, err
		}
		n.Type = signal.NoteType(typ)
		result = append(result, n)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSignal(row rowScanner) (signal.Signal, error) {
	var (
		sig       signal.Signal
		status    string
		confirmed sql.NullTime
		resolved  sql.NullTime
		owner     sql.NullString
		rawImages []byte
	)
	err := row.Scan(&sig.ID, &sig.Title, &sig.Description, &sig.Category, &sig.SettlementID,
		&status, &sig.CreatedAt, &confirmed, &resolved, &sig.UpdatedAt, &sig.AuthorID, &owner,
		&sig.HasComplaint, &sig.HasDuplicates, &rawImages, &sig.Version)
	if errors.Is(err, sql.ErrNoRows) {
		return signal.Signal{}, signal.ErrNotFound
	}
	if err != nil {
		return signal.Signal{}, err
	}
	sig.Status = signal.Status(status)
	if confirmed.Valid {
		t := confirmed.Time
		sig.ConfirmedAt = &t
	}
	if resolved.Valid {
		t := resolved.Time
		sig.ResolvedAt = &t
	}
	if owner.Valid {
		sig.OwnerUserID = owner.String
	}
	if len(rawImages) > 0 {
		if err := json.Unmarshal(rawImages, &sig.Images); err != nil {
			return signal.Signal{}, fmt.Errorf("decode images: %w", err)
		}
	}
	return sig, nil
}
