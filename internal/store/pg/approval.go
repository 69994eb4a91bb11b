package pg

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"signali.bg/internal/approval"
	"signali.bg/internal/auth"
)

const requestColumns = `id, action, target_user_id, target_user_email, role, scope,
	reason, requested_by, status, created_at, decided_by, decided_at, decision_reason`

const grantColumns = `id, user_id, role, scope, granted_by, granted_at, reason,
	status, approval_request_id, revoked_by, revoked_at, revoke_reason`

// ApprovalStore implements approval.Store over postgres. User role
// documents live in the users table as a jsonb array, so one update
// inside the decision transaction swaps the whole document.
type ApprovalStore struct {
	db *sql.DB
}

type approvalTx struct {
	ctx context.Context
	tx  *sql.Tx
}

func (s *ApprovalStore) RunTransaction(ctx context.Context, fn func(tx approval.Tx) error) error {
	dbTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return err
	}
	defer func() { _ = dbTx.Rollback() }()

	if err := fn(&approvalTx{ctx: ctx, tx: dbTx}); err != nil {
		if isConflict(err) {
			return approval.ErrConflict
		}
		return err
	}
	if err := dbTx.Commit(); err != nil {
		if isConflict(err) {
			return approval.ErrConflict
		}
		return err
	}
	return nil
}

func (tx *approvalTx) GetRequest(id string) (approval.Request, error) {
	row := tx.tx.QueryRowContext(tx.ctx, `
		select `+requestColumns+`
		from approval_requests where id = $1
		for update
	`, id)
	return scanRequest(row)
}

func (tx *approvalTx) PutRequest(r approval.Request) error {
	if r.ID == "" {
		return approval.ErrValidation
	}
	_, err := tx.tx.ExecContext(tx.ctx, `
		insert into approval_requests (id, action, target_user_id, target_user_email, role,
			scope, reason, requested_by, status, created_at, decided_by, decided_at, decision_reason)
		values ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
		on conflict (id) do update set
			status = excluded.status,
			decided_by = excluded.decided_by,
			decided_at = excluded.decided_at,
			decision_reason = excluded.decision_reason
	`, r.ID, r.Action, r.TargetUserID, nullIfEmpty(r.TargetUserEmail), string(r.Role),
		nullIfEmpty(r.Scope), r.Reason, r.RequestedBy, string(r.Status), r.CreatedAt,
		nullIfEmpty(r.DecidedBy), nullIfZeroTime(r.DecidedAt), nullIfEmpty(r.DecisionReason))
	if err != nil && isConflict(err) {
		return approval.ErrConflict
	}
	return err
}

func (tx *approvalTx) GetUserRoles(userID string) (auth.RoleSet, error) {
	var raw []byte
	err := tx.tx.QueryRowContext(tx.ctx, `
		select roles from users where id = $1 for update
	`, userID).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return auth.RoleSet{}, approval.ErrNotFound
	}
	if err != nil {
		return auth.RoleSet{}, err
	}
	return decodeRoles(raw)
}

func (tx *approvalTx) PutUserRoles(userID string, roles auth.RoleSet) error {
	if userID == "" {
		return approval.ErrValidation
	}
	raw, err := json.Marshal(roles.Strings())
	if err != nil {
		return fmt.Errorf("encode roles: %w", err)
	}
	res, err := tx.tx.ExecContext(tx.ctx, `
		update users set roles = $2, updated_at = now() where id = $1
	`, userID, raw)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return approval.ErrNotFound
	}
	return nil
}

func (tx *approvalTx) AddGrant(g approval.Grant) error {
	if g.ID == "" || g.UserID == "" {
		return approval.ErrValidation
	}
	_, err := tx.tx.ExecContext(tx.ctx, `
		insert into role_grants (id, user_id, role, scope, granted_by, granted_at, reason,
			status, approval_request_id, revoked_by, revoked_at, revoke_reason)
		values ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
	`, g.ID, g.UserID, string(g.Role), nullIfEmpty(g.Scope), g.GrantedBy, g.GrantedAt,
		g.Reason, string(g.Status), nullIfEmpty(g.ApprovalRequestID),
		nullIfEmpty(g.RevokedBy), nullIfZeroTime(g.RevokedAt), nullIfEmpty(g.RevokeReason))
	if err != nil && isConflict(err) {
		return approval.ErrConflict
	}
	return err
}

func (tx *approvalTx) ActiveGrant(userID string, role auth.Role) (approval.Grant, bool, error) {
	row := tx.tx.QueryRowContext(tx.ctx, `
		select `+grantColumns+`
		from role_grants
		where user_id = $1 and role = $2 and status = 'active'
		order by granted_at desc
		limit 1
		for update
	`, userID, string(role))
	g, err := scanGrant(row)
	if errors.Is(err, approval.ErrNotFound) {
		return approval.Grant{}, false, nil
	}
	if err != nil {
		return approval.Grant{}, false, err
	}
	return g, true, nil
}

func (tx *approvalTx) PutGrant(g approval.Grant) error {
	if g.ID == "" {
		return approval.ErrValidation
	}
	res, err := tx.tx.ExecContext(tx.ctx, `
		update role_grants set
			status = $2, revoked_by = $3, revoked_at = $4, revoke_reason = $5
		where id = $1
	`, g.ID, string(g.Status), nullIfEmpty(g.RevokedBy), nullIfZeroTime(g.RevokedAt),
		nullIfEmpty(g.RevokeReason))
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return approval.ErrNotFound
	}
	return nil
}

func (s *ApprovalStore) GetRequest(ctx context.Context, id string) (approval.Request, error) {
	row := s.db.QueryRowContext(ctx, `
		select `+requestColumns+`
		from approval_requests where id = $1
	`, id)
	return scanRequest(row)
}

func (s *ApprovalStore) ListRequests(ctx context.Context, status approval.RequestStatus) ([]approval.Request, error) {
	query := `select ` + requestColumns + ` from approval_requests`
	var args []any
	if status != "" {
		query += ` where status = $1`
		args = append(args, string(status))
	}
	query += ` order by created_at asc`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []approval.Request
	for rows.Next() {
		r, err := scanRequest(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (s *ApprovalStore) ListGrants(ctx context.Context, userID string) ([]approval.Grant, error) {
	query := `select ` + grantColumns + ` from role_grants`
	var args []any
	if userID != "" {
		query += ` where user_id = $1`
		args = append(args, userID)
	}
	query += ` order by granted_at asc`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []approval.Grant
	for rows.Next() {
		g, err := scanGrant(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, g)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (s *ApprovalStore) GetUserRoles(ctx context.Context, userID string) (auth.RoleSet, error) {
	var raw []byte
	err := s.db.QueryRowContext(ctx, `select roles from users where id = $1`, userID).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return auth.RoleSet{}, approval.ErrNotFound
	}
	if err != nil {
		return auth.RoleSet{}, err
	}
	return decodeRoles(raw)
}

// UserEmail resolves a user's mail address for notification delivery.
func (s *ApprovalStore) UserEmail(ctx context.Context, userID string) (string, error) {
	var email string
	err := s.db.QueryRowContext(ctx, `select email from users where id = $1`, userID).Scan(&email)
	if errors.Is(err, sql.ErrNoRows) {
		return "", approval.ErrNotFound
	}
	if err != nil {
		return "", err
	}
	return email, nil
}

func (s *ApprovalStore) AdminIDs(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		select id from users where roles @> '["admin"]'::jsonb order by id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		result = append(result, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func decodeRoles(raw []byte) (auth.RoleSet, error) {
	if len(raw) == 0 {
		return auth.RoleSet{}, nil
	}
	var values []string
	if err := json.Unmarshal(raw, &values); err != nil {
		return nil, fmt.Errorf("decode roles: %w", err)
	}
	set, err := auth.ParseRoleSet(values)
	if err != nil {
		// A stored role outside the enum means a bad migration, not bad input.
		return nil, fmt.Errorf("stored roles: %w", err)
	}
	return set, nil
}

func scanRequest(row rowScanner) (approval.Request, error) {
	var (
		r          approval.Request
		role       string
		status     string
		email      sql.NullString
		scope      sql.NullString
		decidedBy  sql.NullString
		decidedAt  sql.NullTime
		decisionRs sql.NullString
	)
	err := row.Scan(&r.ID, &r.Action, &r.TargetUserID, &email, &role, &scope,
		&r.Reason, &r.RequestedBy, &status, &r.CreatedAt, &decidedBy, &decidedAt, &decisionRs)
	if errors.Is(err, sql.ErrNoRows) {
		return approval.Request{}, approval.ErrNotFound
	}
	if err != nil {
		return approval.Request{}, err
	}
	r.Role = auth.Role(role)
	r.Status = approval.RequestStatus(status)
	r.TargetUserEmail = email.String
	r.Scope = scope.String
	r.DecidedBy = decidedBy.String
	if decidedAt.Valid {
		t := decidedAt.Time
		r.DecidedAt = &t
	}
	r.DecisionReason = decisionRs.String
	return r, nil
}

func scanGrant(row rowScanner) (approval.Grant, error) {
	var (
		g         approval.Grant
		role      string
		status    string
		scope     sql.NullString
		requestID sql.NullString
		revokedBy sql.NullString
		revokedAt sql.NullTime
		revokeRs  sql.NullString
	)
	err := row.Scan(&g.ID, &g.UserID, &role, &scope, &g.GrantedBy, &g.GrantedAt,
		&g.Reason, &status, &requestID, &revokedBy, &revokedAt, &revokeRs)
	if errors.Is(err, sql.ErrNoRows) {
		return approval.Grant{}, approval.ErrNotFound
	}
	if err != nil {
		return approval.Grant{}, err
	}
	g.Role = auth.Role(role)
	g.Status = approval.GrantStatus(status)
	g.Scope = scope.String
	g.ApprovalRequestID = requestID.String
	g.RevokedBy = revokedBy.String
	if revokedAt.Valid {
		t := revokedAt.Time
		g.RevokedAt = &t
	}
	g.RevokeReason = revokeRs.String
	return g, nil
}
