package pg

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"signali.bg/internal/audit"
)

// AuditStore implements audit.Store over postgres. The table is
// insert-only; no update or delete statements exist in this file.
type AuditStore struct {
	db *sql.DB
}

func (s *AuditStore) Append(ctx context.Context, e audit.Entry) error {
	if e.ID == "" || e.Event == "" {
		return audit.ErrInvalidEntry
	}
	actorRoles, err := json.Marshal(e.Actor.Roles)
	if err != nil {
		return fmt.Errorf("encode actor roles: %w", err)
	}
	details := []byte("{}")
	if len(e.Details) > 0 {
		details, err = json.Marshal(e.Details)
		if err != nil {
			return fmt.Errorf("encode details: %w", err)
		}
	}
	_, err = s.db.ExecContext(ctx, `
		insert into audit_logs (id, event, ts, actor_id, actor_email, actor_roles,
			target_type, target_id, details, ip, user_agent)
		values ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
	`, e.ID, e.Event, e.Timestamp, nullIfEmpty(e.Actor.ID), nullIfEmpty(e.Actor.Email),
		actorRoles, e.Target.Type, e.Target.ID, details, nullIfEmpty(e.IP), nullIfEmpty(e.UserAgent))
	return err
}

func (s *AuditStore) List(ctx context.Context, f audit.Filter) ([]audit.Entry, error) {
	var (
		where []string
		args  []any
		idx   = 1
	)
	if f.Event != "" {
		where = append(where, fmt.Sprintf("event = $%d", idx))
		args = append(args, f.Event)
		idx++
	}
	if f.TargetType != "" {
		where = append(where, fmt.Sprintf("target_type = $%d", idx))
		args = append(args, f.TargetType)
		idx++
	}
	if f.TargetID != "" {
		where = append(where, fmt.Sprintf("target_id = $%d", idx))
		args = append(args, f.TargetID)
		idx++
	}

	limit := f.Limit
	if limit <= 0 || limit > 1000 {
		limit = 200
	}
	query := `
		select id, event, ts, actor_id, actor_email, actor_roles,
			target_type, target_id, details, ip, user_agent
		from audit_logs`
	if len(where) > 0 {
		query += " where " + strings.Join(where, " and ")
	}
	query += fmt.Sprintf(" order by ts asc limit $%d", idx)
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []audit.Entry
	for rows.Next() {
		var (
			e          audit.Entry
			actorID    sql.NullString
			actorEmail sql.NullString
			rawRoles   []byte
			rawDetails []byte
			ip         sql.NullString
			userAgent  sql.NullString
		)
		if err := rows.Scan(&e.ID, &e.Event, &e.Timestamp, &actorID, &actorEmail, &rawRoles,
			&e.Target.Type, &e.Target.ID, &rawDetails, &ip, &userAgent); err != nil {
			return nil, err
		}
		e.Actor.ID = actorID.String
		e.Actor.Email = actorEmail.String
		if len(rawRoles) > 0 {
			if err := json.Unmarshal(rawRoles, &e.Actor.Roles); err != nil {
				return nil, fmt.Errorf("decode actor roles: %w", err)
			}
		}
		if len(rawDetails) > 0 {
			if err := json.Unmarshal(rawDetails, &e.Details); err != nil {
				return nil, fmt.Errorf("decode details: %w", err)
			}
			if len(e.Details) == 0 {
				e.Details = nil
			}
		}
		e.IP = ip.String
		e.UserAgent = userAgent.String
		result = append(result, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}
