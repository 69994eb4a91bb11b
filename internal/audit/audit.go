// Package audit keeps the append-only trail behind every state-changing
// operation in the governance core. Entries are never updated or deleted;
// the store contract deliberately has no methods for either.
package audit

import (
	"context"
	"errors"
	"strings"
	"time"

	"signali.bg/internal/auth"
	"signali.bg/internal/ids"
)

// Actor captures who performed the audited action.
type Actor struct {
	ID    string   `json:"id"`
	Email string   `json:"email,omitempty"`
	Roles []string `json:"roles,omitempty"`
}

// Target identifies the entity the action touched.
type Target struct {
	Type string `json:"type"`
	ID   string `json:"id"`
}

// Entry is one immutable audit record. Event names follow a dotted
// taxonomy: signal_update, role.granted, admin.approval.approved, ...
type Entry struct {
	ID        string         `json:"id"`
	Event     string         `json:"event"`
	Timestamp time.Time      `json:"timestamp"`
	Actor     Actor          `json:"actor"`
	Target    Target         `json:"target"`
	Details   map[string]any `json:"details,omitempty"`
	IP        string         `json:"ip,omitempty"`
	UserAgent string         `json:"user_agent,omitempty"`
}

// Filter narrows List results.
type Filter struct {
	Event      string
	TargetType string
	TargetID   string
	Limit      int
}

// Store is the persistence contract for audit entries. Append-only by
// design: no update or delete methods exist.
type Store interface {
	Append(ctx context.Context, e Entry) error
	List(ctx context.Context, f Filter) ([]Entry, error)
}

var ErrInvalidEntry = errors.New("audit: invalid entry")

// Service fills in identity and timing before appending. Callers on
// best-effort paths convert Record errors into warnings; the error is
// surfaced, never silently dropped.
type Service struct {
	store Store
	clock func() time.Time
}

func NewService(store Store) *Service {
	return &Service{store: store, clock: time.Now}
}

// WithClock substitutes the time source. Test use only.
func (s *Service) WithClock(clock func() time.Time) *Service {
	s.clock = clock
	return s
}

// Record appends an entry for the actor found in ctx.
func (s *Service) Record(ctx context.Context, event string, target Target, details map[string]any) error {
	if s == nil || s.store == nil {
		return errors.New("audit: store not configured")
	}
	event = strings.TrimSpace(event)
	if event == "" {
		return ErrInvalidEntry
	}
	entry := Entry{
		ID:        ids.New(),
		Event:     event,
		Timestamp: s.clock().UTC(),
		Target:    target,
	}
	if principal, ok := auth.PrincipalFromContext(ctx); ok {
		entry.Actor = Actor{
			ID:    principal.ID,
			Email: principal.Email,
			Roles: principal.Roles.Strings(),
		}
	}
	if len(details) > 0 {
		copied := make(map[string]any, len(details))
		for k, v := range details {
			copied[k] = v
		}
		entry.Details = copied
	}
	if meta, ok := requestMetaFromContext(ctx); ok {
		entry.IP = meta.IP
		entry.UserAgent = meta.UserAgent
	}
	return s.store.Append(ctx, entry)
}

type requestMetaKey struct{}

type requestMeta struct {
	IP        string
	UserAgent string
}

// WithRequestMeta attaches client address details for audit enrichment.
func WithRequestMeta(ctx context.Context, ip, userAgent string) context.Context {
	if ip == "" && userAgent == "" {
		return ctx
	}
	return context.WithValue(ctx, requestMetaKey{}, requestMeta{IP: ip, UserAgent: userAgent})
}

func requestMetaFromContext(ctx context.Context) (requestMeta, bool) {
	if ctx == nil {
		return requestMeta{}, false
	}
	v, ok := ctx.Value(requestMetaKey{}).(requestMeta)
	return v, ok
}
