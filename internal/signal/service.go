package signal

import (
	"context"
	"fmt"
	"strings"
	"time"

	"signali.bg/internal/audit"
	"signali.bg/internal/auth"
	"signali.bg/internal/ids"
	"signali.bg/internal/notify"
	"signali.bg/internal/obs"
	"signali.bg/internal/sla"
)

// Service applies lifecycle mutations. The signal write and its note are
// one atomic unit; the audit entry and the reporter notification are
// best-effort side effects whose failures come back as Warnings, never
// as errors.
type Service struct {
	store    Store
	audit    *audit.Service
	notifier notify.Notifier
	now      func() time.Time
}

func NewService(store Store, auditSvc *audit.Service, notifier notify.Notifier) *Service {
	return &Service{
		store:    store,
		audit:    auditSvc,
		notifier: notifier,
		now:      time.Now,
	}
}

// WithClock substitutes the time source. Test use only.
func (s *Service) WithClock(clock func() time.Time) *Service {
	s.now = clock
	return s
}

// TransitionResult reports the applied edge plus any non-fatal side
// effect failures.
type TransitionResult struct {
	From     Status   `json:"from"`
	To       Status   `json:"to"`
	Warnings []string `json:"warnings,omitempty"`
}

// Transition moves a signal along one lifecycle edge.
func (s *Service) Transition(ctx context.Context, id string, to Status, actor auth.Principal, comment string) (TransitionResult, error) {
	if !actor.CanModerate() {
		return TransitionResult{}, fmt.Errorf("%w: transition requires moderator, operator or admin", auth.ErrForbidden)
	}
	if _, ok := statusLabels[to]; !ok {
		return TransitionResult{}, fmt.Errorf("%w: unknown status %q", ErrValidation, to)
	}

	now := s.now().UTC()
	var result TransitionResult
	var authorID string

	err := s.store.RunTransaction(ctx, func(tx Tx) error {
		sig, err := tx.GetSignal(id)
		if err != nil {
			return err
		}
		if !CanTransition(sig.Status, to) {
			return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, sig.Status, to)
		}
		result.From = sig.Status
		result.To = to
		authorID = sig.AuthorID

		sig.Status = to
		sig.UpdatedAt = now
		// First departure from novo acknowledges the signal; there is no
		// edge back, so this write happens at most once.
		if result.From == StatusNovo && sig.ConfirmedAt == nil {
			confirmed := now
			sig.ConfirmedAt = &confirmed
		}
		// The resolution instant belongs to the popraven edge; archiving
		// later must not move it. Reopening discards it.
		switch {
		case to == StatusPopraven && sig.ResolvedAt == nil:
			resolved := now
			sig.ResolvedAt = &resolved
		case result.From == StatusPopraven && to == StatusVProces:
			sig.ResolvedAt = nil
		}
		if err := tx.PutSignal(sig); err != nil {
			return err
		}
		if comment = strings.TrimSpace(comment); comment != "" {
			return tx.AddNote(Note{
				ID:        ids.New(),
				SignalID:  id,
				Type:      NotePublic,
				AuthorID:  actor.ID,
				Body:      comment,
				CreatedAt: now,
			})
		}
		return nil
	})
	if err != nil {
		return TransitionResult{}, err
	}

	obs.ObserveTransition(string(result.From), string(result.To))

	ctx = auth.ContextWithPrincipal(ctx, actor)
	details := map[string]any{"from": string(result.From), "to": string(result.To)}
	if comment != "" {
		details["comment"] = comment
	}
	result.Warnings = append(result.Warnings,
		s.recordAudit(ctx, "signal_update", audit.Target{Type: "signal", ID: id}, details)...)

	if s.notifier != nil && authorID != "" {
		if nerr := s.notifier.NotifySignalStatus(ctx, notify.SignalStatusNotification{
			SignalID:    id,
			AuthorID:    authorID,
			StatusLabel: to.Label(),
			Comment:     comment,
		}); nerr != nil {
			obs.Warn("status notification failed", map[string]any{"signal_id": id, "error": nerr.Error()})
			result.Warnings = append(result.Warnings, "notification failed: "+nerr.Error())
		}
	}
	return result, nil
}

// AddInternalNote attaches an operator-only note. No status semantics.
func (s *Service) AddInternalNote(ctx context.Context, id string, actor auth.Principal, body string) ([]string, error) {
	if !actor.CanModerate() {
		return nil, fmt.Errorf("%w: internal notes require moderator, operator or admin", auth.ErrForbidden)
	}
	body = strings.TrimSpace(body)
	if body == "" {
		return nil, fmt.Errorf("%w: note body is required", ErrValidation)
	}

	now := s.now().UTC()
	err := s.store.RunTransaction(ctx, func(tx Tx) error {
		if _, err := tx.GetSignal(id); err != nil {
			return err
		}
		return tx.AddNote(Note{
			ID:        ids.New(),
			SignalID:  id,
			Type:      NoteInternal,
			AuthorID:  actor.ID,
			Body:      body,
			CreatedAt: now,
		})
	})
	if err != nil {
		return nil, err
	}

	ctx = auth.ContextWithPrincipal(ctx, actor)
	return s.recordAudit(ctx, "signal.internal_note", audit.Target{Type: "signal", ID: id}, nil), nil
}

// UpdateImages replaces the image list. Single-field transactional write.
func (s *Service) UpdateImages(ctx context.Context, id string, actor auth.Principal, images []string) ([]string, error) {
	if !actor.CanModerate() {
		return nil, fmt.Errorf("%w: image updates require moderator, operator or admin", auth.ErrForbidden)
	}

	now := s.now().UTC()
	err := s.store.RunTransaction(ctx, func(tx Tx) error {
		sig, err := tx.GetSignal(id)
		if err != nil {
			return err
		}
		sig.Images = images
		sig.UpdatedAt = now
		return tx.PutSignal(sig)
	})
	if err != nil {
		return nil, err
	}

	ctx = auth.ContextWithPrincipal(ctx, actor)
	return s.recordAudit(ctx, "signal.images_update", audit.Target{Type: "signal", ID: id},
		map[string]any{"count": len(images)}), nil
}

// Delete removes a signal. Moderator-only escape hatch, always logged.
func (s *Service) Delete(ctx context.Context, id string, actor auth.Principal) ([]string, error) {
	if !actor.Roles.HasAny(auth.RoleModerator, auth.RoleAdmin) {
		return nil, fmt.Errorf("%w: delete requires moderator or admin", auth.ErrForbidden)
	}
	err := s.store.RunTransaction(ctx, func(tx Tx) error {
		return tx.DeleteSignal(id)
	})
	if err != nil {
		return nil, err
	}
	ctx = auth.ContextWithPrincipal(ctx, actor)
	return s.recordAudit(ctx, "signal.delete", audit.Target{Type: "signal", ID: id}, nil), nil
}

// TriageItem is a signal with its SLA classification, computed lazily at
// read time. Overdue-ness is derived, never stored.
type TriageItem struct {
	Signal   Signal     `json:"signal"`
	SLA      sla.Status `json:"sla"`
	Deadline *time.Time `json:"deadline,omitempty"`
}

// Triage lists signals with SLA classification, optionally narrowed to a
// single SLA bucket.
func (s *Service) Triage(ctx context.Context, f Filter, slaFilter sla.Status) ([]TriageItem, error) {
	signals, err := s.store.ListSignals(ctx, f)
	if err != nil {
		return nil, err
	}
	now := s.now().UTC()
	var out []TriageItem
	for _, sig := range signals {
		item := TriageItem{Signal: sig, SLA: sla.StatusOK}
		if deadline, ok := activeDeadline(sig); ok {
			item.Deadline = &deadline
			item.SLA = sla.Classify(deadline, now)
		}
		if slaFilter != "" && item.SLA != slaFilter {
			continue
		}
		out = append(out, item)
	}
	return out, nil
}

// activeDeadline returns the SLA clock currently running for a signal.
func activeDeadline(sig Signal) (time.Time, bool) {
	switch sig.Status {
	case StatusNovo:
		return sla.TTADeadline(sig.CreatedAt), true
	case StatusPotvurden, StatusVProces:
		if sig.ConfirmedAt != nil {
			return sla.ProcessDeadline(*sig.ConfirmedAt), true
		}
	}
	return time.Time{}, false
}

// Report aggregates SLA metrics over a reporting window.
type Report struct {
	Total              int     `json:"total"`
	Resolved           int     `json:"resolved"`
	TTRMedianDays      float64 `json:"ttr_median_days"`
	TTAWithin48hPct    float64 `json:"tta_within_48h_pct"`
	ProcessWithin5dPct float64 `json:"process_within_5d_pct"`
}

// BuildReport computes the window aggregates. Resolution time is the
// instant the signal entered popraven, kept through arhiv.
func (s *Service) BuildReport(ctx context.Context, from, to time.Time) (Report, error) {
	signals, err := s.store.ListSignals(ctx, Filter{CreatedAfter: from, CreatedBefore: to})
	if err != nil {
		return Report{}, err
	}

	all := make([]sla.Resolution, 0, len(signals))
	var resolved []sla.Resolution
	for _, sig := range signals {
		r := sla.Resolution{CreatedAt: sig.CreatedAt}
		if sig.ConfirmedAt != nil {
			r.ConfirmedAt = *sig.ConfirmedAt
		}
		if sig.Status == StatusPopraven || sig.Status == StatusArhiv {
			if sig.ResolvedAt != nil {
				r.ResolvedAt = *sig.ResolvedAt
			} else {
				// Rows written before resolved_at existed.
				r.ResolvedAt = sig.UpdatedAt
			}
			resolved = append(resolved, r)
		}
		all = append(all, r)
	}
	return Report{
		Total:              len(signals),
		Resolved:           len(resolved),
		TTRMedianDays:      sla.TTRMedianDays(resolved),
		TTAWithin48hPct:    sla.TTAWithin48hPct(all),
		ProcessWithin5dPct: sla.ProcessWithin5dPct(resolved),
	}, nil
}

// Get returns one signal.
func (s *Service) Get(ctx context.Context, id string) (Signal, error) {
	return s.store.GetSignal(ctx, id)
}

// Notes lists a signal's notes. Internal notes only for moderating roles.
func (s *Service) Notes(ctx context.Context, id string, actor auth.Principal) ([]Note, error) {
	return s.store.ListNotes(ctx, id, actor.CanModerate())
}

func (s *Service) recordAudit(ctx context.Context, event string, target audit.Target, details map[string]any) []string {
	if s.audit == nil {
		return nil
	}
	if err := s.audit.Record(ctx, event, target, details); err != nil {
		obs.ObserveAuditFailure()
		obs.Warn("audit append failed", map[string]any{"event": event, "target": target.ID, "error": err.Error()})
		return []string{"audit append failed: " + err.Error()}
	}
	return nil
}
