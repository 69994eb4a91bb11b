package signal

import (
	"context"
	"errors"
	"testing"
	"time"

	"signali.bg/internal/audit"
	"signali.bg/internal/auth"
	"signali.bg/internal/notify"
)

var (
	operator = auth.Principal{ID: "op-1", Email: "op@sofia.bg", Roles: auth.NewRoleSet(auth.RoleOperator)}
	citizen  = auth.Principal{ID: "cit-1", Roles: auth.NewRoleSet(auth.RoleCitizen)}
	moder    = auth.Principal{ID: "mod-1", Roles: auth.NewRoleSet(auth.RoleModerator)}
)

type fixture struct {
	store    *MemoryStore
	auditLog *audit.MemoryStore
	recorder *notify.Recorder
	svc      *Service
	now      time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		store:    NewMemoryStore(),
		auditLog: audit.NewMemoryStore(),
		recorder: &notify.Recorder{},
		now:      time.Date(2026, 5, 1, 8, 0, 0, 0, time.UTC),
	}
	f.svc = NewService(f.store, audit.NewService(f.auditLog), f.recorder).
		WithClock(func() time.Time { return f.now })
	return f
}

func (f *fixture) seed(id string, status Status) {
	sig := Signal{
		ID:        id,
		Title:     "Дупка на бул. Витоша",
		Category:  "roads",
		Status:    status,
		AuthorID:  citizen.ID,
		CreatedAt: f.now.Add(-2 * time.Hour),
		UpdatedAt: f.now.Add(-2 * time.Hour),
	}
	if status != StatusNovo {
		confirmed := f.now.Add(-time.Hour)
		sig.ConfirmedAt = &confirmed
	}
	f.store.Seed(sig)
}

func TestTransitionHappyPath(t *testing.T) {
	f := newFixture(t)
	f.seed("s-1", StatusNovo)
	ctx := context.Background()

	res, err := f.svc.Transition(ctx, "s-1", StatusPotvurden, operator, "приет за разглеждане")
	if err != nil {
		t.Fatalf("Transition failed: %v", err)
	}
	if res.From != StatusNovo || res.To != StatusPotvurden {
		t.Fatalf("unexpected edge: %s -> %s", res.From, res.To)
	}
	if len(res.Warnings) != 0 {
		t.Fatalf("unexpected warnings: %v", res.Warnings)
	}

	sig, err := f.store.GetSignal(ctx, "s-1")
	if err != nil {
		t.Fatal(err)
	}
	if sig.Status != StatusPotvurden {
		t.Fatalf("status not written: %s", sig.Status)
	}
	if sig.ConfirmedAt == nil || !sig.ConfirmedAt.Equal(f.now) {
		t.Fatalf("confirmed_at not set on first departure from novo: %v", sig.ConfirmedAt)
	}

	notes, _ := f.store.ListNotes(ctx, "s-1", false)
	if len(notes) != 1 || notes[0].Type != NotePublic || notes[0].AuthorID != operator.ID {
		t.Fatalf("public comment not created: %+v", notes)
	}

	entries, _ := f.auditLog.List(ctx, audit.Filter{Event: "signal_update"})
	if len(entries) != 1 {
		t.Fatalf("expected 1 audit entry, got %d", len(entries))
	}
	if entries[0].Actor.ID != operator.ID {
		t.Fatalf("audit actor = %q, want operator", entries[0].Actor.ID)
	}

	if len(f.recorder.Statuses) != 1 || f.recorder.Statuses[0].AuthorID != citizen.ID {
		t.Fatalf("reporter not notified: %+v", f.recorder.Statuses)
	}
	if f.recorder.Statuses[0].StatusLabel != StatusPotvurden.Label() {
		t.Fatalf("notification carries %q, want human label", f.recorder.Statuses[0].StatusLabel)
	}
}

func TestTransitionIllegalEdgesRejected(t *testing.T) {
	f := newFixture(t)
	f.seed("s-1", StatusNovo)
	ctx := context.Background()

	for _, to := range []Status{StatusVProces, StatusPopraven, StatusArhiv} {
		_, err := f.svc.Transition(ctx, "s-1", to, operator, "")
		if !errors.Is(err, ErrInvalidTransition) {
			t.Fatalf("novo -> %s: got %v, want ErrInvalidTransition", to, err)
		}
	}

	// Status must be untouched after rejected transitions.
	sig, _ := f.store.GetSignal(ctx, "s-1")
	if sig.Status != StatusNovo {
		t.Fatalf("status changed by rejected transition: %s", sig.Status)
	}

	// Terminal states have no outgoing edges at all.
	f.seed("s-2", StatusArhiv)
	if _, err := f.svc.Transition(ctx, "s-2", StatusVProces, operator, ""); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("arhiv -> v_proces: got %v", err)
	}
}

func TestTransitionRequiresModeratingRole(t *testing.T) {
	f := newFixture(t)
	f.seed("s-1", StatusNovo)

	_, err := f.svc.Transition(context.Background(), "s-1", StatusPotvurden, citizen, "")
	if !errors.Is(err, auth.ErrForbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}
}

func TestTransitionNotFound(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Transition(context.Background(), "missing", StatusPotvurden, operator, "")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestTransitionConflictSurfacesToCaller(t *testing.T) {
	f := newFixture(t)
	f.seed("s-1", StatusNovo)
	f.store.FailNextCommit(ErrConflict)

	_, err := f.svc.Transition(context.Background(), "s-1", StatusPotvurden, operator, "")
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
	// No automatic retry: state is unchanged and nothing was notified.
	sig, _ := f.store.GetSignal(context.Background(), "s-1")
	if sig.Status != StatusNovo {
		t.Fatalf("aborted transaction leaked a write: %s", sig.Status)
	}
	if len(f.recorder.Statuses) != 0 {
		t.Fatal("notification sent for aborted transaction")
	}
}

func TestConfirmedAtSetExactlyOnce(t *testing.T) {
	f := newFixture(t)
	f.seed("s-1", StatusNovo)
	ctx := context.Background()

	if _, err := f.svc.Transition(ctx, "s-1", StatusPotvurden, operator, ""); err != nil {
		t.Fatal(err)
	}
	first, _ := f.store.GetSignal(ctx, "s-1")

	f.now = f.now.Add(3 * time.Hour)
	if _, err := f.svc.Transition(ctx, "s-1", StatusVProces, operator, ""); err != nil {
		t.Fatal(err)
	}
	second, _ := f.store.GetSignal(ctx, "s-1")

	if !second.ConfirmedAt.Equal(*first.ConfirmedAt) {
		t.Fatalf("confirmed_at rewritten: %v -> %v", first.ConfirmedAt, second.ConfirmedAt)
	}
}

func TestAuditFailureBecomesWarning(t *testing.T) {
	f := newFixture(t)
	f.seed("s-1", StatusNovo)
	f.auditLog.FailWith(errors.New("audit store down"))

	res, err := f.svc.Transition(context.Background(), "s-1", StatusPotvurden, operator, "")
	if err != nil {
		t.Fatalf("transition must not fail on audit failure: %v", err)
	}
	if len(res.Warnings) == 0 {
		t.Fatal("audit failure must surface as warning")
	}
	sig, _ := f.store.GetSignal(context.Background(), "s-1")
	if sig.Status != StatusPotvurden {
		t.Fatal("primary write must survive audit failure")
	}
}

func TestNotificationFailureBecomesWarning(t *testing.T) {
	f := newFixture(t)
	f.seed("s-1", StatusNovo)
	f.recorder.Err = errors.New("smtp unreachable")

	res, err := f.svc.Transition(context.Background(), "s-1", StatusPotvurden, operator, "")
	if err != nil {
		t.Fatalf("transition must not fail on notify failure: %v", err)
	}
	if len(res.Warnings) != 1 {
		t.Fatalf("expected 1 warning, got %v", res.Warnings)
	}
}

func TestInternalNoteHiddenFromReporter(t *testing.T) {
	f := newFixture(t)
	f.seed("s-1", StatusPotvurden)
	ctx := context.Background()

	if _, err := f.svc.AddInternalNote(ctx, "s-1", operator, "проверка на място утре"); err != nil {
		t.Fatal(err)
	}

	public, _ := f.svc.Notes(ctx, "s-1", citizen)
	if len(public) != 0 {
		t.Fatalf("internal note visible to reporter: %+v", public)
	}
	internal, _ := f.svc.Notes(ctx, "s-1", operator)
	if len(internal) != 1 || internal[0].Type != NoteInternal {
		t.Fatalf("internal note missing for operator: %+v", internal)
	}
}

func TestDeleteRequiresModeratorAndIsLogged(t *testing.T) {
	f := newFixture(t)
	f.seed("s-1", StatusNovo)
	ctx := context.Background()

	if _, err := f.svc.Delete(ctx, "s-1", operator); !errors.Is(err, auth.ErrForbidden) {
		t.Fatalf("operator delete: got %v, want ErrForbidden", err)
	}
	if _, err := f.svc.Delete(ctx, "s-1", moder); err != nil {
		t.Fatalf("moderator delete failed: %v", err)
	}
	if _, err := f.store.GetSignal(ctx, "s-1"); !errors.Is(err, ErrNotFound) {
		t.Fatal("signal not deleted")
	}
	entries, _ := f.auditLog.List(ctx, audit.Filter{Event: "signal.delete"})
	if len(entries) != 1 {
		t.Fatal("delete not logged")
	}
}

func TestEndToEndLifecycleWithSLA(t *testing.T) {
	f := newFixture(t)
	t0 := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	f.store.Seed(Signal{ID: "s-1", Status: StatusNovo, AuthorID: citizen.ID, CreatedAt: t0, UpdatedAt: t0})
	ctx := context.Background()

	// Confirm at T0+10h: TTA met.
	f.now = t0.Add(10 * time.Hour)
	if _, err := f.svc.Transition(ctx, "s-1", StatusPotvurden, operator, ""); err != nil {
		t.Fatal(err)
	}
	sig, _ := f.store.GetSignal(ctx, "s-1")
	if sig.ConfirmedAt == nil || !sig.ConfirmedAt.Equal(t0.Add(10*time.Hour)) {
		t.Fatalf("confirmed_at = %v, want T0+10h", sig.ConfirmedAt)
	}

	// Resolve at T0+4d: process window met (confirmed+5d > resolved).
	f.now = t0.Add(24 * time.Hour)
	if _, err := f.svc.Transition(ctx, "s-1", StatusVProces, operator, ""); err != nil {
		t.Fatal(err)
	}
	f.now = t0.Add(4 * 24 * time.Hour)
	if _, err := f.svc.Transition(ctx, "s-1", StatusPopraven, operator, ""); err != nil {
		t.Fatal(err)
	}

	report, err := f.svc.BuildReport(ctx, t0.Add(-time.Hour), f.now.Add(time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	if report.TTAWithin48hPct != 100 {
		t.Fatalf("tta pct = %v, want 100", report.TTAWithin48hPct)
	}
	if report.ProcessWithin5dPct != 100 {
		t.Fatalf("process pct = %v, want 100", report.ProcessWithin5dPct)
	}
	if report.TTRMedianDays != 4 {
		t.Fatalf("ttr median = %v, want 4", report.TTRMedianDays)
	}

	// Reopen: status changes, confirmed_at untouched.
	f.now = f.now.Add(time.Hour)
	res, err := f.svc.Transition(ctx, "s-1", StatusVProces, operator, "")
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	if res.From != StatusPopraven || res.To != StatusVProces {
		t.Fatalf("unexpected reopen edge: %s -> %s", res.From, res.To)
	}
	sig, _ = f.store.GetSignal(ctx, "s-1")
	if !sig.ConfirmedAt.Equal(t0.Add(10 * time.Hour)) {
		t.Fatal("reopen must not touch confirmed_at")
	}
}

func TestArchiveKeepsResolutionInstant(t *testing.T) {
	f := newFixture(t)
	t0 := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	f.store.Seed(Signal{ID: "s-1", Status: StatusNovo, AuthorID: citizen.ID, CreatedAt: t0, UpdatedAt: t0})
	ctx := context.Background()

	f.now = t0.Add(10 * time.Hour)
	if _, err := f.svc.Transition(ctx, "s-1", StatusPotvurden, operator, ""); err != nil {
		t.Fatal(err)
	}
	f.now = t0.Add(24 * time.Hour)
	if _, err := f.svc.Transition(ctx, "s-1", StatusVProces, operator, ""); err != nil {
		t.Fatal(err)
	}
	f.now = t0.Add(4 * 24 * time.Hour)
	if _, err := f.svc.Transition(ctx, "s-1", StatusPopraven, operator, ""); err != nil {
		t.Fatal(err)
	}
	sig, _ := f.store.GetSignal(ctx, "s-1")
	if sig.ResolvedAt == nil || !sig.ResolvedAt.Equal(t0.Add(4*24*time.Hour)) {
		t.Fatalf("resolved_at = %v, want T0+4d", sig.ResolvedAt)
	}

	// Archive a month later: the resolution instant must not move.
	f.now = t0.Add(30 * 24 * time.Hour)
	if _, err := f.svc.Transition(ctx, "s-1", StatusArhiv, operator, ""); err != nil {
		t.Fatal(err)
	}
	sig, _ = f.store.GetSignal(ctx, "s-1")
	if sig.ResolvedAt == nil || !sig.ResolvedAt.Equal(t0.Add(4*24*time.Hour)) {
		t.Fatalf("resolved_at moved on archive: %v", sig.ResolvedAt)
	}

	report, err := f.svc.BuildReport(ctx, t0.Add(-time.Hour), f.now.Add(time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	if report.ProcessWithin5dPct != 100 {
		t.Fatalf("process pct = %v, want 100", report.ProcessWithin5dPct)
	}
	if report.TTRMedianDays != 4 {
		t.Fatalf("ttr median = %v, want 4", report.TTRMedianDays)
	}
}

func TestReopenClearsResolutionInstant(t *testing.T) {
	f := newFixture(t)
	f.seed("s-1", StatusVProces)
	ctx := context.Background()

	if _, err := f.svc.Transition(ctx, "s-1", StatusPopraven, operator, ""); err != nil {
		t.Fatal(err)
	}
	if _, err := f.svc.Transition(ctx, "s-1", StatusVProces, operator, ""); err != nil {
		t.Fatal(err)
	}
	sig, _ := f.store.GetSignal(ctx, "s-1")
	if sig.ResolvedAt != nil {
		t.Fatalf("resolved_at survived reopen: %v", sig.ResolvedAt)
	}

	// Resolving again stamps the new instant.
	f.now = f.now.Add(time.Hour)
	if _, err := f.svc.Transition(ctx, "s-1", StatusPopraven, operator, ""); err != nil {
		t.Fatal(err)
	}
	sig, _ = f.store.GetSignal(ctx, "s-1")
	if sig.ResolvedAt == nil || !sig.ResolvedAt.Equal(f.now) {
		t.Fatalf("resolved_at = %v, want %v", sig.ResolvedAt, f.now)
	}
}

func TestTriageSLAClassification(t *testing.T) {
	f := newFixture(t)
	now := f.now

	f.store.Seed(Signal{ID: "fresh", Status: StatusNovo, CreatedAt: now.Add(-time.Hour), UpdatedAt: now})
	f.store.Seed(Signal{ID: "warning", Status: StatusNovo, CreatedAt: now.Add(-40 * time.Hour), UpdatedAt: now})
	f.store.Seed(Signal{ID: "overdue", Status: StatusNovo, CreatedAt: now.Add(-50 * time.Hour), UpdatedAt: now})

	items, err := f.svc.Triage(context.Background(), Filter{Status: StatusNovo}, "")
	if err != nil {
		t.Fatal(err)
	}
	got := map[string]string{}
	for _, item := range items {
		got[item.Signal.ID] = string(item.SLA)
	}
	want := map[string]string{"fresh": "ok", "warning": "warning", "overdue": "overdue"}
	for id, cls := range want {
		if got[id] != cls {
			t.Fatalf("signal %s classified %q, want %q", id, got[id], cls)
		}
	}

	overdueOnly, _ := f.svc.Triage(context.Background(), Filter{}, "overdue")
	if len(overdueOnly) != 1 || overdueOnly[0].Signal.ID != "overdue" {
		t.Fatalf("sla filter broken: %+v", overdueOnly)
	}
}
