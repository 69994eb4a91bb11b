package audit

import (
	"context"
	"errors"
	"testing"
	"time"

	"signali.bg/internal/auth"
)

func TestRecordFillsIdentityAndTiming(t *testing.T) {
	store := NewMemoryStore()
	fixed := time.Date(2026, 4, 1, 9, 30, 0, 0, time.UTC)
	svc := NewService(store).WithClock(func() time.Time { return fixed })

	ctx := auth.ContextWithPrincipal(context.Background(), auth.Principal{
		ID:    "admin-1",
		Email: "admin@sofia.bg",
		Roles: auth.NewRoleSet(auth.RoleAdmin),
	})
	ctx = WithRequestMeta(ctx, "10.0.0.7", "signali-test/1.0")

	err := svc.Record(ctx, "role.granted", Target{Type: "user", ID: "u-9"}, map[string]any{
		"role": "operator",
	})
	if err != nil {
		t.Fatalf("Record failed: %v", err)
	}

	entries, err := store.List(ctx, Filter{Event: "role.granted"})
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	e := entries[0]
	if e.ID == "" {
		t.Fatal("entry id not assigned")
	}
	if !e.Timestamp.Equal(fixed) {
		t.Fatalf("timestamp %s, want %s", e.Timestamp, fixed)
	}
	if e.Actor.ID != "admin-1" || e.Actor.Email != "admin@sofia.bg" {
		t.Fatalf("actor not captured: %+v", e.Actor)
	}
	if e.Target.ID != "u-9" || e.Target.Type != "user" {
		t.Fatalf("target not captured: %+v", e.Target)
	}
	if e.IP != "10.0.0.7" || e.UserAgent != "signali-test/1.0" {
		t.Fatalf("request meta not captured: ip=%q ua=%q", e.IP, e.UserAgent)
	}
	if e.Details["role"] != "operator" {
		t.Fatalf("details missing: %v", e.Details)
	}
}

func TestRecordRejectsEmptyEvent(t *testing.T) {
	svc := NewService(NewMemoryStore())
	if err := svc.Record(context.Background(), "  ", Target{}, nil); !errors.Is(err, ErrInvalidEntry) {
		t.Fatalf("expected ErrInvalidEntry, got %v", err)
	}
}

func TestListFilters(t *testing.T) {
	store := NewMemoryStore()
	svc := NewService(store)
	ctx := context.Background()

	_ = svc.Record(ctx, "signal_update", Target{Type: "signal", ID: "s-1"}, nil)
	_ = svc.Record(ctx, "signal_update", Target{Type: "signal", ID: "s-2"}, nil)
	_ = svc.Record(ctx, "role.granted", Target{Type: "user", ID: "u-1"}, nil)

	got, _ := store.List(ctx, Filter{TargetType: "signal"})
	if len(got) != 2 {
		t.Fatalf("expected 2 signal entries, got %d", len(got))
	}
	got, _ = store.List(ctx, Filter{TargetID: "u-1"})
	if len(got) != 1 || got[0].Event != "role.granted" {
		t.Fatalf("unexpected filter result: %+v", got)
	}
	got, _ = store.List(ctx, Filter{Limit: 1})
	if len(got) != 1 {
		t.Fatalf("limit ignored: got %d", len(got))
	}
}
