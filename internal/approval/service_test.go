package approval

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
	adminA = auth.Principal{ID: "admin-a", Email: "a@sofia.bg", Roles: auth.NewRoleSet(auth.RoleAdmin)}
	adminB = auth.Principal{ID: "admin-b", Email: "b@sofia.bg", Roles: auth.NewRoleSet(auth.RoleAdmin)}
)

type fixture struct {
	store    *MemoryStore
	claims   *auth.MemoryClaimsStore
	auditLog *audit.MemoryStore
	recorder *notify.Recorder
	svc      *Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		store:    NewMemoryStore(),
		claims:   auth.NewMemoryClaimsStore(),
		auditLog: audit.NewMemoryStore(),
		recorder: &notify.Recorder{},
	}
	f.store.SeedUser(adminA.ID, adminA.Roles)
	f.store.SeedUser(adminB.ID, adminB.Roles)
	f.store.SeedUser("u-target", auth.NewRoleSet(auth.RoleCitizen))
	f.svc = NewService(f.store, f.claims, audit.NewService(f.auditLog), f.recorder).
		WithClock(func() time.Time { return time.Date(2026, 6, 1, 10, 0, 0, 0, time.UTC) })
	return f
}

func (f *fixture) createPending(t *testing.T) Request {
	t.Helper()
	res, err := f.svc.Create(context.Background(), adminA, CreateInput{
		Action:       ActionGrantRole,
		TargetUserID: "u-target",
		Role:         "operator",
		Reason:       "new hire in the operations team",
	})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	return res.Request
}

func TestCreateRoutesToOtherAdmins(t *testing.T) {
	f := newFixture(t)
	res, err := f.svc.Create(context.Background(), adminA, CreateInput{
		Action:       ActionGrantRole,
		TargetUserID: "u-target",
		Role:         "operator",
		Reason:       "new hire",
	})
	if err != nil {
		t.Fatal(err)
	}
	if res.Request.Status != StatusPending {
		t.Fatalf("status = %s, want pending", res.Request.Status)
	}
	if len(f.recorder.Admins) != 1 {
		t.Fatalf("expected 1 admin notification, got %d", len(f.recorder.Admins))
	}
	got := f.recorder.Admins[0].AdminIDs
	if len(got) != 1 || got[0] != adminB.ID {
		t.Fatalf("routed to %v, want only admin-b", got)
	}
	entries, _ := f.auditLog.List(context.Background(), audit.Filter{Event: "admin.approval.requested"})
	if len(entries) != 1 {
		t.Fatal("request not audited")
	}
}

func TestCreateValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	cases := []struct {
		name string
		in   CreateInput
		want error
	}{
		{"missing target", CreateInput{Action: ActionGrantRole, Role: "operator", Reason: "x"}, ErrValidation},
		{"unknown role", CreateInput{Action: ActionGrantRole, TargetUserID: "u", Role: "root", Reason: "x"}, ErrValidation},
		{"missing reason", CreateInput{Action: ActionGrantRole, TargetUserID: "u", Role: "operator"}, ErrValidation},
		{"unknown action", CreateInput{Action: "delete_user", TargetUserID: "u", Role: "operator", Reason: "x"}, ErrValidation},
	}
	for _, tc := range cases {
		if _, err := f.svc.Create(ctx, adminA, tc.in); !errors.Is(err, tc.want) {
			t.Fatalf("%s: got %v", tc.name, err)
		}
	}

	nonAdmin := auth.Principal{ID: "op-1", Roles: auth.NewRoleSet(auth.RoleOperator)}
	if _, err := f.svc.Create(ctx, nonAdmin, CreateInput{Action: ActionGrantRole, TargetUserID: "u", Role: "operator", Reason: "x"}); !errors.Is(err, auth.ErrForbidden) {
		t.Fatalf("non-admin create: got %v", err)
	}
}

func TestSelfApprovalForbidden(t *testing.T) {
	f := newFixture(t)
	req := f.createPending(t)
	ctx := context.Background()

	for _, decision := range []Decision{DecisionApprove, DecisionReject} {
		_, err := f.svc.Decide(ctx, req.ID, adminA, decision, "because")
		if !errors.Is(err, ErrSelfApproval) {
			t.Fatalf("self %s: got %v, want ErrSelfApproval", decision, err)
		}
	}

	// No state change: still pending, target roles untouched.
	stored, _ := f.store.GetRequest(ctx, req.ID)
	if stored.Status != StatusPending {
		t.Fatalf("request mutated by forbidden decision: %s", stored.Status)
	}
	roles, _ := f.store.GetUserRoles(ctx, "u-target")
	if roles.Has(auth.RoleOperator) {
		t.Fatal("role granted despite forbidden decision")
	}
}

func TestApproveGrantsRoleAtomically(t *testing.T) {
	f := newFixture(t)
	req := f.createPending(t)
	ctx := context.Background()

	res, err := f.svc.Decide(ctx, req.ID, adminB, DecisionApprove, "")
	if err != nil {
		t.Fatalf("approve with empty reason must succeed: %v", err)
	}
	if res.Request.Status != StatusApproved || res.Request.DecidedBy != adminB.ID {
		t.Fatalf("unexpected terminal request: %+v", res.Request)
	}

	roles, _ := f.store.GetUserRoles(ctx, "u-target")
	if !roles.Has(auth.RoleOperator) {
		t.Fatal("role not written to user document")
	}
	if !f.claims.Roles("u-target").Has(auth.RoleOperator) {
		t.Fatal("claims store not synced")
	}

	grants, _ := f.store.ListGrants(ctx, "u-target")
	if len(grants) != 1 {
		t.Fatalf("expected 1 grant, got %d", len(grants))
	}
	if grants[0].ApprovalRequestID != req.ID || grants[0].Status != GrantActive {
		t.Fatalf("grant shape wrong: %+v", grants[0])
	}

	// Two audit entries: role grant + approval decision.
	granted, _ := f.auditLog.List(ctx, audit.Filter{Event: "role.granted"})
	approved, _ := f.auditLog.List(ctx, audit.Filter{Event: "admin.approval.approved"})
	if len(granted) != 1 || len(approved) != 1 {
		t.Fatalf("audit entries: granted=%d approved=%d, want 1/1", len(granted), len(approved))
	}

	if len(f.recorder.RoleChanges) != 1 || f.recorder.RoleChanges[0].UserID != "u-target" {
		t.Fatalf("target not notified: %+v", f.recorder.RoleChanges)
	}
}

func TestDecideTerminalOnce(t *testing.T) {
	f := newFixture(t)
	req := f.createPending(t)
	ctx := context.Background()

	if _, err := f.svc.Decide(ctx, req.ID, adminB, DecisionApprove, ""); err != nil {
		t.Fatal(err)
	}
	if _, err := f.svc.Decide(ctx, req.ID, adminB, DecisionReject, "changed my mind"); !errors.Is(err, ErrAlreadyProcessed) {
		t.Fatalf("second decision: got %v, want ErrAlreadyProcessed", err)
	}
}

func TestRejectRequiresReason(t *testing.T) {
	f := newFixture(t)
	req := f.createPending(t)
	ctx := context.Background()

	if _, err := f.svc.Decide(ctx, req.ID, adminB, DecisionReject, "  "); !errors.Is(err, ErrValidation) {
		t.Fatalf("reject without reason: got %v, want ErrValidation", err)
	}

	res, err := f.svc.Decide(ctx, req.ID, adminB, DecisionReject, "spam")
	if err != nil {
		t.Fatalf("reject with reason failed: %v", err)
	}
	if res.Request.Status != StatusRejected || res.Request.DecisionReason != "spam" {
		t.Fatalf("unexpected rejected request: %+v", res.Request)
	}
	entries, _ := f.auditLog.List(ctx, audit.Filter{Event: "admin.approval.rejected"})
	if len(entries) != 1 {
		t.Fatal("rejection not audited")
	}
	roles, _ := f.store.GetUserRoles(ctx, "u-target")
	if roles.Has(auth.RoleOperator) {
		t.Fatal("role granted on rejection")
	}
}

func TestDirectGrantIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first, err := f.svc.DirectGrant(ctx, adminA, "u-target", "operator", "", "onboarding operations", false)
	if err != nil {
		t.Fatal(err)
	}
	second, err := f.svc.DirectGrant(ctx, adminA, "u-target", "operator", "", "onboarding operations", false)
	if err != nil {
		t.Fatalf("idempotent re-grant must succeed: %v", err)
	}
	if len(first.Roles) != len(second.Roles) {
		t.Fatalf("roles changed on re-grant: %v -> %v", first.Roles, second.Roles)
	}
	grants, _ := f.store.ListGrants(ctx, "u-target")
	if len(grants) != 1 {
		t.Fatalf("duplicate grant created: %d", len(grants))
	}
}

func TestDirectGrantReasonFloor(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.DirectGrant(context.Background(), adminA, "u-target", "operator", "", "short", false)
	if !errors.Is(err, ErrValidation) {
		t.Fatalf("short reason: got %v, want ErrValidation", err)
	}
}

func TestDirectRevokeMarksGrantRevoked(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if _, err := f.svc.DirectGrant(ctx, adminA, "u-target", "operator", "", "onboarding operations", false); err != nil {
		t.Fatal(err)
	}
	res, err := f.svc.DirectRevoke(ctx, adminB, "u-target", "operator", "left the operations team", false)
	if err != nil {
		t.Fatal(err)
	}
	for _, r := range res.Roles {
		if r == "operator" {
			t.Fatal("role still present after revoke")
		}
	}

	grants, _ := f.store.ListGrants(ctx, "u-target")
	if len(grants) != 1 || grants[0].Status != GrantRevoked || grants[0].RevokedBy != adminB.ID {
		t.Fatalf("grant not revoked: %+v", grants)
	}
	if !f.claims.Roles("u-target").Has(auth.RoleCitizen) {
		t.Fatal("claims lost unrelated roles")
	}
	if f.claims.Roles("u-target").Has(auth.RoleOperator) {
		t.Fatal("claims still carry revoked role")
	}
	entries, _ := f.auditLog.List(ctx, audit.Filter{Event: "role.revoked"})
	if len(entries) != 1 {
		t.Fatal("revoke not audited")
	}
}

func TestApproveConflictSurfaces(t *testing.T) {
	f := newFixture(t)
	req := f.createPending(t)
	f.store.FailNextCommit(ErrConflict)

	_, err := f.svc.Decide(context.Background(), req.ID, adminB, DecisionApprove, "")
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
	roles, _ := f.store.GetUserRoles(context.Background(), "u-target")
	if roles.Has(auth.RoleOperator) {
		t.Fatal("aborted transaction leaked role write")
	}
}

func TestZeroOtherAdminsStillCreates(t *testing.T) {
	f := newFixture(t)
	// Drop admin-b so the requester is the only admin.
	f.store.SeedUser(adminB.ID, auth.NewRoleSet(auth.RoleCitizen))

	res, err := f.svc.Create(context.Background(), adminA, CreateInput{
		Action:       ActionGrantRole,
		TargetUserID: "u-target",
		Role:         "operator",
		Reason:       "solo admin scenario",
	})
	if err != nil {
		t.Fatalf("create must succeed with no peers: %v", err)
	}
	if len(res.Warnings) == 0 {
		t.Fatal("zero-admin routing must surface a warning")
	}
	// Still reachable via polling.
	pending, _ := f.svc.List(context.Background(), StatusPending)
	if len(pending) != 1 {
		t.Fatalf("pending request not listed: %d", len(pending))
	}
}

func TestAuditFailureDoesNotFailDecision(t *testing.T) {
	f := newFixture(t)
	req := f.createPending(t)
	f.auditLog.FailWith(errors.New("audit store down"))

	res, err := f.svc.Decide(context.Background(), req.ID, adminB, DecisionApprove, "")
	if err != nil {
		t.Fatalf("decision must not fail on audit failure: %v", err)
	}
	if len(res.Warnings) < 2 {
		t.Fatalf("both audit failures must surface as warnings: %v", res.Warnings)
	}
	roles, _ := f.store.GetUserRoles(context.Background(), "u-target")
	if !roles.Has(auth.RoleOperator) {
		t.Fatal("primary grant must survive audit failure")
	}
}
