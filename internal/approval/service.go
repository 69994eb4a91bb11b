package approval

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
)

// minDirectReasonLen guards the direct grant/revoke path: low-risk role
// changes skip the second admin but still need a substantive reason.
const minDirectReasonLen = 10

// Service implements the two-person approval workflow plus the direct
// grant/revoke path. Both paths end in identical Grant and audit shapes;
// downstream reporting distinguishes provenance only through the
// optional ApprovalRequestID back-reference.
type Service struct {
	store    Store
	claims   auth.ClaimsStore
	audit    *audit.Service
	notifier notify.Notifier
	now      func() time.Time
}

func NewService(store Store, claims auth.ClaimsStore, auditSvc *audit.Service, notifier notify.Notifier) *Service {
	return &Service{
		store:    store,
		claims:   claims,
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

// CreateInput is the wire payload for a new approval request.
type CreateInput struct {
	Action          string
	TargetUserID    string
	TargetUserEmail string
	Role            string
	Scope           string
	Reason          string
}

// CreateResult carries the pending request and side effect warnings.
// The privilege is NOT granted yet; callers answer 202.
type CreateResult struct {
	Request  Request
	Warnings []string
}

// Create files a privilege change for a second admin to decide.
func (s *Service) Create(ctx context.Context, requester auth.Principal, in CreateInput) (CreateResult, error) {
	if !requester.IsAdmin() {
		return CreateResult{}, fmt.Errorf("%w: approval requests require admin", auth.ErrForbidden)
	}
	if strings.TrimSpace(in.Action) != ActionGrantRole {
		return CreateResult{}, fmt.Errorf("%w: unsupported action %q", ErrValidation, in.Action)
	}
	if strings.TrimSpace(in.TargetUserID) == "" {
		return CreateResult{}, fmt.Errorf("%w: target_user_id is required", ErrValidation)
	}
	role, err := auth.ParseRole(in.Role)
	if err != nil {
		return CreateResult{}, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	if strings.TrimSpace(in.Reason) == "" {
		return CreateResult{}, fmt.Errorf("%w: reason is required", ErrValidation)
	}

	req := Request{
		ID:              ids.New(),
		Action:          ActionGrantRole,
		TargetUserID:    strings.TrimSpace(in.TargetUserID),
		TargetUserEmail: strings.TrimSpace(strings.ToLower(in.TargetUserEmail)),
		Role:            role,
		Scope:           strings.TrimSpace(in.Scope),
		Reason:          strings.TrimSpace(in.Reason),
		RequestedBy:     requester.ID,
		Status:          StatusPending,
		CreatedAt:       s.now().UTC(),
	}
	err = s.store.RunTransaction(ctx, func(tx Tx) error {
		return tx.PutRequest(req)
	})
	if err != nil {
		return CreateResult{}, err
	}

	result := CreateResult{Request: req}
	ctx = auth.ContextWithPrincipal(ctx, requester)
	result.Warnings = append(result.Warnings,
		s.recordAudit(ctx, "admin.approval.requested", audit.Target{Type: "approval_request", ID: req.ID}, map[string]any{
			"action":         req.Action,
			"target_user_id": req.TargetUserID,
			"role":           string(req.Role),
		})...)
	result.Warnings = append(result.Warnings, s.notifyOtherAdmins(ctx, req, requester.ID)...)
	return result, nil
}

// notifyOtherAdmins routes the pending request to every admin except the
// requester. A failure or an empty admin list never fails the request;
// the pending approval stays reachable through ListRequests polling.
func (s *Service) notifyOtherAdmins(ctx context.Context, req Request, requesterID string) []string {
	admins, err := s.store.AdminIDs(ctx)
	if err != nil {
		obs.Warn("admin lookup for approval routing failed", map[string]any{"request_id": req.ID, "error": err.Error()})
		return []string{"admin notification failed: " + err.Error()}
	}
	recipients := make([]string, 0, len(admins))
	for _, id := range admins {
		if id != requesterID {
			recipients = append(recipients, id)
		}
	}
	if len(recipients) == 0 {
		obs.Warn("no other admins to notify for pending approval", map[string]any{"request_id": req.ID})
		return []string{"no other admins notified"}
	}
	if s.notifier == nil {
		return nil
	}
	if err := s.notifier.NotifyAdmins(ctx, notify.AdminNotification{
		AdminIDs:  recipients,
		RequestID: req.ID,
		Action:    req.Action,
	}); err != nil {
		obs.Warn("admin notification failed", map[string]any{"request_id": req.ID, "error": err.Error()})
		return []string{"admin notification failed: " + err.Error()}
	}
	return nil
}

// DecideResult reports the terminal request and side effect warnings.
type DecideResult struct {
	Request  Request
	Warnings []string
}

// Decide applies a second admin's verdict. Approving a grant_role request
// mutates the user's role set, syncs the external claims store and files
// the Grant inside one atomic unit with the request's terminal write.
func (s *Service) Decide(ctx context.Context, id string, decider auth.Principal, decision Decision, reason string) (DecideResult, error) {
	if !decider.IsAdmin() {
		return DecideResult{}, fmt.Errorf("%w: decisions require admin", auth.ErrForbidden)
	}
	if decision != DecisionApprove && decision != DecisionReject {
		return DecideResult{}, fmt.Errorf("%w: unknown decision %q", ErrValidation, decision)
	}
	reason = strings.TrimSpace(reason)
	if decision == DecisionReject && reason == "" {
		// The store would accept the write; the rejection-reason rule
		// lives here because nothing else enforces it.
		return DecideResult{}, fmt.Errorf("%w: rejection requires a reason", ErrValidation)
	}

	now := s.now().UTC()
	var (
		updated   Request
		roleAdded bool
	)
	err := s.store.RunTransaction(ctx, func(tx Tx) error {
		req, err := tx.GetRequest(id)
		if err != nil {
			return err
		}
		if req.Status != StatusPending {
			return fmt.Errorf("%w: request is %s", ErrAlreadyProcessed, req.Status)
		}
		if req.RequestedBy == decider.ID {
			return fmt.Errorf("%w: %s requested this change", ErrSelfApproval, decider.ID)
		}

		req.DecidedBy = decider.ID
		req.DecidedAt = &now
		req.DecisionReason = reason

		if decision == DecisionReject {
			req.Status = StatusRejected
			updated = req
			return tx.PutRequest(req)
		}

		req.Status = StatusApproved
		if req.Action == ActionGrantRole {
			roleAdded, err = s.applyGrant(ctx, tx, grantParams{
				userID:    req.TargetUserID,
				role:      req.Role,
				scope:     req.Scope,
				grantedBy: decider.ID,
				reason:    req.Reason,
				requestID: req.ID,
				at:        now,
			})
			if err != nil {
				return err
			}
		}
		updated = req
		return tx.PutRequest(req)
	})
	if err != nil {
		return DecideResult{}, err
	}

	result := DecideResult{Request: updated}
	ctx = auth.ContextWithPrincipal(ctx, decider)
	if decision == DecisionReject {
		result.Warnings = append(result.Warnings,
			s.recordAudit(ctx, "admin.approval.rejected", audit.Target{Type: "approval_request", ID: id}, map[string]any{
				"reason": reason,
			})...)
		return result, nil
	}

	result.Warnings = append(result.Warnings,
		s.recordAudit(ctx, "role.granted", audit.Target{Type: "user", ID: updated.TargetUserID}, map[string]any{
			"role":                string(updated.Role),
			"approval_request_id": id,
			"already_held":        !roleAdded,
		})...)
	result.Warnings = append(result.Warnings,
		s.recordAudit(ctx, "admin.approval.approved", audit.Target{Type: "approval_request", ID: id}, nil)...)

	if s.notifier != nil {
		if nerr := s.notifier.NotifyRoleChange(ctx, notify.RoleChangeNotification{
			UserID: updated.TargetUserID,
			Role:   string(updated.Role),
			Added:  true,
			Reason: updated.Reason,
		}); nerr != nil {
			obs.Warn("role change notification failed", map[string]any{"user_id": updated.TargetUserID, "error": nerr.Error()})
			result.Warnings = append(result.Warnings, "notification failed: "+nerr.Error())
		}
	}
	return result, nil
}

type grantParams struct {
	userID    string
	role      auth.Role
	scope     string
	grantedBy string
	reason    string
	requestID string
	at        time.Time
}

// applyGrant performs the role-document mutation shared by the approval
// and direct paths. Re-adding a held role is a no-op success and files
// no duplicate Grant.
func (s *Service) applyGrant(ctx context.Context, tx Tx, p grantParams) (added bool, err error) {
	roles, err := tx.GetUserRoles(p.userID)
	if err != nil {
		return false, err
	}
	added = roles.Add(p.role)
	if !added {
		return false, nil
	}
	if err := tx.PutUserRoles(p.userID, roles); err != nil {
		return false, err
	}
	if s.claims != nil {
		if err := s.claims.SyncRoles(ctx, p.userID, roles); err != nil {
			return false, fmt.Errorf("claims sync: %w", err)
		}
	}
	return true, tx.AddGrant(Grant{
		ID:                ids.New(),
		UserID:            p.userID,
		Role:              p.role,
		Scope:             p.scope,
		GrantedBy:         p.grantedBy,
		GrantedAt:         p.at,
		Reason:            p.reason,
		Status:            GrantActive,
		ApprovalRequestID: p.requestID,
	})
}

// DirectResult reports the user's roles after a direct change.
type DirectResult struct {
	Roles    []string
	Warnings []string
}

// DirectGrant adds a role without a second admin. Reserved for low-risk
// changes; the reason floor is the only guard, so it is enforced hard.
func (s *Service) DirectGrant(ctx context.Context, admin auth.Principal, userID, roleStr, scope, reason string, notifyUser bool) (DirectResult, error) {
	role, err := s.validateDirect(admin, userID, roleStr, reason)
	if err != nil {
		return DirectResult{}, err
	}
	reason = strings.TrimSpace(reason)

	now := s.now().UTC()
	var (
		added bool
		roles auth.RoleSet
	)
	err = s.store.RunTransaction(ctx, func(tx Tx) error {
		added, err = s.applyGrant(ctx, tx, grantParams{
			userID:    userID,
			role:      role,
			scope:     scope,
			grantedBy: admin.ID,
			reason:    reason,
			at:        now,
		})
		if err != nil {
			return err
		}
		roles, err = tx.GetUserRoles(userID)
		return err
	})
	if err != nil {
		return DirectResult{}, err
	}

	result := DirectResult{Roles: roles.Strings()}
	ctx = auth.ContextWithPrincipal(ctx, admin)
	result.Warnings = append(result.Warnings,
		s.recordAudit(ctx, "role.granted", audit.Target{Type: "user", ID: userID}, map[string]any{
			"role":         string(role),
			"reason":       reason,
			"already_held": !added,
		})...)
	if notifyUser && added && s.notifier != nil {
		if nerr := s.notifier.NotifyRoleChange(ctx, notify.RoleChangeNotification{
			UserID: userID, Role: string(role), Added: true, Reason: reason,
		}); nerr != nil {
			result.Warnings = append(result.Warnings, "notification failed: "+nerr.Error())
		}
	}
	return result, nil
}

// DirectRevoke removes a role and marks the backing grant revoked.
func (s *Service) DirectRevoke(ctx context.Context, admin auth.Principal, userID, roleStr, reason string, notifyUser bool) (DirectResult, error) {
	role, err := s.validateDirect(admin, userID, roleStr, reason)
	if err != nil {
		return DirectResult{}, err
	}
	reason = strings.TrimSpace(reason)

	now := s.now().UTC()
	var (
		removed bool
		roles   auth.RoleSet
	)
	err = s.store.RunTransaction(ctx, func(tx Tx) error {
		roles, err = tx.GetUserRoles(userID)
		if err != nil {
			return err
		}
		removed = roles.Remove(role)
		if !removed {
			return nil
		}
		if err := tx.PutUserRoles(userID, roles); err != nil {
			return err
		}
		if s.claims != nil {
			if err := s.claims.SyncRoles(ctx, userID, roles); err != nil {
				return fmt.Errorf("claims sync: %w", err)
			}
		}
		grant, ok, err := tx.ActiveGrant(userID, role)
		if err != nil || !ok {
			return err
		}
		grant.Status = GrantRevoked
		grant.RevokedBy = admin.ID
		grant.RevokedAt = &now
		grant.RevokeReason = reason
		return tx.PutGrant(grant)
	})
	if err != nil {
		return DirectResult{}, err
	}

	result := DirectResult{Roles: roles.Strings()}
	ctx = auth.ContextWithPrincipal(ctx, admin)
	result.Warnings = append(result.Warnings,
		s.recordAudit(ctx, "role.revoked", audit.Target{Type: "user", ID: userID}, map[string]any{
			"role":     string(role),
			"reason":   reason,
			"not_held": !removed,
		})...)
	if notifyUser && removed && s.notifier != nil {
		if nerr := s.notifier.NotifyRoleChange(ctx, notify.RoleChangeNotification{
			UserID: userID, Role: string(role), Added: false, Reason: reason,
		}); nerr != nil {
			result.Warnings = append(result.Warnings, "notification failed: "+nerr.Error())
		}
	}
	return result, nil
}

func (s *Service) validateDirect(admin auth.Principal, userID, roleStr, reason string) (auth.Role, error) {
	if !admin.IsAdmin() {
		return "", fmt.Errorf("%w: direct role changes require admin", auth.ErrForbidden)
	}
	if strings.TrimSpace(userID) == "" {
		return "", fmt.Errorf("%w: user id is required", ErrValidation)
	}
	role, err := auth.ParseRole(roleStr)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrValidation, err)
	}
	if len(strings.TrimSpace(reason)) < minDirectReasonLen {
		return "", fmt.Errorf("%w: reason must be at least %d characters", ErrValidation, minDirectReasonLen)
	}
	return role, nil
}

// List returns approval requests, optionally filtered by status.
func (s *Service) List(ctx context.Context, status RequestStatus) ([]Request, error) {
	return s.store.ListRequests(ctx, status)
}

// Get returns one approval request.
func (s *Service) Get(ctx context.Context, id string) (Request, error) {
	return s.store.GetRequest(ctx, id)
}

// UserRoles returns a user's current role document.
func (s *Service) UserRoles(ctx context.Context, userID string) (auth.RoleSet, error) {
	return s.store.GetUserRoles(ctx, userID)
}

// Grants returns a user's grant history, active and revoked.
func (s *Service) Grants(ctx context.Context, userID string) ([]Grant, error) {
	return s.store.ListGrants(ctx, userID)
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
