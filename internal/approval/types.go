package approval

import (
	"errors"
	"time"

	"signali.bg/internal/auth"
)

// ActionGrantRole is the only approval action currently routed through
// the two-person rule.
const ActionGrantRole = "grant_role"

// RequestStatus is the approval request lifecycle. A request is terminal
// once it leaves pending; exactly one decision event ever applies.
type RequestStatus string

const (
	StatusPending  RequestStatus = "pending"
	StatusApproved RequestStatus = "approved"
	StatusRejected RequestStatus = "rejected"
)

// Decision is the admin's verdict on a pending request.
type Decision string

const (
	DecisionApprove Decision = "approve"
	DecisionReject  Decision = "reject"
)

// Request is a pending privilege change awaiting a second admin.
type Request struct {
	ID              string        `json:"id"`
	Action          string        `json:"action"`
	TargetUserID    string        `json:"target_user_id"`
	TargetUserEmail string        `json:"target_user_email,omitempty"`
	Role            auth.Role     `json:"role"`
	Scope           string        `json:"scope,omitempty"`
	Reason          string        `json:"reason"`
	RequestedBy     string        `json:"requested_by"`
	Status          RequestStatus `json:"status"`
	CreatedAt       time.Time     `json:"created_at"`

	// Decision fields, written exactly once.
	DecidedBy      string     `json:"decided_by,omitempty"`
	DecidedAt      *time.Time `json:"decided_at,omitempty"`
	DecisionReason string     `json:"decision_reason,omitempty"`
}

// GrantStatus marks whether a privilege record is still in force.
type GrantStatus string

const (
	GrantActive  GrantStatus = "active"
	GrantRevoked GrantStatus = "revoked"
)

// Grant records an applied privilege. Grants are revoked by a separate
// explicit action, never deleted. The approval path and the direct path
// produce identical Grant shapes; only ApprovalRequestID tells them apart.
type Grant struct {
	ID                string      `json:"id"`
	UserID            string      `json:"user_id"`
	Role              auth.Role   `json:"role"`
	Scope             string      `json:"scope,omitempty"`
	GrantedBy         string      `json:"granted_by"`
	GrantedAt         time.Time   `json:"granted_at"`
	Reason            string      `json:"reason"`
	Status            GrantStatus `json:"status"`
	ApprovalRequestID string      `json:"approval_request_id,omitempty"`

	RevokedBy    string     `json:"revoked_by,omitempty"`
	RevokedAt    *time.Time `json:"revoked_at,omitempty"`
	RevokeReason string     `json:"revoke_reason,omitempty"`
}

var (
	ErrNotFound = errors.New("approval: not found")
	// ErrAlreadyProcessed marks a decision against a non-pending request.
	ErrAlreadyProcessed = errors.New("approval: request already processed")
	// ErrSelfApproval enforces the two-person rule.
	ErrSelfApproval = errors.New("approval: requester cannot decide own request")
	ErrValidation   = errors.New("approval: invalid input")
	ErrConflict     = errors.New("approval: transaction conflict")
)
