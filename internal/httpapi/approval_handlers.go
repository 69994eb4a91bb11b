package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"signali.bg/internal/approval"
	"signali.bg/internal/auth"
)

type createApprovalRequest struct {
	Action          string `json:"action"`
	TargetUserID    string `json:"target_user_id"`
	TargetUserEmail string `json:"target_user_email,omitempty"`
	Role            string `json:"role"`
	Scope           string `json:"scope,omitempty"`
	Reason          string `json:"reason"`
}

type createApprovalResponse struct {
	RequestID string   `json:"request_id"`
	Status    string   `json:"status"`
	Warnings  []string `json:"warnings,omitempty"`
}

type decideApprovalRequest struct {
	Decision string `json:"decision"`
	Reason   string `json:"reason,omitempty"`
}

type decideApprovalResponse struct {
	Status   string   `json:"status"`
	Message  string   `json:"message"`
	Warnings []string `json:"warnings,omitempty"`
}

type roleChangeRequest struct {
	Role   string `json:"role"`
	Action string `json:"action"`
	Reason string `json:"reason"`
	Scope  string `json:"scope,omitempty"`
	Notify bool   `json:"notify,omitempty"`
}

type roleChangeResponse struct {
	Success  bool     `json:"success"`
	Roles    []string `json:"roles"`
	Reason   string   `json:"reason"`
	Warnings []string `json:"warnings,omitempty"`
}

func (a *API) handleApprovalsCollection(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		a.createApproval(w, r)
	case http.MethodGet:
		a.listApprovals(w, r)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
	}
}

func (a *API) createApproval(w http.ResponseWriter, r *http.Request) {
	actor, ok := principal(w, r)
	if !ok {
		return
	}
	var req createApprovalRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	result, err := a.approvals.Create(r.Context(), actor, approval.CreateInput{
		Action:          req.Action,
		TargetUserID:    req.TargetUserID,
		TargetUserEmail: req.TargetUserEmail,
		Role:            req.Role,
		Scope:           req.Scope,
		Reason:          req.Reason,
	})
	if err != nil {
		handleApprovalError(w, r, err)
		return
	}

	// 202: the privilege is pending a second admin, not granted.
	writeJSON(w, http.StatusAccepted, createApprovalResponse{
		RequestID: result.Request.ID,
		Status:    "pending_approval",
		Warnings:  result.Warnings,
	})
}

func (a *API) listApprovals(w http.ResponseWriter, r *http.Request) {
	actor, ok := principal(w, r)
	if !ok {
		return
	}
	if !actor.IsAdmin() {
		writeError(w, r, http.StatusForbidden, "approvals require admin")
		return
	}

	var status approval.RequestStatus
	switch raw := strings.TrimSpace(r.URL.Query().Get("status")); raw {
	case "":
	case string(approval.StatusPending), string(approval.StatusApproved), string(approval.StatusRejected):
		status = approval.RequestStatus(raw)
	default:
		writeError(w, r, http.StatusBadRequest, "status must be one of pending, approved, rejected")
		return
	}

	items, err := a.approvals.List(r.Context(), status)
	if err != nil {
		handleApprovalError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (a *API) handleApprovalResource(w http.ResponseWriter, r *http.Request) {
	path := strings.Trim(strings.TrimPrefix(r.URL.Path, "/v1/approvals/"), "/")
	if path == "" || strings.Contains(path, "/") {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}

	switch r.Method {
	case http.MethodGet:
		a.getApproval(w, r, path)
	case http.MethodPost:
		a.decideApproval(w, r, path)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
	}
}

func (a *API) getApproval(w http.ResponseWriter, r *http.Request, id string) {
	actor, ok := principal(w, r)
	if !ok {
		return
	}
	if !actor.IsAdmin() {
		writeError(w, r, http.StatusForbidden, "approvals require admin")
		return
	}
	req, err := a.approvals.Get(r.Context(), id)
	if err != nil {
		handleApprovalError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, req)
}

func (a *API) decideApproval(w http.ResponseWriter, r *http.Request, id string) {
	actor, ok := principal(w, r)
	if !ok {
		return
	}
	var req decideApprovalRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	result, err := a.approvals.Decide(r.Context(), id, actor, approval.Decision(req.Decision), req.Reason)
	if err != nil {
		handleApprovalError(w, r, err)
		return
	}

	message := "request approved and role granted"
	if result.Request.Status == approval.StatusRejected {
		message = "request rejected"
	}
	writeJSON(w, http.StatusOK, decideApprovalResponse{
		Status:   string(result.Request.Status),
		Message:  message,
		Warnings: result.Warnings,
	})
}

func (a *API) handleUserResource(w http.ResponseWriter, r *http.Request) {
	path := strings.Trim(strings.TrimPrefix(r.URL.Path, "/v1/users/"), "/")
	if path == "" {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	parts := strings.Split(path, "/")
	if len(parts) != 2 || parts[1] != "roles" {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}

	switch r.Method {
	case http.MethodPost:
		a.changeUserRoles(w, r, parts[0])
	case http.MethodGet:
		a.getUserRoles(w, r, parts[0])
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
	}
}

// changeUserRoles is the direct path: no second admin, reason mandatory.
func (a *API) changeUserRoles(w http.ResponseWriter, r *http.Request, userID string) {
	actor, ok := principal(w, r)
	if !ok {
		return
	}
	var req roleChangeRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	var (
		result approval.DirectResult
		err    error
	)
	switch req.Action {
	case "add":
		result, err = a.approvals.DirectGrant(r.Context(), actor, userID, req.Role, req.Scope, req.Reason, req.Notify)
	case "remove":
		result, err = a.approvals.DirectRevoke(r.Context(), actor, userID, req.Role, req.Reason, req.Notify)
	default:
		writeError(w, r, http.StatusBadRequest, "action must be add or remove")
		return
	}
	if err != nil {
		handleApprovalError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, roleChangeResponse{
		Success:  true,
		Roles:    result.Roles,
		Reason:   strings.TrimSpace(req.Reason),
		Warnings: result.Warnings,
	})
}

func (a *API) getUserRoles(w http.ResponseWriter, r *http.Request, userID string) {
	actor, ok := principal(w, r)
	if !ok {
		return
	}
	if !actor.IsAdmin() {
		writeError(w, r, http.StatusForbidden, "role inspection requires admin")
		return
	}
	roles, err := a.approvals.UserRoles(r.Context(), userID)
	if err != nil {
		handleApprovalError(w, r, err)
		return
	}
	grants, err := a.approvals.Grants(r.Context(), userID)
	if err != nil {
		handleApprovalError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"user_id": userID,
		"roles":   roles.Strings(),
		"grants":  grants,
	})
}

func handleApprovalError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, approval.ErrValidation), errors.Is(err, auth.ErrInvalidInput):
		writeError(w, r, http.StatusBadRequest, err.Error())
	case errors.Is(err, auth.ErrForbidden), errors.Is(err, approval.ErrSelfApproval):
		writeError(w, r, http.StatusForbidden, err.Error())
	case errors.Is(err, approval.ErrNotFound):
		writeError(w, r, http.StatusNotFound, err.Error())
	case errors.Is(err, approval.ErrAlreadyProcessed), errors.Is(err, approval.ErrConflict):
		writeError(w, r, http.StatusConflict, err.Error())
	default:
		writeError(w, r, http.StatusInternalServerError, "internal error")
	}
}
