package httpapi

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"signali.bg/internal/auth"
	"signali.bg/internal/signal"
	"signali.bg/internal/sla"
)

type updateSignalRequest struct {
	Status       string   `json:"status,omitempty"`
	Comment      string   `json:"comment,omitempty"`
	InternalNote string   `json:"internal_note,omitempty"`
	Images       []string `json:"images,omitempty"`
}

type updateSignalResponse struct {
	Success  bool     `json:"success"`
	From     string   `json:"from,omitempty"`
	To       string   `json:"to,omitempty"`
	Warnings []string `json:"warnings,omitempty"`
}

func (a *API) handleSignalsCollection(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	if _, ok := principal(w, r); !ok {
		return
	}

	q := r.URL.Query()
	var f signal.Filter
	if raw := strings.TrimSpace(q.Get("status")); raw != "" {
		status, err := signal.ParseStatus(raw)
		if err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		f.Status = status
	}
	f.SettlementID = strings.TrimSpace(q.Get("settlement_id"))
	if raw := strings.TrimSpace(q.Get("limit")); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 1 || limit > 1000 {
			writeError(w, r, http.StatusBadRequest, "limit must be between 1 and 1000")
			return
		}
		f.Limit = limit
	}

	var slaFilter sla.Status
	switch raw := strings.TrimSpace(q.Get("sla")); raw {
	case "":
	case string(sla.StatusOK), string(sla.StatusWarning), string(sla.StatusOverdue):
		slaFilter = sla.Status(raw)
	default:
		writeError(w, r, http.StatusBadRequest, "sla must be one of ok, warning, overdue")
		return
	}

	items, err := a.signals.Triage(r.Context(), f, slaFilter)
	if err != nil {
		handleSignalError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"items": items,
		"as_of": time.Now().UTC(),
	})
}

func (a *API) handleSignalResource(w http.ResponseWriter, r *http.Request) {
	path := strings.Trim(strings.TrimPrefix(r.URL.Path, "/v1/signals/"), "/")
	if path == "" {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	parts := strings.Split(path, "/")

	if len(parts) == 2 && parts[1] == "notes" {
		a.listSignalNotes(w, r, parts[0])
		return
	}
	if len(parts) != 1 {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}

	switch r.Method {
	case http.MethodGet:
		a.getSignal(w, r, parts[0])
	case http.MethodPatch:
		a.updateSignal(w, r, parts[0])
	case http.MethodDelete:
		a.deleteSignal(w, r, parts[0])
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPatch, http.MethodDelete)
	}
}

func (a *API) getSignal(w http.ResponseWriter, r *http.Request, id string) {
	if _, ok := principal(w, r); !ok {
		return
	}
	sig, err := a.signals.Get(r.Context(), id)
	if err != nil {
		handleSignalError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sig)
}

func (a *API) listSignalNotes(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	actor, ok := principal(w, r)
	if !ok {
		return
	}
	notes, err := a.signals.Notes(r.Context(), id, actor)
	if err != nil {
		handleSignalError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": notes})
}

// updateSignal applies a partial update: a lifecycle transition with an
// optional public comment, an internal note, a new image list, or any
// combination.
func (a *API) updateSignal(w http.ResponseWriter, r *http.Request, id string) {
	actor, ok := principal(w, r)
	if !ok {
		return
	}
	var req updateSignalRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if req.Status == "" && req.InternalNote == "" && req.Images == nil {
		writeError(w, r, http.StatusBadRequest, "nothing to update")
		return
	}
	if req.Status == "" && strings.TrimSpace(req.Comment) != "" {
		writeError(w, r, http.StatusBadRequest, "comment requires a status transition")
		return
	}

	resp := updateSignalResponse{Success: true}

	if req.Status != "" {
		to, err := signal.ParseStatus(req.Status)
		if err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		result, err := a.signals.Transition(r.Context(), id, to, actor, req.Comment)
		if err != nil {
			handleSignalError(w, r, err)
			return
		}
		resp.From = string(result.From)
		resp.To = string(result.To)
		resp.Warnings = append(resp.Warnings, result.Warnings...)
	}
	if req.InternalNote != "" {
		warnings, err := a.signals.AddInternalNote(r.Context(), id, actor, req.InternalNote)
		if err != nil {
			handleSignalError(w, r, err)
			return
		}
		resp.Warnings = append(resp.Warnings, warnings...)
	}
	if req.Images != nil {
		warnings, err := a.signals.UpdateImages(r.Context(), id, actor, req.Images)
		if err != nil {
			handleSignalError(w, r, err)
			return
		}
		resp.Warnings = append(resp.Warnings, warnings...)
	}

	writeJSON(w, http.StatusOK, resp)
}

func (a *API) deleteSignal(w http.ResponseWriter, r *http.Request, id string) {
	actor, ok := principal(w, r)
	if !ok {
		return
	}
	warnings, err := a.signals.Delete(r.Context(), id, actor)
	if err != nil {
		handleSignalError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, updateSignalResponse{Success: true, Warnings: warnings})
}

func (a *API) handleSLAReport(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	if _, ok := principal(w, r); !ok {
		return
	}

	now := time.Now().UTC()
	from, err := parseTimeParam(r.URL.Query().Get("from"), now.AddDate(0, -1, 0))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	to, err := parseTimeParam(r.URL.Query().Get("to"), now)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if !to.After(from) {
		writeError(w, r, http.StatusBadRequest, "to must be after from")
		return
	}

	report, err := a.signals.BuildReport(r.Context(), from, to)
	if err != nil {
		handleSignalError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"from":   from,
		"to":     to,
		"report": report,
	})
}

func handleSignalError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, signal.ErrValidation), errors.Is(err, signal.ErrInvalidTransition):
		writeError(w, r, http.StatusBadRequest, err.Error())
	case errors.Is(err, auth.ErrForbidden):
		writeError(w, r, http.StatusForbidden, err.Error())
	case errors.Is(err, signal.ErrNotFound):
		writeError(w, r, http.StatusNotFound, err.Error())
	case errors.Is(err, signal.ErrConflict):
		writeError(w, r, http.StatusConflict, err.Error())
	default:
		writeError(w, r, http.StatusInternalServerError, "internal error")
	}
}
