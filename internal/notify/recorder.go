package notify

import (
	"context"
	"sync"

	"signali.bg/internal/obs"
)

// LogNotifier writes notification intents as JSON log lines. Used when no
// mail transport is configured.
type LogNotifier struct{}

func (LogNotifier) NotifySignalStatus(ctx context.Context, n SignalStatusNotification) error {
	obs.LogEntry(map[string]any{
		"type":      "notification",
		"kind":      "signal_status",
		"signal_id": n.SignalID,
		"author_id": n.AuthorID,
		"status":    n.StatusLabel,
	})
	return nil
}

func (LogNotifier) NotifyAdmins(ctx context.Context, n AdminNotification) error {
	obs.LogEntry(map[string]any{
		"type":       "notification",
		"kind":       "admin_approval",
		"request_id": n.RequestID,
		"admins":     len(n.AdminIDs),
	})
	return nil
}

func (LogNotifier) NotifyRoleChange(ctx context.Context, n RoleChangeNotification) error {
	obs.LogEntry(map[string]any{
		"type":    "notification",
		"kind":    "role_change",
		"user_id": n.UserID,
		"role":    n.Role,
		"added":   n.Added,
	})
	return nil
}

// Recorder captures intents for test assertions.
type Recorder struct {
	mu          sync.Mutex
	Statuses    []SignalStatusNotification
	Admins      []AdminNotification
	RoleChanges []RoleChangeNotification
	Err         error
}

func (r *Recorder) NotifySignalStatus(ctx context.Context, n SignalStatusNotification) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Err != nil {
		return r.Err
	}
	r.Statuses = append(r.Statuses, n)
	return nil
}

func (r *Recorder) NotifyAdmins(ctx context.Context, n AdminNotification) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Err != nil {
		return r.Err
	}
	r.Admins = append(r.Admins, n)
	return nil
}

func (r *Recorder) NotifyRoleChange(ctx context.Context, n RoleChangeNotification) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Err != nil {
		return r.Err
	}
	r.RoleChanges = append(r.RoleChanges, n)
	return nil
}
