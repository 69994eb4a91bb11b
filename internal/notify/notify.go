// Package notify is the dispatch boundary for outbound user notifications.
// Delivery itself (SMTP relay, push gateway) lives outside this core; the
// implementations here either hand off or log the intent.
package notify

import "context"

// SignalStatusNotification tells a reporter their signal moved.
type SignalStatusNotification struct {
	SignalID    string
	AuthorID    string
	StatusLabel string
	Comment     string
}

// AdminNotification asks a set of admins to look at a pending approval.
type AdminNotification struct {
	AdminIDs  []string
	RequestID string
	Action    string
	Subject   string
}

// RoleChangeNotification tells a user their privileges changed.
type RoleChangeNotification struct {
	UserID string
	Role   string
	Added  bool
	Reason string
}

// Notifier delivers notification intents. Implementations must treat
// delivery as best-effort; callers capture errors as warnings.
type Notifier interface {
	NotifySignalStatus(ctx context.Context, n SignalStatusNotification) error
	NotifyAdmins(ctx context.Context, n AdminNotification) error
	NotifyRoleChange(ctx context.Context, n RoleChangeNotification) error
}
