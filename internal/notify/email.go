package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"signali.bg/internal/obs"
)

// Sender is the actual mail transport (SMTP relay client, provider SDK).
type Sender interface {
	Send(ctx context.Context, to []string, subject, body string) error
}

// EmailNotifier renders notification intents into mail and paces outbound
// sends so a burst of signal updates cannot exhaust the provider budget.
type EmailNotifier struct {
	sender  Sender
	limiter *rate.Limiter
	resolve func(ctx context.Context, userID string) (string, error)
}

// NewEmailNotifier builds a notifier sending at most perMinute mails per
// minute. resolve maps a user id to an address; users without one are
// skipped silently (push-only accounts).
func NewEmailNotifier(sender Sender, perMinute int, resolve func(ctx context.Context, userID string) (string, error)) (*EmailNotifier, error) {
	if sender == nil {
		return nil, errors.New("notify: sender is required")
	}
	if perMinute <= 0 {
		perMinute = 60
	}
	return &EmailNotifier{
		sender:  sender,
		limiter: rate.NewLimiter(rate.Every(time.Minute/time.Duration(perMinute)), perMinute),
		resolve: resolve,
	}, nil
}

func (n *EmailNotifier) send(ctx context.Context, userIDs []string, subject, body string) error {
	if err := n.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("notify: pacing wait: %w", err)
	}
	var addrs []string
	for _, id := range userIDs {
		if n.resolve == nil {
			continue
		}
		addr, err := n.resolve(ctx, id)
		if err != nil || strings.TrimSpace(addr) == "" {
			continue
		}
		addrs = append(addrs, addr)
	}
	if len(addrs) == 0 {
		obs.Warn("notification had no reachable recipients", map[string]any{
			"subject": subject,
		})
		return nil
	}
	return n.sender.Send(ctx, addrs, subject, body)
}

func (n *EmailNotifier) NotifySignalStatus(ctx context.Context, msg SignalStatusNotification) error {
	subject := fmt.Sprintf("Сигнал %s: %s", msg.SignalID, msg.StatusLabel)
	body := fmt.Sprintf("Статусът на вашия сигнал е променен на „%s“.", msg.StatusLabel)
	if msg.Comment != "" {
		body += "\n\nКоментар от оператора:\n" + msg.Comment
	}
	return n.send(ctx, []string{msg.AuthorID}, subject, body)
}

func (n *EmailNotifier) NotifyAdmins(ctx context.Context, msg AdminNotification) error {
	subject := msg.Subject
	if subject == "" {
		subject = fmt.Sprintf("Approval pending: %s", msg.Action)
	}
	body := fmt.Sprintf("Approval request %s (%s) awaits a decision.", msg.RequestID, msg.Action)
	return n.send(ctx, msg.AdminIDs, subject, body)
}

func (n *EmailNotifier) NotifyRoleChange(ctx context.Context, msg RoleChangeNotification) error {
	verb := "granted"
	if !msg.Added {
		verb = "revoked"
	}
	subject := fmt.Sprintf("Role %s: %s", verb, msg.Role)
	body := fmt.Sprintf("The role %q was %s on your account.", msg.Role, verb)
	if msg.Reason != "" {
		body += "\n\nReason: " + msg.Reason
	}
	return n.send(ctx, []string{msg.UserID}, subject, body)
}
