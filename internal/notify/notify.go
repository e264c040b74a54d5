// Package notify records in-app notifications addressed to a (role, target)
// pair and serves each principal its own inbox.
package notify

import (
	"context"
	"fmt"
	"strings"
	"time"

	"logbook.org/internal/apperr"
	"logbook.org/internal/auth"
	"logbook.org/internal/obs"
)

const (
	// InboxSize is how many notifications List returns.
	InboxSize = 50

	writeTimeout = 5 * time.Second
)

// Recipient addresses a principal.
type Recipient struct {
	Role     auth.Role `json:"role"`
	TargetID int64     `json:"targetId"`
}

func (r Recipient) valid() bool { return r.Role.Valid() && r.TargetID > 0 }

// RecipientFor is the inbox address of the principal holding claims.
func RecipientFor(c auth.Claims) Recipient {
	return Recipient{Role: c.Role, TargetID: c.TargetID()}
}

// Notification is one inbox entry.
type Notification struct {
	ID        int64      `json:"id"`
	Role      auth.Role  `json:"role"`
	TargetID  int64      `json:"targetId"`
	Title     string     `json:"title"`
	Body      string     `json:"body"`
	ReadAt    *time.Time `json:"readAt"`
	CreatedAt time.Time  `json:"createdAt"`
}

// Store persists notifications.
type Store interface {
	InsertNotification(ctx context.Context, n Notification) (Notification, error)
	ListNotifications(ctx context.Context, to Recipient, limit int) ([]Notification, error)
	CountUnread(ctx context.Context, to Recipient) (int, error)
	// MarkNotificationRead sets read_at only when id belongs to the recipient;
	// otherwise it returns apperr.ErrNotFound.
	MarkNotificationRead(ctx context.Context, id int64, to Recipient, at time.Time) (Notification, error)
}

// Notifier is the write side used by domain services.
type Notifier interface {
	Notify(ctx context.Context, to Recipient, title, body string)
}

// Dispatcher implements Notifier and the inbox reads.
type Dispatcher struct {
	store Store
	clock func() time.Time
}

// NewDispatcher wires a dispatcher; a nil clock uses time.Now.
func NewDispatcher(store Store, clock func() time.Time) *Dispatcher {
	if clock == nil {
		clock = time.Now
	}
	return &Dispatcher{store: store, clock: clock}
}

// Notify records one notification. Failures are logged and counted, never
// returned: the business write that triggered it has already committed.
func (d *Dispatcher) Notify(ctx context.Context, to Recipient, title, body string) {
	if !to.valid() {
		obs.Logger().Warn().Str("role", to.Role.String()).Int64("target_id", to.TargetID).
			Msg("notification dropped: invalid recipient")
		dropped()
		return
	}
	// Detach from the request so a client disconnect does not lose the write.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), writeTimeout)
	defer cancel()

	_, err := d.store.InsertNotification(ctx, Notification{
		Role:      to.Role,
		TargetID:  to.TargetID,
		Title:     strings.TrimSpace(title),
		Body:      strings.TrimSpace(body),
		CreatedAt: d.clock().UTC(),
	})
	if err != nil {
		obs.Logger().Warn().Err(err).Str("role", to.Role.String()).Int64("target_id", to.TargetID).
			Msg("notification insert failed")
		dropped()
	}
}

// dropped counts one lost notification.
func dropped() { obs.NotificationsFailed.Inc() }

// List returns the newest notifications for the caller, newest first.
func (d *Dispatcher) List(ctx context.Context, c auth.Claims) ([]Notification, error) {
	to := RecipientFor(c)
	if !to.valid() {
		return nil, apperr.ErrForbidden
	}
	return d.store.ListNotifications(ctx, to, InboxSize)
}

// UnreadCount counts the caller's unread notifications.
func (d *Dispatcher) UnreadCount(ctx context.Context, c auth.Claims) (int, error) {
	to := RecipientFor(c)
	if !to.valid() {
		return 0, apperr.ErrForbidden
	}
	return d.store.CountUnread(ctx, to)
}

// MarkRead marks one of the caller's notifications read. A notification
// addressed to anyone else is reported as not found.
func (d *Dispatcher) MarkRead(ctx context.Context, c auth.Claims, id int64) (Notification, error) {
	to := RecipientFor(c)
	if !to.valid() {
		return Notification{}, apperr.ErrForbidden
	}
	if id <= 0 {
		return Notification{}, fmt.Errorf("%w: notification id", apperr.ErrNotFound)
	}
	return d.store.MarkNotificationRead(ctx, id, to, d.clock().UTC())
}
