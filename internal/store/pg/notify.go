package pg

import (
	"context"
	"database/sql"
	"time"

	"logbook.org/internal/auth"
	"logbook.org/internal/notify"
)

const notificationColumns = `id, role, target_id, title, body, read_at, created_at`

func scanNotification(r rowScanner) (notify.Notification, error) {
	var (
		n    notify.Notification
		role string
		read sql.NullTime
	)
	if err := r.Scan(&n.ID, &role, &n.TargetID, &n.Title, &n.Body, &read, &n.CreatedAt); err != nil {
		return notify.Notification{}, mapError(err)
	}
	parsed, err := auth.ParseRole(role)
	if err != nil {
		return notify.Notification{}, err
	}
	n.Role = parsed
	n.ReadAt = timePtr(read)
	n.CreatedAt = n.CreatedAt.UTC()
	return n, nil
}

func (s *Store) InsertNotification(ctx context.Context, n notify.Notification) (notify.Notification, error) {
	if s.db == nil {
		return notify.Notification{}, errNoDB
	}
	row := s.db.QueryRowContext(ctx, `
		insert into notifications(role, target_id, title, body, created_at)
		values ($1, $2, $3, $4, $5)
		returning `+notificationColumns,
		n.Role.String(), n.TargetID, n.Title, n.Body, n.CreatedAt)
	return scanNotification(row)
}

func (s *Store) ListNotifications(ctx context.Context, to notify.Recipient, limit int) ([]notify.Notification, error) {
	if s.db == nil {
		return nil, errNoDB
	}
	rows, err := s.db.QueryContext(ctx, `
		select `+notificationColumns+` from notifications
		where role = $1 and target_id = $2
		order by created_at desc, id desc
		limit $3`, to.Role.String(), to.TargetID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []notify.Notification
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

func (s *Store) CountUnread(ctx context.Context, to notify.Recipient) (int, error) {
	if s.db == nil {
		return 0, errNoDB
	}
	var n int
	err := s.db.QueryRowContext(ctx, `
		select count(*) from notifications
		where role = $1 and target_id = $2 and read_at is null`, to.Role.String(), to.TargetID).Scan(&n)
	return n, err
}

// MarkNotificationRead keeps the first read time when called again.
func (s *Store) MarkNotificationRead(ctx context.Context, id int64, to notify.Recipient, at time.Time) (notify.Notification, error) {
	if s.db == nil {
		return notify.Notification{}, errNoDB
	}
	row := s.db.QueryRowContext(ctx, `
		update notifications set read_at = coalesce(read_at, $4)
		where id = $1 and role = $2 and target_id = $3
		returning `+notificationColumns,
		id, to.Role.String(), to.TargetID, at)
	return scanNotification(row)
}
