package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/iliyamo/sportsbook/internal/model"
)

// NotificationRepo stores per-user notifications written by the worker.
type NotificationRepo struct {
	db *sql.DB
}

func NewNotificationRepo(db *sql.DB) *NotificationRepo { return &NotificationRepo{db: db} }

// CreateMany inserts one notification per entry in a single statement.
func (r *NotificationRepo) CreateMany(ctx context.Context, ns []model.Notification) error {
	if len(ns) == 0 {
		return nil
	}
	query := "INSERT INTO notifications (user_id, kind, title, body) VALUES "
	args := make([]any, 0, len(ns)*4)
	for i, n := range ns {
		if i > 0 {
			query += ","
		}
		query += "(?, ?, ?, ?)"
		args = append(args, n.UserID, n.Kind, n.Title, n.Body)
	}
	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("repository.NotificationRepo.CreateMany: %w", err)
	}
	return nil
}

// ListByUser returns up to limit notifications, newest first.
func (r *NotificationRepo) ListByUser(ctx context.Context, userID uint64, unreadOnly bool, limit int) ([]model.Notification, error) {
	const op = "repository.NotificationRepo.ListByUser"
	q := "SELECT id, user_id, kind, title, body, read_at, created_at FROM notifications WHERE user_id = ?"
	if unreadOnly {
		q += " AND read_at IS NULL"
	}
	q += " ORDER BY id DESC LIMIT ?"
	rows, err := r.db.QueryContext(ctx, q, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()
	out := []model.Notification{}
	for rows.Next() {
		var n model.Notification
		var readAt sql.NullTime
		if err := rows.Scan(&n.ID, &n.UserID, &n.Kind, &n.Title, &n.Body, &readAt, &n.CreatedAt); err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		if readAt.Valid {
			t := readAt.Time
			n.ReadAt = &t
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

// MarkRead sets read_at on a notification owned by userID.  Marking an
// already read notification succeeds.
func (r *NotificationRepo) MarkRead(ctx context.Context, id, userID uint64) error {
	const op = "repository.NotificationRepo.MarkRead"
	res, err := r.db.ExecContext(ctx,
		"UPDATE notifications SET read_at = COALESCE(read_at, UTC_TIMESTAMP()) WHERE id = ? AND user_id = ?", id, userID)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return affected(op, res)
}
