package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/vibast-solutions/ms-go-esim/app/entity"
)

var ErrNotificationNotFound = errors.New("notification not found")

const notificationColumns = `id, order_id, kind, status, attempts, next_at, last_error, created_at, updated_at`

type NotificationRepository struct {
	db DBTX
}

func NewNotificationRepository(db DBTX) *NotificationRepository {
	return &NotificationRepository{db: db}
}

// Enqueue adds a pending outbox row for (orderID, kind). It reports false when
// the pair is already queued.
func (r *NotificationRepository) Enqueue(ctx context.Context, orderID uint64, kind entity.NotificationKind, now time.Time) (bool, error) {
	query := `
		INSERT INTO notifications (order_id, kind, status, attempts, next_at, last_error, created_at, updated_at)
		VALUES (?, ?, ?, 0, ?, NULL, ?, ?)
	`
	_, err := r.db.ExecContext(ctx, query, orderID, string(kind), entity.NotificationStatusPending, now, now, now)
	if err != nil {
		if isDuplicateEntryError(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (r *NotificationRepository) Update(ctx context.Context, notification *entity.Notification) error {
	query := `
		UPDATE notifications SET status = ?, attempts = ?, next_at = ?, last_error = ?, updated_at = ?
		WHERE id = ?
	`
	result, err := r.db.ExecContext(ctx, query,
		notification.Status,
		notification.Attempts,
		nullableTimeValue(notification.NextAt),
		nullableStringValue(notification.LastError),
		notification.UpdatedAt,
		notification.ID,
	)
	if err != nil {
		return err
	}

	ok, err := affectedOne(result)
	if err != nil {
		return err
	}
	if !ok {
		return ErrNotificationNotFound
	}
	return nil
}

func (r *NotificationRepository) ListDue(ctx context.Context, now time.Time, limit int32) ([]*entity.Notification, error) {
	query := `SELECT ` + notificationColumns + `
		FROM notifications
		WHERE status = ? AND next_at IS NOT NULL AND next_at <= ?
		ORDER BY next_at ASC, id ASC
		LIMIT ?
	`
	return r.query(ctx, query, entity.NotificationStatusPending, now, limit)
}

func (r *NotificationRepository) ListByOrder(ctx context.Context, orderID uint64) ([]*entity.Notification, error) {
	query := `SELECT ` + notificationColumns + ` FROM notifications WHERE order_id = ? ORDER BY id ASC`
	return r.query(ctx, query, orderID)
}

func (r *NotificationRepository) query(ctx context.Context, query string, args ...interface{}) ([]*entity.Notification, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := make([]*entity.Notification, 0)
	for rows.Next() {
		item := &entity.Notification{}
		var kind string
		var nextAt sql.NullTime
		var lastError sql.NullString
		if err := rows.Scan(
			&item.ID,
			&item.OrderID,
			&kind,
			&item.Status,
			&item.Attempts,
			&nextAt,
			&lastError,
			&item.CreatedAt,
			&item.UpdatedAt,
		); err != nil {
			return nil, err
		}
		item.Kind = entity.NotificationKind(kind)
		item.NextAt = timePtrFromNull(nextAt)
		item.LastError = stringPtrFromNull(lastError)
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return items, nil
}
