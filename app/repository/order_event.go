package repository

import (
	"context"
	"database/sql"

	"github.com/vibast-solutions/ms-go-esim/app/entity"
)

type OrderEventRepository struct {
	db DBTX
}

func NewOrderEventRepository(db DBTX) *OrderEventRepository {
	return &OrderEventRepository{db: db}
}

func (r *OrderEventRepository) Create(ctx context.Context, event *entity.OrderEvent) error {
	query := `
		INSERT INTO order_events (order_id, event_type, old_status, new_status, detail, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`

	var oldStatus interface{}
	if event.OldStatus != nil {
		oldStatus = string(*event.OldStatus)
	}

	result, err := r.db.ExecContext(ctx, query,
		event.OrderID,
		event.EventType,
		oldStatus,
		string(event.NewStatus),
		nullableStringValue(event.Detail),
		event.CreatedAt,
	)
	if err != nil {
		return err
	}

	id, err := result.LastInsertId()
	if err != nil {
		return err
	}
	event.ID = uint64(id)

	return nil
}

func (r *OrderEventRepository) ListByOrder(ctx context.Context, orderID uint64, limit int32) ([]*entity.OrderEvent, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, order_id, event_type, old_status, new_status, detail, created_at
		FROM order_events
		WHERE order_id = ?
		ORDER BY id ASC
		LIMIT ?
	`, orderID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	events := make([]*entity.OrderEvent, 0)
	for rows.Next() {
		event := &entity.OrderEvent{}
		var oldStatus sql.NullString
		var newStatus string
		var detail sql.NullString
		if err := rows.Scan(&event.ID, &event.OrderID, &event.EventType, &oldStatus, &newStatus, &detail, &event.CreatedAt); err != nil {
			return nil, err
		}
		if oldStatus.Valid {
			status := entity.OrderStatus(oldStatus.String)
			event.OldStatus = &status
		}
		event.NewStatus = entity.OrderStatus(newStatus)
		event.Detail = stringPtrFromNull(detail)
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return events, nil
}
