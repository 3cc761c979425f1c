package repository

import (
	"context"
	"errors"
	"time"

	"github.com/vibast-solutions/ms-go-esim/app/entity"
)

var ErrWebhookAlreadyExists = errors.New("payment webhook already recorded")

type PaymentWebhookRepository struct {
	db DBTX
}

func NewPaymentWebhookRepository(db DBTX) *PaymentWebhookRepository {
	return &PaymentWebhookRepository{db: db}
}

// Create records a webhook delivery. A repeated (provider, provider_event_id)
// returns ErrWebhookAlreadyExists.
func (r *PaymentWebhookRepository) Create(ctx context.Context, webhook *entity.PaymentWebhook) error {
	query := `
		INSERT INTO payment_webhooks (
			order_id, provider, provider_event_id, event_type, signature, payload_json, status, error, created_at, updated_at
		)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	result, err := r.db.ExecContext(ctx, query,
		nullableUint64Value(webhook.OrderID),
		webhook.Provider,
		nullableStringValue(webhook.ProviderEventID),
		webhook.EventType,
		webhook.Signature,
		webhook.PayloadJSON,
		webhook.Status,
		nullableStringValue(webhook.Error),
		webhook.CreatedAt,
		webhook.UpdatedAt,
	)
	if err != nil {
		if isDuplicateEntryError(err) {
			return ErrWebhookAlreadyExists
		}
		return err
	}

	id, err := result.LastInsertId()
	if err != nil {
		return err
	}
	webhook.ID = uint64(id)

	return nil
}

func (r *PaymentWebhookRepository) UpdateOutcome(ctx context.Context, id uint64, orderID *uint64, status int32, errMsg *string, now time.Time) error {
	query := `UPDATE payment_webhooks SET order_id = ?, status = ?, error = ?, updated_at = ? WHERE id = ?`
	_, err := r.db.ExecContext(ctx, query, nullableUint64Value(orderID), status, nullableStringValue(errMsg), now, id)
	return err
}
