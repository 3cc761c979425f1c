package repository

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/vibast-solutions/ms-go-esim/app/entity"
)

var (
	ErrOrderNotFound      = errors.New("order not found")
	ErrOrderAlreadyExists = errors.New("order already exists")
)

const orderColumns = `
	o.id, o.payment_reference, o.user_ref, o.customer_email, o.customer_name,
	o.plan_code, o.amount_cents, o.currency, o.status, o.vendor_order_number,
	o.provision_attempts, o.last_error, o.receipt_sent, o.receipt_sent_at,
	o.created_at, o.updated_at
`

type OrderFilter struct {
	Status  entity.OrderStatus
	UserRef string
	Limit   int32
	Offset  int32
}

type OrderRepository struct {
	db DBTX
}

func NewOrderRepository(db DBTX) *OrderRepository {
	return &OrderRepository{db: db}
}

func (r *OrderRepository) Create(ctx context.Context, order *entity.Order) error {
	query := `
		INSERT INTO orders (
			payment_reference, user_ref, customer_email, customer_name,
			plan_code, amount_cents, currency, status, vendor_order_number,
			provision_attempts, last_error, receipt_sent, receipt_sent_at,
			created_at, updated_at
		)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	result, err := r.db.ExecContext(ctx, query,
		order.PaymentReference,
		order.UserRef,
		order.CustomerEmail,
		order.CustomerName,
		order.PlanCode,
		order.AmountCents,
		order.Currency,
		string(order.Status),
		nullableStringValue(order.VendorOrderNumber),
		order.ProvisionAttempts,
		nullableStringValue(order.LastError),
		order.ReceiptSent,
		nullableTimeValue(order.ReceiptSentAt),
		order.CreatedAt,
		order.UpdatedAt,
	)
	if err != nil {
		if isDuplicateEntryError(err) {
			return ErrOrderAlreadyExists
		}
		return err
	}

	id, err := result.LastInsertId()
	if err != nil {
		return err
	}
	order.ID = uint64(id)
	return nil
}

func (r *OrderRepository) FindByID(ctx context.Context, id uint64) (*entity.Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders o WHERE o.id = ?`
	return r.findOne(ctx, query, id)
}

func (r *OrderRepository) FindByPaymentReference(ctx context.Context, paymentReference string) (*entity.Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders o WHERE o.payment_reference = ? LIMIT 1`
	return r.findOne(ctx, query, paymentReference)
}

func (r *OrderRepository) findOne(ctx context.Context, query string, args ...interface{}) (*entity.Order, error) {
	order := &entity.Order{}
	if err := scanOrder(r.db.QueryRowContext(ctx, query, args...), order); err == sql.ErrNoRows {
		return nil, nil
	} else if err != nil {
		return nil, err
	}
	return order, nil
}

func (r *OrderRepository) List(ctx context.Context, filter OrderFilter) ([]*entity.Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders o`

	conditions := make([]string, 0, 2)
	args := make([]interface{}, 0, 4)
	if filter.Status != "" {
		conditions = append(conditions, "o.status = ?")
		args = append(args, string(filter.Status))
	}
	if strings.TrimSpace(filter.UserRef) != "" {
		conditions = append(conditions, "o.user_ref = ?")
		args = append(args, filter.UserRef)
	}
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}

	query += " ORDER BY o.id DESC LIMIT ? OFFSET ?"
	args = append(args, filter.Limit, filter.Offset)

	return r.queryOrders(ctx, query, args...)
}

// ListRetryable returns the oldest-touched orders in a sweep-eligible status,
// plus in-flight orders not updated since staleBefore (an attempt that died
// without recording its outcome).
func (r *OrderRepository) ListRetryable(ctx context.Context, staleBefore time.Time, limit int32) ([]*entity.Order, error) {
	args := make([]interface{}, 0, len(entity.RetryableOrderStatuses)+len(entity.InFlightOrderStatuses)+2)
	retryable := make([]string, 0, len(entity.RetryableOrderStatuses))
	for _, status := range entity.RetryableOrderStatuses {
		retryable = append(retryable, "?")
		args = append(args, string(status))
	}
	inFlight := make([]string, 0, len(entity.InFlightOrderStatuses))
	for _, status := range entity.InFlightOrderStatuses {
		inFlight = append(inFlight, "?")
		args = append(args, string(status))
	}
	args = append(args, staleBefore, limit)

	query := `SELECT ` + orderColumns + `
		FROM orders o
		WHERE o.status IN (` + strings.Join(retryable, ", ") + `)
			OR (o.status IN (` + strings.Join(inFlight, ", ") + `) AND o.updated_at < ?)
		ORDER BY o.updated_at ASC, o.id ASC
		LIMIT ?
	`
	return r.queryOrders(ctx, query, args...)
}

// ListAwaitingReceipt returns one page, keyed by id after afterID, of orders
// that have a profile but whose ready email has not been recorded as sent.
func (r *OrderRepository) ListAwaitingReceipt(ctx context.Context, afterID uint64, limit int32) ([]*entity.Order, error) {
	query := `SELECT ` + orderColumns + `
		FROM orders o
		INNER JOIN esim_profiles p ON p.order_id = o.id
		WHERE o.receipt_sent = 0 AND o.id > ?
		ORDER BY o.id ASC
		LIMIT ?
	`
	return r.queryOrders(ctx, query, afterID, limit)
}

// UpdateStatus moves an order to status unless it is already provisioned.
// It reports whether a row changed.
func (r *OrderRepository) UpdateStatus(ctx context.Context, id uint64, status entity.OrderStatus, lastError *string, now time.Time) (bool, error) {
	query := `
		UPDATE orders SET status = ?, last_error = ?, updated_at = ?
		WHERE id = ? AND status <> ?
	`
	result, err := r.db.ExecContext(ctx, query,
		string(status),
		nullableStringValue(lastError),
		now,
		id,
		string(entity.OrderStatusProvisioned),
	)
	if err != nil {
		return false, err
	}
	return affectedOne(result)
}

// MarkProvisioned is the only transition into the terminal status.
func (r *OrderRepository) MarkProvisioned(ctx context.Context, id uint64, now time.Time) (bool, error) {
	query := `
		UPDATE orders SET status = ?, last_error = NULL, updated_at = ?
		WHERE id = ? AND status <> ?
	`
	result, err := r.db.ExecContext(ctx, query,
		string(entity.OrderStatusProvisioned),
		now,
		id,
		string(entity.OrderStatusProvisioned),
	)
	if err != nil {
		return false, err
	}
	return affectedOne(result)
}

// SetVendorOrderNumber stores the vendor reference and moves the order to
// provisioning_requested. A reference, once stored, is never replaced.
func (r *OrderRepository) SetVendorOrderNumber(ctx context.Context, id uint64, vendorOrderNumber string, now time.Time) (bool, error) {
	query := `
		UPDATE orders SET vendor_order_number = ?, status = ?, last_error = NULL, updated_at = ?
		WHERE id = ?
		  AND status <> ?
		  AND (vendor_order_number IS NULL OR vendor_order_number = ?)
	`
	result, err := r.db.ExecContext(ctx, query,
		vendorOrderNumber,
		string(entity.OrderStatusProvisioningRequested),
		now,
		id,
		string(entity.OrderStatusProvisioned),
		vendorOrderNumber,
	)
	if err != nil {
		return false, err
	}
	return affectedOne(result)
}

func (r *OrderRepository) IncrementProvisionAttempts(ctx context.Context, id uint64, now time.Time) error {
	query := `UPDATE orders SET provision_attempts = provision_attempts + 1, updated_at = ? WHERE id = ?`
	_, err := r.db.ExecContext(ctx, query, now, id)
	return err
}

// MarkReceiptSent flips receipt_sent from false to true. It reports false when
// the flag was already set.
func (r *OrderRepository) MarkReceiptSent(ctx context.Context, id uint64, now time.Time) (bool, error) {
	query := `
		UPDATE orders SET receipt_sent = 1, receipt_sent_at = ?, updated_at = ?
		WHERE id = ? AND receipt_sent = 0
	`
	result, err := r.db.ExecContext(ctx, query, now, now, id)
	if err != nil {
		return false, err
	}
	return affectedOne(result)
}

func (r *OrderRepository) queryOrders(ctx context.Context, query string, args ...interface{}) ([]*entity.Order, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	orders := make([]*entity.Order, 0)
	for rows.Next() {
		order := &entity.Order{}
		if err := scanOrder(rows, order); err != nil {
			return nil, err
		}
		orders = append(orders, order)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return orders, nil
}

func scanOrder(scan rowScanner, order *entity.Order) error {
	var status string
	var vendorOrderNumber sql.NullString
	var lastError sql.NullString
	var receiptSentAt sql.NullTime

	err := scan.Scan(
		&order.ID,
		&order.PaymentReference,
		&order.UserRef,
		&order.CustomerEmail,
		&order.CustomerName,
		&order.PlanCode,
		&order.AmountCents,
		&order.Currency,
		&status,
		&vendorOrderNumber,
		&order.ProvisionAttempts,
		&lastError,
		&order.ReceiptSent,
		&receiptSentAt,
		&order.CreatedAt,
		&order.UpdatedAt,
	)
	if err != nil {
		return err
	}

	order.Status = entity.OrderStatus(status)
	order.VendorOrderNumber = stringPtrFromNull(vendorOrderNumber)
	order.LastError = stringPtrFromNull(lastError)
	order.ReceiptSentAt = timePtrFromNull(receiptSentAt)
	return nil
}
