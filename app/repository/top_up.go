package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/vibast-solutions/ms-go-esim/app/entity"
)

var (
	ErrTopUpNotFound      = errors.New("top-up not found")
	ErrTopUpAlreadyExists = errors.New("top-up already exists")
)

const topUpColumns = `
	id, order_id, profile_id, package_code, payment_reference, transaction_id,
	recharge_order_number, status, last_error, created_at, updated_at
`

type TopUpRepository struct {
	db DBTX
}

func NewTopUpRepository(db DBTX) *TopUpRepository {
	return &TopUpRepository{db: db}
}

func (r *TopUpRepository) Create(ctx context.Context, topUp *entity.TopUp) error {
	query := `
		INSERT INTO top_ups (
			order_id, profile_id, package_code, payment_reference, transaction_id,
			recharge_order_number, status, last_error, created_at, updated_at
		)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	result, err := r.db.ExecContext(ctx, query,
		topUp.OrderID,
		topUp.ProfileID,
		topUp.PackageCode,
		topUp.PaymentReference,
		topUp.TransactionID,
		nullableStringValue(topUp.RechargeOrderNumber),
		topUp.Status,
		nullableStringValue(topUp.LastError),
		topUp.CreatedAt,
		topUp.UpdatedAt,
	)
	if err != nil {
		if isDuplicateEntryError(err) {
			return ErrTopUpAlreadyExists
		}
		return err
	}

	id, err := result.LastInsertId()
	if err != nil {
		return err
	}
	topUp.ID = uint64(id)
	return nil
}

func (r *TopUpRepository) Update(ctx context.Context, topUp *entity.TopUp) error {
	query := `
		UPDATE top_ups SET recharge_order_number = ?, status = ?, last_error = ?, updated_at = ?
		WHERE id = ?
	`
	result, err := r.db.ExecContext(ctx, query,
		nullableStringValue(topUp.RechargeOrderNumber),
		topUp.Status,
		nullableStringValue(topUp.LastError),
		topUp.UpdatedAt,
		topUp.ID,
	)
	if err != nil {
		return err
	}

	ok, err := affectedOne(result)
	if err != nil {
		return err
	}
	if !ok {
		return ErrTopUpNotFound
	}
	return nil
}

func (r *TopUpRepository) FindByPaymentReference(ctx context.Context, paymentReference string) (*entity.TopUp, error) {
	query := `SELECT ` + topUpColumns + ` FROM top_ups WHERE payment_reference = ? LIMIT 1`

	topUp := &entity.TopUp{}
	if err := scanTopUp(r.db.QueryRowContext(ctx, query, paymentReference), topUp); err == sql.ErrNoRows {
		return nil, nil
	} else if err != nil {
		return nil, err
	}
	return topUp, nil
}

func (r *TopUpRepository) ListByOrder(ctx context.Context, orderID uint64) ([]*entity.TopUp, error) {
	query := `SELECT ` + topUpColumns + ` FROM top_ups WHERE order_id = ? ORDER BY id ASC`

	rows, err := r.db.QueryContext(ctx, query, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := make([]*entity.TopUp, 0)
	for rows.Next() {
		item := &entity.TopUp{}
		if err := scanTopUp(rows, item); err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return items, nil
}

func scanTopUp(scan rowScanner, topUp *entity.TopUp) error {
	var rechargeOrderNumber sql.NullString
	var lastError sql.NullString

	if err := scan.Scan(
		&topUp.ID,
		&topUp.OrderID,
		&topUp.ProfileID,
		&topUp.PackageCode,
		&topUp.PaymentReference,
		&topUp.TransactionID,
		&rechargeOrderNumber,
		&topUp.Status,
		&lastError,
		&topUp.CreatedAt,
		&topUp.UpdatedAt,
	); err != nil {
		return err
	}

	topUp.RechargeOrderNumber = stringPtrFromNull(rechargeOrderNumber)
	topUp.LastError = stringPtrFromNull(lastError)
	return nil
}
