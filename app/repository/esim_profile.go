package repository

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/vibast-solutions/ms-go-esim/app/entity"
)

var ErrProfileNotFound = errors.New("esim profile not found")

const profileColumns = `
	p.id, p.order_id, p.iccid, p.activation_code, p.qr_code_url,
	p.vendor_transaction_no, p.status, p.total_volume_bytes, p.used_bytes,
	p.expires_at, p.last_synced_at, p.created_at, p.updated_at
`

type ProfileRepository struct {
	db DBTX
}

func NewProfileRepository(db DBTX) *ProfileRepository {
	return &ProfileRepository{db: db}
}

func (r *ProfileRepository) FindByOrderID(ctx context.Context, orderID uint64) (*entity.EsimProfile, error) {
	query := `SELECT ` + profileColumns + ` FROM esim_profiles p WHERE p.order_id = ?`

	profile := &entity.EsimProfile{}
	if err := scanProfile(r.db.QueryRowContext(ctx, query, orderID), profile); err == sql.ErrNoRows {
		return nil, nil
	} else if err != nil {
		return nil, err
	}
	return profile, nil
}

// Upsert creates the profile for profile.OrderID or refreshes the existing
// one. Empty strings and nil values never overwrite stored data, and usage is
// left to UsageRepository.
func (r *ProfileRepository) Upsert(ctx context.Context, profile *entity.EsimProfile, now time.Time) (*entity.EsimProfile, error) {
	query := `
		INSERT INTO esim_profiles (
			order_id, iccid, activation_code, qr_code_url, vendor_transaction_no, status,
			total_volume_bytes, used_bytes, expires_at, last_synced_at, created_at, updated_at
		)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON DUPLICATE KEY UPDATE
			iccid = COALESCE(NULLIF(VALUES(iccid), ''), iccid),
			activation_code = COALESCE(NULLIF(VALUES(activation_code), ''), activation_code),
			qr_code_url = COALESCE(NULLIF(VALUES(qr_code_url), ''), qr_code_url),
			vendor_transaction_no = COALESCE(NULLIF(VALUES(vendor_transaction_no), ''), vendor_transaction_no),
			status = COALESCE(NULLIF(VALUES(status), ''), status),
			total_volume_bytes = COALESCE(VALUES(total_volume_bytes), total_volume_bytes),
			expires_at = COALESCE(VALUES(expires_at), expires_at),
			last_synced_at = VALUES(last_synced_at),
			updated_at = VALUES(updated_at)
	`

	_, err := r.db.ExecContext(ctx, query,
		profile.OrderID,
		profile.ICCID,
		profile.ActivationCode,
		profile.QRCodeURL,
		profile.VendorTransactionNo,
		profile.Status,
		nullableInt64Value(profile.TotalVolumeBytes),
		nullableInt64Value(profile.UsedBytes),
		nullableTimeValue(profile.ExpiresAt),
		now,
		now,
		now,
	)
	if err != nil {
		return nil, err
	}

	stored, err := r.FindByOrderID(ctx, profile.OrderID)
	if err != nil {
		return nil, err
	}
	if stored == nil {
		return nil, ErrProfileNotFound
	}
	return stored, nil
}

// ApplySync writes only the fields present in update.
func (r *ProfileRepository) ApplySync(ctx context.Context, profileID uint64, update entity.ProfileUpdate, now time.Time) error {
	sets := make([]string, 0, 9)
	args := make([]interface{}, 0, 10)

	addString := func(column string, value *string) {
		if value == nil || strings.TrimSpace(*value) == "" {
			return
		}
		sets = append(sets, column+" = ?")
		args = append(args, *value)
	}
	addString("iccid", update.ICCID)
	addString("activation_code", update.ActivationCode)
	addString("qr_code_url", update.QRCodeURL)
	addString("vendor_transaction_no", update.VendorTransactionNo)
	addString("status", update.Status)
	if update.TotalVolumeBytes != nil {
		sets = append(sets, "total_volume_bytes = ?")
		args = append(args, *update.TotalVolumeBytes)
	}
	if update.ExpiresAt != nil {
		sets = append(sets, "expires_at = ?")
		args = append(args, *update.ExpiresAt)
	}

	sets = append(sets, "last_synced_at = ?", "updated_at = ?")
	args = append(args, now, now, profileID)

	query := `UPDATE esim_profiles SET ` + strings.Join(sets, ", ") + ` WHERE id = ?`
	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}

	ok, err := affectedOne(result)
	if err != nil {
		return err
	}
	if !ok {
		return ErrProfileNotFound
	}
	return nil
}

// ListSyncTargets pages through profiles whose order has a vendor order
// number, ordered by profile id.
func (r *ProfileRepository) ListSyncTargets(ctx context.Context, afterID uint64, limit int32) ([]entity.SyncTarget, error) {
	query := `SELECT ` + profileColumns + `, o.vendor_order_number
		FROM esim_profiles p
		INNER JOIN orders o ON o.id = p.order_id
		WHERE p.id > ? AND o.vendor_order_number IS NOT NULL AND o.vendor_order_number <> ''
		ORDER BY p.id ASC
		LIMIT ?
	`

	rows, err := r.db.QueryContext(ctx, query, afterID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	targets := make([]entity.SyncTarget, 0)
	for rows.Next() {
		profile := &entity.EsimProfile{}
		var vendorOrderNumber string
		if err := scanProfileWith(rows, profile, &vendorOrderNumber); err != nil {
			return nil, err
		}
		targets = append(targets, entity.SyncTarget{Profile: profile, VendorOrderNumber: vendorOrderNumber})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return targets, nil
}

// ListWithTransactionNo pages through profiles that can be usage-queried.
func (r *ProfileRepository) ListWithTransactionNo(ctx context.Context, afterID uint64, limit int32) ([]*entity.EsimProfile, error) {
	query := `SELECT ` + profileColumns + `
		FROM esim_profiles p
		WHERE p.id > ? AND p.vendor_transaction_no <> ''
		ORDER BY p.id ASC
		LIMIT ?
	`

	rows, err := r.db.QueryContext(ctx, query, afterID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	profiles := make([]*entity.EsimProfile, 0)
	for rows.Next() {
		profile := &entity.EsimProfile{}
		if err := scanProfile(rows, profile); err != nil {
			return nil, err
		}
		profiles = append(profiles, profile)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return profiles, nil
}

func scanProfile(scan rowScanner, profile *entity.EsimProfile) error {
	return scanProfileWith(scan, profile)
}

func scanProfileWith(scan rowScanner, profile *entity.EsimProfile, extra ...interface{}) error {
	var totalVolume sql.NullInt64
	var usedBytes sql.NullInt64
	var expiresAt sql.NullTime
	var lastSyncedAt sql.NullTime

	dest := []interface{}{
		&profile.ID,
		&profile.OrderID,
		&profile.ICCID,
		&profile.ActivationCode,
		&profile.QRCodeURL,
		&profile.VendorTransactionNo,
		&profile.Status,
		&totalVolume,
		&usedBytes,
		&expiresAt,
		&lastSyncedAt,
		&profile.CreatedAt,
		&profile.UpdatedAt,
	}
	if err := scan.Scan(append(dest, extra...)...); err != nil {
		return err
	}

	profile.TotalVolumeBytes = int64PtrFromNull(totalVolume)
	profile.UsedBytes = int64PtrFromNull(usedBytes)
	profile.ExpiresAt = timePtrFromNull(expiresAt)
	profile.LastSyncedAt = timePtrFromNull(lastSyncedAt)
	return nil
}
