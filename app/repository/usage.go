package repository

import (
	"context"
	"time"

	"github.com/vibast-solutions/ms-go-esim/app/entity"
)

type UsageRepository struct {
	db TxBeginner
}

func NewUsageRepository(db TxBeginner) *UsageRepository {
	return &UsageRepository{db: db}
}

// RecordIfChanged stores usedBytes on the profile and appends a history row,
// both in one transaction, but only when the value differs from the stored one.
// It reports whether a history row was appended.
func (r *UsageRepository) RecordIfChanged(ctx context.Context, profileID uint64, usedBytes int64, totalBytes *int64, now time.Time) (bool, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer func() {
		_ = tx.Rollback()
	}()

	result, err := tx.ExecContext(ctx, `
		UPDATE esim_profiles
		SET used_bytes = ?, total_volume_bytes = COALESCE(?, total_volume_bytes), updated_at = ?
		WHERE id = ? AND (used_bytes IS NULL OR used_bytes <> ?)
	`, usedBytes, nullableInt64Value(totalBytes), now, profileID, usedBytes)
	if err != nil {
		return false, err
	}

	changed, err := affectedOne(result)
	if err != nil {
		return false, err
	}
	if !changed {
		return false, tx.Commit()
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO usage_history (profile_id, used_bytes, recorded_at)
		VALUES (?, ?, ?)
	`, profileID, usedBytes, now); err != nil {
		return false, err
	}

	if err := tx.Commit(); err != nil {
		return false, err
	}
	return true, nil
}

func (r *UsageRepository) ListByProfile(ctx context.Context, profileID uint64, limit int32) ([]*entity.UsageRecord, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, profile_id, used_bytes, recorded_at
		FROM usage_history
		WHERE profile_id = ?
		ORDER BY recorded_at DESC, id DESC
		LIMIT ?
	`, profileID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	records := make([]*entity.UsageRecord, 0)
	for rows.Next() {
		record := &entity.UsageRecord{}
		if err := rows.Scan(&record.ID, &record.ProfileID, &record.UsedBytes, &record.RecordedAt); err != nil {
			return nil, err
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return records, nil
}
