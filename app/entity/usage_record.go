package entity

import "time"

type UsageRecord struct {
	ID        uint64
	ProfileID uint64
	UsedBytes int64

	RecordedAt time.Time
}
