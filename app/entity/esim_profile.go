package entity

import "time"

type EsimProfile struct {
	ID      uint64
	OrderID uint64

	ICCID               string
	ActivationCode      string
	QRCodeURL           string
	VendorTransactionNo string
	Status              string

	TotalVolumeBytes *int64
	UsedBytes        *int64
	ExpiresAt        *time.Time

	LastSyncedAt *time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// ProfileUpdate carries only the fields a vendor response actually contained.
// Nil fields are left untouched by the store.
type ProfileUpdate struct {
	ICCID               *string
	ActivationCode      *string
	QRCodeURL           *string
	VendorTransactionNo *string
	Status              *string
	TotalVolumeBytes    *int64
	ExpiresAt           *time.Time
}

func (u ProfileUpdate) Empty() bool {
	return u.ICCID == nil &&
		u.ActivationCode == nil &&
		u.QRCodeURL == nil &&
		u.VendorTransactionNo == nil &&
		u.Status == nil &&
		u.TotalVolumeBytes == nil &&
		u.ExpiresAt == nil
}

// SyncTarget is a profile joined with the vendor order number of its order.
type SyncTarget struct {
	Profile           *EsimProfile
	VendorOrderNumber string
}
