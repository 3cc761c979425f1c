package entity

import "time"

const (
	TopUpStatusRequested int32 = 1
	TopUpStatusAccepted  int32 = 10
	TopUpStatusFailed    int32 = 20
)

type TopUp struct {
	ID uint64

	OrderID   uint64
	ProfileID uint64

	PackageCode         string
	PaymentReference    string
	TransactionID       string
	RechargeOrderNumber *string
	Status              int32
	LastError           *string

	CreatedAt time.Time
	UpdatedAt time.Time
}
