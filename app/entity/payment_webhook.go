package entity

import "time"

const (
	PaymentWebhookStatusProcessed int32 = 10
	PaymentWebhookStatusIgnored   int32 = 15
	PaymentWebhookStatusRejected  int32 = 20
)

type PaymentWebhook struct {
	ID uint64

	OrderID *uint64

	Provider        string
	ProviderEventID *string
	EventType       string
	Signature       string
	PayloadJSON     string
	Status          int32
	Error           *string

	CreatedAt time.Time
	UpdatedAt time.Time
}
