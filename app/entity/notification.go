package entity

import "time"

type NotificationKind string

const (
	NotificationKindEsimReadyEmail        NotificationKind = "esim_ready_email"
	NotificationKindOrderProvisionedEvent NotificationKind = "order_provisioned_event"
)

const (
	NotificationStatusPending   int32 = 1
	NotificationStatusDelivered int32 = 10
	NotificationStatusFailed    int32 = 20
)

// Notification is an outbox row. (OrderID, Kind) is unique.
type Notification struct {
	ID uint64

	OrderID uint64
	Kind    NotificationKind

	Status    int32
	Attempts  int32
	NextAt    *time.Time
	LastError *string

	CreatedAt time.Time
	UpdatedAt time.Time
}
