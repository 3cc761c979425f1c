package entity

import "time"

const (
	OrderEventCreated               = "order_created"
	OrderEventStatusChanged         = "status_changed"
	OrderEventVendorOrderPlaced     = "vendor_order_placed"
	OrderEventProfileStored         = "profile_stored"
	OrderEventReceiptSent           = "receipt_sent"
	OrderEventReceiptResent         = "receipt_resent"
	OrderEventReceiptFailed         = "receipt_failed"
	OrderEventTopUpRequested        = "top_up_requested"
	OrderEventProvisioningAttempted = "provisioning_attempted"
)

type OrderEvent struct {
	ID uint64

	OrderID uint64

	EventType string

	OldStatus *OrderStatus
	NewStatus OrderStatus

	Detail *string

	CreatedAt time.Time
}
