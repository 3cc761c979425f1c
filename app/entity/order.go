package entity

import "time"

type OrderStatus string

const (
	OrderStatusPaid                      OrderStatus = "paid"
	OrderStatusProvisioningRequested     OrderStatus = "provisioning_requested"
	OrderStatusProfilePending            OrderStatus = "profile_pending"
	OrderStatusProvisioned               OrderStatus = "provisioned"
	OrderStatusProvisioningRequestFailed OrderStatus = "provisioning_request_failed"
	OrderStatusProvisioningNoReference   OrderStatus = "provisioning_no_reference"
)

// RetryableOrderStatuses are picked up by the order retry sweep.
var RetryableOrderStatuses = []OrderStatus{
	OrderStatusProvisioningRequestFailed,
	OrderStatusProfilePending,
	OrderStatusProvisioningNoReference,
}

// InFlightOrderStatuses belong to an attempt that is still running. The retry
// sweep only takes them over once they have gone untouched past the lease TTL.
var InFlightOrderStatuses = []OrderStatus{
	OrderStatusPaid,
	OrderStatusProvisioningRequested,
}

func (s OrderStatus) IsRetryable() bool {
	for _, candidate := range RetryableOrderStatuses {
		if s == candidate {
			return true
		}
	}
	return false
}

func (s OrderStatus) IsTerminal() bool {
	return s == OrderStatusProvisioned
}

func (s OrderStatus) Valid() bool {
	switch s {
	case OrderStatusPaid,
		OrderStatusProvisioningRequested,
		OrderStatusProfilePending,
		OrderStatusProvisioned,
		OrderStatusProvisioningRequestFailed,
		OrderStatusProvisioningNoReference:
		return true
	default:
		return false
	}
}

type Order struct {
	ID uint64

	PaymentReference string
	UserRef          string
	CustomerEmail    string
	CustomerName     string

	PlanCode    string
	AmountCents int64
	Currency    string

	Status            OrderStatus
	VendorOrderNumber *string
	ProvisionAttempts int32
	LastError         *string

	ReceiptSent   bool
	ReceiptSentAt *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}
