package service

import (
	"context"
	"time"

	"github.com/vibast-solutions/ms-go-esim/app/entity"
	"github.com/vibast-solutions/ms-go-esim/app/repository"
	"github.com/vibast-solutions/ms-go-esim/app/settings"
)

type orderRepository interface {
	Create(ctx context.Context, order *entity.Order) error
	FindByID(ctx context.Context, id uint64) (*entity.Order, error)
	FindByPaymentReference(ctx context.Context, paymentReference string) (*entity.Order, error)
	List(ctx context.Context, filter repository.OrderFilter) ([]*entity.Order, error)
	ListRetryable(ctx context.Context, staleBefore time.Time, limit int32) ([]*entity.Order, error)
	ListAwaitingReceipt(ctx context.Context, afterID uint64, limit int32) ([]*entity.Order, error)
	UpdateStatus(ctx context.Context, id uint64, status entity.OrderStatus, lastError *string, now time.Time) (bool, error)
	MarkProvisioned(ctx context.Context, id uint64, now time.Time) (bool, error)
	SetVendorOrderNumber(ctx context.Context, id uint64, vendorOrderNumber string, now time.Time) (bool, error)
	IncrementProvisionAttempts(ctx context.Context, id uint64, now time.Time) error
	MarkReceiptSent(ctx context.Context, id uint64, now time.Time) (bool, error)
}

type profileRepository interface {
	FindByOrderID(ctx context.Context, orderID uint64) (*entity.EsimProfile, error)
	Upsert(ctx context.Context, profile *entity.EsimProfile, now time.Time) (*entity.EsimProfile, error)
	ApplySync(ctx context.Context, profileID uint64, update entity.ProfileUpdate, now time.Time) error
	ListSyncTargets(ctx context.Context, afterID uint64, limit int32) ([]entity.SyncTarget, error)
	ListWithTransactionNo(ctx context.Context, afterID uint64, limit int32) ([]*entity.EsimProfile, error)
}

type usageRepository interface {
	RecordIfChanged(ctx context.Context, profileID uint64, usedBytes int64, totalBytes *int64, now time.Time) (bool, error)
	ListByProfile(ctx context.Context, profileID uint64, limit int32) ([]*entity.UsageRecord, error)
}

type orderEventRepository interface {
	Create(ctx context.Context, event *entity.OrderEvent) error
	ListByOrder(ctx context.Context, orderID uint64, limit int32) ([]*entity.OrderEvent, error)
}

type notificationRepository interface {
	Enqueue(ctx context.Context, orderID uint64, kind entity.NotificationKind, now time.Time) (bool, error)
	Update(ctx context.Context, notification *entity.Notification) error
	ListDue(ctx context.Context, now time.Time, limit int32) ([]*entity.Notification, error)
	ListByOrder(ctx context.Context, orderID uint64) ([]*entity.Notification, error)
}

type paymentWebhookRepository interface {
	Create(ctx context.Context, webhook *entity.PaymentWebhook) error
	UpdateOutcome(ctx context.Context, id uint64, orderID *uint64, status int32, errMsg *string, now time.Time) error
}

type topUpRepository interface {
	Create(ctx context.Context, topUp *entity.TopUp) error
	Update(ctx context.Context, topUp *entity.TopUp) error
	FindByPaymentReference(ctx context.Context, paymentReference string) (*entity.TopUp, error)
	ListByOrder(ctx context.Context, orderID uint64) ([]*entity.TopUp, error)
}

type settingsProvider interface {
	Current() settings.Snapshot
}

// Repositories groups the stores the provisioning engine writes to.
type Repositories struct {
	Orders        orderRepository
	Profiles      profileRepository
	Usage         usageRepository
	Events        orderEventRepository
	Notifications notificationRepository
}
