package service

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/vibast-solutions/ms-go-esim/app/entity"
	"github.com/vibast-solutions/ms-go-esim/app/events"
	"github.com/vibast-solutions/ms-go-esim/app/factory"
	"github.com/vibast-solutions/ms-go-esim/app/metrics"
	"github.com/vibast-solutions/ms-go-esim/config"
)

type DispatchReport struct {
	Selected  int
	Delivered int
	Retried   int
	Failed    int
}

// NotificationService drains the notification outbox. Ready emails go through
// the gate; provisioned events go to the event publisher.
type NotificationService struct {
	notifications notificationRepository
	orders        orderRepository
	profiles      profileRepository
	gate          readyNotifier
	publisher     events.Publisher
	cfg           config.NotificationsConfig
	metrics       *metrics.Metrics
	logger        logrus.FieldLogger
	now           func() time.Time
}

func NewNotificationService(
	notifications notificationRepository,
	orders orderRepository,
	profiles profileRepository,
	gate readyNotifier,
	publisher events.Publisher,
	cfg config.NotificationsConfig,
	m *metrics.Metrics,
) *NotificationService {
	if publisher == nil {
		publisher = events.NoopPublisher{}
	}
	return &NotificationService{
		notifications: notifications,
		orders:        orders,
		profiles:      profiles,
		gate:          gate,
		publisher:     publisher,
		cfg:           cfg,
		metrics:       m,
		logger:        factory.NewModuleLogger("notification-service"),
		now:           time.Now,
	}
}

func (s *NotificationService) RunDispatchNotificationsBatch(ctx context.Context) (DispatchReport, error) {
	var report DispatchReport

	now := s.now().UTC()
	items, err := s.notifications.ListDue(ctx, now, s.batchSize())
	if err != nil {
		return report, err
	}
	report.Selected = len(items)

	var firstErr error
	for _, item := range items {
		if item == nil {
			continue
		}

		deliverErr := s.deliver(ctx, item)
		if deliverErr == nil {
			if err := s.markDelivered(ctx, item); err != nil {
				firstErr = keepFirstErr(firstErr, err)
				continue
			}
			report.Delivered++
			continue
		}

		s.logger.WithError(deliverErr).WithFields(logrus.Fields{
			"order_id": item.OrderID,
			"kind":     item.Kind,
			"attempt":  item.Attempts + 1,
		}).Warn("notification delivery failed")

		if err := s.recordDispatchFailure(ctx, item, deliverErr); err != nil {
			firstErr = keepFirstErr(firstErr, err)
			continue
		}
		if item.Status == entity.NotificationStatusFailed {
			report.Failed++
		} else {
			report.Retried++
		}
	}

	return report, firstErr
}

func (s *NotificationService) deliver(ctx context.Context, item *entity.Notification) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("notification delivery panicked: %v", r)
		}
	}()

	switch item.Kind {
	case entity.NotificationKindEsimReadyEmail:
		outcome, err := s.gate.DeliverReady(ctx, item.OrderID)
		if err != nil {
			return err
		}
		if outcome == OutcomeFailed {
			return ErrNotificationFailed
		}
		return nil
	case entity.NotificationKindOrderProvisionedEvent:
		return s.publishProvisioned(ctx, item.OrderID)
	default:
		return fmt.Errorf("%w: %s", ErrUnknownNotificationKind, item.Kind)
	}
}

func (s *NotificationService) publishProvisioned(ctx context.Context, orderID uint64) error {
	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return err
	}
	if order == nil {
		return ErrOrderNotFound
	}
	if order.Status != entity.OrderStatusProvisioned {
		return ErrOrderNotProvisioned
	}

	profile, err := s.profiles.FindByOrderID(ctx, orderID)
	if err != nil {
		return err
	}
	if profile == nil {
		return ErrProfileMissing
	}

	payload := events.OrderProvisioned{
		OrderID:             order.ID,
		PaymentReference:    order.PaymentReference,
		UserRef:             order.UserRef,
		PlanCode:            order.PlanCode,
		ICCID:               profile.ICCID,
		VendorTransactionNo: profile.VendorTransactionNo,
		ProvisionedAt:       order.UpdatedAt.UTC(),
	}
	if order.VendorOrderNumber != nil {
		payload.VendorOrderNumber = *order.VendorOrderNumber
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	err = s.publisher.Publish(ctx, events.EventOrderProvisioned, body, strconv.FormatUint(order.ID, 10))
	outcome := "published"
	if err != nil {
		outcome = "failed"
	}
	s.metrics.Notification(string(entity.NotificationKindOrderProvisionedEvent), outcome)
	return err
}

func (s *NotificationService) markDelivered(ctx context.Context, item *entity.Notification) error {
	item.Status = entity.NotificationStatusDelivered
	item.Attempts++
	item.NextAt = nil
	item.LastError = nil
	item.UpdatedAt = s.now().UTC()
	return s.notifications.Update(ctx, item)
}

func (s *NotificationService) recordDispatchFailure(ctx context.Context, item *entity.Notification, dispatchErr error) error {
	now := s.now().UTC()
	item.Attempts++
	trimmed := truncate(dispatchErr.Error(), 1024)
	item.LastError = &trimmed

	maxAttempts := s.cfg.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 1
	}

	if item.Attempts >= maxAttempts {
		item.Status = entity.NotificationStatusFailed
		item.NextAt = nil
	} else {
		retryInterval := s.cfg.RetryInterval
		if retryInterval <= 0 {
			retryInterval = 5 * time.Minute
		}
		next := now.Add(retryInterval)
		item.Status = entity.NotificationStatusPending
		item.NextAt = &next
	}
	item.UpdatedAt = now

	return s.notifications.Update(ctx, item)
}

func (s *NotificationService) batchSize() int32 {
	if s.cfg.BatchSize <= 0 {
		return 50
	}
	return s.cfg.BatchSize
}
