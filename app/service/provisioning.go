package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/sirupsen/logrus"
	"github.com/vibast-solutions/ms-go-esim/app/entity"
	"github.com/vibast-solutions/ms-go-esim/app/factory"
	"github.com/vibast-solutions/ms-go-esim/app/lease"
	"github.com/vibast-solutions/ms-go-esim/app/metrics"
	"github.com/vibast-solutions/ms-go-esim/app/payment"
	"github.com/vibast-solutions/ms-go-esim/app/repository"
	"github.com/vibast-solutions/ms-go-esim/app/vendor"
	"github.com/vibast-solutions/ms-go-esim/config"
)

const (
	defaultListLimit    = int32(100)
	defaultPollAttempts = 10
	defaultPollInterval = 3 * time.Second
	defaultLeaseTTL     = 5 * time.Minute
	eventListLimit      = int32(200)
	usageListLimit      = int32(50)
)

// ProvisioningService drives orders from paid to provisioned and runs the
// reconciliation sweeps over the same state machine.
type ProvisioningService struct {
	orders        orderRepository
	profiles      profileRepository
	usage         usageRepository
	events        orderEventRepository
	notifications notificationRepository

	vendor          vendor.Client
	leaser          lease.Leaser
	gate            readyNotifier
	cfg             config.ProvisioningConfig
	catchUpLimit    int32
	priceMultiplier int64
	metrics         *metrics.Metrics
	logger          logrus.FieldLogger

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
	spawn func(fn func())
	wg    sync.WaitGroup
}

func NewProvisioningService(
	repos Repositories,
	vendorClient vendor.Client,
	leaser lease.Leaser,
	gate readyNotifier,
	cfg config.ProvisioningConfig,
	notificationsCfg config.NotificationsConfig,
	priceMultiplier int64,
	m *metrics.Metrics,
) *ProvisioningService {
	if cfg.PollAttempts <= 0 {
		cfg.PollAttempts = defaultPollAttempts
	}
	if cfg.PollInterval < 0 {
		cfg.PollInterval = defaultPollInterval
	}
	if cfg.LeaseTTL <= 0 {
		cfg.LeaseTTL = defaultLeaseTTL
	}
	if cfg.RetryBatchSize <= 0 {
		cfg.RetryBatchSize = 10
	}
	if cfg.SyncPageSize <= 0 {
		cfg.SyncPageSize = 100
	}
	if cfg.UsageChunkSize <= 0 {
		cfg.UsageChunkSize = 50
	}
	if priceMultiplier <= 0 {
		priceMultiplier = vendor.DefaultPriceMultiplier
	}
	catchUpLimit := notificationsCfg.BatchSize
	if catchUpLimit <= 0 {
		catchUpLimit = 50
	}

	s := &ProvisioningService{
		orders:          repos.Orders,
		profiles:        repos.Profiles,
		usage:           repos.Usage,
		events:          repos.Events,
		notifications:   repos.Notifications,
		vendor:          vendorClient,
		leaser:          leaser,
		gate:            gate,
		cfg:             cfg,
		catchUpLimit:    catchUpLimit,
		priceMultiplier: priceMultiplier,
		metrics:         m,
		logger:          factory.NewModuleLogger("provisioning-service"),
		now:             time.Now,
		sleep:           sleepContext,
	}
	s.spawn = func(fn func()) {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			fn()
		}()
	}
	return s
}

// Wait blocks until background provisioning started by HandlePaymentSucceeded finishes.
func (s *ProvisioningService) Wait() {
	s.wg.Wait()
}

// HandlePaymentSucceeded records the order for a successful payment and starts
// provisioning in the background. A repeated payment reference returns the
// existing order. Errors are returned only for invalid input or when the order
// cannot be stored; provisioning failures end up in the order status instead.
func (s *ProvisioningService) HandlePaymentSucceeded(ctx context.Context, evt *payment.Succeeded) (*entity.Order, error) {
	if evt == nil {
		return nil, ErrInvalidRequest
	}
	reference := strings.TrimSpace(evt.PaymentReference)
	planCode := strings.TrimSpace(evt.PlanCode)
	currency := strings.ToUpper(strings.TrimSpace(evt.Currency))
	if reference == "" || planCode == "" || currency == "" || evt.AmountCents <= 0 {
		return nil, ErrInvalidRequest
	}

	existing, err := s.orders.FindByPaymentReference(ctx, reference)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		s.startIfPaid(ctx, existing)
		return existing, nil
	}

	now := s.now().UTC()
	order := &entity.Order{
		PaymentReference: reference,
		UserRef:          strings.TrimSpace(evt.UserRef),
		CustomerEmail:    strings.TrimSpace(evt.CustomerEmail),
		CustomerName:     strings.TrimSpace(evt.CustomerName),
		PlanCode:         planCode,
		AmountCents:      evt.AmountCents,
		Currency:         currency,
		Status:           entity.OrderStatusPaid,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := s.orders.Create(ctx, order); err != nil {
		if errors.Is(err, repository.ErrOrderAlreadyExists) {
			existing, findErr := s.orders.FindByPaymentReference(ctx, reference)
			if findErr != nil {
				return nil, findErr
			}
			if existing != nil {
				return existing, nil
			}
		}
		return nil, err
	}

	s.metrics.OrderTransition(string(entity.OrderStatusPaid))
	s.recordEvent(ctx, order.ID, entity.OrderEventCreated, nil, entity.OrderStatusPaid, "payment "+reference)
	s.startIfPaid(ctx, order)

	return order, nil
}

func (s *ProvisioningService) startIfPaid(ctx context.Context, order *entity.Order) {
	if order.Status != entity.OrderStatusPaid {
		return
	}
	orderID := order.ID
	detached := context.WithoutCancel(ctx)
	s.spawn(func() {
		if _, err := s.runLeased(detached, orderID); err != nil && !errors.Is(err, ErrProvisioningInProgress) {
			s.logger.WithError(err).WithField("order_id", orderID).Warn("background provisioning did not run")
		}
	})
}

// Provision runs one provisioning attempt for an order synchronously. It is the
// operator trigger behind "provision now".
func (s *ProvisioningService) Provision(ctx context.Context, orderID uint64) (*entity.Order, error) {
	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order == nil {
		return nil, ErrOrderNotFound
	}
	if order.Status.IsTerminal() {
		return order, nil
	}

	if _, err := s.runLeased(ctx, orderID); err != nil {
		return nil, err
	}

	order, err = s.orders.FindByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order == nil {
		return nil, ErrOrderNotFound
	}
	return order, nil
}

// runLeased provisions one order while holding its provisioning lease. The
// order is re-read under the lease so stale batch snapshots never re-enter a
// provisioned order. The attempt ignores cancellation of ctx: once started it
// always records an outcome.
func (s *ProvisioningService) runLeased(ctx context.Context, orderID uint64) (status entity.OrderStatus, err error) {
	ctx = context.WithoutCancel(ctx)
	release, err := s.leaser.Acquire(ctx, lease.ProvisionKey(orderID), s.cfg.LeaseTTL)
	switch {
	case errors.Is(err, lease.ErrLeaseHeld):
		return "", ErrProvisioningInProgress
	case err != nil:
		s.logger.WithError(err).WithField("order_id", orderID).Warn("lease unavailable, provisioning without it")
		release = func(context.Context) {}
	}
	defer release(ctx)

	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return "", err
	}
	if order == nil {
		return "", ErrOrderNotFound
	}
	if order.Status.IsTerminal() {
		return order.Status, nil
	}

	defer func() {
		if r := recover(); r != nil {
			s.logger.WithField("order_id", orderID).WithField("panic", r).Error("provisioning attempt panicked")
			status = s.failAfterPanic(ctx, order, r)
			err = nil
		}
	}()

	return s.provisionOrder(ctx, order), nil
}

// provisionOrder runs the state machine once. It never returns an error: every
// failure lands the order in a sweep-eligible status.
func (s *ProvisioningService) provisionOrder(ctx context.Context, order *entity.Order) entity.OrderStatus {
	logger := s.logger.WithFields(logrus.Fields{
		"order_id":     order.ID,
		"order_status": order.Status,
	})

	if err := s.orders.IncrementProvisionAttempts(ctx, order.ID, s.now().UTC()); err != nil {
		logger.WithError(err).Warn("failed to increment provision attempts")
	}
	s.recordEvent(ctx, order.ID, entity.OrderEventProvisioningAttempted, nil, order.Status, "")

	vendorOrderNumber := ""
	if order.VendorOrderNumber != nil {
		vendorOrderNumber = strings.TrimSpace(*order.VendorOrderNumber)
	}

	if vendorOrderNumber == "" {
		number, failStatus, detail := s.placeVendorOrder(ctx, order)
		if failStatus != "" {
			logger.WithField("detail", detail).Warn("vendor order placement did not produce a reference")
			s.transition(ctx, order, failStatus, detail)
			return order.Status
		}

		stored, err := s.orders.SetVendorOrderNumber(ctx, order.ID, number, s.now().UTC())
		if err != nil {
			logger.WithError(err).Error("failed to persist vendor order number")
			s.transition(ctx, order, entity.OrderStatusProvisioningRequestFailed, "persist vendor order number: "+err.Error())
			return order.Status
		}
		if !stored {
			current, err := s.orders.FindByID(ctx, order.ID)
			if err != nil || current == nil {
				logger.WithError(err).Warn("vendor order number was not stored and order could not be reloaded")
				return order.Status
			}
			if current.Status.IsTerminal() || current.VendorOrderNumber == nil {
				return current.Status
			}
			logger.WithField("vendor_order_number", *current.VendorOrderNumber).Warn("order already carries a different vendor order number")
			order = current
			number = *current.VendorOrderNumber
		} else {
			old := order.Status
			order.VendorOrderNumber = &number
			order.Status = entity.OrderStatusProvisioningRequested
			s.metrics.OrderTransition(string(order.Status))
			s.recordEvent(ctx, order.ID, entity.OrderEventVendorOrderPlaced, &old, order.Status, number)
		}
		vendorOrderNumber = number
	} else if order.Status != entity.OrderStatusProvisioningRequested {
		// resume at polling; the stored reference is never re-placed
		s.transition(ctx, order, entity.OrderStatusProvisioningRequested, "")
	}

	profiles := s.pollProfiles(ctx, vendorOrderNumber)
	if len(profiles) == 0 {
		s.transition(ctx, order, entity.OrderStatusProfilePending,
			fmt.Sprintf("no profile for vendor order %s after %d attempts", vendorOrderNumber, s.cfg.PollAttempts))
		return order.Status
	}

	primary := profiles[0]
	stored, err := s.profiles.Upsert(ctx, profileFromVendor(order.ID, primary), s.now().UTC())
	if err != nil {
		logger.WithError(err).Error("failed to store esim profile")
		s.transition(ctx, order, entity.OrderStatusProfilePending, "store profile: "+err.Error())
		return order.Status
	}
	s.recordEvent(ctx, order.ID, entity.OrderEventProfileStored, nil, order.Status, stored.ICCID)

	old := order.Status
	changed, err := s.orders.MarkProvisioned(ctx, order.ID, s.now().UTC())
	if err != nil {
		// the stored profile is re-upserted by the retry
		logger.WithError(err).Error("failed to mark order provisioned")
		s.transition(ctx, order, entity.OrderStatusProfilePending, "mark provisioned: "+err.Error())
		return order.Status
	}
	order.Status = entity.OrderStatusProvisioned
	if changed {
		s.metrics.OrderTransition(string(order.Status))
		s.recordEvent(ctx, order.ID, entity.OrderEventStatusChanged, &old, order.Status, "")
		logger.WithField("iccid", stored.ICCID).Info("order provisioned")
	}

	s.afterProvisioned(ctx, order)
	return order.Status
}

func (s *ProvisioningService) placeVendorOrder(ctx context.Context, order *entity.Order) (string, entity.OrderStatus, string) {
	units, err := vendor.ToVendorUnits(order.AmountCents, s.priceMultiplier)
	if err != nil {
		return "", entity.OrderStatusProvisioningRequestFailed, err.Error()
	}

	result, err := s.vendor.PlaceOrder(ctx, &vendor.OrderRequest{
		TransactionID: s.TransactionID(order.ID),
		Packages: []vendor.PackageItem{{
			PackageCode: order.PlanCode,
			Quantity:    1,
			Price:       units,
		}},
		TotalAmount: units,
	})
	s.metrics.VendorCall("place_order", err)
	if err != nil {
		return "", entity.OrderStatusProvisioningRequestFailed, truncate(err.Error(), 1024)
	}

	number := ""
	if result != nil {
		number = strings.TrimSpace(result.VendorOrderNumber)
	}
	if number == "" {
		return "", entity.OrderStatusProvisioningNoReference, "vendor accepted order without an order number"
	}
	return number, "", ""
}

// TransactionID is the deterministic vendor transaction id for an order. Every
// retry reuses it.
func (s *ProvisioningService) TransactionID(orderID uint64) string {
	return fmt.Sprintf("%s%d", s.cfg.TransactionIDPrefix, orderID)
}

func (s *ProvisioningService) pollProfiles(ctx context.Context, vendorOrderNumber string) []vendor.Profile {
	for attempt := 1; attempt <= s.cfg.PollAttempts; attempt++ {
		profiles, err := s.vendor.QueryProfiles(ctx, vendorOrderNumber, 1)
		s.metrics.VendorCall("query_profiles", err)
		if err == nil && len(profiles) > 0 {
			return profiles
		}
		if err != nil {
			s.logger.WithError(err).WithFields(logrus.Fields{
				"vendor_order_number": vendorOrderNumber,
				"attempt":             attempt,
			}).Debug("profile poll failed")
		}
		if attempt == s.cfg.PollAttempts {
			break
		}
		if err := s.sleep(ctx, s.cfg.PollInterval); err != nil {
			return nil
		}
	}
	return nil
}

// afterProvisioned queues the outbound notifications and gives the ready email
// an immediate best-effort attempt. The outbox worker and the catch-up pass
// cover anything this misses.
func (s *ProvisioningService) afterProvisioned(ctx context.Context, order *entity.Order) {
	now := s.now().UTC()
	for _, kind := range []entity.NotificationKind{
		entity.NotificationKindEsimReadyEmail,
		entity.NotificationKindOrderProvisionedEvent,
	} {
		if _, err := s.notifications.Enqueue(ctx, order.ID, kind, now); err != nil {
			s.logger.WithError(err).WithFields(logrus.Fields{
				"order_id": order.ID,
				"kind":     kind,
			}).Warn("failed to enqueue notification")
		}
	}

	if s.gate == nil {
		return
	}
	outcome, err := s.gate.DeliverReady(ctx, order.ID)
	entry := s.logger.WithFields(logrus.Fields{
		"order_id": order.ID,
		"outcome":  outcome,
	})
	if err != nil {
		entry.WithError(err).Info("ready email deferred to notification worker")
		return
	}
	entry.Debug("ready email handled inline")
}

func (s *ProvisioningService) transition(ctx context.Context, order *entity.Order, status entity.OrderStatus, detail string) {
	var lastError *string
	if detail != "" {
		trimmed := truncate(detail, 1024)
		lastError = &trimmed
	}

	changed, err := s.orders.UpdateStatus(ctx, order.ID, status, lastError, s.now().UTC())
	if err != nil {
		s.logger.WithError(err).WithFields(logrus.Fields{
			"order_id": order.ID,
			"status":   status,
		}).Error("failed to update order status")
		return
	}
	if !changed {
		return
	}

	old := order.Status
	order.Status = status
	order.LastError = lastError
	s.metrics.OrderTransition(string(status))
	if old != status {
		s.recordEvent(ctx, order.ID, entity.OrderEventStatusChanged, &old, status, detail)
	}
}

func (s *ProvisioningService) failAfterPanic(ctx context.Context, order *entity.Order, recovered interface{}) entity.OrderStatus {
	status := entity.OrderStatusProvisioningRequestFailed
	if order.VendorOrderNumber != nil && strings.TrimSpace(*order.VendorOrderNumber) != "" {
		status = entity.OrderStatusProfilePending
	}
	s.transition(ctx, order, status, fmt.Sprintf("panic: %v", recovered))
	return order.Status
}

func (s *ProvisioningService) recordEvent(ctx context.Context, orderID uint64, eventType string, oldStatus *entity.OrderStatus, newStatus entity.OrderStatus, detail string) {
	var detailPtr *string
	if detail != "" {
		trimmed := truncate(detail, 1024)
		detailPtr = &trimmed
	}
	if err := s.events.Create(ctx, &entity.OrderEvent{
		OrderID:   orderID,
		EventType: eventType,
		OldStatus: oldStatus,
		NewStatus: newStatus,
		Detail:    detailPtr,
		CreatedAt: s.now().UTC(),
	}); err != nil {
		s.logger.WithError(err).WithField("order_id", orderID).Warn("failed to record order event")
	}
}

type OrderDetails struct {
	Order         *entity.Order
	Profile       *entity.EsimProfile
	Events        []*entity.OrderEvent
	Notifications []*entity.Notification
	Usage         []*entity.UsageRecord
}

func (s *ProvisioningService) GetOrder(ctx context.Context, id uint64) (*entity.Order, error) {
	order, err := s.orders.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if order == nil {
		return nil, ErrOrderNotFound
	}
	return order, nil
}

func (s *ProvisioningService) GetOrderDetails(ctx context.Context, id uint64) (*OrderDetails, error) {
	order, err := s.GetOrder(ctx, id)
	if err != nil {
		return nil, err
	}

	details := &OrderDetails{Order: order}
	if details.Profile, err = s.profiles.FindByOrderID(ctx, id); err != nil {
		return nil, err
	}
	if details.Events, err = s.events.ListByOrder(ctx, id, eventListLimit); err != nil {
		return nil, err
	}
	if details.Notifications, err = s.notifications.ListByOrder(ctx, id); err != nil {
		return nil, err
	}
	if details.Profile != nil {
		if details.Usage, err = s.usage.ListByProfile(ctx, details.Profile.ID, usageListLimit); err != nil {
			return nil, err
		}
	}
	return details, nil
}

func (s *ProvisioningService) ListOrders(ctx context.Context, filter repository.OrderFilter) ([]*entity.Order, error) {
	if filter.Status != "" && !filter.Status.Valid() {
		return nil, ErrInvalidRequest
	}
	if filter.Limit <= 0 || filter.Limit > defaultListLimit {
		filter.Limit = defaultListLimit
	}
	if filter.Offset < 0 {
		filter.Offset = 0
	}
	return s.orders.List(ctx, filter)
}

func profileFromVendor(orderID uint64, p vendor.Profile) *entity.EsimProfile {
	return &entity.EsimProfile{
		OrderID:             orderID,
		ICCID:               p.ICCID,
		ActivationCode:      p.ActivationCode,
		QRCodeURL:           p.QRCodeURL,
		VendorTransactionNo: p.VendorTransactionNo,
		Status:              p.Status,
		TotalVolumeBytes:    p.TotalVolumeBytes,
		ExpiresAt:           p.ExpiresAt,
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// truncate caps value at max bytes without splitting a multi-byte character.
func truncate(value string, max int) string {
	if len(value) <= max {
		return value
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(value[cut]) {
		cut--
	}
	return value[:cut]
}
