package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/vibast-solutions/ms-go-esim/app/entity"
	"github.com/vibast-solutions/ms-go-esim/app/factory"
	"github.com/vibast-solutions/ms-go-esim/app/metrics"
	"github.com/vibast-solutions/ms-go-esim/app/repository"
	"github.com/vibast-solutions/ms-go-esim/app/vendor"
)

type TopUpService struct {
	topUps   topUpRepository
	orders   orderRepository
	profiles profileRepository
	events   orderEventRepository
	vendor   vendor.Client
	prefix   string
	metrics  *metrics.Metrics
	logger   logrus.FieldLogger
	now      func() time.Time
}

func NewTopUpService(
	topUps topUpRepository,
	orders orderRepository,
	profiles profileRepository,
	events orderEventRepository,
	vendorClient vendor.Client,
	transactionIDPrefix string,
	m *metrics.Metrics,
) *TopUpService {
	return &TopUpService{
		topUps:   topUps,
		orders:   orders,
		profiles: profiles,
		events:   events,
		vendor:   vendorClient,
		prefix:   transactionIDPrefix,
		metrics:  m,
		logger:   factory.NewModuleLogger("top-up-service"),
		now:      time.Now,
	}
}

// RequestTopUp recharges the profile of a provisioned order. The payment
// reference makes the call idempotent: a repeat returns the stored top-up
// without calling the vendor again.
func (s *TopUpService) RequestTopUp(ctx context.Context, orderID uint64, packageCode, paymentReference string) (*entity.TopUp, error) {
	packageCode = strings.TrimSpace(packageCode)
	paymentReference = strings.TrimSpace(paymentReference)
	if orderID == 0 || packageCode == "" || paymentReference == "" {
		return nil, ErrInvalidRequest
	}

	existing, err := s.topUps.FindByPaymentReference(ctx, paymentReference)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		if existing.OrderID != orderID {
			return nil, ErrInvalidRequest
		}
		return existing, nil
	}

	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order == nil {
		return nil, ErrOrderNotFound
	}
	if order.Status != entity.OrderStatusProvisioned {
		return nil, ErrOrderNotProvisioned
	}

	profile, err := s.profiles.FindByOrderID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if profile == nil || profile.VendorTransactionNo == "" {
		return nil, ErrProfileMissing
	}

	now := s.now().UTC()
	topUp := &entity.TopUp{
		OrderID:          order.ID,
		ProfileID:        profile.ID,
		PackageCode:      packageCode,
		PaymentReference: paymentReference,
		TransactionID:    fmt.Sprintf("%stopup_%s", s.prefix, paymentReference),
		Status:           entity.TopUpStatusRequested,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := s.topUps.Create(ctx, topUp); err != nil {
		if errors.Is(err, repository.ErrTopUpAlreadyExists) {
			return s.topUps.FindByPaymentReference(ctx, paymentReference)
		}
		return nil, err
	}

	result, vendorErr := s.vendor.TopUp(ctx, &vendor.TopUpRequest{
		VendorTransactionNo: profile.VendorTransactionNo,
		PackageCode:         packageCode,
		TransactionID:       topUp.TransactionID,
	})
	s.metrics.VendorCall("top_up", vendorErr)

	topUp.UpdatedAt = s.now().UTC()
	detail := packageCode
	if vendorErr != nil {
		msg := truncate(vendorErr.Error(), 1024)
		topUp.Status = entity.TopUpStatusFailed
		topUp.LastError = &msg
		detail = packageCode + ": " + msg
	} else {
		topUp.Status = entity.TopUpStatusAccepted
		if result != nil && strings.TrimSpace(result.RechargeOrderNumber) != "" {
			number := strings.TrimSpace(result.RechargeOrderNumber)
			topUp.RechargeOrderNumber = &number
		}
	}

	if err := s.topUps.Update(ctx, topUp); err != nil {
		return nil, err
	}

	if err := s.events.Create(ctx, &entity.OrderEvent{
		OrderID:   order.ID,
		EventType: entity.OrderEventTopUpRequested,
		NewStatus: order.Status,
		Detail:    &detail,
		CreatedAt: topUp.UpdatedAt,
	}); err != nil {
		s.logger.WithError(err).WithField("order_id", order.ID).Warn("failed to record top-up event")
	}

	if vendorErr != nil {
		s.logger.WithError(vendorErr).WithField("order_id", order.ID).Warn("vendor rejected top-up")
		return topUp, fmt.Errorf("%w: %v", ErrTopUpRejected, vendorErr)
	}
	return topUp, nil
}

func (s *TopUpService) ListTopUps(ctx context.Context, orderID uint64) ([]*entity.TopUp, error) {
	return s.topUps.ListByOrder(ctx, orderID)
}
