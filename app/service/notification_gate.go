package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/vibast-solutions/ms-go-esim/app/entity"
	"github.com/vibast-solutions/ms-go-esim/app/factory"
	"github.com/vibast-solutions/ms-go-esim/app/lease"
	"github.com/vibast-solutions/ms-go-esim/app/mailer"
	"github.com/vibast-solutions/ms-go-esim/app/metrics"
)

type Outcome string

const (
	OutcomeSent    Outcome = "sent"
	OutcomeMock    Outcome = "mock"
	OutcomeSkipped Outcome = "skipped"
	OutcomeFailed  Outcome = "failed"
)

type readyNotifier interface {
	DeliverReady(ctx context.Context, orderID uint64) (Outcome, error)
}

// NotificationGate sends the eSIM-ready email at most once per order. The
// persisted receipt_sent flag is the only source of truth, re-read under a
// per-order lease right before each send.
type NotificationGate struct {
	orders     orderRepository
	profiles   profileRepository
	events     orderEventRepository
	sender     mailer.Sender
	settings   settingsProvider
	leaser     lease.Leaser
	leaseTTL   time.Duration
	templateID string
	metrics    *metrics.Metrics
	logger     logrus.FieldLogger
	now        func() time.Time
}

func NewNotificationGate(
	orders orderRepository,
	profiles profileRepository,
	events orderEventRepository,
	sender mailer.Sender,
	settingsSource settingsProvider,
	leaser lease.Leaser,
	leaseTTL time.Duration,
	templateID string,
	m *metrics.Metrics,
) *NotificationGate {
	if leaseTTL <= 0 {
		leaseTTL = time.Minute
	}
	return &NotificationGate{
		orders:     orders,
		profiles:   profiles,
		events:     events,
		sender:     sender,
		settings:   settingsSource,
		leaser:     leaser,
		leaseTTL:   leaseTTL,
		templateID: templateID,
		metrics:    m,
		logger:     factory.NewModuleLogger("notification-gate"),
		now:        time.Now,
	}
}

// DeliverReady sends the ready email unless the order's flag says it was
// already sent.
func (g *NotificationGate) DeliverReady(ctx context.Context, orderID uint64) (Outcome, error) {
	release, err := g.leaser.Acquire(ctx, lease.NotifyKey(orderID), g.leaseTTL)
	if err != nil {
		if errors.Is(err, lease.ErrLeaseHeld) {
			return OutcomeSkipped, ErrNotificationInProgress
		}
		return OutcomeFailed, err
	}
	defer release(context.WithoutCancel(ctx))

	order, err := g.orders.FindByID(ctx, orderID)
	if err != nil {
		return OutcomeFailed, err
	}
	if order == nil {
		return OutcomeFailed, ErrOrderNotFound
	}
	if order.ReceiptSent {
		g.metrics.Notification(string(entity.NotificationKindEsimReadyEmail), string(OutcomeSkipped))
		return OutcomeSkipped, nil
	}

	profile, err := g.profiles.FindByOrderID(ctx, orderID)
	if err != nil {
		return OutcomeFailed, err
	}
	if profile == nil {
		return OutcomeSkipped, ErrProfileMissing
	}

	return g.send(ctx, order, profile, false)
}

// ResendReadyEmail is the operator override: it ignores the flag.
func (g *NotificationGate) ResendReadyEmail(ctx context.Context, orderID uint64) (Outcome, error) {
	release, err := g.leaser.Acquire(ctx, lease.NotifyKey(orderID), g.leaseTTL)
	if err != nil {
		if errors.Is(err, lease.ErrLeaseHeld) {
			return OutcomeSkipped, ErrNotificationInProgress
		}
		return OutcomeFailed, err
	}
	defer release(context.WithoutCancel(ctx))

	order, err := g.orders.FindByID(ctx, orderID)
	if err != nil {
		return OutcomeFailed, err
	}
	if order == nil {
		return OutcomeFailed, ErrOrderNotFound
	}

	profile, err := g.profiles.FindByOrderID(ctx, orderID)
	if err != nil {
		return OutcomeFailed, err
	}
	if profile == nil {
		return OutcomeFailed, ErrProfileMissing
	}

	return g.send(ctx, order, profile, true)
}

func (g *NotificationGate) send(ctx context.Context, order *entity.Order, profile *entity.EsimProfile, resend bool) (Outcome, error) {
	logger := g.logger.WithFields(logrus.Fields{
		"order_id": order.ID,
		"resend":   resend,
	})
	kind := string(entity.NotificationKindEsimReadyEmail)

	snapshot := g.settings.Current()
	outcome := OutcomeSent
	switch {
	case !snapshot.EmailEnabled:
		outcome = OutcomeMock
		logger.Info("email disabled, acknowledging ready email without sending")
	case snapshot.MockMode:
		outcome = OutcomeMock
		logger.Info("mock mode, acknowledging ready email without sending")
	default:
		if err := g.sender.SendTemplate(ctx, g.readyMessage(order, profile, resend)); err != nil {
			g.metrics.Notification(kind, string(OutcomeFailed))
			g.recordEvent(ctx, order, entity.OrderEventReceiptFailed, truncate(err.Error(), 1024))
			logger.WithError(err).Warn("ready email delivery failed")
			return OutcomeFailed, fmt.Errorf("%w: %v", ErrNotificationFailed, err)
		}
	}

	marked, err := g.orders.MarkReceiptSent(ctx, order.ID, g.now().UTC())
	if err != nil {
		g.metrics.Notification(kind, string(outcome))
		logger.WithError(err).Error("ready email sent but receipt flag was not persisted")
		return outcome, err
	}

	eventType := entity.OrderEventReceiptSent
	if resend {
		eventType = entity.OrderEventReceiptResent
	}
	if marked || resend {
		g.recordEvent(ctx, order, eventType, string(outcome))
	}

	g.metrics.Notification(kind, string(outcome))
	logger.WithField("outcome", outcome).Info("ready email handled")
	return outcome, nil
}

func (g *NotificationGate) readyMessage(order *entity.Order, profile *entity.EsimProfile, resend bool) mailer.Message {
	msg := mailer.Message{
		To:         order.CustomerEmail,
		ToName:     order.CustomerName,
		TemplateID: g.templateID,
		Variables: map[string]string{
			"order_id":          strconv.FormatUint(order.ID, 10),
			"plan_code":         order.PlanCode,
			"amount_cents":      strconv.FormatInt(order.AmountCents, 10),
			"currency":          order.Currency,
			"payment_reference": order.PaymentReference,
			"iccid":             profile.ICCID,
			"activation_code":   profile.ActivationCode,
			"qr_code_url":       profile.QRCodeURL,
		},
	}
	if !resend {
		msg.IdempotencyKey = fmt.Sprintf("order-%d-%s", order.ID, entity.NotificationKindEsimReadyEmail)
	}
	if profile.ExpiresAt != nil {
		msg.Variables["expires_at"] = profile.ExpiresAt.UTC().Format(time.RFC3339)
	}
	return msg
}

func (g *NotificationGate) recordEvent(ctx context.Context, order *entity.Order, eventType, detail string) {
	var detailPtr *string
	if detail != "" {
		detailPtr = &detail
	}
	if err := g.events.Create(ctx, &entity.OrderEvent{
		OrderID:   order.ID,
		EventType: eventType,
		NewStatus: order.Status,
		Detail:    detailPtr,
		CreatedAt: g.now().UTC(),
	}); err != nil {
		g.logger.WithError(err).WithField("order_id", order.ID).Warn("failed to record order event")
	}
}
