package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/vibast-solutions/ms-go-esim/app/entity"
	"github.com/vibast-solutions/ms-go-esim/app/factory"
	"github.com/vibast-solutions/ms-go-esim/app/payment"
	"github.com/vibast-solutions/ms-go-esim/app/repository"
)

type WebhookStatus string

const (
	WebhookProcessed WebhookStatus = "processed"
	WebhookIgnored   WebhookStatus = "ignored"
	WebhookRejected  WebhookStatus = "rejected"
)

type WebhookResult struct {
	Status WebhookStatus
	Order  *entity.Order
}

type webhookVerifier interface {
	VerifyAndParse(payload []byte, signature string) (*payment.Event, error)
}

type paymentSucceededHandler interface {
	HandlePaymentSucceeded(ctx context.Context, evt *payment.Succeeded) (*entity.Order, error)
}

// WebhookService turns verified payment webhooks into orders. Every delivery
// is recorded in payment_webhooks.
type WebhookService struct {
	verifier webhookVerifier
	handler  paymentSucceededHandler
	webhooks paymentWebhookRepository
	logger   logrus.FieldLogger
	now      func() time.Time
}

func NewWebhookService(verifier webhookVerifier, handler paymentSucceededHandler, webhooks paymentWebhookRepository) *WebhookService {
	return &WebhookService{
		verifier: verifier,
		handler:  handler,
		webhooks: webhooks,
		logger:   factory.NewModuleLogger("webhook-service"),
		now:      time.Now,
	}
}

// HandleStripe returns ErrWebhookRejected for unverifiable payloads and a
// plain error only when the order could not be stored, so the processor
// retries exactly the deliveries that can still succeed.
func (s *WebhookService) HandleStripe(ctx context.Context, payload []byte, signature string) (*WebhookResult, error) {
	signature = strings.TrimSpace(signature)
	event, err := s.verifier.VerifyAndParse(payload, signature)
	if err != nil {
		s.persist(ctx, nil, "", "unknown", signature, payload, entity.PaymentWebhookStatusRejected, "verification failed: "+err.Error())
		return nil, ErrWebhookRejected
	}

	if event.Succeeded == nil {
		s.persist(ctx, nil, event.ProviderEventID, event.EventType, signature, payload, entity.PaymentWebhookStatusIgnored, "")
		return &WebhookResult{Status: WebhookIgnored}, nil
	}

	order, err := s.handler.HandlePaymentSucceeded(ctx, event.Succeeded)
	if err != nil {
		if errors.Is(err, ErrInvalidRequest) {
			s.logger.WithField("provider_event_id", event.ProviderEventID).Warn("payment event is missing order data")
			s.persist(ctx, nil, event.ProviderEventID, event.EventType, signature, payload, entity.PaymentWebhookStatusRejected, "missing order data")
			return &WebhookResult{Status: WebhookRejected}, nil
		}
		return nil, err
	}

	orderID := order.ID
	s.persist(ctx, &orderID, event.ProviderEventID, event.EventType, signature, payload, entity.PaymentWebhookStatusProcessed, "")
	return &WebhookResult{Status: WebhookProcessed, Order: order}, nil
}

func (s *WebhookService) persist(
	ctx context.Context,
	orderID *uint64,
	providerEventID string,
	eventType string,
	signature string,
	payload []byte,
	status int32,
	reason string,
) {
	now := s.now().UTC()
	webhook := &entity.PaymentWebhook{
		OrderID:     orderID,
		Provider:    payment.ProviderStripe,
		EventType:   eventType,
		Signature:   truncate(signature, 512),
		PayloadJSON: string(payload),
		Status:      status,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if providerEventID != "" {
		webhook.ProviderEventID = &providerEventID
	}
	if reason != "" {
		trimmed := truncate(reason, 1024)
		webhook.Error = &trimmed
	}

	err := s.webhooks.Create(ctx, webhook)
	if errors.Is(err, repository.ErrWebhookAlreadyExists) {
		return
	}
	if err != nil {
		s.logger.WithError(err).WithField("provider_event_id", providerEventID).Warn("failed to record payment webhook")
	}
}
