package payment

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"strconv"
	"strings"
	"time"
)

const ProviderStripe = "stripe"

var (
	ErrWebhookNotConfigured = errors.New("stripe webhook secret is not configured")
	ErrInvalidSignature     = errors.New("invalid stripe signature")
)

// Event is a verified webhook. Succeeded is nil for event types that do not
// represent a completed payment.
type Event struct {
	ProviderEventID string
	EventType       string
	Succeeded       *Succeeded
}

// Succeeded is the opaque "payment succeeded" signal that starts provisioning.
type Succeeded struct {
	PaymentReference string
	PlanCode         string
	UserRef          string
	CustomerEmail    string
	CustomerName     string
	AmountCents      int64
	Currency         string
}

type StripeConfig struct {
	WebhookSecret             string
	SignatureToleranceSeconds int64
}

type StripeVerifier struct {
	cfg StripeConfig
	now func() time.Time
}

func NewStripeVerifier(cfg StripeConfig) *StripeVerifier {
	if cfg.SignatureToleranceSeconds <= 0 {
		cfg.SignatureToleranceSeconds = 300
	}
	return &StripeVerifier{cfg: cfg, now: time.Now}
}

func (v *StripeVerifier) VerifyAndParse(payload []byte, signature string) (*Event, error) {
	if strings.TrimSpace(v.cfg.WebhookSecret) == "" {
		return nil, ErrWebhookNotConfigured
	}
	if !verifyStripeSignature(payload, signature, v.cfg.WebhookSecret, v.cfg.SignatureToleranceSeconds, v.now()) {
		return nil, ErrInvalidSignature
	}

	var event struct {
		ID   string `json:"id"`
		Type string `json:"type"`
		Data struct {
			Object json.RawMessage `json:"object"`
		} `json:"data"`
	}
	if err := json.Unmarshal(payload, &event); err != nil {
		return nil, err
	}

	result := &Event{
		ProviderEventID: strings.TrimSpace(event.ID),
		EventType:       event.Type,
	}

	switch event.Type {
	case "checkout.session.completed", "checkout.session.async_payment_succeeded":
		result.Succeeded = parseCheckoutSession(event.Data.Object)
	case "payment_intent.succeeded":
		result.Succeeded = parsePaymentIntent(event.Data.Object)
	}

	return result, nil
}

type orderMetadata struct {
	PlanCode string `json:"plan_code"`
	UserRef  string `json:"user_ref"`
	Email    string `json:"email"`
	Name     string `json:"name"`
}

func parseCheckoutSession(payload json.RawMessage) *Succeeded {
	var object struct {
		ID                string        `json:"id"`
		PaymentIntent     interface{}   `json:"payment_intent"`
		PaymentStatus     string        `json:"payment_status"`
		AmountTotal       int64         `json:"amount_total"`
		Currency          string        `json:"currency"`
		ClientReferenceID string        `json:"client_reference_id"`
		Metadata          orderMetadata `json:"metadata"`
		CustomerDetails   struct {
			Email string `json:"email"`
			Name  string `json:"name"`
		} `json:"customer_details"`
	}
	if json.Unmarshal(payload, &object) != nil {
		return nil
	}
	if object.PaymentStatus != "" && object.PaymentStatus != "paid" && object.PaymentStatus != "no_payment_required" {
		return nil
	}

	reference := parseStringish(object.PaymentIntent)
	if reference == "" {
		reference = strings.TrimSpace(object.ID)
	}
	userRef := firstNonEmpty(object.Metadata.UserRef, object.ClientReferenceID)

	return &Succeeded{
		PaymentReference: reference,
		PlanCode:         strings.TrimSpace(object.Metadata.PlanCode),
		UserRef:          userRef,
		CustomerEmail:    firstNonEmpty(object.Metadata.Email, object.CustomerDetails.Email),
		CustomerName:     firstNonEmpty(object.Metadata.Name, object.CustomerDetails.Name),
		AmountCents:      object.AmountTotal,
		Currency:         strings.ToUpper(strings.TrimSpace(object.Currency)),
	}
}

func parsePaymentIntent(payload json.RawMessage) *Succeeded {
	var object struct {
		ID             string        `json:"id"`
		AmountReceived int64         `json:"amount_received"`
		Currency       string        `json:"currency"`
		ReceiptEmail   string        `json:"receipt_email"`
		Metadata       orderMetadata `json:"metadata"`
	}
	if json.Unmarshal(payload, &object) != nil {
		return nil
	}

	return &Succeeded{
		PaymentReference: strings.TrimSpace(object.ID),
		PlanCode:         strings.TrimSpace(object.Metadata.PlanCode),
		UserRef:          strings.TrimSpace(object.Metadata.UserRef),
		CustomerEmail:    firstNonEmpty(object.Metadata.Email, object.ReceiptEmail),
		CustomerName:     strings.TrimSpace(object.Metadata.Name),
		AmountCents:      object.AmountReceived,
		Currency:         strings.ToUpper(strings.TrimSpace(object.Currency)),
	}
}

func verifyStripeSignature(payload []byte, signatureHeader string, webhookSecret string, toleranceSeconds int64, now time.Time) bool {
	signatureHeader = strings.TrimSpace(signatureHeader)
	if signatureHeader == "" || strings.TrimSpace(webhookSecret) == "" {
		return false
	}

	parts := strings.Split(signatureHeader, ",")
	var ts string
	v1 := make([]string, 0, 1)
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if strings.HasPrefix(part, "t=") {
			ts = strings.TrimSpace(strings.TrimPrefix(part, "t="))
		}
		if strings.HasPrefix(part, "v1=") {
			v1 = append(v1, strings.TrimSpace(strings.TrimPrefix(part, "v1=")))
		}
	}
	if ts == "" || len(v1) == 0 {
		return false
	}

	tsUnix, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return false
	}
	nowUnix := now.Unix()
	if nowUnix-tsUnix > toleranceSeconds || tsUnix-nowUnix > toleranceSeconds {
		return false
	}

	signedPayload := []byte(ts + "." + string(payload))
	mac := hmac.New(sha256.New, []byte(webhookSecret))
	_, _ = mac.Write(signedPayload)
	expected := mac.Sum(nil)

	for _, sig := range v1 {
		candidate, err := hex.DecodeString(sig)
		if err != nil {
			continue
		}
		if hmac.Equal(candidate, expected) {
			return true
		}
	}

	return false
}

func parseStringish(v interface{}) string {
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t)
	case map[string]interface{}:
		if raw, ok := t["id"]; ok {
			if s, ok := raw.(string); ok {
				return strings.TrimSpace(s)
			}
		}
	}
	return ""
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if s := strings.TrimSpace(v); s != "" {
			return s
		}
	}
	return ""
}
