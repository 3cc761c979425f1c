package mailer

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/vibast-solutions/ms-go-esim/app/factory"
)

var ErrDeliveryFailed = errors.New("email delivery failed")

// Message is a template send. Rendering happens on the provider side.
type Message struct {
	To         string
	ToName     string
	TemplateID string
	Variables  map[string]string
	// IdempotencyKey lets the provider drop duplicate submissions of the same message.
	IdempotencyKey string
}

type Sender interface {
	SendTemplate(ctx context.Context, msg Message) error
}

type HTTPConfig struct {
	BaseURL     string
	APIKey      string
	From        string
	HTTPTimeout time.Duration
}

type HTTPSender struct {
	cfg    HTTPConfig
	client *http.Client
}

func NewHTTPSender(cfg HTTPConfig) *HTTPSender {
	timeout := cfg.HTTPTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	cfg.BaseURL = strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	return &HTTPSender{cfg: cfg, client: &http.Client{Timeout: timeout}}
}

func (s *HTTPSender) SendTemplate(ctx context.Context, msg Message) error {
	if strings.TrimSpace(msg.To) == "" {
		return fmt.Errorf("%w: recipient is required", ErrDeliveryFailed)
	}

	body, err := json.Marshal(map[string]interface{}{
		"from":        s.cfg.From,
		"to":          []map[string]string{{"email": msg.To, "name": msg.ToName}},
		"template_id": msg.TemplateID,
		"variables":   msg.Variables,
	})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cfg.BaseURL+"/v1/messages", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+s.cfg.APIKey)
	if msg.IdempotencyKey != "" {
		req.Header.Set("Idempotency-Key", msg.IdempotencyKey)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDeliveryFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%w: status=%d body=%s", ErrDeliveryFailed, resp.StatusCode, strings.TrimSpace(string(raw)))
	}
	return nil
}

// NoOpSender logs instead of sending. Used when no provider is configured.
type NoOpSender struct {
	logger logrus.FieldLogger
}

func NewNoOpSender() *NoOpSender {
	return &NoOpSender{logger: factory.NewModuleLogger("mailer-noop")}
}

func (s *NoOpSender) SendTemplate(_ context.Context, msg Message) error {
	s.logger.WithFields(logrus.Fields{
		"to":       msg.To,
		"template": msg.TemplateID,
	}).Info("email provider not configured, dropping message")
	return nil
}
