package events

import (
	"context"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
)

const EventOrderProvisioned = "esim.order.provisioned"

type Publisher interface {
	Publish(ctx context.Context, eventType string, payload []byte, partitionKey string) error
	Close() error
}

// OrderProvisioned is the payload of EventOrderProvisioned.
type OrderProvisioned struct {
	OrderID             uint64    `json:"order_id"`
	PaymentReference    string    `json:"payment_reference"`
	UserRef             string    `json:"user_ref"`
	PlanCode            string    `json:"plan_code"`
	VendorOrderNumber   string    `json:"vendor_order_number"`
	ICCID               string    `json:"iccid"`
	VendorTransactionNo string    `json:"vendor_transaction_no"`
	ProvisionedAt       time.Time `json:"provisioned_at"`
}

type KafkaPublisher struct {
	writer       *kafka.Writer
	topicByEvent map[string]string
	timeout      time.Duration
}

func NewKafkaPublisher(brokers []string, topicByEvent map[string]string, timeout time.Duration) (*KafkaPublisher, error) {
	if len(brokers) == 0 {
		return nil, fmt.Errorf("kafka publisher requires at least one broker")
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &KafkaPublisher{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			RequiredAcks: kafka.RequireAll,
			Balancer:     &kafka.Hash{},
			WriteTimeout: timeout,
		},
		topicByEvent: topicByEvent,
		timeout:      timeout,
	}, nil
}

func (p *KafkaPublisher) Publish(ctx context.Context, eventType string, payload []byte, partitionKey string) error {
	topic := eventType
	if mapped, ok := p.topicByEvent[eventType]; ok && mapped != "" {
		topic = mapped
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	return p.writer.WriteMessages(ctx, kafka.Message{
		Topic: topic,
		Key:   []byte(partitionKey),
		Value: payload,
		Time:  time.Now().UTC(),
	})
}

func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

// NoopPublisher accepts and discards every event.
type NoopPublisher struct{}

func (NoopPublisher) Publish(context.Context, string, []byte, string) error { return nil }

func (NoopPublisher) Close() error { return nil }
