package events

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewKafkaPublisherRequiresBrokers(t *testing.T) {
	_, err := NewKafkaPublisher(nil, nil, time.Second)
	assert.Error(t, err)
}

func TestNewKafkaPublisherConfiguresWriter(t *testing.T) {
	p, err := NewKafkaPublisher([]string{"localhost:9092"}, map[string]string{EventOrderProvisioned: "orders"}, 0)
	require.NoError(t, err)
	defer p.Close()

	assert.Equal(t, 5*time.Second, p.timeout)
	assert.Equal(t, "orders", p.topicByEvent[EventOrderProvisioned])
}

func TestNoopPublisher(t *testing.T) {
	var p Publisher = NoopPublisher{}
	assert.NoError(t, p.Publish(context.Background(), EventOrderProvisioned, []byte("{}"), "1"))
	assert.NoError(t, p.Close())
}

func TestOrderProvisionedJSON(t *testing.T) {
	raw, err := json.Marshal(OrderProvisioned{OrderID: 9, ICCID: "8999"})
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"order_id":9`)
	assert.Contains(t, string(raw), `"iccid":"8999"`)
}
