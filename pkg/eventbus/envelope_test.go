package eventbus

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTopicFor(t *testing.T) {
	cases := []struct {
		eventType string
		want      Topic
	}{
		{"SagaStarted", TopicSagas},
		{"sagaStepCompleted", TopicSagas},
		{"OrderCreatedEvent", TopicOrders},
		{"OrderConfirmedEvent", TopicOrders},
		{"PaymentProcessedEvent", TopicPayments},
		{"StockReservedEvent", TopicInventory},
		{"InventoryAdjustedEvent", TopicInventory},
		{"CartAbandonedEvent", TopicCarts},
		{"NotificationSentEvent", TopicBusiness},
		{"SomethingElseEntirely", TopicBusiness},
	}

	for _, tc := range cases {
		t.Run(tc.eventType, func(t *testing.T) {
			assert.Equal(t, tc.want, TopicFor(tc.eventType))
		})
	}
}

func TestExchangeFor(t *testing.T) {
	assert.Equal(t, "orders_events_exchange", exchangeFor(TopicOrders))
	assert.Equal(t, "sagas_events_exchange", exchangeFor(TopicSagas))
}

func TestNewEnvelope_StampsIDAndTimestamp(t *testing.T) {
	env := NewEnvelope("OrderCreatedEvent", "order-1", "Order", 1, map[string]interface{}{"foo": "bar"}, Metadata{CorrelationID: "corr-1", SagaID: "saga-1"})

	assert.NotEmpty(t, env.EventID)
	assert.Equal(t, "OrderCreatedEvent", env.EventType)
	assert.Equal(t, "order-1", env.AggregateID)
	assert.Equal(t, "Order", env.AggregateType)
	assert.Equal(t, 1, env.Version)
	assert.False(t, env.Timestamp.IsZero())
	assert.Equal(t, "corr-1", env.Metadata.CorrelationID)
	assert.Equal(t, "saga-1", env.Metadata.SagaID)
}

func TestNewEnvelope_GeneratesDistinctIDs(t *testing.T) {
	a := NewEnvelope("X", "agg-1", "Agg", 1, nil, Metadata{})
	b := NewEnvelope("X", "agg-1", "Agg", 1, nil, Metadata{})
	assert.NotEqual(t, a.EventID, b.EventID)
}
