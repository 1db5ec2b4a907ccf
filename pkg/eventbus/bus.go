package eventbus

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/director74/sagacore/pkg/sagametrics"
)

// Bus is the Event Bus (EB): topic-addressed, append-only streams with
// at-least-once delivery and per-consumer-group offsets backed by durable
// queues. Ordering is guaranteed per aggregateId because aggregateId is
// always used as the routing key within a topic's exchange.
type Bus struct {
	t       *transport
	backoff []time.Duration
	metrics *sagametrics.Collector
}

// New dials the broker and declares the fixed set of topic exchanges.
func New(cfg Config, backoff []time.Duration, metrics *sagametrics.Collector) (*Bus, error) {
	t, err := newTransport(cfg)
	if err != nil {
		return nil, err
	}

	b := &Bus{t: t, backoff: backoff, metrics: metrics}
	for _, topic := range []Topic{TopicSagas, TopicOrders, TopicPayments, TopicInventory, TopicCarts, TopicBusiness} {
		if err := t.declareExchange(exchangeFor(topic)); err != nil {
			return nil, fmt.Errorf("declare exchange for %s: %w", topic, err)
		}
	}

	return b, nil
}

func (b *Bus) Close() error {
	return b.t.Close()
}

// NewEnvelope stamps a fresh, globally unique eventId and the current
// timestamp onto a business event.
func NewEnvelope(eventType, aggregateID, aggregateType string, version int, data map[string]interface{}, meta Metadata) Envelope {
	return Envelope{
		EventID:       uuid.NewString(),
		EventType:     eventType,
		AggregateID:   aggregateID,
		AggregateType: aggregateType,
		Timestamp:     time.Now().UTC(),
		Version:       version,
		Data:          data,
		Metadata:      meta,
	}
}

// Publish durably appends env to the topic its eventType routes to,
// partitioned by aggregateId so per-aggregate ordering holds. Duplicate
// publishes (same eventId) are tolerated by design; consumers dedupe.
func (b *Bus) Publish(env Envelope) error {
	topic := TopicFor(env.EventType)
	body, err := marshal(env)
	if err != nil {
		return fmt.Errorf("marshal envelope %s: %w", env.EventID, err)
	}

	if err := b.t.publishWithRetry(exchangeFor(topic), env.AggregateID, body, b.backoff); err != nil {
		return err
	}

	return nil
}

// Subscribe binds a durable queue named for (topic, consumerGroup) and
// starts delivering envelopes to handler. Redelivery on handler error gives
// at-least-once semantics; handlers must tolerate duplicate eventIds.
func (b *Bus) Subscribe(topic Topic, consumerGroup string, handler func(Envelope) error) error {
	queueName := fmt.Sprintf("%s.%s", string(topic), consumerGroup)

	if _, err := b.t.declareQueue(queueName); err != nil {
		return fmt.Errorf("declare queue %s: %w", queueName, err)
	}
	if err := b.t.bindQueue(queueName, exchangeFor(topic), "#"); err != nil {
		return fmt.Errorf("bind queue %s: %w", queueName, err)
	}

	return b.t.consume(queueName, consumerGroup, func(body []byte) error {
		var env Envelope
		if err := json.Unmarshal(body, &env); err != nil {
			return fmt.Errorf("unmarshal envelope: %w", err)
		}
		return handler(env)
	})
}
