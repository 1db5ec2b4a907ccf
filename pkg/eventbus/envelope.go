package eventbus

import (
	"strings"
	"time"
)

// Envelope is the wire format for every event published to the bus. Field
// names are camelCase on the wire to match the other participants in the
// platform.
type Envelope struct {
	EventID       string                 `json:"eventId"`
	EventType     string                 `json:"eventType"`
	AggregateID   string                 `json:"aggregateId"`
	AggregateType string                 `json:"aggregateType"`
	Timestamp     time.Time              `json:"timestamp"`
	Version       int                    `json:"version"`
	Data          map[string]interface{} `json:"data"`
	Metadata      Metadata               `json:"metadata"`
}

// Metadata carries the correlation context that ties an event back to the
// saga (if any) that produced it.
type Metadata struct {
	CorrelationID string `json:"correlationId"`
	SagaID        string `json:"sagaId,omitempty"`
	Step          string `json:"step,omitempty"`
	TotalSteps    int    `json:"totalSteps,omitempty"`
}

// Topic names the logical streams the bus routes envelopes onto.
type Topic string

const (
	TopicSagas     Topic = "sagas.events"
	TopicOrders    Topic = "orders.events"
	TopicPayments  Topic = "payments.events"
	TopicInventory Topic = "inventory.events"
	TopicCarts     Topic = "carts.events"
	TopicBusiness  Topic = "business.events"
)

// TopicFor deterministically routes an eventType to its topic: saga* →
// sagas.events; Order* → orders.events; Payment* → payments.events;
// Stock*/Inventory* → inventory.events; Cart* → carts.events; everything
// else → business.events.
func TopicFor(eventType string) Topic {
	switch {
	case strings.HasPrefix(eventType, "saga") || strings.HasPrefix(eventType, "Saga"):
		return TopicSagas
	case strings.HasPrefix(eventType, "Order"):
		return TopicOrders
	case strings.HasPrefix(eventType, "Payment"):
		return TopicPayments
	case strings.HasPrefix(eventType, "Stock"), strings.HasPrefix(eventType, "Inventory"):
		return TopicInventory
	case strings.HasPrefix(eventType, "Cart"):
		return TopicCarts
	default:
		return TopicBusiness
	}
}

// exchangeFor maps a topic onto the durable topic exchange that backs it.
// Every topic gets its own exchange so a subscriber can bind only the
// streams it cares about instead of filtering a single firehose.
func exchangeFor(topic Topic) string {
	return strings.ReplaceAll(string(topic), ".", "_") + "_exchange"
}
