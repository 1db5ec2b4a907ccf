package eventbus

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/director74/sagacore/pkg/sagalog"
)

// Config holds the AMQP broker connection settings.
type Config struct {
	Host     string
	Port     string
	User     string
	Password string
	VHost    string
}

// transport is the thin AMQP client the Bus drives. It mirrors the
// reconnect-before-operation discipline used across the platform: every
// call checks the connection is live before touching the channel.
type transport struct {
	config     Config
	connection *amqp.Connection
	channel    *amqp.Channel
}

func newTransport(cfg Config) (*transport, error) {
	t := &transport{config: cfg}
	if err := t.connect(); err != nil {
		return nil, err
	}
	return t, nil
}

func (t *transport) connect() error {
	connStr := fmt.Sprintf("amqp://%s:%s@%s:%s/%s",
		t.config.User, t.config.Password, t.config.Host, t.config.Port, t.config.VHost)

	conn, err := amqp.Dial(connStr)
	if err != nil {
		return fmt.Errorf("failed to connect to event bus broker: %w", err)
	}
	t.connection = conn

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return fmt.Errorf("failed to open channel: %w", err)
	}
	t.channel = ch

	return nil
}

func (t *transport) reconnect() error {
	if t.connection != nil && !t.connection.IsClosed() {
		return nil
	}
	sagalog.Warnf("event bus connection lost, reconnecting")
	return t.connect()
}

func (t *transport) Close() error {
	if t.channel != nil {
		if err := t.channel.Close(); err != nil {
			return fmt.Errorf("failed to close channel: %w", err)
		}
	}
	if t.connection != nil {
		if err := t.connection.Close(); err != nil {
			return fmt.Errorf("failed to close connection: %w", err)
		}
	}
	return nil
}

func (t *transport) declareExchange(name string) error {
	if err := t.reconnect(); err != nil {
		return fmt.Errorf("reconnect before declaring exchange: %w", err)
	}
	return t.channel.ExchangeDeclare(name, "topic", true, false, false, false, nil)
}

func (t *transport) declareQueue(name string) (amqp.Queue, error) {
	if err := t.reconnect(); err != nil {
		return amqp.Queue{}, fmt.Errorf("reconnect before declaring queue: %w", err)
	}
	return t.channel.QueueDeclare(name, true, false, false, false, nil)
}

func (t *transport) bindQueue(queueName, exchangeName, routingKey string) error {
	if err := t.reconnect(); err != nil {
		return fmt.Errorf("reconnect before binding queue: %w", err)
	}
	return t.channel.QueueBind(queueName, routingKey, exchangeName, false, nil)
}

func (t *transport) publish(exchange, routingKey string, body []byte) error {
	if err := t.reconnect(); err != nil {
		return fmt.Errorf("reconnect before publish: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	return t.channel.PublishWithContext(
		ctx,
		exchange,
		routingKey,
		false,
		false,
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			Body:         body,
		},
	)
}

func (t *transport) publishWithRetry(exchange, routingKey string, body []byte, backoff []time.Duration) error {
	var err error
	for attempt := 0; attempt <= len(backoff); attempt++ {
		if err = t.publish(exchange, routingKey, body); err == nil {
			return nil
		}
		sagalog.Warnf("event bus publish failed (attempt %d/%d): %v", attempt+1, len(backoff)+1, err)
		if attempt < len(backoff) {
			time.Sleep(backoff[attempt])
		}
	}
	return fmt.Errorf("publish failed after %d attempts: %w", len(backoff)+1, err)
}

// consume starts delivering messages from queueName to handler, committing
// the consumer offset (acking the delivery) only after handler succeeds. A
// handler error leaves the message unacked so it is redelivered, giving the
// bus its at-least-once guarantee.
func (t *transport) consume(queueName, consumerName string, handler func([]byte) error) error {
	if err := t.reconnect(); err != nil {
		return fmt.Errorf("reconnect before consume: %w", err)
	}

	msgs, err := t.channel.Consume(queueName, consumerName, false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("failed to start consuming %s: %w", queueName, err)
	}

	go func() {
		for msg := range msgs {
			if err := handler(msg.Body); err != nil {
				sagalog.Errorf("event bus handler error on %s: %v", queueName, err)
				msg.Nack(false, true)
				continue
			}
			msg.Ack(false)
		}
	}()

	return nil
}

func marshal(v interface{}) ([]byte, error) {
	return json.Marshal(v)
}
