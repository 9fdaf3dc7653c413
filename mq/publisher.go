// Package mq publishes committed domain events to a RabbitMQ topic exchange.
package mq

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/carosellagiuliano-max/codeccloud-core/engine"
	"github.com/carosellagiuliano-max/codeccloud-core/log"
	"github.com/carosellagiuliano-max/codeccloud-core/outbox"
)

// ErrPublisherClosed is returned when publishing after Close.
var ErrPublisherClosed = errors.New("mq: publisher is closed")

// Publisher maintains one channel on a durable topic exchange. Outbox event
// types double as routing keys, so consumers bind with patterns like
// "booking.*" or "payments.#".
type Publisher struct {
	mu       sync.Mutex
	conn     *amqp.Connection
	channel  *amqp.Channel
	exchange string
	logger   log.Logger
	closed   bool
}

// NewPublisher dials the broker and declares the exchange.
func NewPublisher(amqpURL, exchange string, logger log.Logger) (*Publisher, error) {
	if strings.TrimSpace(exchange) == "" {
		return nil, fmt.Errorf("mq: exchange name is required")
	}

	if logger == nil {
		logger = log.NewNop()
	}

	conn, err := amqp.Dial(amqpURL)
	if err != nil {
		return nil, fmt.Errorf("dial rabbitmq at %s: %w", redactURL(amqpURL), err)
	}

	channel, err := conn.Channel()
	if err != nil {
		_ = conn.Close()

		return nil, fmt.Errorf("open rabbitmq channel: %w", err)
	}

	if err := channel.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		_ = channel.Close()
		_ = conn.Close()

		return nil, fmt.Errorf("declare exchange %q: %w", exchange, err)
	}

	return &Publisher{
		conn:     conn,
		channel:  channel,
		exchange: exchange,
		logger:   logger,
	}, nil
}

// Publish sends one message under the given routing key, restoring the channel
// once if the broker closed it.
func (publisher *Publisher) Publish(ctx context.Context, routingKey string, body []byte) error {
	publisher.mu.Lock()
	defer publisher.mu.Unlock()

	if publisher.closed {
		return ErrPublisherClosed
	}

	if err := publisher.ensureChannel(); err != nil {
		return err
	}

	message := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Body:         body,
	}

	if err := publisher.channel.PublishWithContext(ctx, publisher.exchange, routingKey, false, false, message); err != nil {
		return fmt.Errorf("publish %q: %w", routingKey, err)
	}

	return nil
}

func (publisher *Publisher) ensureChannel() error {
	if publisher.channel != nil && !publisher.channel.IsClosed() {
		return nil
	}

	if publisher.conn == nil || publisher.conn.IsClosed() {
		return fmt.Errorf("mq: rabbitmq connection is closed")
	}

	channel, err := publisher.conn.Channel()
	if err != nil {
		return fmt.Errorf("reopen rabbitmq channel: %w", err)
	}

	publisher.channel = channel

	return nil
}

// OutboxHandler adapts the publisher into an outbox delivery handler. The
// event type becomes the routing key and the stored payload the message body.
func (publisher *Publisher) OutboxHandler() outbox.EventHandler {
	return func(ctx context.Context, event *engine.OutboxEvent) error {
		if err := publisher.Publish(ctx, event.EventType, event.Payload); err != nil {
			return err
		}

		publisher.logger.Log(
			ctx,
			log.LevelDebug,
			"outbox event published to broker",
			log.String("event_id", event.ID.String()),
			log.String("routing_key", event.EventType),
		)

		return nil
	}
}

// Close shuts the channel and connection down.
func (publisher *Publisher) Close() error {
	publisher.mu.Lock()
	defer publisher.mu.Unlock()

	if publisher.closed {
		return nil
	}

	publisher.closed = true

	var closeErr error

	if publisher.channel != nil {
		if err := publisher.channel.Close(); err != nil {
			closeErr = fmt.Errorf("close rabbitmq channel: %w", err)
		}
	}

	if publisher.conn != nil {
		if err := publisher.conn.Close(); err != nil {
			closeErr = errors.Join(closeErr, fmt.Errorf("close rabbitmq connection: %w", err))
		}
	}

	return closeErr
}

// redactURL strips credentials before an address appears in an error.
func redactURL(raw string) string {
	parsed, err := url.Parse(raw)
	if err != nil {
		return "rabbitmq broker"
	}

	return parsed.Redacted()
}
