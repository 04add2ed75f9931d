package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog/log"
)

const (
	Exchange = "backoffice_events"

	PaymentEventsQueue = "payment_events_queue"
	StockAlertsQueue   = "stock_alerts_queue"

	PaymentRoutingKey = "payment.#"
	StockRoutingKey   = "stock.#"
)

// Publisher fans domain events out over AMQP. A Nop publisher is used
// when no broker is configured, so callers never nil-check.
type Publisher interface {
	Publish(ctx context.Context, routingKey string, event any) error
	Close() error
}

type amqpPublisher struct {
	conn    *amqp.Connection
	channel *amqp.Channel
}

// NewAMQPPublisher connects with retry and declares the event exchange
// plus the queues consumers read from.
func NewAMQPPublisher(url string) (Publisher, error) {
	var conn *amqp.Connection
	var err error
	for i := 0; i < 5; i++ {
		conn, err = amqp.Dial(url)
		if err == nil {
			break
		}
		wait := time.Duration(i*i)*time.Second + time.Second
		log.Warn().Err(err).Dur("retry_in", wait).Msg("notify: broker unreachable, retrying")
		time.Sleep(wait)
	}
	if err != nil {
		return nil, fmt.Errorf("notify: failed to connect to broker: %w", err)
	}

	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("notify: failed to open channel: %w", err)
	}

	if err := channel.ExchangeDeclare(Exchange, "topic", true, false, false, false, nil); err != nil {
		channel.Close()
		conn.Close()
		return nil, fmt.Errorf("notify: failed to declare exchange %s: %w", Exchange, err)
	}

	bindings := []struct{ queue, key string }{
		{PaymentEventsQueue, PaymentRoutingKey},
		{StockAlertsQueue, StockRoutingKey},
	}
	for _, b := range bindings {
		q, err := channel.QueueDeclare(b.queue, true, false, false, false, nil)
		if err != nil {
			channel.Close()
			conn.Close()
			return nil, fmt.Errorf("notify: failed to declare queue %s: %w", b.queue, err)
		}
		if err := channel.QueueBind(q.Name, b.key, Exchange, false, nil); err != nil {
			channel.Close()
			conn.Close()
			return nil, fmt.Errorf("notify: failed to bind queue %s: %w", b.queue, err)
		}
	}

	log.Info().Str("exchange", Exchange).Msg("notify: broker connected")
	return &amqpPublisher{conn: conn, channel: channel}, nil
}

func (p *amqpPublisher) Publish(ctx context.Context, routingKey string, event any) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("notify: failed to marshal event: %w", err)
	}

	err = p.channel.PublishWithContext(ctx, Exchange, routingKey, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now(),
		Body:         body,
	})
	if err != nil {
		return fmt.Errorf("notify: failed to publish %s: %w", routingKey, err)
	}

	log.Debug().Str("routing_key", routingKey).Msg("notify: event published")
	return nil
}

func (p *amqpPublisher) Close() error {
	if p.channel != nil {
		if err := p.channel.Close(); err != nil {
			return err
		}
	}
	if p.conn != nil {
		return p.conn.Close()
	}
	return nil
}

// Nop drops every event. Used when AMQP_URL is unset.
type Nop struct{}

func (Nop) Publish(context.Context, string, any) error { return nil }
func (Nop) Close() error                               { return nil }
