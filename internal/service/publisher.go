package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/iliyamo/sportsbook/internal/logger"
	"github.com/iliyamo/sportsbook/internal/queue"
)

// EventPublisher publishes domain events.  Handlers treat publishing as
// best effort: a failure is logged and never fails the request.
type EventPublisher interface {
	Publish(ctx context.Context, ev queue.Event) error
}

// Publisher publishes events to a durable topic exchange over one
// long-lived channel.  A broken connection is redialled on the next
// publish.
type Publisher struct {
	url      string
	exchange string
	log      *slog.Logger

	mu   sync.Mutex
	conn *amqp.Connection
	ch   *amqp.Channel
}

// NewPublisher dials the broker and declares the exchange.
func NewPublisher(url, exchange string, log *slog.Logger) (*Publisher, error) {
	p := &Publisher{url: url, exchange: exchange, log: log}
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.connect(); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *Publisher) connect() error {
	const op = "service.Publisher.connect"
	if p.conn != nil {
		_ = p.conn.Close()
		p.conn = nil
	}
	conn, err := amqp.Dial(p.url)
	if err != nil {
		return fmt.Errorf("%s: dial rabbitmq: %w", op, err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return fmt.Errorf("%s: open channel: %w", op, err)
	}
	if err := ch.ExchangeDeclare(p.exchange, "topic", true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return fmt.Errorf("%s: declare exchange: %w", op, err)
	}
	p.conn, p.ch = conn, ch
	return nil
}

// Publish sends ev as persistent JSON with its key as routing key.
func (p *Publisher) Publish(ctx context.Context, ev queue.Event) error {
	const op = "service.Publisher.Publish"
	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	msg := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    ev.ID,
		Timestamp:    time.Now().UTC(),
		Type:         ev.Key,
		Body:         body,
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ch == nil || p.ch.IsClosed() {
		if err := p.connect(); err != nil {
			return err
		}
	}
	if err := p.ch.PublishWithContext(ctx, p.exchange, ev.Key, false, false, msg); err != nil {
		_ = p.ch.Close()
		p.ch = nil
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// Close releases the channel and connection.
func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ch != nil {
		_ = p.ch.Close()
	}
	if p.conn != nil {
		return p.conn.Close()
	}
	return nil
}

// LogPublisher only logs events.  It stands in when no broker is reachable.
type LogPublisher struct {
	Log *slog.Logger
}

func (p LogPublisher) Publish(_ context.Context, ev queue.Event) error {
	p.Log.Info("event not published: no broker", slog.String("key", ev.Key), slog.String("event_id", ev.ID))
	return nil
}

// PublishBestEffort publishes ev and logs instead of returning failures.
func PublishBestEffort(ctx context.Context, pub EventPublisher, log *slog.Logger, ev queue.Event) {
	if pub == nil {
		return
	}
	if err := pub.Publish(ctx, ev); err != nil {
		log.Warn("publish event failed", slog.String("key", ev.Key), logger.Err(err))
	}
}
