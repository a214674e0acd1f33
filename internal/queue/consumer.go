package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/iliyamo/sportsbook/internal/config"
	"github.com/iliyamo/sportsbook/internal/logger"
	"github.com/iliyamo/sportsbook/internal/model"
)

// NotificationStore persists rendered notifications.
type NotificationStore interface {
	CreateMany(ctx context.Context, ns []model.Notification) error
}

// Consumer binds the notification queue to the events exchange and turns
// every delivery into notification rows plus one line in the event log.
type Consumer struct {
	cfg   config.BrokerConfig
	store NotificationStore
	log   *slog.Logger
}

func NewConsumer(cfg config.BrokerConfig, store NotificationStore, log *slog.Logger) *Consumer {
	return &Consumer{cfg: cfg, store: store, log: log.With(slog.String("component", "notify-consumer"))}
}

// Run connects to the broker and consumes until ctx is cancelled.  Broken
// connections are redialled with exponential backoff capped at 30s.
func (c *Consumer) Run(ctx context.Context) error {
	backoff := time.Second
	for {
		conn, err := amqp.Dial(c.cfg.URL)
		if err != nil {
			c.log.Warn("dial broker failed", logger.Err(err), slog.Duration("retry_in", backoff))
			if !sleep(ctx, backoff) {
				return ctx.Err()
			}
			if backoff < 30*time.Second {
				backoff *= 2
			}
			continue
		}
		backoff = time.Second

		err = c.consume(ctx, conn)
		_ = conn.Close()
		if ctx.Err() != nil {
			return ctx.Err()
		}
		c.log.Warn("consume loop ended, reconnecting", logger.Err(err))
		if !sleep(ctx, 2*time.Second) {
			return ctx.Err()
		}
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

func (c *Consumer) consume(ctx context.Context, conn *amqp.Connection) error {
	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("channel open: %w", err)
	}
	defer func() { _ = ch.Close() }()

	if err := ch.Qos(c.cfg.Prefetch, 0, false); err != nil {
		c.log.Warn("set qos failed", logger.Err(err))
	}
	if err := ch.ExchangeDeclare(c.cfg.Exchange, amqp.ExchangeTopic, true, false, false, false, nil); err != nil {
		return fmt.Errorf("exchange declare: %w", err)
	}

	var args amqp.Table
	if c.cfg.DLXExchange != "" {
		if err := ch.ExchangeDeclare(c.cfg.DLXExchange, amqp.ExchangeFanout, true, false, false, false, nil); err != nil {
			return fmt.Errorf("dlx declare: %w", err)
		}
		dead := c.cfg.Queue + ".dead"
		if _, err := ch.QueueDeclare(dead, true, false, false, false, nil); err != nil {
			return fmt.Errorf("dead queue declare: %w", err)
		}
		if err := ch.QueueBind(dead, "", c.cfg.DLXExchange, false, nil); err != nil {
			return fmt.Errorf("dead queue bind: %w", err)
		}
		args = amqp.Table{"x-dead-letter-exchange": c.cfg.DLXExchange}
	}

	q, err := ch.QueueDeclare(c.cfg.Queue, true, false, false, false, args)
	if err != nil {
		return fmt.Errorf("queue declare: %w", err)
	}
	for _, key := range NotificationBindings {
		if err := ch.QueueBind(q.Name, key, c.cfg.Exchange, false, nil); err != nil {
			return fmt.Errorf("queue bind %s: %w", key, err)
		}
	}

	msgs, err := ch.Consume(q.Name, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("queue consume: %w", err)
	}
	c.log.Info("consuming", slog.String("queue", q.Name), slog.Any("bindings", NotificationBindings))

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case d, ok := <-msgs:
			if !ok {
				return errors.New("deliveries channel closed")
			}
			if err := c.Handle(ctx, d.Body); err != nil {
				c.log.Error("handle message failed", slog.String("routing_key", d.RoutingKey), logger.Err(err))
				// rejected without requeue: a poison message would loop forever
				_ = d.Nack(false, false)
				continue
			}
			_ = d.Ack(false)
		}
	}
}

// Handle decodes one event, stores a notification per audience member and
// appends the event to the log file.
func (c *Consumer) Handle(ctx context.Context, body []byte) error {
	var ev Event
	if err := json.Unmarshal(body, &ev); err != nil {
		return fmt.Errorf("unmarshal: %w", err)
	}
	if ev.Key == "" {
		return errors.New("event without routing key")
	}

	if audience := ev.Audience(); len(audience) > 0 {
		title, text := Render(ev)
		ns := make([]model.Notification, 0, len(audience))
		for _, uid := range audience {
			ns = append(ns, model.Notification{UserID: uid, Kind: ev.Key, Title: title, Body: text})
		}
		if err := c.store.CreateMany(ctx, ns); err != nil {
			return fmt.Errorf("store notifications: %w", err)
		}
	}
	return appendLine(c.cfg.EventLog, FormatLine(ev))
}

func appendLine(path, line string) error {
	if path == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("mkdir log dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}
	defer f.Close()
	if _, err := f.WriteString(line); err != nil {
		return fmt.Errorf("write log: %w", err)
	}
	return nil
}

// FormatLine renders ev as a single log line ending in a newline.
func FormatLine(ev Event) string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%s] %s | id=%s | subject_id=%d", ev.OccurredAt.UTC().Format(time.RFC3339), ev.Key, ev.ID, ev.SubjectID)
	if ev.ActorID != 0 {
		fmt.Fprintf(&b, " | actor_id=%d", ev.ActorID)
	}
	ids := make([]string, len(ev.Recipients))
	for i, id := range ev.Recipients {
		ids[i] = strconv.FormatUint(id, 10)
	}
	fmt.Fprintf(&b, " | recipients=[%s]", strings.Join(ids, ","))
	if ev.AmountCents > 0 {
		fmt.Fprintf(&b, " | amount=%s", Money(ev.AmountCents, ev.Currency))
	}
	keys := make([]string, 0, len(ev.Attrs))
	for k := range ev.Attrs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, " | %s=%q", k, ev.Attrs[k])
	}
	b.WriteByte('\n')
	return b.String()
}

// Money formats minor units as "150.00 THB".
func Money(cents uint32, currency string) string {
	return fmt.Sprintf("%d.%02d %s", cents/100, cents%100, strings.ToUpper(currency))
}

// Render produces the notification title and body for an event.
func Render(ev Event) (title, body string) {
	a := func(k string) string { return ev.Attrs[k] }
	switch ev.Key {
	case KeyBookingCreated:
		return "Booking received", fmt.Sprintf("Booking #%d at %s is held until you pay.", ev.SubjectID, a(AttrFacility))
	case KeyBookingConfirmed:
		return "Booking confirmed", fmt.Sprintf("Booking #%d at %s starting %s is confirmed.", ev.SubjectID, a(AttrFacility), a(AttrStartsAt))
	case KeyBookingCancelled:
		return "Booking cancelled", fmt.Sprintf("Booking #%d at %s was cancelled.", ev.SubjectID, a(AttrFacility))
	case KeyPaymentPaid:
		return "Payment received", fmt.Sprintf("We received %s for booking #%d.", Money(ev.AmountCents, ev.Currency), ev.SubjectID)
	case KeyPaymentFailed:
		return "Payment failed", fmt.Sprintf("Payment for booking #%d failed (%s).", ev.SubjectID, a(AttrFailureCode))
	case KeyPaymentRefunded:
		return "Payment refunded", fmt.Sprintf("%s for booking #%d was refunded.", Money(ev.AmountCents, ev.Currency), ev.SubjectID)
	case KeyMatchJoined:
		return "New player", fmt.Sprintf("%s joined %q.", a(AttrPlayer), a(AttrTitle))
	case KeyMatchLeft:
		return "Player left", fmt.Sprintf("%s left %q.", a(AttrPlayer), a(AttrTitle))
	case KeyMatchCancelled:
		return "Match cancelled", fmt.Sprintf("%q was cancelled by the host.", a(AttrTitle))
	case KeyMatchCompleted:
		return "Match result", fmt.Sprintf("Results for %q are in.", a(AttrTitle))
	case KeyChatMessage:
		return "New message from " + a(AttrPlayer), a(AttrPreview)
	default:
		return ev.Key, fmt.Sprintf("Update on #%d.", ev.SubjectID)
	}
}
