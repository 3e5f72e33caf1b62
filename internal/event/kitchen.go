package event

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.opentelemetry.io/otel"

	"github.com/utafrali/DinerGo/internal/domain"
)

// DefaultKitchenQueue is the durable queue kitchen displays consume.
const DefaultKitchenQueue = "kitchen.tickets"

// Ticket is what the kitchen needs to prepare and deliver an order.
type Ticket struct {
	OrderID  string       `json:"orderId"`
	Address  string       `json:"address"`
	Lines    []TicketLine `json:"lines"`
	PlacedAt time.Time    `json:"placedAt"`
}

// TicketLine is one dish on a ticket.
type TicketLine struct {
	ItemID string `json:"itemId"`
	Name   string `json:"name"`
	Qty    int    `json:"qty"`
}

// NewTicket builds the kitchen ticket of an order.
func NewTicket(order *domain.Order) Ticket {
	lines := make([]TicketLine, len(order.Lines))
	for i, l := range order.Lines {
		lines[i] = TicketLine{ItemID: l.ItemID, Name: l.Name, Qty: l.Qty}
	}
	return Ticket{OrderID: order.ID, Address: order.Address, Lines: lines, PlacedAt: order.CreatedAt}
}

// amqpChannel is the part of *amqp.Channel the dispatcher uses.
type amqpChannel interface {
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// dialFunc opens a channel on a fresh connection.
type dialFunc func(url string) (amqpChannel, func() error, error)

func dialAMQP(url string) (amqpChannel, func() error, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, nil, fmt.Errorf("dial rabbitmq: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, nil, fmt.Errorf("open rabbitmq channel: %w", err)
	}
	return ch, conn.Close, nil
}

// KitchenDispatcher publishes kitchen tickets to a durable RabbitMQ queue.
// A closed connection is re-dialled on the next dispatch.
type KitchenDispatcher struct {
	url    string
	queue  string
	dial   dialFunc
	logger *slog.Logger

	mu        sync.Mutex
	ch        amqpChannel
	closeConn func() error
}

// NewKitchenDispatcher connects to url and declares queue.
func NewKitchenDispatcher(url, queue string, logger *slog.Logger) (*KitchenDispatcher, error) {
	return newKitchenDispatcher(url, queue, dialAMQP, logger)
}

func newKitchenDispatcher(url, queue string, dial dialFunc, logger *slog.Logger) (*KitchenDispatcher, error) {
	if queue == "" {
		queue = DefaultKitchenQueue
	}
	d := &KitchenDispatcher{url: url, queue: queue, dial: dial, logger: logger}

	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.connectLocked(); err != nil {
		return nil, err
	}
	return d, nil
}

func (d *KitchenDispatcher) connectLocked() error {
	ch, closeConn, err := d.dial(d.url)
	if err != nil {
		return err
	}
	if _, err := ch.QueueDeclare(d.queue, true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = closeConn()
		return fmt.Errorf("declare queue %s: %w", d.queue, err)
	}
	d.ch, d.closeConn = ch, closeConn
	return nil
}

func (d *KitchenDispatcher) resetLocked() {
	if d.ch != nil {
		_ = d.ch.Close()
	}
	if d.closeConn != nil {
		_ = d.closeConn()
	}
	d.ch, d.closeConn = nil, nil
}

// DispatchTicket publishes the order's ticket as a persistent message.
func (d *KitchenDispatcher) DispatchTicket(ctx context.Context, order *domain.Order) error {
	body, err := json.Marshal(NewTicket(order))
	if err != nil {
		return fmt.Errorf("marshal kitchen ticket: %w", err)
	}

	headers := amqp.Table{}
	otel.GetTextMapPropagator().Inject(ctx, tableCarrier(headers))

	msg := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    order.ID,
		Timestamp:    time.Now().UTC(),
		Type:         "kitchen.ticket",
		Headers:      headers,
		Body:         body,
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.ch == nil {
		if err := d.connectLocked(); err != nil {
			return err
		}
	}

	err = d.ch.PublishWithContext(ctx, "", d.queue, false, false, msg)
	if errors.Is(err, amqp.ErrClosed) {
		d.logger.WarnContext(ctx, "rabbitmq channel closed, reconnecting", slog.String("queue", d.queue))
		d.resetLocked()
		if err = d.connectLocked(); err == nil {
			err = d.ch.PublishWithContext(ctx, "", d.queue, false, false, msg)
		}
	}
	if err != nil {
		return fmt.Errorf("publish kitchen ticket: %w", err)
	}

	d.logger.DebugContext(ctx, "kitchen ticket dispatched",
		slog.String("order_id", order.ID),
		slog.String("queue", d.queue),
	)
	return nil
}

// Close closes the channel and connection.
func (d *KitchenDispatcher) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.resetLocked()
	return nil
}

// tableCarrier adapts AMQP headers to the OpenTelemetry propagator.
type tableCarrier amqp.Table

func (c tableCarrier) Get(key string) string {
	v, _ := c[key].(string)
	return v
}

func (c tableCarrier) Set(key, value string) {
	c[key] = value
}

func (c tableCarrier) Keys() []string {
	keys := make([]string, 0, len(c))
	for k := range c {
		keys = append(keys, k)
	}
	return keys
}
