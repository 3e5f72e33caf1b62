// Package event publishes what happens to orders: domain events on Kafka and
// kitchen tickets on RabbitMQ.
package event

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/utafrali/DinerGo/internal/domain"
	pkgkafka "github.com/utafrali/DinerGo/pkg/kafka"
	"github.com/utafrali/DinerGo/pkg/logger"
)

// TopicOrderPlaced carries one event per recorded order.
const TopicOrderPlaced = "diner.order.placed"

// AggregateTypeOrder is the aggregate type of order events.
const AggregateTypeOrder = "order"

// SourceDinerService identifies events from this service.
const SourceDinerService = "diner-service"

// OrderPlacedData is the payload of an order.placed event.
type OrderPlacedData struct {
	OrderID         string          `json:"order_id"`
	UserID          string          `json:"user_id"`
	Items           []OrderLineData `json:"items"`
	Total           decimal.Decimal `json:"total"`
	Currency        string          `json:"currency"`
	Address         string          `json:"address"`
	PaymentIntentID string          `json:"payment_intent_id"`
	CreatedAt       time.Time       `json:"created_at"`
}

// OrderLineData is one line of an order in event payloads.
type OrderLineData struct {
	ItemID    string          `json:"item_id"`
	Name      string          `json:"name"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	Qty       int             `json:"qty"`
}

// Publisher is implemented by *pkgkafka.Producer.
type Publisher interface {
	Publish(ctx context.Context, topic string, event *pkgkafka.Event) error
}

// Producer publishes order domain events to Kafka.
type Producer struct {
	kafka  Publisher
	logger *slog.Logger
}

// NewProducer creates a new event producer.
func NewProducer(kafka Publisher, logger *slog.Logger) *Producer {
	return &Producer{
		kafka:  kafka,
		logger: logger,
	}
}

// PublishOrderPlaced publishes an order.placed event with the full order.
func (p *Producer) PublishOrderPlaced(ctx context.Context, order *domain.Order) error {
	data := OrderPlacedData{
		OrderID:         order.ID,
		UserID:          order.UserID,
		Items:           lineData(order.Lines),
		Total:           order.Total,
		Currency:        order.Currency,
		Address:         order.Address,
		PaymentIntentID: order.PaymentIntentID,
		CreatedAt:       order.CreatedAt,
	}

	event, err := pkgkafka.NewEvent(TopicOrderPlaced, order.ID, AggregateTypeOrder, SourceDinerService, data,
		pkgkafka.WithCorrelationID(logger.CorrelationIDFromContext(ctx)),
		pkgkafka.WithMetadata("checkout_id", order.CheckoutID),
	)
	if err != nil {
		return fmt.Errorf("create order.placed event: %w", err)
	}

	if err := p.kafka.Publish(ctx, TopicOrderPlaced, event); err != nil {
		return fmt.Errorf("publish order.placed event: %w", err)
	}

	p.logger.DebugContext(ctx, "published order.placed event",
		slog.String("order_id", order.ID),
		slog.String("user_id", order.UserID),
	)
	return nil
}

func lineData(lines []domain.CartLine) []OrderLineData {
	out := make([]OrderLineData, len(lines))
	for i, l := range lines {
		out[i] = OrderLineData{ItemID: l.ItemID, Name: l.Name, UnitPrice: l.UnitPrice, Qty: l.Qty}
	}
	return out
}
