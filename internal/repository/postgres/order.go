package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/utafrali/DinerGo/internal/domain"
	"github.com/utafrali/DinerGo/pkg/database"
	apperrors "github.com/utafrali/DinerGo/pkg/errors"
)

const insertOrderSQL = `
	INSERT INTO orders (user_id, email, items, total, currency, address, payment_status, payment_intent_id, checkout_id)
	VALUES ($1, $2, $3, $4::numeric, $5, $6, $7, $8, $9)
	RETURNING id::text, created_at`

const selectOrderSQL = `
	SELECT id::text, user_id, email, items, total::text, currency, address,
		payment_status, payment_intent_id, checkout_id, created_at
	FROM orders
	WHERE id = $1`

// OrderRepository implements repository.OrderRepository using PostgreSQL.
type OrderRepository struct {
	pool database.DBTX
}

// NewOrderRepository creates a new PostgreSQL-backed order repository.
func NewOrderRepository(pool database.DBTX) *OrderRepository {
	return &OrderRepository{pool: pool}
}

// Create inserts the order in a single statement. The id and created_at
// come from the database and are written back to o.
func (r *OrderRepository) Create(ctx context.Context, o *domain.Order) (id string, err error) {
	ctx, end := database.TraceQuery(ctx, "CreateOrder", insertOrderSQL)
	defer func() { end(err) }()

	lines := o.Lines
	if lines == nil {
		lines = []domain.CartLine{}
	}
	itemsJSON, err := json.Marshal(lines)
	if err != nil {
		return "", fmt.Errorf("marshal order items: %w", err)
	}

	err = r.pool.QueryRow(ctx, insertOrderSQL,
		o.UserID,
		o.Email,
		itemsJSON,
		o.Total.String(),
		o.Currency,
		o.Address,
		o.PaymentStatus,
		o.PaymentIntentID,
		o.CheckoutID,
	).Scan(&o.ID, &o.CreatedAt)
	if err != nil {
		return "", fmt.Errorf("insert order: %w", err)
	}

	return o.ID, nil
}

// GetByID retrieves an order by its ID.
func (r *OrderRepository) GetByID(ctx context.Context, id string) (o *domain.Order, err error) {
	ctx, end := database.TraceQuery(ctx, "GetOrder", selectOrderSQL)
	defer func() { end(err) }()

	var (
		order     domain.Order
		itemsJSON []byte
		total     string
	)
	err = r.pool.QueryRow(ctx, selectOrderSQL, id).Scan(
		&order.ID,
		&order.UserID,
		&order.Email,
		&itemsJSON,
		&total,
		&order.Currency,
		&order.Address,
		&order.PaymentStatus,
		&order.PaymentIntentID,
		&order.CheckoutID,
		&order.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NotFound("order", id)
		}
		return nil, fmt.Errorf("scan order: %w", err)
	}

	if order.Total, err = decimal.NewFromString(total); err != nil {
		return nil, fmt.Errorf("parse order total: %w", err)
	}
	if err = json.Unmarshal(itemsJSON, &order.Lines); err != nil {
		return nil, fmt.Errorf("unmarshal order items: %w", err)
	}

	return &order, nil
}

// Ping checks connectivity.
func (r *OrderRepository) Ping(ctx context.Context) error {
	_, err := r.pool.Exec(ctx, "SELECT 1")
	return err
}
