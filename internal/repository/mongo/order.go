package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/utafrali/DinerGo/internal/domain"
	"github.com/utafrali/DinerGo/pkg/database"
	apperrors "github.com/utafrali/DinerGo/pkg/errors"
)

const collectionName = "orders"

type lineDocument struct {
	ItemID    string               `bson:"item_id"`
	Name      string               `bson:"name"`
	UnitPrice primitive.Decimal128 `bson:"unit_price"`
	Qty       int                  `bson:"qty"`
}

type orderDocument struct {
	ID              string               `bson:"_id"`
	UserID          string               `bson:"user_id"`
	Email           string               `bson:"email"`
	Items           []lineDocument       `bson:"items"`
	Total           primitive.Decimal128 `bson:"total"`
	Currency        string               `bson:"currency"`
	Address         string               `bson:"address"`
	PaymentStatus   string               `bson:"payment_status"`
	PaymentIntentID string               `bson:"payment_intent_id"`
	CheckoutID      string               `bson:"checkout_id"`
	CreatedAt       time.Time            `bson:"created_at,omitempty"`
}

// OrderRepository implements repository.OrderRepository on a MongoDB collection.
type OrderRepository struct {
	collection *mongo.Collection
}

// NewOrderRepository creates a repository backed by db.orders.
func NewOrderRepository(db *mongo.Database) *OrderRepository {
	return &OrderRepository{collection: db.Collection(collectionName)}
}

// CreateIndexes creates the secondary indexes used for support lookups.
func (r *OrderRepository) CreateIndexes(ctx context.Context) error {
	_, err := r.collection.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "user_id", Value: 1}, {Key: "created_at", Value: -1}}},
		{Keys: bson.D{{Key: "payment_intent_id", Value: 1}}},
	})
	if err != nil {
		return fmt.Errorf("create order indexes: %w", err)
	}
	return nil
}

// Create inserts the order under a fresh id. created_at is set by the server
// through $currentDate and read back into o.
func (r *OrderRepository) Create(ctx context.Context, o *domain.Order) (id string, err error) {
	ctx, end := database.Trace(ctx, "mongodb", "CreateOrder", "orders.findOneAndUpdate")
	defer func() { end(err) }()

	doc, err := toDocument(o)
	if err != nil {
		return "", err
	}
	doc.ID = uuid.New().String()

	update := bson.M{
		"$setOnInsert": doc,
		"$currentDate": bson.M{"created_at": true},
	}
	opts := options.FindOneAndUpdate().
		SetUpsert(true).
		SetReturnDocument(options.After)

	var stored orderDocument
	err = r.collection.FindOneAndUpdate(ctx, bson.M{"_id": doc.ID}, update, opts).Decode(&stored)
	if err != nil {
		return "", fmt.Errorf("insert order: %w", err)
	}

	o.ID = stored.ID
	o.CreatedAt = stored.CreatedAt
	return o.ID, nil
}

// GetByID retrieves an order by its id.
func (r *OrderRepository) GetByID(ctx context.Context, id string) (o *domain.Order, err error) {
	ctx, end := database.Trace(ctx, "mongodb", "GetOrder", "orders.findOne")
	defer func() { end(err) }()

	var doc orderDocument
	if err = r.collection.FindOne(ctx, bson.M{"_id": id}).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, apperrors.NotFound("order", id)
		}
		return nil, fmt.Errorf("find order: %w", err)
	}
	return fromDocument(&doc)
}

// Ping checks connectivity.
func (r *OrderRepository) Ping(ctx context.Context) error {
	return r.collection.Database().Client().Ping(ctx, nil)
}

func toDecimal128(d decimal.Decimal) (primitive.Decimal128, error) {
	v, err := primitive.ParseDecimal128(d.String())
	if err != nil {
		return primitive.Decimal128{}, fmt.Errorf("convert %s to decimal128: %w", d, err)
	}
	return v, nil
}

func toDocument(o *domain.Order) (*orderDocument, error) {
	total, err := toDecimal128(o.Total)
	if err != nil {
		return nil, err
	}
	items := make([]lineDocument, 0, len(o.Lines))
	for _, l := range o.Lines {
		price, err := toDecimal128(l.UnitPrice)
		if err != nil {
			return nil, err
		}
		items = append(items, lineDocument{
			ItemID:    l.ItemID,
			Name:      l.Name,
			UnitPrice: price,
			Qty:       l.Qty,
		})
	}
	return &orderDocument{
		UserID:          o.UserID,
		Email:           o.Email,
		Items:           items,
		Total:           total,
		Currency:        o.Currency,
		Address:         o.Address,
		PaymentStatus:   o.PaymentStatus,
		PaymentIntentID: o.PaymentIntentID,
		CheckoutID:      o.CheckoutID,
	}, nil
}

func fromDocument(doc *orderDocument) (*domain.Order, error) {
	total, err := decimal.NewFromString(doc.Total.String())
	if err != nil {
		return nil, fmt.Errorf("parse order total: %w", err)
	}
	lines := make([]domain.CartLine, 0, len(doc.Items))
	for _, it := range doc.Items {
		price, err := decimal.NewFromString(it.UnitPrice.String())
		if err != nil {
			return nil, fmt.Errorf("parse price of %s: %w", it.ItemID, err)
		}
		lines = append(lines, domain.CartLine{
			ItemID:    it.ItemID,
			Name:      it.Name,
			UnitPrice: price,
			Qty:       it.Qty,
		})
	}
	return &domain.Order{
		ID:              doc.ID,
		UserID:          doc.UserID,
		Email:           doc.Email,
		Lines:           lines,
		Total:           total,
		Currency:        doc.Currency,
		Address:         doc.Address,
		PaymentStatus:   doc.PaymentStatus,
		PaymentIntentID: doc.PaymentIntentID,
		CheckoutID:      doc.CheckoutID,
		CreatedAt:       doc.CreatedAt.UTC(),
	}, nil
}
