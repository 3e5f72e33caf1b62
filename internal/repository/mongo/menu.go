package mongo

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/shopspring/decimal"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/utafrali/DinerGo/internal/domain"
	"github.com/utafrali/DinerGo/pkg/database"
	apperrors "github.com/utafrali/DinerGo/pkg/errors"
)

const menuCollection = "menu_items"

type menuDocument struct {
	ID          string               `bson:"_id"`
	Name        string               `bson:"name"`
	Description string               `bson:"description,omitempty"`
	Category    string               `bson:"category"`
	Price       primitive.Decimal128 `bson:"price"`
	ImageURL    string               `bson:"image_url,omitempty"`
	Available   bool                 `bson:"available"`
}

// MenuRepository implements repository.MenuRepository on db.menu_items.
type MenuRepository struct {
	collection *mongo.Collection
}

func NewMenuRepository(db *mongo.Database) *MenuRepository {
	return &MenuRepository{collection: db.Collection(menuCollection)}
}

// CreateIndexes creates the category browse index.
func (r *MenuRepository) CreateIndexes(ctx context.Context) error {
	_, err := r.collection.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "available", Value: 1}, {Key: "category", Value: 1}, {Key: "name", Value: 1}},
	})
	if err != nil {
		return fmt.Errorf("create menu indexes: %w", err)
	}
	return nil
}

// List returns available items, optionally of one category.
func (r *MenuRepository) List(ctx context.Context, category string) (items []domain.MenuItem, err error) {
	ctx, end := database.Trace(ctx, "mongodb", "ListMenuItems", "menu_items.find")
	defer func() { end(err) }()

	filter := bson.M{"available": true}
	if category != "" {
		filter["category"] = category
	}
	opts := options.Find().SetSort(bson.D{{Key: "category", Value: 1}, {Key: "name", Value: 1}})

	cur, err := r.collection.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("find menu items: %w", err)
	}
	var docs []menuDocument
	if err = cur.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("decode menu items: %w", err)
	}

	items = make([]domain.MenuItem, 0, len(docs))
	for i := range docs {
		item, err := fromMenuDocument(&docs[i])
		if err != nil {
			return nil, err
		}
		items = append(items, *item)
	}
	return items, nil
}

// GetByID returns one item, available or not.
func (r *MenuRepository) GetByID(ctx context.Context, id string) (item *domain.MenuItem, err error) {
	ctx, end := database.Trace(ctx, "mongodb", "GetMenuItem", "menu_items.findOne")
	defer func() { end(err) }()

	var doc menuDocument
	if err = r.collection.FindOne(ctx, bson.M{"_id": id}).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, apperrors.NotFound("menu item", id)
		}
		return nil, fmt.Errorf("find menu item: %w", err)
	}
	return fromMenuDocument(&doc)
}

// Categories lists the categories that have at least one available item.
func (r *MenuRepository) Categories(ctx context.Context) (categories []string, err error) {
	ctx, end := database.Trace(ctx, "mongodb", "ListMenuCategories", "menu_items.distinct")
	defer func() { end(err) }()

	values, err := r.collection.Distinct(ctx, "category", bson.M{"available": true})
	if err != nil {
		return nil, fmt.Errorf("distinct menu categories: %w", err)
	}
	categories = make([]string, 0, len(values))
	for _, v := range values {
		if s, ok := v.(string); ok && s != "" {
			categories = append(categories, s)
		}
	}
	sort.Strings(categories)
	return categories, nil
}

func toMenuDocument(item *domain.MenuItem) (*menuDocument, error) {
	price, err := toDecimal128(item.UnitPrice)
	if err != nil {
		return nil, err
	}
	return &menuDocument{
		ID:          item.ItemID,
		Name:        item.Name,
		Description: item.Description,
		Category:    item.Category,
		Price:       price,
		ImageURL:    item.ImageURL,
		Available:   item.Available,
	}, nil
}

func fromMenuDocument(doc *menuDocument) (*domain.MenuItem, error) {
	price, err := decimal.NewFromString(doc.Price.String())
	if err != nil {
		return nil, fmt.Errorf("parse price of %s: %w", doc.ID, err)
	}
	return &domain.MenuItem{
		ItemID:      doc.ID,
		Name:        doc.Name,
		Description: doc.Description,
		Category:    doc.Category,
		UnitPrice:   price,
		ImageURL:    doc.ImageURL,
		Available:   doc.Available,
	}, nil
}
