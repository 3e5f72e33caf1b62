package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/utafrali/DinerGo/internal/domain"
	"github.com/utafrali/DinerGo/pkg/database"
	apperrors "github.com/utafrali/DinerGo/pkg/errors"
)

const menuColumns = `id, name, description, category, price::text, image_url, available`

const listMenuSQL = `
	SELECT ` + menuColumns + `
	FROM menu_items
	WHERE available AND ($1::text = '' OR category = $1::text)
	ORDER BY category, name`

const selectMenuItemSQL = `
	SELECT ` + menuColumns + `
	FROM menu_items
	WHERE id = $1`

const selectCategoriesSQL = `
	SELECT DISTINCT category FROM menu_items WHERE available ORDER BY category`

// MenuRepository reads the menu_items table.
type MenuRepository struct {
	pool database.DBTX
}

func NewMenuRepository(pool database.DBTX) *MenuRepository {
	return &MenuRepository{pool: pool}
}

// List returns available items, optionally of one category.
func (r *MenuRepository) List(ctx context.Context, category string) (items []domain.MenuItem, err error) {
	ctx, end := database.TraceQuery(ctx, "ListMenuItems", listMenuSQL)
	defer func() { end(err) }()

	rows, err := r.pool.Query(ctx, listMenuSQL, category)
	if err != nil {
		return nil, fmt.Errorf("list menu items: %w", err)
	}
	defer rows.Close()

	items = []domain.MenuItem{}
	for rows.Next() {
		item, err := scanMenuItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, *item)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate menu items: %w", err)
	}
	return items, nil
}

// GetByID returns one item, available or not.
func (r *MenuRepository) GetByID(ctx context.Context, id string) (item *domain.MenuItem, err error) {
	ctx, end := database.TraceQuery(ctx, "GetMenuItem", selectMenuItemSQL)
	defer func() { end(err) }()

	item, err = scanMenuItem(r.pool.QueryRow(ctx, selectMenuItemSQL, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NotFound("menu item", id)
		}
		return nil, err
	}
	return item, nil
}

// Categories lists the categories that have at least one available item.
func (r *MenuRepository) Categories(ctx context.Context) (categories []string, err error) {
	ctx, end := database.TraceQuery(ctx, "ListMenuCategories", selectCategoriesSQL)
	defer func() { end(err) }()

	rows, err := r.pool.Query(ctx, selectCategoriesSQL)
	if err != nil {
		return nil, fmt.Errorf("list menu categories: %w", err)
	}
	categories, err = pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("scan menu categories: %w", err)
	}
	return categories, nil
}

func scanMenuItem(row pgx.Row) (*domain.MenuItem, error) {
	var (
		item  domain.MenuItem
		price string
	)
	err := row.Scan(&item.ItemID, &item.Name, &item.Description, &item.Category, &price, &item.ImageURL, &item.Available)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan menu item: %w", err)
	}
	if item.UnitPrice, err = decimal.NewFromString(price); err != nil {
		return nil, fmt.Errorf("parse price of %s: %w", item.ItemID, err)
	}
	return &item, nil
}
