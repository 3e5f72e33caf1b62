package repository

import (
	"context"
	"errors"

	"github.com/utafrali/DinerGo/internal/domain"
)

// ErrCorruptSnapshot is returned when a stored cart snapshot cannot be decoded
// or violates the cart invariants.
var ErrCorruptSnapshot = errors.New("corrupt cart snapshot")

// CartSnapshotRepository is the durable key-value slot holding one cart per user.
type CartSnapshotRepository interface {
	// Get returns the stored cart. A missing slot yields apperrors.ErrNotFound,
	// an undecodable one ErrCorruptSnapshot.
	Get(ctx context.Context, userID string) (*domain.Cart, error)

	// Save overwrites the slot with the given cart.
	Save(ctx context.Context, userID string, cart domain.Cart) error

	// Delete removes the slot. Deleting a missing slot is not an error.
	Delete(ctx context.Context, userID string) error
}

// OrderRepository records paid orders.
type OrderRepository interface {
	// Create stores a new order and returns its id. CreatedAt is set on the
	// passed order from the store's clock.
	Create(ctx context.Context, order *domain.Order) (string, error)

	// GetByID returns apperrors.ErrNotFound when no order has the id.
	GetByID(ctx context.Context, id string) (*domain.Order, error)

	Ping(ctx context.Context) error
}

// ProfileRepository holds the delivery address saved on a user's profile.
type ProfileRepository interface {
	// DeliveryAddress returns the saved address or "" when there is none.
	DeliveryAddress(ctx context.Context, userID string) (string, error)

	// SaveDeliveryAddress creates the profile if needed and replaces its address.
	SaveDeliveryAddress(ctx context.Context, userID, address string) error
}

// MenuRepository reads the restaurant's menu catalog. Prices added to carts
// always come from here.
type MenuRepository interface {
	// List returns the available items of category, or of every category
	// when it is empty, ordered by category then name.
	List(ctx context.Context, category string) ([]domain.MenuItem, error)

	// GetByID returns the item whether or not it is available, or
	// apperrors.ErrNotFound.
	GetByID(ctx context.Context, id string) (*domain.MenuItem, error)

	// Categories returns the distinct categories of available items, sorted.
	Categories(ctx context.Context) ([]string, error)
}
