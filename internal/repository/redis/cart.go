package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/utafrali/DinerGo/internal/domain"
	"github.com/utafrali/DinerGo/internal/repository"
	apperrors "github.com/utafrali/DinerGo/pkg/errors"
)

const keyPrefix = "cart:"

// CartRepository implements repository.CartSnapshotRepository using Redis.
type CartRepository struct {
	client *redis.Client
	ttl    time.Duration
}

// NewCartRepository creates a new Redis-backed snapshot slot. A zero ttl keeps
// snapshots until they are deleted.
func NewCartRepository(client *redis.Client, ttl time.Duration) *CartRepository {
	return &CartRepository{
		client: client,
		ttl:    ttl,
	}
}

// Get retrieves the snapshot for a user.
func (r *CartRepository) Get(ctx context.Context, userID string) (*domain.Cart, error) {
	data, err := r.client.Get(ctx, keyPrefix+userID).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, apperrors.NotFound("cart", userID)
		}
		return nil, fmt.Errorf("redis get cart: %w", err)
	}

	var cart domain.Cart
	if err := json.Unmarshal(data, &cart); err != nil {
		return nil, fmt.Errorf("%w: %v", repository.ErrCorruptSnapshot, err)
	}
	if err := cart.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", repository.ErrCorruptSnapshot, err)
	}

	return &cart, nil
}

// Save overwrites the snapshot for a user.
func (r *CartRepository) Save(ctx context.Context, userID string, cart domain.Cart) error {
	if cart.Lines == nil {
		cart.Lines = []domain.CartLine{}
	}
	data, err := json.Marshal(cart)
	if err != nil {
		return fmt.Errorf("marshal cart: %w", err)
	}

	if err := r.client.Set(ctx, keyPrefix+userID, data, r.ttl).Err(); err != nil {
		return fmt.Errorf("redis set cart: %w", err)
	}

	return nil
}

// Delete removes the snapshot for a user.
func (r *CartRepository) Delete(ctx context.Context, userID string) error {
	if err := r.client.Del(ctx, keyPrefix+userID).Err(); err != nil {
		return fmt.Errorf("redis del cart: %w", err)
	}

	return nil
}

// Ping checks connectivity; used by the readiness check.
func (r *CartRepository) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}
