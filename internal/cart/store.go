// Package cart keeps each user's cart in memory and writes it through to the
// snapshot slot in the background.
package cart

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/utafrali/DinerGo/internal/domain"
	"github.com/utafrali/DinerGo/internal/repository"
	apperrors "github.com/utafrali/DinerGo/pkg/errors"
)

// Upper bounds that keep a single cart from growing without limit.
const (
	MaxLinesPerCart = 50
	MaxQtyPerLine   = 100
)

const defaultPersistTimeout = 5 * time.Second

// ErrCheckoutInProgress is returned by mutations while the cart is frozen for checkout.
var ErrCheckoutInProgress = apperrors.Conflict("CHECKOUT_IN_PROGRESS", "the cart is locked while a checkout is in progress")

// Options configures a Store.
type Options struct {
	// PersistTimeout bounds every snapshot write.
	PersistTimeout time.Duration
	Logger         *slog.Logger
}

// Store is one user's cart. All methods are safe for concurrent use.
type Store struct {
	userID  string
	repo    repository.CartSnapshotRepository
	persist *persister
	logger  *slog.Logger
	// touched is the unix-nano time the registry last handed the store out.
	touched atomic.Int64

	mu             sync.Mutex
	cart           domain.Cart
	idempotencyKey string
	frozen         bool
}

// NewStore returns an empty store for userID. Call Load to restore the
// persisted snapshot.
func NewStore(userID string, repo repository.CartSnapshotRepository, opts Options) *Store {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.PersistTimeout <= 0 {
		opts.PersistTimeout = defaultPersistTimeout
	}
	return &Store{
		userID:         userID,
		repo:           repo,
		persist:        newPersister(userID, repo, opts.PersistTimeout, opts.Logger),
		logger:         opts.Logger,
		idempotencyKey: uuid.NewString(),
	}
}

// UserID returns the owner of the cart.
func (s *Store) UserID() string { return s.userID }

// Load replaces the in-memory cart with the persisted snapshot. A missing or
// corrupt snapshot yields an empty cart.
func (s *Store) Load(ctx context.Context) error {
	stored, err := s.repo.Get(ctx, s.userID)
	switch {
	case err == nil:
	case errors.Is(err, apperrors.ErrNotFound):
		stored = &domain.Cart{}
	case errors.Is(err, repository.ErrCorruptSnapshot):
		s.logger.WarnContext(ctx, "discarding corrupt cart snapshot",
			slog.String("user_id", s.userID),
			slog.String("error", err.Error()),
		)
		stored = &domain.Cart{}
	default:
		return fmt.Errorf("load cart: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.frozen {
		return ErrCheckoutInProgress
	}
	s.cart = stored.Clone()
	s.rotateKey()
	return nil
}

// Snapshot returns a copy of the current cart.
func (s *Store) Snapshot() domain.Cart {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cart.Clone()
}

// Add puts one unit of item in the cart, merging with an existing line.
func (s *Store) Add(ctx context.Context, item domain.MenuItem) (domain.Cart, error) {
	if item.ItemID == "" {
		return domain.Cart{}, apperrors.InvalidInput("item id is required")
	}
	if item.UnitPrice.IsNegative() {
		return domain.Cart{}, apperrors.InvalidInput("unit price must not be negative")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.frozen {
		return domain.Cart{}, ErrCheckoutInProgress
	}

	if i := s.cart.IndexOf(item.ItemID); i >= 0 {
		if s.cart.Lines[i].Qty >= MaxQtyPerLine {
			return domain.Cart{}, apperrors.InvalidInput(fmt.Sprintf("quantity must not exceed %d", MaxQtyPerLine))
		}
	} else if len(s.cart.Lines) >= MaxLinesPerCart {
		return domain.Cart{}, apperrors.InvalidInput(fmt.Sprintf("cart must not contain more than %d items", MaxLinesPerCart))
	}

	s.cart.Add(item)
	s.changedLocked(opSave)

	s.logger.InfoContext(ctx, "item added to cart",
		slog.String("user_id", s.userID),
		slog.String("item_id", item.ItemID),
		slog.Int("item_count", s.cart.ItemCount()),
	)
	return s.cart.Clone(), nil
}

// Remove drops the whole line for itemID. Unknown ids are a no-op.
func (s *Store) Remove(ctx context.Context, itemID string) (domain.Cart, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.frozen {
		return domain.Cart{}, ErrCheckoutInProgress
	}

	if s.cart.Remove(itemID) {
		s.changedLocked(opSave)
		s.logger.InfoContext(ctx, "item removed from cart",
			slog.String("user_id", s.userID),
			slog.String("item_id", itemID),
		)
	}
	return s.cart.Clone(), nil
}

// Decrement takes one unit of itemID out of the cart, dropping the line at zero.
func (s *Store) Decrement(ctx context.Context, itemID string) (domain.Cart, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.frozen {
		return domain.Cart{}, ErrCheckoutInProgress
	}

	if s.cart.Decrement(itemID) {
		s.changedLocked(opSave)
		s.logger.DebugContext(ctx, "item decremented",
			slog.String("user_id", s.userID),
			slog.String("item_id", itemID),
		)
	}
	return s.cart.Clone(), nil
}

// Clear empties the cart and deletes the persisted snapshot.
func (s *Store) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.frozen {
		return ErrCheckoutInProgress
	}
	s.clearLocked()
	s.logger.InfoContext(ctx, "cart cleared", slog.String("user_id", s.userID))
	return nil
}

// Freeze locks the cart for checkout and returns the cart being checked out
// with the idempotency key of its current content.
func (s *Store) Freeze() (domain.Cart, string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.frozen {
		return domain.Cart{}, "", ErrCheckoutInProgress
	}
	s.frozen = true
	return s.cart.Clone(), s.idempotencyKey, nil
}

// Thaw unlocks the cart after a failed checkout. The content and idempotency
// key are unchanged, so a retry reuses the same key.
func (s *Store) Thaw() {
	s.mu.Lock()
	s.frozen = false
	s.mu.Unlock()
}

// CompleteCheckout clears and unlocks the cart in one step.
func (s *Store) CompleteCheckout(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clearLocked()
	s.frozen = false
	s.logger.DebugContext(ctx, "cart cleared after checkout", slog.String("user_id", s.userID))
}

// Frozen reports whether a checkout holds the cart.
func (s *Store) Frozen() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.frozen
}

// Flush waits for pending snapshot writes to finish.
func (s *Store) Flush(ctx context.Context) error {
	return s.persist.flush(ctx)
}

func (s *Store) touch(t time.Time) { s.touched.Store(t.UnixNano()) }

func (s *Store) idleSince(cutoff time.Time) bool {
	return s.touched.Load() < cutoff.UnixNano()
}

// evictable reports whether dropping the store loses nothing: no checkout
// holds it and its snapshot is fully written.
func (s *Store) evictable() bool {
	return !s.Frozen() && s.persist.settled()
}

func (s *Store) clearLocked() {
	s.cart = domain.Cart{}
	s.changedLocked(opDelete)
}

func (s *Store) changedLocked(kind opKind) {
	s.rotateKey()
	s.persist.enqueue(persistOp{kind: kind, cart: s.cart.Clone()})
}

func (s *Store) rotateKey() {
	s.idempotencyKey = uuid.NewString()
}
