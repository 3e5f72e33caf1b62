package cart

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/utafrali/DinerGo/internal/repository"
)

// Registry hands out one Store per user, loading it on first access. Stores
// left idle are dropped by EvictIdle and reloaded from their snapshot on the
// next access.
type Registry struct {
	repo repository.CartSnapshotRepository
	opts Options
	now  func() time.Time

	mu     sync.RWMutex
	stores map[string]*Store
	loads  singleflight.Group
}

// NewRegistry creates an empty registry.
func NewRegistry(repo repository.CartSnapshotRepository, opts Options) *Registry {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Registry{
		repo:   repo,
		opts:   opts,
		now:    time.Now,
		stores: make(map[string]*Store),
	}
}

// For returns the store of userID. Concurrent first calls share a single load.
func (r *Registry) For(ctx context.Context, userID string) (*Store, error) {
	if s := r.lookup(userID); s != nil {
		return s, nil
	}

	// The load outlives any single caller's cancellation.
	loadCtx := context.WithoutCancel(ctx)
	v, err, _ := r.loads.Do(userID, func() (any, error) {
		if s := r.lookup(userID); s != nil {
			return s, nil
		}
		s := NewStore(userID, r.repo, r.opts)
		if err := s.Load(loadCtx); err != nil {
			return nil, err
		}
		s.touch(r.now())
		r.mu.Lock()
		r.stores[userID] = s
		r.mu.Unlock()
		return s, nil
	})
	if err != nil {
		return nil, fmt.Errorf("cart for user %s: %w", userID, err)
	}
	return v.(*Store), nil
}

// lookup returns the loaded store and marks it used. Touching under the read
// lock orders it against the recheck in EvictIdle.
func (r *Registry) lookup(userID string) *Store {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s := r.stores[userID]
	if s != nil {
		s.touch(r.now())
	}
	return s
}

// Len returns the number of loaded carts.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.stores)
}

// FlushAll waits for every store's pending writes.
func (r *Registry) FlushAll(ctx context.Context) error {
	r.mu.RLock()
	stores := make([]*Store, 0, len(r.stores))
	for _, s := range r.stores {
		stores = append(stores, s)
	}
	r.mu.RUnlock()

	var errs []error
	for _, s := range stores {
		if err := s.Flush(ctx); err != nil {
			errs = append(errs, fmt.Errorf("flush cart %s: %w", s.UserID(), err))
		}
	}
	return errors.Join(errs...)
}

// EvictIdle drops stores not handed out for longer than idle. Each candidate
// is flushed first; frozen stores and stores whose last write failed stay
// loaded. It returns the number of stores dropped.
func (r *Registry) EvictIdle(ctx context.Context, idle time.Duration) int {
	cutoff := r.now().Add(-idle)

	r.mu.RLock()
	var candidates []*Store
	for _, s := range r.stores {
		if s.idleSince(cutoff) {
			candidates = append(candidates, s)
		}
	}
	r.mu.RUnlock()

	evicted := 0
	for _, s := range candidates {
		if err := s.Flush(ctx); err != nil {
			break
		}
		r.mu.Lock()
		if r.stores[s.UserID()] == s && s.idleSince(cutoff) && s.evictable() {
			delete(r.stores, s.UserID())
			evicted++
		}
		r.mu.Unlock()
	}
	cartEvictions.Add(float64(evicted))
	return evicted
}

// RunEviction calls EvictIdle every interval until ctx is done.
func (r *Registry) RunEviction(ctx context.Context, interval, idle time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := r.EvictIdle(ctx, idle); n > 0 {
				r.opts.Logger.DebugContext(ctx, "evicted idle carts",
					slog.Int("evicted", n),
					slog.Int("loaded", r.Len()),
				)
			}
		}
	}
}
