package cart

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/utafrali/DinerGo/internal/domain"
	"github.com/utafrali/DinerGo/internal/repository"
)

type opKind int

const (
	opSave opKind = iota
	opDelete
)

func (k opKind) String() string {
	if k == opDelete {
		return "delete"
	}
	return "save"
}

type persistOp struct {
	kind opKind
	cart domain.Cart
}

// PersistenceError describes a snapshot write that failed. It is logged and
// counted, never returned to cart callers.
type PersistenceError struct {
	UserID string
	Op     string
	Err    error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persist cart %s for user %s: %v", e.Op, e.UserID, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// persister writes cart snapshots one at a time. While a write is in flight
// only the most recent pending operation is kept, so the stored snapshot
// always converges to the latest in-memory state.
type persister struct {
	userID  string
	repo    repository.CartSnapshotRepository
	timeout time.Duration
	logger  *slog.Logger

	mu      sync.Mutex
	pending *persistOp
	running bool
	failed  bool          // the most recent write failed
	done    chan struct{} // closed when the current drain run exits
}

func newPersister(userID string, repo repository.CartSnapshotRepository, timeout time.Duration, logger *slog.Logger) *persister {
	return &persister{
		userID:  userID,
		repo:    repo,
		timeout: timeout,
		logger:  logger,
	}
}

func (p *persister) enqueue(op persistOp) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.pending != nil {
		persistCoalesced.Inc()
	}
	p.pending = &op

	if !p.running {
		p.running = true
		p.done = make(chan struct{})
		go p.drain(p.done)
	}
}

func (p *persister) drain(done chan struct{}) {
	for {
		p.mu.Lock()
		op := p.pending
		p.pending = nil
		if op == nil {
			p.running = false
			close(done)
			p.mu.Unlock()
			return
		}
		p.mu.Unlock()

		err := p.write(*op)
		if err != nil {
			persistFailures.WithLabelValues(op.kind.String()).Inc()
			p.logger.Error("cart persistence failed",
				slog.String("user_id", p.userID),
				slog.String("op", op.kind.String()),
				slog.String("error", err.Error()),
			)
		}
		p.mu.Lock()
		p.failed = err != nil
		p.mu.Unlock()
	}
}

// settled reports whether the stored snapshot matches the last enqueued
// state: nothing pending or in flight, and the last write succeeded.
func (p *persister) settled() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return !p.running && !p.failed
}

func (p *persister) write(op persistOp) error {
	ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
	defer cancel()

	start := time.Now()
	var err error
	switch op.kind {
	case opDelete:
		err = p.repo.Delete(ctx, p.userID)
	default:
		err = p.repo.Save(ctx, p.userID, op.cart)
	}
	persistDuration.WithLabelValues(op.kind.String()).Observe(time.Since(start).Seconds())

	if err != nil {
		return &PersistenceError{UserID: p.userID, Op: op.kind.String(), Err: err}
	}
	return nil
}

// flush blocks until no write is pending or in flight.
func (p *persister) flush(ctx context.Context) error {
	for {
		p.mu.Lock()
		if !p.running {
			p.mu.Unlock()
			return nil
		}
		done := p.done
		p.mu.Unlock()

		select {
		case <-done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
