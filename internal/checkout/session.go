package checkout

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/utafrali/DinerGo/internal/cart"
	"github.com/utafrali/DinerGo/internal/domain"
	"github.com/utafrali/DinerGo/internal/payment"
	apperrors "github.com/utafrali/DinerGo/pkg/errors"
)

const (
	defaultConfirmTimeout = 15 * time.Minute
	defaultSessionTTL     = time.Hour
)

// Runner runs a checkout. *Orchestrator implements it.
type Runner interface {
	Run(ctx context.Context, c CartHandle, in Input, confirm payment.Confirmer, observe func(Stage)) (*domain.Receipt, error)
}

// SessionConfig bounds how long sessions wait and live.
type SessionConfig struct {
	// ConfirmTimeout is how long a run waits for the payment outcome.
	ConfirmTimeout time.Duration
	// TTL is how long a finished session stays queryable.
	TTL time.Duration
}

// Failure describes a failed session to clients.
type Failure struct {
	Kind    Kind   `json:"kind"`
	Stage   Stage  `json:"stage"`
	Timeout bool   `json:"timeout"`
	Message string `json:"message"`
}

// SessionView is a point-in-time copy of a session.
type SessionView struct {
	ID              string          `json:"id"`
	Stage           Stage           `json:"stage"`
	ClientSecret    string          `json:"clientSecret,omitempty"`
	PaymentIntentID string          `json:"paymentIntentId,omitempty"`
	Receipt         *domain.Receipt `json:"receipt,omitempty"`
	Failure         *Failure        `json:"failure,omitempty"`
	CreatedAt       time.Time       `json:"createdAt"`
}

type session struct {
	id        string
	userID    string
	createdAt time.Time
	handoff   *payment.HandOff
	done      chan struct{}

	mu         sync.Mutex
	stage      Stage
	intent     *payment.Intent
	receipt    *domain.Receipt
	err        error
	finishedAt time.Time
}

func (s *session) setStage(st Stage) {
	s.mu.Lock()
	s.stage = st
	s.mu.Unlock()
}

func (s *session) view() SessionView {
	s.mu.Lock()
	defer s.mu.Unlock()

	v := SessionView{ID: s.id, Stage: s.stage, Receipt: s.receipt, CreatedAt: s.createdAt}
	// The client secret is only useful while the payment UI is open.
	if s.intent != nil {
		v.PaymentIntentID = s.intent.ID
		if s.stage == StageConfirmingPayment {
			v.ClientSecret = s.intent.ClientSecret
		}
	}
	var ce *Error
	if errors.As(s.err, &ce) {
		v.Failure = &Failure{Kind: ce.Kind, Stage: ce.Stage, Timeout: ce.Timeout, Message: ce.UserMessage()}
	}
	return v
}

func (s *session) result() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Sessions lets a checkout span two HTTP requests: Start runs the pipeline
// up to the payment UI and Confirm delivers the customer's outcome.
type Sessions struct {
	runner Runner
	cfg    SessionConfig
	logger *slog.Logger
	now    func() time.Time

	base   context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.Mutex
	byID   map[string]*session
	active map[string]string // userID -> session id of the unfinished session
}

func NewSessions(runner Runner, cfg SessionConfig, logger *slog.Logger) *Sessions {
	if cfg.ConfirmTimeout <= 0 {
		cfg.ConfirmTimeout = defaultConfirmTimeout
	}
	if cfg.TTL <= 0 {
		cfg.TTL = defaultSessionTTL
	}
	if logger == nil {
		logger = slog.Default()
	}
	base, cancel := context.WithCancel(context.Background())
	return &Sessions{
		runner: runner,
		cfg:    cfg,
		logger: logger,
		now:    time.Now,
		base:   base,
		cancel: cancel,
		byID:   make(map[string]*session),
		active: make(map[string]string),
	}
}

// Start begins a checkout of c and returns once the payment UI can be shown
// (stage CONFIRMING_PAYMENT, client secret set) or the run has already
// failed, in which case the *Error is returned alongside the view.
func (m *Sessions) Start(ctx context.Context, c CartHandle, in Input) (SessionView, error) {
	userID := c.UserID()

	m.mu.Lock()
	m.sweepLocked()
	if id, ok := m.active[userID]; ok {
		m.mu.Unlock()
		return SessionView{ID: id}, &Error{Kind: KindCheckoutInProgress, Stage: StageIdle, Err: cart.ErrCheckoutInProgress}
	}
	s := &session{
		id:        uuid.NewString(),
		userID:    userID,
		createdAt: m.now(),
		handoff:   payment.NewHandOff(),
		done:      make(chan struct{}),
		stage:     StageIdle,
	}
	m.byID[s.id] = s
	m.active[userID] = s.id
	m.mu.Unlock()
	activeSessions.Inc()

	in.CheckoutID = s.id
	confirmer := payment.ConfirmerFunc(func(ctx context.Context, intent *payment.Intent) (payment.Outcome, error) {
		s.mu.Lock()
		s.intent = intent
		s.mu.Unlock()
		ctx, cancel := context.WithTimeout(ctx, m.cfg.ConfirmTimeout)
		defer cancel()
		return s.handoff.Confirm(ctx, intent)
	})

	// The run outlives the request that started it but stops on Shutdown.
	runCtx, cancelRun := context.WithCancel(context.WithoutCancel(ctx))
	stop := context.AfterFunc(m.base, cancelRun)

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		defer cancelRun()
		defer stop()

		receipt, err := m.runner.Run(runCtx, c, in, confirmer, s.setStage)
		m.finish(s, receipt, err)
	}()

	select {
	case <-s.handoff.Presented():
		return s.view(), nil
	case <-s.done:
		return s.view(), s.result()
	case <-ctx.Done():
		return s.view(), ctx.Err()
	}
}

func (m *Sessions) finish(s *session, receipt *domain.Receipt, err error) {
	s.mu.Lock()
	s.receipt = receipt
	s.err = err
	s.finishedAt = m.now()
	if err != nil && !s.stage.Terminal() {
		s.stage = StageFailed
	}
	s.mu.Unlock()

	m.mu.Lock()
	if m.active[s.userID] == s.id {
		delete(m.active, s.userID)
	}
	m.mu.Unlock()
	activeSessions.Dec()

	close(s.done)
}

// Confirm delivers the payment outcome for a session and waits for the run
// to finish. A session already finished returns its final state.
func (m *Sessions) Confirm(ctx context.Context, sessionID, userID string, outcome payment.Outcome) (SessionView, error) {
	s, err := m.lookup(sessionID, userID)
	if err != nil {
		return SessionView{}, err
	}

	select {
	case <-s.done:
		return s.view(), s.result()
	default:
	}

	s.mu.Lock()
	stage := s.stage
	s.mu.Unlock()
	if stage != StageConfirmingPayment {
		return s.view(), apperrors.Conflict("CHECKOUT_NOT_AWAITING_PAYMENT",
			fmt.Sprintf("checkout %s is at %s", sessionID, stage))
	}

	if !s.handoff.Deliver(outcome) {
		m.logger.InfoContext(ctx, "duplicate payment outcome ignored",
			slog.String("checkout_id", sessionID),
			slog.String("status", string(outcome.Status)),
		)
	}

	select {
	case <-s.done:
		return s.view(), s.result()
	case <-ctx.Done():
		return s.view(), ctx.Err()
	}
}

// Get returns the current view of a session owned by userID.
func (m *Sessions) Get(sessionID, userID string) (SessionView, error) {
	s, err := m.lookup(sessionID, userID)
	if err != nil {
		return SessionView{}, err
	}
	return s.view(), nil
}

func (m *Sessions) lookup(sessionID, userID string) (*session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sweepLocked()

	s, ok := m.byID[sessionID]
	// Other users' sessions are reported as missing.
	if !ok || s.userID != userID {
		return nil, apperrors.NotFound("checkout", sessionID)
	}
	return s, nil
}

// sweepLocked evicts finished sessions older than the TTL.
func (m *Sessions) sweepLocked() {
	cutoff := m.now().Add(-m.cfg.TTL)
	for id, s := range m.byID {
		s.mu.Lock()
		expired := !s.finishedAt.IsZero() && s.finishedAt.Before(cutoff)
		s.mu.Unlock()
		if expired {
			delete(m.byID, id)
		}
	}
}

// Shutdown cancels runs still waiting for a payment outcome and waits for
// every run to finish. Order writes already in progress complete.
func (m *Sessions) Shutdown(ctx context.Context) error {
	m.cancel()
	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for checkout runs: %w", ctx.Err())
	}
}
