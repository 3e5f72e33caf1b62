// Package checkout runs the linear pipeline that turns a cart into a paid,
// recorded order.
package checkout

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/utafrali/DinerGo/internal/domain"
	"github.com/utafrali/DinerGo/internal/payment"
	"github.com/utafrali/DinerGo/internal/repository"
	"github.com/utafrali/DinerGo/pkg/logger"
)

const tracerName = "github.com/utafrali/DinerGo/internal/checkout"

const (
	defaultIntentTimeout  = 15 * time.Second
	defaultOrderTimeout   = 10 * time.Second
	defaultPublishTimeout = 5 * time.Second
)

// CartHandle is the part of a cart store checkout needs. *cart.Store implements it.
type CartHandle interface {
	UserID() string
	Freeze() (domain.Cart, string, error)
	Thaw()
	CompleteCheckout(ctx context.Context)
}

// PaymentGateway creates payment intents and reports what the provider
// recorded for them.
type PaymentGateway interface {
	CreatePaymentIntent(ctx context.Context, req payment.IntentRequest) (*payment.Intent, error)
	GetPaymentIntent(ctx context.Context, id string) (*payment.IntentStatus, error)
}

// AddressResolver supplies the saved delivery address when none is entered.
type AddressResolver interface {
	DeliveryAddress(ctx context.Context, userID string) (string, error)
}

// OrderPublisher announces placed orders.
type OrderPublisher interface {
	PublishOrderPlaced(ctx context.Context, order *domain.Order) error
}

// KitchenDispatcher sends a ticket for a placed order to the kitchen.
type KitchenDispatcher interface {
	DispatchTicket(ctx context.Context, order *domain.Order) error
}

// Customer identifies who is checking out.
type Customer struct {
	UserID string
	Email  string
}

// Input is what the caller provides to Run.
type Input struct {
	Customer Customer
	// Address may be empty, in which case the saved profile address is used.
	Address    string
	CheckoutID string
}

// Request is the frozen snapshot a run works from.
type Request struct {
	Customer        Customer
	DeliveryAddress string
	Lines           []domain.CartLine
	Total           decimal.Decimal
	IdempotencyKey  string
}

// Config holds the orchestrator's timeouts and currency.
type Config struct {
	PaymentIntentTimeout time.Duration
	OrderWriteTimeout    time.Duration
	PublishTimeout       time.Duration
	Currency             string
}

// Deps are the collaborators of the orchestrator. Addresses, Events and
// Kitchen are optional.
type Deps struct {
	Gateway   PaymentGateway
	Orders    repository.OrderRepository
	Addresses AddressResolver
	Events    OrderPublisher
	Kitchen   KitchenDispatcher
	Logger    *slog.Logger
}

// Orchestrator drives carts through the checkout stages.
type Orchestrator struct {
	deps   Deps
	cfg    Config
	tracer trace.Tracer
}

func NewOrchestrator(deps Deps, cfg Config) *Orchestrator {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if cfg.PaymentIntentTimeout <= 0 {
		cfg.PaymentIntentTimeout = defaultIntentTimeout
	}
	if cfg.OrderWriteTimeout <= 0 {
		cfg.OrderWriteTimeout = defaultOrderTimeout
	}
	if cfg.PublishTimeout <= 0 {
		cfg.PublishTimeout = defaultPublishTimeout
	}
	if cfg.Currency == "" {
		cfg.Currency = "ZAR"
	}
	return &Orchestrator{deps: deps, cfg: cfg, tracer: otel.Tracer(tracerName)}
}

// run tracks the state of one checkout attempt.
type run struct {
	o         *Orchestrator
	log       *slog.Logger
	observe   func(Stage)
	stage     Stage
	stageAt   time.Time
	stageSpan trace.Span
}

func (r *run) enter(ctx context.Context, s Stage) context.Context {
	r.leave(nil)
	r.stage = s
	r.stageAt = time.Now()
	if r.observe != nil {
		r.observe(s)
	}
	if s == StageIdle || s.Terminal() {
		return ctx
	}
	ctx, r.stageSpan = r.o.tracer.Start(ctx, "checkout."+strings.ToLower(string(s)))
	return ctx
}

func (r *run) leave(err error) {
	if r.stageSpan == nil {
		return
	}
	stageDuration.WithLabelValues(string(r.stage)).Observe(time.Since(r.stageAt).Seconds())
	if err != nil {
		r.stageSpan.RecordError(err)
		r.stageSpan.SetStatus(codes.Error, err.Error())
	}
	r.stageSpan.End()
	r.stageSpan = nil
}

func (r *run) fail(ctx context.Context, kind Kind, timeout bool, err error) *Error {
	ce := &Error{Kind: kind, Stage: r.stage, Timeout: timeout, Err: err}
	r.leave(ce)
	r.enter(ctx, StageFailed)
	checkoutOutcomes.WithLabelValues(string(kind)).Inc()
	r.log.WarnContext(ctx, "checkout failed",
		slog.String("stage", string(ce.Stage)),
		slog.String("kind", string(kind)),
		slog.Bool("timeout", timeout),
		slog.String("error", errString(err)),
	)
	return ce
}

// Run executes one checkout of c. observe, if set, is called on every stage
// transition including the terminal one. The cart is frozen for the whole
// run and unfrozen on failure; on success it is cleared. Every failure is
// returned as *Error.
func (o *Orchestrator) Run(ctx context.Context, c CartHandle, in Input, confirm payment.Confirmer, observe func(Stage)) (receipt *domain.Receipt, err error) {
	ctx, span := o.tracer.Start(ctx, "checkout.Run", trace.WithAttributes(
		attribute.String("checkout.id", in.CheckoutID),
		attribute.String("user.id", in.Customer.UserID),
	))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	ctx = logger.WithCheckoutID(ctx, in.CheckoutID)
	r := &run{o: o, log: logger.WithContext(ctx, o.deps.Logger), observe: observe}
	r.enter(ctx, StageIdle)

	snapshot, idemKey, err := c.Freeze()
	if err != nil {
		return nil, r.fail(ctx, KindCheckoutInProgress, false, err)
	}

	receipt, ce := o.pipeline(ctx, r, c, in, snapshot, idemKey, confirm)
	if ce != nil {
		c.Thaw()
		return nil, ce
	}
	return receipt, nil
}

func (o *Orchestrator) pipeline(ctx context.Context, r *run, c CartHandle, in Input, snapshot domain.Cart, idemKey string, confirm payment.Confirmer) (*domain.Receipt, *Error) {
	// VALIDATING_ADDRESS
	stageCtx := r.enter(ctx, StageValidatingAddress)
	if snapshot.IsEmpty() {
		return nil, r.fail(ctx, KindValidation, false, ErrEmptyCart)
	}
	if strings.TrimSpace(in.Customer.Email) == "" {
		return nil, r.fail(ctx, KindValidation, false, ErrMissingEmail)
	}
	address := strings.TrimSpace(in.Address)
	if address == "" && o.deps.Addresses != nil {
		saved, err := o.deps.Addresses.DeliveryAddress(stageCtx, in.Customer.UserID)
		if err != nil {
			r.log.WarnContext(ctx, "saved address lookup failed", slog.String("error", err.Error()))
		}
		address = strings.TrimSpace(saved)
	}
	if address == "" {
		return nil, r.fail(ctx, KindValidation, false, ErrMissingAddress)
	}

	req := Request{
		Customer:        in.Customer,
		DeliveryAddress: address,
		Lines:           snapshot.Lines,
		Total:           snapshot.Total(),
		IdempotencyKey:  idemKey,
	}

	// CREATING_PAYMENT_INTENT
	stageCtx = r.enter(ctx, StageCreatingPaymentIntent)
	intentCtx, cancel := context.WithTimeout(stageCtx, o.cfg.PaymentIntentTimeout)
	intent, err := o.deps.Gateway.CreatePaymentIntent(intentCtx, payment.IntentRequest{
		Amount:         req.Total,
		Email:          req.Customer.Email,
		IdempotencyKey: req.IdempotencyKey,
	})
	timedOut := errors.Is(intentCtx.Err(), context.DeadlineExceeded)
	cancel()
	if err != nil {
		if timedOut || errors.Is(err, context.DeadlineExceeded) {
			return nil, r.fail(ctx, KindPaymentIntentTimeout, true, err)
		}
		return nil, r.fail(ctx, KindPaymentIntent, false, err)
	}
	r.log.InfoContext(ctx, "payment intent created",
		slog.String("payment_intent_id", intent.ID),
		slog.String("amount", req.Total.String()),
	)

	// CONFIRMING_PAYMENT
	stageCtx = r.enter(ctx, StageConfirmingPayment)
	outcome, err := confirm.Confirm(stageCtx, intent)
	if err != nil {
		return nil, r.fail(ctx, KindPaymentDeclinedOrCancelled, errors.Is(err, context.DeadlineExceeded), err)
	}
	if !outcome.Succeeded() {
		return nil, r.fail(ctx, KindPaymentDeclinedOrCancelled, false,
			fmt.Errorf("%w: %s %s", ErrPaymentNotCompleted, outcome.Status, outcome.Message))
	}
	if err := o.verifyPayment(stageCtx, r, intent, req.Total); err != nil {
		return nil, r.fail(ctx, KindPaymentDeclinedOrCancelled, errors.Is(err, context.DeadlineExceeded), err)
	}

	// PERSISTING_ORDER: money has moved, so the write is not abandoned when
	// the caller goes away.
	stageCtx = r.enter(ctx, StagePersistingOrder)
	order := &domain.Order{
		UserID:          req.Customer.UserID,
		Email:           req.Customer.Email,
		Lines:           req.Lines,
		Total:           req.Total,
		Currency:        o.cfg.Currency,
		Address:         req.DeliveryAddress,
		PaymentStatus:   domain.PaymentStatusPaid,
		PaymentIntentID: intent.ID,
		CheckoutID:      in.CheckoutID,
	}
	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(stageCtx), o.cfg.OrderWriteTimeout)
	orderID, err := o.deps.Orders.Create(writeCtx, order)
	timedOut = errors.Is(writeCtx.Err(), context.DeadlineExceeded)
	cancel()
	if err != nil {
		r.log.ErrorContext(ctx, "order not recorded after successful payment",
			slog.String("payment_intent_id", intent.ID),
			slog.String("amount", req.Total.String()),
			slog.String("error", err.Error()),
		)
		return nil, r.fail(ctx, KindOrderPersistFailedAfterPayment, timedOut || errors.Is(err, context.DeadlineExceeded), err)
	}
	order.ID = orderID

	// CLEARING_CART
	stageCtx = r.enter(ctx, StageClearingCart)
	c.CompleteCheckout(stageCtx)

	r.enter(ctx, StageDone)
	checkoutOutcomes.WithLabelValues("success").Inc()
	r.log.InfoContext(ctx, "order placed",
		slog.String("order_id", order.ID),
		slog.String("payment_intent_id", intent.ID),
		slog.String("total", order.Total.String()),
		slog.Int("lines", len(order.Lines)),
	)

	o.announce(ctx, r.log, order)
	return domain.ReceiptFor(order), nil
}

// verifyPayment asks the provider whether intent was captured for total. The
// client's reported outcome alone never leads to an order.
func (o *Orchestrator) verifyPayment(ctx context.Context, r *run, intent *payment.Intent, total decimal.Decimal) error {
	lookupCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.cfg.PaymentIntentTimeout)
	defer cancel()

	status, err := o.deps.Gateway.GetPaymentIntent(lookupCtx, intent.ID)
	if err != nil {
		r.log.ErrorContext(ctx, "payment reported as succeeded could not be verified",
			slog.String("payment_intent_id", intent.ID),
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("%w: %w", ErrPaymentUnverified, err)
	}

	if !status.Paid() {
		r.log.ErrorContext(ctx, "client reported success but provider disagrees",
			slog.String("payment_intent_id", intent.ID),
			slog.String("provider_status", status.Status),
		)
		return fmt.Errorf("%w: provider status %s", ErrPaymentNotCompleted, status.Status)
	}

	want := payment.MinorUnits(total)
	currencyOK := status.Currency == "" || strings.EqualFold(status.Currency, o.cfg.Currency)
	if status.Amount != want || !currencyOK {
		r.log.ErrorContext(ctx, "captured amount does not match cart total",
			slog.String("payment_intent_id", intent.ID),
			slog.Int64("captured", status.Amount),
			slog.Int64("expected", want),
			slog.String("currency", status.Currency),
		)
		return fmt.Errorf("%w: captured %d %s, expected %d %s",
			ErrPaymentAmountMismatch, status.Amount, status.Currency, want, o.cfg.Currency)
	}
	return nil
}

// announce publishes the placed order. Failures are logged only.
func (o *Orchestrator) announce(ctx context.Context, log *slog.Logger, order *domain.Order) {
	ctx = context.WithoutCancel(ctx)

	if o.deps.Events != nil {
		pubCtx, cancel := context.WithTimeout(ctx, o.cfg.PublishTimeout)
		if err := o.deps.Events.PublishOrderPlaced(pubCtx, order); err != nil {
			log.ErrorContext(ctx, "failed to publish order.placed event",
				slog.String("order_id", order.ID),
				slog.String("error", err.Error()),
			)
		}
		cancel()
	}

	if o.deps.Kitchen != nil {
		pubCtx, cancel := context.WithTimeout(ctx, o.cfg.PublishTimeout)
		if err := o.deps.Kitchen.DispatchTicket(pubCtx, order); err != nil {
			log.ErrorContext(ctx, "failed to dispatch kitchen ticket",
				slog.String("order_id", order.ID),
				slog.String("error", err.Error()),
			)
		}
		cancel()
	}
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
