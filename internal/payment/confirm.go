package payment

import (
	"context"
	"fmt"
	"sync/atomic"
)

// OutcomeStatus is the result the payment UI reports for an intent.
type OutcomeStatus string

const (
	OutcomeSucceeded OutcomeStatus = "succeeded"
	OutcomeFailed    OutcomeStatus = "failed"
	OutcomeCancelled OutcomeStatus = "cancelled"
)

// Valid reports whether s is one of the known statuses.
func (s OutcomeStatus) Valid() bool {
	switch s {
	case OutcomeSucceeded, OutcomeFailed, OutcomeCancelled:
		return true
	}
	return false
}

// Outcome of presenting an intent to the customer.
type Outcome struct {
	Status  OutcomeStatus `json:"status"`
	Message string        `json:"message,omitempty"`
}

// Succeeded reports whether the customer completed payment.
func (o Outcome) Succeeded() bool { return o.Status == OutcomeSucceeded }

// Confirmer presents an intent to the customer and waits for the outcome.
type Confirmer interface {
	Confirm(ctx context.Context, intent *Intent) (Outcome, error)
}

// ConfirmerFunc adapts a function to Confirmer.
type ConfirmerFunc func(ctx context.Context, intent *Intent) (Outcome, error)

func (f ConfirmerFunc) Confirm(ctx context.Context, intent *Intent) (Outcome, error) {
	return f(ctx, intent)
}

// HandOff is a Confirmer for a payment UI that runs outside the process: the
// intent is published on Presented and Confirm blocks until Deliver is called.
type HandOff struct {
	presented chan *Intent
	outcome   chan Outcome
	delivered atomic.Bool
}

func NewHandOff() *HandOff {
	return &HandOff{
		presented: make(chan *Intent, 1),
		outcome:   make(chan Outcome, 1),
	}
}

// Confirm implements Confirmer.
func (h *HandOff) Confirm(ctx context.Context, intent *Intent) (Outcome, error) {
	select {
	case h.presented <- intent:
	default:
		return Outcome{}, fmt.Errorf("intent %s already presented", intent.ID)
	}

	select {
	case o := <-h.outcome:
		return o, nil
	case <-ctx.Done():
		return Outcome{}, fmt.Errorf("waiting for payment confirmation: %w", ctx.Err())
	}
}

// Presented yields the intent once Confirm has been called.
func (h *HandOff) Presented() <-chan *Intent { return h.presented }

// Deliver hands the outcome to a waiting or future Confirm. It returns false
// when an outcome was already delivered.
func (h *HandOff) Deliver(o Outcome) bool {
	if !h.delivered.CompareAndSwap(false, true) {
		return false
	}
	h.outcome <- o
	return true
}
