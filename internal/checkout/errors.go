package checkout

import (
	"errors"
	"fmt"
	"net/http"

	apperrors "github.com/utafrali/DinerGo/pkg/errors"
)

// Kind classifies why a checkout failed.
type Kind string

const (
	KindValidation                     Kind = "ValidationError"
	KindPaymentIntent                  Kind = "PaymentIntentError"
	KindPaymentIntentTimeout           Kind = "PaymentIntentTimeout"
	KindPaymentDeclinedOrCancelled     Kind = "PaymentDeclinedOrCancelled"
	KindOrderPersistFailedAfterPayment Kind = "OrderPersistFailedAfterPayment"
	KindCheckoutInProgress             Kind = "CheckoutInProgress"
)

var (
	ErrEmptyCart           = errors.New("cart is empty")
	ErrMissingAddress      = errors.New("delivery address is required")
	ErrMissingEmail        = errors.New("customer email is required")
	ErrPaymentNotCompleted = errors.New("payment was not completed")
	// ErrPaymentUnverified means the provider could not be asked whether the
	// intent was captured.
	ErrPaymentUnverified = errors.New("payment could not be verified")
	// ErrPaymentAmountMismatch means the provider captured a different amount
	// or currency than the cart total.
	ErrPaymentAmountMismatch = errors.New("captured amount does not match order total")
)

// Error is the only error type Run returns.
type Error struct {
	Kind  Kind
	Stage Stage
	// Timeout is set when the stage ran out of time rather than being refused.
	Timeout bool
	Err     error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("checkout failed at %s: %s", e.Stage, e.Kind)
	if e.Timeout {
		msg += " (timeout)"
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// KindOf returns the kind of a checkout error, or "" for other errors.
func KindOf(err error) Kind {
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Kind
	}
	return ""
}

// UserMessage is the text shown to the customer for this failure.
func (e *Error) UserMessage() string {
	switch e.Kind {
	case KindValidation:
		switch {
		case errors.Is(e.Err, ErrEmptyCart):
			return "Your cart is empty."
		case errors.Is(e.Err, ErrMissingEmail):
			return "An email address is needed for your receipt. Please sign in again."
		}
		return "Please enter a delivery address."
	case KindCheckoutInProgress:
		return "A checkout is already in progress for this cart."
	case KindPaymentIntent:
		return "We could not start the payment. Please try again."
	case KindPaymentIntentTimeout:
		return "The payment service took too long to respond. Please try again."
	case KindPaymentDeclinedOrCancelled:
		if errors.Is(e.Err, ErrPaymentUnverified) || errors.Is(e.Err, ErrPaymentAmountMismatch) {
			return "We could not confirm your payment. If you were charged, please contact support; do not pay again."
		}
		return "The payment was not completed. You have not been charged."
	case KindOrderPersistFailedAfterPayment:
		return "Your payment was taken but we could not record your order. Please contact support; do not pay again."
	default:
		return "Checkout failed."
	}
}

// AppError converts e into the envelope error written to HTTP clients.
func (e *Error) AppError() *apperrors.AppError {
	status, code := http.StatusInternalServerError, "CHECKOUT_FAILED"
	switch e.Kind {
	case KindValidation:
		status, code = http.StatusBadRequest, "CHECKOUT_VALIDATION"
	case KindCheckoutInProgress:
		status, code = http.StatusConflict, "CHECKOUT_IN_PROGRESS"
	case KindPaymentIntent:
		status, code = http.StatusBadGateway, "PAYMENT_INTENT_FAILED"
	case KindPaymentIntentTimeout:
		status, code = http.StatusGatewayTimeout, "PAYMENT_INTENT_TIMEOUT"
	case KindPaymentDeclinedOrCancelled:
		return apperrors.PaymentRequired("PAYMENT_NOT_COMPLETED", e.UserMessage())
	case KindOrderPersistFailedAfterPayment:
		status, code = http.StatusInternalServerError, "ORDER_NOT_RECORDED"
	}
	return &apperrors.AppError{Code: code, Message: e.UserMessage(), Status: status, Err: e}
}
