package http

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/utafrali/DinerGo/internal/checkout"
	"github.com/utafrali/DinerGo/internal/payment"
	apperrors "github.com/utafrali/DinerGo/pkg/errors"
	"github.com/utafrali/DinerGo/pkg/httputil"
	"github.com/utafrali/DinerGo/pkg/middleware"
	"github.com/utafrali/DinerGo/pkg/validator"
)

// CheckoutSessions runs checkouts on behalf of HTTP clients.
// *checkout.Sessions implements it.
type CheckoutSessions interface {
	Start(ctx context.Context, c checkout.CartHandle, in checkout.Input) (checkout.SessionView, error)
	Confirm(ctx context.Context, sessionID, userID string, outcome payment.Outcome) (checkout.SessionView, error)
	Get(sessionID, userID string) (checkout.SessionView, error)
}

// CheckoutHandler handles HTTP requests for checkout endpoints.
type CheckoutHandler struct {
	carts    CartProvider
	sessions CheckoutSessions
	logger   *slog.Logger
}

// NewCheckoutHandler creates a new checkout HTTP handler.
func NewCheckoutHandler(carts CartProvider, sessions CheckoutSessions, logger *slog.Logger) *CheckoutHandler {
	return &CheckoutHandler{
		carts:    carts,
		sessions: sessions,
		logger:   logger,
	}
}

// StartCheckoutRequest is the JSON body of POST /api/v1/checkout. The body
// may be omitted entirely to use the saved address.
type StartCheckoutRequest struct {
	Address string `json:"address" validate:"max=500"`
}

// ConfirmationRequest is the JSON body of POST /api/v1/checkout/{id}/confirmation.
type ConfirmationRequest struct {
	Status  string `json:"status" validate:"required,oneof=succeeded failed cancelled"`
	Message string `json:"message" validate:"max=500"`
}

// Start handles POST /api/v1/checkout
func (h *CheckoutHandler) Start(w http.ResponseWriter, r *http.Request) {
	var req StartCheckoutRequest
	if err := validator.DecodeAndValidate(r, &req); err != nil {
		httputil.WriteDecodeError(w, r, err)
		return
	}

	claims := middleware.ClaimsFromContext(r.Context())
	if claims == nil {
		httputil.WriteError(w, r, apperrors.Unauthorized("authentication required"), h.logger)
		return
	}

	store, err := h.carts.For(r.Context(), claims.UserID)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	view, err := h.sessions.Start(r.Context(), store, checkout.Input{
		Customer: checkout.Customer{UserID: claims.UserID, Email: claims.Email},
		Address:  req.Address,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	httputil.WriteData(w, http.StatusCreated, view)
}

// Confirm handles POST /api/v1/checkout/{checkoutId}/confirmation. It waits
// for the order to be recorded and returns the finished session.
func (h *CheckoutHandler) Confirm(w http.ResponseWriter, r *http.Request) {
	var req ConfirmationRequest
	if err := validator.DecodeAndValidate(r, &req); err != nil {
		httputil.WriteDecodeError(w, r, err)
		return
	}

	view, err := h.sessions.Confirm(r.Context(),
		chi.URLParam(r, "checkoutId"),
		middleware.UserIDFromContext(r.Context()),
		payment.Outcome{Status: payment.OutcomeStatus(req.Status), Message: req.Message},
	)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	httputil.WriteData(w, http.StatusOK, view)
}

// Get handles GET /api/v1/checkout/{checkoutId}
func (h *CheckoutHandler) Get(w http.ResponseWriter, r *http.Request) {
	view, err := h.sessions.Get(chi.URLParam(r, "checkoutId"), middleware.UserIDFromContext(r.Context()))
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	httputil.WriteData(w, http.StatusOK, view)
}

func (h *CheckoutHandler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	// The timeout middleware answers 504 once the request deadline has passed.
	if errors.Is(err, context.DeadlineExceeded) && r.Context().Err() != nil {
		return
	}

	var ce *checkout.Error
	if errors.As(err, &ce) {
		err = ce.AppError()
	}
	httputil.WriteError(w, r, err, h.logger)
}
