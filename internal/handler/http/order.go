package http

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/utafrali/DinerGo/internal/repository"
	apperrors "github.com/utafrali/DinerGo/pkg/errors"
	"github.com/utafrali/DinerGo/pkg/httputil"
	"github.com/utafrali/DinerGo/pkg/middleware"
)

// OrderHandler serves recorded orders to their owners.
type OrderHandler struct {
	orders repository.OrderRepository
	logger *slog.Logger
}

// NewOrderHandler creates a new order HTTP handler.
func NewOrderHandler(orders repository.OrderRepository, logger *slog.Logger) *OrderHandler {
	return &OrderHandler{orders: orders, logger: logger}
}

// GetOrder handles GET /api/v1/orders/{orderId}
func (h *OrderHandler) GetOrder(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParseUUID(w, chi.URLParam(r, "orderId"))
	if !ok {
		return
	}

	order, err := h.orders.GetByID(r.Context(), id.String())
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	// Orders of other users are reported as missing.
	if order.UserID != middleware.UserIDFromContext(r.Context()) {
		httputil.WriteError(w, r, apperrors.NotFound("order", id.String()), h.logger)
		return
	}

	httputil.WriteData(w, http.StatusOK, order)
}
