// Package http is the JSON API of the diner service.
package http

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/utafrali/DinerGo/internal/cart"
	"github.com/utafrali/DinerGo/internal/domain"
	"github.com/utafrali/DinerGo/internal/repository"
	apperrors "github.com/utafrali/DinerGo/pkg/errors"
	"github.com/utafrali/DinerGo/pkg/httputil"
	"github.com/utafrali/DinerGo/pkg/middleware"
	"github.com/utafrali/DinerGo/pkg/validator"
)

// CartProvider returns the live cart of a user. *cart.Registry implements it.
type CartProvider interface {
	For(ctx context.Context, userID string) (*cart.Store, error)
}

// CartHandler handles HTTP requests for cart endpoints.
type CartHandler struct {
	carts  CartProvider
	menu   repository.MenuRepository
	logger *slog.Logger
}

// NewCartHandler creates a new cart HTTP handler. Items are priced from menu.
func NewCartHandler(carts CartProvider, menu repository.MenuRepository, logger *slog.Logger) *CartHandler {
	return &CartHandler{
		carts:  carts,
		menu:   menu,
		logger: logger,
	}
}

// --- Request / response DTOs ---

// AddItemRequest is the JSON body of POST /api/v1/cart/items. Name and price
// are taken from the menu, never from the client.
type AddItemRequest struct {
	ItemID string `json:"itemId" validate:"required,max=128"`
}

// CartResponse is a cart as shown to the app.
type CartResponse struct {
	Lines     []domain.CartLine `json:"lines"`
	Total     decimal.Decimal   `json:"total"`
	ItemCount int               `json:"itemCount"`
	// CheckoutInProgress is set while the cart is frozen by a checkout.
	CheckoutInProgress bool `json:"checkoutInProgress"`
}

func newCartResponse(c domain.Cart, frozen bool) CartResponse {
	lines := c.Lines
	if lines == nil {
		lines = []domain.CartLine{}
	}
	return CartResponse{
		Lines:              lines,
		Total:              c.Total(),
		ItemCount:          c.ItemCount(),
		CheckoutInProgress: frozen,
	}
}

// --- Handlers ---

// GetCart handles GET /api/v1/cart
func (h *CartHandler) GetCart(w http.ResponseWriter, r *http.Request) {
	store, ok := h.store(w, r)
	if !ok {
		return
	}
	httputil.WriteData(w, http.StatusOK, newCartResponse(store.Snapshot(), store.Frozen()))
}

// AddItem handles POST /api/v1/cart/items
func (h *CartHandler) AddItem(w http.ResponseWriter, r *http.Request) {
	var req AddItemRequest
	if err := validator.DecodeAndValidate(r, &req); err != nil {
		httputil.WriteDecodeError(w, r, err)
		return
	}

	item, err := h.menu.GetByID(r.Context(), strings.TrimSpace(req.ItemID))
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	if !item.Available {
		httputil.WriteError(w, r, apperrors.Conflict("ITEM_UNAVAILABLE", item.Name+" is not available right now"), h.logger)
		return
	}

	store, ok := h.store(w, r)
	if !ok {
		return
	}

	c, err := store.Add(r.Context(), *item)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteData(w, http.StatusOK, newCartResponse(c, false))
}

// RemoveItem handles DELETE /api/v1/cart/items/{itemId}. Removing an item
// that is not in the cart succeeds and returns the unchanged cart.
func (h *CartHandler) RemoveItem(w http.ResponseWriter, r *http.Request) {
	store, ok := h.store(w, r)
	if !ok {
		return
	}

	c, err := store.Remove(r.Context(), chi.URLParam(r, "itemId"))
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteData(w, http.StatusOK, newCartResponse(c, false))
}

// DecrementItem handles POST /api/v1/cart/items/{itemId}/decrement
func (h *CartHandler) DecrementItem(w http.ResponseWriter, r *http.Request) {
	store, ok := h.store(w, r)
	if !ok {
		return
	}

	c, err := store.Decrement(r.Context(), chi.URLParam(r, "itemId"))
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteData(w, http.StatusOK, newCartResponse(c, false))
}

// ClearCart handles DELETE /api/v1/cart
func (h *CartHandler) ClearCart(w http.ResponseWriter, r *http.Request) {
	store, ok := h.store(w, r)
	if !ok {
		return
	}

	if err := store.Clear(r.Context()); err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// store resolves the caller's cart, writing the error response on failure.
func (h *CartHandler) store(w http.ResponseWriter, r *http.Request) (*cart.Store, bool) {
	userID := middleware.UserIDFromContext(r.Context())
	if userID == "" {
		httputil.WriteError(w, r, apperrors.Unauthorized("authentication required"), h.logger)
		return nil, false
	}

	store, err := h.carts.For(r.Context(), userID)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return nil, false
	}
	return store, true
}
