package http

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/utafrali/DinerGo/internal/domain"
	"github.com/utafrali/DinerGo/internal/repository"
	"github.com/utafrali/DinerGo/pkg/httputil"
)

// MenuHandler serves the menu catalog.
type MenuHandler struct {
	menu   repository.MenuRepository
	logger *slog.Logger
}

// NewMenuHandler creates a new menu HTTP handler.
func NewMenuHandler(menu repository.MenuRepository, logger *slog.Logger) *MenuHandler {
	return &MenuHandler{menu: menu, logger: logger}
}

// MenuResponse is a page of the menu.
type MenuResponse struct {
	Category string            `json:"category"`
	Items    []domain.MenuItem `json:"items"`
}

// ListItems handles GET /api/v1/menu?category=
func (h *MenuHandler) ListItems(w http.ResponseWriter, r *http.Request) {
	category := domain.CategoryFilter(r.URL.Query().Get("category"))

	items, err := h.menu.List(r.Context(), category)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	if items == nil {
		items = []domain.MenuItem{}
	}

	if category == "" {
		category = domain.AllCategories
	}
	httputil.WriteData(w, http.StatusOK, MenuResponse{Category: category, Items: items})
}

// ListCategories handles GET /api/v1/menu/categories. The first entry is
// always "All".
func (h *MenuHandler) ListCategories(w http.ResponseWriter, r *http.Request) {
	categories, err := h.menu.Categories(r.Context())
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	httputil.WriteData(w, http.StatusOK, append([]string{domain.AllCategories}, categories...))
}

// GetItem handles GET /api/v1/menu/{itemId}
func (h *MenuHandler) GetItem(w http.ResponseWriter, r *http.Request) {
	item, err := h.menu.GetByID(r.Context(), chi.URLParam(r, "itemId"))
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	httputil.WriteData(w, http.StatusOK, item)
}
