package http

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/utafrali/DinerGo/internal/repository"
	apperrors "github.com/utafrali/DinerGo/pkg/errors"
	"github.com/utafrali/DinerGo/pkg/httputil"
	"github.com/utafrali/DinerGo/pkg/middleware"
	"github.com/utafrali/DinerGo/pkg/validator"
)

// ProfileHandler reads and saves the caller's delivery address.
type ProfileHandler struct {
	profiles repository.ProfileRepository
	logger   *slog.Logger
}

// NewProfileHandler creates a new profile HTTP handler.
func NewProfileHandler(profiles repository.ProfileRepository, logger *slog.Logger) *ProfileHandler {
	return &ProfileHandler{profiles: profiles, logger: logger}
}

// AddressRequest is the JSON body of PUT /api/v1/profile/address.
type AddressRequest struct {
	Address string `json:"address" validate:"required,max=500"`
}

// AddressResponse carries the saved delivery address, "" when none is saved.
type AddressResponse struct {
	Address string `json:"address"`
}

// GetAddress handles GET /api/v1/profile/address
func (h *ProfileHandler) GetAddress(w http.ResponseWriter, r *http.Request) {
	userID := middleware.UserIDFromContext(r.Context())
	if userID == "" {
		httputil.WriteError(w, r, apperrors.Unauthorized("authentication required"), h.logger)
		return
	}

	addr, err := h.profiles.DeliveryAddress(r.Context(), userID)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	httputil.WriteData(w, http.StatusOK, AddressResponse{Address: addr})
}

// SaveAddress handles PUT /api/v1/profile/address
func (h *ProfileHandler) SaveAddress(w http.ResponseWriter, r *http.Request) {
	userID := middleware.UserIDFromContext(r.Context())
	if userID == "" {
		httputil.WriteError(w, r, apperrors.Unauthorized("authentication required"), h.logger)
		return
	}

	var req AddressRequest
	if err := validator.DecodeAndValidate(r, &req); err != nil {
		httputil.WriteDecodeError(w, r, err)
		return
	}
	addr := strings.TrimSpace(req.Address)
	if addr == "" {
		httputil.WriteError(w, r, apperrors.InvalidInput("address must not be blank"), h.logger)
		return
	}

	if err := h.profiles.SaveDeliveryAddress(r.Context(), userID, addr); err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	h.logger.InfoContext(r.Context(), "delivery address saved", slog.String("user_id", userID))
	httputil.WriteData(w, http.StatusOK, AddressResponse{Address: addr})
}
