package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/door-access-manager/backend/internal/api/middleware"
	"github.com/door-access-manager/backend/internal/booking"
	"github.com/door-access-manager/backend/internal/integration"
	"github.com/door-access-manager/backend/internal/token"
)

// parseTemplateRequest is the JSON body for template substitution.
type parseTemplateRequest struct {
	Template  string `json:"template"`
	BookingID int64  `json:"booking_id"`
}

// ParseTemplateResponse carries the substituted template.
type ParseTemplateResponse struct {
	Result  string `json:"result"`
	Handled int    `json:"handled"`
}

// ParseTemplate substitutes door-access tokens in a message template with
// the passcodes generated for a booking.
func ParseTemplate(parser *token.Parser, bookings booking.Source) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req parseTemplateRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			middleware.WriteError(w, http.StatusBadRequest, middleware.ErrBadRequest, "Invalid JSON body")
			return
		}
		if req.BookingID == 0 {
			middleware.WriteError(w, http.StatusBadRequest, middleware.ErrValidation, "booking_id is required")
			return
		}

		ctx := r.Context()
		b, err := bookings.Get(ctx, req.BookingID)
		if err != nil {
			middleware.WriteError(w, http.StatusInternalServerError, middleware.ErrInternalError, "Failed to load booking")
			return
		}
		if b == nil {
			middleware.WriteError(w, http.StatusNotFound, middleware.ErrNotFound, "Booking not found")
			return
		}

		result, handled := parser.Substitute(ctx, req.Template, b)

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(ParseTemplateResponse{Result: result, Handled: handled})
	}
}

// SpecialTagsResponse lists the door-access tags available to templates.
type SpecialTagsResponse struct {
	Tags []string `json:"tags"`
}

// SpecialTags lists one template tag per persisted profile for the admin
// UI's template editor.
func SpecialTags(store integration.ProfileStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		profiles, err := store.ListAll(r.Context())
		if err != nil {
			middleware.WriteError(w, http.StatusInternalServerError, middleware.ErrInternalError, "Failed to load profiles")
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(SpecialTagsResponse{Tags: token.SpecialTags(profiles)})
	}
}
