package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/mux"

	"github.com/door-access-manager/backend/internal/api/middleware"
	"github.com/door-access-manager/backend/internal/history"
	"github.com/door-access-manager/backend/internal/notify"
	"github.com/door-access-manager/backend/internal/storage"
)

// ListNotifications returns the most recent operator notifications.
func ListNotifications(repo *storage.NotificationRepository) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

		entries, err := repo.List(r.Context(), limit)
		if err != nil {
			middleware.WriteError(w, http.StatusInternalServerError, middleware.ErrInternalError, "Failed to load notifications")
			return
		}
		if entries == nil {
			entries = []*notify.Entry{}
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(entries)
	}
}

// BookingHistory returns a booking's door-access history, newest first.
// Optional "codes" query parameter filters to a comma-separated code list.
func BookingHistory(store history.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		bookingID, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
		if err != nil || bookingID <= 0 {
			middleware.WriteError(w, http.StatusBadRequest, middleware.ErrBadRequest, "Invalid booking id")
			return
		}

		var codes []history.Code
		if raw := r.URL.Query().Get("codes"); raw != "" {
			for _, c := range strings.Split(raw, ",") {
				if c = strings.TrimSpace(c); c != "" {
					codes = append(codes, history.Code(c))
				}
			}
		}

		events, err := store.List(r.Context(), bookingID, codes...)
		if err != nil {
			middleware.WriteError(w, http.StatusInternalServerError, middleware.ErrInternalError, "Failed to load booking history")
			return
		}
		if events == nil {
			events = []*history.Event{}
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(events)
	}
}
