package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/door-access-manager/backend/internal/api/middleware"
	"github.com/door-access-manager/backend/internal/booking"
	"github.com/door-access-manager/backend/internal/dispatch"
	"github.com/door-access-manager/backend/internal/storage"
)

// EventResponse reports the outcome of a lifecycle event dispatch.
type EventResponse struct {
	BookingID int64 `json:"booking_id"`
	Handled   bool  `json:"handled"`
}

// BookingConfirmed ingests a booking-confirmed event: the snapshot is stored
// and dispatched to the eligible providers.
func BookingConfirmed(bookings *storage.BookingRepository, dispatcher *dispatch.Dispatcher) http.HandlerFunc {
	return singleSnapshotEvent(bookings, dispatcher.ProcessConfirmation)
}

// BookingCancelled ingests a booking-cancelled event.
func BookingCancelled(bookings *storage.BookingRepository, dispatcher *dispatch.Dispatcher) http.HandlerFunc {
	return singleSnapshotEvent(bookings, dispatcher.ProcessCancellation)
}

// PrecheckinCompleted ingests a pre-checkin-completed event.
func PrecheckinCompleted(bookings *storage.BookingRepository, dispatcher *dispatch.Dispatcher) http.HandlerFunc {
	return singleSnapshotEvent(bookings, dispatcher.ProcessPrecheckinCompleted)
}

func singleSnapshotEvent(
	bookings *storage.BookingRepository,
	process func(ctx context.Context, b *booking.Snapshot) (bool, error),
) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var snapshot booking.Snapshot
		if err := json.NewDecoder(r.Body).Decode(&snapshot); err != nil {
			middleware.WriteError(w, http.StatusBadRequest, middleware.ErrBadRequest, "Invalid JSON body")
			return
		}
		if snapshot.ID == 0 {
			middleware.WriteError(w, http.StatusBadRequest, middleware.ErrValidation, "booking id is required")
			return
		}

		ctx := r.Context()
		if err := bookings.Upsert(ctx, &snapshot); err != nil {
			middleware.WriteError(w, http.StatusInternalServerError, middleware.ErrInternalError, "Failed to store booking")
			return
		}

		handled, err := process(ctx, &snapshot)
		if err != nil {
			middleware.WriteDomainError(w, err)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(EventResponse{BookingID: snapshot.ID, Handled: handled})
	}
}

// modificationRequest carries the before and after snapshots of an altered
// booking.
type modificationRequest struct {
	Previous *booking.Snapshot `json:"previous"`
	Current  *booking.Snapshot `json:"current"`
}

// BookingModified ingests a booking-altered event. The body carries both
// snapshots so the change can be classified without platform round-trips.
func BookingModified(bookings *storage.BookingRepository, dispatcher *dispatch.Dispatcher) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req modificationRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			middleware.WriteError(w, http.StatusBadRequest, middleware.ErrBadRequest, "Invalid JSON body")
			return
		}
		if req.Current == nil || req.Current.ID == 0 {
			middleware.WriteError(w, http.StatusBadRequest, middleware.ErrValidation, "current booking snapshot with id is required")
			return
		}

		ctx := r.Context()
		if err := bookings.Upsert(ctx, req.Current); err != nil {
			middleware.WriteError(w, http.StatusInternalServerError, middleware.ErrInternalError, "Failed to store booking")
			return
		}

		handled, err := dispatcher.ProcessModification(ctx, req.Previous, req.Current)
		if err != nil {
			middleware.WriteDomainError(w, err)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(EventResponse{BookingID: req.Current.ID, Handled: handled})
	}
}
