package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/door-access-manager/backend/internal/api/middleware"
	"github.com/door-access-manager/backend/internal/dispatch"
)

// JobResponse reports the outcome of a manually triggered job run.
type JobResponse struct {
	Job       string `json:"job"`
	Processed int    `json:"processed"`
}

// TriggerUpcomingArrivals runs the passcode generation job for upcoming
// check-ins on demand.
func TriggerUpcomingArrivals(dispatcher *dispatch.Dispatcher) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		generated, err := dispatcher.RunUpcomingArrivals(r.Context())
		if err != nil {
			middleware.WriteDomainError(w, err)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(JobResponse{Job: "upcoming-arrivals", Processed: generated})
	}
}

// TriggerFirstAccessWatch runs the first-access detection job on demand.
func TriggerFirstAccessWatch(dispatcher *dispatch.Dispatcher) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		detected, err := dispatcher.RunWatchFirstAccess(r.Context())
		if err != nil {
			middleware.WriteDomainError(w, err)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(JobResponse{Job: "watch-first-access", Processed: detected})
	}
}

// TriggerCleanupExpired runs the expired passcode cleanup job on demand.
// Optional "from" and "to" query parameters (RFC 3339) override the default
// trailing week.
func TriggerCleanupExpired(dispatcher *dispatch.Dispatcher) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		from, ok := parseTimeParam(w, r, "from")
		if !ok {
			return
		}
		to, ok := parseTimeParam(w, r, "to")
		if !ok {
			return
		}

		deleted, err := dispatcher.RunCleanupExpired(r.Context(), from, to)
		if err != nil {
			middleware.WriteDomainError(w, err)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(JobResponse{Job: "cleanup-expired", Processed: deleted})
	}
}

func parseTimeParam(w http.ResponseWriter, r *http.Request, name string) (time.Time, bool) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return time.Time{}, true
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		middleware.WriteError(w, http.StatusBadRequest, middleware.ErrValidation, name+" must be RFC 3339")
		return time.Time{}, false
	}
	return t, true
}
