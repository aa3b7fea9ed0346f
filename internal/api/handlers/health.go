// Package handlers provides HTTP request handlers for the API endpoints.
package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/door-access-manager/backend/internal/integration"
	"github.com/door-access-manager/backend/internal/storage"
	"github.com/door-access-manager/backend/internal/websocket"
)

// HealthResponse represents the health check response.
type HealthResponse struct {
	Status      string `json:"status"`
	DBConnected bool   `json:"db_connected"`
}

// HealthCheck returns a handler that performs a health check.
func HealthCheck(db *storage.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		dbConnected := db.Ping() == nil

		status := "healthy"
		if !dbConnected {
			status = "degraded"
		}

		response := HealthResponse{
			Status:      status,
			DBConnected: dbConnected,
		}

		w.Header().Set("Content-Type", "application/json")
		if status != "healthy" {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		json.NewEncoder(w).Encode(response)
	}
}

// StatusResponse represents the system status response.
type StatusResponse struct {
	Providers        []string `json:"providers"`
	ProfilesCount    int      `json:"profiles_count"`
	BookingsCount    int      `json:"bookings_count"`
	HistoryCount     int      `json:"history_count"`
	ConnectedClients int      `json:"connected_clients"`
}

// Status returns a handler that provides system status information.
func Status(db *storage.DB, hub *websocket.Hub, registry *integration.Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		var profilesCount int
		db.QueryRowContext(ctx, "SELECT COUNT(*) FROM integration_profiles").Scan(&profilesCount)

		var bookingsCount int
		db.QueryRowContext(ctx, "SELECT COUNT(*) FROM bookings").Scan(&bookingsCount)

		var historyCount int
		db.QueryRowContext(ctx, "SELECT COUNT(*) FROM booking_history").Scan(&historyCount)

		response := StatusResponse{
			Providers:        registry.Aliases(),
			ProfilesCount:    profilesCount,
			BookingsCount:    bookingsCount,
			HistoryCount:     historyCount,
			ConnectedClients: hub.ClientCount(),
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(response)
	}
}
