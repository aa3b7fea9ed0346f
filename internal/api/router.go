// Package api provides HTTP routing and handlers for the REST API.
package api

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/door-access-manager/backend/internal/api/handlers"
	"github.com/door-access-manager/backend/internal/api/middleware"
	"github.com/door-access-manager/backend/internal/dispatch"
	"github.com/door-access-manager/backend/internal/integration"
	"github.com/door-access-manager/backend/internal/storage"
	"github.com/door-access-manager/backend/internal/token"
	"github.com/door-access-manager/backend/internal/websocket"
)

// Deps bundles the collaborators the router wires into handlers.
type Deps struct {
	DB            *storage.DB
	Hub           *websocket.Hub
	Broadcaster   *websocket.EventBroadcaster
	Registry      *integration.Registry
	Dispatcher    *dispatch.Dispatcher
	Parser        *token.Parser
	Profiles      *storage.ProfileRepository
	Bookings      *storage.BookingRepository
	History       *storage.HistoryRepository
	Notifications *storage.NotificationRepository
	StaticDir     string
}

// NewRouter creates and configures the HTTP router with all API routes.
func NewRouter(deps Deps) *mux.Router {
	r := mux.NewRouter()

	// Apply global middleware
	r.Use(middleware.Logging)
	r.Use(middleware.ErrorRecovery)

	// API subrouter
	api := r.PathPrefix("/api").Subrouter()

	// Health and status endpoints
	api.HandleFunc("/health", handlers.HealthCheck(deps.DB)).Methods("GET")
	api.HandleFunc("/status", handlers.Status(deps.DB, deps.Hub, deps.Registry)).Methods("GET")

	// WebSocket endpoint
	api.HandleFunc("/ws", handlers.WebSocketUpgrade(deps.Hub)).Methods("GET")

	// Provider registry
	api.HandleFunc("/providers", handlers.ListProviders(deps.Registry)).Methods("GET")
	api.HandleFunc("/providers/{alias}/profiles", handlers.CreateProfile(deps.Registry, deps.Broadcaster)).Methods("POST")

	// Integration profiles
	api.HandleFunc("/profiles", handlers.ListProfiles(deps.Profiles)).Methods("GET")
	api.HandleFunc("/profiles/{id}", handlers.GetProfile(deps.Registry)).Methods("GET")
	api.HandleFunc("/profiles/{id}", handlers.UpdateProfile(deps.Registry, deps.Broadcaster)).Methods("PUT")
	api.HandleFunc("/profiles/{id}", handlers.DeleteProfile(deps.Registry, deps.Broadcaster)).Methods("DELETE")
	api.HandleFunc("/profiles/{id}/devices/sync", handlers.SyncDevices(deps.Registry, deps.Broadcaster)).Methods("POST")
	api.HandleFunc("/profiles/{id}/devices/{deviceId}/connect", handlers.ConnectDeviceUnit(deps.Registry)).Methods("POST")
	api.HandleFunc("/profiles/{id}/devices/{deviceId}/disconnect", handlers.DisconnectDeviceUnit(deps.Registry)).Methods("POST")
	api.HandleFunc("/profiles/{id}/devices/{deviceId}/capabilities", handlers.DeviceCapabilities(deps.Registry)).Methods("GET")
	api.HandleFunc("/profiles/{id}/devices/{deviceId}/capabilities", handlers.ExecuteCapability(deps.Registry)).Methods("POST")

	// Vendor callbacks
	api.HandleFunc("/profiles/{id}/callbacks/oauth", handlers.OAuthCallback(deps.Registry)).Methods("GET")
	api.HandleFunc("/profiles/{id}/callbacks/webhook", handlers.WebhookCallback(deps.Registry)).Methods("POST")

	// Booking lifecycle events
	api.HandleFunc("/events/confirmation", handlers.BookingConfirmed(deps.Bookings, deps.Dispatcher)).Methods("POST")
	api.HandleFunc("/events/modification", handlers.BookingModified(deps.Bookings, deps.Dispatcher)).Methods("POST")
	api.HandleFunc("/events/cancellation", handlers.BookingCancelled(deps.Bookings, deps.Dispatcher)).Methods("POST")
	api.HandleFunc("/events/precheckin-completed", handlers.PrecheckinCompleted(deps.Bookings, deps.Dispatcher)).Methods("POST")

	// Manual job triggers
	api.HandleFunc("/jobs/upcoming-arrivals", handlers.TriggerUpcomingArrivals(deps.Dispatcher)).Methods("POST")
	api.HandleFunc("/jobs/watch-first-access", handlers.TriggerFirstAccessWatch(deps.Dispatcher)).Methods("POST")
	api.HandleFunc("/jobs/cleanup-expired", handlers.TriggerCleanupExpired(deps.Dispatcher)).Methods("POST")

	// Template tokens
	api.HandleFunc("/tokens/parse", handlers.ParseTemplate(deps.Parser, deps.Bookings)).Methods("POST")
	api.HandleFunc("/tokens/special-tags", handlers.SpecialTags(deps.Profiles)).Methods("GET")

	// History and notifications
	api.HandleFunc("/bookings/{id}/history", handlers.BookingHistory(deps.History)).Methods("GET")
	api.HandleFunc("/notifications", handlers.ListNotifications(deps.Notifications)).Methods("GET")

	// Serve static frontend files
	if deps.StaticDir != "" {
		r.PathPrefix("/").Handler(http.FileServer(http.Dir(deps.StaticDir)))
	}

	return r
}
