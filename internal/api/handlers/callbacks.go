package handlers

import (
	"io"
	"net/http"

	"github.com/door-access-manager/backend/internal/api/middleware"
	"github.com/door-access-manager/backend/internal/integration"
)

// OAuthCallback forwards a vendor OAuth redirect to the profile's provider
// and redirects the operator to wherever the provider says to go next.
func OAuthCallback(registry *integration.Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		provider, ok := loadProfileProvider(w, r, registry)
		if !ok {
			return
		}

		redirect, err := provider.SpawnOAuthCallback(r.Context(), r.URL.Query())
		if err != nil {
			middleware.WriteDomainError(w, err)
			return
		}

		// The callback may have stashed tokens in the profile's data bag.
		if err := registry.PersistData(r.Context(), provider); err != nil {
			middleware.WriteDomainError(w, err)
			return
		}

		http.Redirect(w, r, redirect, http.StatusFound)
	}
}

// WebhookCallback forwards an inbound vendor webhook to the profile's
// provider.
func WebhookCallback(registry *integration.Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		provider, ok := loadProfileProvider(w, r, registry)
		if !ok {
			return
		}

		payload, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
		if err != nil {
			middleware.WriteError(w, http.StatusBadRequest, middleware.ErrBadRequest, "Failed to read payload")
			return
		}

		if err := provider.SpawnWebhookCallback(r.Context(), payload); err != nil {
			middleware.WriteDomainError(w, err)
			return
		}

		if err := registry.PersistData(r.Context(), provider); err != nil {
			middleware.WriteDomainError(w, err)
			return
		}

		w.WriteHeader(http.StatusNoContent)
	}
}
