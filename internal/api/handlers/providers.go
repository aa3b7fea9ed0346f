package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/door-access-manager/backend/internal/integration"
)

// ProviderResponse describes one registered integration provider.
type ProviderResponse struct {
	Alias                    string         `json:"alias"`
	Title                    string         `json:"title"`
	DefaultSettings          map[string]any `json:"default_settings"`
	CanUnlockDevices         bool           `json:"can_unlock_devices"`
	CanWatchFirstAccess      bool           `json:"can_watch_first_access"`
	CanCleanExpiredPasscodes bool           `json:"can_clean_expired_passcodes"`
}

// ListProviders returns the registered providers in registration order.
func ListProviders(registry *integration.Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		providers := []ProviderResponse{}
		for _, alias := range registry.Aliases() {
			p, err := registry.Get(alias)
			if err != nil {
				continue
			}
			providers = append(providers, ProviderResponse{
				Alias:                    p.Alias(),
				Title:                    p.Title(),
				DefaultSettings:          p.DefaultSettings(),
				CanUnlockDevices:         p.CanUnlockDevices(),
				CanWatchFirstAccess:      p.CanWatchFirstAccess(),
				CanCleanExpiredPasscodes: p.CanCleanExpiredPasscodes(),
			})
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(providers)
	}
}
