package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/door-access-manager/backend/internal/api/middleware"
	"github.com/door-access-manager/backend/internal/integration"
	"github.com/door-access-manager/backend/internal/websocket"
)

// ProfileResponse represents an integration profile in API responses.
type ProfileResponse struct {
	ID               int64                `json:"id"`
	ProviderAlias    string               `json:"provider_alias"`
	Name             string               `json:"name"`
	GenerationType   string               `json:"generation_type"`
	GenerationPeriod string               `json:"generation_period,omitempty"`
	Settings         map[string]any       `json:"settings"`
	Devices          []integration.Device `json:"devices"`
	CreatedAt        time.Time            `json:"created_at"`
	UpdatedAt        time.Time            `json:"updated_at"`
}

func profileResponse(p *integration.Profile) ProfileResponse {
	devices := p.Devices
	if devices == nil {
		devices = []integration.Device{}
	}
	settings := p.Settings
	if settings == nil {
		settings = map[string]any{}
	}
	return ProfileResponse{
		ID:               p.ID,
		ProviderAlias:    p.ProviderAlias,
		Name:             p.Name,
		GenerationType:   string(p.GenerationType),
		GenerationPeriod: p.GenerationPeriod,
		Settings:         settings,
		Devices:          devices,
		CreatedAt:        p.CreatedAt,
		UpdatedAt:        p.UpdatedAt,
	}
}

// profileRequest is the JSON body for create and update.
type profileRequest struct {
	Name              string         `json:"name"`
	GenerationType    string         `json:"generation_type"`
	GenerationPeriod  string         `json:"generation_period"`
	Settings          map[string]any `json:"settings"`
	OverwriteSettings bool           `json:"overwrite_settings"`
}

// ListProfiles returns all integration profiles.
func ListProfiles(store integration.ProfileStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		profiles, err := store.ListAll(r.Context())
		if err != nil {
			middleware.WriteError(w, http.StatusInternalServerError, middleware.ErrInternalError, "Failed to load profiles")
			return
		}

		out := []ProfileResponse{}
		for _, p := range profiles {
			out = append(out, profileResponse(p))
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(out)
	}
}

// GetProfile returns one profile by id.
func GetProfile(registry *integration.Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		provider, ok := loadProfileProvider(w, r, registry)
		if !ok {
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(profileResponse(provider.Profile()))
	}
}

// CreateProfile creates a profile for the provider named in the URL.
func CreateProfile(registry *integration.Registry, broadcaster *websocket.EventBroadcaster) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		alias := mux.Vars(r)["alias"]

		provider, err := registry.Get(alias)
		if err != nil {
			middleware.WriteDomainError(w, err)
			return
		}

		var req profileRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			middleware.WriteError(w, http.StatusBadRequest, middleware.ErrBadRequest, "Invalid JSON body")
			return
		}

		err = registry.Save(r.Context(), provider, integration.SaveOptions{
			Name:              req.Name,
			GenerationType:    req.GenerationType,
			GenerationPeriod:  req.GenerationPeriod,
			Settings:          req.Settings,
			OverwriteSettings: req.OverwriteSettings,
		})
		if err != nil {
			middleware.WriteDomainError(w, err)
			return
		}

		profile := provider.Profile()
		broadcaster.BroadcastProfileSaved(alias, profile.ID, profile.Name)

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(profileResponse(profile))
	}
}

// UpdateProfile updates an existing profile.
func UpdateProfile(registry *integration.Registry, broadcaster *websocket.EventBroadcaster) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		provider, ok := loadProfileProvider(w, r, registry)
		if !ok {
			return
		}

		var req profileRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			middleware.WriteError(w, http.StatusBadRequest, middleware.ErrBadRequest, "Invalid JSON body")
			return
		}

		err := registry.Save(r.Context(), provider, integration.SaveOptions{
			ID:                provider.Profile().ID,
			Name:              req.Name,
			GenerationType:    req.GenerationType,
			GenerationPeriod:  req.GenerationPeriod,
			Settings:          req.Settings,
			OverwriteSettings: req.OverwriteSettings,
		})
		if err != nil {
			middleware.WriteDomainError(w, err)
			return
		}

		profile := provider.Profile()
		broadcaster.BroadcastProfileSaved(profile.ProviderAlias, profile.ID, profile.Name)

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(profileResponse(profile))
	}
}

// DeleteProfile tears down the provider's vendor-side state and removes the
// profile.
func DeleteProfile(registry *integration.Registry, broadcaster *websocket.EventBroadcaster) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		provider, ok := loadProfileProvider(w, r, registry)
		if !ok {
			return
		}

		profile := provider.Profile()
		if err := registry.Delete(r.Context(), provider); err != nil {
			middleware.WriteDomainError(w, err)
			return
		}

		broadcaster.BroadcastProfileDeleted(profile.ProviderAlias, profile.ID)
		w.WriteHeader(http.StatusNoContent)
	}
}

// SyncDevices refreshes the profile's device list from the vendor.
func SyncDevices(registry *integration.Registry, broadcaster *websocket.EventBroadcaster) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		provider, ok := loadProfileProvider(w, r, registry)
		if !ok {
			return
		}

		if err := registry.UpdateDevices(r.Context(), provider); err != nil {
			middleware.WriteDomainError(w, err)
			return
		}

		profile := provider.Profile()
		broadcaster.BroadcastDevicesSynced(profile.ProviderAlias, profile.ID, len(profile.Devices))

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(profileResponse(profile))
	}
}

// unitRequest is the JSON body for connect and disconnect.
type unitRequest struct {
	ListingID int `json:"listing_id"`
	SubUnit   int `json:"sub_unit"`
}

// ConnectDeviceUnit assigns a listing (and optional sub-unit) to a device.
func ConnectDeviceUnit(registry *integration.Registry) http.HandlerFunc {
	return deviceUnitHandler(registry, registry.ConnectUnit)
}

// DisconnectDeviceUnit removes a device's unit assignment.
func DisconnectDeviceUnit(registry *integration.Registry) http.HandlerFunc {
	return deviceUnitHandler(registry, registry.DisconnectUnit)
}

func deviceUnitHandler(
	registry *integration.Registry,
	apply func(ctx context.Context, provider integration.Provider, deviceID string, listingID, subUnit int) error,
) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		provider, ok := loadProfileProvider(w, r, registry)
		if !ok {
			return
		}

		deviceID := mux.Vars(r)["deviceId"]

		var req unitRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			middleware.WriteError(w, http.StatusBadRequest, middleware.ErrBadRequest, "Invalid JSON body")
			return
		}
		if req.ListingID <= 0 {
			middleware.WriteError(w, http.StatusBadRequest, middleware.ErrValidation, "listing_id is required")
			return
		}

		if err := apply(r.Context(), provider, deviceID, req.ListingID, req.SubUnit); err != nil {
			middleware.WriteDomainError(w, err)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(profileResponse(provider.Profile()))
	}
}

// DeviceCapabilities lists the capabilities of one device.
func DeviceCapabilities(registry *integration.Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		provider, ok := loadProfileProvider(w, r, registry)
		if !ok {
			return
		}

		device, found := findDevice(provider.Profile(), mux.Vars(r)["deviceId"])
		if !found {
			middleware.WriteError(w, http.StatusNotFound, middleware.ErrNotFound, "Device not found on profile")
			return
		}

		capabilities := provider.Capabilities(device)
		if capabilities == nil {
			capabilities = []integration.Capability{}
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(capabilities)
	}
}

// capabilityRequest is the JSON body for capability execution.
type capabilityRequest struct {
	Callback string         `json:"callback"`
	Params   map[string]any `json:"params"`
}

// ExecuteCapability runs a device capability and persists the profile's data
// bag when the provider mutated it.
func ExecuteCapability(registry *integration.Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		provider, ok := loadProfileProvider(w, r, registry)
		if !ok {
			return
		}

		device, found := findDevice(provider.Profile(), mux.Vars(r)["deviceId"])
		if !found {
			middleware.WriteError(w, http.StatusNotFound, middleware.ErrNotFound, "Device not found on profile")
			return
		}

		var req capabilityRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			middleware.WriteError(w, http.StatusBadRequest, middleware.ErrBadRequest, "Invalid JSON body")
			return
		}
		if req.Callback == "" {
			middleware.WriteError(w, http.StatusBadRequest, middleware.ErrValidation, "callback is required")
			return
		}

		result, err := provider.ExecuteCapability(r.Context(), device, req.Callback, req.Params)
		if err != nil {
			middleware.WriteDomainError(w, err)
			return
		}

		if result.DataChanged {
			if err := registry.PersistData(r.Context(), provider); err != nil {
				middleware.WriteDomainError(w, err)
				return
			}
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(result)
	}
}

// loadProfileProvider resolves the {id} path variable into a configured
// provider, writing the error response on failure.
func loadProfileProvider(w http.ResponseWriter, r *http.Request, registry *integration.Registry) (integration.Provider, bool) {
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil || id <= 0 {
		middleware.WriteError(w, http.StatusBadRequest, middleware.ErrBadRequest, "Invalid profile id")
		return nil, false
	}

	provider, err := registry.LoadProfile(r.Context(), id)
	if err != nil {
		middleware.WriteDomainError(w, err)
		return nil, false
	}
	if provider == nil {
		middleware.WriteError(w, http.StatusNotFound, middleware.ErrNotFound, "Integration profile not found")
		return nil, false
	}
	return provider, true
}

func findDevice(profile *integration.Profile, deviceID string) (integration.Device, bool) {
	for _, d := range profile.Devices {
		if d.ID == deviceID {
			return d, true
		}
	}
	return integration.Device{}, false
}
