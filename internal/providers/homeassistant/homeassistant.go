// Package homeassistant integrates door locks exposed through a Home
// Assistant instance. Codes are written over the REST API using the
// lock.set_usercode and lock.clear_usercode services.
package homeassistant

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/door-access-manager/backend/internal/integration"
	"github.com/door-access-manager/backend/internal/providers/passcode"
)

// Alias identifies this provider in the registry.
const Alias = "homeassistant"

const (
	defaultSlotOffset = 10
	defaultGuestSlots = 5
	requestTimeout    = 15 * time.Second
)

// Provider drives Home Assistant lock entities.
type Provider struct {
	integration.BaseProvider
	client *http.Client
}

// New builds a Home Assistant provider with a default HTTP client.
func New() integration.Provider {
	return &Provider{
		client: &http.Client{Timeout: requestTimeout},
	}
}

func (p *Provider) Alias() string { return Alias }
func (p *Provider) Title() string { return "Home Assistant" }

func (p *Provider) DefaultSettings() map[string]any {
	return map[string]any{
		"base_url":    "http://homeassistant.local:8123",
		"token":       "",
		"slot_offset": defaultSlotOffset,
		"guest_slots": defaultGuestSlots,
	}
}

func (p *Provider) CanUnlockDevices() bool         { return true }
func (p *Provider) CanCleanExpiredPasscodes() bool { return true }

// haState mirrors the subset of GET /api/states we care about.
type haState struct {
	EntityID   string `json:"entity_id"`
	State      string `json:"state"`
	Attributes struct {
		FriendlyName string `json:"friendly_name"`
		BatteryLevel *int   `json:"battery_level"`
	} `json:"attributes"`
}

// FetchDevices lists all lock.* entities known to the instance.
func (p *Provider) FetchDevices(ctx context.Context) ([]integration.Device, error) {
	var states []haState
	if err := p.call(ctx, http.MethodGet, "/api/states", nil, &states); err != nil {
		return nil, integration.NewVendorError(err, "fetching entity states")
	}

	var devices []integration.Device
	for _, s := range states {
		if !strings.HasPrefix(s.EntityID, "lock.") {
			continue
		}
		name := s.Attributes.FriendlyName
		if name == "" {
			name = s.EntityID
		}
		devices = append(devices, integration.Device{
			ID:           s.EntityID,
			Name:         name,
			Model:        "Home Assistant lock",
			Icon:         "lock",
			BatteryLevel: s.Attributes.BatteryLevel,
		})
	}
	return devices, nil
}

func (p *Provider) Capabilities(device integration.Device) []integration.Capability {
	return []integration.Capability{
		{
			ID:          "unlock",
			Title:       "Unlock",
			Description: "Unlock " + device.Name + " remotely",
			Icon:        "lock-open",
			Callback:    "unlock",
		},
		{
			ID:          "refresh_battery",
			Title:       "Refresh battery level",
			Description: "Read the current battery level from the lock",
			Icon:        "battery",
			Callback:    "refresh_battery",
		},
	}
}

func (p *Provider) ExecuteCapability(ctx context.Context, device integration.Device, callback string, params map[string]any) (integration.CapabilityResult, error) {
	switch callback {
	case "unlock":
		if err := p.service(ctx, "lock", "unlock", map[string]any{"entity_id": device.ID}); err != nil {
			return integration.CapabilityResult{}, integration.NewVendorError(err, "unlocking %s", device.ID)
		}
		return integration.CapabilityResult{Output: map[string]any{"unlocked": device.ID}}, nil

	case "refresh_battery":
		var state haState
		if err := p.call(ctx, http.MethodGet, "/api/states/"+device.ID, nil, &state); err != nil {
			return integration.CapabilityResult{}, integration.NewVendorError(err, "reading state of %s", device.ID)
		}
		level := -1
		if state.Attributes.BatteryLevel != nil {
			level = *state.Attributes.BatteryLevel
		}
		profile, err := p.RequireProfile()
		if err != nil {
			return integration.CapabilityResult{}, err
		}
		if profile.Data == nil {
			profile.Data = make(map[string]any)
		}
		levels, ok := profile.Data["battery_levels"].(map[string]any)
		if !ok {
			levels = make(map[string]any)
			profile.Data["battery_levels"] = levels
		}
		levels[device.ID] = level
		return integration.CapabilityResult{
			Output:      map[string]any{"battery_level": level},
			DataChanged: true,
		}, nil
	}

	return integration.CapabilityResult{}, integration.NotFoundError("unknown capability callback %q", callback)
}

// CreateBookingAccess writes a date-derived code into the slot assigned to
// the booked unit.
func (p *Provider) CreateBookingAccess(ctx context.Context, stay integration.Stay, device integration.Device, unit integration.UnitRef) (integration.DoorAccessResult, error) {
	return p.writeAccess(ctx, "create_booking_access", stay, device, unit)
}

// ModifyBookingAccess rewrites the slot with the code for the updated stay.
func (p *Provider) ModifyBookingAccess(ctx context.Context, stay integration.Stay, device integration.Device, unit integration.UnitRef) (integration.DoorAccessResult, error) {
	return p.writeAccess(ctx, "modify_booking_access", stay, device, unit)
}

func (p *Provider) writeAccess(ctx context.Context, callback string, stay integration.Stay, device integration.Device, unit integration.UnitRef) (integration.DoorAccessResult, error) {
	code := passcode.DateCode(stay.Arrival, stay.Departure)
	slot := p.slotFor(unit)

	if err := p.setUserCode(ctx, device.ID, slot, code); err != nil {
		retry := &integration.RetryData{
			Callback: callback,
			Options: map[string]any{
				"device_id": device.ID,
				"slot":      slot,
				"code":      code,
			},
		}
		return integration.DoorAccessResult{}, integration.NewRetryableVendorError(err, retry, "writing code to %s slot %d", device.ID, slot)
	}

	return integration.DoorAccessResult{
		Passcode: code,
		Properties: map[string]any{
			"slot":        slot,
			"valid_from":  stay.Arrival.Format(time.RFC3339),
			"valid_until": stay.Departure.Format(time.RFC3339),
		},
	}, nil
}

func (p *Provider) CancelBookingAccess(ctx context.Context, stay integration.Stay, device integration.Device, unit integration.UnitRef) error {
	slot := p.slotFor(unit)
	if err := p.clearUserCode(ctx, device.ID, slot); err != nil {
		retry := &integration.RetryData{
			Callback: "cancel_booking_access",
			Options: map[string]any{
				"device_id": device.ID,
				"slot":      slot,
			},
		}
		return integration.NewRetryableVendorError(err, retry, "clearing code on %s slot %d", device.ID, slot)
	}
	return nil
}

// FetchBookingAccess reconstructs the code without touching the lock; codes
// are a pure function of the stay window.
func (p *Provider) FetchBookingAccess(ctx context.Context, stay integration.Stay, device integration.Device, unit integration.UnitRef) (integration.DoorAccessResult, error) {
	return integration.DoorAccessResult{
		Passcode:   passcode.DateCode(stay.Arrival, stay.Departure),
		Properties: map[string]any{"slot": p.slotFor(unit)},
	}, nil
}

// Teardown clears the whole guest slot range on every connected lock so no
// stale codes survive the profile.
func (p *Provider) Teardown(ctx context.Context) error {
	profile := p.Profile()
	if profile == nil {
		return nil
	}
	offset := p.settingInt("slot_offset", defaultSlotOffset)
	slots := p.settingInt("guest_slots", defaultGuestSlots)
	for _, device := range profile.Devices {
		for i := 1; i <= slots; i++ {
			if err := p.clearUserCode(ctx, device.ID, offset+i); err != nil {
				log.Printf("homeassistant: teardown: clearing %s slot %d: %v", device.ID, offset+i, err)
			}
		}
	}
	return nil
}

func (p *Provider) slotFor(unit integration.UnitRef) int {
	return p.settingInt("slot_offset", defaultSlotOffset) + unit.RoomIndex + 1
}

func (p *Provider) settingInt(key string, fallback int) int {
	profile := p.Profile()
	if profile == nil {
		return fallback
	}
	switch v := profile.Settings[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	case string:
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func (p *Provider) setUserCode(ctx context.Context, entityID string, slot int, code string) error {
	return p.service(ctx, "lock", "set_usercode", map[string]any{
		"entity_id": entityID,
		"code_slot": slot,
		"usercode":  code,
	})
}

func (p *Provider) clearUserCode(ctx context.Context, entityID string, slot int) error {
	return p.service(ctx, "lock", "clear_usercode", map[string]any{
		"entity_id": entityID,
		"code_slot": slot,
	})
}

func (p *Provider) service(ctx context.Context, domain, service string, payload map[string]any) error {
	return p.call(ctx, http.MethodPost, fmt.Sprintf("/api/services/%s/%s", domain, service), payload, nil)
}

func (p *Provider) call(ctx context.Context, method, path string, payload any, out any) error {
	profile := p.Profile()
	if profile == nil {
		return fmt.Errorf("no profile attached")
	}
	baseURL := strings.TrimSuffix(profile.SettingString("base_url"), "/")
	token := profile.SettingString("token")
	if baseURL == "" || token == "" {
		return fmt.Errorf("base_url and token settings are required")
	}

	var body io.Reader
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("encoding payload: %w", err)
		}
		body = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, baseURL+path, body)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("calling %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%s returned %d: %s", path, resp.StatusCode, strings.TrimSpace(string(data)))
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decoding %s response: %w", path, err)
		}
	}
	return nil
}
