// Package zwavejsui integrates Z-Wave locks over the Z-Wave JS UI websocket
// API. User codes are written straight to the USER_CODE command class, which
// keeps battery drain lower than driving the same locks through a hub.
package zwavejsui

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/door-access-manager/backend/internal/integration"
	"github.com/door-access-manager/backend/internal/providers/passcode"
)

// Alias identifies this provider in the registry.
const Alias = "zwavejsui"

const (
	commandClassUserCode = 99

	defaultSlotOffset = 20
	defaultGuestSlots = 5
	callTimeout       = 10 * time.Second
)

// Provider drives locks attached to a Z-Wave JS UI instance.
type Provider struct {
	integration.BaseProvider
	dialer *websocket.Dialer
}

// New builds a Z-Wave JS UI provider with the default websocket dialer.
func New() integration.Provider {
	return &Provider{dialer: websocket.DefaultDialer}
}

func (p *Provider) Alias() string { return Alias }
func (p *Provider) Title() string { return "Z-Wave JS UI" }

func (p *Provider) DefaultSettings() map[string]any {
	return map[string]any{
		"ws_url":      "ws://localhost:3000",
		"api_key":     "",
		"slot_offset": defaultSlotOffset,
		"guest_slots": defaultGuestSlots,
	}
}

func (p *Provider) CanWatchFirstAccess() bool      { return true }
func (p *Provider) CanCleanExpiredPasscodes() bool { return true }

type command struct {
	Command      string `json:"command"`
	NodeID       int    `json:"nodeId,omitempty"`
	Endpoint     int    `json:"endpoint"`
	CommandClass int    `json:"commandClass,omitempty"`
	MethodName   string `json:"methodName,omitempty"`
	Args         []any  `json:"args,omitempty"`
}

type response struct {
	Success bool            `json:"success"`
	Error   string          `json:"error"`
	Result  json.RawMessage `json:"result"`
}

type nodeInfo struct {
	ID           int    `json:"id"`
	Name         string `json:"name"`
	ProductLabel string `json:"productLabel"`
	DeviceClass  string `json:"deviceClass"`
	Battery      *int   `json:"batteryLevel"`
	Ready        bool   `json:"ready"`
}

// FetchDevices lists the controller's nodes and keeps the ones exposing the
// USER_CODE command class, which is what a codeable lock looks like on the
// wire.
func (p *Provider) FetchDevices(ctx context.Context) ([]integration.Device, error) {
	resp, err := p.call(ctx, command{Command: "driver.get_nodes"})
	if err != nil {
		return nil, integration.NewVendorError(err, "listing nodes")
	}

	var nodes []struct {
		nodeInfo
		CommandClasses []int `json:"commandClasses"`
	}
	if err := json.Unmarshal(resp.Result, &nodes); err != nil {
		return nil, integration.NewVendorError(err, "decoding node list")
	}

	var devices []integration.Device
	for _, n := range nodes {
		if !hasUserCodeClass(n.CommandClasses) {
			continue
		}
		name := n.Name
		if name == "" {
			name = fmt.Sprintf("Node %d", n.ID)
		}
		devices = append(devices, integration.Device{
			ID:           strconv.Itoa(n.ID),
			Name:         name,
			Model:        n.ProductLabel,
			Icon:         "lock",
			BatteryLevel: n.Battery,
		})
	}
	return devices, nil
}

func hasUserCodeClass(classes []int) bool {
	for _, c := range classes {
		if c == commandClassUserCode {
			return true
		}
	}
	return false
}

func (p *Provider) Capabilities(device integration.Device) []integration.Capability {
	return []integration.Capability{
		{
			ID:          "ping",
			Title:       "Ping node",
			Description: "Check whether " + device.Name + " responds on the network",
			Icon:        "wifi",
			Callback:    "ping",
		},
		{
			ID:          "set_code",
			Title:       "Write manual code",
			Description: "Write a code into a specific slot",
			Icon:        "key",
			Callback:    "set_code",
			Params: []integration.CapabilityParam{
				{Name: "slot", Label: "Slot", Type: "int", Required: true},
				{Name: "code", Label: "Code", Type: "string", Required: true},
			},
		},
	}
}

func (p *Provider) ExecuteCapability(ctx context.Context, device integration.Device, callback string, params map[string]any) (integration.CapabilityResult, error) {
	nodeID, err := nodeIDOf(device)
	if err != nil {
		return integration.CapabilityResult{}, err
	}

	switch callback {
	case "ping":
		if _, err := p.call(ctx, command{Command: "node.ping", NodeID: nodeID}); err != nil {
			return integration.CapabilityResult{}, integration.NewVendorError(err, "pinging node %d", nodeID)
		}
		return integration.CapabilityResult{Output: map[string]any{"alive": true}}, nil

	case "set_code":
		slot := paramInt(params, "slot")
		code, _ := params["code"].(string)
		if slot <= 0 || code == "" {
			return integration.CapabilityResult{}, integration.InvalidInputError("set_code needs a positive slot and a non-empty code")
		}
		if err := p.setUserCode(ctx, nodeID, slot, code); err != nil {
			return integration.CapabilityResult{}, integration.NewVendorError(err, "writing code to node %d slot %d", nodeID, slot)
		}
		return integration.CapabilityResult{Output: map[string]any{"slot": slot}}, nil
	}

	return integration.CapabilityResult{}, integration.NotFoundError("unknown capability callback %q", callback)
}

// CreateBookingAccess derives a per-booking code and writes it to the unit's
// slot.
func (p *Provider) CreateBookingAccess(ctx context.Context, stay integration.Stay, device integration.Device, unit integration.UnitRef) (integration.DoorAccessResult, error) {
	return p.writeAccess(ctx, "create_booking_access", stay, device, unit)
}

// ModifyBookingAccess rewrites the slot; the code is stable per booking, so
// date changes keep the guest's existing code valid.
func (p *Provider) ModifyBookingAccess(ctx context.Context, stay integration.Stay, device integration.Device, unit integration.UnitRef) (integration.DoorAccessResult, error) {
	return p.writeAccess(ctx, "modify_booking_access", stay, device, unit)
}

func (p *Provider) writeAccess(ctx context.Context, callback string, stay integration.Stay, device integration.Device, unit integration.UnitRef) (integration.DoorAccessResult, error) {
	nodeID, err := nodeIDOf(device)
	if err != nil {
		return integration.DoorAccessResult{}, err
	}
	code := passcode.DeterministicCode(passcode.BookingSeed(stay.BookingID, device.ID), 6)
	slot := p.slotFor(unit)

	if err := p.setUserCode(ctx, nodeID, slot, code); err != nil {
		retry := &integration.RetryData{
			Callback: callback,
			Options: map[string]any{
				"device_id": device.ID,
				"slot":      slot,
				"code":      code,
			},
		}
		return integration.DoorAccessResult{}, integration.NewRetryableVendorError(err, retry, "writing code to node %d slot %d", nodeID, slot)
	}

	return integration.DoorAccessResult{
		Passcode: code,
		Properties: map[string]any{
			"node_id": nodeID,
			"slot":    slot,
		},
	}, nil
}

func (p *Provider) CancelBookingAccess(ctx context.Context, stay integration.Stay, device integration.Device, unit integration.UnitRef) error {
	nodeID, err := nodeIDOf(device)
	if err != nil {
		return err
	}
	slot := p.slotFor(unit)
	if err := p.clearUserCode(ctx, nodeID, slot); err != nil {
		retry := &integration.RetryData{
			Callback: "cancel_booking_access",
			Options: map[string]any{
				"device_id": device.ID,
				"slot":      slot,
			},
		}
		return integration.NewRetryableVendorError(err, retry, "clearing code on node %d slot %d", nodeID, slot)
	}
	return nil
}

// FetchBookingAccess recomputes the deterministic booking code.
func (p *Provider) FetchBookingAccess(ctx context.Context, stay integration.Stay, device integration.Device, unit integration.UnitRef) (integration.DoorAccessResult, error) {
	return integration.DoorAccessResult{
		Passcode:   passcode.DeterministicCode(passcode.BookingSeed(stay.BookingID, device.ID), 6),
		Properties: map[string]any{"slot": p.slotFor(unit)},
	}, nil
}

// DetectFirstAccess reads the USER_CODE notification state and reports
// whether the last keypad unlock used the booking's slot.
func (p *Provider) DetectFirstAccess(ctx context.Context, stay integration.Stay, device integration.Device, unit integration.UnitRef) (bool, error) {
	nodeID, err := nodeIDOf(device)
	if err != nil {
		return false, err
	}
	resp, err := p.call(ctx, command{
		Command:      "node.get_value",
		NodeID:       nodeID,
		CommandClass: commandClassUserCode,
		MethodName:   "getLastActivatedSlot",
	})
	if err != nil {
		return false, integration.NewVendorError(err, "reading last activated slot on node %d", nodeID)
	}

	var lastSlot int
	if err := json.Unmarshal(resp.Result, &lastSlot); err != nil {
		return false, integration.NewVendorError(err, "decoding last activated slot on node %d", nodeID)
	}
	return lastSlot == p.slotFor(unit), nil
}

// Teardown clears the guest slot range on every connected lock.
func (p *Provider) Teardown(ctx context.Context) error {
	profile := p.Profile()
	if profile == nil {
		return nil
	}
	offset := p.settingInt("slot_offset", defaultSlotOffset)
	slots := p.settingInt("guest_slots", defaultGuestSlots)
	for _, device := range profile.Devices {
		nodeID, err := nodeIDOf(device)
		if err != nil {
			log.Printf("zwavejsui: teardown: device %s: %v", device.ID, err)
			continue
		}
		for i := 1; i <= slots; i++ {
			if err := p.clearUserCode(ctx, nodeID, offset+i); err != nil {
				log.Printf("zwavejsui: teardown: clearing node %d slot %d: %v", nodeID, offset+i, err)
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

func nodeIDOf(device integration.Device) (int, error) {
	id, err := strconv.Atoi(device.ID)
	if err != nil {
		return 0, integration.InvalidInputError("device id %q is not a node id", device.ID)
	}
	return id, nil
}

func paramInt(params map[string]any, key string) int {
	switch v := params[key].(type) {
	case int:
		return v
	case float64:
		return int(v)
	case string:
		n, _ := strconv.Atoi(v)
		return n
	}
	return 0
}

func (p *Provider) setUserCode(ctx context.Context, nodeID, slot int, code string) error {
	_, err := p.call(ctx, command{
		Command:      "node.execute_command",
		NodeID:       nodeID,
		CommandClass: commandClassUserCode,
		MethodName:   "setUserCode",
		Args:         []any{slot, code},
	})
	return err
}

func (p *Provider) clearUserCode(ctx context.Context, nodeID, slot int) error {
	_, err := p.call(ctx, command{
		Command:      "node.execute_command",
		NodeID:       nodeID,
		CommandClass: commandClassUserCode,
		MethodName:   "clearUserCode",
		Args:         []any{slot},
	})
	return err
}

// call opens a short-lived websocket connection, sends one command and reads
// one response. Z-Wave JS UI replies in order on a fresh connection, so a
// connection per command keeps the client stateless.
func (p *Provider) call(ctx context.Context, cmd command) (*response, error) {
	profile := p.Profile()
	if profile == nil {
		return nil, fmt.Errorf("no profile attached")
	}
	wsURL := profile.SettingString("ws_url")
	if wsURL == "" {
		return nil, fmt.Errorf("ws_url setting is required")
	}

	ctx, cancel := context.WithTimeout(ctx, callTimeout)
	defer cancel()

	header := http.Header{}
	if key := profile.SettingString("api_key"); key != "" {
		header.Set("Authorization", "Bearer "+key)
	}

	conn, _, err := p.dialer.DialContext(ctx, wsURL, header)
	if err != nil {
		return nil, fmt.Errorf("connect to %s: %w", wsURL, err)
	}
	defer conn.Close()

	deadline := time.Now().Add(callTimeout)
	_ = conn.SetWriteDeadline(deadline)
	if err := conn.WriteJSON(cmd); err != nil {
		return nil, fmt.Errorf("send %s: %w", cmd.Command, err)
	}

	_ = conn.SetReadDeadline(deadline)
	_, data, err := conn.ReadMessage()
	if err != nil {
		return nil, fmt.Errorf("read %s response: %w", cmd.Command, err)
	}

	var resp response
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("decode %s response: %w", cmd.Command, err)
	}
	if !resp.Success {
		return nil, fmt.Errorf("%s failed: %s", cmd.Command, strings.TrimSpace(resp.Error))
	}
	return &resp, nil
}
