package websocket

import (
	"encoding/json"
	"log"
	"time"

	"github.com/door-access-manager/backend/internal/notify"
)

// MessageType identifies the type of WebSocket message.
type MessageType string

const (
	// Server -> Client event types
	TypeNotification   MessageType = "notification"
	TypeDevicesSynced  MessageType = "integration.devices_synced"
	TypeProfileSaved   MessageType = "integration.profile_saved"
	TypeProfileDeleted MessageType = "integration.profile_deleted"

	// Client -> Server command types
	TypePing MessageType = "ping"

	// Server -> Client response types
	TypePong  MessageType = "pong"
	TypeError MessageType = "error"
)

// Message represents a WebSocket message envelope.
type Message struct {
	Type      MessageType `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	Payload   any         `json:"payload"`
}

// NewMessage creates a new message with the current timestamp.
func NewMessage(msgType MessageType, payload any) Message {
	return Message{
		Type:      msgType,
		Timestamp: time.Now().UTC(),
		Payload:   payload,
	}
}

// JSON serializes the message to JSON bytes.
func (m Message) JSON() ([]byte, error) {
	return json.Marshal(m)
}

// ParseMessage decodes a client message envelope.
func ParseMessage(data []byte) (Message, error) {
	var m Message
	err := json.Unmarshal(data, &m)
	return m, err
}

// ProfilePayload is the payload for integration.profile_* events.
type ProfilePayload struct {
	ProviderAlias string `json:"provider_alias"`
	ProfileID     int64  `json:"profile_id"`
	Name          string `json:"name,omitempty"`
}

// DevicesSyncedPayload is the payload for integration.devices_synced events.
type DevicesSyncedPayload struct {
	ProviderAlias string `json:"provider_alias"`
	ProfileID     int64  `json:"profile_id"`
	DeviceCount   int    `json:"device_count"`
}

// EventBroadcaster turns domain events into hub broadcasts. It satisfies
// notify.Broadcaster so the notification fan-out can push entries live.
type EventBroadcaster struct {
	hub *Hub
}

// NewEventBroadcaster creates a new event broadcaster.
func NewEventBroadcaster(hub *Hub) *EventBroadcaster {
	return &EventBroadcaster{hub: hub}
}

// BroadcastNotification pushes a stored notification entry to all clients.
func (b *EventBroadcaster) BroadcastNotification(e *notify.Entry) {
	b.send(NewMessage(TypeNotification, e))
}

// BroadcastProfileSaved announces a saved integration profile.
func (b *EventBroadcaster) BroadcastProfileSaved(alias string, profileID int64, name string) {
	b.send(NewMessage(TypeProfileSaved, ProfilePayload{ProviderAlias: alias, ProfileID: profileID, Name: name}))
}

// BroadcastProfileDeleted announces a deleted integration profile.
func (b *EventBroadcaster) BroadcastProfileDeleted(alias string, profileID int64) {
	b.send(NewMessage(TypeProfileDeleted, ProfilePayload{ProviderAlias: alias, ProfileID: profileID}))
}

// BroadcastDevicesSynced announces a completed device sync.
func (b *EventBroadcaster) BroadcastDevicesSynced(alias string, profileID int64, deviceCount int) {
	b.send(NewMessage(TypeDevicesSynced, DevicesSyncedPayload{ProviderAlias: alias, ProfileID: profileID, DeviceCount: deviceCount}))
}

func (b *EventBroadcaster) send(msg Message) {
	data, err := msg.JSON()
	if err != nil {
		log.Printf("Error encoding WebSocket message: %v", err)
		return
	}
	b.hub.Broadcast(data)
}
