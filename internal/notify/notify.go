// Package notify defines the operator notification contract and a fan-out
// that persists entries and pushes them to connected admin clients.
package notify

import (
	"context"
	"log"
	"time"
)

// Entry is one operator notification.
type Entry struct {
	ID      string `json:"id,omitempty"`
	Sender  string `json:"sender"`
	Type    string `json:"type"` // success, failure, info
	Title   string `json:"title"`
	Summary string `json:"summary"`
	Avatar  string `json:"avatar,omitempty"`
	Label   string `json:"label,omitempty"`

	// Widget routes the entry to an admin UI surface (e.g. the profile
	// settings widget a retry button lives on).
	Widget string `json:"widget,omitempty"`

	// Payload carries structured extras. Failure entries for retryable
	// vendor errors put the verbatim RetryData under "retry_data".
	Payload map[string]any `json:"payload,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// Entry types.
const (
	TypeSuccess = "success"
	TypeFailure = "failure"
	TypeInfo    = "info"
)

// Center is the notification collaborator the dispatcher emits into.
type Center interface {
	Store(ctx context.Context, e *Entry) error
}

// Broadcaster pushes a stored entry out to live listeners. The websocket
// hub satisfies this through a thin adapter.
type Broadcaster interface {
	BroadcastNotification(e *Entry)
}

// Fanout persists every entry and then broadcasts it. Broadcast is
// best-effort; storage failures are logged and swallowed so a notification
// problem never fails the operation it reports on.
type Fanout struct {
	store       Center
	broadcaster Broadcaster
}

// NewFanout builds a fan-out over an optional store and broadcaster.
func NewFanout(store Center, broadcaster Broadcaster) *Fanout {
	return &Fanout{store: store, broadcaster: broadcaster}
}

// Store implements Center.
func (f *Fanout) Store(ctx context.Context, e *Entry) error {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}

	if f.store != nil {
		if err := f.store.Store(ctx, e); err != nil {
			log.Printf("Failed to store notification %q: %v", e.Title, err)
		}
	}
	if f.broadcaster != nil {
		f.broadcaster.BroadcastNotification(e)
	}
	return nil
}
