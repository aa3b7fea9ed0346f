// Package history defines the booking-history event contract the dispatcher
// appends to and the passcode reader queries.
package history

import (
	"context"
	"time"
)

// Code is the 2-letter event code tagged onto a history record.
type Code string

const (
	CodeNew         Code = "ND" // passcode created
	CodeModified    Code = "MD" // passcode modified
	CodeCancelled   Code = "CD" // passcode cancelled
	CodeFirstAccess Code = "FA" // guest used the device for the first time
)

// GeneratedCodes are the codes that carry a usable passcode.
func GeneratedCodes() []Code {
	return []Code{CodeNew, CodeModified}
}

// Event is one booking-history record.
type Event struct {
	ID            string         `json:"id"`
	BookingID     int64          `json:"booking_id"`
	Code          Code           `json:"code"`
	ProviderAlias string         `json:"provider_alias"`
	ProfileID     int64          `json:"profile_id"`
	DeviceID      string         `json:"device_id"`
	DeviceName    string         `json:"device_name,omitempty"`
	Passcode      string         `json:"passcode,omitempty"`
	Properties    map[string]any `json:"properties,omitempty"`
	CreatedAt     time.Time      `json:"created_at"`
}

// Store is the booking-history collaborator. Append adds one record; List
// returns a booking's records filtered to the given codes (all codes when
// empty), newest first.
type Store interface {
	Append(ctx context.Context, e *Event) error
	List(ctx context.Context, bookingID int64, codes ...Code) ([]*Event, error)
}
