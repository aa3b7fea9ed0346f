package history

import (
	"context"
	"fmt"
)

// GeneratedPasscode is one passcode reconstructed from history, with the
// device it was issued on.
type GeneratedPasscode struct {
	DeviceID   string
	DeviceName string
	Passcode   string
}

// Reader reconstructs previously generated passcodes for a reservation from
// the history store. Read-only.
type Reader struct {
	store Store
}

// NewReader builds a reader over the given store.
func NewReader(store Store) *Reader {
	return &Reader{store: store}
}

// Passcodes returns up to limit of the most recent passcodes a profile
// generated for the booking, newest first, one per history event with a
// resolvable passcode. limit <= 0 means no limit.
func (r *Reader) Passcodes(ctx context.Context, bookingID, profileID int64, limit int) ([]GeneratedPasscode, error) {
	events, err := r.store.List(ctx, bookingID, GeneratedCodes()...)
	if err != nil {
		return nil, fmt.Errorf("listing history for booking %d: %w", bookingID, err)
	}

	var out []GeneratedPasscode
	for _, e := range events {
		if e.ProfileID != profileID || e.Passcode == "" {
			continue
		}
		out = append(out, GeneratedPasscode{DeviceID: e.DeviceID, DeviceName: e.DeviceName, Passcode: e.Passcode})
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

// HasGenerated reports whether any profile generated a passcode for the
// booking.
func (r *Reader) HasGenerated(ctx context.Context, bookingID int64) (bool, error) {
	events, err := r.store.List(ctx, bookingID, GeneratedCodes()...)
	if err != nil {
		return false, fmt.Errorf("listing history for booking %d: %w", bookingID, err)
	}
	return len(events) > 0, nil
}

// HasFirstAccess reports whether a first-access event was already recorded
// for the booking on the given device.
func (r *Reader) HasFirstAccess(ctx context.Context, bookingID int64, deviceID string) (bool, error) {
	events, err := r.store.List(ctx, bookingID, CodeFirstAccess)
	if err != nil {
		return false, fmt.Errorf("listing history for booking %d: %w", bookingID, err)
	}
	for _, e := range events {
		if e.DeviceID == deviceID {
			return true, nil
		}
	}
	return false, nil
}
