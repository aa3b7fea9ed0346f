// Package booking defines the read-only view of a reservation the
// integration core consumes, plus snapshot diffing for modification events.
// Bookings are owned by the property-management platform; this package only
// models what the dispatcher needs.
package booking

import (
	"context"
	"time"

	"github.com/door-access-manager/backend/internal/integration"
)

// Room is one booked inventory unit: a listing plus an optional sub-unit
// index (0 = whole listing), with its own stay window and occupant.
type Room struct {
	ListingID int       `json:"listing_id"`
	SubUnit   int       `json:"sub_unit,omitempty"`
	GuestName string    `json:"guest_name,omitempty"`
	Arrival   time.Time `json:"arrival"`
	Departure time.Time `json:"departure"`
}

// Snapshot is the state of one reservation at a point in time. Modification
// events carry the previous and current snapshot so the dispatcher can diff
// them without reaching back into the platform.
type Snapshot struct {
	ID             int64     `json:"id"`
	Confirmed      bool      `json:"confirmed"`
	Cancelled      bool      `json:"cancelled"`
	Closure        bool      `json:"closure"`
	Overbooking    bool      `json:"overbooking"`
	PrecheckinDone bool      `json:"precheckin_done"`
	GuestName      string    `json:"guest_name,omitempty"`
	Arrival        time.Time `json:"arrival"`
	Departure      time.Time `json:"departure"`
	Rooms          []Room    `json:"rooms"`
}

// Units returns the booked (listing, sub-unit) pairs in room order.
func (s *Snapshot) Units() []integration.BookedUnit {
	units := make([]integration.BookedUnit, len(s.Rooms))
	for i, room := range s.Rooms {
		units[i] = integration.BookedUnit{ListingID: room.ListingID, SubUnit: room.SubUnit}
	}
	return units
}

// Stay builds the provider-facing stay context for the room at the given
// index. Rooms without their own dates inherit the booking-level window.
func (s *Snapshot) Stay(roomIndex int) integration.Stay {
	stay := integration.Stay{
		BookingID: s.ID,
		GuestName: s.GuestName,
		Arrival:   s.Arrival,
		Departure: s.Departure,
	}
	if roomIndex >= 0 && roomIndex < len(s.Rooms) {
		room := s.Rooms[roomIndex]
		if room.GuestName != "" {
			stay.GuestName = room.GuestName
		}
		if !room.Arrival.IsZero() {
			stay.Arrival = room.Arrival
		}
		if !room.Departure.IsZero() {
			stay.Departure = room.Departure
		}
	}
	return stay
}

// Change classifies what a modification touched.
type Change struct {
	// BookingLevel is set when the overall stay window or the booked room
	// set changed.
	BookingLevel bool

	// RoomLevel is set when any individual room's unit or dates changed.
	RoomLevel bool
}

// Any reports whether the modification changed anything at all.
func (c Change) Any() bool {
	return c.BookingLevel || c.RoomLevel
}

// RoomLevelOnly reports whether only room or sub-unit details changed.
// Devices exposing no sub-unit mapping cannot react to such a change and
// are skipped.
func (c Change) RoomLevelOnly() bool {
	return c.RoomLevel && !c.BookingLevel
}

// Diff compares two snapshots of the same reservation.
func Diff(prev, cur *Snapshot) Change {
	var change Change
	if prev == nil || cur == nil {
		change.BookingLevel = true
		return change
	}

	if !prev.Arrival.Equal(cur.Arrival) || !prev.Departure.Equal(cur.Departure) {
		change.BookingLevel = true
	}
	if len(prev.Rooms) != len(cur.Rooms) {
		change.BookingLevel = true
	}

	for i := range cur.Rooms {
		if i >= len(prev.Rooms) {
			break
		}
		a, b := prev.Rooms[i], cur.Rooms[i]
		if a.ListingID != b.ListingID || a.SubUnit != b.SubUnit {
			change.RoomLevel = true
		}
		if !a.Arrival.Equal(b.Arrival) || !a.Departure.Equal(b.Departure) {
			change.RoomLevel = true
		}
	}
	return change
}

// Source is the booking store the cron jobs query. The shipped backend is
// SQLite; the contract stays narrow so the platform's own store can be
// plugged in instead.
type Source interface {
	// Get returns the booking or (nil, nil) when unknown.
	Get(ctx context.Context, id int64) (*Snapshot, error)

	// ArrivalsBetween returns confirmed bookings whose check-in falls in
	// [from, to).
	ArrivalsBetween(ctx context.Context, from, to time.Time) ([]*Snapshot, error)

	// ArrivalsOn returns confirmed bookings arriving on the given calendar
	// day.
	ArrivalsOn(ctx context.Context, day time.Time) ([]*Snapshot, error)

	// DepartedBetween returns bookings whose check-out falls in [from, to).
	DepartedBetween(ctx context.Context, from, to time.Time) ([]*Snapshot, error)
}
