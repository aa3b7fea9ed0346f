package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/door-access-manager/backend/internal/booking"
)

// BookingRepository persists booking snapshots and serves the cron queries.
// Implements booking.Source. The booking platform pushes snapshots in via
// the events API; this store is the local read model.
type BookingRepository struct {
	BaseRepository
}

// NewBookingRepository creates a new booking repository.
func NewBookingRepository(db *DB) *BookingRepository {
	return &BookingRepository{
		BaseRepository: NewBaseRepository(db),
	}
}

const bookingColumns = `id, confirmed, cancelled, closure, overbooking, precheckin_done, guest_name, arrival, departure, rooms`

// Upsert writes the latest snapshot of a booking.
func (r *BookingRepository) Upsert(ctx context.Context, b *booking.Snapshot) error {
	rooms, err := json.Marshal(b.Rooms)
	if err != nil {
		return fmt.Errorf("encoding rooms: %w", err)
	}

	now := r.Now()
	_, err = r.DB().ExecContext(ctx, `
		INSERT INTO bookings (
			id, confirmed, cancelled, closure, overbooking, precheckin_done,
			guest_name, arrival, departure, rooms, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			confirmed = excluded.confirmed,
			cancelled = excluded.cancelled,
			closure = excluded.closure,
			overbooking = excluded.overbooking,
			precheckin_done = excluded.precheckin_done,
			guest_name = excluded.guest_name,
			arrival = excluded.arrival,
			departure = excluded.departure,
			rooms = excluded.rooms,
			updated_at = excluded.updated_at
	`,
		b.ID, b.Confirmed, b.Cancelled, b.Closure, b.Overbooking, b.PrecheckinDone,
		b.GuestName, b.Arrival, b.Departure, rooms, now, now,
	)
	if err != nil {
		return fmt.Errorf("upserting booking: %w", err)
	}
	return nil
}

// Get retrieves a booking snapshot, (nil, nil) when unknown.
func (r *BookingRepository) Get(ctx context.Context, id int64) (*booking.Snapshot, error) {
	row := r.DB().QueryRowContext(ctx, `
		SELECT `+bookingColumns+` FROM bookings WHERE id = ?
	`, id)

	snapshot, err := scanBooking(row.Scan)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("querying booking: %w", err)
	}
	return snapshot, nil
}

// ArrivalsBetween returns confirmed bookings arriving in [from, to).
func (r *BookingRepository) ArrivalsBetween(ctx context.Context, from, to time.Time) ([]*booking.Snapshot, error) {
	return r.list(ctx, `
		SELECT `+bookingColumns+` FROM bookings
		WHERE confirmed = 1 AND arrival >= ? AND arrival < ?
		ORDER BY arrival
	`, from, to)
}

// ArrivalsOn returns confirmed bookings arriving on the given calendar day.
func (r *BookingRepository) ArrivalsOn(ctx context.Context, day time.Time) ([]*booking.Snapshot, error) {
	start := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, day.Location())
	return r.ArrivalsBetween(ctx, start, start.AddDate(0, 0, 1))
}

// DepartedBetween returns bookings whose check-out falls in [from, to).
func (r *BookingRepository) DepartedBetween(ctx context.Context, from, to time.Time) ([]*booking.Snapshot, error) {
	return r.list(ctx, `
		SELECT `+bookingColumns+` FROM bookings
		WHERE departure >= ? AND departure < ?
		ORDER BY departure
	`, from, to)
}

func (r *BookingRepository) list(ctx context.Context, query string, args ...any) ([]*booking.Snapshot, error) {
	rows, err := r.DB().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying bookings: %w", err)
	}
	defer rows.Close()

	var bookings []*booking.Snapshot
	for rows.Next() {
		snapshot, err := scanBooking(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scanning booking: %w", err)
		}
		bookings = append(bookings, snapshot)
	}

	return bookings, rows.Err()
}

func scanBooking(scan func(...any) error) (*booking.Snapshot, error) {
	var (
		b     booking.Snapshot
		rooms []byte
	)
	if err := scan(
		&b.ID, &b.Confirmed, &b.Cancelled, &b.Closure, &b.Overbooking, &b.PrecheckinDone,
		&b.GuestName, &b.Arrival, &b.Departure, &rooms,
	); err != nil {
		return nil, err
	}
	if len(rooms) > 0 {
		if err := json.Unmarshal(rooms, &b.Rooms); err != nil {
			return nil, fmt.Errorf("decoding rooms: %w", err)
		}
	}
	return &b, nil
}
