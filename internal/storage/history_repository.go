package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/door-access-manager/backend/internal/history"
)

// HistoryRepository persists booking-history events.
type HistoryRepository struct {
	BaseRepository
}

// NewHistoryRepository creates a new history repository.
func NewHistoryRepository(db *DB) *HistoryRepository {
	return &HistoryRepository{
		BaseRepository: NewBaseRepository(db),
	}
}

// Append inserts one history event.
func (r *HistoryRepository) Append(ctx context.Context, e *history.Event) error {
	if e.ID == "" {
		e.ID = GenerateID()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = r.Now()
	}

	properties, err := encodeBag(e.Properties)
	if err != nil {
		return err
	}

	_, err = r.DB().ExecContext(ctx, `
		INSERT INTO booking_history (
			id, booking_id, code, provider_alias, profile_id, device_id, device_name, passcode, properties, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		e.ID, e.BookingID, string(e.Code), e.ProviderAlias, e.ProfileID,
		e.DeviceID, e.DeviceName, e.Passcode, properties, e.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("inserting history event: %w", err)
	}
	return nil
}

// List returns a booking's events filtered to the given codes (all when
// empty), newest first.
func (r *HistoryRepository) List(ctx context.Context, bookingID int64, codes ...history.Code) ([]*history.Event, error) {
	query := `
		SELECT id, booking_id, code, provider_alias, profile_id, device_id, device_name, passcode, properties, created_at
		FROM booking_history WHERE booking_id = ?
	`
	args := []any{bookingID}

	if len(codes) > 0 {
		placeholders := strings.TrimSuffix(strings.Repeat("?,", len(codes)), ",")
		query += " AND code IN (" + placeholders + ")"
		for _, code := range codes {
			args = append(args, string(code))
		}
	}
	query += " ORDER BY created_at DESC, id DESC"

	rows, err := r.DB().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying history: %w", err)
	}
	defer rows.Close()

	var events []*history.Event
	for rows.Next() {
		var (
			e          history.Event
			code       string
			properties []byte
		)
		if err := rows.Scan(
			&e.ID, &e.BookingID, &code, &e.ProviderAlias, &e.ProfileID,
			&e.DeviceID, &e.DeviceName, &e.Passcode, &properties, &e.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scanning history event: %w", err)
		}
		e.Code = history.Code(code)
		if len(properties) > 0 {
			if err := json.Unmarshal(properties, &e.Properties); err != nil {
				return nil, fmt.Errorf("decoding history properties: %w", err)
			}
		}
		events = append(events, &e)
	}

	return events, rows.Err()
}
