package storage

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/door-access-manager/backend/internal/notify"
)

// NotificationRepository persists operator notifications.
type NotificationRepository struct {
	BaseRepository
}

// NewNotificationRepository creates a new notification repository.
func NewNotificationRepository(db *DB) *NotificationRepository {
	return &NotificationRepository{
		BaseRepository: NewBaseRepository(db),
	}
}

// Store inserts a notification entry. Implements notify.Center.
func (r *NotificationRepository) Store(ctx context.Context, e *notify.Entry) error {
	if e.ID == "" {
		e.ID = GenerateID()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = r.Now()
	}

	payload, err := encodeBag(e.Payload)
	if err != nil {
		return err
	}

	_, err = r.DB().ExecContext(ctx, `
		INSERT INTO notifications (
			id, sender, type, title, summary, avatar, label, widget, payload, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		e.ID, e.Sender, e.Type, e.Title, e.Summary, e.Avatar, e.Label, e.Widget, payload, e.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("inserting notification: %w", err)
	}
	return nil
}

// List returns the most recent notifications, newest first.
func (r *NotificationRepository) List(ctx context.Context, limit int) ([]*notify.Entry, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := r.DB().QueryContext(ctx, `
		SELECT id, sender, type, title, summary, avatar, label, widget, payload, created_at
		FROM notifications ORDER BY created_at DESC, id DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("querying notifications: %w", err)
	}
	defer rows.Close()

	var entries []*notify.Entry
	for rows.Next() {
		var (
			e       notify.Entry
			payload []byte
		)
		if err := rows.Scan(
			&e.ID, &e.Sender, &e.Type, &e.Title, &e.Summary, &e.Avatar, &e.Label, &e.Widget, &payload, &e.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scanning notification: %w", err)
		}
		if len(payload) > 0 {
			if err := json.Unmarshal(payload, &e.Payload); err != nil {
				return nil, fmt.Errorf("decoding notification payload: %w", err)
			}
		}
		entries = append(entries, &e)
	}

	return entries, rows.Err()
}
