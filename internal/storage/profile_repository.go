package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/door-access-manager/backend/internal/integration"
)

// ProfileRepository persists integration profiles. Settings, devices and
// data are stored as JSON columns and decoded into their typed forms here,
// at the persistence boundary only.
type ProfileRepository struct {
	BaseRepository
}

// NewProfileRepository creates a new profile repository.
func NewProfileRepository(db *DB) *ProfileRepository {
	return &ProfileRepository{
		BaseRepository: NewBaseRepository(db),
	}
}

const profileColumns = `id, provider_alias, name, gentype, genperiod, settings, devices, data, created_at, updated_at`

// Insert writes a new profile row and returns the assigned id.
func (r *ProfileRepository) Insert(ctx context.Context, p *integration.Profile) (int64, error) {
	settings, devices, data, err := encodeProfileBlobs(p)
	if err != nil {
		return 0, err
	}

	now := r.Now()
	p.CreatedAt = now
	p.UpdatedAt = now

	result, err := r.DB().ExecContext(ctx, `
		INSERT INTO integration_profiles (
			provider_alias, name, gentype, genperiod, settings, devices, data, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		p.ProviderAlias, p.Name, string(p.GenerationType), p.GenerationPeriod,
		settings, devices, data, p.CreatedAt, p.UpdatedAt,
	)
	if err != nil {
		return 0, fmt.Errorf("inserting profile: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("reading back profile id: %w", err)
	}
	return id, nil
}

// Update rewrites a profile row, returning the number of rows affected.
func (r *ProfileRepository) Update(ctx context.Context, p *integration.Profile) (int64, error) {
	settings, devices, data, err := encodeProfileBlobs(p)
	if err != nil {
		return 0, err
	}

	p.UpdatedAt = r.Now()

	result, err := r.DB().ExecContext(ctx, `
		UPDATE integration_profiles SET
			name = ?, gentype = ?, genperiod = ?, settings = ?, devices = ?, data = ?, updated_at = ?
		WHERE id = ?
	`,
		p.Name, string(p.GenerationType), p.GenerationPeriod,
		settings, devices, data, p.UpdatedAt, p.ID,
	)
	if err != nil {
		return 0, fmt.Errorf("updating profile: %w", err)
	}

	affected, _ := result.RowsAffected()
	return affected, nil
}

// UpdateData rewrites only the data bag. The cron path calls this after
// setting processed flags so a concurrent settings save is not clobbered.
func (r *ProfileRepository) UpdateData(ctx context.Context, id int64, data map[string]any) error {
	blob, err := encodeBag(data)
	if err != nil {
		return err
	}

	_, err = r.DB().ExecContext(ctx, `
		UPDATE integration_profiles SET data = ?, updated_at = ? WHERE id = ?
	`, blob, r.Now(), id)
	if err != nil {
		return fmt.Errorf("updating profile data: %w", err)
	}
	return nil
}

// Delete removes a profile row, returning the number of rows affected.
func (r *ProfileRepository) Delete(ctx context.Context, id int64) (int64, error) {
	result, err := r.DB().ExecContext(ctx, "DELETE FROM integration_profiles WHERE id = ?", id)
	if err != nil {
		return 0, fmt.Errorf("deleting profile: %w", err)
	}
	affected, _ := result.RowsAffected()
	return affected, nil
}

// Get retrieves a profile by id, (nil, nil) when absent.
func (r *ProfileRepository) Get(ctx context.Context, id int64) (*integration.Profile, error) {
	row := r.DB().QueryRowContext(ctx, `
		SELECT `+profileColumns+` FROM integration_profiles WHERE id = ?
	`, id)

	profile, err := scanProfile(row.Scan)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("querying profile: %w", err)
	}
	return profile, nil
}

// ListByAlias retrieves all profiles of one provider in insertion order.
func (r *ProfileRepository) ListByAlias(ctx context.Context, alias string) ([]*integration.Profile, error) {
	return r.list(ctx, `
		SELECT `+profileColumns+` FROM integration_profiles WHERE provider_alias = ? ORDER BY id
	`, alias)
}

// ListAll retrieves all profiles across all providers in insertion order.
func (r *ProfileRepository) ListAll(ctx context.Context) ([]*integration.Profile, error) {
	return r.list(ctx, `
		SELECT `+profileColumns+` FROM integration_profiles ORDER BY id
	`)
}

func (r *ProfileRepository) list(ctx context.Context, query string, args ...any) ([]*integration.Profile, error) {
	rows, err := r.DB().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying profiles: %w", err)
	}
	defer rows.Close()

	var profiles []*integration.Profile
	for rows.Next() {
		profile, err := scanProfile(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scanning profile: %w", err)
		}
		profiles = append(profiles, profile)
	}

	return profiles, rows.Err()
}

func scanProfile(scan func(...any) error) (*integration.Profile, error) {
	var (
		p                       integration.Profile
		gentype                 string
		settings, devices, data []byte
	)

	if err := scan(
		&p.ID, &p.ProviderAlias, &p.Name, &gentype, &p.GenerationPeriod,
		&settings, &devices, &data, &p.CreatedAt, &p.UpdatedAt,
	); err != nil {
		return nil, err
	}

	parsed, err := integration.ParseGenerationType(gentype)
	if err != nil {
		// Tolerate unknown values from older records rather than failing
		// the whole list.
		parsed = integration.GenerationDisabled
	}
	p.GenerationType = parsed

	if err := decodeBag(settings, &p.Settings); err != nil {
		return nil, fmt.Errorf("decoding settings: %w", err)
	}
	if err := decodeBag(data, &p.Data); err != nil {
		return nil, fmt.Errorf("decoding data: %w", err)
	}
	if len(devices) > 0 {
		if err := json.Unmarshal(devices, &p.Devices); err != nil {
			return nil, fmt.Errorf("decoding devices: %w", err)
		}
	}

	return &p, nil
}

func encodeProfileBlobs(p *integration.Profile) (settings, devices, data []byte, err error) {
	if settings, err = encodeBag(p.Settings); err != nil {
		return nil, nil, nil, err
	}
	if data, err = encodeBag(p.Data); err != nil {
		return nil, nil, nil, err
	}
	if p.Devices == nil {
		devices = []byte("[]")
	} else if devices, err = json.Marshal(p.Devices); err != nil {
		return nil, nil, nil, fmt.Errorf("encoding devices: %w", err)
	}
	return settings, devices, data, nil
}

func encodeBag(bag map[string]any) ([]byte, error) {
	if bag == nil {
		return []byte("{}"), nil
	}
	blob, err := json.Marshal(bag)
	if err != nil {
		return nil, fmt.Errorf("encoding json bag: %w", err)
	}
	return blob, nil
}

func decodeBag(blob []byte, into *map[string]any) error {
	if len(blob) == 0 {
		return nil
	}
	return json.Unmarshal(blob, into)
}
