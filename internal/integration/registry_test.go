package integration

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memStore is an in-memory ProfileStore for registry tests.
type memStore struct {
	profiles map[int64]*Profile
	nextID   int64
}

func newMemStore() *memStore {
	return &memStore{profiles: make(map[int64]*Profile), nextID: 1}
}

func (s *memStore) Insert(_ context.Context, p *Profile) (int64, error) {
	id := s.nextID
	s.nextID++
	clone := p.Clone()
	clone.ID = id
	s.profiles[id] = clone
	return id, nil
}

func (s *memStore) Update(_ context.Context, p *Profile) (int64, error) {
	if _, ok := s.profiles[p.ID]; !ok {
		return 0, nil
	}
	s.profiles[p.ID] = p.Clone()
	return 1, nil
}

func (s *memStore) Delete(_ context.Context, id int64) (int64, error) {
	if _, ok := s.profiles[id]; !ok {
		return 0, nil
	}
	delete(s.profiles, id)
	return 1, nil
}

func (s *memStore) Get(_ context.Context, id int64) (*Profile, error) {
	p, ok := s.profiles[id]
	if !ok {
		return nil, nil
	}
	return p.Clone(), nil
}

func (s *memStore) ListByAlias(_ context.Context, alias string) ([]*Profile, error) {
	var out []*Profile
	for id := int64(1); id < s.nextID; id++ {
		if p, ok := s.profiles[id]; ok && p.ProviderAlias == alias {
			out = append(out, p.Clone())
		}
	}
	return out, nil
}

func (s *memStore) ListAll(_ context.Context) ([]*Profile, error) {
	var out []*Profile
	for id := int64(1); id < s.nextID; id++ {
		if p, ok := s.profiles[id]; ok {
			out = append(out, p.Clone())
		}
	}
	return out, nil
}

func (s *memStore) UpdateData(_ context.Context, id int64, data map[string]any) error {
	if p, ok := s.profiles[id]; ok {
		p.Data = data
	}
	return nil
}

// stubProvider is a minimal provider for registry tests.
type stubProvider struct {
	BaseProvider
	alias    string
	fetched  []Device
	fetchErr error
	tornDown bool
	defaults map[string]any
}

func (p *stubProvider) Alias() string { return p.alias }
func (p *stubProvider) Title() string { return "Stub " + p.alias }

func (p *stubProvider) DefaultSettings() map[string]any {
	if p.defaults != nil {
		return p.defaults
	}
	return map[string]any{"host": "localhost"}
}

func (p *stubProvider) FetchDevices(context.Context) ([]Device, error) {
	return p.fetched, p.fetchErr
}

func (p *stubProvider) CreateBookingAccess(context.Context, Stay, Device, UnitRef) (DoorAccessResult, error) {
	return DoorAccessResult{}, nil
}

func (p *stubProvider) ModifyBookingAccess(context.Context, Stay, Device, UnitRef) (DoorAccessResult, error) {
	return DoorAccessResult{}, nil
}

func (p *stubProvider) CancelBookingAccess(context.Context, Stay, Device, UnitRef) error {
	return nil
}

func (p *stubProvider) Teardown(context.Context) error {
	p.tornDown = true
	return nil
}

func newTestRegistry(t *testing.T, store ProfileStore) *Registry {
	t.Helper()
	r := NewRegistry(store, nil)
	r.Register("stub", func() Provider { return &stubProvider{alias: "stub"} })
	return r
}

func TestRegistryRegister(t *testing.T) {
	t.Run("suppressed alias is skipped", func(t *testing.T) {
		r := NewRegistry(newMemStore(), []string{"stub"})
		r.Register("stub", func() Provider { return &stubProvider{alias: "stub"} })
		assert.Empty(t, r.Aliases())
	})

	t.Run("duplicate registration is ignored", func(t *testing.T) {
		r := newTestRegistry(t, newMemStore())
		r.Register("stub", func() Provider { return &stubProvider{alias: "stub"} })
		assert.Equal(t, []string{"stub"}, r.Aliases())
	})

	t.Run("mismatched alias is skipped", func(t *testing.T) {
		r := NewRegistry(newMemStore(), nil)
		r.Register("other", func() Provider { return &stubProvider{alias: "stub"} })
		assert.Empty(t, r.Aliases())
	})

	t.Run("panicking factory is skipped", func(t *testing.T) {
		r := NewRegistry(newMemStore(), nil)
		r.Register("boom", func() Provider { panic("broken adapter") })
		assert.Empty(t, r.Aliases())
	})
}

func TestRegistryGetReturnsFreshInstances(t *testing.T) {
	r := newTestRegistry(t, newMemStore())

	a, err := r.Get("stub")
	require.NoError(t, err)
	b, err := r.Get("stub")
	require.NoError(t, err)
	assert.NotSame(t, a, b)

	_, err = r.Get("unknown")
	var typed *Error
	require.ErrorAs(t, err, &typed)
	assert.Equal(t, http.StatusNotFound, typed.Code)
}

func TestRegistrySaveInsert(t *testing.T) {
	store := newMemStore()
	r := newTestRegistry(t, store)

	provider, err := r.Get("stub")
	require.NoError(t, err)

	err = r.Save(context.Background(), provider, SaveOptions{
		Name:           "Front door",
		GenerationType: "booking",
		Settings:       map[string]any{"token": "abc"},
	})
	require.NoError(t, err)

	profile := provider.Profile()
	assert.Equal(t, int64(1), profile.ID)
	assert.Equal(t, GenerationBooking, profile.GenerationType)

	// Operator settings merge over the provider defaults.
	assert.Equal(t, "localhost", profile.Settings["host"])
	assert.Equal(t, "abc", profile.Settings["token"])
}

func TestRegistrySaveDefaultsName(t *testing.T) {
	r := newTestRegistry(t, newMemStore())

	provider, err := r.Get("stub")
	require.NoError(t, err)

	require.NoError(t, r.Save(context.Background(), provider, SaveOptions{GenerationType: "disabled"}))
	assert.Contains(t, provider.Profile().Name, "Stub stub")
}

func TestRegistrySaveUpdatePreservesHiddenSettings(t *testing.T) {
	store := newMemStore()
	r := newTestRegistry(t, store)

	provider, _ := r.Get("stub")
	require.NoError(t, r.Save(context.Background(), provider, SaveOptions{
		Name:           "Door",
		GenerationType: "booking",
		Settings:       map[string]any{"token": "vendor-injected"},
	}))
	id := provider.Profile().ID

	// A later save that does not mention the token keeps it.
	update, _ := r.Get("stub")
	require.NoError(t, r.Save(context.Background(), update, SaveOptions{
		ID:       id,
		Settings: map[string]any{"slot_offset": 20},
	}))
	assert.Equal(t, "vendor-injected", update.Profile().Settings["token"])
	assert.Equal(t, 20, update.Profile().Settings["slot_offset"])

	// Overwrite replaces the bag wholesale.
	overwrite, _ := r.Get("stub")
	require.NoError(t, r.Save(context.Background(), overwrite, SaveOptions{
		ID:                id,
		Settings:          map[string]any{"only": true},
		OverwriteSettings: true,
	}))
	assert.NotContains(t, overwrite.Profile().Settings, "token")
	assert.Equal(t, true, overwrite.Profile().Settings["only"])
}

func TestRegistrySaveUnknownProfile(t *testing.T) {
	r := newTestRegistry(t, newMemStore())
	provider, _ := r.Get("stub")

	err := r.Save(context.Background(), provider, SaveOptions{ID: 42, Name: "ghost"})
	var typed *Error
	require.ErrorAs(t, err, &typed)
	assert.Equal(t, http.StatusNotFound, typed.Code)
}

func TestRegistryDelete(t *testing.T) {
	store := newMemStore()
	r := newTestRegistry(t, store)

	provider, _ := r.Get("stub")
	require.NoError(t, r.Save(context.Background(), provider, SaveOptions{Name: "Door", GenerationType: "booking"}))
	id := provider.Profile().ID

	require.NoError(t, r.Delete(context.Background(), provider))
	assert.True(t, provider.(*stubProvider).tornDown)

	stored, err := store.Get(context.Background(), id)
	require.NoError(t, err)
	assert.Nil(t, stored)

	// Deleting a provider without a persisted profile fails.
	fresh, _ := r.Get("stub")
	err = r.Delete(context.Background(), fresh)
	var typed *Error
	require.ErrorAs(t, err, &typed)
	assert.Equal(t, http.StatusNotFound, typed.Code)
}

func TestRegistryLoadProfile(t *testing.T) {
	r := newTestRegistry(t, newMemStore())

	provider, err := r.LoadProfile(context.Background(), 7)
	require.NoError(t, err)
	assert.Nil(t, provider)

	_, err = r.LoadProfile(context.Background(), 0)
	assert.Error(t, err)
}

func TestRegistryLoadProfilesPreferredFirst(t *testing.T) {
	store := newMemStore()
	r := newTestRegistry(t, store)

	for _, name := range []string{"first", "second", "third"} {
		p, _ := r.Get("stub")
		require.NoError(t, r.Save(context.Background(), p, SaveOptions{Name: name, GenerationType: "booking"}))
	}

	providers, err := r.LoadProfiles(context.Background(), "stub", 2)
	require.NoError(t, err)
	require.Len(t, providers, 3)
	assert.Equal(t, int64(2), providers[0].Profile().ID)
	assert.Equal(t, int64(1), providers[1].Profile().ID)
	assert.Equal(t, int64(3), providers[2].Profile().ID)
}

func TestRegistryLoadActiveProfilesFiltersEmptyDevices(t *testing.T) {
	store := newMemStore()
	r := newTestRegistry(t, store)

	withDevices, _ := r.Get("stub")
	require.NoError(t, r.Save(context.Background(), withDevices, SaveOptions{
		Name:           "active",
		GenerationType: "booking",
		Devices:        []Device{{ID: "d1", ConnectedUnits: map[int][]int{3: nil}}},
	}))

	empty, _ := r.Get("stub")
	require.NoError(t, r.Save(context.Background(), empty, SaveOptions{Name: "idle", GenerationType: "booking"}))

	active, err := r.LoadActiveProfiles(context.Background())
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, "active", active[0].Profile().Name)
}

func TestRegistryCloneOnLoad(t *testing.T) {
	store := newMemStore()
	r := newTestRegistry(t, store)

	provider, _ := r.Get("stub")
	require.NoError(t, r.Save(context.Background(), provider, SaveOptions{
		Name:           "Door",
		GenerationType: "booking",
		Devices:        []Device{{ID: "d1", ConnectedUnits: map[int][]int{3: nil}}},
	}))
	id := provider.Profile().ID

	a, err := r.LoadProfile(context.Background(), id)
	require.NoError(t, err)
	b, err := r.LoadProfile(context.Background(), id)
	require.NoError(t, err)

	// Mutating one loaded profile must not leak into the other.
	a.Profile().Settings["mutated"] = true
	a.Profile().Devices[0].ConnectUnit(9, 1)

	assert.NotContains(t, b.Profile().Settings, "mutated")
	assert.NotContains(t, b.Profile().Devices[0].ConnectedUnits, 9)
}

func TestRegistryUpdateDevicesReconciles(t *testing.T) {
	store := newMemStore()
	r := newTestRegistry(t, store)

	provider, _ := r.Get("stub")
	require.NoError(t, r.Save(context.Background(), provider, SaveOptions{
		Name:           "Door",
		GenerationType: "booking",
		Devices:        []Device{{ID: "keep", ConnectedUnits: map[int][]int{3: {1}}}, {ID: "gone"}},
	}))

	provider.(*stubProvider).fetched = []Device{{ID: "keep", Name: "Keep"}, {ID: "new"}}
	require.NoError(t, r.UpdateDevices(context.Background(), provider))

	devices := provider.Profile().Devices
	require.Len(t, devices, 2)
	assert.Equal(t, map[int][]int{3: {1}}, devices[0].ConnectedUnits)
	assert.Nil(t, devices[1].ConnectedUnits)

	stored, err := store.Get(context.Background(), provider.Profile().ID)
	require.NoError(t, err)
	require.Len(t, stored.Devices, 2)
	assert.Equal(t, "keep", stored.Devices[0].ID)
}

func TestRegistryConnectAndDisconnectUnit(t *testing.T) {
	store := newMemStore()
	r := newTestRegistry(t, store)

	provider, _ := r.Get("stub")
	require.NoError(t, r.Save(context.Background(), provider, SaveOptions{
		Name:           "Door",
		GenerationType: "booking",
		Devices:        []Device{{ID: "d1"}},
	}))

	require.NoError(t, r.ConnectUnit(context.Background(), provider, "d1", 3, 2))
	stored, _ := store.Get(context.Background(), provider.Profile().ID)
	assert.Equal(t, map[int][]int{3: {2}}, stored.Devices[0].ConnectedUnits)

	require.NoError(t, r.DisconnectUnit(context.Background(), provider, "d1", 3, 2))
	stored, _ = store.Get(context.Background(), provider.Profile().ID)
	assert.Empty(t, stored.Devices[0].ConnectedUnits)

	err := r.ConnectUnit(context.Background(), provider, "missing", 3, 0)
	var typed *Error
	require.ErrorAs(t, err, &typed)
	assert.Equal(t, http.StatusNotFound, typed.Code)
}
