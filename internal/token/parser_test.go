package token

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/door-access-manager/backend/internal/booking"
	"github.com/door-access-manager/backend/internal/history"
	"github.com/door-access-manager/backend/internal/integration"
)

// memProfiles is an in-memory integration.ProfileStore seeded per test.
type memProfiles struct {
	profiles map[int64]*integration.Profile
}

func (s *memProfiles) Insert(_ context.Context, p *integration.Profile) (int64, error) {
	return p.ID, nil
}

func (s *memProfiles) Update(_ context.Context, p *integration.Profile) (int64, error) {
	return 1, nil
}

func (s *memProfiles) Delete(_ context.Context, id int64) (int64, error) { return 1, nil }

func (s *memProfiles) Get(_ context.Context, id int64) (*integration.Profile, error) {
	return s.profiles[id], nil
}

func (s *memProfiles) ListByAlias(_ context.Context, alias string) ([]*integration.Profile, error) {
	return nil, nil
}

func (s *memProfiles) ListAll(_ context.Context) ([]*integration.Profile, error) {
	return nil, nil
}

func (s *memProfiles) UpdateData(_ context.Context, id int64, data map[string]any) error {
	return nil
}

// memHistory is an in-memory history.Store.
type memHistory struct {
	events []*history.Event
}

func (s *memHistory) Append(_ context.Context, e *history.Event) error {
	s.events = append(s.events, e)
	return nil
}

func (s *memHistory) List(_ context.Context, bookingID int64, codes ...history.Code) ([]*history.Event, error) {
	var out []*history.Event
	for i := len(s.events) - 1; i >= 0; i-- {
		e := s.events[i]
		if e.BookingID != bookingID {
			continue
		}
		if len(codes) > 0 {
			keep := false
			for _, c := range codes {
				if e.Code == c {
					keep = true
					break
				}
			}
			if !keep {
				continue
			}
		}
		out = append(out, e)
	}
	return out, nil
}

type noopProvider struct {
	integration.BaseProvider
}

func (p *noopProvider) Alias() string { return "acme" }
func (p *noopProvider) Title() string { return "Acme Locks" }

func (p *noopProvider) FetchDevices(context.Context) ([]integration.Device, error) {
	return nil, nil
}

func (p *noopProvider) CreateBookingAccess(context.Context, integration.Stay, integration.Device, integration.UnitRef) (integration.DoorAccessResult, error) {
	return integration.DoorAccessResult{}, nil
}

func (p *noopProvider) ModifyBookingAccess(context.Context, integration.Stay, integration.Device, integration.UnitRef) (integration.DoorAccessResult, error) {
	return integration.DoorAccessResult{}, nil
}

func (p *noopProvider) CancelBookingAccess(context.Context, integration.Stay, integration.Device, integration.UnitRef) error {
	return nil
}

func newParserFixture(t *testing.T, devices []integration.Device, events []*history.Event) (*Parser, *booking.Snapshot) {
	t.Helper()

	store := &memProfiles{profiles: map[int64]*integration.Profile{
		7: {
			ID:             7,
			ProviderAlias:  "acme",
			Name:           "Front desk",
			GenerationType: integration.GenerationBooking,
			Devices:        devices,
		},
	}}

	registry := integration.NewRegistry(store, nil)
	registry.Register("acme", func() integration.Provider { return &noopProvider{} })

	b := &booking.Snapshot{
		ID:        501,
		Confirmed: true,
		Arrival:   time.Date(2026, 9, 4, 15, 0, 0, 0, time.UTC),
		Departure: time.Date(2026, 9, 8, 11, 0, 0, 0, time.UTC),
		Rooms:     []booking.Room{{ListingID: 3}},
	}

	return NewParser(registry, &memHistory{events: events}), b
}

func TestSubstitute(t *testing.T) {
	devices := []integration.Device{{ID: "d1", Name: "Front door", ConnectedUnits: map[int][]int{3: nil}}}

	t.Run("single passcode replaces the tag", func(t *testing.T) {
		parser, b := newParserFixture(t, devices, []*history.Event{
			{BookingID: 501, Code: history.CodeNew, ProfileID: 7, DeviceID: "d1", DeviceName: "Front door", Passcode: "4711"},
		})

		out, handled := parser.Substitute(context.Background(), "Your code is {door_access: p7_code}.", b)
		assert.Equal(t, "Your code is 4711.", out)
		assert.Equal(t, 1, handled)
	})

	t.Run("repeated identical tags count once", func(t *testing.T) {
		parser, b := newParserFixture(t, devices, []*history.Event{
			{BookingID: 501, Code: history.CodeNew, ProfileID: 7, DeviceID: "d1", DeviceName: "Front door", Passcode: "4711"},
		})

		out, handled := parser.Substitute(context.Background(), "{door_access: p7_code} and again {door_access: p7_code}", b)
		assert.Equal(t, "4711 and again 4711", out)
		assert.Equal(t, 1, handled)
	})

	t.Run("newest passcode wins after modification", func(t *testing.T) {
		parser, b := newParserFixture(t, devices, []*history.Event{
			{BookingID: 501, Code: history.CodeNew, ProfileID: 7, DeviceID: "d1", Passcode: "1111"},
			{BookingID: 501, Code: history.CodeModified, ProfileID: 7, DeviceID: "d1", Passcode: "2222"},
		})

		out, handled := parser.Substitute(context.Background(), "{door_access: p7_code}", b)
		assert.Equal(t, "2222", out)
		assert.Equal(t, 1, handled)
	})

	t.Run("multiple devices are named", func(t *testing.T) {
		multi := []integration.Device{
			{ID: "d1", Name: "Front door", ConnectedUnits: map[int][]int{3: nil}},
			{ID: "d2", Name: "Garage", ConnectedUnits: map[int][]int{3: nil}},
		}
		parser, b := newParserFixture(t, multi, []*history.Event{
			{BookingID: 501, Code: history.CodeNew, ProfileID: 7, DeviceID: "d1", DeviceName: "Front door", Passcode: "1111"},
			{BookingID: 501, Code: history.CodeNew, ProfileID: 7, DeviceID: "d2", DeviceName: "Garage", Passcode: "2222"},
		})

		out, handled := parser.Substitute(context.Background(), "{door_access: p7_code}", b)
		assert.Equal(t, 1, handled)
		assert.Contains(t, out, "Front door: ")
		assert.Contains(t, out, "Garage: ")
		assert.Contains(t, out, ", ")
	})

	t.Run("unresolvable tag is blanked and not counted", func(t *testing.T) {
		parser, b := newParserFixture(t, devices, nil)

		out, handled := parser.Substitute(context.Background(), "Code: {door_access: p99_code}!", b)
		assert.Equal(t, "Code: !", out)
		assert.Zero(t, handled)
	})

	t.Run("no history means unresolvable", func(t *testing.T) {
		parser, b := newParserFixture(t, devices, nil)

		out, handled := parser.Substitute(context.Background(), "{door_access: p7_code}", b)
		assert.Equal(t, "", out)
		assert.Zero(t, handled)
	})

	t.Run("profile without matching units is unresolvable", func(t *testing.T) {
		unmatched := []integration.Device{{ID: "d1", ConnectedUnits: map[int][]int{8: nil}}}
		parser, b := newParserFixture(t, unmatched, []*history.Event{
			{BookingID: 501, Code: history.CodeNew, ProfileID: 7, DeviceID: "d1", Passcode: "4711"},
		})

		out, handled := parser.Substitute(context.Background(), "{door_access: p7_code}", b)
		assert.Equal(t, "", out)
		assert.Zero(t, handled)
	})

	t.Run("template without tags passes through", func(t *testing.T) {
		parser, b := newParserFixture(t, devices, nil)
		out, handled := parser.Substitute(context.Background(), "Welcome to the house!", b)
		assert.Equal(t, "Welcome to the house!", out)
		assert.Zero(t, handled)
	})
}

func TestSpecialTags(t *testing.T) {
	profiles := []*integration.Profile{{ID: 7}, {ID: 12}}
	tags := SpecialTags(profiles)
	require.Len(t, tags, 2)
	assert.Equal(t, "{door_access: p7_code}", tags[0])
	assert.Equal(t, "{door_access: p12_code}", tags[1])
}
