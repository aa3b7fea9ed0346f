package dispatch

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/door-access-manager/backend/internal/booking"
	"github.com/door-access-manager/backend/internal/history"
	"github.com/door-access-manager/backend/internal/integration"
	"github.com/door-access-manager/backend/internal/notify"
)

var fixedNow = time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC)

// fakeProfiles is an in-memory integration.ProfileStore.
type fakeProfiles struct {
	mu       sync.Mutex
	profiles map[int64]*integration.Profile
	nextID   int64
}

func newFakeProfiles() *fakeProfiles {
	return &fakeProfiles{profiles: make(map[int64]*integration.Profile), nextID: 1}
}

func (s *fakeProfiles) add(p *integration.Profile) *integration.Profile {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p.ID == 0 {
		p.ID = s.nextID
		s.nextID++
	} else if p.ID >= s.nextID {
		s.nextID = p.ID + 1
	}
	s.profiles[p.ID] = p.Clone()
	return p
}

func (s *fakeProfiles) Insert(_ context.Context, p *integration.Profile) (int64, error) {
	return s.add(p.Clone()).ID, nil
}

func (s *fakeProfiles) Update(_ context.Context, p *integration.Profile) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.profiles[p.ID]; !ok {
		return 0, nil
	}
	s.profiles[p.ID] = p.Clone()
	return 1, nil
}

func (s *fakeProfiles) Delete(_ context.Context, id int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.profiles[id]; !ok {
		return 0, nil
	}
	delete(s.profiles, id)
	return 1, nil
}

func (s *fakeProfiles) Get(_ context.Context, id int64) (*integration.Profile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok := s.profiles[id]; ok {
		return p.Clone(), nil
	}
	return nil, nil
}

func (s *fakeProfiles) ListByAlias(_ context.Context, alias string) ([]*integration.Profile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*integration.Profile
	for id := int64(1); id < s.nextID; id++ {
		if p, ok := s.profiles[id]; ok && p.ProviderAlias == alias {
			out = append(out, p.Clone())
		}
	}
	return out, nil
}

func (s *fakeProfiles) ListAll(_ context.Context) ([]*integration.Profile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*integration.Profile
	for id := int64(1); id < s.nextID; id++ {
		if p, ok := s.profiles[id]; ok {
			out = append(out, p.Clone())
		}
	}
	return out, nil
}

func (s *fakeProfiles) UpdateData(_ context.Context, id int64, data map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok := s.profiles[id]; ok {
		p.Data = data
	}
	return nil
}

// fakeHistory is an in-memory history.Store.
type fakeHistory struct {
	events []*history.Event
}

func (s *fakeHistory) Append(_ context.Context, e *history.Event) error {
	s.events = append(s.events, e)
	return nil
}

func (s *fakeHistory) List(_ context.Context, bookingID int64, codes ...history.Code) ([]*history.Event, error) {
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

// fakeNotifier collects notification entries.
type fakeNotifier struct {
	entries []*notify.Entry
}

func (n *fakeNotifier) Store(_ context.Context, e *notify.Entry) error {
	n.entries = append(n.entries, e)
	return nil
}

func (n *fakeNotifier) byType(t string) []*notify.Entry {
	var out []*notify.Entry
	for _, e := range n.entries {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

// fakeBookings is an in-memory booking.Source.
type fakeBookings struct {
	byID     map[int64]*booking.Snapshot
	arrivals []*booking.Snapshot
	departed []*booking.Snapshot
}

func (s *fakeBookings) Get(_ context.Context, id int64) (*booking.Snapshot, error) {
	return s.byID[id], nil
}

func (s *fakeBookings) ArrivalsBetween(_ context.Context, from, to time.Time) ([]*booking.Snapshot, error) {
	var out []*booking.Snapshot
	for _, b := range s.arrivals {
		if !b.Arrival.Before(from) && b.Arrival.Before(to) {
			out = append(out, b)
		}
	}
	return out, nil
}

func (s *fakeBookings) ArrivalsOn(_ context.Context, day time.Time) ([]*booking.Snapshot, error) {
	var out []*booking.Snapshot
	for _, b := range s.arrivals {
		if b.Arrival.Year() == day.Year() && b.Arrival.YearDay() == day.YearDay() {
			out = append(out, b)
		}
	}
	return out, nil
}

func (s *fakeBookings) DepartedBetween(_ context.Context, from, to time.Time) ([]*booking.Snapshot, error) {
	var out []*booking.Snapshot
	for _, b := range s.departed {
		if !b.Departure.Before(from) && b.Departure.Before(to) {
			out = append(out, b)
		}
	}
	return out, nil
}

// vendorCalls records provider invocations across the fresh instances the
// registry hands out.
type vendorCalls struct {
	mu      sync.Mutex
	creates []int64
	mods    []int64
	cancels []int64
	detects []int64
}

func (c *vendorCalls) record(list *[]int64, bookingID int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	*list = append(*list, bookingID)
}

// scriptedProvider drives the dispatcher without a real vendor.
type scriptedProvider struct {
	integration.BaseProvider
	calls *vendorCalls

	createErr    error
	result       integration.DoorAccessResult
	firstAccess  bool
	watchAccess  bool
	cleanExpired bool
}

func (p *scriptedProvider) Alias() string { return "acme" }
func (p *scriptedProvider) Title() string { return "Acme Locks" }

func (p *scriptedProvider) FetchDevices(context.Context) ([]integration.Device, error) {
	return nil, nil
}

func (p *scriptedProvider) CreateBookingAccess(_ context.Context, stay integration.Stay, _ integration.Device, _ integration.UnitRef) (integration.DoorAccessResult, error) {
	p.calls.record(&p.calls.creates, stay.BookingID)
	return p.result, p.createErr
}

func (p *scriptedProvider) ModifyBookingAccess(_ context.Context, stay integration.Stay, _ integration.Device, _ integration.UnitRef) (integration.DoorAccessResult, error) {
	p.calls.record(&p.calls.mods, stay.BookingID)
	return p.result, nil
}

func (p *scriptedProvider) CancelBookingAccess(_ context.Context, stay integration.Stay, _ integration.Device, _ integration.UnitRef) error {
	p.calls.record(&p.calls.cancels, stay.BookingID)
	return nil
}

func (p *scriptedProvider) DetectFirstAccess(_ context.Context, stay integration.Stay, _ integration.Device, _ integration.UnitRef) (bool, error) {
	p.calls.record(&p.calls.detects, stay.BookingID)
	return p.firstAccess, nil
}

func (p *scriptedProvider) CanWatchFirstAccess() bool      { return p.watchAccess }
func (p *scriptedProvider) CanCleanExpiredPasscodes() bool { return p.cleanExpired }

// harness bundles the dispatcher with all its fakes.
type harness struct {
	dispatcher *Dispatcher
	registry   *integration.Registry
	profiles   *fakeProfiles
	events     *fakeHistory
	notifier   *fakeNotifier
	bookings   *fakeBookings
	calls      *vendorCalls
	script     *scriptedProvider
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	h := &harness{
		profiles: newFakeProfiles(),
		events:   &fakeHistory{},
		notifier: &fakeNotifier{},
		bookings: &fakeBookings{byID: make(map[int64]*booking.Snapshot)},
		calls:    &vendorCalls{},
	}
	h.script = &scriptedProvider{
		calls:  h.calls,
		result: integration.DoorAccessResult{Passcode: "4711"},
	}

	h.registry = integration.NewRegistry(h.profiles, nil)
	h.registry.Register("acme", func() integration.Provider {
		clone := *h.script
		return &clone
	})

	h.dispatcher = NewDispatcher(h.registry, h.events, h.notifier, h.bookings)
	h.dispatcher.now = func() time.Time { return fixedNow }
	return h
}

func (h *harness) addProfile(gentype integration.GenerationType, devices ...integration.Device) *integration.Profile {
	return h.profiles.add(&integration.Profile{
		ProviderAlias:  "acme",
		Name:           "Acme profile",
		GenerationType: gentype,
		Devices:        devices,
	})
}

func wholeListingDevice(id string, listings ...int) integration.Device {
	units := make(map[int][]int, len(listings))
	for _, l := range listings {
		units[l] = nil
	}
	return integration.Device{ID: id, Name: "Lock " + id, ConnectedUnits: units}
}

func confirmedBooking(id int64, listingID int) *booking.Snapshot {
	return &booking.Snapshot{
		ID:        id,
		Confirmed: true,
		GuestName: "Ada",
		Arrival:   fixedNow.AddDate(0, 0, 3),
		Departure: fixedNow.AddDate(0, 0, 7),
		Rooms:     []booking.Room{{ListingID: listingID}},
	}
}

func TestProcessConfirmation(t *testing.T) {
	t.Run("creates access and records history", func(t *testing.T) {
		h := newHarness(t)
		h.addProfile(integration.GenerationBooking, wholeListingDevice("d1", 3))

		handled, err := h.dispatcher.ProcessConfirmation(context.Background(), confirmedBooking(501, 3))
		require.NoError(t, err)
		assert.True(t, handled)
		assert.Equal(t, []int64{501}, h.calls.creates)

		require.Len(t, h.events.events, 1)
		event := h.events.events[0]
		assert.Equal(t, history.CodeNew, event.Code)
		assert.Equal(t, "4711", event.Passcode)
		assert.Equal(t, "acme", event.ProviderAlias)
		assert.Equal(t, fixedNow, event.CreatedAt)

		successes := h.notifier.byType(notify.TypeSuccess)
		require.Len(t, successes, 1)
		assert.Equal(t, "4711", successes[0].Payload["passcode"])
	})

	t.Run("closure and overbooking are no-ops", func(t *testing.T) {
		h := newHarness(t)
		h.addProfile(integration.GenerationBooking, wholeListingDevice("d1", 3))

		closure := confirmedBooking(502, 3)
		closure.Closure = true
		handled, err := h.dispatcher.ProcessConfirmation(context.Background(), closure)
		require.NoError(t, err)
		assert.False(t, handled)

		over := confirmedBooking(503, 3)
		over.Overbooking = true
		handled, err = h.dispatcher.ProcessConfirmation(context.Background(), over)
		require.NoError(t, err)
		assert.False(t, handled)

		assert.Empty(t, h.calls.creates)
	})

	t.Run("unconfirmed booking is a no-op", func(t *testing.T) {
		h := newHarness(t)
		h.addProfile(integration.GenerationBooking, wholeListingDevice("d1", 3))

		b := confirmedBooking(504, 3)
		b.Confirmed = false
		handled, err := h.dispatcher.ProcessConfirmation(context.Background(), b)
		require.NoError(t, err)
		assert.False(t, handled)
		assert.Empty(t, h.calls.creates)
	})

	t.Run("precheckin profiles do not react to confirmation", func(t *testing.T) {
		h := newHarness(t)
		h.addProfile(integration.GenerationPrecheckin, wholeListingDevice("d1", 3))

		handled, err := h.dispatcher.ProcessConfirmation(context.Background(), confirmedBooking(505, 3))
		require.NoError(t, err)
		assert.False(t, handled)
		assert.Empty(t, h.calls.creates)
	})

	t.Run("unmatched listing invokes nothing", func(t *testing.T) {
		h := newHarness(t)
		h.addProfile(integration.GenerationBooking, wholeListingDevice("d1", 8))

		handled, err := h.dispatcher.ProcessConfirmation(context.Background(), confirmedBooking(506, 3))
		require.NoError(t, err)
		assert.False(t, handled)
		assert.Empty(t, h.calls.creates)
	})
}

func TestProcessConfirmationVendorFailure(t *testing.T) {
	h := newHarness(t)
	h.addProfile(integration.GenerationBooking, wholeListingDevice("d1", 3))

	retry := &integration.RetryData{
		Callback: "create_booking_access",
		Options:  map[string]any{"slot": 11},
	}
	h.script.createErr = integration.NewRetryableVendorError(nil, retry, "lock offline")

	handled, err := h.dispatcher.ProcessConfirmation(context.Background(), confirmedBooking(501, 3))
	require.NoError(t, err)
	assert.False(t, handled)

	// Nothing lands in history on failure.
	assert.Empty(t, h.events.events)

	failures := h.notifier.byType(notify.TypeFailure)
	require.Len(t, failures, 1)
	assert.Equal(t, retry, failures[0].Payload["retry_data"])
	assert.Equal(t, int64(501), failures[0].Payload["booking_id"])
}

func TestProcessConfirmationEmptyResult(t *testing.T) {
	h := newHarness(t)
	h.addProfile(integration.GenerationBooking, wholeListingDevice("d1", 3))
	h.script.result = integration.DoorAccessResult{}

	handled, err := h.dispatcher.ProcessConfirmation(context.Background(), confirmedBooking(501, 3))
	require.NoError(t, err)
	assert.False(t, handled)
	assert.Empty(t, h.events.events)
	assert.Len(t, h.notifier.byType(notify.TypeFailure), 1)
}

func TestProcessPrecheckinCompleted(t *testing.T) {
	h := newHarness(t)
	h.addProfile(integration.GenerationPrecheckin, wholeListingDevice("d1", 3))

	b := confirmedBooking(501, 3)
	b.PrecheckinDone = true

	handled, err := h.dispatcher.ProcessPrecheckinCompleted(context.Background(), b)
	require.NoError(t, err)
	assert.True(t, handled)
	assert.Equal(t, []int64{501}, h.calls.creates)

	require.Len(t, h.events.events, 1)
	assert.Equal(t, history.CodeNew, h.events.events[0].Code)
}

func TestProcessModification(t *testing.T) {
	t.Run("no change is a no-op", func(t *testing.T) {
		h := newHarness(t)
		h.addProfile(integration.GenerationBooking, wholeListingDevice("d1", 3))

		handled, err := h.dispatcher.ProcessModification(context.Background(), confirmedBooking(501, 3), confirmedBooking(501, 3))
		require.NoError(t, err)
		assert.False(t, handled)
		assert.Empty(t, h.calls.mods)
	})

	t.Run("window change modifies access", func(t *testing.T) {
		h := newHarness(t)
		h.addProfile(integration.GenerationBooking, wholeListingDevice("d1", 3))

		cur := confirmedBooking(501, 3)
		cur.Departure = cur.Departure.AddDate(0, 0, 2)

		handled, err := h.dispatcher.ProcessModification(context.Background(), confirmedBooking(501, 3), cur)
		require.NoError(t, err)
		assert.True(t, handled)
		assert.Equal(t, []int64{501}, h.calls.mods)

		require.Len(t, h.events.events, 1)
		assert.Equal(t, history.CodeModified, h.events.events[0].Code)
	})

	t.Run("room-only change skips devices without sub-unit mapping", func(t *testing.T) {
		h := newHarness(t)
		h.addProfile(integration.GenerationBooking,
			wholeListingDevice("whole", 5),
			integration.Device{ID: "subs", Name: "Lock subs", ConnectedUnits: map[int][]int{5: {2, 4}}},
		)

		prev := &booking.Snapshot{
			ID: 501, Confirmed: true,
			Arrival: fixedNow.AddDate(0, 0, 3), Departure: fixedNow.AddDate(0, 0, 7),
			Rooms: []booking.Room{{ListingID: 5, SubUnit: 2}},
		}
		cur := &booking.Snapshot{
			ID: 501, Confirmed: true,
			Arrival: prev.Arrival, Departure: prev.Departure,
			Rooms: []booking.Room{{ListingID: 5, SubUnit: 4}},
		}

		handled, err := h.dispatcher.ProcessModification(context.Background(), prev, cur)
		require.NoError(t, err)
		assert.True(t, handled)

		// Only the sub-unit-mapped device reacts.
		assert.Equal(t, []int64{501}, h.calls.mods)
	})
}

func TestProcessCancellation(t *testing.T) {
	t.Run("cancelled booking cancels access", func(t *testing.T) {
		h := newHarness(t)
		h.addProfile(integration.GenerationBooking, wholeListingDevice("d1", 3))

		b := confirmedBooking(501, 3)
		b.Cancelled = true

		handled, err := h.dispatcher.ProcessCancellation(context.Background(), b)
		require.NoError(t, err)
		assert.True(t, handled)
		assert.Equal(t, []int64{501}, h.calls.cancels)

		require.Len(t, h.events.events, 1)
		assert.Equal(t, history.CodeCancelled, h.events.events[0].Code)
	})

	t.Run("uncancelled booking without history is a no-op", func(t *testing.T) {
		h := newHarness(t)
		h.addProfile(integration.GenerationBooking, wholeListingDevice("d1", 3))

		handled, err := h.dispatcher.ProcessCancellation(context.Background(), confirmedBooking(501, 3))
		require.NoError(t, err)
		assert.False(t, handled)
		assert.Empty(t, h.calls.cancels)
	})

	t.Run("uncancelled booking with generated access still cancels", func(t *testing.T) {
		h := newHarness(t)
		h.addProfile(integration.GenerationBooking, wholeListingDevice("d1", 3))
		h.events.events = append(h.events.events, &history.Event{
			BookingID: 501, Code: history.CodeNew, ProfileID: 1, Passcode: "4711",
		})

		handled, err := h.dispatcher.ProcessCancellation(context.Background(), confirmedBooking(501, 3))
		require.NoError(t, err)
		assert.True(t, handled)
		assert.Equal(t, []int64{501}, h.calls.cancels)
	})
}

func TestProcessRequiresSnapshot(t *testing.T) {
	h := newHarness(t)
	_, err := h.dispatcher.ProcessConfirmation(context.Background(), nil)
	assert.Error(t, err)
}
