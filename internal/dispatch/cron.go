package dispatch

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/samber/lo"

	"github.com/door-access-manager/backend/internal/history"
	"github.com/door-access-manager/backend/internal/integration"
	"github.com/door-access-manager/backend/internal/notify"
)

// RunUpcomingArrivals generates passcodes for checkin-type profiles whose
// generation window now covers a booking's arrival. Per profile, a processed
// flag on the provider's data bag is set before the vendor call and the bag
// is persisted after the loop, so a repeated tick inside the same window
// does not double-generate. Returns the number of successful generations.
func (d *Dispatcher) RunUpcomingArrivals(ctx context.Context) (int, error) {
	providers, err := d.providersByGeneration(ctx, integration.GenerationCheckin)
	if err != nil {
		return 0, err
	}

	now := d.now()
	successes := 0

	for _, provider := range providers {
		profile := provider.Profile()
		window := profile.GenerationWindow()

		arrivals, err := d.bookings.ArrivalsBetween(ctx, now, now.Add(window))
		if err != nil {
			log.Printf("Upcoming arrivals: loading bookings for profile %d: %v", profile.ID, err)
			continue
		}

		dataChanged := false
		for _, b := range arrivals {
			if b.Closure || b.Overbooking || b.Cancelled || !b.Confirmed {
				continue
			}
			if profile.BookingAccessProcessed(b.ID) {
				continue
			}

			// Flag first so an overlapping tick skips this booking even if
			// the vendor call below is still in flight.
			profile.SetBookingAccessProcessed(b.ID)
			dataChanged = true

			booked := b.Units()
			for _, device := range profile.Devices {
				for _, unit := range integration.MatchUnits(booked, device) {
					stay := b.Stay(unit.RoomIndex)
					if d.invoke(ctx, EventConfirmation, provider, device, unit, stay, b.ID) {
						successes++
					}
				}
			}
		}

		if dataChanged {
			if err := d.registry.PersistData(ctx, provider); err != nil {
				log.Printf("Upcoming arrivals: persisting data for profile %d: %v", profile.ID, err)
			}
		}
	}

	return successes, nil
}

// RunWatchFirstAccess checks today's arrivals that already hold a generated
// passcode for first use of their devices. Detection is best-effort: errors
// are swallowed per device pair, nothing is retried.
func (d *Dispatcher) RunWatchFirstAccess(ctx context.Context) (int, error) {
	providers, err := d.activeProviders(ctx, func(p integration.Provider) bool {
		return p.CanWatchFirstAccess()
	})
	if err != nil {
		return 0, err
	}
	if len(providers) == 0 {
		return 0, nil
	}

	arrivals, err := d.bookings.ArrivalsOn(ctx, d.now())
	if err != nil {
		return 0, fmt.Errorf("loading today's arrivals: %w", err)
	}

	detected := 0
	for _, b := range arrivals {
		generated, err := d.reader.HasGenerated(ctx, b.ID)
		if err != nil || !generated {
			continue
		}

		booked := b.Units()
		for _, provider := range providers {
			profile := provider.Profile()
			for _, device := range profile.Devices {
				seen, err := d.reader.HasFirstAccess(ctx, b.ID, device.ID)
				if err != nil || seen {
					continue
				}

				for _, unit := range integration.MatchUnits(booked, device) {
					stay := b.Stay(unit.RoomIndex)
					accessed, err := provider.DetectFirstAccess(ctx, stay, device, unit)
					if err != nil {
						log.Printf("First access detection failed: booking=%d device=%s: %v", b.ID, device.ID, err)
						continue
					}
					if !accessed {
						continue
					}

					d.recordSuccess(ctx, history.CodeFirstAccess, provider, device, b.ID, integration.DoorAccessResult{})
					d.notifyFirstAccess(ctx, provider, device, b.ID)
					detected++
					break
				}
			}
		}
	}

	return detected, nil
}

// RunCleanupExpired cancels leftover passcodes of checked-out reservations.
// Zero bounds default to the whole of last week up to yesterday. Per
// provider with at least one deletion a single aggregated notification is
// emitted. Returns the total number of deletions.
func (d *Dispatcher) RunCleanupExpired(ctx context.Context, from, to time.Time) (int, error) {
	if from.IsZero() || to.IsZero() {
		now := d.now()
		to = now.Truncate(24 * time.Hour)
		from = to.AddDate(0, 0, -7)
	}

	providers, err := d.activeProviders(ctx, func(p integration.Provider) bool {
		return p.CanCleanExpiredPasscodes()
	})
	if err != nil {
		return 0, err
	}
	if len(providers) == 0 {
		return 0, nil
	}

	departed, err := d.bookings.DepartedBetween(ctx, from, to)
	if err != nil {
		return 0, fmt.Errorf("loading departed bookings: %w", err)
	}

	total := 0
	perProvider := make(map[int64]int)

	for _, b := range departed {
		generated, err := d.reader.HasGenerated(ctx, b.ID)
		if err != nil || !generated {
			continue
		}

		booked := b.Units()
		for _, provider := range providers {
			profile := provider.Profile()
			for _, device := range profile.Devices {
				for _, unit := range integration.MatchUnits(booked, device) {
					stay := b.Stay(unit.RoomIndex)
					if err := provider.CancelBookingAccess(ctx, stay, device, unit); err != nil {
						log.Printf("Expired passcode cleanup failed: booking=%d device=%s: %v", b.ID, device.ID, err)
						continue
					}
					total++
					perProvider[profile.ID]++
				}
			}
		}
	}

	for _, provider := range providers {
		profile := provider.Profile()
		deleted := perProvider[profile.ID]
		if deleted == 0 {
			continue
		}
		entry := &notify.Entry{
			Sender:  notificationSender,
			Type:    notify.TypeInfo,
			Title:   "Expired passcodes cleaned up",
			Summary: fmt.Sprintf("%s removed %d expired passcode(s) for checked-out reservations", provider.Title(), deleted),
			Label:   provider.Alias(),
			Widget:  notificationWidget,
			Payload: map[string]any{
				"provider_alias": provider.Alias(),
				"profile_id":     profile.ID,
				"deleted":        deleted,
			},
			CreatedAt: d.now(),
		}
		if err := d.notifier.Store(ctx, entry); err != nil {
			log.Printf("Failed to store cleanup notification: %v", err)
		}
	}

	return total, nil
}

func (d *Dispatcher) notifyFirstAccess(ctx context.Context, provider integration.Provider, device integration.Device, bookingID int64) {
	profile := provider.Profile()
	entry := &notify.Entry{
		Sender:  notificationSender,
		Type:    notify.TypeInfo,
		Title:   "Guest first access detected",
		Summary: fmt.Sprintf("Booking %d used device %q for the first time", bookingID, device.Name),
		Label:   provider.Alias(),
		Widget:  notificationWidget,
		Payload: map[string]any{
			"booking_id":     bookingID,
			"provider_alias": provider.Alias(),
			"profile_id":     profile.ID,
			"device_id":      device.ID,
		},
		CreatedAt: d.now(),
	}
	if err := d.notifier.Store(ctx, entry); err != nil {
		log.Printf("Failed to store first-access notification: %v", err)
	}
}

// providersByGeneration loads the active profiles with the given generation
// type.
func (d *Dispatcher) providersByGeneration(ctx context.Context, gentype integration.GenerationType) ([]integration.Provider, error) {
	return d.activeProviders(ctx, func(p integration.Provider) bool {
		return p.Profile().GenerationType == gentype
	})
}

func (d *Dispatcher) activeProviders(ctx context.Context, keep func(integration.Provider) bool) ([]integration.Provider, error) {
	providers, err := d.registry.LoadActiveProfiles(ctx)
	if err != nil {
		return nil, err
	}
	return lo.Filter(providers, func(p integration.Provider, _ int) bool { return keep(p) }), nil
}
