// Package dispatch routes booking-lifecycle events and cron ticks to the
// eligible integration providers and records the outcome.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/samber/lo"

	"github.com/door-access-manager/backend/internal/booking"
	"github.com/door-access-manager/backend/internal/history"
	"github.com/door-access-manager/backend/internal/integration"
	"github.com/door-access-manager/backend/internal/notify"
)

// EventType is one booking-lifecycle notification.
type EventType string

const (
	EventConfirmation        EventType = "confirmation"
	EventModification        EventType = "modification"
	EventCancellation        EventType = "cancellation"
	EventPrecheckinCompleted EventType = "precheckin-completed"
)

// eligibleGenerations maps each lifecycle event to the generation types
// whose profiles react to it. Checkin profiles only act on the cron path.
var eligibleGenerations = map[EventType][]integration.GenerationType{
	EventConfirmation:        {integration.GenerationBooking},
	EventPrecheckinCompleted: {integration.GenerationPrecheckin},
	EventModification:        {integration.GenerationBooking, integration.GenerationPrecheckin},
	EventCancellation:        {integration.GenerationBooking, integration.GenerationPrecheckin},
}

// historyCodes maps each lifecycle event to the history code recorded on a
// successful provider operation.
var historyCodes = map[EventType]history.Code{
	EventConfirmation:        history.CodeNew,
	EventPrecheckinCompleted: history.CodeNew,
	EventModification:        history.CodeModified,
	EventCancellation:        history.CodeCancelled,
}

// notificationSender tags every entry the dispatcher emits.
const notificationSender = "door-access"

// notificationWidget routes entries to the integrations admin surface.
const notificationWidget = "integrations"

// Dispatcher consumes lifecycle events and cron ticks, fans each one out to
// the matching provider/device/unit triples, and records history and
// operator notifications. Each invocation runs synchronously start to
// finish; fan-out is bounded by devices x matched units per booking.
type Dispatcher struct {
	registry *integration.Registry
	events   history.Store
	reader   *history.Reader
	notifier notify.Center
	bookings booking.Source

	now func() time.Time
}

// NewDispatcher wires a dispatcher over its collaborators.
func NewDispatcher(
	registry *integration.Registry,
	events history.Store,
	notifier notify.Center,
	bookings booking.Source,
) *Dispatcher {
	return &Dispatcher{
		registry: registry,
		events:   events,
		reader:   history.NewReader(events),
		notifier: notifier,
		bookings: bookings,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// ProcessConfirmation handles a booking-confirmed notification. It returns
// whether at least one provider operation succeeded.
func (d *Dispatcher) ProcessConfirmation(ctx context.Context, b *booking.Snapshot) (bool, error) {
	return d.process(ctx, EventConfirmation, nil, b)
}

// ProcessModification handles a booking-altered notification. prev is the
// snapshot before the alteration.
func (d *Dispatcher) ProcessModification(ctx context.Context, prev, cur *booking.Snapshot) (bool, error) {
	return d.process(ctx, EventModification, prev, cur)
}

// ProcessCancellation handles a booking-cancelled notification.
func (d *Dispatcher) ProcessCancellation(ctx context.Context, b *booking.Snapshot) (bool, error) {
	return d.process(ctx, EventCancellation, nil, b)
}

// ProcessPrecheckinCompleted handles the guest completing pre-checkin.
func (d *Dispatcher) ProcessPrecheckinCompleted(ctx context.Context, b *booking.Snapshot) (bool, error) {
	return d.process(ctx, EventPrecheckinCompleted, nil, b)
}

func (d *Dispatcher) process(ctx context.Context, event EventType, prev, cur *booking.Snapshot) (bool, error) {
	if cur == nil {
		return false, integration.InvalidInputError("booking snapshot is required")
	}

	proceed, roomOnly, err := d.checkPreconditions(ctx, event, prev, cur)
	if err != nil {
		return false, err
	}
	if !proceed {
		return false, nil
	}

	providers, err := d.eligibleProviders(ctx, event, cur)
	if err != nil {
		return false, err
	}

	booked := cur.Units()
	anySuccess := false

	for _, provider := range providers {
		profile := provider.Profile()
		for _, device := range profile.Devices {
			if roomOnly && !device.HasSubUnitMapping() {
				// A device without sub-unit mappings cannot react to a
				// sub-unit-only change.
				continue
			}

			for _, unit := range integration.MatchUnits(booked, device) {
				stay := cur.Stay(unit.RoomIndex)
				if d.invoke(ctx, event, provider, device, unit, stay, cur.ID) {
					anySuccess = true
				}
			}
		}
	}

	return anySuccess, nil
}

// checkPreconditions applies the early-return rules. A false first return is
// a no-op, not an error. The second return flags a room-level-only
// modification.
func (d *Dispatcher) checkPreconditions(ctx context.Context, event EventType, prev, cur *booking.Snapshot) (bool, bool, error) {
	if cur.Closure || cur.Overbooking {
		return false, false, nil
	}

	switch event {
	case EventConfirmation, EventModification, EventPrecheckinCompleted:
		if !cur.Confirmed {
			return false, false, nil
		}
	case EventCancellation:
		if !cur.Cancelled {
			// A cancellation for a booking that never generated anything
			// has nothing to undo.
			generated, err := d.reader.HasGenerated(ctx, cur.ID)
			if err != nil {
				return false, false, err
			}
			if !generated {
				return false, false, nil
			}
		}
	}

	if event == EventModification {
		change := booking.Diff(prev, cur)
		if !change.Any() {
			return false, false, nil
		}
		return true, change.RoomLevelOnly(), nil
	}

	return true, false, nil
}

// eligibleProviders loads the active profiles matching the event's
// generation-type set, applying the pre-checkin guard for modification and
// cancellation events.
func (d *Dispatcher) eligibleProviders(ctx context.Context, event EventType, cur *booking.Snapshot) ([]integration.Provider, error) {
	generations, ok := eligibleGenerations[event]
	if !ok {
		return nil, integration.InvalidInputError("unknown lifecycle event %q", event)
	}

	providers, err := d.registry.LoadActiveProfiles(ctx)
	if err != nil {
		return nil, err
	}

	return lo.Filter(providers, func(p integration.Provider, _ int) bool {
		gentype := p.Profile().GenerationType
		if !lo.Contains(generations, gentype) {
			return false
		}
		// Do not touch precheckin passcodes before the guest identity is
		// known.
		if gentype == integration.GenerationPrecheckin && event != EventPrecheckinCompleted && !cur.PrecheckinDone {
			return false
		}
		return true
	}), nil
}

// invoke runs the event-appropriate provider operation for one device/unit
// pair and records the outcome. Failures are converted to notifications and
// never abort sibling pairs.
func (d *Dispatcher) invoke(
	ctx context.Context,
	event EventType,
	provider integration.Provider,
	device integration.Device,
	unit integration.UnitRef,
	stay integration.Stay,
	bookingID int64,
) bool {
	var result integration.DoorAccessResult
	var err error

	switch event {
	case EventConfirmation, EventPrecheckinCompleted:
		result, err = provider.CreateBookingAccess(ctx, stay, device, unit)
	case EventModification:
		result, err = provider.ModifyBookingAccess(ctx, stay, device, unit)
	case EventCancellation:
		err = provider.CancelBookingAccess(ctx, stay, device, unit)
	}

	if err == nil && event != EventCancellation && !result.OK() {
		err = integration.NewVendorError(nil, "provider %q returned an empty access result", provider.Alias())
	}

	if err != nil {
		log.Printf("Door access %s failed: booking=%d provider=%s device=%s listing=%d: %v",
			event, bookingID, provider.Alias(), device.ID, unit.ListingID, err)
		d.notifyFailure(ctx, event, provider, device, unit, bookingID, err)
		return false
	}

	d.recordSuccess(ctx, historyCodes[event], provider, device, bookingID, result)
	d.notifySuccess(ctx, event, provider, device, unit, bookingID, result)
	return true
}

// recordSuccess appends the booking-history record for a successful
// lifecycle operation.
func (d *Dispatcher) recordSuccess(
	ctx context.Context,
	code history.Code,
	provider integration.Provider,
	device integration.Device,
	bookingID int64,
	result integration.DoorAccessResult,
) {
	event := &history.Event{
		BookingID:     bookingID,
		Code:          code,
		ProviderAlias: provider.Alias(),
		ProfileID:     provider.Profile().ID,
		DeviceID:      device.ID,
		DeviceName:    device.Name,
		Passcode:      result.Passcode,
		Properties:    result.Properties,
		CreatedAt:     d.now(),
	}
	if err := d.events.Append(ctx, event); err != nil {
		log.Printf("Failed to append history event %s for booking %d: %v", code, bookingID, err)
	}
}

func (d *Dispatcher) notifySuccess(
	ctx context.Context,
	event EventType,
	provider integration.Provider,
	device integration.Device,
	unit integration.UnitRef,
	bookingID int64,
	result integration.DoorAccessResult,
) {
	profile := provider.Profile()
	entry := &notify.Entry{
		Sender:  notificationSender,
		Type:    notify.TypeSuccess,
		Title:   fmt.Sprintf("Door access %s processed", event),
		Summary: fmt.Sprintf("%s handled booking %d on device %q (listing %d)", provider.Title(), bookingID, device.Name, unit.ListingID),
		Label:   provider.Alias(),
		Widget:  notificationWidget,
		Payload: map[string]any{
			"booking_id":     bookingID,
			"provider_alias": provider.Alias(),
			"profile_id":     profile.ID,
			"device_id":      device.ID,
			"passcode":       result.Passcode,
		},
		CreatedAt: d.now(),
	}
	if err := d.notifier.Store(ctx, entry); err != nil {
		log.Printf("Failed to store success notification: %v", err)
	}
}

// notifyFailure emits a failure entry. When the error carries RetryData it
// is surfaced verbatim under "retry_data" so the operator can replay the
// exact operation from the UI.
func (d *Dispatcher) notifyFailure(
	ctx context.Context,
	event EventType,
	provider integration.Provider,
	device integration.Device,
	unit integration.UnitRef,
	bookingID int64,
	opErr error,
) {
	profile := provider.Profile()
	payload := map[string]any{
		"booking_id":     bookingID,
		"provider_alias": provider.Alias(),
		"profile_id":     profile.ID,
		"device_id":      device.ID,
		"error":          opErr.Error(),
	}

	var vendorErr *integration.VendorError
	if errors.As(opErr, &vendorErr) && vendorErr.Retry != nil {
		payload["retry_data"] = vendorErr.Retry
	}

	entry := &notify.Entry{
		Sender:  notificationSender,
		Type:    notify.TypeFailure,
		Title:   fmt.Sprintf("Door access %s failed", event),
		Summary: fmt.Sprintf("%s could not handle booking %d on device %q (listing %d): %v", provider.Title(), bookingID, device.Name, unit.ListingID, opErr),
		Label:   provider.Alias(),
		Widget:  notificationWidget,
		Payload: payload,

		CreatedAt: d.now(),
	}

	if err := d.notifier.Store(ctx, entry); err != nil {
		log.Printf("Failed to store failure notification: %v", err)
	}
}
