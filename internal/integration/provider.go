package integration

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// GenerationType governs when a profile generates passcodes.
type GenerationType string

const (
	GenerationBooking    GenerationType = "booking"    // at booking confirmation
	GenerationPrecheckin GenerationType = "precheckin" // when the guest completes pre-checkin
	GenerationCheckin    GenerationType = "checkin"    // N hours before arrival (cron driven)
	GenerationDisabled   GenerationType = "disabled"   // never
)

// ParseGenerationType validates a generation type argument. The empty string
// is accepted as disabled for backwards compatibility with older records.
func ParseGenerationType(s string) (GenerationType, error) {
	switch GenerationType(s) {
	case GenerationBooking, GenerationPrecheckin, GenerationCheckin, GenerationDisabled:
		return GenerationType(s), nil
	case "":
		return GenerationDisabled, nil
	}
	return "", InvalidInputError("unknown generation type %q", s)
}

// defaultGenerationWindow applies when a checkin profile has no usable
// generation period configured.
const defaultGenerationWindow = 24 * time.Hour

// Profile is the persisted configuration of one provider instance.
// Settings, Devices and Data are strongly typed here; they are serialized
// only at the persistence adapter.
type Profile struct {
	ID             int64
	ProviderAlias  string
	Name           string
	GenerationType GenerationType

	// GenerationPeriod is an hour offset before arrival, e.g. "6H". Only
	// meaningful for checkin profiles.
	GenerationPeriod string

	// Settings holds vendor configuration, including hidden transport
	// credentials injected by the provider itself.
	Settings map[string]any

	// Devices is the authoritative persisted snapshot of the vendor's
	// device list plus the operator-curated unit connections.
	Devices []Device

	// Data is opaque per-provider runtime state (tokens, sync cursors,
	// processed-booking flags).
	Data map[string]any

	CreatedAt time.Time
	UpdatedAt time.Time
}

// GenerationWindow converts the generation period into a duration. Bad or
// missing values fall back to a day so a misconfigured profile still gets
// its passcodes generated before arrival.
func (p *Profile) GenerationWindow() time.Duration {
	raw := strings.TrimSuffix(strings.ToUpper(strings.TrimSpace(p.GenerationPeriod)), "H")
	hours, err := strconv.Atoi(raw)
	if err != nil || hours <= 0 {
		return defaultGenerationWindow
	}
	return time.Duration(hours) * time.Hour
}

const processedKey = "booking_access_processed"

// BookingAccessProcessed reports whether the cron path already generated
// access for the booking on this profile.
func (p *Profile) BookingAccessProcessed(bookingID int64) bool {
	flags, ok := p.Data[processedKey].(map[string]any)
	if !ok {
		return false
	}
	done, _ := flags[strconv.FormatInt(bookingID, 10)].(bool)
	return done
}

// SetBookingAccessProcessed flags the booking as handled. Set before the
// vendor call so an overlapping cron tick cannot double-generate.
func (p *Profile) SetBookingAccessProcessed(bookingID int64) {
	if p.Data == nil {
		p.Data = make(map[string]any)
	}
	flags, ok := p.Data[processedKey].(map[string]any)
	if !ok {
		flags = make(map[string]any)
		p.Data[processedKey] = flags
	}
	flags[strconv.FormatInt(bookingID, 10)] = true
}

// Clone deep-copies the profile so registry consumers never share mutable
// state with the canonical record.
func (p *Profile) Clone() *Profile {
	if p == nil {
		return nil
	}
	out := *p
	out.Settings = cloneBag(p.Settings)
	out.Data = cloneBag(p.Data)
	out.Devices = CloneDevices(p.Devices)
	return &out
}

func cloneBag(in map[string]any) map[string]any {
	if in == nil {
		return nil
	}
	out := make(map[string]any, len(in))
	for k, v := range in {
		if nested, ok := v.(map[string]any); ok {
			out[k] = cloneBag(nested)
			continue
		}
		out[k] = v
	}
	return out
}

// MergeSettings overlays updates onto the existing settings without losing
// keys the update does not mention. Hidden vendor-injected settings survive
// an operator save this way.
func (p *Profile) MergeSettings(updates map[string]any) {
	if p.Settings == nil {
		p.Settings = make(map[string]any, len(updates))
	}
	for k, v := range updates {
		p.Settings[k] = v
	}
}

// SettingString reads a settings value as a string.
func (p *Profile) SettingString(key string) string {
	if p == nil || p.Settings == nil {
		return ""
	}
	s, _ := p.Settings[key].(string)
	return s
}

// BookedUnit is one (listing, optional sub-unit) pair a booking occupies.
// SubUnit 0 means the whole listing.
type BookedUnit struct {
	ListingID int
	SubUnit   int
}

// UnitRef identifies the unit a provider operation targets. RoomIndex is the
// unit's position in the booking's own room ordering, used to disambiguate
// multi-room bookings (slot derivation, history lookups).
type UnitRef struct {
	ListingID int `json:"listing_id"`
	SubUnit   int `json:"sub_unit,omitempty"`
	RoomIndex int `json:"room_index"`
}

// Stay carries the booking context a provider needs to act on one unit.
// Passed explicitly on every call; providers hold no hidden booking state.
type Stay struct {
	BookingID int64
	GuestName string
	Arrival   time.Time
	Departure time.Time
}

// DoorAccessResult is the outcome of a create or modify operation. It is
// valid only when at least one of passcode and properties is non-empty.
type DoorAccessResult struct {
	Passcode   string         `json:"passcode,omitempty"`
	Properties map[string]any `json:"properties,omitempty"`
}

// OK reports whether the result represents a successful generation.
func (r DoorAccessResult) OK() bool {
	return r.Passcode != "" || len(r.Properties) > 0
}

// Provider is the contract every vendor adapter satisfies. Implementations
// are cheap to construct; the registry builds a fresh instance per Get so
// concurrent callers never share profile state.
type Provider interface {
	// Alias is the stable identifier the registry and persisted profiles
	// use for this vendor.
	Alias() string

	// Title is the human-readable vendor name.
	Title() string

	// Profile returns the injected profile, nil before injection.
	Profile() *Profile

	// SetProfile injects the persisted configuration this instance acts on.
	SetProfile(*Profile)

	// DefaultSettings seeds the settings bag of a brand-new profile.
	DefaultSettings() map[string]any

	// FetchDevices retrieves the live device list from the vendor. The
	// registry reconciles it against the persisted snapshot; callers never
	// apply it wholesale.
	FetchDevices(ctx context.Context) ([]Device, error)

	// Capabilities enumerates the actions the given device supports.
	Capabilities(device Device) []Capability

	// ExecuteCapability runs a capability callback against a device.
	ExecuteCapability(ctx context.Context, device Device, callback string, params map[string]any) (CapabilityResult, error)

	// Passcode lifecycle. Failures should be *VendorError so RetryData
	// survives to the operator notification.
	CreateBookingAccess(ctx context.Context, stay Stay, device Device, unit UnitRef) (DoorAccessResult, error)
	ModifyBookingAccess(ctx context.Context, stay Stay, device Device, unit UnitRef) (DoorAccessResult, error)
	CancelBookingAccess(ctx context.Context, stay Stay, device Device, unit UnitRef) error
	FetchBookingAccess(ctx context.Context, stay Stay, device Device, unit UnitRef) (DoorAccessResult, error)

	// DetectFirstAccess reports whether the guest already used the device
	// during this stay. Only consulted when CanWatchFirstAccess is true.
	DetectFirstAccess(ctx context.Context, stay Stay, device Device, unit UnitRef) (bool, error)

	// Feature flags.
	CanUnlockDevices() bool
	CanWatchFirstAccess() bool
	CanCleanExpiredPasscodes() bool

	// Teardown removes all vendor-side passcodes and state for the profile.
	// Called before the local record is deleted.
	Teardown(ctx context.Context) error

	// SpawnOAuthCallback handles a vendor OAuth redirect for this profile
	// and returns the URL to send the operator back to.
	SpawnOAuthCallback(ctx context.Context, params url.Values) (string, error)

	// SpawnWebhookCallback handles an inbound vendor webhook payload.
	SpawnWebhookCallback(ctx context.Context, payload []byte) error
}

// Factory constructs a fresh, unconfigured provider instance.
type Factory func() Provider

// BaseProvider carries the profile plumbing and no-op hooks shared by all
// adapters. Vendor packages embed it and override what they support.
type BaseProvider struct {
	profile *Profile
}

func (b *BaseProvider) Profile() *Profile               { return b.profile }
func (b *BaseProvider) SetProfile(p *Profile)           { b.profile = p }
func (b *BaseProvider) DefaultSettings() map[string]any { return map[string]any{} }

func (b *BaseProvider) Capabilities(Device) []Capability { return nil }

func (b *BaseProvider) ExecuteCapability(ctx context.Context, device Device, callback string, params map[string]any) (CapabilityResult, error) {
	return CapabilityResult{}, NotFoundError("unknown capability callback %q", callback)
}

func (b *BaseProvider) FetchBookingAccess(ctx context.Context, stay Stay, device Device, unit UnitRef) (DoorAccessResult, error) {
	return DoorAccessResult{}, NotFoundError("no stored access for booking %d on device %s", stay.BookingID, device.ID)
}

func (b *BaseProvider) DetectFirstAccess(ctx context.Context, stay Stay, device Device, unit UnitRef) (bool, error) {
	return false, nil
}

func (b *BaseProvider) CanUnlockDevices() bool         { return false }
func (b *BaseProvider) CanWatchFirstAccess() bool      { return false }
func (b *BaseProvider) CanCleanExpiredPasscodes() bool { return false }

func (b *BaseProvider) Teardown(ctx context.Context) error { return nil }

func (b *BaseProvider) SpawnOAuthCallback(ctx context.Context, params url.Values) (string, error) {
	return "", NotFoundError("provider does not support OAuth callbacks")
}

func (b *BaseProvider) SpawnWebhookCallback(ctx context.Context, payload []byte) error {
	return NotFoundError("provider does not support webhook callbacks")
}

// RequireProfile returns the injected profile or a typed error when the
// caller forgot to inject one.
func (b *BaseProvider) RequireProfile() (*Profile, error) {
	if b.profile == nil {
		return nil, InvalidInputError("provider has no profile injected")
	}
	return b.profile, nil
}

// String implements fmt.Stringer for log lines.
func (b *BaseProvider) String() string {
	if b.profile == nil {
		return "<unconfigured>"
	}
	return fmt.Sprintf("profile %d (%s)", b.profile.ID, b.profile.Name)
}
