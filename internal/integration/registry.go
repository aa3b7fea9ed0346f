package integration

import (
	"context"
	"fmt"
	"log"
	"sort"
	"time"

	"github.com/samber/lo"
)

// ProfileStore is the persistence contract the registry depends on.
// Implementations serialize settings/devices/data at their own boundary;
// not-found lookups return (nil, nil), never an error.
type ProfileStore interface {
	Insert(ctx context.Context, p *Profile) (int64, error)
	Update(ctx context.Context, p *Profile) (int64, error)
	Delete(ctx context.Context, id int64) (int64, error)
	Get(ctx context.Context, id int64) (*Profile, error)
	ListByAlias(ctx context.Context, alias string) ([]*Profile, error)
	ListAll(ctx context.Context) ([]*Profile, error)
	UpdateData(ctx context.Context, id int64, data map[string]any) error
}

// Registry owns the provider registration table and the persisted profiles.
// It is the sole entry point for obtaining configured provider instances;
// every Get builds a fresh instance so callers never share mutable state.
type Registry struct {
	store      ProfileStore
	factories  map[string]Factory
	order      []string
	suppressed map[string]bool
}

// NewRegistry builds an empty registry over the given store. Aliases in
// suppress are filtered out of registration (broken or banned vendors).
func NewRegistry(store ProfileStore, suppress []string) *Registry {
	suppressed := make(map[string]bool, len(suppress))
	for _, alias := range suppress {
		suppressed[alias] = true
	}
	return &Registry{
		store:      store,
		factories:  make(map[string]Factory),
		suppressed: suppressed,
	}
}

// Register adds a provider factory under its alias. Registration happens at
// process start-up; suppressed aliases are skipped, and a factory that fails
// a smoke construction is skipped too so one broken adapter cannot take the
// registry down.
func (r *Registry) Register(alias string, factory Factory) {
	if alias == "" || factory == nil {
		log.Printf("Skipping provider registration with empty alias or nil factory")
		return
	}
	if r.suppressed[alias] {
		log.Printf("Provider %q is suppressed, not registering", alias)
		return
	}
	if _, exists := r.factories[alias]; exists {
		log.Printf("Provider %q already registered, ignoring duplicate", alias)
		return
	}

	if !probeFactory(alias, factory) {
		return
	}

	r.factories[alias] = factory
	r.order = append(r.order, alias)
	log.Printf("Registered integration provider %q", alias)
}

// probeFactory constructs one instance to verify the adapter is sane.
// A panicking or mismatched adapter is skipped, not fatal.
func probeFactory(alias string, factory Factory) (ok bool) {
	defer func() {
		if recovered := recover(); recovered != nil {
			log.Printf("Provider %q failed to construct, skipping: %v", alias, recovered)
			ok = false
		}
	}()

	p := factory()
	if p == nil || p.Alias() != alias {
		log.Printf("Provider %q factory returned a mismatched instance, skipping", alias)
		return false
	}
	return true
}

// Aliases returns registered aliases in registration order.
func (r *Registry) Aliases() []string {
	return append([]string(nil), r.order...)
}

// Get returns a fresh, unconfigured provider instance for the alias.
func (r *Registry) Get(alias string) (Provider, error) {
	factory, ok := r.factories[alias]
	if !ok {
		return nil, NotFoundError("unknown integration provider %q", alias)
	}
	return factory(), nil
}

// LoadProfiles returns one configured provider per persisted profile of the
// alias. When preferredID names one of them, that profile sorts first; the
// remaining order is the stable insertion order.
func (r *Registry) LoadProfiles(ctx context.Context, alias string, preferredID int64) ([]Provider, error) {
	if _, ok := r.factories[alias]; !ok {
		return nil, NotFoundError("unknown integration provider %q", alias)
	}

	profiles, err := r.store.ListByAlias(ctx, alias)
	if err != nil {
		return nil, PersistenceError("loading profiles for %q: %v", alias, err)
	}

	if preferredID != 0 {
		sort.SliceStable(profiles, func(i, j int) bool {
			return profiles[i].ID == preferredID && profiles[j].ID != preferredID
		})
	}

	providers := make([]Provider, 0, len(profiles))
	for _, profile := range profiles {
		p, err := r.Get(alias)
		if err != nil {
			return nil, err
		}
		p.SetProfile(profile.Clone())
		providers = append(providers, p)
	}
	return providers, nil
}

// LoadProfile looks up a single profile and returns a configured provider.
// A missing record yields (nil, nil); callers must check.
func (r *Registry) LoadProfile(ctx context.Context, id int64) (Provider, error) {
	if id == 0 {
		return nil, InvalidInputError("profile id is required")
	}

	profile, err := r.store.Get(ctx, id)
	if err != nil {
		return nil, PersistenceError("loading profile %d: %v", id, err)
	}
	if profile == nil {
		return nil, nil
	}

	p, err := r.Get(profile.ProviderAlias)
	if err != nil {
		return nil, err
	}
	p.SetProfile(profile.Clone())
	return p, nil
}

// LoadActiveProfiles loads all profiles across all providers and keeps the
// ones that actually have devices to act on. Profiles of unregistered
// aliases are skipped, not failed, so one missing adapter cannot break the
// dispatch path. Generation-type filtering is the caller's business.
func (r *Registry) LoadActiveProfiles(ctx context.Context) ([]Provider, error) {
	profiles, err := r.store.ListAll(ctx)
	if err != nil {
		return nil, PersistenceError("loading profiles: %v", err)
	}

	active := lo.Filter(profiles, func(p *Profile, _ int) bool {
		return len(p.Devices) > 0
	})

	providers := make([]Provider, 0, len(active))
	for _, profile := range active {
		p, err := r.Get(profile.ProviderAlias)
		if err != nil {
			log.Printf("Skipping profile %d: %v", profile.ID, err)
			continue
		}
		p.SetProfile(profile.Clone())
		providers = append(providers, p)
	}
	return providers, nil
}

// SaveOptions carries the fields of an upsert. Nil Devices/Data means keep
// the stored value; non-nil replaces it wholesale.
type SaveOptions struct {
	ID                int64
	Name              string
	GenerationType    string
	GenerationPeriod  string
	Settings          map[string]any
	OverwriteSettings bool
	Devices           []Device
	Data              map[string]any
}

// Save upserts the provider's profile. On update the stored record is loaded
// first and injected into the provider before the write is built, so hidden
// vendor-injected settings survive an operator save. On insert the assigned
// id is read back into the provider.
func (r *Registry) Save(ctx context.Context, provider Provider, opts SaveOptions) error {
	var profile *Profile

	if opts.ID != 0 {
		stored, err := r.store.Get(ctx, opts.ID)
		if err != nil {
			return PersistenceError("loading profile %d: %v", opts.ID, err)
		}
		if stored == nil {
			return NotFoundError("integration profile %d not found", opts.ID)
		}
		if stored.ProviderAlias != provider.Alias() {
			return InvalidInputError("profile %d belongs to provider %q, not %q", opts.ID, stored.ProviderAlias, provider.Alias())
		}
		profile = stored
	} else {
		profile = &Profile{
			ProviderAlias: provider.Alias(),
			Settings:      provider.DefaultSettings(),
		}
	}
	provider.SetProfile(profile)

	if opts.Name != "" {
		profile.Name = opts.Name
	}
	if profile.Name == "" {
		profile.Name = fmt.Sprintf("%s %s", provider.Title(), time.Now().Format("2006-01-02 15:04:05"))
	}

	if opts.GenerationType != "" || opts.ID == 0 {
		gentype, err := ParseGenerationType(opts.GenerationType)
		if err != nil {
			return err
		}
		profile.GenerationType = gentype
	}
	if opts.GenerationPeriod != "" {
		profile.GenerationPeriod = opts.GenerationPeriod
	}

	if opts.Settings != nil {
		if opts.OverwriteSettings {
			profile.Settings = cloneBag(opts.Settings)
		} else {
			profile.MergeSettings(opts.Settings)
		}
	}
	if opts.Devices != nil {
		profile.Devices = CloneDevices(opts.Devices)
	}
	if opts.Data != nil {
		profile.Data = cloneBag(opts.Data)
	}

	if profile.ID == 0 {
		id, err := r.store.Insert(ctx, profile)
		if err != nil {
			return PersistenceError("inserting profile: %v", err)
		}
		profile.ID = id
		return nil
	}

	affected, err := r.store.Update(ctx, profile)
	if err != nil {
		return PersistenceError("updating profile %d: %v", profile.ID, err)
	}
	if affected == 0 {
		return PersistenceError("profile %d update had no effect", profile.ID)
	}
	return nil
}

// Delete tears down the provider's vendor-side state and removes the local
// record. Fails when the provider has no persisted profile or the record
// vanished concurrently.
func (r *Registry) Delete(ctx context.Context, provider Provider) error {
	profile := provider.Profile()
	if profile == nil || profile.ID == 0 {
		return NotFoundError("provider %q has no persisted profile", provider.Alias())
	}

	// Vendor-side teardown first; a dangling vendor passcode with no local
	// record is worse than a retryable delete.
	if err := provider.Teardown(ctx); err != nil {
		return fmt.Errorf("tearing down provider %q before delete: %w", provider.Alias(), err)
	}

	affected, err := r.store.Delete(ctx, profile.ID)
	if err != nil {
		return PersistenceError("deleting profile %d: %v", profile.ID, err)
	}
	if affected == 0 {
		return PersistenceError("profile %d was already deleted", profile.ID)
	}
	return nil
}

// UpdateDevices fetches the vendor's live device list and reconciles it
// against the persisted snapshot: known devices keep their curated unit
// connections, vanished devices are dropped, new devices start unconnected.
func (r *Registry) UpdateDevices(ctx context.Context, provider Provider) error {
	profile := provider.Profile()
	if profile == nil || profile.ID == 0 {
		return NotFoundError("provider %q has no persisted profile", provider.Alias())
	}

	fetched, err := provider.FetchDevices(ctx)
	if err != nil {
		return fmt.Errorf("fetching devices from %q: %w", provider.Alias(), err)
	}

	profile.Devices = ReconcileDevices(profile.Devices, fetched)
	profile.UpdatedAt = time.Now().UTC()

	affected, err := r.store.Update(ctx, profile)
	if err != nil {
		return PersistenceError("persisting devices for profile %d: %v", profile.ID, err)
	}
	if affected == 0 {
		return PersistenceError("profile %d device update had no effect", profile.ID)
	}
	return nil
}

// ConnectUnit assigns a (listing, optional sub-unit) pair to a device and
// persists the profile.
func (r *Registry) ConnectUnit(ctx context.Context, provider Provider, deviceID string, listingID, subUnit int) error {
	return r.mutateDevice(ctx, provider, deviceID, func(d *Device) {
		d.ConnectUnit(listingID, subUnit)
	})
}

// DisconnectUnit removes a device's unit assignment and persists the profile.
func (r *Registry) DisconnectUnit(ctx context.Context, provider Provider, deviceID string, listingID, subUnit int) error {
	return r.mutateDevice(ctx, provider, deviceID, func(d *Device) {
		d.DisconnectUnit(listingID, subUnit)
	})
}

func (r *Registry) mutateDevice(ctx context.Context, provider Provider, deviceID string, mutate func(*Device)) error {
	profile := provider.Profile()
	if profile == nil || profile.ID == 0 {
		return NotFoundError("provider %q has no persisted profile", provider.Alias())
	}
	idx := -1
	for i := range profile.Devices {
		if profile.Devices[i].ID == deviceID {
			idx = i
			break
		}
	}
	if idx < 0 {
		return NotFoundError("device %q not found on profile %d", deviceID, profile.ID)
	}
	mutate(&profile.Devices[idx])

	affected, err := r.store.Update(ctx, profile)
	if err != nil {
		return PersistenceError("persisting profile %d: %v", profile.ID, err)
	}
	if affected == 0 {
		return PersistenceError("profile %d update had no effect", profile.ID)
	}
	return nil
}

// PersistData writes back only the provider's data bag. The cron path uses
// this after setting processed flags.
func (r *Registry) PersistData(ctx context.Context, provider Provider) error {
	profile := provider.Profile()
	if profile == nil || profile.ID == 0 {
		return NotFoundError("provider %q has no persisted profile", provider.Alias())
	}
	if err := r.store.UpdateData(ctx, profile.ID, profile.Data); err != nil {
		return PersistenceError("persisting data for profile %d: %v", profile.ID, err)
	}
	return nil
}
