// Package integration contains the provider contract, the profile and
// device model, and the registry that manages configured integrations.
package integration

import (
	"sort"
)

// Device represents one lock or access point exposed by a provider.
// Devices are value objects serialized as part of their owning profile;
// they have no identity outside it.
type Device struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	Model        string `json:"model,omitempty"`
	Description  string `json:"description,omitempty"`
	Icon         string `json:"icon,omitempty"`
	BatteryLevel *int   `json:"battery_level,omitempty"`

	// ConnectedUnits maps a listing id to the sub-unit indices the device
	// controls. An empty slice means the entire listing with no sub-unit
	// distinction. Sub-unit indices are unique integers >= 1.
	ConnectedUnits map[int][]int `json:"connected_units,omitempty"`
}

// ConnectUnit records that the device controls the given listing, optionally
// restricted to one sub-unit (subUnit 0 means the whole listing).
func (d *Device) ConnectUnit(listingID, subUnit int) {
	if d.ConnectedUnits == nil {
		d.ConnectedUnits = make(map[int][]int)
	}

	if subUnit <= 0 {
		// Whole-listing connection clears any sub-unit restriction.
		d.ConnectedUnits[listingID] = nil
		return
	}

	units := d.ConnectedUnits[listingID]
	for _, u := range units {
		if u == subUnit {
			return
		}
	}
	units = append(units, subUnit)
	sort.Ints(units)
	d.ConnectedUnits[listingID] = units
}

// DisconnectUnit removes a connection. With subUnit 0 the whole listing entry
// is dropped; otherwise only that sub-unit is removed (dropping the listing
// entry when it was its last sub-unit).
func (d *Device) DisconnectUnit(listingID, subUnit int) {
	units, ok := d.ConnectedUnits[listingID]
	if !ok {
		return
	}

	if subUnit <= 0 {
		delete(d.ConnectedUnits, listingID)
		return
	}

	kept := units[:0]
	for _, u := range units {
		if u != subUnit {
			kept = append(kept, u)
		}
	}
	if len(kept) == 0 {
		delete(d.ConnectedUnits, listingID)
		return
	}
	d.ConnectedUnits[listingID] = kept
}

// HasSubUnitMapping reports whether any connected listing carries a sub-unit
// restriction. Devices without one cannot react to room-level-only booking
// changes and are skipped for those.
func (d *Device) HasSubUnitMapping() bool {
	for _, units := range d.ConnectedUnits {
		if len(units) > 0 {
			return true
		}
	}
	return false
}

// Clone returns a deep copy of the device. Profiles hand devices out by
// value so callers cannot mutate the persisted snapshot through aliasing.
func (d Device) Clone() Device {
	out := d
	if d.BatteryLevel != nil {
		level := *d.BatteryLevel
		out.BatteryLevel = &level
	}
	if d.ConnectedUnits != nil {
		out.ConnectedUnits = make(map[int][]int, len(d.ConnectedUnits))
		for listing, units := range d.ConnectedUnits {
			out.ConnectedUnits[listing] = append([]int(nil), units...)
		}
	}
	return out
}

// CloneDevices deep-copies a device list.
func CloneDevices(devices []Device) []Device {
	if devices == nil {
		return nil
	}
	out := make([]Device, len(devices))
	for i, d := range devices {
		out[i] = d.Clone()
	}
	return out
}

// ReconcileDevices merges a freshly fetched vendor device list against the
// previously persisted one. Device identity survives the sync: a device
// present in both keeps its locally curated connected-unit set, a device
// absent from the fetch is dropped, and a genuinely new device starts with
// no connections. The fetched order is preserved.
func ReconcileDevices(previous, fetched []Device) []Device {
	curated := make(map[string]map[int][]int, len(previous))
	for _, d := range previous {
		curated[d.ID] = d.ConnectedUnits
	}

	out := make([]Device, 0, len(fetched))
	for _, d := range fetched {
		next := d.Clone()
		if units, ok := curated[d.ID]; ok {
			next.ConnectedUnits = make(map[int][]int, len(units))
			for listing, subs := range units {
				next.ConnectedUnits[listing] = append([]int(nil), subs...)
			}
			if len(next.ConnectedUnits) == 0 {
				next.ConnectedUnits = nil
			}
		} else {
			next.ConnectedUnits = nil
		}
		out = append(out, next)
	}
	return out
}
