package integration

// MatchUnits computes the subset of a booking's booked units a device can
// act on. A unit matches when the device is connected to its listing with no
// sub-unit restriction, or to exactly that sub-unit. The result preserves
// the booking's own room ordering and carries each unit's room index; the
// function is pure and deterministic.
func MatchUnits(booked []BookedUnit, device Device) []UnitRef {
	if len(device.ConnectedUnits) == 0 {
		return nil
	}

	var matched []UnitRef
	for idx, unit := range booked {
		subs, ok := device.ConnectedUnits[unit.ListingID]
		if !ok {
			continue
		}

		if len(subs) == 0 {
			// Whole-listing connection matches regardless of sub-unit.
			matched = append(matched, UnitRef{ListingID: unit.ListingID, SubUnit: unit.SubUnit, RoomIndex: idx})
			continue
		}

		for _, s := range subs {
			if s == unit.SubUnit {
				matched = append(matched, UnitRef{ListingID: unit.ListingID, SubUnit: unit.SubUnit, RoomIndex: idx})
				break
			}
		}
	}
	return matched
}

// ExpectedPasscodeCount is the number of passcodes a profile should hold
// for the booked units: the total matched units across its devices.
func ExpectedPasscodeCount(profile *Profile, booked []BookedUnit) int {
	count := 0
	for _, device := range profile.Devices {
		count += len(MatchUnits(booked, device))
	}
	return count
}
