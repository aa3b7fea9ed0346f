// Package passcode derives numeric door codes for vendors whose locks store
// codes but do not generate them.
package passcode

import (
	"crypto/sha256"
	"fmt"
	"time"
)

// DateCode builds a 4-digit code from the stay window: arrival day followed
// by departure day. Deterministic, so a lost code can be reconstructed from
// the booking alone.
func DateCode(arrival, departure time.Time) string {
	return fmt.Sprintf("%02d%02d", arrival.Day(), departure.Day())
}

// DeterministicCode derives a numeric code of the given length from a seed
// string. The same seed always yields the same code; a changed seed yields a
// new one.
func DeterministicCode(seed string, length int) string {
	if length < 4 {
		length = 4
	}
	if length > 8 {
		length = 8
	}

	hash := sha256.Sum256([]byte(seed))
	code := make([]byte, length)
	for i := 0; i < length; i++ {
		code[i] = '0' + hash[i]%10
	}
	return string(code)
}

// BookingSeed builds the seed for a booking's code on one device, so codes
// differ per device but stay stable across retries.
func BookingSeed(bookingID int64, deviceID string) string {
	return fmt.Sprintf("%d|%s", bookingID, deviceID)
}
