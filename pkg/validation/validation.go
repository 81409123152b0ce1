package validation

import (
	"strings"
	"time"
)

// PickupGrace is the tolerance subtracted from "must be in the future" checks
// on pickup times. It absorbs request latency and modest clock skew so that a
// pickup a few seconds away is not rejected as already past.
const PickupGrace = 30 * time.Second

// ValidPrice reports whether an estimated price is acceptable. Zero is
// rejected: a quote priced at exactly 0 is an input mistake, not a free ride.
func ValidPrice(price float64) bool {
	return price > 0
}

// ValidPickupTime reports whether a pickup time is acceptably in the future,
// relaxed by PickupGrace.
func ValidPickupTime(pickup, now time.Time) bool {
	return pickup.After(now.Add(-PickupGrace))
}

// ValidCoordinates reports whether a lat/lng pair is on the globe.
func ValidCoordinates(lat, lng float64) bool {
	return lat >= -90 && lat <= 90 && lng >= -180 && lng <= 180
}

// ValidName rejects blank or absurdly long passenger names.
func ValidName(name string) bool {
	name = strings.TrimSpace(name)
	return len(name) >= 2 && len(name) <= 200
}

// ValidNotes caps free-text note length.
func ValidNotes(notes string) bool {
	return len(notes) <= 2000
}
