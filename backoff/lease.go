package backoff

import "time"

// DefaultRenewFraction is the share of a lease that may elapse before it is
// renewed.
const DefaultRenewFraction = 0.75

// MinRenewDelay is the shortest renewal delay scheduled for a positive lease.
// Leases shorter than twice this value use half the lease instead, so the
// renewal always lands before expiry.
const MinRenewDelay = time.Second

// RenewAfter returns how long to wait before renewing a lease of the given
// duration. A lease of zero or less never needs renewal and yields 0.
// Fractions outside (0, 1] fall back to DefaultRenewFraction.
func RenewAfter(lease time.Duration, fraction float64) time.Duration {
	if lease <= 0 {
		return 0
	}
	if fraction <= 0 || fraction > 1 {
		fraction = DefaultRenewFraction
	}
	floor := min(MinRenewDelay, lease/2)
	d := time.Duration(float64(lease) * fraction)
	if d < floor {
		d = floor
	}
	if d >= lease {
		// Renew strictly before expiry.
		d = lease - floor
	}
	return d
}
