// Package clock provides the injectable time source behind every renewal and
// retry timer.
//
// Production code uses Real(). Tests use Fake(), whose time only moves when
// Advance is called, so lease expiry and backoff schedules can be driven
// deterministically:
//
//	c := clock.Fake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
//	client, _ := vaultclient.New(vaultclient.WithClock(c))
//	// ... login, watch ...
//	c.Advance(time.Hour) // fires every renewal due within the hour
package clock

import "time"

// Clock abstracts the time operations used by the session manager and the
// watch engine.
type Clock interface {
	// Now returns the current time.
	Now() time.Time

	// After returns a channel that receives the current time once d has
	// elapsed. If d <= 0 the channel receives immediately.
	After(d time.Duration) <-chan time.Time

	// AfterFunc calls f once d has elapsed and returns a Timer that can
	// cancel the pending call.
	AfterFunc(d time.Duration, f func()) *Timer
}

// Timer is a handle to a scheduled callback.
type Timer struct {
	stopFunc  func() bool
	resetFunc func(time.Duration) bool
}

// Stop prevents the Timer from firing. It returns false if the timer has
// already fired or been stopped. A nil Timer is treated as already stopped.
func (t *Timer) Stop() bool {
	if t == nil {
		return false
	}
	return t.stopFunc()
}

// Reset reschedules the timer to fire after d. It returns true if the timer
// was still pending.
func (t *Timer) Reset(d time.Duration) bool { return t.resetFunc(d) }
