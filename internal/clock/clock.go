// Package clock abstracts the time operations the lifecycle engine needs so
// that tests can drive job timers deterministically.
package clock

import "time"

// Clock is the subset of the time package used by the service. Production
// code injects Real(); tests inject a Fake.
type Clock interface {
	// Now returns the current time.
	Now() time.Time

	// AfterFunc waits for d, then calls f. The returned Timer can cancel
	// the pending call.
	AfterFunc(d time.Duration, f func()) *Timer
}

// Timer is a pending AfterFunc call.
type Timer struct {
	stopFunc func() bool
}

// Stop prevents the Timer from firing. It returns false if the timer has
// already fired or been stopped.
func (t *Timer) Stop() bool { return t.stopFunc() }
