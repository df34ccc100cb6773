// Package clock holds the virtual time used by the scheduler.
//
// A Clock never reads wall-clock time. Its value is an offset from a virtual
// epoch and only moves when the owning scheduler advances it.
package clock

import "time"

// Clock is a monotonically non-decreasing virtual time value.
// It is not safe for concurrent use; the scheduler guards it with its own
// mutex.
type Clock struct {
	now time.Duration
}

// Now returns the current virtual time.
func (c *Clock) Now() time.Duration { return c.now }

// Advance moves the clock forward by d and returns the new time.
// Negative d is ignored.
func (c *Clock) Advance(d time.Duration) time.Duration {
	if d > 0 {
		c.now += d
	}
	return c.now
}

// AdvanceTo moves the clock to t if t is later than the current time.
// It reports whether the clock moved.
func (c *Clock) AdvanceTo(t time.Duration) bool {
	if t <= c.now {
		return false
	}
	c.now = t
	return true
}

// Reset returns the clock to the virtual epoch.
func (c *Clock) Reset() { c.now = 0 }
