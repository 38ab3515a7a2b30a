// Package clock isolates time sources so accrual logic can be tested
// deterministically and wall-clock tampering can be detected.
//
// Wall-clock timestamps (Now) are recorded for audit. Elapsed-time math
// uses Monotonic, a tick counter the OS guarantees never jumps backward,
// so changing the device clock mid-session does not change what a session
// actually earned.
package clock

import (
	"sync"
	"time"
)

// Clock supplies wall-clock timestamps and a monotonic tick reference.
type Clock interface {
	// Now returns the current wall-clock time.
	Now() time.Time
	// Monotonic returns the elapsed monotonic duration since an arbitrary
	// fixed origin (typically process start). Differences between two
	// Monotonic readings are immune to wall-clock adjustments.
	Monotonic() time.Duration
}

// SystemClock is the production Clock backed by the OS.
type SystemClock struct {
	origin time.Time
}

// NewSystem creates a SystemClock with its monotonic origin at the call time.
func NewSystem() *SystemClock {
	return &SystemClock{origin: time.Now()}
}

func (c *SystemClock) Now() time.Time { return time.Now() }

// Monotonic uses time.Since, which subtracts monotonic readings when both
// timestamps carry one.
func (c *SystemClock) Monotonic() time.Duration { return time.Since(c.origin) }

// FakeClock is a manually advanced Clock for tests. The wall and monotonic
// components advance independently so tests can simulate clock tampering
// (wall jumps without monotonic progress) and backgrounding (the reverse).
type FakeClock struct {
	mu   sync.Mutex
	wall time.Time
	mono time.Duration
}

// NewFake creates a FakeClock starting at the given wall time with a zero
// monotonic reading.
func NewFake(start time.Time) *FakeClock {
	return &FakeClock{wall: start}
}

func (c *FakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.wall
}

func (c *FakeClock) Monotonic() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mono
}

// Advance moves both the wall clock and the monotonic reading forward,
// as real time passing would.
func (c *FakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.wall = c.wall.Add(d)
	c.mono += d
	c.mu.Unlock()
}

// AdvanceWall moves only the wall clock, simulating a user adjusting the
// device clock. The monotonic reading is unaffected.
func (c *FakeClock) AdvanceWall(d time.Duration) {
	c.mu.Lock()
	c.wall = c.wall.Add(d)
	c.mu.Unlock()
}
