package testutil

import (
	"sync"
	"time"
)

// DefaultEpoch is the first instant a DeterministicClock reports.
var DefaultEpoch = time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC)

// DeterministicClock is a thread-safe stepping clock for tests.
//
// Each call to Now returns the previous instant plus Step, starting at the
// epoch. Reports stamped with it are byte-identical across runs, so they can
// be compared against golden files.
//
// Thread-safety: All methods are safe for concurrent use via internal mutex.
type DeterministicClock struct {
	mu    sync.Mutex
	epoch time.Time
	step  time.Duration
	ticks int64
}

// NewDeterministicClock creates a clock at DefaultEpoch that does not
// advance.
func NewDeterministicClock() *DeterministicClock {
	return &DeterministicClock{epoch: DefaultEpoch}
}

// NewSteppingClock creates a clock starting at epoch that advances by step
// on every call to Now.
func NewSteppingClock(epoch time.Time, step time.Duration) *DeterministicClock {
	return &DeterministicClock{epoch: epoch, step: step}
}

// Now returns the current instant and advances the clock.
func (c *DeterministicClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := c.epoch.Add(time.Duration(c.ticks) * c.step)
	c.ticks++
	return t
}

// Ticks returns how many times Now has been called.
func (c *DeterministicClock) Ticks() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ticks
}

// Reset rewinds the clock to its epoch.
func (c *DeterministicClock) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ticks = 0
}
