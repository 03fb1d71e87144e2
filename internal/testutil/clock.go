// Package testutil provides deterministic collaborators for harness and
// scenario tests: a stepped wall clock and a fixed origin generator.
package testutil

import (
	"sync"
	"time"
)

// SteppedClock is a deterministic wall clock for elapsed-time
// measurement. Every call to Now advances it by a fixed step, so the same
// execution always reports the same elapsed milliseconds.
//
// Thread-safety: all methods are safe for concurrent use via an internal
// mutex, though harness execution is single-goroutine.
type SteppedClock struct {
	mu   sync.Mutex
	now  time.Time
	step time.Duration
}

// NewSteppedClock creates a clock starting at a fixed epoch, advancing by
// step per Now call. A step of 0 freezes the clock (every elapsed
// measurement reads 0ms).
func NewSteppedClock(step time.Duration) *SteppedClock {
	return &SteppedClock{
		now:  time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
		step: step,
	}
}

// Now returns the current instant and advances the clock one step.
func (c *SteppedClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := c.now
	c.now = c.now.Add(c.step)
	return t
}

// Reset rewinds the clock to its starting epoch.
func (c *SteppedClock) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
}
