package store

import "sync/atomic"

// Clock is the monotonic logical clock that stamps event rows.
//
// Every persisted event gets a strictly increasing seq so that reading a
// run back reproduces dispatch order exactly, without wall-clock races.
//
// Thread-safety: safe for concurrent use (atomic operations), though the
// harness dispatches from a single goroutine.
type Clock struct {
	seq atomic.Int64
}

// NewClock creates a new clock starting at 0.
func NewClock() *Clock {
	return &Clock{}
}

// Next returns the next sequence number and increments the clock.
// Each call returns a unique, increasing value.
func (c *Clock) Next() int64 {
	return c.seq.Add(1)
}

// Current returns the current sequence number without incrementing.
func (c *Clock) Current() int64 {
	return c.seq.Load()
}
