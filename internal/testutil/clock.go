package testutil

import (
	"sync"
	"time"
)

// DeterministicClock is a thread-safe logical clock for tests.
//
// Each Next call advances by one millisecond from a fixed epoch, so the
// write timestamps of a scripted run are identical from run to run.
type DeterministicClock struct {
	mu  sync.Mutex
	seq int64
}

// Epoch is the wall time of sequence 0.
var Epoch = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

// NewDeterministicClock creates a clock starting at 0.
//
// The first call to Next() returns 1.
func NewDeterministicClock() *DeterministicClock {
	return &DeterministicClock{}
}

// Next increments and returns the next sequence number.
func (c *DeterministicClock) Next() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seq++
	return c.seq
}

// Current returns the current sequence number without incrementing.
func (c *DeterministicClock) Current() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.seq
}

// Now advances the clock and returns the matching wall time.
func (c *DeterministicClock) Now() time.Time {
	return Epoch.Add(time.Duration(c.Next()) * time.Millisecond)
}

// Reset resets the clock to 0.
func (c *DeterministicClock) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seq = 0
}
