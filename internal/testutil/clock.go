package testutil

import (
	"sync"
	"time"
)

// Epoch is the default start of a DeterministicClock.
var Epoch = time.Date(2025, 1, 15, 10, 30, 0, 0, time.UTC)

// DeterministicClock is a thread-safe fake clock for tests.
//
// Every call to Now() advances the clock by a fixed tick, so a run that
// reads the clock the same number of times always reports the same
// timestamps and durations. This is what makes rendered reports
// byte-comparable against golden files.
//
// Thread-safety: All methods are safe for concurrent use via internal mutex.
type DeterministicClock struct {
	mu    sync.Mutex
	start time.Time
	tick  time.Duration
	seq   int64
}

// NewDeterministicClock creates a clock at Epoch advancing by tick per read.
//
// The first call to Now() returns Epoch.
func NewDeterministicClock(tick time.Duration) *DeterministicClock {
	return &DeterministicClock{start: Epoch, tick: tick}
}

// Now returns the current fake time and advances the clock by one tick.
func (c *DeterministicClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.start.Add(time.Duration(c.seq) * c.tick)
	c.seq++
	return now
}

// Reads returns how many times Now() has been called.
func (c *DeterministicClock) Reads() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.seq
}

// Reset rewinds the clock to Epoch.
//
// Used for test reuse. After Reset(), the next call to Now() returns Epoch.
func (c *DeterministicClock) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seq = 0
}
