// internal/host/clock.go

package host

import (
	"sync/atomic"
	"time"
)

// Clock is a monotonic time source measured from its own epoch.
type Clock interface {
	Now() time.Duration
}

// MonotonicClock reads the process monotonic clock.
type MonotonicClock struct {
	anchor time.Time
}

// NewMonotonicClock creates a clock whose epoch is the moment of the call.
func NewMonotonicClock() *MonotonicClock {
	return &MonotonicClock{anchor: time.Now()}
}

// Now returns the time elapsed since the clock was created.
func (c *MonotonicClock) Now() time.Duration {
	return time.Since(c.anchor)
}

// ManualClock only moves when told to. It counts atomically so tests may read
// it from other goroutines.
type ManualClock struct {
	elapsed atomic.Int64
}

// NewManualClock creates a clock stopped at zero.
func NewManualClock() *ManualClock {
	return &ManualClock{}
}

// Now returns the current virtual time.
func (c *ManualClock) Now() time.Duration {
	return time.Duration(c.elapsed.Load())
}

// Advance moves the clock forward by d. Negative values are ignored.
func (c *ManualClock) Advance(d time.Duration) time.Duration {
	if d < 0 {
		d = 0
	}
	return time.Duration(c.elapsed.Add(int64(d)))
}
