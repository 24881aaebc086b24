package sched

import "time"

// FlushFunc runs one time slice of scheduled work. It reports whether ready
// work remains, in which case the host should grant another slice soon.
type FlushFunc func(hasTimeRemaining bool, initialTime time.Duration) (bool, error)

// TimeoutFunc is invoked by the host when a requested timeout elapses.
type TimeoutFunc func(currentTime time.Duration)

// Host is the runtime the scheduler runs inside. All methods are called from,
// and all callbacks are delivered on, a single goroutine.
type Host interface {
	// Now returns monotonic time elapsed since the host's epoch.
	Now() time.Duration
	// RequestCallback asks for fn to be run at the next opportunity.
	RequestCallback(fn FlushFunc)
	// RequestTimeout asks for fn to be run after delay, replacing any
	// previously requested timeout.
	RequestTimeout(fn TimeoutFunc, delay time.Duration)
	CancelTimeout()
	// ShouldYield reports whether the current slice is used up or the host
	// otherwise wants control back.
	ShouldYield() bool
	ForceFrameRate(fps int) error
	RequestPaint()
}
