package host

import (
	"time"

	"coopsched/internal/sched"
)

// Ensure SimHost implements sched.Host.
var _ sched.Host = (*SimHost)(nil)

// SimHost is a deterministic host driven by hand. Time only moves through
// Advance, time slices only run through FlushSlice/FlushAll, and a yield can
// be forced with YieldNow.
type SimHost struct {
	clock *ManualClock

	callback  sched.FlushFunc
	timeout   sched.TimeoutFunc
	timeoutAt time.Duration

	yieldInterval  time.Duration
	sliceDeadline  time.Duration
	inSlice        bool
	yieldRequested bool
	needsPaint     bool
}

// NewSimHost creates a host at virtual time zero with 5ms slices.
func NewSimHost() *SimHost {
	return &SimHost{
		clock:         NewManualClock(),
		yieldInterval: DefaultYieldInterval,
	}
}

// Clock exposes the virtual clock.
func (h *SimHost) Clock() *ManualClock { return h.clock }

func (h *SimHost) Now() time.Duration { return h.clock.Now() }

func (h *SimHost) RequestCallback(fn sched.FlushFunc) { h.callback = fn }

func (h *SimHost) RequestTimeout(fn sched.TimeoutFunc, delay time.Duration) {
	h.timeout = fn
	h.timeoutAt = h.clock.Now() + delay
}

func (h *SimHost) CancelTimeout() {
	h.timeout = nil
	h.timeoutAt = 0
}

// ShouldYield is true once YieldNow or RequestPaint was called, or when the
// running slice has used its budget.
func (h *SimHost) ShouldYield() bool {
	if h.yieldRequested || h.needsPaint {
		return true
	}
	return h.inSlice && h.clock.Now() >= h.sliceDeadline
}

func (h *SimHost) ForceFrameRate(fps int) error {
	interval, err := frameInterval(fps)
	if err != nil {
		return err
	}
	h.yieldInterval = interval
	return nil
}

func (h *SimHost) RequestPaint() { h.needsPaint = true }

// YieldNow makes ShouldYield report true until the next slice begins.
func (h *SimHost) YieldNow() { h.yieldRequested = true }

// YieldInterval returns the current slice length.
func (h *SimHost) YieldInterval() time.Duration { return h.yieldInterval }

// HasPendingCallback reports whether a time slice has been requested.
func (h *SimHost) HasPendingCallback() bool { return h.callback != nil }

// PendingTimeout returns the virtual time at which the requested timeout
// fires, if any.
func (h *SimHost) PendingTimeout() (time.Duration, bool) {
	return h.timeoutAt, h.timeout != nil
}

// Advance moves virtual time forward and fires the timeout if it came due.
func (h *SimHost) Advance(d time.Duration) {
	now := h.clock.Advance(d)
	if h.timeout != nil && now >= h.timeoutAt {
		fn := h.timeout
		h.timeout = nil
		fn(now)
	}
}

// FlushSlice runs one requested time slice. It returns false without running
// anything when no slice is pending. The request stays pending while the
// scheduler reports more work, fails or panics.
func (h *SimHost) FlushSlice() (more bool, err error) {
	cb := h.callback
	if cb == nil {
		return false, nil
	}
	h.callback = nil
	h.yieldRequested = false
	h.needsPaint = false

	now := h.clock.Now()
	h.inSlice = true
	h.sliceDeadline = now + h.yieldInterval
	finished := false
	defer func() {
		h.inSlice = false
		if (!finished || more || err != nil) && h.callback == nil {
			h.callback = cb
		}
	}()

	more, err = cb(true, now)
	finished = true
	return more, err
}

// FlushAll runs slices until no slice is pending or one fails.
func (h *SimHost) FlushAll() error {
	for h.callback != nil {
		if _, err := h.FlushSlice(); err != nil {
			return err
		}
	}
	return nil
}

// RunUntilIdle alternates flushing and jumping to the next timeout until the
// host has nothing left to do.
func (h *SimHost) RunUntilIdle() error {
	for {
		if err := h.FlushAll(); err != nil {
			return err
		}
		at, ok := h.PendingTimeout()
		if !ok {
			return nil
		}
		h.Advance(at - h.clock.Now())
	}
}
