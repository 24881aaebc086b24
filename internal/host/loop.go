package host

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync/atomic"
	"time"

	"coopsched/internal/logging"
	"coopsched/internal/sched"
)

// Ensure LoopHost implements sched.Host.
var _ sched.Host = (*LoopHost)(nil)

// ErrLoopRunning is returned when Run or Drain is called on a loop that is
// already running.
var ErrLoopRunning = errors.New("host: loop is already running")

// LoopHost is a real-time host: a single goroutine event loop that runs
// posted functions, scheduler time slices and timeouts one at a time.
//
// Everything that touches the scheduler must run on the loop goroutine, either
// from a posted function or from inside a scheduled callback. Setup done
// before Run/Drain starts is fine as well.
type LoopHost struct {
	clock   Clock
	logger  *slog.Logger
	onError func(error)

	posted chan func()
	wake   chan struct{}

	callback sched.FlushFunc

	timer     *time.Timer
	timerC    <-chan time.Time
	timeoutFn sched.TimeoutFunc

	yieldInterval time.Duration
	deadline      time.Duration
	needsPaint    bool

	running atomic.Bool
}

// LoopOption configures a LoopHost.
type LoopOption func(*LoopHost)

// WithLoopLogger sets the logger used for slice errors.
func WithLoopLogger(l *slog.Logger) LoopOption {
	return func(h *LoopHost) {
		h.logger = l
	}
}

// WithErrorHandler registers fn to receive every error a time slice returns.
func WithErrorHandler(fn func(error)) LoopOption {
	return func(h *LoopHost) {
		h.onError = fn
	}
}

// WithClock replaces the monotonic clock.
func WithClock(c Clock) LoopOption {
	return func(h *LoopHost) {
		h.clock = c
	}
}

// NewLoopHost creates an idle loop. queueSize bounds the number of pending
// posted functions.
func NewLoopHost(queueSize int, opts ...LoopOption) *LoopHost {
	if queueSize <= 0 {
		queueSize = 256
	}
	h := &LoopHost{
		clock:         NewMonotonicClock(),
		posted:        make(chan func(), queueSize),
		wake:          make(chan struct{}, 1),
		yieldInterval: DefaultYieldInterval,
	}
	for _, opt := range opts {
		opt(h)
	}
	if h.logger == nil {
		h.logger = logging.Discard()
	}
	h.logger = h.logger.With("component", "host")
	return h
}

func (h *LoopHost) Now() time.Duration { return h.clock.Now() }

func (h *LoopHost) RequestCallback(fn sched.FlushFunc) {
	h.callback = fn
	h.signal()
}

func (h *LoopHost) RequestTimeout(fn sched.TimeoutFunc, delay time.Duration) {
	h.CancelTimeout()
	if delay < 0 {
		delay = 0
	}
	h.timeoutFn = fn
	h.timer = time.NewTimer(delay)
	h.timerC = h.timer.C
}

func (h *LoopHost) CancelTimeout() {
	if h.timer != nil {
		h.timer.Stop()
	}
	h.timer = nil
	h.timerC = nil
	h.timeoutFn = nil
}

// ShouldYield is true once the slice deadline has passed or a paint is
// pending.
func (h *LoopHost) ShouldYield() bool {
	return h.needsPaint || h.clock.Now() >= h.deadline
}

func (h *LoopHost) ForceFrameRate(fps int) error {
	interval, err := frameInterval(fps)
	if err != nil {
		return err
	}
	h.yieldInterval = interval
	return nil
}

func (h *LoopHost) RequestPaint() { h.needsPaint = true }

// Post queues fn to run on the loop goroutine. It blocks while the queue is
// full and gives up when ctx is done.
func (h *LoopHost) Post(ctx context.Context, fn func()) error {
	select {
	case h.posted <- fn:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run processes events until ctx is cancelled.
func (h *LoopHost) Run(ctx context.Context) error {
	return h.run(ctx, false)
}

// Drain processes events until nothing is pending: no posted functions, no
// requested slice and no armed timeout.
func (h *LoopHost) Drain(ctx context.Context) error {
	return h.run(ctx, true)
}

func (h *LoopHost) run(ctx context.Context, untilIdle bool) error {
	if !h.running.CompareAndSwap(false, true) {
		return ErrLoopRunning
	}
	defer h.running.Store(false)

	if h.callback != nil {
		h.signal()
	}

	for {
		if untilIdle && h.idle() {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case fn := <-h.posted:
			fn()
		case <-h.wake:
			h.performWorkUntilDeadline()
		case <-h.timerC:
			fn := h.timeoutFn
			h.timer, h.timerC, h.timeoutFn = nil, nil, nil
			if fn != nil {
				fn(h.clock.Now())
			}
		}
	}
}

func (h *LoopHost) idle() bool {
	return h.callback == nil && h.timerC == nil && len(h.posted) == 0 && len(h.wake) == 0
}

func (h *LoopHost) performWorkUntilDeadline() {
	cb := h.callback
	if cb == nil {
		return
	}
	h.callback = nil

	now := h.clock.Now()
	h.deadline = now + h.yieldInterval
	more, err := h.runSlice(cb, now)
	// The paint happens while we're out of the slice.
	h.needsPaint = false

	if err != nil {
		h.logger.Error("time slice failed", "error", err)
		if h.onError != nil {
			h.onError(err)
		}
	}
	if (more || err != nil) && h.callback == nil {
		h.callback = cb
	}
	if h.callback != nil {
		h.signal()
	}
}

func (h *LoopHost) runSlice(cb sched.FlushFunc, now time.Duration) (more bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("time slice panicked: %v\n%s", r, debug.Stack())
		}
	}()
	return cb(true, now)
}

func (h *LoopHost) signal() {
	select {
	case h.wake <- struct{}{}:
	default:
	}
}
