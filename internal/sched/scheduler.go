// internal/sched/scheduler.go

package sched

import (
	"errors"
	"log/slog"
	"time"

	"coopsched/internal/logging"
	"coopsched/internal/minheap"
)

// ErrReentrantFlush is returned when the host runs a flush while another
// flush of the same scheduler is still on the stack.
var ErrReentrantFlush = errors.New("sched: flush called while performing work")

// Scheduler runs prioritized callbacks cooperatively on a single goroutine,
// in time slices granted by its Host.
type Scheduler struct {
	host     Host
	timeouts Timeouts
	logger   *slog.Logger
	recorder Recorder

	taskQueue  *minheap.Heap[*Task] // ready tasks keyed by expiration time
	timerQueue *minheap.Heap[*Task] // delayed tasks keyed by start time
	nextID     TaskID

	currentTask     *Task
	currentPriority Priority

	isPerformingWork        bool
	isHostCallbackScheduled bool
	isHostTimeoutScheduled  bool
	paused                  bool
}

// New creates a Scheduler bound to host.
func New(host Host, opts ...Option) *Scheduler {
	o := &Options{Timeouts: DefaultTimeouts()}
	for _, opt := range opts {
		opt(o)
	}
	logger := o.Logger
	if logger == nil {
		logger = logging.Discard()
	}

	return &Scheduler{
		host:            host,
		timeouts:        o.Timeouts,
		logger:          logger.With("component", "scheduler"),
		recorder:        o.Recorder,
		taskQueue:       minheap.New[*Task](),
		timerQueue:      minheap.New[*Task](),
		nextID:          1,
		currentPriority: NormalPriority,
	}
}

// ScheduleCallback enqueues cb at priority p and returns its task handle.
func (s *Scheduler) ScheduleCallback(p Priority, cb Callback, opts ...ScheduleOption) *Task {
	var o ScheduleOptions
	for _, opt := range opts {
		opt(&o)
	}
	p = p.normalize()
	currentTime := s.host.Now()
	start, expiration := ComputeDeadline(currentTime, p, o, s.timeouts)

	t := &Task{
		id:             s.nextID,
		callback:       cb,
		priority:       p,
		startTime:      start,
		expirationTime: expiration,
	}
	s.nextID++

	if start > currentTime {
		// delayed task
		t.sortIndex = start
		s.timerQueue.Push(t)
		if s.peekTask() == nil && s.peekTimer() == t {
			// All tasks are delayed and this one is the earliest.
			if s.isHostTimeoutScheduled {
				s.host.CancelTimeout()
			} else {
				s.isHostTimeoutScheduled = true
			}
			s.host.RequestTimeout(s.handleTimeout, start-currentTime)
		}
		return t
	}

	t.sortIndex = expiration
	s.taskQueue.Push(t)
	t.queued = true
	s.recordTask(EventTaskStart, t, currentTime)

	// If we're already performing work, wait until the next time we yield.
	if !s.isHostCallbackScheduled && !s.isPerformingWork {
		s.isHostCallbackScheduled = true
		s.host.RequestCallback(s.flushWork)
	}
	return t
}

// CancelCallback prevents t from running. The task stays in its queue until
// it reaches the root. Cancelling twice, or after completion, does nothing.
func (s *Scheduler) CancelCallback(t *Task) {
	if t == nil {
		return
	}
	if t.queued {
		s.recordTask(EventTaskCancel, t, s.host.Now())
		t.queued = false
	}
	t.callback = nil
}

// CurrentPriorityLevel returns the ambient priority.
func (s *Scheduler) CurrentPriorityLevel() Priority { return s.currentPriority }

// ShouldYield reports whether the running task should hand control back: a
// task ordered ahead of it is ready and due, or the host wants to regain
// control.
func (s *Scheduler) ShouldYield() bool {
	currentTime := s.host.Now()
	s.advanceTimers(currentTime)
	first := s.peekTask()
	if first != nil && s.currentTask != nil && first != s.currentTask &&
		first.callback != nil &&
		first.startTime <= currentTime &&
		first.HeapKey().Compare(s.currentTask.HeapKey()) < 0 {
		return true
	}
	return s.host.ShouldYield()
}

// Now returns the host's monotonic time.
func (s *Scheduler) Now() time.Duration { return s.host.Now() }

// ForceFrameRate changes the length of the host's time slices.
func (s *Scheduler) ForceFrameRate(fps int) error { return s.host.ForceFrameRate(fps) }

// RequestPaint tells the host that a paint is pending.
func (s *Scheduler) RequestPaint() { s.host.RequestPaint() }

// PauseExecution stops the work loop from starting further tasks.
func (s *Scheduler) PauseExecution() { s.paused = true }

// ContinueExecution undoes PauseExecution and asks the host for a slice.
func (s *Scheduler) ContinueExecution() {
	s.paused = false
	if !s.isHostCallbackScheduled && !s.isPerformingWork {
		s.isHostCallbackScheduled = true
		s.host.RequestCallback(s.flushWork)
	}
}

// FirstCallbackNode returns the root of the ready queue, or nil.
func (s *Scheduler) FirstCallbackNode() *Task { return s.peekTask() }

// advanceTimers moves every timer whose start time has passed into the ready
// queue and drops cancelled timers it meets on the way.
func (s *Scheduler) advanceTimers(currentTime time.Duration) {
	for timer := s.peekTimer(); timer != nil; timer = s.peekTimer() {
		switch {
		case timer.callback == nil:
			s.timerQueue.Pop()
		case timer.startTime <= currentTime:
			s.timerQueue.Pop()
			timer.sortIndex = timer.expirationTime
			s.taskQueue.Push(timer)
			timer.queued = true
			s.recordTask(EventTaskStart, timer, currentTime)
		default:
			return
		}
	}
}

func (s *Scheduler) handleTimeout(currentTime time.Duration) {
	s.isHostTimeoutScheduled = false
	s.advanceTimers(currentTime)

	if s.isHostCallbackScheduled {
		return
	}
	if s.peekTask() != nil {
		s.isHostCallbackScheduled = true
		s.host.RequestCallback(s.flushWork)
		return
	}
	if first := s.peekTimer(); first != nil {
		s.isHostTimeoutScheduled = true
		s.host.RequestTimeout(s.handleTimeout, first.startTime-currentTime)
	}
}

// flushWork is the entry point the host calls when it grants a time slice.
func (s *Scheduler) flushWork(hasTimeRemaining bool, initialTime time.Duration) (bool, error) {
	if s.isPerformingWork {
		return false, ErrReentrantFlush
	}
	s.recordScheduler(EventSchedulerResume, initialTime)

	// We'll need a host callback the next time work is scheduled.
	s.isHostCallbackScheduled = false
	if s.isHostTimeoutScheduled {
		// A timeout was scheduled but is no longer needed.
		s.isHostTimeoutScheduled = false
		s.host.CancelTimeout()
	}

	s.isPerformingWork = true
	previousPriority := s.currentPriority
	defer func() {
		s.currentTask = nil
		s.currentPriority = previousPriority
		s.isPerformingWork = false
		s.recordScheduler(EventSchedulerSuspend, s.host.Now())
	}()

	return s.workLoop(hasTimeRemaining, initialTime)
}

func (s *Scheduler) workLoop(hasTimeRemaining bool, initialTime time.Duration) (bool, error) {
	currentTime := initialTime
	s.advanceTimers(currentTime)
	s.currentTask = s.peekTask()

	for s.currentTask != nil && !s.paused {
		t := s.currentTask

		// 1) the root isn't overdue yet and the slice is used up: yield.
		if t.expirationTime > currentTime && (!hasTimeRemaining || s.host.ShouldYield()) {
			break
		}

		cb := t.callback
		if cb == nil {
			// 2) cancelled task surfaced at the root.
			s.taskQueue.Pop()
			s.currentTask = s.peekTask()
			continue
		}

		// 3) run it, detached from the task so a cancel or error can't rerun it.
		t.callback = nil
		s.currentPriority = t.priority
		didTimeout := t.expirationTime <= currentTime
		s.recordTask(EventTaskRun, t, currentTime)

		res, err := cb(didTimeout)
		currentTime = s.host.Now()
		if err != nil {
			s.recordTask(EventTaskError, t, currentTime)
			t.queued = false
			s.logger.Debug("task failed", "task_id", t.id, "priority", t.priority, "error", err)
			return false, &TaskError{TaskID: t.id, Priority: t.priority, Err: err}
		}

		// 4) continuation keeps the task in place, otherwise it is finished.
		if next := res.Next(); next != nil {
			t.callback = next
			s.recordTask(EventTaskYield, t, currentTime)
		} else {
			s.recordTask(EventTaskComplete, t, currentTime)
			t.queued = false
			if t == s.peekTask() {
				s.taskQueue.Pop()
			}
		}

		// 5) the callback may have run long enough for timers to come due.
		s.advanceTimers(currentTime)
		s.currentTask = s.peekTask()
	}

	if s.currentTask != nil {
		if s.paused {
			// ContinueExecution requests a new slice.
			return false, nil
		}
		return true, nil
	}
	if first := s.peekTimer(); first != nil {
		s.isHostTimeoutScheduled = true
		s.host.RequestTimeout(s.handleTimeout, first.startTime-currentTime)
	}
	return false, nil
}

func (s *Scheduler) peekTask() *Task {
	t, _ := s.taskQueue.Peek()
	return t
}

func (s *Scheduler) peekTimer() *Task {
	t, _ := s.timerQueue.Peek()
	return t
}
