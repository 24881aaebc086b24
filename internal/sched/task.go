package sched

import (
	"fmt"
	"time"

	"coopsched/internal/minheap"
)

// TaskID uniquely identifies a task within one scheduler.
type TaskID uint64

// Callback is a unit of work. didTimeout reports whether the task was already
// past its expiration time when invoked. Returning Continue keeps the task
// queued with the returned callback; returning an error abandons the task.
type Callback func(didTimeout bool) (Result, error)

// Result is what a Callback hands back to the work loop.
type Result struct {
	next Callback
}

// Done reports that the task has finished.
func Done() Result { return Result{} }

// Continue reports that the task yielded mid-work and should resume with next.
// A nil next is the same as Done.
func Continue(next Callback) Result { return Result{next: next} }

// Next returns the continuation, or nil when the task is done.
func (r Result) Next() Callback { return r.next }

// Task is one scheduled unit of work.
type Task struct {
	id             TaskID
	callback       Callback // nil once cancelled or consumed
	priority       Priority
	startTime      time.Duration
	expirationTime time.Duration
	sortIndex      time.Duration // startTime in the timer queue, expirationTime in the ready queue
	queued         bool          // tracked for profiling events
}

// HeapKey implements minheap.Node.
func (t *Task) HeapKey() minheap.Key {
	return minheap.Key{SortIndex: t.sortIndex, ID: uint64(t.id)}
}

func (t *Task) ID() TaskID                    { return t.id }
func (t *Task) Priority() Priority            { return t.priority }
func (t *Task) StartTime() time.Duration      { return t.startTime }
func (t *Task) ExpirationTime() time.Duration { return t.expirationTime }

// Cancelled reports whether the task no longer has work to run. This is true
// after CancelCallback and while the task's callback is executing.
func (t *Task) Cancelled() bool { return t.callback == nil }

func (t *Task) String() string {
	return fmt.Sprintf("task#%d(%s, start=%s, expires=%s)", t.id, t.priority, t.startTime, t.expirationTime)
}

// TaskError wraps an error returned by a task callback.
type TaskError struct {
	TaskID   TaskID
	Priority Priority
	Err      error
}

func (e *TaskError) Error() string {
	return fmt.Sprintf("task %d (%s): %v", e.TaskID, e.Priority, e.Err)
}

func (e *TaskError) Unwrap() error { return e.Err }
