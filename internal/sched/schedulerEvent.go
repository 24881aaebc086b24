// internal/sched/schedulerEvent.go

package sched

import (
	"time"
)

// EventKind represents the type of scheduler event
type EventKind int

const (
	EventTaskStart EventKind = iota
	EventTaskRun
	EventTaskYield
	EventTaskComplete
	EventTaskError
	EventTaskCancel
	EventSchedulerResume
	EventSchedulerSuspend
)

// Event is emitted on every task state change and around each work loop.
// TaskID and Priority are zero for scheduler-level events.
type Event struct {
	Time     time.Duration
	Kind     EventKind
	TaskID   TaskID
	Priority Priority
}

// Recorder consumes scheduler events. Record is called synchronously on the
// scheduling goroutine and must not call back into the scheduler.
type Recorder interface {
	Record(ev Event)
}

// RecorderFunc adapts a plain function to Recorder.
type RecorderFunc func(Event)

func (f RecorderFunc) Record(ev Event) { f(ev) }

func (ek EventKind) String() string {
	switch ek {
	case EventTaskStart:
		return "TaskStart"
	case EventTaskRun:
		return "TaskRun"
	case EventTaskYield:
		return "TaskYield"
	case EventTaskComplete:
		return "TaskComplete"
	case EventTaskError:
		return "TaskError"
	case EventTaskCancel:
		return "TaskCancel"
	case EventSchedulerResume:
		return "SchedulerResume"
	case EventSchedulerSuspend:
		return "SchedulerSuspend"
	default:
		return "Unknown"
	}
}

func (s *Scheduler) recordTask(kind EventKind, t *Task, at time.Duration) {
	if s.recorder == nil {
		return
	}
	s.recorder.Record(Event{Time: at, Kind: kind, TaskID: t.id, Priority: t.priority})
}

func (s *Scheduler) recordScheduler(kind EventKind, at time.Duration) {
	if s.recorder == nil {
		return
	}
	s.recorder.Record(Event{Time: at, Kind: kind})
}
