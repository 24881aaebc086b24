package sched_test

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"coopsched/internal/host"
	"coopsched/internal/sched"
	"coopsched/internal/trace"
)

func newScheduler(t *testing.T, opts ...sched.Option) (*sched.Scheduler, *host.SimHost) {
	t.Helper()
	h := host.NewSimHost()
	return sched.New(h, opts...), h
}

// logTask returns a callback appending name to log and finishing.
func logTask(log *[]string, name string) sched.Callback {
	return func(bool) (sched.Result, error) {
		*log = append(*log, name)
		return sched.Done(), nil
	}
}

func TestScheduler_Ordering(t *testing.T) {
	t.Parallel()

	type entry struct {
		name     string
		priority sched.Priority
	}
	tests := map[string]struct {
		tasks []entry
		want  []string
	}{
		"equal priority runs in creation order": {
			tasks: []entry{
				{"first", sched.NormalPriority},
				{"second", sched.NormalPriority},
				{"third", sched.NormalPriority},
			},
			want: []string{"first", "second", "third"},
		},
		"more urgent work runs first": {
			tasks: []entry{
				{"normal", sched.NormalPriority},
				{"user-blocking", sched.UserBlockingPriority},
				{"idle", sched.IdlePriority},
				{"immediate", sched.ImmediatePriority},
				{"low", sched.LowPriority},
			},
			want: []string{"immediate", "user-blocking", "normal", "low", "idle"},
		},
		"invalid priority is treated as normal": {
			tasks: []entry{
				{"bogus", sched.Priority(42)},
				{"low", sched.LowPriority},
				{"normal", sched.NormalPriority},
			},
			want: []string{"bogus", "normal", "low"},
		},
	}
	for name, tt := range tests {
		tt := tt
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			s, h := newScheduler(t)
			var log []string
			for _, e := range tt.tasks {
				s.ScheduleCallback(e.priority, logTask(&log, e.name))
			}
			require.NoError(t, h.FlushAll())
			assert.Equal(t, tt.want, log)
		})
	}
}

func TestScheduler_UserBlockingOvertakesQueuedNormal(t *testing.T) {
	s, h := newScheduler(t)
	var log []string

	s.ScheduleCallback(sched.NormalPriority, func(bool) (sched.Result, error) {
		log = append(log, "A")
		// Scheduled mid-slice: runs before the already queued normal task.
		s.ScheduleCallback(sched.UserBlockingPriority, logTask(&log, "C"))
		return sched.Done(), nil
	})
	s.ScheduleCallback(sched.NormalPriority, logTask(&log, "B"))

	require.NoError(t, h.FlushAll())
	assert.Equal(t, []string{"A", "C", "B"}, log)
}

func TestScheduler_TimerPromotion(t *testing.T) {
	s, h := newScheduler(t)
	ran := false

	task := s.ScheduleCallback(sched.NormalPriority, func(bool) (sched.Result, error) {
		ran = true
		return sched.Done(), nil
	}, sched.WithDelay(50*time.Millisecond))

	assert.Equal(t, 50*time.Millisecond, task.StartTime())
	assert.Equal(t, 50*time.Millisecond+sched.NormalTimeout, task.ExpirationTime())
	assert.False(t, h.HasPendingCallback(), "delayed work must not request a slice")
	at, ok := h.PendingTimeout()
	require.True(t, ok)
	assert.Equal(t, 50*time.Millisecond, at)

	h.Advance(10 * time.Millisecond)
	assert.Nil(t, s.FirstCallbackNode(), "task is still in the timer queue")

	h.Advance(50 * time.Millisecond)
	assert.Same(t, task, s.FirstCallbackNode())
	assert.True(t, h.HasPendingCallback())

	require.NoError(t, h.FlushAll())
	assert.True(t, ran)
	assert.Nil(t, s.FirstCallbackNode())
}

func TestScheduler_DelayedTasksRunByStartThenDeadline(t *testing.T) {
	s, h := newScheduler(t)
	var log []string

	s.ScheduleCallback(sched.NormalPriority, logTask(&log, "late"), sched.WithDelay(100*time.Millisecond))
	s.ScheduleCallback(sched.NormalPriority, logTask(&log, "early"), sched.WithDelay(20*time.Millisecond))
	s.ScheduleCallback(sched.UserBlockingPriority, logTask(&log, "late-urgent"), sched.WithDelay(100*time.Millisecond))

	at, ok := h.PendingTimeout()
	require.True(t, ok)
	assert.Equal(t, 20*time.Millisecond, at, "earliest timer re-arms the host timeout")

	require.NoError(t, h.RunUntilIdle())
	assert.Equal(t, []string{"early", "late-urgent", "late"}, log)
}

func TestScheduler_ContinuationKeepsIdentity(t *testing.T) {
	buf := trace.NewBuffer(64)
	s, h := newScheduler(t, sched.WithRecorder(buf))

	calls := 0
	var task *sched.Task
	var step sched.Callback
	step = func(bool) (sched.Result, error) {
		calls++
		assert.Equal(t, sched.LowPriority, s.CurrentPriorityLevel())
		assert.Same(t, task, s.FirstCallbackNode(), "task stays at the root, not duplicated")
		if calls < 3 {
			h.YieldNow()
			return sched.Continue(step), nil
		}
		return sched.Done(), nil
	}
	task = s.ScheduleCallback(sched.LowPriority, step)
	id, expiration := task.ID(), task.ExpirationTime()

	for i := 1; i <= 2; i++ {
		more, err := h.FlushSlice()
		require.NoError(t, err)
		assert.True(t, more)
		assert.Equal(t, i, calls)
		assert.Equal(t, id, task.ID())
		assert.Equal(t, sched.LowPriority, task.Priority())
		assert.Equal(t, expiration, task.ExpirationTime())
		assert.False(t, task.Cancelled())
	}

	require.NoError(t, h.FlushAll())
	assert.Equal(t, 3, calls)
	assert.True(t, task.Cancelled())
	assert.Equal(t, []sched.EventKind{
		sched.EventTaskStart,
		sched.EventTaskRun, sched.EventTaskYield,
		sched.EventTaskRun, sched.EventTaskYield,
		sched.EventTaskRun, sched.EventTaskComplete,
	}, buf.Kinds(id))
}

func TestScheduler_Cancellation(t *testing.T) {
	s, h := newScheduler(t)
	var log []string

	a := s.ScheduleCallback(sched.NormalPriority, logTask(&log, "a"))
	b := s.ScheduleCallback(sched.NormalPriority, logTask(&log, "b"))
	delayed := s.ScheduleCallback(sched.NormalPriority, logTask(&log, "delayed"), sched.WithDelay(time.Second))

	s.CancelCallback(a)
	s.CancelCallback(a) // idempotent
	s.CancelCallback(delayed)
	assert.True(t, a.Cancelled())
	assert.Same(t, a, s.FirstCallbackNode(), "cancelled task stays in the heap until popped")

	require.NoError(t, h.RunUntilIdle())
	assert.Equal(t, []string{"b"}, log)

	s.CancelCallback(b) // after completion
	s.CancelCallback(nil)
	assert.Nil(t, s.FirstCallbackNode())
}

func TestScheduler_CancelFromInsideAnotherTask(t *testing.T) {
	s, h := newScheduler(t)
	var log []string

	var victim *sched.Task
	s.ScheduleCallback(sched.UserBlockingPriority, func(bool) (sched.Result, error) {
		log = append(log, "killer")
		s.CancelCallback(victim)
		return sched.Done(), nil
	})
	victim = s.ScheduleCallback(sched.NormalPriority, logTask(&log, "victim"))

	require.NoError(t, h.FlushAll())
	assert.Equal(t, []string{"killer"}, log)
}

func TestScheduler_TimeSlicing(t *testing.T) {
	s, h := newScheduler(t)
	var log []string

	for _, name := range []string{"a", "b", "c"} {
		name := name
		s.ScheduleCallback(sched.NormalPriority, func(bool) (sched.Result, error) {
			log = append(log, name)
			h.Advance(3 * time.Millisecond)
			return sched.Done(), nil
		})
	}

	// a and b use up the 5ms slice; c waits for the next one.
	more, err := h.FlushSlice()
	require.NoError(t, err)
	assert.True(t, more)
	assert.Equal(t, []string{"a", "b"}, log)
	assert.True(t, h.HasPendingCallback())

	more, err = h.FlushSlice()
	require.NoError(t, err)
	assert.False(t, more)
	assert.Equal(t, []string{"a", "b", "c"}, log)
	assert.False(t, h.HasPendingCallback())
}

func TestScheduler_OverdueTasksIgnoreTheSliceBudget(t *testing.T) {
	s, h := newScheduler(t)
	var timeouts []bool

	for i := 0; i < 2; i++ {
		s.ScheduleCallback(sched.UserBlockingPriority, func(didTimeout bool) (sched.Result, error) {
			timeouts = append(timeouts, didTimeout)
			h.YieldNow()
			return sched.Done(), nil
		})
	}
	h.Advance(sched.UserBlockingTimeout)

	more, err := h.FlushSlice()
	require.NoError(t, err)
	assert.False(t, more)
	assert.Equal(t, []bool{true, true}, timeouts, "expired work runs despite the yield request")
}

func TestScheduler_ImmediateIsAlwaysOverdue(t *testing.T) {
	s, h := newScheduler(t)
	var got []bool
	s.ScheduleCallback(sched.ImmediatePriority, func(didTimeout bool) (sched.Result, error) {
		got = append(got, didTimeout)
		return sched.Done(), nil
	})
	require.NoError(t, h.FlushAll())
	assert.Equal(t, []bool{true}, got)
}

func TestScheduler_ShouldYield(t *testing.T) {
	t.Run("only the current task is due", func(t *testing.T) {
		s, h := newScheduler(t)
		var got []bool
		s.ScheduleCallback(sched.NormalPriority, func(bool) (sched.Result, error) {
			got = append(got, s.ShouldYield())
			return sched.Done(), nil
		})
		require.NoError(t, h.FlushAll())
		assert.Equal(t, []bool{false}, got)
	})

	t.Run("a more urgent task is ready", func(t *testing.T) {
		s, h := newScheduler(t)
		var got []bool
		s.ScheduleCallback(sched.NormalPriority, func(bool) (sched.Result, error) {
			got = append(got, s.ShouldYield())
			s.ScheduleCallback(sched.UserBlockingPriority, func(bool) (sched.Result, error) {
				return sched.Done(), nil
			})
			got = append(got, s.ShouldYield())
			return sched.Done(), nil
		})
		require.NoError(t, h.FlushAll())
		assert.Equal(t, []bool{false, true}, got)
	})

	t.Run("a less urgent task is ready", func(t *testing.T) {
		s, h := newScheduler(t)
		var got bool
		s.ScheduleCallback(sched.UserBlockingPriority, func(bool) (sched.Result, error) {
			s.ScheduleCallback(sched.LowPriority, func(bool) (sched.Result, error) {
				return sched.Done(), nil
			})
			got = s.ShouldYield()
			return sched.Done(), nil
		})
		require.NoError(t, h.FlushAll())
		assert.False(t, got)
	})

	t.Run("a more urgent task was cancelled", func(t *testing.T) {
		s, h := newScheduler(t)
		var got bool
		s.ScheduleCallback(sched.NormalPriority, func(bool) (sched.Result, error) {
			urgent := s.ScheduleCallback(sched.ImmediatePriority, func(bool) (sched.Result, error) {
				return sched.Done(), nil
			})
			s.CancelCallback(urgent)
			got = s.ShouldYield()
			return sched.Done(), nil
		})
		require.NoError(t, h.FlushAll())
		assert.False(t, got)
	})

	t.Run("a timer became due and is more urgent", func(t *testing.T) {
		s, h := newScheduler(t)
		s.ScheduleCallback(sched.ImmediatePriority, func(bool) (sched.Result, error) {
			return sched.Done(), nil
		}, sched.WithDelay(2*time.Millisecond))
		var got []bool
		s.ScheduleCallback(sched.LowPriority, func(bool) (sched.Result, error) {
			got = append(got, s.ShouldYield())
			h.Clock().Advance(2 * time.Millisecond)
			got = append(got, s.ShouldYield())
			return sched.Done(), nil
		})
		require.NoError(t, h.FlushAll())
		assert.Equal(t, []bool{false, true}, got)
	})

	t.Run("a due timer with the same deadline was created first", func(t *testing.T) {
		s, h := newScheduler(t)
		early := s.ScheduleCallback(sched.NormalPriority, func(bool) (sched.Result, error) {
			return sched.Done(), nil
		}, sched.WithDelay(2*time.Millisecond))
		var got []bool
		current := s.ScheduleCallback(sched.NormalPriority, func(bool) (sched.Result, error) {
			got = append(got, s.ShouldYield())
			h.Clock().Advance(3 * time.Millisecond)
			got = append(got, s.ShouldYield())
			return sched.Done(), nil
		}, sched.WithTimeout(sched.NormalTimeout+2*time.Millisecond))
		require.Equal(t, early.ExpirationTime(), current.ExpirationTime())

		require.NoError(t, h.FlushAll())
		assert.Equal(t, []bool{false, true}, got)
	})

	t.Run("the host asks for control", func(t *testing.T) {
		s, h := newScheduler(t)
		assert.False(t, s.ShouldYield())
		h.YieldNow()
		assert.True(t, s.ShouldYield())
	})

	t.Run("a paint is pending", func(t *testing.T) {
		s, _ := newScheduler(t)
		s.RequestPaint()
		assert.True(t, s.ShouldYield())
	})
}

func TestScheduler_CallbackErrorPropagates(t *testing.T) {
	buf := trace.NewBuffer(64)
	s, h := newScheduler(t, sched.WithRecorder(buf))
	boom := errors.New("boom")
	var log []string

	failing := s.ScheduleCallback(sched.UserBlockingPriority, func(bool) (sched.Result, error) {
		assert.Equal(t, sched.UserBlockingPriority, s.CurrentPriorityLevel())
		return sched.Done(), boom
	})
	s.ScheduleCallback(sched.NormalPriority, logTask(&log, "after"))

	var err error
	_ = s.RunWithPriority(sched.LowPriority, func() error {
		_, err = h.FlushSlice()
		assert.Equal(t, sched.LowPriority, s.CurrentPriorityLevel(), "ambient priority restored")
		return nil
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	var taskErr *sched.TaskError
	require.ErrorAs(t, err, &taskErr)
	assert.Equal(t, failing.ID(), taskErr.TaskID)
	assert.Equal(t, sched.UserBlockingPriority, taskErr.Priority)
	assert.True(t, failing.Cancelled(), "failed task is abandoned")
	assert.Empty(t, log)

	require.True(t, h.HasPendingCallback(), "remaining work keeps its slice request")
	require.NoError(t, h.FlushAll())
	assert.Equal(t, []string{"after"}, log)
	assert.Equal(t, []sched.EventKind{
		sched.EventTaskStart, sched.EventTaskRun, sched.EventTaskError,
	}, buf.Kinds(failing.ID()))
}

func TestScheduler_PanicRestoresState(t *testing.T) {
	s, h := newScheduler(t)
	var log []string

	s.ScheduleCallback(sched.ImmediatePriority, func(bool) (sched.Result, error) {
		panic("kaboom")
	})
	s.ScheduleCallback(sched.NormalPriority, logTask(&log, "survivor"))

	assert.PanicsWithValue(t, "kaboom", func() { _, _ = h.FlushSlice() })
	assert.Equal(t, sched.NormalPriority, s.CurrentPriorityLevel())
	assert.True(t, h.HasPendingCallback(), "the survivor still has a slice coming")

	// The scheduler is usable again: the in-progress guard was released.
	s.ScheduleCallback(sched.LowPriority, logTask(&log, "later"))
	require.NoError(t, h.FlushAll())
	assert.Equal(t, []string{"survivor", "later"}, log)
}

func TestScheduler_ReentrantFlushIsRejected(t *testing.T) {
	h := host.NewSimHost()
	var flush sched.FlushFunc
	spy := &spyHost{SimHost: h, onRequest: func(fn sched.FlushFunc) { flush = fn }}
	s := sched.New(spy)

	var inner error
	s.ScheduleCallback(sched.NormalPriority, func(bool) (sched.Result, error) {
		_, inner = flush(true, h.Now())
		return sched.Done(), nil
	})
	require.NotNil(t, flush)

	more, err := flush(true, h.Now())
	require.NoError(t, err)
	assert.False(t, more)
	assert.ErrorIs(t, inner, sched.ErrReentrantFlush)
}

// spyHost captures the flush function handed to the host.
type spyHost struct {
	*host.SimHost
	onRequest func(sched.FlushFunc)
}

func (h *spyHost) RequestCallback(fn sched.FlushFunc) {
	h.onRequest(fn)
	h.SimHost.RequestCallback(fn)
}

func TestScheduler_SchedulingDuringWorkDoesNotRequestAnotherSlice(t *testing.T) {
	h := host.NewSimHost()
	requests := 0
	spy := &spyHost{SimHost: h, onRequest: func(sched.FlushFunc) { requests++ }}
	s := sched.New(spy)

	s.ScheduleCallback(sched.NormalPriority, func(bool) (sched.Result, error) {
		s.ScheduleCallback(sched.NormalPriority, func(bool) (sched.Result, error) {
			return sched.Done(), nil
		})
		return sched.Done(), nil
	})
	s.ScheduleCallback(sched.NormalPriority, func(bool) (sched.Result, error) {
		return sched.Done(), nil
	})
	assert.Equal(t, 1, requests)

	require.NoError(t, h.FlushAll())
	assert.Equal(t, 1, requests)
}

func TestScheduler_PauseAndContinue(t *testing.T) {
	s, h := newScheduler(t)
	var log []string
	s.ScheduleCallback(sched.NormalPriority, logTask(&log, "a"))

	s.PauseExecution()
	require.NoError(t, h.FlushAll())
	assert.Empty(t, log)
	assert.False(t, h.HasPendingCallback())

	s.ContinueExecution()
	assert.True(t, h.HasPendingCallback())
	require.NoError(t, h.FlushAll())
	assert.Equal(t, []string{"a"}, log)
}

func TestScheduler_PendingTimeoutCancelledWhenWorkStarts(t *testing.T) {
	s, h := newScheduler(t)
	s.ScheduleCallback(sched.NormalPriority, func(bool) (sched.Result, error) {
		return sched.Done(), nil
	}, sched.WithDelay(time.Second))
	_, ok := h.PendingTimeout()
	require.True(t, ok)

	s.ScheduleCallback(sched.NormalPriority, func(bool) (sched.Result, error) {
		return sched.Done(), nil
	})
	more, err := h.FlushSlice()
	require.NoError(t, err)
	assert.False(t, more)

	// The loop re-arms the timeout for the remaining timer on exit.
	at, ok := h.PendingTimeout()
	require.True(t, ok)
	assert.Equal(t, time.Second, at)
}

func TestScheduler_CustomTimeouts(t *testing.T) {
	tt := sched.DefaultTimeouts()
	tt.Normal = 100 * time.Millisecond
	s, _ := newScheduler(t, sched.WithTimeouts(tt))

	task := s.ScheduleCallback(sched.NormalPriority, func(bool) (sched.Result, error) {
		return sched.Done(), nil
	})
	assert.Equal(t, 100*time.Millisecond, task.ExpirationTime())

	custom := s.ScheduleCallback(sched.NormalPriority, func(bool) (sched.Result, error) {
		return sched.Done(), nil
	}, sched.WithTimeout(7*time.Millisecond))
	assert.Equal(t, 7*time.Millisecond, custom.ExpirationTime())
}

func TestScheduler_IDsIncrease(t *testing.T) {
	s, _ := newScheduler(t)
	noop := func(bool) (sched.Result, error) { return sched.Done(), nil }

	first := s.ScheduleCallback(sched.IdlePriority, noop)
	second := s.ScheduleCallback(sched.ImmediatePriority, noop, sched.WithDelay(time.Millisecond))
	third := s.ScheduleCallback(sched.NormalPriority, noop)

	assert.Equal(t, sched.TaskID(1), first.ID())
	assert.Less(t, uint64(first.ID()), uint64(second.ID()))
	assert.Less(t, uint64(second.ID()), uint64(third.ID()))
}

func TestScheduler_ForceFrameRate(t *testing.T) {
	s, h := newScheduler(t)

	require.NoError(t, s.ForceFrameRate(60))
	assert.Equal(t, 16*time.Millisecond, h.YieldInterval())
	require.ErrorIs(t, s.ForceFrameRate(500), host.ErrFrameRate)
	assert.Equal(t, 16*time.Millisecond, h.YieldInterval())
	require.NoError(t, s.ForceFrameRate(0))
	assert.Equal(t, host.DefaultYieldInterval, h.YieldInterval())
}

func TestScheduler_SchedulerEvents(t *testing.T) {
	buf := trace.NewBuffer(64)
	s, h := newScheduler(t, sched.WithRecorder(buf))
	task := s.ScheduleCallback(sched.NormalPriority, func(bool) (sched.Result, error) {
		return sched.Done(), nil
	})
	cancelled := s.ScheduleCallback(sched.NormalPriority, func(bool) (sched.Result, error) {
		return sched.Done(), nil
	})
	s.CancelCallback(cancelled)
	require.NoError(t, h.FlushAll())

	var kinds []sched.EventKind
	for _, ev := range buf.Events() {
		kinds = append(kinds, ev.Kind)
	}
	assert.Equal(t, []sched.EventKind{
		sched.EventTaskStart,
		sched.EventTaskStart,
		sched.EventTaskCancel,
		sched.EventSchedulerResume,
		sched.EventTaskRun,
		sched.EventTaskComplete,
		sched.EventSchedulerSuspend,
	}, kinds)
	assert.Equal(t, task.ID(), buf.Events()[4].TaskID)
}
