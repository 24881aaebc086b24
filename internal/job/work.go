// Package job provides cooperative workloads for the scheduler: work split
// into units that hands control back whenever the scheduler asks it to.
package job

import (
	"errors"
	"fmt"
	"time"

	"coopsched/internal/sched"
)

// ErrInjected is the failure produced by a Chunked workload's FailAt unit.
var ErrInjected = errors.New("job: injected failure")

// Chunked describes a workload of Units pieces of work, each costing UnitCost.
type Chunked struct {
	Units    int
	UnitCost time.Duration
	// FailAt makes the unit with this index fail. Negative disables it.
	FailAt int

	// Spend consumes d of time for one unit: busy work on a real host,
	// a clock advance on a simulated one.
	Spend func(d time.Duration)
	// ShouldYield is consulted after every unit.
	ShouldYield func() bool
	// OnUnit, if set, is called after each finished unit.
	OnUnit func(i int)
	// OnDone, if set, is called once after the last unit.
	OnDone func()
}

// Callback returns the task callback running the workload. It resumes where it
// left off every time it is continued.
func (c Chunked) Callback() sched.Callback {
	next := 0
	var run sched.Callback
	run = func(bool) (sched.Result, error) {
		for next < c.Units {
			i := next
			if i == c.FailAt {
				return sched.Done(), fmt.Errorf("unit %d: %w", i, ErrInjected)
			}
			if c.Spend != nil {
				c.Spend(c.UnitCost)
			}
			next++
			if c.OnUnit != nil {
				c.OnUnit(i)
			}
			if next < c.Units && c.ShouldYield != nil && c.ShouldYield() {
				return sched.Continue(run), nil
			}
		}
		if c.OnDone != nil {
			c.OnDone()
		}
		return sched.Done(), nil
	}
	return run
}

// Spin returns a Spend function that busy-waits on now, so the time is really
// spent on the scheduling goroutine.
func Spin(now func() time.Duration) func(time.Duration) {
	return func(d time.Duration) {
		end := now() + d
		for now() < end {
		}
	}
}
