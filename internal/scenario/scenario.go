// Package scenario loads YAML descriptions of task mixes and plays them on a
// scheduler.
package scenario

import (
	"errors"
	"fmt"
	"os"
	"time"

	yaml "github.com/goccy/go-yaml"

	"coopsched/internal/job"
	"coopsched/internal/sched"
	"coopsched/internal/syncq"
)

// Scenario mirrors a scenario file.
type Scenario struct {
	Name  string     `yaml:"name"`
	Tasks []TaskSpec `yaml:"tasks"`
}

// TaskSpec describes one task of a scenario.
type TaskSpec struct {
	Name      string         `yaml:"name"`
	Priority  sched.Priority `yaml:"priority"`
	DelayMS   int            `yaml:"delay_ms"`
	TimeoutMS int            `yaml:"timeout_ms"` // 0 keeps the level timeout
	Units     int            `yaml:"units"`
	UnitMS    float64        `yaml:"unit_ms"`
	FailAt    *int           `yaml:"fail_at"`
	Sync      bool           `yaml:"sync"`   // run through the sync queue at immediate priority
	Cancel    bool           `yaml:"cancel"` // cancel right after scheduling
}

// Load reads and validates a scenario file.
func Load(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read scenario: %w", err)
	}
	return Parse(data)
}

// Parse decodes and validates scenario YAML.
func Parse(data []byte) (*Scenario, error) {
	var sc Scenario
	if err := yaml.Unmarshal(data, &sc); err != nil {
		return nil, fmt.Errorf("parse scenario: %w", err)
	}
	if err := sc.Validate(); err != nil {
		return nil, err
	}
	return &sc, nil
}

// Validate checks the scenario and fills defaults.
func (sc *Scenario) Validate() error {
	if len(sc.Tasks) == 0 {
		return errors.New("scenario has no tasks")
	}
	seen := make(map[string]bool, len(sc.Tasks))
	for i := range sc.Tasks {
		ts := &sc.Tasks[i]
		if ts.Name == "" {
			ts.Name = fmt.Sprintf("task-%d", i+1)
		}
		if seen[ts.Name] {
			return fmt.Errorf("duplicate task name %q", ts.Name)
		}
		seen[ts.Name] = true
		if ts.Sync {
			if ts.Priority != sched.NoPriority && ts.Priority != sched.ImmediatePriority {
				return fmt.Errorf("task %q: sync tasks run at immediate priority", ts.Name)
			}
			ts.Priority = sched.ImmediatePriority
		}
		if ts.Priority == sched.NoPriority {
			ts.Priority = sched.NormalPriority
		}
		if ts.Units <= 0 {
			ts.Units = 1
		}
		if ts.DelayMS < 0 || ts.TimeoutMS < 0 || ts.UnitMS < 0 {
			return fmt.Errorf("task %q: negative duration", ts.Name)
		}
		if ts.Sync && (ts.DelayMS > 0 || ts.TimeoutMS > 0) {
			return fmt.Errorf("task %q: sync tasks take no delay or timeout", ts.Name)
		}
		if ts.Sync && ts.Cancel {
			return fmt.Errorf("task %q: sync tasks cannot be cancelled", ts.Name)
		}
	}
	return nil
}

// Outcome is the record of one task after a run.
type Outcome struct {
	Name     string
	Priority sched.Priority
	Finished time.Duration
	Slices   int
}

// Run collects what happened while a scenario played.
type Run struct {
	Completed []Outcome
	Cancelled []string
	Errors    []error
}

// Order returns the names of the completed tasks in completion order.
func (r *Run) Order() []string {
	names := make([]string, 0, len(r.Completed))
	for _, o := range r.Completed {
		names = append(names, o.Name)
	}
	return names
}

// Apply schedules every task of sc on s (sync tasks go through q) and returns
// the Run that fills in as the host executes them. spend consumes unit time.
func (sc *Scenario) Apply(s *sched.Scheduler, q *syncq.Queue, spend func(time.Duration)) *Run {
	run := &Run{}
	for _, ts := range sc.Tasks {
		ts := ts
		slices := 0
		failAt := -1
		if ts.FailAt != nil {
			failAt = *ts.FailAt
		}
		work := job.Chunked{
			Units:       ts.Units,
			UnitCost:    time.Duration(ts.UnitMS * float64(time.Millisecond)),
			FailAt:      failAt,
			Spend:       spend,
			ShouldYield: s.ShouldYield,
			OnDone: func() {
				run.Completed = append(run.Completed, Outcome{
					Name:     ts.Name,
					Priority: ts.Priority,
					Finished: s.Now(),
					Slices:   slices,
				})
			},
		}
		// Continuations are wrapped too so every slice is counted and a
		// failure on a resumed slice is still recorded.
		var wrap func(inner sched.Callback) sched.Callback
		wrap = func(inner sched.Callback) sched.Callback {
			return func(didTimeout bool) (sched.Result, error) {
				slices++
				res, err := inner(didTimeout)
				if err != nil {
					err = fmt.Errorf("%s: %w", ts.Name, err)
					run.Errors = append(run.Errors, err)
					return sched.Done(), err
				}
				if next := res.Next(); next != nil {
					return sched.Continue(wrap(next)), nil
				}
				return res, nil
			}
		}
		cb := wrap(work.Callback())

		if ts.Sync {
			q.Schedule(cb)
			continue
		}
		var opts []sched.ScheduleOption
		if ts.DelayMS > 0 {
			opts = append(opts, sched.WithDelay(time.Duration(ts.DelayMS)*time.Millisecond))
		}
		if ts.TimeoutMS > 0 {
			opts = append(opts, sched.WithTimeout(time.Duration(ts.TimeoutMS)*time.Millisecond))
		}
		task := s.ScheduleCallback(ts.Priority, cb, opts...)
		if ts.Cancel {
			s.CancelCallback(task)
			run.Cancelled = append(run.Cancelled, ts.Name)
		}
	}
	return run
}
