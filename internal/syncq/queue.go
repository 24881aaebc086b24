// Package syncq holds callbacks that must run at immediate priority before the
// host gets control back, flushed either explicitly or by an immediate task.
package syncq

import (
	"github.com/emirpasic/gods/lists/arraylist"

	"coopsched/internal/sched"
)

// Queue is an append-only batch of callbacks flushed in order. Each entry
// follows the task convention: it is called again with whatever continuation
// it returns, until it reports Done.
type Queue struct {
	s *sched.Scheduler

	entries       *arraylist.List // nil when nothing is queued
	immediateTask *sched.Task     // pending flush scheduled by Schedule
	flushing      bool
}

// New creates an empty queue flushed through s.
func New(s *sched.Scheduler) *Queue {
	return &Queue{s: s}
}

// Schedule appends cb. The first entry of a batch also schedules an
// immediate-priority task that flushes the batch at the next opportunity.
func (q *Queue) Schedule(cb sched.Callback) {
	if q.entries == nil {
		q.entries = arraylist.New(cb)
		q.immediateTask = q.s.ScheduleCallback(sched.ImmediatePriority, q.flushTask)
		return
	}
	q.entries.Add(cb)
}

// Len returns the number of entries waiting to be flushed.
func (q *Queue) Len() int {
	if q.entries == nil {
		return 0
	}
	return q.entries.Size()
}

// Flush runs every queued entry now, cancelling the scheduled flush. When an
// entry fails, the entries after it are kept and another flush is scheduled;
// the error is returned.
func (q *Queue) Flush() error {
	if q.immediateTask != nil {
		task := q.immediateTask
		q.immediateTask = nil
		q.s.CancelCallback(task)
	}
	return q.flushImpl()
}

func (q *Queue) flushTask(bool) (sched.Result, error) {
	q.immediateTask = nil
	return sched.Done(), q.flushImpl()
}

func (q *Queue) resumeTask(bool) (sched.Result, error) {
	return sched.Done(), q.Flush()
}

func (q *Queue) flushImpl() error {
	if q.flushing || q.entries == nil {
		return nil
	}
	q.flushing = true
	defer func() { q.flushing = false }()

	queue := q.entries
	i := 0
	defer func() {
		if r := recover(); r != nil {
			q.keepAfter(queue, i)
			panic(r)
		}
	}()
	err := q.s.RunWithPriority(sched.ImmediatePriority, func() error {
		// Entries scheduled while flushing land in queue and run here too.
		for ; i < queue.Size(); i++ {
			v, _ := queue.Get(i)
			for cb := v.(sched.Callback); cb != nil; {
				res, err := cb(true)
				if err != nil {
					return err
				}
				cb = res.Next()
			}
		}
		return nil
	})
	if err == nil {
		q.entries = nil
		return nil
	}

	q.keepAfter(queue, i)
	return err
}

// keepAfter drops everything up to and including the failed entry i and
// resumes flushing the rest in the next tick.
func (q *Queue) keepAfter(queue *arraylist.List, i int) {
	rest := queue.Values()[i+1:]
	q.entries = arraylist.New(rest...)
	q.s.ScheduleCallback(sched.ImmediatePriority, q.resumeTask)
}
