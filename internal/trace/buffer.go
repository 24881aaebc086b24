// Package trace provides sched.Recorder implementations.
package trace

import (
	"github.com/emirpasic/gods/queues/circularbuffer"

	"coopsched/internal/sched"
)

// Buffer keeps the most recent events in memory, dropping the oldest once
// full.
type Buffer struct {
	ring *circularbuffer.Queue
}

// NewBuffer creates a buffer holding up to size events.
func NewBuffer(size int) *Buffer {
	if size < 1 {
		size = 1
	}
	return &Buffer{ring: circularbuffer.New(size)}
}

func (b *Buffer) Record(ev sched.Event) {
	b.ring.Enqueue(ev)
}

// Events returns the buffered events, oldest first.
func (b *Buffer) Events() []sched.Event {
	values := b.ring.Values()
	events := make([]sched.Event, 0, len(values))
	for _, v := range values {
		events = append(events, v.(sched.Event))
	}
	return events
}

// Kinds returns the kinds of the buffered events for the given task, oldest
// first.
func (b *Buffer) Kinds(id sched.TaskID) []sched.EventKind {
	var kinds []sched.EventKind
	for _, ev := range b.Events() {
		if ev.TaskID == id {
			kinds = append(kinds, ev.Kind)
		}
	}
	return kinds
}

// Len returns the number of buffered events.
func (b *Buffer) Len() int { return b.ring.Size() }

// Reset drops all buffered events.
func (b *Buffer) Reset() { b.ring.Clear() }

// Multi fans every event out to each recorder in order.
type Multi []sched.Recorder

func (m Multi) Record(ev sched.Event) {
	for _, r := range m {
		r.Record(ev)
	}
}
