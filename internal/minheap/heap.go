// internal/minheap/heap.go

// Package minheap provides the binary min-heap shared by the scheduler's
// timer and ready queues.
package minheap

import (
	"time"

	"github.com/emirpasic/gods/trees/binaryheap"
)

// Key orders heap nodes: sort index first, id second.
type Key struct {
	SortIndex time.Duration
	ID        uint64
}

// Compare returns -1, 0 or 1 when k sorts before, equal to or after o.
func (k Key) Compare(o Key) int {
	switch {
	case k.SortIndex < o.SortIndex:
		return -1
	case k.SortIndex > o.SortIndex:
		return 1
	case k.ID < o.ID:
		return -1
	case k.ID > o.ID:
		return 1
	default:
		return 0
	}
}

// Node is anything that can be stored in a Heap.
type Node interface {
	HeapKey() Key
}

// Heap is a min-heap of nodes ordered by Key. Only the root can be removed;
// callers that need to drop an arbitrary node mark it dead and let it surface.
//
// A node's key must not change while it is stored in the heap.
type Heap[T Node] struct {
	h *binaryheap.Heap
}

// New returns an empty heap.
func New[T Node]() *Heap[T] {
	return &Heap[T]{
		h: binaryheap.NewWith(func(a, b interface{}) int {
			return a.(T).HeapKey().Compare(b.(T).HeapKey())
		}),
	}
}

// Push inserts node.
func (h *Heap[T]) Push(node T) {
	h.h.Push(node)
}

// Peek returns the minimal node without removing it.
func (h *Heap[T]) Peek() (T, bool) {
	v, ok := h.h.Peek()
	if !ok {
		var zero T
		return zero, false
	}
	return v.(T), true
}

// Pop removes and returns the minimal node.
func (h *Heap[T]) Pop() (T, bool) {
	v, ok := h.h.Pop()
	if !ok {
		var zero T
		return zero, false
	}
	return v.(T), true
}

// Len returns the number of stored nodes, including dead ones.
func (h *Heap[T]) Len() int { return h.h.Size() }

// Empty reports whether the heap holds no nodes.
func (h *Heap[T]) Empty() bool { return h.h.Empty() }
