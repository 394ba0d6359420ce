// Package queue implements the shared dispatch queue between the
// coalescing registry (producer) and the packet senders (consumers).
//
// The queue is an unbounded FIFO with set-like membership: enqueueing an
// item already present is a no-op, which is what prevents the same
// delivery from being streamed twice when the registry races with itself.
package queue

import (
	"context"
	"sync"
)

// Queue is a thread-safe blocking FIFO with duplicate suppression.
// The zero value is not usable; use New.
//
// Items are delivered in insertion order to however many consumers call
// Dequeue. Membership is by value identity, so pointer element types get
// the usual "same object, one slot" semantics.
type Queue[T comparable] struct {
	mu      sync.Mutex
	cond    *sync.Cond
	items   []T
	members map[T]struct{}
	closed  bool
}

// New creates an empty queue.
func New[T comparable]() *Queue[T] {
	q := &Queue[T]{
		members: make(map[T]struct{}),
	}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// Enqueue appends v unless it is already present or the queue is closed.
// Returns true if v was added.
func (q *Queue[T]) Enqueue(v T) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}
	if _, dup := q.members[v]; dup {
		return false
	}

	q.items = append(q.items, v)
	q.members[v] = struct{}{}
	q.cond.Signal()
	return true
}

// Contains reports whether v is currently queued.
func (q *Queue[T]) Contains(v T) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	_, ok := q.members[v]
	return ok
}

// Dequeue removes and returns the oldest item, blocking until one is
// available. Returns ok=false when the queue is closed and drained, or
// when ctx is cancelled.
func (q *Queue[T]) Dequeue(ctx context.Context) (T, bool) {
	var zero T

	// Wake the cond wait when the caller's context ends.
	stop := context.AfterFunc(ctx, func() {
		q.mu.Lock()
		q.cond.Broadcast()
		q.mu.Unlock()
	})
	defer stop()

	q.mu.Lock()
	defer q.mu.Unlock()

	for {
		if len(q.items) > 0 {
			v := q.items[0]
			q.items = q.items[1:]
			delete(q.members, v)
			return v, true
		}
		if q.closed || ctx.Err() != nil {
			return zero, false
		}
		q.cond.Wait()
	}
}

// Len returns the number of queued items.
func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Close marks the queue closed and wakes all blocked consumers. Items
// already queued remain dequeueable; new enqueues are rejected.
func (q *Queue[T]) Close() {
	q.mu.Lock()
	q.closed = true
	q.cond.Broadcast()
	q.mu.Unlock()
}
