// Package queue provides the FIFO queues that connect pipeline stages.
//
// A Queue is safe for concurrent producers and consumers. When created with a
// positive capacity it applies a drop-oldest policy: pushing onto a full queue
// evicts the longest-queued item so the newest data always gets in. A capacity
// of zero or less makes the queue unbounded.
//
// Consumers either poll with TryPop or block with Pop, which waits on a
// notification channel instead of sleeping.
package queue

import (
	"context"
	"sync"
	"sync/atomic"
)

// Queue is a mutex-guarded FIFO with an optional drop-oldest bound.
type Queue[T any] struct {
	mu       sync.Mutex
	items    []T
	head     int
	capacity int
	ready    chan struct{}
	drops    atomic.Uint64
}

// New creates a queue. capacity <= 0 means unbounded.
func New[T any](capacity int) *Queue[T] {
	if capacity < 0 {
		capacity = 0
	}
	q := &Queue[T]{
		capacity: capacity,
		ready:    make(chan struct{}, 1),
	}
	if capacity > 0 {
		q.items = make([]T, 0, capacity)
	}
	return q
}

// Push appends v. If the queue is at capacity the oldest item is removed first
// and returned with dropped=true.
func (q *Queue[T]) Push(v T) (evicted T, dropped bool) {
	q.mu.Lock()
	if q.capacity > 0 && q.lenLocked() >= q.capacity {
		evicted = q.popLocked()
		dropped = true
	}
	q.items = append(q.items, v)
	q.mu.Unlock()

	if dropped {
		q.drops.Add(1)
	}
	q.signal()
	return evicted, dropped
}

// TryPop removes and returns the oldest item without blocking.
func (q *Queue[T]) TryPop() (T, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.lenLocked() == 0 {
		var zero T
		return zero, false
	}
	v := q.popLocked()
	if q.lenLocked() > 0 {
		q.signal()
	}
	return v, true
}

// Pop blocks until an item is available or ctx is done.
func (q *Queue[T]) Pop(ctx context.Context) (T, error) {
	for {
		if v, ok := q.TryPop(); ok {
			return v, nil
		}
		select {
		case <-ctx.Done():
			var zero T
			return zero, ctx.Err()
		case <-q.ready:
		}
	}
}

// Ready returns a channel that receives a value after items are pushed.
// A receive does not guarantee an item is still present; follow it with TryPop.
func (q *Queue[T]) Ready() <-chan struct{} {
	return q.ready
}

// Len returns the number of queued items.
func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.lenLocked()
}

// Cap returns the configured capacity (0 for unbounded).
func (q *Queue[T]) Cap() int {
	return q.capacity
}

// Drops returns how many items were evicted by the drop-oldest policy.
func (q *Queue[T]) Drops() uint64 {
	return q.drops.Load()
}

// Clear discards every queued item and returns how many were removed.
func (q *Queue[T]) Clear() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	n := q.lenLocked()
	clear(q.items)
	q.items = q.items[:0]
	q.head = 0
	return n
}

func (q *Queue[T]) lenLocked() int {
	return len(q.items) - q.head
}

// popLocked removes the head item. The backing array is compacted once the
// consumed prefix reaches half of it so memory does not grow with throughput.
func (q *Queue[T]) popLocked() T {
	var zero T
	v := q.items[q.head]
	q.items[q.head] = zero
	q.head++

	switch {
	case q.head == len(q.items):
		q.items = q.items[:0]
		q.head = 0
	case q.head >= len(q.items)/2:
		n := copy(q.items, q.items[q.head:])
		clear(q.items[n:])
		q.items = q.items[:n]
		q.head = 0
	}
	return v
}

func (q *Queue[T]) signal() {
	select {
	case q.ready <- struct{}{}:
	default:
	}
}
