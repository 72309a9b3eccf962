// Package queue provides the unbounded FIFO buffer used for the
// engine's dual-buffer pipeline: one inbound queue carrying work to
// feed the model, one outbound queue carrying incremental output for
// presentation. The two queues are the only structures shared across
// concurrent producers and consumers; their contract is the sole
// synchronization primitive in the core.
package queue

import (
	"context"
	"errors"
	"sync"
)

// ErrClosed is returned by Push after Close, and by Pop once the queue
// is closed and drained.
var ErrClosed = errors.New("queue: closed")

// Queue is an unbounded FIFO. Push never blocks; Pop suspends the
// caller until an item is available, the queue is closed, or the
// context is cancelled. Items are delivered in push order.
type Queue[T any] struct {
	mu     sync.Mutex
	items  []T
	wake   chan struct{}
	closed bool
}

// New creates an empty queue.
func New[T any]() *Queue[T] {
	return &Queue[T]{wake: make(chan struct{})}
}

// Push appends an item. It fails only after Close.
func (q *Queue[T]) Push(item T) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return ErrClosed
	}
	q.items = append(q.items, item)
	close(q.wake)
	q.wake = make(chan struct{})
	return nil
}

// Pop removes and returns the oldest item, blocking until one is
// available. After Close, remaining items are still delivered; once
// drained Pop returns ErrClosed.
func (q *Queue[T]) Pop(ctx context.Context) (T, error) {
	var zero T
	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			item := q.items[0]
			q.items = q.items[1:]
			q.mu.Unlock()
			return item, nil
		}
		if q.closed {
			q.mu.Unlock()
			return zero, ErrClosed
		}
		wake := q.wake
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return zero, ctx.Err()
		case <-wake:
		}
	}
}

// TryPop removes and returns the oldest item without blocking. The
// second return is false when the queue is empty or closed-and-drained.
func (q *Queue[T]) TryPop() (T, bool) {
	var zero T
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return zero, false
	}
	item := q.items[0]
	q.items = q.items[1:]
	return item, true
}

// Len returns the number of buffered items.
func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Close marks the queue terminal. Pending and future Pop calls return
// ErrClosed once the buffer drains; further Push calls fail. Safe to
// call multiple times.
func (q *Queue[T]) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	close(q.wake)
}

// Closed reports whether Close has been called.
func (q *Queue[T]) Closed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}
