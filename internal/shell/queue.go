package shell

import (
	"context"
	"sync"
)

// Queue is an unbounded FIFO shared by the stream readers (publishers) and
// the invocation currently draining (consumer). Publish never blocks so a
// reader is never stalled by an idle session.
type Queue[T any] struct {
	mu    sync.Mutex
	items []T
	ready chan struct{}
}

// NewQueue creates an empty queue.
func NewQueue[T any]() *Queue[T] {
	return &Queue[T]{
		ready: make(chan struct{}, 1),
	}
}

// Publish appends an item and wakes a waiting consumer.
func (q *Queue[T]) Publish(item T) {
	q.mu.Lock()
	q.items = append(q.items, item)
	q.mu.Unlock()

	select {
	case q.ready <- struct{}{}:
	default:
	}
}

// Ready returns a channel that receives a value after items were published.
// A receive is a hint only; TryConsume may still come back empty.
func (q *Queue[T]) Ready() <-chan struct{} {
	return q.ready
}

// TryConsume removes the head of the queue without blocking.
func (q *Queue[T]) TryConsume() (T, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	var zero T
	if len(q.items) == 0 {
		return zero, false
	}
	item := q.items[0]
	q.items[0] = zero
	q.items = q.items[1:]
	if len(q.items) == 0 {
		// Drop the backing array so a burst of output is not retained.
		q.items = nil
	}
	return item, true
}

// Consume blocks until an item is available or ctx is done.
func (q *Queue[T]) Consume(ctx context.Context) (T, error) {
	for {
		if item, ok := q.TryConsume(); ok {
			return item, nil
		}
		select {
		case <-q.ready:
		case <-ctx.Done():
			var zero T
			return zero, ctx.Err()
		}
	}
}

// Len returns the number of queued items.
func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
