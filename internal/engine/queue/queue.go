// Package queue provides an unbounded FIFO whose Take blocks until an item
// arrives or the context ends.
package queue

import (
	"context"
	"sync"
)

type Queue[T any] struct {
	mu     sync.Mutex
	items  []T
	signal chan struct{} // capacity 1; non-empty means "items may be waiting"
}

func New[T any]() *Queue[T] {
	return &Queue[T]{signal: make(chan struct{}, 1)}
}

// Put appends v. It never blocks.
func (q *Queue[T]) Put(v T) {
	q.mu.Lock()
	q.items = append(q.items, v)
	q.mu.Unlock()
	select {
	case q.signal <- struct{}{}:
	default:
	}
}

// Take removes and returns the oldest item, blocking while the queue is
// empty. It returns ctx.Err() if ctx ends first.
func (q *Queue[T]) Take(ctx context.Context) (T, error) {
	for {
		if v, ok := q.TryTake(); ok {
			return v, nil
		}
		select {
		case <-q.signal:
		case <-ctx.Done():
			var zero T
			return zero, ctx.Err()
		}
	}
}

// TryTake is Take without blocking.
func (q *Queue[T]) TryTake() (T, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	var zero T
	if len(q.items) == 0 {
		return zero, false
	}
	v := q.items[0]
	q.items[0] = zero
	q.items = q.items[1:]
	if len(q.items) > 0 {
		// keep the signal raised for the next taker
		select {
		case q.signal <- struct{}{}:
		default:
		}
	}
	return v, true
}

func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Clear drops every queued item and returns how many were dropped.
func (q *Queue[T]) Clear() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := len(q.items)
	q.items = nil
	return n
}
