// Package queue provides an unbounded FIFO queue that any number of goroutines put into and
// that is drained until it is closed.
package queue

import "sync"

// Queue is a thread-safe, unbounded, closable FIFO queue.
type Queue[T any] struct {
	mu     sync.Mutex
	ready  *sync.Cond // signaled on Put and Close
	elems  []T
	closed bool
}

// New returns an empty queue.
func New[T any]() *Queue[T] {
	q := &Queue[T]{}
	q.ready = sync.NewCond(&q.mu)
	return q
}

// Put appends t. It never blocks. Once the queue is closed Put drops t and returns false.
func (q *Queue[T]) Put(t T) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}
	q.elems = append(q.elems, t)
	q.ready.Signal()
	return true
}

// Get removes and returns the oldest element, blocking while the queue is empty. After Close,
// Get keeps returning the remaining elements and then returns false.
func (q *Queue[T]) Get() (T, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for len(q.elems) == 0 && !q.closed {
		q.ready.Wait()
	}
	if len(q.elems) == 0 {
		var zero T
		return zero, false
	}
	t := q.elems[0]
	var zero T
	q.elems[0] = zero
	q.elems = q.elems[1:]
	return t, true
}

// Close stops the queue from accepting elements and wakes every blocked Get.
func (q *Queue[T]) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.closed = true
	q.ready.Broadcast()
}

// Len returns the number of elements in the queue.
func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	return len(q.elems)
}
