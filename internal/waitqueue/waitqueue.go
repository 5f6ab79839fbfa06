// Package waitqueue holds the tasks waiting for resources, ordered by submission sequence.
package waitqueue

import (
	"strings"

	"github.com/emirpasic/gods/sets/treeset"
)

// Item is anything that can wait in a Queue.
type Item interface {
	// QueueID identifies the item; it is unique within a queue.
	QueueID() string
	// QueueSeq is the item's position; lower sequences are served first.
	QueueSeq() uint64
}

// Queue maintains items in sequence order and indexes them by ID. An item re-added with its
// original sequence goes back to its original position relative to the others. Queue is not
// safe for concurrent use.
type Queue[T Item] struct {
	bySeq *treeset.Set
	byID  map[string]T
}

// New constructs an empty Queue.
func New[T Item]() *Queue[T] {
	return &Queue[T]{
		bySeq: treeset.NewWith(func(a, b interface{}) int {
			return compare(a.(T), b.(T))
		}),
		byID: make(map[string]T),
	}
}

func compare(a, b Item) int {
	switch {
	case a.QueueSeq() < b.QueueSeq():
		return -1
	case a.QueueSeq() > b.QueueSeq():
		return 1
	default:
		return strings.Compare(a.QueueID(), b.QueueID())
	}
}

// Len gives the number of items in the queue.
func (q *Queue[T]) Len() int {
	return len(q.byID)
}

// Get returns the item with the given ID.
func (q *Queue[T]) Get(id string) (T, bool) {
	item, ok := q.byID[id]
	return item, ok
}

// Push adds an item. It returns false if an item with the same ID is already queued.
func (q *Queue[T]) Push(item T) bool {
	if _, ok := q.byID[item.QueueID()]; ok {
		return false
	}
	q.bySeq.Add(item)
	q.byID[item.QueueID()] = item
	return true
}

// Peek returns the item with the lowest sequence without removing it.
func (q *Queue[T]) Peek() (T, bool) {
	var zero T
	if q.Len() == 0 {
		return zero, false
	}
	it := q.bySeq.Iterator()
	if !it.First() {
		return zero, false
	}
	return it.Value().(T), true
}

// Pop removes and returns the item with the lowest sequence.
func (q *Queue[T]) Pop() (T, bool) {
	item, ok := q.Peek()
	if ok {
		q.bySeq.Remove(item)
		delete(q.byID, item.QueueID())
	}
	return item, ok
}

// Remove deletes the item with the given ID, if present.
func (q *Queue[T]) Remove(id string) (T, bool) {
	item, ok := q.byID[id]
	if !ok {
		return item, false
	}
	q.bySeq.Remove(item)
	delete(q.byID, id)
	return item, true
}

// Items returns the queued items in sequence order.
func (q *Queue[T]) Items() []T {
	items := make([]T, 0, q.Len())
	for it := q.bySeq.Iterator(); it.Next(); {
		items = append(items, it.Value().(T))
	}
	return items
}
