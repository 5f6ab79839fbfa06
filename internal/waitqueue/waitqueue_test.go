package waitqueue

import (
	"testing"

	"gotest.tools/assert"
)

type entry struct {
	id  string
	seq uint64
}

func (e *entry) QueueID() string  { return e.id }
func (e *entry) QueueSeq() uint64 { return e.seq }

func ids(items []*entry) []string {
	out := make([]string, 0, len(items))
	for _, i := range items {
		out = append(out, i.id)
	}
	return out
}

func TestQueueOrder(t *testing.T) {
	q := New[*entry]()
	_, ok := q.Peek()
	assert.Assert(t, !ok)

	assert.Assert(t, q.Push(&entry{"c", 3}))
	assert.Assert(t, q.Push(&entry{"a", 1}))
	assert.Assert(t, q.Push(&entry{"b", 2}))
	assert.Assert(t, !q.Push(&entry{"a", 7}))
	assert.Equal(t, q.Len(), 3)
	assert.DeepEqual(t, ids(q.Items()), []string{"a", "b", "c"})

	head, ok := q.Peek()
	assert.Assert(t, ok)
	assert.Equal(t, head.id, "a")
	assert.Equal(t, q.Len(), 3)

	head, ok = q.Pop()
	assert.Assert(t, ok)
	assert.Equal(t, head.id, "a")
	assert.DeepEqual(t, ids(q.Items()), []string{"b", "c"})
}

func TestQueueRequeueKeepsPosition(t *testing.T) {
	q := New[*entry]()
	first := &entry{"first", 1}
	q.Push(first)
	q.Push(&entry{"second", 2})
	q.Push(&entry{"third", 3})

	popped, _ := q.Pop()
	assert.Equal(t, popped, first)
	q.Push(&entry{"fourth", 4})
	q.Push(first)
	assert.DeepEqual(t, ids(q.Items()), []string{"first", "second", "third", "fourth"})
}

func TestQueueRemove(t *testing.T) {
	q := New[*entry]()
	q.Push(&entry{"a", 1})
	q.Push(&entry{"b", 2})

	removed, ok := q.Remove("b")
	assert.Assert(t, ok)
	assert.Equal(t, removed.id, "b")
	_, ok = q.Remove("b")
	assert.Assert(t, !ok)
	_, ok = q.Get("b")
	assert.Assert(t, !ok)

	got, ok := q.Get("a")
	assert.Assert(t, ok)
	assert.Equal(t, got.seq, uint64(1))

	q.Pop()
	_, ok = q.Pop()
	assert.Assert(t, !ok)
	assert.Equal(t, q.Len(), 0)
}
