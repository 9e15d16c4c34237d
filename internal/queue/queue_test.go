package queue

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestQueue(t *testing.T) {
	var q Queue[int]
	assert.True(t, q.Empty())

	q.Push(1)
	assert.False(t, q.Empty())
	assert.Equal(t, 1, q.Pop())
	assert.True(t, q.Empty())

	q.Push(2)
	q.Push(3)
	q.Push(2)
	assert.Equal(t, 3, q.Len())

	assert.Equal(t, 2, q.Pop())
	assert.Equal(t, 3, q.Pop())
	assert.Equal(t, 2, q.Pop())
	assert.True(t, q.Empty())

	assert.PanicsWithValue(t, ErrEmpty, func() { q.Pop() })
}

func TestWorklist(t *testing.T) {
	var w Worklist[string]
	assert.True(t, w.Empty())

	assert.True(t, w.Push("a"))
	assert.True(t, w.Push("b"))
	assert.False(t, w.Push("a"), "pending elements are not queued twice")

	assert.Equal(t, "a", w.Pop())
	assert.True(t, w.Push("a"), "popped elements can be queued again")
	assert.Equal(t, "b", w.Pop())
	assert.Equal(t, "a", w.Pop())
	assert.True(t, w.Empty())

	assert.Panics(t, func() { w.Pop() })
}
