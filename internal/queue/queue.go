// Package queue provides the FIFO worklists used by the fixpoint
// computations.
package queue

import "errors"

type Queue[E any] struct {
	elements []E
}

func (q *Queue[E]) Push(e E) {
	q.elements = append(q.elements, e)
}

func (q *Queue[E]) Empty() bool {
	return len(q.elements) == 0
}

func (q *Queue[E]) Len() int { return len(q.elements) }

var ErrEmpty = errors.New("queue is empty")

func (q *Queue[E]) Pop() E {
	if q.Empty() {
		panic(ErrEmpty)
	}

	e := q.elements[0]
	var zero E
	q.elements[0] = zero
	q.elements = q.elements[1:]
	return e
}

// Worklist is a queue that holds every element at most once. An element
// may be pushed again after it has been popped.
type Worklist[E comparable] struct {
	q      Queue[E]
	queued map[E]bool
}

// Push enqueues e unless it is already pending, and reports whether it did.
func (w *Worklist[E]) Push(e E) bool {
	if w.queued[e] {
		return false
	}
	if w.queued == nil {
		w.queued = make(map[E]bool)
	}
	w.queued[e] = true
	w.q.Push(e)
	return true
}

func (w *Worklist[E]) Empty() bool { return w.q.Empty() }

func (w *Worklist[E]) Pop() E {
	e := w.q.Pop()
	delete(w.queued, e)
	return e
}
