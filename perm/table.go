package perm

import (
	"errors"
	"fmt"
	"math"

	"fortio.org/safecast"
)

// PointerID identifies one candidate pointer location in the analysed program.
type PointerID uint32

// NoPointer labels type nodes that are not tracked pointers.
const NoPointer PointerID = math.MaxUint32

func (id PointerID) IsNone() bool { return id == NoPointer }

func (id PointerID) String() string {
	if id.IsNone() {
		return "ptr_none"
	}
	return fmt.Sprintf("ptr%d", uint32(id))
}

// Allocator hands out dense pointer IDs.
type Allocator struct {
	n int
}

func (a *Allocator) New() PointerID {
	id, err := safecast.Conv[uint32](a.n)
	if err != nil {
		panic(fmt.Errorf("pointer ID space exhausted: %w", err))
	}
	if PointerID(id) == NoPointer {
		panic(errIDSpace)
	}
	a.n++
	return PointerID(id)
}

var errIDSpace = errors.New("pointer ID space exhausted")

// Len is the number of IDs allocated so far.
func (a *Allocator) Len() int { return a.n }

// PointerTable is a dense arena holding one value per PointerID.
type PointerTable[T any] struct {
	data []T
}

func NewPointerTable[T any](n int) PointerTable[T] {
	return PointerTable[T]{data: make([]T, n)}
}

func (t *PointerTable[T]) Len() int { return len(t.data) }

func (t *PointerTable[T]) index(id PointerID) int {
	if id.IsNone() || int(id) >= len(t.data) {
		panic(fmt.Errorf("pointer %v out of range for table of size %d", id, len(t.data)))
	}
	return int(id)
}

func (t *PointerTable[T]) Get(id PointerID) T { return t.data[t.index(id)] }

func (t *PointerTable[T]) Set(id PointerID, v T) { t.data[t.index(id)] = v }

// Ptr returns a pointer to the table entry for id, for in-place updates.
func (t *PointerTable[T]) Ptr(id PointerID) *T { return &t.data[t.index(id)] }

// Range calls f for every entry in ID order until f returns false.
func (t *PointerTable[T]) Range(f func(PointerID, T) bool) {
	for i, v := range t.data {
		id, err := safecast.Conv[uint32](i)
		if err != nil {
			panic(err)
		}
		if !f(PointerID(id), v) {
			return
		}
	}
}

func (t *PointerTable[T]) Clone() PointerTable[T] {
	return PointerTable[T]{data: append([]T(nil), t.data...)}
}

// Hypothesis is the current permission guess for every pointer of one
// analysis unit.
type Hypothesis = PointerTable[PermissionSet]

// NewHypothesis gives each of the n pointers the permissions in initial.
func NewHypothesis(n int, initial PermissionSet) Hypothesis {
	h := NewPointerTable[PermissionSet](n)
	for i := range h.data {
		h.data[i] = initial
	}
	return h
}

// Subsumes reports whether every entry of other is a subset of the
// corresponding entry of h. Both tables must have the same length.
func Subsumes(h, other *Hypothesis) bool {
	if h.Len() != other.Len() {
		return false
	}
	for i := range h.data {
		if other.data[i]&^h.data[i] != 0 {
			return false
		}
	}
	return true
}
