// Package polonius defines the fact model of a location-sensitive borrow
// checker and a bundled naive evaluator for it.
//
// Facts are expressed over small integer atoms. All atoms are dense indices
// minted by AtomMaps, which lives for a single analysis iteration.
package polonius

import (
	"fmt"

	"fortio.org/safecast"
	"github.com/BarrensZeppelin/permcheck/mir"
)

type (
	Origin   uint32
	Loan     uint32
	Point    uint32
	Variable uint32
	Path     uint32
)

func (o Origin) String() string   { return fmt.Sprintf("'_#%dr", uint32(o)) }
func (l Loan) String() string     { return fmt.Sprintf("bw%d", uint32(l)) }
func (v Variable) String() string { return fmt.Sprintf("_%d", uint32(v)) }
func (p Path) String() string     { return fmt.Sprintf("mp%d", uint32(p)) }

// SubPoint splits every statement into the point before and the point in
// the middle of its effect.
type SubPoint uint8

const (
	Start SubPoint = iota
	Mid
)

func (s SubPoint) String() string {
	if s == Mid {
		return "Mid"
	}
	return "Start"
}

type PointKey struct {
	Block mir.BlockID
	Index int
	Sub   SubPoint
}

func (k PointKey) String() string {
	return fmt.Sprintf("%v(%v[%d])", k.Sub, k.Block, k.Index)
}

func (k PointKey) Location() mir.Location {
	return mir.Location{Block: k.Block, Index: k.Index}
}

// AtomMaps interns points and paths and mints fresh origins and loans.
type AtomMaps struct {
	pointIDs map[PointKey]Point
	points   []PointKey

	pathIDs map[string]Path
	paths   []mir.Place

	origins uint32
	loans   uint32
}

func NewAtomMaps() *AtomMaps {
	return &AtomMaps{
		pointIDs: make(map[PointKey]Point),
		pathIDs:  make(map[string]Path),
	}
}

func mint(n int) uint32 {
	v, err := safecast.Conv[uint32](n)
	if err != nil {
		panic(fmt.Errorf("atom table overflow: %w", err))
	}
	return v
}

// Point returns the interned point for (bb, idx, sub).
func (m *AtomMaps) Point(bb mir.BlockID, idx int, sub SubPoint) Point {
	key := PointKey{bb, idx, sub}
	if p, ok := m.pointIDs[key]; ok {
		return p
	}
	p := Point(mint(len(m.points)))
	m.points = append(m.points, key)
	m.pointIDs[key] = p
	return p
}

func (m *AtomMaps) PointKey(p Point) PointKey { return m.points[p] }

// PointLocation maps a point back to the statement or terminator it
// belongs to.
func (m *AtomMaps) PointLocation(p Point) mir.Location { return m.points[p].Location() }

func (m *AtomMaps) NumPoints() int { return len(m.points) }

func (m *AtomMaps) Variable(l mir.Local) Variable { return Variable(l) }

func (m *AtomMaps) Origin() Origin {
	o := Origin(m.origins)
	m.origins = mint(int(m.origins) + 1)
	return o
}

func (m *AtomMaps) NumOrigins() int { return int(m.origins) }

func (m *AtomMaps) Loan() Loan {
	l := Loan(m.loans)
	m.loans = mint(int(m.loans) + 1)
	return l
}

func (m *AtomMaps) NumLoans() int { return int(m.loans) }

// Path interns pl. The first time a path is seen it is linked to its parent
// path through child_path, or to its variable through path_is_var.
func (m *AtomMaps) Path(facts *AllFacts, pl mir.Place) Path {
	key := pl.String()
	if p, ok := m.pathIDs[key]; ok {
		return p
	}

	var parentPath Path
	parent, _, hasParent := pl.Parent()
	if hasParent {
		parentPath = m.Path(facts, parent)
	}

	p := Path(mint(len(m.paths)))
	m.paths = append(m.paths, pl.Project())
	m.pathIDs[key] = p

	if hasParent {
		facts.ChildPath = append(facts.ChildPath, ChildPath{Child: p, Parent: parentPath})
	} else {
		facts.PathIsVar = append(facts.PathIsVar, PathVar{Path: p, Var: m.Variable(pl.Local)})
	}
	return p
}

func (m *AtomMaps) PathPlace(p Path) mir.Place { return m.paths[p] }

func (m *AtomMaps) NumPaths() int { return len(m.paths) }
