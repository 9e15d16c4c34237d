// Package dataflow relates the permissions of pointers that hold values
// derived from one another. A pointer can never have more permissions than
// the pointer it was derived from.
package dataflow

import (
	"fmt"

	"github.com/BarrensZeppelin/permcheck/acx"
	"github.com/BarrensZeppelin/permcheck/internal/queue"
	"github.com/BarrensZeppelin/permcheck/lty"
	"github.com/BarrensZeppelin/permcheck/mir"
	"github.com/BarrensZeppelin/permcheck/perm"
)

// Subset states that the permissions of Sub are a subset of those of Sup.
type Subset struct {
	Sub, Sup perm.PointerID
}

func (s Subset) String() string { return fmt.Sprintf("%v <= %v", s.Sub, s.Sup) }

// Constraints is the constraint graph of one body. It does not depend on
// the hypothesis and is generated once.
type Constraints struct {
	edges []Subset
	seen  map[Subset]bool
	// subs lists, for every pointer, the pointers constrained to be a
	// subset of it.
	subs perm.PointerTable[[]perm.PointerID]
}

// NewConstraints creates an empty graph over n pointers.
func NewConstraints(n int) *Constraints {
	return &Constraints{
		seen: make(map[Subset]bool),
		subs: perm.NewPointerTable[[]perm.PointerID](n),
	}
}

// Add records perms(sub) ⊆ perms(sup). Self edges and duplicates are ignored.
func (cs *Constraints) Add(sub, sup perm.PointerID) {
	s := Subset{sub, sup}
	if sub == sup || cs.seen[s] {
		return
	}
	cs.seen[s] = true
	cs.edges = append(cs.edges, s)
	*cs.subs.Ptr(sup) = append(cs.subs.Get(sup), sub)
}

// Edges returns the constraints in the order they were generated.
func (cs *Constraints) Edges() []Subset { return cs.edges }

func (cs *Constraints) Len() int { return len(cs.edges) }

// Propagate removes from every pointer the permissions its superset
// pointers lack, until no constraint is violated. It reports whether h
// changed.
func (cs *Constraints) Propagate(h *perm.Hypothesis) bool {
	changed := false

	var q queue.Worklist[perm.PointerID]
	for _, e := range cs.edges {
		q.Push(e.Sup)
	}

	for !q.Empty() {
		sup := q.Pop()
		have := h.Get(sup)
		for _, sub := range cs.subs.Get(sup) {
			p := h.Ptr(sub)
			extra := p.Difference(have)
			if extra.IsEmpty() {
				continue
			}
			p.Remove(extra)
			changed = true
			q.Push(sub)
		}
	}
	return changed
}

// Generate builds the constraint graph of the body of c.
func Generate(c *acx.Ctxt) *Constraints {
	g := &generator{acx: c, cs: NewConstraints(c.NumPointers())}
	body := c.Body
	for i := range body.Blocks {
		bb := &body.Blocks[i]
		for j := range bb.Statements {
			if st := &bb.Statements[j]; st.Kind == mir.StmtAssign {
				g.assign(st.Assign.Place, &st.Assign.Rvalue)
			}
		}
		g.terminator(&bb.Terminator)
	}
	return g.cs
}

type generator struct {
	acx *acx.Ctxt
	cs  *Constraints
}

func (g *generator) add(sub, sup *acx.LTy) {
	if !sub.Label.IsNone() && !sup.Label.IsNone() {
		g.cs.Add(sub.Label, sup.Label)
	}
}

// equate makes every pair of corresponding labels in a and b equal.
func (g *generator) equate(a, b *acx.LTy) {
	lty.Zip(a, b, func(x, y *acx.LTy) {
		g.add(x, y)
		g.add(y, x)
	})
}

// flow relates a value of type dst that was derived from a value of type
// src. Pointers may lose permissions along the way, but what is behind them
// is shared and must agree.
func (g *generator) flow(dst, src *acx.LTy) {
	g.add(dst, src)
	n := min(len(dst.Args), len(src.Args))
	for i := 0; i < n; i++ {
		if dst.Ty.IsPointer() {
			g.equate(dst.Args[i], src.Args[i])
		} else {
			g.flow(dst.Args[i], src.Args[i])
		}
	}
}

func (g *generator) operand(dst *acx.LTy, op mir.Operand) {
	if op.Kind == mir.OpConstant {
		return
	}
	g.flow(dst, g.acx.PlaceTy(op.Place))
}

func (g *generator) assign(pl mir.Place, rv *mir.Rvalue) {
	dst := g.acx.PlaceTy(pl)

	switch rv.Kind {
	case mir.RvUse, mir.RvCast:
		g.operand(dst, rv.Operand)

	case mir.RvRef, mir.RvAddressOf:
		desc, ok := mir.DescribeRvalue(rv)
		if !ok || dst.Label.IsNone() {
			return
		}
		switch desc.Kind {
		case mir.DescProject:
			if base, ok := g.acx.PtrOf(desc.Base); ok {
				g.cs.Add(dst.Label, base)
			}
		case mir.DescAddrOfLocal:
			g.cs.Add(dst.Label, g.acx.AddrOfLocal[desc.Local])
		}
		if len(dst.Args) > 0 {
			g.equate(dst.Args[0], g.acx.PlaceTy(rv.Place))
		}

	case mir.RvAggregate:
		for i, op := range rv.Args {
			if i < len(dst.Args) {
				g.operand(dst.Args[i], op)
			}
		}
	}
}

func (g *generator) terminator(t *mir.Terminator) {
	if t.Kind != mir.TermCall || !t.HasDest || len(t.Args) == 0 {
		return
	}
	if _, ok := mir.TyCallee(t.Func.Ty); !ok {
		return
	}
	// The result of pointer arithmetic is derived from its receiver.
	g.operand(g.acx.PlaceTy(t.Dest), t.Args[0])
}
