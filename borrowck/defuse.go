package borrowck

import (
	"github.com/BarrensZeppelin/permcheck/mir"
	"github.com/BarrensZeppelin/permcheck/perm"
	"github.com/BarrensZeppelin/permcheck/polonius"
)

type accessKind uint8

const (
	accessRead accessKind = iota
	accessWrite
)

// visitInvalidations records, at the start point of every statement and
// terminator, the loans invalidated by the accesses it performs.
func (b *builder) visitInvalidations() {
	for i := range b.body.Blocks {
		bb := mir.BlockID(i)
		block := &b.body.Blocks[i]

		for idx := range block.Statements {
			st := &block.Statements[idx]
			start := b.point(bb, idx, polonius.Start)
			switch st.Kind {
			case mir.StmtAssign:
				rv := &st.Assign.Rvalue
				b.accessOperands(start, rv.Operands())
				switch rv.Kind {
				case mir.RvRef, mir.RvAddressOf:
					kind := accessRead
					if b.placeTy(st.Assign.Place).Label.Perm.Contains(perm.Unique) {
						kind = accessWrite
					}
					b.access(start, rv.Place, kind)
				case mir.RvLen:
					b.access(start, rv.Place, accessRead)
				}
				b.access(start, st.Assign.Place, accessWrite)
			case mir.StmtStorageDead:
				b.access(start, mir.LocalPlace(st.Local), accessWrite)
			}
		}

		t := &block.Terminator
		start := b.point(bb, len(block.Statements), polonius.Start)
		b.accessOperands(start, t.Operands())
		switch t.Kind {
		case mir.TermCall:
			if t.HasDest {
				b.access(start, t.Dest, accessWrite)
			}
		case mir.TermDrop:
			b.access(start, t.Place, accessWrite)
		}
	}
}

func (b *builder) accessOperands(p polonius.Point, ops []mir.Operand) {
	for _, op := range ops {
		switch op.Kind {
		case mir.OpCopy:
			b.access(p, op.Place, accessRead)
		case mir.OpMove:
			b.access(p, op.Place, accessWrite)
		}
	}
}

// access invalidates the loans of pl's local that overlap pl, unless both
// the access and the loan are shared.
func (b *builder) access(p polonius.Point, pl mir.Place, kind accessKind) {
	for _, ln := range b.loans[pl.Local] {
		if (kind == accessWrite || ln.exclusive) && ln.place.Overlaps(pl) {
			b.facts.LoanInvalidatedAt = append(b.facts.LoanInvalidatedAt, polonius.PointLoan{Point: p, Loan: ln.loan})
		}
	}
}

// visitDefUse records variable definitions, uses and drops as well as path
// assignments, accesses and moves, all at mid points.
func (b *builder) visitDefUse() {
	for i := range b.body.Blocks {
		bb := mir.BlockID(i)
		block := &b.body.Blocks[i]

		for idx := range block.Statements {
			st := &block.Statements[idx]
			mid := b.point(bb, idx, polonius.Mid)
			switch st.Kind {
			case mir.StmtAssign:
				rv := &st.Assign.Rvalue
				for _, op := range rv.Operands() {
					b.useOperand(mid, op)
				}
				switch rv.Kind {
				case mir.RvRef, mir.RvLen:
					b.usePlace(mid, rv.Place)
					b.pathAccessed(mid, rv.Place)
				case mir.RvAddressOf:
					// Taking a raw address neither reads nor requires
					// initialised memory.
					b.usePlace(mid, rv.Place)
				}
				b.define(mid, st.Assign.Place)
			case mir.StmtStorageLive, mir.StmtStorageDead:
				b.varDefined(mid, st.Local)
			}
		}

		t := &block.Terminator
		mid := b.point(bb, len(block.Statements), polonius.Mid)
		for _, op := range t.Operands() {
			b.useOperand(mid, op)
		}
		switch t.Kind {
		case mir.TermCall:
			if t.HasDest {
				b.define(mid, t.Dest)
			}
		case mir.TermDrop:
			b.facts.VarDroppedAt = append(b.facts.VarDroppedAt, polonius.VarPoint{
				Var:   b.maps.Variable(t.Place.Local),
				Point: mid,
			})
		case mir.TermReturn:
			b.varUsed(mid, 0)
		}
	}
}

func (b *builder) varUsed(p polonius.Point, l mir.Local) {
	b.facts.VarUsedAt = append(b.facts.VarUsedAt, polonius.VarPoint{Var: b.maps.Variable(l), Point: p})
}

func (b *builder) varDefined(p polonius.Point, l mir.Local) {
	b.facts.VarDefinedAt = append(b.facts.VarDefinedAt, polonius.VarPoint{Var: b.maps.Variable(l), Point: p})
}

// usePlace records the uses needed to evaluate pl: its local and every local
// used as an index.
func (b *builder) usePlace(p polonius.Point, pl mir.Place) {
	b.varUsed(p, pl.Local)
	b.useIndices(p, pl)
}

func (b *builder) useIndices(p polonius.Point, pl mir.Place) {
	for _, e := range pl.Projection {
		if e.Kind == mir.ElemIndex {
			b.varUsed(p, e.Index)
		}
	}
}

func (b *builder) useOperand(p polonius.Point, op mir.Operand) {
	switch op.Kind {
	case mir.OpCopy:
		b.usePlace(p, op.Place)
		b.pathAccessed(p, op.Place)
	case mir.OpMove:
		b.usePlace(p, op.Place)
		b.pathAccessed(p, op.Place)
		b.facts.PathMovedAtBase = append(b.facts.PathMovedAtBase, polonius.PathPoint{
			Path:  b.maps.Path(b.facts, op.Place),
			Point: p,
		})
	}
}

// define records an assignment to pl. Overwriting a whole local defines it;
// writing into part of it, or through it, is a use.
func (b *builder) define(p polonius.Point, pl mir.Place) {
	if len(pl.Projection) == 0 {
		b.varDefined(p, pl.Local)
	} else {
		b.varUsed(p, pl.Local)
		b.useIndices(p, pl)
	}
	b.facts.PathAssignedAtBase = append(b.facts.PathAssignedAtBase, polonius.PathPoint{
		Path:  b.maps.Path(b.facts, pl),
		Point: p,
	})
}

func (b *builder) pathAccessed(p polonius.Point, pl mir.Place) {
	b.facts.PathAccessedAtBase = append(b.facts.PathAccessedAtBase, polonius.PathPoint{
		Path:  b.maps.Path(b.facts, pl),
		Point: p,
	})
}
