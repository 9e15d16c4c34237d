package borrowck

import (
	"github.com/BarrensZeppelin/permcheck/lty"
	"github.com/BarrensZeppelin/permcheck/mir"
	"github.com/BarrensZeppelin/permcheck/perm"
	"github.com/BarrensZeppelin/permcheck/polonius"
)

// visitLoans issues a loan for every borrow whose destination is tracked and
// relates the origins of values that flow into one another.
func (b *builder) visitLoans() {
	for i := range b.body.Blocks {
		bb := mir.BlockID(i)
		block := &b.body.Blocks[i]

		for idx := range block.Statements {
			st := &block.Statements[idx]
			if st.Kind != mir.StmtAssign {
				continue
			}
			b.assign(b.point(bb, idx, polonius.Mid), st.Assign.Place, &st.Assign.Rvalue)
		}

		t := &block.Terminator
		if t.Kind == mir.TermCall && t.HasDest && len(t.Args) > 0 {
			if _, ok := mir.TyCallee(t.Func.Ty); ok {
				mid := b.point(bb, len(block.Statements), polonius.Mid)
				b.relateOperand(mid, b.placeTy(t.Dest), t.Args[0])
			}
		}
	}
	b.killLoans()
}

func (b *builder) assign(mid polonius.Point, pl mir.Place, rv *mir.Rvalue) {
	dst := b.placeTy(pl)
	switch rv.Kind {
	case mir.RvUse, mir.RvCast:
		b.relateOperand(mid, dst, rv.Operand)
	case mir.RvAggregate:
		for i, op := range rv.Args {
			if i < len(dst.Args) {
				b.relateOperand(mid, dst.Args[i], op)
			}
		}
	case mir.RvRef, mir.RvAddressOf:
		b.borrow(mid, dst, rv)
	}
}

func (b *builder) borrow(mid polonius.Point, dst *LTy, rv *mir.Rvalue) {
	if !dst.Label.HasOrigin() {
		return
	}

	loan := b.maps.Loan()
	b.facts.LoanIssuedAt = append(b.facts.LoanIssuedAt, polonius.LoanIssued{
		Origin: dst.Label.Origin,
		Loan:   loan,
		Point:  mid,
	})
	b.loans[rv.Place.Local] = append(b.loans[rv.Place.Local], loanInfo{
		path:      b.maps.Path(b.facts, rv.Place),
		place:     rv.Place,
		loan:      loan,
		exclusive: dst.Label.Perm.Contains(perm.Unique),
	})

	// A reborrow keeps the loans of its base alive.
	if desc, ok := mir.DescribeRvalue(rv); ok && desc.Kind == mir.DescProject {
		if base := b.placeTy(desc.Base); base.Label.HasOrigin() {
			b.subset(base.Label.Origin, dst.Label.Origin, mid)
		}
	}
	if len(dst.Args) > 0 {
		b.equate(mid, dst.Args[0], b.placeTy(rv.Place))
	}
}

func (b *builder) subset(sub, sup polonius.Origin, p polonius.Point) {
	if sub != sup {
		b.facts.SubsetBase = append(b.facts.SubsetBase, polonius.Subset{Sub: sub, Sup: sup, Point: p})
	}
}

func (b *builder) equate(p polonius.Point, x, y *LTy) {
	lty.Zip(x, y, func(a, c *LTy) {
		if a.Label.HasOrigin() && c.Label.HasOrigin() {
			b.subset(a.Label.Origin, c.Label.Origin, p)
			b.subset(c.Label.Origin, a.Label.Origin, p)
		}
	})
}

// relate records that a value of type src flows into dst at p. The outer
// pointer may only shrink its loans; everything behind it is shared.
func (b *builder) relate(p polonius.Point, dst, src *LTy) {
	if dst.Label.HasOrigin() && src.Label.HasOrigin() {
		b.subset(src.Label.Origin, dst.Label.Origin, p)
	}
	n := min(len(dst.Args), len(src.Args))
	for i := 0; i < n; i++ {
		if dst.Ty.IsPointer() {
			b.equate(p, dst.Args[i], src.Args[i])
		} else {
			b.relate(p, dst.Args[i], src.Args[i])
		}
	}
}

func (b *builder) relateOperand(p polonius.Point, dst *LTy, op mir.Operand) {
	if op.Kind != mir.OpConstant {
		b.relate(p, dst, b.placeTy(op.Place))
	}
}

// killLoans ends every loan taken through a local when that local is
// overwritten as a whole.
func (b *builder) killLoans() {
	kill := func(mid polonius.Point, pl mir.Place) {
		if len(pl.Projection) > 0 {
			return
		}
		for _, ln := range b.loans[pl.Local] {
			if ln.place.HasDeref() {
				b.facts.LoanKilledAt = append(b.facts.LoanKilledAt, polonius.LoanPoint{Loan: ln.loan, Point: mid})
			}
		}
	}

	for i := range b.body.Blocks {
		bb := mir.BlockID(i)
		block := &b.body.Blocks[i]
		for idx, st := range block.Statements {
			if st.Kind == mir.StmtAssign {
				kill(b.point(bb, idx, polonius.Mid), st.Assign.Place)
			}
		}
		if t := &block.Terminator; t.Kind == mir.TermCall && t.HasDest {
			kill(b.point(bb, len(block.Statements), polonius.Mid), t.Dest)
		}
	}
}
