package borrowck

import (
	"github.com/BarrensZeppelin/permcheck/acx"
	"github.com/BarrensZeppelin/permcheck/mir"
	"github.com/BarrensZeppelin/permcheck/perm"
	"github.com/BarrensZeppelin/permcheck/polonius"
)

// reservedOrigins are minted before any local is labeled. They stand for the
// universal regions that head a compiler-generated fact dump, so origin ids
// of the two can be compared directly.
const reservedOrigins = 3

// loanInfo is a borrow of place, recorded under the borrowed local.
type loanInfo struct {
	path      polonius.Path
	place     mir.Place
	loan      polonius.Loan
	exclusive bool
}

// builder accumulates the facts of one iteration.
type builder struct {
	acx   *acx.Ctxt
	body  *mir.Body
	facts *polonius.AllFacts
	maps  *polonius.AtomMaps

	localTys []*LTy
	loans    map[mir.Local][]loanInfo
}

// BuildFacts translates the body of c into a complete fact set for the
// permissions in hyp. The result is a deterministic function of the body and
// the hypothesis.
func BuildFacts(c *acx.Ctxt, hyp *perm.Hypothesis) (*polonius.AllFacts, *polonius.AtomMaps) {
	b := &builder{
		acx:   c,
		body:  c.Body,
		facts: new(polonius.AllFacts),
		maps:  polonius.NewAtomMaps(),
		loans: make(map[mir.Local][]loanInfo),
	}
	for i := 0; i < reservedOrigins; i++ {
		b.maps.Origin()
	}

	b.cfgEdges()
	b.entryState()
	b.assignOrigins(hyp)
	b.visitLoans()
	b.visitInvalidations()
	b.visitDefUse()
	return b.facts, b.maps
}

func (b *builder) point(bb mir.BlockID, idx int, sub polonius.SubPoint) polonius.Point {
	return b.maps.Point(bb, idx, sub)
}

func (b *builder) cfgEdges() {
	for i := range b.body.Blocks {
		bb := mir.BlockID(i)
		block := &b.body.Blocks[i]

		for idx := range block.Statements {
			start := b.point(bb, idx, polonius.Start)
			mid := b.point(bb, idx, polonius.Mid)
			next := b.point(bb, idx+1, polonius.Start)
			b.facts.CfgEdge = append(b.facts.CfgEdge,
				polonius.Edge{From: start, To: mid},
				polonius.Edge{From: mid, To: next})
		}

		term := len(block.Statements)
		start := b.point(bb, term, polonius.Start)
		mid := b.point(bb, term, polonius.Mid)
		b.facts.CfgEdge = append(b.facts.CfgEdge, polonius.Edge{From: start, To: mid})
		for _, succ := range block.Terminator.Successors() {
			b.facts.CfgEdge = append(b.facts.CfgEdge,
				polonius.Edge{From: mid, To: b.point(succ, 0, polonius.Start)})
		}
	}
}

// entryState marks arguments as assigned at the entry point. Every other
// local starts out uninitialised, which is expressed as a move.
func (b *builder) entryState() {
	entry := b.point(mir.StartBlock, 0, polonius.Start)
	for i := range b.body.Locals {
		l := mir.Local(i)
		path := b.maps.Path(b.facts, mir.LocalPlace(l))
		if b.body.LocalKind(l) == mir.LocalArg {
			b.facts.PathAssignedAtBase = append(b.facts.PathAssignedAtBase, polonius.PathPoint{Path: path, Point: entry})
		} else {
			b.facts.PathMovedAtBase = append(b.facts.PathMovedAtBase, polonius.PathPoint{Path: path, Point: entry})
		}
	}
}
