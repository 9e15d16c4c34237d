package polonius

import (
	"slices"

	"github.com/BarrensZeppelin/permcheck/internal/maps"
	"github.com/BarrensZeppelin/permcheck/internal/queue"
)

// Output is the violation report of a solver run.
type Output struct {
	// Errors maps the point where a live loan is invalidated to the loans
	// invalidated there.
	Errors map[Point][]Loan `msgpack:"errors"`
	// MoveErrors maps points to the maybe-uninitialised paths accessed there.
	MoveErrors map[Point][]Path `msgpack:"move_errors"`
}

// ErrorPoints returns the keys of Errors in increasing order.
func (o *Output) ErrorPoints() []Point {
	return maps.SortedKeys(o.Errors)
}

// Solver evaluates a fact set. Implementations must be pure: the same facts
// always yield the same output and no state is kept between calls.
type Solver func(*AllFacts) *Output

type originPoint struct {
	o Origin
	p Point
}

type loanPoint struct {
	l Loan
	p Point
}

type originLoanPoint struct {
	o Origin
	l Loan
	p Point
}

type pathPoint struct {
	path Path
	p    Point
}

// Compute evaluates facts with a naive, location-sensitive fixpoint:
//
//	var_live(V, P)         :- var_used_at(V, P).
//	var_live(V, P)         :- var_live(V, Q), cfg_edge(P, Q), !var_defined_at(V, P).
//	origin_live(O, P)      :- var_live(V, P), use_of_var_derefs_origin(V, O).
//	subset(O1, O2, P)      :- subset_base(O1, O2, P).
//	subset(O1, O3, P)      :- subset(O1, O2, P), subset(O2, O3, P).
//	subset(O1, O2, Q)      :- subset(O1, O2, P), cfg_edge(P, Q), origin_live(O1, Q), origin_live(O2, Q).
//	contains(O, L, P)      :- loan_issued_at(O, L, P).
//	contains(O2, L, P)     :- contains(O1, L, P), subset(O1, O2, P).
//	contains(O, L, Q)      :- contains(O, L, P), !loan_killed_at(L, P), cfg_edge(P, Q), origin_live(O, Q).
//	loan_live_at(L, P)     :- contains(O, L, P), origin_live(O, P).
//	errors(L, P)           :- loan_invalidated_at(P, L), loan_live_at(L, P).
//
// Drop liveness is handled like use liveness, through var_dropped_at and
// drop_of_var_derefs_origin. Move errors are computed from
// path_moved_at_base, path_assigned_at_base and path_accessed_at_base,
// closed over child paths.
func Compute(facts *AllFacts) *Output {
	n := numPoints(facts)
	succ := make([][]Point, n)
	pred := make([][]Point, n)
	for _, e := range facts.CfgEdge {
		succ[e.From] = append(succ[e.From], e.To)
		pred[e.To] = append(pred[e.To], e.From)
	}

	// Liveness.
	defined := make(map[VarPoint]bool, len(facts.VarDefinedAt))
	for _, d := range facts.VarDefinedAt {
		defined[d] = true
	}
	useLive := varLiveness(facts.VarUsedAt, defined, pred)
	dropLive := varLiveness(facts.VarDroppedAt, defined, pred)

	originLive := make(map[originPoint]bool)
	markOrigins := func(live map[VarPoint]bool, derefs []VarOrigin) {
		byVar := make(map[Variable][]Origin)
		for _, vo := range derefs {
			byVar[vo.Var] = append(byVar[vo.Var], vo.Origin)
		}
		for vp := range live {
			for _, o := range byVar[vp.Var] {
				originLive[originPoint{o, vp.Point}] = true
			}
		}
	}
	markOrigins(useLive, facts.UseOfVarDerefsOrigin)
	markOrigins(dropLive, facts.DropOfVarDerefsOrigin)

	// Subset relation, closed per point and flowed along live edges.
	sups := make(map[originPoint][]Origin)
	subs := make(map[originPoint][]Origin)
	seenSubset := make(map[Subset]bool)
	var subsetQueue queue.Queue[Subset]
	addSubset := func(s Subset) {
		if s.Sub == s.Sup || seenSubset[s] {
			return
		}
		seenSubset[s] = true
		sups[originPoint{s.Sub, s.Point}] = append(sups[originPoint{s.Sub, s.Point}], s.Sup)
		subs[originPoint{s.Sup, s.Point}] = append(subs[originPoint{s.Sup, s.Point}], s.Sub)
		subsetQueue.Push(s)
	}
	for _, s := range facts.SubsetBase {
		addSubset(s)
	}
	for !subsetQueue.Empty() {
		s := subsetQueue.Pop()
		for _, o3 := range sups[originPoint{s.Sup, s.Point}] {
			addSubset(Subset{s.Sub, o3, s.Point})
		}
		for _, o0 := range subs[originPoint{s.Sub, s.Point}] {
			addSubset(Subset{o0, s.Sup, s.Point})
		}
		for _, q := range succ[s.Point] {
			if originLive[originPoint{s.Sub, q}] && originLive[originPoint{s.Sup, q}] {
				addSubset(Subset{s.Sub, s.Sup, q})
			}
		}
	}

	// Loan containment.
	killed := make(map[loanPoint]bool, len(facts.LoanKilledAt))
	for _, k := range facts.LoanKilledAt {
		killed[loanPoint{k.Loan, k.Point}] = true
	}

	contains := make(map[originLoanPoint]bool)
	var containsQueue queue.Queue[originLoanPoint]
	addContains := func(x originLoanPoint) {
		if !contains[x] {
			contains[x] = true
			containsQueue.Push(x)
		}
	}
	for _, li := range facts.LoanIssuedAt {
		addContains(originLoanPoint{li.Origin, li.Loan, li.Point})
	}
	for !containsQueue.Empty() {
		x := containsQueue.Pop()
		for _, sup := range sups[originPoint{x.o, x.p}] {
			addContains(originLoanPoint{sup, x.l, x.p})
		}
		if killed[loanPoint{x.l, x.p}] {
			continue
		}
		for _, q := range succ[x.p] {
			if originLive[originPoint{x.o, q}] {
				addContains(originLoanPoint{x.o, x.l, q})
			}
		}
	}

	loanLive := make(map[loanPoint]bool)
	for x := range contains {
		if originLive[originPoint{x.o, x.p}] {
			loanLive[loanPoint{x.l, x.p}] = true
		}
	}

	out := &Output{
		Errors:     make(map[Point][]Loan),
		MoveErrors: make(map[Point][]Path),
	}
	for _, inv := range facts.LoanInvalidatedAt {
		if loanLive[loanPoint{inv.Loan, inv.Point}] &&
			!slices.Contains(out.Errors[inv.Point], inv.Loan) {
			out.Errors[inv.Point] = append(out.Errors[inv.Point], inv.Loan)
		}
	}
	for _, loans := range out.Errors {
		slices.Sort(loans)
	}

	computeMoveErrors(facts, succ, out)
	return out
}

func numPoints(facts *AllFacts) int {
	var hi Point
	see := func(p Point) {
		if p+1 > hi {
			hi = p + 1
		}
	}
	for _, e := range facts.CfgEdge {
		see(e.From)
		see(e.To)
	}
	for _, x := range facts.LoanIssuedAt {
		see(x.Point)
	}
	for _, x := range facts.LoanInvalidatedAt {
		see(x.Point)
	}
	for _, x := range facts.LoanKilledAt {
		see(x.Point)
	}
	for _, x := range facts.SubsetBase {
		see(x.Point)
	}
	for _, xs := range [][]VarPoint{facts.VarUsedAt, facts.VarDefinedAt, facts.VarDroppedAt} {
		for _, x := range xs {
			see(x.Point)
		}
	}
	for _, xs := range [][]PathPoint{facts.PathAssignedAtBase, facts.PathMovedAtBase, facts.PathAccessedAtBase} {
		for _, x := range xs {
			see(x.Point)
		}
	}
	return int(hi)
}

func varLiveness(uses []VarPoint, defined map[VarPoint]bool, pred [][]Point) map[VarPoint]bool {
	live := make(map[VarPoint]bool)
	var q queue.Queue[VarPoint]
	for _, u := range uses {
		if !live[u] {
			live[u] = true
			q.Push(u)
		}
	}
	for !q.Empty() {
		vp := q.Pop()
		for _, p := range pred[vp.Point] {
			prev := VarPoint{vp.Var, p}
			if defined[prev] || live[prev] {
				continue
			}
			live[prev] = true
			q.Push(prev)
		}
	}
	return live
}

func computeMoveErrors(facts *AllFacts, succ [][]Point, out *Output) {
	children := make(map[Path][]Path)
	for _, cp := range facts.ChildPath {
		children[cp.Parent] = append(children[cp.Parent], cp.Child)
	}

	// Facts about a path hold for all of its descendants.
	closeDown := func(base []PathPoint) map[pathPoint]bool {
		res := make(map[pathPoint]bool)
		var q queue.Queue[pathPoint]
		for _, pp := range base {
			x := pathPoint{pp.Path, pp.Point}
			if !res[x] {
				res[x] = true
				q.Push(x)
			}
		}
		for !q.Empty() {
			x := q.Pop()
			for _, c := range children[x.path] {
				y := pathPoint{c, x.p}
				if !res[y] {
					res[y] = true
					q.Push(y)
				}
			}
		}
		return res
	}
	moved := closeDown(facts.PathMovedAtBase)
	assigned := closeDown(facts.PathAssignedAtBase)
	accessed := closeDown(facts.PathAccessedAtBase)

	// path_maybe_uninitialized_on_exit
	uninit := make(map[pathPoint]bool)
	var q queue.Queue[pathPoint]
	for x := range moved {
		uninit[x] = true
		q.Push(x)
	}
	for !q.Empty() {
		x := q.Pop()
		for _, next := range succ[x.p] {
			y := pathPoint{x.path, next}
			if assigned[y] || uninit[y] {
				continue
			}
			uninit[y] = true
			q.Push(y)
		}
	}

	for x := range uninit {
		for _, next := range succ[x.p] {
			y := pathPoint{x.path, next}
			if accessed[y] && !slices.Contains(out.MoveErrors[next], x.path) {
				out.MoveErrors[next] = append(out.MoveErrors[next], x.path)
			}
		}
	}
	for _, paths := range out.MoveErrors {
		slices.Sort(paths)
	}
}
