package borrowck

import (
	"bytes"
	"log"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/BarrensZeppelin/permcheck/acx"
	"github.com/BarrensZeppelin/permcheck/dataflow"
	"github.com/BarrensZeppelin/permcheck/mir"
	"github.com/BarrensZeppelin/permcheck/perm"
	"github.com/BarrensZeppelin/permcheck/polonius"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var intTy = mir.Scalar("int")

func ptrTy() *mir.Ty { return mir.RawPtrTo(mir.Mut, intTy) }

func singleBlock(locals []mir.LocalDecl, stmts ...mir.Statement) *mir.Body {
	return &mir.Body{
		Name:   "f",
		Locals: append([]mir.LocalDecl{{Ty: mir.Tuple(), Kind: mir.LocalReturn}}, locals...),
		Blocks: []mir.BasicBlock{{
			Statements: stmts,
			Terminator: mir.Terminator{Kind: mir.TermReturn},
		}},
	}
}

// reborrowBody is
//
//	fn f(p: *mut int) {
//	    q = &mut *p;
//	    r = &mut *p;
//	    x = *q;
//	}
func reborrowBody() *mir.Body {
	p := mir.LocalPlace(1)
	return singleBlock([]mir.LocalDecl{
		{Name: "p", Ty: ptrTy(), Kind: mir.LocalArg},
		{Name: "q", Ty: ptrTy(), Kind: mir.LocalVar},
		{Name: "r", Ty: ptrTy(), Kind: mir.LocalVar},
		{Name: "x", Ty: intTy, Kind: mir.LocalVar},
	},
		mir.AssignStmt(mir.LocalPlace(2), mir.Ref(mir.BorrowMut, p.Project(mir.Deref))),
		mir.AssignStmt(mir.LocalPlace(3), mir.Ref(mir.BorrowMut, p.Project(mir.Deref))),
		mir.AssignStmt(mir.LocalPlace(4), mir.Use(mir.Copy(mir.LocalPlace(2).Project(mir.Deref)))),
	)
}

func setup(b *mir.Body) (*acx.Ctxt, *dataflow.Constraints, perm.Hypothesis) {
	c := acx.New(b)
	return c, dataflow.Generate(c), c.NewHypothesis(perm.All)
}

// Points of a single block body are numbered start(i) = 2i, mid(i) = 2i+1.
func start(i int) polonius.Point { return polonius.Point(2 * i) }
func mid(i int) polonius.Point   { return polonius.Point(2*i + 1) }

func TestReborrowedParameter(t *testing.T) {
	c, cs, h := setup(reborrowBody())

	facts, _ := BuildFacts(c, &h)
	require.Len(t, facts.LoanIssuedAt, 2)
	assert.Equal(t, mid(0), facts.LoanIssuedAt[0].Point)
	assert.Contains(t, facts.LoanInvalidatedAt, polonius.PointLoan{Point: start(1), Loan: 0})

	var events []Event
	res, err := Run(c, cs, &h, "f", Options{Events: func(ev Event) { events = append(events, ev) }})
	require.NoError(t, err)

	assert.Equal(t, Converged, res.Outcome)
	assert.Equal(t, 2, res.Iterations)
	assert.Equal(t, []perm.PointerID{0}, res.Removed, "p is the culprit")

	require.Len(t, events, 2)
	assert.Equal(t, 1, events[0].Errors)
	assert.Equal(t, 0, events[0].MoveErrors)
	assert.Equal(t, []perm.PointerID{0}, events[0].Removed)
	assert.Equal(t, Running, events[0].Outcome)
	assert.Equal(t, 0, events[1].Errors)
	assert.Equal(t, Converged, events[1].Outcome)

	for _, id := range []perm.PointerID{0, 1, 2} {
		assert.Equal(t, perm.All.Difference(perm.Unique), h.Get(id), id)
	}
	for _, id := range c.AddrOfLocal {
		assert.Equal(t, perm.All, h.Get(id))
	}
}

func TestIndependentPointers(t *testing.T) {
	p := mir.LocalPlace(1)
	c, cs, h := setup(singleBlock([]mir.LocalDecl{
		{Name: "p", Ty: ptrTy(), Kind: mir.LocalArg},
		{Name: "s", Ty: ptrTy(), Kind: mir.LocalArg},
		{Name: "q", Ty: ptrTy(), Kind: mir.LocalVar},
		{Name: "r", Ty: ptrTy(), Kind: mir.LocalVar},
		{Name: "x", Ty: intTy, Kind: mir.LocalVar},
	},
		mir.AssignStmt(mir.LocalPlace(3), mir.Ref(mir.BorrowMut, p.Project(mir.Deref))),
		mir.AssignStmt(mir.LocalPlace(4), mir.Ref(mir.BorrowMut, p.Project(mir.Deref))),
		mir.AssignStmt(mir.LocalPlace(5), mir.Use(mir.Copy(mir.LocalPlace(3).Project(mir.Deref)))),
	))

	s, ok := c.PtrOf(mir.LocalPlace(2))
	require.True(t, ok)

	res, err := Run(c, cs, &h, "f", Options{Events: func(Event) {
		assert.Equal(t, perm.All, h.Get(s))
	}})
	require.NoError(t, err)
	assert.Equal(t, Converged, res.Outcome)
	assert.Equal(t, perm.All, h.Get(s))
	assert.NotContains(t, res.Removed, s)
}

func TestResolveCulprit(t *testing.T) {
	node := mir.Struct("Node", []string{"val", "next"}, []*mir.Ty{intTy, ptrTy()})
	c, cs, h := setup(singleBlock([]mir.LocalDecl{
		{Name: "p", Ty: mir.RawPtrTo(mir.Mut, node), Kind: mir.LocalArg},
		{Name: "u", Ty: ptrTy(), Kind: mir.LocalArg},
		{Name: "x", Ty: ptrTy(), Kind: mir.LocalVar},
		{Name: "n", Ty: intTy, Kind: mir.LocalVar},
		{Name: "y", Ty: ptrTy(), Kind: mir.LocalVar},
	},
		mir.AssignStmt(mir.LocalPlace(3), mir.Ref(mir.BorrowMut, mir.LocalPlace(1).Project(mir.Deref, mir.Field(0)))),
		mir.AssignStmt(mir.LocalPlace(5), mir.AddressOf(mir.Mut, mir.LocalPlace(4))),
	))
	p, ok := c.PtrOf(mir.LocalPlace(1))
	require.True(t, ok)

	facts, maps := BuildFacts(c, &h)
	require.Len(t, facts.LoanIssuedAt, 2)

	ptr, err := ResolveCulprit(c, facts, maps, "f", 0)
	require.NoError(t, err)
	assert.Equal(t, p, ptr, "&(*p).val is blamed on p")

	ptr, err = ResolveCulprit(c, facts, maps, "f", 1)
	require.NoError(t, err)
	assert.Equal(t, c.AddrOfLocal[4], ptr, "&n is blamed on the address of n")

	// A synthetic violation on the field borrow.
	calls := 0
	solver := func(facts *polonius.AllFacts) *polonius.Output {
		out := polonius.Compute(facts)
		if calls++; calls == 1 {
			out.Errors[start(1)] = []polonius.Loan{0}
		}
		return out
	}
	res, err := Run(c, cs, &h, "f", Options{Solver: solver})
	require.NoError(t, err)
	assert.Equal(t, Converged, res.Outcome)
	assert.Equal(t, []perm.PointerID{p}, res.Removed)
	assert.False(t, h.Get(p).Contains(perm.Unique))
}

func TestInternalErrors(t *testing.T) {
	body := singleBlock([]mir.LocalDecl{
		{Name: "p", Ty: ptrTy(), Kind: mir.LocalArg},
		{Name: "x", Ty: ptrTy(), Kind: mir.LocalVar},
		{Name: "n", Ty: intTy, Kind: mir.LocalVar},
		{Name: "m", Ty: intTy, Kind: mir.LocalVar},
	},
		mir.AssignStmt(mir.LocalPlace(2), mir.Ref(mir.BorrowMut, mir.LocalPlace(1).Project(mir.Deref))),
		mir.AssignStmt(mir.LocalPlace(3), mir.Use(mir.Constant("1", intTy))),
		mir.AssignStmt(mir.LocalPlace(4), mir.Use(mir.Copy(mir.LocalPlace(3)))),
		mir.Statement{Kind: mir.StmtStorageDead, Local: 3},
	)

	// forge reports a loan issued at the given point.
	forge := func(at polonius.Point) polonius.Solver {
		return func(facts *polonius.AllFacts) *polonius.Output {
			facts.LoanIssuedAt = append(facts.LoanIssuedAt, polonius.LoanIssued{Loan: 50, Point: at})
			return &polonius.Output{Errors: map[polonius.Point][]polonius.Loan{0: {50}}}
		}
	}

	for _, tc := range []struct {
		name   string
		solver polonius.Solver
		err    error
	}{
		{"never issued", func(*polonius.AllFacts) *polonius.Output {
			return &polonius.Output{Errors: map[polonius.Point][]polonius.Loan{0: {99}}}
		}, ErrLoanNotIssued},
		{"terminator", forge(mid(4)), ErrIssuedByTerminator},
		{"constant", forge(mid(1)), ErrUnknownRvalue},
		{"no pointer", forge(mid(2)), ErrMissingPointer},
		{"storage", forge(mid(3)), ErrNotAnAssignment},
	} {
		t.Run(tc.name, func(t *testing.T) {
			c, cs, h := setup(body)
			_, err := Run(c, cs, &h, "f", Options{Solver: tc.solver})
			require.ErrorIs(t, err, tc.err)

			var ie *InternalError
			require.ErrorAs(t, err, &ie)
			assert.Equal(t, "f", ie.Func)
			assert.Equal(t, perm.All, h.Get(0), "no partial edits")
		})
	}
}

func TestIterationLimit(t *testing.T) {
	const n = MaxIterations
	var locals []mir.LocalDecl
	for i := 0; i < n; i++ {
		locals = append(locals, mir.LocalDecl{Ty: ptrTy(), Kind: mir.LocalArg})
	}
	var stmts []mir.Statement
	for i := 0; i < n; i++ {
		locals = append(locals, mir.LocalDecl{Ty: ptrTy(), Kind: mir.LocalVar})
		stmts = append(stmts, mir.AssignStmt(
			mir.LocalPlace(mir.Local(n+1+i)),
			mir.Ref(mir.BorrowMut, mir.LocalPlace(mir.Local(1+i)).Project(mir.Deref)),
		))
	}
	c, cs, h := setup(singleBlock(locals, stmts...))

	// Every iteration blames a different loan, so every iteration makes
	// progress.
	iter := 0
	solver := func(*polonius.AllFacts) *polonius.Output {
		loan := polonius.Loan(iter)
		iter++
		return &polonius.Output{Errors: map[polonius.Point][]polonius.Loan{0: {loan}}}
	}

	res, err := Run(c, cs, &h, "f", Options{Solver: solver})
	require.ErrorIs(t, err, ErrIterationLimit)
	assert.Equal(t, Exceeded, res.Outcome)
	assert.Equal(t, MaxIterations, res.Iterations)
	assert.Len(t, res.Removed, MaxIterations-1)
}

func TestStuck(t *testing.T) {
	c, cs, h := setup(reborrowBody())
	solver := func(*polonius.AllFacts) *polonius.Output {
		return &polonius.Output{Errors: map[polonius.Point][]polonius.Loan{start(1): {0}}}
	}

	var buf bytes.Buffer
	res, err := Run(c, cs, &h, "f", Options{
		Solver: solver,
		Events: LogSink(log.New(&buf, "", 0)),
	})
	require.NoError(t, err)
	assert.Equal(t, Stuck, res.Outcome)
	assert.Equal(t, 2, res.Iterations)
	assert.Equal(t, 1, res.Unresolved)
	assert.Contains(t, buf.String(), `1 unresolved borrowck errors in function "f" (after 2 iterations)`)
	assert.Contains(t, buf.String(), "f: dropped UNIQUE from ptr0")
}

func TestMonotonicity(t *testing.T) {
	body := reborrowBody()
	// Reborrow q again after r is created, so the loop needs to weaken a
	// chain of pointers.
	body.Blocks[0].Statements = append(body.Blocks[0].Statements,
		mir.AssignStmt(mir.LocalPlace(3), mir.Ref(mir.BorrowMut, mir.LocalPlace(2).Project(mir.Deref))),
		mir.AssignStmt(mir.LocalPlace(4), mir.Use(mir.Copy(mir.LocalPlace(2).Project(mir.Deref)))),
		mir.AssignStmt(mir.LocalPlace(4), mir.Use(mir.Copy(mir.LocalPlace(3).Project(mir.Deref)))),
	)
	c, cs, h := setup(body)

	var snapshots []perm.Hypothesis
	solver := func(facts *polonius.AllFacts) *polonius.Output {
		snapshots = append(snapshots, h.Clone())
		return polonius.Compute(facts)
	}
	res, err := Run(c, cs, &h, "f", Options{Solver: solver})
	require.NoError(t, err)
	assert.Equal(t, Converged, res.Outcome)

	snapshots = append(snapshots, h.Clone())
	for i := 1; i < len(snapshots); i++ {
		assert.True(t, perm.Subsumes(&snapshots[i-1], &snapshots[i]), "iteration %d grew the hypothesis", i)
	}
}

func TestIdempotentConvergence(t *testing.T) {
	c, cs, h := setup(reborrowBody())
	_, err := Run(c, cs, &h, "f", Options{})
	require.NoError(t, err)
	before := h.Clone()

	res, err := Run(c, cs, &h, "f", Options{})
	require.NoError(t, err)
	assert.Equal(t, Result{Outcome: Converged, Iterations: 1}, res)
	assert.Equal(t, before, h)
}

func TestBuildFactsDeterministic(t *testing.T) {
	c, _, h := setup(reborrowBody())
	a, _ := BuildFacts(c, &h)
	b, _ := BuildFacts(c, &h)
	assert.Empty(t, cmp.Diff(a, b))

	h.Ptr(1).Remove(perm.Unique)
	d, _ := BuildFacts(c, &h)
	assert.NotEmpty(t, cmp.Diff(a, d), "the hypothesis changes the facts")
}

func TestBuildFacts(t *testing.T) {
	boolTy := mir.Scalar("bool")
	body := &mir.Body{
		Name: "g",
		Locals: []mir.LocalDecl{
			{Ty: mir.Tuple(), Kind: mir.LocalReturn},
			{Name: "a", Ty: intTy, Kind: mir.LocalArg},
			{Name: "b", Ty: boolTy, Kind: mir.LocalVar},
		},
		Blocks: []mir.BasicBlock{
			{
				Statements: []mir.Statement{mir.AssignStmt(mir.LocalPlace(2), mir.Use(mir.Constant("true", boolTy)))},
				Terminator: mir.Terminator{Kind: mir.TermIf, Cond: mir.Copy(mir.LocalPlace(2)), Then: 1, Else: 2},
			},
			{Terminator: mir.Terminator{Kind: mir.TermGoto, Target: 2}},
			{Terminator: mir.Terminator{Kind: mir.TermReturn}},
		},
	}
	c, _, h := setup(body)
	facts, maps := BuildFacts(c, &h)

	assert.Equal(t, []polonius.Edge{
		{From: 0, To: 1}, {From: 1, To: 2}, {From: 2, To: 3}, {From: 3, To: 4}, {From: 3, To: 5},
		{From: 4, To: 6}, {From: 6, To: 5},
		{From: 5, To: 7},
	}, facts.CfgEdge)
	assert.Equal(t, polonius.PointKey{Block: 1, Index: 0, Sub: polonius.Start}, maps.PointKey(4))

	assert.Equal(t, []polonius.PathVar{{Path: 0, Var: 0}, {Path: 1, Var: 1}, {Path: 2, Var: 2}}, facts.PathIsVar)
	assert.Equal(t, []polonius.PathPoint{{Path: 0, Point: 0}, {Path: 2, Point: 0}}, facts.PathMovedAtBase)
	assert.Equal(t, []polonius.PathPoint{{Path: 1, Point: 0}, {Path: 2, Point: 1}}, facts.PathAssignedAtBase)
	assert.Equal(t, []polonius.PathPoint{{Path: 2, Point: 3}}, facts.PathAccessedAtBase)
	assert.Equal(t, []polonius.VarPoint{{Var: 2, Point: 1}}, facts.VarDefinedAt)
	assert.Equal(t, []polonius.VarPoint{{Var: 2, Point: 3}, {Var: 0, Point: 7}}, facts.VarUsedAt)
	assert.Empty(t, facts.LoanIssuedAt)
	assert.Equal(t, reservedOrigins, maps.NumOrigins())
}

func TestAssignOrigins(t *testing.T) {
	c, _, h := setup(reborrowBody())
	h.Set(1, perm.None)

	facts, maps := BuildFacts(c, &h)
	// p and r are tracked, q is not.
	assert.Equal(t, []polonius.VarOrigin{{Var: 1, Origin: 3}, {Var: 3, Origin: 4}}, facts.UseOfVarDerefsOrigin)
	assert.Equal(t, facts.UseOfVarDerefsOrigin, facts.DropOfVarDerefsOrigin)
	assert.Equal(t, 5, maps.NumOrigins())
	require.Len(t, facts.LoanIssuedAt, 1, "borrows into untracked pointers issue no loan")
	assert.Equal(t, mid(1), facts.LoanIssuedAt[0].Point)

	nested := acx.New(singleBlock([]mir.LocalDecl{
		{Ty: mir.RawPtrTo(mir.Mut, ptrTy()), Kind: mir.LocalArg},
	}))
	hyp := nested.NewHypothesis(perm.Read)
	lt := AssignOrigins(&hyp, polonius.NewAtomMaps(), nested.LocalTys[1])
	assert.Equal(t, Label{Origin: 0, Perm: perm.Read}, lt.Label)
	assert.Equal(t, Label{Origin: 1, Perm: perm.Read}, lt.Args[0].Label)
	assert.Equal(t, Label{Origin: NoOrigin, Perm: perm.None}, lt.Args[0].Args[0].Label)
}

func TestDump(t *testing.T) {
	c, cs, h := setup(reborrowBody())
	dir := t.TempDir()
	res, err := Run(c, cs, &h, "pkg.(*T).f", Options{DumpDir: dir})
	require.NoError(t, err)
	require.Equal(t, 2, res.Iterations)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, dumpName("pkg.(*T).f"), entries[0].Name())

	fn := filepath.Join(dir, entries[0].Name())
	for _, iter := range []string{"1", "2"} {
		_, err := os.Stat(filepath.Join(fn, iter, "cfg_edge.facts"))
		assert.NoError(t, err)
	}

	out, err := polonius.LoadOutput(filepath.Join(fn, "1"))
	require.NoError(t, err)
	assert.Equal(t, map[polonius.Point][]polonius.Loan{start(1): {0}}, out.Errors)
}

func TestDumpName(t *testing.T) {
	assert.Equal(t, "pkg.f", dumpName("pkg.f"))
	assert.Equal(t, "example.com_x-y.f", dumpName("example.com_x-y.f"))

	escaped := dumpName("pkg.(*T).f")
	assert.True(t, strings.HasPrefix(escaped, "pkg.__T_.f-"), escaped)

	assert.NotEqual(t, dumpName("a(b"), dumpName("a)b"))
	assert.NotEqual(t, dumpName("a(b"), dumpName("a_b"))
	assert.Equal(t, dumpName("a(b"), dumpName("a(b"))
}
