package polonius

type LoanIssued struct {
	Origin Origin
	Loan   Loan
	Point  Point
}

type Edge struct {
	From, To Point
}

type LoanPoint struct {
	Loan  Loan
	Point Point
}

type PointLoan struct {
	Point Point
	Loan  Loan
}

type Subset struct {
	Sub, Sup Origin
	Point    Point
}

type VarPoint struct {
	Var   Variable
	Point Point
}

type VarOrigin struct {
	Var    Variable
	Origin Origin
}

type ChildPath struct {
	Child, Parent Path
}

type PathVar struct {
	Path Path
	Var  Variable
}

type PathPoint struct {
	Path  Path
	Point Point
}

// AllFacts is the input of a solver run. Relation names follow the
// conventional fact file names (see Relations).
type AllFacts struct {
	LoanIssuedAt          []LoanIssued
	CfgEdge               []Edge
	LoanKilledAt          []LoanPoint
	SubsetBase            []Subset
	LoanInvalidatedAt     []PointLoan
	VarUsedAt             []VarPoint
	VarDefinedAt          []VarPoint
	VarDroppedAt          []VarPoint
	UseOfVarDerefsOrigin  []VarOrigin
	DropOfVarDerefsOrigin []VarOrigin
	ChildPath             []ChildPath
	PathIsVar             []PathVar
	PathAssignedAtBase    []PathPoint
	PathMovedAtBase       []PathPoint
	PathAccessedAtBase    []PathPoint
}

// AtomKind tells how to render one column of a relation.
type AtomKind uint8

const (
	KindOrigin AtomKind = iota
	KindLoan
	KindPoint
	KindVariable
	KindPath
)

// Relation is one named fact table rendered as rows of atoms.
type Relation struct {
	Name    string
	Columns []AtomKind
	Rows    [][]uint32
}

func relation[T any](name string, cols []AtomKind, xs []T, row func(T) []uint32) Relation {
	rows := make([][]uint32, len(xs))
	for i, x := range xs {
		rows[i] = row(x)
	}
	return Relation{Name: name, Columns: cols, Rows: rows}
}

// Relations lists every relation of f in a fixed order.
func (f *AllFacts) Relations() []Relation {
	varPoint := []AtomKind{KindVariable, KindPoint}
	varPointRow := func(x VarPoint) []uint32 { return []uint32{uint32(x.Var), uint32(x.Point)} }
	varOrigin := []AtomKind{KindVariable, KindOrigin}
	varOriginRow := func(x VarOrigin) []uint32 { return []uint32{uint32(x.Var), uint32(x.Origin)} }
	pathPoint := []AtomKind{KindPath, KindPoint}
	pathPointRow := func(x PathPoint) []uint32 { return []uint32{uint32(x.Path), uint32(x.Point)} }

	return []Relation{
		relation("loan_issued_at", []AtomKind{KindOrigin, KindLoan, KindPoint}, f.LoanIssuedAt,
			func(x LoanIssued) []uint32 { return []uint32{uint32(x.Origin), uint32(x.Loan), uint32(x.Point)} }),
		relation("cfg_edge", []AtomKind{KindPoint, KindPoint}, f.CfgEdge,
			func(x Edge) []uint32 { return []uint32{uint32(x.From), uint32(x.To)} }),
		relation("loan_killed_at", []AtomKind{KindLoan, KindPoint}, f.LoanKilledAt,
			func(x LoanPoint) []uint32 { return []uint32{uint32(x.Loan), uint32(x.Point)} }),
		relation("subset_base", []AtomKind{KindOrigin, KindOrigin, KindPoint}, f.SubsetBase,
			func(x Subset) []uint32 { return []uint32{uint32(x.Sub), uint32(x.Sup), uint32(x.Point)} }),
		relation("loan_invalidated_at", []AtomKind{KindPoint, KindLoan}, f.LoanInvalidatedAt,
			func(x PointLoan) []uint32 { return []uint32{uint32(x.Point), uint32(x.Loan)} }),
		relation("var_used_at", varPoint, f.VarUsedAt, varPointRow),
		relation("var_defined_at", varPoint, f.VarDefinedAt, varPointRow),
		relation("var_dropped_at", varPoint, f.VarDroppedAt, varPointRow),
		relation("use_of_var_derefs_origin", varOrigin, f.UseOfVarDerefsOrigin, varOriginRow),
		relation("drop_of_var_derefs_origin", varOrigin, f.DropOfVarDerefsOrigin, varOriginRow),
		relation("child_path", []AtomKind{KindPath, KindPath}, f.ChildPath,
			func(x ChildPath) []uint32 { return []uint32{uint32(x.Child), uint32(x.Parent)} }),
		relation("path_is_var", []AtomKind{KindPath, KindVariable}, f.PathIsVar,
			func(x PathVar) []uint32 { return []uint32{uint32(x.Path), uint32(x.Var)} }),
		relation("path_assigned_at_base", pathPoint, f.PathAssignedAtBase, pathPointRow),
		relation("path_moved_at_base", pathPoint, f.PathMovedAtBase, pathPointRow),
		relation("path_accessed_at_base", pathPoint, f.PathAccessedAtBase, pathPointRow),
	}
}
