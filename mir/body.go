// Package mir is the control-flow graph representation consumed by the
// permission analysis: typed locals, basic blocks of assignments, and one
// terminator per block with explicit successors.
package mir

import (
	"fmt"
	"strings"
)

type Local uint32

func (l Local) String() string { return fmt.Sprintf("_%d", uint32(l)) }

type BlockID uint32

func (b BlockID) String() string { return fmt.Sprintf("bb%d", uint32(b)) }

// StartBlock is the unique entry block of every body.
const StartBlock BlockID = 0

type LocalKind uint8

const (
	LocalReturn LocalKind = iota
	LocalArg
	LocalVar
	LocalTemp
)

type LocalDecl struct {
	Name string
	Ty   *Ty
	Kind LocalKind
}

// Location addresses a statement, or the terminator when Index equals the
// number of statements in the block.
type Location struct {
	Block BlockID
	Index int
}

func (l Location) String() string { return fmt.Sprintf("%v[%d]", l.Block, l.Index) }

type Body struct {
	Name   string
	Locals []LocalDecl
	Blocks []BasicBlock
}

type BasicBlock struct {
	Statements []Statement
	Terminator Terminator
}

// StatementKind enumerates statement kinds.
type StatementKind uint8

const (
	StmtAssign StatementKind = iota
	StmtStorageLive
	StmtStorageDead
	StmtNop
)

type Statement struct {
	Kind StatementKind

	Assign Assign
	// Local is the subject of StorageLive and StorageDead.
	Local Local
}

type Assign struct {
	Place  Place
	Rvalue Rvalue
}

// AssignStmt builds an assignment statement.
func AssignStmt(pl Place, rv Rvalue) Statement {
	return Statement{Kind: StmtAssign, Assign: Assign{Place: pl, Rvalue: rv}}
}

// TerminatorKind enumerates terminator kinds.
type TerminatorKind uint8

const (
	TermGoto TerminatorKind = iota
	TermIf
	TermReturn
	TermCall
	TermDrop
	TermUnreachable
)

type Terminator struct {
	Kind TerminatorKind

	// Target is the successor of Goto, Call and Drop.
	Target BlockID
	// Cond, Then and Else describe If.
	Cond Operand
	Then BlockID
	Else BlockID
	// Func, Args and Dest describe Call. Dest is only meaningful if HasDest.
	Func    Operand
	Args    []Operand
	HasDest bool
	Dest    Place
	// Place is the value dropped by Drop.
	Place Place
}

// Successors returns the control-flow successors of the terminator in a
// fixed order.
func (t *Terminator) Successors() []BlockID {
	switch t.Kind {
	case TermGoto, TermCall, TermDrop:
		return []BlockID{t.Target}
	case TermIf:
		return []BlockID{t.Then, t.Else}
	default:
		return nil
	}
}

func (b *Body) ArgCount() int {
	n := 0
	for _, d := range b.Locals {
		if d.Kind == LocalArg {
			n++
		}
	}
	return n
}

func (b *Body) LocalKind(l Local) LocalKind { return b.Locals[l].Kind }

// Block returns the basic block with the given id.
func (b *Body) Block(id BlockID) *BasicBlock { return &b.Blocks[id] }

// StmtAt returns the statement at loc, or the terminator when loc indexes
// one past the last statement. Exactly one of the results is non-nil.
func (b *Body) StmtAt(loc Location) (*Statement, *Terminator) {
	bb := b.Block(loc.Block)
	if loc.Index == len(bb.Statements) {
		return nil, &bb.Terminator
	}
	return &bb.Statements[loc.Index], nil
}

// Validate checks that every block, local and field reference in the body is
// in range.
func (b *Body) Validate() error {
	if len(b.Blocks) == 0 {
		return fmt.Errorf("%s: body has no blocks", b.Name)
	}

	checkLocal := func(where Location, l Local) error {
		if int(l) >= len(b.Locals) {
			return fmt.Errorf("%s: %v: local %v out of range", b.Name, where, l)
		}
		return nil
	}
	checkPlace := func(where Location, pl Place) error {
		if err := checkLocal(where, pl.Local); err != nil {
			return err
		}
		for _, e := range pl.Projection {
			if e.Kind == ElemIndex {
				if err := checkLocal(where, e.Index); err != nil {
					return err
				}
			}
		}
		return nil
	}
	checkOperand := func(where Location, op Operand) error {
		if op.Kind == OpConstant {
			return nil
		}
		return checkPlace(where, op.Place)
	}

	for i := range b.Blocks {
		bb := &b.Blocks[i]
		for j, st := range bb.Statements {
			where := Location{BlockID(i), j}
			switch st.Kind {
			case StmtAssign:
				if err := checkPlace(where, st.Assign.Place); err != nil {
					return err
				}
				rv := st.Assign.Rvalue
				if rv.Kind == RvRef || rv.Kind == RvAddressOf {
					if err := checkPlace(where, rv.Place); err != nil {
						return err
					}
				}
				for _, op := range rv.Operands() {
					if err := checkOperand(where, op); err != nil {
						return err
					}
				}
			case StmtStorageLive, StmtStorageDead:
				if err := checkLocal(where, st.Local); err != nil {
					return err
				}
			}
		}

		where := Location{BlockID(i), len(bb.Statements)}
		for _, succ := range bb.Terminator.Successors() {
			if int(succ) >= len(b.Blocks) {
				return fmt.Errorf("%s: %v: successor %v out of range", b.Name, where, succ)
			}
		}
		for _, op := range bb.Terminator.Operands() {
			if err := checkOperand(where, op); err != nil {
				return err
			}
		}
		if bb.Terminator.Kind == TermCall && bb.Terminator.HasDest {
			if err := checkPlace(where, bb.Terminator.Dest); err != nil {
				return err
			}
		}
	}
	return nil
}

// Operands lists the operands read by the terminator.
func (t *Terminator) Operands() []Operand {
	switch t.Kind {
	case TermIf:
		return []Operand{t.Cond}
	case TermCall:
		return append([]Operand{t.Func}, t.Args...)
	}
	return nil
}

func (b *Body) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "fn %s {\n", b.Name)
	for i, d := range b.Locals {
		kind := [...]string{"ret", "arg", "var", "tmp"}[d.Kind]
		fmt.Fprintf(&sb, "    let %v: %v; // %s %s\n", Local(i), d.Ty, kind, d.Name)
	}
	for i := range b.Blocks {
		bb := &b.Blocks[i]
		fmt.Fprintf(&sb, "  %v: {\n", BlockID(i))
		for j := range bb.Statements {
			fmt.Fprintf(&sb, "    %d: %v;\n", j, &bb.Statements[j])
		}
		fmt.Fprintf(&sb, "    %d: %v;\n", len(bb.Statements), &bb.Terminator)
		sb.WriteString("  }\n")
	}
	sb.WriteString("}\n")
	return sb.String()
}

func (s *Statement) String() string {
	switch s.Kind {
	case StmtAssign:
		return fmt.Sprintf("%v = %v", s.Assign.Place, &s.Assign.Rvalue)
	case StmtStorageLive:
		return fmt.Sprintf("StorageLive(%v)", s.Local)
	case StmtStorageDead:
		return fmt.Sprintf("StorageDead(%v)", s.Local)
	default:
		return "nop"
	}
}

func (t *Terminator) String() string {
	switch t.Kind {
	case TermGoto:
		return fmt.Sprintf("goto -> %v", t.Target)
	case TermIf:
		return fmt.Sprintf("if %v -> [%v, %v]", t.Cond, t.Then, t.Else)
	case TermReturn:
		return "return"
	case TermCall:
		args := make([]string, len(t.Args))
		for i, a := range t.Args {
			args[i] = a.String()
		}
		call := fmt.Sprintf("%v(%s) -> %v", t.Func, strings.Join(args, ", "), t.Target)
		if t.HasDest {
			return fmt.Sprintf("%v = %s", t.Dest, call)
		}
		return call
	case TermDrop:
		return fmt.Sprintf("drop(%v) -> %v", t.Place, t.Target)
	default:
		return "unreachable"
	}
}
