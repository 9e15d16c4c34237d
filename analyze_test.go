package permcheck_test

import (
	"bytes"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"testing"

	"github.com/BarrensZeppelin/permcheck"
	"github.com/BarrensZeppelin/permcheck/borrowck"
	"github.com/BarrensZeppelin/permcheck/perm"
	"github.com/BarrensZeppelin/permcheck/pkgutil"
	"github.com/BarrensZeppelin/permcheck/polonius"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"golang.org/x/tools/go/expect"
	"golang.org/x/tools/go/packages"
	"golang.org/x/tools/go/ssa"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

const source = `
	package main

	type T struct{ a, b int }

	func twice(s *T) {
		a := &s.a
		b := &s.a
		*a = 1
		*b = 2
		print(s) //@perms("READ|WRITE|LINEAR|OFFSET_ADD|OFFSET_SUB")
	}

	func independent(p, q *int) {
		*p = 1
		*q = 2
		print(p) //@perms("READ|WRITE|UNIQUE|LINEAR|OFFSET_ADD|OFFSET_SUB")
		print(q) //@perms("READ|WRITE|UNIQUE|LINEAR|OFFSET_ADD|OFFSET_SUB")
	}

	func field(s *T) *int {
		p := &s.b
		print(p) //@perms("READ|WRITE|UNIQUE|LINEAR|OFFSET_ADD|OFFSET_SUB")
		return p
	}

	func reset(s *[2]int) int {
		p := &s[0]
		*s = [2]int{}
		return *p
	}

	func (t *T) get() int { return t.a }

	func main() {
		var t T
		twice(&t)
		func() {
			x := 1
			independent(&x, &t.b)
		}()
	}
`

func load(t *testing.T, src string) (*ssa.Program, []*ssa.Package, []*packages.Package) {
	t.Helper()
	prog, spkgs, pkgs, err := pkgutil.BuildSource(src)
	require.NoError(t, err)
	return prog, spkgs, pkgs
}

func analyze(t *testing.T, prog *ssa.Program, spkgs []*ssa.Package, config permcheck.Config) (*permcheck.Result, string) {
	t.Helper()
	var buf bytes.Buffer
	res, err := permcheck.Analyze(permcheck.AnalysisConfig{
		Program:       prog,
		EntryPackages: spkgs,
		Config:        config,
		Logger:        log.New(&buf, "", 0),
	})
	require.NoError(t, err)
	return res, buf.String()
}

// printArgs maps source lines to the arguments of print calls on that line.
func printArgs(prog *ssa.Program, res *permcheck.Result) map[int][]ssa.Value {
	args := map[int][]ssa.Value{}
	for fn := range res.Functions {
		for _, block := range fn.Blocks {
			for _, insn := range block.Instrs {
				call, ok := insn.(ssa.CallInstruction)
				if !ok {
					continue
				}
				common := call.Common()
				if v, isBuiltin := common.Value.(*ssa.Builtin); isBuiltin && v.Name() == "print" && len(common.Args) == 1 {
					pos := prog.Fset.Position(insn.Pos())
					args[pos.Line] = append(args[pos.Line], common.Args[0])
				}
			}
		}
	}
	return args
}

func TestAnalyze(t *testing.T) {
	prog, spkgs, pkgs := load(t, source)
	res, logs := analyze(t, prog, spkgs, permcheck.DefaultConfig())

	t.Run("Discovery", func(t *testing.T) {
		var names []string
		for _, fn := range res.Sorted() {
			names = append(names, fn.String())
		}
		path := spkgs[0].Pkg.Path()
		assert.Equal(t, []string{
			"(*" + path + ".T).get",
			path + ".field",
			path + ".independent",
			path + ".main",
			path + ".main$1",
			path + ".reset",
			path + ".twice",
		}, names)
		assert.Equal(t, spkgs[0].Func("main").AnonFuncs[0].String(), names[4])
	})

	t.Run("Notes", func(t *testing.T) {
		require.Len(t, pkgs[0].Syntax, 1)
		notes, err := expect.ExtractGo(prog.Fset, pkgs[0].Syntax[0])
		require.NoError(t, err)
		require.Len(t, notes, 4)

		args := printArgs(prog, res)
		for _, note := range notes {
			pos := prog.Fset.Position(note.Pos)
			require.Equal(t, "perms", note.Name)
			want, err := perm.ParsePermissionSet(note.Args[0].(string))
			require.NoError(t, err)

			pa := args[pos.Line]
			require.Len(t, pa, 1, "at %v", pos)
			got, ok := res.Permissions(pa[0])
			require.True(t, ok, "at %v", pos)
			assert.Equal(t, want, got, "at %v: %v", pos, pa[0])
		}
	})

	t.Run("Outcomes", func(t *testing.T) {
		for fn, fr := range res.Functions {
			switch fn.Name() {
			case "reset":
				assert.Equal(t, borrowck.Stuck, fr.Outcome.Outcome)
				assert.Equal(t, 1, fr.Outcome.Unresolved)
			case "twice":
				assert.Equal(t, borrowck.Converged, fr.Outcome.Outcome)
				assert.Equal(t, 2, fr.Outcome.Iterations)
			default:
				assert.Equal(t, borrowck.Converged, fr.Outcome.Outcome, fn.String())
				assert.Equal(t, 1, fr.Outcome.Iterations, fn.String())
			}
		}

		reset := spkgs[0].Func("reset")
		stuck := res.Stuck()
		require.Len(t, stuck, 1)
		assert.Equal(t, reset, stuck[0])
		assert.Contains(t, logs, fmt.Sprintf("1 unresolved borrowck errors in function %q (after 2 iterations)", reset.String()))
		assert.Contains(t, logs, reset.String())
		assert.NotContains(t, logs, spkgs[0].Func("twice").String(), "converged functions are quiet")
	})

	t.Run("UntrackedValues", func(t *testing.T) {
		main := spkgs[0].Func("main")
		var alloc *ssa.Alloc
		for _, insn := range main.Blocks[0].Instrs {
			if a, ok := insn.(*ssa.Alloc); ok {
				alloc = a
				break
			}
		}
		require.NotNil(t, alloc)
		_, ok := res.Permissions(alloc)
		assert.True(t, ok)

		_, ok = res.Permissions(ssa.NewConst(nil, alloc.Type()))
		assert.False(t, ok)

		for _, insn := range spkgs[0].Func("reset").Blocks[0].Instrs {
			if v, ok := insn.(*ssa.UnOp); ok {
				_, ok := res.Permissions(v)
				assert.False(t, ok, "int load %v", v)
			}
		}
	})
}

func TestAnalyzeVerbose(t *testing.T) {
	prog, spkgs, _ := load(t, source)
	config := permcheck.DefaultConfig()
	config.Verbose = true
	config.Parallelism = 1
	_, logs := analyze(t, prog, spkgs, config)

	twice := spkgs[0].Func("twice").String()
	assert.Contains(t, logs, "polonius: "+twice+": iteration 1: 1 errors, 0 move errors")
	assert.Contains(t, logs, twice+": dropped UNIQUE from ptr0")
	assert.Contains(t, logs, "polonius: "+twice+": iteration 2: 0 errors, 0 move errors")
}

func TestAnalyzeDeterministic(t *testing.T) {
	prog, spkgs, _ := load(t, source)

	sequential := permcheck.DefaultConfig()
	sequential.Parallelism = 1
	a, _ := analyze(t, prog, spkgs, sequential)

	parallel := permcheck.DefaultConfig()
	parallel.Parallelism = 8
	b, _ := analyze(t, prog, spkgs, parallel)

	require.Equal(t, len(a.Functions), len(b.Functions))
	for fn, fa := range a.Functions {
		fb := b.Functions[fn]
		require.NotNil(t, fb, fn.String())
		assert.Equal(t, fa.Hypothesis, fb.Hypothesis, fn.String())
		assert.Equal(t, fa.Outcome, fb.Outcome, fn.String())
	}
}

func TestAnalyzeInitialPermissions(t *testing.T) {
	prog, spkgs, _ := load(t, source)

	config := permcheck.DefaultConfig()
	config.InitialPermissions = perm.Read | perm.Write
	res, _ := analyze(t, prog, spkgs, config)

	// Without UNIQUE no loan is exclusive, so only writes conflict.
	for fn, fr := range res.Functions {
		if fn.Name() == "reset" {
			assert.Equal(t, borrowck.Stuck, fr.Outcome.Outcome)
			continue
		}
		assert.Equal(t, borrowck.Converged, fr.Outcome.Outcome, fn.String())
		assert.Empty(t, fr.Outcome.Removed, fn.String())
		fr.Hypothesis.Range(func(ptr perm.PointerID, p perm.PermissionSet) bool {
			assert.Equal(t, perm.Read|perm.Write, p, "%v: %v", fn, ptr)
			return true
		})
	}
}

func TestAnalyzeDump(t *testing.T) {
	prog, spkgs, _ := load(t, source)

	for _, compress := range []bool{false, true} {
		t.Run(fmt.Sprintf("Compress=%v", compress), func(t *testing.T) {
			config := permcheck.DefaultConfig()
			config.DumpDir = t.TempDir()
			config.CompressDumps = compress
			analyze(t, prog, spkgs, config)

			suffix := ""
			if compress {
				suffix = ".s2"
			}
			twice := filepath.Join(config.DumpDir, spkgs[0].Func("twice").String())
			for _, iter := range []string{"1", "2"} {
				dir := filepath.Join(twice, iter)
				_, err := os.Stat(filepath.Join(dir, "loan_issued_at.facts"+suffix))
				assert.NoError(t, err)

				out, err := polonius.LoadOutput(dir)
				require.NoError(t, err)
				if iter == "1" {
					assert.Len(t, out.Errors, 1)
				} else {
					assert.Empty(t, out.Errors)
				}
			}
			_, err := os.Stat(twice)
			require.NoError(t, err)
			_, err = os.Stat(filepath.Join(twice, "3"))
			assert.ErrorIs(t, err, os.ErrNotExist)
		})
	}
}

func TestLoadConfig(t *testing.T) {
	write := func(t *testing.T, content string) string {
		path := filepath.Join(t.TempDir(), permcheck.ConfigFile)
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
		return path
	}

	t.Run("Defaults", func(t *testing.T) {
		config, err := permcheck.LoadConfig(write(t, ""))
		require.NoError(t, err)
		assert.Equal(t, permcheck.DefaultConfig(), config)
	})

	t.Run("Full", func(t *testing.T) {
		config, err := permcheck.LoadConfig(write(t, `
initial_permissions = "READ|WRITE|UNIQUE"
parallelism = 3
dump_dir = "/tmp/facts"
compress_dumps = true
verbose = true
`))
		require.NoError(t, err)
		assert.Equal(t, permcheck.Config{
			InitialPermissions: perm.Read | perm.Write | perm.Unique,
			Parallelism:        3,
			DumpDir:            "/tmp/facts",
			CompressDumps:      true,
			Verbose:            true,
		}, config)
	})

	for name, content := range map[string]string{
		"UnknownKey":  `colour = "red"`,
		"UnknownFlag": `initial_permissions = "READ|SHARED"`,
		"Parallelism": `parallelism = 0`,
		"Syntax":      `parallelism = `,
	} {
		t.Run(name, func(t *testing.T) {
			_, err := permcheck.LoadConfig(write(t, content))
			assert.Error(t, err)
		})
	}

	t.Run("Missing", func(t *testing.T) {
		_, err := permcheck.LoadConfig(filepath.Join(t.TempDir(), "nope.toml"))
		assert.ErrorIs(t, err, os.ErrNotExist)
	})
}
