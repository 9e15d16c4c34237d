// Package pkgutil loads Go packages and builds the SSA form the
// permission inference runs on.
package pkgutil

import (
	"errors"
	"os"

	"github.com/BarrensZeppelin/permcheck/internal/slices"
	"golang.org/x/tools/go/packages"
	"golang.org/x/tools/go/ssa"
	"golang.org/x/tools/go/ssa/ssautil"
)

// Should be equivalent to packages.LoadAllSyntax (which is deprecated)
const LoadMode = packages.NeedSyntax | packages.NeedTypesInfo | packages.NeedTypes |
	packages.NeedTypesSizes | packages.NeedImports | packages.NeedName |
	packages.NeedFiles | packages.NeedCompiledGoFiles | packages.NeedDeps

// SourceFile is where LoadPackagesFromSource places its source.
const SourceFile = "/fake/permcheck/main.go"

// ErrLoad is returned when a package has type or syntax errors.
var ErrLoad = errors.New("errors encountered while loading packages")

// LoadPackagesFromSource type checks a single file main package held in
// memory.
func LoadPackagesFromSource(source string) ([]*packages.Package, error) {
	config := &packages.Config{
		Mode: LoadMode,
		Env:  append(os.Environ(), "GO111MODULE=off", "GOPATH=/fake"),
		Overlay: map[string][]byte{
			SourceFile: []byte(source),
		},
	}

	return LoadPackagesWithConfig(config, SourceFile)
}

func LoadPackagesWithConfig(config *packages.Config, queries ...string) ([]*packages.Package, error) {
	pkgs, err := packages.Load(config, queries...)
	switch {
	case err != nil:
		return nil, err
	case packages.PrintErrors(pkgs) > 0:
		return pkgs, ErrLoad
	default:
		return pkgs, nil
	}
}

// BuildSSA builds every loaded package and returns the program with the
// SSA packages of pkgs. Packages without type information are dropped.
func BuildSSA(pkgs []*packages.Package, mode ssa.BuilderMode) (*ssa.Program, []*ssa.Package) {
	prog, spkgs := ssautil.AllPackages(pkgs, mode|ssa.InstantiateGenerics)
	prog.Build()
	return prog, slices.Filter(spkgs, func(p *ssa.Package) bool { return p != nil })
}

// BuildSource loads source like LoadPackagesFromSource and builds it with
// sanity checks enabled.
func BuildSource(source string) (*ssa.Program, []*ssa.Package, []*packages.Package, error) {
	pkgs, err := LoadPackagesFromSource(source)
	if err != nil {
		return nil, nil, nil, err
	}
	prog, spkgs := BuildSSA(pkgs, ssa.SanityCheckFunctions)
	return prog, spkgs, pkgs, nil
}
