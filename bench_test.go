package permcheck_test

import (
	"os"
	"testing"

	"github.com/BarrensZeppelin/permcheck"
	"github.com/BarrensZeppelin/permcheck/pkgutil"
	"github.com/stretchr/testify/require"
	"golang.org/x/tools/go/packages"
)

var blackHole any

// Benchmark permission refinement on a few standard library packages.
func BenchmarkStdlibAnalysis(b *testing.B) {
	if testing.Short() {
		b.Skip("loads the standard library")
	}
	pkgs, err := pkgutil.LoadPackagesWithConfig(
		&packages.Config{
			Mode: pkgutil.LoadMode,
			Env:  os.Environ(),
		}, "container/list", "container/ring", "sort", "bufio")
	require.NoError(b, err)

	prog, spkgs := pkgutil.BuildSSA(pkgs, 0)

	for _, parallelism := range [...]int{1, 4} {
		config := permcheck.DefaultConfig()
		config.Parallelism = parallelism
		b.Run(map[int]string{1: "Sequential", 4: "Parallel"}[parallelism], func(b *testing.B) {
			for i := 0; i < b.N; i++ {
				res, err := permcheck.Analyze(permcheck.AnalysisConfig{
					Program:       prog,
					EntryPackages: spkgs,
					Config:        config,
				})
				if err != nil {
					b.Fatal(err)
				}
				blackHole = res
			}
		})
	}
}
