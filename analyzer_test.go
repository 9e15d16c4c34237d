package permcheck_test

import (
	"testing"

	"github.com/BarrensZeppelin/permcheck"
	"golang.org/x/tools/go/analysis/analysistest"
)

func TestAnalyzer(t *testing.T) {
	testdata := analysistest.TestData()
	analysistest.Run(t, testdata, permcheck.Analyzer, "a")
}
