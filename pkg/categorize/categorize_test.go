package categorize_test

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sumatoshi-tech/deltacov/pkg/categorize"
	"github.com/Sumatoshi-tech/deltacov/pkg/diag"
	"github.com/Sumatoshi-tech/deltacov/pkg/diffmap"
	"github.com/Sumatoshi-tech/deltacov/pkg/policy"
	"github.com/Sumatoshi-tech/deltacov/pkg/source"
	"github.com/Sumatoshi-tech/deltacov/pkg/tla"
	"github.com/Sumatoshi-tech/deltacov/pkg/tracefile"
)

func defaultPolicy() *policy.Policy {
	bins, _ := policy.NewAgeBins(policy.DefaultCutpoints)

	return &policy.Policy{
		Differential:     true,
		DateBins:         bins,
		BranchCoverage:   true,
		FunctionCoverage: true,
	}
}

func parseTrace(t *testing.T, text string) *tracefile.File {
	t.Helper()

	rep := diag.NewReporter(&bytes.Buffer{})

	trace, err := tracefile.Parse(strings.NewReader(text), nil, rep)
	require.NoError(t, err)

	paths := trace.Paths()
	require.Len(t, paths, 1)

	return trace.File(paths[0])
}

func loadDiff(t *testing.T, text string) *diffmap.Map {
	t.Helper()

	dm := diffmap.New(true)
	rep := diag.NewReporter(&bytes.Buffer{})
	require.NoError(t, dm.Load(strings.NewReader(text), 1, rep))

	return dm
}

// Simple insertion: one new covered line.
func TestInsertedCoveredLine(t *testing.T) {
	t.Parallel()

	dm := loadDiff(t, `--- a/f.c
+++ b/f.c
@@ -4,2 +4,3 @@
 ctx4
+new line
 ctx5
`)

	curr := parseTrace(t, "SF:f.c\nDA:5,3\nend_of_record\n")

	res, err := categorize.Run(categorize.Input{
		Path: "f.c", Curr: curr, Diff: dm,
		Policy: defaultPolicy(), Reporter: diag.NewReporter(&bytes.Buffer{}),
	})
	require.NoError(t, err)

	rec := res.Records[categorize.LineKey{Line: 5}]
	require.NotNil(t, rec)
	assert.Equal(t, diffmap.Insert, rec.Kind)
	assert.Equal(t, uint32(0), rec.BaseLine)
	assert.Equal(t, uint64(3), rec.CurrCount)
	assert.False(t, rec.HasBase)
	assert.Equal(t, tla.GNC, rec.Cat)
}

// Regression: equal line covered in baseline, uncovered now.
func TestLostBaselineCoverage(t *testing.T) {
	t.Parallel()

	dm := diffmap.New(true) // no diff loaded: everything equal

	base := parseTrace(t, "SF:f.c\nDA:9,7\nend_of_record\n")
	curr := parseTrace(t, "SF:f.c\nDA:9,0\nend_of_record\n")

	res, err := categorize.Run(categorize.Input{
		Path: "f.c", Base: base, Curr: curr, Diff: dm,
		Policy: defaultPolicy(), Reporter: diag.NewReporter(&bytes.Buffer{}),
	})
	require.NoError(t, err)

	rec := res.Records[categorize.LineKey{Line: 9}]
	require.NotNil(t, rec)
	assert.Equal(t, tla.LBC, rec.Cat)
	assert.Equal(t, uint64(7), rec.BaseCount)
	assert.Equal(t, uint64(0), rec.CurrCount)
}

// Branch split: same block, one branch keeps coverage, the other gains it.
func TestBranchZip(t *testing.T) {
	t.Parallel()

	dm := diffmap.New(true)

	base := parseTrace(t, "SF:f.c\nBRDA:10,0,0,5\nBRDA:10,0,1,0\nend_of_record\n")
	curr := parseTrace(t, "SF:f.c\nBRDA:10,0,0,5\nBRDA:10,0,1,2\nend_of_record\n")

	res, err := categorize.Run(categorize.Input{
		Path: "f.c", Base: base, Curr: curr, Diff: dm,
		Policy: defaultPolicy(), Reporter: diag.NewReporter(&bytes.Buffer{}),
	})
	require.NoError(t, err)

	rec := res.Records[categorize.LineKey{Line: 10}]
	require.NotNil(t, rec)
	require.Len(t, rec.Branches, 2)

	assert.Equal(t, tla.CBC, rec.Branches[0].Cat)
	assert.Equal(t, tla.GBC, rec.Branches[1].Cat)
	assert.Equal(t, uint64(0), rec.Branches[1].BaseCount)
	assert.Equal(t, uint64(2), rec.Branches[1].CurrCount)
}

// Deletion only: the uncovered baseline line becomes a ghost record.
func TestDeletedLineGhost(t *testing.T) {
	t.Parallel()

	dm := loadDiff(t, `--- a/f.c
+++ b/f.c
@@ -42,1 +41,0 @@
-doomed line
`)

	base := parseTrace(t, "SF:f.c\nDA:42,0\nend_of_record\n")

	res, err := categorize.Run(categorize.Input{
		Path: "f.c", Base: base, Diff: dm,
		Policy: defaultPolicy(), Reporter: diag.NewReporter(&bytes.Buffer{}),
	})
	require.NoError(t, err)

	ghost := res.Records[categorize.LineKey{Ghost: true, Line: 42}]
	require.NotNil(t, ghost)
	assert.Equal(t, tla.DUB, ghost.Cat)
	assert.Equal(t, uint32(42), ghost.BaseLine)
	assert.Equal(t, uint32(0), ghost.CurrLine)
	assert.False(t, ghost.HasCurr)

	_, hasCurrent := res.Records[categorize.LineKey{Line: 42}]
	assert.False(t, hasCurrent, "deleted line must not appear under a current key")

	// Ghost keys sort after current keys.
	keys := res.Keys()
	assert.Equal(t, categorize.LineKey{Ghost: true, Line: 42}, keys[len(keys)-1])
}

func TestOnlyBaseAndOnlyCurrent(t *testing.T) {
	t.Parallel()

	dm := diffmap.New(true)

	base := parseTrace(t, "SF:f.c\nDA:1,1\nDA:2,0\nend_of_record\n")
	curr := parseTrace(t, "SF:f.c\nDA:3,1\nDA:4,0\nend_of_record\n")

	res, err := categorize.Run(categorize.Input{
		Path: "f.c", Base: base, Curr: curr, Diff: dm,
		Policy: defaultPolicy(), Reporter: diag.NewReporter(&bytes.Buffer{}),
	})
	require.NoError(t, err)

	assert.Equal(t, tla.ECB, res.Records[categorize.LineKey{Line: 1}].Cat)
	assert.Equal(t, tla.EUB, res.Records[categorize.LineKey{Line: 2}].Cat)
	assert.Equal(t, tla.GIC, res.Records[categorize.LineKey{Line: 3}].Cat)
	assert.Equal(t, tla.UIC, res.Records[categorize.LineKey{Line: 4}].Cat)
}

func TestFunctionAliases(t *testing.T) {
	t.Parallel()

	dm := diffmap.New(true)

	curr := parseTrace(t, "SF:f.c\n"+
		"FN:10,instantiate<int>\nFN:10,instantiate<long>\n"+
		"FNDA:3,instantiate<int>\nFNDA:0,instantiate<long>\n"+
		"end_of_record\n")

	res, err := categorize.Run(categorize.Input{
		Path: "f.c", Curr: curr, Diff: dm,
		Policy: defaultPolicy(), Reporter: diag.NewReporter(&bytes.Buffer{}),
	})
	require.NoError(t, err)

	rec := res.Records[categorize.LineKey{Line: 10}]
	require.NotNil(t, rec)
	require.NotNil(t, rec.Function)

	fn := rec.Function
	assert.Equal(t, "instantiate<int>", fn.Name, "lexicographic leader")
	assert.Equal(t, uint64(3), fn.Hits, "leader carries the merged count")
	assert.Equal(t, tla.GIC, fn.Cat)

	require.Len(t, fn.Aliases, 2)
	assert.Equal(t, tla.GIC, fn.Aliases[0].Cat)
	assert.Equal(t, tla.UIC, fn.Aliases[1].Cat, "uncovered alias keeps its own category")
}

func TestFunctionAliasFilterMerges(t *testing.T) {
	t.Parallel()

	dm := diffmap.New(true)

	curr := parseTrace(t, "SF:f.c\n"+
		"FN:10,a\nFN:10,b\nFNDA:1,a\nFNDA:0,b\nend_of_record\n")

	pol := defaultPolicy()
	pol.Filters = policy.FilterFunctionAlias

	res, err := categorize.Run(categorize.Input{
		Path: "f.c", Curr: curr, Diff: dm,
		Policy: pol, Reporter: diag.NewReporter(&bytes.Buffer{}),
	})
	require.NoError(t, err)

	fn := res.Records[categorize.LineKey{Line: 10}].Function
	require.NotNil(t, fn)
	assert.Empty(t, fn.Aliases)
	assert.Equal(t, uint64(1), fn.Hits)
}

func TestIdempotence(t *testing.T) {
	t.Parallel()

	dm := loadDiff(t, `--- a/f.c
+++ b/f.c
@@ -1,3 +1,3 @@
 one
-two
+TWO
 three
`)

	base := parseTrace(t, "SF:f.c\nDA:1,1\nDA:2,4\nDA:3,0\nBRDA:3,0,0,1\nend_of_record\n")
	curr := parseTrace(t, "SF:f.c\nDA:1,2\nDA:2,0\nDA:3,1\nBRDA:3,0,0,0\nend_of_record\n")

	input := categorize.Input{
		Path: "f.c", Base: base, Curr: curr, Diff: dm,
		Policy: defaultPolicy(), Reporter: diag.NewReporter(&bytes.Buffer{}),
	}

	first, err := categorize.Run(input)
	require.NoError(t, err)

	second, err := categorize.Run(input)
	require.NoError(t, err)

	assert.Equal(t, first.Records, second.Records)
}

func TestNewFileAsBaselineRewrite(t *testing.T) {
	t.Parallel()

	dm := diffmap.New(true)

	curr := parseTrace(t, "SF:f.c\nDA:1,1\nDA:2,0\nDA:3,5\nend_of_record\n")

	res, err := categorize.Run(categorize.Input{
		Path: "f.c", Curr: curr, Diff: dm,
		Policy: defaultPolicy(), Reporter: diag.NewReporter(&bytes.Buffer{}),
	})
	require.NoError(t, err)

	before := map[tla.TLA]int{}
	for _, rec := range res.Records {
		before[rec.Cat]++
	}

	res.RewriteAsBaseline()

	for _, rec := range res.Records {
		assert.NotEqual(t, tla.UIC, rec.Cat)
		assert.NotEqual(t, tla.GIC, rec.Cat)
	}

	after := map[tla.TLA]int{}
	for _, rec := range res.Records {
		after[rec.Cat]++
	}

	// Totals are preserved across the remap.
	assert.Equal(t,
		before[tla.UIC]+before[tla.UBC]+before[tla.GIC]+before[tla.CBC],
		after[tla.UBC]+after[tla.CBC])
}

func TestCoverpointPastSourceEnd(t *testing.T) {
	t.Parallel()

	dm := diffmap.New(true)
	curr := parseTrace(t, "SF:f.c\nDA:9,1\nend_of_record\n")

	rep := diag.NewReporter(&bytes.Buffer{})

	res, err := categorize.Run(categorize.Input{
		Path: "f.c", Curr: curr, Diff: dm,
		Policy:   defaultPolicy(),
		Text:     &source.Text{Path: "f.c", Lines: []string{"only line"}},
		Reporter: rep,
	})
	require.NoError(t, err)

	assert.Equal(t, 1, rep.Count(diag.KindCategory))

	// Best effort: the record still exists and is categorized.
	rec := res.Records[categorize.LineKey{Line: 9}]
	require.NotNil(t, rec)
	assert.Equal(t, tla.GIC, rec.Cat)
}

func TestTLAClosure(t *testing.T) {
	t.Parallel()

	dm := loadDiff(t, `--- a/f.c
+++ b/f.c
@@ -1,4 +1,4 @@
 one
-two
+TWO
 three
 four
`)

	base := parseTrace(t, "SF:f.c\nDA:1,1\nDA:2,1\nDA:3,0\nDA:4,2\nFN:1,f\nFNDA:1,f\nend_of_record\n")
	curr := parseTrace(t, "SF:f.c\nDA:1,0\nDA:2,3\nDA:3,1\nFN:1,f\nFNDA:0,f\nend_of_record\n")

	res, err := categorize.Run(categorize.Input{
		Path: "f.c", Base: base, Curr: curr, Diff: dm,
		Policy: defaultPolicy(), Reporter: diag.NewReporter(&bytes.Buffer{}),
	})
	require.NoError(t, err)

	for key, rec := range res.Records {
		if rec.HasCat {
			assert.True(t, rec.Cat.Valid(), "line %v", key)
		}

		for _, b := range rec.Branches {
			assert.True(t, b.Cat.Valid())
		}

		if rec.Function != nil {
			assert.True(t, rec.Function.Cat.Valid())
		}
	}
}
