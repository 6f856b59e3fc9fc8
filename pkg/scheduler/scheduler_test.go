package scheduler_test

import (
	"bytes"
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sumatoshi-tech/deltacov/pkg/diag"
	"github.com/Sumatoshi-tech/deltacov/pkg/diffmap"
	"github.com/Sumatoshi-tech/deltacov/pkg/engine"
	"github.com/Sumatoshi-tech/deltacov/pkg/policy"
	"github.com/Sumatoshi-tech/deltacov/pkg/scheduler"
	"github.com/Sumatoshi-tech/deltacov/pkg/source"
	"github.com/Sumatoshi-tech/deltacov/pkg/summary"
	"github.com/Sumatoshi-tech/deltacov/pkg/tla"
	"github.com/Sumatoshi-tech/deltacov/pkg/tracefile"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(bytes.NewBuffer(nil), nil))
}

func TestBuildForestTwoLevel(t *testing.T) {
	t.Parallel()

	top := scheduler.BuildForest([]string{"src/a.c", "src/b.c", "lib/c.c", "root.c"}, false)

	require.Len(t, top.Children, 3, "one directory node per distinct dirname")
	assert.Len(t, top.Leaves(), 4)

	names := make([]string, 0, 3)
	for _, dir := range top.Children {
		names = append(names, dir.Name)
	}

	assert.ElementsMatch(t, []string{".", "src", "lib"}, names)
}

func TestBuildForestHierarchical(t *testing.T) {
	t.Parallel()

	top := scheduler.BuildForest([]string{"a/b/c/deep.c", "a/shallow.c"}, true)

	// a hangs off top; b nests under a, c under b.
	require.Len(t, top.Children, 1)

	a := top.Children[0]
	assert.Equal(t, "a", a.Name)

	var sub []string
	for _, c := range a.Children {
		if c.Kind == summary.KindDirectory {
			sub = append(sub, c.Name)
		}
	}

	assert.Equal(t, []string{"a/b"}, sub)
	assert.Len(t, top.Leaves(), 2)
}

func buildEngine(t *testing.T, rep *diag.Reporter, srcDir string, traceText string) *engine.Engine {
	t.Helper()

	bins, err := policy.NewAgeBins(policy.DefaultCutpoints)
	require.NoError(t, err)

	pol := &policy.Policy{Differential: false, DateBins: bins, BranchCoverage: true, FunctionCoverage: true}

	trace, err := tracefile.Parse(strings.NewReader(traceText), nil, rep)
	require.NoError(t, err)

	dm := diffmap.New(false)

	return &engine.Engine{
		Policy:   pol,
		Diff:     dm,
		Curr:     trace,
		Reader:   source.NewReader(srcDir, dm, rep),
		Reporter: rep,
		Logger:   discardLogger(),
	}
}

// Rollup scenario: file A 10 found / 7 hit, file B 5 found / 5 hit.
func TestRunRollsUp(t *testing.T) {
	t.Parallel()

	srcDir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(srcDir, "src"), 0o750))

	var traceText strings.Builder

	traceText.WriteString("SF:src/a.c\n")
	for i := 1; i <= 10; i++ {
		count := 1
		if i > 7 {
			count = 0
		}
		traceText.WriteString("DA:" + itoa(i) + "," + itoa(count) + "\n")
	}
	traceText.WriteString("end_of_record\n")

	traceText.WriteString("SF:src/b.c\n")
	for i := 1; i <= 5; i++ {
		traceText.WriteString("DA:" + itoa(i) + ",2\n")
	}
	traceText.WriteString("end_of_record\n")

	writeLines := func(name string, n int) {
		var sb strings.Builder
		for i := 0; i < n; i++ {
			sb.WriteString("line\n")
		}
		require.NoError(t, os.WriteFile(filepath.Join(srcDir, "src", name), []byte(sb.String()), 0o600))
	}
	writeLines("a.c", 10)
	writeLines("b.c", 5)

	for _, workers := range []int{1, 4} {
		rep := diag.NewReporter(&bytes.Buffer{})
		eng := buildEngine(t, rep, srcDir, traceText.String())

		sched := scheduler.New(eng, scheduler.Config{
			Workers: workers,
			TempDir: t.TempDir(),
		}, discardLogger(), nil)

		res, err := sched.Run(context.Background())
		require.NoError(t, err)
		require.NotNil(t, res.Top)

		assert.Equal(t, uint64(15), res.Top.Line.Found, "workers=%d", workers)
		assert.Equal(t, uint64(12), res.Top.Line.Hit, "workers=%d", workers)

		dir := res.Directories["src"]
		require.NotNil(t, dir)
		assert.Equal(t, uint64(15), dir.Line.Found)
		assert.Equal(t, uint64(12), dir.Line.Hit)

		// Per-category sums equal the file-wise sums.
		var perCat uint64
		for _, file := range res.Files {
			perCat += file.Summary.Line.PerTLA[tla.GNC]
		}
		assert.Equal(t, perCat, dir.Line.PerTLA[tla.GNC])

		require.Len(t, res.Files, 2)
		assert.False(t, rep.Errored())
	}
}

func TestRunDrainsAfterFailure(t *testing.T) {
	t.Parallel()

	srcDir := t.TempDir()

	// b.c has source, a.c does not; with the source diagnostic configured
	// fatal, a.c's worker fails but b.c still completes.
	require.NoError(t, os.WriteFile(filepath.Join(srcDir, "b.c"), []byte("x\n"), 0o600))

	traceText := "SF:a.c\nDA:1,1\nend_of_record\nSF:b.c\nDA:1,1\nend_of_record\n"

	var buf bytes.Buffer

	rep := diag.NewReporter(&buf, diag.WithSeverity(diag.KindSource, diag.Fatal))
	eng := buildEngine(t, rep, srcDir, traceText)

	sched := scheduler.New(eng, scheduler.Config{Workers: 2, TempDir: t.TempDir()}, discardLogger(), nil)

	res, err := sched.Run(context.Background())
	require.NoError(t, err, "a failing worker does not abort the run")

	assert.True(t, rep.Errored())
	assert.Equal(t, 1, rep.Count(diag.KindParallel))
	require.NotNil(t, res.Top)

	// The failed subtree is missing; the surviving file is in.
	assert.Equal(t, uint64(1), res.Top.Line.Found)
	assert.Contains(t, buf.String(), "a.c")
}

func TestPreserveKeepsSpills(t *testing.T) {
	t.Parallel()

	srcDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(srcDir, "a.c"), []byte("x\n"), 0o600))

	tmp := t.TempDir()
	rep := diag.NewReporter(&bytes.Buffer{})
	eng := buildEngine(t, rep, srcDir, "SF:a.c\nDA:1,1\nend_of_record\n")

	sched := scheduler.New(eng, scheduler.Config{Workers: 1, TempDir: tmp, Preserve: true}, discardLogger(), nil)

	_, err := sched.Run(context.Background())
	require.NoError(t, err)

	entries, err := os.ReadDir(tmp)
	require.NoError(t, err)
	assert.NotEmpty(t, entries, "preserve keeps the dumper files")
}

func TestMemoryCapStillCompletes(t *testing.T) {
	t.Parallel()

	srcDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(srcDir, "a.c"), []byte("x\n"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(srcDir, "b.c"), []byte("x\n"), 0o600))

	rep := diag.NewReporter(&bytes.Buffer{})
	eng := buildEngine(t, rep, srcDir,
		"SF:a.c\nDA:1,1\nend_of_record\nSF:b.c\nDA:1,0\nend_of_record\n")

	// A cap below one worker estimate: tasks serialize but all finish.
	sched := scheduler.New(eng, scheduler.Config{Workers: 4, MemoryMB: 16, TempDir: t.TempDir()}, discardLogger(), nil)

	res, err := sched.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(2), res.Top.Line.Found)
}

func itoa(v int) string {
	return strconv.Itoa(v)
}
