package engine_test

import (
	"bytes"
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sumatoshi-tech/deltacov/pkg/diag"
	"github.com/Sumatoshi-tech/deltacov/pkg/diffmap"
	"github.com/Sumatoshi-tech/deltacov/pkg/engine"
	"github.com/Sumatoshi-tech/deltacov/pkg/policy"
	"github.com/Sumatoshi-tech/deltacov/pkg/source"
	"github.com/Sumatoshi-tech/deltacov/pkg/tla"
	"github.com/Sumatoshi-tech/deltacov/pkg/tracefile"
)

type fixedAnnotator struct {
	annotations []source.Annotation
}

func (f *fixedAnnotator) Annotate(_ context.Context, _ string) ([]source.Annotation, error) {
	return f.annotations, nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(bytes.NewBuffer(nil), nil))
}

func testPolicy(t *testing.T) *policy.Policy {
	t.Helper()

	bins, err := policy.NewAgeBins(policy.DefaultCutpoints)
	require.NoError(t, err)

	return &policy.Policy{
		Differential:     true,
		DateBins:         bins,
		BranchCoverage:   true,
		FunctionCoverage: true,
	}
}

func parseTrace(t *testing.T, text string) *tracefile.Trace {
	t.Helper()

	rep := diag.NewReporter(&bytes.Buffer{})

	trace, err := tracefile.Parse(strings.NewReader(text), nil, rep)
	require.NoError(t, err)

	return trace
}

func TestProcessFileEndToEnd(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "f.c"),
		[]byte("int a;\nint b;\nint c;\n"), 0o600))

	rep := diag.NewReporter(&bytes.Buffer{})
	dm := diffmap.New(true)

	eng := &engine.Engine{
		Policy:   testPolicy(t),
		Diff:     dm,
		Curr:     parseTrace(t, "SF:f.c\nDA:1,1\nDA:2,0\nend_of_record\n"),
		Base:     parseTrace(t, "SF:f.c\nDA:1,1\nDA:2,1\nend_of_record\n"),
		Reader:   source.NewReader(dir, dm, rep),
		Reporter: rep,
		Logger:   discardLogger(),
		Annotator: &fixedAnnotator{annotations: []source.Annotation{
			{Commit: "c1", Author: "alice", HasOwner: true, HasAge: true, AgeDays: 5},
			{Commit: "c1", Author: "bob", HasOwner: true, HasAge: true, AgeDays: 50},
			{Commit: "c1", Author: "bob", HasOwner: true, HasAge: true, AgeDays: 50},
		}},
		Now: time.Now(),
	}

	f, err := eng.ProcessFile(context.Background(), "f.c")
	require.NoError(t, err)

	assert.Equal(t, uint64(2), f.Summary.Line.Found)
	assert.Equal(t, uint64(1), f.Summary.Line.Hit)
	assert.Equal(t, uint64(1), f.Summary.Line.PerTLA[tla.CBC])
	assert.Equal(t, uint64(1), f.Summary.Line.PerTLA[tla.LBC])

	// Annotation flowed into owners and age bins.
	assert.Equal(t, uint64(1), f.Summary.Owners["alice"].Line.PerTLA[tla.CBC])
	assert.Equal(t, uint64(1), f.Summary.Owners["bob"].Line.PerTLA[tla.LBC])
	assert.Equal(t, uint64(1), f.Summary.LineAge[0].Found)
	assert.Equal(t, uint64(1), f.Summary.LineAge[2].Found)
}

func TestPathsUnion(t *testing.T) {
	t.Parallel()

	rep := diag.NewReporter(&bytes.Buffer{})
	dm := diffmap.New(true)
	require.NoError(t, dm.Load(strings.NewReader(
		"--- a/gone.c\n+++ /dev/null\n@@ -1,1 +0,0 @@\n-x\n"), 1, rep))

	eng := &engine.Engine{
		Policy:   testPolicy(t),
		Diff:     dm,
		Curr:     parseTrace(t, "SF:curr.c\nDA:1,1\nend_of_record\n"),
		Base:     parseTrace(t, "SF:base.c\nDA:1,1\nend_of_record\n"),
		Reporter: rep,
		Logger:   discardLogger(),
	}

	assert.Equal(t, []string{"base.c", "curr.c", "gone.c"}, eng.Paths())
}

func TestNewFileAsBaseline(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "old.c"), []byte("x\ny\n"), 0o600))

	rep := diag.NewReporter(&bytes.Buffer{})
	dm := diffmap.New(true)

	base := parseTrace(t, "SF:unrelated.c\nDA:1,1\nend_of_record\n")
	base.ModTime = time.Now().AddDate(0, 0, -30)

	pol := testPolicy(t)
	pol.NewFileAsBaseline = true

	eng := &engine.Engine{
		Policy:   pol,
		Diff:     dm,
		Curr:     parseTrace(t, "SF:old.c\nDA:1,1\nDA:2,0\nend_of_record\n"),
		Base:     base,
		Reader:   source.NewReader(dir, dm, rep),
		Reporter: rep,
		Logger:   discardLogger(),
		// Both lines predate the 30-day-old baseline trace.
		Annotator: &fixedAnnotator{annotations: []source.Annotation{
			{Commit: "c1", Author: "alice", HasOwner: true, HasAge: true, AgeDays: 400},
			{Commit: "c1", Author: "alice", HasOwner: true, HasAge: true, AgeDays: 365},
		}},
		Now: time.Now(),
	}

	f, err := eng.ProcessFile(context.Background(), "old.c")
	require.NoError(t, err)

	// GIC/UIC were remapped to CBC/UBC.
	assert.Equal(t, uint64(1), f.Summary.Line.PerTLA[tla.CBC])
	assert.Equal(t, uint64(1), f.Summary.Line.PerTLA[tla.UBC])
	assert.Equal(t, uint64(0), f.Summary.Line.PerTLA[tla.GIC])
	assert.Equal(t, uint64(0), f.Summary.Line.PerTLA[tla.UIC])
}
