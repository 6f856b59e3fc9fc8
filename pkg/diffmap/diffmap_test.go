package diffmap_test

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sumatoshi-tech/deltacov/pkg/diag"
	"github.com/Sumatoshi-tech/deltacov/pkg/diffmap"
)

const sampleDiff = `--- a/src/engine.c	2024-01-01
+++ b/src/engine.c	2024-06-01
@@ -3,7 +3,8 @@
 ctx line 3
 ctx line 4
-old line 5
-old line 6
+new line 5
 ctx line 7
+added line 7
+added line 8
 ctx line 8
`

func loadSample(t *testing.T, differential bool) *diffmap.Map {
	t.Helper()

	m := diffmap.New(differential)
	rep := diag.NewReporter(&bytes.Buffer{})

	require.NoError(t, m.Load(strings.NewReader(sampleDiff), 1, rep))

	return m
}

func TestLoadPartition(t *testing.T) {
	t.Parallel()

	m := loadSample(t, true)

	fd, ok := m.File("src/engine.c")
	require.True(t, ok)
	assert.Equal(t, "src/engine.c", fd.BaselinePath)

	// Leading equal 1-4, delete 5-6, insert 5, equal 7->6, insert 7-8,
	// equal 8->9.
	want := []diffmap.Chunk{
		{Kind: diffmap.Equal, OldStart: 1, OldCount: 4, NewStart: 1, NewCount: 4},
		{Kind: diffmap.Delete, OldStart: 5, OldCount: 2, NewStart: 5, NewCount: 0},
		{Kind: diffmap.Insert, OldStart: 7, OldCount: 0, NewStart: 5, NewCount: 1},
		{Kind: diffmap.Equal, OldStart: 7, OldCount: 1, NewStart: 6, NewCount: 1},
		{Kind: diffmap.Insert, OldStart: 8, OldCount: 0, NewStart: 7, NewCount: 2},
		{Kind: diffmap.Equal, OldStart: 8, OldCount: 1, NewStart: 9, NewCount: 1},
	}
	assert.Equal(t, want, fd.Chunks)
}

func TestKindPartitionIsTotal(t *testing.T) {
	t.Parallel()

	m := loadSample(t, true)

	// Every line on each side gets exactly one kind.
	for line := uint32(1); line <= 20; line++ {
		kNew := m.Kind("src/engine.c", diffmap.SideNew, line)
		assert.Contains(t, []diffmap.ChunkKind{diffmap.Equal, diffmap.Insert}, kNew, "new line %d", line)

		kOld := m.Kind("src/engine.c", diffmap.SideOld, line)
		assert.Contains(t, []diffmap.ChunkKind{diffmap.Equal, diffmap.Delete}, kOld, "old line %d", line)
	}

	assert.Equal(t, diffmap.Insert, m.Kind("src/engine.c", diffmap.SideNew, 5))
	assert.Equal(t, diffmap.Delete, m.Kind("src/engine.c", diffmap.SideOld, 5))
	assert.Equal(t, diffmap.Delete, m.Kind("src/engine.c", diffmap.SideOld, 6))
	assert.Equal(t, diffmap.Equal, m.Kind("src/engine.c", diffmap.SideNew, 100))
}

func TestLookupBijection(t *testing.T) {
	t.Parallel()

	m := loadSample(t, true)

	// For every equal-chunk line, old(new(L)) == L.
	for line := uint32(1); line <= 40; line++ {
		if m.Kind("src/engine.c", diffmap.SideNew, line) != diffmap.Equal {
			continue
		}

		old, exact := m.Lookup("src/engine.c", diffmap.SideNew, line)
		require.True(t, exact, "line %d", line)

		back, exact := m.Lookup("src/engine.c", diffmap.SideOld, old)
		require.True(t, exact)
		assert.Equal(t, line, back, "round trip of new line %d", line)
	}

	// Tail shift: two net inserts minus two deletes plus one insert.
	old, exact := m.Lookup("src/engine.c", diffmap.SideNew, 9)
	require.True(t, exact)
	assert.Equal(t, uint32(8), old)
}

func TestLookupInsideNonEqualChunks(t *testing.T) {
	t.Parallel()

	m := loadSample(t, true)

	// Inserted line has no baseline counterpart: clamps before the
	// sibling range.
	line, exact := m.Lookup("src/engine.c", diffmap.SideNew, 5)
	assert.False(t, exact)
	assert.Equal(t, uint32(6), line)

	// Deleted baseline line clamps similarly on the current side.
	line, exact = m.Lookup("src/engine.c", diffmap.SideOld, 5)
	assert.False(t, exact)
	assert.Equal(t, uint32(4), line)
}

func TestDeletedText(t *testing.T) {
	t.Parallel()

	m := loadSample(t, true)

	assert.Equal(t, []uint32{5, 6}, m.DeletedLines("src/engine.c"))

	text, ok := m.DeletedText("src/engine.c", 5)
	require.True(t, ok)
	assert.Equal(t, "old line 5", text)

	_, ok = m.DeletedText("src/engine.c", 7)
	assert.False(t, ok)
}

func TestDefaultKind(t *testing.T) {
	t.Parallel()

	diffless := diffmap.New(true)
	assert.Equal(t, diffmap.Equal, diffless.Kind("whatever.c", diffmap.SideNew, 3))

	legacy := diffmap.New(false)
	assert.Equal(t, diffmap.Insert, legacy.Kind("whatever.c", diffmap.SideNew, 3))
}

func TestEmptyDiffDiagnostic(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer

	rep := diag.NewReporter(&buf)
	m := diffmap.New(true)

	require.NoError(t, m.Load(strings.NewReader(""), 0, rep))
	assert.Equal(t, 1, rep.Count(diag.KindEmpty))
	assert.True(t, m.Loaded())
}

func TestMalformedHunkHeader(t *testing.T) {
	t.Parallel()

	bad := "--- a/x.c\n+++ b/x.c\n@@ garbage @@\n"
	rep := diag.NewReporter(&bytes.Buffer{})
	m := diffmap.New(true)

	require.NoError(t, m.Load(strings.NewReader(bad), 1, rep))
	assert.Equal(t, 1, rep.Count(diag.KindFormat))
}

func TestIdenticalFileMarker(t *testing.T) {
	t.Parallel()

	rep := diag.NewReporter(&bytes.Buffer{})
	m := diffmap.New(true)

	require.NoError(t, m.Load(strings.NewReader("=== src/same.c\n"), 0, rep))

	base, ok := m.BaselinePath("src/same.c")
	require.True(t, ok)
	assert.Equal(t, "src/same.c", base)
	assert.Equal(t, diffmap.Equal, m.Kind("src/same.c", diffmap.SideNew, 12))
}

func TestDeletedFile(t *testing.T) {
	t.Parallel()

	deleted := `--- a/gone.c
+++ /dev/null
@@ -1,2 +0,0 @@
-first
-second
`
	rep := diag.NewReporter(&bytes.Buffer{})
	m := diffmap.New(true)

	require.NoError(t, m.Load(strings.NewReader(deleted), 1, rep))

	fd, ok := m.File("gone.c")
	require.True(t, ok)
	assert.True(t, fd.Deleted)
	assert.Equal(t, []uint32{1, 2}, m.DeletedLines("gone.c"))
}

func TestReconcilePaths(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer

	rep := diag.NewReporter(&buf)
	m := diffmap.New(true)

	require.NoError(t, m.Load(strings.NewReader(sampleDiff), 0, rep))

	// The diff says a/src/engine.c but the trace says lib/src/engine.c.
	m.ReconcilePaths([]string{"lib/src/engine.c"}, true, rep)

	assert.Equal(t, 1, rep.Count(diag.KindPath))
	assert.Contains(t, buf.String(), "lib/src/engine.c")

	_, ok := m.File("lib/src/engine.c")
	assert.True(t, ok, "entry re-keyed to the trace path")
}

func TestGenerate(t *testing.T) {
	t.Parallel()

	baseline := "a\nb\nc\nd\n"
	current := "a\nB\nc\nd\ne\n"

	m := diffmap.New(true)
	m.Generate("x.c", baseline, current)

	assert.Equal(t, diffmap.Equal, m.Kind("x.c", diffmap.SideNew, 1))
	assert.Equal(t, diffmap.Insert, m.Kind("x.c", diffmap.SideNew, 2))
	assert.Equal(t, diffmap.Delete, m.Kind("x.c", diffmap.SideOld, 2))
	assert.Equal(t, diffmap.Insert, m.Kind("x.c", diffmap.SideNew, 5))

	text, ok := m.DeletedText("x.c", 2)
	require.True(t, ok)
	assert.Equal(t, "b", text)

	// Identical contents produce an empty partition.
	m.Generate("same.c", baseline, baseline)

	fd, ok := m.File("same.c")
	require.True(t, ok)
	assert.Empty(t, fd.Chunks)
}
