package diag_test

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sumatoshi-tech/deltacov/pkg/diag"
)

func TestKindNames(t *testing.T) {
	t.Parallel()

	k, ok := diag.ParseKind("inconsistent")
	require.True(t, ok)
	assert.Equal(t, diag.KindInconsistent, k)
	assert.Equal(t, "inconsistent", k.String())

	_, ok = diag.ParseKind("nope")
	assert.False(t, ok)
}

func TestWarnDoesNotAbort(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer

	r := diag.NewReporter(&buf)

	err := r.Report(diag.KindMismatch, "checksum differs on %s:%d", "a.c", 12)
	require.NoError(t, err)

	assert.Contains(t, buf.String(), "(mismatch) checksum differs on a.c:12")
	assert.Equal(t, 1, r.Count(diag.KindMismatch))
	assert.False(t, r.Errored())
}

func TestFatalReturnsError(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer

	r := diag.NewReporter(&buf, diag.WithSeverity(diag.KindParallel, diag.Fatal))

	err := r.Report(diag.KindParallel, "worker died")
	require.ErrorIs(t, err, diag.ErrFatal)
	assert.True(t, r.Errored())
}

func TestIgnoreStillCounts(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer

	r := diag.NewReporter(&buf, diag.WithSeverity(diag.KindEmpty, diag.Ignore))

	require.NoError(t, r.Report(diag.KindEmpty, "diff has no changes"))
	assert.Empty(t, buf.String())
	assert.Equal(t, 1, r.Count(diag.KindEmpty))
}

func TestSuppression(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer

	r := diag.NewReporter(&buf, diag.WithMaxCount(2))

	for i := 0; i < 5; i++ {
		require.NoError(t, r.Report(diag.KindUnmapped, "line without source"))
	}

	out := buf.String()
	assert.Equal(t, 2, strings.Count(out, "line without source"))
	assert.Contains(t, out, "suppressing further messages")
	assert.Equal(t, 5, r.Count(diag.KindUnmapped))
}
