package commands_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sumatoshi-tech/deltacov/cmd/deltacov/commands"
)

// fixture lays out a differential scenario: one file with a replaced line,
// traces for both revisions, and the matching diff.
type fixture struct {
	dir     string
	src     string
	outDir  string
	current string
	base    string
	diff    string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	dir := t.TempDir()
	f := &fixture{
		dir:     dir,
		src:     filepath.Join(dir, "src"),
		outDir:  filepath.Join(dir, "out"),
		current: filepath.Join(dir, "current.info"),
		base:    filepath.Join(dir, "baseline.info"),
		diff:    filepath.Join(dir, "changes.diff"),
	}

	require.NoError(t, os.MkdirAll(f.src, 0o750))
	require.NoError(t, os.WriteFile(filepath.Join(f.src, "calc.c"),
		[]byte("int add(int a, int b) {\n  return a + b;\n}\nint mul(int a, int b) {\n  return a * b;\n}\n"), 0o600))

	require.NoError(t, os.WriteFile(f.current, []byte(
		"TN:unit\nSF:src/calc.c\nDA:1,4\nDA:2,4\nDA:4,0\nDA:5,0\nend_of_record\n"), 0o600))

	require.NoError(t, os.WriteFile(f.base, []byte(
		"TN:unit\nSF:src/calc.c\nDA:1,2\nDA:2,2\nDA:4,1\nDA:5,1\nend_of_record\n"), 0o600))

	require.NoError(t, os.WriteFile(f.diff, []byte(
		"--- a/src/calc.c\n+++ b/src/calc.c\n@@ -2,1 +2,1 @@\n-  return a+b;\n+  return a + b;\n"), 0o600))

	return f
}

func (f *fixture) run(t *testing.T, extra ...string) error {
	t.Helper()

	cmd := commands.NewReportCommand()
	args := append([]string{
		"--trace-file", f.current,
		"--baseline-file", f.base,
		"--diff-file", f.diff,
		"--strip", "1",
		"--source-dir", f.dir,
		"--output-dir", f.outDir,
		"--quiet",
	}, extra...)
	cmd.SetArgs(args)

	return cmd.Execute()
}

func TestReportCommandHTML(t *testing.T) {
	f := newFixture(t)

	require.NoError(t, f.run(t))

	index, err := os.ReadFile(filepath.Join(f.outDir, "index.html"))
	require.NoError(t, err)
	assert.Contains(t, string(index), "src/calc.c")

	page, err := os.ReadFile(filepath.Join(f.outDir, "src", "calc.c.html"))
	require.NoError(t, err)

	// Line 2 was replaced and is covered: gained new coverage. Lines 4-5
	// lost their baseline coverage.
	assert.Contains(t, string(page), "GNC")
	assert.Contains(t, string(page), "LBC")
}

func TestReportCommandCriteriaFailure(t *testing.T) {
	f := newFixture(t)

	script := filepath.Join(f.dir, "criteria.sh")
	require.NoError(t, os.WriteFile(script, []byte("#!/bin/sh\nexit 1\n"), 0o700))

	err := f.run(t, "--criteria-script", script)
	require.ErrorIs(t, err, commands.ErrReportFailed)
}

func TestReportCommandTextFormat(t *testing.T) {
	f := newFixture(t)

	require.NoError(t, f.run(t, "--format", "text", "--no-color"))
}

func TestReportCommandMissingTrace(t *testing.T) {
	cmd := commands.NewReportCommand()
	cmd.SetArgs([]string{"--quiet"})

	require.Error(t, cmd.Execute())
}
