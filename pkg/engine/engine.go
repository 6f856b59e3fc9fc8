// Package engine runs the per-file report pipeline: load source, annotate,
// categorize against the diff, and build the indexed file model. The
// scheduler calls into it for every leaf task.
package engine

import (
	"context"
	"log/slog"
	"os/exec"
	"sort"
	"time"

	"github.com/Sumatoshi-tech/deltacov/pkg/categorize"
	"github.com/Sumatoshi-tech/deltacov/pkg/diag"
	"github.com/Sumatoshi-tech/deltacov/pkg/diffmap"
	"github.com/Sumatoshi-tech/deltacov/pkg/policy"
	"github.com/Sumatoshi-tech/deltacov/pkg/source"
	"github.com/Sumatoshi-tech/deltacov/pkg/srcfile"
	"github.com/Sumatoshi-tech/deltacov/pkg/tracefile"
)

// Engine holds the shared, read-only state of one report invocation.
type Engine struct {
	Policy   *policy.Policy
	Diff     *diffmap.Map
	Curr     *tracefile.Trace
	Base     *tracefile.Trace
	Reader   *source.Reader
	Filters  *tracefile.Filters
	Reporter *diag.Reporter
	Logger   *slog.Logger

	// Annotator is nil when no annotation source is configured.
	Annotator source.Annotator

	// VersionScript, when set, is run per file as an informational check.
	VersionScript []string

	// Now anchors age computation and the new-file-as-baseline decision.
	Now time.Time
}

// Paths returns the union of current-trace paths, baseline-trace paths, and
// the paths of files the diff marks deleted, sorted. Other diff entries are
// not added. Files present only in the baseline still produce ghost and
// excluded records.
func (e *Engine) Paths() []string {
	seen := make(map[string]struct{})

	add := func(paths []string) {
		for _, p := range paths {
			seen[p] = struct{}{}
		}
	}

	if e.Curr != nil {
		add(e.Curr.Paths())
	}

	if e.Base != nil {
		add(e.Base.Paths())
	}

	for _, p := range e.Diff.Files() {
		if fd, ok := e.Diff.File(p); ok && fd.Deleted {
			seen[p] = struct{}{}
		}
	}

	out := make([]string, 0, len(seen))
	for p := range seen {
		out = append(out, p)
	}

	sort.Strings(out)

	return out
}

// ProcessFile runs the pipeline for one source file.
func (e *Engine) ProcessFile(ctx context.Context, path string) (*srcfile.File, error) {
	logger := e.Logger.With("file", path)

	var curr, base *tracefile.File

	if e.Curr != nil {
		curr = e.Curr.File(path)
	}

	if e.Policy.Differential && e.Base != nil {
		basePath := path
		if mapped, ok := e.Diff.BaselinePath(path); ok {
			basePath = mapped
		}

		base = e.Base.File(basePath)
	}

	var maxLine uint32
	if curr != nil {
		maxLine = curr.MaxLine()
	}

	var (
		text *source.Text
		err  error
	)

	if fd, ok := e.Diff.File(path); ok && fd.Deleted {
		// A deleted file has no current text; only ghosts remain.
		text = &source.Text{Path: path}
	} else {
		text, err = e.Reader.Current(path, maxLine)
		if err != nil {
			return nil, err
		}
	}

	annotations, err := e.annotate(ctx, path, text)
	if err != nil {
		return nil, err
	}

	e.checkVersion(ctx, path)

	res, err := categorize.Run(categorize.Input{
		Path:     path,
		Base:     base,
		Curr:     curr,
		Diff:     e.Diff,
		Policy:   e.Policy,
		Filters:  e.Filters,
		Text:     text,
		Reporter: e.Reporter,
	})
	if err != nil {
		return nil, err
	}

	if e.shouldRewriteAsBaseline(base, curr, annotations) {
		logger.Debug("treating newly measured file as baseline")
		res.RewriteAsBaseline()
	}

	return srcfile.New(res, text, annotations, e.Policy.DateBins), nil
}

// annotate obtains per-line origin. A count mismatch between annotation and
// source text is an unmapped diagnostic; the shorter of the two wins.
func (e *Engine) annotate(ctx context.Context, path string, text *source.Text) ([]source.Annotation, error) {
	if e.Annotator == nil || text.Synthesized || text.Len() == 0 {
		return nil, nil
	}

	annotations, err := e.Annotator.Annotate(ctx, e.Reader.Abs(path))
	if err != nil {
		return nil, err
	}

	if annotations == nil {
		return nil, nil
	}

	if uint32(len(annotations)) != text.Len() {
		if repErr := e.Reporter.Report(diag.KindUnmapped,
			"%s: annotator returned %d lines for %d source lines",
			path, len(annotations), text.Len()); repErr != nil {
			return nil, repErr
		}
	}

	return annotations, nil
}

// checkVersion runs the informational per-file version script.
func (e *Engine) checkVersion(ctx context.Context, path string) {
	if len(e.VersionScript) == 0 {
		return
	}

	args := append(append([]string{}, e.VersionScript[1:]...), e.Reader.Abs(path))

	cmd := exec.CommandContext(ctx, e.VersionScript[0], args...)
	if err := cmd.Run(); err != nil {
		//nolint:errcheck // the version check is informational only.
		e.Reporter.Report(diag.KindVersion, "version check failed for %s: %v", path, err)
	}
}

// shouldRewriteAsBaseline decides the new-file-as-baseline remap: the file
// is measured only in the current trace, yet its newest annotated line
// predates the baseline trace itself, so the code existed when the baseline
// was taken and merely was not measured.
func (e *Engine) shouldRewriteAsBaseline(base, curr *tracefile.File, annotations []source.Annotation) bool {
	if !e.Policy.NewFileAsBaseline || !e.Policy.Differential {
		return false
	}

	if base != nil || curr == nil || e.Base == nil || e.Base.ModTime.IsZero() {
		return false
	}

	newest := -1

	for _, ann := range annotations {
		if !ann.HasAge {
			continue
		}

		if newest < 0 || ann.AgeDays < newest {
			newest = ann.AgeDays
		}
	}

	if newest < 0 {
		return false
	}

	baselineAge := int(e.Now.Sub(e.Base.ModTime).Hours() / 24)

	return newest > baselineAge
}
