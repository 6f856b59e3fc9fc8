// Package diag implements the classified diagnostic channel used by every
// pipeline stage. Each diagnostic carries a kind from a closed set; kinds are
// individually configurable as fatal, warning, or ignored, and a per-kind
// message cap suppresses floods without losing the counts.
package diag

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/fatih/color"
)

// Kind classifies a diagnostic.
type Kind uint8

// The closed set of diagnostic kinds.
const (
	// KindSource is raised when a source file is unreadable.
	KindSource Kind = iota
	// KindUnmapped is raised when a coverage count references a line with
	// no annotation or no source.
	KindUnmapped
	// KindCategory is raised when a coverpoint falls outside the closed
	// category set or lands on a non-code line.
	KindCategory
	// KindPath is raised when a diff entry matches a trace path only by
	// basename.
	KindPath
	// KindInconsistent is raised when baseline and current traces disagree
	// structurally.
	KindInconsistent
	// KindMismatch is raised on checksum disagreement between trace and
	// current source.
	KindMismatch
	// KindBranch is raised when branch count structure is malformed.
	KindBranch
	// KindVersion is raised when the version script disagrees with the
	// trace.
	KindVersion
	// KindEmpty is raised when the diff contains no differences.
	KindEmpty
	// KindUnused is raised for include/exclude/substitute patterns that
	// matched nothing.
	KindUnused
	// KindParallel is raised when a worker fails or returns a garbled
	// result.
	KindParallel
	// KindPackage is raised when a required optional tool is missing.
	KindPackage
	// KindNegative is raised on a negative coverage count.
	KindNegative
	// KindCount is raised on a count arithmetic anomaly.
	KindCount
	// KindFormat is raised on a malformed input record.
	KindFormat
	// KindCorrupt is raised on unreadable intermediate data.
	KindCorrupt
	// KindUnsupported is raised on an unsupported input construct.
	KindUnsupported

	numKinds = 17
)

var kindNames = [numKinds]string{
	"source", "unmapped", "category", "path", "inconsistent", "mismatch",
	"branch", "version", "empty", "unused", "parallel", "package",
	"negative", "count", "format", "corrupt", "unsupported",
}

// String returns the configuration name of the kind.
func (k Kind) String() string {
	if int(k) >= numKinds {
		return fmt.Sprintf("kind(%d)", uint8(k))
	}

	return kindNames[k]
}

// Kinds lists every diagnostic kind.
func Kinds() []Kind {
	out := make([]Kind, numKinds)
	for i := range out {
		out[i] = Kind(i)
	}

	return out
}

// ParseKind resolves a configuration name to a Kind.
func ParseKind(name string) (Kind, bool) {
	for i, n := range kindNames {
		if n == name {
			return Kind(i), true
		}
	}

	return 0, false
}

// Severity is the configured handling of a diagnostic kind.
type Severity uint8

// Severities, weakest first.
const (
	// Ignore drops the message but still counts it.
	Ignore Severity = iota
	// Warn prints the message and continues.
	Warn
	// Fatal prints the message and aborts the enclosing operation.
	Fatal
)

// ErrFatal is wrapped by every error returned for a fatal diagnostic.
var ErrFatal = errors.New("fatal diagnostic")

// DefaultMaxCount is the per-kind message cap when none is configured.
const DefaultMaxCount = 100

// Reporter collects diagnostics from all pipeline stages. It is safe for
// concurrent use by scheduler workers.
type Reporter struct {
	mu sync.Mutex

	out        io.Writer
	logger     *slog.Logger
	severities [numKinds]Severity
	counts     [numKinds]int
	maxCount   int
	errored    bool

	warnColor *color.Color
	errColor  *color.Color
}

// Option configures a Reporter.
type Option func(*Reporter)

// WithSeverity overrides the handling of one kind.
func WithSeverity(kind Kind, sev Severity) Option {
	return func(r *Reporter) {
		r.severities[kind] = sev
	}
}

// WithMaxCount caps per-kind messages; zero means unlimited.
func WithMaxCount(n int) Option {
	return func(r *Reporter) {
		r.maxCount = n
	}
}

// WithLogger attaches a structured logger that receives every non-ignored
// diagnostic in addition to the stderr stream.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Reporter) {
		r.logger = logger
	}
}

// NewReporter creates a Reporter writing human-readable diagnostics to out.
// Every kind defaults to Warn, including empty and unused; the options
// decide any other severity.
func NewReporter(out io.Writer, opts ...Option) *Reporter {
	r := &Reporter{
		out:       out,
		maxCount:  DefaultMaxCount,
		warnColor: color.New(color.FgYellow),
		errColor:  color.New(color.FgRed),
	}

	for i := range r.severities {
		r.severities[i] = Warn
	}

	for _, opt := range opts {
		opt(r)
	}

	return r
}

// Report records one diagnostic. The returned error is non-nil iff the kind
// is configured Fatal; per-coverpoint callers that must not abort should
// configure the kind down rather than swallow the error.
func (r *Reporter) Report(kind Kind, format string, args ...any) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.counts[kind]++

	sev := r.severities[kind]
	if sev == Ignore {
		return nil
	}

	msg := fmt.Sprintf(format, args...)

	if r.maxCount > 0 && r.counts[kind] > r.maxCount {
		if r.counts[kind] == r.maxCount+1 {
			fmt.Fprintf(r.out, "%s: (%s) suppressing further messages of this kind\n",
				r.warnColor.Sprint("warning"), kind)
		}
	} else {
		label := r.warnColor.Sprint("warning")
		if sev == Fatal {
			label = r.errColor.Sprint("error")
		}

		fmt.Fprintf(r.out, "%s: (%s) %s\n", label, kind, msg)
	}

	if r.logger != nil {
		r.logger.Warn("diagnostic", "kind", kind.String(), "message", msg)
	}

	if sev == Fatal {
		r.errored = true

		return fmt.Errorf("%w: (%s) %s", ErrFatal, kind, msg)
	}

	return nil
}

// Count returns how many diagnostics of the kind were reported, including
// suppressed and ignored ones.
func (r *Reporter) Count(kind Kind) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.counts[kind]
}

// Errored reports whether any fatal diagnostic was raised.
func (r *Reporter) Errored() bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.errored
}

// MarkErrored forces a non-zero exit status without printing; used when a
// failure was already reported through another channel.
func (r *Reporter) MarkErrored() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.errored = true
}
