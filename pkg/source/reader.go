// Package source loads source text for the current and baseline revisions
// and attaches revision-control origin to each line.
package source

import (
	"os"
	"strings"

	"github.com/Sumatoshi-tech/deltacov/pkg/diag"
	"github.com/Sumatoshi-tech/deltacov/pkg/diffmap"
)

// Text is the loaded content of one file at one revision. A synthesized
// Text stands in for an unreadable file; its lines are empty but addressable
// so coverpoints can still be categorized.
type Text struct {
	Path        string
	Lines       []string
	Synthesized bool
}

// Line returns the 1-based line, or false past the end.
func (t *Text) Line(no uint32) (string, bool) {
	if no == 0 || int(no) > len(t.Lines) {
		return "", false
	}

	return t.Lines[no-1], true
}

// Len returns the number of lines.
func (t *Text) Len() uint32 {
	return uint32(len(t.Lines))
}

// IsBlank reports whether the line is empty or whitespace.
func (t *Text) IsBlank(no uint32) bool {
	line, ok := t.Line(no)

	return ok && strings.TrimSpace(line) == ""
}

// IsCloseBrace reports whether the line holds only closing braces and
// trailing punctuation, the shape compilers attach spurious coverpoints to.
func (t *Text) IsCloseBrace(no uint32) bool {
	line, ok := t.Line(no)
	if !ok {
		return false
	}

	trimmed := strings.TrimSpace(line)
	if trimmed == "" {
		return false
	}

	for _, r := range trimmed {
		switch r {
		case '}', ')', ';', ',':
		default:
			return false
		}
	}

	return true
}

// IsCharacter reports whether the line reduces to a single character.
func (t *Text) IsCharacter(no uint32) bool {
	line, ok := t.Line(no)

	return ok && len(strings.TrimSpace(line)) == 1
}

var conditionalTokens = []string{"if", "else", "while", "for", "switch", "case", "catch"}

// ContainsConditional reports whether the line plausibly holds a branching
// construct. Used by the branch filter to drop branch data attached to
// lines with no conditional.
func (t *Text) ContainsConditional(no uint32) bool {
	line, ok := t.Line(no)
	if !ok {
		return false
	}

	if strings.ContainsRune(line, '?') {
		return true
	}

	for _, token := range conditionalTokens {
		if containsWord(line, token) {
			return true
		}
	}

	return false
}

func containsWord(s, word string) bool {
	for start := 0; ; {
		idx := strings.Index(s[start:], word)
		if idx < 0 {
			return false
		}

		idx += start

		before := idx == 0 || !isWordByte(s[idx-1])
		afterIdx := idx + len(word)
		after := afterIdx >= len(s) || !isWordByte(s[afterIdx])

		if before && after {
			return true
		}

		start = idx + len(word)
	}
}

func isWordByte(b byte) bool {
	return b == '_' || (b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z') || (b >= '0' && b <= '9')
}

// Reader loads source text relative to a root directory.
type Reader struct {
	root string
	dm   *diffmap.Map
	rep  *diag.Reporter
}

// NewReader creates a Reader. root is prepended to relative trace paths;
// the diff map supplies baseline reconstruction.
func NewReader(root string, dm *diffmap.Map, rep *diag.Reporter) *Reader {
	return &Reader{root: root, dm: dm, rep: rep}
}

// Current loads the file at its current revision. On a miss it raises a
// source diagnostic and returns a synthesized Text with minLines empty
// lines so coverpoints stay addressable; the returned error is only
// non-nil when the diagnostic is configured fatal.
func (r *Reader) Current(path string, minLines uint32) (*Text, error) {
	data, err := os.ReadFile(r.Abs(path))
	if err != nil {
		if repErr := r.rep.Report(diag.KindSource, "cannot read source %s: %v", path, err); repErr != nil {
			return nil, repErr
		}

		return &Text{Path: path, Lines: make([]string, minLines), Synthesized: true}, nil
	}

	lines := strings.Split(string(data), "\n")
	if len(lines) > 0 && lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}

	return &Text{Path: path, Lines: lines}, nil
}

// Abs resolves a trace path against the reader root.
func (r *Reader) Abs(path string) string {
	if r.root == "" || strings.HasPrefix(path, "/") {
		return path
	}

	return r.root + "/" + path
}

// BaselineView exposes the content predicates over baseline line numbers
// by delegating to the mapped current line. Line and IsBlank answer deleted
// lines from the diff's recorded text; the other predicates report false
// for any line without an exact current mapping.
type BaselineView struct {
	reader *Reader
	path   string
	curr   *Text
}

// Baseline wraps the current text of path into its baseline-revision view.
func (r *Reader) Baseline(path string, curr *Text) *BaselineView {
	return &BaselineView{reader: r, path: path, curr: curr}
}

// Line returns the baseline line text.
func (b *BaselineView) Line(oldLine uint32) (string, bool) {
	return b.reader.BaselineLine(b.path, oldLine, b.curr)
}

// IsBlank reports whether the baseline line is empty or whitespace.
func (b *BaselineView) IsBlank(oldLine uint32) bool {
	text, ok := b.Line(oldLine)

	return ok && strings.TrimSpace(text) == ""
}

// IsCloseBrace delegates the close-brace predicate to the mapped line.
func (b *BaselineView) IsCloseBrace(oldLine uint32) bool {
	if newLine, exact := b.reader.dm.Lookup(b.path, diffmap.SideOld, oldLine); exact {
		return b.curr.IsCloseBrace(newLine)
	}

	return false
}

// IsCharacter delegates the single-character predicate to the mapped line.
func (b *BaselineView) IsCharacter(oldLine uint32) bool {
	if newLine, exact := b.reader.dm.Lookup(b.path, diffmap.SideOld, oldLine); exact {
		return b.curr.IsCharacter(newLine)
	}

	return false
}

// ContainsConditional delegates the conditional predicate to the mapped
// line.
func (b *BaselineView) ContainsConditional(oldLine uint32) bool {
	if newLine, exact := b.reader.dm.Lookup(b.path, diffmap.SideOld, oldLine); exact {
		return b.curr.ContainsConditional(newLine)
	}

	return false
}

// BaselineLine returns the text a baseline line had: mapped through the
// diff for lines that survive, recovered from the diff's deleted text
// otherwise. The boolean result is false when the line's text is unknown.
func (r *Reader) BaselineLine(path string, oldLine uint32, curr *Text) (string, bool) {
	switch r.dm.Kind(path, diffmap.SideOld, oldLine) {
	case diffmap.Delete:
		return r.dm.DeletedText(path, oldLine)
	case diffmap.Equal:
		newLine, exact := r.dm.Lookup(path, diffmap.SideOld, oldLine)
		if !exact {
			return "", false
		}

		return curr.Line(newLine)
	}

	return "", false
}
