// Package diffmap aligns baseline and current line numbers through a unified
// diff. For every file it holds an ordered partition of both revisions' line
// ranges into equal, insert, and delete chunks; lines past the last chunk
// fall into an implicit unbounded equal tail.
package diffmap

import (
	"path/filepath"
	"sort"

	"github.com/Sumatoshi-tech/deltacov/pkg/diag"
)

// Side names one of the two revisions a line number belongs to.
type Side uint8

// Revision sides.
const (
	// SideOld is the baseline revision.
	SideOld Side = iota
	// SideNew is the current revision.
	SideNew
)

// String returns "old" or "new".
func (s Side) String() string {
	if s == SideOld {
		return "old"
	}

	return "new"
}

// Opposite returns the other side.
func (s Side) Opposite() Side {
	if s == SideOld {
		return SideNew
	}

	return SideOld
}

// ChunkKind classifies a chunk of the partition.
type ChunkKind uint8

// Chunk kinds.
const (
	// Equal lines exist on both sides.
	Equal ChunkKind = iota
	// Insert lines exist only in the current revision.
	Insert
	// Delete lines exist only in the baseline.
	Delete
)

// String returns the lowercase chunk kind name.
func (k ChunkKind) String() string {
	switch k {
	case Equal:
		return "equal"
	case Insert:
		return "insert"
	case Delete:
		return "delete"
	}

	return "unknown"
}

// Chunk is one element of a file's partition. A zero count on one side is
// the defining property of Insert (OldCount == 0) and Delete (NewCount == 0)
// chunks; Equal chunks have identical counts on both sides.
type Chunk struct {
	Kind     ChunkKind
	OldStart uint32
	OldCount uint32
	NewStart uint32
	NewCount uint32
}

func (c Chunk) span(side Side) (start, count uint32) {
	if side == SideOld {
		return c.OldStart, c.OldCount
	}

	return c.NewStart, c.NewCount
}

// FileDiff is the partition for one file plus its identity on both sides.
type FileDiff struct {
	// CurrentPath is the file's path in the current revision; for a
	// deleted file it retains the baseline path so the ghost records have
	// a stable key.
	CurrentPath string

	// BaselinePath is the file's path in the baseline revision; empty for
	// an added file.
	BaselinePath string

	// Deleted marks a file that no longer exists in the current revision.
	Deleted bool

	// Chunks is the ordered partition. Both side cursors advance
	// monotonically through it.
	Chunks []Chunk

	// deletedText holds the text of '-' lines keyed by baseline line
	// number, used to reconstruct baseline content for ghost display.
	deletedText map[uint32]string
}

// Map is the loaded diff for one report invocation.
type Map struct {
	files        map[string]*FileDiff
	differential bool
	loaded       bool
}

// New creates an empty Map. differential selects the default kind for files
// the diff does not mention: Equal when a baseline trace is configured,
// Insert otherwise.
func New(differential bool) *Map {
	return &Map{
		files:        make(map[string]*FileDiff),
		differential: differential,
	}
}

// Loaded reports whether a diff stream has been ingested.
func (m *Map) Loaded() bool {
	return m.loaded
}

// DefaultKind is the chunk kind assumed for lines of files absent from the
// diff.
func (m *Map) DefaultKind() ChunkKind {
	if m.differential {
		return Equal
	}

	return Insert
}

// Files returns the current-revision paths of every file in the diff,
// sorted.
func (m *Map) Files() []string {
	out := make([]string, 0, len(m.files))
	for path := range m.files {
		out = append(out, path)
	}

	sort.Strings(out)

	return out
}

// File returns the partition for the given current path.
func (m *Map) File(path string) (*FileDiff, bool) {
	fd, ok := m.files[path]

	return fd, ok
}

// BaselinePath returns the baseline path of the given current file. The
// second result is false when the file was added (no baseline identity).
func (m *Map) BaselinePath(curr string) (string, bool) {
	fd, ok := m.files[curr]
	if !ok {
		if m.differential {
			// Unchanged file: same path on both sides.
			return curr, true
		}

		return "", false
	}

	if fd.BaselinePath == "" {
		return "", false
	}

	return fd.BaselinePath, true
}

// Kind returns the chunk kind containing the given line on the given side.
func (m *Map) Kind(path string, side Side, line uint32) ChunkKind {
	fd, ok := m.files[path]
	if !ok {
		return m.DefaultKind()
	}

	if chunk, ok := fd.chunkAt(side, line); ok {
		return chunk.Kind
	}

	// Implicit equal tail.
	return Equal
}

// Lookup maps a line number to the opposite revision. The boolean result is
// true only for an exact mapping inside an equal region; otherwise the
// returned line is the end of the sibling range (0 when the sibling range is
// empty and starts at the top of the file).
func (m *Map) Lookup(path string, side Side, line uint32) (uint32, bool) {
	fd, ok := m.files[path]
	if !ok {
		return line, m.differential
	}

	chunk, ok := fd.chunkAt(side, line)
	if !ok {
		// Equal tail: shift by the net insertion/deletion delta.
		oldNext, newNext := fd.tail()
		if side == SideOld {
			return line - oldNext + newNext, true
		}

		return line - newNext + oldNext, true
	}

	start, _ := chunk.span(side)
	oppStart, oppCount := chunk.span(side.Opposite())
	off := line - start

	if off < oppCount {
		return oppStart + off, chunk.Kind == Equal
	}

	if oppCount == 0 {
		if oppStart == 0 {
			return 0, false
		}

		return oppStart - 1, false
	}

	return oppStart + oppCount - 1, false
}

// DeletedLines returns the baseline line numbers of every delete chunk in
// ascending order.
func (m *Map) DeletedLines(path string) []uint32 {
	fd, ok := m.files[path]
	if !ok {
		return nil
	}

	var out []uint32

	for _, chunk := range fd.Chunks {
		if chunk.Kind != Delete {
			continue
		}

		for i := uint32(0); i < chunk.OldCount; i++ {
			out = append(out, chunk.OldStart+i)
		}
	}

	return out
}

// DeletedText returns the recorded text of a deleted baseline line.
func (m *Map) DeletedText(path string, oldLine uint32) (string, bool) {
	fd, ok := m.files[path]
	if !ok || fd.deletedText == nil {
		return "", false
	}

	text, ok := fd.deletedText[oldLine]

	return text, ok
}

// chunkAt locates the chunk containing line on the given side. Chunks whose
// count on that side is zero occupy no lines there and never match.
func (fd *FileDiff) chunkAt(side Side, line uint32) (Chunk, bool) {
	idx := sort.Search(len(fd.Chunks), func(i int) bool {
		start, count := fd.Chunks[i].span(side)

		return start+count > line
	})

	if idx >= len(fd.Chunks) {
		return Chunk{}, false
	}

	chunk := fd.Chunks[idx]

	start, count := chunk.span(side)
	if count > 0 && line >= start {
		return chunk, true
	}

	return Chunk{}, false
}

// tail returns the first line numbers on each side past the last chunk.
func (fd *FileDiff) tail() (oldNext, newNext uint32) {
	oldNext, newNext = 1, 1

	for _, chunk := range fd.Chunks {
		if end := chunk.OldStart + chunk.OldCount; chunk.OldCount > 0 && end > oldNext {
			oldNext = end
		}

		if end := chunk.NewStart + chunk.NewCount; chunk.NewCount > 0 && end > newNext {
			newNext = end
		}
	}

	return oldNext, newNext
}

// ReconcilePaths cross-checks diff entries against the trace file list. A
// diff entry whose full path matches no trace path but whose basename
// matches at least one raises a path diagnostic with all candidates; with
// elide enabled and a single unambiguous candidate, the entry is re-keyed to
// the trace path.
func (m *Map) ReconcilePaths(tracePaths []string, elide bool, rep *diag.Reporter) {
	byBase := make(map[string][]string)

	traceSet := make(map[string]struct{}, len(tracePaths))
	for _, p := range tracePaths {
		traceSet[p] = struct{}{}
		base := filepath.Base(p)
		byBase[base] = append(byBase[base], p)
	}

	for _, path := range m.Files() {
		if _, ok := traceSet[path]; ok {
			continue
		}

		candidates := byBase[filepath.Base(path)]
		if len(candidates) == 0 {
			continue
		}

		//nolint:errcheck // path diagnostics are never configured fatal here.
		rep.Report(diag.KindPath, "diff entry %s matches trace paths only by basename: %v", path, candidates)

		if elide && len(candidates) == 1 {
			fd := m.files[path]
			delete(m.files, path)

			fd.CurrentPath = candidates[0]
			m.files[candidates[0]] = fd
		}
	}
}
