package diffmap

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/Sumatoshi-tech/deltacov/pkg/diag"
)

// devNull is the path diff emits for the missing side of an added or
// deleted file.
const devNull = "/dev/null"

// Load ingests a unified diff stream. strip removes that many leading path
// components from every diff path. Malformed constructs raise format
// diagnostics and parsing continues with the next file; an empty diff raises
// an empty diagnostic.
func (m *Map) Load(r io.Reader, strip int, rep *diag.Reporter) error {
	p := &parser{m: m, strip: strip, rep: rep}

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)

	for scanner.Scan() {
		p.lineno++

		if err := p.consume(scanner.Text()); err != nil {
			return err
		}
	}

	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read diff: %w", err)
	}

	p.finishFile()

	m.loaded = true

	if len(m.files) == 0 {
		//nolint:errcheck // an empty diff just means "no changes".
		rep.Report(diag.KindEmpty, "diff contains no differences")
	}

	return nil
}

type parser struct {
	m     *Map
	strip int
	rep   *diag.Reporter

	lineno int

	oldPath string
	newPath string
	curr    *FileDiff

	// Side cursors: next unconsumed line number on each side.
	oldCur uint32
	newCur uint32

	// Remaining content lines of the open hunk, per the hunk header.
	hunkOldLeft uint32
	hunkNewLeft uint32
}

func (p *parser) consume(line string) error {
	switch {
	case strings.HasPrefix(line, "--- "):
		p.finishFile()
		p.oldPath = stripPath(headerPath(line[4:]), p.strip)

		return nil

	case strings.HasPrefix(line, "+++ "):
		p.newPath = stripPath(headerPath(line[4:]), p.strip)
		p.openFile()

		return nil

	case strings.HasPrefix(line, "=== "):
		// Identical-file marker: register with an empty partition.
		p.finishFile()

		path := stripPath(strings.TrimSpace(line[4:]), p.strip)
		p.m.files[path] = &FileDiff{CurrentPath: path, BaselinePath: path}

		return nil

	case strings.HasPrefix(line, "@@ "):
		return p.openHunk(line)
	}

	if p.inHunk() {
		p.consumeContent(line)
	}

	// Anything else (diff command echo, index lines, mode changes) is
	// inter-file noise.
	return nil
}

func (p *parser) inHunk() bool {
	return p.curr != nil && (p.hunkOldLeft > 0 || p.hunkNewLeft > 0)
}

func (p *parser) openFile() {
	old, curr := p.oldPath, p.newPath

	fd := &FileDiff{deletedText: make(map[uint32]string)}

	switch {
	case old == devNull:
		fd.CurrentPath = curr
	case curr == devNull:
		fd.CurrentPath = old
		fd.BaselinePath = old
		fd.Deleted = true
	default:
		fd.CurrentPath = curr
		fd.BaselinePath = old
	}

	p.curr = fd
	p.oldCur, p.newCur = 1, 1
	p.hunkOldLeft, p.hunkNewLeft = 0, 0
}

func (p *parser) finishFile() {
	if p.curr == nil {
		return
	}

	p.m.files[p.curr.CurrentPath] = p.curr
	p.curr = nil
	p.oldPath, p.newPath = "", ""
}

func (p *parser) openHunk(line string) error {
	if p.curr == nil {
		return p.rep.Report(diag.KindFormat, "diff line %d: hunk header outside a file", p.lineno)
	}

	oldStart, oldCount, newStart, newCount, ok := parseHunkHeader(line)
	if !ok {
		err := p.rep.Report(diag.KindFormat, "diff line %d: malformed hunk header %q", p.lineno, line)
		p.curr = nil

		return err
	}

	// Normalize zero-count positions: "-0,0" means "before line 1".
	oldNext := oldStart
	if oldCount == 0 {
		oldNext = oldStart + 1
	}

	newNext := newStart
	if newCount == 0 {
		newNext = newStart + 1
	}

	if oldNext < p.oldCur || newNext < p.newCur {
		err := p.rep.Report(diag.KindFormat, "diff line %d: hunk overlaps previous hunk", p.lineno)
		p.curr = nil

		return err
	}

	equalOld := oldNext - p.oldCur

	equalNew := newNext - p.newCur
	if equalOld != equalNew {
		err := p.rep.Report(diag.KindFormat,
			"diff line %d: inter-hunk region differs between sides (%d vs %d lines)",
			p.lineno, equalOld, equalNew)
		p.curr = nil

		return err
	}

	if equalOld > 0 {
		p.appendChunk(Chunk{
			Kind:     Equal,
			OldStart: p.oldCur, OldCount: equalOld,
			NewStart: p.newCur, NewCount: equalOld,
		})
		p.oldCur += equalOld
		p.newCur += equalOld
	}

	p.hunkOldLeft = oldCount
	p.hunkNewLeft = newCount

	return nil
}

func (p *parser) consumeContent(line string) {
	if line == `\ No newline at end of file` {
		return
	}

	if line == "" {
		// Some tools emit context lines for blank source lines with the
		// leading space trimmed.
		line = " "
	}

	switch line[0] {
	case ' ':
		p.appendChunk(Chunk{
			Kind:     Equal,
			OldStart: p.oldCur, OldCount: 1,
			NewStart: p.newCur, NewCount: 1,
		})
		p.oldCur++
		p.newCur++

		if p.hunkOldLeft > 0 {
			p.hunkOldLeft--
		}

		if p.hunkNewLeft > 0 {
			p.hunkNewLeft--
		}

	case '-':
		p.curr.deletedText[p.oldCur] = line[1:]
		p.appendChunk(Chunk{
			Kind:     Delete,
			OldStart: p.oldCur, OldCount: 1,
			NewStart: p.newCur, NewCount: 0,
		})
		p.oldCur++

		if p.hunkOldLeft > 0 {
			p.hunkOldLeft--
		}

	case '+':
		p.appendChunk(Chunk{
			Kind:     Insert,
			OldStart: p.oldCur, OldCount: 0,
			NewStart: p.newCur, NewCount: 1,
		})
		p.newCur++

		if p.hunkNewLeft > 0 {
			p.hunkNewLeft--
		}
	}
}

// appendChunk adds a chunk, coalescing it into the previous one when both
// have the same kind and contiguous ranges.
func (p *parser) appendChunk(chunk Chunk) {
	appendCoalesced(&p.curr.Chunks, chunk)
}

// headerPath extracts the path from a "---"/"+++" header, dropping the
// optional tab-separated timestamp.
func headerPath(s string) string {
	if idx := strings.IndexByte(s, '\t'); idx >= 0 {
		s = s[:idx]
	}

	return strings.TrimSpace(s)
}

// stripPath removes n leading path components.
func stripPath(path string, n int) string {
	if path == devNull {
		return path
	}

	for i := 0; i < n; i++ {
		idx := strings.IndexByte(path, '/')
		if idx < 0 {
			break
		}

		path = path[idx+1:]
	}

	return path
}

// parseHunkHeader decodes "@@ -o[,c] +n[,c] @@".
func parseHunkHeader(line string) (oldStart, oldCount, newStart, newCount uint32, ok bool) {
	rest := strings.TrimPrefix(line, "@@ ")

	end := strings.Index(rest, " @@")
	if end < 0 {
		return 0, 0, 0, 0, false
	}

	fields := strings.Fields(rest[:end])
	if len(fields) != 2 || !strings.HasPrefix(fields[0], "-") || !strings.HasPrefix(fields[1], "+") {
		return 0, 0, 0, 0, false
	}

	oldStart, oldCount, ok = parseRange(fields[0][1:])
	if !ok {
		return 0, 0, 0, 0, false
	}

	newStart, newCount, ok = parseRange(fields[1][1:])
	if !ok {
		return 0, 0, 0, 0, false
	}

	return oldStart, oldCount, newStart, newCount, true
}

func parseRange(s string) (start, count uint32, ok bool) {
	count = 1

	if idx := strings.IndexByte(s, ','); idx >= 0 {
		c, err := strconv.ParseUint(s[idx+1:], 10, 32)
		if err != nil {
			return 0, 0, false
		}

		count = uint32(c)
		s = s[:idx]
	}

	st, err := strconv.ParseUint(s, 10, 32)
	if err != nil {
		return 0, 0, false
	}

	return uint32(st), count, true
}
