package tracefile

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/Sumatoshi-tech/deltacov/pkg/diag"
)

// Load parses the trace file at path, applying the given ingest filters.
// The trace's ModTime is taken from the file.
func Load(path string, filters *Filters, rep *diag.Reporter) (*Trace, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open trace %s: %w", path, err)
	}
	defer f.Close()

	trace, err := Parse(f, filters, rep)
	if err != nil {
		return nil, fmt.Errorf("parse trace %s: %w", path, err)
	}

	if info, statErr := f.Stat(); statErr == nil {
		trace.ModTime = info.ModTime()
	}

	return trace, nil
}

// Parse reads a trace stream. Per-record anomalies raise diagnostics and
// parsing continues unless the diagnostic's kind is configured fatal, in
// which case its error is returned; unreadable input is also an error.
func Parse(r io.Reader, filters *Filters, rep *diag.Reporter) (*Trace, error) {
	trace := NewTrace()
	p := traceParser{trace: trace, filters: filters, rep: rep}

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	for scanner.Scan() {
		p.lineno++

		if err := p.consume(strings.TrimRight(scanner.Text(), "\r")); err != nil {
			return nil, err
		}
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read trace: %w", err)
	}

	return trace, nil
}

type traceParser struct {
	trace   *Trace
	filters *Filters
	rep     *diag.Reporter

	lineno   int
	test     string
	curr     *File
	skipping bool
	tests    map[string]struct{}
}

func (p *traceParser) consume(line string) error {
	if line == "" {
		return nil
	}

	prefix, rest, found := strings.Cut(line, ":")
	if !found {
		if line == "end_of_record" {
			p.endRecord()

			return nil
		}

		return p.rep.Report(diag.KindFormat, "trace line %d: unrecognized record %q", p.lineno, line)
	}

	switch prefix {
	case "TN":
		p.setTest(rest)

		return nil
	case "SF":
		return p.startFile(rest)
	}

	if p.skipping {
		return nil
	}

	if p.curr == nil {
		// Totals records may trail the block; anything needing a file
		// outside one is malformed.
		switch prefix {
		case "LF", "LH", "BRF", "BRH", "FNF", "FNH":
			return nil
		}

		return p.rep.Report(diag.KindFormat, "trace line %d: %s record outside SF block", p.lineno, prefix)
	}

	switch prefix {
	case "DA":
		return p.lineRecord(rest)
	case "BRDA":
		return p.branchRecord(rest)
	case "FN":
		return p.functionRecord(rest)
	case "FNDA":
		return p.functionHitsRecord(rest)
	case "LF", "LH", "BRF", "BRH", "FNF", "FNH":
		// Per-file totals are recomputed from the records.
		return nil
	}

	return p.rep.Report(diag.KindUnsupported, "trace line %d: unsupported record %s", p.lineno, prefix)
}

func (p *traceParser) setTest(name string) {
	p.test = name

	if name == "" {
		return
	}

	if p.tests == nil {
		p.tests = make(map[string]struct{})
	}

	if _, seen := p.tests[name]; !seen {
		p.tests[name] = struct{}{}
		p.trace.Tests = append(p.trace.Tests, name)
	}
}

func (p *traceParser) startFile(path string) error {
	p.endRecord()

	if p.filters != nil {
		rewritten, keep := p.filters.ApplyPath(path)
		if !keep {
			p.skipping = true

			return nil
		}

		path = rewritten
	}

	file, ok := p.trace.Files[path]
	if !ok {
		file = newFile(path)
		p.trace.Files[path] = file
	}

	p.curr = file

	return nil
}

func (p *traceParser) endRecord() {
	p.curr = nil
	p.skipping = false
}

// lineRecord parses "DA:<line>,<count>[,<checksum>]".
func (p *traceParser) lineRecord(rest string) error {
	fields := strings.SplitN(rest, ",", 3)
	if len(fields) < 2 {
		return p.rep.Report(diag.KindFormat, "trace line %d: malformed DA record", p.lineno)
	}

	line, err := strconv.ParseUint(fields[0], 10, 32)
	if err != nil || line == 0 {
		return p.rep.Report(diag.KindFormat, "trace line %d: bad DA line number %q", p.lineno, fields[0])
	}

	count, err := strconv.ParseInt(fields[1], 10, 64)
	if err != nil {
		return p.rep.Report(diag.KindFormat, "trace line %d: bad DA count %q", p.lineno, fields[1])
	}

	if count < 0 {
		if repErr := p.rep.Report(diag.KindNegative, "trace line %d: negative count %d on %s:%d",
			p.lineno, count, p.curr.Path, line); repErr != nil {
			return repErr
		}

		count = 0
	}

	checksum := ""
	if len(fields) == 3 {
		checksum = fields[2]
	}

	p.curr.addLine(uint32(line), uint64(count), checksum)

	return nil
}

// branchRecord parses "BRDA:<line>,<block>,<branch>,<taken|->".
func (p *traceParser) branchRecord(rest string) error {
	fields := strings.SplitN(rest, ",", 4)
	if len(fields) != 4 {
		return p.rep.Report(diag.KindBranch, "trace line %d: malformed BRDA record", p.lineno)
	}

	line, err1 := strconv.ParseUint(fields[0], 10, 32)
	block, err2 := strconv.ParseUint(fields[1], 10, 32)
	branch, err3 := strconv.ParseUint(fields[2], 10, 32)

	if err1 != nil || err2 != nil || err3 != nil || line == 0 {
		return p.rep.Report(diag.KindBranch, "trace line %d: bad BRDA fields", p.lineno)
	}

	var taken uint64

	if fields[3] != "-" {
		t, err := strconv.ParseInt(fields[3], 10, 64)
		if err != nil {
			return p.rep.Report(diag.KindBranch, "trace line %d: bad BRDA taken count %q", p.lineno, fields[3])
		}

		if t < 0 {
			if repErr := p.rep.Report(diag.KindNegative, "trace line %d: negative branch count", p.lineno); repErr != nil {
				return repErr
			}

			t = 0
		}

		taken = uint64(t)
	}

	p.curr.addBranch(uint32(line), Branch{Block: uint32(block), Branch: uint32(branch), Taken: taken})

	return nil
}

// functionRecord parses "FN:<line>,<name>".
func (p *traceParser) functionRecord(rest string) error {
	lineStr, name, found := strings.Cut(rest, ",")
	if !found || name == "" {
		return p.rep.Report(diag.KindFormat, "trace line %d: malformed FN record", p.lineno)
	}

	line, err := strconv.ParseUint(lineStr, 10, 32)
	if err != nil {
		return p.rep.Report(diag.KindFormat, "trace line %d: bad FN line number %q", p.lineno, lineStr)
	}

	p.curr.addFunction(name, uint32(line))

	return nil
}

// functionHitsRecord parses "FNDA:<count>,<name>".
func (p *traceParser) functionHitsRecord(rest string) error {
	countStr, name, found := strings.Cut(rest, ",")
	if !found || name == "" {
		return p.rep.Report(diag.KindFormat, "trace line %d: malformed FNDA record", p.lineno)
	}

	count, err := strconv.ParseInt(countStr, 10, 64)
	if err != nil {
		return p.rep.Report(diag.KindFormat, "trace line %d: bad FNDA count %q", p.lineno, countStr)
	}

	if count < 0 {
		if repErr := p.rep.Report(diag.KindNegative, "trace line %d: negative function count", p.lineno); repErr != nil {
			return repErr
		}

		count = 0
	}

	p.curr.addFunctionHits(name, uint64(count))

	return nil
}
