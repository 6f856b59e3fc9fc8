// Package categorize joins baseline and current coverage counts with the
// diff alignment and assigns every coverpoint its differential category.
package categorize

import (
	"crypto/md5" //nolint:gosec // trace checksums are md5 by format definition.
	"encoding/hex"
	"sort"

	"github.com/Sumatoshi-tech/deltacov/pkg/diag"
	"github.com/Sumatoshi-tech/deltacov/pkg/diffmap"
	"github.com/Sumatoshi-tech/deltacov/pkg/policy"
	"github.com/Sumatoshi-tech/deltacov/pkg/source"
	"github.com/Sumatoshi-tech/deltacov/pkg/tla"
	"github.com/Sumatoshi-tech/deltacov/pkg/tracefile"
)

// LineKey addresses one record of a file's line table. Ghost keys hold the
// baseline line number of a deleted line, which is summarized but never
// shown; current keys hold current-revision line numbers.
type LineKey struct {
	Ghost bool
	Line  uint32
}

// BranchRecord is one categorized branch outcome.
type BranchRecord struct {
	Block  uint32
	Branch uint32

	BaseCount uint64
	CurrCount uint64
	HasBase   bool
	HasCurr   bool

	Cat tla.TLA
}

// FunctionAlias is one function name sharing the leader's source location.
type FunctionAlias struct {
	Name string
	Hits uint64
	Cat  tla.TLA
}

// FunctionRecord is a function coverpoint. Name is the leader; Hits is the
// count merged across the leader and every alias, and Cat derives from the
// merged count. Each alias keeps its own hit count and category unless the
// alias filter merged them away.
type FunctionRecord struct {
	Name string
	Line uint32
	Hits uint64
	Cat  tla.TLA

	Aliases []FunctionAlias
}

// LineRecord is the categorized state of one line table entry.
type LineRecord struct {
	Kind diffmap.ChunkKind

	// BaseLine and CurrLine are 0 when the record has no identity on that
	// side.
	BaseLine uint32
	CurrLine uint32

	BaseCount uint64
	CurrCount uint64
	HasBase   bool
	HasCurr   bool

	// Cat is the line-level category; valid only when HasCat (a record
	// may exist solely for its branches or function).
	Cat    tla.TLA
	HasCat bool

	Branches []BranchRecord
	Function *FunctionRecord
}

// Result is the categorized line table of one file.
type Result struct {
	Path string

	// Records is keyed by LineKey; see Keys for the canonical walk order.
	Records map[LineKey]*LineRecord

	// Unanchored holds function records whose declaring line is unknown.
	Unanchored []*FunctionRecord
}

// Keys returns every key, current lines in ascending order first, ghost
// keys after them, so that deleted lines never perturb the visual index.
func (r *Result) Keys() []LineKey {
	keys := make([]LineKey, 0, len(r.Records))
	for key := range r.Records {
		keys = append(keys, key)
	}

	sort.Slice(keys, func(i, j int) bool {
		if keys[i].Ghost != keys[j].Ghost {
			return !keys[i].Ghost
		}

		return keys[i].Line < keys[j].Line
	})

	return keys
}

// record returns the line table entry for key, creating it on first use.
func (r *Result) record(key LineKey, kind diffmap.ChunkKind) *LineRecord {
	rec, ok := r.Records[key]
	if !ok {
		rec = &LineRecord{Kind: kind}
		if key.Ghost {
			rec.BaseLine = key.Line
		} else {
			rec.CurrLine = key.Line
		}

		r.Records[key] = rec
	}

	return rec
}

// Input bundles everything the categorizer consumes for one file.
type Input struct {
	Path string

	// Base is the baseline coverage; nil outside differential mode or for
	// files absent from the baseline trace.
	Base *tracefile.File

	// Curr is the current coverage; nil for deleted files.
	Curr *tracefile.File

	Diff    *diffmap.Map
	Policy  *policy.Policy
	Filters *tracefile.Filters

	// Text is the current revision's source, used by the content filters
	// and the checksum verification.
	Text *source.Text

	Reporter *diag.Reporter
}

// Run builds the categorized line table. Per-coverpoint anomalies raise
// diagnostics and categorization proceeds; the returned error is non-nil
// only when a diagnostic kind is configured fatal. Running twice over the
// same input yields an identical table.
func Run(in Input) (*Result, error) {
	res := &Result{
		Path:    in.Path,
		Records: make(map[LineKey]*LineRecord),
	}

	if err := categorizeLines(in, res); err != nil {
		return nil, err
	}

	if err := categorizeBranches(in, res); err != nil {
		return nil, err
	}

	if err := categorizeFunctions(in, res); err != nil {
		return nil, err
	}

	return res, nil
}

// categorizeLines runs the line pass: every current DA gets a record, then
// baseline DAs fill in ghosts and the only-base categories.
func categorizeLines(in Input, res *Result) error {
	if in.Curr != nil {
		for _, line := range sortedLines(in.Curr.Lines) {
			if dropLine(in, line) {
				continue
			}

			count := in.Curr.Lines[line]
			kind := in.Diff.Kind(in.Path, diffmap.SideNew, line)

			if in.Text != nil && !in.Text.Synthesized && line > in.Text.Len() {
				if err := in.Reporter.Report(diag.KindCategory,
					"%s:%d: coverpoint past the end of the source (%d lines)",
					in.Path, line, in.Text.Len()); err != nil {
					return err
				}
			}

			rec := res.record(LineKey{Line: line}, kind)
			rec.CurrCount = count
			rec.HasCurr = true
			rec.HasCat = true

			if err := verifyChecksum(in, line); err != nil {
				return err
			}

			switch kind {
			case diffmap.Insert:
				rec.Cat = tla.ForInsert(count)
			case diffmap.Equal:
				baseLine, exact := in.Diff.Lookup(in.Path, diffmap.SideNew, line)

				baseCount, hasBase := uint64(0), false
				if exact && in.Base != nil {
					baseCount, hasBase = in.Base.Lines[baseLine]
				}

				if hasBase {
					rec.BaseLine = baseLine
					rec.BaseCount = baseCount
					rec.HasBase = true
					rec.Cat = tla.ForEqualPair(baseCount, count)
				} else {
					rec.Cat = tla.ForOnlyCurrent(count)
				}
			case diffmap.Delete:
				// A current-side line can never sit in a delete chunk.
				if err := in.Reporter.Report(diag.KindInconsistent,
					"%s:%d: current coverage on a deleted line", in.Path, line); err != nil {
					return err
				}

				rec.Cat = tla.ForInsert(count)
			}
		}
	}

	if in.Base == nil {
		return nil
	}

	for _, baseLine := range sortedLines(in.Base.Lines) {
		count := in.Base.Lines[baseLine]
		kind := in.Diff.Kind(in.Path, diffmap.SideOld, baseLine)

		switch kind {
		case diffmap.Delete:
			rec := res.record(LineKey{Ghost: true, Line: baseLine}, diffmap.Delete)
			rec.BaseCount = count
			rec.HasBase = true
			rec.Cat = tla.ForDelete(count)
			rec.HasCat = true

		case diffmap.Equal:
			currLine, exact := in.Diff.Lookup(in.Path, diffmap.SideOld, baseLine)
			if !exact {
				if err := in.Reporter.Report(diag.KindUnmapped,
					"%s: baseline line %d has no current mapping", in.Path, baseLine); err != nil {
					return err
				}

				continue
			}

			key := LineKey{Line: currLine}
			if existing, ok := res.Records[key]; ok && existing.HasCurr {
				continue
			}

			if dropLine(in, currLine) {
				continue
			}

			rec := res.record(key, diffmap.Equal)
			rec.BaseLine = baseLine
			rec.BaseCount = count
			rec.HasBase = true
			rec.Cat = tla.ForOnlyBase(count)
			rec.HasCat = true

		case diffmap.Insert:
			if err := in.Reporter.Report(diag.KindInconsistent,
				"%s: baseline coverage on inserted line %d", in.Path, baseLine); err != nil {
				return err
			}
		}
	}

	return nil
}

// dropLine applies the content filters to a current-revision line.
func dropLine(in Input, line uint32) bool {
	if in.Text == nil {
		return false
	}

	if text, ok := in.Text.Line(line); ok && in.Filters.OmitLine(text) {
		return true
	}

	filters := in.Policy.Filters
	if filters.Has(policy.FilterBrace) && in.Text.IsCloseBrace(line) {
		return true
	}

	if filters.Has(policy.FilterBlank) && in.Text.IsBlank(line) {
		return true
	}

	if filters.Has(policy.FilterRange) && in.Text.Len() > 0 && line > in.Text.Len() {
		return true
	}

	return false
}

// verifyChecksum compares a trace line checksum against the current source.
func verifyChecksum(in Input, line uint32) error {
	if in.Curr == nil || in.Text == nil || in.Text.Synthesized {
		return nil
	}

	want, ok := in.Curr.Checksums[line]
	if !ok {
		return nil
	}

	text, ok := in.Text.Line(line)
	if !ok {
		return nil
	}

	sum := md5.Sum([]byte(text)) //nolint:gosec // format-mandated checksum.
	if hex.EncodeToString(sum[:]) != want {
		return in.Reporter.Report(diag.KindMismatch,
			"%s:%d: checksum %s does not match current source", in.Path, line, want)
	}

	return nil
}

func sortedLines(m map[uint32]uint64) []uint32 {
	out := make([]uint32, 0, len(m))
	for line := range m {
		out = append(out, line)
	}

	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })

	return out
}

// RewriteAsBaseline applies the "new file as baseline" remap: coverpoints
// measured only in the current trace are reclassified as if they had been
// in the baseline, so ratcheting criteria do not penalize code that merely
// started being measured. UIC becomes UBC and GIC becomes CBC everywhere.
func (r *Result) RewriteAsBaseline() {
	remap := func(cat tla.TLA) tla.TLA {
		switch cat {
		case tla.UIC:
			return tla.UBC
		case tla.GIC:
			return tla.CBC
		}

		return cat
	}

	for _, rec := range r.Records {
		if rec.HasCat {
			rec.Cat = remap(rec.Cat)
		}

		for i := range rec.Branches {
			rec.Branches[i].Cat = remap(rec.Branches[i].Cat)
		}

		if rec.Function != nil {
			rec.Function.Cat = remap(rec.Function.Cat)

			for i := range rec.Function.Aliases {
				rec.Function.Aliases[i].Cat = remap(rec.Function.Aliases[i].Cat)
			}
		}
	}

	for _, fn := range r.Unanchored {
		fn.Cat = remap(fn.Cat)

		for i := range fn.Aliases {
			fn.Aliases[i].Cat = remap(fn.Aliases[i].Cat)
		}
	}
}
