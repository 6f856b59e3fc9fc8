// Package srcfile joins source annotation to categorized coverage for one
// file and precomputes the category, owner, and age-bin indices the report
// navigation runs on. A File is fully built by its constructor and
// read-only afterwards.
package srcfile

import (
	"sort"

	"github.com/Sumatoshi-tech/deltacov/pkg/categorize"
	"github.com/Sumatoshi-tech/deltacov/pkg/policy"
	"github.com/Sumatoshi-tech/deltacov/pkg/source"
	"github.com/Sumatoshi-tech/deltacov/pkg/summary"
	"github.com/Sumatoshi-tech/deltacov/pkg/tla"
)

// Line is one displayed source line with its coverage state.
type Line struct {
	No   uint32
	Text string

	Owner    string
	HasOwner bool
	Age      int
	HasAge   bool

	Cat    tla.TLA
	HasCat bool

	CurrCount uint64
	HasCount  bool

	Branches []categorize.BranchRecord
	Function *categorize.FunctionRecord
}

// Index is a sorted-line-number view over one slice of the file: all lines
// in the slice plus the per-category breakdown. Lists are strictly
// increasing so lookups are binary searches.
type Index struct {
	Lines []uint32
	ByTLA map[tla.TLA][]uint32
}

func newIndex() *Index {
	return &Index{ByTLA: make(map[tla.TLA][]uint32)}
}

func (ix *Index) add(cat tla.TLA, line uint32) {
	ix.Lines = appendUnique(ix.Lines, line)
	ix.ByTLA[cat] = appendUnique(ix.ByTLA[cat], line)
}

// appendUnique keeps the list strictly increasing; callers always append in
// ascending line order.
func appendUnique(list []uint32, line uint32) []uint32 {
	if n := len(list); n > 0 && list[n-1] == line {
		return list
	}

	return append(list, line)
}

// File is the displayable model of one current-revision source file.
type File struct {
	Path string

	// Lines is ordered by line number starting at 1.
	Lines []Line

	// Ghosts holds the deleted-line records: summarized, never shown.
	Ghosts []*categorize.LineRecord

	// Summary carries this file's totals including age bins and owners.
	Summary *summary.Summary

	byCategory       map[tla.TLA][]uint32
	branchByCategory map[tla.TLA][]uint32

	byOwner       map[string]*Index
	branchByOwner map[string]*Index

	byAgeBin       []*Index
	branchByAgeBin []*Index

	bins policy.AgeBins
}

// New builds the model. The categorize result supplies coverage state, text
// the display lines, and annotations (one per text line, possibly nil) the
// owner and age columns. Ghost records are processed after all current
// lines so they never perturb the visual index.
func New(res *categorize.Result, text *source.Text, annotations []source.Annotation, bins policy.AgeBins) *File {
	f := &File{
		Path:             res.Path,
		Summary:          summary.New(summary.KindFile, res.Path, bins),
		byCategory:       make(map[tla.TLA][]uint32),
		branchByCategory: make(map[tla.TLA][]uint32),
		byOwner:          make(map[string]*Index),
		branchByOwner:    make(map[string]*Index),
		byAgeBin:         make([]*Index, bins.Count()),
		branchByAgeBin:   make([]*Index, bins.Count()),
		bins:             bins,
	}

	for i := range f.byAgeBin {
		f.byAgeBin[i] = newIndex()
		f.branchByAgeBin[i] = newIndex()
	}

	f.buildLines(res, text, annotations)

	for _, key := range res.Keys() {
		rec := res.Records[key]
		if key.Ghost {
			f.Ghosts = append(f.Ghosts, rec)
			f.accountGhost(rec)

			continue
		}

		f.accountLine(rec)
	}

	for _, fn := range res.Unanchored {
		f.accountFunction(fn, nil)
	}

	return f
}

// buildLines lays out the display lines: every text line exists whether or
// not it carries coverage, and records past the end of the text extend the
// layout so synthesized content stays addressable.
func (f *File) buildLines(res *categorize.Result, text *source.Text, annotations []source.Annotation) {
	maxLine := uint32(0)
	if text != nil {
		maxLine = text.Len()
	}

	for key := range res.Records {
		if !key.Ghost && key.Line > maxLine {
			maxLine = key.Line
		}
	}

	f.Lines = make([]Line, maxLine)

	for i := range f.Lines {
		no := uint32(i + 1)
		line := Line{No: no}

		if text != nil {
			if t, ok := text.Line(no); ok {
				line.Text = t
			}
		}

		if int(no) <= len(annotations) {
			ann := annotations[no-1]
			if ann.HasOwner {
				line.Owner = ann.Author
				line.HasOwner = true
			}

			if ann.HasAge {
				line.Age = ann.AgeDays
				line.HasAge = true
			}
		}

		if rec, ok := res.Records[categorize.LineKey{Line: no}]; ok {
			line.HasCat = rec.HasCat
			line.Cat = rec.Cat
			line.CurrCount = rec.CurrCount
			line.HasCount = rec.HasCurr
			line.Branches = rec.Branches
			line.Function = rec.Function
		}

		f.Lines[i] = line
	}
}

// accountLine pushes one current-line record into the summary and indices.
func (f *File) accountLine(rec *categorize.LineRecord) {
	line := &f.Lines[rec.CurrLine-1]

	var agePtr *int
	if line.HasAge {
		agePtr = &line.Age
	}

	if rec.HasCat && rec.Cat.InSource() {
		f.Summary.AddLine(rec.Cat, agePtr)
		f.byCategory[rec.Cat] = appendUnique(f.byCategory[rec.Cat], rec.CurrLine)

		if line.HasOwner {
			f.Summary.AddOwnerLine(line.Owner, rec.Cat)
			f.ownerIndex(line.Owner).add(rec.Cat, rec.CurrLine)
		}

		if line.HasAge {
			f.byAgeBin[f.bins.BinOf(line.Age)].add(rec.Cat, rec.CurrLine)
		}
	}

	for _, b := range rec.Branches {
		f.Summary.AddBranch(b.Cat, agePtr)
		f.branchByCategory[b.Cat] = appendUnique(f.branchByCategory[b.Cat], rec.CurrLine)

		if line.HasOwner {
			f.Summary.AddOwnerBranch(line.Owner, b.Cat)
			f.branchOwnerIndex(line.Owner).add(b.Cat, rec.CurrLine)
		}

		if line.HasAge {
			f.branchByAgeBin[f.bins.BinOf(line.Age)].add(b.Cat, rec.CurrLine)
		}
	}

	if rec.Function != nil {
		f.accountFunction(rec.Function, agePtr)
	}
}

// accountGhost tallies a deleted baseline record in the summary only.
func (f *File) accountGhost(rec *categorize.LineRecord) {
	if rec.HasCat {
		f.Summary.AddLine(rec.Cat, nil)
	}

	for _, b := range rec.Branches {
		f.Summary.AddBranch(b.Cat, nil)
	}

	if rec.Function != nil {
		f.accountFunction(rec.Function, nil)
	}
}

// accountFunction tallies a function group: one coverpoint per alias when
// aliases are kept, one for the leader otherwise.
func (f *File) accountFunction(fn *categorize.FunctionRecord, age *int) {
	if len(fn.Aliases) == 0 {
		f.Summary.AddFunction(fn.Cat, age)

		return
	}

	for _, alias := range fn.Aliases {
		f.Summary.AddFunction(alias.Cat, age)
	}
}

func (f *File) ownerIndex(owner string) *Index {
	ix, ok := f.byOwner[owner]
	if !ok {
		ix = newIndex()
		f.byOwner[owner] = ix
	}

	return ix
}

func (f *File) branchOwnerIndex(owner string) *Index {
	ix, ok := f.branchByOwner[owner]
	if !ok {
		ix = newIndex()
		f.branchByOwner[owner] = ix
	}

	return ix
}

// CategoryLines returns the strictly increasing current line numbers whose
// line category is cat.
func (f *File) CategoryLines(cat tla.TLA) []uint32 {
	return f.byCategory[cat]
}

// BranchCategoryLines returns the lines carrying at least one branch of
// cat.
func (f *File) BranchCategoryLines(cat tla.TLA) []uint32 {
	return f.branchByCategory[cat]
}

// OwnerIndex returns the line index of one owner.
func (f *File) OwnerIndex(owner string) (*Index, bool) {
	ix, ok := f.byOwner[owner]

	return ix, ok
}

// AgeBinIndex returns the line index of one age bin.
func (f *File) AgeBinIndex(bin int) *Index {
	if bin < 0 || bin >= len(f.byAgeBin) {
		return nil
	}

	return f.byAgeBin[bin]
}

// Owners returns the owners with indexed lines, sorted.
func (f *File) Owners() []string {
	out := make([]string, 0, len(f.byOwner))
	for name := range f.byOwner {
		out = append(out, name)
	}

	sort.Strings(out)

	return out
}
