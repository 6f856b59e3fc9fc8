package srcfile

import (
	"sort"

	"github.com/Sumatoshi-tech/deltacov/pkg/tla"
)

// Navigation queries. Each returns the smallest qualifying line strictly
// after the given one; ok is false when the search should wrap to the top
// of the file.

// lowerBound returns the first element of the strictly increasing list
// greater than after.
func lowerBound(list []uint32, after uint32) (uint32, bool) {
	idx := sort.Search(len(list), func(i int) bool { return list[i] > after })
	if idx == len(list) {
		return 0, false
	}

	return list[idx], true
}

// prevCat returns the category of the nearest preceding code line, skipping
// lines with no category at all.
func (f *File) prevCat(no uint32) (tla.TLA, bool) {
	for no--; no >= 1; no-- {
		line := f.Lines[no-1]
		if line.HasCat {
			return line.Cat, true
		}
	}

	return 0, false
}

// isGroupStart reports whether the line opens a run of its category:
// the nearest preceding code line either does not exist or differs.
func (f *File) isGroupStart(no uint32, cat tla.TLA) bool {
	prev, ok := f.prevCat(no)

	return !ok || prev != cat
}

// NextTLAGroup returns the first line after the given one that starts a
// block of consecutive cat lines. Non-code lines never terminate a block,
// so a category run interrupted only by blanks or comments counts once.
func (f *File) NextTLAGroup(cat tla.TLA, after uint32) (uint32, bool) {
	list := f.byCategory[cat]

	for {
		line, ok := lowerBound(list, after)
		if !ok {
			return 0, false
		}

		if f.isGroupStart(line, cat) {
			return line, true
		}

		after = line
	}
}

// NextBranchGroup returns the first line after the given one carrying a
// branch of cat. Branches are always independent: no run coalescing.
func (f *File) NextBranchGroup(cat tla.TLA, after uint32) (uint32, bool) {
	return lowerBound(f.branchByCategory[cat], after)
}

// NextInDateBin returns the next line of cat whose age falls in the bin.
func (f *File) NextInDateBin(bin int, cat tla.TLA, after uint32) (uint32, bool) {
	ix := f.AgeBinIndex(bin)
	if ix == nil {
		return 0, false
	}

	return lowerBound(ix.ByTLA[cat], after)
}

// NextInOwnerBin returns the next line of cat owned by owner.
func (f *File) NextInOwnerBin(owner string, cat tla.TLA, after uint32) (uint32, bool) {
	ix, ok := f.byOwner[owner]
	if !ok {
		return 0, false
	}

	return lowerBound(ix.ByTLA[cat], after)
}

// NextBranchInDateBin is the branch variant of NextInDateBin.
func (f *File) NextBranchInDateBin(bin int, cat tla.TLA, after uint32) (uint32, bool) {
	if bin < 0 || bin >= len(f.branchByAgeBin) {
		return 0, false
	}

	return lowerBound(f.branchByAgeBin[bin].ByTLA[cat], after)
}

// NextBranchInOwnerBin is the branch variant of NextInOwnerBin.
func (f *File) NextBranchInOwnerBin(owner string, cat tla.TLA, after uint32) (uint32, bool) {
	ix, ok := f.branchByOwner[owner]
	if !ok {
		return 0, false
	}

	return lowerBound(ix.ByTLA[cat], after)
}
