// Package report serializes the aggregated coverage model: a static HTML
// site with charts and navigable source pages, a terminal summary, and
// machine-readable exports.
package report

import (
	"github.com/Sumatoshi-tech/deltacov/pkg/srcfile"
	"github.com/Sumatoshi-tech/deltacov/pkg/summary"
	"github.com/Sumatoshi-tech/deltacov/pkg/tla"
)

// Slice selects the view a detail page renders: the whole file, one
// owner's or one age bin's lines across the report, or their per-file
// intersections. Emitters switch over the concrete type.
type Slice interface {
	isSlice()
}

// WholeFile renders every line of one file.
type WholeFile struct {
	File *srcfile.File
}

// OwnerSlice renders one owner's totals across the report.
type OwnerSlice struct {
	Owner string
	Top   *summary.Summary
}

// DateSlice renders one age bin's totals across the report.
type DateSlice struct {
	Bin int
	Top *summary.Summary
}

// FileOwnerSlice renders one owner's lines inside one file.
type FileOwnerSlice struct {
	File  *srcfile.File
	Owner string
}

// FileDateSlice renders one age bin's lines inside one file.
type FileDateSlice struct {
	File *srcfile.File
	Bin  int
}

func (WholeFile) isSlice()      {}
func (OwnerSlice) isSlice()     {}
func (DateSlice) isSlice()      {}
func (FileOwnerSlice) isSlice() {}
func (FileDateSlice) isSlice()  {}

// LineCounts resolves the line totals a slice stands for.
func LineCounts(s Slice) summary.Counts {
	switch v := s.(type) {
	case WholeFile:
		return v.File.Summary.Line

	case OwnerSlice:
		if oc, ok := v.Top.Owners[v.Owner]; ok {
			return oc.Line
		}

		return summary.Counts{}

	case DateSlice:
		if v.Bin >= 0 && v.Bin < len(v.Top.LineAge) {
			return v.Top.LineAge[v.Bin]
		}

		return summary.Counts{}

	case FileOwnerSlice:
		if oc, ok := v.File.Summary.Owners[v.Owner]; ok {
			return oc.Line
		}

		return summary.Counts{}

	case FileDateSlice:
		if v.Bin >= 0 && v.Bin < len(v.File.Summary.LineAge) {
			return v.File.Summary.LineAge[v.Bin]
		}

		return summary.Counts{}
	}

	return summary.Counts{}
}

// SliceLines resolves the line numbers of a per-file slice for one
// category; report-wide slices have no single line list.
func SliceLines(s Slice, cat tla.TLA) []uint32 {
	switch v := s.(type) {
	case WholeFile:
		return v.File.CategoryLines(cat)

	case FileOwnerSlice:
		if ix, ok := v.File.OwnerIndex(v.Owner); ok {
			return ix.ByTLA[cat]
		}

	case FileDateSlice:
		if ix := v.File.AgeBinIndex(v.Bin); ix != nil {
			return ix.ByTLA[cat]
		}
	}

	return nil
}
