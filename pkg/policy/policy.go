// Package policy holds the immutable per-invocation settings shared by every
// stage of the report pipeline. A single Policy value is built from the
// configuration once, in the command layer, and passed by reference; nothing
// mutates it afterwards.
package policy

import (
	"fmt"
	"sort"
	"strings"
)

// Filter is a bitset of post-ingest coverpoint filters.
type Filter uint8

// Post-ingest filters. Each removes or merges coverpoints between trace
// ingest and categorization.
const (
	// FilterBrace drops line coverpoints on close-brace-only lines.
	FilterBrace Filter = 1 << iota
	// FilterBlank drops line coverpoints on blank lines.
	FilterBlank
	// FilterRange drops coverpoints outside the current file's line range.
	FilterRange
	// FilterBranchNoCond drops branch data on lines with no conditional.
	FilterBranchNoCond
	// FilterFunctionAlias merges function aliases into their leader.
	FilterFunctionAlias
)

// Has reports whether f enables the given filter.
func (f Filter) Has(filter Filter) bool {
	return f&filter != 0
}

var filterNames = map[string]Filter{
	"brace":    FilterBrace,
	"blank":    FilterBlank,
	"range":    FilterRange,
	"branch":   FilterBranchNoCond,
	"function": FilterFunctionAlias,
}

// ParseFilters builds a Filter set from comma-separated names.
func ParseFilters(spec string) (Filter, error) {
	var out Filter

	if strings.TrimSpace(spec) == "" {
		return out, nil
	}

	for _, name := range strings.Split(spec, ",") {
		name = strings.TrimSpace(name)

		f, ok := filterNames[name]
		if !ok {
			return 0, fmt.Errorf("unknown filter %q", name)
		}

		out |= f
	}

	return out, nil
}

// AgeBins discretizes a line age in days into one of len(cutpoints)+1
// half-open intervals.
type AgeBins struct {
	cutpoints []int
}

// DefaultCutpoints are the age-bin boundaries used when none are configured.
var DefaultCutpoints = []int{7, 30, 180}

// NewAgeBins builds an AgeBins from ascending day cutpoints. The cutpoints
// are copied and sorted; duplicates are rejected.
func NewAgeBins(cutpoints []int) (AgeBins, error) {
	cp := make([]int, len(cutpoints))
	copy(cp, cutpoints)
	sort.Ints(cp)

	for i := 1; i < len(cp); i++ {
		if cp[i] == cp[i-1] {
			return AgeBins{}, fmt.Errorf("duplicate age cutpoint %d", cp[i])
		}
	}

	return AgeBins{cutpoints: cp}, nil
}

// Count returns the number of bins.
func (b AgeBins) Count() int {
	return len(b.cutpoints) + 1
}

// BinOf returns the index of the bin containing age. Bin i covers
// (cutpoint[i-1], cutpoint[i]]; the last bin is unbounded above.
func (b AgeBins) BinOf(age int) int {
	for i, cut := range b.cutpoints {
		if age <= cut {
			return i
		}
	}

	return len(b.cutpoints)
}

// Label renders a human-readable interval for bin i.
func (b AgeBins) Label(i int) string {
	switch {
	case len(b.cutpoints) == 0:
		return "all"
	case i == 0:
		return fmt.Sprintf("..%dd", b.cutpoints[0])
	case i >= len(b.cutpoints):
		return fmt.Sprintf("%dd..", b.cutpoints[len(b.cutpoints)-1])
	}

	return fmt.Sprintf("%dd..%dd", b.cutpoints[i-1], b.cutpoints[i])
}

// Cutpoints returns a copy of the bin boundaries.
func (b AgeBins) Cutpoints() []int {
	out := make([]int, len(b.cutpoints))
	copy(out, b.cutpoints)

	return out
}

// Policy is the immutable bundle of settings consulted by the pipeline.
type Policy struct {
	// Differential is true when a baseline trace is configured. Without it
	// the categorizer runs in legacy mode ({GNC, UNC} only).
	Differential bool

	// DateBins discretizes annotated line ages.
	DateBins AgeBins

	// BranchCoverage and FunctionCoverage toggle those coverage kinds.
	BranchCoverage   bool
	FunctionCoverage bool

	// Hierarchical selects the multi-level directory tree over the
	// two-level view.
	Hierarchical bool

	// ElidePathMismatch lets a diff entry whose basename unambiguously
	// matches a single trace path apply to that path.
	ElidePathMismatch bool

	// NewFileAsBaseline remaps GIC/UIC to CBC/UBC for files whose newest
	// line predates the baseline trace.
	NewFileAsBaseline bool

	// Filters are the enabled post-ingest filters.
	Filters Filter

	// DiffStrip is the number of leading path components stripped from
	// diff entries.
	DiffStrip int

	// Preserve keeps the temp directory and worker spill files after the
	// run.
	Preserve bool
}
