// Package summary holds the additive coverage totals of one report node
// (file, directory, or top) and their rollup. Every field is additive, so
// parent totals are exactly the sums of their children regardless of merge
// order.
package summary

import (
	"sort"

	"github.com/Sumatoshi-tech/deltacov/pkg/policy"
	"github.com/Sumatoshi-tech/deltacov/pkg/tla"
)

// NodeKind tells which level of the tree a summary describes.
type NodeKind uint8

// Node kinds.
const (
	// KindFile is a leaf summary for one source file.
	KindFile NodeKind = iota
	// KindDirectory aggregates the files and subdirectories below it.
	KindDirectory
	// KindTop is the root of the report.
	KindTop
)

// String returns the node kind name used at the JSON boundary.
func (k NodeKind) String() string {
	switch k {
	case KindFile:
		return "file"
	case KindDirectory:
		return "directory"
	case KindTop:
		return "top"
	}

	return "unknown"
}

// Counts is one coverage kind's totals. Found counts the coverpoints
// instrumented in the current trace; Hit the covered subset; PerTLA tallies
// every category including the excluded and deleted ones.
type Counts struct {
	Found  uint64
	Hit    uint64
	PerTLA [tla.Count]uint64
}

// Add tallies one coverpoint.
func (c *Counts) Add(cat tla.TLA) {
	c.PerTLA[cat]++

	if cat.Counted() {
		c.Found++
	}

	if cat.Hit() {
		c.Hit++
	}
}

// Append folds another Counts in.
func (c *Counts) Append(other *Counts) {
	c.Found += other.Found
	c.Hit += other.Hit

	for i := range c.PerTLA {
		c.PerTLA[i] += other.PerTLA[i]
	}
}

// OwnerCounts is the per-owner category breakdown. Function coverage is
// not tracked per owner.
type OwnerCounts struct {
	Line   Counts
	Branch Counts
}

// Summary is the aggregate state of one node.
type Summary struct {
	Kind NodeKind
	Name string

	Line     Counts
	Branch   Counts
	Function Counts

	// LineAge, BranchAge, and FunctionAge hold one Counts per age bin.
	LineAge     []Counts
	BranchAge   []Counts
	FunctionAge []Counts

	// Owners is keyed by author name.
	Owners map[string]*OwnerCounts

	// parent is a non-owning back reference used during ingest; it is
	// unexported so serialization across workers never carries it.
	parent *Summary

	bins policy.AgeBins
}

// New creates an empty summary with one age bin per cutpoint interval.
func New(kind NodeKind, name string, bins policy.AgeBins) *Summary {
	n := bins.Count()

	return &Summary{
		Kind:        kind,
		Name:        name,
		LineAge:     make([]Counts, n),
		BranchAge:   make([]Counts, n),
		FunctionAge: make([]Counts, n),
		Owners:      make(map[string]*OwnerCounts),
		bins:        bins,
	}
}

// SetParent records the ingest-time back reference.
func (s *Summary) SetParent(parent *Summary) {
	s.parent = parent
}

// Parent returns the ingest-time back reference, nil at the root or after
// deserialization.
func (s *Summary) Parent() *Summary {
	return s.parent
}

// Rebind restores the age-bin geometry after deserialization.
func (s *Summary) Rebind(bins policy.AgeBins) {
	s.bins = bins
}

// AddLine tallies a line coverpoint. age is nil for unannotated lines.
func (s *Summary) AddLine(cat tla.TLA, age *int) {
	s.Line.Add(cat)

	if age != nil {
		s.LineAge[s.bins.BinOf(*age)].Add(cat)
	}
}

// AddBranch tallies a branch coverpoint.
func (s *Summary) AddBranch(cat tla.TLA, age *int) {
	s.Branch.Add(cat)

	if age != nil {
		s.BranchAge[s.bins.BinOf(*age)].Add(cat)
	}
}

// AddFunction tallies a function coverpoint.
func (s *Summary) AddFunction(cat tla.TLA, age *int) {
	s.Function.Add(cat)

	if age != nil {
		s.FunctionAge[s.bins.BinOf(*age)].Add(cat)
	}
}

// AddOwnerLine tallies a line coverpoint for an owner.
func (s *Summary) AddOwnerLine(owner string, cat tla.TLA) {
	s.owner(owner).Line.Add(cat)
}

// AddOwnerBranch tallies a branch coverpoint for an owner.
func (s *Summary) AddOwnerBranch(owner string, cat tla.TLA) {
	s.owner(owner).Branch.Add(cat)
}

func (s *Summary) owner(name string) *OwnerCounts {
	oc, ok := s.Owners[name]
	if !ok {
		oc = &OwnerCounts{}
		s.Owners[name] = oc
	}

	return oc
}

// Append folds a child summary into this one. Age bins merge positionally
// (both sides share the report's bin geometry); owner tables merge by outer
// union.
func (s *Summary) Append(child *Summary) {
	s.Line.Append(&child.Line)
	s.Branch.Append(&child.Branch)
	s.Function.Append(&child.Function)

	for i := range s.LineAge {
		if i < len(child.LineAge) {
			s.LineAge[i].Append(&child.LineAge[i])
		}
	}

	for i := range s.BranchAge {
		if i < len(child.BranchAge) {
			s.BranchAge[i].Append(&child.BranchAge[i])
		}
	}

	for i := range s.FunctionAge {
		if i < len(child.FunctionAge) {
			s.FunctionAge[i].Append(&child.FunctionAge[i])
		}
	}

	for name, oc := range child.Owners {
		mine := s.owner(name)
		mine.Line.Append(&oc.Line)
		mine.Branch.Append(&oc.Branch)
	}
}

// OwnerNames returns the owners sorted by name.
func (s *Summary) OwnerNames() []string {
	out := make([]string, 0, len(s.Owners))
	for name := range s.Owners {
		out = append(out, name)
	}

	sort.Strings(out)

	return out
}
