// Package tla defines the closed set of differential coverage categories.
//
// Every coverpoint (line, branch, or function) is assigned exactly one
// three-letter category describing where it lives relative to the code
// change (inserted, deleted, or carried over) and how its coverage moved
// between the baseline and current traces.
package tla

import "fmt"

// TLA is a differential coverage category.
type TLA uint8

// The twelve categories. The order is fixed: per-category counters are
// stored in arrays indexed by TLA.
const (
	// GNC marks a covered line that is new in the current revision.
	GNC TLA = iota
	// UNC marks an uncovered line that is new in the current revision.
	UNC
	// GIC marks a line measured only in the current trace, covered.
	GIC
	// UIC marks a line measured only in the current trace, uncovered.
	UIC
	// CBC marks a line covered in both baseline and current.
	CBC
	// GBC marks a line uncovered in baseline that gained coverage.
	GBC
	// LBC marks a line covered in baseline that lost coverage.
	LBC
	// UBC marks a line uncovered in both baseline and current.
	UBC
	// ECB marks a baseline-covered line no longer measured in current.
	ECB
	// EUB marks a baseline-uncovered line no longer measured in current.
	EUB
	// DCB marks a deleted line that was covered in baseline.
	DCB
	// DUB marks a deleted line that was uncovered in baseline.
	DUB

	// Count is the size of the closed category set.
	Count = 12
)

var names = [Count]string{
	"GNC", "UNC", "GIC", "UIC", "CBC", "GBC", "LBC", "UBC", "ECB", "EUB", "DCB", "DUB",
}

// String returns the three-letter name of the category.
func (t TLA) String() string {
	if !t.Valid() {
		return fmt.Sprintf("TLA(%d)", uint8(t))
	}

	return names[t]
}

// Valid reports whether t is a member of the closed set.
func (t TLA) Valid() bool {
	return t < Count
}

// Parse returns the category named by s.
func Parse(s string) (TLA, bool) {
	for i, name := range names {
		if name == s {
			return TLA(i), true
		}
	}

	return 0, false
}

// All lists every category in array order.
func All() [Count]TLA {
	var out [Count]TLA
	for i := range out {
		out[i] = TLA(i)
	}

	return out
}

// InSource reports whether the coverpoint has a line number in the current
// revision and therefore appears in the source-detail view. Only the two
// deleted categories live purely in the baseline.
func (t TLA) InSource() bool {
	return t != DCB && t != DUB
}

// Counted reports whether the category contributes to the "found" total of
// a summary: the eight categories instrumented in the current trace.
// Excluded (ECB, EUB) and deleted (DCB, DUB) coverpoints are tallied per
// category but are not part of the current totals.
func (t TLA) Counted() bool {
	switch t {
	case GNC, UNC, GIC, UIC, CBC, GBC, LBC, UBC:
		return true
	case ECB, EUB, DCB, DUB:
		return false
	}

	return false
}

// Hit reports whether the category contributes to the "hit" total.
func (t TLA) Hit() bool {
	switch t {
	case GNC, GIC, CBC, GBC:
		return true
	}

	return false
}

// ForInsert categorizes a coverpoint on an inserted line.
func ForInsert(currCount uint64) TLA {
	if currCount > 0 {
		return GNC
	}

	return UNC
}

// ForDelete categorizes a coverpoint on a deleted baseline line.
func ForDelete(baseCount uint64) TLA {
	if baseCount > 0 {
		return DCB
	}

	return DUB
}

// ForEqualPair categorizes a coverpoint measured in both revisions of an
// unchanged line.
func ForEqualPair(baseCount, currCount uint64) TLA {
	switch {
	case baseCount > 0 && currCount > 0:
		return CBC
	case baseCount == 0 && currCount > 0:
		return GBC
	case baseCount > 0 && currCount == 0:
		return LBC
	}

	return UBC
}

// ForOnlyBase categorizes a coverpoint on an unchanged line measured only
// in the baseline trace.
func ForOnlyBase(baseCount uint64) TLA {
	if baseCount > 0 {
		return ECB
	}

	return EUB
}

// ForOnlyCurrent categorizes a coverpoint on an unchanged line measured
// only in the current trace.
func ForOnlyCurrent(currCount uint64) TLA {
	if currCount > 0 {
		return GIC
	}

	return UIC
}

// Legacy reduces a category to the two-element set used when no baseline
// trace is configured: every measured coverpoint is either GNC or UNC.
func Legacy(currCount uint64) TLA {
	return ForInsert(currCount)
}
