package categorize

import (
	"sort"

	"github.com/Sumatoshi-tech/deltacov/pkg/diag"
	"github.com/Sumatoshi-tech/deltacov/pkg/diffmap"
	"github.com/Sumatoshi-tech/deltacov/pkg/policy"
	"github.com/Sumatoshi-tech/deltacov/pkg/tla"
	"github.com/Sumatoshi-tech/deltacov/pkg/tracefile"
)

// categorizeBranches runs the branch pass. Branches of unchanged lines are
// zipped against the baseline by block id and positional index within the
// block; branches of inserted lines are categorized standalone; branches of
// deleted baseline lines land on the ghost record.
func categorizeBranches(in Input, res *Result) error {
	if !in.Policy.BranchCoverage {
		return nil
	}

	if in.Curr != nil {
		if err := currentBranches(in, res); err != nil {
			return err
		}
	}

	if in.Base != nil {
		if err := baselineBranches(in, res); err != nil {
			return err
		}
	}

	return nil
}

func currentBranches(in Input, res *Result) error {
	for _, line := range sortedBranchLines(in.Curr.Branches) {
		branches := in.Curr.Branches[line]

		if dropBranches(in, line) {
			continue
		}

		kind := in.Diff.Kind(in.Path, diffmap.SideNew, line)

		switch kind {
		case diffmap.Insert:
			rec := res.record(LineKey{Line: line}, kind)
			for _, b := range branches {
				rec.Branches = append(rec.Branches, BranchRecord{
					Block: b.Block, Branch: b.Branch,
					CurrCount: b.Taken, HasCurr: true,
					Cat: tla.ForInsert(b.Taken),
				})
			}

		case diffmap.Equal:
			var baseBranches []tracefile.Branch

			baseLine, exact := in.Diff.Lookup(in.Path, diffmap.SideNew, line)
			if exact && in.Base != nil {
				baseBranches = in.Base.Branches[baseLine]
			}

			rec := res.record(LineKey{Line: line}, kind)
			rec.Branches = append(rec.Branches, zipBranches(baseBranches, branches)...)

		case diffmap.Delete:
			if err := in.Reporter.Report(diag.KindInconsistent,
				"%s:%d: current branch data on a deleted line", in.Path, line); err != nil {
				return err
			}
		}
	}

	return nil
}

func baselineBranches(in Input, res *Result) error {
	for _, baseLine := range sortedBranchLines(in.Base.Branches) {
		branches := in.Base.Branches[baseLine]
		kind := in.Diff.Kind(in.Path, diffmap.SideOld, baseLine)

		switch kind {
		case diffmap.Delete:
			rec := res.record(LineKey{Ghost: true, Line: baseLine}, diffmap.Delete)
			for _, b := range branches {
				rec.Branches = append(rec.Branches, BranchRecord{
					Block: b.Block, Branch: b.Branch,
					BaseCount: b.Taken, HasBase: true,
					Cat: tla.ForDelete(b.Taken),
				})
			}

		case diffmap.Equal:
			currLine, exact := in.Diff.Lookup(in.Path, diffmap.SideOld, baseLine)
			if !exact {
				if err := in.Reporter.Report(diag.KindUnmapped,
					"%s: baseline branches on line %d have no current mapping", in.Path, baseLine); err != nil {
					return err
				}

				continue
			}

			if dropBranches(in, currLine) {
				continue
			}

			// Lines whose current side carries branch data were zipped
			// in the current pass.
			if in.Curr != nil && len(in.Curr.Branches[currLine]) > 0 {
				continue
			}

			rec := res.record(LineKey{Line: currLine}, diffmap.Equal)
			for _, b := range branches {
				rec.Branches = append(rec.Branches, BranchRecord{
					Block: b.Block, Branch: b.Branch,
					BaseCount: b.Taken, HasBase: true,
					Cat: tla.ForOnlyBase(b.Taken),
				})
			}

		case diffmap.Insert:
			if err := in.Reporter.Report(diag.KindInconsistent,
				"%s: baseline branch data on inserted line %d", in.Path, baseLine); err != nil {
				return err
			}
		}
	}

	return nil
}

// zipBranches aligns baseline and current branch lists block by block, then
// by position within the block. A branch present on only one side is
// categorized like a coverpoint measured in only that revision.
func zipBranches(base, curr []tracefile.Branch) []BranchRecord {
	blocks := make(map[uint32]struct{})
	baseByBlock := make(map[uint32][]tracefile.Branch)
	currByBlock := make(map[uint32][]tracefile.Branch)

	for _, b := range base {
		blocks[b.Block] = struct{}{}
		baseByBlock[b.Block] = append(baseByBlock[b.Block], b)
	}

	for _, b := range curr {
		blocks[b.Block] = struct{}{}
		currByBlock[b.Block] = append(currByBlock[b.Block], b)
	}

	blockIDs := make([]uint32, 0, len(blocks))
	for id := range blocks {
		blockIDs = append(blockIDs, id)
	}

	sort.Slice(blockIDs, func(i, j int) bool { return blockIDs[i] < blockIDs[j] })

	var out []BranchRecord

	for _, id := range blockIDs {
		baseList := baseByBlock[id]
		currList := currByBlock[id]

		n := len(baseList)
		if len(currList) > n {
			n = len(currList)
		}

		for i := 0; i < n; i++ {
			switch {
			case i < len(baseList) && i < len(currList):
				out = append(out, BranchRecord{
					Block: id, Branch: currList[i].Branch,
					BaseCount: baseList[i].Taken, CurrCount: currList[i].Taken,
					HasBase: true, HasCurr: true,
					Cat: tla.ForEqualPair(baseList[i].Taken, currList[i].Taken),
				})
			case i < len(currList):
				out = append(out, BranchRecord{
					Block: id, Branch: currList[i].Branch,
					CurrCount: currList[i].Taken, HasCurr: true,
					Cat: tla.ForOnlyCurrent(currList[i].Taken),
				})
			default:
				out = append(out, BranchRecord{
					Block: id, Branch: baseList[i].Branch,
					BaseCount: baseList[i].Taken, HasBase: true,
					Cat: tla.ForOnlyBase(baseList[i].Taken),
				})
			}
		}
	}

	return out
}

// dropBranches applies the branch content filter to a current line.
func dropBranches(in Input, line uint32) bool {
	if in.Text == nil || !in.Policy.Filters.Has(policy.FilterBranchNoCond) {
		return false
	}

	return !in.Text.ContainsConditional(line)
}

func sortedBranchLines(m map[uint32][]tracefile.Branch) []uint32 {
	out := make([]uint32, 0, len(m))
	for line := range m {
		out = append(out, line)
	}

	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })

	return out
}
