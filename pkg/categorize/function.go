package categorize

import (
	"sort"

	"github.com/Sumatoshi-tech/deltacov/pkg/diag"
	"github.com/Sumatoshi-tech/deltacov/pkg/diffmap"
	"github.com/Sumatoshi-tech/deltacov/pkg/policy"
	"github.com/Sumatoshi-tech/deltacov/pkg/tla"
	"github.com/Sumatoshi-tech/deltacov/pkg/tracefile"
)

// categorizeFunctions runs the function pass. Functions sharing a declaring
// line form an alias group whose leader carries the merged hit count; the
// leader's category always derives from the merged count, and each alias
// keeps its own unless the alias filter merges them away.
func categorizeFunctions(in Input, res *Result) error {
	if !in.Policy.FunctionCoverage {
		return nil
	}

	seen := make(map[string]struct{})

	if in.Curr != nil {
		if err := currentFunctions(in, res, seen); err != nil {
			return err
		}
	}

	if in.Base != nil {
		if err := baselineOnlyFunctions(in, res, seen); err != nil {
			return err
		}
	}

	return nil
}

func currentFunctions(in Input, res *Result, seen map[string]struct{}) error {
	groups := groupByLine(in.Curr.Functions)

	for _, line := range sortedGroupLines(groups) {
		names := groups[line]
		sort.Strings(names)

		for _, name := range names {
			seen[name] = struct{}{}
		}

		var (
			mergedCurr uint64
			mergedBase uint64
			anyBase    bool
		)

		for _, name := range names {
			mergedCurr += in.Curr.Functions[name].Hits

			if in.Base != nil {
				if baseFn, ok := in.Base.Functions[name]; ok {
					mergedBase += baseFn.Hits
					anyBase = true
				}
			}
		}

		kind := in.Diff.Kind(in.Path, diffmap.SideNew, line)
		if line == 0 {
			kind = in.Diff.DefaultKind()
		}

		cat, err := functionCat(in, kind, mergedBase, anyBase, mergedCurr, true)
		if err != nil {
			return err
		}

		fn := &FunctionRecord{
			Name: names[0],
			Line: line,
			Hits: mergedCurr,
			Cat:  cat,
		}

		if len(names) > 1 && !in.Policy.Filters.Has(policy.FilterFunctionAlias) {
			for _, name := range names {
				hits := in.Curr.Functions[name].Hits

				aliasBase, aliasHasBase := uint64(0), false
				if in.Base != nil {
					if baseFn, ok := in.Base.Functions[name]; ok {
						aliasBase, aliasHasBase = baseFn.Hits, true
					}
				}

				aliasCat, catErr := functionCat(in, kind, aliasBase, aliasHasBase, hits, true)
				if catErr != nil {
					return catErr
				}

				fn.Aliases = append(fn.Aliases, FunctionAlias{Name: name, Hits: hits, Cat: aliasCat})
			}
		}

		attachFunction(res, fn, line, kind)
	}

	return nil
}

// baselineOnlyFunctions handles functions present only in the baseline
// trace: deleted with their line, or excluded from current measurement.
func baselineOnlyFunctions(in Input, res *Result, seen map[string]struct{}) error {
	names := make([]string, 0, len(in.Base.Functions))

	for name := range in.Base.Functions {
		if _, ok := seen[name]; !ok {
			names = append(names, name)
		}
	}

	sort.Strings(names)

	for _, name := range names {
		baseFn := in.Base.Functions[name]

		kind := in.Diff.Kind(in.Path, diffmap.SideOld, baseFn.Line)
		if baseFn.Line == 0 {
			kind = diffmap.Equal
		}

		switch kind {
		case diffmap.Delete:
			fn := &FunctionRecord{
				Name: name,
				Line: baseFn.Line,
				Hits: baseFn.Hits,
				Cat:  tla.ForDelete(baseFn.Hits),
			}

			rec := res.record(LineKey{Ghost: true, Line: baseFn.Line}, diffmap.Delete)
			addOrAlias(rec, fn)

		case diffmap.Equal:
			currLine := baseFn.Line
			if baseFn.Line != 0 {
				mapped, exact := in.Diff.Lookup(in.Path, diffmap.SideOld, baseFn.Line)
				if !exact {
					if err := in.Reporter.Report(diag.KindUnmapped,
						"%s: baseline function %s has no current mapping", in.Path, name); err != nil {
						return err
					}

					continue
				}

				currLine = mapped
			}

			fn := &FunctionRecord{
				Name: name,
				Line: currLine,
				Hits: baseFn.Hits,
				Cat:  tla.ForOnlyBase(baseFn.Hits),
			}

			attachFunction(res, fn, currLine, diffmap.Equal)

		case diffmap.Insert:
			if err := in.Reporter.Report(diag.KindInconsistent,
				"%s: baseline function %s on inserted line %d", in.Path, name, baseFn.Line); err != nil {
				return err
			}
		}
	}

	return nil
}

// functionCat assigns a function category from merged counts. An invalid
// result would mean the zip above produced an impossible combination; that
// is an inconsistency, not a fallback to UNC.
func functionCat(in Input, kind diffmap.ChunkKind, baseHits uint64, hasBase bool, currHits uint64, hasCurr bool) (tla.TLA, error) {
	cat := tla.TLA(tla.Count)

	switch {
	case kind == diffmap.Insert:
		cat = tla.ForInsert(currHits)
	case kind == diffmap.Delete:
		cat = tla.ForDelete(baseHits)
	case hasBase && hasCurr:
		cat = tla.ForEqualPair(baseHits, currHits)
	case hasCurr:
		cat = tla.ForOnlyCurrent(currHits)
	case hasBase:
		cat = tla.ForOnlyBase(baseHits)
	}

	if !cat.Valid() {
		return 0, in.Reporter.Report(diag.KindInconsistent, "%s: function coverpoint with no category", in.Path)
	}

	return cat, nil
}

// attachFunction anchors a function record to its declaring line, or to the
// unanchored list when the line is unknown.
func attachFunction(res *Result, fn *FunctionRecord, line uint32, kind diffmap.ChunkKind) {
	if line == 0 {
		res.Unanchored = append(res.Unanchored, fn)

		return
	}

	rec := res.record(LineKey{Line: line}, kind)
	addOrAlias(rec, fn)
}

// addOrAlias sets the record's function, folding a second group on the
// same line into the first as aliases.
func addOrAlias(rec *LineRecord, fn *FunctionRecord) {
	if rec.Function == nil {
		rec.Function = fn

		return
	}

	rec.Function.Aliases = append(rec.Function.Aliases, FunctionAlias{
		Name: fn.Name,
		Hits: fn.Hits,
		Cat:  fn.Cat,
	})
	rec.Function.Aliases = append(rec.Function.Aliases, fn.Aliases...)
}

func groupByLine(functions map[string]*tracefile.Function) map[uint32][]string {
	groups := make(map[uint32][]string)

	for name, fn := range functions {
		groups[fn.Line] = append(groups[fn.Line], name)
	}

	return groups
}

func sortedGroupLines(groups map[uint32][]string) []uint32 {
	out := make([]uint32, 0, len(groups))
	for line := range groups {
		out = append(out, line)
	}

	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })

	return out
}
