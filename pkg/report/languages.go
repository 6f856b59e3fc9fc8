package report

import (
	"sort"

	"github.com/src-d/enry/v2"

	"github.com/Sumatoshi-tech/deltacov/pkg/scheduler"
	"github.com/Sumatoshi-tech/deltacov/pkg/summary"
)

// LanguageBreakdown aggregates file summaries by detected language. The
// detection runs on the file name plus its first lines, which is enough for
// the classifier to separate headers from implementation files.
func LanguageBreakdown(res *scheduler.Result) map[string]*summary.Counts {
	out := make(map[string]*summary.Counts)

	for path, file := range res.Files {
		var sample []byte

		for i, line := range file.Lines {
			if i >= 16 {
				break
			}

			sample = append(sample, line.Text...)
			sample = append(sample, '\n')
		}

		lang := enry.GetLanguage(path, sample)
		if lang == "" {
			lang = "Other"
		}

		counts, ok := out[lang]
		if !ok {
			counts = &summary.Counts{}
			out[lang] = counts
		}

		counts.Append(&file.Summary.Line)
	}

	return out
}

// LanguageNames returns the detected languages sorted by descending found
// count, name as tiebreak.
func LanguageNames(breakdown map[string]*summary.Counts) []string {
	out := make([]string, 0, len(breakdown))
	for name := range breakdown {
		out = append(out, name)
	}

	sort.Slice(out, func(i, j int) bool {
		if breakdown[out[i]].Found != breakdown[out[j]].Found {
			return breakdown[out[i]].Found > breakdown[out[j]].Found
		}

		return out[i] < out[j]
	})

	return out
}
