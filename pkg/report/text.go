package report

import (
	"fmt"
	"io"
	"path"
	"sort"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"github.com/jedib0t/go-pretty/v6/table"

	"github.com/Sumatoshi-tech/deltacov/pkg/scheduler"
	"github.com/Sumatoshi-tech/deltacov/pkg/summary"
	"github.com/Sumatoshi-tech/deltacov/pkg/tla"
)

// lowCoverageThreshold marks rows red in the terminal summary.
const lowCoverageThreshold = 50.0

// WriteText renders the terminal summary table: one row per directory and
// a totals row, with the differential category counts that are present.
func WriteText(w io.Writer, res *scheduler.Result, noColor bool) {
	good := color.New(color.FgGreen)
	bad := color.New(color.FgRed)

	if noColor {
		good.DisableColor()
		bad.DisableColor()
	}

	tw := table.NewWriter()
	tw.SetOutputMirror(w)
	tw.AppendHeader(table.Row{"Directory", "Files", "Lines", "Coverage"})

	names := make([]string, 0, len(res.Directories))
	for name := range res.Directories {
		names = append(names, name)
	}

	sort.Strings(names)

	fileCounts := make(map[string]int)
	for p := range res.Files {
		fileCounts[path.Dir(p)]++
	}

	for _, name := range names {
		dir := res.Directories[name]
		pct := summary.Percent(&dir.Line)

		label := good.Sprintf("%.1f%%", pct)
		if pct < lowCoverageThreshold {
			label = bad.Sprintf("%.1f%%", pct)
		}

		tw.AppendRow(table.Row{
			name,
			fileCounts[name],
			fmt.Sprintf("%s / %s", humanize.Comma(int64(dir.Line.Hit)), humanize.Comma(int64(dir.Line.Found))),
			label,
		})
	}

	if res.Top != nil {
		tw.AppendFooter(table.Row{
			"total",
			len(res.Files),
			fmt.Sprintf("%s / %s", humanize.Comma(int64(res.Top.Line.Hit)), humanize.Comma(int64(res.Top.Line.Found))),
			fmt.Sprintf("%.1f%%", summary.Percent(&res.Top.Line)),
		})
	}

	tw.Render()

	if res.Top == nil {
		return
	}

	// Differential category counts, only the populated ones.
	for _, cat := range tla.All() {
		if n := res.Top.Line.PerTLA[cat]; n > 0 {
			fmt.Fprintf(w, "  %s: %d\n", cat, n)
		}
	}
}
