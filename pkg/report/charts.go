package report

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/Sumatoshi-tech/deltacov/pkg/scheduler"
	"github.com/Sumatoshi-tech/deltacov/pkg/tla"
)

// chartCategories are the categories shown in the stacked per-directory
// bar, ordered so gains sit next to losses.
var chartCategories = []tla.TLA{
	tla.GNC, tla.UNC, tla.GIC, tla.UIC,
	tla.CBC, tla.GBC, tla.LBC, tla.UBC,
}

// writeCharts renders the chart page: a stacked category bar per directory
// and the age-bin coverage bar.
func (e *Emitter) writeCharts(res *scheduler.Result) error {
	page := components.NewPage()
	page.PageTitle = e.Title

	if bar := e.categoryBar(res); bar != nil {
		page.AddCharts(bar)
	}

	if bar := e.ageBar(res); bar != nil {
		page.AddCharts(bar)
	}

	f, err := os.Create(filepath.Join(e.OutDir, "charts.html"))
	if err != nil {
		return fmt.Errorf("create charts page: %w", err)
	}

	if err := page.Render(f); err != nil {
		f.Close()

		return fmt.Errorf("render charts page: %w", err)
	}

	if err := f.Close(); err != nil {
		return fmt.Errorf("close charts page: %w", err)
	}

	return nil
}

func (e *Emitter) categoryBar(res *scheduler.Result) *charts.Bar {
	if len(res.Directories) == 0 {
		return nil
	}

	names := make([]string, 0, len(res.Directories))
	for name := range res.Directories {
		names = append(names, name)
	}

	sort.Strings(names)

	bar := charts.NewBar()
	bar.SetGlobalOptions(
		charts.WithTitleOpts(opts.Title{Title: "Categories by directory"}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
	)
	bar.SetXAxis(names)

	for _, cat := range chartCategories {
		values := make([]opts.BarData, 0, len(names))

		populated := false

		for _, name := range names {
			n := res.Directories[name].Line.PerTLA[cat]
			if n > 0 {
				populated = true
			}

			values = append(values, opts.BarData{Value: n})
		}

		if !populated {
			continue
		}

		bar.AddSeries(cat.String(), values)
	}

	bar.SetSeriesOptions(charts.WithBarChartOpts(opts.BarChart{Stack: "tla"}))

	return bar
}

func (e *Emitter) ageBar(res *scheduler.Result) *charts.Bar {
	if res.Top == nil {
		return nil
	}

	labels := make([]string, 0, len(res.Top.LineAge))
	hit := make([]opts.BarData, 0, len(res.Top.LineAge))
	missed := make([]opts.BarData, 0, len(res.Top.LineAge))

	for i, bin := range res.Top.LineAge {
		labels = append(labels, e.Policy.DateBins.Label(i))
		hit = append(hit, opts.BarData{Value: bin.Hit})
		missed = append(missed, opts.BarData{Value: bin.Found - bin.Hit})
	}

	bar := charts.NewBar()
	bar.SetGlobalOptions(
		charts.WithTitleOpts(opts.Title{Title: "Coverage by line age"}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
	)
	bar.SetXAxis(labels)
	bar.AddSeries("hit", hit)
	bar.AddSeries("missed", missed)
	bar.SetSeriesOptions(charts.WithBarChartOpts(opts.BarChart{Stack: "age"}))

	return bar
}
