package report

import (
	"fmt"
	"html/template"
	"log/slog"
	"os"
	"path/filepath"
	"sort"

	"github.com/Sumatoshi-tech/deltacov/pkg/policy"
	"github.com/Sumatoshi-tech/deltacov/pkg/scheduler"
	"github.com/Sumatoshi-tech/deltacov/pkg/srcfile"
	"github.com/Sumatoshi-tech/deltacov/pkg/summary"
	"github.com/Sumatoshi-tech/deltacov/pkg/tla"
)

// Emitter writes the static HTML site.
type Emitter struct {
	OutDir string
	Policy *policy.Policy
	Title  string
	Logger *slog.Logger
}

// Emit renders the index, the chart page, and one source page per file.
func (e *Emitter) Emit(res *scheduler.Result) error {
	if err := os.MkdirAll(e.OutDir, 0o750); err != nil {
		return fmt.Errorf("create output directory: %w", err)
	}

	if err := e.writeIndex(res); err != nil {
		return err
	}

	if err := e.writeCharts(res); err != nil {
		return err
	}

	for _, path := range sortedFilePaths(res) {
		if err := e.writeFilePage(res.Files[path]); err != nil {
			return err
		}
	}

	e.Logger.Info("report written", "dir", e.OutDir, "files", len(res.Files))

	return nil
}

// row is one line of the index summary table.
type row struct {
	Name     string
	Href     string
	Line     kindCells
	Branch   kindCells
	Function kindCells
}

type kindCells struct {
	Found   uint64
	Hit     uint64
	Percent float64
}

func cells(c *summary.Counts) kindCells {
	return kindCells{Found: c.Found, Hit: c.Hit, Percent: summary.Percent(c)}
}

type indexData struct {
	Title      string
	Top        *summary.Summary
	TopCells   kindCells
	Rows       []row
	Categories []categoryCount
	AgeBins    []ageBinRow
	Languages  []languageRow
	Branch     bool
	Function   bool
}

type categoryCount struct {
	Name  string
	Count uint64
}

type ageBinRow struct {
	Label string
	Line  kindCells
}

type languageRow struct {
	Name string
	Line kindCells
}

func (e *Emitter) writeIndex(res *scheduler.Result) error {
	data := indexData{
		Title:    e.Title,
		Top:      res.Top,
		Branch:   e.Policy.BranchCoverage,
		Function: e.Policy.FunctionCoverage,
	}

	if res.Top != nil {
		data.TopCells = cells(&res.Top.Line)

		for _, cat := range tla.All() {
			if n := res.Top.Line.PerTLA[cat]; n > 0 {
				data.Categories = append(data.Categories, categoryCount{Name: cat.String(), Count: n})
			}
		}

		for i := range res.Top.LineAge {
			data.AgeBins = append(data.AgeBins, ageBinRow{
				Label: e.Policy.DateBins.Label(i),
				Line:  cells(&res.Top.LineAge[i]),
			})
		}
	}

	dirNames := make([]string, 0, len(res.Directories))
	for name := range res.Directories {
		dirNames = append(dirNames, name)
	}

	// Sort by rate so the least-covered directories lead the table.
	sort.Slice(dirNames, func(i, j int) bool {
		ri := summary.RateOf(&res.Directories[dirNames[i]].Line)
		rj := summary.RateOf(&res.Directories[dirNames[j]].Line)

		if ri != rj {
			return ri < rj
		}

		return dirNames[i] < dirNames[j]
	})

	for _, name := range dirNames {
		dir := res.Directories[name]
		data.Rows = append(data.Rows, row{
			Name:     name,
			Line:     cells(&dir.Line),
			Branch:   cells(&dir.Branch),
			Function: cells(&dir.Function),
		})
	}

	for _, path := range sortedFilePaths(res) {
		file := res.Files[path]
		data.Rows = append(data.Rows, row{
			Name:     path,
			Href:     pagePath(path),
			Line:     cells(&file.Summary.Line),
			Branch:   cells(&file.Summary.Branch),
			Function: cells(&file.Summary.Function),
		})
	}

	langs := LanguageBreakdown(res)
	for _, name := range LanguageNames(langs) {
		data.Languages = append(data.Languages, languageRow{Name: name, Line: cells(langs[name])})
	}

	return e.render("index.html", indexTemplate, data)
}

// fileData drives one source page.
type fileData struct {
	Title    string
	Path     string
	BackHref string
	Cells    kindCells
	Lines    []fileLine
	NavLinks []navLink
	Owners   []string
	AgeBins  []string
}

type fileLine struct {
	No    uint32
	Text  string
	Owner string
	Age   string
	Count string
	Cat   string
}

type navLink struct {
	Label  string
	Anchor uint32
}

func (e *Emitter) writeFilePage(file *srcfile.File) error {
	lineCounts := LineCounts(WholeFile{File: file})

	data := fileData{
		Title:    e.Title,
		Path:     file.Path,
		BackHref: backHref(file.Path),
		Cells:    cells(&lineCounts),
		Owners:   file.Owners(),
	}

	for i := 0; i < e.Policy.DateBins.Count(); i++ {
		data.AgeBins = append(data.AgeBins, e.Policy.DateBins.Label(i))
	}

	// First-occurrence anchors per category, via the navigation index.
	for _, cat := range tla.All() {
		if !cat.InSource() {
			continue
		}

		if line, ok := file.NextTLAGroup(cat, 0); ok {
			data.NavLinks = append(data.NavLinks, navLink{Label: cat.String(), Anchor: line})
		}
	}

	for _, line := range file.Lines {
		fl := fileLine{No: line.No, Text: line.Text}

		if line.HasOwner {
			fl.Owner = line.Owner
		}

		if line.HasAge {
			fl.Age = fmt.Sprintf("%dd", line.Age)
		}

		if line.HasCount {
			fl.Count = fmt.Sprintf("%d", line.CurrCount)
		}

		if line.HasCat {
			fl.Cat = line.Cat.String()
		}

		data.Lines = append(data.Lines, fl)
	}

	return e.render(pagePath(file.Path), fileTemplate, data)
}

func (e *Emitter) render(rel string, tmpl *template.Template, data any) error {
	out := filepath.Join(e.OutDir, rel)

	if err := os.MkdirAll(filepath.Dir(out), 0o750); err != nil {
		return fmt.Errorf("create %s: %w", filepath.Dir(out), err)
	}

	f, err := os.Create(out)
	if err != nil {
		return fmt.Errorf("create %s: %w", out, err)
	}

	if err := tmpl.Execute(f, data); err != nil {
		f.Close()

		return fmt.Errorf("render %s: %w", rel, err)
	}

	if err := f.Close(); err != nil {
		return fmt.Errorf("close %s: %w", rel, err)
	}

	return nil
}

// backHref climbs from a mirrored page back to the report root.
func backHref(path string) string {
	href := "index.html"

	for i := 0; i < len(path); i++ {
		if path[i] == '/' {
			href = "../" + href
		}
	}

	return href
}

// pagePath mirrors the source tree inside the output directory.
func pagePath(path string) string {
	return path + ".html"
}

func sortedFilePaths(res *scheduler.Result) []string {
	out := make([]string, 0, len(res.Files))
	for path := range res.Files {
		out = append(out, path)
	}

	sort.Strings(out)

	return out
}

var indexTemplate = template.Must(template.New("index").Parse(`<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<title>{{.Title}}</title>
<style>
body { font-family: sans-serif; margin: 2em; }
table { border-collapse: collapse; }
td, th { border: 1px solid #ccc; padding: 0.3em 0.8em; }
th { background: #eee; }
.num { text-align: right; }
.cat { font-family: monospace; }
</style>
</head>
<body>
<h1>{{.Title}}</h1>
{{if .Top}}
<p>Total: {{.TopCells.Hit}} / {{.TopCells.Found}} lines ({{printf "%.1f" .TopCells.Percent}}%)</p>
{{end}}
<p><a href="charts.html">charts</a></p>
<h2>Summary</h2>
<table>
<tr><th>Name</th><th>Lines</th><th>%</th>{{if .Branch}}<th>Branches</th>{{end}}{{if .Function}}<th>Functions</th>{{end}}</tr>
{{range .Rows}}
<tr>
<td>{{if .Href}}<a href="{{.Href}}">{{.Name}}</a>{{else}}{{.Name}}{{end}}</td>
<td class="num">{{.Line.Hit}} / {{.Line.Found}}</td>
<td class="num">{{printf "%.1f" .Line.Percent}}</td>
{{if $.Branch}}<td class="num">{{.Branch.Hit}} / {{.Branch.Found}}</td>{{end}}
{{if $.Function}}<td class="num">{{.Function.Hit}} / {{.Function.Found}}</td>{{end}}
</tr>
{{end}}
</table>
{{if .Categories}}
<h2>Categories</h2>
<table>
<tr><th>Category</th><th>Count</th></tr>
{{range .Categories}}<tr><td class="cat">{{.Name}}</td><td class="num">{{.Count}}</td></tr>{{end}}
</table>
{{end}}
{{if .AgeBins}}
<h2>Age</h2>
<table>
<tr><th>Bin</th><th>Lines</th><th>%</th></tr>
{{range .AgeBins}}<tr><td>{{.Label}}</td><td class="num">{{.Line.Hit}} / {{.Line.Found}}</td><td class="num">{{printf "%.1f" .Line.Percent}}</td></tr>{{end}}
</table>
{{end}}
{{if .Languages}}
<h2>Languages</h2>
<table>
<tr><th>Language</th><th>Lines</th><th>%</th></tr>
{{range .Languages}}<tr><td>{{.Name}}</td><td class="num">{{.Line.Hit}} / {{.Line.Found}}</td><td class="num">{{printf "%.1f" .Line.Percent}}</td></tr>{{end}}
</table>
{{end}}
</body>
</html>
`))

var fileTemplate = template.Must(template.New("file").Parse(`<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<title>{{.Path}} - {{.Title}}</title>
<style>
body { font-family: sans-serif; margin: 2em; }
pre { margin: 0; }
table { border-collapse: collapse; font-family: monospace; }
td { padding: 0 0.6em; white-space: pre; }
.no { text-align: right; color: #888; }
.GNC, .GIC, .CBC, .GBC { background: #cfc; }
.UNC, .UIC, .LBC, .UBC { background: #fcc; }
.ECB, .EUB { background: #eee; }
.meta { color: #666; }
</style>
</head>
<body>
<h1>{{.Path}}</h1>
<p>{{.Cells.Hit}} / {{.Cells.Found}} lines ({{printf "%.1f" .Cells.Percent}}%)</p>
{{if .NavLinks}}
<p>{{range .NavLinks}}<a href="#L{{.Anchor}}">{{.Label}}</a> {{end}}</p>
{{end}}
<table>
{{range .Lines}}
<tr id="L{{.No}}" {{if .Cat}}class="{{.Cat}}"{{end}}>
<td class="no">{{.No}}</td>
<td class="meta">{{.Owner}}</td>
<td class="meta">{{.Age}}</td>
<td class="no">{{.Count}}</td>
<td class="meta">{{.Cat}}</td>
<td>{{.Text}}</td>
</tr>
{{end}}
</table>
<p><a href="{{.BackHref}}">back to index</a></p>
</body>
</html>
`))
