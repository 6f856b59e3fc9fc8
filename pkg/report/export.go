package report

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/Sumatoshi-tech/deltacov/pkg/criteria"
	"github.com/Sumatoshi-tech/deltacov/pkg/scheduler"
)

// exportNode is one node of the machine-readable summary.
type exportNode struct {
	Name string                       `json:"name" yaml:"name"`
	Kind string                       `json:"kind" yaml:"kind"`
	Data map[string]map[string]uint64 `json:"coverage" yaml:"coverage"`
}

// exportDoc is the machine-readable report.
type exportDoc struct {
	Top         *exportNode  `json:"top" yaml:"top"`
	Directories []exportNode `json:"directories" yaml:"directories"`
	Files       []exportNode `json:"files" yaml:"files"`
}

func buildExport(res *scheduler.Result) exportDoc {
	var doc exportDoc

	if res.Top != nil {
		doc.Top = &exportNode{
			Name: "top",
			Kind: res.Top.Kind.String(),
			Data: criteria.Payload(res.Top),
		}
	}

	dirNames := make([]string, 0, len(res.Directories))
	for name := range res.Directories {
		dirNames = append(dirNames, name)
	}

	sort.Strings(dirNames)

	for _, name := range dirNames {
		dir := res.Directories[name]
		doc.Directories = append(doc.Directories, exportNode{
			Name: name,
			Kind: dir.Kind.String(),
			Data: criteria.Payload(dir),
		})
	}

	for _, path := range sortedFilePaths(res) {
		file := res.Files[path]
		doc.Files = append(doc.Files, exportNode{
			Name: path,
			Kind: file.Summary.Kind.String(),
			Data: criteria.Payload(file.Summary),
		})
	}

	return doc
}

// WriteJSON exports the summary tree as indented JSON.
func WriteJSON(w io.Writer, res *scheduler.Result) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")

	if err := enc.Encode(buildExport(res)); err != nil {
		return fmt.Errorf("encode json summary: %w", err)
	}

	return nil
}

// WriteYAML exports the summary tree as YAML.
func WriteYAML(w io.Writer, res *scheduler.Result) error {
	enc := yaml.NewEncoder(w)
	defer enc.Close()

	if err := enc.Encode(buildExport(res)); err != nil {
		return fmt.Errorf("encode yaml summary: %w", err)
	}

	return nil
}
