// Package config loads and validates the report configuration from the
// config file, environment, and CLI flags.
package config

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"

	"github.com/Sumatoshi-tech/deltacov/pkg/diag"
	"github.com/Sumatoshi-tech/deltacov/pkg/policy"
)

// Sentinel validation errors.
var (
	ErrNoTraceFile      = errors.New("a current trace file is required")
	ErrBaselineNeedsRef = errors.New("baseline_file requires diff_file or baseline_dir")
	ErrInvalidDateBins  = errors.New("date_bins must be ascending positive day counts")
	ErrInvalidParallel  = errors.New("parallel must be non-negative")
	ErrInvalidMemory    = errors.New("memory must be a size like 512MB")
	ErrUnknownErrorKind = errors.New("unknown diagnostic kind in ignore_errors")
)

// Defaults.
const (
	defaultOutputDir = "coverage-report"
	defaultTitle     = "differential coverage"
	defaultDateBins  = "7,30,180"
	defaultMaxCount  = diag.DefaultMaxCount
)

// Config is the flat option table of one invocation.
type Config struct {
	// Inputs.
	TraceFile    string `mapstructure:"trace_file"`
	BaselineFile string `mapstructure:"baseline_file"`
	DiffFile     string `mapstructure:"diff_file"`
	BaselineDir  string `mapstructure:"baseline_dir"`
	SourceDir    string `mapstructure:"source_dir"`
	Strip        int    `mapstructure:"strip"`

	// Outputs.
	OutputDir string `mapstructure:"output_dir"`
	Title     string `mapstructure:"title"`
	Format    string `mapstructure:"format"`
	NoColor   bool   `mapstructure:"no_color"`

	// External programs.
	AnnotateScript string `mapstructure:"annotate_script"`
	GitBlame       bool   `mapstructure:"git_blame"`
	CriteriaScript string `mapstructure:"criteria_script"`
	VersionScript  string `mapstructure:"version_script"`

	// Categorization.
	DateBins          string `mapstructure:"date_bins"`
	BranchCoverage    bool   `mapstructure:"branch_coverage"`
	FunctionCoverage  bool   `mapstructure:"function_coverage"`
	Hierarchical      bool   `mapstructure:"hierarchical"`
	ElidePathMismatch bool   `mapstructure:"elide_path_mismatch"`
	NewFileAsBaseline bool   `mapstructure:"new_file_as_baseline"`
	Filter            string `mapstructure:"filter"`

	// Ingest filters.
	Include    []string `mapstructure:"include"`
	Exclude    []string `mapstructure:"exclude"`
	Substitute []string `mapstructure:"substitute"`
	OmitLines  []string `mapstructure:"omit_lines"`

	// Execution.
	Parallel int    `mapstructure:"parallel"`
	Memory   string `mapstructure:"memory"`
	Preserve bool   `mapstructure:"preserve"`

	// Diagnostics.
	StopOnError     bool     `mapstructure:"stop_on_error"`
	IgnoreErrors    []string `mapstructure:"ignore_errors"`
	MaxMessageCount int      `mapstructure:"max_message_count"`

	// Logging.
	Verbose bool `mapstructure:"verbose"`
	Quiet   bool `mapstructure:"quiet"`
	LogJSON bool `mapstructure:"log_json"`
}

// Validate checks cross-field consistency.
func (c *Config) Validate() error {
	if c.TraceFile == "" {
		return ErrNoTraceFile
	}

	if c.BaselineFile != "" && c.DiffFile == "" && c.BaselineDir == "" {
		return ErrBaselineNeedsRef
	}

	if c.Parallel < 0 {
		return ErrInvalidParallel
	}

	if _, err := c.ParseDateBins(); err != nil {
		return err
	}

	if _, err := c.MemoryMB(); err != nil {
		return err
	}

	for _, name := range c.IgnoreErrors {
		if _, ok := diag.ParseKind(name); !ok {
			return fmt.Errorf("%w: %q", ErrUnknownErrorKind, name)
		}
	}

	return nil
}

// ParseDateBins decodes the comma-separated day cutpoints.
func (c *Config) ParseDateBins() ([]int, error) {
	spec := c.DateBins
	if spec == "" {
		spec = defaultDateBins
	}

	var out []int

	for _, field := range strings.Split(spec, ",") {
		v, err := strconv.Atoi(strings.TrimSpace(field))
		if err != nil || v <= 0 {
			return nil, fmt.Errorf("%w: %q", ErrInvalidDateBins, spec)
		}

		if len(out) > 0 && v <= out[len(out)-1] {
			return nil, fmt.Errorf("%w: %q", ErrInvalidDateBins, spec)
		}

		out = append(out, v)
	}

	return out, nil
}

// MemoryMB decodes the soft memory cap; zero means uncapped.
func (c *Config) MemoryMB() (uint64, error) {
	if c.Memory == "" || c.Memory == "0" {
		return 0, nil
	}

	bytes, err := humanize.ParseBytes(c.Memory)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidMemory, c.Memory)
	}

	return bytes / humanize.MByte, nil
}

// BuildPolicy assembles the immutable Policy from the validated config.
func (c *Config) BuildPolicy() (*policy.Policy, error) {
	cutpoints, err := c.ParseDateBins()
	if err != nil {
		return nil, err
	}

	bins, err := policy.NewAgeBins(cutpoints)
	if err != nil {
		return nil, err
	}

	filters, err := policy.ParseFilters(c.Filter)
	if err != nil {
		return nil, err
	}

	return &policy.Policy{
		Differential:      c.BaselineFile != "",
		DateBins:          bins,
		BranchCoverage:    c.BranchCoverage,
		FunctionCoverage:  c.FunctionCoverage,
		Hierarchical:      c.Hierarchical,
		ElidePathMismatch: c.ElidePathMismatch,
		NewFileAsBaseline: c.NewFileAsBaseline,
		Filters:           filters,
		DiffStrip:         c.Strip,
		Preserve:          c.Preserve,
	}, nil
}

// ReporterOptions derives the diagnostic policy: ignored kinds from
// ignore_errors, everything else fatal under stop_on_error, and the message
// cap.
func (c *Config) ReporterOptions() []diag.Option {
	opts := []diag.Option{}

	maxCount := c.MaxMessageCount
	if maxCount == 0 {
		maxCount = defaultMaxCount
	}

	opts = append(opts, diag.WithMaxCount(maxCount))

	if c.StopOnError {
		for _, kind := range diag.Kinds() {
			opts = append(opts, diag.WithSeverity(kind, diag.Fatal))
		}
	}

	for _, name := range c.IgnoreErrors {
		if kind, ok := diag.ParseKind(name); ok {
			opts = append(opts, diag.WithSeverity(kind, diag.Ignore))
		}
	}

	return opts
}
