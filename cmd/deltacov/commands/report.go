// Package commands implements CLI command handlers for deltacov.
package commands

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"

	"github.com/Sumatoshi-tech/deltacov/internal/config"
	"github.com/Sumatoshi-tech/deltacov/pkg/criteria"
	"github.com/Sumatoshi-tech/deltacov/pkg/diag"
	"github.com/Sumatoshi-tech/deltacov/pkg/diffmap"
	"github.com/Sumatoshi-tech/deltacov/pkg/engine"
	"github.com/Sumatoshi-tech/deltacov/pkg/observability"
	"github.com/Sumatoshi-tech/deltacov/pkg/policy"
	"github.com/Sumatoshi-tech/deltacov/pkg/report"
	"github.com/Sumatoshi-tech/deltacov/pkg/scheduler"
	"github.com/Sumatoshi-tech/deltacov/pkg/source"
	"github.com/Sumatoshi-tech/deltacov/pkg/tracefile"
)

// ErrReportFailed marks a run whose criteria failed or that raised a
// parallel error; the diagnostics were already printed.
var ErrReportFailed = errors.New("report failed")

// NewReportCommand builds the main report command.
func NewReportCommand() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "report",
		Short: "Render a differential coverage report",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(configPath, cmd.Flags())
			if err != nil {
				return err
			}

			return runReport(cmd.Context(), cfg)
		},
	}

	flags := cmd.Flags()

	flags.StringVar(&configPath, "config", "", "config file path")

	flags.String("trace-file", "", "current coverage trace file")
	flags.String("baseline-file", "", "baseline coverage trace file (enables differential mode)")
	flags.String("diff-file", "", "unified diff between baseline and current sources")
	flags.String("baseline-dir", "", "baseline source tree (diff is synthesized)")
	flags.String("source-dir", "", "root for resolving relative source paths")
	flags.Int("strip", 0, "leading path components stripped from diff entries")

	flags.String("output-dir", "", "report output directory")
	flags.String("title", "", "report title")
	flags.String("format", "", "output format: html, text, json, yaml")
	flags.Bool("no-color", false, "disable colored terminal output")

	flags.String("annotate-script", "", "per-file annotation command")
	flags.Bool("git-blame", false, "annotate through git blame")
	flags.String("criteria-script", "", "per-node coverage criteria command")
	flags.String("version-script", "", "per-file version check command")

	flags.String("date-bins", "", "age bin cutpoints in days, e.g. 7,30,180")
	flags.Bool("branch-coverage", true, "track branch coverage")
	flags.Bool("function-coverage", true, "track function coverage")
	flags.Bool("hierarchical", false, "nested directory rollup")
	flags.Bool("elide-path-mismatch", false, "re-key unambiguous basename-only diff matches")
	flags.Bool("new-file-as-baseline", false, "treat newly measured old files as baseline")
	flags.String("filter", "", "post-ingest filters: brace,blank,range,branch,function")

	flags.StringSlice("include", nil, "trace path include globs")
	flags.StringSlice("exclude", nil, "trace path exclude globs")
	flags.StringSlice("substitute", nil, "trace path substitutions, s/pattern/replacement/")
	flags.StringSlice("omit-lines", nil, "drop coverage on lines matching these patterns")

	flags.Int("parallel", 0, "worker ceiling, 0 = host concurrency")
	flags.String("memory", "", "soft memory cap, e.g. 512MB")
	flags.Bool("preserve", false, "keep the temp directory")

	flags.Bool("stop-on-error", false, "treat every diagnostic as fatal")
	flags.StringSlice("ignore-errors", nil, "diagnostic kinds to ignore")
	flags.Int("max-message-count", 0, "per-kind diagnostic message cap")

	flags.Bool("verbose", false, "debug logging")
	flags.Bool("quiet", false, "errors only")
	flags.Bool("log-json", false, "JSON log output")

	return cmd
}

func runReport(ctx context.Context, cfg *config.Config) error {
	logger := buildLogger(cfg)

	// No exporter: the spans exist so log records carry trace context.
	tp := sdktrace.NewTracerProvider()
	defer tp.Shutdown(context.Background()) //nolint:errcheck // shutdown of an exporterless provider.

	otel.SetTracerProvider(tp)

	tracer := tp.Tracer("deltacov")

	ctx, rootSpan := tracer.Start(ctx, "report")
	defer rootSpan.End()

	rep := diag.NewReporter(os.Stderr, cfg.ReporterOptions()...)

	pol, err := cfg.BuildPolicy()
	if err != nil {
		return err
	}

	filters, err := tracefile.NewFilters(cfg.Include, cfg.Exclude, cfg.Substitute, cfg.OmitLines)
	if err != nil {
		return err
	}

	eng, err := loadPhase(ctx, tracer, cfg, pol, filters, rep, logger)
	if err != nil {
		return err
	}

	tmpDir, err := os.MkdirTemp("", "deltacov-")
	if err != nil {
		return fmt.Errorf("create temp directory: %w", err)
	}

	if !pol.Preserve {
		defer os.RemoveAll(tmpDir)
	} else {
		logger.Info("preserving temp directory", "dir", tmpDir)
	}

	reader := sdkmetric.NewManualReader()
	meter := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader)).Meter("deltacov")

	metrics, err := observability.NewSchedulerMetrics(meter)
	if err != nil {
		return err
	}

	memoryMB, err := cfg.MemoryMB()
	if err != nil {
		return err
	}

	sched := scheduler.New(eng, scheduler.Config{
		Workers:      cfg.Parallel,
		MemoryMB:     memoryMB,
		TempDir:      tmpDir,
		Preserve:     pol.Preserve,
		Hierarchical: cfg.Hierarchical,
	}, logger, metrics)

	res, err := sched.Run(ctx)
	if err != nil {
		return err
	}

	checker := criteria.NewRunner(splitCommand(cfg.CriteriaScript))

	criteriaCtx, criteriaSpan := tracer.Start(ctx, "criteria")

	if err := evaluateCriteria(criteriaCtx, checker, res); err != nil {
		criteriaSpan.End()

		return err
	}

	criteriaSpan.End()

	filters.ReportUnused(rep)

	_, emitSpan := tracer.Start(ctx, "emit")

	if err := emit(cfg, pol, res, logger); err != nil {
		emitSpan.End()

		return err
	}

	emitSpan.End()

	checker.Finish(os.Stdout, os.Stderr)
	logMetrics(logger, reader)

	if checker.Failed() || rep.Errored() {
		return ErrReportFailed
	}

	return nil
}

func buildLogger(cfg *config.Config) *slog.Logger {
	level := slog.LevelInfo
	if cfg.Verbose {
		level = slog.LevelDebug
	}

	if cfg.Quiet {
		level = slog.LevelError
	}

	return observability.NewLogger(os.Stderr, level, cfg.LogJSON)
}

// loadPhase wraps engine construction (trace and diff ingest) in its span.
func loadPhase(
	ctx context.Context,
	tracer trace.Tracer,
	cfg *config.Config,
	pol *policy.Policy,
	filters *tracefile.Filters,
	rep *diag.Reporter,
	logger *slog.Logger,
) (*engine.Engine, error) {
	_, span := tracer.Start(ctx, "load")
	defer span.End()

	return buildEngine(cfg, pol, filters, rep, logger)
}

func buildEngine(
	cfg *config.Config,
	pol *policy.Policy,
	filters *tracefile.Filters,
	rep *diag.Reporter,
	logger *slog.Logger,
) (*engine.Engine, error) {
	curr, err := tracefile.Load(cfg.TraceFile, filters, rep)
	if err != nil {
		return nil, err
	}

	var base *tracefile.Trace

	if pol.Differential {
		base, err = tracefile.Load(cfg.BaselineFile, filters, rep)
		if err != nil {
			return nil, err
		}
	}

	dm, err := loadDiff(cfg, pol, curr, base, rep)
	if err != nil {
		return nil, err
	}

	dm.ReconcilePaths(unionPaths(curr, base), pol.ElidePathMismatch, rep)

	now := time.Now()

	var annotator source.Annotator

	switch {
	case cfg.AnnotateScript != "":
		annotator = source.NewScriptAnnotator(splitCommand(cfg.AnnotateScript), now, rep)
	case cfg.GitBlame:
		annotator = source.NewGitAnnotator(cfg.SourceDir, now, rep)
	}

	eng := &engine.Engine{
		Policy:        pol,
		Diff:          dm,
		Curr:          curr,
		Base:          base,
		Reader:        source.NewReader(cfg.SourceDir, dm, rep),
		Filters:       filters,
		Reporter:      rep,
		Logger:        logger,
		Annotator:     annotator,
		VersionScript: splitCommand(cfg.VersionScript),
		Now:           now,
	}

	return eng, nil
}

func loadDiff(
	cfg *config.Config,
	pol *policy.Policy,
	curr, base *tracefile.Trace,
	rep *diag.Reporter,
) (*diffmap.Map, error) {
	dm := diffmap.New(pol.Differential)

	switch {
	case cfg.DiffFile != "":
		f, err := os.Open(cfg.DiffFile)
		if err != nil {
			return nil, fmt.Errorf("open diff %s: %w", cfg.DiffFile, err)
		}
		defer f.Close()

		if err := dm.Load(f, pol.DiffStrip, rep); err != nil {
			return nil, err
		}

	case cfg.BaselineDir != "":
		if err := dm.GenerateFromDirs(cfg.BaselineDir, cfg.SourceDir, unionPaths(curr, base), rep); err != nil {
			return nil, err
		}
	}

	return dm, nil
}

func evaluateCriteria(ctx context.Context, checker *criteria.Runner, res *scheduler.Result) error {
	if !checker.Enabled() {
		return nil
	}

	if res.Top != nil {
		if err := checker.Evaluate(ctx, "top", res.Top); err != nil {
			return err
		}
	}

	dirNames := make([]string, 0, len(res.Directories))
	for name := range res.Directories {
		dirNames = append(dirNames, name)
	}

	sort.Strings(dirNames)

	for _, name := range dirNames {
		if err := checker.Evaluate(ctx, name, res.Directories[name]); err != nil {
			return err
		}
	}

	filePaths := make([]string, 0, len(res.Files))
	for path := range res.Files {
		filePaths = append(filePaths, path)
	}

	sort.Strings(filePaths)

	for _, path := range filePaths {
		if err := checker.Evaluate(ctx, path, res.Files[path].Summary); err != nil {
			return err
		}
	}

	return nil
}

func emit(cfg *config.Config, pol *policy.Policy, res *scheduler.Result, logger *slog.Logger) error {
	switch cfg.Format {
	case "", "html":
		emitter := &report.Emitter{
			OutDir: cfg.OutputDir,
			Policy: pol,
			Title:  cfg.Title,
			Logger: logger,
		}

		return emitter.Emit(res)

	case "text":
		report.WriteText(os.Stdout, res, cfg.NoColor)

		return nil

	case "json":
		return report.WriteJSON(os.Stdout, res)

	case "yaml":
		return report.WriteYAML(os.Stdout, res)
	}

	return fmt.Errorf("unknown output format %q", cfg.Format)
}

// logMetrics drains the manual reader and logs the scheduler counters.
func logMetrics(logger *slog.Logger, reader *sdkmetric.ManualReader) {
	var rm metricdata.ResourceMetrics

	if err := reader.Collect(context.Background(), &rm); err != nil {
		logger.Debug("collect metrics", "error", err)

		return
	}

	for _, scope := range rm.ScopeMetrics {
		for _, m := range scope.Metrics {
			if sum, ok := m.Data.(metricdata.Sum[int64]); ok {
				var total int64
				for _, dp := range sum.DataPoints {
					total += dp.Value
				}

				logger.Debug("metric", "name", m.Name, "total", total)
			}
		}
	}
}

// splitCommand breaks a configured command line into argv; empty input
// yields nil, which disables the integration.
func splitCommand(cmdline string) []string {
	fields := strings.Fields(cmdline)
	if len(fields) == 0 {
		return nil
	}

	return fields
}

func unionPaths(curr, base *tracefile.Trace) []string {
	seen := make(map[string]struct{})

	if curr != nil {
		for _, p := range curr.Paths() {
			seen[p] = struct{}{}
		}
	}

	if base != nil {
		for _, p := range base.Paths() {
			seen[p] = struct{}{}
		}
	}

	out := make([]string, 0, len(seen))
	for p := range seen {
		out = append(out, p)
	}

	sort.Strings(out)

	return out
}
