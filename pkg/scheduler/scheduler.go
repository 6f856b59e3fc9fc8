// Package scheduler executes the report's dependency forest: file leaves in
// bounded-parallel workers under a soft memory cap, directory and top nodes
// as their children finish. Workers hand results to parents only through
// serialized spill files, so any interleaving yields the same rollup.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/Sumatoshi-tech/deltacov/pkg/diag"
	"github.com/Sumatoshi-tech/deltacov/pkg/engine"
	"github.com/Sumatoshi-tech/deltacov/pkg/observability"
	"github.com/Sumatoshi-tech/deltacov/pkg/srcfile"
	"github.com/Sumatoshi-tech/deltacov/pkg/summary"
)

// workerCostMB is the per-worker memory estimate charged against the soft
// cap before a task starts.
const workerCostMB = 64

// Config controls one scheduler run.
type Config struct {
	// Workers caps concurrent tasks; 0 means host concurrency. With one
	// worker the run degenerates to depth-first in-process execution with
	// identical merge semantics.
	Workers int

	// MemoryMB is the soft memory cap; 0 means uncapped.
	MemoryMB uint64

	// TempDir receives the per-task spill files.
	TempDir string

	// Preserve keeps spill files after their consumer finished.
	Preserve bool

	// Hierarchical selects nested directory rollup.
	Hierarchical bool
}

// Result is the fully rolled-up report model.
type Result struct {
	Top *summary.Summary

	// Directories is keyed by directory path.
	Directories map[string]*summary.Summary

	// Files holds the per-file models for emission, keyed by path.
	Files map[string]*srcfile.File
}

// Scheduler drives one run.
type Scheduler struct {
	eng     *engine.Engine
	cfg     Config
	logger  *slog.Logger
	metrics *observability.SchedulerMetrics

	mu     sync.Mutex
	ready  chan *Task
	result *Result
	done   int
	total  int
}

// New creates a Scheduler. metrics may be nil.
func New(eng *engine.Engine, cfg Config, logger *slog.Logger, metrics *observability.SchedulerMetrics) *Scheduler {
	if cfg.Workers <= 0 {
		cfg.Workers = runtime.NumCPU()
	}

	return &Scheduler{eng: eng, cfg: cfg, logger: logger, metrics: metrics}
}

// Run builds the forest over every trace file and executes it to
// completion. Worker failures, including fatal diagnostics raised inside a
// task and spill write failures, raise parallel diagnostics and the run
// continues; the returned error is non-nil only when waiting for the memory
// budget fails because the context was cancelled.
func (s *Scheduler) Run(ctx context.Context) (*Result, error) {
	tracer := otel.Tracer("deltacov/scheduler")

	ctx, span := tracer.Start(ctx, "schedule")
	defer span.End()

	paths := s.eng.Paths()
	top := BuildForest(paths, s.cfg.Hierarchical)

	s.total = countTasks(top)
	s.ready = make(chan *Task, s.total)
	s.result = &Result{
		Directories: make(map[string]*summary.Summary),
		Files:       make(map[string]*srcfile.File),
	}

	span.SetAttributes(
		attribute.Int("files", len(paths)),
		attribute.Int("tasks", s.total),
		attribute.Int("workers", s.cfg.Workers),
	)

	s.logger.InfoContext(ctx, "scheduling report",
		"files", len(paths), "tasks", s.total, "workers", s.cfg.Workers)

	// One worker: run every task in place, depth-first, children before
	// parents, through the same execute and complete steps as the pool.
	if s.cfg.Workers == 1 {
		top.Walk(func(t *Task) {
			s.execute(ctx, t)
			_ = s.complete(ctx, t)
		})

		return s.result, nil
	}

	// Seed with every task that has no dependencies: the file leaves,
	// plus childless inner nodes of a degenerate tree.
	top.Walk(func(t *Task) {
		if t.pending == 0 {
			s.ready <- t
		}
	})

	var memory *semaphore.Weighted
	if s.cfg.MemoryMB > 0 {
		memory = semaphore.NewWeighted(int64(s.cfg.MemoryMB))
	}

	g, gctx := errgroup.WithContext(ctx)

	for i := 0; i < s.cfg.Workers; i++ {
		g.Go(func() error {
			return s.worker(gctx, memory)
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	return s.result, nil
}

func (s *Scheduler) worker(ctx context.Context, memory *semaphore.Weighted) error {
	for task := range s.ready {
		if memory != nil {
			cost := int64(workerCostMB)
			if cost > int64(s.cfg.MemoryMB) {
				cost = int64(s.cfg.MemoryMB)
			}

			if !memory.TryAcquire(cost) {
				s.metrics.RecordStall(ctx)

				if err := memory.Acquire(ctx, cost); err != nil {
					return fmt.Errorf("acquire memory budget: %w", err)
				}
			}

			s.execute(ctx, task)
			memory.Release(cost)
		} else {
			s.execute(ctx, task)
		}

		if err := s.complete(ctx, task); err != nil {
			return err
		}
	}

	return nil
}

// execute runs one task and writes its spill. A panicking or failing task
// is surfaced as a parallel diagnostic, never as a worker crash, so the
// remaining tasks still drain.
func (s *Scheduler) execute(ctx context.Context, task *Task) {
	defer func() {
		if r := recover(); r != nil {
			s.failTask(ctx, task, fmt.Errorf("task panicked: %v", r))
		}
	}()

	var (
		sum *summary.Summary
		err error
	)

	switch task.Kind {
	case summary.KindFile:
		sum, err = s.executeFile(ctx, task)
	default:
		sum, err = s.executeNode(task)
	}

	if err != nil {
		s.failTask(ctx, task, err)

		return
	}

	if err := writeSpill(s.cfg.TempDir, &spillRecord{
		TaskID:  task.ID,
		Name:    task.Name,
		Kind:    task.Kind,
		Summary: sum,
	}); err != nil {
		s.failTask(ctx, task, err)

		return
	}

	s.metrics.RecordTask(ctx, task.Kind.String())
}

func (s *Scheduler) executeFile(ctx context.Context, task *Task) (*summary.Summary, error) {
	file, err := s.eng.ProcessFile(ctx, task.Name)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.result.Files[task.Name] = file
	s.mu.Unlock()

	return file.Summary, nil
}

// executeNode merges the spilled results of every child into a fresh
// summary for this directory or top node.
func (s *Scheduler) executeNode(task *Task) (*summary.Summary, error) {
	sum := summary.New(task.Kind, task.Name, s.eng.Policy.DateBins)

	for _, child := range task.Children {
		rec, err := readSpill(s.cfg.TempDir, child.ID)
		if err != nil {
			if repErr := s.eng.Reporter.Report(diag.KindParallel,
				"task %s returned a garbled result: %v", childName(child), err); repErr != nil {
				return nil, repErr
			}

			s.eng.Reporter.MarkErrored()

			continue
		}

		rec.Summary.Rebind(s.eng.Policy.DateBins)
		rec.Summary.SetParent(sum)
		sum.Append(rec.Summary)

		if !s.cfg.Preserve {
			removeSpill(s.cfg.TempDir, child.ID)
		}
	}

	s.mu.Lock()

	switch task.Kind {
	case summary.KindTop:
		s.result.Top = sum
	case summary.KindDirectory:
		s.result.Directories[task.Name] = sum
	}

	s.mu.Unlock()

	return sum, nil
}

// failTask records a worker failure. The parent still sees the task as
// finished; its subtree is simply missing from the rollup and the process
// exit status goes non-zero.
func (s *Scheduler) failTask(ctx context.Context, task *Task, err error) {
	s.metrics.RecordFailure(ctx, task.Kind.String())

	//nolint:errcheck // a second failure here would only repeat the first.
	s.eng.Reporter.Report(diag.KindParallel, "task %s failed: %v", childName(task), err)
	s.eng.Reporter.MarkErrored()

	// Write an empty result so the parent can still merge.
	_ = writeSpill(s.cfg.TempDir, &spillRecord{
		TaskID:  task.ID,
		Name:    task.Name,
		Kind:    task.Kind,
		Summary: summary.New(task.Kind, task.Name, s.eng.Policy.DateBins),
	})
}

// complete decrements the parent's outstanding dependencies, enqueueing it
// when the last child finishes, and closes the queue after the final task.
func (s *Scheduler) complete(_ context.Context, task *Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.done++

	if parent := task.parent; parent != nil {
		parent.pending--
		if parent.pending == 0 {
			s.ready <- parent
		}
	}

	if s.done == s.total {
		close(s.ready)

		// The top task's spill has no consumer.
		if !s.cfg.Preserve {
			removeSpill(s.cfg.TempDir, task.ID)
		}
	}

	return nil
}

func childName(task *Task) string {
	if task.Name == "" {
		return "<top>"
	}

	return task.Name
}

func countTasks(top *Task) int {
	count := 0
	top.Walk(func(*Task) { count++ })

	return count
}
