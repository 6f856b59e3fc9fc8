package observability

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const (
	metricTasksTotal    = "deltacov.scheduler.tasks.total"
	metricFailuresTotal = "deltacov.scheduler.failures.total"
	metricStallsTotal   = "deltacov.scheduler.stalls.total"

	attrTaskKind = "kind"
)

// SchedulerMetrics holds OTel instruments for the task scheduler. The
// process is one-shot, so the meter is typically backed by a manual reader
// whose totals are logged at exit.
type SchedulerMetrics struct {
	tasksTotal    metric.Int64Counter
	failuresTotal metric.Int64Counter
	stallsTotal   metric.Int64Counter
}

// NewSchedulerMetrics registers the scheduler instruments on the meter.
func NewSchedulerMetrics(meter metric.Meter) (*SchedulerMetrics, error) {
	tasks, err := meter.Int64Counter(metricTasksTotal,
		metric.WithDescription("Tasks executed, by node kind."))
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", metricTasksTotal, err)
	}

	failures, err := meter.Int64Counter(metricFailuresTotal,
		metric.WithDescription("Tasks that ended in a parallel error."))
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", metricFailuresTotal, err)
	}

	stalls, err := meter.Int64Counter(metricStallsTotal,
		metric.WithDescription("Times the scheduler waited on the memory cap."))
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", metricStallsTotal, err)
	}

	return &SchedulerMetrics{
		tasksTotal:    tasks,
		failuresTotal: failures,
		stallsTotal:   stalls,
	}, nil
}

// RecordTask counts one finished task.
func (m *SchedulerMetrics) RecordTask(ctx context.Context, kind string) {
	if m == nil {
		return
	}

	m.tasksTotal.Add(ctx, 1, metric.WithAttributes(attribute.String(attrTaskKind, kind)))
}

// RecordFailure counts one failed task.
func (m *SchedulerMetrics) RecordFailure(ctx context.Context, kind string) {
	if m == nil {
		return
	}

	m.failuresTotal.Add(ctx, 1, metric.WithAttributes(attribute.String(attrTaskKind, kind)))
}

// RecordStall counts one memory-cap wait.
func (m *SchedulerMetrics) RecordStall(ctx context.Context) {
	if m == nil {
		return
	}

	m.stallsTotal.Add(ctx, 1)
}
