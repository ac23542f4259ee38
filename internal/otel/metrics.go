package otel

import "go.opentelemetry.io/otel/metric"

// Metrics holds all batchweave metric instruments.
type Metrics struct {
	UnitsSubmitted      metric.Int64Counter
	UnitsCompleted      metric.Int64Counter
	UnitsFailed         metric.Int64Counter
	ReconcileDuration   metric.Float64Histogram
	SchedulerDuration   metric.Float64Histogram
	BranchesMerged      metric.Int64Counter
	PlaceholderBranches metric.Int64Counter
	MergeChunkDuration  metric.Float64Histogram
	LockWaitDuration    metric.Float64Histogram
}

// NewMetrics creates all metric instruments from the given meter.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{}
	var err error

	m.UnitsSubmitted, err = meter.Int64Counter("batchweave.units.submitted",
		metric.WithDescription("Work units submitted to the scheduler"),
	)
	if err != nil {
		return nil, err
	}

	m.UnitsCompleted, err = meter.Int64Counter("batchweave.units.completed",
		metric.WithDescription("Work units with a valid result branch"),
	)
	if err != nil {
		return nil, err
	}

	m.UnitsFailed, err = meter.Int64Counter("batchweave.units.failed",
		metric.WithDescription("Work units flagged for resubmission"),
	)
	if err != nil {
		return nil, err
	}

	m.ReconcileDuration, err = meter.Float64Histogram("batchweave.reconcile.duration",
		metric.WithDescription("Reconciliation run duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	m.SchedulerDuration, err = meter.Float64Histogram("batchweave.scheduler.duration",
		metric.WithDescription("Scheduler command duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	m.BranchesMerged, err = meter.Int64Counter("batchweave.merge.branches",
		metric.WithDescription("Result branches folded into the default branch"),
	)
	if err != nil {
		return nil, err
	}

	m.PlaceholderBranches, err = meter.Int64Counter("batchweave.merge.placeholders",
		metric.WithDescription("Placeholder branches skipped during merge"),
	)
	if err != nil {
		return nil, err
	}

	m.MergeChunkDuration, err = meter.Float64Histogram("batchweave.merge.chunk_duration",
		metric.WithDescription("Per-chunk merge duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	m.LockWaitDuration, err = meter.Float64Histogram("batchweave.lock.wait",
		metric.WithDescription("Time spent waiting on the job-state lock in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	return m, nil
}
