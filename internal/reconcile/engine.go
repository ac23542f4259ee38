package reconcile

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/batchweave/batchweave/internal/audit"
	"github.com/batchweave/batchweave/internal/bus"
	"github.com/batchweave/batchweave/internal/jobstate"
	"github.com/batchweave/batchweave/internal/registry"
	"github.com/batchweave/batchweave/internal/resultstore"
	"github.com/batchweave/batchweave/internal/scheduler"
	"github.com/batchweave/batchweave/internal/shared"

	otelx "github.com/batchweave/batchweave/internal/otel"
)

// Engine runs one reconciliation pass. It never mutates the scheduler or the
// result store; its only write is the wholesale rewrite of the status table.
type Engine struct {
	Registry *registry.Registry
	Store    *jobstate.Store
	Adapter  scheduler.Adapter
	Scanner  *resultstore.Scanner
	Bus      *bus.Bus
	Logger   *slog.Logger
	Tracer   trace.Tracer
	Metrics  *otelx.Metrics
	Audit    *audit.Log
}

// Run polls the scheduler, scans the result store, derives every unit's
// status and rewrites the status table under the store lock. Safe to repeat:
// unchanged inputs produce a byte-identical table.
func (e *Engine) Run(ctx context.Context) ([]jobstate.UnitRecord, error) {
	logger := e.Logger
	if logger == nil {
		logger = slog.Default()
	}

	if e.Tracer != nil {
		var span trace.Span
		ctx, span = otelx.StartSpan(ctx, e.Tracer, "reconcile.run",
			otelx.AttrRunID.String(shared.RunID(ctx)),
			otelx.AttrUnitCount.Int(e.Registry.Len()),
		)
		defer span.End()
	}
	start := time.Now()

	var result []jobstate.UnitRecord
	err := e.Store.Update(ctx, func(prior []jobstate.UnitRecord) ([]jobstate.UnitRecord, error) {
		observations, err := e.pollOutstanding(ctx, prior)
		if err != nil {
			return nil, err
		}
		branches, err := e.Scanner.Scan(ctx)
		if err != nil {
			return nil, err
		}
		next, err := Derive(e.Registry, prior, observations, branches)
		if err != nil {
			return nil, err
		}
		e.publishTransitions(ctx, prior, next)
		result = next
		return next, nil
	})
	if err != nil {
		e.record(ctx, "error", 0, err.Error())
		return nil, err
	}

	if e.Metrics != nil {
		e.Metrics.ReconcileDuration.Record(ctx, time.Since(start).Seconds())
	}
	summary := Summarize(result)
	logger.Info("reconciliation finished",
		"not_submitted", summary.NotSubmitted,
		"pending", summary.Pending,
		"running", summary.Running,
		"completed", summary.Completed,
		"failed", summary.Failed,
	)
	e.record(ctx, "ok", len(result), "")
	return result, nil
}

// pollOutstanding polls each distinct job id that still has a submitted,
// non-terminal unit. A unit is terminal only once it has results AND its
// last observation shows it out of the queue; a unit that produced a valid
// branch while still pending or running keeps its job in the poll set, so
// completion is always confirmed against the live queue.
func (e *Engine) pollOutstanding(ctx context.Context, prior []jobstate.UnitRecord) ([]scheduler.QueueObservation, error) {
	jobIDs := make([]string, 0, 4)
	seen := make(map[string]bool)
	for _, u := range prior {
		if !u.Submitted || u.JobID == "" || seen[u.JobID] {
			continue
		}
		if u.HasResults && !u.Outstanding() {
			continue
		}
		seen[u.JobID] = true
		jobIDs = append(jobIDs, u.JobID)
	}

	var all []scheduler.QueueObservation
	for _, jobID := range jobIDs {
		pollStart := time.Now()
		obs, err := e.Adapter.Poll(ctx, jobID)
		if e.Metrics != nil {
			e.Metrics.SchedulerDuration.Record(ctx, time.Since(pollStart).Seconds())
		}
		if err != nil {
			return nil, err
		}
		all = append(all, obs...)
	}
	return all, nil
}

func (e *Engine) publishTransitions(ctx context.Context, prior, next []jobstate.UnitRecord) {
	old := make(map[registry.Key]Status, len(prior))
	for _, u := range prior {
		old[u.Key] = StatusOf(u)
	}
	for _, u := range next {
		from, known := old[u.Key]
		to := StatusOf(u)
		if known && from == to {
			continue
		}
		if e.Metrics != nil {
			switch to {
			case StatusCompleted:
				e.Metrics.UnitsCompleted.Add(ctx, 1)
			case StatusFailed:
				e.Metrics.UnitsFailed.Add(ctx, 1)
			}
		}
		if e.Bus == nil {
			continue
		}
		ev := bus.UnitStatusChangedEvent{
			Unit:      u.Key.String(),
			OldStatus: string(from),
			NewStatus: string(to),
			JobID:     u.JobID,
			TaskID:    u.TaskID,
		}
		e.Bus.Publish(bus.TopicUnitStatusChanged, ev)
		switch to {
		case StatusCompleted:
			e.Bus.Publish(bus.TopicUnitCompleted, ev)
		case StatusFailed:
			e.Bus.Publish(bus.TopicUnitFailed, ev)
		}
	}
}

func (e *Engine) record(ctx context.Context, outcome string, units int, detail string) {
	if e.Audit == nil {
		return
	}
	err := e.Audit.Record(ctx, audit.Entry{
		RunID:     shared.RunID(ctx),
		Operation: "reconcile",
		Outcome:   outcome,
		Units:     units,
		Detail:    detail,
	})
	if err != nil && e.Logger != nil {
		e.Logger.Warn("audit record failed", "error", err)
	}
}
