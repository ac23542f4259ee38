// Package coordinator sequences the pipeline's operator-facing operations.
// Every operation starts from a fresh reconciliation so decisions are made
// against the live queue and the result store, never against a stale table.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/batchweave/batchweave/internal/audit"
	"github.com/batchweave/batchweave/internal/jobstate"
	"github.com/batchweave/batchweave/internal/merge"
	"github.com/batchweave/batchweave/internal/reconcile"
	"github.com/batchweave/batchweave/internal/registry"
	"github.com/batchweave/batchweave/internal/scheduler"
	"github.com/batchweave/batchweave/internal/shared"

	otelx "github.com/batchweave/batchweave/internal/otel"
)

// ErrNothingToSubmit is returned when the selection leaves no unit that
// needs a scheduler assignment. It is informational, not a failure.
var ErrNothingToSubmit = errors.New("every selected unit is already submitted or completed")

// OutstandingError blocks a submission while any unit from an earlier
// submission is still in the queue. One outstanding array job at a time
// keeps the assignment invariant trivially true.
type OutstandingError struct {
	Units []string
}

func (e *OutstandingError) Error() string {
	return fmt.Sprintf("%d units are still queued or running (%s); wait or cancel before submitting again",
		len(e.Units), strings.Join(e.Units, ", "))
}

// SubmitOptions selects and qualifies the units of one submission.
type SubmitOptions struct {
	// Units restricts the submission to these work-unit keys. Empty means
	// every registry unit that needs an assignment.
	Units []string
	// Force resubmits completed units too. Their existing result branches
	// stay in the store until the next merge.
	Force bool
}

// SubmitResult reports one accepted array submission.
type SubmitResult struct {
	JobID string
	Units []registry.Key
}

// Coordinator wires the registry, job-state store, scheduler and result
// store behind the operator-facing operations.
type Coordinator struct {
	Registry   *registry.Registry
	Store      *jobstate.Store
	Adapter    scheduler.Adapter
	Reconciler *reconcile.Engine
	Merger     *merge.Engine
	WorkDir    string // submission working directory
	Logger     *slog.Logger
	Metrics    *otelx.Metrics
	Audit      *audit.Log
}

func (c *Coordinator) logger() *slog.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return slog.Default()
}

// Submit reconciles, then submits one array job covering every selected unit
// that needs an assignment. The outstanding-assignment check, the scheduler
// call and the table rewrite all happen under the store lock, so a crash or
// concurrent invocation can never record two live assignments for one unit.
func (c *Coordinator) Submit(ctx context.Context, opts SubmitOptions) (*SubmitResult, error) {
	if _, err := c.Reconciler.Run(ctx); err != nil {
		return nil, fmt.Errorf("reconcile before submit: %w", err)
	}

	selection, err := c.selectKeys(opts.Units)
	if err != nil {
		return nil, err
	}

	var result *SubmitResult
	err = c.Store.Update(ctx, func(prior []jobstate.UnitRecord) ([]jobstate.UnitRecord, error) {
		index := make(map[registry.Key]int, len(prior))
		var outstanding []string
		for i, u := range prior {
			index[u.Key] = i
			if u.Outstanding() {
				outstanding = append(outstanding, u.Key.String())
			}
		}
		if len(outstanding) > 0 {
			return nil, &OutstandingError{Units: outstanding}
		}

		var candidates []registry.Key
		for _, key := range c.Registry.Keys() {
			if _, selected := selection[key]; !selected {
				continue
			}
			i, known := index[key]
			if !known {
				candidates = append(candidates, key)
				continue
			}
			switch reconcile.StatusOf(prior[i]) {
			case reconcile.StatusNotSubmitted, reconcile.StatusFailed:
				candidates = append(candidates, key)
			case reconcile.StatusCompleted:
				if opts.Force {
					candidates = append(candidates, key)
				}
			}
		}
		if len(candidates) == 0 {
			return nil, ErrNothingToSubmit
		}

		submitStart := time.Now()
		jobID, err := c.Adapter.SubmitArray(ctx, c.WorkDir, len(candidates))
		if c.Metrics != nil {
			c.Metrics.SchedulerDuration.Record(ctx, time.Since(submitStart).Seconds())
		}
		if err != nil {
			return nil, err
		}

		// Task indices are dense 1..N in registry order, matching the
		// array range the scheduler was given.
		for i, key := range candidates {
			rec := jobstate.UnitRecord{
				Key:       key,
				JobID:     jobID,
				TaskID:    i + 1,
				Submitted: true,
				State:     jobstate.StateUnknown,
				TimeUsed:  jobstate.TimeUsedUnknown,
			}
			if j, known := index[key]; known {
				prior[j] = rec
			} else {
				index[key] = len(prior)
				prior = append(prior, rec)
			}
		}
		result = &SubmitResult{JobID: jobID, Units: candidates}
		return prior, nil
	})
	if errors.Is(err, ErrNothingToSubmit) {
		c.record(ctx, "submit", "noop", 0, err.Error())
		return nil, err
	}
	if err != nil {
		c.record(ctx, "submit", "error", 0, err.Error())
		return nil, err
	}

	ctx = shared.WithJobID(ctx, result.JobID)
	if c.Metrics != nil {
		c.Metrics.UnitsSubmitted.Add(ctx, int64(len(result.Units)))
	}
	c.logger().Info("array job submitted", "job_id", result.JobID, "units", len(result.Units))
	c.record(ctx, "submit", "ok", len(result.Units), "")
	return result, nil
}

// StatusReport is a freshly reconciled view of every unit.
type StatusReport struct {
	Units   []jobstate.UnitRecord
	Summary reconcile.Summary
}

// Status reconciles and returns the resulting table with per-status counts.
func (c *Coordinator) Status(ctx context.Context) (*StatusReport, error) {
	units, err := c.Reconciler.Run(ctx)
	if err != nil {
		return nil, err
	}
	return &StatusReport{Units: units, Summary: reconcile.Summarize(units)}, nil
}

// Merge reconciles, then folds all valid result branches into the store's
// default branch. Merging against a stale view would misclassify branches,
// so the reconciliation is not optional.
func (c *Coordinator) Merge(ctx context.Context, opts merge.Options) (*merge.Report, error) {
	if _, err := c.Reconciler.Run(ctx); err != nil {
		return nil, fmt.Errorf("reconcile before merge: %w", err)
	}
	return c.Merger.Run(ctx, opts)
}

// Cancel removes the selected units' tasks from the queue and flags them for
// resubmission. Scheduler-side cancellation is best-effort; the flag flip is
// what guarantees the unit is picked up again. With wait set, Cancel blocks
// until the affected jobs have fully left the queue, so a following submit
// is not refused for a still-draining assignment.
func (c *Coordinator) Cancel(ctx context.Context, units []string, wait bool) error {
	selection, err := c.selectKeys(units)
	if err != nil {
		return err
	}

	cancelled := 0
	jobIDs := make(map[string]bool)
	err = c.Store.Update(ctx, func(prior []jobstate.UnitRecord) ([]jobstate.UnitRecord, error) {
		for i, u := range prior {
			if _, selected := selection[u.Key]; !selected {
				continue
			}
			if !u.Submitted || u.HasResults {
				continue
			}
			if err := c.Adapter.Cancel(ctx, u.JobID, u.TaskID); err != nil {
				c.logger().Warn("scheduler cancel failed",
					"unit", u.Key.String(), "job_id", u.JobID, "task_id", u.TaskID, "error", err)
			}
			jobIDs[u.JobID] = true
			prior[i].NeedsResubmit = true
			prior[i].IsFailed = true
			prior[i].State = jobstate.StateUnknown
			prior[i].TimeUsed = jobstate.TimeUsedUnknown
			cancelled++
		}
		if cancelled == 0 {
			return nil, fmt.Errorf("no selected unit has a cancellable assignment")
		}
		return prior, nil
	})
	if err != nil {
		c.record(ctx, "cancel", "error", 0, err.Error())
		return err
	}

	if wait {
		for jobID := range jobIDs {
			drainCtx := shared.WithJobID(ctx, jobID)
			if err := scheduler.WaitDrained(drainCtx, c.Adapter, jobID); err != nil {
				c.record(drainCtx, "cancel", "error", cancelled, err.Error())
				return fmt.Errorf("waiting for job %s to drain: %w", jobID, err)
			}
		}
	}

	c.logger().Info("units cancelled", "units", cancelled)
	c.record(ctx, "cancel", "ok", cancelled, "")
	return nil
}

// selectKeys resolves unit arguments ("sub-01" or "sub-01/ses-02") against
// the registry. Empty input selects every registry unit.
func (c *Coordinator) selectKeys(units []string) (map[registry.Key]struct{}, error) {
	selection := make(map[registry.Key]struct{}, c.Registry.Len())
	if len(units) == 0 {
		for _, key := range c.Registry.Keys() {
			selection[key] = struct{}{}
		}
		return selection, nil
	}
	for _, raw := range units {
		key, err := parseUnit(raw)
		if err != nil {
			return nil, err
		}
		if !c.Registry.Contains(key) {
			return nil, fmt.Errorf("unit %s is not in the inclusion registry", key)
		}
		selection[key] = struct{}{}
	}
	return selection, nil
}

func parseUnit(raw string) (registry.Key, error) {
	parts := strings.Split(raw, "/")
	switch len(parts) {
	case 1:
		return registry.Key{SubID: parts[0]}, nil
	case 2:
		return registry.Key{SubID: parts[0], SesID: parts[1]}, nil
	default:
		return registry.Key{}, fmt.Errorf("bad unit %q: want sub-<id> or sub-<id>/ses-<id>", raw)
	}
}

// record writes an audit row. The scheduler job id travels in the context,
// so submit and drain entries name the job they acted on.
func (c *Coordinator) record(ctx context.Context, op, outcome string, units int, detail string) {
	if c.Audit == nil {
		return
	}
	err := c.Audit.Record(ctx, audit.Entry{
		RunID:     shared.RunID(ctx),
		Operation: op,
		Outcome:   outcome,
		JobID:     shared.JobID(ctx),
		Units:     units,
		Detail:    detail,
	})
	if err != nil && c.Logger != nil {
		c.Logger.Warn("audit record failed", "error", err)
	}
}
