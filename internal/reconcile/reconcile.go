// Package reconcile merges three independently observed state sources:
// the job state store, the scheduler's live queue, and the result store's
// branches, into one authoritative status per work unit.
package reconcile

import (
	"fmt"
	"strings"

	"github.com/batchweave/batchweave/internal/jobstate"
	"github.com/batchweave/batchweave/internal/registry"
	"github.com/batchweave/batchweave/internal/resultstore"
	"github.com/batchweave/batchweave/internal/scheduler"
)

// Status is the single authoritative state of a work unit.
type Status string

const (
	StatusNotSubmitted Status = "not_submitted"
	StatusPending      Status = "pending"
	StatusRunning      Status = "running"
	StatusCompleted    Status = "completed"
	StatusFailed       Status = "failed"
)

// StatusOf classifies a job-state row. Exactly one status holds per row.
func StatusOf(u jobstate.UnitRecord) Status {
	switch {
	case !u.Submitted:
		return StatusNotSubmitted
	case u.HasResults && !u.Outstanding():
		return StatusCompleted
	case u.IsFailed:
		return StatusFailed
	case u.State == string(scheduler.StateRunning):
		return StatusRunning
	case u.State == string(scheduler.StatePending):
		return StatusPending
	default:
		// Submitted, not yet observed in the queue.
		return StatusPending
	}
}

// InconsistencyError reports a violation of the one-outstanding-assignment
// invariant. It is fatal: reconciliation must stop rather than guess which
// assignment is authoritative.
type InconsistencyError struct {
	Key         registry.Key
	Assignments []string // "jobID_taskID" for each conflicting assignment
}

func (e *InconsistencyError) Error() string {
	return fmt.Sprintf("unit %s has %d outstanding assignments (%s); refusing to guess",
		e.Key, len(e.Assignments), strings.Join(e.Assignments, ", "))
}

// Summary aggregates unit statuses for operator display.
type Summary struct {
	NotSubmitted int
	Pending      int
	Running      int
	Completed    int
	Failed       int
}

// Summarize counts rows per status.
func Summarize(units []jobstate.UnitRecord) Summary {
	var s Summary
	for _, u := range units {
		switch StatusOf(u) {
		case StatusNotSubmitted:
			s.NotSubmitted++
		case StatusPending:
			s.Pending++
		case StatusRunning:
			s.Running++
		case StatusCompleted:
			s.Completed++
		case StatusFailed:
			s.Failed++
		}
	}
	return s
}

// Derive recomputes every unit's row from the three inputs. It is a pure
// function: no state is carried across calls, and identical inputs yield an
// identical (deterministically ordered) result.
//
// The tie-break rule: result-branch evidence always wins over queue absence,
// and a unit still pending or running in the live poll is never marked
// failed. is_failed is set only once the task has left the queue without a
// valid branch.
func Derive(
	reg *registry.Registry,
	prior []jobstate.UnitRecord,
	observations []scheduler.QueueObservation,
	branches []resultstore.Branch,
) ([]jobstate.UnitRecord, error) {
	byKey := make(map[registry.Key]jobstate.UnitRecord, len(prior))
	for _, u := range prior {
		if _, dup := byKey[u.Key]; dup {
			return nil, &InconsistencyError{
				Key: u.Key,
				Assignments: []string{
					fmt.Sprintf("%s_%d", byKey[u.Key].JobID, byKey[u.Key].TaskID),
					fmt.Sprintf("%s_%d", u.JobID, u.TaskID),
				},
			}
		}
		byKey[u.Key] = u
	}

	type taskRef struct {
		jobID  string
		taskID int
	}
	observed := make(map[taskRef]scheduler.QueueObservation, len(observations))
	for _, o := range observations {
		observed[taskRef{o.JobID, o.TaskID}] = o
	}

	valid := resultstore.ValidByKey(branches)

	out := make([]jobstate.UnitRecord, 0, reg.Len())
	for _, key := range reg.Keys() {
		rec, ok := byKey[key]
		if !ok {
			rec = jobstate.UnitRecord{
				Key:      key,
				State:    jobstate.StateUnknown,
				TimeUsed: jobstate.TimeUsedUnknown,
			}
		}
		out = append(out, deriveUnit(rec, observed[taskRef{rec.JobID, rec.TaskID}], valid))
	}
	return out, nil
}

func deriveUnit(rec jobstate.UnitRecord, obs scheduler.QueueObservation, valid map[string]resultstore.Branch) jobstate.UnitRecord {
	if !rec.Submitted {
		return rec
	}

	// Branch discovery runs on every reconciliation; a valid branch marks
	// has_results even while the task is still in the queue.
	_, hasBranch := valid[rec.Key.String()]
	if hasBranch {
		rec.HasResults = true
	}

	// completed is terminal: once a unit has results and is out of the
	// queue, later polls cannot demote it.
	if rec.HasResults && obs.JobID == "" {
		rec.IsFailed = false
		rec.NeedsResubmit = false
		rec.State = jobstate.StateUnknown
		return rec
	}

	if obs.JobID != "" {
		// Task still known to the scheduler: never failed while queued.
		rec.State = string(obs.State)
		rec.TimeUsed = obs.TimeUsed
		rec.IsFailed = false
		rec.NeedsResubmit = false
		return rec
	}

	// Task left the queue with no valid branch: failed, needs resubmission.
	rec.State = jobstate.StateUnknown
	rec.IsFailed = true
	rec.NeedsResubmit = true
	return rec
}
