// Package scheduler adapts an external batch scheduler's command-line
// protocol (submit, poll, cancel) into normalized records. The adapter never
// retries; retry policy belongs to the caller.
package scheduler

import (
	"context"
	"fmt"
	"strings"
)

// TaskState is the normalized queue state of one array task.
type TaskState string

const (
	StatePending TaskState = "pending"
	StateRunning TaskState = "running"
	StateUnknown TaskState = "unknown"
)

// QueueObservation is one task still known to the scheduler. Absence of an
// observation for a previously assigned task means the task left the queue.
type QueueObservation struct {
	JobID    string
	TaskID   int
	State    TaskState
	TimeUsed string
	Nodes    string
	Reason   string
}

// Adapter is the scheduler-facing contract. One implementation per backend.
type Adapter interface {
	// SubmitArray submits count tasks as one array job from workDir and
	// returns the scheduler-assigned job identifier. Task indices are
	// numbered 1..count.
	SubmitArray(ctx context.Context, workDir string, count int) (string, error)

	// Poll returns every task the scheduler still reports for jobID. An
	// empty slice means none are outstanding.
	Poll(ctx context.Context, jobID string) ([]QueueObservation, error)

	// Cancel removes one task from the queue. Best-effort: callers log and
	// continue on error.
	Cancel(ctx context.Context, jobID string, taskID int) error
}

// SubmissionError reports a submission the scheduler rejected, or one whose
// output did not contain a parseable job identifier. A zero exit code with
// unparseable stdout is still a SubmissionError: some schedulers report
// pre-flight validation failures on stdout with exit 0.
type SubmissionError struct {
	Stdout string
	Stderr string
	Err    error
}

func (e *SubmissionError) Error() string {
	msg := "array submission failed"
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	if out := strings.TrimSpace(e.Stdout); out != "" {
		msg = fmt.Sprintf("%s (stdout: %s)", msg, out)
	}
	if errOut := strings.TrimSpace(e.Stderr); errOut != "" {
		msg = fmt.Sprintf("%s (stderr: %s)", msg, errOut)
	}
	return msg
}

func (e *SubmissionError) Unwrap() error { return e.Err }
