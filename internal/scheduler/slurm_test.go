package scheduler_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/batchweave/batchweave/internal/scheduler"
	"github.com/batchweave/batchweave/internal/shell"
)

// fakeRunner returns canned results keyed by command name and records calls.
type fakeRunner struct {
	results map[string]shell.Result
	errs    map[string]error
	calls   []string
}

func (f *fakeRunner) Run(_ context.Context, dir, name string, args ...string) (shell.Result, error) {
	f.calls = append(f.calls, strings.Join(append([]string{name}, args...), " "))
	return f.results[name], f.errs[name]
}

func TestSubmitArray_ParsesJobID(t *testing.T) {
	runner := &fakeRunner{results: map[string]shell.Result{
		"sbatch": {Stdout: "Submitted batch job 11042\n"},
	}}
	slurm := scheduler.NewSlurm(runner, nil)

	jobID, err := slurm.SubmitArray(context.Background(), "/tmp/analysis", 5)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if jobID != "11042" {
		t.Fatalf("expected job id 11042, got %q", jobID)
	}
	if len(runner.calls) != 1 || runner.calls[0] != "sbatch --array=1-5 submit.sh" {
		t.Fatalf("unexpected sbatch invocation: %v", runner.calls)
	}
}

func TestSubmitArray_UnparseableStdoutIsError(t *testing.T) {
	// Exit 0 with garbage stdout must fail: some schedulers report
	// pre-flight validation failures that way.
	runner := &fakeRunner{results: map[string]shell.Result{
		"sbatch": {Stdout: "sbatch: error: invalid partition\n"},
	}}
	slurm := scheduler.NewSlurm(runner, nil)

	_, err := slurm.SubmitArray(context.Background(), ".", 3)
	var subErr *scheduler.SubmissionError
	if !errors.As(err, &subErr) {
		t.Fatalf("expected SubmissionError, got %v", err)
	}
	if !strings.Contains(subErr.Stdout, "invalid partition") {
		t.Fatalf("SubmissionError should carry stdout, got %q", subErr.Stdout)
	}
}

func TestSubmitArray_NonZeroExit(t *testing.T) {
	runner := &fakeRunner{
		results: map[string]shell.Result{"sbatch": {Stderr: "sbatch: error: Batch job submission failed"}},
		errs:    map[string]error{"sbatch": &shell.ExitError{Name: "sbatch", ExitCode: 1}},
	}
	slurm := scheduler.NewSlurm(runner, nil)

	_, err := slurm.SubmitArray(context.Background(), ".", 2)
	var subErr *scheduler.SubmissionError
	if !errors.As(err, &subErr) {
		t.Fatalf("expected SubmissionError, got %v", err)
	}
}

func TestSubmitArray_RejectsZeroCount(t *testing.T) {
	slurm := scheduler.NewSlurm(&fakeRunner{}, nil)
	if _, err := slurm.SubmitArray(context.Background(), ".", 0); err == nil {
		t.Fatalf("expected error for count 0")
	}
}

func TestPoll_ExpandsCompressedRanges(t *testing.T) {
	runner := &fakeRunner{results: map[string]shell.Result{
		"squeue": {Stdout: "" +
			"11042_[4-6%2]|PD|0:00||Priority\n" +
			"11042_1|R|12:30|node017|\n" +
			"11042_[8,10-11]|PD|0:00||Resources\n"},
	}}
	slurm := scheduler.NewSlurm(runner, nil)

	obs, err := slurm.Poll(context.Background(), "11042")
	if err != nil {
		t.Fatalf("poll: %v", err)
	}

	gotTasks := map[int]scheduler.TaskState{}
	for _, o := range obs {
		if o.JobID != "11042" {
			t.Fatalf("unexpected job id %q", o.JobID)
		}
		gotTasks[o.TaskID] = o.State
	}
	wantPending := []int{4, 5, 6, 8, 10, 11}
	for _, task := range wantPending {
		if gotTasks[task] != scheduler.StatePending {
			t.Fatalf("task %d: expected pending, got %q", task, gotTasks[task])
		}
	}
	if gotTasks[1] != scheduler.StateRunning {
		t.Fatalf("task 1: expected running, got %q", gotTasks[1])
	}
	if len(obs) != 7 {
		t.Fatalf("expected 7 observations, got %d", len(obs))
	}
}

func TestPoll_EmptyQueue(t *testing.T) {
	runner := &fakeRunner{results: map[string]shell.Result{"squeue": {Stdout: "\n"}}}
	slurm := scheduler.NewSlurm(runner, nil)

	obs, err := slurm.Poll(context.Background(), "11042")
	if err != nil {
		t.Fatalf("poll: %v", err)
	}
	if len(obs) != 0 {
		t.Fatalf("expected empty queue, got %v", obs)
	}
}

func TestPoll_InvalidJobIDMeansDrained(t *testing.T) {
	runner := &fakeRunner{
		results: map[string]shell.Result{"squeue": {Stderr: "slurm_load_jobs error: Invalid job id specified"}},
		errs:    map[string]error{"squeue": &shell.ExitError{Name: "squeue", ExitCode: 1}},
	}
	slurm := scheduler.NewSlurm(runner, nil)

	obs, err := slurm.Poll(context.Background(), "99999")
	if err != nil {
		t.Fatalf("drained job should not error: %v", err)
	}
	if len(obs) != 0 {
		t.Fatalf("expected no observations, got %v", obs)
	}
}

func TestCancel_TargetsJobUnderscoreTask(t *testing.T) {
	runner := &fakeRunner{results: map[string]shell.Result{"scancel": {}}}
	slurm := scheduler.NewSlurm(runner, nil)

	if err := slurm.Cancel(context.Background(), "11042", 7); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if runner.calls[0] != "scancel 11042_7" {
		t.Fatalf("unexpected scancel invocation: %v", runner.calls)
	}
}

// pollSequence drains after a fixed number of polls.
type pollSequence struct {
	remaining int
	polls     int
}

func (p *pollSequence) SubmitArray(context.Context, string, int) (string, error) {
	return "", fmt.Errorf("not implemented")
}

func (p *pollSequence) Cancel(context.Context, string, int) error { return nil }

func (p *pollSequence) Poll(context.Context, string) ([]scheduler.QueueObservation, error) {
	p.polls++
	if p.polls > p.remaining {
		return nil, nil
	}
	return []scheduler.QueueObservation{{JobID: "1", TaskID: 1, State: scheduler.StatePending}}, nil
}

func TestWaitDrained_StopsWhenQueueEmpty(t *testing.T) {
	adapter := &pollSequence{remaining: 2}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := scheduler.WaitDrained(ctx, adapter, "1"); err != nil {
		t.Fatalf("wait drained: %v", err)
	}
	if adapter.polls != 3 {
		t.Fatalf("expected 3 polls, got %d", adapter.polls)
	}
}

func TestWaitDrained_HonorsContext(t *testing.T) {
	adapter := &pollSequence{remaining: 1000}
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	err := scheduler.WaitDrained(ctx, adapter, "1")
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}
