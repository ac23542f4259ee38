package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/batchweave/batchweave/internal/shell"
)

const defaultSubmitScript = "submit.sh"

// Slurm speaks sbatch/squeue/scancel through a shell.Runner.
type Slurm struct {
	runner shell.Runner
	logger *slog.Logger
	script string
}

// SlurmOption customizes a Slurm adapter.
type SlurmOption func(*Slurm)

// WithSubmitScript overrides the submission script name inside workDir.
func WithSubmitScript(name string) SlurmOption {
	return func(s *Slurm) { s.script = name }
}

// NewSlurm builds the Slurm adapter. A nil runner falls back to os/exec.
func NewSlurm(runner shell.Runner, logger *slog.Logger, opts ...SlurmOption) *Slurm {
	if runner == nil {
		runner = shell.ExecRunner{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	s := &Slurm{runner: runner, logger: logger, script: defaultSubmitScript}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SubmitArray submits `sbatch --array=1-count <script>` in workDir. Slurm
// prints "Submitted batch job <id>" on success; the id is the last
// whitespace-delimited token and must parse as a positive integer.
func (s *Slurm) SubmitArray(ctx context.Context, workDir string, count int) (string, error) {
	if count < 1 {
		return "", fmt.Errorf("submit array: count must be >= 1, got %d", count)
	}
	res, err := s.runner.Run(ctx, workDir, "sbatch",
		fmt.Sprintf("--array=1-%d", count), s.script)
	if err != nil {
		return "", &SubmissionError{Stdout: res.Stdout, Stderr: res.Stderr, Err: err}
	}

	jobID, err := parseSubmitOutput(res.Stdout)
	if err != nil {
		return "", &SubmissionError{Stdout: res.Stdout, Stderr: res.Stderr, Err: err}
	}
	s.logger.Info("array job submitted", "job_id", jobID, "task_count", count)
	return jobID, nil
}

func parseSubmitOutput(stdout string) (string, error) {
	fields := strings.Fields(stdout)
	if len(fields) == 0 {
		return "", fmt.Errorf("empty sbatch output")
	}
	last := fields[len(fields)-1]
	id, err := strconv.Atoi(last)
	if err != nil || id <= 0 {
		return "", fmt.Errorf("no job id in sbatch output %q", strings.TrimSpace(stdout))
	}
	return last, nil
}

// Poll runs squeue for jobID and expands each reported line into one
// observation per array task. Pending tasks are reported by slurm as a
// single compressed line ("123_[4-7]"); expansion is mandatory.
func (s *Slurm) Poll(ctx context.Context, jobID string) ([]QueueObservation, error) {
	res, err := s.runner.Run(ctx, "", "squeue",
		"--job", jobID, "--noheader", "--format=%i|%t|%M|%N|%R")
	if err != nil {
		// squeue exits non-zero for an unknown (fully drained) job id on
		// some slurm versions; "Invalid job id" therefore means empty queue.
		if strings.Contains(res.Stderr, "Invalid job id") {
			return nil, nil
		}
		return nil, fmt.Errorf("poll job %s: %w", jobID, err)
	}

	var out []QueueObservation
	for _, line := range strings.Split(res.Stdout, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		obs, err := s.parseQueueLine(jobID, line)
		if err != nil {
			return nil, fmt.Errorf("poll job %s: %w", jobID, err)
		}
		out = append(out, obs...)
	}
	return out, nil
}

func (s *Slurm) parseQueueLine(jobID, line string) ([]QueueObservation, error) {
	parts := strings.Split(line, "|")
	if len(parts) < 3 {
		return nil, fmt.Errorf("malformed squeue line %q", line)
	}
	idField, stateCode, timeUsed := parts[0], parts[1], parts[2]
	var nodes, reason string
	if len(parts) > 3 {
		nodes = parts[3]
	}
	if len(parts) > 4 {
		reason = parts[4]
	}

	lineJob, tasks, err := expandTaskField(idField)
	if err != nil {
		return nil, err
	}
	if lineJob != jobID {
		// squeue can echo unrelated lines when job ids collide in a filter
		// expression; skip rather than mis-attribute.
		s.logger.Warn("squeue returned foreign job line", "want", jobID, "got", lineJob)
		return nil, nil
	}

	state := normalizeState(stateCode)
	if state == StateUnknown {
		s.logger.Warn("unknown squeue state code", "job_id", jobID, "code", stateCode)
	}

	obs := make([]QueueObservation, 0, len(tasks))
	for _, task := range tasks {
		obs = append(obs, QueueObservation{
			JobID:    jobID,
			TaskID:   task,
			State:    state,
			TimeUsed: timeUsed,
			Nodes:    nodes,
			Reason:   reason,
		})
	}
	return obs, nil
}

// expandTaskField parses squeue's %i field for an array job: "123_7" for a
// single task, "123_[4-7]" or "123_[1,3,9-11%5]" for compressed pending
// ranges (the %N suffix is slurm's concurrency throttle, not a task).
func expandTaskField(field string) (jobID string, tasks []int, err error) {
	jobPart, taskPart, ok := strings.Cut(field, "_")
	if !ok {
		return "", nil, fmt.Errorf("task field %q has no array index", field)
	}
	jobID = jobPart

	if !strings.HasPrefix(taskPart, "[") {
		id, err := strconv.Atoi(taskPart)
		if err != nil {
			return "", nil, fmt.Errorf("bad task index in %q", field)
		}
		return jobID, []int{id}, nil
	}

	inner := strings.TrimSuffix(strings.TrimPrefix(taskPart, "["), "]")
	if throttle := strings.IndexByte(inner, '%'); throttle >= 0 {
		inner = inner[:throttle]
	}
	for _, piece := range strings.Split(inner, ",") {
		lo, hi, isRange := strings.Cut(piece, "-")
		start, err := strconv.Atoi(strings.TrimSpace(lo))
		if err != nil {
			return "", nil, fmt.Errorf("bad task range %q in %q", piece, field)
		}
		end := start
		if isRange {
			end, err = strconv.Atoi(strings.TrimSpace(hi))
			if err != nil || end < start {
				return "", nil, fmt.Errorf("bad task range %q in %q", piece, field)
			}
		}
		for i := start; i <= end; i++ {
			tasks = append(tasks, i)
		}
	}
	if len(tasks) == 0 {
		return "", nil, fmt.Errorf("empty task range in %q", field)
	}
	return jobID, tasks, nil
}

func normalizeState(code string) TaskState {
	switch strings.ToUpper(strings.TrimSpace(code)) {
	case "PD":
		return StatePending
	case "R", "CG":
		return StateRunning
	default:
		return StateUnknown
	}
}

// Cancel issues scancel for one array task. Errors are returned for the
// caller to log; cancellation is best-effort by contract.
func (s *Slurm) Cancel(ctx context.Context, jobID string, taskID int) error {
	target := fmt.Sprintf("%s_%d", jobID, taskID)
	if _, err := s.runner.Run(ctx, "", "scancel", target); err != nil {
		s.logger.Warn("scancel failed", "target", target, "error", err)
		return fmt.Errorf("cancel %s: %w", target, err)
	}
	s.logger.Info("task cancelled", "target", target)
	return nil
}

// WaitDrained polls until jobID has no outstanding tasks. The sleep between
// polls starts at one second and grows by one second per iteration; callers
// needing a hard timeout cancel the context.
func WaitDrained(ctx context.Context, a Adapter, jobID string) error {
	for interval := time.Second; ; interval += time.Second {
		obs, err := a.Poll(ctx, jobID)
		if err != nil {
			return err
		}
		if len(obs) == 0 {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(interval):
		}
	}
}
