// Package shell runs external commands for the scheduler and
// version-control adapters. Keeping subprocess execution behind a small
// interface lets tests substitute canned output for sbatch, squeue and git.
package shell

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
)

// Result holds the outcome of one external command.
type Result struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// Runner executes one external command in dir and returns its output.
// A non-zero exit code is returned as an *ExitError alongside the Result.
type Runner interface {
	Run(ctx context.Context, dir, name string, args ...string) (Result, error)
}

// ExitError reports a command that ran but exited non-zero.
type ExitError struct {
	Name     string
	Args     []string
	ExitCode int
	Stderr   string
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("%s %s: exit %d: %s",
		e.Name, strings.Join(e.Args, " "), e.ExitCode, strings.TrimSpace(e.Stderr))
}

// ExecRunner is the production Runner backed by os/exec.
type ExecRunner struct{}

func (ExecRunner) Run(ctx context.Context, dir, name string, args ...string) (Result, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = dir

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	res := Result{Stdout: stdout.String(), Stderr: stderr.String()}
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			res.ExitCode = exitErr.ExitCode()
			return res, &ExitError{Name: name, Args: args, ExitCode: res.ExitCode, Stderr: res.Stderr}
		}
		return res, fmt.Errorf("run %s: %w", name, err)
	}
	return res, nil
}
