package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"

	"github.com/batchweave/batchweave/internal/config"
	"github.com/batchweave/batchweave/internal/coordinator"
)

// stringList collects a repeatable string flag.
type stringList []string

func (s *stringList) String() string { return fmt.Sprintf("%v", []string(*s)) }

func (s *stringList) Set(v string) error {
	*s = append(*s, v)
	return nil
}

func runSubmitCommand(ctx context.Context, args []string) int {
	fs := flag.NewFlagSet("submit", flag.ContinueOnError)
	var units stringList
	fs.Var(&units, "unit", "restrict the submission to this work unit (repeatable)")
	force := fs.Bool("force", false, "resubmit completed units too")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() != 0 {
		fmt.Fprintln(os.Stderr, "usage: batchweave submit [-unit <key> ...] [-force]")
		return 2
	}

	a, err := newApp(ctx, config.ProjectDir(), quietLogs())
	if err != nil {
		fmt.Fprintf(os.Stderr, "batchweave: %v\n", err)
		return 1
	}
	defer a.Close(ctx)

	res, err := a.coord.Submit(ctx, coordinator.SubmitOptions{Units: units, Force: *force})
	if errors.Is(err, coordinator.ErrNothingToSubmit) {
		fmt.Println("nothing to submit: every selected unit is already submitted or completed")
		return 0
	}
	var oerr *coordinator.OutstandingError
	if errors.As(err, &oerr) {
		fmt.Fprintf(os.Stderr, "submit refused: %v\n", oerr)
		return 1
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "submit: %v\n", err)
		return 1
	}

	fmt.Printf("submitted job %s with %d tasks\n", res.JobID, len(res.Units))
	for i, key := range res.Units {
		fmt.Printf("  %s_%d  %s\n", res.JobID, i+1, key)
	}
	return 0
}
