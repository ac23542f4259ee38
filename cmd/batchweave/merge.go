package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"

	"github.com/batchweave/batchweave/internal/config"
	"github.com/batchweave/batchweave/internal/merge"
)

func runMergeCommand(ctx context.Context, args []string) int {
	fs := flag.NewFlagSet("merge", flag.ContinueOnError)
	trial := fs.Bool("trial", false, "stop before push and branch deletion")
	chunkSize := fs.Int("chunk-size", 0, "branches folded per merge commit (default from config)")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() != 0 {
		fmt.Fprintln(os.Stderr, "usage: batchweave merge [-trial] [-chunk-size N]")
		return 2
	}

	a, err := newApp(ctx, config.ProjectDir(), quietLogs())
	if err != nil {
		fmt.Fprintf(os.Stderr, "batchweave: %v\n", err)
		return 1
	}
	defer a.Close(ctx)

	size := *chunkSize
	if size == 0 {
		size = a.cfg.ChunkSize
	}

	report, err := a.coord.Merge(ctx, merge.Options{Trial: *trial, ChunkSize: size})
	if errors.Is(err, merge.ErrNothingToMerge) {
		fmt.Println("nothing to merge: no successfully finished job yet")
		return 0
	}
	var ierr *merge.IntegrityError
	if errors.As(err, &ierr) {
		fmt.Fprintf(os.Stderr, "merge aborted at %s stage; branches preserved\n", ierr.Stage)
		if ierr.ReportPath != "" {
			fmt.Fprintf(os.Stderr, "report: %s\n", ierr.ReportPath)
		}
		fmt.Fprintf(os.Stderr, "%v\n", ierr.Unwrap())
		return 1
	}
	var perr *merge.InProgressError
	if errors.As(err, &perr) {
		fmt.Fprintf(os.Stderr, "merge refused: %v\n", perr)
		return 1
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "merge: %v\n", err)
		return 1
	}

	if report.Trial {
		fmt.Printf("trial merge: %d branches in %d chunks would be folded (%d placeholders skipped); nothing was pushed\n",
			report.Merged, report.Chunks, report.Placeholders)
	} else {
		fmt.Printf("merged %d branches in %d chunks (%d placeholders skipped)\n",
			report.Merged, report.Chunks, report.Placeholders)
	}
	return 0
}
