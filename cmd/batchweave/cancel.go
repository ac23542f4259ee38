package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/batchweave/batchweave/internal/config"
)

func runCancelCommand(ctx context.Context, args []string) int {
	fs := flag.NewFlagSet("cancel", flag.ContinueOnError)
	wait := fs.Bool("wait", false, "block until the cancelled tasks have left the queue")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	units := fs.Args()
	if len(units) == 0 {
		fmt.Fprintln(os.Stderr, "usage: batchweave cancel [-wait] <unit> [<unit> ...]")
		return 2
	}

	a, err := newApp(ctx, config.ProjectDir(), quietLogs())
	if err != nil {
		fmt.Fprintf(os.Stderr, "batchweave: %v\n", err)
		return 1
	}
	defer a.Close(ctx)

	if err := a.coord.Cancel(ctx, units, *wait); err != nil {
		fmt.Fprintf(os.Stderr, "cancel: %v\n", err)
		return 1
	}
	fmt.Printf("cancelled %d unit(s); they will be resubmitted on the next submit\n", len(units))
	return 0
}
