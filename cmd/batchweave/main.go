// Command batchweave coordinates a batch-scheduler compute pipeline:
// submitting array jobs for the units of an inclusion list, reconciling
// queue and result-store evidence into a status table, and merging finished
// result branches back into the store's default branch.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/mattn/go-isatty"

	"github.com/batchweave/batchweave/internal/config"
	"github.com/batchweave/batchweave/internal/shared"
)

// Version is set via ldflags at build time: -ldflags "-X main.Version=..."
var Version = "v0.1-dev"

func printUsage() {
	prog := os.Args[0]
	fmt.Fprintf(os.Stderr, `Usage of %s:

  %s submit [-unit <key> ...] [-force]    Submit an array job for units that need one
  %s status [-json | -watch]              Reconcile and show every unit's status
  %s merge [-trial] [-chunk-size N]       Fold finished result branches into the store
  %s cancel [-wait] <unit> [<unit> ...]   Cancel queued tasks and flag for resubmission
  %s daemon                               Reconcile on the configured schedule
  %s doctor [-json]                       Run project diagnostics
  %s version                              Print the version

FLAGS (per subcommand):
  submit  -unit      restrict to one work unit (repeatable), e.g. -unit sub-01/ses-02
          -force     resubmit completed units too
  status  -json      machine-readable output
          -watch     live view, reconciling on a timer
  merge   -trial     stop before push and branch deletion
          -chunk-size  branches folded per merge commit

ENVIRONMENT VARIABLES:
  BATCHWEAVE_PROJECT  Project directory (default: current directory)

Every command runs against the project's %s.
`, prog, prog, prog, prog, prog, prog, prog, prog, config.FileName)
}

func main() {
	flag.Usage = printUsage
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = shared.WithRunID(ctx, shared.NewRunID())

	args := flag.Args()
	if len(args) == 0 {
		printUsage()
		os.Exit(2)
	}

	switch strings.ToLower(strings.TrimSpace(args[0])) {
	case "help", "-h", "--help":
		printUsage()
		os.Exit(0)
	case "version":
		fmt.Printf("batchweave %s\n", Version)
		os.Exit(0)
	case "submit":
		os.Exit(runSubmitCommand(ctx, args[1:]))
	case "status":
		os.Exit(runStatusCommand(ctx, args[1:]))
	case "merge":
		os.Exit(runMergeCommand(ctx, args[1:]))
	case "cancel":
		os.Exit(runCancelCommand(ctx, args[1:]))
	case "daemon":
		os.Exit(runDaemonCommand(ctx, args[1:]))
	case "doctor":
		os.Exit(runDoctorCommand(ctx, args[1:]))
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n", args[0])
		printUsage()
		os.Exit(2)
	}
}

// quietLogs keeps stdout clean for tables and reports when attached to a
// terminal; logs still land in logs/system.jsonl.
func quietLogs() bool {
	return isatty.IsTerminal(os.Stdout.Fd())
}
