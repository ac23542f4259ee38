package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/batchweave/batchweave/internal/config"
	"github.com/batchweave/batchweave/internal/jobstate"
	"github.com/batchweave/batchweave/internal/reconcile"
	"github.com/batchweave/batchweave/internal/tui"
)

// statusJSON is the machine-readable shape of one status run.
type statusJSON struct {
	Summary reconcile.Summary `json:"summary"`
	Units   []unitJSON        `json:"units"`
}

type unitJSON struct {
	Unit     string `json:"unit"`
	Status   string `json:"status"`
	JobID    string `json:"job_id,omitempty"`
	TaskID   int    `json:"task_id,omitempty"`
	TimeUsed string `json:"time_used,omitempty"`
}

func runStatusCommand(ctx context.Context, args []string) int {
	fs := flag.NewFlagSet("status", flag.ContinueOnError)
	jsonOut := fs.Bool("json", false, "machine-readable output")
	watch := fs.Bool("watch", false, "live view, reconciling on a timer")
	refresh := fs.Duration("refresh", tui.DefaultRefresh, "watch refresh interval")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() != 0 || (*jsonOut && *watch) {
		fmt.Fprintln(os.Stderr, "usage: batchweave status [-json | -watch [-refresh 30s]]")
		return 2
	}

	a, err := newApp(ctx, config.ProjectDir(), quietLogs())
	if err != nil {
		fmt.Fprintf(os.Stderr, "batchweave: %v\n", err)
		return 1
	}
	defer a.Close(ctx)

	if *watch {
		provider := func() tui.Snapshot {
			report, err := a.coord.Status(ctx)
			if err != nil {
				return tui.Snapshot{Err: err}
			}
			return tui.Snapshot{
				Units:       report.Units,
				Summary:     report.Summary,
				RefreshedAt: time.Now(),
			}
		}
		if err := tui.Watch(ctx, provider, *refresh); err != nil && ctx.Err() == nil {
			fmt.Fprintf(os.Stderr, "status watch: %v\n", err)
			return 1
		}
		return 0
	}

	report, err := a.coord.Status(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "status: %v\n", err)
		return 1
	}

	if *jsonOut {
		out := statusJSON{Summary: report.Summary}
		for _, u := range report.Units {
			out.Units = append(out.Units, toUnitJSON(u))
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(out); err != nil {
			fmt.Fprintf(os.Stderr, "encode: %v\n", err)
			return 1
		}
		return 0
	}

	fmt.Print(tui.RenderTable(report.Units, report.Summary))
	return 0
}

func toUnitJSON(u jobstate.UnitRecord) unitJSON {
	j := unitJSON{
		Unit:   u.Key.String(),
		Status: string(reconcile.StatusOf(u)),
		JobID:  u.JobID,
		TaskID: u.TaskID,
	}
	if u.TimeUsed != "" && u.TimeUsed != jobstate.TimeUsedUnknown {
		j.TimeUsed = u.TimeUsed
	}
	return j
}
