package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"sync"

	"github.com/batchweave/batchweave/internal/bus"
	"github.com/batchweave/batchweave/internal/config"
	"github.com/batchweave/batchweave/internal/daemon"
)

// logTransitions drains the app's event bus into the daemon log so every
// unit transition observed by a scheduled pass is visible without running
// `status`. Returns a stop function; each reload gets a fresh subscriber
// because the bus is rebuilt with the app.
func logTransitions(a *app) func() {
	sub := a.bus.Subscribe("unit.")
	done := make(chan struct{})
	go func() {
		defer close(done)
		for ev := range sub.Ch() {
			change, ok := ev.Payload.(bus.UnitStatusChangedEvent)
			if !ok || ev.Topic != bus.TopicUnitStatusChanged {
				continue
			}
			a.logger.Info("unit status changed",
				"unit", change.Unit,
				"from", change.OldStatus,
				"to", change.NewStatus,
				"job_id", change.JobID,
				"task_id", change.TaskID,
			)
		}
	}()
	return func() {
		a.bus.Unsubscribe(sub)
		<-done
	}
}

func runDaemonCommand(ctx context.Context, args []string) int {
	fs := flag.NewFlagSet("daemon", flag.ContinueOnError)
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() != 0 {
		fmt.Fprintln(os.Stderr, "usage: batchweave daemon")
		return 2
	}

	projectDir := config.ProjectDir()
	// Daemon logs to stdout as well as the log file.
	a, err := newApp(ctx, projectDir, false)
	if err != nil {
		fmt.Fprintf(os.Stderr, "batchweave: %v\n", err)
		return 1
	}
	// Reload swaps the whole app so config, registry and wiring all refresh
	// together. The mutex keeps a swap from racing an in-flight pass. The
	// live app is closed at exit; replaced ones are closed on swap.
	var mu sync.Mutex
	current := a
	stopTransitions := logTransitions(a)

	watcher := config.NewWatcher(projectDir, a.cfg.AbsPath(a.cfg.InclusionList), a.logger)
	if err := watcher.Start(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "start watcher: %v\n", err)
		stopTransitions()
		a.Close(ctx)
		return 1
	}

	d, err := daemon.New(daemon.Options{
		Run: func(runCtx context.Context) error {
			mu.Lock()
			defer mu.Unlock()
			_, err := current.coord.Reconciler.Run(runCtx)
			return err
		},
		Schedule: a.cfg.Schedule,
		Watcher:  watcher,
		Reload: func(reloadCtx context.Context) error {
			next, err := newApp(reloadCtx, projectDir, false)
			if err != nil {
				return err
			}
			mu.Lock()
			old := current
			current = next
			oldStop := stopTransitions
			stopTransitions = logTransitions(next)
			mu.Unlock()
			oldStop()
			old.Close(reloadCtx)
			return nil
		},
		Logger: a.logger,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "daemon: %v\n", err)
		stopTransitions()
		a.Close(ctx)
		return 1
	}

	d.Start(ctx)
	a.logger.Info("daemon running", "schedule", a.cfg.Schedule, "project", projectDir)
	<-ctx.Done()
	d.Stop()

	mu.Lock()
	defer mu.Unlock()
	stopTransitions()
	current.Close(context.Background())
	return 0
}
