// Package daemon runs reconciliation on a cron cadence so the job-state
// table keeps tracking the queue and the result store without operator
// action. Project file edits are picked up between runs without a restart.
package daemon

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	cronlib "github.com/robfig/cron/v3"

	"github.com/batchweave/batchweave/internal/config"
	"github.com/batchweave/batchweave/internal/shared"
)

// cronParser parses standard 5-field cron expressions (minute, hour, dom,
// month, dow).
var cronParser = cronlib.NewParser(
	cronlib.Minute | cronlib.Hour | cronlib.Dom | cronlib.Month | cronlib.Dow,
)

// Options holds the daemon's dependencies.
type Options struct {
	// Run performs one reconciliation pass.
	Run func(ctx context.Context) error
	// Schedule is the cron cadence, validated at construction.
	Schedule string
	// Watcher emits project file changes; nil disables hot reload.
	Watcher *config.Watcher
	// Reload is invoked after a project file change. Errors keep the
	// previous configuration in effect.
	Reload func(ctx context.Context) error
	Logger *slog.Logger
	// TickInterval is how often the schedule is checked. Defaults to 15s;
	// tests shorten it.
	TickInterval time.Duration
}

// Daemon fires Run at each due point of its cron schedule.
type Daemon struct {
	run      func(ctx context.Context) error
	schedule cronlib.Schedule
	watcher  *config.Watcher
	reload   func(ctx context.Context) error
	logger   *slog.Logger
	interval time.Duration

	nextRun time.Time

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New validates the schedule and builds a stopped daemon.
func New(opts Options) (*Daemon, error) {
	sched, err := cronParser.Parse(opts.Schedule)
	if err != nil {
		return nil, fmt.Errorf("parse schedule %q: %w", opts.Schedule, err)
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	interval := opts.TickInterval
	if interval <= 0 {
		interval = 15 * time.Second
	}
	return &Daemon{
		run:      opts.Run,
		schedule: sched,
		watcher:  opts.Watcher,
		reload:   opts.Reload,
		logger:   logger,
		interval: interval,
	}, nil
}

// Start begins the daemon loop in a background goroutine. It fires once
// immediately, then at each due point of the schedule.
func (d *Daemon) Start(ctx context.Context) {
	ctx, d.cancel = context.WithCancel(ctx)
	d.nextRun = time.Now()
	d.wg.Add(1)
	go d.loop(ctx)
	d.logger.Info("daemon started", "next_run", d.nextRun)
}

// Stop cancels the loop and waits for the in-flight pass to finish.
func (d *Daemon) Stop() {
	if d.cancel != nil {
		d.cancel()
	}
	d.wg.Wait()
	d.logger.Info("daemon stopped")
}

func (d *Daemon) loop(ctx context.Context) {
	defer d.wg.Done()

	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	var events <-chan config.ReloadEvent
	if d.watcher != nil {
		events = d.watcher.Events()
	}

	// Fire immediately on startup, then on each due tick.
	d.tick(ctx, time.Now())

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.tick(ctx, time.Now())
		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			d.handleReload(ctx, ev)
		}
	}
}

// tick fires the pass when the schedule's due point has been reached.
func (d *Daemon) tick(ctx context.Context, now time.Time) {
	if now.Before(d.nextRun) {
		return
	}
	d.fire(ctx, now)
}

func (d *Daemon) fire(ctx context.Context, now time.Time) {
	runCtx := shared.WithRunID(ctx, shared.NewRunID())
	if err := d.run(runCtx); err != nil {
		d.logger.Error("scheduled reconciliation failed", "error", err)
	}
	d.nextRun = d.schedule.Next(now)
	d.logger.Info("scheduled reconciliation finished", "next_run", d.nextRun)
}

func (d *Daemon) handleReload(ctx context.Context, ev config.ReloadEvent) {
	if d.reload == nil {
		return
	}
	if err := d.reload(ctx); err != nil {
		d.logger.Error("project reload failed, keeping previous configuration",
			"path", ev.Path, "error", err)
		return
	}
	d.logger.Info("project configuration reloaded", "path", ev.Path)
}

// NextRunTime returns the first due point of a cron expression after the
// given time. Used by the CLI to preview a schedule.
func NextRunTime(expr string, after time.Time) (time.Time, error) {
	sched, err := cronParser.Parse(expr)
	if err != nil {
		return time.Time{}, err
	}
	return sched.Next(after), nil
}
