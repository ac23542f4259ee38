package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"

	"github.com/batchweave/batchweave/internal/audit"
	"github.com/batchweave/batchweave/internal/bus"
	"github.com/batchweave/batchweave/internal/config"
	"github.com/batchweave/batchweave/internal/coordinator"
	"github.com/batchweave/batchweave/internal/jobstate"
	"github.com/batchweave/batchweave/internal/merge"
	"github.com/batchweave/batchweave/internal/reconcile"
	"github.com/batchweave/batchweave/internal/registry"
	"github.com/batchweave/batchweave/internal/resultstore"
	"github.com/batchweave/batchweave/internal/scheduler"
	"github.com/batchweave/batchweave/internal/telemetry"

	otelx "github.com/batchweave/batchweave/internal/otel"
)

// app holds everything a subcommand needs, wired once from the project
// configuration.
type app struct {
	cfg      config.Config
	logger   *slog.Logger
	logClose io.Closer
	provider *otelx.Provider
	metrics  *otelx.Metrics
	audit    *audit.Log
	bus      *bus.Bus
	coord    *coordinator.Coordinator
}

// newApp loads the project in dir and wires the full pipeline. quiet keeps
// logs out of stdout so tables and reports stay clean on a terminal.
func newApp(ctx context.Context, dir string, quiet bool) (*app, error) {
	cfg, err := config.Load(dir)
	if err != nil {
		return nil, err
	}

	logger, logClose, err := telemetry.NewLogger(cfg.ProjectDir, cfg.LogLevel, quiet)
	if err != nil {
		return nil, fmt.Errorf("init logging: %w", err)
	}
	slog.SetDefault(logger)

	provider, err := otelx.Init(ctx, cfg.Otel)
	if err != nil {
		logClose.Close()
		return nil, fmt.Errorf("init telemetry: %w", err)
	}
	metrics, err := otelx.NewMetrics(provider.Meter)
	if err != nil {
		logClose.Close()
		return nil, fmt.Errorf("init metrics: %w", err)
	}

	auditLog, err := audit.Open(cfg.ProjectDir)
	if err != nil {
		logClose.Close()
		return nil, fmt.Errorf("open audit ledger: %w", err)
	}

	reg, err := registry.Load(cfg.AbsPath(cfg.InclusionList), cfg.ProcessingLevel())
	if err != nil {
		auditLog.Close()
		logClose.Close()
		return nil, err
	}

	store := jobstate.NewStore(cfg.AbsPath(cfg.JobState), cfg.ProcessingLevel(), cfg.LockTimeout(),
		jobstate.WithMetrics(metrics))
	adapter := scheduler.NewSlurm(nil, logger, scheduler.WithSubmitScript(cfg.SubmitScript))
	git := resultstore.NewGit(nil)
	scanner := resultstore.NewScanner(git, cfg.AbsPath(cfg.ResultStore), logger)
	b := bus.New()

	reconciler := &reconcile.Engine{
		Registry: reg,
		Store:    store,
		Adapter:  adapter,
		Scanner:  scanner,
		Bus:      b,
		Logger:   logger,
		Tracer:   provider.Tracer,
		Metrics:  metrics,
		Audit:    auditLog,
	}
	merger := &merge.Engine{
		Git:       git,
		StorePath: cfg.AbsPath(cfg.ResultStore),
		WorkDir:   cfg.ProjectDir,
		LogDir:    filepath.Join(cfg.ProjectDir, "logs"),
		Logger:    logger,
		Bus:       b,
		Tracer:    provider.Tracer,
		Metrics:   metrics,
		Audit:     auditLog,
	}
	coord := &coordinator.Coordinator{
		Registry:   reg,
		Store:      store,
		Adapter:    adapter,
		Reconciler: reconciler,
		Merger:     merger,
		WorkDir:    cfg.AbsPath(cfg.WorkDir),
		Logger:     logger,
		Metrics:    metrics,
		Audit:      auditLog,
	}

	return &app{
		cfg:      cfg,
		logger:   logger,
		logClose: logClose,
		provider: provider,
		metrics:  metrics,
		audit:    auditLog,
		bus:      b,
		coord:    coord,
	}, nil
}

func (a *app) Close(ctx context.Context) {
	if err := a.provider.Shutdown(ctx); err != nil {
		a.logger.Warn("telemetry shutdown", "error", err)
	}
	if err := a.audit.Close(); err != nil {
		a.logger.Warn("audit close", "error", err)
	}
	_ = a.logClose.Close()
}
