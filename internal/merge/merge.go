// Package merge folds every valid result branch into the result store's
// default branch in bounded-size chunks, then retires the merged branches.
// Placeholder branches never block progress; conflicts and missing content
// abort before any destructive cleanup.
package merge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"

	"github.com/batchweave/batchweave/internal/audit"
	"github.com/batchweave/batchweave/internal/bus"
	"github.com/batchweave/batchweave/internal/resultstore"
	"github.com/batchweave/batchweave/internal/shared"

	otelx "github.com/batchweave/batchweave/internal/otel"
)

// DefaultChunkSize bounds both the number of merge commits and the argument
// length of any single git invocation.
const DefaultChunkSize = 2000

const clonePrefix = "merge_ws-"

// ErrNothingToMerge is returned when no job has finished successfully yet.
// Callers must distinguish it from integrity errors: it is the common
// "nothing finished yet" case, not a failure.
var ErrNothingToMerge = errors.New("no successfully finished job branch to merge yet")

// InProgressError reports a leftover ephemeral workspace. A second merge
// must not run against the same store, so this is fatal, never silently
// overwritten.
type InProgressError struct {
	Dir string
}

func (e *InProgressError) Error() string {
	return fmt.Sprintf("merge workspace %s already exists; another merge may be running (remove it only after inspection)", e.Dir)
}

// IntegrityError reports a conflict or missing content. The ephemeral clone
// and all branches are preserved for inspection, and the report file is the
// operator-visible signal of partial failure.
type IntegrityError struct {
	Stage      string // "merge" or "audit"
	Chunk      int    // zero-based chunk index, -1 when not chunk-specific
	Branches   []string
	ReportPath string
	Err        error
}

func (e *IntegrityError) Error() string {
	return fmt.Sprintf("merge integrity failure at %s (chunk %d, %d branches, report %s): %v",
		e.Stage, e.Chunk, len(e.Branches), e.ReportPath, e.Err)
}

func (e *IntegrityError) Unwrap() error { return e.Err }

// Options controls one merge run.
type Options struct {
	// ChunkSize is the number of branches folded per merge commit.
	// Zero means DefaultChunkSize.
	ChunkSize int
	// Trial stops after the chunk merges: no push, no branch deletion.
	Trial bool
}

// Report describes what a merge run did (or, in trial mode, would do).
type Report struct {
	RunID        string
	Valid        int
	Placeholders int
	Chunks       int
	Merged       int
	Trial        bool
}

// Engine performs the chunked branch merge against one result store.
type Engine struct {
	Git       *resultstore.Git
	StorePath string // the durable result store
	WorkDir   string // parent for the ephemeral clone
	LogDir    string // where failure reports are written
	Logger    *slog.Logger
	Bus       *bus.Bus
	Tracer    trace.Tracer
	Metrics   *otelx.Metrics
	Audit     *audit.Log
}

// Run executes the merge protocol. Preconditions: reconciliation has already
// run (so "valid branch" reflects reality) and no other merge is active.
func (e *Engine) Run(ctx context.Context, opts Options) (*Report, error) {
	logger := e.Logger
	if logger == nil {
		logger = slog.Default()
	}
	chunkSize := opts.ChunkSize
	if chunkSize == 0 {
		chunkSize = DefaultChunkSize
	}
	if chunkSize < 1 {
		return nil, fmt.Errorf("chunk size must be >= 1, got %d", chunkSize)
	}
	runID := shared.RunID(ctx)

	if e.Tracer != nil {
		var span trace.Span
		ctx, span = otelx.StartSpan(ctx, e.Tracer, "merge.run",
			otelx.AttrRunID.String(runID),
			otelx.AttrChunkSize.Int(chunkSize),
		)
		defer span.End()
	}

	// Sole concurrency guard: a leftover workspace means another merge is
	// (or was) active against this store.
	if existing, err := filepath.Glob(filepath.Join(e.WorkDir, clonePrefix+"*")); err == nil && len(existing) > 0 {
		return nil, &InProgressError{Dir: existing[0]}
	}

	cloneDir := filepath.Join(e.WorkDir, clonePrefix+uuid.NewString())
	if err := e.Git.Clone(ctx, e.StorePath, cloneDir); err != nil {
		return nil, err
	}
	// The clone is removed only on full success or on the no-op path;
	// failures keep it on disk for inspection.

	valid, placeholders, err := e.classify(ctx, cloneDir, logger)
	if err != nil {
		return nil, err
	}

	report := &Report{
		RunID:        runID,
		Valid:        len(valid),
		Placeholders: len(placeholders),
		Trial:        opts.Trial,
	}
	if e.Metrics != nil {
		e.Metrics.PlaceholderBranches.Add(ctx, int64(len(placeholders)))
	}

	if len(valid) == 0 {
		_ = os.RemoveAll(cloneDir)
		e.record(ctx, "noop", 0, ErrNothingToMerge.Error())
		return nil, ErrNothingToMerge
	}

	chunks := chunkBranches(valid, chunkSize)
	report.Chunks = len(chunks)

	for i, chunk := range chunks {
		if err := e.mergeChunk(ctx, cloneDir, i, len(chunks), chunk, placeholders); err != nil {
			e.record(ctx, "error", report.Merged, err.Error())
			return report, err
		}
		report.Merged += len(chunk)
		if e.Bus != nil {
			e.Bus.Publish(bus.TopicMergeChunkDone, bus.MergeChunkDoneEvent{
				Chunk: i, Chunks: len(chunks), Branches: len(chunk),
			})
		}
	}

	if opts.Trial {
		_ = os.RemoveAll(cloneDir)
		logger.Info("trial merge finished, nothing pushed",
			"valid", report.Valid, "placeholders", report.Placeholders, "chunks", report.Chunks)
		e.publishFinished(report)
		e.record(ctx, "ok", report.Merged, "trial")
		return report, nil
	}

	defaultBranch, err := e.Git.CurrentBranch(ctx, cloneDir)
	if err != nil {
		return report, err
	}
	if err := e.Git.Push(ctx, cloneDir, "origin", defaultBranch); err != nil {
		e.record(ctx, "error", report.Merged, err.Error())
		return report, err
	}

	// The push is durable; from here only the availability audit may still
	// abort, and it must do so before any branch deletion.
	if err := e.auditAvailability(ctx, defaultBranch, valid, placeholders); err != nil {
		e.record(ctx, "error", report.Merged, err.Error())
		return report, err
	}

	// Retire the ephemeral clone before cleanup so it stops being
	// advertised as a content source.
	if err := e.Git.RemoveRemote(ctx, cloneDir, "origin"); err != nil {
		logger.Warn("could not retire clone remote", "clone", cloneDir, "error", err)
	}
	if err := os.RemoveAll(cloneDir); err != nil {
		logger.Warn("could not remove merge workspace", "clone", cloneDir, "error", err)
	}

	// Branch deletion reuses the merge chunking so no single invocation
	// exceeds argument-length limits.
	for _, chunk := range chunks {
		if err := e.Git.DeleteBranches(ctx, e.StorePath, branchNames(chunk)); err != nil {
			e.record(ctx, "error", report.Merged, err.Error())
			return report, err
		}
	}

	if e.Metrics != nil {
		e.Metrics.BranchesMerged.Add(ctx, int64(report.Merged))
	}
	logger.Info("merge finished",
		"merged", report.Merged, "chunks", report.Chunks, "placeholders", report.Placeholders)
	e.publishFinished(report)
	e.record(ctx, "ok", report.Merged, "")
	return report, nil
}

// classify separates valid from placeholder branches by comparing each
// branch head against the clone's default-branch head.
func (e *Engine) classify(ctx context.Context, cloneDir string, logger *slog.Logger) (valid, placeholders []resultstore.Branch, err error) {
	defaultBranch, err := e.Git.CurrentBranch(ctx, cloneDir)
	if err != nil {
		return nil, nil, err
	}
	baseline, err := e.Git.RevParse(ctx, cloneDir, defaultBranch)
	if err != nil {
		return nil, nil, err
	}
	names, err := e.Git.ListRemoteBranches(ctx, cloneDir, "origin")
	if err != nil {
		return nil, nil, err
	}
	sort.Strings(names)

	for _, name := range names {
		if name == defaultBranch {
			continue
		}
		b, ok := resultstore.ParseBranchName(name)
		if !ok {
			logger.Warn("ignoring branch outside job naming convention", "branch", name)
			continue
		}
		head, err := e.Git.RevParse(ctx, cloneDir, "origin/"+name)
		if err != nil {
			return nil, nil, fmt.Errorf("resolve branch %s: %w", name, err)
		}
		if head == baseline {
			b.Class = resultstore.ClassPlaceholder
			logger.Warn("placeholder branch holds no result", "branch", name, "unit", b.Key)
			placeholders = append(placeholders, b)
		} else {
			b.Class = resultstore.ClassValid
			valid = append(valid, b)
		}
	}
	return valid, placeholders, nil
}

func (e *Engine) mergeChunk(ctx context.Context, cloneDir string, index, total int, chunk, placeholders []resultstore.Branch) error {
	start := time.Now()
	refs := make([]string, 0, len(chunk))
	for _, b := range chunk {
		refs = append(refs, "origin/"+b.Name)
	}
	message := fmt.Sprintf("Merge results chunk %d/%d (%d branches)", index+1, total, len(chunk))

	err := e.Git.MergeBranches(ctx, cloneDir, message, refs)
	if e.Metrics != nil {
		e.Metrics.MergeChunkDuration.Record(ctx, time.Since(start).Seconds())
	}
	if err == nil {
		return nil
	}
	if errors.Is(err, resultstore.ErrMergeConflict) {
		// Disjoint job outputs never conflict; this needs an operator.
		reportPath := e.writeReport(ctx, "merge", index, chunk, placeholders, err)
		return &IntegrityError{
			Stage: "merge", Chunk: index,
			Branches: branchNames(chunk), ReportPath: reportPath, Err: err,
		}
	}
	return err
}

// auditAvailability confirms, after the push, that every merged branch head
// is reachable from the store's own default branch and that the store's
// object graph is complete.
func (e *Engine) auditAvailability(ctx context.Context, defaultBranch string, valid, placeholders []resultstore.Branch) error {
	if err := e.Git.ConnectivityCheck(ctx, e.StorePath); err != nil {
		reportPath := e.writeReport(ctx, "audit", -1, valid, placeholders, err)
		return &IntegrityError{
			Stage: "audit", Chunk: -1,
			Branches: branchNames(valid), ReportPath: reportPath, Err: err,
		}
	}
	var missing []resultstore.Branch
	for _, b := range valid {
		ok, err := e.Git.IsAncestor(ctx, e.StorePath, b.Name, defaultBranch)
		if err != nil {
			return err
		}
		if !ok {
			missing = append(missing, b)
		}
	}
	if len(missing) > 0 {
		err := fmt.Errorf("%d merged branches are not reachable from %s after push", len(missing), defaultBranch)
		reportPath := e.writeReport(ctx, "audit", -1, missing, placeholders, err)
		return &IntegrityError{
			Stage: "audit", Chunk: -1,
			Branches: branchNames(missing), ReportPath: reportPath, Err: err,
		}
	}
	return nil
}

// writeReport enumerates the offending branches in a text file. The file's
// presence is the operator-visible signal of partial failure.
func (e *Engine) writeReport(ctx context.Context, stage string, chunk int, branches, placeholders []resultstore.Branch, cause error) string {
	if err := os.MkdirAll(e.LogDir, 0o755); err != nil {
		return ""
	}
	path := filepath.Join(e.LogDir, fmt.Sprintf("merge_report_%s.txt", shared.RunID(ctx)))

	var sb strings.Builder
	fmt.Fprintf(&sb, "merge failure report\n")
	fmt.Fprintf(&sb, "time: %s\n", time.Now().UTC().Format(time.RFC3339))
	fmt.Fprintf(&sb, "stage: %s\n", stage)
	if chunk >= 0 {
		fmt.Fprintf(&sb, "chunk: %d\n", chunk)
	}
	fmt.Fprintf(&sb, "cause: %v\n\n", cause)
	fmt.Fprintf(&sb, "offending branches (%d):\n", len(branches))
	for _, b := range branches {
		fmt.Fprintf(&sb, "  %s\t%s\n", b.Name, b.Key)
	}
	if len(placeholders) > 0 {
		fmt.Fprintf(&sb, "\nplaceholder branches, not merged (%d):\n", len(placeholders))
		for _, b := range placeholders {
			fmt.Fprintf(&sb, "  %s\t%s\n", b.Name, b.Key)
		}
	}
	if err := os.WriteFile(path, []byte(sb.String()), 0o644); err != nil {
		return ""
	}
	return path
}

func (e *Engine) publishFinished(report *Report) {
	if e.Bus == nil {
		return
	}
	e.Bus.Publish(bus.TopicMergeFinished, bus.MergeFinishedEvent{
		Merged: report.Merged, Placeholders: report.Placeholders, Trial: report.Trial,
	})
}

func (e *Engine) record(ctx context.Context, outcome string, units int, detail string) {
	if e.Audit == nil {
		return
	}
	err := e.Audit.Record(ctx, audit.Entry{
		RunID:     shared.RunID(ctx),
		Operation: "merge",
		Outcome:   outcome,
		Units:     units,
		Detail:    detail,
	})
	if err != nil && e.Logger != nil {
		e.Logger.Warn("audit record failed", "error", err)
	}
}

// chunkBranches partitions branches, already sorted by name, into fixed-size
// chunks. ⌈N/C⌉ chunks come back; only the last may be short.
func chunkBranches(branches []resultstore.Branch, size int) [][]resultstore.Branch {
	var chunks [][]resultstore.Branch
	for start := 0; start < len(branches); start += size {
		end := start + size
		if end > len(branches) {
			end = len(branches)
		}
		chunks = append(chunks, branches[start:end])
	}
	return chunks
}

func branchNames(branches []resultstore.Branch) []string {
	names := make([]string, 0, len(branches))
	for _, b := range branches {
		names = append(names, b.Name)
	}
	return names
}
