// Package jobstate persists, per work unit, the latest scheduler assignment
// and last observed queue state in a tabular file guarded by a sibling lock.
// The file is rewritten wholesale (temp file + rename) so concurrent readers
// never see a partial update.
package jobstate

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/batchweave/batchweave/internal/registry"

	otelx "github.com/batchweave/batchweave/internal/otel"
)

// Transient-field placeholders used when no observation exists.
const (
	StateUnknown    = "unknown"
	TimeUsedUnknown = "unknown"
)

var header = []string{
	"sub_id", "ses_id", "job_id", "task_id",
	"submitted", "has_results", "is_failed", "needs_resubmit",
	"state", "time_used",
}

// UnitRecord is one row of the store: the latest known assignment and
// derived status for a work unit.
type UnitRecord struct {
	Key           registry.Key
	JobID         string
	TaskID        int
	Submitted     bool
	HasResults    bool
	IsFailed      bool
	NeedsResubmit bool
	State         string
	TimeUsed      string
}

// Outstanding reports whether the unit's latest assignment is still in the
// queue per the last recorded observation.
func (u UnitRecord) Outstanding() bool {
	return u.Submitted && (u.State == "pending" || u.State == "running")
}

// Assignment records one submission: jobID is shared by all units submitted
// together, taskID is the unit's dense 1-based index within that array.
type Assignment struct {
	Key    registry.Key
	JobID  string
	TaskID int
}

// Store reads and writes the job-state table.
type Store struct {
	path        string
	level       registry.Level
	lockTimeout time.Duration
	metrics     *otelx.Metrics
}

// StoreOption adjusts a Store at construction.
type StoreOption func(*Store)

// WithMetrics records lock-wait times on the given instrument set.
func WithMetrics(m *otelx.Metrics) StoreOption {
	return func(s *Store) { s.metrics = m }
}

// NewStore opens a store at path for the given processing level.
func NewStore(path string, level registry.Level, lockTimeout time.Duration, opts ...StoreOption) *Store {
	if lockTimeout <= 0 {
		lockTimeout = 5 * time.Minute
	}
	s := &Store{path: path, level: level, lockTimeout: lockTimeout}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Path returns the table's location on disk.
func (s *Store) Path() string { return s.path }

// Load reads all rows. A missing file is an empty store, not an error.
// Reads need no lock: writers replace the file atomically.
func (s *Store) Load() ([]UnitRecord, error) {
	f, err := os.Open(s.path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open job state: %w", err)
	}
	defer f.Close()

	rows, err := csv.NewReader(f).ReadAll()
	if err != nil {
		return nil, fmt.Errorf("parse job state %s: %w", s.path, err)
	}
	if len(rows) == 0 {
		return nil, nil
	}
	if err := checkHeader(rows[0]); err != nil {
		return nil, fmt.Errorf("job state %s: %w", s.path, err)
	}

	units := make([]UnitRecord, 0, len(rows)-1)
	for i, row := range rows[1:] {
		u, err := parseRow(row, s.level)
		if err != nil {
			return nil, fmt.Errorf("job state %s row %d: %w", s.path, i+2, err)
		}
		units = append(units, u)
	}
	return units, nil
}

// Update runs fn over the current rows under the store lock and writes the
// result back all-or-nothing. If fn errors, nothing is written.
func (s *Store) Update(ctx context.Context, fn func([]UnitRecord) ([]UnitRecord, error)) error {
	waitStart := time.Now()
	lock, err := acquireLock(ctx, s.path+".lock", s.lockTimeout)
	if s.metrics != nil {
		s.metrics.LockWaitDuration.Record(ctx, time.Since(waitStart).Seconds())
	}
	if err != nil {
		return err
	}
	defer lock.release()

	units, err := s.Load()
	if err != nil {
		return err
	}
	next, err := fn(units)
	if err != nil {
		return err
	}
	return s.writeAll(next)
}

// RecordAssignments overwrites each listed unit's latest assignment and
// resets all transient status fields, so stale observations from an earlier
// attempt never leak into a fresh submission. Units not yet present in the
// table are appended. All-or-nothing.
func (s *Store) RecordAssignments(ctx context.Context, assignments []Assignment) error {
	return s.Update(ctx, func(units []UnitRecord) ([]UnitRecord, error) {
		index := make(map[registry.Key]int, len(units))
		for i, u := range units {
			index[u.Key] = i
		}
		for _, a := range assignments {
			rec := UnitRecord{
				Key:       a.Key,
				JobID:     a.JobID,
				TaskID:    a.TaskID,
				Submitted: true,
				State:     StateUnknown,
				TimeUsed:  TimeUsedUnknown,
			}
			if i, ok := index[a.Key]; ok {
				// A resubmission supersedes; has_results survives only if
				// already terminal, and a fresh attempt of a completed unit
				// is rejected upstream.
				units[i] = rec
			} else {
				index[a.Key] = len(units)
				units = append(units, rec)
			}
		}
		return units, nil
	})
}

// writeAll rewrites the table via temp file + rename.
func (s *Store) writeAll(units []UnitRecord) error {
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create state directory: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".job_state-*.csv")
	if err != nil {
		return fmt.Errorf("create temp state file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	w := csv.NewWriter(tmp)
	if err := w.Write(header); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write job state header: %w", err)
	}
	for _, u := range units {
		if err := w.Write(formatRow(u)); err != nil {
			_ = tmp.Close()
			return fmt.Errorf("write job state row %s: %w", u.Key, err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("flush job state: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("sync job state: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close job state: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		return fmt.Errorf("replace job state: %w", err)
	}
	return nil
}

func checkHeader(got []string) error {
	if len(got) != len(header) {
		return fmt.Errorf("want %d columns, got %d", len(header), len(got))
	}
	for i := range header {
		if got[i] != header[i] {
			return fmt.Errorf("column %d: want %q, got %q", i, header[i], got[i])
		}
	}
	return nil
}

func parseRow(row []string, level registry.Level) (UnitRecord, error) {
	if len(row) != len(header) {
		return UnitRecord{}, fmt.Errorf("want %d fields, got %d", len(header), len(row))
	}
	u := UnitRecord{
		Key:      registry.Key{SubID: row[0], SesID: row[1]},
		JobID:    row[2],
		State:    row[8],
		TimeUsed: row[9],
	}
	if u.Key.SubID == "" {
		return UnitRecord{}, fmt.Errorf("empty sub_id")
	}
	switch level {
	case registry.LevelSubject:
		if u.Key.SesID != "" {
			return UnitRecord{}, fmt.Errorf("unit %s: ses_id set at subject level", u.Key)
		}
	case registry.LevelSession:
		if u.Key.SesID == "" {
			return UnitRecord{}, fmt.Errorf("unit %s: missing ses_id at session level", u.Key)
		}
	}
	if row[3] != "" {
		taskID, err := strconv.Atoi(row[3])
		if err != nil || taskID < 1 {
			return UnitRecord{}, fmt.Errorf("unit %s: bad task_id %q", u.Key, row[3])
		}
		u.TaskID = taskID
	}
	for _, b := range []struct {
		field string
		dst   *bool
		name  string
	}{
		{row[4], &u.Submitted, "submitted"},
		{row[5], &u.HasResults, "has_results"},
		{row[6], &u.IsFailed, "is_failed"},
		{row[7], &u.NeedsResubmit, "needs_resubmit"},
	} {
		v, err := strconv.ParseBool(b.field)
		if err != nil {
			return UnitRecord{}, fmt.Errorf("unit %s: bad %s %q", u.Key, b.name, b.field)
		}
		*b.dst = v
	}
	if u.HasResults && !u.Submitted {
		return UnitRecord{}, fmt.Errorf("unit %s: has_results without submitted", u.Key)
	}
	return u, nil
}

func formatRow(u UnitRecord) []string {
	taskID := ""
	if u.TaskID > 0 {
		taskID = strconv.Itoa(u.TaskID)
	}
	return []string{
		u.Key.SubID, u.Key.SesID, u.JobID, taskID,
		strconv.FormatBool(u.Submitted),
		strconv.FormatBool(u.HasResults),
		strconv.FormatBool(u.IsFailed),
		strconv.FormatBool(u.NeedsResubmit),
		u.State, u.TimeUsed,
	}
}
