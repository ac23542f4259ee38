// Package audit records every operator-facing operation (submit, status,
// merge, cancel) to an append-only JSONL file and a SQLite ledger, so a
// run's history survives log rotation and can be queried after the fact.
package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

const (
	schemaVersion  = 1
	schemaChecksum = "bw-v1-operations-ledger"
)

// Entry is one recorded operation.
type Entry struct {
	Timestamp string `json:"timestamp"`
	RunID     string `json:"run_id"`
	Operation string `json:"operation"` // submit | reconcile | merge | cancel
	Outcome   string `json:"outcome"`   // ok | noop | error
	JobID     string `json:"job_id,omitempty"`
	Units     int    `json:"units,omitempty"`
	Detail    string `json:"detail,omitempty"`
}

// Log is the operations ledger.
type Log struct {
	file *os.File
	db   *sql.DB
}

// Open creates (or opens) the ledger under projectDir.
func Open(projectDir string) (*Log, error) {
	logDir := filepath.Join(projectDir, "logs")
	if err := os.MkdirAll(logDir, 0o755); err != nil {
		return nil, fmt.Errorf("create log directory: %w", err)
	}
	f, err := os.OpenFile(filepath.Join(logDir, "audit.jsonl"), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open audit log: %w", err)
	}

	dbPath := filepath.Join(projectDir, "batchweave.db")
	dsn := fmt.Sprintf("%s?_busy_timeout=5000&_foreign_keys=on", dbPath)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("open sqlite3: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	l := &Log{file: f, db: db}
	if err := l.initSchema(context.Background()); err != nil {
		_ = f.Close()
		_ = db.Close()
		return nil, err
	}
	return l, nil
}

func (l *Log) initSchema(ctx context.Context) error {
	for _, q := range []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=FULL;",
	} {
		if _, err := l.db.ExecContext(ctx, q); err != nil {
			return fmt.Errorf("set pragma %q: %w", q, err)
		}
	}

	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin migration tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			checksum TEXT NOT NULL,
			applied_at TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ','now'))
		);
	`); err != nil {
		return fmt.Errorf("create schema_migrations: %w", err)
	}

	var current int
	err = tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(version), 0) FROM schema_migrations;`).Scan(&current)
	if err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}
	if current < schemaVersion {
		if _, err := tx.ExecContext(ctx, `
			CREATE TABLE IF NOT EXISTS operations (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				run_id TEXT NOT NULL,
				operation TEXT NOT NULL,
				outcome TEXT NOT NULL,
				job_id TEXT,
				units INTEGER,
				detail TEXT,
				created_at TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ','now'))
			);
			CREATE INDEX IF NOT EXISTS idx_operations_run ON operations(run_id);
		`); err != nil {
			return fmt.Errorf("create operations table: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO schema_migrations (version, checksum) VALUES (?, ?);
		`, schemaVersion, schemaChecksum); err != nil {
			return fmt.Errorf("record migration: %w", err)
		}
	}
	return tx.Commit()
}

// DB exposes the underlying handle for diagnostics.
func (l *Log) DB() *sql.DB { return l.db }

// Record appends one entry to both sinks. Recording is best-effort: a full
// disk must not turn a successful merge into a reported failure, so errors
// are returned for logging but carry no other weight.
func (l *Log) Record(ctx context.Context, e Entry) error {
	if e.Timestamp == "" {
		e.Timestamp = time.Now().UTC().Format(time.RFC3339Nano)
	}

	b, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal audit entry: %w", err)
	}
	if _, err := l.file.Write(append(b, '\n')); err != nil {
		return fmt.Errorf("append audit entry: %w", err)
	}

	if _, err := l.db.ExecContext(ctx, `
		INSERT INTO operations (run_id, operation, outcome, job_id, units, detail)
		VALUES (?, ?, ?, ?, ?, ?);
	`, e.RunID, e.Operation, e.Outcome, e.JobID, e.Units, e.Detail); err != nil {
		return fmt.Errorf("insert operation row: %w", err)
	}
	return nil
}

// Recent returns the most recent limit operations, newest first.
func (l *Log) Recent(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	rows, err := l.db.QueryContext(ctx, `
		SELECT created_at, run_id, operation, outcome, COALESCE(job_id, ''), COALESCE(units, 0), COALESCE(detail, '')
		FROM operations
		ORDER BY id DESC
		LIMIT ?;
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("query operations: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.Timestamp, &e.RunID, &e.Operation, &e.Outcome, &e.JobID, &e.Units, &e.Detail); err != nil {
			return nil, fmt.Errorf("scan operation row: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// Close releases both sinks.
func (l *Log) Close() error {
	fErr := l.file.Close()
	dbErr := l.db.Close()
	if fErr != nil {
		return fErr
	}
	return dbErr
}
