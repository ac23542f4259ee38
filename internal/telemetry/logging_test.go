package telemetry

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestNewLogger_EmitsStructuredSchema(t *testing.T) {
	dir := t.TempDir()
	logger, closer, err := NewLogger(dir, "debug", true)
	if err != nil {
		t.Fatalf("new logger: %v", err)
	}
	defer closer.Close()

	logger.Info("reconciliation finished", "run_id", "run-1", "units", 3)

	logPath := filepath.Join(dir, "logs", "system.jsonl")
	raw, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(raw)), "\n")
	if len(lines) == 0 || strings.TrimSpace(lines[0]) == "" {
		t.Fatalf("expected at least one log line")
	}

	var entry map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &entry); err != nil {
		t.Fatalf("unmarshal log json: %v", err)
	}

	required := []string{"timestamp", "level", "msg", "component"}
	for _, key := range required {
		if _, ok := entry[key]; !ok {
			t.Fatalf("missing required key %q in log entry: %#v", key, entry)
		}
	}
	if entry["component"] != "batchweave" {
		t.Fatalf("expected component=batchweave, got %#v", entry["component"])
	}
	if entry["run_id"] != "run-1" {
		t.Fatalf("expected run_id propagation, got %#v", entry["run_id"])
	}
}

func TestNewLogger_ParsesLevels(t *testing.T) {
	dir := t.TempDir()
	logger, closer, err := NewLogger(dir, "warn", true)
	if err != nil {
		t.Fatalf("new logger: %v", err)
	}
	defer closer.Close()

	logger.Info("chatty info line")
	logger.Warn("slow queue poll")

	raw, err := os.ReadFile(filepath.Join(dir, "logs", "system.jsonl"))
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	out := string(raw)
	if strings.Contains(out, "chatty info line") {
		t.Fatalf("info line should be filtered at warn level")
	}
	if !strings.Contains(out, "slow queue poll") {
		t.Fatalf("warn line missing")
	}
}
