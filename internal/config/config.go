// Package config loads and validates the project's batchweave.yaml.
// Every path in the file is resolved relative to the project directory, so
// a project stays relocatable.
package config

import (
	"fmt"
	"hash/fnv"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/batchweave/batchweave/internal/registry"

	otelx "github.com/batchweave/batchweave/internal/otel"
)

// FileName is the per-project configuration file.
const FileName = "batchweave.yaml"

type Config struct {
	ProjectDir string `yaml:"-"`

	// Level is the processing granularity: "subject" or "session".
	Level string `yaml:"level"`

	// InclusionList is the CSV naming every work unit in scope.
	InclusionList string `yaml:"inclusion_list"`

	// JobState is the tabular file holding per-unit assignments and status.
	JobState string `yaml:"job_state"`

	// ResultStore is the git repository that receives job result branches.
	ResultStore string `yaml:"result_store"`

	// WorkDir is the directory submissions run from; the submit script and
	// any scheduler-side assets live here.
	WorkDir      string `yaml:"work_dir"`
	SubmitScript string `yaml:"submit_script"`

	// ChunkSize bounds how many branches one merge commit folds.
	ChunkSize int `yaml:"chunk_size"`

	// LockTimeoutSeconds bounds the wait for the job-state lock.
	LockTimeoutSeconds int `yaml:"lock_timeout_seconds"`

	LogLevel string `yaml:"log_level"`

	// Schedule is the daemon's reconciliation cadence, in cron syntax.
	Schedule string `yaml:"schedule"`

	Otel otelx.Config `yaml:"otel"`
}

// ConfigPath returns the configuration file's location inside projectDir.
func ConfigPath(projectDir string) string {
	return filepath.Join(projectDir, FileName)
}

// ProjectDir resolves the active project directory. The BATCHWEAVE_PROJECT
// environment variable overrides the working directory.
func ProjectDir() string {
	if override := os.Getenv("BATCHWEAVE_PROJECT"); override != "" {
		return override
	}
	return "."
}

func defaultConfig() Config {
	return Config{
		Level:              string(registry.LevelSubject),
		InclusionList:      "participants.csv",
		JobState:           "job_state.csv",
		WorkDir:            ".",
		SubmitScript:       "submit.sh",
		ChunkSize:          2000,
		LockTimeoutSeconds: int((5 * time.Minute).Seconds()),
		LogLevel:           "info",
		Schedule:           "*/10 * * * *",
	}
}

// Load reads projectDir's batchweave.yaml, applies environment overrides and
// defaults, and validates the result. The file itself is required: running
// against a directory that is not a batchweave project is an error, not an
// implicit empty pipeline.
func Load(projectDir string) (Config, error) {
	cfg := defaultConfig()
	cfg.ProjectDir = projectDir

	data, err := os.ReadFile(ConfigPath(projectDir))
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, fmt.Errorf("%s not found in %s; is this a batchweave project?", FileName, projectDir)
		}
		return cfg, fmt.Errorf("read %s: %w", FileName, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse %s: %w", FileName, err)
	}

	applyEnvOverrides(&cfg)
	normalize(&cfg)
	if err := validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func normalize(cfg *Config) {
	if cfg.Level == "" {
		cfg.Level = string(registry.LevelSubject)
	}
	if cfg.InclusionList == "" {
		cfg.InclusionList = "participants.csv"
	}
	if cfg.JobState == "" {
		cfg.JobState = "job_state.csv"
	}
	if cfg.WorkDir == "" {
		cfg.WorkDir = "."
	}
	if cfg.SubmitScript == "" {
		cfg.SubmitScript = "submit.sh"
	}
	if cfg.ChunkSize == 0 {
		cfg.ChunkSize = 2000
	}
	if cfg.LockTimeoutSeconds <= 0 {
		cfg.LockTimeoutSeconds = int((5 * time.Minute).Seconds())
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if cfg.Schedule == "" {
		cfg.Schedule = "*/10 * * * *"
	}
}

func validate(cfg Config) error {
	if _, err := registry.ParseLevel(cfg.Level); err != nil {
		return fmt.Errorf("%s: %w", FileName, err)
	}
	if cfg.ResultStore == "" {
		return fmt.Errorf("%s: result_store is required", FileName)
	}
	if cfg.ChunkSize < 1 {
		return fmt.Errorf("%s: chunk_size must be >= 1, got %d", FileName, cfg.ChunkSize)
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	if raw := os.Getenv("BATCHWEAVE_LOG_LEVEL"); raw != "" {
		cfg.LogLevel = raw
	}
	if raw := os.Getenv("BATCHWEAVE_RESULT_STORE"); raw != "" {
		cfg.ResultStore = raw
	}
	if raw := os.Getenv("BATCHWEAVE_CHUNK_SIZE"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil {
			cfg.ChunkSize = v
		}
	}
	if raw := os.Getenv("BATCHWEAVE_LOCK_TIMEOUT_SECONDS"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil {
			cfg.LockTimeoutSeconds = v
		}
	}
	if raw := os.Getenv("BATCHWEAVE_SCHEDULE"); raw != "" {
		cfg.Schedule = raw
	}
}

// LockTimeout returns the job-state lock wait bound.
func (c Config) LockTimeout() time.Duration {
	return time.Duration(c.LockTimeoutSeconds) * time.Second
}

// ProcessingLevel returns the parsed level. Load has already validated it.
func (c Config) ProcessingLevel() registry.Level {
	level, _ := registry.ParseLevel(c.Level)
	return level
}

// AbsPath resolves a configured path against the project directory.
// Absolute paths pass through unchanged.
func (c Config) AbsPath(path string) string {
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(c.ProjectDir, path)
}

// Fingerprint returns a stable hash of the fields that change pipeline
// behavior, so reloads can skip no-op config writes.
func (c Config) Fingerprint() string {
	h := fnv.New64a()
	fmt.Fprintf(h, "level=%s|incl=%s|state=%s|store=%s|work=%s|script=%s|chunk=%d|lock=%d|log=%s|sched=%s",
		c.Level, c.InclusionList, c.JobState, c.ResultStore, c.WorkDir,
		c.SubmitScript, c.ChunkSize, c.LockTimeoutSeconds, c.LogLevel, c.Schedule)
	return fmt.Sprintf("cfg-%x", h.Sum64())
}
