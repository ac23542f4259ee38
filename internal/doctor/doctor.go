// Package doctor runs preflight diagnostics over a batchweave project: the
// configuration, the inclusion list, the job-state table, the scheduler
// commands and the result store. It reports, it never repairs.
package doctor

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/batchweave/batchweave/internal/config"
	"github.com/batchweave/batchweave/internal/jobstate"
	"github.com/batchweave/batchweave/internal/registry"
)

type CheckResult struct {
	Name    string `json:"name"`
	Status  string `json:"status"` // "PASS", "FAIL", "WARN", "SKIP"
	Message string `json:"message"`
	Detail  string `json:"detail,omitempty"`
}

type Diagnosis struct {
	Timestamp time.Time     `json:"timestamp"`
	System    SystemInfo    `json:"system"`
	Results   []CheckResult `json:"results"`
}

type SystemInfo struct {
	OS      string `json:"os"`
	Arch    string `json:"arch"`
	Go      string `json:"go_version"`
	Version string `json:"version"`
}

// Failed reports whether any check failed outright.
func (d Diagnosis) Failed() bool {
	for _, r := range d.Results {
		if r.Status == "FAIL" {
			return true
		}
	}
	return false
}

// Run executes all diagnostic checks. cfg is nil when loading it already
// failed; the remaining checks then degrade to SKIP.
func Run(ctx context.Context, cfg *config.Config, version string) Diagnosis {
	d := Diagnosis{
		Timestamp: time.Now().UTC(),
		System: SystemInfo{
			OS:      runtime.GOOS,
			Arch:    runtime.GOARCH,
			Go:      runtime.Version(),
			Version: version,
		},
	}

	checks := []func(context.Context, *config.Config) CheckResult{
		checkConfig,
		checkInclusionList,
		checkJobState,
		checkSchedulerCommands,
		checkResultStore,
		checkPermissions,
	}

	for _, check := range checks {
		d.Results = append(d.Results, check(ctx, cfg))
	}
	return d
}

func checkConfig(_ context.Context, cfg *config.Config) CheckResult {
	if cfg == nil {
		return CheckResult{Name: "Config", Status: "FAIL", Message: "Configuration not loaded"}
	}
	return CheckResult{Name: "Config", Status: "PASS",
		Message: fmt.Sprintf("Loaded from %s", config.ConfigPath(cfg.ProjectDir))}
}

func checkInclusionList(_ context.Context, cfg *config.Config) CheckResult {
	if cfg == nil {
		return CheckResult{Name: "Inclusion list", Status: "SKIP", Message: "Config missing"}
	}
	path := cfg.AbsPath(cfg.InclusionList)
	reg, err := registry.Load(path, cfg.ProcessingLevel())
	if err != nil {
		return CheckResult{Name: "Inclusion list", Status: "FAIL",
			Message: fmt.Sprintf("Cannot load %s", path), Detail: err.Error()}
	}
	return CheckResult{Name: "Inclusion list", Status: "PASS",
		Message: fmt.Sprintf("%d work units at %s level", reg.Len(), reg.Level())}
}

func checkJobState(_ context.Context, cfg *config.Config) CheckResult {
	if cfg == nil {
		return CheckResult{Name: "Job state", Status: "SKIP", Message: "Config missing"}
	}
	path := cfg.AbsPath(cfg.JobState)
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return CheckResult{Name: "Job state", Status: "WARN",
			Message: "No job-state table yet (fresh project)", Detail: path}
	}
	store := jobstate.NewStore(path, cfg.ProcessingLevel(), cfg.LockTimeout())
	units, err := store.Load()
	if err != nil {
		return CheckResult{Name: "Job state", Status: "FAIL",
			Message: fmt.Sprintf("Table at %s does not parse", path), Detail: err.Error()}
	}
	return CheckResult{Name: "Job state", Status: "PASS",
		Message: fmt.Sprintf("%d rows", len(units))}
}

func checkSchedulerCommands(_ context.Context, cfg *config.Config) CheckResult {
	var details []string
	status := "PASS"
	for _, tool := range []string{"sbatch", "squeue", "scancel"} {
		if _, err := exec.LookPath(tool); err != nil {
			details = append(details, tool+": missing")
			status = "FAIL"
		} else {
			details = append(details, tool+": ok")
		}
	}
	msg := "Scheduler commands available"
	if status != "PASS" {
		msg = "Scheduler commands missing; submit/status/cancel will fail on this host"
	}
	return CheckResult{Name: "Scheduler", Status: status, Message: msg,
		Detail: strings.Join(details, ", ")}
}

func checkResultStore(ctx context.Context, cfg *config.Config) CheckResult {
	if cfg == nil {
		return CheckResult{Name: "Result store", Status: "SKIP", Message: "Config missing"}
	}
	if _, err := exec.LookPath("git"); err != nil {
		return CheckResult{Name: "Result store", Status: "FAIL",
			Message: "git not on PATH", Detail: err.Error()}
	}
	store := cfg.AbsPath(cfg.ResultStore)
	cmd := exec.CommandContext(ctx, "git", "-C", store, "rev-parse", "--git-dir")
	if out, err := cmd.CombinedOutput(); err != nil {
		return CheckResult{Name: "Result store", Status: "FAIL",
			Message: fmt.Sprintf("%s is not a reachable git repository", store),
			Detail:  strings.TrimSpace(string(out))}
	}
	return CheckResult{Name: "Result store", Status: "PASS", Message: store}
}

func checkPermissions(_ context.Context, cfg *config.Config) CheckResult {
	if cfg == nil {
		return CheckResult{Name: "Permissions", Status: "SKIP", Message: "Config missing"}
	}
	testFile := filepath.Join(cfg.ProjectDir, ".write_test")
	if err := os.WriteFile(testFile, []byte("test"), 0o600); err != nil {
		return CheckResult{Name: "Permissions", Status: "FAIL",
			Message: fmt.Sprintf("Project dir unwritable: %v", err)}
	}
	os.Remove(testFile)
	return CheckResult{Name: "Permissions", Status: "PASS", Message: "Project directory writable"}
}
