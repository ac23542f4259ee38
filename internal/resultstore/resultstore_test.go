package resultstore_test

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/batchweave/batchweave/internal/resultstore"
	"github.com/batchweave/batchweave/internal/shell"
)

// scriptRunner maps a joined "git arg arg..." command line to a canned
// result, recording every invocation.
type scriptRunner struct {
	out   map[string]shell.Result
	errs  map[string]error
	calls []string
}

func (s *scriptRunner) Run(_ context.Context, dir, name string, args ...string) (shell.Result, error) {
	cmd := strings.Join(append([]string{name}, args...), " ")
	s.calls = append(s.calls, cmd)
	return s.out[cmd], s.errs[cmd]
}

func TestParseBranchName(t *testing.T) {
	cases := []struct {
		name    string
		ok      bool
		jobID   string
		taskID  int
		unit    string
	}{
		{"job-11042-3-sub-0001", true, "11042", 3, "sub-0001"},
		{"job-11042-3-sub-0001-ses-02", true, "11042", 3, "sub-0001/ses-02"},
		{"job-11042-0-sub-0001", false, "", 0, ""},
		{"main", false, "", 0, ""},
		{"job-abc-1-sub-01", false, "", 0, ""},
		{"job-11042-1-subject-01", false, "", 0, ""},
	}
	for _, tc := range cases {
		b, ok := resultstore.ParseBranchName(tc.name)
		if ok != tc.ok {
			t.Fatalf("%s: expected ok=%v, got %v", tc.name, tc.ok, ok)
		}
		if !ok {
			continue
		}
		if b.JobID != tc.jobID || b.TaskID != tc.taskID || b.Key.String() != tc.unit {
			t.Fatalf("%s: parsed %+v", tc.name, b)
		}
	}
}

func TestBranchName_RoundTrip(t *testing.T) {
	b, ok := resultstore.ParseBranchName("job-7-12-sub-x1-ses-a2")
	if !ok {
		t.Fatalf("parse failed")
	}
	if got := resultstore.BranchName(b.JobID, b.TaskID, b.Key); got != "job-7-12-sub-x1-ses-a2" {
		t.Fatalf("round trip produced %q", got)
	}
}

func TestScanner_ClassifiesAgainstBaseline(t *testing.T) {
	const baseline = "aaaa000"
	runner := &scriptRunner{out: map[string]shell.Result{
		"git rev-parse --abbrev-ref HEAD": {Stdout: "main\n"},
		"git rev-parse --verify main":     {Stdout: baseline + "\n"},
		"git for-each-ref refs/heads --format=%(refname:short)": {Stdout: strings.Join([]string{
			"main",
			"job-100-2-sub-02",
			"job-100-1-sub-01",
			"wip-notes", // outside the convention: skipped with a warning
		}, "\n")},
		"git rev-parse --verify job-100-1-sub-01": {Stdout: "bbbb111\n"},
		"git rev-parse --verify job-100-2-sub-02": {Stdout: baseline + "\n"},
	}}
	scanner := resultstore.NewScanner(resultstore.NewGit(runner), "/store", nil)

	branches, err := scanner.Scan(context.Background())
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if len(branches) != 2 {
		t.Fatalf("expected 2 job branches, got %d", len(branches))
	}
	// Sorted by branch name.
	if branches[0].Name != "job-100-1-sub-01" || branches[0].Class != resultstore.ClassValid {
		t.Fatalf("branch 0: %+v", branches[0])
	}
	if branches[1].Name != "job-100-2-sub-02" || branches[1].Class != resultstore.ClassPlaceholder {
		t.Fatalf("branch 1: %+v", branches[1])
	}

	valid := resultstore.ValidByKey(branches)
	if _, ok := valid["sub-01"]; !ok {
		t.Fatalf("sub-01 should index as valid")
	}
	if _, ok := valid["sub-02"]; ok {
		t.Fatalf("placeholder must not index as valid")
	}
}

func TestGit_MergeConflictAborts(t *testing.T) {
	cmd := "git merge --no-ff -m fold chunk 1 job-1-1-sub-01"
	runner := &scriptRunner{
		out:  map[string]shell.Result{cmd: {Stdout: "CONFLICT (content): merge conflict\n"}},
		errs: map[string]error{cmd: &shell.ExitError{Name: "git", ExitCode: 1, Stderr: "Automatic merge failed"}},
	}
	git := resultstore.NewGit(runner)

	err := git.MergeBranches(context.Background(), "/clone", "fold chunk 1", []string{"job-1-1-sub-01"})
	if !errors.Is(err, resultstore.ErrMergeConflict) {
		t.Fatalf("expected ErrMergeConflict, got %v", err)
	}
	// The in-progress merge must have been aborted for inspection.
	found := false
	for _, call := range runner.calls {
		if call == "git merge --abort" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected git merge --abort, calls: %v", runner.calls)
	}
}

func TestGit_IsAncestorExitOneMeansFalse(t *testing.T) {
	cmd := "git merge-base --is-ancestor aaa bbb"
	runner := &scriptRunner{errs: map[string]error{cmd: &shell.ExitError{Name: "git", ExitCode: 1}}}
	git := resultstore.NewGit(runner)

	ok, err := git.IsAncestor(context.Background(), "/store", "aaa", "bbb")
	if err != nil {
		t.Fatalf("exit 1 is an answer, not an error: %v", err)
	}
	if ok {
		t.Fatalf("expected not-ancestor")
	}
}

func TestGit_ListRemoteBranchesStripsPrefix(t *testing.T) {
	runner := &scriptRunner{out: map[string]shell.Result{
		"git for-each-ref refs/remotes/origin --format=%(refname:short)": {
			Stdout: "origin/HEAD\norigin/main\norigin/job-1-1-sub-01\n",
		},
	}}
	git := resultstore.NewGit(runner)

	names, err := git.ListRemoteBranches(context.Background(), "/clone", "origin")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	want := []string{"main", "job-1-1-sub-01"}
	if len(names) != len(want) || names[0] != want[0] || names[1] != want[1] {
		t.Fatalf("expected %v, got %v", want, names)
	}
}
