package resultstore

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/batchweave/batchweave/internal/shell"
)

// Git drives the version-control system through its command-line interface.
// All mutation of the result store funnels through git's own atomic
// ref-update semantics; no extra locking is layered on top.
type Git struct {
	runner shell.Runner
}

// NewGit builds the git backend. A nil runner falls back to os/exec.
func NewGit(runner shell.Runner) *Git {
	if runner == nil {
		runner = shell.ExecRunner{}
	}
	return &Git{runner: runner}
}

// ErrMergeConflict marks a chunk merge that reported conflicting changes.
// Disjoint job outputs never conflict, so this is an integrity signal.
var ErrMergeConflict = errors.New("merge conflict")

func (g *Git) run(ctx context.Context, repo string, args ...string) (string, error) {
	res, err := g.runner.Run(ctx, repo, "git", args...)
	if err != nil {
		return res.Stdout, err
	}
	return res.Stdout, nil
}

// Clone copies src into dst.
func (g *Git) Clone(ctx context.Context, src, dst string) error {
	if _, err := g.run(ctx, "", "clone", src, dst); err != nil {
		return fmt.Errorf("clone %s: %w", src, err)
	}
	return nil
}

// ListBranches returns the short names of all heads in repo.
func (g *Git) ListBranches(ctx context.Context, repo string) ([]string, error) {
	out, err := g.run(ctx, repo, "for-each-ref", "refs/heads", "--format=%(refname:short)")
	if err != nil {
		return nil, fmt.Errorf("list branches: %w", err)
	}
	return splitLines(out), nil
}

// ListRemoteBranches returns remote-tracking branch names in repo with the
// remote prefix stripped.
func (g *Git) ListRemoteBranches(ctx context.Context, repo, remote string) ([]string, error) {
	out, err := g.run(ctx, repo, "for-each-ref", "refs/remotes/"+remote, "--format=%(refname:short)")
	if err != nil {
		return nil, fmt.Errorf("list remote branches: %w", err)
	}
	var names []string
	for _, line := range splitLines(out) {
		name := strings.TrimPrefix(line, remote+"/")
		if name == "HEAD" || name == line {
			continue
		}
		names = append(names, name)
	}
	return names, nil
}

// RevParse resolves ref to a commit hash.
func (g *Git) RevParse(ctx context.Context, repo, ref string) (string, error) {
	out, err := g.run(ctx, repo, "rev-parse", "--verify", ref)
	if err != nil {
		return "", fmt.Errorf("rev-parse %s: %w", ref, err)
	}
	return strings.TrimSpace(out), nil
}

// CurrentBranch returns the checked-out branch name.
func (g *Git) CurrentBranch(ctx context.Context, repo string) (string, error) {
	out, err := g.run(ctx, repo, "rev-parse", "--abbrev-ref", "HEAD")
	if err != nil {
		return "", fmt.Errorf("current branch: %w", err)
	}
	return strings.TrimSpace(out), nil
}

// MergeBranches merges refs into the current branch as one multi-parent
// commit. A conflict aborts the in-progress merge and returns
// ErrMergeConflict wrapped with the failing output.
func (g *Git) MergeBranches(ctx context.Context, repo, message string, refs []string) error {
	args := append([]string{"merge", "--no-ff", "-m", message}, refs...)
	out, err := g.run(ctx, repo, args...)
	if err == nil {
		return nil
	}
	var exitErr *shell.ExitError
	if errors.As(err, &exitErr) {
		// Leave the tree clean for inspection of the source branches.
		_, _ = g.run(ctx, repo, "merge", "--abort")
		return fmt.Errorf("%w: %s", ErrMergeConflict, strings.TrimSpace(out+exitErr.Stderr))
	}
	return fmt.Errorf("merge: %w", err)
}

// Push updates remote with refspec.
func (g *Git) Push(ctx context.Context, repo, remote, refspec string) error {
	if _, err := g.run(ctx, repo, "push", remote, refspec); err != nil {
		return fmt.Errorf("push %s %s: %w", remote, refspec, err)
	}
	return nil
}

// DeleteBranches removes local branches from repo in one invocation.
// Callers chunk the list to stay within argument-length limits.
func (g *Git) DeleteBranches(ctx context.Context, repo string, branches []string) error {
	args := append([]string{"branch", "--delete", "--force"}, branches...)
	if _, err := g.run(ctx, repo, args...); err != nil {
		return fmt.Errorf("delete %d branches: %w", len(branches), err)
	}
	return nil
}

// ConnectivityCheck verifies every object referenced from repo's refs is
// present in its object store.
func (g *Git) ConnectivityCheck(ctx context.Context, repo string) error {
	if _, err := g.run(ctx, repo, "fsck", "--connectivity-only", "--no-dangling"); err != nil {
		return fmt.Errorf("connectivity check: %w", err)
	}
	return nil
}

// IsAncestor reports whether ancestor is reachable from descendant.
func (g *Git) IsAncestor(ctx context.Context, repo, ancestor, descendant string) (bool, error) {
	_, err := g.run(ctx, repo, "merge-base", "--is-ancestor", ancestor, descendant)
	if err == nil {
		return true, nil
	}
	var exitErr *shell.ExitError
	if errors.As(err, &exitErr) && exitErr.ExitCode == 1 {
		return false, nil
	}
	return false, fmt.Errorf("is-ancestor %s %s: %w", ancestor, descendant, err)
}

// RemoveRemote deregisters a remote so the repo it points at stops being
// advertised as a content source.
func (g *Git) RemoveRemote(ctx context.Context, repo, remote string) error {
	if _, err := g.run(ctx, repo, "remote", "remove", remote); err != nil {
		return fmt.Errorf("remove remote %s: %w", remote, err)
	}
	return nil
}

func splitLines(s string) []string {
	var out []string
	for _, line := range strings.Split(s, "\n") {
		line = strings.TrimSpace(line)
		if line != "" {
			out = append(out, line)
		}
	}
	return out
}
