package resultstore

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
)

// Scanner enumerates job branches in the result store and classifies each
// as valid or placeholder. The head-commit comparison is the sole oracle for
// "did this unit produce output": scheduler exit codes are not trusted,
// since a task can exit zero without writing results.
type Scanner struct {
	git    *Git
	repo   string
	logger *slog.Logger
}

// NewScanner builds a scanner over the repository at repo.
func NewScanner(git *Git, repo string, logger *slog.Logger) *Scanner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scanner{git: git, repo: repo, logger: logger}
}

// Scan lists all job branches, sorted by name, with their classification.
// Branch names outside the convention are skipped with a warning.
func (s *Scanner) Scan(ctx context.Context) ([]Branch, error) {
	defaultBranch, err := s.git.CurrentBranch(ctx, s.repo)
	if err != nil {
		return nil, err
	}
	baseline, err := s.git.RevParse(ctx, s.repo, defaultBranch)
	if err != nil {
		return nil, fmt.Errorf("resolve baseline: %w", err)
	}

	names, err := s.git.ListBranches(ctx, s.repo)
	if err != nil {
		return nil, err
	}

	var branches []Branch
	for _, name := range names {
		if name == defaultBranch {
			continue
		}
		b, ok := ParseBranchName(name)
		if !ok {
			s.logger.Warn("ignoring branch outside job naming convention", "branch", name)
			continue
		}
		head, err := s.git.RevParse(ctx, s.repo, name)
		if err != nil {
			return nil, fmt.Errorf("resolve branch %s: %w", name, err)
		}
		if head == baseline {
			b.Class = ClassPlaceholder
			s.logger.Warn("placeholder branch holds no result", "branch", name, "unit", b.Key)
		} else {
			b.Class = ClassValid
		}
		branches = append(branches, b)
	}

	sort.Slice(branches, func(i, j int) bool { return branches[i].Name < branches[j].Name })
	return branches, nil
}

// ValidByKey indexes the valid branches of a scan by work-unit key.
func ValidByKey(branches []Branch) map[string]Branch {
	out := make(map[string]Branch)
	for _, b := range branches {
		if b.Class == ClassValid {
			out[b.Key.String()] = b
		}
	}
	return out
}
