// Package resultstore reads and mutates the version-controlled store that
// holds each work unit's output on an isolated job branch.
package resultstore

import (
	"fmt"
	"regexp"
	"strconv"

	"github.com/batchweave/batchweave/internal/registry"
)

// Class says whether a job branch carries a real result. A placeholder
// branch points at the store's baseline commit: the task pushed its branch
// but never committed output onto it.
type Class string

const (
	ClassValid       Class = "valid"
	ClassPlaceholder Class = "placeholder"
)

// Branch is one job branch in the result store.
type Branch struct {
	Name   string
	Key    registry.Key
	JobID  string
	TaskID int
	Class  Class
}

// Branch names follow job-<job_id>-<task_id>-sub-<id>[-ses-<id>].
var branchPattern = regexp.MustCompile(`^job-(\d+)-(\d+)-(sub-[A-Za-z0-9]+)(?:-(ses-[A-Za-z0-9]+))?$`)

// ParseBranchName recovers the work-unit key and assignment from a job
// branch name. ok is false for names outside the convention; callers skip
// those with a warning, never an error.
func ParseBranchName(name string) (Branch, bool) {
	m := branchPattern.FindStringSubmatch(name)
	if m == nil {
		return Branch{}, false
	}
	taskID, err := strconv.Atoi(m[2])
	if err != nil || taskID < 1 {
		return Branch{}, false
	}
	return Branch{
		Name:   name,
		JobID:  m[1],
		TaskID: taskID,
		Key:    registry.Key{SubID: m[3], SesID: m[4]},
	}, true
}

// BranchName renders the canonical branch name for one assignment.
func BranchName(jobID string, taskID int, key registry.Key) string {
	name := fmt.Sprintf("job-%s-%d-%s", jobID, taskID, key.SubID)
	if key.SesID != "" {
		name += "-" + key.SesID
	}
	return name
}
