package bus

// Reconciliation event topics.
const (
	TopicUnitStatusChanged = "unit.status_changed"
	TopicUnitCompleted     = "unit.completed"
	TopicUnitFailed        = "unit.failed"
)

// Merge event topics.
const (
	TopicMergeChunkDone = "merge.chunk_done"
	TopicMergeFinished  = "merge.finished"
)

// UnitStatusChangedEvent is published when reconciliation moves a work unit
// to a new status.
type UnitStatusChangedEvent struct {
	Unit      string // work-unit key, e.g. sub-0001/ses-01
	OldStatus string
	NewStatus string
	JobID     string
	TaskID    int
}

// MergeChunkDoneEvent is published after each chunk merge commit.
type MergeChunkDoneEvent struct {
	Chunk    int // zero-based chunk index
	Chunks   int // total chunk count
	Branches int // branches folded in this chunk
}

// MergeFinishedEvent is published once a merge run completes.
type MergeFinishedEvent struct {
	Merged       int
	Placeholders int
	Trial        bool
}
