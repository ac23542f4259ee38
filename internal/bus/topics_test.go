package bus

import "testing"

func TestEventTopics_Unique(t *testing.T) {
	topics := map[string]bool{
		TopicUnitStatusChanged: true,
		TopicUnitCompleted:     true,
		TopicUnitFailed:        true,
		TopicMergeChunkDone:    true,
		TopicMergeFinished:     true,
	}
	if len(topics) != 5 {
		t.Fatalf("expected 5 unique topics, got %d", len(topics))
	}
	for topic := range topics {
		if topic == "" {
			t.Fatal("empty topic constant")
		}
	}
}
