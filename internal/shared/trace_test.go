package shared

import (
	"context"
	"testing"
)

func TestRunID_DefaultDash(t *testing.T) {
	if got := RunID(context.Background()); got != "-" {
		t.Fatalf("expected '-', got %q", got)
	}
}

func TestRunID_RoundTrip(t *testing.T) {
	ctx := WithRunID(context.Background(), "run-42")
	if got := RunID(ctx); got != "run-42" {
		t.Fatalf("expected run-42, got %q", got)
	}
}

func TestNewRunID_Unique(t *testing.T) {
	a, b := NewRunID(), NewRunID()
	if a == "" || a == b {
		t.Fatalf("expected unique non-empty run ids, got %q and %q", a, b)
	}
}

func TestJobID_RoundTrip(t *testing.T) {
	if got := JobID(context.Background()); got != "" {
		t.Fatalf("expected empty job id, got %q", got)
	}
	ctx := WithJobID(context.Background(), "11042")
	if got := JobID(ctx); got != "11042" {
		t.Fatalf("expected 11042, got %q", got)
	}
}
