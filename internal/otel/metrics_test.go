package otel

import (
	"context"
	"testing"
)

func TestNewMetrics_AllInstrumentsCreated(t *testing.T) {
	p, err := Init(context.Background(), Config{
		Enabled:  true,
		Exporter: "none",
	})
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	defer p.Shutdown(context.Background())

	m, err := NewMetrics(p.Meter)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}

	if m.UnitsSubmitted == nil {
		t.Error("UnitsSubmitted is nil")
	}
	if m.UnitsCompleted == nil {
		t.Error("UnitsCompleted is nil")
	}
	if m.UnitsFailed == nil {
		t.Error("UnitsFailed is nil")
	}
	if m.ReconcileDuration == nil {
		t.Error("ReconcileDuration is nil")
	}
	if m.SchedulerDuration == nil {
		t.Error("SchedulerDuration is nil")
	}
	if m.BranchesMerged == nil {
		t.Error("BranchesMerged is nil")
	}
	if m.PlaceholderBranches == nil {
		t.Error("PlaceholderBranches is nil")
	}
	if m.MergeChunkDuration == nil {
		t.Error("MergeChunkDuration is nil")
	}
	if m.LockWaitDuration == nil {
		t.Error("LockWaitDuration is nil")
	}
}

func TestNewMetrics_NoopMeter(t *testing.T) {
	p, err := Init(context.Background(), Config{Enabled: false})
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	defer p.Shutdown(context.Background())

	if _, err := NewMetrics(p.Meter); err != nil {
		t.Fatalf("NewMetrics with noop meter: %v", err)
	}
}
