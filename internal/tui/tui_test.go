package tui

import (
	"errors"
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/batchweave/batchweave/internal/jobstate"
	"github.com/batchweave/batchweave/internal/reconcile"
	"github.com/batchweave/batchweave/internal/registry"
)

func sampleUnits() []jobstate.UnitRecord {
	return []jobstate.UnitRecord{
		{Key: registry.Key{SubID: "sub-01"}, JobID: "100", TaskID: 1,
			Submitted: true, HasResults: true, State: jobstate.StateUnknown, TimeUsed: jobstate.TimeUsedUnknown},
		{Key: registry.Key{SubID: "sub-02"}, JobID: "100", TaskID: 2,
			Submitted: true, State: "running", TimeUsed: "1:02:03"},
		{Key: registry.Key{SubID: "sub-03"}},
	}
}

func TestRenderTable_ShowsEveryUnitAndSummary(t *testing.T) {
	units := sampleUnits()
	out := RenderTable(units, reconcile.Summarize(units))

	for _, want := range []string{
		"sub-01", "completed",
		"sub-02", "running", "1:02:03",
		"sub-03", "not_submitted",
		"completed 1", "running 1", "not submitted 1",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("table missing %q:\n%s", want, out)
		}
	}
}

func TestWatchModel_QuitsOnQ(t *testing.T) {
	m := model{provider: func() Snapshot { return Snapshot{} }, refresh: time.Second}
	_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'q'}})
	if cmd == nil {
		t.Fatal("q must produce a quit command")
	}
}

func TestWatchModel_KeepsTableOnRefreshError(t *testing.T) {
	good := Snapshot{Units: sampleUnits(), RefreshedAt: time.Now()}
	fail := false
	m := model{
		refresh: time.Second,
		snap:    good,
		provider: func() Snapshot {
			if fail {
				return Snapshot{Err: errors.New("queue unreachable")}
			}
			return good
		},
	}

	fail = true
	next, _ := m.Update(tickMsg(time.Now()))
	view := next.View()
	if !strings.Contains(view, "sub-01") {
		t.Fatalf("previous table dropped on refresh error:\n%s", view)
	}
	if !strings.Contains(view, "queue unreachable") {
		t.Fatalf("refresh error not surfaced:\n%s", view)
	}
}
