package tui

import (
	"context"
	"fmt"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/batchweave/batchweave/internal/jobstate"
	"github.com/batchweave/batchweave/internal/reconcile"
)

// Snapshot is one refreshed view of the pipeline.
type Snapshot struct {
	Units       []jobstate.UnitRecord
	Summary     reconcile.Summary
	RefreshedAt time.Time
	Err         error
}

// StatusProvider produces a fresh snapshot; watch mode calls it on each
// refresh. A reconciliation failure lands in Snapshot.Err and keeps the
// previous table on screen.
type StatusProvider func() Snapshot

// DefaultRefresh is the watch-mode reconciliation cadence. Each refresh
// polls the scheduler, so this stays coarse.
const DefaultRefresh = 30 * time.Second

type model struct {
	provider StatusProvider
	refresh  time.Duration
	snap     Snapshot
	lastErr  error
}

type tickMsg time.Time

func tickCmd(d time.Duration) tea.Cmd {
	return tea.Tick(d, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func (m model) Init() tea.Cmd {
	return tickCmd(m.refresh)
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		case "r":
			next := m.provider()
			if next.Err != nil {
				m.lastErr = next.Err
			} else {
				m.snap = next
				m.lastErr = nil
			}
			return m, nil
		}
	case tickMsg:
		next := m.provider()
		if next.Err != nil {
			m.lastErr = next.Err
		} else {
			m.snap = next
			m.lastErr = nil
		}
		return m, tickCmd(m.refresh)
	}
	return m, nil
}

func (m model) View() string {
	out := "batchweave status\n\n"
	out += RenderTable(m.snap.Units, m.snap.Summary)
	if !m.snap.RefreshedAt.IsZero() {
		out += dimStyle.Render(fmt.Sprintf("refreshed %s", m.snap.RefreshedAt.Format(time.TimeOnly))) + "\n"
	}
	if m.lastErr != nil {
		out += fmt.Sprintf("refresh failed: %v\n", m.lastErr)
	}
	out += dimStyle.Render("q quit, r refresh") + "\n"
	return out
}

// Watch runs the live status view until the user quits or ctx is cancelled.
func Watch(ctx context.Context, provider StatusProvider, refresh time.Duration) error {
	defer restoreTerminal()

	if refresh <= 0 {
		refresh = DefaultRefresh
	}
	m := model{provider: provider, refresh: refresh, snap: provider()}
	if m.snap.Err != nil {
		return m.snap.Err
	}
	p := tea.NewProgram(m)

	done := make(chan error, 1)
	go func() {
		_, err := p.Run()
		done <- err
	}()

	select {
	case <-ctx.Done():
		p.Quit()
		return ctx.Err()
	case err := <-done:
		return err
	}
}
