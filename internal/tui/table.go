// Package tui renders the operator-facing status views: a one-shot unit
// table and a live watch mode that re-reconciles on a timer.
package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/batchweave/batchweave/internal/jobstate"
	"github.com/batchweave/batchweave/internal/reconcile"
)

var (
	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("252"))
	dimStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))

	statusStyles = map[reconcile.Status]lipgloss.Style{
		reconcile.StatusNotSubmitted: lipgloss.NewStyle().Foreground(lipgloss.Color("240")),
		reconcile.StatusPending:      lipgloss.NewStyle().Foreground(lipgloss.Color("220")),
		reconcile.StatusRunning:      lipgloss.NewStyle().Foreground(lipgloss.Color("39")),
		reconcile.StatusCompleted:    lipgloss.NewStyle().Foreground(lipgloss.Color("42")),
		reconcile.StatusFailed:       lipgloss.NewStyle().Foreground(lipgloss.Color("196")),
	}
)

// RenderTable renders one row per work unit plus a summary line.
func RenderTable(units []jobstate.UnitRecord, summary reconcile.Summary) string {
	var out strings.Builder

	out.WriteString(headerStyle.Render(fmt.Sprintf("%-24s %-14s %-8s %-10s %s",
		"UNIT", "STATUS", "JOB", "TASK", "TIME USED")))
	out.WriteString("\n")

	for _, u := range units {
		status := reconcile.StatusOf(u)
		style, ok := statusStyles[status]
		if !ok {
			style = dimStyle
		}
		job := u.JobID
		if job == "" {
			job = "-"
		}
		task := "-"
		if u.TaskID > 0 {
			task = fmt.Sprintf("%d", u.TaskID)
		}
		timeUsed := u.TimeUsed
		if timeUsed == "" || timeUsed == jobstate.TimeUsedUnknown {
			timeUsed = "-"
		}
		out.WriteString(fmt.Sprintf("%-24s %s %-8s %-10s %s\n",
			u.Key.String(),
			style.Render(fmt.Sprintf("%-14s", status)),
			job, task, timeUsed,
		))
	}

	out.WriteString("\n")
	out.WriteString(RenderSummary(summary))
	out.WriteString("\n")
	return out.String()
}

// RenderSummary renders the per-status counts on one line.
func RenderSummary(s reconcile.Summary) string {
	parts := []string{
		fmt.Sprintf("not submitted %d", s.NotSubmitted),
		fmt.Sprintf("pending %d", s.Pending),
		fmt.Sprintf("running %d", s.Running),
		fmt.Sprintf("completed %d", s.Completed),
		fmt.Sprintf("failed %d", s.Failed),
	}
	return dimStyle.Render(strings.Join(parts, " | "))
}
