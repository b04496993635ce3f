package tui

import (
	"fmt"
	"time"

	"github.com/charmbracelet/bubbles/table"

	"github.com/normanking/cortex-attention/internal/coordinator"
	"github.com/normanking/cortex-attention/internal/queue"
)

var queueColumns = []table.Column{
	{Title: "Score", Width: 6},
	{Title: "Level", Width: 9},
	{Title: "Source", Width: 10},
	{Title: "Author", Width: 14},
	{Title: "Age", Width: 6},
	{Title: "Message", Width: 40},
}

var sourceColumns = []table.Column{
	{Title: "Source", Width: 12},
	{Title: "Status", Width: 13},
	{Title: "Failures", Width: 8},
	{Title: "Up", Width: 9},
	{Title: "Last error", Width: 40},
}

func queueRows(entries []queue.Entry, now time.Time) []table.Row {
	rows := make([]table.Row, 0, len(entries))
	for _, e := range entries {
		author := e.Message.Author.DisplayName
		if author == "" {
			author = e.Message.Author.ID
		}
		rows = append(rows, table.Row{
			fmt.Sprintf("%.3f", e.Score.Total),
			e.Score.Level.String(),
			e.Message.Source,
			truncate(author, 14),
			shortAge(now.Sub(e.EnqueuedAt)),
			truncate(e.Message.Text, 40),
		})
	}
	return rows
}

func sourceRows(conns []coordinator.ConnectionStatus, now time.Time) []table.Row {
	rows := make([]table.Row, 0, len(conns))
	for _, c := range conns {
		status := string(c.Status)
		if c.Exhausted {
			status = "exhausted"
		}
		up := "-"
		if c.Status == coordinator.StatusConnected && !c.ConnectedAt.IsZero() {
			up = shortAge(now.Sub(c.ConnectedAt))
		}
		rows = append(rows, table.Row{
			c.Source,
			status,
			fmt.Sprintf("%d", c.ConsecutiveFailures),
			up,
			truncate(c.LastError, 40),
		})
	}
	return rows
}

func shortAge(d time.Duration) string {
	switch {
	case d < time.Minute:
		return fmt.Sprintf("%ds", int(d.Seconds()))
	case d < time.Hour:
		return fmt.Sprintf("%dm", int(d.Minutes()))
	default:
		return fmt.Sprintf("%dh", int(d.Hours()))
	}
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
