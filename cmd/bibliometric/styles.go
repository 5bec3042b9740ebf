package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/helixir/bibliometric-pipeline/internal/domain"
	"github.com/helixir/bibliometric-pipeline/internal/runner"
)

// theme holds the terminal palette.
type theme struct {
	Primary lipgloss.Color
	Success lipgloss.Color
	Warning lipgloss.Color
	Error   lipgloss.Color
	Muted   lipgloss.Color
	Text    lipgloss.Color
}

var palette = theme{
	Primary: lipgloss.Color("#7C3AED"),
	Success: lipgloss.Color("#A6E3A1"),
	Warning: lipgloss.Color("#F9E2AF"),
	Error:   lipgloss.Color("#F38BA8"),
	Muted:   lipgloss.Color("#6C7086"),
	Text:    lipgloss.Color("#CDD6F4"),
}

type outputStyles struct {
	Title   lipgloss.Style
	Phase   lipgloss.Style
	Success lipgloss.Style
	Warning lipgloss.Style
	Error   lipgloss.Style
	Muted   lipgloss.Style
	Label   lipgloss.Style
}

var styles = newOutputStyles(palette)

func newOutputStyles(t theme) outputStyles {
	return outputStyles{
		Title:   lipgloss.NewStyle().Foreground(t.Primary).Bold(true),
		Phase:   lipgloss.NewStyle().Foreground(t.Primary),
		Success: lipgloss.NewStyle().Foreground(t.Success),
		Warning: lipgloss.NewStyle().Foreground(t.Warning),
		Error:   lipgloss.NewStyle().Foreground(t.Error).Bold(true),
		Muted:   lipgloss.NewStyle().Foreground(t.Muted),
		Label:   lipgloss.NewStyle().Foreground(t.Text).Bold(true).Width(14),
	}
}

const progressBarWidth = 20

// progressBar renders p (0..1) as a fixed width bar.
func progressBar(p float64) string {
	if p < 0 {
		p = 0
	}
	if p > 1 {
		p = 1
	}
	filled := int(p*progressBarWidth + 0.5)
	return styles.Success.Render(strings.Repeat("█", filled)) +
		styles.Muted.Render(strings.Repeat("░", progressBarWidth-filled))
}

// formatProgress renders one progress event as a single terminal line.
func formatProgress(e runner.ProgressEvent) string {
	pct := fmt.Sprintf("%3.0f%%", e.Progress*100)
	switch e.Type {
	case runner.EventCompleted:
		return fmt.Sprintf("%s %s %s", progressBar(1), pct, styles.Success.Render(e.Message))
	case runner.EventError:
		return fmt.Sprintf("%s %s %s", progressBar(e.Progress), pct, styles.Error.Render(e.Message))
	}
	return fmt.Sprintf("%s %s %s", progressBar(e.Progress), pct, styles.Phase.Render(e.Message))
}

func renderStatus(s domain.RunStatus) string {
	switch s {
	case domain.RunStatusCompleted:
		return styles.Success.Render(string(s))
	case domain.RunStatusFailed:
		return styles.Error.Render(string(s))
	case domain.RunStatusRunning:
		return styles.Warning.Render(string(s))
	}
	return styles.Muted.Render(string(s))
}

func formatDuration(d time.Duration) string {
	if d <= 0 {
		return "-"
	}
	return d.Round(10 * time.Millisecond).String()
}
