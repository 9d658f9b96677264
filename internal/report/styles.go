package report

import (
	"github.com/charmbracelet/lipgloss"
)

// Per-state styles for terminal output.
var (
	styleSucceeded = lipgloss.NewStyle().
			Foreground(lipgloss.Color("green")).
			Bold(true)

	styleFailed = lipgloss.NewStyle().
			Foreground(lipgloss.Color("red")).
			Bold(true)

	styleSkipped = lipgloss.NewStyle().
			Foreground(lipgloss.Color("240"))

	stylePending = lipgloss.NewStyle().
			Foreground(lipgloss.Color("240"))

	styleStale = lipgloss.NewStyle().
			Foreground(lipgloss.Color("yellow"))

	styleTitle = lipgloss.NewStyle().
			Bold(true)

	styleDetail = lipgloss.NewStyle().
			Foreground(lipgloss.Color("241"))
)
