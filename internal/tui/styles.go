package tui

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/normanking/cortex-attention/internal/attention"
	"github.com/normanking/cortex-attention/internal/chat"
)

var (
	// Colors
	Teal     = lipgloss.Color("#0d7377")
	OffWhite = lipgloss.Color("#f8f7f4")
	DarkGray = lipgloss.Color("#333333")
	Dim      = lipgloss.Color("#8a8a8a")
	Amber    = lipgloss.Color("#e0a526")
	Crimson  = lipgloss.Color("#c0392b")
	Violet   = lipgloss.Color("#7d5ba6")

	// Styles
	StatusBarStyle = lipgloss.NewStyle().
			Background(Teal).
			Foreground(OffWhite).
			Bold(true).
			Padding(0, 1)

	AttentionPanelStyle = lipgloss.NewStyle().
				Border(lipgloss.RoundedBorder()).
				BorderForeground(Teal).
				Padding(0, 1)

	TablePanelStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(Teal)

	LabelStyle = lipgloss.NewStyle().
			Foreground(Dim)

	TitleStyle = lipgloss.NewStyle().
			Foreground(Teal).
			Bold(true)

	ErrorStyle = lipgloss.NewStyle().
			Foreground(Crimson)
)

var stateColors = map[attention.State]lipgloss.Color{
	attention.StateFocused: Teal,
	attention.StateCasual:  Amber,
	attention.StateDeep:    Violet,
	attention.StateBreak:   Dim,
}

// StateStyle renders an attention state name in its colour.
func StateStyle(s attention.State) lipgloss.Style {
	c, ok := stateColors[s]
	if !ok {
		c = OffWhite
	}
	return lipgloss.NewStyle().Foreground(c).Bold(true)
}

// LevelStyle colours a priority level.
func LevelStyle(l chat.Level) lipgloss.Style {
	switch l {
	case chat.LevelCritical:
		return lipgloss.NewStyle().Foreground(Crimson).Bold(true)
	case chat.LevelHigh:
		return lipgloss.NewStyle().Foreground(Amber)
	case chat.LevelMedium:
		return lipgloss.NewStyle().Foreground(OffWhite)
	default:
		return lipgloss.NewStyle().Foreground(Dim)
	}
}
