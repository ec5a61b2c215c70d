package ui

import "github.com/charmbracelet/lipgloss"

var (
	subtle     = lipgloss.AdaptiveColor{Light: "#666666", Dark: "#999999"}
	highlight  = lipgloss.AdaptiveColor{Light: "#7D56F4", Dark: "#AD8EE6"}
	success    = lipgloss.AdaptiveColor{Light: "#00AA00", Dark: "#00FF00"}
	warning    = lipgloss.AdaptiveColor{Light: "#CC6600", Dark: "#FFAA00"}
	errorColor = lipgloss.AdaptiveColor{Light: "#CC0000", Dark: "#FF0000"}
	info       = lipgloss.AdaptiveColor{Light: "#0066CC", Dark: "#00AAFF"}
)

var (
	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(highlight).
			MarginBottom(1)

	successStyle = lipgloss.NewStyle().Foreground(success)
	warningStyle = lipgloss.NewStyle().Foreground(warning)
	errorStyle   = lipgloss.NewStyle().Foreground(errorColor)
	infoStyle    = lipgloss.NewStyle().Foreground(info)
	dimStyle     = lipgloss.NewStyle().Foreground(subtle)

	labelStyle = lipgloss.NewStyle().Foreground(subtle)
	valueStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.AdaptiveColor{Light: "#333333", Dark: "#FFFFFF"})

	boxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(highlight).
			Padding(0, 1)
)
