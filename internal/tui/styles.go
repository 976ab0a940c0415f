// Package tui drives intake wizards and the assistant from a terminal.
package tui

import "github.com/charmbracelet/lipgloss"

var (
	colorGreen  = lipgloss.Color("#22c55e")
	colorRed    = lipgloss.Color("#ef4444")
	colorYellow = lipgloss.Color("#eab308")
	colorBlue   = lipgloss.Color("#3b82f6")
	colorDim    = lipgloss.Color("#6b7280")
	colorWhite  = lipgloss.Color("#f9fafb")
)

var (
	titleStyle   = lipgloss.NewStyle().Bold(true).Foreground(colorWhite)
	stepStyle    = lipgloss.NewStyle().Bold(true).Foreground(colorBlue)
	dimStyle     = lipgloss.NewStyle().Foreground(colorDim)
	errorStyle   = lipgloss.NewStyle().Foreground(colorRed)
	warnStyle    = lipgloss.NewStyle().Foreground(colorYellow)
	successStyle = lipgloss.NewStyle().Bold(true).Foreground(colorGreen)
	userStyle    = lipgloss.NewStyle().Foreground(colorBlue)
	botStyle     = lipgloss.NewStyle().Foreground(colorGreen)
	boxStyle     = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(colorDim).
			Padding(0, 1)
)

// RiskStyle colours a risk level.
func RiskStyle(level string) lipgloss.Style {
	switch level {
	case "HIGH":
		return lipgloss.NewStyle().Bold(true).Foreground(colorRed)
	case "MEDIUM":
		return lipgloss.NewStyle().Foreground(colorYellow)
	default:
		return lipgloss.NewStyle().Foreground(colorGreen)
	}
}

func Title(s string) string   { return titleStyle.Render(s) }
func Success(s string) string { return successStyle.Render(s) }
func Error(s string) string   { return errorStyle.Render(s) }
func Dim(s string) string     { return dimStyle.Render(s) }
func Box(s string) string     { return boxStyle.Render(s) }
