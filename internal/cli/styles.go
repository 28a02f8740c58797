// Package cli holds the terminal styling shared by the tally commands.
package cli

import (
	"github.com/charmbracelet/lipgloss"
)

// Palette.
var (
	PrimaryColor = lipgloss.Color("#3D6FB6")
	SuccessColor = lipgloss.Color("#2E9E6A")
	WarningColor = lipgloss.Color("#E0A526")
	ErrorColor   = lipgloss.Color("#D64545")
	InfoColor    = lipgloss.Color("#7FA7D9")
	SubtleColor  = lipgloss.Color("#777777")
	BorderColor  = lipgloss.Color("#444444")
)

var (
	// TitleStyle is used for section titles.
	TitleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(PrimaryColor).
			MarginBottom(1)

	SuccessStyle = lipgloss.NewStyle().Foreground(SuccessColor)
	WarningStyle = lipgloss.NewStyle().Foreground(WarningColor)
	ErrorStyle   = lipgloss.NewStyle().Foreground(ErrorColor)
	InfoStyle    = lipgloss.NewStyle().Foreground(InfoColor)
	SubtleStyle  = lipgloss.NewStyle().Foreground(SubtleColor)

	// SummaryStyle frames the run summary.
	SummaryStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(BorderColor).
			Padding(0, 2)

	// TableHeaderStyle underlines the header row of the tally table.
	TableHeaderStyle = lipgloss.NewStyle().
				Bold(true).
				BorderStyle(lipgloss.NormalBorder()).
				BorderBottom(true).
				BorderForeground(BorderColor)
)

// Icons.
const (
	SuccessIcon = "✓"
	ErrorIcon   = "✗"
	WarningIcon = "⚠️"
	InfoIcon    = "ℹ️"
	BallotIcon  = "🗳️"
	ChartIcon   = "📊"
)

// FormatSuccess formats a success message with icon.
func FormatSuccess(message string) string {
	return SuccessStyle.Render(SuccessIcon + " " + message)
}

// FormatError formats an error message with icon.
func FormatError(message string) string {
	return ErrorStyle.Render(ErrorIcon + " " + message)
}

// FormatWarning formats a warning message with icon.
func FormatWarning(message string) string {
	return WarningStyle.Render(WarningIcon + " " + message)
}

// FormatInfo formats an info message with icon.
func FormatInfo(message string) string {
	return InfoStyle.Render(InfoIcon + " " + message)
}

// FormatTitle formats a title with the ballot icon.
func FormatTitle(title string) string {
	return TitleStyle.Render(BallotIcon + " " + title)
}

// FormatStatus colors a run status.
func FormatStatus(status string) string {
	switch status {
	case "completed":
		return SuccessStyle.Render(status)
	case "failed":
		return ErrorStyle.Render(status)
	default:
		return WarningStyle.Render(status)
	}
}

// RenderBox renders content under a title inside a rounded border.
func RenderBox(title, content string) string {
	heading := TitleStyle.UnsetMargins().Render(title)
	return SummaryStyle.Render(lipgloss.JoinVertical(lipgloss.Left, heading, content))
}
