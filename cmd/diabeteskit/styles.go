package main

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

var (
	primaryColor = lipgloss.Color("#5B8DEF")
	successColor = lipgloss.Color("#4ECDC4")
	warningColor = lipgloss.Color("#FFE66D")
	errorColor   = lipgloss.Color("#FF6B6B")
	subtleColor  = lipgloss.Color("#666666")

	// TitleStyle is used for section titles.
	TitleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(primaryColor)

	// SuccessStyle formats success messages.
	SuccessStyle = lipgloss.NewStyle().Foreground(successColor)

	// WarningStyle formats warnings.
	WarningStyle = lipgloss.NewStyle().Foreground(warningColor)

	// ErrorStyle formats errors.
	ErrorStyle = lipgloss.NewStyle().Bold(true).Foreground(errorColor)

	// SubtleStyle formats less prominent text.
	SubtleStyle = lipgloss.NewStyle().Foreground(subtleColor)

	// HeaderStyle formats table headers.
	HeaderStyle = lipgloss.NewStyle().Bold(true).Underline(true)

	// BoxStyle is used for bordered summaries.
	BoxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(primaryColor).
			Padding(1, 2)

	labelStyle = lipgloss.NewStyle().Foreground(subtleColor).Width(18)
)

// summaryBox renders a title and aligned label/value lines inside BoxStyle.
func summaryBox(title string, lines [][2]string) string {
	var b strings.Builder
	b.WriteString(TitleStyle.Render(title))
	for _, l := range lines {
		b.WriteString("\n")
		b.WriteString(labelStyle.Render(l[0]))
		b.WriteString(l[1])
	}
	return BoxStyle.Render(b.String())
}

func formatScore(v float64) string {
	return fmt.Sprintf("%.4f", v)
}
