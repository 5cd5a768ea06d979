package ui

import "github.com/charmbracelet/lipgloss"

type theme struct {
	header     lipgloss.Style
	headerMeta lipgloss.Style
	cell       lipgloss.Style
	column     lipgloss.Style
	border     lipgloss.Style
	ok         lipgloss.Style
	muted      lipgloss.Style
}

// defaultTheme keeps the retro terminal palette for CLI reports.
func defaultTheme() theme {
	return theme{
		header: lipgloss.NewStyle().
			Bold(true).
			Padding(0, 1).
			Foreground(lipgloss.Color("230")).
			Background(lipgloss.Color("88")),
		headerMeta: lipgloss.NewStyle().
			Foreground(lipgloss.Color("223")),
		cell: lipgloss.NewStyle().
			Padding(0, 1),
		column: lipgloss.NewStyle().
			Bold(true).
			Padding(0, 1).
			Foreground(lipgloss.Color("214")),
		border: lipgloss.NewStyle().
			Foreground(lipgloss.Color("130")),
		ok: lipgloss.NewStyle().
			Foreground(lipgloss.Color("114")).
			Bold(true),
		muted: lipgloss.NewStyle().
			Foreground(lipgloss.Color("180")),
	}
}
