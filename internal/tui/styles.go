package tui

import "github.com/charmbracelet/lipgloss"

type styles struct {
	Title      lipgloss.Style
	Sidebar    lipgloss.Style
	Selected   lipgloss.Style
	Active     lipgloss.Style
	Muted      lipgloss.Style
	UserLabel  lipgloss.Style
	AILabel    lipgloss.Style
	Source     lipgloss.Style
	Suggestion lipgloss.Style
	Status     lipgloss.Style
	Error      lipgloss.Style
	Prompt     lipgloss.Style
	Spinner    lipgloss.Style
}

func defaultStyles() styles {
	accent := lipgloss.Color("#7D56F4")
	muted := lipgloss.Color("#6C6C6C")
	return styles{
		Title: lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FFF")).
			Background(accent).
			Padding(0, 1).
			Bold(true),
		Sidebar: lipgloss.NewStyle().
			Border(lipgloss.NormalBorder(), false, true, false, false).
			BorderForeground(muted).
			PaddingRight(1),
		Selected:   lipgloss.NewStyle().Foreground(accent).Bold(true),
		Active:     lipgloss.NewStyle().Underline(true),
		Muted:      lipgloss.NewStyle().Foreground(muted),
		UserLabel:  lipgloss.NewStyle().Foreground(lipgloss.Color("#04B575")).Bold(true),
		AILabel:    lipgloss.NewStyle().Foreground(accent).Bold(true),
		Source:     lipgloss.NewStyle().Foreground(muted).Italic(true),
		Suggestion: lipgloss.NewStyle().Foreground(lipgloss.Color("#5FAFFF")),
		Status:     lipgloss.NewStyle().Foreground(muted),
		Error:      lipgloss.NewStyle().Foreground(lipgloss.Color("#FF5F87")),
		Prompt:     lipgloss.NewStyle().Foreground(accent),
		Spinner:    lipgloss.NewStyle().Foreground(accent),
	}
}
