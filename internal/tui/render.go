package tui

import (
	"fmt"
	"regexp"
	"strings"

	"phai/internal/domain"
	"phai/internal/usecase"
)

var linkPattern = regexp.MustCompile(`\[([^\]]+)\]\(([^)\s]+)\)`)

// renderLinks rewrites [label](url) as "label (url)".
func renderLinks(text string) string {
	return linkPattern.ReplaceAllString(text, "$1 ($2)")
}

func (m Model) renderTurns(turns []domain.Turn) string {
	var b strings.Builder
	for i, t := range turns {
		if i > 0 {
			b.WriteString("\n\n")
		}
		switch {
		case t.ID == usecase.SetupTurnID:
			b.WriteString(m.styles.Error.Render(t.Text))
			continue
		case t.Sender == domain.SenderUser:
			b.WriteString(m.styles.UserLabel.Render("You"))
		default:
			b.WriteString(m.styles.AILabel.Render("PHAI"))
		}
		b.WriteString("\n")
		b.WriteString(renderLinks(t.Text))
		if len(t.Citations) > 0 {
			b.WriteString("\n")
			b.WriteString(m.styles.Source.Render(renderSources(t.Citations)))
		}
	}
	return b.String()
}

func renderSources(cs []domain.Citation) string {
	var b strings.Builder
	b.WriteString("Sources:")
	for i, c := range cs {
		title := c.Title
		if title == "" {
			title = c.SourceURI
		}
		fmt.Fprintf(&b, "\n[%d] %s", i+1, title)
		if c.SourceURI != "" && c.SourceURI != title {
			fmt.Fprintf(&b, " (%s)", c.SourceURI)
		}
	}
	return b.String()
}

func (m Model) renderSuggestions() string {
	var b strings.Builder
	b.WriteString(m.styles.Muted.Render("Try one of these:"))
	for i, p := range usecase.SuggestedPrompts {
		b.WriteString("\n")
		b.WriteString(m.styles.Suggestion.Render(fmt.Sprintf("%d. %s", i+1, p)))
	}
	return b.String()
}

func (m Model) renderSidebar(convs []domain.Conversation, activeID string) string {
	var b strings.Builder
	b.WriteString(m.styles.Title.Render("Chats"))
	b.WriteString("\n")
	if len(convs) == 0 {
		b.WriteString(m.styles.Muted.Render("No saved chats"))
	}
	for i, c := range convs {
		b.WriteString("\n")
		line := truncate(c.DisplayName, sidebarWidth-4)
		if c.ID == activeID {
			line = m.styles.Active.Render(line)
		}
		if i == m.selected {
			b.WriteString(m.styles.Selected.Render("> " + line))
		} else {
			b.WriteString("  " + line)
		}
	}
	b.WriteString("\n\n")
	b.WriteString(m.styles.Muted.Render("ctrl+n new\nctrl+o open\nctrl+d delete"))
	return m.styles.Sidebar.Width(sidebarWidth).Render(b.String())
}

func truncate(s string, n int) string {
	r := []rune(s)
	if n <= 0 || len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
