package usecase

import (
	"strings"
	"time"
)

const (
	displayNameMaxRunes = 35
	ellipsis            = "..."
)

// DisplayName derives a conversation name from its first turn: up to 35
// characters, with an ellipsis when the text was cut. An empty text falls
// back to "Chat " plus the time of day.
func DisplayName(firstText string, at time.Time) string {
	text := strings.TrimSpace(firstText)
	if text == "" {
		return "Chat " + at.Format("3:04:05 PM")
	}
	runes := []rune(text)
	if len(runes) > displayNameMaxRunes {
		return string(runes[:displayNameMaxRunes]) + ellipsis
	}
	return text
}
