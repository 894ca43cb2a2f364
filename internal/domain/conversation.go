package domain

import (
	"strings"
	"time"
)

// Conversation is a named, persisted sequence of turns.
type Conversation struct {
	ID          string    `json:"id"`
	DisplayName string    `json:"name"`
	Turns       []Turn    `json:"messages"`
	CreatedAt   time.Time `json:"createdAt"`
}

// Clone returns a deep copy of c.
func (c Conversation) Clone() Conversation {
	c.Turns = CloneTurns(c.Turns)
	return c
}

// HistoryEntry is a turn translated into the backend's role/text shape.
type HistoryEntry struct {
	Role string
	Text string
}

const (
	RoleUser  = "user"
	RoleModel = "model"
)

// ToHistory maps turns to backend history: user turns become "user",
// AI turns become "model". Turns without text are not replayed.
func ToHistory(turns []Turn) []HistoryEntry {
	out := make([]HistoryEntry, 0, len(turns))
	for _, t := range turns {
		if strings.TrimSpace(t.Text) == "" {
			continue
		}
		role := RoleModel
		if t.Sender == SenderUser {
			role = RoleUser
		}
		out = append(out, HistoryEntry{Role: role, Text: t.Text})
	}
	return out
}
