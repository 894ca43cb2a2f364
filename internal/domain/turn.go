package domain

import "time"

// Sender identifies who authored a turn.
type Sender string

const (
	SenderUser Sender = "USER"
	SenderAI   Sender = "AI"
)

// Turn is one message within a conversation. AI turns are mutated in place
// while their text is being revealed and are immutable afterwards.
type Turn struct {
	ID        string     `json:"id"`
	Text      string     `json:"text"`
	Sender    Sender     `json:"sender"`
	CreatedAt time.Time  `json:"timestamp"`
	Citations []Citation `json:"groundingChunks,omitempty"`
}

// Clone returns a copy that shares no slices with t.
func (t Turn) Clone() Turn {
	if t.Citations != nil {
		t.Citations = append([]Citation(nil), t.Citations...)
	}
	return t
}

// CloneTurns deep-copies a turn list.
func CloneTurns(turns []Turn) []Turn {
	if turns == nil {
		return nil
	}
	out := make([]Turn, len(turns))
	for i, t := range turns {
		out[i] = t.Clone()
	}
	return out
}

// Reply is a single completion returned by the model backend. Backend
// failures are carried as ordinary replies whose text explains the failure.
type Reply struct {
	Text      string
	Citations []Citation
}
