package usecase

import (
	"slices"

	"phai/internal/domain"
)

// MessageStore is the ordered turn log of the active conversation. It is
// owned by the Coordinator and only touched under its lock.
type MessageStore struct {
	turns []domain.Turn
}

// Append adds t at the end. It refuses a turn whose id is already present.
func (s *MessageStore) Append(t domain.Turn) bool {
	if s.index(t.ID) >= 0 {
		return false
	}
	s.turns = append(s.turns, t.Clone())
	return true
}

// Replace swaps the turn with the given id for t.
func (s *MessageStore) Replace(id string, t domain.Turn) bool {
	i := s.index(id)
	if i < 0 {
		return false
	}
	if t.ID != id && s.index(t.ID) >= 0 {
		return false
	}
	s.turns[i] = t.Clone()
	return true
}

// Reset replaces the whole log.
func (s *MessageStore) Reset(turns []domain.Turn) {
	s.turns = domain.CloneTurns(turns)
}

// Snapshot returns a deep copy of the log.
func (s *MessageStore) Snapshot() []domain.Turn {
	out := domain.CloneTurns(s.turns)
	if out == nil {
		out = []domain.Turn{}
	}
	return out
}

func (s *MessageStore) Get(id string) (domain.Turn, bool) {
	i := s.index(id)
	if i < 0 {
		return domain.Turn{}, false
	}
	return s.turns[i].Clone(), true
}

func (s *MessageStore) Len() int { return len(s.turns) }

func (s *MessageStore) index(id string) int {
	return slices.IndexFunc(s.turns, func(t domain.Turn) bool { return t.ID == id })
}
