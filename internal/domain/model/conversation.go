package model

import (
	"strings"
	"time"
)

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// ConversationTurn is one message of a conversation. Turns are appended, never edited.
type ConversationTurn struct {
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp,omitempty"`
}

func NewTurn(role Role, content string, at time.Time) ConversationTurn {
	return ConversationTurn{Role: role, Content: content, Timestamp: at}
}

// IsDialogue reports whether the turn is a non-empty user or assistant message.
func (t ConversationTurn) IsDialogue() bool {
	if t.Role != RoleUser && t.Role != RoleAssistant {
		return false
	}
	return strings.TrimSpace(t.Content) != ""
}

// Session is a server-side conversation keyed by id.
type Session struct {
	ID           string             `json:"id"`
	Turns        []ConversationTurn `json:"turns"`
	CreatedAt    time.Time          `json:"created_at"`
	LastActivity time.Time          `json:"last_activity"`
}

func NewSession(id string, now time.Time) *Session {
	return &Session{
		ID:           id,
		Turns:        make([]ConversationTurn, 0, 8),
		CreatedAt:    now,
		LastActivity: now,
	}
}

func (s *Session) Append(now time.Time, turns ...ConversationTurn) {
	for _, t := range turns {
		if t.Timestamp.IsZero() {
			t.Timestamp = now
		}
		s.Turns = append(s.Turns, t)
	}
	s.LastActivity = now
}

// Recent returns the last n turns, or all of them when n <= 0.
func (s *Session) Recent(n int) []ConversationTurn {
	if n <= 0 || len(s.Turns) <= n {
		return s.Turns
	}
	return s.Turns[len(s.Turns)-n:]
}

func (s *Session) Expired(now time.Time, ttl time.Duration) bool {
	return now.Sub(s.LastActivity) > ttl
}
