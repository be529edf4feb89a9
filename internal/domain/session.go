// Package domain contains core domain types for the support console.
package domain

import (
	"time"
)

// SessionStatus is the lifecycle state of a support session.
type SessionStatus string

const (
	// StatusWaiting means the requester is waiting for an agent to accept.
	StatusWaiting SessionStatus = "waiting"
	// StatusConnected means an agent has accepted and the chat is live.
	StatusConnected SessionStatus = "connected"
	// StatusEnded is terminal; no further transitions or agent-side appends.
	StatusEnded SessionStatus = "ended"
)

// ValidStatus reports whether s is one of the three known statuses.
func ValidStatus(s SessionStatus) bool {
	switch s {
	case StatusWaiting, StatusConnected, StatusEnded:
		return true
	}
	return false
}

// Session represents one support conversation between an end user and an agent.
type Session struct {
	ID        string        `json:"id"`
	UserID    string        `json:"user_id"`
	UserName  string        `json:"user_name,omitempty"`
	UserImage string        `json:"user_image,omitempty"`
	AgentID   string        `json:"agent_id,omitempty"`
	AgentName string        `json:"agent_name,omitempty"`
	Status    SessionStatus `json:"status"`
	Messages  []Message     `json:"messages"`
	CreatedAt time.Time     `json:"created_at"`
	EndedAt   *time.Time    `json:"ended_at,omitempty"`
}

// CanTransition reports whether the session may move to the target status.
// Transitions are forward-only: waiting → connected → ended, and a waiting
// session may be ended directly (requester gave up before an agent accepted).
func (s *Session) CanTransition(to SessionStatus) bool {
	switch s.Status {
	case StatusWaiting:
		return to == StatusConnected || to == StatusEnded
	case StatusConnected:
		return to == StatusEnded
	default:
		return false
	}
}

// Ended reports whether the session has reached the terminal state.
func (s *Session) Ended() bool {
	return s.Status == StatusEnded
}

// Append adds a message to the session. Messages are append-only; callers
// must not mutate earlier entries.
func (s *Session) Append(m Message) {
	s.Messages = append(s.Messages, m)
}

// Clone returns a deep copy of the session. The coordinator hands clones to
// callers so its internal state can only change through commands and events.
func (s *Session) Clone() *Session {
	out := *s
	out.Messages = make([]Message, len(s.Messages))
	copy(out.Messages, s.Messages)
	if s.EndedAt != nil {
		t := *s.EndedAt
		out.EndedAt = &t
	}
	return &out
}
