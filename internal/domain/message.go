package domain

import (
	"time"
)

// Sender identifies who authored a message.
type Sender string

const (
	SenderUser   Sender = "user"
	SenderAgent  Sender = "agent"
	SenderSystem Sender = "system"
)

// ValidSender reports whether s is one of the three known senders.
func ValidSender(s Sender) bool {
	switch s {
	case SenderUser, SenderAgent, SenderSystem:
		return true
	}
	return false
}

// Message is one utterance within a session.
type Message struct {
	ID        string    `json:"id"`
	SessionID string    `json:"session_id,omitempty"`
	Content   string    `json:"content"`
	Sender    Sender    `json:"sender"`
	Timestamp time.Time `json:"timestamp"`
	// AgentID is populated only when Sender is SenderAgent.
	AgentID string `json:"agent_id,omitempty"`
	UserID  string `json:"user_id,omitempty"`
}
