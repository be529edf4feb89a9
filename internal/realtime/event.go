// Package realtime provides the topic-scoped broadcast channel used for live
// support traffic: a typed event envelope, an in-process pub/sub hub with
// presence, and a WebSocket bridge for end-user chat clients.
package realtime

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/beanjournal/support-console/internal/domain"
)

// Event names carried on the wire.
const (
	EventSupportRequest = "support-request"
	EventUserMessage    = "user-message"
	EventSessionEnded   = "session-ended"
	EventAgentConnected = "agent-connected"
	EventSupportMessage = "support-message"
	EventPresenceSync   = "presence-sync"
)

// Event is the closed set of messages delivered on a support topic.
// Inbound payloads are parsed and validated at the boundary; handlers never
// see untyped JSON.
type Event interface {
	// Name returns the wire event name.
	Name() string
}

// SupportRequest announces a new end-user support request.
type SupportRequest struct {
	SessionID      string `json:"sessionId"`
	UserID         string `json:"userId"`
	UserName       string `json:"userName,omitempty"`
	UserImage      string `json:"userImage,omitempty"`
	InitialMessage string `json:"initialMessage,omitempty"`
}

func (SupportRequest) Name() string { return EventSupportRequest }

// UserMessage carries an utterance from the end-user side of a session.
type UserMessage struct {
	SessionID string      `json:"sessionId"`
	Message   WireMessage `json:"message"`
}

func (UserMessage) Name() string { return EventUserMessage }

// SessionEnded announces that a session reached its terminal state.
type SessionEnded struct {
	SessionID string `json:"sessionId"`
}

func (SessionEnded) Name() string { return EventSessionEnded }

// AgentConnected tells the requester's client which agent accepted.
type AgentConnected struct {
	SessionID  string `json:"sessionId"`
	UserID     string `json:"userId"`
	AgentID    string `json:"agentId"`
	AgentName  string `json:"agentName"`
	AgentImage string `json:"agentImage,omitempty"`
}

func (AgentConnected) Name() string { return EventAgentConnected }

// SupportMessage is the generic message-delivery event: it carries both the
// agent's join greeting and regular agent replies so the requester's client
// renders them identically.
type SupportMessage struct {
	SessionID string      `json:"sessionId"`
	Message   WireMessage `json:"message"`
}

func (SupportMessage) Name() string { return EventSupportMessage }

// PresenceSync reports the current set of tracked agents on the topic.
type PresenceSync struct {
	Agents []AgentPresence `json:"agents"`
}

func (PresenceSync) Name() string { return EventPresenceSync }

// AgentPresence is the payload tracked for an online agent.
type AgentPresence struct {
	ID       string    `json:"id"`
	Name     string    `json:"name"`
	Email    string    `json:"email,omitempty"`
	Image    string    `json:"image,omitempty"`
	IsOnline bool      `json:"isOnline"`
	LastSeen time.Time `json:"lastSeen"`
}

// WireMessage is a chat message as it appears on the channel. Timestamps
// arrive in whatever shape the sending client produced (RFC 3339 string or
// epoch milliseconds) and are normalized during unmarshalling.
type WireMessage struct {
	ID        string        `json:"id"`
	Content   string        `json:"content"`
	Sender    domain.Sender `json:"sender"`
	Timestamp time.Time     `json:"timestamp"`
	AgentID   string        `json:"agentId,omitempty"`
}

// UnmarshalJSON normalizes the timestamp field. A zero/absent timestamp
// resolves to the receipt time.
func (m *WireMessage) UnmarshalJSON(data []byte) error {
	var raw struct {
		ID        string          `json:"id"`
		Content   string          `json:"content"`
		Sender    domain.Sender   `json:"sender"`
		Timestamp json.RawMessage `json:"timestamp"`
		AgentID   string          `json:"agentId"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	m.ID = raw.ID
	m.Content = raw.Content
	m.Sender = raw.Sender
	m.AgentID = raw.AgentID

	ts, err := parseTimestamp(raw.Timestamp)
	if err != nil {
		return err
	}
	m.Timestamp = ts
	return nil
}

func parseTimestamp(raw json.RawMessage) (time.Time, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return time.Now(), nil
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		t, err := time.Parse(time.RFC3339Nano, s)
		if err != nil {
			return time.Time{}, fmt.Errorf("parse timestamp %q: %w", s, err)
		}
		return t, nil
	}

	var ms int64
	if err := json.Unmarshal(raw, &ms); err == nil {
		return time.UnixMilli(ms), nil
	}

	return time.Time{}, fmt.Errorf("unrecognized timestamp: %s", raw)
}

// Domain converts the wire message into a domain message for the session.
func (m *WireMessage) Domain(sessionID string) domain.Message {
	return domain.Message{
		ID:        m.ID,
		SessionID: sessionID,
		Content:   m.Content,
		Sender:    m.Sender,
		Timestamp: m.Timestamp,
		AgentID:   m.AgentID,
	}
}

// Envelope is the JSON frame carried on the wire.
type Envelope struct {
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload"`
}

// Parse decodes and validates an envelope into a concrete event. Unknown
// event names and payloads missing required fields are rejected.
func Parse(env Envelope) (Event, error) {
	switch env.Event {
	case EventSupportRequest:
		var ev SupportRequest
		if err := json.Unmarshal(env.Payload, &ev); err != nil {
			return nil, fmt.Errorf("decode %s: %w", env.Event, err)
		}
		if ev.SessionID == "" || ev.UserID == "" {
			return nil, fmt.Errorf("%s: sessionId and userId are required", env.Event)
		}
		return ev, nil

	case EventUserMessage:
		var ev UserMessage
		if err := json.Unmarshal(env.Payload, &ev); err != nil {
			return nil, fmt.Errorf("decode %s: %w", env.Event, err)
		}
		if ev.SessionID == "" || ev.Message.Content == "" {
			return nil, fmt.Errorf("%s: sessionId and message content are required", env.Event)
		}
		if ev.Message.Sender == "" {
			ev.Message.Sender = domain.SenderUser
		}
		if !domain.ValidSender(ev.Message.Sender) {
			return nil, fmt.Errorf("%s: invalid sender %q", env.Event, ev.Message.Sender)
		}
		return ev, nil

	case EventSessionEnded:
		var ev SessionEnded
		if err := json.Unmarshal(env.Payload, &ev); err != nil {
			return nil, fmt.Errorf("decode %s: %w", env.Event, err)
		}
		if ev.SessionID == "" {
			return nil, fmt.Errorf("%s: sessionId is required", env.Event)
		}
		return ev, nil

	case EventAgentConnected:
		var ev AgentConnected
		if err := json.Unmarshal(env.Payload, &ev); err != nil {
			return nil, fmt.Errorf("decode %s: %w", env.Event, err)
		}
		if ev.SessionID == "" || ev.AgentID == "" {
			return nil, fmt.Errorf("%s: sessionId and agentId are required", env.Event)
		}
		return ev, nil

	case EventSupportMessage:
		var ev SupportMessage
		if err := json.Unmarshal(env.Payload, &ev); err != nil {
			return nil, fmt.Errorf("decode %s: %w", env.Event, err)
		}
		if ev.SessionID == "" {
			return nil, fmt.Errorf("%s: sessionId is required", env.Event)
		}
		return ev, nil

	case EventPresenceSync:
		var ev PresenceSync
		if err := json.Unmarshal(env.Payload, &ev); err != nil {
			return nil, fmt.Errorf("decode %s: %w", env.Event, err)
		}
		return ev, nil

	default:
		return nil, fmt.Errorf("unknown event %q", env.Event)
	}
}

// Encode wraps an event into its wire envelope.
func Encode(ev Event) (Envelope, error) {
	payload, err := json.Marshal(ev)
	if err != nil {
		return Envelope{}, fmt.Errorf("encode %s: %w", ev.Name(), err)
	}
	return Envelope{Event: ev.Name(), Payload: payload}, nil
}
