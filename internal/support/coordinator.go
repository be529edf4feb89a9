// Package support implements live support-session coordination: three
// disjoint status-derived session collections kept synchronized between the
// realtime broadcast channel and the persisted store.
package support

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/beanjournal/support-console/internal/domain"
	"github.com/beanjournal/support-console/internal/identity"
	"github.com/beanjournal/support-console/internal/realtime"
	"github.com/google/uuid"
)

// Topic is the fixed logical channel name all support traffic is scoped to.
const Topic = "support-requests"

// placeholderMessage stands in when a support request arrives without an
// initial message.
const placeholderMessage = "Looking for an available agent..."

// endMessage is the system message appended when a session ends.
const endMessage = "This session has ended"

var (
	// ErrNotPending is returned when a command targets a session that is not
	// in the pending collection.
	ErrNotPending = errors.New("support: session is not pending")

	// ErrNotActive is returned when a command targets a session that is not
	// in the active collection.
	ErrNotActive = errors.New("support: session is not active")

	// ErrOperationInFlight is returned when another command for the same
	// session has not finished yet (e.g. a duplicated accept click).
	ErrOperationInFlight = errors.New("support: operation already in flight")

	// ErrEmptyMessage is returned by SendMessage for empty content.
	ErrEmptyMessage = errors.New("support: message content is empty")

	// ErrChannelClosed is returned by commands when the coordinator has no
	// open channel subscription.
	ErrChannelClosed = errors.New("support: channel not open")
)

// Store is the slice of persistence the coordinator depends on.
type Store interface {
	ListSessions(ctx context.Context, statuses []domain.SessionStatus) ([]*domain.Session, error)
	ListMessages(ctx context.Context, sessionID string) ([]domain.Message, error)
	InsertMessage(ctx context.Context, m *domain.Message) error
	AssignAgent(ctx context.Context, sessionID, agentID, agentName string) error
	EndSession(ctx context.Context, sessionID string, endedAt time.Time) error
	UpsertAgent(ctx context.Context, a *domain.Agent) error
}

// Channel is the realtime side of the coordinator: topic-scoped broadcast
// plus presence tracking.
type Channel interface {
	Broadcast(ctx context.Context, ev realtime.Event) error
	Track(ctx context.Context, p realtime.AgentPresence) error
	Untrack(ctx context.Context) error
	Close() error
}

// ChannelOpener opens a subscription on a topic, delivering inbound events to
// the handler. The returned Channel is the broadcast/presence handle.
type ChannelOpener func(topic, key string, handler func(realtime.Event)) (Channel, error)

// HubOpener adapts an in-process realtime hub to the ChannelOpener contract.
func HubOpener(hub *realtime.Hub) ChannelOpener {
	return func(topic, key string, handler func(realtime.Event)) (Channel, error) {
		return hub.Subscribe(topic, key, handler), nil
	}
}

// Coordinator owns one agent's view of support sessions: pending, active and
// ended collections reconciled against channel broadcasts and the store.
//
// All three collections are guarded by mu; commands and inbound event
// handlers serialize on it, so no two mutations interleave mid-update.
// Persistence calls and broadcasts happen outside the lock.
type Coordinator struct {
	agent identity.Identity
	store Store
	open  ChannelOpener

	mu       sync.Mutex
	pending  []*domain.Session
	active   []*domain.Session
	ended    []*domain.Session
	inflight map[string]string // session id -> operation name
	online   bool
	channel  Channel
}

// New creates a coordinator for one agent. Dependencies are passed
// explicitly; the coordinator holds no ambient state.
func New(agent identity.Identity, store Store, open ChannelOpener) *Coordinator {
	return &Coordinator{
		agent:    agent,
		store:    store,
		open:     open,
		inflight: make(map[string]string),
	}
}

// Initialize loads persisted sessions, opens the channel subscription keyed
// by the agent's identity, and publishes the agent as online.
//
// A store failure degrades to empty collections (logged, no retry). A channel
// failure leaves the coordinator inert for realtime updates but keeps
// whatever history loaded; the error is returned so callers can surface it.
func (c *Coordinator) Initialize(ctx context.Context) error {
	c.loadExistingSessions(ctx)

	ch, err := c.open(Topic, c.agent.ID, c.handleEvent)
	if err != nil {
		slog.Error("Failed to open support channel, coordinator is inert",
			"agent_id", c.agent.ID, "error", err)
		return fmt.Errorf("open support channel: %w", err)
	}

	c.mu.Lock()
	c.channel = ch
	c.mu.Unlock()

	c.SetOnlineStatus(ctx, true)
	return nil
}

func (c *Coordinator) loadExistingSessions(ctx context.Context) {
	statuses := []domain.SessionStatus{domain.StatusWaiting, domain.StatusConnected, domain.StatusEnded}
	sessions, err := c.store.ListSessions(ctx, statuses)
	if err != nil {
		slog.Error("Failed to load sessions, starting empty", "agent_id", c.agent.ID, "error", err)
		return
	}

	var pending, active, ended []*domain.Session
	for _, sess := range sessions {
		messages, err := c.store.ListMessages(ctx, sess.ID)
		if err != nil {
			slog.Error("Failed to load messages, skipping session",
				"session_id", sess.ID, "error", err)
			continue
		}
		sess.Messages = messages

		switch sess.Status {
		case domain.StatusWaiting:
			pending = append(pending, sess)
		case domain.StatusConnected:
			active = append(active, sess)
		case domain.StatusEnded:
			ended = append(ended, sess)
		}
	}

	c.mu.Lock()
	c.pending, c.active, c.ended = pending, active, ended
	c.mu.Unlock()

	slog.Info("Loaded existing sessions", "agent_id", c.agent.ID,
		"pending", len(pending), "active", len(active), "ended", len(ended))
}

// Close releases the channel subscription. The coordinator keeps its loaded
// state but receives no further events.
func (c *Coordinator) Close() error {
	c.mu.Lock()
	ch := c.channel
	c.channel = nil
	c.mu.Unlock()
	if ch == nil {
		return nil
	}
	return ch.Close()
}

// SetOnlineStatus updates the agent's presence both in the store and on the
// channel. Idempotent. Failures are logged, not returned: the requested state
// is reflected locally regardless, accepting a possible store inconsistency.
func (c *Coordinator) SetOnlineStatus(ctx context.Context, online bool) {
	c.mu.Lock()
	c.online = online
	ch := c.channel
	c.mu.Unlock()

	now := time.Now()
	err := c.store.UpsertAgent(ctx, &domain.Agent{
		ID:        c.agent.ID,
		Name:      c.agent.Name,
		Email:     c.agent.Email,
		ImageURL:  c.agent.ImageURL,
		IsOnline:  online,
		LastSeen:  now,
		UpdatedAt: now,
	})
	if err != nil {
		slog.Error("Failed to persist agent status", "agent_id", c.agent.ID, "online", online, "error", err)
	}

	if ch == nil {
		return
	}
	if online {
		err = ch.Track(ctx, realtime.AgentPresence{
			ID:       c.agent.ID,
			Name:     c.agent.Name,
			Email:    c.agent.Email,
			Image:    c.agent.ImageURL,
			IsOnline: true,
			LastSeen: now,
		})
	} else {
		err = ch.Untrack(ctx)
	}
	if err != nil {
		slog.Error("Failed to update channel presence", "agent_id", c.agent.ID, "online", online, "error", err)
	}
}

// IsOnline reports the agent's locally requested online state.
func (c *Coordinator) IsOnline() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.online
}

// beginOp marks a session as having a command in flight. It fails when the
// session already has one, closing the duplicate-click window for accept,
// send and end uniformly.
func (c *Coordinator) beginOp(sessionID, op string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if existing, ok := c.inflight[sessionID]; ok {
		slog.Debug("Operation already in flight", "session_id", sessionID, "in_flight", existing, "requested", op)
		return ErrOperationInFlight
	}
	c.inflight[sessionID] = op
	return nil
}

func (c *Coordinator) endOp(sessionID string) {
	c.mu.Lock()
	delete(c.inflight, sessionID)
	c.mu.Unlock()
}

// AcceptRequest moves a pending session to the active collection: it assigns
// this agent on the persisted row (conditional on the row still being
// waiting, so two agents racing resolve to one winner), persists a join
// greeting, applies the move locally and broadcasts agent-connected plus the
// greeting as a regular support message.
//
// If persistence fails the command aborts with no local or broadcast side
// effect. The in-flight marker is cleared on every path.
func (c *Coordinator) AcceptRequest(ctx context.Context, sessionID string) error {
	c.mu.Lock()
	request := findSession(c.pending, sessionID)
	ch := c.channel
	c.mu.Unlock()

	if request == nil {
		return ErrNotPending
	}
	if ch == nil {
		return ErrChannelClosed
	}

	if err := c.beginOp(sessionID, "accept"); err != nil {
		return err
	}
	defer c.endOp(sessionID)

	if err := c.store.AssignAgent(ctx, sessionID, c.agent.ID, c.agent.Name); err != nil {
		slog.Error("Failed to assign agent", "session_id", sessionID, "agent_id", c.agent.ID, "error", err)
		return fmt.Errorf("accept request %s: %w", sessionID, err)
	}

	join := domain.Message{
		ID:        uuid.NewString(),
		SessionID: sessionID,
		Content:   fmt.Sprintf("%s has joined the conversation. How can I help you today?", c.agent.Name),
		Sender:    domain.SenderAgent,
		Timestamp: time.Now(),
		AgentID:   c.agent.ID,
	}
	if err := c.store.InsertMessage(ctx, &join); err != nil {
		// The session row is already connected; a lost greeting is not worth
		// aborting the accept over.
		slog.Error("Failed to persist join message", "session_id", sessionID, "error", err)
	}

	c.mu.Lock()
	moved := removeSession(&c.pending, sessionID)
	if moved != nil {
		moved.AgentID = c.agent.ID
		moved.AgentName = c.agent.Name
		moved.Status = domain.StatusConnected
		moved.Append(join)
		c.active = append(c.active, moved)
	}
	c.mu.Unlock()
	if moved == nil {
		// Removed concurrently (e.g. a remote session-ended landed between
		// the persist and the move). The store already holds the transition.
		slog.Warn("Accepted session vanished from pending", "session_id", sessionID)
		return nil
	}

	if err := ch.Broadcast(ctx, realtime.AgentConnected{
		SessionID:  sessionID,
		UserID:     moved.UserID,
		AgentID:    c.agent.ID,
		AgentName:  c.agent.Name,
		AgentImage: c.agent.ImageURL,
	}); err != nil {
		slog.Error("Failed to broadcast agent-connected", "session_id", sessionID, "error", err)
	}

	if err := ch.Broadcast(ctx, realtime.SupportMessage{
		SessionID: sessionID,
		Message:   wireMessage(join),
	}); err != nil {
		slog.Error("Failed to broadcast join message", "session_id", sessionID, "error", err)
	}

	slog.Info("Accepted support request", "session_id", sessionID, "agent_id", c.agent.ID)
	return nil
}

// SendMessage persists an agent reply, appends it to the active session and
// broadcasts it. Persistence comes first: on failure neither the local append
// nor the broadcast happens.
func (c *Coordinator) SendMessage(ctx context.Context, sessionID, content string) error {
	if content == "" {
		return ErrEmptyMessage
	}

	c.mu.Lock()
	sess := findSession(c.active, sessionID)
	ch := c.channel
	c.mu.Unlock()

	if sess == nil {
		return ErrNotActive
	}
	if ch == nil {
		return ErrChannelClosed
	}

	if err := c.beginOp(sessionID, "send"); err != nil {
		return err
	}
	defer c.endOp(sessionID)

	msg := domain.Message{
		ID:        uuid.NewString(),
		SessionID: sessionID,
		Content:   content,
		Sender:    domain.SenderAgent,
		Timestamp: time.Now(),
		AgentID:   c.agent.ID,
	}
	if err := c.store.InsertMessage(ctx, &msg); err != nil {
		slog.Error("Failed to persist agent message", "session_id", sessionID, "error", err)
		return fmt.Errorf("send message to %s: %w", sessionID, err)
	}

	c.mu.Lock()
	if current := findSession(c.active, sessionID); current != nil {
		current.Append(msg)
	}
	c.mu.Unlock()

	if err := ch.Broadcast(ctx, realtime.SupportMessage{
		SessionID: sessionID,
		Message:   wireMessage(msg),
	}); err != nil {
		slog.Error("Failed to broadcast agent message", "session_id", sessionID, "error", err)
	}
	return nil
}

// EndSession terminates an active session. The failure policy is asymmetric
// by intent: even when persistence fails, the local move to ended and the
// broadcast still happen, because a session stuck active in the UI after an
// explicit end is worse than a dangling store inconsistency. The persistence
// error is still returned so callers can surface it.
func (c *Coordinator) EndSession(ctx context.Context, sessionID string) error {
	c.mu.Lock()
	sess := findSession(c.active, sessionID)
	ch := c.channel
	c.mu.Unlock()

	if sess == nil {
		return ErrNotActive
	}
	if ch == nil {
		return ErrChannelClosed
	}

	if err := c.beginOp(sessionID, "end"); err != nil {
		return err
	}
	defer c.endOp(sessionID)

	now := time.Now()
	var persistErr error
	if err := c.store.EndSession(ctx, sessionID, now); err != nil {
		slog.Error("Failed to persist session end, ending locally anyway",
			"session_id", sessionID, "error", err)
		persistErr = err
	}

	system := domain.Message{
		ID:        uuid.NewString(),
		SessionID: sessionID,
		Content:   endMessage,
		Sender:    domain.SenderSystem,
		Timestamp: now,
	}
	if err := c.store.InsertMessage(ctx, &system); err != nil {
		slog.Error("Failed to persist end message", "session_id", sessionID, "error", err)
		if persistErr == nil {
			persistErr = err
		}
	}

	c.mu.Lock()
	if moved := removeSession(&c.active, sessionID); moved != nil {
		moved.Status = domain.StatusEnded
		moved.EndedAt = &now
		moved.Append(system)
		c.ended = append([]*domain.Session{moved}, c.ended...)
	}
	c.mu.Unlock()

	if err := ch.Broadcast(ctx, realtime.SessionEnded{SessionID: sessionID}); err != nil {
		slog.Error("Failed to broadcast session-ended", "session_id", sessionID, "error", err)
	}

	slog.Info("Ended support session", "session_id", sessionID, "agent_id", c.agent.ID)
	if persistErr != nil {
		return fmt.Errorf("end session %s: %w", sessionID, persistErr)
	}
	return nil
}

// handleEvent is the channel listener: it reconciles inbound broadcasts into
// the collections. It runs on the subscription's delivery goroutine and
// serializes with commands through mu.
func (c *Coordinator) handleEvent(ev realtime.Event) {
	switch ev := ev.(type) {
	case realtime.SupportRequest:
		c.onSupportRequest(ev)
	case realtime.UserMessage:
		c.onUserMessage(ev)
	case realtime.SessionEnded:
		c.onSessionEnded(ev)
	case realtime.PresenceSync:
		slog.Debug("Presence synced", "agent_id", c.agent.ID, "present", len(ev.Agents))
	default:
		// agent-connected and support-message broadcasts originate from
		// agent dashboards; this one has nothing to reconcile from them.
	}
}

func (c *Coordinator) onSupportRequest(ev realtime.SupportRequest) {
	c.mu.Lock()
	defer c.mu.Unlock()

	// Duplicate deliveries of the same session id are dropped rather than
	// shadowing the existing entry.
	if findSession(c.pending, ev.SessionID) != nil ||
		findSession(c.active, ev.SessionID) != nil ||
		findSession(c.ended, ev.SessionID) != nil {
		slog.Warn("Ignoring duplicate support request", "session_id", ev.SessionID)
		return
	}

	initial := ev.InitialMessage
	if initial == "" {
		initial = placeholderMessage
	}

	now := time.Now()
	sess := &domain.Session{
		ID:        ev.SessionID,
		UserID:    ev.UserID,
		UserName:  ev.UserName,
		UserImage: ev.UserImage,
		Status:    domain.StatusWaiting,
		CreatedAt: now,
		Messages: []domain.Message{{
			ID:        uuid.NewString(),
			SessionID: ev.SessionID,
			Content:   initial,
			Sender:    domain.SenderUser,
			Timestamp: now,
			UserID:    ev.UserID,
		}},
	}
	c.pending = append(c.pending, sess)
	slog.Info("New support request", "session_id", ev.SessionID, "user_id", ev.UserID)
}

func (c *Coordinator) onUserMessage(ev realtime.UserMessage) {
	msg := ev.Message.Domain(ev.SessionID)

	c.mu.Lock()
	defer c.mu.Unlock()

	// Membership is disjoint, so at most one of the two lookups matches.
	// Ended sessions never accept appends.
	if sess := findSession(c.pending, ev.SessionID); sess != nil {
		sess.Append(msg)
		return
	}
	if sess := findSession(c.active, ev.SessionID); sess != nil {
		sess.Append(msg)
		return
	}
	slog.Debug("Dropping message for unknown or ended session", "session_id", ev.SessionID)
}

func (c *Coordinator) onSessionEnded(ev realtime.SessionEnded) {
	c.mu.Lock()
	defer c.mu.Unlock()

	moved := removeSession(&c.active, ev.SessionID)
	if moved == nil {
		return
	}
	now := time.Now()
	moved.Status = domain.StatusEnded
	moved.EndedAt = &now
	c.ended = append([]*domain.Session{moved}, c.ended...)
	slog.Info("Session ended remotely", "session_id", ev.SessionID)
}

// PendingRequests returns a snapshot of the pending collection.
func (c *Coordinator) PendingRequests() []*domain.Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return cloneAll(c.pending)
}

// ActiveSessions returns a snapshot of the active collection.
func (c *Coordinator) ActiveSessions() []*domain.Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return cloneAll(c.active)
}

// EndedSessions returns a snapshot of the ended collection, newest first.
func (c *Coordinator) EndedSessions() []*domain.Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return cloneAll(c.ended)
}

// Session returns a snapshot of one session from whichever collection holds
// it, or nil when unknown.
func (c *Coordinator) Session(id string) *domain.Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, col := range [][]*domain.Session{c.pending, c.active, c.ended} {
		if sess := findSession(col, id); sess != nil {
			return sess.Clone()
		}
	}
	return nil
}

func findSession(col []*domain.Session, id string) *domain.Session {
	for _, s := range col {
		if s.ID == id {
			return s
		}
	}
	return nil
}

func removeSession(col *[]*domain.Session, id string) *domain.Session {
	for i, s := range *col {
		if s.ID == id {
			*col = append((*col)[:i], (*col)[i+1:]...)
			return s
		}
	}
	return nil
}

func cloneAll(col []*domain.Session) []*domain.Session {
	out := make([]*domain.Session, len(col))
	for i, s := range col {
		out[i] = s.Clone()
	}
	return out
}

func wireMessage(m domain.Message) realtime.WireMessage {
	return realtime.WireMessage{
		ID:        m.ID,
		Content:   m.Content,
		Sender:    m.Sender,
		Timestamp: m.Timestamp,
		AgentID:   m.AgentID,
	}
}
