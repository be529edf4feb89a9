package support

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/beanjournal/support-console/internal/domain"
	"github.com/beanjournal/support-console/internal/identity"
	"github.com/beanjournal/support-console/internal/realtime"
	"github.com/beanjournal/support-console/internal/store"
)

// fakeStore is an in-memory stand-in for the persistence slice the
// coordinator uses. Error fields inject failures per call site.
type fakeStore struct {
	mu       sync.Mutex
	sessions []*domain.Session
	messages map[string][]domain.Message
	inserted []domain.Message
	assigned map[string]string
	endedIDs []string
	agents   []*domain.Agent

	listErr   error
	assignErr error
	insertErr error
	endErr    error
	upsertErr error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		messages: make(map[string][]domain.Message),
		assigned: make(map[string]string),
	}
}

func (f *fakeStore) ListSessions(_ context.Context, _ []domain.SessionStatus) ([]*domain.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listErr != nil {
		return nil, f.listErr
	}
	out := make([]*domain.Session, len(f.sessions))
	for i, s := range f.sessions {
		out[i] = s.Clone()
	}
	return out, nil
}

func (f *fakeStore) ListMessages(_ context.Context, sessionID string) ([]domain.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.messages[sessionID], nil
}

func (f *fakeStore) InsertMessage(_ context.Context, m *domain.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.insertErr != nil {
		return f.insertErr
	}
	f.inserted = append(f.inserted, *m)
	return nil
}

// AssignAgent mirrors the conditional update in the real store: the first
// caller wins, later callers get a conflict.
func (f *fakeStore) AssignAgent(_ context.Context, sessionID, agentID, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.assignErr != nil {
		return f.assignErr
	}
	if _, taken := f.assigned[sessionID]; taken {
		return store.ErrConflict
	}
	f.assigned[sessionID] = agentID
	return nil
}

func (f *fakeStore) EndSession(_ context.Context, sessionID string, _ time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.endErr != nil {
		return f.endErr
	}
	f.endedIDs = append(f.endedIDs, sessionID)
	return nil
}

func (f *fakeStore) UpsertAgent(_ context.Context, a *domain.Agent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.upsertErr != nil {
		return f.upsertErr
	}
	f.agents = append(f.agents, a)
	return nil
}

func (f *fakeStore) insertedMessages() []domain.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]domain.Message, len(f.inserted))
	copy(out, f.inserted)
	return out
}

// fakeChannel records broadcasts and presence calls.
type fakeChannel struct {
	mu       sync.Mutex
	events   []realtime.Event
	tracked  []realtime.AgentPresence
	untracks int
	closed   bool
}

func (f *fakeChannel) Broadcast(_ context.Context, ev realtime.Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, ev)
	return nil
}

func (f *fakeChannel) Track(_ context.Context, p realtime.AgentPresence) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tracked = append(f.tracked, p)
	return nil
}

func (f *fakeChannel) Untrack(_ context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.untracks++
	return nil
}

func (f *fakeChannel) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeChannel) broadcasts(name string) []realtime.Event {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []realtime.Event
	for _, ev := range f.events {
		if ev.Name() == name {
			out = append(out, ev)
		}
	}
	return out
}

var testAgent = identity.Identity{ID: "agent_1", Name: "Alex", Email: "alex@beanjournal.site"}

// newTestCoordinator initializes a coordinator whose channel subscription is
// the fake and whose inbound events can be injected synchronously.
func newTestCoordinator(t *testing.T, st *fakeStore) (*Coordinator, *fakeChannel, func(realtime.Event)) {
	t.Helper()

	ch := &fakeChannel{}
	var deliver func(realtime.Event)
	open := func(_, _ string, handler func(realtime.Event)) (Channel, error) {
		deliver = handler
		return ch, nil
	}

	c := New(testAgent, st, open)
	if err := c.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}
	return c, ch, deliver
}

func requestEvent(sessionID string) realtime.SupportRequest {
	return realtime.SupportRequest{
		SessionID:      sessionID,
		UserID:         "user_1",
		UserName:       "Bea",
		InitialMessage: "I lost my journal entries",
	}
}

func TestInitializePartitionsByStatus(t *testing.T) {
	st := newFakeStore()
	ended := time.Now().Add(-time.Hour)
	st.sessions = []*domain.Session{
		{ID: "s1", UserID: "u1", Status: domain.StatusWaiting, CreatedAt: time.Now()},
		{ID: "s2", UserID: "u2", Status: domain.StatusConnected, AgentID: testAgent.ID, CreatedAt: time.Now()},
		{ID: "s3", UserID: "u3", Status: domain.StatusEnded, EndedAt: &ended, CreatedAt: time.Now()},
	}
	st.messages["s2"] = []domain.Message{
		{ID: "m1", SessionID: "s2", Content: "hello", Sender: domain.SenderUser, Timestamp: time.Now()},
	}

	c, ch, _ := newTestCoordinator(t, st)

	if got := len(c.PendingRequests()); got != 1 {
		t.Errorf("Expected 1 pending session, got %d", got)
	}
	if got := len(c.ActiveSessions()); got != 1 {
		t.Errorf("Expected 1 active session, got %d", got)
	}
	if got := len(c.EndedSessions()); got != 1 {
		t.Errorf("Expected 1 ended session, got %d", got)
	}

	active := c.ActiveSessions()[0]
	if len(active.Messages) != 1 || active.Messages[0].Content != "hello" {
		t.Errorf("Expected active session history to be loaded, got %+v", active.Messages)
	}

	if !c.IsOnline() {
		t.Error("Expected coordinator to come online after Initialize")
	}
	ch.mu.Lock()
	tracked := len(ch.tracked)
	ch.mu.Unlock()
	if tracked != 1 {
		t.Errorf("Expected 1 presence track, got %d", tracked)
	}
}

func TestInitializeStoreFailureStartsEmpty(t *testing.T) {
	st := newFakeStore()
	st.listErr = errors.New("db down")
	st.sessions = []*domain.Session{{ID: "s1", Status: domain.StatusWaiting}}

	c, _, _ := newTestCoordinator(t, st)

	if got := len(c.PendingRequests()); got != 0 {
		t.Errorf("Expected empty collections on load failure, got %d pending", got)
	}
	if !c.IsOnline() {
		t.Error("Expected coordinator to still come online")
	}
}

func TestSupportRequestCreatesPending(t *testing.T) {
	st := newFakeStore()
	c, _, deliver := newTestCoordinator(t, st)

	deliver(requestEvent("s1"))

	pending := c.PendingRequests()
	if len(pending) != 1 {
		t.Fatalf("Expected 1 pending request, got %d", len(pending))
	}
	sess := pending[0]
	if sess.Status != domain.StatusWaiting {
		t.Errorf("Expected waiting status, got %q", sess.Status)
	}
	if len(sess.Messages) != 1 || sess.Messages[0].Content != "I lost my journal entries" {
		t.Errorf("Expected initial message, got %+v", sess.Messages)
	}
	if sess.Messages[0].Sender != domain.SenderUser {
		t.Errorf("Expected user sender, got %q", sess.Messages[0].Sender)
	}
}

func TestSupportRequestWithoutMessageGetsPlaceholder(t *testing.T) {
	st := newFakeStore()
	c, _, deliver := newTestCoordinator(t, st)

	deliver(realtime.SupportRequest{SessionID: "s1", UserID: "user_1"})

	pending := c.PendingRequests()
	if len(pending) != 1 {
		t.Fatalf("Expected 1 pending request, got %d", len(pending))
	}
	if got := pending[0].Messages[0].Content; got != placeholderMessage {
		t.Errorf("Expected placeholder message, got %q", got)
	}
}

func TestSupportRequestDuplicateIgnored(t *testing.T) {
	st := newFakeStore()
	c, _, deliver := newTestCoordinator(t, st)

	deliver(requestEvent("s1"))
	deliver(requestEvent("s1"))

	if got := len(c.PendingRequests()); got != 1 {
		t.Errorf("Expected duplicate request to be dropped, got %d pending", got)
	}

	// A duplicate after acceptance must not resurrect the session as pending.
	if err := c.AcceptRequest(context.Background(), "s1"); err != nil {
		t.Fatalf("AcceptRequest failed: %v", err)
	}
	deliver(requestEvent("s1"))

	if got := len(c.PendingRequests()); got != 0 {
		t.Errorf("Expected no pending after accept, got %d", got)
	}
	if got := len(c.ActiveSessions()); got != 1 {
		t.Errorf("Expected 1 active session, got %d", got)
	}
}

func TestAcceptRequest(t *testing.T) {
	st := newFakeStore()
	c, ch, deliver := newTestCoordinator(t, st)
	deliver(requestEvent("s1"))

	if err := c.AcceptRequest(context.Background(), "s1"); err != nil {
		t.Fatalf("AcceptRequest failed: %v", err)
	}

	if got := len(c.PendingRequests()); got != 0 {
		t.Errorf("Expected 0 pending after accept, got %d", got)
	}
	active := c.ActiveSessions()
	if len(active) != 1 {
		t.Fatalf("Expected 1 active session, got %d", len(active))
	}
	sess := active[0]
	if sess.Status != domain.StatusConnected {
		t.Errorf("Expected connected status, got %q", sess.Status)
	}
	if sess.AgentID != testAgent.ID || sess.AgentName != testAgent.Name {
		t.Errorf("Expected agent assignment, got %q/%q", sess.AgentID, sess.AgentName)
	}

	// Initial user message plus the agent's greeting.
	if len(sess.Messages) != 2 {
		t.Fatalf("Expected 2 messages, got %d", len(sess.Messages))
	}
	greeting := sess.Messages[1]
	if greeting.Sender != domain.SenderAgent || !strings.Contains(greeting.Content, "has joined the conversation") {
		t.Errorf("Expected join greeting, got %+v", greeting)
	}

	if st.assigned["s1"] != testAgent.ID {
		t.Errorf("Expected persisted assignment, got %q", st.assigned["s1"])
	}
	inserted := st.insertedMessages()
	if len(inserted) != 1 || inserted[0].Sender != domain.SenderAgent {
		t.Errorf("Expected persisted greeting, got %+v", inserted)
	}

	if got := len(ch.broadcasts(realtime.EventAgentConnected)); got != 1 {
		t.Errorf("Expected 1 agent-connected broadcast, got %d", got)
	}
	if got := len(ch.broadcasts(realtime.EventSupportMessage)); got != 1 {
		t.Errorf("Expected 1 support-message broadcast, got %d", got)
	}
}

func TestAcceptRequestNotPending(t *testing.T) {
	st := newFakeStore()
	c, ch, _ := newTestCoordinator(t, st)

	err := c.AcceptRequest(context.Background(), "missing")
	if !errors.Is(err, ErrNotPending) {
		t.Errorf("Expected ErrNotPending, got %v", err)
	}
	if len(ch.broadcasts(realtime.EventAgentConnected)) != 0 {
		t.Error("Expected no broadcast for failed accept")
	}
}

func TestAcceptRequestPersistFailureLeavesPending(t *testing.T) {
	st := newFakeStore()
	c, ch, deliver := newTestCoordinator(t, st)
	deliver(requestEvent("s1"))

	st.assignErr = errors.New("db down")
	err := c.AcceptRequest(context.Background(), "s1")
	if err == nil {
		t.Fatal("Expected error from failed persist")
	}

	if got := len(c.PendingRequests()); got != 1 {
		t.Errorf("Expected session to stay pending, got %d pending", got)
	}
	if got := len(c.ActiveSessions()); got != 0 {
		t.Errorf("Expected no active session, got %d", got)
	}
	if len(ch.broadcasts(realtime.EventAgentConnected)) != 0 {
		t.Error("Expected no broadcast after failed persist")
	}

	// The failure cleared the in-flight marker, so a retry can proceed.
	st.assignErr = nil
	if err := c.AcceptRequest(context.Background(), "s1"); err != nil {
		t.Fatalf("Retry after failed accept should succeed: %v", err)
	}
}

func TestAcceptRequestLostRaceSurfacesConflict(t *testing.T) {
	st := newFakeStore()
	st.assigned["s1"] = "agent_other"
	c, _, deliver := newTestCoordinator(t, st)
	deliver(requestEvent("s1"))

	err := c.AcceptRequest(context.Background(), "s1")
	if !errors.Is(err, store.ErrConflict) {
		t.Errorf("Expected conflict for already-claimed session, got %v", err)
	}
	if got := len(c.ActiveSessions()); got != 0 {
		t.Errorf("Expected no local move on conflict, got %d active", got)
	}
}

func TestAcceptRequestGreetingPersistFailureStillAccepts(t *testing.T) {
	st := newFakeStore()
	c, ch, deliver := newTestCoordinator(t, st)
	deliver(requestEvent("s1"))

	st.insertErr = errors.New("db down")
	if err := c.AcceptRequest(context.Background(), "s1"); err != nil {
		t.Fatalf("Expected accept to survive a lost greeting, got %v", err)
	}
	if got := len(c.ActiveSessions()); got != 1 {
		t.Errorf("Expected session to become active, got %d", got)
	}
	if got := len(ch.broadcasts(realtime.EventAgentConnected)); got != 1 {
		t.Errorf("Expected agent-connected broadcast, got %d", got)
	}
}

func TestOperationInFlightBlocksSecondCommand(t *testing.T) {
	st := newFakeStore()
	c, _, deliver := newTestCoordinator(t, st)
	deliver(requestEvent("s1"))

	c.mu.Lock()
	c.inflight["s1"] = "accept"
	c.mu.Unlock()

	if err := c.AcceptRequest(context.Background(), "s1"); !errors.Is(err, ErrOperationInFlight) {
		t.Errorf("Expected ErrOperationInFlight, got %v", err)
	}
}

func TestSendMessage(t *testing.T) {
	st := newFakeStore()
	c, ch, deliver := newTestCoordinator(t, st)
	deliver(requestEvent("s1"))
	if err := c.AcceptRequest(context.Background(), "s1"); err != nil {
		t.Fatalf("AcceptRequest failed: %v", err)
	}

	if err := c.SendMessage(context.Background(), "s1", "Let me look into that"); err != nil {
		t.Fatalf("SendMessage failed: %v", err)
	}

	sess := c.Session("s1")
	if len(sess.Messages) != 3 {
		t.Fatalf("Expected 3 messages, got %d", len(sess.Messages))
	}
	last := sess.Messages[2]
	if last.Content != "Let me look into that" || last.Sender != domain.SenderAgent || last.AgentID != testAgent.ID {
		t.Errorf("Unexpected appended message: %+v", last)
	}

	// Greeting plus the reply.
	if got := len(st.insertedMessages()); got != 2 {
		t.Errorf("Expected 2 persisted messages, got %d", got)
	}
	if got := len(ch.broadcasts(realtime.EventSupportMessage)); got != 2 {
		t.Errorf("Expected 2 support-message broadcasts, got %d", got)
	}
}

func TestSendMessageEmptyContent(t *testing.T) {
	st := newFakeStore()
	c, _, _ := newTestCoordinator(t, st)

	if err := c.SendMessage(context.Background(), "s1", ""); !errors.Is(err, ErrEmptyMessage) {
		t.Errorf("Expected ErrEmptyMessage, got %v", err)
	}
}

func TestSendMessageNotActive(t *testing.T) {
	st := newFakeStore()
	c, _, deliver := newTestCoordinator(t, st)
	deliver(requestEvent("s1"))

	if err := c.SendMessage(context.Background(), "s1", "hi"); !errors.Is(err, ErrNotActive) {
		t.Errorf("Expected ErrNotActive for a pending session, got %v", err)
	}
}

func TestSendMessagePersistFailureFailsFast(t *testing.T) {
	st := newFakeStore()
	c, ch, deliver := newTestCoordinator(t, st)
	deliver(requestEvent("s1"))
	if err := c.AcceptRequest(context.Background(), "s1"); err != nil {
		t.Fatalf("AcceptRequest failed: %v", err)
	}
	before := len(ch.broadcasts(realtime.EventSupportMessage))

	st.insertErr = errors.New("db down")
	if err := c.SendMessage(context.Background(), "s1", "will not stick"); err == nil {
		t.Fatal("Expected error from failed persist")
	}

	sess := c.Session("s1")
	for _, m := range sess.Messages {
		if m.Content == "will not stick" {
			t.Error("Message appended locally despite failed persist")
		}
	}
	if got := len(ch.broadcasts(realtime.EventSupportMessage)); got != before {
		t.Errorf("Expected no new broadcast, got %d (was %d)", got, before)
	}
}

func TestEndSession(t *testing.T) {
	st := newFakeStore()
	c, ch, deliver := newTestCoordinator(t, st)
	deliver(requestEvent("s1"))
	if err := c.AcceptRequest(context.Background(), "s1"); err != nil {
		t.Fatalf("AcceptRequest failed: %v", err)
	}

	if err := c.EndSession(context.Background(), "s1"); err != nil {
		t.Fatalf("EndSession failed: %v", err)
	}

	if got := len(c.ActiveSessions()); got != 0 {
		t.Errorf("Expected 0 active sessions, got %d", got)
	}
	ended := c.EndedSessions()
	if len(ended) != 1 {
		t.Fatalf("Expected 1 ended session, got %d", len(ended))
	}
	sess := ended[0]
	if sess.Status != domain.StatusEnded || sess.EndedAt == nil {
		t.Errorf("Expected terminal state with end time, got %+v", sess)
	}
	last := sess.Messages[len(sess.Messages)-1]
	if last.Content != endMessage || last.Sender != domain.SenderSystem {
		t.Errorf("Expected closing system message, got %+v", last)
	}

	if got := len(st.endedIDs); got != 1 {
		t.Errorf("Expected persisted end, got %d", got)
	}
	if got := len(ch.broadcasts(realtime.EventSessionEnded)); got != 1 {
		t.Errorf("Expected 1 session-ended broadcast, got %d", got)
	}

	// Terminal state: no further commands reach the session.
	if err := c.SendMessage(context.Background(), "s1", "too late"); !errors.Is(err, ErrNotActive) {
		t.Errorf("Expected ErrNotActive after end, got %v", err)
	}
	if err := c.EndSession(context.Background(), "s1"); !errors.Is(err, ErrNotActive) {
		t.Errorf("Expected ErrNotActive on second end, got %v", err)
	}
}

func TestEndSessionPersistFailureStillEndsLocally(t *testing.T) {
	st := newFakeStore()
	c, ch, deliver := newTestCoordinator(t, st)
	deliver(requestEvent("s1"))
	if err := c.AcceptRequest(context.Background(), "s1"); err != nil {
		t.Fatalf("AcceptRequest failed: %v", err)
	}

	st.endErr = errors.New("db down")
	err := c.EndSession(context.Background(), "s1")
	if err == nil {
		t.Fatal("Expected persist error to surface")
	}

	if got := len(c.ActiveSessions()); got != 0 {
		t.Errorf("Expected session to leave active despite persist failure, got %d", got)
	}
	if got := len(c.EndedSessions()); got != 1 {
		t.Errorf("Expected session in ended, got %d", got)
	}
	if got := len(ch.broadcasts(realtime.EventSessionEnded)); got != 1 {
		t.Errorf("Expected session-ended broadcast despite persist failure, got %d", got)
	}
}

func TestEndedSessionsNewestFirst(t *testing.T) {
	st := newFakeStore()
	c, _, deliver := newTestCoordinator(t, st)

	for _, id := range []string{"s1", "s2"} {
		deliver(requestEvent(id))
		if err := c.AcceptRequest(context.Background(), id); err != nil {
			t.Fatalf("AcceptRequest(%s) failed: %v", id, err)
		}
	}
	if err := c.EndSession(context.Background(), "s1"); err != nil {
		t.Fatalf("EndSession failed: %v", err)
	}
	if err := c.EndSession(context.Background(), "s2"); err != nil {
		t.Fatalf("EndSession failed: %v", err)
	}

	ended := c.EndedSessions()
	if len(ended) != 2 || ended[0].ID != "s2" || ended[1].ID != "s1" {
		t.Errorf("Expected newest-first ordering, got %v, %v", ended[0].ID, ended[1].ID)
	}
}

func TestUserMessageAppends(t *testing.T) {
	st := newFakeStore()
	c, _, deliver := newTestCoordinator(t, st)
	deliver(requestEvent("s1"))

	userMsg := func(content string) realtime.UserMessage {
		return realtime.UserMessage{
			SessionID: "s1",
			Message: realtime.WireMessage{
				ID: "m-" + content, Content: content,
				Sender: domain.SenderUser, Timestamp: time.Now(),
			},
		}
	}

	deliver(userMsg("still waiting"))
	if sess := c.Session("s1"); len(sess.Messages) != 2 {
		t.Errorf("Expected append while pending, got %d messages", len(sess.Messages))
	}

	if err := c.AcceptRequest(context.Background(), "s1"); err != nil {
		t.Fatalf("AcceptRequest failed: %v", err)
	}
	deliver(userMsg("thanks"))
	if sess := c.Session("s1"); len(sess.Messages) != 4 {
		t.Errorf("Expected append while active, got %d messages", len(sess.Messages))
	}

	if err := c.EndSession(context.Background(), "s1"); err != nil {
		t.Fatalf("EndSession failed: %v", err)
	}
	before := len(c.Session("s1").Messages)
	deliver(userMsg("anyone there"))
	if got := len(c.Session("s1").Messages); got != before {
		t.Errorf("Expected ended session to reject appends, got %d (was %d)", got, before)
	}
}

func TestRemoteSessionEnded(t *testing.T) {
	st := newFakeStore()
	c, _, deliver := newTestCoordinator(t, st)
	deliver(requestEvent("s1"))
	if err := c.AcceptRequest(context.Background(), "s1"); err != nil {
		t.Fatalf("AcceptRequest failed: %v", err)
	}

	deliver(realtime.SessionEnded{SessionID: "s1"})

	if got := len(c.ActiveSessions()); got != 0 {
		t.Errorf("Expected 0 active after remote end, got %d", got)
	}
	ended := c.EndedSessions()
	if len(ended) != 1 || ended[0].Status != domain.StatusEnded || ended[0].EndedAt == nil {
		t.Errorf("Expected terminal state for remotely ended session, got %+v", ended)
	}

	// Duplicate delivery is a no-op.
	deliver(realtime.SessionEnded{SessionID: "s1"})
	if got := len(c.EndedSessions()); got != 1 {
		t.Errorf("Expected duplicate end to be dropped, got %d ended", got)
	}
}

func TestSetOnlineStatusOffline(t *testing.T) {
	st := newFakeStore()
	c, ch, _ := newTestCoordinator(t, st)

	c.SetOnlineStatus(context.Background(), false)

	if c.IsOnline() {
		t.Error("Expected offline state")
	}
	ch.mu.Lock()
	untracks := ch.untracks
	ch.mu.Unlock()
	if untracks != 1 {
		t.Errorf("Expected 1 untrack, got %d", untracks)
	}

	st.mu.Lock()
	last := st.agents[len(st.agents)-1]
	st.mu.Unlock()
	if last.IsOnline {
		t.Error("Expected persisted agent row to be offline")
	}
}

func TestSnapshotsAreIsolated(t *testing.T) {
	st := newFakeStore()
	c, _, deliver := newTestCoordinator(t, st)
	deliver(requestEvent("s1"))

	snap := c.PendingRequests()[0]
	snap.Status = domain.StatusEnded
	snap.Messages[0].Content = "tampered"
	snap.Append(domain.Message{ID: "x", Content: "injected"})

	sess := c.Session("s1")
	if sess.Status != domain.StatusWaiting {
		t.Errorf("Internal status mutated through snapshot: %q", sess.Status)
	}
	if len(sess.Messages) != 1 || sess.Messages[0].Content == "tampered" {
		t.Errorf("Internal messages mutated through snapshot: %+v", sess.Messages)
	}
}

// TestCollectionsStayDisjoint walks a session through its whole lifecycle and
// verifies it lives in exactly one collection at every step.
func TestCollectionsStayDisjoint(t *testing.T) {
	st := newFakeStore()
	c, _, deliver := newTestCoordinator(t, st)

	membership := func() int {
		count := 0
		for _, col := range [][]*domain.Session{c.PendingRequests(), c.ActiveSessions(), c.EndedSessions()} {
			for _, s := range col {
				if s.ID == "s1" {
					count++
				}
			}
		}
		return count
	}

	deliver(requestEvent("s1"))
	if got := membership(); got != 1 {
		t.Fatalf("Expected membership 1 while pending, got %d", got)
	}
	if err := c.AcceptRequest(context.Background(), "s1"); err != nil {
		t.Fatalf("AcceptRequest failed: %v", err)
	}
	if got := membership(); got != 1 {
		t.Fatalf("Expected membership 1 while active, got %d", got)
	}
	if err := c.EndSession(context.Background(), "s1"); err != nil {
		t.Fatalf("EndSession failed: %v", err)
	}
	if got := membership(); got != 1 {
		t.Fatalf("Expected membership 1 after end, got %d", got)
	}
}

// TestHappyPathConversation runs the full flow and checks the final
// transcript shape: initial request message, agent greeting, one agent reply,
// one user reply and the closing system message.
func TestHappyPathConversation(t *testing.T) {
	st := newFakeStore()
	c, ch, deliver := newTestCoordinator(t, st)
	ctx := context.Background()

	deliver(requestEvent("s1"))
	if err := c.AcceptRequest(ctx, "s1"); err != nil {
		t.Fatalf("AcceptRequest failed: %v", err)
	}
	if err := c.SendMessage(ctx, "s1", "Entries sync within a minute, can you refresh?"); err != nil {
		t.Fatalf("SendMessage failed: %v", err)
	}
	deliver(realtime.UserMessage{
		SessionID: "s1",
		Message:   realtime.WireMessage{ID: "um1", Content: "That fixed it, thanks!", Sender: domain.SenderUser, Timestamp: time.Now()},
	})
	if err := c.EndSession(ctx, "s1"); err != nil {
		t.Fatalf("EndSession failed: %v", err)
	}

	sess := c.Session("s1")
	senders := make([]domain.Sender, len(sess.Messages))
	for i, m := range sess.Messages {
		senders[i] = m.Sender
	}
	want := []domain.Sender{
		domain.SenderUser,   // initial request
		domain.SenderAgent,  // greeting
		domain.SenderAgent,  // reply
		domain.SenderUser,   // user reply
		domain.SenderSystem, // session ended
	}
	if len(senders) != len(want) {
		t.Fatalf("Expected %d messages, got %d (%v)", len(want), len(senders), senders)
	}
	for i := range want {
		if senders[i] != want[i] {
			t.Errorf("Message %d: expected sender %q, got %q", i, want[i], senders[i])
		}
	}

	// Greeting, reply and closing system message are persisted; inbound user
	// traffic is persisted by its own producer.
	if got := len(st.insertedMessages()); got != 3 {
		t.Errorf("Expected 3 persisted messages, got %d", got)
	}
	if got := len(ch.broadcasts(realtime.EventSupportMessage)); got != 2 {
		t.Errorf("Expected 2 support-message broadcasts, got %d", got)
	}
}
