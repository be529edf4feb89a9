package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/beanjournal/support-console/internal/domain"
	"github.com/beanjournal/support-console/internal/store"
	"github.com/coder/websocket"
	"github.com/google/uuid"
)

// WebSocketHandler bridges end-user chat widgets onto a hub topic. Client
// frames are parsed, persisted and rebroadcast; topic events addressed to the
// client's session are pushed back down the socket.
type WebSocketHandler struct {
	hub           *Hub
	repo          store.Repository
	topic         string
	allowedOrigin string
	isDev         bool
}

// NewWebSocketHandler creates a handler for the given topic.
func NewWebSocketHandler(hub *Hub, repo store.Repository, topic, allowedOrigin string, isDev bool) *WebSocketHandler {
	return &WebSocketHandler{
		hub:           hub,
		repo:          repo,
		topic:         topic,
		allowedOrigin: allowedOrigin,
		isDev:         isDev,
	}
}

// ServeHTTP upgrades the connection and runs the bridge until the client
// disconnects.
func (h *WebSocketHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	sessionID := r.URL.Query().Get("session_id")
	userID := r.URL.Query().Get("user_id")
	if sessionID == "" || userID == "" {
		http.Error(w, "session_id and user_id are required", http.StatusBadRequest)
		return
	}

	if !h.checkOrigin(r) {
		http.Error(w, "origin not allowed", http.StatusForbidden)
		return
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		slog.Error("Failed to accept WebSocket", "error", err, "session_id", sessionID)
		return
	}
	defer func() {
		if closeErr := ws.Close(websocket.StatusNormalClosure, "session closed"); closeErr != nil {
			slog.Debug("Failed to close websocket", "error", closeErr, "session_id", sessionID)
		}
	}()

	slog.Info("Support widget connected", "session_id", sessionID, "user_id", userID, "ip", r.RemoteAddr)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	sub := h.hub.Subscribe(h.topic, "user:"+sessionID, func(ev Event) {
		if !eventForSession(ev, sessionID) {
			return
		}
		if err := writeEvent(ctx, ws, ev); err != nil {
			slog.Debug("WebSocket write failed", "session_id", sessionID, "error", err)
			cancel()
		}
	})
	defer func() {
		if err := sub.Close(); err != nil {
			slog.Debug("Failed to close subscription", "session_id", sessionID, "error", err)
		}
	}()

	h.readLoop(ctx, ws, sub, sessionID, userID)
}

// eventForSession filters topic traffic down to what the widget should see.
func eventForSession(ev Event, sessionID string) bool {
	switch ev := ev.(type) {
	case AgentConnected:
		return ev.SessionID == sessionID
	case SupportMessage:
		return ev.SessionID == sessionID
	case SessionEnded:
		return ev.SessionID == sessionID
	case PresenceSync:
		return true
	default:
		return false
	}
}

func writeEvent(ctx context.Context, ws *websocket.Conn, ev Event) error {
	env, err := Encode(ev)
	if err != nil {
		return err
	}
	data, err := json.Marshal(env)
	if err != nil {
		return err
	}
	return ws.Write(ctx, websocket.MessageText, data)
}

func (h *WebSocketHandler) readLoop(ctx context.Context, ws *websocket.Conn, sub *Subscription, sessionID, userID string) {
	for {
		_, data, err := ws.Read(ctx)
		if err != nil {
			status := websocket.CloseStatus(err)
			if status == websocket.StatusNormalClosure || status == websocket.StatusGoingAway || errors.Is(err, context.Canceled) {
				slog.Debug("Support widget disconnected", "session_id", sessionID)
			} else {
				slog.Debug("WebSocket read error", "session_id", sessionID, "error", err)
			}
			return
		}

		var env Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			slog.Warn("Dropping malformed frame", "session_id", sessionID, "error", err)
			continue
		}

		ev, err := Parse(env)
		if err != nil {
			slog.Warn("Dropping invalid event", "session_id", sessionID, "event", env.Event, "error", err)
			continue
		}

		h.handleClientEvent(ctx, sub, ev, sessionID, userID)
	}
}

// handleClientEvent persists a client-originated event and rebroadcasts it to
// the topic. Only the requester-side events are accepted from widgets.
func (h *WebSocketHandler) handleClientEvent(ctx context.Context, sub *Subscription, ev Event, sessionID, userID string) {
	switch ev := ev.(type) {
	case SupportRequest:
		if ev.SessionID != sessionID || ev.UserID != userID {
			slog.Warn("Dropping support request for foreign session", "session_id", ev.SessionID, "conn_session", sessionID)
			return
		}
		h.onSupportRequest(ctx, sub, ev)

	case UserMessage:
		if ev.SessionID != sessionID {
			slog.Warn("Dropping user message for foreign session", "session_id", ev.SessionID, "conn_session", sessionID)
			return
		}
		h.onUserMessage(ctx, sub, ev, userID)

	case SessionEnded:
		if ev.SessionID != sessionID {
			return
		}
		h.onSessionEnded(ctx, sub, ev)

	default:
		slog.Warn("Dropping event not accepted from widgets", "event", ev.Name(), "session_id", sessionID)
	}
}

func (h *WebSocketHandler) onSupportRequest(ctx context.Context, sub *Subscription, ev SupportRequest) {
	now := time.Now()
	sess := &domain.Session{
		ID:        ev.SessionID,
		UserID:    ev.UserID,
		UserName:  ev.UserName,
		UserImage: ev.UserImage,
		Status:    domain.StatusWaiting,
		CreatedAt: now,
	}
	if err := h.repo.CreateSession(ctx, sess); err != nil {
		slog.Error("Failed to persist support request", "session_id", ev.SessionID, "error", err)
		return
	}

	initial := ev.InitialMessage
	if initial != "" {
		msg := domain.Message{
			ID:        uuid.NewString(),
			SessionID: ev.SessionID,
			Content:   initial,
			Sender:    domain.SenderUser,
			Timestamp: now,
			UserID:    ev.UserID,
		}
		if err := h.repo.InsertMessage(ctx, &msg); err != nil {
			slog.Error("Failed to persist initial message", "session_id", ev.SessionID, "error", err)
		}
	}

	if err := sub.Broadcast(ctx, ev); err != nil {
		slog.Error("Failed to broadcast support request", "session_id", ev.SessionID, "error", err)
	}
}

func (h *WebSocketHandler) onUserMessage(ctx context.Context, sub *Subscription, ev UserMessage, userID string) {
	if ev.Message.ID == "" {
		ev.Message.ID = uuid.NewString()
	}
	ev.Message.Sender = domain.SenderUser
	if ev.Message.Timestamp.IsZero() {
		ev.Message.Timestamp = time.Now()
	}

	msg := ev.Message.Domain(ev.SessionID)
	msg.UserID = userID
	if err := h.repo.InsertMessage(ctx, &msg); err != nil {
		slog.Error("Failed to persist user message", "session_id", ev.SessionID, "error", err)
		return
	}

	if err := sub.Broadcast(ctx, ev); err != nil {
		slog.Error("Failed to broadcast user message", "session_id", ev.SessionID, "error", err)
	}
}

func (h *WebSocketHandler) onSessionEnded(ctx context.Context, sub *Subscription, ev SessionEnded) {
	if err := h.repo.EndSession(ctx, ev.SessionID, time.Now()); err != nil {
		// Already ended or unknown; the broadcast still lets dashboards
		// reconcile their local state.
		slog.Warn("Failed to persist session end from widget", "session_id", ev.SessionID, "error", err)
	}
	if err := sub.Broadcast(ctx, ev); err != nil {
		slog.Error("Failed to broadcast session end", "session_id", ev.SessionID, "error", err)
	}
}

func (h *WebSocketHandler) checkOrigin(r *http.Request) bool {
	if h.isDev {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	if h.allowedOrigin == "" {
		return true
	}
	originURL, err := url.Parse(origin)
	if err != nil {
		return false
	}
	allowedURL, err := url.Parse(h.allowedOrigin)
	if err != nil {
		return false
	}
	return strings.EqualFold(originURL.Host, allowedURL.Host)
}
