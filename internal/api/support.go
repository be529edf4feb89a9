package api

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/beanjournal/support-console/internal/domain"
	"github.com/beanjournal/support-console/internal/identity"
	"github.com/beanjournal/support-console/internal/store"
	"github.com/beanjournal/support-console/internal/support"
	"github.com/go-chi/chi/v5"
)

// SupportHandler exposes the agent dashboard's command and read surface over
// the per-agent session coordinator.
type SupportHandler struct {
	mgr  *support.Manager
	repo store.Repository
}

// NewSupportHandler creates a support handler.
func NewSupportHandler(mgr *support.Manager, repo store.Repository) *SupportHandler {
	return &SupportHandler{mgr: mgr, repo: repo}
}

// RegisterRoutes registers support dashboard routes.
func (h *SupportHandler) RegisterRoutes(r chi.Router) {
	r.Route("/api/support", func(r chi.Router) {
		r.Get("/dashboard", h.Dashboard)
		r.Post("/status", h.SetStatus)
		r.Get("/sessions", h.Sessions)
		r.Get("/sessions/{sessionID}", h.Session)
		r.Post("/sessions/{sessionID}/accept", h.Accept)
		r.Post("/sessions/{sessionID}/messages", h.SendMessage)
		r.Post("/sessions/{sessionID}/end", h.End)
		r.Get("/agents", h.Agents)
		r.Get("/stats", h.Stats)
	})
}

func (h *SupportHandler) coordinator(w http.ResponseWriter, r *http.Request) *support.Coordinator {
	agent, ok := identity.FromContext(r.Context())
	if !ok {
		Error(w, http.StatusUnauthorized, "missing identity")
		return nil
	}
	coord, err := h.mgr.ForAgent(r.Context(), agent)
	if err != nil {
		slog.Error("Failed to initialize coordinator", "agent_id", agent.ID, "error", err)
		Error(w, http.StatusServiceUnavailable, "support channel unavailable")
		return nil
	}
	return coord
}

// Dashboard returns the agent's full coordinator state.
func (h *SupportHandler) Dashboard(w http.ResponseWriter, r *http.Request) {
	coord := h.coordinator(w, r)
	if coord == nil {
		return
	}
	JSON(w, http.StatusOK, map[string]interface{}{
		"is_online":        coord.IsOnline(),
		"pending_requests": coord.PendingRequests(),
		"active_sessions":  coord.ActiveSessions(),
		"ended_sessions":   coord.EndedSessions(),
	})
}

// SetStatus toggles the agent's online presence.
func (h *SupportHandler) SetStatus(w http.ResponseWriter, r *http.Request) {
	coord := h.coordinator(w, r)
	if coord == nil {
		return
	}

	var req struct {
		Online bool `json:"online"`
	}
	if err := decodeBody(r, &req); err != nil {
		Error(w, http.StatusBadRequest, "invalid request body")
		return
	}

	coord.SetOnlineStatus(r.Context(), req.Online)
	JSON(w, http.StatusOK, map[string]interface{}{"is_online": coord.IsOnline()})
}

// Sessions lists persisted sessions, optionally filtered by status.
func (h *SupportHandler) Sessions(w http.ResponseWriter, r *http.Request) {
	statuses := []domain.SessionStatus{domain.StatusWaiting, domain.StatusConnected, domain.StatusEnded}
	if raw := r.URL.Query().Get("status"); raw != "" {
		status := domain.SessionStatus(raw)
		if !domain.ValidStatus(status) {
			Error(w, http.StatusBadRequest, "invalid status filter")
			return
		}
		statuses = []domain.SessionStatus{status}
	}

	sessions, err := h.repo.ListSessions(r.Context(), statuses)
	if err != nil {
		slog.Error("Failed to list sessions", "error", err)
		Error(w, http.StatusInternalServerError, "failed to list sessions")
		return
	}
	JSON(w, http.StatusOK, sessions)
}

// Session returns one session from the agent's view.
func (h *SupportHandler) Session(w http.ResponseWriter, r *http.Request) {
	coord := h.coordinator(w, r)
	if coord == nil {
		return
	}
	sess := coord.Session(chi.URLParam(r, "sessionID"))
	if sess == nil {
		Error(w, http.StatusNotFound, "session not found")
		return
	}
	JSON(w, http.StatusOK, sess)
}

// Accept claims a pending request for this agent.
func (h *SupportHandler) Accept(w http.ResponseWriter, r *http.Request) {
	coord := h.coordinator(w, r)
	if coord == nil {
		return
	}

	sessionID := chi.URLParam(r, "sessionID")
	if err := coord.AcceptRequest(r.Context(), sessionID); err != nil {
		h.commandError(w, sessionID, "accept", err)
		return
	}
	JSON(w, http.StatusOK, coord.Session(sessionID))
}

// SendMessage sends an agent reply into an active session.
func (h *SupportHandler) SendMessage(w http.ResponseWriter, r *http.Request) {
	coord := h.coordinator(w, r)
	if coord == nil {
		return
	}

	var req struct {
		Content string `json:"content"`
	}
	if err := decodeBody(r, &req); err != nil {
		Error(w, http.StatusBadRequest, "invalid request body")
		return
	}

	sessionID := chi.URLParam(r, "sessionID")
	if err := coord.SendMessage(r.Context(), sessionID, req.Content); err != nil {
		h.commandError(w, sessionID, "send", err)
		return
	}
	JSON(w, http.StatusOK, coord.Session(sessionID))
}

// End terminates an active session.
func (h *SupportHandler) End(w http.ResponseWriter, r *http.Request) {
	coord := h.coordinator(w, r)
	if coord == nil {
		return
	}

	sessionID := chi.URLParam(r, "sessionID")
	if err := coord.EndSession(r.Context(), sessionID); err != nil {
		// The local move to ended still happened; surface the store failure
		// without pretending the command was clean.
		h.commandError(w, sessionID, "end", err)
		return
	}
	JSON(w, http.StatusOK, coord.Session(sessionID))
}

// commandError maps coordinator failures to recoverable HTTP errors.
func (h *SupportHandler) commandError(w http.ResponseWriter, sessionID, op string, err error) {
	switch {
	case errors.Is(err, support.ErrNotPending), errors.Is(err, support.ErrNotActive):
		Error(w, http.StatusNotFound, err.Error())
	case errors.Is(err, support.ErrOperationInFlight):
		Error(w, http.StatusConflict, err.Error())
	case errors.Is(err, support.ErrEmptyMessage):
		Error(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, store.ErrConflict):
		Error(w, http.StatusConflict, "another agent already accepted this request")
	case errors.Is(err, store.ErrNotFound):
		Error(w, http.StatusNotFound, "session not found")
	default:
		slog.Error("Support command failed", "session_id", sessionID, "op", op, "error", err)
		Error(w, http.StatusBadGateway, "command failed, please retry")
	}
}

// Agents lists known agents and their presence.
func (h *SupportHandler) Agents(w http.ResponseWriter, r *http.Request) {
	agents, err := h.repo.ListAgents(r.Context())
	if err != nil {
		slog.Error("Failed to list agents", "error", err)
		Error(w, http.StatusInternalServerError, "failed to list agents")
		return
	}
	JSON(w, http.StatusOK, agents)
}

// Stats summarizes sessions and agent presence for the dashboard cards.
func (h *SupportHandler) Stats(w http.ResponseWriter, r *http.Request) {
	counts, err := h.repo.SessionCounts(r.Context())
	if err != nil {
		slog.Error("Failed to count sessions", "error", err)
		Error(w, http.StatusInternalServerError, "failed to compute stats")
		return
	}

	agents, err := h.repo.ListAgents(r.Context())
	if err != nil {
		slog.Error("Failed to list agents", "error", err)
		Error(w, http.StatusInternalServerError, "failed to compute stats")
		return
	}
	online := 0
	for _, a := range agents {
		if a.IsOnline {
			online++
		}
	}

	JSON(w, http.StatusOK, map[string]interface{}{
		"waiting_sessions":   counts[domain.StatusWaiting],
		"connected_sessions": counts[domain.StatusConnected],
		"ended_sessions":     counts[domain.StatusEnded],
		"agents_total":       len(agents),
		"agents_online":      online,
	})
}
