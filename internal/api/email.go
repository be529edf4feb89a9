package api

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/beanjournal/support-console/internal/mail"
	"github.com/beanjournal/support-console/internal/store"
	"github.com/go-chi/chi/v5"
)

// maxInboundSize bounds raw inbound messages accepted from the routing
// worker.
const maxInboundSize = 10 << 20 // 10 MiB

// EmailHandler exposes the shared support inbox.
type EmailHandler struct {
	svc *mail.Service
}

// NewEmailHandler creates an email handler.
func NewEmailHandler(svc *mail.Service) *EmailHandler {
	return &EmailHandler{svc: svc}
}

// RegisterRoutes registers agent-facing inbox routes. The inbound webhook is
// registered separately so it can sit outside agent authentication.
func (h *EmailHandler) RegisterRoutes(r chi.Router) {
	r.Route("/api/email", func(r chi.Router) {
		r.Get("/test-connection", h.TestConnection)
		r.Get("/fetch", h.Fetch)
		r.Get("/stats", h.Stats)
		r.Post("/send", h.Send)
		r.Get("/{emailID}", h.Get)
		r.Put("/{emailID}/mark-read", h.MarkRead)
		r.Put("/{emailID}/mark-replied", h.MarkReplied)
		r.Delete("/{emailID}", h.Delete)
	})
}

// TestConnection verifies the inbox store is reachable.
func (h *EmailHandler) TestConnection(w http.ResponseWriter, r *http.Request) {
	if _, err := h.svc.Stats(r.Context()); err != nil {
		slog.Error("Email connection test failed", "error", err)
		JSON(w, http.StatusInternalServerError, map[string]interface{}{
			"success": false,
			"message": "Connection test failed",
		})
		return
	}
	JSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"message": "Connection successful",
	})
}

// Fetch lists inbox emails with pagination, filtering and sorting.
func (h *EmailHandler) Fetch(w http.ResponseWriter, r *http.Request) {
	q := store.EmailQuery{
		Limit:      queryInt(r, "limit", 50),
		Offset:     queryInt(r, "offset", 0),
		UnreadOnly: r.URL.Query().Get("unreadOnly") == "true",
		Search:     r.URL.Query().Get("search"),
		SortBy:     r.URL.Query().Get("sortBy"),
		SortOrder:  r.URL.Query().Get("sortOrder"),
	}

	emails, total, err := h.svc.List(r.Context(), q)
	if err != nil {
		slog.Error("Failed to fetch emails", "error", err)
		Error(w, http.StatusInternalServerError, "failed to fetch emails")
		return
	}

	JSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"emails":  emails,
		"total":   total,
		"count":   len(emails),
	})
}

// Stats summarizes the inbox for dashboard cards.
func (h *EmailHandler) Stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.svc.Stats(r.Context())
	if err != nil {
		slog.Error("Failed to compute email stats", "error", err)
		Error(w, http.StatusInternalServerError, "failed to compute email stats")
		return
	}
	JSON(w, http.StatusOK, stats)
}

// Get returns one email with headers and attachments.
func (h *EmailHandler) Get(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "emailID")
	email, err := h.svc.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			Error(w, http.StatusNotFound, "email not found")
			return
		}
		slog.Error("Failed to fetch email", "email_id", id, "error", err)
		Error(w, http.StatusInternalServerError, "failed to fetch email")
		return
	}
	JSON(w, http.StatusOK, map[string]interface{}{"success": true, "email": email})
}

// Send delivers an outbound email, optionally from a template.
func (h *EmailHandler) Send(w http.ResponseWriter, r *http.Request) {
	var req mail.SendRequest
	if err := decodeBody(r, &req); err != nil {
		Error(w, http.StatusBadRequest, "invalid request body")
		return
	}

	messageID, err := h.svc.Send(r.Context(), req)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			Error(w, http.StatusNotFound, "template not found")
			return
		}
		slog.Error("Failed to send email", "to", req.ToAddress, "error", err)
		Error(w, http.StatusInternalServerError, "failed to send email")
		return
	}

	JSON(w, http.StatusOK, map[string]interface{}{
		"success":    true,
		"message":    "Email sent successfully",
		"message_id": messageID,
	})
}

// Inbound accepts a raw RFC 5322 message from the email-routing worker.
func (h *EmailHandler) Inbound(w http.ResponseWriter, r *http.Request) {
	raw, err := io.ReadAll(io.LimitReader(r.Body, maxInboundSize))
	if err != nil {
		Error(w, http.StatusBadRequest, "failed to read message body")
		return
	}
	if len(raw) == 0 {
		Error(w, http.StatusBadRequest, "empty message body")
		return
	}

	email, err := h.svc.Ingest(r.Context(), raw)
	if err != nil {
		if errors.Is(err, mail.ErrDestinationNotAllowed) {
			// Mirror the routing worker: silently accept so the sender's
			// message doesn't bounce.
			JSON(w, http.StatusOK, map[string]interface{}{"success": true, "ignored": true})
			return
		}
		slog.Error("Failed to ingest inbound email", "error", err)
		Error(w, http.StatusBadRequest, "failed to process message")
		return
	}

	JSON(w, http.StatusCreated, map[string]interface{}{"success": true, "email_id": email.ID})
}

// MarkRead marks an email as read.
func (h *EmailHandler) MarkRead(w http.ResponseWriter, r *http.Request) {
	h.setFlag(w, r, h.svc.MarkRead, "Email marked as read")
}

// MarkReplied marks an email as replied.
func (h *EmailHandler) MarkReplied(w http.ResponseWriter, r *http.Request) {
	h.setFlag(w, r, h.svc.MarkReplied, "Email marked as replied")
}

// Delete soft-deletes an email.
func (h *EmailHandler) Delete(w http.ResponseWriter, r *http.Request) {
	h.setFlag(w, r, h.svc.Delete, "Email deleted successfully")
}

func (h *EmailHandler) setFlag(w http.ResponseWriter, r *http.Request, fn func(context.Context, string) error, message string) {
	id := chi.URLParam(r, "emailID")
	if err := fn(r.Context(), id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			Error(w, http.StatusNotFound, "email not found")
			return
		}
		slog.Error("Failed to update email", "email_id", id, "error", err)
		Error(w, http.StatusInternalServerError, "failed to update email")
		return
	}
	JSON(w, http.StatusOK, map[string]interface{}{"success": true, "message": message})
}

func queryInt(r *http.Request, key string, fallback int) int {
	value := r.URL.Query().Get(key)
	if value == "" {
		return fallback
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return n
}
