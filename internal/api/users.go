package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/beanjournal/support-console/internal/directory"
	"github.com/go-chi/chi/v5"
)

// DirectoryClient is the slice of the identity provider the users API needs.
type DirectoryClient interface {
	ListUsers(ctx context.Context) ([]directory.User, error)
	GetUser(ctx context.Context, userID string) (*directory.User, error)
	UpdateUser(ctx context.Context, userID string, params directory.UpdateUserParams) (*directory.User, error)
	DeleteUser(ctx context.Context, userID string) error
	ListSessions(ctx context.Context, userID string) ([]directory.Session, error)
}

// UsersHandler proxies user management to the identity provider.
type UsersHandler struct {
	dir DirectoryClient
}

// NewUsersHandler creates a users handler.
func NewUsersHandler(dir DirectoryClient) *UsersHandler {
	return &UsersHandler{dir: dir}
}

// RegisterRoutes registers user management routes.
func (h *UsersHandler) RegisterRoutes(r chi.Router) {
	r.Route("/api/users", func(r chi.Router) {
		r.Get("/", h.List)
		r.Get("/{userID}", h.Get)
		r.Patch("/{userID}", h.Update)
		r.Delete("/{userID}", h.Delete)
		r.Get("/{userID}/sessions", h.Sessions)
	})
}

// List returns all directory users.
func (h *UsersHandler) List(w http.ResponseWriter, r *http.Request) {
	users, err := h.dir.ListUsers(r.Context())
	if err != nil {
		slog.Error("Failed to list users", "error", err)
		Error(w, http.StatusBadGateway, "failed to fetch users")
		return
	}
	JSON(w, http.StatusOK, users)
}

// Get returns a single user.
func (h *UsersHandler) Get(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	user, err := h.dir.GetUser(r.Context(), userID)
	if err != nil {
		if errors.Is(err, directory.ErrNotFound) {
			Error(w, http.StatusNotFound, "user not found")
			return
		}
		slog.Error("Failed to fetch user", "user_id", userID, "error", err)
		Error(w, http.StatusBadGateway, "failed to fetch user")
		return
	}
	JSON(w, http.StatusOK, user)
}

// Update patches a user's mutable fields.
func (h *UsersHandler) Update(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")

	var params directory.UpdateUserParams
	if err := decodeBody(r, &params); err != nil {
		Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if params.Empty() {
		Error(w, http.StatusBadRequest, "request body cannot be empty for update")
		return
	}

	user, err := h.dir.UpdateUser(r.Context(), userID, params)
	if err != nil {
		if errors.Is(err, directory.ErrNotFound) {
			Error(w, http.StatusNotFound, "user not found")
			return
		}
		slog.Error("Failed to update user", "user_id", userID, "error", err)
		Error(w, http.StatusBadGateway, "failed to update user")
		return
	}
	JSON(w, http.StatusOK, user)
}

// Delete removes a user from the directory.
func (h *UsersHandler) Delete(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	if err := h.dir.DeleteUser(r.Context(), userID); err != nil {
		if errors.Is(err, directory.ErrNotFound) {
			Error(w, http.StatusNotFound, "user not found")
			return
		}
		slog.Error("Failed to delete user", "user_id", userID, "error", err)
		Error(w, http.StatusBadGateway, "failed to delete user")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Sessions returns a user's sign-in sessions.
func (h *UsersHandler) Sessions(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	sessions, err := h.dir.ListSessions(r.Context(), userID)
	if err != nil {
		if errors.Is(err, directory.ErrNotFound) {
			Error(w, http.StatusNotFound, "user not found")
			return
		}
		slog.Error("Failed to list user sessions", "user_id", userID, "error", err)
		Error(w, http.StatusBadGateway, "failed to fetch user sessions")
		return
	}
	JSON(w, http.StatusOK, sessions)
}
