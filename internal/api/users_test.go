package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/beanjournal/support-console/internal/directory"
	"github.com/go-chi/chi/v5"
)

type fakeDirectory struct {
	users   map[string]*directory.User
	deleted []string
}

func (f *fakeDirectory) ListUsers(_ context.Context) ([]directory.User, error) {
	out := make([]directory.User, 0, len(f.users))
	for _, u := range f.users {
		out = append(out, *u)
	}
	return out, nil
}

func (f *fakeDirectory) GetUser(_ context.Context, userID string) (*directory.User, error) {
	u, ok := f.users[userID]
	if !ok {
		return nil, directory.ErrNotFound
	}
	return u, nil
}

func (f *fakeDirectory) UpdateUser(_ context.Context, userID string, params directory.UpdateUserParams) (*directory.User, error) {
	u, ok := f.users[userID]
	if !ok {
		return nil, directory.ErrNotFound
	}
	if params.FirstName != nil {
		u.FirstName = *params.FirstName
	}
	if params.LastName != nil {
		u.LastName = *params.LastName
	}
	return u, nil
}

func (f *fakeDirectory) DeleteUser(_ context.Context, userID string) error {
	if _, ok := f.users[userID]; !ok {
		return directory.ErrNotFound
	}
	delete(f.users, userID)
	f.deleted = append(f.deleted, userID)
	return nil
}

func (f *fakeDirectory) ListSessions(_ context.Context, userID string) ([]directory.Session, error) {
	if _, ok := f.users[userID]; !ok {
		return nil, directory.ErrNotFound
	}
	return []directory.Session{{ID: "sess_1", UserID: userID, Status: "active"}}, nil
}

func newUsersRouter(dir DirectoryClient) chi.Router {
	r := chi.NewRouter()
	NewUsersHandler(dir).RegisterRoutes(r)
	return r
}

func TestUsersList(t *testing.T) {
	dir := &fakeDirectory{users: map[string]*directory.User{
		"user_1": {ID: "user_1", FirstName: "Bea"},
	}}
	r := newUsersRouter(dir)

	req := httptest.NewRequest(http.MethodGet, "/api/users/", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", w.Code)
	}
	var users []directory.User
	if err := json.NewDecoder(w.Body).Decode(&users); err != nil {
		t.Fatalf("Failed to decode users: %v", err)
	}
	if len(users) != 1 || users[0].ID != "user_1" {
		t.Errorf("Unexpected users: %+v", users)
	}
}

func TestUsersGetNotFound(t *testing.T) {
	r := newUsersRouter(&fakeDirectory{users: map[string]*directory.User{}})

	req := httptest.NewRequest(http.MethodGet, "/api/users/missing", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Errorf("Expected 404, got %d", w.Code)
	}
}

func TestUsersUpdate(t *testing.T) {
	dir := &fakeDirectory{users: map[string]*directory.User{
		"user_1": {ID: "user_1", FirstName: "Bea"},
	}}
	r := newUsersRouter(dir)

	req := httptest.NewRequest(http.MethodPatch, "/api/users/user_1", strings.NewReader(`{"first_name":"Beatrice"}`))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var user directory.User
	_ = json.NewDecoder(w.Body).Decode(&user)
	if user.FirstName != "Beatrice" {
		t.Errorf("Expected updated first name, got %q", user.FirstName)
	}
}

func TestUsersUpdateEmptyBody(t *testing.T) {
	dir := &fakeDirectory{users: map[string]*directory.User{
		"user_1": {ID: "user_1"},
	}}
	r := newUsersRouter(dir)

	req := httptest.NewRequest(http.MethodPatch, "/api/users/user_1", strings.NewReader(`{}`))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for empty update, got %d", w.Code)
	}
}

func TestUsersDelete(t *testing.T) {
	dir := &fakeDirectory{users: map[string]*directory.User{
		"user_1": {ID: "user_1"},
	}}
	r := newUsersRouter(dir)

	req := httptest.NewRequest(http.MethodDelete, "/api/users/user_1", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusNoContent {
		t.Fatalf("Expected 204, got %d", w.Code)
	}
	if len(dir.deleted) != 1 || dir.deleted[0] != "user_1" {
		t.Errorf("Expected user_1 deleted, got %v", dir.deleted)
	}
}

func TestUsersSessions(t *testing.T) {
	dir := &fakeDirectory{users: map[string]*directory.User{
		"user_1": {ID: "user_1"},
	}}
	r := newUsersRouter(dir)

	req := httptest.NewRequest(http.MethodGet, "/api/users/user_1/sessions", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", w.Code)
	}
	var sessions []directory.Session
	_ = json.NewDecoder(w.Body).Decode(&sessions)
	if len(sessions) != 1 || sessions[0].Status != "active" {
		t.Errorf("Unexpected sessions: %+v", sessions)
	}
}

// failingDirectory simulates a provider outage.
type failingDirectory struct{}

func (failingDirectory) ListUsers(context.Context) ([]directory.User, error) {
	return nil, errors.New("provider down")
}
func (failingDirectory) GetUser(context.Context, string) (*directory.User, error) {
	return nil, errors.New("provider down")
}
func (failingDirectory) UpdateUser(context.Context, string, directory.UpdateUserParams) (*directory.User, error) {
	return nil, errors.New("provider down")
}
func (failingDirectory) DeleteUser(context.Context, string) error {
	return errors.New("provider down")
}
func (failingDirectory) ListSessions(context.Context, string) ([]directory.Session, error) {
	return nil, errors.New("provider down")
}

func TestUsersProviderOutageIsBadGateway(t *testing.T) {
	r := newUsersRouter(failingDirectory{})

	req := httptest.NewRequest(http.MethodGet, "/api/users/", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusBadGateway {
		t.Errorf("Expected 502 during outage, got %d", w.Code)
	}
}
