package directory

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient(srv.URL, "sk_test_key")
}

func TestGetUser(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/users/user_1" {
			t.Errorf("Unexpected path: %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer sk_test_key" {
			t.Errorf("Unexpected auth header: %q", got)
		}
		_ = json.NewEncoder(w).Encode(User{
			ID:        "user_1",
			FirstName: "Bea",
			LastName:  "User",
			EmailAddresses: []EmailAddress{
				{ID: "eml_1", EmailAddress: "bea@example.com"},
			},
		})
	})

	user, err := client.GetUser(context.Background(), "user_1")
	if err != nil {
		t.Fatalf("GetUser failed: %v", err)
	}
	if user.DisplayName() != "Bea User" {
		t.Errorf("Unexpected display name: %q", user.DisplayName())
	}
	if user.PrimaryEmail() != "bea@example.com" {
		t.Errorf("Unexpected primary email: %q", user.PrimaryEmail())
	}
}

func TestGetUserNotFound(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	_, err := client.GetUser(context.Background(), "missing")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}

func TestProviderErrorMessageSurfaces(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		_, _ = w.Write([]byte(`{"errors":[{"message":"first_name is too long","code":"form_param"}]}`))
	})

	_, err := client.UpdateUser(context.Background(), "user_1", UpdateUserParams{})
	if err == nil || !strings.Contains(err.Error(), "first_name is too long") {
		t.Errorf("Expected provider message in error, got %v", err)
	}
}

func TestUpdateUserOmitsNilFields(t *testing.T) {
	var body map[string]any
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPatch {
			t.Errorf("Expected PATCH, got %s", r.Method)
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("Failed to decode body: %v", err)
		}
		_ = json.NewEncoder(w).Encode(User{ID: "user_1"})
	})

	first := "Bea"
	_, err := client.UpdateUser(context.Background(), "user_1", UpdateUserParams{FirstName: &first})
	if err != nil {
		t.Fatalf("UpdateUser failed: %v", err)
	}
	if body["first_name"] != "Bea" {
		t.Errorf("Expected first_name in body, got %v", body)
	}
	if _, present := body["last_name"]; present {
		t.Errorf("Expected nil last_name to be omitted, got %v", body)
	}
}

func TestDeleteUser(t *testing.T) {
	var method, path string
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		method, path = r.Method, r.URL.Path
		w.WriteHeader(http.StatusNoContent)
	})

	if err := client.DeleteUser(context.Background(), "user_1"); err != nil {
		t.Fatalf("DeleteUser failed: %v", err)
	}
	if method != http.MethodDelete || path != "/users/user_1" {
		t.Errorf("Unexpected request: %s %s", method, path)
	}
}

func TestListSessions(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/users/user_1/sessions" {
			t.Errorf("Unexpected path: %s", r.URL.Path)
		}
		_ = json.NewEncoder(w).Encode([]Session{
			{ID: "sess_1", UserID: "user_1", Status: "active"},
		})
	})

	sessions, err := client.ListSessions(context.Background(), "user_1")
	if err != nil {
		t.Fatalf("ListSessions failed: %v", err)
	}
	if len(sessions) != 1 || sessions[0].Status != "active" {
		t.Errorf("Unexpected sessions: %+v", sessions)
	}
}

func TestVerifyToken(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/tokens/verify" || r.Method != http.MethodPost {
			t.Errorf("Unexpected request: %s %s", r.Method, r.URL.Path)
		}
		var body map[string]string
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body["token"] != "tok_abc" {
			t.Errorf("Unexpected token: %q", body["token"])
		}
		_ = json.NewEncoder(w).Encode(User{
			ID:       "agent_1",
			FullName: "Alex Agent",
			EmailAddresses: []EmailAddress{
				{EmailAddress: "alex@beanjournal.site"},
			},
		})
	})

	id, err := client.VerifyToken(context.Background(), "tok_abc")
	if err != nil {
		t.Fatalf("VerifyToken failed: %v", err)
	}
	if id.ID != "agent_1" || id.Name != "Alex Agent" || id.Email != "alex@beanjournal.site" {
		t.Errorf("Unexpected identity: %+v", id)
	}
}

func TestVerifyTokenRejected(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"errors":[{"message":"token expired"}]}`))
	})

	if _, err := client.VerifyToken(context.Background(), "tok_old"); err == nil {
		t.Error("Expected error for rejected token")
	}
}

func TestDisplayNameFallbacks(t *testing.T) {
	cases := []struct {
		user User
		want string
	}{
		{User{ID: "u1", FullName: "Full Name", FirstName: "F"}, "Full Name"},
		{User{ID: "u1", FirstName: "First", LastName: "Last"}, "First Last"},
		{User{ID: "u1", FirstName: "Solo"}, "Solo"},
		{User{ID: "u1"}, "u1"},
	}
	for _, tc := range cases {
		if got := tc.user.DisplayName(); got != tc.want {
			t.Errorf("DisplayName(%+v) = %q, want %q", tc.user, got, tc.want)
		}
	}
}
