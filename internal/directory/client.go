// Package directory is a REST client for the hosted identity provider that
// owns the product's user accounts and staff sign-ins.
package directory

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/beanjournal/support-console/internal/identity"
)

// ErrNotFound is returned when the provider reports an unknown user or
// session.
var ErrNotFound = errors.New("directory: not found")

// User is a directory user record (end users and staff alike).
type User struct {
	ID             string         `json:"id"`
	FirstName      string         `json:"first_name,omitempty"`
	LastName       string         `json:"last_name,omitempty"`
	FullName       string         `json:"full_name,omitempty"`
	ImageURL       string         `json:"image_url,omitempty"`
	EmailAddresses []EmailAddress `json:"email_addresses,omitempty"`
	PublicMetadata map[string]any `json:"public_metadata,omitempty"`
	Banned         bool           `json:"banned"`
	CreatedAt      int64          `json:"created_at"`
	LastSignInAt   *int64         `json:"last_sign_in_at,omitempty"`
}

// PrimaryEmail returns the first email address, or "".
func (u *User) PrimaryEmail() string {
	if len(u.EmailAddresses) == 0 {
		return ""
	}
	return u.EmailAddresses[0].EmailAddress
}

// DisplayName resolves the best available display name.
func (u *User) DisplayName() string {
	if u.FullName != "" {
		return u.FullName
	}
	if u.FirstName != "" {
		if u.LastName != "" {
			return u.FirstName + " " + u.LastName
		}
		return u.FirstName
	}
	return u.ID
}

// EmailAddress is one address attached to a user.
type EmailAddress struct {
	ID           string `json:"id"`
	EmailAddress string `json:"email_address"`
}

// Session is one sign-in session of a directory user.
type Session struct {
	ID           string `json:"id"`
	UserID       string `json:"user_id"`
	Status       string `json:"status"`
	LastActiveAt int64  `json:"last_active_at"`
	ExpireAt     int64  `json:"expire_at"`
	CreatedAt    int64  `json:"created_at"`
}

// UpdateUserParams carries the mutable user fields. Nil pointers are omitted
// from the request so the provider leaves them unchanged.
type UpdateUserParams struct {
	FirstName      *string        `json:"first_name,omitempty"`
	LastName       *string        `json:"last_name,omitempty"`
	PublicMetadata map[string]any `json:"public_metadata,omitempty"`
}

// Empty reports whether the update carries no changes.
func (p *UpdateUserParams) Empty() bool {
	return p.FirstName == nil && p.LastName == nil && len(p.PublicMetadata) == 0
}

// Client talks to the identity provider's REST API with a secret key.
type Client struct {
	baseURL   string
	secretKey string
	http      *http.Client
}

// NewClient creates a directory client. baseURL is the provider API root,
// secretKey the server-side key (never the publishable one).
func NewClient(baseURL, secretKey string) *Client {
	return &Client{
		baseURL:   baseURL,
		secretKey: secretKey,
		http:      &http.Client{Timeout: 15 * time.Second},
	}
}

type apiError struct {
	Errors []struct {
		Message     string `json:"message"`
		LongMessage string `json:"long_message,omitempty"`
		Code        string `json:"code,omitempty"`
	} `json:"errors"`
}

func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request body: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.secretKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return ErrNotFound
	}
	if resp.StatusCode >= 400 {
		var apiErr apiError
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
		if json.Unmarshal(data, &apiErr) == nil && len(apiErr.Errors) > 0 {
			return fmt.Errorf("%s %s: %s (status %d)", method, path, apiErr.Errors[0].Message, resp.StatusCode)
		}
		return fmt.Errorf("%s %s: status %d", method, path, resp.StatusCode)
	}

	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// ListUsers retrieves all directory users.
func (c *Client) ListUsers(ctx context.Context) ([]User, error) {
	var users []User
	if err := c.do(ctx, http.MethodGet, "/users", nil, &users); err != nil {
		return nil, err
	}
	return users, nil
}

// GetUser retrieves one user by id.
func (c *Client) GetUser(ctx context.Context, userID string) (*User, error) {
	var user User
	if err := c.do(ctx, http.MethodGet, "/users/"+userID, nil, &user); err != nil {
		return nil, err
	}
	return &user, nil
}

// UpdateUser patches mutable fields of a user.
func (c *Client) UpdateUser(ctx context.Context, userID string, params UpdateUserParams) (*User, error) {
	var user User
	if err := c.do(ctx, http.MethodPatch, "/users/"+userID, params, &user); err != nil {
		return nil, err
	}
	return &user, nil
}

// DeleteUser removes a user from the directory.
func (c *Client) DeleteUser(ctx context.Context, userID string) error {
	return c.do(ctx, http.MethodDelete, "/users/"+userID, nil, nil)
}

// ListSessions retrieves a user's sign-in sessions.
func (c *Client) ListSessions(ctx context.Context, userID string) ([]Session, error) {
	var sessions []Session
	if err := c.do(ctx, http.MethodGet, "/users/"+userID+"/sessions", nil, &sessions); err != nil {
		return nil, err
	}
	return sessions, nil
}

// VerifyToken checks a staff session token and resolves the identity behind
// it. Implements identity.TokenVerifier.
func (c *Client) VerifyToken(ctx context.Context, token string) (*identity.Identity, error) {
	var user User
	body := map[string]string{"token": token}
	if err := c.do(ctx, http.MethodPost, "/tokens/verify", body, &user); err != nil {
		return nil, err
	}
	return &identity.Identity{
		ID:       user.ID,
		Name:     user.DisplayName(),
		Email:    user.PrimaryEmail(),
		ImageURL: user.ImageURL,
	}, nil
}
