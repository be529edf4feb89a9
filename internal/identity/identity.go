// Package identity resolves the staff member behind each request.
package identity

import (
	"context"
	"net/http"
	"strings"
)

// Identity is a verified staff member.
type Identity struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Email    string `json:"email,omitempty"`
	ImageURL string `json:"image_url,omitempty"`
}

// TokenVerifier checks a bearer token with the identity provider and returns
// the staff identity it belongs to.
type TokenVerifier interface {
	VerifyToken(ctx context.Context, token string) (*Identity, error)
}

type contextKey int

const identityKey contextKey = iota

// FromContext extracts the verified identity from the request context.
func FromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(identityKey).(Identity)
	return id, ok
}

// WithIdentity returns a context carrying the identity. Exported for tests.
func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityKey, id)
}

// devIdentity is injected when no token is present in development mode.
var devIdentity = Identity{
	ID:   "agent_dev",
	Name: "Dev Agent",
}

func bearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if !strings.HasPrefix(auth, prefix) {
		return ""
	}
	return strings.TrimSpace(auth[len(prefix):])
}

// Middleware verifies the request's bearer token through the identity
// provider and injects the resulting Identity. In development an absent token
// falls back to a local dev identity; in production it is a 401.
func Middleware(verifier TokenVerifier, isDev bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := bearerToken(r)
			if token == "" {
				if isDev {
					next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), devIdentity)))
					return
				}
				http.Error(w, `{"error":"missing bearer token"}`, http.StatusUnauthorized)
				return
			}

			id, err := verifier.VerifyToken(r.Context(), token)
			if err != nil {
				http.Error(w, `{"error":"invalid bearer token"}`, http.StatusUnauthorized)
				return
			}

			next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), *id)))
		})
	}
}
