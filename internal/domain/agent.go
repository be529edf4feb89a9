package domain

import (
	"time"
)

// Agent is a staff member who handles support sessions.
type Agent struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Email     string    `json:"email,omitempty"`
	ImageURL  string    `json:"image_url,omitempty"`
	IsOnline  bool      `json:"is_online"`
	LastSeen  time.Time `json:"last_seen"`
	UpdatedAt time.Time `json:"updated_at"`
}

// StaleAfter reports whether the agent's presence row should be considered
// stale: still flagged online but not seen within ttl.
func (a *Agent) StaleAfter(ttl time.Duration, now time.Time) bool {
	return a.IsOnline && now.Sub(a.LastSeen) > ttl
}
