// Package store provides data persistence interfaces and implementations.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/beanjournal/support-console/internal/domain"
)

var (
	// ErrNotFound is returned when the requested row does not exist.
	ErrNotFound = errors.New("store: not found")

	// ErrConflict is returned when a conditional update matched no rows,
	// typically because another writer transitioned the row first.
	ErrConflict = errors.New("store: conflict")
)

// EmailQuery controls pagination, filtering and ordering of inbox listings.
type EmailQuery struct {
	Limit      int
	Offset     int
	UnreadOnly bool
	Search     string
	SortBy     string // received_at | subject | from_address
	SortOrder  string // asc | desc
}

// Repository defines the interface for persisting console data.
type Repository interface {
	// ListSessions retrieves sessions whose status is in the given set,
	// ordered by created_at descending. Messages are not populated.
	ListSessions(ctx context.Context, statuses []domain.SessionStatus) ([]*domain.Session, error)

	// GetSession retrieves a single session without its messages.
	// Returns ErrNotFound if the session does not exist.
	GetSession(ctx context.Context, id string) (*domain.Session, error)

	// CreateSession inserts a new session row.
	CreateSession(ctx context.Context, s *domain.Session) error

	// AssignAgent transitions a session from waiting to connected and records
	// the accepting agent. The update is conditional on the current status
	// being waiting; ErrConflict is returned when another agent won the race,
	// ErrNotFound when the session does not exist at all.
	AssignAgent(ctx context.Context, sessionID, agentID, agentName string) error

	// EndSession transitions a session to ended and records the end time.
	// Ending an already-ended session returns ErrConflict.
	EndSession(ctx context.Context, sessionID string, endedAt time.Time) error

	// InsertMessage appends a message row for a session.
	InsertMessage(ctx context.Context, m *domain.Message) error

	// ListMessages retrieves all messages for a session ordered by timestamp
	// ascending.
	ListMessages(ctx context.Context, sessionID string) ([]domain.Message, error)

	// SessionCounts returns the number of sessions per status.
	SessionCounts(ctx context.Context) (map[domain.SessionStatus]int64, error)

	// UpsertAgent creates or updates an agent presence row.
	UpsertAgent(ctx context.Context, a *domain.Agent) error

	// ListAgents retrieves all known agents ordered by last_seen descending.
	ListAgents(ctx context.Context) ([]*domain.Agent, error)

	// MarkStaleAgentsOffline flips is_online off for agents not seen within
	// ttl and returns the number of rows changed.
	MarkStaleAgentsOffline(ctx context.Context, ttl time.Duration) (int64, error)

	// InsertEmail stores an ingested or sent email together with its headers
	// and attachments in one transaction.
	InsertEmail(ctx context.Context, e *domain.Email) error

	// ListEmails retrieves a page of non-deleted emails plus the total count
	// matching the query.
	ListEmails(ctx context.Context, q EmailQuery) ([]*domain.Email, int64, error)

	// GetEmail retrieves one email with headers and attachments populated.
	// Returns ErrNotFound if the email does not exist or is soft-deleted.
	GetEmail(ctx context.Context, id string) (*domain.Email, error)

	// SetEmailRead marks an email as read.
	SetEmailRead(ctx context.Context, id string) error

	// SetEmailReplied marks an email as replied.
	SetEmailReplied(ctx context.Context, id string) error

	// SoftDeleteEmail flags an email as deleted without removing the row.
	SoftDeleteEmail(ctx context.Context, id string) error

	// EmailStats summarizes the inbox.
	EmailStats(ctx context.Context) (*domain.EmailStats, error)

	// GetTemplate retrieves an active outbound email template.
	GetTemplate(ctx context.Context, id string) (*domain.EmailTemplate, error)

	// Ping verifies database connectivity.
	Ping(ctx context.Context) error

	// Close closes the database connection.
	Close() error
}
