package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/beanjournal/support-console/internal/domain"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements Repository using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite creates a new SQLite-backed repository.
func NewSQLite(dbPath string) (Repository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	// Open database with WAL mode for better concurrency.
	dsn := dbPath + "?_journal=WAL&_sync=NORMAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	PRAGMA busy_timeout = 5000;
	CREATE TABLE IF NOT EXISTS support_agents (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		email TEXT,
		image_url TEXT,
		is_online INTEGER NOT NULL DEFAULT 0,
		last_seen INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_agents_last_seen ON support_agents(last_seen) WHERE is_online = 1;

	CREATE TABLE IF NOT EXISTS support_sessions (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		user_name TEXT,
		user_image TEXT,
		agent_id TEXT,
		agent_name TEXT,
		status TEXT NOT NULL CHECK (status IN ('waiting', 'connected', 'ended')),
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL,
		ended_at INTEGER
	);
	CREATE INDEX IF NOT EXISTS idx_sessions_status ON support_sessions(status, created_at);

	CREATE TABLE IF NOT EXISTS support_messages (
		id TEXT PRIMARY KEY,
		session_id TEXT NOT NULL,
		content TEXT NOT NULL,
		sender TEXT NOT NULL CHECK (sender IN ('user', 'agent', 'system')),
		user_id TEXT,
		agent_id TEXT,
		timestamp INTEGER NOT NULL,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_messages_session ON support_messages(session_id, timestamp);

	CREATE TABLE IF NOT EXISTS emails (
		id TEXT PRIMARY KEY,
		message_id TEXT NOT NULL,
		from_address TEXT NOT NULL,
		from_name TEXT,
		to_address TEXT NOT NULL,
		to_name TEXT,
		cc_addresses TEXT,
		bcc_addresses TEXT,
		subject TEXT,
		body_text TEXT,
		body_html TEXT,
		is_read INTEGER NOT NULL DEFAULT 0,
		is_replied INTEGER NOT NULL DEFAULT 0,
		is_deleted INTEGER NOT NULL DEFAULT 0,
		priority TEXT NOT NULL DEFAULT 'normal',
		received_at INTEGER NOT NULL,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_emails_received ON emails(received_at) WHERE is_deleted = 0;

	CREATE TABLE IF NOT EXISTS email_headers (
		id TEXT PRIMARY KEY,
		email_id TEXT NOT NULL,
		header_name TEXT NOT NULL,
		header_value TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_headers_email ON email_headers(email_id);

	CREATE TABLE IF NOT EXISTS email_attachments (
		id TEXT PRIMARY KEY,
		email_id TEXT NOT NULL,
		filename TEXT NOT NULL,
		content_type TEXT,
		size_bytes INTEGER NOT NULL DEFAULT 0,
		content_base64 TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_attachments_email ON email_attachments(email_id);

	CREATE TABLE IF NOT EXISTS email_templates (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		subject_template TEXT,
		body_template TEXT NOT NULL,
		is_active INTEGER NOT NULL DEFAULT 1,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Ping verifies database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// ListSessions retrieves sessions whose status is in the given set, newest
// first. Messages are not populated.
func (s *SQLiteStore) ListSessions(ctx context.Context, statuses []domain.SessionStatus) ([]*domain.Session, error) {
	if len(statuses) == 0 {
		return nil, nil
	}

	placeholders := make([]string, len(statuses))
	args := make([]interface{}, len(statuses))
	for i, st := range statuses {
		placeholders[i] = "?"
		args[i] = string(st)
	}

	query := `
		SELECT id, user_id, user_name, user_image, agent_id, agent_name,
		       status, created_at, ended_at
		FROM support_sessions
		WHERE status IN (` + strings.Join(placeholders, ", ") + `)
		ORDER BY created_at DESC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}
	defer rows.Close()

	var sessions []*domain.Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, sess)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sessions: %w", err)
	}
	return sessions, nil
}

// GetSession retrieves a single session without its messages.
func (s *SQLiteStore) GetSession(ctx context.Context, id string) (*domain.Session, error) {
	query := `
		SELECT id, user_id, user_name, user_image, agent_id, agent_name,
		       status, created_at, ended_at
		FROM support_sessions WHERE id = ?`

	sess, err := scanSession(s.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return sess, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanSession(row rowScanner) (*domain.Session, error) {
	var sess domain.Session
	var userName, userImage, agentID, agentName sql.NullString
	var createdAt int64
	var endedAt sql.NullInt64

	err := row.Scan(
		&sess.ID, &sess.UserID, &userName, &userImage, &agentID, &agentName,
		&sess.Status, &createdAt, &endedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan session row: %w", err)
	}

	sess.UserName = userName.String
	sess.UserImage = userImage.String
	sess.AgentID = agentID.String
	sess.AgentName = agentName.String
	sess.CreatedAt = time.Unix(createdAt, 0)
	if endedAt.Valid {
		t := time.Unix(endedAt.Int64, 0)
		sess.EndedAt = &t
	}
	return &sess, nil
}

// CreateSession inserts a new session row.
func (s *SQLiteStore) CreateSession(ctx context.Context, sess *domain.Session) error {
	query := `
	INSERT INTO support_sessions (id, user_id, user_name, user_image, agent_id, agent_name, status, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`

	now := time.Now().Unix()
	_, err := s.db.ExecContext(ctx, query,
		sess.ID, sess.UserID, nullable(sess.UserName), nullable(sess.UserImage),
		nullable(sess.AgentID), nullable(sess.AgentName), string(sess.Status),
		sess.CreatedAt.Unix(), now,
	)
	if err != nil {
		return fmt.Errorf("insert session: %w", err)
	}
	return nil
}

// AssignAgent transitions a waiting session to connected. The WHERE clause on
// status makes two agents racing for the same request resolve to exactly one
// winner; the loser gets ErrConflict.
func (s *SQLiteStore) AssignAgent(ctx context.Context, sessionID, agentID, agentName string) error {
	query := `
	UPDATE support_sessions
	SET agent_id = ?, agent_name = ?, status = 'connected', updated_at = ?
	WHERE id = ? AND status = 'waiting'`

	result, err := s.db.ExecContext(ctx, query, agentID, agentName, time.Now().Unix(), sessionID)
	if err != nil {
		return fmt.Errorf("assign agent: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if rows == 0 {
		if _, err := s.GetSession(ctx, sessionID); errors.Is(err, ErrNotFound) {
			return ErrNotFound
		}
		return ErrConflict
	}
	return nil
}

// EndSession transitions a session to ended.
func (s *SQLiteStore) EndSession(ctx context.Context, sessionID string, endedAt time.Time) error {
	query := `
	UPDATE support_sessions
	SET status = 'ended', ended_at = ?, updated_at = ?
	WHERE id = ? AND status != 'ended'`

	result, err := s.db.ExecContext(ctx, query, endedAt.Unix(), time.Now().Unix(), sessionID)
	if err != nil {
		return fmt.Errorf("end session: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if rows == 0 {
		if _, err := s.GetSession(ctx, sessionID); errors.Is(err, ErrNotFound) {
			return ErrNotFound
		}
		return ErrConflict
	}
	return nil
}

// InsertMessage appends a message row for a session.
// Timestamps are stored with millisecond precision so ordering within one
// second is preserved.
func (s *SQLiteStore) InsertMessage(ctx context.Context, m *domain.Message) error {
	query := `
	INSERT INTO support_messages (id, session_id, content, sender, user_id, agent_id, timestamp, created_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := s.db.ExecContext(ctx, query,
		m.ID, m.SessionID, m.Content, string(m.Sender),
		nullable(m.UserID), nullable(m.AgentID),
		m.Timestamp.UnixMilli(), time.Now().UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	return nil
}

// ListMessages retrieves all messages for a session ordered oldest first.
func (s *SQLiteStore) ListMessages(ctx context.Context, sessionID string) ([]domain.Message, error) {
	query := `
		SELECT id, session_id, content, sender, user_id, agent_id, timestamp
		FROM support_messages
		WHERE session_id = ?
		ORDER BY timestamp ASC`

	rows, err := s.db.QueryContext(ctx, query, sessionID)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	var messages []domain.Message
	for rows.Next() {
		var m domain.Message
		var userID, agentID sql.NullString
		var ts int64
		if err := rows.Scan(&m.ID, &m.SessionID, &m.Content, &m.Sender, &userID, &agentID, &ts); err != nil {
			return nil, fmt.Errorf("scan message row: %w", err)
		}
		m.UserID = userID.String
		m.AgentID = agentID.String
		m.Timestamp = time.UnixMilli(ts)
		messages = append(messages, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate messages: %w", err)
	}
	return messages, nil
}

// SessionCounts returns the number of sessions per status.
func (s *SQLiteStore) SessionCounts(ctx context.Context) (map[domain.SessionStatus]int64, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM support_sessions GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("query session counts: %w", err)
	}
	defer rows.Close()

	counts := make(map[domain.SessionStatus]int64)
	for rows.Next() {
		var status string
		var n int64
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("scan count row: %w", err)
		}
		counts[domain.SessionStatus(status)] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate counts: %w", err)
	}
	return counts, nil
}

// UpsertAgent creates or updates an agent presence row.
func (s *SQLiteStore) UpsertAgent(ctx context.Context, a *domain.Agent) error {
	query := `
	INSERT INTO support_agents (id, name, email, image_url, is_online, last_seen, updated_at)
	VALUES (?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		name = excluded.name,
		email = excluded.email,
		image_url = excluded.image_url,
		is_online = excluded.is_online,
		last_seen = excluded.last_seen,
		updated_at = excluded.updated_at`

	_, err := s.db.ExecContext(ctx, query,
		a.ID, a.Name, nullable(a.Email), nullable(a.ImageURL),
		boolToInt(a.IsOnline), a.LastSeen.Unix(), a.UpdatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("upsert agent: %w", err)
	}
	return nil
}

// ListAgents retrieves all known agents, most recently seen first.
func (s *SQLiteStore) ListAgents(ctx context.Context) ([]*domain.Agent, error) {
	query := `
		SELECT id, name, email, image_url, is_online, last_seen, updated_at
		FROM support_agents ORDER BY last_seen DESC`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query agents: %w", err)
	}
	defer rows.Close()

	var agents []*domain.Agent
	for rows.Next() {
		var a domain.Agent
		var email, imageURL sql.NullString
		var isOnline int
		var lastSeen, updatedAt int64
		if err := rows.Scan(&a.ID, &a.Name, &email, &imageURL, &isOnline, &lastSeen, &updatedAt); err != nil {
			return nil, fmt.Errorf("scan agent row: %w", err)
		}
		a.Email = email.String
		a.ImageURL = imageURL.String
		a.IsOnline = isOnline != 0
		a.LastSeen = time.Unix(lastSeen, 0)
		a.UpdatedAt = time.Unix(updatedAt, 0)
		agents = append(agents, &a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate agents: %w", err)
	}
	return agents, nil
}

// MarkStaleAgentsOffline flips is_online off for agents not seen within ttl.
func (s *SQLiteStore) MarkStaleAgentsOffline(ctx context.Context, ttl time.Duration) (int64, error) {
	cutoff := time.Now().Add(-ttl).Unix()
	result, err := s.db.ExecContext(ctx,
		`UPDATE support_agents SET is_online = 0, updated_at = ? WHERE is_online = 1 AND last_seen < ?`,
		time.Now().Unix(), cutoff,
	)
	if err != nil {
		return 0, fmt.Errorf("mark stale agents offline: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("get rows affected: %w", err)
	}
	return rows, nil
}

// InsertEmail stores an email with headers and attachments in one transaction.
func (s *SQLiteStore) InsertEmail(ctx context.Context, e *domain.Email) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin email insert: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // rollback after commit is a no-op

	cc, err := marshalAddresses(e.CcAddresses)
	if err != nil {
		return err
	}
	bcc, err := marshalAddresses(e.BccAddresses)
	if err != nil {
		return err
	}

	now := time.Now().Unix()
	priority := e.Priority
	if priority == "" {
		priority = domain.PriorityNormal
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO emails (id, message_id, from_address, from_name, to_address, to_name,
			cc_addresses, bcc_addresses, subject, body_text, body_html,
			is_read, is_replied, is_deleted, priority, received_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.MessageID, e.FromAddress, nullable(e.FromName), e.ToAddress, nullable(e.ToName),
		cc, bcc, nullable(e.Subject), nullable(e.BodyText), nullable(e.BodyHTML),
		boolToInt(e.IsRead), boolToInt(e.IsReplied), boolToInt(e.IsDeleted),
		string(priority), e.ReceivedAt.Unix(), now, now,
	)
	if err != nil {
		return fmt.Errorf("insert email: %w", err)
	}

	for _, h := range e.Headers {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO email_headers (id, email_id, header_name, header_value) VALUES (?, ?, ?, ?)`,
			h.ID, e.ID, h.Name, h.Value,
		); err != nil {
			return fmt.Errorf("insert email header %q: %w", h.Name, err)
		}
	}

	for _, a := range e.Attachments {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO email_attachments (id, email_id, filename, content_type, size_bytes, content_base64)
			 VALUES (?, ?, ?, ?, ?, ?)`,
			a.ID, e.ID, a.Filename, nullable(a.ContentType), a.SizeBytes, nullable(a.ContentBase64),
		); err != nil {
			return fmt.Errorf("insert email attachment %q: %w", a.Filename, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit email insert: %w", err)
	}
	return nil
}

var emailSortColumns = map[string]string{
	"received_at":  "received_at",
	"subject":      "subject",
	"from_address": "from_address",
}

// ListEmails retrieves a page of non-deleted emails plus the total count.
func (s *SQLiteStore) ListEmails(ctx context.Context, q EmailQuery) ([]*domain.Email, int64, error) {
	where := []string{"is_deleted = 0"}
	var args []interface{}

	if q.UnreadOnly {
		where = append(where, "is_read = 0")
	}
	if q.Search != "" {
		where = append(where, "(subject LIKE ? OR from_address LIKE ? OR body_text LIKE ?)")
		pattern := "%" + q.Search + "%"
		args = append(args, pattern, pattern, pattern)
	}
	whereClause := strings.Join(where, " AND ")

	var total int64
	countQuery := `SELECT COUNT(*) FROM emails WHERE ` + whereClause
	if err := s.db.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count emails: %w", err)
	}

	sortCol, ok := emailSortColumns[q.SortBy]
	if !ok {
		sortCol = "received_at"
	}
	order := "DESC"
	if strings.EqualFold(q.SortOrder, "asc") {
		order = "ASC"
	}

	limit := q.Limit
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	offset := q.Offset
	if offset < 0 {
		offset = 0
	}

	query := `
		SELECT id, message_id, from_address, from_name, to_address, to_name,
		       cc_addresses, bcc_addresses, subject, body_text, body_html,
		       is_read, is_replied, is_deleted, priority, received_at, created_at, updated_at
		FROM emails WHERE ` + whereClause +
		` ORDER BY ` + sortCol + ` ` + order + ` LIMIT ? OFFSET ?`
	args = append(args, limit, offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("query emails: %w", err)
	}
	defer rows.Close()

	var emails []*domain.Email
	for rows.Next() {
		e, err := scanEmail(rows)
		if err != nil {
			return nil, 0, err
		}
		emails = append(emails, e)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate emails: %w", err)
	}
	return emails, total, nil
}

func scanEmail(row rowScanner) (*domain.Email, error) {
	var e domain.Email
	var fromName, toName, cc, bcc, subject, bodyText, bodyHTML sql.NullString
	var isRead, isReplied, isDeleted int
	var receivedAt, createdAt, updatedAt int64

	err := row.Scan(
		&e.ID, &e.MessageID, &e.FromAddress, &fromName, &e.ToAddress, &toName,
		&cc, &bcc, &subject, &bodyText, &bodyHTML,
		&isRead, &isReplied, &isDeleted, &e.Priority, &receivedAt, &createdAt, &updatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan email row: %w", err)
	}

	e.FromName = fromName.String
	e.ToName = toName.String
	e.Subject = subject.String
	e.BodyText = bodyText.String
	e.BodyHTML = bodyHTML.String
	e.IsRead = isRead != 0
	e.IsReplied = isReplied != 0
	e.IsDeleted = isDeleted != 0
	e.ReceivedAt = time.Unix(receivedAt, 0)
	e.CreatedAt = time.Unix(createdAt, 0)
	e.UpdatedAt = time.Unix(updatedAt, 0)

	if e.CcAddresses, err = unmarshalAddresses(cc.String); err != nil {
		return nil, err
	}
	if e.BccAddresses, err = unmarshalAddresses(bcc.String); err != nil {
		return nil, err
	}
	return &e, nil
}

// GetEmail retrieves one email with headers and attachments populated.
func (s *SQLiteStore) GetEmail(ctx context.Context, id string) (*domain.Email, error) {
	query := `
		SELECT id, message_id, from_address, from_name, to_address, to_name,
		       cc_addresses, bcc_addresses, subject, body_text, body_html,
		       is_read, is_replied, is_deleted, priority, received_at, created_at, updated_at
		FROM emails WHERE id = ? AND is_deleted = 0`

	e, err := scanEmail(s.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	headerRows, err := s.db.QueryContext(ctx,
		`SELECT id, email_id, header_name, header_value FROM email_headers WHERE email_id = ?`, id)
	if err != nil {
		return nil, fmt.Errorf("query email headers: %w", err)
	}
	defer headerRows.Close()
	for headerRows.Next() {
		var h domain.EmailHeader
		if err := headerRows.Scan(&h.ID, &h.EmailID, &h.Name, &h.Value); err != nil {
			return nil, fmt.Errorf("scan header row: %w", err)
		}
		e.Headers = append(e.Headers, h)
	}
	if err := headerRows.Err(); err != nil {
		return nil, fmt.Errorf("iterate headers: %w", err)
	}

	attachRows, err := s.db.QueryContext(ctx,
		`SELECT id, email_id, filename, content_type, size_bytes, content_base64 FROM email_attachments WHERE email_id = ?`, id)
	if err != nil {
		return nil, fmt.Errorf("query email attachments: %w", err)
	}
	defer attachRows.Close()
	for attachRows.Next() {
		var a domain.EmailAttachment
		var contentType, content sql.NullString
		if err := attachRows.Scan(&a.ID, &a.EmailID, &a.Filename, &contentType, &a.SizeBytes, &content); err != nil {
			return nil, fmt.Errorf("scan attachment row: %w", err)
		}
		a.ContentType = contentType.String
		a.ContentBase64 = content.String
		e.Attachments = append(e.Attachments, a)
	}
	if err := attachRows.Err(); err != nil {
		return nil, fmt.Errorf("iterate attachments: %w", err)
	}

	return e, nil
}

func (s *SQLiteStore) setEmailFlag(ctx context.Context, id, column string) error {
	//nolint:gosec // column is a compile-time constant from the callers below
	query := `UPDATE emails SET ` + column + ` = 1, updated_at = ? WHERE id = ? AND is_deleted = 0`
	result, err := s.db.ExecContext(ctx, query, time.Now().Unix(), id)
	if err != nil {
		return fmt.Errorf("update email %s: %w", column, err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

// SetEmailRead marks an email as read.
func (s *SQLiteStore) SetEmailRead(ctx context.Context, id string) error {
	return s.setEmailFlag(ctx, id, "is_read")
}

// SetEmailReplied marks an email as replied.
func (s *SQLiteStore) SetEmailReplied(ctx context.Context, id string) error {
	return s.setEmailFlag(ctx, id, "is_replied")
}

// SoftDeleteEmail flags an email as deleted without removing the row.
func (s *SQLiteStore) SoftDeleteEmail(ctx context.Context, id string) error {
	return s.setEmailFlag(ctx, id, "is_deleted")
}

// EmailStats summarizes the inbox.
func (s *SQLiteStore) EmailStats(ctx context.Context) (*domain.EmailStats, error) {
	now := time.Now()
	dayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location()).Unix()
	weekStart := now.AddDate(0, 0, -7).Unix()

	query := `
		SELECT
			COUNT(*) FILTER (WHERE is_deleted = 0),
			COUNT(*) FILTER (WHERE is_deleted = 0 AND is_read = 0),
			COUNT(*) FILTER (WHERE is_deleted = 0 AND is_replied = 1),
			COUNT(*) FILTER (WHERE is_deleted = 1),
			COUNT(*) FILTER (WHERE is_deleted = 0 AND received_at >= ?),
			COUNT(*) FILTER (WHERE is_deleted = 0 AND received_at >= ?)
		FROM emails`

	var stats domain.EmailStats
	err := s.db.QueryRowContext(ctx, query, dayStart, weekStart).Scan(
		&stats.TotalEmails, &stats.UnreadEmails, &stats.RepliedEmails,
		&stats.DeletedEmails, &stats.EmailsToday, &stats.EmailsThisWeek,
	)
	if err != nil {
		return nil, fmt.Errorf("query email stats: %w", err)
	}
	return &stats, nil
}

// GetTemplate retrieves an active outbound email template.
func (s *SQLiteStore) GetTemplate(ctx context.Context, id string) (*domain.EmailTemplate, error) {
	query := `
		SELECT id, name, subject_template, body_template, is_active, created_at, updated_at
		FROM email_templates WHERE id = ? AND is_active = 1`

	var t domain.EmailTemplate
	var subject sql.NullString
	var isActive int
	var createdAt, updatedAt int64
	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&t.ID, &t.Name, &subject, &t.BodyTemplate, &isActive, &createdAt, &updatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan template row: %w", err)
	}

	t.SubjectTemplate = subject.String
	t.IsActive = isActive != 0
	t.CreatedAt = time.Unix(createdAt, 0)
	t.UpdatedAt = time.Unix(updatedAt, 0)
	return &t, nil
}

func nullable(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func marshalAddresses(addrs []string) (interface{}, error) {
	if len(addrs) == 0 {
		return nil, nil
	}
	data, err := json.Marshal(addrs)
	if err != nil {
		return nil, fmt.Errorf("marshal addresses: %w", err)
	}
	return string(data), nil
}

func unmarshalAddresses(raw string) ([]string, error) {
	if raw == "" {
		return nil, nil
	}
	var addrs []string
	if err := json.Unmarshal([]byte(raw), &addrs); err != nil {
		return nil, fmt.Errorf("unmarshal addresses: %w", err)
	}
	return addrs, nil
}
