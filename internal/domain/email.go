package domain

import (
	"time"
)

// EmailPriority classifies inbox triage priority.
type EmailPriority string

const (
	PriorityLow    EmailPriority = "low"
	PriorityNormal EmailPriority = "normal"
	PriorityHigh   EmailPriority = "high"
	PriorityUrgent EmailPriority = "urgent"
)

// Email is one message in the support inbox, ingested from the email-routing
// worker or recorded as a sent reply.
type Email struct {
	ID           string        `json:"id"`
	MessageID    string        `json:"message_id"`
	FromAddress  string        `json:"from_address"`
	FromName     string        `json:"from_name,omitempty"`
	ToAddress    string        `json:"to_address"`
	ToName       string        `json:"to_name,omitempty"`
	CcAddresses  []string      `json:"cc_addresses,omitempty"`
	BccAddresses []string      `json:"bcc_addresses,omitempty"`
	Subject      string        `json:"subject,omitempty"`
	BodyText     string        `json:"body_text,omitempty"`
	BodyHTML     string        `json:"body_html,omitempty"`
	IsRead       bool          `json:"is_read"`
	IsReplied    bool          `json:"is_replied"`
	IsDeleted    bool          `json:"is_deleted"`
	Priority     EmailPriority `json:"priority"`
	ReceivedAt   time.Time     `json:"received_at"`
	CreatedAt    time.Time     `json:"created_at"`
	UpdatedAt    time.Time     `json:"updated_at"`

	Headers     []EmailHeader     `json:"headers,omitempty"`
	Attachments []EmailAttachment `json:"attachments,omitempty"`
}

// EmailHeader is one raw header captured at ingestion.
type EmailHeader struct {
	ID      string `json:"id"`
	EmailID string `json:"email_id"`
	Name    string `json:"header_name"`
	Value   string `json:"header_value"`
}

// EmailAttachment is attachment metadata captured at ingestion. Content is
// stored inline as base64; large attachments keep only metadata.
type EmailAttachment struct {
	ID            string `json:"id"`
	EmailID       string `json:"email_id"`
	Filename      string `json:"filename"`
	ContentType   string `json:"content_type,omitempty"`
	SizeBytes     int64  `json:"size_bytes"`
	ContentBase64 string `json:"content_base64,omitempty"`
}

// EmailTemplate is a reusable outbound email body with {{variable}}
// placeholders.
type EmailTemplate struct {
	ID              string    `json:"id"`
	Name            string    `json:"name"`
	SubjectTemplate string    `json:"subject_template,omitempty"`
	BodyTemplate    string    `json:"body_template"`
	IsActive        bool      `json:"is_active"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// EmailStats summarizes the inbox for the dashboard cards.
type EmailStats struct {
	TotalEmails    int64 `json:"total_emails"`
	UnreadEmails   int64 `json:"unread_emails"`
	RepliedEmails  int64 `json:"replied_emails"`
	DeletedEmails  int64 `json:"deleted_emails"`
	EmailsToday    int64 `json:"emails_today"`
	EmailsThisWeek int64 `json:"emails_this_week"`
}
