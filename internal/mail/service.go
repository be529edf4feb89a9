package mail

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/beanjournal/support-console/internal/domain"
	"github.com/beanjournal/support-console/internal/store"
)

// ErrDestinationNotAllowed is returned when an inbound message targets an
// address outside the configured destination list.
var ErrDestinationNotAllowed = errors.New("mail: destination not allowed")

// Sender delivers outbound email through the hosted email API.
type Sender interface {
	Send(ctx context.Context, msg OutboundMessage) (messageID string, err error)
}

// OutboundMessage is one email handed to the provider.
type OutboundMessage struct {
	To       string
	Subject  string
	BodyText string
	BodyHTML string
}

// SendRequest is an outbound send as submitted by the console. Either a
// literal body or a template id must be present.
type SendRequest struct {
	ToAddress         string            `json:"to_address"`
	Subject           string            `json:"subject"`
	BodyText          string            `json:"body_text,omitempty"`
	BodyHTML          string            `json:"body_html,omitempty"`
	ReplyToEmailID    string            `json:"reply_to_email_id,omitempty"`
	TemplateID        string            `json:"template_id,omitempty"`
	TemplateVariables map[string]string `json:"template_variables,omitempty"`
}

// Validate checks the request carries enough to send.
func (r *SendRequest) Validate() error {
	if r.ToAddress == "" || r.Subject == "" {
		return fmt.Errorf("to_address and subject are required")
	}
	if r.BodyText == "" && r.BodyHTML == "" && r.TemplateID == "" {
		return fmt.Errorf("either body_text/body_html or template_id is required")
	}
	return nil
}

// Service manages the support inbox: ingestion, listing and outbound sends.
type Service struct {
	repo    store.Repository
	sender  Sender
	allowed []string
}

// NewService creates the inbox service. allowedDestinations limits which
// addresses inbound mail may target; empty means accept everything.
func NewService(repo store.Repository, sender Sender, allowedDestinations []string) *Service {
	allowed := make([]string, 0, len(allowedDestinations))
	for _, a := range allowedDestinations {
		if trimmed := strings.TrimSpace(a); trimmed != "" {
			allowed = append(allowed, strings.ToLower(trimmed))
		}
	}
	return &Service{repo: repo, sender: sender, allowed: allowed}
}

func (s *Service) destinationAllowed(address string) bool {
	if len(s.allowed) == 0 {
		return true
	}
	address = strings.ToLower(address)
	for _, a := range s.allowed {
		if a == address {
			return true
		}
	}
	return false
}

// Ingest parses a raw inbound message and persists it with headers and
// attachments. Messages to non-allowed destinations are rejected.
func (s *Service) Ingest(ctx context.Context, raw []byte) (*domain.Email, error) {
	email, err := ParseRaw(raw)
	if err != nil {
		return nil, fmt.Errorf("parse inbound email: %w", err)
	}

	if !s.destinationAllowed(email.ToAddress) {
		slog.Info("Ignoring email to non-allowed destination", "to", email.ToAddress)
		return nil, ErrDestinationNotAllowed
	}

	if err := s.repo.InsertEmail(ctx, email); err != nil {
		return nil, fmt.Errorf("store inbound email: %w", err)
	}

	slog.Info("Ingested email", "email_id", email.ID, "from", email.FromAddress, "to", email.ToAddress)
	return email, nil
}

// List returns a page of inbox emails plus the total matching count.
func (s *Service) List(ctx context.Context, q store.EmailQuery) ([]*domain.Email, int64, error) {
	return s.repo.ListEmails(ctx, q)
}

// Get returns one email with headers and attachments.
func (s *Service) Get(ctx context.Context, id string) (*domain.Email, error) {
	return s.repo.GetEmail(ctx, id)
}

// MarkRead marks an email as read.
func (s *Service) MarkRead(ctx context.Context, id string) error {
	return s.repo.SetEmailRead(ctx, id)
}

// MarkReplied marks an email as replied.
func (s *Service) MarkReplied(ctx context.Context, id string) error {
	return s.repo.SetEmailReplied(ctx, id)
}

// Delete soft-deletes an email.
func (s *Service) Delete(ctx context.Context, id string) error {
	return s.repo.SoftDeleteEmail(ctx, id)
}

// Stats summarizes the inbox.
func (s *Service) Stats(ctx context.Context) (*domain.EmailStats, error) {
	return s.repo.EmailStats(ctx)
}

// Send delivers an email through the provider, resolving a template when one
// is referenced, and flags the replied-to inbox message.
func (s *Service) Send(ctx context.Context, req SendRequest) (string, error) {
	if err := req.Validate(); err != nil {
		return "", err
	}

	subject, bodyText, bodyHTML := req.Subject, req.BodyText, req.BodyHTML
	if req.TemplateID != "" {
		tmpl, err := s.repo.GetTemplate(ctx, req.TemplateID)
		if err != nil {
			return "", fmt.Errorf("resolve template %s: %w", req.TemplateID, err)
		}
		bodyText = renderTemplate(tmpl.BodyTemplate, req.TemplateVariables)
		if tmpl.SubjectTemplate != "" {
			subject = renderTemplate(tmpl.SubjectTemplate, req.TemplateVariables)
		}
	}

	messageID, err := s.sender.Send(ctx, OutboundMessage{
		To:       req.ToAddress,
		Subject:  subject,
		BodyText: bodyText,
		BodyHTML: bodyHTML,
	})
	if err != nil {
		return "", fmt.Errorf("send email: %w", err)
	}

	if req.ReplyToEmailID != "" {
		if err := s.repo.SetEmailReplied(ctx, req.ReplyToEmailID); err != nil {
			slog.Error("Failed to flag replied email", "email_id", req.ReplyToEmailID, "error", err)
		}
	}

	slog.Info("Sent email", "to", req.ToAddress, "message_id", messageID)
	return messageID, nil
}

// renderTemplate substitutes {{name}} placeholders with their values.
func renderTemplate(tmpl string, vars map[string]string) string {
	if len(vars) == 0 {
		return tmpl
	}
	pairs := make([]string, 0, len(vars)*2)
	for name, value := range vars {
		pairs = append(pairs, "{{"+name+"}}", value)
	}
	return strings.NewReplacer(pairs...).Replace(tmpl)
}
