// Package mail ingests inbound support email and manages the shared inbox.
package mail

import (
	"encoding/base64"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"mime/quotedprintable"
	"net/mail"
	"strings"
	"time"

	"github.com/beanjournal/support-console/internal/domain"
	"github.com/google/uuid"
)

// maxInlineAttachment bounds how much attachment content is stored inline.
// Larger attachments keep metadata only.
const maxInlineAttachment = 2 << 20 // 2 MiB

// ParseRaw parses a raw RFC 5322 message as delivered by the email-routing
// worker into an Email ready for persistence.
func ParseRaw(raw []byte) (*domain.Email, error) {
	msg, err := mail.ReadMessage(strings.NewReader(string(raw)))
	if err != nil {
		return nil, fmt.Errorf("read message: %w", err)
	}

	email := &domain.Email{
		ID:         uuid.NewString(),
		Subject:    decodeHeader(msg.Header.Get("Subject")),
		Priority:   domain.PriorityNormal,
		ReceivedAt: time.Now(),
	}
	if email.Subject == "" {
		email.Subject = "(No Subject)"
	}

	email.MessageID = strings.Trim(msg.Header.Get("Message-Id"), "<>")
	if email.MessageID == "" {
		email.MessageID = "ingest-" + uuid.NewString()
	}

	if date, err := msg.Header.Date(); err == nil {
		email.ReceivedAt = date
	}

	email.FromAddress, email.FromName = parseAddressHeader(msg.Header.Get("From"))
	email.ToAddress, email.ToName = parseAddressHeader(msg.Header.Get("To"))
	if email.FromAddress == "" || email.ToAddress == "" {
		return nil, fmt.Errorf("message missing From or To address")
	}
	email.CcAddresses = parseAddressList(msg.Header.Get("Cc"))
	email.BccAddresses = parseAddressList(msg.Header.Get("Bcc"))

	for name, values := range msg.Header {
		for _, value := range values {
			email.Headers = append(email.Headers, domain.EmailHeader{
				ID:      uuid.NewString(),
				EmailID: email.ID,
				Name:    strings.ToLower(name),
				Value:   value,
			})
		}
	}

	if err := parseBody(msg, email); err != nil {
		return nil, err
	}
	if email.BodyHTML == "" && email.BodyText != "" {
		email.BodyHTML = strings.ReplaceAll(email.BodyText, "\n", "<br>")
	}

	return email, nil
}

func parseAddressHeader(header string) (address, name string) {
	if header == "" {
		return "", ""
	}
	addr, err := mail.ParseAddress(header)
	if err != nil {
		// Fall back to the raw header; some senders emit bare addresses with
		// stray display text the parser rejects.
		return strings.TrimSpace(header), ""
	}
	return addr.Address, addr.Name
}

func parseAddressList(header string) []string {
	if header == "" {
		return nil
	}
	addrs, err := mail.ParseAddressList(header)
	if err != nil {
		return nil
	}
	out := make([]string, len(addrs))
	for i, a := range addrs {
		out[i] = a.Address
	}
	return out
}

func decodeHeader(value string) string {
	dec := new(mime.WordDecoder)
	decoded, err := dec.DecodeHeader(value)
	if err != nil {
		return value
	}
	return decoded
}

func parseBody(msg *mail.Message, email *domain.Email) error {
	contentType := msg.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "text/plain"
	}

	mediaType, params, err := mime.ParseMediaType(contentType)
	if err != nil {
		mediaType = "text/plain"
	}

	if !strings.HasPrefix(mediaType, "multipart/") {
		body, err := decodeTransferEncoding(msg.Body, msg.Header.Get("Content-Transfer-Encoding"))
		if err != nil {
			return fmt.Errorf("decode body: %w", err)
		}
		if mediaType == "text/html" {
			email.BodyHTML = strings.TrimSpace(string(body))
		} else {
			email.BodyText = strings.TrimSpace(string(body))
		}
		return nil
	}

	boundary := params["boundary"]
	if boundary == "" {
		return fmt.Errorf("multipart message without boundary")
	}
	return walkParts(multipart.NewReader(msg.Body, boundary), email)
}

func walkParts(reader *multipart.Reader, email *domain.Email) error {
	for {
		part, err := reader.NextPart()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("read part: %w", err)
		}

		partType, partParams, err := mime.ParseMediaType(part.Header.Get("Content-Type"))
		if err != nil {
			partType = "text/plain"
		}

		// Nested multipart (e.g. multipart/alternative inside multipart/mixed).
		if strings.HasPrefix(partType, "multipart/") {
			if boundary := partParams["boundary"]; boundary != "" {
				if err := walkParts(multipart.NewReader(part, boundary), email); err != nil {
					return err
				}
			}
			continue
		}

		disposition, dispParams, _ := mime.ParseMediaType(part.Header.Get("Content-Disposition"))
		if disposition == "attachment" {
			attachPart(part, partType, dispParams["filename"], email)
			continue
		}

		body, err := decodeTransferEncoding(part, part.Header.Get("Content-Transfer-Encoding"))
		if err != nil {
			return fmt.Errorf("decode part body: %w", err)
		}
		switch partType {
		case "text/plain":
			if email.BodyText == "" {
				email.BodyText = strings.TrimSpace(string(body))
			}
		case "text/html":
			if email.BodyHTML == "" {
				email.BodyHTML = strings.TrimSpace(string(body))
			}
		}
	}
}

func attachPart(part *multipart.Part, contentType, filename string, email *domain.Email) {
	if filename == "" {
		filename = part.FileName()
	}
	if filename == "" {
		filename = "attachment"
	}

	attachment := domain.EmailAttachment{
		ID:          uuid.NewString(),
		EmailID:     email.ID,
		Filename:    decodeHeader(filename),
		ContentType: contentType,
	}

	content, err := decodeTransferEncoding(io.LimitReader(part, maxInlineAttachment+1), part.Header.Get("Content-Transfer-Encoding"))
	if err == nil {
		attachment.SizeBytes = int64(len(content))
		if len(content) <= maxInlineAttachment {
			attachment.ContentBase64 = base64.StdEncoding.EncodeToString(content)
		}
	}

	email.Attachments = append(email.Attachments, attachment)
}

func decodeTransferEncoding(r io.Reader, encoding string) ([]byte, error) {
	switch strings.ToLower(strings.TrimSpace(encoding)) {
	case "base64":
		r = base64.NewDecoder(base64.StdEncoding, r)
	case "quoted-printable":
		r = quotedprintable.NewReader(r)
	}
	return io.ReadAll(r)
}
