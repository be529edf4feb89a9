package mail

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// HTTPSender delivers outbound email through a hosted transactional email
// API (Resend-compatible payload shape).
type HTTPSender struct {
	baseURL string
	apiKey  string
	from    string
	http    *http.Client
}

// NewHTTPSender creates a sender. from is the address replies originate from
// (the routed support address).
func NewHTTPSender(baseURL, apiKey, from string) *HTTPSender {
	return &HTTPSender{
		baseURL: baseURL,
		apiKey:  apiKey,
		from:    from,
		http:    &http.Client{Timeout: 15 * time.Second},
	}
}

type sendPayload struct {
	From    string `json:"from"`
	To      string `json:"to"`
	Subject string `json:"subject"`
	Text    string `json:"text,omitempty"`
	HTML    string `json:"html,omitempty"`
}

type sendResponse struct {
	ID string `json:"id"`
}

// Send delivers one message and returns the provider's message id.
func (s *HTTPSender) Send(ctx context.Context, msg OutboundMessage) (string, error) {
	payload, err := json.Marshal(sendPayload{
		From:    s.from,
		To:      msg.To,
		Subject: msg.Subject,
		Text:    msg.BodyText,
		HTML:    msg.BodyHTML,
	})
	if err != nil {
		return "", fmt.Errorf("marshal send payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/emails", bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("build send request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+s.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("post email: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", fmt.Errorf("email provider returned status %d: %s", resp.StatusCode, data)
	}

	var out sendResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode provider response: %w", err)
	}
	return out.ID, nil
}
