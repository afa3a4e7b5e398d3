package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"time"
)

// PayloadTextRenderer is the built-in fallback renderer: it reads the "text"
// field of the JSON payload. Deployments wire the platform's real renderer
// instead; this covers rows whose producers inline the text in the payload.
type PayloadTextRenderer struct{}

// RenderText extracts the payload's "text" field.
func (PayloadTextRenderer) RenderText(_ context.Context, payload string) (string, error) {
	var body struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal([]byte(payload), &body); err != nil {
		return "", fmt.Errorf("dispatch: parse payload: %w", err)
	}
	if body.Text == "" {
		return "", fmt.Errorf("dispatch: payload has no text field")
	}
	return body.Text, nil
}

// WebhookSender forwards sends to the SMS provider integration as an HTTP
// POST of {"userId": ..., "text": ...}. Non-2xx responses are send failures.
type WebhookSender struct {
	URL    string
	Client *http.Client
}

// NewWebhookSender creates a WebhookSender with a bounded request timeout.
func NewWebhookSender(url string, timeout time.Duration) (*WebhookSender, error) {
	if url == "" {
		return nil, fmt.Errorf("dispatch: webhook url is required")
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &WebhookSender{URL: url, Client: &http.Client{Timeout: timeout}}, nil
}

// Send posts one message to the webhook.
func (s *WebhookSender) Send(ctx context.Context, userID, text string) error {
	payload, err := json.Marshal(map[string]string{"userId": userID, "text": text})
	if err != nil {
		return fmt.Errorf("dispatch: marshal send request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.URL, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("dispatch: build send request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.Client.Do(req)
	if err != nil {
		return fmt.Errorf("dispatch: send to %s: %w", s.URL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("dispatch: send to %s: status %d", s.URL, resp.StatusCode)
	}
	return nil
}

// LogSender writes sends to the process log instead of a provider. Used by
// dry-run deployments with no webhook configured.
type LogSender struct{}

// Send logs the message.
func (LogSender) Send(_ context.Context, userID, text string) error {
	log.Printf("dispatch: dry-run send to %s: %q", userID, text)
	return nil
}
