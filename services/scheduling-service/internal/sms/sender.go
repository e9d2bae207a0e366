// Package sms holds the outbound message-send capability used by reminders.
package sms

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Sender delivers one text message. Implementations must be safe for concurrent use.
type Sender interface {
	Send(ctx context.Context, to string, body string) error
	ProviderID() string
}

var ErrNoDestination = errors.New("sms: destination address is empty")

// message is the wire shape shared by the webhook and queue transports.
type message struct {
	To   string `json:"to"`
	Body string `json:"body"`
}

func encode(to, body string) ([]byte, error) {
	if strings.TrimSpace(to) == "" {
		return nil, ErrNoDestination
	}
	return json.Marshal(message{To: to, Body: body})
}

// WebhookSender posts each message as JSON to a provider bridge.
type WebhookSender struct {
	endpoint string
	token    string
	client   *http.Client
}

func NewWebhookSender(endpoint string, token string) *WebhookSender {
	return &WebhookSender{
		endpoint: strings.TrimSpace(endpoint),
		token:    strings.TrimSpace(token),
		client:   &http.Client{Timeout: 5 * time.Second},
	}
}

func (s *WebhookSender) ProviderID() string { return "sms-webhook" }

func (s *WebhookSender) Send(ctx context.Context, to string, body string) error {
	if s.endpoint == "" {
		return errors.New("sms: webhook url not configured")
	}
	payload, err := encode(to, body)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("sms: build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if s.token != "" {
		req.Header.Set("Authorization", "Bearer "+s.token)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("sms: webhook request: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4<<10))

	if resp.StatusCode/100 != 2 {
		return fmt.Errorf("sms: webhook returned %d", resp.StatusCode)
	}
	return nil
}

// NoopSender accepts every addressed message and delivers nothing.
type NoopSender struct{}

func NewNoopSender() *NoopSender { return &NoopSender{} }

func (*NoopSender) ProviderID() string { return "sms-noop" }

func (*NoopSender) Send(_ context.Context, to string, body string) error {
	_, err := encode(to, body)
	return err
}
