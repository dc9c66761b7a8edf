// Package mail delivers transactional email through a Resend-compatible
// HTTP API.
package mail

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

	"github.com/rs/zerolog/log"
)

// ErrNotConfigured is returned when no API key is set.
var ErrNotConfigured = errors.New("mail client not configured")

// Message is a single HTML email.
type Message struct {
	From    string   `json:"from"`
	To      []string `json:"to"`
	Subject string   `json:"subject"`
	HTML    string   `json:"html"`
}

// Config describes the delivery endpoint.
type Config struct {
	Endpoint string
	APIKey   string
	Timeout  time.Duration
}

// Client posts messages to the delivery API. Sends are not retried; a
// failed send is picked up again by the next scheduled run.
type Client struct {
	endpoint   string
	apiKey     string
	httpClient *http.Client
}

// NewClient builds a client from configuration.
func NewClient(cfg Config) *Client {
	return &Client{
		endpoint: cfg.Endpoint,
		apiKey:   cfg.APIKey,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
	}
}

type sendResponse struct {
	ID string `json:"id"`
}

// Send delivers msg and returns the provider message id. Any non-2xx
// response is an error.
func (c *Client) Send(ctx context.Context, msg Message) (string, error) {
	if c.apiKey == "" || c.endpoint == "" {
		return "", ErrNotConfigured
	}
	if len(msg.To) == 0 {
		return "", fmt.Errorf("message has no recipients")
	}

	body, err := json.Marshal(msg)
	if err != nil {
		return "", fmt.Errorf("marshal message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("send email: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return "", fmt.Errorf("mail api error %s: %s", resp.Status, strings.TrimSpace(string(payload)))
	}

	// The provider accepted the message; an unreadable body only loses the id.
	var out sendResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		if !errors.Is(err, io.EOF) {
			log.Debug().Err(err).Str("status", resp.Status).Msg("Could not decode mail response")
		}
		return "", nil
	}
	return out.ID, nil
}
