package rewrite

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/cenkalti/backoff/v5"
	"github.com/sashabaranov/go-openai"
)

var (
	// ErrRetryable marks failures worth another attempt: transport errors,
	// rate limiting and server-side errors.
	ErrRetryable = errors.New("retryable rewrite failure")
	// ErrMalformedResponse marks a response that does not have the expected
	// envelope or payload shape.
	ErrMalformedResponse = errors.New("malformed rewrite response")
)

// payload is the object the model is instructed to return.
type payload struct {
	Title   string   `json:"title"`
	Content string   `json:"content"`
	Excerpt string   `json:"excerpt"`
	Tags    []string `json:"tags"`
}

func newChatClient(cfg Config, httpClient *http.Client) *openai.Client {
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	}
	clientCfg.HTTPClient = httpClient
	return openai.NewClientWithConfig(clientCfg)
}

// complete performs a single chat-completions call and decodes the payload.
// Errors that another attempt cannot fix are wrapped with backoff.Permanent.
func (r *Rewriter) complete(ctx context.Context, prompt string) (*payload, error) {
	resp, err := r.chat.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: r.cfg.Model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
		Temperature: temperature,
		MaxTokens:   maxTokens,
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
	})
	if err != nil {
		return nil, classifyError(ctx, err)
	}

	if len(resp.Choices) == 0 {
		return nil, backoff.Permanent(fmt.Errorf("%w: no choices", ErrMalformedResponse))
	}
	raw := strings.TrimSpace(resp.Choices[0].Message.Content)
	if raw == "" {
		return nil, backoff.Permanent(fmt.Errorf("%w: empty message", ErrMalformedResponse))
	}

	var out payload
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return nil, backoff.Permanent(fmt.Errorf("%w: decode payload: %v", ErrMalformedResponse, err))
	}
	return &out, nil
}

// classifyError sorts a failed call into retryable or permanent.
func classifyError(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return backoff.Permanent(ctx.Err())
	}

	status := 0
	var apiErr *openai.APIError
	var reqErr *openai.RequestError
	switch {
	case errors.As(err, &apiErr):
		status = apiErr.HTTPStatusCode
	case errors.As(err, &reqErr):
		status = reqErr.HTTPStatusCode
	}

	if status != 0 {
		if status == http.StatusTooManyRequests || status >= http.StatusInternalServerError {
			return fmt.Errorf("%w: status %d: %v", ErrRetryable, status, err)
		}
		return backoff.Permanent(fmt.Errorf("rewrite api error: status %d: %v", status, err))
	}

	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return fmt.Errorf("%w: %v", ErrRetryable, err)
	}
	return backoff.Permanent(fmt.Errorf("%w: %v", ErrMalformedResponse, err))
}
