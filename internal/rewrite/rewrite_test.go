package rewrite

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vetrefill/jobs/internal/models"
)

// envelope wraps content the way the chat-completions API does.
func envelope(content string) string {
	b, _ := json.Marshal(map[string]any{
		"choices": []map[string]any{
			{"message": map[string]string{"role": "assistant", "content": content}},
		},
	})
	return string(b)
}

func newTestRewriter(t *testing.T, handler http.HandlerFunc) (*Rewriter, *atomic.Int32) {
	t.Helper()
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		handler(w, r)
	}))
	t.Cleanup(srv.Close)

	r := New(Config{
		BaseURL:    srv.URL + "/v1",
		Model:      "test-model",
		APIKey:     "secret",
		Timeout:    time.Second,
		MaxRetries: 1,
		RetryDelay: time.Millisecond,
	}, nil)
	return r, &calls
}

var sampleInput = Input{
	Title:           "Shelter dogs go to the beach",
	Body:            "A local shelter took twelve dogs to the beach for the day. Volunteers said it was a success.",
	SourceName:      "Good News Network",
	DefaultCategory: models.CategoryDogs,
}

func TestRewriteSuccess(t *testing.T) {
	var got openai.ChatCompletionRequest
	var auth, path string
	r, calls := newTestRewriter(t, func(w http.ResponseWriter, req *http.Request) {
		auth = req.Header.Get("Authorization")
		path = req.URL.Path
		body, _ := io.ReadAll(req.Body)
		_ = json.Unmarshal(body, &got)
		fmt.Fprint(w, envelope(`{"title":"Beach Day for Shelter Pups","content":"<h2>Fun</h2><p>Sun and sand.</p><script>alert(1)</script>","excerpt":"Twelve shelter dogs enjoyed the sea.","tags":["dogs","shelter"]}`))
	})

	res := r.Rewrite(context.Background(), sampleInput)

	assert.Equal(t, int32(1), calls.Load())
	assert.Equal(t, "Bearer secret", auth)
	assert.Equal(t, "/v1/chat/completions", path)
	assert.Equal(t, "test-model", got.Model)
	assert.Equal(t, float32(0.7), got.Temperature)
	assert.Equal(t, 2000, got.MaxTokens)
	require.NotNil(t, got.ResponseFormat)
	assert.Equal(t, openai.ChatCompletionResponseFormatTypeJSONObject, got.ResponseFormat.Type)
	require.Len(t, got.Messages, 1)
	assert.Contains(t, got.Messages[0].Content, sampleInput.Title)
	assert.Contains(t, got.Messages[0].Content, sampleInput.SourceName)

	assert.False(t, res.Fallback)
	assert.Equal(t, "Beach Day for Shelter Pups", res.Title)
	assert.Equal(t, "<h2>Fun</h2><p>Sun and sand.</p>", res.Content)
	assert.Equal(t, "Twelve shelter dogs enjoyed the sea.", res.Excerpt)
	assert.Equal(t, []string{"dogs", "shelter"}, res.Tags)
}

func TestRewriteTruncatesInput(t *testing.T) {
	var prompt string
	r, _ := newTestRewriter(t, func(w http.ResponseWriter, req *http.Request) {
		var got openai.ChatCompletionRequest
		_ = json.NewDecoder(req.Body).Decode(&got)
		prompt = got.Messages[0].Content
		fmt.Fprint(w, envelope(`{"title":"t","content":"<p>c</p>","excerpt":"e","tags":[]}`))
	})

	in := sampleInput
	in.Body = strings.Repeat("a", MaxInputRunes) + strings.Repeat("b", 100)
	r.Rewrite(context.Background(), in)

	assert.Contains(t, prompt, strings.Repeat("a", MaxInputRunes))
	assert.NotContains(t, prompt, "b"+strings.Repeat("b", 10))
}

func TestRewriteFillsEmptyFieldsAndLimits(t *testing.T) {
	long := strings.Repeat("x", 150)
	r, _ := newTestRewriter(t, func(w http.ResponseWriter, req *http.Request) {
		fmt.Fprintf(w, "%s", envelope(`{"title":"","content":"  ","excerpt":"`+long+`  ","tags":["a","","b","c","d","e","f"]}`))
	})

	res := r.Rewrite(context.Background(), sampleInput)

	assert.False(t, res.Fallback)
	assert.Equal(t, sampleInput.Title, res.Title)
	assert.Equal(t, "<p>"+sampleInput.Body+"</p>", res.Content)
	assert.Equal(t, long, res.Excerpt)
	assert.Equal(t, []string{"a", "b", "c", "d", "e"}, res.Tags)

	r, _ = newTestRewriter(t, func(w http.ResponseWriter, req *http.Request) {
		fmt.Fprint(w, envelope(`{"title":"`+strings.Repeat("T", 130)+`","excerpt":"`+strings.Repeat("E", 200)+`"}`))
	})
	res = r.Rewrite(context.Background(), sampleInput)
	assert.Len(t, []rune(res.Title), MaxTitleRunes)
	assert.Len(t, []rune(res.Excerpt), MaxExcerptRunes)
	assert.Empty(t, res.Tags)
	assert.NotEmpty(t, res.Content)
}

func TestRewriteRetriesTransientFailures(t *testing.T) {
	var n atomic.Int32
	r, calls := newTestRewriter(t, func(w http.ResponseWriter, req *http.Request) {
		if n.Add(1) == 1 {
			http.Error(w, "overloaded", http.StatusServiceUnavailable)
			return
		}
		fmt.Fprint(w, envelope(`{"title":"Second time lucky","content":"<p>ok</p>","excerpt":"ok","tags":["x"]}`))
	})

	res := r.Rewrite(context.Background(), sampleInput)
	assert.Equal(t, int32(2), calls.Load())
	assert.False(t, res.Fallback)
	assert.Equal(t, "Second time lucky", res.Title)
}

func TestRewriteFallsBack(t *testing.T) {
	tests := []struct {
		name      string
		handler   http.HandlerFunc
		wantCalls int32
	}{
		{"rate limited every time", func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "slow down", http.StatusTooManyRequests)
		}, 2},
		{"client error is not retried", func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "bad request", http.StatusBadRequest)
		}, 1},
		{"api error body is not retried", func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnauthorized)
			fmt.Fprint(w, `{"error":{"message":"Invalid API Key","type":"invalid_request_error","code":"invalid_api_key"}}`)
		}, 1},
		{"server api error is retried", func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusBadGateway)
			fmt.Fprint(w, `{"error":{"message":"upstream unavailable","type":"server_error"}}`)
		}, 2},
		{"malformed envelope", func(w http.ResponseWriter, r *http.Request) {
			fmt.Fprint(w, "not json")
		}, 1},
		{"no choices", func(w http.ResponseWriter, r *http.Request) {
			fmt.Fprint(w, `{"choices":[]}`)
		}, 1},
		{"payload is not json", func(w http.ResponseWriter, r *http.Request) {
			fmt.Fprint(w, envelope("Sure! Here is your article"))
		}, 1},
		{"payload has wrong shape", func(w http.ResponseWriter, r *http.Request) {
			fmt.Fprint(w, envelope(`{"title":"ok","tags":"dogs"}`))
		}, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, calls := newTestRewriter(t, tt.handler)
			res := r.Rewrite(context.Background(), sampleInput)
			assert.Equal(t, tt.wantCalls, calls.Load())
			assert.Equal(t, Fallback(sampleInput), res)
		})
	}
}

func TestRewriteWithoutAPIKey(t *testing.T) {
	r, calls := newTestRewriter(t, func(w http.ResponseWriter, req *http.Request) {
		t.Error("service must not be called without a key")
	})
	r.cfg.APIKey = ""

	res := r.Rewrite(context.Background(), sampleInput)
	assert.Equal(t, int32(0), calls.Load())
	assert.True(t, res.Fallback)
}

func TestRewriteCancelledContext(t *testing.T) {
	r, _ := newTestRewriter(t, func(w http.ResponseWriter, req *http.Request) {
		fmt.Fprint(w, envelope(`{"title":"t","content":"c","excerpt":"e"}`))
	})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res := r.Rewrite(ctx, sampleInput)
	assert.True(t, res.Fallback)
}

func TestFallback(t *testing.T) {
	in := Input{
		Title:           strings.Repeat("T", 120),
		Body:            "Fish & <chips> " + strings.Repeat("é", 1000),
		DefaultCategory: models.CategoryWildlife,
	}
	res := Fallback(in)

	assert.True(t, res.Fallback)
	assert.Len(t, []rune(res.Title), MaxTitleRunes)
	assert.True(t, strings.HasPrefix(in.Body, res.Excerpt))
	assert.Len(t, []rune(res.Excerpt), 155)
	assert.True(t, strings.HasPrefix(res.Content, "<p>Fish &amp; &lt;chips&gt; "))
	assert.True(t, strings.HasSuffix(res.Content, "</p>"))
	assert.Equal(t, []string{"wildlife"}, res.Tags)

	short := Fallback(Input{Title: "t", Body: "tiny", DefaultCategory: models.CategoryGeneral})
	assert.Equal(t, "tiny", short.Excerpt)
	assert.Equal(t, "<p>tiny</p>", short.Content)

	assert.Equal(t, res, Fallback(in))
}

func TestClassifyError(t *testing.T) {
	transport := &url.Error{Op: "Post", URL: "http://api.invalid", Err: errors.New("connection refused")}

	tests := []struct {
		name      string
		err       error
		retryable bool
	}{
		{"rate limited", &openai.APIError{HTTPStatusCode: http.StatusTooManyRequests}, true},
		{"server error", &openai.RequestError{HTTPStatusCode: http.StatusServiceUnavailable, Err: errors.New("overloaded")}, true},
		{"transport", transport, true},
		{"bad request", &openai.APIError{HTTPStatusCode: http.StatusBadRequest}, false},
		{"unauthorized", &openai.RequestError{HTTPStatusCode: http.StatusUnauthorized, Err: errors.New("nope")}, false},
		{"undecodable", errors.New("invalid character 'n'"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := classifyError(context.Background(), tt.err)
			var permanent *backoff.PermanentError
			assert.Equal(t, tt.retryable, errors.Is(err, ErrRetryable))
			assert.Equal(t, !tt.retryable, errors.As(err, &permanent))
		})
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := classifyError(ctx, transport)
	assert.ErrorIs(t, err, context.Canceled)
	assert.NotErrorIs(t, err, ErrRetryable)
}

func TestRewriteRetriesUnreachableService(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	srv.Close()

	r := New(Config{
		BaseURL:    srv.URL,
		Model:      "test-model",
		APIKey:     "secret",
		Timeout:    time.Second,
		MaxRetries: 2,
		RetryDelay: time.Millisecond,
	}, nil)

	res := r.Rewrite(context.Background(), sampleInput)
	assert.Equal(t, Fallback(sampleInput), res)
}
