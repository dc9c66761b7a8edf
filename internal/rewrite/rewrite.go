// Package rewrite turns raw feed text into a publishable article through an
// OpenAI-compatible chat-completions API, falling back to a deterministic
// rendering of the input whenever the service cannot be used.
package rewrite

import (
	"context"
	"fmt"
	"html"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/microcosm-cc/bluemonday"
	"github.com/rs/zerolog/log"
	"github.com/sashabaranov/go-openai"

	"vetrefill/jobs/internal/models"
)

const (
	temperature = 0.7
	maxTokens   = 2000

	// MaxInputRunes bounds the body sent to the service.
	MaxInputRunes = 2500

	MaxTitleRunes   = 100
	MaxExcerptRunes = 160
	MaxTags         = 5

	fallbackBodyRunes    = 800
	fallbackExcerptRunes = 155
	emptyBodyRunes       = 500
)

const promptTemplate = `You are an engaging animal news writer for a popular English-language website. Rewrite the following animal-related news article to be informative, friendly, and captivating.

Guidelines:
- Write in clear, accessible English suitable for animal lovers worldwide
- Keep all facts accurate, do not invent new information
- Target length: 350-500 words
- Use 2-3 subheadings with <h2> tags
- Format as clean HTML: use <p> for paragraphs, <h2> for headings, <ul>/<li> for lists if appropriate
- Add a "Did You Know?" or interesting fact section if relevant
- Maintain a warm, enthusiastic, positive tone
- Start with a compelling opening sentence

Source: %s
Original Title: %s
Original Content: %s

Respond ONLY with a JSON object in this exact format (no markdown, no code blocks):
{"title":"Your engaging title here (max 80 chars)","content":"<p>Full article HTML...</p>","excerpt":"One compelling sentence summary (max 155 chars)","tags":["tag1","tag2","tag3","tag4"]}`

// Config describes how to reach the chat-completions API.
type Config struct {
	BaseURL    string // OpenAI-compatible API root, e.g. https://api.groq.com/openai/v1
	Model      string
	APIKey     string
	Timeout    time.Duration // per attempt
	MaxRetries int
	RetryDelay time.Duration // doubled after every retry
}

// Input is the raw material for one rewrite. Body is plain text.
type Input struct {
	Title           string
	Body            string
	SourceName      string
	DefaultCategory models.Category
}

// Result is a publishable rewrite. Fallback is set when the service was not
// used and the result was derived from the input alone.
type Result struct {
	Title    string
	Content  string
	Excerpt  string
	Tags     []string
	Fallback bool
}

// Rewriter calls the rewrite service. It is safe for sequential use within
// a single run.
type Rewriter struct {
	cfg       Config
	chat      *openai.Client
	sanitizer *bluemonday.Policy
	noKeyOnce sync.Once
}

// New creates a Rewriter. A nil client gets one with the configured timeout.
func New(cfg Config, client *http.Client) *Rewriter {
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}
	return &Rewriter{
		cfg:       cfg,
		chat:      newChatClient(cfg, client),
		sanitizer: bluemonday.UGCPolicy(),
	}
}

// Rewrite never fails: any service problem yields Fallback(in).
func (r *Rewriter) Rewrite(ctx context.Context, in Input) Result {
	if r.cfg.APIKey == "" {
		r.noKeyOnce.Do(func() {
			log.Warn().Msg("Rewrite API key not configured, using fallback rewrites")
		})
		return Fallback(in)
	}

	prompt := fmt.Sprintf(promptTemplate, in.SourceName, in.Title, truncateRunes(in.Body, MaxInputRunes))

	out, err := backoff.Retry(ctx, func() (*payload, error) {
		return r.attempt(ctx, prompt)
	},
		backoff.WithBackOff(r.newBackOff()),
		backoff.WithMaxTries(uint(r.cfg.MaxRetries+1)),
		backoff.WithNotify(func(err error, delay time.Duration) {
			log.Debug().
				Err(err).
				Dur("delay", delay).
				Msg("Retrying rewrite")
		}),
	)
	if err != nil {
		log.Warn().
			Err(err).
			Str("title", in.Title).
			Msg("Rewrite failed, using fallback")
		return Fallback(in)
	}
	return r.finish(out, in)
}

// newBackOff doubles RetryDelay after every retry.
func (r *Rewriter) newBackOff() backoff.BackOff {
	if r.cfg.RetryDelay <= 0 {
		return &backoff.ZeroBackOff{}
	}
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = r.cfg.RetryDelay
	bo.RandomizationFactor = 0
	bo.Multiplier = 2
	bo.MaxInterval = r.cfg.RetryDelay << r.cfg.MaxRetries
	return bo
}

func (r *Rewriter) attempt(ctx context.Context, prompt string) (*payload, error) {
	if r.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.cfg.Timeout)
		defer cancel()
	}
	return r.complete(ctx, prompt)
}

// finish fills empty fields from the input and enforces length limits.
func (r *Rewriter) finish(p *payload, in Input) Result {
	res := Result{
		Title:   strings.TrimSpace(p.Title),
		Content: strings.TrimSpace(r.sanitizer.Sanitize(p.Content)),
		Excerpt: strings.TrimSpace(p.Excerpt),
	}
	if res.Title == "" {
		res.Title = strings.TrimSpace(in.Title)
	}
	if res.Content == "" {
		res.Content = paragraph(truncateRunes(in.Body, emptyBodyRunes))
	}
	if res.Excerpt == "" {
		res.Excerpt = truncateRunes(in.Body, fallbackExcerptRunes)
	}
	res.Title = truncateRunes(res.Title, MaxTitleRunes)
	res.Excerpt = truncateRunes(res.Excerpt, MaxExcerptRunes)

	res.Tags = make([]string, 0, MaxTags)
	for _, tag := range p.Tags {
		tag = strings.TrimSpace(tag)
		if tag == "" {
			continue
		}
		res.Tags = append(res.Tags, tag)
		if len(res.Tags) == MaxTags {
			break
		}
	}
	return res
}

// Fallback builds the deterministic result used when the service is
// unavailable. The excerpt is always a prefix of in.Body.
func Fallback(in Input) Result {
	return Result{
		Title:    truncateRunes(in.Title, MaxTitleRunes),
		Content:  paragraph(truncateRunes(in.Body, fallbackBodyRunes)),
		Excerpt:  truncateRunes(in.Body, fallbackExcerptRunes),
		Tags:     []string{string(in.DefaultCategory)},
		Fallback: true,
	}
}

func paragraph(text string) string {
	return "<p>" + html.EscapeString(text) + "</p>"
}

func truncateRunes(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}
