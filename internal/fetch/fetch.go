// Package fetch downloads syndication feeds and flattens their entries into
// raw items.
package fetch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/mmcdole/gofeed"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"vetrefill/jobs/internal/classify"
	"vetrefill/jobs/internal/models"
)

const acceptHeader = "application/rss+xml, application/atom+xml, application/xml, text/xml"

// Config controls how feeds are downloaded.
type Config struct {
	UserAgent      string
	Timeout        time.Duration // per source, covers download and parse
	ItemsPerSource int
	Concurrency    int
}

// SourceError records a source that contributed no items.
type SourceError struct {
	Source models.FeedSource
	Err    error
}

func (e SourceError) Error() string {
	return fmt.Sprintf("source %s (%s): %v", e.Source.Name, e.Source.URL, e.Err)
}

func (e SourceError) Unwrap() error { return e.Err }

// Fetcher retrieves feeds over HTTP.
type Fetcher struct {
	client *http.Client
	cfg    Config
}

// New creates a Fetcher. A nil client uses a default http.Client.
func New(cfg Config, client *http.Client) *Fetcher {
	if client == nil {
		client = &http.Client{}
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	return &Fetcher{client: client, cfg: cfg}
}

// FetchAll fetches every source with bounded parallelism. Sources that fail
// are reported in the second return value and contribute no items; the call as
// a whole never fails. Items keep the order of sources, then feed order.
func (f *Fetcher) FetchAll(ctx context.Context, sources []models.FeedSource) ([]models.RawItem, []SourceError) {
	perSource := make([][]models.RawItem, len(sources))
	var (
		mu       sync.Mutex
		failures []SourceError
	)

	g := new(errgroup.Group)
	g.SetLimit(f.cfg.Concurrency)

	for i, src := range sources {
		g.Go(func() error {
			items, err := f.FetchSource(ctx, src)
			if err != nil {
				log.Warn().
					Err(err).
					Str("source", src.Name).
					Str("url", src.URL).
					Msg("Failed to fetch feed")
				mu.Lock()
				failures = append(failures, SourceError{Source: src, Err: err})
				mu.Unlock()
				return nil
			}
			perSource[i] = items
			return nil
		})
	}
	_ = g.Wait()

	var all []models.RawItem
	for _, items := range perSource {
		all = append(all, items...)
	}

	log.Info().
		Int("sources", len(sources)).
		Int("failed_sources", len(failures)).
		Int("items", len(all)).
		Msg("Fetched feeds")
	return all, failures
}

// FetchSource downloads and parses one feed, returning at most
// ItemsPerSource items.
func (f *Fetcher) FetchSource(ctx context.Context, src models.FeedSource) ([]models.RawItem, error) {
	if f.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, f.cfg.Timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, src.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	if f.cfg.UserAgent != "" {
		req.Header.Set("User-Agent", f.cfg.UserAgent)
	}
	req.Header.Set("Accept", acceptHeader)

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	feed, err := gofeed.NewParser().Parse(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to parse feed: %w", err)
	}

	limit := len(feed.Items)
	if f.cfg.ItemsPerSource > 0 && limit > f.cfg.ItemsPerSource {
		limit = f.cfg.ItemsPerSource
	}

	items := make([]models.RawItem, 0, limit)
	for _, it := range feed.Items[:limit] {
		items = append(items, toRawItem(it, src))
	}
	return items, nil
}

func toRawItem(it *gofeed.Item, src models.FeedSource) models.RawItem {
	content := it.Content
	if content == "" {
		content = it.Description
	}

	var published *time.Time
	switch {
	case it.PublishedParsed != nil:
		t := it.PublishedParsed.UTC()
		published = &t
	case it.UpdatedParsed != nil:
		t := it.UpdatedParsed.UTC()
		published = &t
	}

	return models.RawItem{
		Title:           strings.TrimSpace(it.Title),
		Link:            strings.TrimSpace(it.Link),
		PublishedAt:     published,
		Content:         content,
		Snippet:         classify.PlainText(it.Description),
		ImageURL:        ExtractImageURL(it),
		SourceName:      src.Name,
		SourceURL:       src.URL,
		DefaultCategory: src.DefaultCategory,
	}
}
