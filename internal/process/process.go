package process

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"vetrefill/jobs/internal/classify"
	"vetrefill/jobs/internal/fetch"
	"vetrefill/jobs/internal/metrics"
	"vetrefill/jobs/internal/models"
	"vetrefill/jobs/internal/rewrite"
	"vetrefill/jobs/internal/storage"
)

// NewsStore is the persistence the news run needs.
type NewsStore interface {
	Ping(ctx context.Context) error
	Seen(ctx context.Context, sourceURL string) (bool, error)
	SlugExists(ctx context.Context, slug string) (bool, error)
	Publish(ctx context.Context, article *models.NewsArticle) error
	MarkAttempted(ctx context.Context, sourceURL string) error
}

// SourceLister resolves the sources to fetch.
type SourceLister interface {
	Enabled(ctx context.Context) ([]models.FeedSource, error)
}

// FeedFetcher retrieves raw items from sources.
type FeedFetcher interface {
	FetchAll(ctx context.Context, sources []models.FeedSource) ([]models.RawItem, []fetch.SourceError)
}

// Rewriter turns raw text into a publishable article.
type Rewriter interface {
	Rewrite(ctx context.Context, in rewrite.Input) rewrite.Result
}

// Options tunes a news run.
type Options struct {
	MaxPerRun    int           // items allowed to reach the rewriter per run
	PaceDelay    time.Duration // minimum spacing between rewriter calls
	WriteTimeout time.Duration // bound on writes that outlive a cancelled run
	Now          func() time.Time
}

// Summary is the result of one news run.
type Summary struct {
	Success        bool      `json:"success"`
	Processed      int       `json:"processed"`
	Skipped        int       `json:"skipped"`
	Errors         int       `json:"errors"`
	Deferred       int       `json:"deferred"`
	TotalFetched   int       `json:"total_fetched"`
	SourceFailures int       `json:"source_failures"`
	Timestamp      time.Time `json:"timestamp"`
}

// NewsProcessor runs the news ingestion pipeline: fetch, then for every item
// dedup, rewrite, classify and persist, one item at a time.
type NewsProcessor struct {
	store    NewsStore
	sources  SourceLister
	fetcher  FeedFetcher
	rewriter Rewriter
	opts     Options
}

const (
	defaultMaxPerRun    = 5
	defaultWriteTimeout = 10 * time.Second
)

// errPoison marks a preparation failure that will fail again on every run.
var errPoison = errors.New("item cannot be prepared")

// NewNewsProcessor creates a news processor from its collaborators.
func NewNewsProcessor(store NewsStore, sources SourceLister, fetcher FeedFetcher, rewriter Rewriter, opts Options) (*NewsProcessor, error) {
	if store == nil || sources == nil || fetcher == nil || rewriter == nil {
		return nil, fmt.Errorf("news processor dependencies cannot be nil")
	}
	if opts.MaxPerRun <= 0 {
		opts.MaxPerRun = defaultMaxPerRun
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = defaultWriteTimeout
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &NewsProcessor{
		store:    store,
		sources:  sources,
		fetcher:  fetcher,
		rewriter: rewriter,
		opts:     opts,
	}, nil
}

// outcome of a single item.
type outcome int

const (
	outcomeProcessed outcome = iota
	outcomeSkipped
	outcomeError
)

// Run performs one news run. It only returns an error when the run cannot
// start: the database is unreachable or the source registry cannot be read.
// Item-level failures are counted in the summary.
func (p *NewsProcessor) Run(ctx context.Context) (Summary, error) {
	start := time.Now()
	runID := uuid.NewString()
	summary := Summary{}

	if err := p.store.Ping(ctx); err != nil {
		metrics.RecordRun("fetch-news", "failed", time.Since(start).Seconds())
		return summary, fmt.Errorf("database connection is not valid: %w", err)
	}
	srcs, err := p.sources.Enabled(ctx)
	if err != nil {
		metrics.RecordRun("fetch-news", "failed", time.Since(start).Seconds())
		return summary, err
	}

	log.Info().
		Str("run_id", runID).
		Int("sources", len(srcs)).
		Msg("Loaded enabled sources")

	items, failures := p.fetcher.FetchAll(ctx, srcs)
	summary.TotalFetched = len(items)
	summary.SourceFailures = len(failures)

	failedNames := make([]string, 0, len(failures))
	for _, f := range failures {
		failedNames = append(failedNames, f.Source.Name)
	}
	metrics.RecordFetch(len(items), failedNames)

	limiter := rate.NewLimiter(rate.Inf, 1)
	if p.opts.PaceDelay > 0 {
		limiter = rate.NewLimiter(rate.Every(p.opts.PaceDelay), 1)
	}
	attempts := 0

itemLoop:
	for idx, item := range items {
		if attempts >= p.opts.MaxPerRun {
			summary.Deferred = len(items) - idx
			log.Info().
				Int("max_per_run", p.opts.MaxPerRun).
				Int("deferred", summary.Deferred).
				Msg("Per-run limit reached")
			break
		}
		if ctx.Err() != nil {
			summary.Deferred = len(items) - idx
			log.Info().
				Err(ctx.Err()).
				Int("deferred", summary.Deferred).
				Msg("Run cancelled, leaving remaining items")
			break
		}

		logger := log.With().
			Str("url", item.Link).
			Str("source", item.SourceName).
			Logger()

		if item.Link == "" || item.Title == "" {
			logger.Debug().Msg("Skipping item without link or title")
			p.count(&summary, outcomeSkipped)
			continue
		}

		seen, err := p.store.Seen(ctx, item.Link)
		if err != nil {
			logger.Error().Err(err).Msg("Ledger lookup failed")
			p.count(&summary, outcomeError)
			continue
		}
		if seen {
			logger.Debug().Msg("Already processed")
			p.count(&summary, outcomeSkipped)
			continue
		}

		if err := limiter.Wait(ctx); err != nil {
			summary.Deferred = len(items) - idx
			logger.Info().Err(err).Msg("Run cancelled while pacing")
			break itemLoop
		}
		attempts++

		p.count(&summary, p.processItem(ctx, logger, item))
	}

	summary.Success = true
	summary.Timestamp = p.opts.Now().UTC()
	metrics.RecordDeferred(summary.Deferred)
	metrics.RecordRun("fetch-news", "ok", time.Since(start).Seconds())

	log.Info().
		Str("run_id", runID).
		Int("processed", summary.Processed).
		Int("skipped", summary.Skipped).
		Int("errors", summary.Errors).
		Int("deferred", summary.Deferred).
		Int("total_fetched", summary.TotalFetched).
		Int("source_failures", summary.SourceFailures).
		Msg("News run finished")
	return summary, nil
}

func (p *NewsProcessor) count(s *Summary, o outcome) {
	switch o {
	case outcomeProcessed:
		s.Processed++
		metrics.RecordNewsOutcome(metrics.OutcomeProcessed)
	case outcomeSkipped:
		s.Skipped++
		metrics.RecordNewsOutcome(metrics.OutcomeSkipped)
	default:
		s.Errors++
		metrics.RecordNewsOutcome(metrics.OutcomeError)
	}
}

// processItem prepares and persists one item that is not yet in the ledger.
func (p *NewsProcessor) processItem(ctx context.Context, logger zerolog.Logger, item models.RawItem) outcome {
	article, err := p.prepare(ctx, item)

	// Writes run on a context that survives cancellation so the item in
	// flight is finished rather than torn.
	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.opts.WriteTimeout)
	defer cancel()

	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			logger.Warn().Err(err).Msg("Item interrupted, leaving for next run")
			return outcomeError
		}
		if !errors.Is(err, errPoison) {
			logger.Error().Err(err).Msg("Failed to prepare item")
			return outcomeError
		}
		logger.Error().Err(err).Msg("Item failed permanently, marking as attempted")
		if markErr := p.store.MarkAttempted(writeCtx, item.Link); markErr != nil {
			logger.Error().Err(markErr).Msg("Failed to record attempted item")
		}
		return outcomeError
	}

	err = p.store.Publish(writeCtx, article)
	if errors.Is(err, storage.ErrSlugTaken) {
		article.Slug = fmt.Sprintf("%s-%d", article.Slug, p.opts.Now().UnixMilli())
		err = p.store.Publish(writeCtx, article)
	}
	switch {
	case errors.Is(err, storage.ErrDuplicate):
		logger.Info().Msg("Item processed concurrently, skipping")
		return outcomeSkipped
	case err != nil:
		logger.Error().Err(err).Msg("Failed to persist article")
		return outcomeError
	}

	logger.Info().
		Int64("id", article.ID).
		Str("slug", article.Slug).
		Str("category", string(article.Category)).
		Msg("Published article")
	return outcomeProcessed
}

// prepare rewrites and classifies an item. A panic or an unusable result is
// reported as errPoison; context errors and lookup failures are returned as
// they are.
func (p *NewsProcessor) prepare(ctx context.Context, item models.RawItem) (article *models.NewsArticle, err error) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().
				Str("url", item.Link).
				Str("stack", string(debug.Stack())).
				Msgf("Panic while preparing item: %v", r)
			article, err = nil, fmt.Errorf("%w: panic: %v", errPoison, r)
		}
	}()

	body := classify.PlainText(item.Content)
	if body == "" {
		body = item.Snippet
	}

	res := p.rewriter.Rewrite(ctx, rewrite.Input{
		Title:           item.Title,
		Body:            body,
		SourceName:      item.SourceName,
		DefaultCategory: item.DefaultCategory,
	})
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if res.Fallback {
		metrics.RecordFallback()
	}
	if res.Title == "" || res.Content == "" {
		return nil, fmt.Errorf("%w: rewrite produced an empty article", errPoison)
	}

	now := p.opts.Now()
	slug := classify.Slug(res.Title, now)
	exists, err := p.store.SlugExists(ctx, slug)
	if err != nil {
		return nil, err
	}
	if exists {
		slug = fmt.Sprintf("%s-%d", slug, now.UnixMilli())
	}

	published := now
	if item.PublishedAt != nil {
		published = *item.PublishedAt
	}

	tags := models.StringList(res.Tags)
	if tags == nil {
		tags = models.StringList{}
	}

	return &models.NewsArticle{
		Slug:          slug,
		Title:         res.Title,
		OriginalTitle: item.Title,
		Content:       res.Content,
		Excerpt:       res.Excerpt,
		Category:      classify.Classify(res.Title, res.Excerpt, item.SourceName),
		Tags:          tags,
		ImageURL:      sql.NullString{String: item.ImageURL, Valid: item.ImageURL != ""},
		ImageAlt:      res.Title,
		SourceURL:     item.Link,
		SourceName:    item.SourceName,
		PublishedAt:   published.UTC(),
		IsPublished:   true,
		ReadingTime:   classify.ReadingTime(res.Content),
		CreatedAt:     now.UTC(),
	}, nil
}
