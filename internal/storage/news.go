package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"

	"vetrefill/jobs/internal/database"
	"vetrefill/jobs/internal/models"
)

// NewsRepository reads and writes articles and the processed-URL ledger.
type NewsRepository struct {
	db *database.DB
}

// NewNewsRepository creates a new repository instance.
func NewNewsRepository(db *database.DB) *NewsRepository {
	return &NewsRepository{db: db}
}

// Ping checks that the database is reachable.
func (r *NewsRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// Seen reports whether sourceURL already has a ledger entry.
func (r *NewsRepository) Seen(ctx context.Context, sourceURL string) (bool, error) {
	var n int
	err := r.db.GetContext(ctx, &n, `SELECT COUNT(1) FROM rss_items WHERE source_url = ?`, sourceURL)
	if err != nil {
		return false, fmt.Errorf("ledger lookup failed: %w", err)
	}
	return n > 0, nil
}

// SlugExists reports whether an article already uses slug.
func (r *NewsRepository) SlugExists(ctx context.Context, slug string) (bool, error) {
	var n int
	err := r.db.GetContext(ctx, &n, `SELECT COUNT(1) FROM news WHERE slug = ?`, slug)
	if err != nil {
		return false, fmt.Errorf("slug lookup failed: %w", err)
	}
	return n > 0, nil
}

// MarkAttempted adds a ledger entry without an article so the URL is not
// attempted again. An existing entry is left untouched.
func (r *NewsRepository) MarkAttempted(ctx context.Context, sourceURL string) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO rss_items (source_url, news_id, created_at)
		VALUES (?, NULL, ?)
		ON CONFLICT(source_url) DO NOTHING`,
		sourceURL, time.Now().UTC().Truncate(time.Second))
	if err != nil {
		return fmt.Errorf("failed to record attempted url %s: %w", sourceURL, err)
	}
	return nil
}

// Publish inserts the article and its ledger entry in one transaction and
// sets article.ID. The transaction takes the write lock up front, so a
// concurrent run cannot slip an entry for the same URL in between. A ledger
// conflict returns ErrDuplicate, a slug conflict ErrSlugTaken; in both cases
// nothing is written.
func (r *NewsRepository) Publish(ctx context.Context, article *models.NewsArticle) error {
	article.PublishedAt = article.PublishedAt.UTC().Truncate(time.Second)
	if article.CreatedAt.IsZero() {
		article.CreatedAt = time.Now()
	}
	article.CreatedAt = article.CreatedAt.UTC().Truncate(time.Second)

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var seen int
	if err := tx.GetContext(ctx, &seen, `SELECT COUNT(1) FROM rss_items WHERE source_url = ?`, article.SourceURL); err != nil {
		return fmt.Errorf("ledger lookup failed: %w", err)
	}
	if seen > 0 {
		return ErrDuplicate
	}

	res, err := tx.NamedExecContext(ctx, `
		INSERT INTO news (slug, title, original_title, content, excerpt, category, tags,
			image_url, image_alt, source_url, source_name, published_at, is_published,
			view_count, reading_time, created_at)
		VALUES (:slug, :title, :original_title, :content, :excerpt, :category, :tags,
			:image_url, :image_alt, :source_url, :source_name, :published_at, :is_published,
			0, :reading_time, :created_at)`, article)
	if err != nil {
		if database.IsUniqueViolation(err) {
			return ErrSlugTaken
		}
		return fmt.Errorf("failed to insert article: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to read article id: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO rss_items (source_url, news_id, created_at) VALUES (?, ?, ?)`,
		article.SourceURL, id, article.CreatedAt)
	if err != nil {
		if database.IsUniqueViolation(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("failed to insert ledger entry: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit article: %w", err)
	}
	article.ID = id
	article.ViewCount = 0
	return nil
}

// ListParams filters and pages the published article list.
type ListParams struct {
	Category        models.Category // empty means all
	Limit           int
	CursorTimestamp *time.Time
	CursorID        *int64
}

// List returns published articles, newest first. Paging continues strictly
// after the (published_at, id) cursor when one is given.
func (r *NewsRepository) List(ctx context.Context, p ListParams) ([]models.NewsArticle, error) {
	q := psql.Select("*").
		From("news").
		Where(sq.Eq{"is_published": true})

	if p.Category != "" {
		q = q.Where(sq.Eq{"category": p.Category})
	}
	if p.CursorTimestamp != nil && p.CursorID != nil {
		ts := p.CursorTimestamp.UTC()
		q = q.Where(sq.Or{
			sq.Lt{"published_at": ts},
			sq.And{sq.Eq{"published_at": ts}, sq.Lt{"id": *p.CursorID}},
		})
	}
	q = q.OrderBy("published_at DESC", "id DESC").Limit(uint64(p.Limit))

	query, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build query: %w", err)
	}

	items := []models.NewsArticle{}
	if err := r.db.SelectContext(ctx, &items, query, args...); err != nil {
		return nil, fmt.Errorf("database query failed: %w", err)
	}
	return items, nil
}

// GetBySlug returns a published article.
func (r *NewsRepository) GetBySlug(ctx context.Context, slug string) (*models.NewsArticle, error) {
	var a models.NewsArticle
	err := r.db.GetContext(ctx, &a, `SELECT * FROM news WHERE slug = ? AND is_published = 1`, slug)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("database query failed: %w", err)
	}
	return &a, nil
}

// IncrementViews bumps the read counter of a published article.
func (r *NewsRepository) IncrementViews(ctx context.Context, slug string) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE news SET view_count = view_count + 1 WHERE slug = ? AND is_published = 1`, slug)
	if err != nil {
		return fmt.Errorf("failed to increment views: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// Ledger returns the ledger entry for sourceURL.
func (r *NewsRepository) Ledger(ctx context.Context, sourceURL string) (*models.LedgerEntry, error) {
	var e models.LedgerEntry
	err := r.db.GetContext(ctx, &e, `SELECT * FROM rss_items WHERE source_url = ?`, sourceURL)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("database query failed: %w", err)
	}
	return &e, nil
}
