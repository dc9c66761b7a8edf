package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/rs/zerolog/hlog"

	"vetrefill/jobs/internal/models"
	"vetrefill/jobs/internal/server/pagination"
	"vetrefill/jobs/internal/storage"
)

const defaultLimit = 20
const maxLimit = 100

// Response structure for the news list endpoint
type Response struct {
	Items      []models.NewsArticle `json:"items"`
	NextCursor *string              `json:"next_cursor,omitempty"`
}

// ArticleStore is the read side of the article table.
type ArticleStore interface {
	List(ctx context.Context, p storage.ListParams) ([]models.NewsArticle, error)
	GetBySlug(ctx context.Context, slug string) (*models.NewsArticle, error)
	IncrementViews(ctx context.Context, slug string) error
}

// NewsHandler serves published articles.
type NewsHandler struct {
	repo ArticleStore
}

// NewNewsHandler creates a new handler instance.
func NewNewsHandler(repo ArticleStore) *NewsHandler {
	return &NewsHandler{
		repo: repo,
	}
}

// ListNews handles GET /v1/news.
func (h *NewsHandler) ListNews(w http.ResponseWriter, r *http.Request) {
	log := hlog.FromRequest(r)
	log.Debug().Msg("Processing news list request")

	query := r.URL.Query()
	limitStr := query.Get("limit")
	cursorStr := query.Get("cursor")
	categoryStr := query.Get("category")

	params := storage.ListParams{Limit: defaultLimit}
	if limitStr != "" {
		parsedLimit, err := strconv.Atoi(limitStr)
		if err != nil || parsedLimit <= 0 || parsedLimit > maxLimit {
			log.Warn().Err(err).Str("limit", limitStr).Msg("Invalid 'limit' parameter value")
			writeError(w, r, http.StatusBadRequest, fmt.Sprintf("Invalid 'limit' parameter: must be between 1 and %d", maxLimit))
			return
		}
		params.Limit = parsedLimit
	}

	if categoryStr != "" {
		category, err := models.ParseCategory(categoryStr)
		if err != nil {
			log.Warn().Err(err).Str("category", categoryStr).Msg("Invalid 'category' parameter")
			writeError(w, r, http.StatusBadRequest, "Invalid 'category' parameter")
			return
		}
		params.Category = category
	}

	if cursorStr != "" {
		cursor, err := pagination.Decode(cursorStr)
		if err != nil {
			log.Warn().Err(err).Str("cursor", cursorStr).Msg("Invalid 'cursor' parameter")
			writeError(w, r, http.StatusBadRequest, "Invalid 'cursor' parameter")
			return
		}
		params.CursorTimestamp = &cursor.PublishedAt
		params.CursorID = &cursor.ID
	}

	limit := params.Limit
	params.Limit = limit + 1 // one extra row tells us whether a next page exists
	items, err := h.repo.List(r.Context(), params)
	if err != nil {
		log.Error().Err(err).
			Str("cursor", cursorStr).
			Str("category", categoryStr).
			Msg("Error fetching news from repository")
		writeError(w, r, http.StatusInternalServerError, "Internal server error")
		return
	}

	response := Response{Items: items}
	if len(items) > limit {
		response.Items = items[:limit]
		last := response.Items[limit-1]
		next := pagination.Cursor{PublishedAt: last.PublishedAt, ID: last.ID}.Encode()
		response.NextCursor = &next
	}

	writeJSON(w, r, http.StatusOK, response)
}

// GetNews handles GET /v1/news/{slug}. Every successful read counts as a view.
func (h *NewsHandler) GetNews(w http.ResponseWriter, r *http.Request) {
	log := hlog.FromRequest(r)
	slug := r.PathValue("slug")

	if err := h.repo.IncrementViews(r.Context(), slug); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, r, http.StatusNotFound, "Article not found")
			return
		}
		log.Error().Err(err).Str("slug", slug).Msg("Failed to count article view")
		writeError(w, r, http.StatusInternalServerError, "Internal server error")
		return
	}

	article, err := h.repo.GetBySlug(r.Context(), slug)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, r, http.StatusNotFound, "Article not found")
			return
		}
		log.Error().Err(err).Str("slug", slug).Msg("Failed to load article")
		writeError(w, r, http.StatusInternalServerError, "Internal server error")
		return
	}

	writeJSON(w, r, http.StatusOK, article)
}
