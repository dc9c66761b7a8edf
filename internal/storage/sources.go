package storage

import (
	"context"
	"fmt"

	"vetrefill/jobs/internal/database"
	"vetrefill/jobs/internal/models"
)

// SourceRepository reads the feed_sources table.
type SourceRepository struct {
	db *database.DB
}

// NewSourceRepository creates a new repository instance.
func NewSourceRepository(db *database.DB) *SourceRepository {
	return &SourceRepository{db: db}
}

// List returns all feed sources ordered by id.
func (r *SourceRepository) List(ctx context.Context) ([]models.FeedSource, error) {
	out := []models.FeedSource{}
	if err := r.db.SelectContext(ctx, &out, `SELECT * FROM feed_sources ORDER BY id`); err != nil {
		return nil, fmt.Errorf("failed to load feed sources: %w", err)
	}
	return out, nil
}

// Insert adds a feed source and sets its ID.
func (r *SourceRepository) Insert(ctx context.Context, src *models.FeedSource) error {
	return r.db.InsertFeedSource(ctx, src)
}
