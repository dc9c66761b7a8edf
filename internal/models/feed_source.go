package models

import "time"

// FeedSource represents a row in the 'feed_sources' table
type FeedSource struct {
	ID              int64     `db:"id"`
	URL             string    `db:"url"`
	Name            string    `db:"name"`
	DefaultCategory Category  `db:"default_category"`
	Enabled         bool      `db:"enabled"`
	CreatedAt       time.Time `db:"created_at"`
	UpdatedAt       time.Time `db:"updated_at"`
}

// NewFeedSource creates an enabled FeedSource filed under the general category.
func NewFeedSource() *FeedSource {
	now := time.Now().UTC()
	return &FeedSource{
		DefaultCategory: CategoryGeneral,
		Enabled:         true,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
}
