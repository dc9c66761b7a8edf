package models

import "time"

// RawItem is a single feed entry as fetched, before any rewriting.
// It only lives for the duration of a run.
type RawItem struct {
	Title           string
	Link            string
	PublishedAt     *time.Time
	Content         string // full markup when the feed carries it
	Snippet         string // plain-text description
	ImageURL        string
	SourceName      string
	SourceURL       string
	DefaultCategory Category
}
