package models

import (
	"database/sql"
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// NewsArticle represents a row in the 'news' table
type NewsArticle struct {
	ID            int64          `db:"id" json:"id"`
	Slug          string         `db:"slug" json:"slug"`
	Title         string         `db:"title" json:"title"`
	OriginalTitle string         `db:"original_title" json:"original_title"`
	Content       string         `db:"content" json:"content"`
	Excerpt       string         `db:"excerpt" json:"excerpt"`
	Category      Category       `db:"category" json:"category"`
	Tags          StringList     `db:"tags" json:"tags"`
	ImageURL      sql.NullString `db:"image_url" json:"-"`
	ImageAlt      string         `db:"image_alt" json:"image_alt"`
	SourceURL     string         `db:"source_url" json:"source_url"`
	SourceName    string         `db:"source_name" json:"source_name"`
	PublishedAt   time.Time      `db:"published_at" json:"published_at"`
	IsPublished   bool           `db:"is_published" json:"is_published"`
	ViewCount     int64          `db:"view_count" json:"view_count"`
	ReadingTime   int            `db:"reading_time" json:"reading_time"`
	CreatedAt     time.Time      `db:"created_at" json:"created_at"`
}

// MarshalJSON flattens the nullable image column.
func (n NewsArticle) MarshalJSON() ([]byte, error) {
	type alias NewsArticle
	var image *string
	if n.ImageURL.Valid {
		image = &n.ImageURL.String
	}
	return json.Marshal(struct {
		alias
		ImageURL *string `json:"image_url"`
	}{alias: alias(n), ImageURL: image})
}

// StringList is stored as a JSON array in a TEXT column.
type StringList []string

// Value implements driver.Valuer.
func (l StringList) Value() (driver.Value, error) {
	if l == nil {
		return "[]", nil
	}
	b, err := json.Marshal([]string(l))
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan implements sql.Scanner.
func (l *StringList) Scan(src any) error {
	var raw []byte
	switch v := src.(type) {
	case nil:
		*l = StringList{}
		return nil
	case string:
		raw = []byte(v)
	case []byte:
		raw = v
	default:
		return fmt.Errorf("cannot scan %T into StringList", src)
	}
	var out []string
	if err := json.Unmarshal(raw, &out); err != nil {
		return fmt.Errorf("decode string list: %w", err)
	}
	*l = out
	return nil
}
