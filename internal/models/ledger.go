package models

import (
	"database/sql"
	"time"
)

// LedgerEntry represents a row in the 'rss_items' table. NewsID is null when
// the attempt did not produce an article.
type LedgerEntry struct {
	ID        int64         `db:"id"`
	SourceURL string        `db:"source_url"`
	NewsID    sql.NullInt64 `db:"news_id"`
	CreatedAt time.Time     `db:"created_at"`
}
