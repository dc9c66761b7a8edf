// Package storage holds the SQL repositories shared by the pipelines and
// the HTTP API.
package storage

import (
	"errors"

	sq "github.com/Masterminds/squirrel"
)

var (
	// ErrNotFound is returned when a looked-up row does not exist.
	ErrNotFound = errors.New("not found")
	// ErrDuplicate is returned when a source URL is already in the ledger.
	ErrDuplicate = errors.New("source url already processed")
	// ErrSlugTaken is returned when an article slug is already in use.
	ErrSlugTaken = errors.New("slug already taken")
)

// psql builds queries with '?' placeholders for SQLite.
var psql = sq.StatementBuilder.PlaceholderFormat(sq.Question)
