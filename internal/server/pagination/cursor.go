// Package pagination encodes keyset positions for the article list.
package pagination

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

const cursorSeparator = "|"

// ErrInvalidCursor is returned for cursors that were not produced by Encode.
var ErrInvalidCursor = errors.New("invalid cursor")

// Cursor is the (published_at, id) position of the last article on a page.
type Cursor struct {
	PublishedAt time.Time
	ID          int64
}

// Encode returns the opaque form of the cursor. Timestamps are stored with
// second precision, so unix seconds round-trip exactly.
func (c Cursor) Encode() string {
	key := strconv.FormatInt(c.PublishedAt.Unix(), 10) + cursorSeparator + strconv.FormatInt(c.ID, 10)
	return base64.RawURLEncoding.EncodeToString([]byte(key))
}

// Decode parses an opaque cursor string.
func Decode(encoded string) (Cursor, error) {
	raw, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil {
		return Cursor{}, fmt.Errorf("%w: %v", ErrInvalidCursor, err)
	}

	secs, idPart, ok := strings.Cut(string(raw), cursorSeparator)
	if !ok {
		return Cursor{}, fmt.Errorf("%w: missing separator", ErrInvalidCursor)
	}

	unix, err := strconv.ParseInt(secs, 10, 64)
	if err != nil {
		return Cursor{}, fmt.Errorf("%w: bad timestamp: %v", ErrInvalidCursor, err)
	}
	id, err := strconv.ParseInt(idPart, 10, 64)
	if err != nil || id <= 0 {
		return Cursor{}, fmt.Errorf("%w: bad id %q", ErrInvalidCursor, idPart)
	}

	return Cursor{PublishedAt: time.Unix(unix, 0).UTC(), ID: id}, nil
}
