// Package pagination provides keyset pagination for append-mostly listings
// such as the message log.
package pagination

import (
	"encoding/base64"
	"errors"
	"strconv"
	"strings"
	"time"
)

// ErrInvalidCursor is returned for cursors that were not produced by Encode.
var ErrInvalidCursor = errors.New("pagination: invalid cursor")

// DefaultLimit is the page size used when the caller does not ask for one.
const DefaultLimit = 20

// MaxLimit bounds caller-requested page sizes.
const MaxLimit = 100

// Cursor is the position after the last item of the previous page, in
// (At desc, ID desc) order.
type Cursor struct {
	At time.Time
	ID string
}

// Page is the JSON envelope returned with a listing.
type Page struct {
	NextCursor string `json:"nextCursor,omitempty"`
	HasMore    bool   `json:"hasMore"`
}

// Encode returns an opaque cursor string from a timestamp and ID.
func Encode(at time.Time, id string) string {
	raw := strconv.FormatInt(at.UnixNano(), 10) + "|" + id
	return base64.RawURLEncoding.EncodeToString([]byte(raw))
}

// Decode parses an opaque cursor string. Returns nil for empty input.
func Decode(s string) (*Cursor, error) {
	if s == "" {
		return nil, nil
	}
	raw, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return nil, ErrInvalidCursor
	}
	nanos, id, ok := strings.Cut(string(raw), "|")
	if !ok || id == "" {
		return nil, ErrInvalidCursor
	}
	n, err := strconv.ParseInt(nanos, 10, 64)
	if err != nil {
		return nil, ErrInvalidCursor
	}
	return &Cursor{At: time.Unix(0, n).UTC(), ID: id}, nil
}

// Limit parses a requested page size, falling back to DefaultLimit and
// clamping to MaxLimit.
func Limit(raw string) int {
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return DefaultLimit
	}
	if n > MaxLimit {
		return MaxLimit
	}
	return n
}

// Before reports whether an item sorts after the cursor position, i.e.
// belongs on a later page in (At desc, ID desc) order.
func (c *Cursor) Before(at time.Time, id string) bool {
	if c == nil {
		return true
	}
	if at.Equal(c.At) {
		return id < c.ID
	}
	return at.Before(c.At)
}

// ComputePage takes items fetched with limit+1, trims them to limit and
// returns the page envelope.
func ComputePage[T any](items []T, limit int, key func(T) (time.Time, string)) ([]T, Page) {
	if len(items) <= limit {
		return items, Page{}
	}
	items = items[:limit]
	at, id := key(items[len(items)-1])
	return items, Page{NextCursor: Encode(at, id), HasMore: true}
}
