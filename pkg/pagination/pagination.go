// Package pagination implements keyset paging over (created_at, id) ordered
// listings. Cursors are opaque URL-safe tokens naming the last row served.
package pagination

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	DefaultLimit = 25
	MaxLimit     = 100
)

const cursorSep = "|"

var ErrMalformedCursor = errors.New("malformed cursor")

// Params carries the raw paging inputs of a list request.
type Params struct {
	Limit  int
	Cursor string
}

// Cursor identifies the last row of a served page.
type Cursor struct {
	CreatedAt time.Time
	ID        uuid.UUID
}

// Token encodes the cursor for a client.
func (c Cursor) Token() string {
	raw := c.CreatedAt.UTC().Format(time.RFC3339Nano) + cursorSep + c.ID.String()
	return base64.RawURLEncoding.EncodeToString([]byte(raw))
}

// Clamp maps a requested page size into [1, MaxLimit], using DefaultLimit for
// anything non-positive.
func Clamp(limit int) int {
	switch {
	case limit <= 0:
		return DefaultLimit
	case limit > MaxLimit:
		return MaxLimit
	default:
		return limit
	}
}

// ProbeSize is the row count to fetch for a page of limit rows: one extra row
// tells whether another page follows.
func ProbeSize(limit int) int {
	return Clamp(limit) + 1
}

// ParseToken decodes a client token. An empty token means the first page and
// yields a nil cursor.
func ParseToken(token string) (*Cursor, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, nil
	}
	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedCursor, err)
	}
	ts, id, ok := strings.Cut(string(raw), cursorSep)
	if !ok {
		return nil, ErrMalformedCursor
	}
	createdAt, err := time.Parse(time.RFC3339Nano, ts)
	if err != nil {
		return nil, fmt.Errorf("%w: timestamp: %v", ErrMalformedCursor, err)
	}
	parsedID, err := uuid.Parse(id)
	if err != nil {
		return nil, fmt.Errorf("%w: id: %v", ErrMalformedCursor, err)
	}
	return &Cursor{CreatedAt: createdAt, ID: parsedID}, nil
}

// Cut trims rows fetched with ProbeSize(limit) down to the page and reports
// the cursor of its last row when more rows remain.
func Cut[T any](rows []T, limit int, key func(T) Cursor) ([]T, *Cursor) {
	limit = Clamp(limit)
	if len(rows) <= limit {
		return rows, nil
	}
	rows = rows[:limit]
	next := key(rows[limit-1])
	return rows, &next
}
