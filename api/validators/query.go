package validators

import (
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	pkgerrors "github.com/noretmy/escrow-backend/pkg/errors"
)

// QueryReader reads typed query parameters and collects one message per bad
// field, so a handler reports every problem in a single validation error.
type QueryReader struct {
	values  url.Values
	invalid map[string]string
}

func Query(r *http.Request) *QueryReader {
	return &QueryReader{values: r.URL.Query(), invalid: map[string]string{}}
}

// Text returns the trimmed value of key, or "" when absent.
func (q *QueryReader) Text(key string) string {
	return strings.TrimSpace(q.values.Get(key))
}

// Int returns key as an int within [lo, hi], or fallback when absent.
func (q *QueryReader) Int(key string, fallback, lo, hi int) int {
	raw := q.Text(key)
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	switch {
	case err != nil:
		q.invalid[key] = "must be numeric"
		return fallback
	case n < lo || n > hi:
		q.invalid[key] = fmt.Sprintf("must be between %d and %d", lo, hi)
		return fallback
	}
	return n
}

// Err is nil when every parameter read so far was acceptable.
func (q *QueryReader) Err() error {
	if len(q.invalid) == 0 {
		return nil
	}
	return pkgerrors.New(pkgerrors.CodeValidation, "invalid query parameters").WithDetails(q.invalid)
}

// ParseQueryInt reads a single bounded integer parameter.
func ParseQueryInt(r *http.Request, key string, fallback, lo, hi int) (int, error) {
	q := Query(r)
	n := q.Int(key, fallback, lo, hi)
	return n, q.Err()
}
