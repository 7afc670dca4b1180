package analytics

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"strings"
	"time"

	"cloud.google.com/go/bigquery"
	"google.golang.org/api/googleapi"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const (
	defaultMaxAttempts    = 3
	defaultInitialBackoff = 250 * time.Millisecond
	defaultMaximumBackoff = 2 * time.Second
)

// RetryPolicy bounds how often and how fast a failed insert is retried.
type RetryPolicy struct {
	MaxAttempts    int
	InitialBackoff time.Duration
	MaximumBackoff time.Duration
}

func (p RetryPolicy) withDefaults() RetryPolicy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = defaultMaxAttempts
	}
	if p.InitialBackoff <= 0 {
		p.InitialBackoff = defaultInitialBackoff
	}
	if p.MaximumBackoff < p.InitialBackoff {
		p.MaximumBackoff = max(defaultMaximumBackoff, p.InitialBackoff)
	}
	return p
}

type tableInserter interface {
	InsertRows(ctx context.Context, table string, rows []any) error
}

// Writer streams fact rows into BigQuery. The event id doubles as the insert
// id, so BigQuery drops most redelivered rows on its own.
type Writer struct {
	client tableInserter
	table  string
	retry  RetryPolicy
}

func NewWriter(client tableInserter, table string, retry RetryPolicy) (*Writer, error) {
	if client == nil {
		return nil, errors.New("bigquery client required")
	}
	if table = strings.TrimSpace(table); table == "" {
		return nil, errors.New("facts table is required")
	}
	return &Writer{client: client, table: table, retry: retry.withDefaults()}, nil
}

// Insert writes rows. When BigQuery rejects only some rows of a batch for
// transient reasons, the retry resends just those rows.
func (w *Writer) Insert(ctx context.Context, rows ...*FactRow) error {
	pending := make([]any, 0, len(rows))
	for _, row := range rows {
		if row != nil {
			pending = append(pending, &bigquery.StructSaver{Struct: row, InsertID: row.EventID})
		}
	}

	backoff := w.retry.InitialBackoff
	for attempt := 1; len(pending) > 0; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		err := w.client.InsertRows(ctx, w.table, pending)
		if err == nil {
			return nil
		}
		if attempt >= w.retry.MaxAttempts || !isRetryable(err) {
			return fmt.Errorf("insert %d rows into %s: %w", len(pending), w.table, err)
		}
		pending = failedRows(pending, err)

		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
		backoff = min(backoff*2, w.retry.MaximumBackoff)
	}
	return nil
}

// failedRows narrows rows to the ones a row-level error names. Any other
// error means the whole batch failed.
func failedRows(rows []any, err error) []any {
	var pme bigquery.PutMultiError
	if !errors.As(err, &pme) || len(pme) == 0 {
		return rows
	}
	out := make([]any, 0, len(pme))
	for _, rowErr := range pme {
		if rowErr.RowIndex < 0 || rowErr.RowIndex >= len(rows) {
			return rows
		}
		out = append(out, rows[rowErr.RowIndex])
	}
	return slices.Compact(out)
}

var (
	retryableHTTP = []int{
		http.StatusRequestTimeout, http.StatusTooManyRequests, http.StatusInternalServerError,
		http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout,
	}
	retryableGRPC = []codes.Code{
		codes.Aborted, codes.DeadlineExceeded, codes.Internal, codes.ResourceExhausted, codes.Unavailable,
	}
)

// isRetryable reports whether err is transient. A batch error is transient
// only when every error inside it is.
func isRetryable(err error) bool {
	var (
		multi  bigquery.MultiError
		pme    bigquery.PutMultiError
		apiErr *googleapi.Error
		grpcSt interface{ GRPCStatus() *status.Status }
	)
	switch {
	case err == nil:
		return false
	case errors.As(err, &multi):
		return len(multi) > 0 && !slices.ContainsFunc(multi, func(e error) bool { return !isRetryable(e) })
	case errors.As(err, &pme):
		return len(pme) > 0 && !slices.ContainsFunc(pme, func(r bigquery.RowInsertionError) bool { return !isRetryable(r.Errors) })
	case errors.As(err, &apiErr):
		return slices.Contains(retryableHTTP, apiErr.Code)
	case errors.As(err, &grpcSt):
		st := grpcSt.GRPCStatus()
		return st != nil && slices.Contains(retryableGRPC, st.Code())
	}
	return false
}
