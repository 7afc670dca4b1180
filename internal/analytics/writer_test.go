package analytics

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"cloud.google.com/go/bigquery"
	"google.golang.org/api/googleapi"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

type fakeInserter struct {
	errs  []error
	calls int
	rows  [][]any
	table string
}

func (f *fakeInserter) InsertRows(ctx context.Context, table string, rows []any) error {
	f.calls++
	f.table = table
	f.rows = append(f.rows, rows)
	if len(f.errs) == 0 {
		return nil
	}
	err := f.errs[0]
	f.errs = f.errs[1:]
	return err
}

func fastRetry() RetryPolicy {
	return RetryPolicy{MaxAttempts: 3, InitialBackoff: time.Millisecond, MaximumBackoff: 2 * time.Millisecond}
}

func TestWriterUsesEventIDAsInsertID(t *testing.T) {
	inserter := &fakeInserter{}
	w, err := NewWriter(inserter, " escrow_facts ", fastRetry())
	if err != nil {
		t.Fatalf("new writer: %v", err)
	}

	if err := w.Insert(context.Background(), &FactRow{EventID: "evt-1"}, nil); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if inserter.table != "escrow_facts" {
		t.Fatalf("unexpected table %q", inserter.table)
	}
	if len(inserter.rows) != 1 || len(inserter.rows[0]) != 1 {
		t.Fatalf("expected a single row, got %v", inserter.rows)
	}
	saver, ok := inserter.rows[0][0].(*bigquery.StructSaver)
	if !ok || saver.InsertID != "evt-1" {
		t.Fatalf("expected struct saver keyed by event id, got %#v", inserter.rows[0][0])
	}
}

func TestWriterRetriesTransientErrors(t *testing.T) {
	inserter := &fakeInserter{errs: []error{
		&googleapi.Error{Code: http.StatusServiceUnavailable},
		status.Error(codes.Unavailable, "backend"),
	}}
	w, _ := NewWriter(inserter, "escrow_facts", fastRetry())

	if err := w.Insert(context.Background(), &FactRow{EventID: "evt-2"}); err != nil {
		t.Fatalf("expected success after retries, got %v", err)
	}
	if inserter.calls != 3 {
		t.Fatalf("expected 3 attempts, got %d", inserter.calls)
	}
}

func TestWriterStopsOnPermanentErrors(t *testing.T) {
	inserter := &fakeInserter{errs: []error{&googleapi.Error{Code: http.StatusBadRequest}}}
	w, _ := NewWriter(inserter, "escrow_facts", fastRetry())

	if err := w.Insert(context.Background(), &FactRow{EventID: "evt-3"}); err == nil {
		t.Fatalf("expected error")
	}
	if inserter.calls != 1 {
		t.Fatalf("permanent error should not retry, got %d calls", inserter.calls)
	}
}

func TestWriterGivesUpAfterMaxAttempts(t *testing.T) {
	transient := &googleapi.Error{Code: http.StatusTooManyRequests}
	inserter := &fakeInserter{errs: []error{transient, transient, transient, transient}}
	w, _ := NewWriter(inserter, "escrow_facts", fastRetry())

	err := w.Insert(context.Background(), &FactRow{EventID: "evt-4"})
	if err == nil {
		t.Fatalf("expected error after exhausting attempts")
	}
	if inserter.calls != 3 {
		t.Fatalf("expected 3 attempts, got %d", inserter.calls)
	}
}

func TestIsRetryableRowErrors(t *testing.T) {
	retryable := bigquery.PutMultiError{
		{InsertID: "a", Errors: bigquery.MultiError{&googleapi.Error{Code: http.StatusInternalServerError}}},
	}
	if !isRetryable(retryable) {
		t.Fatalf("row level 500 should be retryable")
	}
	mixed := bigquery.PutMultiError{
		{InsertID: "a", Errors: bigquery.MultiError{&googleapi.Error{Code: http.StatusInternalServerError}}},
		{InsertID: "b", Errors: bigquery.MultiError{errors.New("no such field: stage")}},
	}
	if isRetryable(mixed) {
		t.Fatalf("a schema error makes the batch permanent")
	}
}

func TestNewWriterValidation(t *testing.T) {
	if _, err := NewWriter(nil, "escrow_facts", RetryPolicy{}); err == nil {
		t.Fatalf("expected client error")
	}
	if _, err := NewWriter(&fakeInserter{}, " ", RetryPolicy{}); err == nil {
		t.Fatalf("expected table error")
	}
	w, err := NewWriter(&fakeInserter{}, "escrow_facts", RetryPolicy{})
	if err != nil {
		t.Fatalf("new writer: %v", err)
	}
	if w.retry.MaxAttempts != defaultMaxAttempts || w.retry.MaximumBackoff != defaultMaximumBackoff {
		t.Fatalf("defaults not applied: %+v", w.retry)
	}
}

func TestWriterResendsOnlyFailedRows(t *testing.T) {
	inserter := &fakeInserter{errs: []error{bigquery.PutMultiError{
		{InsertID: "evt-6", RowIndex: 1, Errors: bigquery.MultiError{&googleapi.Error{Code: http.StatusServiceUnavailable}}},
	}}}
	w, _ := NewWriter(inserter, "escrow_facts", fastRetry())

	err := w.Insert(context.Background(), &FactRow{EventID: "evt-5"}, &FactRow{EventID: "evt-6"}, &FactRow{EventID: "evt-7"})
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	if inserter.calls != 2 {
		t.Fatalf("expected 2 attempts, got %d", inserter.calls)
	}
	retried := inserter.rows[1]
	if len(retried) != 1 || retried[0].(*bigquery.StructSaver).InsertID != "evt-6" {
		t.Fatalf("expected only evt-6 resent, got %#v", retried)
	}
}
