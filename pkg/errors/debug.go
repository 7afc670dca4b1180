package errors

import (
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
)

const maxChainLinks = 16

// LogFields expands err into structured log fields for operators: its typed
// code, every wrapped link and, when a Postgres error is inside, the server's
// diagnostics. Empty values are left out. The result is for logs only and
// must never be written to a client.
func LogFields(err error) map[string]any {
	if err == nil {
		return map[string]any{}
	}
	fields := map[string]any{
		"error":       err.Error(),
		"error_chain": chain(err),
	}
	if typed := As(err); typed != nil {
		fields["error_code"] = typed.Code()
		fields["error_retryable"] = MetadataFor(typed.Code()).Retryable
	}
	for k, v := range postgresFields(err) {
		if v != "" {
			fields[k] = v
		}
	}
	return fields
}

// chain lists the wrapped errors depth first, following multi-error branches,
// capped at maxChainLinks.
func chain(err error) []string {
	var links []string
	var walk func(error)
	walk = func(e error) {
		for e != nil && len(links) < maxChainLinks {
			links = append(links, fmt.Sprintf("%T: %v", e, e))
			if multi, ok := e.(interface{ Unwrap() []error }); ok {
				for _, branch := range multi.Unwrap() {
					walk(branch)
				}
				return
			}
			e = errors.Unwrap(e)
		}
	}
	walk(err)
	return links
}

func postgresFields(err error) map[string]string {
	var pgxErr *pgconn.PgError
	if errors.As(err, &pgxErr) {
		return map[string]string{
			"pg_code":       pgxErr.Code,
			"pg_constraint": pgxErr.ConstraintName,
			"pg_table":      pgxErr.TableName,
			"pg_detail":     pgxErr.Detail,
			"pg_message":    pgxErr.Message,
		}
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return map[string]string{
			"pg_code":       string(pqErr.Code),
			"pg_constraint": pqErr.Constraint,
			"pg_table":      pqErr.Table,
			"pg_detail":     pqErr.Detail,
			"pg_message":    pqErr.Message,
		}
	}
	return nil
}
