package middleware

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/noretmy/escrow-backend/api/responses"
	pkgerrors "github.com/noretmy/escrow-backend/pkg/errors"
	"github.com/noretmy/escrow-backend/pkg/logger"
)

const (
	defaultIdempotencyTTL  = 24 * time.Hour
	criticalIdempotencyTTL = 7 * 24 * time.Hour
	inFlightTTL            = 2 * time.Minute
	idempotencyHeader      = "Idempotency-Key"
	replayedHeader         = "Idempotent-Replayed"
	maxIdempotencyBody     = 1 << 20
)

// ResponseStore is the subset of the redis client used to replay responses.
type ResponseStore interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
	SetNX(ctx context.Context, key string, value any, ttl time.Duration) (bool, error)
	Del(ctx context.Context, keys ...string) error
	IdempotencyKey(scope, id string) string
}

type routeMatcher func(string) bool

type idempotencyRule struct {
	method   string
	matcher  routeMatcher
	critical bool
}

// Money moving actions keep their replay record for a week.
var idempotencyRules = []idempotencyRule{
	{method: http.MethodPost, matcher: matchExact("/api/v1/orders"), critical: true},
	{method: http.MethodPost, matcher: matchOrderAction("cancel"), critical: true},
	{method: http.MethodPost, matcher: matchOrderAction("approve"), critical: true},
	{method: http.MethodPost, matcher: matchOrderAction("start"), critical: true},
	{method: http.MethodPost, matcher: matchOrderAction("deliver"), critical: true},
	{method: http.MethodPost, matcher: matchOrderAction("")},
	{method: http.MethodPost, matcher: matchPrefixSuffix("/api/admin/v1/webhooks/", "/replay")},
}

// replayRecord is what Redis holds under an idempotency key. While the first
// request runs it is only a claim: InFlight set, no response yet.
type replayRecord struct {
	Fingerprint string `json:"fingerprint"`
	InFlight    bool   `json:"in_flight,omitempty"`
	Status      int    `json:"status,omitempty"`
	ContentType string `json:"content_type,omitempty"`
	Body        []byte `json:"body,omitempty"`
}

func (rr replayRecord) encode() (string, error) {
	raw, err := json.Marshal(rr)
	return string(raw), err
}

func parseReplayRecord(raw string) (replayRecord, error) {
	var rr replayRecord
	err := json.Unmarshal([]byte(raw), &rr)
	return rr, err
}

func (rr replayRecord) replay(w http.ResponseWriter) {
	if rr.ContentType != "" {
		w.Header().Set("Content-Type", rr.ContentType)
	}
	w.Header().Set(replayedHeader, "true")
	w.WriteHeader(rr.Status)
	_, _ = w.Write(rr.Body)
}

// Idempotency requires an Idempotency-Key on matched routes. The first
// request claims the key before the handler runs; a repeat with the same body
// replays the stored response, a repeat while the first is still running or
// with a different body is a conflict. Server errors release the claim so
// the client can retry.
func Idempotency(store ResponseStore, ttl time.Duration, logg *logger.Logger) func(http.Handler) http.Handler {
	if ttl <= 0 {
		ttl = defaultIdempotencyTTL
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			critical, matched := routeRule(r.Method, r.URL.Path)
			if !matched || store == nil {
				next.ServeHTTP(w, r)
				return
			}
			ctx := r.Context()
			fail := func(err error) { responses.WriteError(ctx, logg, w, err) }

			clientKey := strings.TrimSpace(r.Header.Get(idempotencyHeader))
			if clientKey == "" {
				fail(pkgerrors.New(pkgerrors.CodeValidation, idempotencyHeader+" header required"))
				return
			}
			body, err := io.ReadAll(io.LimitReader(r.Body, maxIdempotencyBody+1))
			switch {
			case err != nil:
				fail(pkgerrors.Wrap(pkgerrors.CodeValidation, err, "read request"))
				return
			case len(body) > maxIdempotencyBody:
				fail(pkgerrors.New(pkgerrors.CodeValidation, "request body too large"))
				return
			}
			r.Body = io.NopCloser(bytes.NewReader(body))

			fingerprint := fingerprintOf(body)
			key := store.IdempotencyKey(requestScope(r), clientKey)

			if existing, found, err := lookup(ctx, store, key); err != nil {
				fail(err)
				return
			} else if found {
				if err := existing.conflict(fingerprint); err != nil {
					fail(err)
					return
				}
				existing.replay(w)
				return
			}

			claim, _ := replayRecord{Fingerprint: fingerprint, InFlight: true}.encode()
			won, err := store.SetNX(ctx, key, claim, inFlightTTL)
			if err != nil {
				fail(pkgerrors.Wrap(pkgerrors.CodeDependency, err, "claim idempotency key"))
				return
			}
			if !won {
				fail(pkgerrors.New(pkgerrors.CodeIdempotency, "request with this idempotency key is in progress"))
				return
			}

			capture := &responseCapture{ResponseWriter: w}
			next.ServeHTTP(capture, r)

			status := capture.statusOrOK()
			if status >= http.StatusInternalServerError {
				if err := store.Del(ctx, key); err != nil {
					logError(ctx, logg, "release idempotency claim", err)
				}
				return
			}
			recordTTL := ttl
			if critical {
				recordTTL = max(recordTTL, criticalIdempotencyTTL)
			}
			done, err := replayRecord{
				Fingerprint: fingerprint,
				Status:      status,
				ContentType: capture.Header().Get("Content-Type"),
				Body:        capture.body.Bytes(),
			}.encode()
			if err == nil {
				err = store.Set(ctx, key, done, recordTTL)
			}
			if err != nil {
				logError(ctx, logg, "persist idempotency record", err)
			}
		})
	}
}

func lookup(ctx context.Context, store ResponseStore, key string) (replayRecord, bool, error) {
	raw, err := store.Get(ctx, key)
	switch {
	case errors.Is(err, redis.Nil) || (err == nil && raw == ""):
		return replayRecord{}, false, nil
	case err != nil:
		return replayRecord{}, false, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "check idempotency")
	}
	rr, err := parseReplayRecord(raw)
	if err != nil {
		return replayRecord{}, false, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "decode idempotency record")
	}
	return rr, true, nil
}

func (rr replayRecord) conflict(fingerprint string) error {
	switch {
	case rr.Fingerprint != fingerprint:
		return pkgerrors.New(pkgerrors.CodeIdempotency, "idempotency key reused with different request body")
	case rr.InFlight:
		return pkgerrors.New(pkgerrors.CodeIdempotency, "request with this idempotency key is in progress")
	}
	return nil
}

// requestScope keeps keys of different users and endpoints apart.
func requestScope(r *http.Request) string {
	return UserIDFromContext(r.Context()) + "|" + r.Method + "|" + r.URL.Path
}

func fingerprintOf(body []byte) string {
	sum := sha256.Sum256(body)
	return hex.EncodeToString(sum[:])
}

// routeRule reports whether the path needs a key and whether it is critical.
// Group middleware runs before chi resolves the full route pattern, so rules
// match the concrete request path.
func routeRule(method, path string) (critical bool, matched bool) {
	path = strings.TrimSuffix(path, "/")
	if path == "" {
		return false, false
	}
	for _, rule := range idempotencyRules {
		if rule.method == method && rule.matcher(path) {
			return rule.critical, true
		}
	}
	return false, false
}

func matchExact(want string) routeMatcher {
	return func(path string) bool {
		return path == want
	}
}

func matchPrefixSuffix(prefix, suffix string) routeMatcher {
	return func(path string) bool {
		return strings.HasPrefix(path, prefix) && strings.HasSuffix(path, suffix)
	}
}

// matchOrderAction matches /orders/{id}/{action} with or without the /api/v1
// prefix; an empty action matches any of them.
func matchOrderAction(action string) routeMatcher {
	return func(path string) bool {
		rest, ok := strings.CutPrefix(path, "/api/v1")
		if !ok {
			rest = path
		}
		tail, ok := strings.CutPrefix(rest, "/orders/")
		if !ok {
			return false
		}
		id, verb, ok := strings.Cut(tail, "/")
		if !ok || id == "" || verb == "" || strings.Contains(verb, "/") {
			return false
		}
		return action == "" || verb == action
	}
}

// responseCapture tees the handler's response so it can be stored.
type responseCapture struct {
	http.ResponseWriter
	body   bytes.Buffer
	status int
}

func (c *responseCapture) WriteHeader(code int) {
	if c.status == 0 {
		c.status = code
	}
	c.ResponseWriter.WriteHeader(code)
}

func (c *responseCapture) Write(b []byte) (int, error) {
	if c.status == 0 {
		c.status = http.StatusOK
	}
	c.body.Write(b)
	return c.ResponseWriter.Write(b)
}

func (c *responseCapture) statusOrOK() int {
	if c.status == 0 {
		return http.StatusOK
	}
	return c.status
}

func logError(ctx context.Context, logg *logger.Logger, msg string, err error) {
	if logg == nil || err == nil {
		return
	}
	logg.Error(ctx, msg, err)
}
