package middleware

import (
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ulule/limiter/v3"
	"github.com/ulule/limiter/v3/drivers/store/memory"

	"github.com/noretmy/escrow-backend/api/responses"
	"github.com/noretmy/escrow-backend/pkg/config"
	pkgerrors "github.com/noretmy/escrow-backend/pkg/errors"
	"github.com/noretmy/escrow-backend/pkg/logger"
)

// ActionRateLimit caps state-changing requests per caller: the authenticated
// user when there is one, the client IP otherwise. Reads are not counted.
// Counters are per process, so the effective limit scales with replicas.
func ActionRateLimit(cfg config.RateLimitConfig, logg *logger.Logger) func(http.Handler) http.Handler {
	if cfg.Actions <= 0 || cfg.Period <= 0 {
		return func(next http.Handler) http.Handler { return next }
	}
	return rateLimit(limiter.New(memory.NewStore(), limiter.Rate{Period: cfg.Period, Limit: cfg.Actions}), logg)
}

func rateLimit(limit *limiter.Limiter, logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			switch r.Method {
			case http.MethodGet, http.MethodHead, http.MethodOptions:
				next.ServeHTTP(w, r)
				return
			}

			ctx := r.Context()
			state, err := limit.Get(ctx, rateKey(r))
			if err != nil {
				if logg != nil {
					logg.Warn(logg.WithField(ctx, "error", err.Error()), "rate limiter unavailable; request allowed")
				}
				next.ServeHTTP(w, r)
				return
			}

			h := w.Header()
			h.Set("X-RateLimit-Limit", strconv.FormatInt(state.Limit, 10))
			h.Set("X-RateLimit-Remaining", strconv.FormatInt(state.Remaining, 10))
			h.Set("X-RateLimit-Reset", strconv.FormatInt(state.Reset, 10))
			if !state.Reached {
				next.ServeHTTP(w, r)
				return
			}

			wait := max(state.Reset-time.Now().Unix(), 1)
			h.Set("Retry-After", strconv.FormatInt(wait, 10))
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeRateLimited, "too many order actions").
				WithDetails(map[string]any{"limit": state.Limit, "retry_after_seconds": wait}))
		})
	}
}

func rateKey(r *http.Request) string {
	if id := UserIDFromContext(r.Context()); id != "" {
		return "user:" + id
	}
	return "ip:" + clientIP(r)
}

// clientIP prefers the first X-Forwarded-For hop, as set by the load balancer.
func clientIP(r *http.Request) string {
	if first, _, _ := strings.Cut(r.Header.Get("X-Forwarded-For"), ","); strings.TrimSpace(first) != "" {
		return strings.TrimSpace(first)
	}
	if ip := strings.TrimSpace(r.Header.Get("X-Real-IP")); ip != "" {
		return ip
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
