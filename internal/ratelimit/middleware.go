package ratelimit

import (
	"net/http"
	"strconv"
	"time"

	"github.com/facturio/facturio-api/internal/common"
)

// Middleware enforces the limiter per client IP and emits the conventional
// X-RateLimit headers. Limiter failures let the request through: Redis being
// down should not take invoicing down with it.
func Middleware(limiter Limiter, onError func(error)) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if limiter == nil {
				next.ServeHTTP(w, r)
				return
			}

			decision, err := limiter.Allow(r.Context(), ClientIP(r))
			if err != nil {
				if onError != nil {
					onError(err)
				}
				next.ServeHTTP(w, r)
				return
			}

			headers := w.Header()
			headers.Set("X-RateLimit-Limit", strconv.Itoa(decision.Limit))
			headers.Set("X-RateLimit-Remaining", strconv.Itoa(decision.Remaining))
			if !decision.ResetAt.IsZero() {
				headers.Set("X-RateLimit-Reset", strconv.FormatInt(decision.ResetAt.Unix(), 10))
			}

			if !decision.Allowed {
				retryAfter := int(time.Until(decision.ResetAt).Seconds())
				if retryAfter < 0 {
					retryAfter = 0
				}
				headers.Set("Retry-After", strconv.Itoa(retryAfter))
				common.JSONError(w, http.StatusTooManyRequests, "RATE_LIMITED", "too many requests", nil)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
