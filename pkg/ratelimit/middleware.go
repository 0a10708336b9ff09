package ratelimit

import (
	"net"
	"net/http"
	"strconv"
	"time"

	"pressgate/pkg/auth"
	"pressgate/pkg/httpx"
)

// Middleware throttles action submissions per actor. Unauthenticated
// requests are keyed by client IP so login brute force shares the budget.
func Middleware(limiter Limiter, limit int) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if limiter == nil || limit <= 0 {
				next.ServeHTTP(w, r)
				return
			}
			d := limiter.Allow(requestKey(r), limit)
			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(d.Limit))
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
			w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(d.ResetAt.Unix(), 10))
			if !d.Allowed {
				retry := time.Until(d.ResetAt).Seconds()
				if retry < 1 {
					retry = 1
				}
				w.Header().Set("Retry-After", strconv.Itoa(int(retry)))
				httpx.ErrorCode(w, http.StatusTooManyRequests, "RATE_LIMITED", "too many requests, slow down")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func requestKey(r *http.Request) string {
	if actor, ok := auth.ActorFromContext(r.Context()); ok && actor.ID != "" {
		return "actor:" + actor.ID
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	return "ip:" + host
}
