package middleware

import (
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"

	"github.com/mlqa/lingo/internal/config"
	"github.com/mlqa/lingo/pkg/httpext"
	"github.com/mlqa/lingo/pkg/ratelimit"
	"github.com/rs/zerolog/hlog"
)

func RateLimit(limitKey string) func(http.Handler) http.Handler {
	cfg := config.GetRateLimitConfig(limitKey)
	limiter := ratelimit.NewLimiter(cfg.Window, cfg.MaxHits)
	if cfg.Enabled {
		// Limiters live as long as the router, clients that went quiet are dropped
		limiter.StartPruning(cfg.Window)
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !cfg.Enabled {
				next.ServeHTTP(w, r)
				return
			}

			ip := clientIP(r)

			if !limiter.Allow(ip) {
				retryAfter := limiter.RetryAfter(ip)
				hlog.FromRequest(r).Warn().
					Str("client_ip", ip).
					Str("limit", limitKey).
					Dur("retry_after", retryAfter).
					Msg("Rate limit exceeded")
				w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(retryAfter.Seconds()))))
				httpext.JsonError(w, "Rate limit exceeded", http.StatusTooManyRequests)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// clientIP uses the first X-Forwarded-For hop if behind proxy, otherwise the
// remote address without its port
func clientIP(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		return strings.TrimSpace(strings.Split(forwarded, ",")[0])
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
