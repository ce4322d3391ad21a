package auth

import (
	"log/slog"
	"net/http"

	"github.com/rhuss/lmbroker/pkg/api"
	"github.com/rhuss/lmbroker/pkg/debug"
	"github.com/rhuss/lmbroker/pkg/observability"
	"github.com/rhuss/lmbroker/pkg/transport"
)

// DefaultBypassEndpoints lists endpoints that skip authentication.
var DefaultBypassEndpoints = []string{"/healthz", "/readyz", "/metrics"}

// Middleware authenticates every request not on the bypass list and puts
// the caller identity, with its exchange scope, on the request context.
// Rejected requests get a 401 (or 429 from the limiter) in the broker's
// error envelope. A nil limiter disables rate limiting.
func Middleware(chain *Chain, limiter RateLimiter, bypassEndpoints []string) transport.Middleware {
	bypass := make(map[string]bool, len(bypassEndpoints))
	for _, ep := range bypassEndpoints {
		bypass[ep] = true
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if bypass[r.URL.Path] {
				next.ServeHTTP(w, r)
				return
			}

			result := chain.Authenticate(r.Context(), r)

			if result.Decision != Accept || result.Identity == nil {
				slog.Warn("authentication failed",
					"path", r.URL.Path,
					"remote_addr", r.RemoteAddr,
					"error", result.Err,
				)
				transport.WriteAPIError(w, api.NewUnauthorizedError("authentication required"))
				return
			}

			if result.Identity.Subject == "" {
				slog.Error("authenticator returned identity with empty subject")
				transport.WriteAPIError(w, api.NewServerError("internal authentication error"))
				return
			}

			if limiter != nil {
				if err := limiter.Allow(r.Context(), result.Identity); err != nil {
					slog.Warn("rate limit exceeded",
						"subject", result.Identity.Subject,
						"tier", tierOf(result.Identity),
					)
					observability.RateLimitRejectedTotal.WithLabelValues(tierOf(result.Identity)).Inc()
					transport.WriteAPIError(w, api.NewTooManyRequestsError(err.Error()))
					return
				}
			}

			debug.Log(debug.Auth, "caller admitted", "subject", result.Identity.Subject, "tenant", result.Identity.Tenant)
			next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), result.Identity)))
		})
	}
}
