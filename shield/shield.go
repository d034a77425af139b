// Package shield is the HTTP middleware stack of the control API: request
// context, security headers, body limits and per-client rate limits.
//
//	r := chi.NewRouter()
//	for _, mw := range shield.DefaultAPIStack(logger, rules) {
//	    r.Use(mw)
//	}
package shield

import (
	"log/slog"
	"net/http"
)

// DefaultAPIStack returns the control API middleware, outermost first:
// HeadToGet, SecurityHeaders, MaxBody, RequestContext, then the rate
// limiter when rules is non-empty.
func DefaultAPIStack(logger *slog.Logger, rules map[string]RateLimitConfig) []func(http.Handler) http.Handler {
	stack := []func(http.Handler) http.Handler{
		HeadToGet,
		SecurityHeaders(APIHeaders()),
		MaxBody(64 * 1024),
		RequestContext(logger),
	}
	if len(rules) > 0 {
		stack = append(stack, NewRateLimiter(rules).Middleware)
	}
	return stack
}
