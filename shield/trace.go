package shield

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/hazyhaar/xharvest/idgen"
	"github.com/hazyhaar/xharvest/kit"
)

// RequestIDHeader carries the request id in both directions.
const RequestIDHeader = "X-Request-ID"

type contextKey string

// LoggerKey is the context key for the per-request logger.
const LoggerKey contextKey = "shield_logger"

// RequestContext tags each request for the kit endpoints: transport
// "http", the client address, and a request id taken from the
// X-Request-ID header when it holds a valid id, generated otherwise. It also stores a per-request logger
// carrying those attributes.
func RequestContext(logger *slog.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := r.Header.Get(RequestIDHeader)
			if _, err := idgen.Parse(id); err != nil || len(id) > 128 {
				id = idgen.Request()
			}
			ip := ExtractIP(r)

			ctx := kit.WithTransport(r.Context(), "http")
			ctx = kit.WithRequestID(ctx, id)
			ctx = kit.WithRemoteAddr(ctx, ip)
			w.Header().Set(RequestIDHeader, id)

			reqLog := logger.With("request_id", id, "method", r.Method, "path", r.URL.Path, "remote_addr", ip)
			ctx = context.WithValue(ctx, LoggerKey, reqLog)
			reqLog.Debug("shield: request")

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// GetLogger returns the per-request logger, or slog.Default().
func GetLogger(ctx context.Context) *slog.Logger {
	if l, ok := ctx.Value(LoggerKey).(*slog.Logger); ok {
		return l
	}
	return slog.Default()
}
