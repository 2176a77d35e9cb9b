package middleware

import (
	"log/slog"
	"net/http"
	"pok7/pkg/logging"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"
)

const RequestIDHeader = "X-Request-ID"

// RequestLogger creates a middleware that logs requests and injects the logger.
func RequestLogger(log *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			reqID := r.Header.Get(RequestIDHeader)
			if reqID == "" {
				reqID = uuid.NewString()
			}
			w.Header().Set(RequestIDHeader, reqID)

			reqLog := log.With(
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.String("remote_addr", r.RemoteAddr),
				logging.RequestID(reqID),
			)
			if sc := trace.SpanContextFromContext(r.Context()); sc.HasTraceID() {
				reqLog = reqLog.With(logging.TraceID(sc.TraceID().String()))
			}
			ctx := logging.WithContext(r.Context(), reqLog)

			wrapped := wrap(w)
			next.ServeHTTP(wrapped, r.WithContext(ctx))

			reqLog.InfoContext(ctx, "request completed",
				slog.Int("status", wrapped.statusCode),
				slog.Duration("duration", time.Since(start)),
			)
		})
	}
}
