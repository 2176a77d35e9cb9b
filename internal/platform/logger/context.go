package logger

import (
	"context"
	"log/slog"
	"pok7/pkg/logging"
)

// FromContext returns the request scoped logger, or fallback when the
// request did not pass through the logging middleware.
func FromContext(ctx context.Context, fallback *slog.Logger) *slog.Logger {
	if l, ok := logging.Lookup(ctx); ok {
		return l
	}
	if fallback != nil {
		return fallback
	}
	return slog.Default()
}
