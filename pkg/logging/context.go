package logging

import (
	"context"
	"log/slog"
)

type ctxKey struct{}

// WithContext stores log in ctx for downstream handlers.
func WithContext(ctx context.Context, log *slog.Logger) context.Context {
	return context.WithValue(ctx, ctxKey{}, log)
}

// With derives a child of the logger already in ctx (or the default one)
// carrying args, and stores it back.
func With(ctx context.Context, args ...any) context.Context {
	return WithContext(ctx, FromContext(ctx).With(args...))
}

// Lookup reports the logger stored in ctx, if any.
func Lookup(ctx context.Context) (*slog.Logger, bool) {
	l, ok := ctx.Value(ctxKey{}).(*slog.Logger)
	return l, ok && l != nil
}

func FromContext(ctx context.Context) *slog.Logger {
	if l, ok := Lookup(ctx); ok {
		return l
	}
	return slog.Default()
}
