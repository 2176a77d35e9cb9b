package logging

import (
	"log/slog"
	"time"
)

// Domain identifiers

func User(id string) slog.Attr {
	return slog.String("user_id", id)
}

func Actor(id string) slog.Attr {
	return slog.String("actor_id", id)
}

func Target(id string) slog.Attr {
	return slog.String("target_id", id)
}

func Channel(name string) slog.Attr {
	return slog.String("channel", name)
}

func Session(id string) slog.Attr {
	return slog.String("session_id", id)
}

func TTL(d time.Duration) slog.Attr {
	return slog.Duration("ttl", d)
}

// Request / tracing

func RequestID(id string) slog.Attr {
	return slog.String("request_id", id)
}

func TraceID(id string) slog.Attr {
	return slog.String("trace_id", id)
}

// Error handling

func Err(err error) slog.Attr {
	if err == nil {
		return slog.String("error", "")
	}
	return slog.String("error", err.Error())
}
