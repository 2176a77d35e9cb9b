package logger

import (
	"io"
	"log/slog"
	"os"
	"pok7/internal/config"
	"strings"
)

func NewLogger(cfg config.Config) *slog.Logger {
	logger := slog.New(newHandler(os.Stdout, *cfg.Logger)).With(
		slog.String("service", cfg.Service.Name),
		slog.String("env", cfg.Service.Env),
		slog.String("address", cfg.Service.Add),
		slog.Int("pid", os.Getpid()),
	)
	slog.SetDefault(logger)
	return logger
}

func newHandler(w io.Writer, cfg config.LoggerConfig) slog.Handler {
	opts := &slog.HandlerOptions{
		Level:     parseLevel(cfg.Level),
		AddSource: true, // critical for incident debugging
	}
	if strings.EqualFold(cfg.Format, "TEXT") {
		return slog.NewTextHandler(w, opts)
	}
	return slog.NewJSONHandler(w, opts)
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
