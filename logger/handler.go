package logger

import (
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/m-mizutani/clog"
)

// ParseLevel converts a level name into a [slog.Level].
func ParseLevel(level string) (slog.Level, error) {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown log level %q", level)
	}
}

// New builds the process handler for format ("text", "json" or "console"),
// wrapped in a [ContextHandler].
func New(format string, level slog.Level, w io.Writer) (ContextHandler, error) {
	var h slog.Handler
	switch strings.ToLower(format) {
	case "", "text":
		h = slog.NewTextHandler(w, &slog.HandlerOptions{Level: level})
	case "json":
		h = slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level})
	case "console":
		h = clog.New(
			clog.WithWriter(w),
			clog.WithLevel(level),
			clog.WithTimeFmt("15:04:05"),
			clog.WithSource(false),
		)
	default:
		return ContextHandler{}, fmt.Errorf("unknown logger format %q", format)
	}

	return NewContextHandler(h), nil
}
