// Package logging provides the structured logger shared by every component.
//
// Output always goes to stderr because stdout carries the MCP stdio channel.
package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"
)

// Logger wraps slog.Logger with refcache field names
type Logger struct {
	*slog.Logger
}

// NewLogger creates a Logger with the given handler.
// If handler is nil, uses a text handler to stderr.
func NewLogger(handler slog.Handler) *Logger {
	if handler == nil {
		handler = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: slog.LevelInfo,
		})
	}
	return &Logger{
		Logger: slog.New(handler),
	}
}

// NewJSONLogger creates a Logger that writes JSON lines to stderr
func NewJSONLogger(level slog.Level) *Logger {
	return New(os.Stderr, "json", level)
}

// NewTextLogger creates a Logger that writes human-readable text to stderr
func NewTextLogger(level slog.Level) *Logger {
	return New(os.Stderr, "text", level)
}

// New creates a Logger writing to w in format "json" or "text"
func New(w io.Writer, format string, level slog.Level) *Logger {
	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if format == "json" {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}
	return &Logger{Logger: slog.New(handler)}
}

// Noop returns a Logger that discards everything
func Noop() *Logger {
	return New(io.Discard, "text", slog.Level(1000))
}

// ParseLevel maps debug|info|warn|error to a slog level
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown log level %q", s)
	}
}

// With returns a Logger carrying extra attributes
func (l *Logger) With(args ...any) *Logger {
	return &Logger{Logger: l.Logger.With(args...)}
}

// WithRun tags a logger with a sync run id
func (l *Logger) WithRun(runID string) *Logger {
	return l.With("run_id", runID)
}

// WithComponent tags a logger with the emitting component
func (l *Logger) WithComponent(name string) *Logger {
	return l.With("component", name)
}

// LogSync logs the outcome of a sync run.
func (l *Logger) LogSync(ctx context.Context, records int, duration time.Duration, err error) {
	if err != nil {
		l.ErrorContext(ctx, "sync failed",
			"duration_ms", duration.Milliseconds(),
			"error", err,
		)
	} else {
		l.InfoContext(ctx, "sync completed",
			"records", records,
			"duration_ms", duration.Milliseconds(),
		)
	}
}

// LogSearch logs a query on one of the search paths.
func (l *Logger) LogSearch(ctx context.Context, path, query string, results int, err error) {
	if err != nil {
		l.ErrorContext(ctx, "search failed",
			"path", path,
			"query", query,
			"error", err,
		)
	} else {
		l.DebugContext(ctx, "search completed",
			"path", path,
			"query", query,
			"results", results,
		)
	}
}

// LogCache logs a reference cache fetch.
func (l *Logger) LogCache(ctx context.Context, key string, items int, err error) {
	if err != nil {
		l.WarnContext(ctx, "cache fetch failed",
			"key", key,
			"error", err,
		)
	} else {
		l.DebugContext(ctx, "cache fetch completed",
			"key", key,
			"items", items,
		)
	}
}
