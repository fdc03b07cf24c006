// Package logging is the bridge's slog setup: one JSON or text handler,
// shared field names, and the firehose connection id carried in context.
package logging

import (
	"context"
	"io"
	"log/slog"
)

type contextKey struct{}

// Logger adds the connection id from ctx to every *Context call.
type Logger struct {
	*slog.Logger
}

// NewWithWriter logs to w at level. format is "text" or "json"; anything
// else means json. Error records carry their source location.
func NewWithWriter(w io.Writer, level slog.Level, format string) *Logger {
	opts := &slog.HandlerOptions{
		Level:     level,
		AddSource: level <= slog.LevelError,
	}

	var handler slog.Handler
	if format == "text" {
		handler = slog.NewTextHandler(w, opts)
	} else {
		handler = slog.NewJSONHandler(w, opts)
	}
	return &Logger{Logger: slog.New(handler)}
}

// Discard drops everything. Components built without a logger use it.
func Discard() *Logger {
	return &Logger{Logger: slog.New(slog.NewTextHandler(io.Discard, nil))}
}

// WithConnID tags ctx with the firehose connection attempt it serves.
func WithConnID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, contextKey{}, id)
}

func (l *Logger) fromContext(ctx context.Context) *slog.Logger {
	if id, ok := ctx.Value(contextKey{}).(string); ok && id != "" {
		return l.Logger.With(slog.String(FieldConnID, id))
	}
	return l.Logger
}

func (l *Logger) InfoContext(ctx context.Context, msg string, args ...any) {
	l.fromContext(ctx).InfoContext(ctx, msg, args...)
}

func (l *Logger) WarnContext(ctx context.Context, msg string, args ...any) {
	l.fromContext(ctx).WarnContext(ctx, msg, args...)
}

func (l *Logger) ErrorContext(ctx context.Context, msg string, args ...any) {
	l.fromContext(ctx).ErrorContext(ctx, msg, args...)
}

func (l *Logger) DebugContext(ctx context.Context, msg string, args ...any) {
	l.fromContext(ctx).DebugContext(ctx, msg, args...)
}

// With returns a Logger with args added to every record.
func (l *Logger) With(args ...any) *Logger {
	return &Logger{Logger: l.Logger.With(args...)}
}

// ParseLevel maps debug, info, warn and error; anything else is info.
func ParseLevel(level string) slog.Level {
	switch level {
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

// SetDefault routes slog.Default and the log package through l.
func SetDefault(l *Logger) {
	slog.SetDefault(l.Logger)
}
