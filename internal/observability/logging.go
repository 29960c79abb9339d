package observability

import (
	"context"
	"log/slog"
)

// LogContext holds the request-scoped fields attached to every log line.
type LogContext struct {
	RequestID string
	Origin    string
	Key       string
	Operation string
}

type logContextKeyType string

const logContextKey logContextKeyType = "log-context"

// WithRequestID adds a request ID to the context.
func WithRequestID(ctx context.Context, id string) context.Context {
	lc := extractLogContext(ctx)
	lc.RequestID = id
	return context.WithValue(ctx, logContextKey, lc)
}

// WithOrigin adds the caller origin to the context.
func WithOrigin(ctx context.Context, origin string) context.Context {
	lc := extractLogContext(ctx)
	lc.Origin = origin
	return context.WithValue(ctx, logContextKey, lc)
}

// WithKey adds the setting key being processed to the context.
func WithKey(ctx context.Context, key string) context.Context {
	lc := extractLogContext(ctx)
	lc.Key = key
	return context.WithValue(ctx, logContextKey, lc)
}

// WithOperation names the operation (dispatch, restore, sweep, erase).
func WithOperation(ctx context.Context, op string) context.Context {
	lc := extractLogContext(ctx)
	lc.Operation = op
	return context.WithValue(ctx, logContextKey, lc)
}

func extractLogContext(ctx context.Context) LogContext {
	if ctx == nil {
		return LogContext{}
	}
	if lc, ok := ctx.Value(logContextKey).(LogContext); ok {
		return lc
	}
	return LogContext{}
}

func getLogAttrs(ctx context.Context) []slog.Attr {
	lc := extractLogContext(ctx)
	attrs := make([]slog.Attr, 0, 4)
	if lc.RequestID != "" {
		attrs = append(attrs, slog.String("request_id", lc.RequestID))
	}
	if lc.Origin != "" {
		attrs = append(attrs, slog.String("origin", lc.Origin))
	}
	if lc.Key != "" {
		attrs = append(attrs, slog.String("key", lc.Key))
	}
	if lc.Operation != "" {
		attrs = append(attrs, slog.String("operation", lc.Operation))
	}
	return attrs
}

// GetContext returns the structured log context from ctx.
func GetContext(ctx context.Context) LogContext {
	return extractLogContext(ctx)
}

// Attrs returns ctx's fields followed by attrs, for callers holding their own logger.
func Attrs(ctx context.Context, attrs ...slog.Attr) []slog.Attr {
	return append(getLogAttrs(ctx), attrs...)
}

func logAt(ctx context.Context, level slog.Level, msg string, attrs []slog.Attr) {
	slog.LogAttrs(ctx, level, msg, Attrs(ctx, attrs...)...)
}

// InfoContext logs an info message with context information.
func InfoContext(ctx context.Context, msg string, attrs ...slog.Attr) {
	logAt(ctx, slog.LevelInfo, msg, attrs)
}

// WarnContext logs a warning message with context information.
func WarnContext(ctx context.Context, msg string, attrs ...slog.Attr) {
	logAt(ctx, slog.LevelWarn, msg, attrs)
}

// ErrorContext logs an error message with context information.
func ErrorContext(ctx context.Context, msg string, attrs ...slog.Attr) {
	logAt(ctx, slog.LevelError, msg, attrs)
}

// DebugContext logs a debug message with context information.
func DebugContext(ctx context.Context, msg string, attrs ...slog.Attr) {
	logAt(ctx, slog.LevelDebug, msg, attrs)
}
