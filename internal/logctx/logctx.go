package logctx

import (
	"context"
	"log/slog"
)

type contextKey string

const (
	loggerKey contextKey = "logger"
	traceKey  contextKey = "transfer_trace"
)

// WithLogger returns a new context with the provided slog.Logger.
func WithLogger(ctx context.Context, logger *slog.Logger) context.Context {
	return context.WithValue(ctx, loggerKey, logger)
}

// LoggerFromContext retrieves the slog.Logger from the context, or returns slog.Default() if not found.
func LoggerFromContext(ctx context.Context) *slog.Logger {
	if l, ok := ctx.Value(loggerKey).(*slog.Logger); ok && l != nil {
		return l
	}

	return slog.Default()
}

// WithTrace stores a caller supplied correlation id. An empty trace leaves
// ctx untouched.
func WithTrace(ctx context.Context, trace string) context.Context {
	if trace == "" {
		return ctx
	}

	return context.WithValue(ctx, traceKey, trace)
}

// TraceFromContext returns the correlation id stored by WithTrace.
func TraceFromContext(ctx context.Context) string {
	if t, ok := ctx.Value(traceKey).(string); ok {
		return t
	}

	return ""
}
