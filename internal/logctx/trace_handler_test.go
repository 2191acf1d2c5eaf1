package logctx

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

func newTestLogger(buf *bytes.Buffer, level slog.Level) *slog.Logger {
	return slog.New(NewTraceHandler(slog.NewJSONHandler(buf, &slog.HandlerOptions{Level: level})))
}

func decode(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))

	return entry
}

func TestTraceHandlerWithoutCorrelation(t *testing.T) {
	var buf bytes.Buffer

	newTestLogger(&buf, slog.LevelInfo).InfoContext(context.Background(), "fetching", "path", "a/b.jar")

	entry := decode(t, &buf)
	assert.NotContains(t, entry, "trace_id")
	assert.NotContains(t, entry, "span_id")
	assert.NotContains(t, entry, "transfer_trace")
	assert.Equal(t, "fetching", entry["msg"])
	assert.Equal(t, "a/b.jar", entry["path"])
}

func TestTraceHandlerWithSpan(t *testing.T) {
	tp := sdktrace.NewTracerProvider()
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	ctx, span := tp.Tracer("test").Start(context.Background(), "download")
	defer span.End()

	var buf bytes.Buffer

	newTestLogger(&buf, slog.LevelInfo).InfoContext(ctx, "fetching")

	entry := decode(t, &buf)
	assert.Equal(t, span.SpanContext().TraceID().String(), entry["trace_id"])
	assert.Equal(t, span.SpanContext().SpanID().String(), entry["span_id"])
}

func TestTraceHandlerWithTransferTrace(t *testing.T) {
	var buf bytes.Buffer

	ctx := WithTrace(context.Background(), "build-42")
	newTestLogger(&buf, slog.LevelInfo).InfoContext(ctx, "fetching")

	assert.Equal(t, "build-42", decode(t, &buf)["transfer_trace"])
}

func TestWithTraceEmptyKeepsContext(t *testing.T) {
	ctx := WithTrace(context.Background(), "outer")

	assert.Equal(t, "outer", TraceFromContext(WithTrace(ctx, "")))
	assert.Empty(t, TraceFromContext(context.Background()))
}

func TestTraceHandlerEnabled(t *testing.T) {
	h := NewTraceHandler(slog.NewJSONHandler(&bytes.Buffer{}, &slog.HandlerOptions{Level: slog.LevelWarn}))
	ctx := context.Background()

	assert.False(t, h.Enabled(ctx, slog.LevelInfo))
	assert.True(t, h.Enabled(ctx, slog.LevelWarn))
	assert.True(t, h.Enabled(ctx, slog.LevelError))
}

func TestTraceHandlerWithAttrsAndGroup(t *testing.T) {
	var buf bytes.Buffer

	h := NewTraceHandler(slog.NewJSONHandler(&buf, nil))

	withAttrs := h.WithAttrs([]slog.Attr{slog.String("component", "fetcher")})
	require.IsType(t, &TraceHandler{}, withAttrs)

	withGroup := withAttrs.WithGroup("resource")
	require.IsType(t, &TraceHandler{}, withGroup)

	slog.New(withGroup).InfoContext(WithTrace(context.Background(), "t-1"), "fetched", "path", "x.pom")

	entry := decode(t, &buf)
	assert.Equal(t, "fetcher", entry["component"])
	assert.Equal(t, map[string]any{"path": "x.pom", "transfer_trace": "t-1"}, entry["resource"])
}

func TestLoggerFromContext(t *testing.T) {
	assert.Same(t, slog.Default(), LoggerFromContext(context.Background()))

	logger := slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))
	assert.Same(t, logger, LoggerFromContext(WithLogger(context.Background(), logger)))
}

func TestNewTraceHandlerPanicsOnNil(t *testing.T) {
	assert.Panics(t, func() { NewTraceHandler(nil) })
}
