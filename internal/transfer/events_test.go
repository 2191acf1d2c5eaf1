package transfer

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/italolelis/artifact_connector/internal/logctx"
)

func TestMultiSinkFansOutInOrder(t *testing.T) {
	first, second := newRecordingSink(), newRecordingSink()
	sink := MultiSink{first, nil, second}

	e := Event{Resource: Resource{Path: "a.jar"}}
	ctx := context.Background()

	sink.TransferInitiated(ctx, e)
	sink.TransferStarted(ctx, e)
	sink.TransferProgressed(ctx, e)
	sink.TransferCorrupted(ctx, e)
	sink.TransferSucceeded(ctx, e)
	sink.TransferFailed(ctx, e)

	assert.Len(t, first.of("a.jar"), 6)
	assert.Len(t, second.of("a.jar"), 6)
}

func logLines(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()

	var lines []map[string]any

	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}

		var entry map[string]any
		require.NoError(t, json.Unmarshal([]byte(line), &entry))
		lines = append(lines, entry)
	}

	return lines
}

func TestLogSink(t *testing.T) {
	var buf bytes.Buffer

	logger := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	ctx := logctx.WithLogger(context.Background(), logger)

	sink := NewLogSink(100)
	base := Event{RequestType: RequestGet, Resource: Resource{Path: "a/lib.jar", File: "/tmp/lib.jar", Kind: ResourceArtifact}}

	started := base
	started.ContentLength = 2048
	sink.TransferStarted(ctx, started)

	for i := int64(1); i <= 10; i++ {
		e := base
		e.DataBuffer = make([]byte, 30)
		e.TransferredBytes = i * 30
		sink.TransferProgressed(ctx, e)
	}

	done := base
	done.TransferredBytes = 300
	sink.TransferSucceeded(ctx, done)

	lines := logLines(t, &buf)

	var progress int

	for _, l := range lines {
		if l["msg"] == "transfer progress" {
			progress++
		}
	}

	assert.Equal(t, 2, progress, "progress is throttled to every 100 bytes")
	assert.Equal(t, "transfer started", lines[0]["msg"])
	assert.Equal(t, "2.0 kB", lines[0]["size"])
	assert.Equal(t, "a/lib.jar", lines[0]["path"])
	assert.Equal(t, "transfer succeeded", lines[len(lines)-1]["msg"])
}

func TestLogSinkFailureLevels(t *testing.T) {
	var buf bytes.Buffer

	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	ctx := logctx.WithLogger(context.Background(), logger)
	sink := NewLogSink(0)

	sink.TransferFailed(ctx, Event{Err: &Error{Kind: KindNotFound}})
	sink.TransferFailed(ctx, Event{Err: &Error{Kind: KindTransfer}})

	lines := logLines(t, &buf)
	require.Len(t, lines, 2)
	assert.Equal(t, "INFO", lines[0]["level"])
	assert.Equal(t, "ERROR", lines[1]["level"])
}
