package transfer

import (
	"context"
	"log/slog"
	"sync"

	"github.com/dustin/go-humanize"

	"github.com/italolelis/artifact_connector/internal/logctx"
	"github.com/italolelis/artifact_connector/internal/transfer/progress"
)

// EventType identifies a lifecycle event.
type EventType string

const (
	EventInitiated  EventType = "initiated"
	EventStarted    EventType = "started"
	EventProgressed EventType = "progressed"
	EventSucceeded  EventType = "succeeded"
	EventFailed     EventType = "failed"
	EventCorrupted  EventType = "corrupted"
)

// RequestType is the HTTP direction of a transfer.
type RequestType string

const (
	RequestGet RequestType = "GET"
	RequestPut RequestType = "PUT"
)

// Resource describes what is being transferred.
type Resource struct {
	RepositoryURL string
	Path          string
	File          string
	Kind          ResourceKind
	Trace         string
}

// Event is delivered to an EventSink. Events for one resource arrive in
// order: initiated, started, progressed*, then corrupted at most once and
// exactly one of succeeded or failed.
type Event struct {
	Type        EventType
	RequestType RequestType
	Resource    Resource
	// ContentLength is set on started events, -1 when unknown.
	ContentLength int64
	// TransferredBytes is cumulative for the resource.
	TransferredBytes int64
	// DataBuffer holds the chunk of a progressed event. It is only valid
	// for the duration of the call.
	DataBuffer []byte
	Err        error
}

// EventSink observes transfers. Implementations must be safe for concurrent
// use across resources and must not block for long.
type EventSink interface {
	TransferInitiated(ctx context.Context, e Event)
	TransferStarted(ctx context.Context, e Event)
	TransferProgressed(ctx context.Context, e Event)
	TransferSucceeded(ctx context.Context, e Event)
	TransferFailed(ctx context.Context, e Event)
	TransferCorrupted(ctx context.Context, e Event)
}

// NopSink ignores every event.
type NopSink struct{}

func (NopSink) TransferInitiated(context.Context, Event)  {}
func (NopSink) TransferStarted(context.Context, Event)    {}
func (NopSink) TransferProgressed(context.Context, Event) {}
func (NopSink) TransferSucceeded(context.Context, Event)  {}
func (NopSink) TransferFailed(context.Context, Event)     {}
func (NopSink) TransferCorrupted(context.Context, Event)  {}

// MultiSink fans events out to several sinks in order. Nil entries are skipped.
type MultiSink []EventSink

func (m MultiSink) TransferInitiated(ctx context.Context, e Event) {
	m.each(func(s EventSink) { s.TransferInitiated(ctx, e) })
}

func (m MultiSink) TransferStarted(ctx context.Context, e Event) {
	m.each(func(s EventSink) { s.TransferStarted(ctx, e) })
}

func (m MultiSink) TransferProgressed(ctx context.Context, e Event) {
	m.each(func(s EventSink) { s.TransferProgressed(ctx, e) })
}

func (m MultiSink) TransferSucceeded(ctx context.Context, e Event) {
	m.each(func(s EventSink) { s.TransferSucceeded(ctx, e) })
}

func (m MultiSink) TransferFailed(ctx context.Context, e Event) {
	m.each(func(s EventSink) { s.TransferFailed(ctx, e) })
}

func (m MultiSink) TransferCorrupted(ctx context.Context, e Event) {
	m.each(func(s EventSink) { s.TransferCorrupted(ctx, e) })
}

func (m MultiSink) each(fn func(EventSink)) {
	for _, s := range m {
		if s != nil {
			fn(s)
		}
	}
}

// LogSink writes lifecycle events to the context logger. Progress lines are
// throttled per resource.
type LogSink struct {
	// ProgressInterval is the number of bytes between progress lines.
	ProgressInterval int64

	throttles sync.Map // resource key -> *progress.Throttle
}

const defaultProgressInterval = 10 * 1024 * 1024

func NewLogSink(interval int64) *LogSink {
	if interval <= 0 {
		interval = defaultProgressInterval
	}

	return &LogSink{ProgressInterval: interval}
}

func (s *LogSink) TransferInitiated(ctx context.Context, e Event) {
	logctx.LoggerFromContext(ctx).DebugContext(ctx, "transfer initiated", eventAttrs(e)...)
}

func (s *LogSink) TransferStarted(ctx context.Context, e Event) {
	size := "unknown"
	if e.ContentLength >= 0 {
		size = humanize.Bytes(uint64(e.ContentLength))
	}

	logctx.LoggerFromContext(ctx).InfoContext(ctx, "transfer started", append(eventAttrs(e), "size", size)...)
}

func (s *LogSink) TransferProgressed(ctx context.Context, e Event) {
	th, _ := s.throttles.LoadOrStore(throttleKey(e), progress.NewThrottle(s.ProgressInterval))

	previous := e.TransferredBytes - int64(len(e.DataBuffer))
	if !th.(*progress.Throttle).Due(previous, e.TransferredBytes, -1) {
		return
	}

	logctx.LoggerFromContext(ctx).DebugContext(ctx, "transfer progress",
		append(eventAttrs(e), "transferred", humanize.Bytes(uint64(e.TransferredBytes)))...)
}

func (s *LogSink) TransferSucceeded(ctx context.Context, e Event) {
	s.forget(e)

	logctx.LoggerFromContext(ctx).InfoContext(ctx, "transfer succeeded",
		append(eventAttrs(e), "transferred", humanize.Bytes(uint64(e.TransferredBytes)))...)
}

func (s *LogSink) TransferFailed(ctx context.Context, e Event) {
	s.forget(e)

	level := slog.LevelError
	if KindOf(e.Err) == KindNotFound {
		level = slog.LevelInfo
	}

	logctx.LoggerFromContext(ctx).Log(ctx, level, "transfer failed", append(eventAttrs(e), "err", e.Err)...)
}

func (s *LogSink) TransferCorrupted(ctx context.Context, e Event) {
	logctx.LoggerFromContext(ctx).WarnContext(ctx, "transfer corrupted", append(eventAttrs(e), "err", e.Err)...)
}

func (s *LogSink) forget(e Event) {
	s.throttles.Delete(throttleKey(e))
}

func throttleKey(e Event) string {
	return string(e.RequestType) + " " + e.Resource.Path + " " + e.Resource.File
}

func eventAttrs(e Event) []any {
	return []any{
		"request_type", string(e.RequestType),
		"resource", string(e.Resource.Kind),
		"path", e.Resource.Path,
		"file", e.Resource.File,
	}
}
