package connector

import (
	"context"
	"time"

	"github.com/italolelis/artifact_connector/internal/telemetry"
	"github.com/italolelis/artifact_connector/internal/transfer"
)

// metricsSink turns the events of a single request into transfer metrics.
// Events of one request arrive in order from one goroutine.
type metricsSink struct {
	tel       *telemetry.Telemetry
	direction string
	start     time.Time
}

func newMetricsSink(tel *telemetry.Telemetry, direction string) transfer.EventSink {
	if tel == nil {
		return nil
	}

	return &metricsSink{tel: tel, direction: direction}
}

func (s *metricsSink) TransferInitiated(ctx context.Context, _ transfer.Event) {
	s.start = time.Now()
	s.tel.IncrementActiveTransfers(ctx, s.direction)
}

func (s *metricsSink) TransferStarted(context.Context, transfer.Event) {}

func (s *metricsSink) TransferProgressed(ctx context.Context, e transfer.Event) {
	s.tel.RecordTransferBytes(ctx, s.direction, int64(len(e.DataBuffer)))
}

func (s *metricsSink) TransferCorrupted(ctx context.Context, e transfer.Event) {
	s.tel.RecordChecksumFailure(ctx, string(e.Resource.Kind))
}

func (s *metricsSink) TransferSucceeded(ctx context.Context, e transfer.Event) {
	s.finish(ctx, e, "success")
}

func (s *metricsSink) TransferFailed(ctx context.Context, e transfer.Event) {
	s.finish(ctx, e, "error")
}

func (s *metricsSink) finish(ctx context.Context, e transfer.Event, status string) {
	s.tel.DecrementActiveTransfers(ctx, s.direction)
	s.tel.RecordTransfer(ctx, s.direction, string(e.Resource.Kind), status, time.Since(s.start))
}
