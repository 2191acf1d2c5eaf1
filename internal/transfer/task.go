package transfer

import (
	"context"
	"fmt"

	"github.com/italolelis/artifact_connector/internal/transport"
)

// engine holds what every task needs.
type engine struct {
	client    transport.Client
	repo      transport.Repository
	fetcher   *Fetcher
	checksums *Checksums
	sink      EventSink
}

func (e *engine) sinkFor(req *Request) EventSink {
	if req.Sink == nil {
		return e.sink
	}

	return MultiSink{e.sink, req.Sink}
}

func (e *engine) emitterFor(ctx context.Context, req *Request, rt RequestType) *emitter {
	return &emitter{
		ctx:  ctx,
		sink: e.sinkFor(req),
		base: Event{
			RequestType: rt,
			Resource: Resource{
				RepositoryURL: e.repo.BaseURL,
				Path:          req.RemotePath,
				File:          req.LocalFile,
				Kind:          req.resourceKind(),
				Trace:         req.Trace,
			},
		},
	}
}

// emitter delivers one resource's events in order.
type emitter struct {
	ctx  context.Context
	sink EventSink
	base Event
}

func (em *emitter) event(t EventType) Event {
	e := em.base
	e.Type = t

	return e
}

func (em *emitter) initiated() {
	em.sink.TransferInitiated(em.ctx, em.event(EventInitiated))
}

func (em *emitter) started(contentLength int64) {
	e := em.event(EventStarted)
	e.ContentLength = contentLength
	em.sink.TransferStarted(em.ctx, e)
}

func (em *emitter) progressed(chunk []byte, transferred int64) {
	e := em.event(EventProgressed)
	e.DataBuffer = chunk
	e.TransferredBytes = transferred
	em.sink.TransferProgressed(em.ctx, e)
}

func (em *emitter) corrupted(err error, transferred int64) {
	e := em.event(EventCorrupted)
	e.Err = err
	e.TransferredBytes = transferred
	em.sink.TransferCorrupted(em.ctx, e)
}

func (em *emitter) succeeded(transferred int64) {
	e := em.event(EventSucceeded)
	e.TransferredBytes = transferred
	em.sink.TransferSucceeded(em.ctx, e)
}

func (em *emitter) failed(err error, transferred int64) {
	e := em.event(EventFailed)
	e.Err = err
	e.TransferredBytes = transferred
	em.sink.TransferFailed(em.ctx, e)
}

// guard runs fn and turns a panic into an error.
func guard(op, uri string, fn func() (int64, error)) (n int64, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &Error{Kind: KindTransfer, Op: op, URI: uri, Message: fmt.Sprintf("panic: %v", r)}
		}
	}()

	return fn()
}
