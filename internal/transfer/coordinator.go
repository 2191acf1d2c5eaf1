package transfer

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/italolelis/artifact_connector/internal/logctx"
	"github.com/italolelis/artifact_connector/internal/transport"
)

const defaultParallelism = 5

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithParallelism sets the worker pool width. One or less runs every batch
// on the calling goroutine.
func WithParallelism(n int) Option {
	return func(c *Coordinator) { c.parallelism = n }
}

// WithMaxAttempts bounds the fetch attempts per resource.
func WithMaxAttempts(n int) Option {
	return func(c *Coordinator) { c.maxAttempts = n }
}

// WithRetryDelay sets the base delay between fetch attempts.
func WithRetryDelay(d time.Duration) Option {
	return func(c *Coordinator) { c.retryDelay = &d }
}

// WithSink sets the sink receiving every request's events.
func WithSink(s EventSink) Option {
	return func(c *Coordinator) { c.sink = s }
}

// Coordinator runs batches of transfers. A coordinator is open until Close;
// its worker pool is started by the first batch that needs it.
type Coordinator struct {
	parallelism int
	maxAttempts int
	retryDelay  *time.Duration
	sink        EventSink

	engine *engine

	poolOnce sync.Once
	jobs     chan job
	workers  sync.WaitGroup

	mu     sync.RWMutex
	closed bool
}

type job struct {
	ctx context.Context
	run func(ctx context.Context)
	h   *handle
}

// handle signals the completion of one task exactly once.
type handle struct {
	req  *Request
	done chan struct{}
	once sync.Once
}

func newHandle(req *Request) *handle {
	return &handle{req: req, done: make(chan struct{})}
}

func (h *handle) complete() {
	h.once.Do(func() { close(h.done) })
}

// New creates a coordinator transferring between the local file system and repo.
func New(client transport.Client, repo transport.Repository, opts ...Option) *Coordinator {
	c := &Coordinator{
		parallelism: defaultParallelism,
		maxAttempts: defaultMaxAttempts,
		sink:        NopSink{},
	}

	for _, opt := range opts {
		opt(c)
	}

	if c.sink == nil {
		c.sink = NopSink{}
	}

	fetcher := NewFetcher(client, c.maxAttempts)
	if c.retryDelay != nil {
		fetcher.retryDelay = *c.retryDelay
	}

	c.engine = &engine{
		client:    client,
		repo:      repo,
		fetcher:   fetcher,
		checksums: NewChecksums(fetcher),
		sink:      c.sink,
	}

	return c
}

// RunBatch transfers every request in b and returns once all of them are
// done. Per-request failures are stored on each request's Outcome. If ctx is
// cancelled while waiting, RunBatch still waits for the whole batch and then
// returns the context error. Tasks run with ctx, so cancelling it also stops
// in-flight transfers, which finish as KindCancelled with their staged files
// kept for resumption.
func (c *Coordinator) RunBatch(ctx context.Context, b Batch) error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.closed {
		return ErrClosed
	}

	handles := make([]*handle, 0, b.Len())

	direct := c.parallelism <= 1 || b.Len() <= 1
	if !direct {
		c.poolOnce.Do(c.startPool)
	}

	submit := func(req *Request, run func(context.Context, *Request)) {
		req.reset()

		h := newHandle(req)
		handles = append(handles, h)

		task := func(ctx context.Context) { run(ctx, req) }

		if direct {
			c.runTask(ctx, task, h)

			return
		}

		c.jobs <- job{ctx: ctx, run: task, h: h}
	}

	for _, req := range b.Downloads {
		submit(req, c.engine.download)
	}

	for _, req := range b.Uploads {
		submit(req, c.engine.upload)
	}

	return c.wait(ctx, handles)
}

// wait blocks until every handle completed. Cancellation does not cut the
// wait short; it is reported once the batch is done.
func (c *Coordinator) wait(ctx context.Context, handles []*handle) error {
	interrupted := false

	for _, h := range handles {
		select {
		case <-h.done:
		case <-ctx.Done():
			if !interrupted {
				interrupted = true

				logctx.LoggerFromContext(ctx).WarnContext(ctx, "batch interrupted, waiting for running transfers",
					"err", ctx.Err())
			}

			<-h.done
		}
	}

	return ctx.Err()
}

func (c *Coordinator) startPool() {
	c.jobs = make(chan job)

	for i := 0; i < c.parallelism; i++ {
		c.workers.Add(1)

		go func() {
			defer c.workers.Done()

			for j := range c.jobs {
				c.runTask(j.ctx, j.run, j.h)
			}
		}()
	}
}

// runTask runs one task and always completes its handle, recording a
// failure if the task panicked before finishing its request.
func (c *Coordinator) runTask(ctx context.Context, run func(context.Context), h *handle) {
	defer h.complete()
	defer func() {
		if r := recover(); r != nil {
			logctx.LoggerFromContext(ctx).ErrorContext(ctx, "transfer task panicked",
				"path", h.req.RemotePath, "panic", r)

			if h.req.Outcome().State != StateDone {
				h.req.finish(0, &Error{Kind: KindTransfer, Op: "task", URI: h.req.RemotePath, Message: fmt.Sprintf("panic: %v", r)})
			}
		}
	}()

	run(ctx)
}

// Close stops the worker pool after running batches finish. Subsequent
// RunBatch calls return ErrClosed.
func (c *Coordinator) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}

	c.closed = true

	c.poolOnce.Do(func() {})

	if c.jobs != nil {
		close(c.jobs)
		c.workers.Wait()
	}

	return nil
}
