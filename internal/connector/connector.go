package connector

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/italolelis/artifact_connector/internal/logctx"
	"github.com/italolelis/artifact_connector/internal/notifier"
	"github.com/italolelis/artifact_connector/internal/storage"
	"github.com/italolelis/artifact_connector/internal/telemetry"
	"github.com/italolelis/artifact_connector/internal/transfer"
	"github.com/italolelis/artifact_connector/internal/transport"
)

const (
	directionGet = "get"
	directionPut = "put"
)

// Download asks for one remote resource. An empty File makes it an existence
// check. Bytes and Err are filled in once the transfer is done.
type Download struct {
	Path           string
	File           string
	ChecksumPolicy transfer.ChecksumPolicy
	Trace          string

	Bytes int64
	Err   error
}

// Upload publishes one local file at a remote path. Bytes and Err are filled
// in once the transfer is done.
type Upload struct {
	Path  string
	File  string
	Trace string

	Bytes int64
	Err   error
}

// Options configures a Connector. Nil collaborators are disabled.
type Options struct {
	Parallelism int
	MaxAttempts int
	Ledger      storage.TransferWriteRepository
	Notifier    notifier.Notifier
	Telemetry   *telemetry.Telemetry
	// Sink receives every transfer event next to the connector's own logging.
	Sink transfer.EventSink
	// Transfer holds extra coordinator options.
	Transfer []transfer.Option
}

// Connector moves artifacts and metadata between the local repository and
// one remote repository.
type Connector struct {
	repo        transport.Repository
	coordinator *transfer.Coordinator
	ledger      storage.TransferWriteRepository
	notifier    notifier.Notifier
	tel         *telemetry.Telemetry
	instanceID  string
}

func New(client transport.Client, repo transport.Repository, opts Options) *Connector {
	sink := transfer.MultiSink{transfer.NewLogSink(0), opts.Sink}

	coordOpts := []transfer.Option{transfer.WithSink(sink)}
	if opts.Parallelism > 0 {
		coordOpts = append(coordOpts, transfer.WithParallelism(opts.Parallelism))
	}

	if opts.MaxAttempts > 0 {
		coordOpts = append(coordOpts, transfer.WithMaxAttempts(opts.MaxAttempts))
	}

	coordOpts = append(coordOpts, opts.Transfer...)

	n := opts.Notifier
	if n == nil {
		n = notifier.Nop{}
	}

	return &Connector{
		repo:        repo,
		coordinator: transfer.New(client, repo, coordOpts...),
		ledger:      opts.Ledger,
		notifier:    n,
		tel:         opts.Telemetry,
		instanceID:  storage.GenerateInstanceID(),
	}
}

// Get downloads metadata first, then artifacts, in a single batch. Failures
// are reported on each item as a *ResourceError; the returned error is only
// set when the batch itself could not run or ctx was cancelled.
func (c *Connector) Get(ctx context.Context, artifacts, metadata []*Download) error {
	var (
		reqs  []*transfer.Request
		items []*Download
	)

	add := func(kind transfer.ResourceKind, downloads []*Download) {
		for _, d := range downloads {
			reqs = append(reqs, &transfer.Request{
				Resource:       kind,
				RemotePath:     d.Path,
				LocalFile:      d.File,
				ChecksumPolicy: d.ChecksumPolicy,
				Trace:          d.Trace,
				Sink:           newMetricsSink(c.tel, directionGet),
			})
			items = append(items, d)
		}
	}

	add(transfer.ResourceMetadata, metadata)
	add(transfer.ResourceArtifact, artifacts)

	err := c.tel.InstrumentOperation(ctx, "connector_get", "connector", func(ctx context.Context) error {
		return c.coordinator.RunBatch(ctx, transfer.Batch{Downloads: reqs})
	})
	if errors.Is(err, transfer.ErrClosed) {
		return err
	}

	var failed []*ResourceError

	for i, req := range reqs {
		out := req.Outcome()
		items[i].Bytes = out.Bytes
		items[i].Err = nil

		if out.Err != nil {
			rerr := c.resourceError(directionGet, req, out.Err)
			items[i].Err = rerr

			if !rerr.NotFound() {
				failed = append(failed, rerr)
			}
		}

		c.track(ctx, directionGet, req, out)
	}

	c.notify(ctx, directionGet, len(reqs), failed)

	return err
}

// Put uploads artifacts first, then metadata, so that metadata never points
// at an artifact that is not there yet.
func (c *Connector) Put(ctx context.Context, artifacts, metadata []*Upload) error {
	var (
		reqs  []*transfer.Request
		items []*Upload
	)

	add := func(kind transfer.ResourceKind, uploads []*Upload) {
		for _, u := range uploads {
			reqs = append(reqs, &transfer.Request{
				Resource:   kind,
				RemotePath: u.Path,
				LocalFile:  u.File,
				Trace:      u.Trace,
				Sink:       newMetricsSink(c.tel, directionPut),
			})
			items = append(items, u)
		}
	}

	add(transfer.ResourceArtifact, artifacts)
	add(transfer.ResourceMetadata, metadata)

	err := c.tel.InstrumentOperation(ctx, "connector_put", "connector", func(ctx context.Context) error {
		return c.coordinator.RunBatch(ctx, transfer.Batch{Uploads: reqs})
	})
	if errors.Is(err, transfer.ErrClosed) {
		return err
	}

	var failed []*ResourceError

	for i, req := range reqs {
		out := req.Outcome()
		items[i].Bytes = out.Bytes
		items[i].Err = nil

		if out.Err != nil {
			rerr := c.resourceError(directionPut, req, out.Err)
			items[i].Err = rerr
			failed = append(failed, rerr)
		}

		c.track(ctx, directionPut, req, out)
	}

	c.notify(ctx, directionPut, len(reqs), failed)

	return err
}

// Close stops the transfer workers. Get and Put return transfer.ErrClosed
// afterwards.
func (c *Connector) Close() error {
	return c.coordinator.Close()
}

func (c *Connector) resourceError(direction string, req *transfer.Request, err error) *ResourceError {
	return &ResourceError{
		Direction:  direction,
		Resource:   req.Resource,
		Path:       req.RemotePath,
		Repository: c.repo.BaseURL,
		Err:        err,
	}
}

// track writes the outcome to the ledger. Ledger failures never fail the
// transfer.
func (c *Connector) track(ctx context.Context, direction string, req *transfer.Request, out transfer.Outcome) {
	if c.ledger == nil {
		return
	}

	record := storage.TransferRecord{
		Direction:  direction,
		Resource:   string(req.Resource),
		RemotePath: req.RemotePath,
		LocalFile:  req.LocalFile,
		Status:     statusOf(out.Err),
		Bytes:      out.Bytes,
		Trace:      req.Trace,
		InstanceID: c.instanceID,
	}

	if out.Err != nil {
		record.Error = out.Err.Error()
	}

	if err := c.ledger.TrackTransfer(context.WithoutCancel(ctx), record); err != nil {
		logctx.LoggerFromContext(ctx).Error("failed to track transfer", "path", req.RemotePath, "err", err)
		c.tel.RecordSystemError("ledger", "track_failed")
	}
}

func (c *Connector) notify(ctx context.Context, direction string, total int, failed []*ResourceError) {
	if len(failed) == 0 {
		return
	}

	verb := "downloads"
	if direction == directionPut {
		verb = "uploads"
	}

	var b strings.Builder

	fmt.Fprintf(&b, "%d of %d %s failed against %s:", len(failed), total, verb, c.repo.BaseURL)

	for _, f := range failed {
		fmt.Fprintf(&b, "\n- %s: %v", f.Path, f.Err)
	}

	if err := c.notifier.Notify(context.WithoutCancel(ctx), b.String()); err != nil {
		logctx.LoggerFromContext(ctx).Warn("failed to send notification", "err", err)
		c.tel.RecordSystemError("notifier", "notify_failed")
	}
}

func statusOf(err error) string {
	switch {
	case err == nil:
		return storage.StatusSucceeded
	case transfer.IsNotFound(err):
		return storage.StatusNotFound
	default:
		return storage.StatusFailed
	}
}
