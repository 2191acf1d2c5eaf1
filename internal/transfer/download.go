package transfer

import (
	"context"
	"errors"
	"net/http"
	"os"
	"path/filepath"

	"github.com/italolelis/artifact_connector/internal/logctx"
)

// download runs one download task. It never returns an error: the result is
// stored on the request and reported through exactly one terminal event.
func (e *engine) download(ctx context.Context, req *Request) {
	ctx = logctx.WithTrace(ctx, req.Trace)
	uri := e.repo.URL(req.RemotePath)
	ev := e.emitterFor(ctx, req, RequestGet)

	var transferred int64

	n, err := guard("get", uri, func() (int64, error) {
		ev.initiated()

		if req.LocalFile == "" {
			return 0, e.exists(ctx, uri)
		}

		return e.fetchAndCommit(ctx, req, uri, ev, &transferred)
	})
	if err != nil {
		if n == 0 {
			n = transferred
		}

		ev.failed(err, n)
	} else {
		ev.succeeded(n)
	}

	req.finish(n, err)
}

// exists answers an existence check with a HEAD request.
func (e *engine) exists(ctx context.Context, uri string) error {
	resp, err := e.client.Head(ctx, uri)
	if err != nil {
		if ctx.Err() != nil {
			return cancelled("head", uri, ctx.Err())
		}

		return &Error{Kind: KindTransfer, Op: "head", URI: uri, Err: err}
	}
	defer resp.Close()

	if resp.StatusCode == http.StatusOK {
		return nil
	}

	if err := CheckStatus("head", uri, resp.StatusCode, resp.Status); err != nil {
		return err
	}

	return &Error{Kind: KindNotFound, Op: "head", URI: uri, StatusCode: resp.StatusCode, Message: resp.Status}
}

func (e *engine) fetchAndCommit(
	ctx context.Context, req *Request, uri string, ev *emitter, transferred *int64,
) (int64, error) {
	logger := logctx.LoggerFromContext(ctx)
	dest := req.LocalFile

	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return 0, &Error{Kind: KindTransfer, Op: "get", URI: uri, Message: "failed to create destination directory", Err: err}
	}

	unlock, err := lockDestination(ctx, dest)
	if err != nil {
		if ctx.Err() != nil {
			return 0, cancelled("get", uri, ctx.Err())
		}

		return 0, &Error{Kind: KindTransfer, Op: "get", URI: uri, Err: err}
	}
	defer unlock()

	staged, err := e.fetcher.Fetch(ctx, uri, dest, &fetchHooks{
		started: ev.started,
		progressed: func(chunk []byte, n int64) {
			*transferred = n
			ev.progressed(chunk, n)
		},
	})
	if err != nil {
		return *transferred, err
	}

	var verified *verifiedChecksum

	if policy := req.policy(); policy != PolicyIgnore {
		verified, err = e.checksums.Validate(ctx, staged.Path, dest, uri)
		if err != nil {
			if KindOf(err) == KindCancelled {
				return staged.Bytes, err
			}

			ev.corrupted(err, staged.Bytes)

			if policy == PolicyFail {
				if rmErr := os.Remove(staged.Path); rmErr != nil && !errors.Is(rmErr, os.ErrNotExist) {
					logger.WarnContext(ctx, "failed to remove rejected staged file", "path", staged.Path, "err", rmErr)
				}

				return staged.Bytes, err
			}

			logger.WarnContext(ctx, "checksum validation failed, keeping download", "uri", uri, "err", err)
		}
	}

	if err := os.Rename(staged.Path, dest); err != nil {
		return staged.Bytes, &Error{Kind: KindTransfer, Op: "get", URI: uri, Message: "failed to commit download", Err: err}
	}

	if verified != nil {
		if err := os.Rename(verified.staged, verified.dest); err != nil {
			logger.WarnContext(ctx, "failed to commit checksum file", "path", verified.dest, "err", err)
		}
	}

	return staged.Bytes, nil
}
