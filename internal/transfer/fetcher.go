package transfer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/italolelis/artifact_connector/internal/logctx"
	"github.com/italolelis/artifact_connector/internal/transport"
)

const (
	defaultMaxAttempts = 10
	defaultBufferSize  = 32 * 1024
	defaultRetryDelay  = 100 * time.Millisecond
	maxRetryDelay      = 2 * time.Second
)

// Staged is a fully received file waiting to be committed.
type Staged struct {
	Path  string
	Bytes int64 // bytes received by this fetch, across attempts
}

// fetchHooks receives the fetch lifecycle. Both funcs may be nil.
type fetchHooks struct {
	started    func(contentLength int64)
	progressed func(chunk []byte, transferred int64)
}

type fetchState struct {
	transferred int64
	started     bool
}

// Fetcher downloads a resource into a staged file next to its destination,
// resuming a previous staged file when one exists.
type Fetcher struct {
	client      transport.Client
	maxAttempts int
	bufferSize  int
	retryDelay  time.Duration
}

// NewFetcher creates a Fetcher. maxAttempts below one selects the default.
func NewFetcher(client transport.Client, maxAttempts int) *Fetcher {
	if maxAttempts < 1 {
		maxAttempts = defaultMaxAttempts
	}

	return &Fetcher{
		client:      client,
		maxAttempts: maxAttempts,
		bufferSize:  defaultBufferSize,
		retryDelay:  defaultRetryDelay,
	}
}

// Fetch downloads uri into a staged file for dest. The staged file is not
// renamed. Transport and streaming failures are retried up to the attempt
// bound, each retry resuming from the bytes already staged. Status errors
// are returned immediately.
func (f *Fetcher) Fetch(ctx context.Context, uri, dest string, hooks *fetchHooks) (*Staged, error) {
	logger := logctx.LoggerFromContext(ctx)

	if hooks == nil {
		hooks = &fetchHooks{}
	}

	var (
		st      fetchState
		lastErr error
	)

	for attempt := 1; attempt <= f.maxAttempts; attempt++ {
		if attempt > 1 {
			if err := f.backoff(ctx, attempt); err != nil {
				return nil, cancelled("get", uri, err)
			}
		}

		if err := ctx.Err(); err != nil {
			return nil, cancelled("get", uri, err)
		}

		staged, err := f.attempt(ctx, uri, dest, &st, hooks)
		if err == nil {
			return staged, nil
		}

		if !isRetryable(err) {
			return nil, err
		}

		lastErr = errors.Unwrap(err)

		logger.WarnContext(ctx, "fetch attempt failed",
			"uri", uri, "attempt", attempt, "max_attempts", f.maxAttempts, "err", lastErr)
	}

	return nil, &Error{
		Kind:    KindTransfer,
		Op:      "get",
		URI:     uri,
		Message: fmt.Sprintf("giving up after %d attempts: %v", f.maxAttempts, lastErr),
		Err:     lastErr,
	}
}

func (f *Fetcher) backoff(ctx context.Context, attempt int) error {
	delay := f.retryDelay * time.Duration(attempt-1)
	if delay > maxRetryDelay {
		delay = maxRetryDelay
	}

	if delay <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (f *Fetcher) attempt(ctx context.Context, uri, dest string, st *fetchState, hooks *fetchHooks) (*Staged, error) {
	logger := logctx.LoggerFromContext(ctx)

	path, offset, err := findStaged(dest)
	if err != nil {
		return nil, &Error{Kind: KindTransfer, Op: "get", URI: uri, Err: err}
	}

	resuming := path != "" && offset > 0

	headers := http.Header{}
	if resuming {
		headers.Set("Range", fmt.Sprintf("bytes=%d-", offset))
		headers.Set("Accept-Encoding", "identity")
	}

	resp, err := f.client.Get(ctx, uri, headers)
	if err != nil {
		if ctx.Err() != nil {
			return nil, cancelled("get", uri, ctx.Err())
		}

		return nil, &retryable{err: err}
	}
	defer resp.Close()

	if resuming && resp.StatusCode == http.StatusRequestedRangeNotSatisfiable {
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, &Error{Kind: KindTransfer, Op: "get", URI: uri, Err: err}
		}

		return nil, &retryable{err: fmt.Errorf("range not satisfiable at offset %d, staged file discarded", offset)}
	}

	if err := CheckStatus("get", uri, resp.StatusCode, resp.Status); err != nil {
		return nil, err
	}

	appending := resuming && resp.StatusCode == http.StatusPartialContent
	if resuming && !appending {
		logger.InfoContext(ctx, "server ignored range request, restarting from offset 0",
			"uri", uri, "offset", offset, "status", resp.StatusCode)
	}

	flags := os.O_WRONLY | os.O_CREATE

	switch {
	case appending:
		flags |= os.O_APPEND
	case path != "":
		flags |= os.O_TRUNC
	default:
		path, err = newStagedPath(dest)
		if err != nil {
			return nil, &Error{Kind: KindTransfer, Op: "get", URI: uri, Err: err}
		}

		flags |= os.O_EXCL
	}

	file, err := os.OpenFile(path, flags, 0o644)
	if err != nil {
		return nil, &Error{Kind: KindTransfer, Op: "get", URI: uri, Message: "failed to open staged file", Err: err}
	}

	if !st.started {
		st.started = true

		if hooks.started != nil {
			hooks.started(contentLength(resp, appending, offset))
		}
	}

	if err := f.stream(ctx, uri, resp.Body, file, st, hooks); err != nil {
		file.Close()

		return nil, err
	}

	if err := file.Sync(); err != nil {
		file.Close()

		return nil, &retryable{err: fmt.Errorf("failed to sync staged file: %w", err)}
	}

	if err := file.Close(); err != nil {
		return nil, &retryable{err: fmt.Errorf("failed to close staged file: %w", err)}
	}

	return &Staged{Path: path, Bytes: st.transferred}, nil
}

func (f *Fetcher) stream(ctx context.Context, uri string, body io.Reader, file *os.File, st *fetchState, hooks *fetchHooks) error {
	buf := make([]byte, f.bufferSize)

	for {
		if err := ctx.Err(); err != nil {
			return cancelled("get", uri, err)
		}

		n, rerr := body.Read(buf)
		if n > 0 {
			if _, err := file.Write(buf[:n]); err != nil {
				return &retryable{err: fmt.Errorf("failed to write staged file: %w", err)}
			}

			st.transferred += int64(n)

			if hooks.progressed != nil {
				hooks.progressed(buf[:n], st.transferred)
			}
		}

		if rerr == io.EOF {
			return nil
		}

		if rerr != nil {
			if ctx.Err() != nil {
				return cancelled("get", uri, ctx.Err())
			}

			return &retryable{err: fmt.Errorf("failed to read response body: %w", rerr)}
		}
	}
}

// contentLength returns the full resource length when the response reveals
// it, -1 otherwise.
func contentLength(resp *transport.Response, appending bool, offset int64) int64 {
	if !appending {
		return resp.ContentLength
	}

	// Content-Range: bytes 100-999/1000
	if cr := resp.Header.Get("Content-Range"); cr != "" {
		if i := strings.LastIndexByte(cr, '/'); i >= 0 {
			if total, err := strconv.ParseInt(cr[i+1:], 10, 64); err == nil {
				return total
			}
		}
	}

	if resp.ContentLength >= 0 {
		return offset + resp.ContentLength
	}

	return -1
}
