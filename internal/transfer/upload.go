package transfer

import (
	"context"
	"io"
	"sync"

	"github.com/sourcegraph/conc/pool"

	"github.com/italolelis/artifact_connector/internal/logctx"
	"github.com/italolelis/artifact_connector/internal/transfer/progress"
	"github.com/italolelis/artifact_connector/internal/transport"
)

// upload runs one upload task. Checksums are published only after the
// primary content was accepted, and their failures never change the outcome.
func (e *engine) upload(ctx context.Context, req *Request) {
	ctx = logctx.WithTrace(ctx, req.Trace)
	uri := e.repo.URL(req.RemotePath)
	ev := e.emitterFor(ctx, req, RequestPut)

	src := &progressSource{onChunk: ev.progressed}

	n, err := guard("put", uri, func() (int64, error) {
		ev.initiated()

		return e.push(ctx, req, uri, ev, src)
	})
	if err != nil {
		if n == 0 {
			n = src.seal()
		}

		ev.failed(err, n)
		req.finish(n, err)

		return
	}

	ev.succeeded(n)
	e.uploadChecksums(ctx, req.LocalFile, uri)
	req.finish(n, nil)
}

func (e *engine) push(ctx context.Context, req *Request, uri string, ev *emitter, src *progressSource) (int64, error) {
	if req.LocalFile == "" {
		return 0, &Error{Kind: KindTransfer, Op: "put", URI: uri, Message: "no local file to upload"}
	}

	file, err := transport.NewFileSource(req.LocalFile)
	if err != nil {
		return 0, &Error{Kind: KindTransfer, Op: "put", URI: uri, Err: err}
	}

	src.Source = file
	ev.started(file.Length())

	resp, err := e.client.Put(ctx, uri, src)
	sent := src.seal()

	if err != nil {
		if ctx.Err() != nil {
			return sent, cancelled("put", uri, ctx.Err())
		}

		return sent, &Error{Kind: KindTransfer, Op: "put", URI: uri, Err: err}
	}
	defer resp.Close()

	if err := CheckStatus("put", uri, resp.StatusCode, resp.Status); err != nil {
		return sent, err
	}

	return sent, nil
}

// uploadChecksums publishes every algorithm's digest of path next to uri.
func (e *engine) uploadChecksums(ctx context.Context, path, uri string) {
	logger := logctx.LoggerFromContext(ctx)

	digests, err := FileDigests(path)
	if err != nil {
		logger.WarnContext(ctx, "failed to compute checksums for upload", "path", path, "err", err)

		return
	}

	p := pool.New().WithMaxGoroutines(len(Algorithms))

	for _, alg := range Algorithms {
		alg := alg

		p.Go(func() {
			checksumURI := uri + alg.Ext

			resp, err := e.client.Put(ctx, checksumURI, transport.BytesSource(digests[alg.Name]))
			if err == nil {
				err = CheckStatus("put", checksumURI, resp.StatusCode, resp.Status)
				resp.Close()
			}

			if err != nil {
				logger.WarnContext(ctx, "failed to upload checksum", "uri", checksumURI, "algorithm", alg.Name, "err", err)
			}
		})
	}

	p.Wait()
}

// progressSource reports every chunk the transport reads from the wrapped
// source. A re-opened body (redirect or auth challenge) is counted from zero;
// progress events only cover bytes beyond what earlier bodies already
// reported, so the cumulative count never goes backwards.
type progressSource struct {
	transport.Source
	onChunk func(chunk []byte, transferred int64)

	mu       sync.Mutex
	opens    int
	bytes    int64 // read from the latest body
	reported int64
	sealed   bool
}

func (s *progressSource) Open() (io.ReadCloser, error) {
	rc, err := s.Source.Open()
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.opens++
	gen := s.opens
	s.bytes = 0
	s.mu.Unlock()

	r := progress.NewReader(rc, func(chunk []byte, _ int64) {
		s.mu.Lock()
		defer s.mu.Unlock()

		if s.sealed || gen != s.opens {
			return
		}

		s.bytes += int64(len(chunk))

		if fresh := s.bytes - s.reported; fresh > 0 {
			s.reported = s.bytes
			s.onChunk(chunk[int64(len(chunk))-fresh:], s.reported)
		}
	})

	return struct {
		io.Reader
		io.Closer
	}{r, rc}, nil
}

// seal stops progress reporting once the request has completed; the
// transport may still be draining the body.
func (s *progressSource) seal() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.sealed = true

	return s.bytes
}
