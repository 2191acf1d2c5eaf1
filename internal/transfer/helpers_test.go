package transfer

import (
	"bytes"
	"context"
	"crypto/md5"  //nolint:gosec
	"crypto/sha1" //nolint:gosec
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/italolelis/artifact_connector/internal/transport"
	"github.com/italolelis/artifact_connector/internal/transport/httpclient"
)

// testRepo is an in-memory repository served over HTTP.
type testRepo struct {
	t      *testing.T
	server *httptest.Server

	mu           sync.Mutex
	files        map[string][]byte
	uploads      map[string][]byte
	statuses     map[string]int // forced status per path and method, "PUT /a.jar"
	ranges       bool
	challenge    bool // answer 401 until basic auth is sent
	stallAfter   int  // GET bodies stop after this many bytes until the client leaves
	truncateNext int
	rangeHeaders []string
	requests     []string
}

func newTestRepo(t *testing.T) *testRepo {
	t.Helper()

	r := &testRepo{
		t:        t,
		files:    map[string][]byte{},
		uploads:  map[string][]byte{},
		statuses: map[string]int{},
		ranges:   true,
	}
	r.server = httptest.NewServer(http.HandlerFunc(r.serve))
	t.Cleanup(r.server.Close)

	return r
}

func (r *testRepo) repository() transport.Repository {
	return transport.Repository{BaseURL: r.server.URL + "/repo"}
}

func (r *testRepo) client() transport.Client {
	return r.clientWith(httpclient.Options{})
}

func (r *testRepo) clientWith(opts httpclient.Options) transport.Client {
	c, err := httpclient.New(opts)
	require.NoError(r.t, err)

	return c
}

// put publishes content at path.
func (r *testRepo) put(path string, content []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.files["/repo/"+path] = content
}

// putWithChecksums publishes content with its SHA-1 and MD5.
func (r *testRepo) putWithChecksums(path string, content []byte) {
	r.put(path, content)
	r.put(path+".sha1", []byte(sha1Hex(content)))
	r.put(path+".md5", []byte(md5Hex(content)))
}

func (r *testRepo) status(method, path string, code int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.statuses[method+" /repo/"+path] = code
}

func (r *testRepo) upload(path string) ([]byte, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	b, ok := r.uploads["/repo/"+path]

	return b, ok
}

func (r *testRepo) requestCount(method, path string) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := 0

	for _, req := range r.requests {
		if req == method+" /repo/"+path {
			n++
		}
	}

	return n
}

func (r *testRepo) serve(w http.ResponseWriter, req *http.Request) {
	r.mu.Lock()
	r.requests = append(r.requests, req.Method+" "+req.URL.Path)
	code, forced := r.statuses[req.Method+" "+req.URL.Path]
	data, exists := r.files[req.URL.Path]
	challenge := r.challenge
	r.mu.Unlock()

	if _, _, ok := req.BasicAuth(); challenge && !ok {
		if req.Body != nil {
			_, _ = io.Copy(io.Discard, req.Body)
		}

		w.Header().Set("WWW-Authenticate", `Basic realm="repo"`)
		w.WriteHeader(http.StatusUnauthorized)

		return
	}

	if forced {
		if req.Body != nil {
			_, _ = io.Copy(io.Discard, req.Body)
		}

		w.WriteHeader(code)

		return
	}

	switch req.Method {
	case http.MethodPut:
		body, err := io.ReadAll(req.Body)
		if err != nil {
			w.WriteHeader(http.StatusBadRequest)

			return
		}

		r.mu.Lock()
		r.uploads[req.URL.Path] = body
		r.mu.Unlock()

		w.WriteHeader(http.StatusCreated)
	case http.MethodHead, http.MethodGet:
		if !exists {
			http.NotFound(w, req)

			return
		}

		if req.Method == http.MethodHead {
			w.Header().Set("Content-Length", strconv.Itoa(len(data)))
			w.WriteHeader(http.StatusOK)

			return
		}

		r.serveGet(w, req, data)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (r *testRepo) serveGet(w http.ResponseWriter, req *http.Request, data []byte) {
	status := http.StatusOK
	body := data
	contentRange := ""

	r.mu.Lock()
	rangeHeader := req.Header.Get("Range")
	if rangeHeader != "" {
		r.rangeHeaders = append(r.rangeHeaders, rangeHeader)
	}

	honorRange := r.ranges
	truncate := r.truncateNext > 0 && len(data) > 1
	if truncate {
		r.truncateNext--
	}
	stallAfter := r.stallAfter
	r.mu.Unlock()

	if stallAfter > 0 && stallAfter < len(data) {
		w.Header().Set("Content-Length", strconv.Itoa(len(data)))
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(data[:stallAfter])
		w.(http.Flusher).Flush()
		<-req.Context().Done()

		return
	}

	if rangeHeader != "" && honorRange {
		offset, err := strconv.Atoi(strings.TrimSuffix(strings.TrimPrefix(rangeHeader, "bytes="), "-"))
		if err != nil || offset >= len(data) {
			w.Header().Set("Content-Range", fmt.Sprintf("bytes */%d", len(data)))
			w.WriteHeader(http.StatusRequestedRangeNotSatisfiable)

			return
		}

		status = http.StatusPartialContent
		body = data[offset:]
		contentRange = fmt.Sprintf("bytes %d-%d/%d", offset, len(data)-1, len(data))
	}

	if truncate && len(body) > 1 {
		r.writeTruncated(w, status, contentRange, body)

		return
	}

	if contentRange != "" {
		w.Header().Set("Content-Range", contentRange)
	}

	w.Header().Set("Accept-Ranges", "bytes")
	w.Header().Set("Content-Length", strconv.Itoa(len(body)))
	w.WriteHeader(status)
	_, _ = w.Write(body)
}

// writeTruncated announces the full body but sends half of it before
// dropping the connection.
func (r *testRepo) writeTruncated(w http.ResponseWriter, status int, contentRange string, body []byte) {
	conn, buf, err := w.(http.Hijacker).Hijack()
	if err != nil {
		r.t.Errorf("failed to hijack connection: %v", err)

		return
	}
	defer conn.Close()

	fmt.Fprintf(buf, "HTTP/1.1 %d %s\r\n", status, http.StatusText(status))
	fmt.Fprintf(buf, "Content-Length: %d\r\n", len(body))

	if contentRange != "" {
		fmt.Fprintf(buf, "Content-Range: %s\r\n", contentRange)
	}

	fmt.Fprint(buf, "Connection: close\r\n\r\n")
	_, _ = buf.Write(body[:len(body)/2])
	_ = buf.Flush()
}

// recordingSink keeps every event per resource path.
type recordingSink struct {
	mu     sync.Mutex
	events map[string][]Event
}

func newRecordingSink() *recordingSink {
	return &recordingSink{events: map[string][]Event{}}
}

func (s *recordingSink) record(e Event) {
	s.mu.Lock()
	defer s.mu.Unlock()

	// The buffer is only valid during the call.
	e.DataBuffer = bytes.Clone(e.DataBuffer)
	s.events[e.Resource.Path] = append(s.events[e.Resource.Path], e)
}

func (s *recordingSink) TransferInitiated(_ context.Context, e Event)  { s.record(e) }
func (s *recordingSink) TransferStarted(_ context.Context, e Event)    { s.record(e) }
func (s *recordingSink) TransferProgressed(_ context.Context, e Event) { s.record(e) }
func (s *recordingSink) TransferSucceeded(_ context.Context, e Event)  { s.record(e) }
func (s *recordingSink) TransferFailed(_ context.Context, e Event)     { s.record(e) }
func (s *recordingSink) TransferCorrupted(_ context.Context, e Event)  { s.record(e) }

func (s *recordingSink) of(path string) []Event {
	s.mu.Lock()
	defer s.mu.Unlock()

	return append([]Event(nil), s.events[path]...)
}

// types collapses consecutive progressed events into one entry.
func (s *recordingSink) types(path string) []EventType {
	var out []EventType

	for _, e := range s.of(path) {
		if e.Type == EventProgressed && len(out) > 0 && out[len(out)-1] == EventProgressed {
			continue
		}

		out = append(out, e.Type)
	}

	return out
}

// progressSum returns the sum of progressed chunk sizes and checks that the
// cumulative counter never decreases.
func (s *recordingSink) progressSum(t *testing.T, path string) int64 {
	t.Helper()

	var sum, last int64

	for _, e := range s.of(path) {
		if e.Type != EventProgressed {
			continue
		}

		sum += int64(len(e.DataBuffer))
		require.GreaterOrEqual(t, e.TransferredBytes, last, "progress must be monotonic")
		require.Equal(t, sum, e.TransferredBytes, "cumulative count must equal the sum of chunks")
		last = e.TransferredBytes
	}

	return sum
}

func sha1Hex(b []byte) string {
	sum := sha1.Sum(b) //nolint:gosec

	return hex.EncodeToString(sum[:])
}

func md5Hex(b []byte) string {
	sum := md5.Sum(b) //nolint:gosec

	return hex.EncodeToString(sum[:])
}

func payload(n int) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = byte('a' + i%26)
	}

	return b
}
