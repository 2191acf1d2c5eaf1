package transport

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
)

// Client is the set of HTTP operations the transfer engine depends on.
// Implementations own connection handling, authentication and proxies.
type Client interface {
	Head(ctx context.Context, uri string) (*Response, error)
	Get(ctx context.Context, uri string, headers http.Header) (*Response, error)
	Put(ctx context.Context, uri string, src Source) (*Response, error)
}

// Response is the subset of an HTTP response the engine inspects.
// Body is never nil; callers must Close it.
type Response struct {
	StatusCode    int
	Status        string
	Header        http.Header
	ContentLength int64 // -1 when unknown
	Body          io.ReadCloser
}

// Close releases the response body.
func (r *Response) Close() error {
	if r == nil || r.Body == nil {
		return nil
	}

	return r.Body.Close()
}

// FromHTTP converts a net/http response.
func FromHTTP(resp *http.Response) *Response {
	body := resp.Body
	if body == nil {
		body = http.NoBody
	}

	return &Response{
		StatusCode:    resp.StatusCode,
		Status:        resp.Status,
		Header:        resp.Header,
		ContentLength: resp.ContentLength,
		Body:          body,
	}
}

// Source is a re-openable request body. Open may be called more than once
// when a request is retried or redirected.
type Source interface {
	Open() (io.ReadCloser, error)
	Length() int64
}

// FileSource streams a local file.
type FileSource struct {
	Path string
	Size int64
}

// NewFileSource stats path and returns a source for it.
func NewFileSource(path string) (*FileSource, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("failed to stat %s: %w", path, err)
	}

	if info.IsDir() {
		return nil, fmt.Errorf("%s is a directory", path)
	}

	return &FileSource{Path: path, Size: info.Size()}, nil
}

func (s *FileSource) Open() (io.ReadCloser, error) {
	return os.Open(s.Path)
}

func (s *FileSource) Length() int64 {
	return s.Size
}

// BytesSource serves an in-memory payload.
type BytesSource []byte

func (s BytesSource) Open() (io.ReadCloser, error) {
	return io.NopCloser(bytes.NewReader(s)), nil
}

func (s BytesSource) Length() int64 {
	return int64(len(s))
}

// Repository builds resource URIs below a remote base URL.
type Repository struct {
	BaseURL string
}

// URL joins the base URL and a repository-relative path with exactly one
// slash between them. Spaces in the path are encoded as '+'.
func (r Repository) URL(path string) string {
	path = strings.ReplaceAll(path, " ", "+")
	base := strings.TrimRight(r.BaseURL, "/")

	return base + "/" + strings.TrimLeft(path, "/")
}
