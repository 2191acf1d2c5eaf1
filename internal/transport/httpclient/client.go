// Package httpclient implements transport.Client on top of net/http.
package httpclient

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/oauth2"

	"github.com/italolelis/artifact_connector/internal/transport"
)

const defaultUserAgent = "artifact_connector"

// Options configures the client.
type Options struct {
	UserAgent string
	// Headers are sent with every request. A User-Agent here overrides UserAgent.
	Headers http.Header

	ConnectTimeout time.Duration
	// RequestTimeout bounds the wait for response headers. Bodies may stream
	// for longer.
	RequestTimeout time.Duration

	// Username and Password are sent as basic auth once the repository has
	// challenged with a 401.
	Username string
	Password string
	// Token is sent as a bearer token on every request.
	Token string

	ProxyURL      string
	ProxyUsername string
	ProxyPassword string

	InsecureSkipVerify bool

	// Transport replaces the default transport, mostly for tests.
	Transport http.RoundTripper
}

// Client issues repository requests.
type Client struct {
	http *http.Client
	opts Options

	mu        sync.Mutex
	sendBasic bool
}

var _ transport.Client = (*Client)(nil)

// New creates a Client from opts.
func New(opts Options) (*Client, error) {
	rt := opts.Transport
	if rt == nil {
		base, err := newTransport(opts)
		if err != nil {
			return nil, err
		}

		rt = base
	}

	if opts.Token != "" {
		rt = &oauth2.Transport{
			Source: oauth2.StaticTokenSource(&oauth2.Token{AccessToken: opts.Token}),
			Base:   rt,
		}
	}

	if opts.UserAgent == "" {
		opts.UserAgent = defaultUserAgent
	}

	return &Client{
		http: &http.Client{Transport: otelhttp.NewTransport(rt)},
		opts: opts,
	}, nil
}

func newTransport(opts Options) (*http.Transport, error) {
	dialer := &net.Dialer{
		Timeout:   opts.ConnectTimeout,
		KeepAlive: 30 * time.Second,
	}

	t := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           dialer.DialContext,
		MaxIdleConnsPerHost:   10,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   opts.ConnectTimeout,
		ResponseHeaderTimeout: opts.RequestTimeout,
		// Range resumption needs the raw bytes.
		DisableCompression: true,
		TLSClientConfig: &tls.Config{
			InsecureSkipVerify: opts.InsecureSkipVerify, //nolint:gosec
		},
	}

	if opts.ProxyURL != "" {
		u, err := url.Parse(opts.ProxyURL)
		if err != nil {
			return nil, fmt.Errorf("failed to parse proxy url: %w", err)
		}

		if opts.ProxyUsername != "" {
			u.User = url.UserPassword(opts.ProxyUsername, opts.ProxyPassword)
		}

		t.Proxy = http.ProxyURL(u)
	}

	return t, nil
}

// Head issues a HEAD request.
func (c *Client) Head(ctx context.Context, uri string) (*transport.Response, error) {
	return c.do(ctx, http.MethodHead, uri, nil, nil)
}

// Get issues a GET request with additional headers.
func (c *Client) Get(ctx context.Context, uri string, headers http.Header) (*transport.Response, error) {
	return c.do(ctx, http.MethodGet, uri, headers, nil)
}

// Put uploads src. Content-Length is set when the source length is known.
func (c *Client) Put(ctx context.Context, uri string, src transport.Source) (*transport.Response, error) {
	return c.do(ctx, http.MethodPut, uri, nil, src)
}

func (c *Client) do(
	ctx context.Context, method, uri string, headers http.Header, src transport.Source,
) (*transport.Response, error) {
	resp, challenged, err := c.roundTrip(ctx, method, uri, headers, src)
	if err != nil {
		return nil, err
	}

	if challenged {
		_, _ = io.Copy(io.Discard, resp.Body)
		resp.Body.Close()

		resp, _, err = c.roundTrip(ctx, method, uri, headers, src)
		if err != nil {
			return nil, err
		}
	}

	return transport.FromHTTP(resp), nil
}

// roundTrip sends one request. challenged reports a 401 that should be
// retried now that basic auth is enabled.
func (c *Client) roundTrip(
	ctx context.Context, method, uri string, headers http.Header, src transport.Source,
) (*http.Response, bool, error) {
	req, err := c.newRequest(ctx, method, uri, headers, src)
	if err != nil {
		return nil, false, err
	}

	sentBasic := c.applyBasicAuth(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, false, fmt.Errorf("failed to %s %s: %w", method, uri, err)
	}

	if resp.StatusCode == http.StatusUnauthorized && !sentBasic && c.opts.Username != "" {
		c.mu.Lock()
		c.sendBasic = true
		c.mu.Unlock()

		return resp, true, nil
	}

	return resp, false, nil
}

func (c *Client) applyBasicAuth(req *http.Request) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.sendBasic {
		return false
	}

	req.SetBasicAuth(c.opts.Username, c.opts.Password)

	return true
}

func (c *Client) newRequest(
	ctx context.Context, method, uri string, headers http.Header, src transport.Source,
) (*http.Request, error) {
	var body io.ReadCloser

	if src != nil {
		rc, err := src.Open()
		if err != nil {
			return nil, fmt.Errorf("failed to open request body: %w", err)
		}

		body = rc
	}

	req, err := http.NewRequestWithContext(ctx, method, uri, body)
	if err != nil {
		if body != nil {
			body.Close()
		}

		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	if src != nil {
		if n := src.Length(); n > 0 {
			req.ContentLength = n
		}

		req.GetBody = src.Open
	}

	for k, vs := range c.opts.Headers {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}

	if req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", c.opts.UserAgent)
	}

	for k, vs := range headers {
		req.Header.Del(k)

		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}

	return req, nil
}
