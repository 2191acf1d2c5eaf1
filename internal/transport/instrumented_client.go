package transport

import (
	"context"
	"fmt"
	"net/http"

	"github.com/italolelis/artifact_connector/internal/telemetry"
)

// InstrumentedClient wraps Client with telemetry. Responses with a status of
// 400 or above are recorded as errors but still returned to the caller.
type InstrumentedClient struct {
	client     Client
	telemetry  *telemetry.Telemetry
	clientType string
}

// NewInstrumentedClient creates a new instrumented repository client.
func NewInstrumentedClient(client Client, tel *telemetry.Telemetry, clientType string) *InstrumentedClient {
	return &InstrumentedClient{
		client:     client,
		telemetry:  tel,
		clientType: clientType,
	}
}

// Head issues a HEAD request with telemetry.
func (c *InstrumentedClient) Head(ctx context.Context, uri string) (*Response, error) {
	return c.do(ctx, "head", func(ctx context.Context) (*Response, error) {
		return c.client.Head(ctx, uri)
	})
}

// Get issues a GET request with telemetry.
func (c *InstrumentedClient) Get(ctx context.Context, uri string, headers http.Header) (*Response, error) {
	return c.do(ctx, "get", func(ctx context.Context) (*Response, error) {
		return c.client.Get(ctx, uri, headers)
	})
}

// Put issues a PUT request with telemetry.
func (c *InstrumentedClient) Put(ctx context.Context, uri string, src Source) (*Response, error) {
	return c.do(ctx, "put", func(ctx context.Context) (*Response, error) {
		return c.client.Put(ctx, uri, src)
	})
}

func (c *InstrumentedClient) do(
	ctx context.Context, operation string, fn func(ctx context.Context) (*Response, error),
) (*Response, error) {
	var result *Response

	var err error

	_ = c.telemetry.InstrumentClientOperation(ctx, c.clientType, operation, func(ctx context.Context) error {
		result, err = fn(ctx)
		if err != nil {
			return err
		}

		if result.StatusCode >= http.StatusBadRequest {
			return fmt.Errorf("%s answered %d", operation, result.StatusCode)
		}

		return nil
	})

	if err != nil {
		return nil, err
	}

	return result, nil
}
