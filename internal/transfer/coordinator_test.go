package transfer

import (
	"context"
	"fmt"
	"net/http"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/italolelis/artifact_connector/internal/transport"
)

func TestRunBatchCompletesEveryRequest(t *testing.T) {
	for _, parallelism := range []int{1, 3, 8} {
		t.Run(fmt.Sprintf("parallelism %d", parallelism), func(t *testing.T) {
			repo := newTestRepo(t)
			c := newTestCoordinator(t, repo, NopSink{}, WithParallelism(parallelism))
			dir := t.TempDir()

			var batch Batch

			for i := 0; i < 10; i++ {
				path := fmt.Sprintf("g/a/%d/a-%d.jar", i, i)
				if i%3 != 0 {
					repo.putWithChecksums(path, payload(1000+i))
				}

				batch.Downloads = append(batch.Downloads, download(path, filepath.Join(dir, path), PolicyFail))
			}

			for i := 0; i < 4; i++ {
				batch.Uploads = append(batch.Uploads, upload(fmt.Sprintf("up/%d.jar", i), writeFile(t, payload(10+i))))
			}

			require.NoError(t, c.RunBatch(context.Background(), batch))

			for i, req := range batch.Downloads {
				out := req.Outcome()
				require.Equal(t, StateDone, out.State, req.RemotePath)

				if i%3 == 0 {
					assert.True(t, IsNotFound(out.Err), req.RemotePath)
				} else {
					assert.NoError(t, out.Err, req.RemotePath)
					assert.FileExists(t, req.LocalFile)
				}
			}

			for _, req := range batch.Uploads {
				assert.Equal(t, StateDone, req.Outcome().State)
				assert.NoError(t, req.Outcome().Err)
			}
		})
	}
}

// blockingClient holds every request until release is closed.
type blockingClient struct {
	release  chan struct{}
	inFlight atomic.Int32
	peak     atomic.Int32
}

func (b *blockingClient) hold() {
	n := b.inFlight.Add(1)
	for {
		p := b.peak.Load()
		if n <= p || b.peak.CompareAndSwap(p, n) {
			break
		}
	}

	<-b.release
	b.inFlight.Add(-1)
}

func (b *blockingClient) Head(context.Context, string) (*transport.Response, error) {
	b.hold()

	return &transport.Response{StatusCode: http.StatusOK, Body: http.NoBody, ContentLength: 0}, nil
}

func (b *blockingClient) Get(context.Context, string, http.Header) (*transport.Response, error) {
	b.hold()

	return &transport.Response{StatusCode: http.StatusNotFound, Body: http.NoBody, ContentLength: -1}, nil
}

func (b *blockingClient) Put(context.Context, string, transport.Source) (*transport.Response, error) {
	b.hold()

	return &transport.Response{StatusCode: http.StatusCreated, Body: http.NoBody, ContentLength: 0}, nil
}

func existenceBatch(n int) Batch {
	var b Batch
	for i := 0; i < n; i++ {
		b.Downloads = append(b.Downloads, &Request{RemotePath: fmt.Sprintf("a/%d.jar", i)})
	}

	return b
}

func TestRunBatchBoundsParallelism(t *testing.T) {
	client := &blockingClient{release: make(chan struct{})}
	c := New(client, transport.Repository{BaseURL: "http://repo"}, WithParallelism(3))
	t.Cleanup(func() { _ = c.Close() })

	batch := existenceBatch(9)
	done := make(chan error, 1)

	go func() { done <- c.RunBatch(context.Background(), batch) }()

	require.Eventually(t, func() bool { return client.inFlight.Load() == 3 }, time.Second, 5*time.Millisecond)

	select {
	case <-done:
		t.Fatal("RunBatch returned before the batch finished")
	case <-time.After(50 * time.Millisecond):
	}

	close(client.release)
	require.NoError(t, <-done)

	assert.Equal(t, int32(3), client.peak.Load())

	for _, req := range batch.Downloads {
		assert.Equal(t, StateDone, req.Outcome().State)
	}
}

func TestRunBatchWaitsThroughCancellation(t *testing.T) {
	client := &blockingClient{release: make(chan struct{})}
	c := New(client, transport.Repository{BaseURL: "http://repo"}, WithParallelism(2))
	t.Cleanup(func() { _ = c.Close() })

	ctx, cancel := context.WithCancel(context.Background())
	batch := existenceBatch(2)
	done := make(chan error, 1)

	go func() { done <- c.RunBatch(ctx, batch) }()

	require.Eventually(t, func() bool { return client.inFlight.Load() == 2 }, time.Second, 5*time.Millisecond)
	cancel()

	select {
	case <-done:
		t.Fatal("RunBatch returned before the batch finished")
	case <-time.After(50 * time.Millisecond):
	}

	close(client.release)

	assert.ErrorIs(t, <-done, context.Canceled)

	for _, req := range batch.Downloads {
		assert.Equal(t, StateDone, req.Outcome().State)
	}
}

func TestRunBatchDirectExecution(t *testing.T) {
	client := &blockingClient{release: make(chan struct{})}
	close(client.release)

	c := New(client, transport.Repository{BaseURL: "http://repo"}, WithParallelism(1))
	t.Cleanup(func() { _ = c.Close() })

	batch := existenceBatch(4)
	require.NoError(t, c.RunBatch(context.Background(), batch))

	assert.Equal(t, int32(1), client.peak.Load())
	assert.Nil(t, c.jobs, "direct execution never starts the pool")
}

func TestRunBatchAfterClose(t *testing.T) {
	client := &blockingClient{release: make(chan struct{})}
	close(client.release)

	c := New(client, transport.Repository{BaseURL: "http://repo"})
	require.NoError(t, c.RunBatch(context.Background(), existenceBatch(3)))

	require.NoError(t, c.Close())
	require.NoError(t, c.Close())

	assert.ErrorIs(t, c.RunBatch(context.Background(), existenceBatch(1)), ErrClosed)
}

func TestRunBatchEmpty(t *testing.T) {
	c := New(&blockingClient{}, transport.Repository{BaseURL: "http://repo"})
	t.Cleanup(func() { _ = c.Close() })

	assert.NoError(t, c.RunBatch(context.Background(), Batch{}))
}

// panickingSink blows up on the first event.
type panickingSink struct{ NopSink }

func (panickingSink) TransferInitiated(context.Context, Event) { panic("sink exploded") }

func TestRunBatchRecoversPanickingTask(t *testing.T) {
	client := &blockingClient{release: make(chan struct{})}
	close(client.release)

	c := New(client, transport.Repository{BaseURL: "http://repo"}, WithSink(panickingSink{}))
	t.Cleanup(func() { _ = c.Close() })

	batch := existenceBatch(3)
	require.NoError(t, c.RunBatch(context.Background(), batch))

	for _, req := range batch.Downloads {
		out := req.Outcome()
		assert.Equal(t, StateDone, out.State)
		require.Error(t, out.Err)
		assert.Contains(t, out.Err.Error(), "sink exploded")
	}
}
