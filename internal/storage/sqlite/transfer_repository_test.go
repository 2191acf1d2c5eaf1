package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/italolelis/artifact_connector/internal/storage"
	"github.com/italolelis/artifact_connector/internal/telemetry"
)

func newTestRepository(t *testing.T) *InstrumentedTransferRepository {
	t.Helper()

	db, err := InitDB(context.Background(), filepath.Join(t.TempDir(), "ledger.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	tel, err := telemetry.New(context.Background(), telemetry.Config{Enabled: false})
	require.NoError(t, err)

	return NewInstrumentedTransferRepository(db, tel)
}

func TestTrackAndGetTransfers(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepository(t)
	now := time.Now()

	records := []storage.TransferRecord{
		{Direction: "get", Resource: "artifact", RemotePath: "a/1.jar", LocalFile: "/cache/a/1.jar",
			Status: storage.StatusSucceeded, Bytes: 10, TransferredAt: now.Add(-3 * time.Minute)},
		{Direction: "get", Resource: "metadata", RemotePath: "a/maven-metadata.xml",
			Status: storage.StatusNotFound, Error: "not found", TransferredAt: now.Add(-2 * time.Minute)},
		{Direction: "put", Resource: "artifact", RemotePath: "a/2.jar", LocalFile: "/cache/a/2.jar",
			Status: storage.StatusSucceeded, Bytes: 20, Trace: "build-1", InstanceID: "host-1", TransferredAt: now.Add(-time.Minute)},
	}

	for _, r := range records {
		require.NoError(t, repo.TrackTransfer(ctx, r))
	}

	all, err := repo.GetTransfers(ctx, storage.TransferFilter{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "a/2.jar", all[0].RemotePath, "most recent first")
	assert.Equal(t, "build-1", all[0].Trace)
	assert.Equal(t, "host-1", all[0].InstanceID)
	assert.Equal(t, int64(20), all[0].Bytes)
	assert.Empty(t, all[1].LocalFile)
	assert.Equal(t, "not found", all[1].Error)

	gets, err := repo.GetTransfers(ctx, storage.TransferFilter{Direction: "get"})
	require.NoError(t, err)
	assert.Len(t, gets, 2)

	succeeded, err := repo.GetTransfers(ctx, storage.TransferFilter{Status: storage.StatusSucceeded, Limit: 1})
	require.NoError(t, err)
	require.Len(t, succeeded, 1)
	assert.Equal(t, "a/2.jar", succeeded[0].RemotePath)
}

func TestDeleteTransfersBefore(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepository(t)
	now := time.Now()

	require.NoError(t, repo.TrackTransfer(ctx, storage.TransferRecord{
		Direction: "get", Resource: "artifact", RemotePath: "old.jar", Status: storage.StatusSucceeded,
		TransferredAt: now.Add(-48 * time.Hour),
	}))
	require.NoError(t, repo.TrackTransfer(ctx, storage.TransferRecord{
		Direction: "get", Resource: "artifact", RemotePath: "new.jar", Status: storage.StatusSucceeded,
		TransferredAt: now,
	}))

	deleted, err := repo.DeleteTransfersBefore(ctx, now.Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)

	rest, err := repo.GetTransfers(ctx, storage.TransferFilter{})
	require.NoError(t, err)
	require.Len(t, rest, 1)
	assert.Equal(t, "new.jar", rest[0].RemotePath)
}

func TestTrackTransferDefaultsTimestamp(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepository(t)

	require.NoError(t, repo.TrackTransfer(ctx, storage.TransferRecord{
		Direction: "put", Resource: "artifact", RemotePath: "a.jar", Status: storage.StatusFailed,
	}))

	all, err := repo.GetTransfers(ctx, storage.TransferFilter{})
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.WithinDuration(t, time.Now(), all[0].TransferredAt, time.Minute)
}
