package storage

import (
	"context"
	"time"
)

// Transfer statuses recorded in the ledger.
const (
	StatusSucceeded = "succeeded"
	StatusFailed    = "failed"
	StatusNotFound  = "not_found"
)

// TransferRecord is one finished transfer.
type TransferRecord struct {
	ID            int64
	Direction     string // "get" or "put"
	Resource      string // "artifact" or "metadata"
	RemotePath    string
	LocalFile     string
	Status        string
	Bytes         int64
	Error         string
	Trace         string
	InstanceID    string
	TransferredAt time.Time
}

// TransferFilter narrows GetTransfers. Zero values match everything.
type TransferFilter struct {
	Direction string
	Status    string
	Limit     int
}

type TransferReadRepository interface {
	GetTransfers(ctx context.Context, filter TransferFilter) ([]TransferRecord, error)
}

type TransferWriteRepository interface {
	TrackTransfer(ctx context.Context, record TransferRecord) error
	DeleteTransfersBefore(ctx context.Context, before time.Time) (int64, error)
}

type TransferRepository interface {
	TransferReadRepository
	TransferWriteRepository
}
