package sqlite

import (
	"context"
	"database/sql"
	"time"

	"github.com/italolelis/artifact_connector/internal/storage"
	"github.com/italolelis/artifact_connector/internal/telemetry"
)

// InstrumentedTransferRepository wraps TransferRepository with telemetry.
type InstrumentedTransferRepository struct {
	repo      *TransferRepository
	telemetry *telemetry.Telemetry
}

var _ storage.TransferRepository = (*InstrumentedTransferRepository)(nil)

// NewInstrumentedTransferRepository creates a new instrumented transfer repository.
func NewInstrumentedTransferRepository(dbConn *sql.DB, tel *telemetry.Telemetry) *InstrumentedTransferRepository {
	return &InstrumentedTransferRepository{
		repo:      NewTransferRepository(dbConn),
		telemetry: tel,
	}
}

// TrackTransfer records a transfer with telemetry.
func (r *InstrumentedTransferRepository) TrackTransfer(ctx context.Context, record storage.TransferRecord) error {
	return r.telemetry.InstrumentDBOperation(ctx, "track_transfer", func(ctx context.Context) error {
		return r.repo.TrackTransfer(ctx, record)
	})
}

// GetTransfers lists transfers with telemetry.
func (r *InstrumentedTransferRepository) GetTransfers(
	ctx context.Context, filter storage.TransferFilter,
) ([]storage.TransferRecord, error) {
	var result []storage.TransferRecord

	var err error

	instrumentedErr := r.telemetry.InstrumentDBOperation(ctx, "get_transfers", func(ctx context.Context) error {
		result, err = r.repo.GetTransfers(ctx, filter)

		return err
	})

	if instrumentedErr != nil {
		return nil, instrumentedErr
	}

	return result, nil
}

// DeleteTransfersBefore prunes transfers with telemetry.
func (r *InstrumentedTransferRepository) DeleteTransfersBefore(ctx context.Context, before time.Time) (int64, error) {
	var deleted int64

	err := r.telemetry.InstrumentDBOperation(ctx, "delete_transfers", func(ctx context.Context) error {
		var err error

		deleted, err = r.repo.DeleteTransfersBefore(ctx, before)

		return err
	})

	return deleted, err
}
