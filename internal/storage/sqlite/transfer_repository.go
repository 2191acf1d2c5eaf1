package sqlite

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/italolelis/artifact_connector/internal/storage"
)

// TransferRepository implements storage.TransferRepository on SQLite.
type TransferRepository struct {
	db *sql.DB
}

func NewTransferRepository(dbConn *sql.DB) *TransferRepository {
	return &TransferRepository{db: dbConn}
}

func (r *TransferRepository) TrackTransfer(ctx context.Context, record storage.TransferRecord) error {
	if record.TransferredAt.IsZero() {
		record.TransferredAt = time.Now()
	}

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO transfers
			(direction, resource, remote_path, local_file, status, bytes, error, trace, instance_id, transferred_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		record.Direction, record.Resource, record.RemotePath, record.LocalFile, record.Status,
		record.Bytes, record.Error, record.Trace, record.InstanceID, record.TransferredAt.UTC(),
	)

	return err
}

// GetTransfers returns the most recent transfers first.
func (r *TransferRepository) GetTransfers(ctx context.Context, filter storage.TransferFilter) ([]storage.TransferRecord, error) {
	var (
		where []string
		args  []any
	)

	if filter.Direction != "" {
		where = append(where, "direction = ?")
		args = append(args, filter.Direction)
	}

	if filter.Status != "" {
		where = append(where, "status = ?")
		args = append(args, filter.Status)
	}

	query := `SELECT
			id, direction, resource, remote_path, local_file, status,
			bytes, error, trace, instance_id, transferred_at
		FROM transfers`

	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}

	query += " ORDER BY transferred_at DESC, id DESC"

	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var transfers []storage.TransferRecord

	for rows.Next() {
		var (
			record                          storage.TransferRecord
			localFile, errText, trace, inst sql.NullString
		)

		err := rows.Scan(&record.ID, &record.Direction, &record.Resource, &record.RemotePath, &localFile,
			&record.Status, &record.Bytes, &errText, &trace, &inst, &record.TransferredAt)
		if err != nil {
			return nil, err
		}

		record.LocalFile = localFile.String
		record.Error = errText.String
		record.Trace = trace.String
		record.InstanceID = inst.String

		transfers = append(transfers, record)
	}

	return transfers, rows.Err()
}

// DeleteTransfersBefore prunes records older than before and returns how
// many were removed.
func (r *TransferRepository) DeleteTransfersBefore(ctx context.Context, before time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM transfers WHERE transferred_at < ?`, before.UTC())
	if err != nil {
		return 0, err
	}

	return res.RowsAffected()
}
