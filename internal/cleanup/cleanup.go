package cleanup

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/italolelis/artifact_connector/internal/logctx"
	"github.com/italolelis/artifact_connector/internal/storage"
	"github.com/italolelis/artifact_connector/internal/transfer"
)

// SweepStagedFiles deletes staged files under root whose last write is older
// than keep. Staged files of live transfers are written continuously, so
// only abandoned ones age past the retention. Destination lock files unused
// for longer than keep are removed too, unless a writer holds them.
func SweepStagedFiles(ctx context.Context, root string, keep time.Duration) (int, error) {
	logger := logctx.LoggerFromContext(ctx)
	cutoff := time.Now().Add(-keep)
	removed := 0

	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}

			return err
		}

		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}

		if d.IsDir() {
			return nil
		}

		isLock := transfer.IsLockName(d.Name())
		if !isLock && !transfer.IsStagedName(d.Name()) {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil // finished or swept concurrently
			}

			return err
		}

		if info.ModTime().After(cutoff) {
			return nil
		}

		if isLock {
			ok, err := transfer.RemoveIdleLock(path)
			if err != nil {
				logger.Warn("failed to delete idle lock file", "file", path, "err", err)

				return nil
			}

			if ok {
				removed++

				logger.Debug("deleted idle lock file", "file", path)
			}

			return nil
		}

		if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			logger.Error("failed to delete staged file", "file", path, "err", err)

			return err
		}

		removed++

		logger.Info("deleted abandoned staged file", "file", path, "age", time.Since(info.ModTime()).Round(time.Second))

		return nil
	})
	if err != nil {
		return removed, fmt.Errorf("failed to sweep staged files: %w", err)
	}

	return removed, nil
}

// PruneTransfers drops ledger rows older than keep.
func PruneTransfers(ctx context.Context, repo storage.TransferWriteRepository, keep time.Duration) (int64, error) {
	n, err := repo.DeleteTransfersBefore(ctx, time.Now().Add(-keep))
	if err != nil {
		return 0, fmt.Errorf("failed to prune transfers: %w", err)
	}

	if n > 0 {
		logctx.LoggerFromContext(ctx).Info("pruned transfer ledger", "rows", n)
	}

	return n, nil
}

// Config controls Run.
type Config struct {
	Root          string
	KeepStagedFor time.Duration
	KeepLedgerFor time.Duration
	Interval      time.Duration
}

// Run sweeps on every tick until ctx is done. Failures are logged and the
// next tick tries again. A non-positive interval disables cleanup.
func Run(ctx context.Context, repo storage.TransferWriteRepository, cfg Config) {
	logger := logctx.LoggerFromContext(ctx)

	if cfg.Interval <= 0 {
		logger.Warn("cleanup disabled", "interval", cfg.Interval)

		return
	}

	ticker := time.NewTicker(cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info("cleanup stopped")

			return
		case <-ticker.C:
			if _, err := SweepStagedFiles(ctx, cfg.Root, cfg.KeepStagedFor); err != nil {
				logger.Error("staged file sweep failed", "err", err)
			}

			if repo == nil {
				continue
			}

			if _, err := PruneTransfers(ctx, repo, cfg.KeepLedgerFor); err != nil {
				logger.Error("ledger prune failed", "err", err)
			}
		}
	}
}
