package transfer

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gofrs/flock"
	"github.com/google/uuid"
)

const (
	stagedPrefix = "xfer-"
	stagedSuffix = "-in-progress"
	lockSuffix   = ".lock"
	uuidLen      = 36

	lockRetryDelay = 50 * time.Millisecond
)

// StagedName returns a fresh staged file name for base.
func StagedName(base string) string {
	return stagedPrefix + uuid.NewString() + "-" + base + stagedSuffix
}

// IsStagedName reports whether name follows the staged file convention.
func IsStagedName(name string) bool {
	_, ok := stagedBase(name)

	return ok
}

// stagedBase extracts the destination base name from a staged file name.
func stagedBase(name string) (string, bool) {
	if !strings.HasPrefix(name, stagedPrefix) || !strings.HasSuffix(name, stagedSuffix) {
		return "", false
	}

	rest := strings.TrimPrefix(name, stagedPrefix)
	if len(rest) < uuidLen+1+len(stagedSuffix)+1 || rest[uuidLen] != '-' {
		return "", false
	}

	if _, err := uuid.Parse(rest[:uuidLen]); err != nil {
		return "", false
	}

	return strings.TrimSuffix(rest[uuidLen+1:], stagedSuffix), true
}

// findStaged looks for a staged file belonging to dest and returns its path
// and current size. An empty path means nothing was found.
func findStaged(dest string) (string, int64, error) {
	dir, base := filepath.Split(dest)
	if dir == "" {
		dir = "."
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", 0, nil
		}

		return "", 0, fmt.Errorf("failed to scan %s for staged files: %w", dir, err)
	}

	for _, entry := range entries {
		if !entry.Type().IsRegular() {
			continue
		}

		if b, ok := stagedBase(entry.Name()); !ok || b != base {
			continue
		}

		info, err := entry.Info()
		if err != nil {
			continue
		}

		return filepath.Join(dir, entry.Name()), info.Size(), nil
	}

	return "", 0, nil
}

// newStagedPath allocates a staged path next to dest that does not exist yet.
func newStagedPath(dest string) (string, error) {
	dir, base := filepath.Split(dest)

	for {
		path := filepath.Join(dir, StagedName(base))

		_, err := os.Lstat(path)
		if errors.Is(err, fs.ErrNotExist) {
			return path, nil
		}

		if err != nil {
			return "", fmt.Errorf("failed to check staged path: %w", err)
		}
	}
}

// lockDestination takes an advisory lock serialising writers of dest across
// goroutines and processes. The returned func releases it.
func lockDestination(ctx context.Context, dest string) (func(), error) {
	dir, base := filepath.Split(dest)
	path := filepath.Join(dir, stagedPrefix+base+lockSuffix)
	fl := flock.New(path)

	locked, err := fl.TryLockContext(ctx, lockRetryDelay)
	if err != nil {
		return nil, fmt.Errorf("failed to lock %s: %w", dest, err)
	}

	if !locked {
		return nil, fmt.Errorf("failed to lock %s", dest)
	}

	// The modification time marks the last use for the sweeper.
	now := time.Now()
	_ = os.Chtimes(path, now, now)

	return func() { _ = fl.Unlock() }, nil
}

// IsLockName reports whether name follows the destination lock convention.
func IsLockName(name string) bool {
	return strings.HasPrefix(name, stagedPrefix) &&
		strings.HasSuffix(name, lockSuffix) &&
		len(name) > len(stagedPrefix)+len(lockSuffix)
}

// RemoveIdleLock deletes the lock file at path unless a writer holds it.
// It reports whether the file was removed.
func RemoveIdleLock(path string) (bool, error) {
	fl := flock.New(path)

	locked, err := fl.TryLock()
	if err != nil {
		return false, fmt.Errorf("failed to lock %s: %w", path, err)
	}

	if !locked {
		return false, nil
	}
	defer fl.Unlock() //nolint:errcheck

	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return false, fmt.Errorf("failed to remove %s: %w", path, err)
	}

	return true, nil
}
