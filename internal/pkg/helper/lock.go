package helper

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
)

// AcquireLock takes an exclusive file lock so only one engine instance
// writes state at a time. Returns a release function.
func AcquireLock(lockPath string) (func(), error) {
	if err := os.MkdirAll(filepath.Dir(lockPath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create lock directory: %w", err)
	}

	fileLock := flock.New(lockPath)

	locked, err := fileLock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("failed to attempt lock: %w", err)
	}
	if !locked {
		return nil, fmt.Errorf("lock file %s is already locked, another instance might be running", lockPath)
	}

	return func() {
		fileLock.Unlock()
	}, nil
}
