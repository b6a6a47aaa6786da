package storage

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"

	"github.com/fabiosalasm-zz/uy-home-finder/pkg/utils"
)

const runLockFile = "crawl.lock"

// RunLock keeps two processes from crawling into the same state directory.
type RunLock struct {
	lock *flock.Flock
}

// AcquireRunLock takes the lock file in stateDir without blocking.
// If another process holds it the error wraps utils.ErrRunLocked.
func AcquireRunLock(stateDir string) (*RunLock, error) {
	if err := os.MkdirAll(stateDir, 0755); err != nil {
		return nil, fmt.Errorf("cannot create state directory %s: %w", stateDir, err)
	}
	path := filepath.Join(stateDir, runLockFile)
	fl := flock.New(path)
	locked, err := fl.TryLock()
	if err != nil {
		return nil, fmt.Errorf("locking %s: %w", path, err)
	}
	if !locked {
		return nil, fmt.Errorf("%w: %s", utils.ErrRunLocked, path)
	}
	return &RunLock{lock: fl}, nil
}

// Release unlocks the lock file. Safe to call more than once.
func (l *RunLock) Release() error {
	if l == nil || l.lock == nil {
		return nil
	}
	return l.lock.Unlock()
}
