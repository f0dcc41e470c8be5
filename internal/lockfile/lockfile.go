// Package lockfile provides an advisory, process-level exclusive lock used to
// serialise read-modify-write cycles on a state document.
//
// The lock only coordinates processes on one host that agree to take it. It
// is not a distributed lock.
package lockfile

import (
	"fmt"
	"os"
	"path/filepath"
)

// Lock is a held advisory lock. Release it exactly once.
type Lock struct {
	file *os.File
}

// Acquire blocks until it holds an exclusive lock on path, creating the file
// (and its directory) if needed.
func Acquire(path string) (*Lock, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("failed to create lock directory: %w", err)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0600)
	if err != nil {
		return nil, fmt.Errorf("failed to open lock file: %w", err)
	}

	if err := flockExclusive(f); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to lock %s: %w", path, err)
	}
	return &Lock{file: f}, nil
}

// TryAcquire is Acquire without waiting. It returns ErrLockBusy when another
// holder has the lock.
func TryAcquire(path string) (*Lock, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("failed to create lock directory: %w", err)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0600)
	if err != nil {
		return nil, fmt.Errorf("failed to open lock file: %w", err)
	}

	if err := flockExclusiveNonBlock(f); err != nil {
		f.Close()
		return nil, err
	}
	return &Lock{file: f}, nil
}

// Release unlocks and closes the lock file. The file itself is left in place
// so that concurrent waiters keep locking the same inode.
func (l *Lock) Release() error {
	if l == nil || l.file == nil {
		return nil
	}
	unlockErr := flockUnlock(l.file)
	closeErr := l.file.Close()
	l.file = nil
	if unlockErr != nil {
		return unlockErr
	}
	return closeErr
}
