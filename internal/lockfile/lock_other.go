//go:build !unix

package lockfile

import (
	"errors"
	"os"
)

// ErrLockBusy is returned by TryAcquire when the lock is held elsewhere.
var ErrLockBusy = errors.New("lock already held by another process")

// Platforms without flock fall back to the single-writer assumption.
func flockExclusive(*os.File) error         { return nil }
func flockExclusiveNonBlock(*os.File) error { return nil }
func flockUnlock(*os.File) error            { return nil }
