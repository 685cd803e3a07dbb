// Package filelock provides advisory whole-file locking for cross-process
// mutual exclusion.
//
// Locks are the only coordination primitive shared between processes that
// hold the same durable store open: in-memory mutexes do not cross process
// boundaries, so every append and in-place status update on a directory
// array is scoped by a filelock on the array's LOCK file.
package filelock

import (
	"fmt"
	"os"
)

// Lock is a held advisory lock on a file.
type Lock struct {
	f *os.File
}

// Acquire opens (creating if necessary) the file at path and blocks until
// an exclusive advisory lock is held on it.
func Acquire(path string) (*Lock, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o600) //nolint:gosec // G304: path is store-internal
	if err != nil {
		return nil, fmt.Errorf("open lock file: %w", err)
	}

	if err := lockFile(f); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("acquire lock %s: %w", path, err)
	}

	return &Lock{f: f}, nil
}

// Release drops the lock and closes the underlying file.
func (l *Lock) Release() error {
	if l == nil || l.f == nil {
		return nil
	}
	err := unlockFile(l.f)
	if cerr := l.f.Close(); err == nil {
		err = cerr
	}
	l.f = nil
	return err
}
