package session

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// ErrLocked is returned by LockDir when another process holds the run lock.
var ErrLocked = errors.New("another focustrack run holds the data directory")

// RunLock is an exclusive advisory lock on a data directory. Only one
// tracker may own the store's active sessions at a time.
type RunLock struct {
	f *os.File
}

// LockDir takes the run lock for dir without blocking.
func LockDir(dir string) (*RunLock, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}
	f, err := os.OpenFile(filepath.Join(dir, "run.lock"), os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("opening run lock: %w", err)
	}
	if err := tryLock(f); err != nil {
		f.Close()
		return nil, err
	}
	return &RunLock{f: f}, nil
}

// Unlock releases the lock. It is safe to call more than once.
func (l *RunLock) Unlock() error {
	if l == nil || l.f == nil {
		return nil
	}
	err := l.f.Close()
	l.f = nil
	return err
}
