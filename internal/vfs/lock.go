//go:build !windows

package vfs

import (
	"io"
	"os"
	"syscall"
)

// fileLock implements file locking on Unix systems.
type fileLock struct {
	f *os.File
}

// lockFile acquires an exclusive, non-blocking flock on the named file.
func lockFile(name string) (io.Closer, error) {
	f, err := os.OpenFile(name, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, err
	}

	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		_ = f.Close()
		return nil, err
	}

	return &fileLock{f: f}, nil
}

func (l *fileLock) Close() error {
	// The lock is dropped with the descriptor anyway.
	_ = syscall.Flock(int(l.f.Fd()), syscall.LOCK_UN)
	return l.f.Close()
}
