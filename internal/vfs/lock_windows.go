//go:build windows

package vfs

import (
	"io"
	"os"
)

// fileLock holds the lock file open on Windows systems.
type fileLock struct {
	f *os.File
}

// lockFile opens the named file and keeps it open until Close. It does not
// exclude other processes.
func lockFile(name string) (io.Closer, error) {
	f, err := os.OpenFile(name, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, err
	}
	return &fileLock{f: f}, nil
}

func (l *fileLock) Close() error {
	return l.f.Close()
}
