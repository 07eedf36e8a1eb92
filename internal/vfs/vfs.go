// Package vfs provides the filesystem abstraction used by block image files.
//
// This allows the file-backed device to:
//   - Use the real OS filesystem in production
//   - Use an in-memory filesystem in tests
//   - Use a fault-injection filesystem for error and crash testing
//
// Block images are fixed-slot files accessed with ReadAt/WriteAt, so the
// interface is random-access only.
package vfs

import (
	"io"
	"os"
)

// FS is the main filesystem interface.
type FS interface {
	// OpenFile opens name for reading and writing. With create set, a missing
	// file is created empty; otherwise a missing file is an error satisfying
	// errors.Is(err, os.ErrNotExist).
	OpenFile(name string, create bool) (File, error)

	// Remove deletes a file.
	Remove(name string) error

	// MkdirAll creates a directory and all parent directories.
	MkdirAll(path string, perm os.FileMode) error

	// Exists returns true if the file exists.
	Exists(name string) bool

	// ListDir lists files in a directory.
	ListDir(path string) ([]string, error)

	// Lock acquires an exclusive lock on a file.
	// Returns a Locker that must be closed to release the lock.
	Lock(name string) (io.Closer, error)
}

// File is a random-access read/write file.
type File interface {
	io.ReaderAt
	io.WriterAt
	io.Closer

	// Sync flushes the file contents to stable storage.
	Sync() error

	// Truncate changes the size of the file.
	Truncate(size int64) error

	// Size returns the current file size.
	Size() (int64, error)
}

// osFS implements FS using the OS filesystem.
type osFS struct{}

// Default returns the default OS filesystem.
func Default() FS {
	return &osFS{}
}

func (fs *osFS) OpenFile(name string, create bool) (File, error) {
	flag := os.O_RDWR
	if create {
		flag |= os.O_CREATE
	}
	f, err := os.OpenFile(name, flag, 0o644)
	if err != nil {
		return nil, err
	}
	return &osFile{f: f}, nil
}

func (fs *osFS) Remove(name string) error {
	return os.Remove(name)
}

func (fs *osFS) MkdirAll(path string, perm os.FileMode) error {
	return os.MkdirAll(path, perm)
}

func (fs *osFS) Exists(name string) bool {
	_, err := os.Stat(name)
	return err == nil
}

func (fs *osFS) ListDir(path string) ([]string, error) {
	entries, err := os.ReadDir(path)
	if err != nil {
		return nil, err
	}
	names := make([]string, len(entries))
	for i, e := range entries {
		names[i] = e.Name()
	}
	return names, nil
}

func (fs *osFS) Lock(name string) (io.Closer, error) {
	return lockFile(name)
}

// osFile wraps os.File for the File interface.
type osFile struct {
	f *os.File
}

func (f *osFile) ReadAt(p []byte, off int64) (int, error) {
	return f.f.ReadAt(p, off)
}

func (f *osFile) WriteAt(p []byte, off int64) (int, error) {
	return f.f.WriteAt(p, off)
}

func (f *osFile) Close() error {
	return f.f.Close()
}

func (f *osFile) Sync() error {
	return f.f.Sync()
}

func (f *osFile) Truncate(size int64) error {
	return f.f.Truncate(size)
}

func (f *osFile) Size() (int64, error) {
	info, err := f.f.Stat()
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}
