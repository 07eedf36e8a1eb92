package vfs

import (
	"errors"
	"io"
	"os"
	"path"
	"slices"
	"strings"
	"sync"
)

// ErrLocked is returned by MemFS.Lock when the lock is already held.
var ErrLocked = errors.New("vfs: file already locked")

// MemFS is an in-memory FS. Paths are cleaned with path.Clean; directories
// are implicit except for those created with MkdirAll.
type MemFS struct {
	mu    sync.Mutex
	files map[string]*memData
	dirs  map[string]bool
	locks map[string]bool
}

type memData struct {
	mu   sync.RWMutex
	data []byte
}

// NewMemFS returns an empty in-memory filesystem.
func NewMemFS() *MemFS {
	return &MemFS{
		files: make(map[string]*memData),
		dirs:  make(map[string]bool),
		locks: make(map[string]bool),
	}
}

// OpenFile implements FS.
func (fs *MemFS) OpenFile(name string, create bool) (File, error) {
	name = path.Clean(name)
	fs.mu.Lock()
	defer fs.mu.Unlock()

	d, ok := fs.files[name]
	if !ok {
		if !create {
			return nil, &os.PathError{Op: "open", Path: name, Err: os.ErrNotExist}
		}
		d = &memData{}
		fs.files[name] = d
	}
	return &memFile{d: d}, nil
}

// Remove implements FS.
func (fs *MemFS) Remove(name string) error {
	name = path.Clean(name)
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if _, ok := fs.files[name]; !ok {
		return &os.PathError{Op: "remove", Path: name, Err: os.ErrNotExist}
	}
	delete(fs.files, name)
	return nil
}

// MkdirAll implements FS.
func (fs *MemFS) MkdirAll(p string, _ os.FileMode) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	for p = path.Clean(p); p != "." && p != "/"; p = path.Dir(p) {
		fs.dirs[p] = true
	}
	return nil
}

// Exists implements FS.
func (fs *MemFS) Exists(name string) bool {
	name = path.Clean(name)
	fs.mu.Lock()
	defer fs.mu.Unlock()
	_, ok := fs.files[name]
	return ok || fs.dirs[name]
}

// ListDir implements FS. Only regular files directly under dir are listed.
func (fs *MemFS) ListDir(dir string) ([]string, error) {
	dir = path.Clean(dir)
	fs.mu.Lock()
	defer fs.mu.Unlock()

	var names []string
	for name := range fs.files {
		if path.Dir(name) == dir {
			names = append(names, strings.TrimPrefix(name, dir+"/"))
		}
	}
	if names == nil && !fs.dirs[dir] {
		return nil, &os.PathError{Op: "readdir", Path: dir, Err: os.ErrNotExist}
	}
	slices.Sort(names)
	return names, nil
}

// Lock implements FS. The lock file is created if missing.
func (fs *MemFS) Lock(name string) (io.Closer, error) {
	name = path.Clean(name)
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if fs.locks[name] {
		return nil, ErrLocked
	}
	if _, ok := fs.files[name]; !ok {
		fs.files[name] = &memData{}
	}
	fs.locks[name] = true
	return &memLock{fs: fs, name: name}, nil
}

type memLock struct {
	fs   *MemFS
	name string
	once sync.Once
}

func (l *memLock) Close() error {
	l.once.Do(func() {
		l.fs.mu.Lock()
		delete(l.fs.locks, l.name)
		l.fs.mu.Unlock()
	})
	return nil
}

// memFile is a handle on shared memData. Handles on the same name see each
// other's writes immediately.
type memFile struct {
	d      *memData
	closed bool
}

var errMemClosed = errors.New("vfs: file closed")

func (f *memFile) ReadAt(p []byte, off int64) (int, error) {
	if f.closed {
		return 0, errMemClosed
	}
	if off < 0 {
		return 0, errors.New("vfs: negative offset")
	}
	f.d.mu.RLock()
	defer f.d.mu.RUnlock()
	if off >= int64(len(f.d.data)) {
		return 0, io.EOF
	}
	n := copy(p, f.d.data[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

func (f *memFile) WriteAt(p []byte, off int64) (int, error) {
	if f.closed {
		return 0, errMemClosed
	}
	if off < 0 {
		return 0, errors.New("vfs: negative offset")
	}
	f.d.mu.Lock()
	defer f.d.mu.Unlock()
	if end := off + int64(len(p)); end > int64(len(f.d.data)) {
		f.d.data = append(f.d.data, make([]byte, end-int64(len(f.d.data)))...)
	}
	return copy(f.d.data[off:], p), nil
}

func (f *memFile) Close() error {
	if f.closed {
		return errMemClosed
	}
	f.closed = true
	return nil
}

func (f *memFile) Sync() error {
	if f.closed {
		return errMemClosed
	}
	return nil
}

func (f *memFile) Truncate(size int64) error {
	if f.closed {
		return errMemClosed
	}
	f.d.mu.Lock()
	defer f.d.mu.Unlock()
	if size <= int64(len(f.d.data)) {
		f.d.data = f.d.data[:size]
		return nil
	}
	f.d.data = append(f.d.data, make([]byte, size-int64(len(f.d.data)))...)
	return nil
}

func (f *memFile) Size() (int64, error) {
	if f.closed {
		return 0, errMemClosed
	}
	f.d.mu.RLock()
	defer f.d.mu.RUnlock()
	return int64(len(f.d.data)), nil
}
