package vfs

import (
	"errors"
	"io"
	"os"
	"path/filepath"
	"sync"
)

var (
	// ErrInjectedReadError is returned when a read error is injected.
	ErrInjectedReadError = errors.New("vfs: injected read error")

	// ErrInjectedWriteError is returned when a write error is injected.
	ErrInjectedWriteError = errors.New("vfs: injected write error")

	// ErrInjectedSyncError is returned when a sync error is injected.
	ErrInjectedSyncError = errors.New("vfs: injected sync error")
)

// FaultInjectionFS wraps an FS and allows injecting errors.
//
// It also keeps an undo log of every write since the last Sync of each file
// so that DropUnsyncedData can roll files back to their synced content,
// simulating a crash.
type FaultInjectionFS struct {
	base FS

	mu sync.RWMutex

	// Per-file state tracking, keyed by absolute path.
	fileState map[string]*fileState

	// Error injection flags
	injectReadError  bool
	injectWriteError bool
	injectSyncError  bool
	readErrorPath    string
	writeErrorPath   string

	// When false all writes fail. Used to simulate a crash.
	filesystemActive bool
}

// fileState tracks the unsynced writes of one file.
type fileState struct {
	file       File
	syncedSize int64
	undo       []undoRecord
	writes     int // successful writes since the last Sync
}

// undoRecord holds the bytes a write overwrote.
type undoRecord struct {
	off int64
	old []byte
}

// NewFaultInjectionFS creates a new fault-injecting filesystem wrapper.
func NewFaultInjectionFS(base FS) *FaultInjectionFS {
	return &FaultInjectionFS{
		base:             base,
		fileState:        make(map[string]*fileState),
		filesystemActive: true,
	}
}

// SetFilesystemActive enables or disables the filesystem.
// When disabled, all writes fail.
func (fs *FaultInjectionFS) SetFilesystemActive(active bool) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	fs.filesystemActive = active
}

// InjectReadError sets up read error injection for the given path.
// An empty path matches every file.
func (fs *FaultInjectionFS) InjectReadError(path string) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	fs.injectReadError = true
	fs.readErrorPath = absPath(path)
}

// InjectWriteError sets up write error injection for the given path.
// An empty path matches every file.
func (fs *FaultInjectionFS) InjectWriteError(path string) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	fs.injectWriteError = true
	fs.writeErrorPath = absPath(path)
}

// InjectSyncError sets up sync error injection.
func (fs *FaultInjectionFS) InjectSyncError() {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	fs.injectSyncError = true
}

// ClearErrors clears all error injection.
func (fs *FaultInjectionFS) ClearErrors() {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	fs.injectReadError = false
	fs.injectWriteError = false
	fs.injectSyncError = false
	fs.readErrorPath = ""
	fs.writeErrorPath = ""
}

func absPath(p string) string {
	if p == "" {
		return ""
	}
	abs, err := filepath.Abs(p)
	if err != nil {
		return p
	}
	return abs
}

func (fs *FaultInjectionFS) readFails(path string) bool {
	fs.mu.RLock()
	defer fs.mu.RUnlock()
	return fs.injectReadError && (fs.readErrorPath == "" || fs.readErrorPath == path)
}

func (fs *FaultInjectionFS) writeFails(path string) bool {
	fs.mu.RLock()
	defer fs.mu.RUnlock()
	if !fs.filesystemActive {
		return true
	}
	return fs.injectWriteError && (fs.writeErrorPath == "" || fs.writeErrorPath == path)
}

// DropUnsyncedData simulates a crash by undoing every write made since the
// last Sync of each open file, then truncating it to its synced size.
// Files closed before the call keep their content.
func (fs *FaultInjectionFS) DropUnsyncedData() error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	var errs []error
	for _, st := range fs.fileState {
		for i := len(st.undo) - 1; i >= 0; i-- {
			rec := st.undo[i]
			if _, err := st.file.WriteAt(rec.old, rec.off); err != nil {
				errs = append(errs, err)
			}
		}
		if err := st.file.Truncate(st.syncedSize); err != nil {
			errs = append(errs, err)
		}
		st.undo = nil
		st.writes = 0
	}
	return errors.Join(errs...)
}

// UnsyncedWrites returns the number of writes to path since its last Sync.
func (fs *FaultInjectionFS) UnsyncedWrites(path string) (int, bool) {
	fs.mu.RLock()
	defer fs.mu.RUnlock()

	st, ok := fs.fileState[absPath(path)]
	if !ok {
		return 0, false
	}
	return st.writes, true
}

// OpenFile opens a file with fault injection.
func (fs *FaultInjectionFS) OpenFile(name string, create bool) (File, error) {
	path := absPath(name)
	if create && fs.writeFails(path) {
		return nil, ErrInjectedWriteError
	}
	if fs.readFails(path) {
		return nil, ErrInjectedReadError
	}

	base, err := fs.base.OpenFile(name, create)
	if err != nil {
		return nil, err
	}
	size, err := base.Size()
	if err != nil {
		_ = base.Close()
		return nil, err
	}

	fs.mu.Lock()
	fs.fileState[path] = &fileState{file: base, syncedSize: size}
	fs.mu.Unlock()

	return &faultFile{base: base, fs: fs, path: path}, nil
}

// Remove deletes a file.
func (fs *FaultInjectionFS) Remove(name string) error {
	if fs.writeFails(absPath(name)) {
		return ErrInjectedWriteError
	}
	if err := fs.base.Remove(name); err != nil {
		return err
	}

	fs.mu.Lock()
	delete(fs.fileState, absPath(name))
	fs.mu.Unlock()
	return nil
}

// MkdirAll creates a directory and all parent directories.
func (fs *FaultInjectionFS) MkdirAll(path string, perm os.FileMode) error {
	if fs.writeFails(absPath(path)) {
		return ErrInjectedWriteError
	}
	return fs.base.MkdirAll(path, perm)
}

// Exists returns true if the file exists.
func (fs *FaultInjectionFS) Exists(name string) bool {
	return fs.base.Exists(name)
}

// ListDir lists files in a directory.
func (fs *FaultInjectionFS) ListDir(path string) ([]string, error) {
	return fs.base.ListDir(path)
}

// Lock acquires an exclusive lock on a file.
func (fs *FaultInjectionFS) Lock(name string) (io.Closer, error) {
	return fs.base.Lock(name)
}

// faultFile wraps File with fault injection.
type faultFile struct {
	base File
	fs   *FaultInjectionFS
	path string
}

func (f *faultFile) ReadAt(p []byte, off int64) (int, error) {
	if f.fs.readFails(f.path) {
		return 0, ErrInjectedReadError
	}
	return f.base.ReadAt(p, off)
}

func (f *faultFile) WriteAt(p []byte, off int64) (int, error) {
	if f.fs.writeFails(f.path) {
		return 0, ErrInjectedWriteError
	}

	// Capture what the write overwrites. Bytes past EOF are covered by the
	// truncate to syncedSize.
	old := make([]byte, len(p))
	n, err := f.base.ReadAt(old, off)
	if err != nil && !errors.Is(err, io.EOF) {
		return 0, err
	}

	written, err := f.base.WriteAt(p, off)
	if written > 0 {
		f.fs.mu.Lock()
		if st, ok := f.fs.fileState[f.path]; ok {
			st.writes++
			if n > 0 {
				st.undo = append(st.undo, undoRecord{off: off, old: old[:min(n, written)]})
			}
		}
		f.fs.mu.Unlock()
	}
	return written, err
}

func (f *faultFile) Close() error {
	f.fs.mu.Lock()
	if st, ok := f.fs.fileState[f.path]; ok && st.file == f.base {
		delete(f.fs.fileState, f.path)
	}
	f.fs.mu.Unlock()
	return f.base.Close()
}

func (f *faultFile) Sync() error {
	f.fs.mu.RLock()
	injected := f.fs.injectSyncError
	f.fs.mu.RUnlock()
	if injected {
		return ErrInjectedSyncError
	}

	if err := f.base.Sync(); err != nil {
		return err
	}
	size, err := f.base.Size()
	if err != nil {
		return err
	}

	f.fs.mu.Lock()
	if st, ok := f.fs.fileState[f.path]; ok {
		st.syncedSize = size
		st.undo = nil
		st.writes = 0
	}
	f.fs.mu.Unlock()
	return nil
}

func (f *faultFile) Truncate(size int64) error {
	if f.fs.writeFails(f.path) {
		return ErrInjectedWriteError
	}
	if err := f.base.Truncate(size); err != nil {
		return err
	}

	f.fs.mu.Lock()
	if st, ok := f.fs.fileState[f.path]; ok && size < st.syncedSize {
		st.syncedSize = size
	}
	f.fs.mu.Unlock()
	return nil
}

func (f *faultFile) Size() (int64, error) {
	return f.base.Size()
}
