// Package vfs provides the filesystem and file-locking abstractions the
// core LoLa components (shm, discovery) are injected with.
//
// Two implementations are provided:
//   - [Real]: production use, wraps the [os] package
//   - [Fake]: in-memory, for unit tests that need to simulate adversarial
//     or racing filesystem state without touching disk
//
// This package intentionally mirrors the narrow Filesystem façade described
// in the LoLa binding design (create_directories, create_regular_file,
// status, remove, exists) rather than exposing the full breadth of [os].
package vfs

import (
	"io"
	"os"
)

// EntryKind classifies what a path currently names.
type EntryKind int

const (
	// KindMissing means the path does not exist.
	KindMissing EntryKind = iota
	// KindRegular means the path names a regular file.
	KindRegular
	// KindDirectory means the path names a directory.
	KindDirectory
	// KindOther means the path exists but is neither file nor directory
	// (symlink, device, socket, ...).
	KindOther
)

// FileStatus is the result of a [Filesystem.Status] call.
type FileStatus struct {
	Kind EntryKind
	Mode os.FileMode
}

// File represents an open file descriptor. Satisfied by [os.File].
type File interface {
	io.ReadWriteCloser
	Fd() uintptr
	Stat() (os.FileInfo, error)
}

// Filesystem defines the filesystem operations the core needs. Errors are
// returned as-is (wrapped by callers into the BindingFailure/
// ErroneousFileHandle taxonomy); this package does not itself classify.
type Filesystem interface {
	// CreateDirectories creates path and all missing parents.
	// No error if the directory already exists.
	CreateDirectories(path string, perm os.FileMode) error

	// CreateRegularFile creates path if absent. Succeeds (without
	// truncation) if a regular file already exists there.
	CreateRegularFile(path string, perm os.FileMode) error

	// OpenFile opens path for locking/reading purposes.
	OpenFile(path string, flag int, perm os.FileMode) (File, error)

	// Status reports what currently occupies path.
	Status(path string) (FileStatus, error)

	// Exists reports whether path currently names anything.
	Exists(path string) (bool, error)

	// Remove deletes the file or empty directory at path. A missing path
	// is not an error.
	Remove(path string) error

	// ReadDir lists directory entries, sorted by name.
	ReadDir(path string) ([]os.DirEntry, error)

	// WriteFileAtomic writes data to path via a temp-file-then-rename, so
	// readers never observe a partial write.
	WriteFileAtomic(path string, data []byte, perm os.FileMode) error

	// ReadFile reads an entire file into memory.
	ReadFile(path string) ([]byte, error)

	// Lock returns a [FileLock] over path; the file is created if needed no
	// later than the first try-lock call. The lock itself is not yet
	// acquired; call TryLockExclusiveNonblocking or TryLockSharedNonblocking
	// on the result.
	Lock(path string) (FileLock, error)
}

// FileLock is a non-blocking advisory lock handle, per the LoLa binding's
// "operations never block on flock" concurrency rule: every acquisition
// attempt is a try, never a wait.
type FileLock interface {
	// TryLockExclusiveNonblocking attempts to take an exclusive lock.
	// Returns (false, nil) if another holder has the lock, not an error.
	TryLockExclusiveNonblocking() (bool, error)

	// TryLockSharedNonblocking attempts to take a shared lock.
	// Returns (false, nil) if an exclusive holder has the lock.
	TryLockSharedNonblocking() (bool, error)

	// Unlock releases whatever lock mode is currently held, if any.
	Unlock() error

	// Close releases the lock (if held) and closes the underlying
	// descriptor. Idempotent.
	Close() error
}
