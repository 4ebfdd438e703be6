package vfs

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

// Fake is an in-memory [Filesystem], for tests that need deterministic or
// adversarial filesystem state (stray files, directories where a flag file
// is expected) without touching disk. It has no failure injection: no
// operation returns a permission error.
type Fake struct {
	mu      sync.Mutex
	entries map[string]*fakeEntry
	locks   map[string]*fakeLockEntry
}

type fakeEntryKind int

const (
	fakeKindDir fakeEntryKind = iota
	fakeKindFile
)

type fakeEntry struct {
	kind fakeEntryKind
	perm os.FileMode
	data []byte
	ino  uint64
}

// NewFake returns an empty in-memory filesystem rooted at "/".
func NewFake() *Fake {
	return &Fake{
		entries: map[string]*fakeEntry{
			"/": {kind: fakeKindDir, perm: 0o755},
		},
		locks: map[string]*fakeLockEntry{},
	}
}

func clean(path string) string {
	p := filepath.Clean(path)
	if p == "." {
		return "/"
	}

	return p
}

func (f *Fake) CreateDirectories(path string, perm os.FileMode) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	path = clean(path)

	parts := strings.Split(strings.TrimPrefix(path, "/"), "/")
	cur := ""

	for _, part := range parts {
		if part == "" {
			continue
		}

		cur += "/" + part

		if e, ok := f.entries[cur]; ok {
			if e.kind != fakeKindDir {
				return &os.PathError{Op: "mkdir", Path: cur, Err: os.ErrExist}
			}

			continue
		}

		f.entries[cur] = &fakeEntry{kind: fakeKindDir, perm: perm, ino: f.nextIno()}
	}

	return nil
}

func (f *Fake) CreateRegularFile(path string, perm os.FileMode) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	path = clean(path)
	if e, ok := f.entries[path]; ok {
		if e.kind != fakeKindFile {
			return &os.PathError{Op: "create", Path: path, Err: os.ErrExist}
		}

		return nil
	}

	f.entries[path] = &fakeEntry{kind: fakeKindFile, perm: perm, ino: f.nextIno()}

	return nil
}

func (f *Fake) OpenFile(path string, flag int, perm os.FileMode) (File, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	path = clean(path)

	e, ok := f.entries[path]
	if !ok {
		if flag&os.O_CREATE == 0 {
			return nil, &os.PathError{Op: "open", Path: path, Err: os.ErrNotExist}
		}

		e = &fakeEntry{kind: fakeKindFile, perm: perm, ino: f.nextIno()}
		f.entries[path] = e
	}

	if e.kind != fakeKindFile {
		return nil, &os.PathError{Op: "open", Path: path, Err: os.ErrInvalid}
	}

	return &fakeFile{fs: f, path: path, ino: e.ino}, nil
}

func (f *Fake) Status(path string) (FileStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	e, ok := f.entries[clean(path)]
	if !ok {
		return FileStatus{Kind: KindMissing}, nil
	}

	if e.kind == fakeKindDir {
		return FileStatus{Kind: KindDirectory, Mode: e.perm}, nil
	}

	return FileStatus{Kind: KindRegular, Mode: e.perm}, nil
}

func (f *Fake) Exists(path string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	_, ok := f.entries[clean(path)]

	return ok, nil
}

func (f *Fake) Remove(path string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	delete(f.entries, clean(path))

	return nil
}

func (f *Fake) ReadDir(path string) ([]os.DirEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	path = clean(path)

	e, ok := f.entries[path]
	if !ok || e.kind != fakeKindDir {
		return nil, &os.PathError{Op: "readdir", Path: path, Err: os.ErrNotExist}
	}

	prefix := path
	if prefix != "/" {
		prefix += "/"
	}

	var names []string

	for p := range f.entries {
		if p == path {
			continue
		}

		if !strings.HasPrefix(p, prefix) {
			continue
		}

		rest := strings.TrimPrefix(p, prefix)
		if strings.Contains(rest, "/") {
			continue
		}

		names = append(names, rest)
	}

	sort.Strings(names)

	out := make([]os.DirEntry, 0, len(names))
	for _, name := range names {
		child := f.entries[prefix+name]
		out = append(out, fakeDirEntry{name: name, isDir: child.kind == fakeKindDir})
	}

	return out, nil
}

func (f *Fake) WriteFileAtomic(path string, data []byte, perm os.FileMode) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	path = clean(path)

	e, ok := f.entries[path]
	if !ok {
		e = &fakeEntry{kind: fakeKindFile, ino: f.nextIno()}
		f.entries[path] = e
	}

	e.perm = perm
	e.data = append([]byte(nil), data...)

	return nil
}

func (f *Fake) ReadFile(path string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	e, ok := f.entries[clean(path)]
	if !ok || e.kind != fakeKindFile {
		return nil, &os.PathError{Op: "read", Path: path, Err: os.ErrNotExist}
	}

	return append([]byte(nil), e.data...), nil
}

func (f *Fake) Lock(path string) (FileLock, error) {
	if err := f.CreateRegularFile(path, 0o644); err != nil {
		return nil, err
	}

	return newFakeLock(f, clean(path)), nil
}

var nextInoCounter uint64

func (f *Fake) nextIno() uint64 {
	nextInoCounter++
	return nextInoCounter
}

type fakeDirEntry struct {
	name  string
	isDir bool
}

func (e fakeDirEntry) Name() string               { return e.name }
func (e fakeDirEntry) IsDir() bool                { return e.isDir }
func (e fakeDirEntry) Type() os.FileMode           { return 0 }
func (e fakeDirEntry) Info() (os.FileInfo, error)  { return nil, nil }

type fakeFile struct {
	fs     *Fake
	path   string
	ino    uint64
	offset int
}

func (ff *fakeFile) Read(p []byte) (int, error) {
	ff.fs.mu.Lock()
	defer ff.fs.mu.Unlock()

	e, ok := ff.fs.entries[ff.path]
	if !ok {
		return 0, os.ErrNotExist
	}

	if ff.offset >= len(e.data) {
		return 0, io.EOF
	}

	n := copy(p, e.data[ff.offset:])
	ff.offset += n

	return n, nil
}

func (ff *fakeFile) Write(p []byte) (int, error) {
	ff.fs.mu.Lock()
	defer ff.fs.mu.Unlock()

	e, ok := ff.fs.entries[ff.path]
	if !ok {
		return 0, os.ErrNotExist
	}

	buf := bytes.NewBuffer(e.data[:min(ff.offset, len(e.data))])
	buf.Write(p)
	e.data = buf.Bytes()
	ff.offset += len(p)

	return len(p), nil
}

func (ff *fakeFile) Close() error { return nil }

func (ff *fakeFile) Fd() uintptr { return uintptr(ff.ino) }

func (ff *fakeFile) Stat() (os.FileInfo, error) {
	return fakeFileInfo{name: filepath.Base(ff.path), ino: ff.ino}, nil
}

type fakeFileInfo struct {
	name string
	ino  uint64
}

func (fi fakeFileInfo) Name() string      { return fi.name }
func (fi fakeFileInfo) Size() int64       { return 0 }
func (fi fakeFileInfo) Mode() os.FileMode { return 0o644 }
func (fi fakeFileInfo) ModTime() time.Time { return time.Time{} }
func (fi fakeFileInfo) IsDir() bool       { return false }
func (fi fakeFileInfo) Sys() any          { return fakeStat{ino: fi.ino} }

type fakeStat struct {
	ino uint64
}

// fakeLock is an in-memory [FileLock] over a [Fake] filesystem, supporting
// the same non-blocking try-semantics as realLock but arbitrated by the
// owning Fake's lock table instead of flock(2). A handle releases only the
// lock mode it acquired itself.
type fakeLock struct {
	fs   *Fake
	path string
	held fakeHeld
}

type fakeHeld int

const (
	fakeHeldNone fakeHeld = iota
	fakeHeldShared
	fakeHeldExclusive
)

type fakeLockEntry struct {
	exclusive bool
	shared    int
}

func newFakeLock(fs *Fake, path string) *fakeLock {
	return &fakeLock{fs: fs, path: path}
}

func (l *fakeLock) TryLockExclusiveNonblocking() (bool, error) {
	l.fs.mu.Lock()
	defer l.fs.mu.Unlock()

	e := l.fs.locks[l.path]
	if e != nil && (e.exclusive || e.shared > 0) {
		return false, nil
	}

	l.fs.locks[l.path] = &fakeLockEntry{exclusive: true}
	l.held = fakeHeldExclusive

	return true, nil
}

func (l *fakeLock) TryLockSharedNonblocking() (bool, error) {
	l.fs.mu.Lock()
	defer l.fs.mu.Unlock()

	e := l.fs.locks[l.path]
	if e != nil && e.exclusive {
		return false, nil
	}

	if e == nil {
		e = &fakeLockEntry{}
		l.fs.locks[l.path] = e
	}

	e.shared++
	l.held = fakeHeldShared

	return true, nil
}

func (l *fakeLock) Unlock() error {
	l.fs.mu.Lock()
	defer l.fs.mu.Unlock()

	e := l.fs.locks[l.path]
	if e == nil || l.held == fakeHeldNone {
		return nil
	}

	if l.held == fakeHeldExclusive {
		e.exclusive = false
	} else if e.shared > 0 {
		e.shared--
	}

	l.held = fakeHeldNone

	if !e.exclusive && e.shared == 0 {
		delete(l.fs.locks, l.path)
	}

	return nil
}

func (l *fakeLock) Close() error {
	return l.Unlock()
}

var _ Filesystem = (*Fake)(nil)
