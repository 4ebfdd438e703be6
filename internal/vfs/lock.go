package vfs

import (
	"errors"
	"os"
	"path/filepath"
	"sync"
	"syscall"
)

// errInodeMismatch is an internal sentinel indicating the lock file was
// replaced between open and flock. Callers retry against the new inode.
var errInodeMismatch = errors.New("vfs: lock file replaced during acquisition")

const (
	lockFilePerm = 0o644
	lockDirPerm  = 0o755
)

// realLock is a [FileLock] backed by flock(2) on a dedicated file.
//
// flock locks an inode, not a pathname: a concurrent rename/unlink+recreate
// of path between open and flock could otherwise let two holders each
// believe they hold "the lock on path" while actually holding different
// inodes. realLock guards against that by re-checking (dev, ino) of the
// path against the opened descriptor immediately after flock succeeds, and
// retrying on mismatch — the same technique the LoLa binding's existence
// and usage markers rely on to stay correct across skeleton restarts.
type realLock struct {
	mu   sync.Mutex
	path string
	file *os.File
}

func newRealLock(path string) (FileLock, error) {
	if err := os.MkdirAll(filepath.Dir(path), lockDirPerm); err != nil {
		return nil, err
	}

	return &realLock{path: path}, nil
}

func (l *realLock) TryLockExclusiveNonblocking() (bool, error) {
	return l.tryLock(syscall.LOCK_EX)
}

func (l *realLock) TryLockSharedNonblocking() (bool, error) {
	return l.tryLock(syscall.LOCK_SH)
}

func (l *realLock) tryLock(mode int) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	for {
		file, err := os.OpenFile(l.path, os.O_CREATE|os.O_RDWR, lockFilePerm)
		if err != nil {
			return false, err
		}

		fd := int(file.Fd())

		flockErr := flockRetryEINTR(fd, mode|syscall.LOCK_NB)
		if flockErr != nil {
			_ = file.Close()

			if isWouldBlock(flockErr) {
				return false, nil
			}

			return false, flockErr
		}

		match, err := inodeMatchesPath(l.path, file)
		if err != nil {
			_ = flockRetryEINTR(fd, syscall.LOCK_UN)
			_ = file.Close()

			if errors.Is(err, os.ErrNotExist) {
				continue
			}

			return false, err
		}

		if !match {
			_ = flockRetryEINTR(fd, syscall.LOCK_UN)
			_ = file.Close()

			continue
		}

		if l.file != nil {
			_ = flockRetryEINTR(int(l.file.Fd()), syscall.LOCK_UN)
			_ = l.file.Close()
		}

		l.file = file

		return true, nil
	}
}

func (l *realLock) Unlock() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file == nil {
		return nil
	}

	err := flockRetryEINTR(int(l.file.Fd()), syscall.LOCK_UN)
	closeErr := l.file.Close()
	l.file = nil

	if err != nil {
		return err
	}

	return closeErr
}

func (l *realLock) Close() error {
	return l.Unlock()
}

func inodeMatchesPath(path string, f *os.File) (bool, error) {
	openInfo, err := f.Stat()
	if err != nil {
		return false, err
	}

	pathInfo, err := os.Lstat(path)
	if err != nil {
		return false, err
	}

	openSys, ok1 := openInfo.Sys().(*syscall.Stat_t)
	pathSys, ok2 := pathInfo.Sys().(*syscall.Stat_t)

	if !ok1 || !ok2 || openSys == nil || pathSys == nil {
		return false, nil
	}

	return openSys.Dev == pathSys.Dev && openSys.Ino == pathSys.Ino, nil
}

func isWouldBlock(err error) bool {
	return errors.Is(err, syscall.EWOULDBLOCK) || errors.Is(err, syscall.EAGAIN)
}

// flockRetryEINTR wraps flock, retrying on EINTR: a blocking-unrelated
// signal (SIGWINCH, SIGCHLD, ...) can interrupt the syscall before it
// completes, which is not a lock failure.
func flockRetryEINTR(fd int, how int) error {
	const maxEINTRRetries = 10000

	var err error

	for range maxEINTRRetries {
		err = syscall.Flock(fd, how)
		if err == nil || !errors.Is(err, syscall.EINTR) {
			return err
		}
	}

	return err
}
