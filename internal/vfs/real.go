package vfs

import (
	"bytes"
	"errors"
	"os"

	"github.com/natefinch/atomic"
)

// Real implements [Filesystem] over the real OS filesystem. All methods
// are near-passthroughs to the [os] package; see [Real.Exists] and
// [Real.WriteFileAtomic] for the two exceptions.
type Real struct{}

// NewReal returns a production [Filesystem].
func NewReal() *Real {
	return &Real{}
}

func (r *Real) CreateDirectories(path string, perm os.FileMode) error {
	return os.MkdirAll(path, perm)
}

func (r *Real) CreateRegularFile(path string, perm os.FileMode) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, perm)
	if err != nil {
		return err
	}

	return f.Close()
}

func (r *Real) OpenFile(path string, flag int, perm os.FileMode) (File, error) {
	return os.OpenFile(path, flag, perm)
}

func (r *Real) Status(path string) (FileStatus, error) {
	info, err := os.Lstat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return FileStatus{Kind: KindMissing}, nil
		}

		return FileStatus{}, err
	}

	switch {
	case info.Mode().IsRegular():
		return FileStatus{Kind: KindRegular, Mode: info.Mode()}, nil
	case info.IsDir():
		return FileStatus{Kind: KindDirectory, Mode: info.Mode()}, nil
	default:
		return FileStatus{Kind: KindOther, Mode: info.Mode()}, nil
	}
}

// Exists checks whether path currently names anything, tolerating the
// not-exist case as a normal (false, nil) result rather than an error.
func (r *Real) Exists(path string) (bool, error) {
	_, err := os.Lstat(path)
	if err == nil {
		return true, nil
	}

	if os.IsNotExist(err) {
		return false, nil
	}

	return false, err
}

func (r *Real) Remove(path string) error {
	err := os.Remove(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}

	return err
}

func (r *Real) ReadDir(path string) ([]os.DirEntry, error) {
	return os.ReadDir(path)
}

func (r *Real) WriteFileAtomic(path string, data []byte, perm os.FileMode) error {
	if err := atomic.WriteFile(path, bytes.NewReader(data)); err != nil {
		return err
	}

	return os.Chmod(path, perm)
}

func (r *Real) ReadFile(path string) ([]byte, error) {
	return os.ReadFile(path)
}

func (r *Real) Lock(path string) (FileLock, error) {
	return newRealLock(path)
}

var _ Filesystem = (*Real)(nil)
