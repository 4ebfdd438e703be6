package shm

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// shmBasePath is where POSIX shared memory objects are backed by tmpfs on
// Linux; a region name from pathbuilder (e.g. "/lola-data-...") is joined
// onto it directly, the same way glibc's shm_open resolves names.
const shmBasePath = "/dev/shm"

// Region is a single mapped shared-memory object. closer, when set,
// overrides the default unix.Munmap behaviour of Close — FakeOpener sets
// it to a no-op since its Data is a plain byte slice, never an actual
// mapping.
type Region struct {
	Name string
	Data []byte

	closer func([]byte) error
}

// CreateOrOpen creates name if absent (sized to size bytes) or opens it if
// already present, and mmaps it read-write. SHM create/open may block on
// kernel operations; no application-level waiting is added on top.
func CreateOrOpen(name string, size int64, perm uint32) (*Region, error) {
	path := shmBasePath + name

	fd, err := unix.Open(path, unix.O_CREAT|unix.O_RDWR, perm)
	if err != nil {
		return nil, fmt.Errorf("shm: open %s: %w", name, err)
	}

	defer unix.Close(fd)

	st := unix.Stat_t{}
	if err := unix.Fstat(fd, &st); err != nil {
		return nil, fmt.Errorf("shm: fstat %s: %w", name, err)
	}

	if st.Size < size {
		if err := unix.Ftruncate(fd, size); err != nil {
			return nil, fmt.Errorf("shm: ftruncate %s: %w", name, err)
		}
	}

	data, err := unix.Mmap(fd, 0, int(size), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return nil, fmt.Errorf("shm: mmap %s: %w", name, err)
	}

	return &Region{Name: name, Data: data}, nil
}

// Close unmaps the region without removing the underlying object.
func (r *Region) Close() error {
	if r.Data == nil {
		return nil
	}

	closer := r.closer
	if closer == nil {
		closer = unix.Munmap
	}

	err := closer(r.Data)
	r.Data = nil

	return err
}

// Remove unlinks the underlying SHM object. Safe to call only once no
// proxy can still be mapped to it (the usage-marker invariant, not
// enforced by this type itself — see Lifecycle).
func Remove(name string) error {
	path := shmBasePath + name

	err := unix.Unlink(path)
	if err != nil && err != unix.ENOENT {
		return fmt.Errorf("shm: unlink %s: %w", name, err)
	}

	return nil
}

// Exists reports whether a SHM object named name currently exists.
func Exists(name string) (bool, error) {
	var st unix.Stat_t

	err := unix.Stat(shmBasePath+name, &st)
	if err == nil {
		return true, nil
	}

	if err == unix.ENOENT {
		return false, nil
	}

	return false, fmt.Errorf("shm: stat %s: %w", name, err)
}
