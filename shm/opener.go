package shm

import "sync"

// RegionOpener abstracts SHM region creation so Lifecycle can be tested
// without touching /dev/shm, the same dependency-injection shape the vfs
// package uses for the filesystem and lock collaborators.
type RegionOpener interface {
	CreateOrOpen(name string, size int64, perm uint32) (*Region, error)
	Remove(name string) error
	Exists(name string) (bool, error)
}

// realOpener is the production RegionOpener, backed by /dev/shm.
type realOpener struct{}

func (realOpener) CreateOrOpen(name string, size int64, perm uint32) (*Region, error) {
	return CreateOrOpen(name, size, perm)
}

func (realOpener) Remove(name string) error { return Remove(name) }

func (realOpener) Exists(name string) (bool, error) { return Exists(name) }

// FakeOpener is an in-memory RegionOpener for tests: regions are plain
// byte slices, never touching the real filesystem.
type FakeOpener struct {
	mu      sync.Mutex
	regions map[string][]byte
}

// NewFakeOpener returns an empty fake region opener.
func NewFakeOpener() *FakeOpener {
	return &FakeOpener{regions: make(map[string][]byte)}
}

func (f *FakeOpener) CreateOrOpen(name string, size int64, perm uint32) (*Region, error) {
	_ = perm

	f.mu.Lock()
	defer f.mu.Unlock()

	data, ok := f.regions[name]
	if !ok || int64(len(data)) < size {
		grown := make([]byte, size)
		copy(grown, data)
		data = grown
		f.regions[name] = data
	}

	return &Region{Name: name, Data: data, closer: func([]byte) error { return nil }}, nil
}

func (f *FakeOpener) Remove(name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	delete(f.regions, name)

	return nil
}

func (f *FakeOpener) Exists(name string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	_, ok := f.regions[name]

	return ok, nil
}

var _ RegionOpener = (*FakeOpener)(nil)
var _ RegionOpener = realOpener{}
