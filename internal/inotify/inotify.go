// Package inotify defines the watcher collaborator contract the discovery
// package depends on, plus a production implementation backed by raw
// inotify syscalls (golang.org/x/sys/unix) and a fake for tests.
package inotify

// WatchDescriptor identifies a single active watch.
type WatchDescriptor int32

// Event is a single decoded inotify event.
type Event struct {
	Wd   WatchDescriptor
	Mask uint32
	// Name is the basename of the child that triggered the event, if any
	// (set for IN_CREATE/IN_DELETE/IN_MOVED_* inside a watched directory).
	Name string
}

// Mask bits discovery cares about. Values match the kernel's IN_* constants
// 1:1; kept as package constants here so callers do not need to import
// golang.org/x/sys/unix themselves.
const (
	InCreate     uint32 = 0x100
	InDelete     uint32 = 0x200
	InMovedFrom  uint32 = 0x40
	InMovedTo    uint32 = 0x80
	InDeleteSelf uint32 = 0x400
	InOnlyDir    uint32 = 0x1000000
)

// Watcher is the filesystem-change-notification collaborator contract:
// add_watch, read, close.
type Watcher interface {
	AddWatch(path string, mask uint32) (WatchDescriptor, error)
	RemoveWatch(wd WatchDescriptor) error
	// Read blocks until at least one event is available or the watcher is
	// closed, in which case it returns an error.
	Read() ([]Event, error)
	Close() error
}
