package inotify

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync"
	"unsafe"

	"golang.org/x/sys/unix"
)

const eventHeaderSize = unsafe.Sizeof(unix.InotifyEvent{})

// Real is a production [Watcher] over the kernel's inotify facility.
type Real struct {
	mu sync.Mutex
	fd int
}

// NewReal opens a new inotify instance. IN_NONBLOCK is intentionally not
// set: inotify reads are performed on a long-running
// worker thread and are expected to block until events or shutdown.
func NewReal() (*Real, error) {
	fd, err := unix.InotifyInit1(0)
	if err != nil {
		return nil, fmt.Errorf("inotify: init: %w", err)
	}

	return &Real{fd: fd}, nil
}

func (r *Real) AddWatch(path string, mask uint32) (WatchDescriptor, error) {
	wd, err := retryEINTRInt(func() (int, error) {
		return unix.InotifyAddWatch(r.fd, path, mask)
	})
	if err != nil {
		return 0, fmt.Errorf("inotify: add_watch %s: %w", path, err)
	}

	return WatchDescriptor(wd), nil
}

func (r *Real) RemoveWatch(wd WatchDescriptor) error {
	_, err := unix.InotifyRmWatch(r.fd, uint32(wd))
	if err != nil {
		return fmt.Errorf("inotify: rm_watch: %w", err)
	}

	return nil
}

func (r *Real) Read() ([]Event, error) {
	buf := make([]byte, 64*(int(eventHeaderSize)+unix.NAME_MAX+1))

	n, err := retryEINTRInt(func() (int, error) {
		return unix.Read(r.fd, buf)
	})
	if err != nil {
		return nil, fmt.Errorf("inotify: read: %w", err)
	}

	return decodeEvents(buf[:n]), nil
}

func (r *Real) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	return unix.Close(r.fd)
}

func decodeEvents(buf []byte) []Event {
	var events []Event

	offset := 0

	for offset+int(eventHeaderSize) <= len(buf) {
		wd := int32(binary.LittleEndian.Uint32(buf[offset:]))
		mask := binary.LittleEndian.Uint32(buf[offset+4:])
		_ = binary.LittleEndian.Uint32(buf[offset+8:]) // cookie, unused
		nameLen := binary.LittleEndian.Uint32(buf[offset+12:])

		nameStart := offset + int(eventHeaderSize)
		nameEnd := nameStart + int(nameLen)

		var name string
		if nameEnd <= len(buf) {
			raw := buf[nameStart:nameEnd]
			if idx := indexByte(raw, 0); idx >= 0 {
				raw = raw[:idx]
			}

			name = string(raw)
		}

		events = append(events, Event{Wd: WatchDescriptor(wd), Mask: mask, Name: name})

		offset = nameEnd
	}

	return events
}

func indexByte(b []byte, c byte) int {
	for i, v := range b {
		if v == c {
			return i
		}
	}

	return -1
}

// retryEINTRInt wraps a syscall, retrying on EINTR. Mirrors the
// EINTR-retry discipline the vfs package applies to flock.
func retryEINTRInt(call func() (int, error)) (int, error) {
	for {
		n, err := call()
		if err == nil || !errors.Is(err, unix.EINTR) {
			return n, err
		}
	}
}
