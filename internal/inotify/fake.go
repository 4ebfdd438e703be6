package inotify

import (
	"errors"
	"sync"
)

// ErrClosed is returned by a pending or future Read after Close.
var ErrClosed = errors.New("inotify: closed")

// Fake is an in-memory [Watcher] for discovery tests. Tests call Inject to
// push events at a watch descriptor, and FailNextAddWatch to simulate
// transient add_watch failures (EINTR-class retries).
type Fake struct {
	mu           sync.Mutex
	closed       bool
	nextWd       WatchDescriptor
	watches      map[WatchDescriptor]string
	pending      []Event
	notify       chan struct{}
	addWatchErrs []error
}

// NewFake returns an empty fake watcher.
func NewFake() *Fake {
	return &Fake{
		watches: make(map[WatchDescriptor]string),
		notify:  make(chan struct{}, 1),
	}
}

// FailNextAddWatch queues err to be returned by the next N calls to
// AddWatch, one error per call, in order.
func (f *Fake) FailNextAddWatch(errs ...error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.addWatchErrs = append(f.addWatchErrs, errs...)
}

func (f *Fake) AddWatch(path string, mask uint32) (WatchDescriptor, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if len(f.addWatchErrs) > 0 {
		err := f.addWatchErrs[0]
		f.addWatchErrs = f.addWatchErrs[1:]

		if err != nil {
			return 0, err
		}
	}

	f.nextWd++
	wd := f.nextWd
	f.watches[wd] = path

	return wd, nil
}

func (f *Fake) RemoveWatch(wd WatchDescriptor) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	delete(f.watches, wd)

	return nil
}

// Inject queues ev for delivery to the next Read call, waking any blocked
// reader.
func (f *Fake) Inject(ev Event) {
	f.mu.Lock()
	f.pending = append(f.pending, ev)
	f.mu.Unlock()

	select {
	case f.notify <- struct{}{}:
	default:
	}
}

func (f *Fake) Read() ([]Event, error) {
	for {
		f.mu.Lock()

		if f.closed {
			f.mu.Unlock()
			return nil, ErrClosed
		}

		if len(f.pending) > 0 {
			events := f.pending
			f.pending = nil
			f.mu.Unlock()

			return events, nil
		}

		f.mu.Unlock()

		<-f.notify
	}
}

func (f *Fake) Close() error {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()

	select {
	case f.notify <- struct{}{}:
	default:
	}

	return nil
}

var _ Watcher = (*Fake)(nil)
