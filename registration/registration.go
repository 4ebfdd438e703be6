// Package registration implements the scoped handler registration guard
// used by the message-passing service to return deregistration handles
// for event notifications and method invocations, without exposing the
// underlying callback table to callers.
package registration

import "sync"

// Scope provides coarse-grained cancellation for every ScopedRegistration
// tied to an owner's lifetime: expiring it causes subsequent guard drops
// to become no-ops, preventing dangling callbacks after owner teardown.
// The zero value is a live scope.
type Scope struct {
	mu      sync.Mutex
	expired bool
}

// Expire marks the scope expired. Idempotent.
func (s *Scope) Expire() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.expired = true
}

func (s *Scope) isLive() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return !s.expired
}

// ScopedRegistration is a move-only RAII guard: its Close invokes its
// deregister action iff the Scope it was constructed with is still live.
// The Go translation of "move" is transferring ownership via Take, which
// leaves the source guard's action suppressed — Go has no destructor to
// hook into an implicit move, so call sites must call Take explicitly
// wherever the original took std::move.
type ScopedRegistration struct {
	mu     sync.Mutex
	scope  *Scope
	action func()
	// invoked guards against double-invocation: it is set once the action
	// has fired, or once Take/MoveAssign handed the action to another guard.
	invoked bool
}

// New constructs a live guard: action fires on Close iff scope has not
// expired by then.
func New(scope *Scope, action func()) *ScopedRegistration {
	return &ScopedRegistration{scope: scope, action: action}
}

// Close invokes the action iff the scope is still live, the action has not
// already fired via a prior Close, and it has not been handed off by Take
// or MoveAssign. Idempotent: a second
// Close is a no-op. This is the guard's "destructor".
func (r *ScopedRegistration) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.fireLocked()
}

func (r *ScopedRegistration) fireLocked() {
	if r.invoked || r.action == nil {
		return
	}

	r.invoked = true

	if r.scope != nil && r.scope.isLive() {
		r.action()
	}
}

// Take transfers this guard's registration into a freshly returned guard
// and suppresses this guard's own future action, modeling a C++ move
// construction/assignment. The returned guard carries the same scope and
// action this guard held; calling Take again on the receiver after this
// returns is a no-op producing an already-fired guard.
func (r *ScopedRegistration) Take() *ScopedRegistration {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.invoked {
		return &ScopedRegistration{invoked: true}
	}

	moved := &ScopedRegistration{scope: r.scope, action: r.action}
	r.invoked = true
	r.scope = nil
	r.action = nil

	return moved
}

// MoveAssign implements move-assignment: dst's
// own prior registration fires first, exactly once, if it was still live
// (the assignment overwrites and thus destroys dst's old state); dst then
// takes src's registration; src is left invoked/empty, so any later Close
// on src is a no-op.
func (dst *ScopedRegistration) MoveAssign(src *ScopedRegistration) {
	if dst == src {
		return
	}

	dst.mu.Lock()
	dst.fireLocked()
	dst.mu.Unlock()

	src.mu.Lock()
	defer src.mu.Unlock()

	dst.mu.Lock()
	dst.scope = src.scope
	dst.action = src.action
	dst.invoked = src.invoked
	dst.mu.Unlock()

	src.invoked = true
	src.scope = nil
	src.action = nil
}
