// Package shm implements shared-memory region lifecycle management:
// creating or reopening control and data regions per offered instance,
// partial-restart arbitration via existence/usage marker flocks, and
// cleanup of torn writer transactions on reopen.
package shm

import (
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/aracom/lola/identifier"
	"github.com/aracom/lola/internal/vfs"
	"github.com/aracom/lola/lola"
	"github.com/aracom/lola/pathbuilder"
)

// Sizes are the byte sizes of the three SHM regions for an instance. A
// zero field means "not configured" and must be resolved via Simulate
// before calling Offer.
type Sizes struct {
	Data      int64
	ControlQM int64
	ControlB  int64 // zero if the instance is not ASIL-B
}

// Lifecycle manages shared-memory regions for offered instances.
type Lifecycle struct {
	fs     vfs.Filesystem
	opener RegionOpener
	roots  pathbuilder.Roots
	logger *slog.Logger
}

// Option configures a Lifecycle at construction.
type Option func(*Lifecycle)

// WithLogger overrides the default slog logger.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Lifecycle) { l.logger = logger }
}

// WithRegionOpener overrides the default /dev/shm-backed RegionOpener,
// for tests that want to avoid touching the real filesystem.
func WithRegionOpener(opener RegionOpener) Option {
	return func(l *Lifecycle) { l.opener = opener }
}

// New builds a Lifecycle over the given filesystem collaborator (real or
// fake) and path roots.
func New(fs vfs.Filesystem, roots pathbuilder.Roots, opts ...Option) *Lifecycle {
	l := &Lifecycle{fs: fs, roots: roots, logger: slog.Default(), opener: realOpener{}}

	for _, opt := range opts {
		opt(l)
	}

	return l
}

// Handle is a live offer: the open control/data regions, the held
// existence-marker lock, and whether this offer reopened a prior
// skeleton's SHM (partial restart) or created it fresh.
type Handle struct {
	ServiceId  identifier.ServiceId
	InstanceId identifier.InstanceId
	HasASILB   bool

	Control  *Region
	ControlB *Region
	Data     *Region

	Reopened bool

	existenceLock vfs.FileLock
	existencePath string
}

const partialRestartDirPerm = 0o777

// Offer runs the service-instance offer protocol: ensure the
// partial-restart directory exists; acquire the existence marker
// exclusively (failure is a lifecycle-contention BindingFailure); open the
// usage marker and try it exclusively to tell whether any proxy is
// attached; create fresh regions or reopen and clean torn writes
// accordingly.
func (l *Lifecycle) Offer(serviceId identifier.ServiceId, instanceId identifier.InstanceId, hasASILB bool, sizes Sizes) (*Handle, error) {
	if err := l.fs.CreateDirectories(l.roots.PartialRestartDir, partialRestartDirPerm); err != nil {
		return nil, fmt.Errorf("shm: create partial restart dir: %w", errors.Join(err, lola.ErrBindingFailure))
	}

	existencePath := l.roots.ExistenceMarkerPath(serviceId, instanceId)

	existenceLock, err := l.fs.Lock(existencePath)
	if err != nil {
		return nil, fmt.Errorf("shm: open existence marker: %w", errors.Join(err, lola.ErrBindingFailure))
	}

	acquired, err := existenceLock.TryLockExclusiveNonblocking()
	if err != nil {
		return nil, fmt.Errorf("shm: lock existence marker: %w", errors.Join(err, lola.ErrBindingFailure))
	}

	if !acquired {
		return nil, fmt.Errorf("shm: instance %04x/%04x already offered: %w", uint16(serviceId), uint16(instanceId), lola.ErrBindingFailure)
	}

	usagePath := l.roots.UsageMarkerPath(serviceId, instanceId)
	if err := l.fs.CreateRegularFile(usagePath, 0o666); err != nil {
		_ = existenceLock.Close()
		return nil, fmt.Errorf("shm: create usage marker: %w", errors.Join(err, lola.ErrBindingFailure))
	}

	usageLock, err := l.fs.Lock(usagePath)
	if err != nil {
		_ = existenceLock.Close()
		return nil, fmt.Errorf("shm: open usage marker: %w", errors.Join(err, lola.ErrBindingFailure))
	}

	noProxyAttached, err := usageLock.TryLockExclusiveNonblocking()
	if err != nil {
		_ = existenceLock.Close()
		return nil, fmt.Errorf("shm: lock usage marker: %w", errors.Join(err, lola.ErrBindingFailure))
	}

	handle := &Handle{
		ServiceId:     serviceId,
		InstanceId:    instanceId,
		HasASILB:      hasASILB,
		existenceLock: existenceLock,
		existencePath: existencePath,
	}

	if noProxyAttached {
		// No proxy is attached. Spec.md §9's open question applies: this
		// path is taken both for a clean prior exit and a mid-offer crash,
		// and deliberately does not distinguish between them.
		if err := l.createFresh(handle, sizes); err != nil {
			_ = usageLock.Unlock()
			_ = existenceLock.Close()

			return nil, err
		}

		handle.Reopened = false
	} else {
		if err := l.reopen(handle, sizes); err != nil {
			_ = existenceLock.Close()
			return nil, err
		}

		handle.Reopened = true
	}

	// The exclusive try-lock on the usage marker was only a detection
	// probe; release it immediately so proxies can take their shared
	// locks. The existence lock stays held for the skeleton's lifetime.
	if err := usageLock.Unlock(); err != nil {
		l.logger.Warn("shm: failed to release usage marker probe lock", "error", err)
	}

	return handle, nil
}

func (l *Lifecycle) createFresh(h *Handle, sizes Sizes) error {
	names := []string{
		pathbuilder.ControlShmNameQM(h.ServiceId, h.InstanceId),
		pathbuilder.DataShmName(h.ServiceId, h.InstanceId),
	}
	if h.HasASILB {
		names = append(names, pathbuilder.ControlShmNameASILB(h.ServiceId, h.InstanceId))
	}

	for _, name := range names {
		if err := l.opener.Remove(name); err != nil {
			return fmt.Errorf("shm: remove stale artefact %s: %w", name, errors.Join(err, lola.ErrErroneousFileHandle))
		}
	}

	control, err := l.opener.CreateOrOpen(pathbuilder.ControlShmNameQM(h.ServiceId, h.InstanceId), sizes.ControlQM, controlPerm(false))
	if err != nil {
		return fmt.Errorf("shm: create control region: %w", errors.Join(err, lola.ErrErroneousFileHandle))
	}

	copy(control.Data, EncodeControlHeader(ControlHeader{EventsOffset: ctlHeaderSize}))

	h.Control = control

	if h.HasASILB {
		controlB, err := l.opener.CreateOrOpen(pathbuilder.ControlShmNameASILB(h.ServiceId, h.InstanceId), sizes.ControlB, controlPerm(true))
		if err != nil {
			return fmt.Errorf("shm: create control-b region: %w", errors.Join(err, lola.ErrErroneousFileHandle))
		}

		copy(controlB.Data, EncodeControlHeader(ControlHeader{EventsOffset: ctlHeaderSize}))

		h.ControlB = controlB
	}

	data, err := l.opener.CreateOrOpen(pathbuilder.DataShmName(h.ServiceId, h.InstanceId), sizes.Data, dataPerm())
	if err != nil {
		return fmt.Errorf("shm: create data region: %w", errors.Join(err, lola.ErrErroneousFileHandle))
	}

	copy(data.Data, EncodeDataHeader(DataHeader{SkeletonPID: uint64(os.Getpid()), EventsOffset: dataHeaderSize}))

	h.Data = data

	return nil
}

func (l *Lifecycle) reopen(h *Handle, sizes Sizes) error {
	control, err := l.opener.CreateOrOpen(pathbuilder.ControlShmNameQM(h.ServiceId, h.InstanceId), sizes.ControlQM, controlPerm(false))
	if err != nil {
		return fmt.Errorf("shm: reopen control region: %w", errors.Join(err, lola.ErrErroneousFileHandle))
	}

	h.Control = control

	if h.HasASILB {
		controlB, err := l.opener.CreateOrOpen(pathbuilder.ControlShmNameASILB(h.ServiceId, h.InstanceId), sizes.ControlB, controlPerm(true))
		if err != nil {
			return fmt.Errorf("shm: reopen control-b region: %w", errors.Join(err, lola.ErrErroneousFileHandle))
		}

		h.ControlB = controlB
	}

	data, err := l.opener.CreateOrOpen(pathbuilder.DataShmName(h.ServiceId, h.InstanceId), sizes.Data, dataPerm())
	if err != nil {
		return fmt.Errorf("shm: reopen data region: %w", errors.Join(err, lola.ErrErroneousFileHandle))
	}

	h.Data = data

	// Proxies reopen data first, then update the PID, then controls,
	// then clean stale writer allocations. The skeleton side performs
	// the PID update and cleanup in the same order here.
	SetDataHeaderSkeletonPID(data.Data, uint64(os.Getpid()))

	cleanupAfterCrash(h.Control)

	if h.HasASILB {
		cleanupAfterCrash(h.ControlB)
	}

	return nil
}

// cleanupAfterCrash drops any in-progress writer allocations recorded in
// region's EventControl records. This is the torn-writer-transaction
// recovery path of reopen, taken when Offer could not exclusively lock the
// usage marker because a proxy still holds it shared.
func cleanupAfterCrash(region *Region) {
	if region == nil || len(region.Data) < ctlHeaderSize {
		return
	}

	header := DecodeControlHeader(region.Data)

	for i := uint32(0); i < header.EventCount; i++ {
		off := int(header.EventsOffset) + int(i)*EventControlSize
		if off+EventControlSize > len(region.Data) {
			break
		}

		ec := DecodeEventControl(region.Data[off : off+EventControlSize])
		ec.DataControl = 0
		copy(region.Data[off:off+EventControlSize], EncodeEventControl(ec))
	}
}

// QualitySelector chooses which subset of an offer a stop-offer call
// retracts, per spec.md's GLOSSARY "Quality selector" entry: all
// consumers, or only the QM side of an ASIL-B instance.
type QualitySelector int

const (
	// SelectAll is the normal full teardown: every quality, every region.
	SelectAll QualitySelector = iota
	// SelectAsilQmOnly retracts only the QM control region of an ASIL-B
	// instance, disconnecting QM consumers while ASIL-B consumers keep
	// their existing subscription untouched.
	SelectAsilQmOnly
)

// DisconnectQmConsumers retracts only the QM control region of an
// ASIL-B instance, per the original implementation's
// Skeleton::DisconnectQmConsumers: used when QM consumers are no longer
// trusted to read an ASIL-B instance's data, without tearing down the
// ASIL-B side. It is a precondition violation to call this on an
// instance that was not offered with ASIL-B support.
func (l *Lifecycle) DisconnectQmConsumers(h *Handle) error {
	if !h.HasASILB {
		lola.Abortf(l.logger, "shm: DisconnectQmConsumers called on a non-ASIL-B instance")
	}

	if h.Control == nil {
		// Already disconnected; calling this twice is a no-op.
		return nil
	}

	if err := h.Control.Close(); err != nil {
		l.logger.Warn("shm: failed to close control-qm region", "error", err)
	}

	name := pathbuilder.ControlShmNameQM(h.ServiceId, h.InstanceId)
	if err := l.opener.Remove(name); err != nil {
		return fmt.Errorf("shm: remove control-qm artefact %s: %w", name, errors.Join(err, lola.ErrErroneousFileHandle))
	}

	h.Control = nil

	return nil
}

// StopOffer tears down the offer according to selector. SelectAll tries
// to exclusively acquire the usage marker; if acquired, no proxy
// remains, so the SHM regions are removed; otherwise they are left in
// place for attached proxies. The existence marker is always released
// and removed — this is always a clean teardown from this skeleton's
// perspective. SelectAsilQmOnly instead only retracts the QM control
// region (see DisconnectQmConsumers) and leaves the rest of the offer,
// and the existence lock, untouched.
func (l *Lifecycle) StopOffer(h *Handle, selector QualitySelector) error {
	if selector == SelectAsilQmOnly {
		return l.DisconnectQmConsumers(h)
	}

	return l.stopOfferAll(h)
}

func (l *Lifecycle) stopOfferAll(h *Handle) error {
	usagePath := l.roots.UsageMarkerPath(h.ServiceId, h.InstanceId)

	usageLock, err := l.fs.Lock(usagePath)
	if err != nil {
		return fmt.Errorf("shm: open usage marker: %w", errors.Join(err, lola.ErrErroneousFileHandle))
	}

	noProxyAttached, err := usageLock.TryLockExclusiveNonblocking()
	if err != nil {
		return fmt.Errorf("shm: lock usage marker: %w", errors.Join(err, lola.ErrErroneousFileHandle))
	}

	if noProxyAttached {
		l.removeArtefacts(h)

		if err := usageLock.Unlock(); err != nil {
			l.logger.Warn("shm: failed to release usage marker", "error", err)
		}
	} else {
		if h.Control != nil {
			_ = h.Control.Close()
		}

		if h.ControlB != nil {
			_ = h.ControlB.Close()
		}

		_ = h.Data.Close()
	}

	_ = usageLock.Close()

	if err := h.existenceLock.Unlock(); err != nil {
		l.logger.Warn("shm: failed to release existence marker", "error", err)
	}

	_ = h.existenceLock.Close()

	if err := l.fs.Remove(h.existencePath); err != nil {
		return fmt.Errorf("shm: remove existence marker: %w", errors.Join(err, lola.ErrBindingFailure))
	}

	return nil
}

func (l *Lifecycle) removeArtefacts(h *Handle) {
	if h.Control != nil {
		_ = h.Control.Close()
	}

	_ = l.opener.Remove(pathbuilder.ControlShmNameQM(h.ServiceId, h.InstanceId))

	if h.ControlB != nil {
		_ = h.ControlB.Close()
		_ = l.opener.Remove(pathbuilder.ControlShmNameASILB(h.ServiceId, h.InstanceId))
	}

	_ = h.Data.Close()
	_ = l.opener.Remove(pathbuilder.DataShmName(h.ServiceId, h.InstanceId))
}

// controlPerm returns the effective permission bits for a control region:
// control regions must be writable by all allowed consumers. Full ACL
// union over per-consumer uid lists is an external collaborator contract
// applied by the caller before CreateOrOpen via os.Chmod/os.Chown; this
// function returns the
// strict-permissions-off fallback (world read+write), used whenever the
// caller's ACL configuration is empty.
func controlPerm(asilB bool) uint32 {
	_ = asilB
	return 0o666
}

// dataPerm returns the fallback data-region permission (world-readable,
// writable only by the skeleton), used when the consumer ACL is empty and
// strict_permissions is false.
func dataPerm() uint32 {
	return 0o644
}
