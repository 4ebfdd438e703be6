package shm

import (
	"errors"
	"testing"

	"github.com/aracom/lola/identifier"
	"github.com/aracom/lola/internal/vfs"
	"github.com/aracom/lola/lola"
	"github.com/aracom/lola/pathbuilder"
)

func testRoots() pathbuilder.Roots {
	return pathbuilder.DefaultRoots("/tmp/lola-test")
}

func testSizes() Sizes {
	return Sizes{Data: 256, ControlQM: 192}
}

// Property 4: two skeletons offering the same (service, instance)
// concurrently — exactly one Offer succeeds, the other returns
// lola.ErrBindingFailure.
func TestOffer_ConcurrentOffer_SecondFails(t *testing.T) {
	t.Parallel()

	fs := vfs.NewFake()
	roots := testRoots()

	first := New(fs, roots, WithRegionOpener(NewFakeOpener()))
	second := New(fs, roots, WithRegionOpener(NewFakeOpener()))

	handle, err := first.Offer(identifier.ServiceId(0x1234), identifier.InstanceId(1), false, testSizes())
	if err != nil {
		t.Fatalf("first offer: %v", err)
	}

	t.Cleanup(func() { _ = first.StopOffer(handle, SelectAll) })

	_, err = second.Offer(identifier.ServiceId(0x1234), identifier.InstanceId(1), false, testSizes())
	if !errors.Is(err, lola.ErrBindingFailure) {
		t.Fatalf("expected ErrBindingFailure, got %v", err)
	}
}

// Property 5: with no proxy attached, StopOffer removes all SHM objects;
// with a proxy attached, none are removed.
func TestStopOffer_NoProxy_RemovesArtefacts(t *testing.T) {
	t.Parallel()

	fakeFS := vfs.NewFake()
	opener := NewFakeOpener()
	roots := testRoots()

	l := New(fakeFS, roots, WithRegionOpener(opener))

	handle, err := l.Offer(identifier.ServiceId(0x10), identifier.InstanceId(2), false, testSizes())
	if err != nil {
		t.Fatalf("offer: %v", err)
	}

	dataName := pathbuilder.DataShmName(identifier.ServiceId(0x10), identifier.InstanceId(2))

	if exists, _ := opener.Exists(dataName); !exists {
		t.Fatalf("expected data region to exist after offer")
	}

	if err := l.StopOffer(handle, SelectAll); err != nil {
		t.Fatalf("stop offer: %v", err)
	}

	if exists, _ := opener.Exists(dataName); exists {
		t.Fatalf("expected data region removed after stop-offer with no proxy")
	}
}

func TestStopOffer_ProxyAttached_KeepsArtefacts(t *testing.T) {
	t.Parallel()

	fakeFS := vfs.NewFake()
	opener := NewFakeOpener()
	roots := testRoots()

	l := New(fakeFS, roots, WithRegionOpener(opener))

	handle, err := l.Offer(identifier.ServiceId(0x11), identifier.InstanceId(3), false, testSizes())
	if err != nil {
		t.Fatalf("offer: %v", err)
	}

	// Simulate a proxy subscribing: take a shared lock on the usage marker.
	usageLock, err := fakeFS.Lock(roots.UsageMarkerPath(identifier.ServiceId(0x11), identifier.InstanceId(3)))
	if err != nil {
		t.Fatalf("lock usage marker: %v", err)
	}

	acquired, err := usageLock.TryLockSharedNonblocking()
	if err != nil || !acquired {
		t.Fatalf("proxy shared lock: acquired=%v err=%v", acquired, err)
	}

	dataName := pathbuilder.DataShmName(identifier.ServiceId(0x11), identifier.InstanceId(3))

	if err := l.StopOffer(handle, SelectAll); err != nil {
		t.Fatalf("stop offer: %v", err)
	}

	if exists, _ := opener.Exists(dataName); !exists {
		t.Fatalf("expected data region to persist while a proxy is attached")
	}

	_ = usageLock.Unlock()
}

// S3/S4 — partial restart. A second Lifecycle reopening after a first
// skeleton "crashed" (existence lock released without a clean stop-offer)
// either reopens (proxy still attached, usage marker held shared) or
// creates fresh regions (no proxy left).
func TestOffer_PartialRestart_ProxyAttached_Reopens(t *testing.T) {
	t.Parallel()

	fakeFS := vfs.NewFake()
	opener := NewFakeOpener()
	roots := testRoots()

	skeletonA := New(fakeFS, roots, WithRegionOpener(opener))

	handleA, err := skeletonA.Offer(identifier.ServiceId(0x20), identifier.InstanceId(4), false, testSizes())
	if err != nil {
		t.Fatalf("skeleton A offer: %v", err)
	}

	usageLock, err := fakeFS.Lock(roots.UsageMarkerPath(identifier.ServiceId(0x20), identifier.InstanceId(4)))
	if err != nil {
		t.Fatalf("lock usage marker: %v", err)
	}

	if acquired, err := usageLock.TryLockSharedNonblocking(); err != nil || !acquired {
		t.Fatalf("proxy shared lock: acquired=%v err=%v", acquired, err)
	}

	// Skeleton A crashes: release its existence lock without removing SHM
	// or the existence marker file, as a crash would.
	_ = handleA.existenceLock.Close()

	skeletonB := New(fakeFS, roots, WithRegionOpener(opener))

	handleB, err := skeletonB.Offer(identifier.ServiceId(0x20), identifier.InstanceId(4), false, testSizes())
	if err != nil {
		t.Fatalf("skeleton B offer: %v", err)
	}

	if !handleB.Reopened {
		t.Fatalf("expected skeleton B to reopen existing SHM, not create fresh")
	}

	_ = usageLock.Unlock()
	_ = skeletonB.StopOffer(handleB, SelectAll)
}

func TestOffer_PartialRestart_NoProxy_CreatesFresh(t *testing.T) {
	t.Parallel()

	fakeFS := vfs.NewFake()
	opener := NewFakeOpener()
	roots := testRoots()

	skeletonA := New(fakeFS, roots, WithRegionOpener(opener))

	handleA, err := skeletonA.Offer(identifier.ServiceId(0x21), identifier.InstanceId(5), false, testSizes())
	if err != nil {
		t.Fatalf("skeleton A offer: %v", err)
	}

	_ = handleA.existenceLock.Close()

	skeletonB := New(fakeFS, roots, WithRegionOpener(opener))

	handleB, err := skeletonB.Offer(identifier.ServiceId(0x21), identifier.InstanceId(5), false, testSizes())
	if err != nil {
		t.Fatalf("skeleton B offer: %v", err)
	}

	if handleB.Reopened {
		t.Fatalf("expected skeleton B to create fresh SHM with no proxy attached")
	}

	_ = skeletonB.StopOffer(handleB, SelectAll)
}

// GLOSSARY "Quality selector": StopOffer(SelectAsilQmOnly) retracts only
// the QM control region of an ASIL-B instance, leaving the ASIL-B
// control region and the data region (and the offer itself) intact.
func TestStopOffer_SelectAsilQmOnly_DisconnectsOnlyQm(t *testing.T) {
	t.Parallel()

	fakeFS := vfs.NewFake()
	opener := NewFakeOpener()
	roots := testRoots()

	l := New(fakeFS, roots, WithRegionOpener(opener))

	sizes := Sizes{Data: 256, ControlQM: 192, ControlB: 192}

	handle, err := l.Offer(identifier.ServiceId(0x30), identifier.InstanceId(6), true, sizes)
	if err != nil {
		t.Fatalf("offer: %v", err)
	}

	qmName := pathbuilder.ControlShmNameQM(identifier.ServiceId(0x30), identifier.InstanceId(6))
	bName := pathbuilder.ControlShmNameASILB(identifier.ServiceId(0x30), identifier.InstanceId(6))
	dataName := pathbuilder.DataShmName(identifier.ServiceId(0x30), identifier.InstanceId(6))

	if err := l.StopOffer(handle, SelectAsilQmOnly); err != nil {
		t.Fatalf("disconnect qm consumers: %v", err)
	}

	if exists, _ := opener.Exists(qmName); exists {
		t.Fatalf("expected control-qm region removed after SelectAsilQmOnly")
	}

	if exists, _ := opener.Exists(bName); !exists {
		t.Fatalf("expected control-asil-b region to persist after SelectAsilQmOnly")
	}

	if exists, _ := opener.Exists(dataName); !exists {
		t.Fatalf("expected data region to persist after SelectAsilQmOnly")
	}

	if handle.Control != nil {
		t.Fatalf("expected handle.Control cleared after SelectAsilQmOnly")
	}

	// The existence lock is still held: the skeleton keeps serving
	// ASIL-B consumers, so a second skeleton must still fail to offer.
	second := New(fakeFS, roots, WithRegionOpener(opener))
	if _, err := second.Offer(identifier.ServiceId(0x30), identifier.InstanceId(6), true, sizes); !errors.Is(err, lola.ErrBindingFailure) {
		t.Fatalf("expected instance to remain offered after SelectAsilQmOnly, got %v", err)
	}

	if err := l.StopOffer(handle, SelectAll); err != nil {
		t.Fatalf("full stop offer: %v", err)
	}
}

func TestDisconnectQmConsumers_NonAsilB_Aborts(t *testing.T) {
	t.Parallel()

	defer func() {
		if recover() == nil {
			t.Fatalf("expected DisconnectQmConsumers to abort on a non-ASIL-B handle")
		}
	}()

	fakeFS := vfs.NewFake()
	opener := NewFakeOpener()
	roots := testRoots()

	l := New(fakeFS, roots, WithRegionOpener(opener))

	handle, err := l.Offer(identifier.ServiceId(0x31), identifier.InstanceId(7), false, testSizes())
	if err != nil {
		t.Fatalf("offer: %v", err)
	}

	t.Cleanup(func() { _ = l.StopOffer(handle, SelectAll) })

	_ = l.DisconnectQmConsumers(handle)
}

func TestEnforceConfiguredMinimum(t *testing.T) {
	t.Parallel()

	required := Sizes{Data: 100, ControlQM: 50}

	if err := EnforceConfiguredMinimum(Sizes{Data: 100, ControlQM: 50}, required); err != nil {
		t.Fatalf("exact match should not error: %v", err)
	}

	if err := EnforceConfiguredMinimum(Sizes{Data: 50}, required); err == nil {
		t.Fatalf("expected error for undersized configured data size")
	}

	if err := EnforceConfiguredMinimum(Sizes{}, required); err != nil {
		t.Fatalf("unset fields (0) should never trigger the minimum check: %v", err)
	}
}
