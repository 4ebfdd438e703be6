package shm

import (
	"testing"

	"github.com/aracom/lola/internal/config"
)

func uint32p(v uint32) *uint32 { return &v }

func TestSimulate_FoldsTracingSlotsIntoEffectiveCount(t *testing.T) {
	t.Parallel()

	events := map[string]config.EventDeployment{
		"speed": {Slots: uint32p(4), TracingSlots: 2},
	}

	sizes, err := Simulate(events, false)
	if err != nil {
		t.Fatalf("simulate: %v", err)
	}

	wantData := int64(dataHeaderSize) + int64(6)*sampleSlotSize
	if sizes.Data != wantData {
		t.Fatalf("data size = %d, want %d", sizes.Data, wantData)
	}

	wantControl := int64(ctlHeaderSize) + EventControlSize
	if sizes.ControlQM != wantControl {
		t.Fatalf("control-qm size = %d, want %d", sizes.ControlQM, wantControl)
	}

	if sizes.ControlB != 0 {
		t.Fatalf("expected no control-b region for a non-ASIL-B instance")
	}
}

func TestSimulate_ASILB_MirrorsControlSize(t *testing.T) {
	t.Parallel()

	events := map[string]config.EventDeployment{
		"speed": {Slots: uint32p(1)},
	}

	sizes, err := Simulate(events, true)
	if err != nil {
		t.Fatalf("simulate: %v", err)
	}

	if sizes.ControlB != sizes.ControlQM {
		t.Fatalf("control-b size %d should mirror control-qm size %d for an ASIL-B instance", sizes.ControlB, sizes.ControlQM)
	}
}

func TestSimulate_DefaultsToZeroSlotsWhenUnconfigured(t *testing.T) {
	t.Parallel()

	events := map[string]config.EventDeployment{"speed": {}}

	sizes, err := Simulate(events, false)
	if err != nil {
		t.Fatalf("simulate: %v", err)
	}

	if sizes.Data != int64(dataHeaderSize) {
		t.Fatalf("expected zero sample bytes for an unconfigured event, got data size %d", sizes.Data)
	}
}
