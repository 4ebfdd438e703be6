package shm

import (
	"fmt"

	"github.com/aracom/lola/internal/config"
)

// EventSizing is the decided slot count for one event, after folding in
// tracing slots per the invariant: "effective sample-slot count
// = configured slots + configured tracing slots; total must fit the
// underlying counter width."
type EventSizing struct {
	Name  string
	Slots uint32
}

// Simulate computes region sizes when the deployment leaves data-size,
// control-qm-size, or control-b-size unconfigured. The original design
// runs this by instantiating in-process NewDelete-backed memory resources
// and replaying the skeleton's PrepareOffer/PrepareStopOffer path to
// observe byte usage; this core reaches the same numbers with a
// closed-form calculation over the same EventControl/data-slot layout
// instead of an actual allocate-then-rollback pass, since there is no
// separate NewDelete memory resource type in this binding to instantiate
// against. See DESIGN.md for this simplification.
func Simulate(events map[string]config.EventDeployment, hasASILB bool) (Sizes, error) {
	var (
		eventCount  uint32
		dataBytes   int64
		qmEventRecs int64
	)

	for name, ev := range events {
		slots := uint32(0)
		if ev.Slots != nil {
			slots = *ev.Slots
		}

		total := uint64(slots) + uint64(ev.TracingSlots)
		if total > 0xFFFFFFFF {
			return Sizes{}, fmt.Errorf("shm: event %q slot count %d overflows counter width", name, total)
		}

		eventCount++
		qmEventRecs++
		dataBytes += int64(total) * sampleSlotSize
	}

	control := int64(ctlHeaderSize) + qmEventRecs*EventControlSize

	sizes := Sizes{
		Data:      int64(dataHeaderSize) + dataBytes,
		ControlQM: control,
	}

	if hasASILB {
		sizes.ControlB = control
	}

	return sizes, nil
}

// sampleSlotSize is a fixed per-slot byte budget used by the simulation
// above. The real per-event sample layout (element type size/alignment)
// is decided by the thin binding adapters for individual event/field
// types, which live outside this core; this constant
// stands in for it.
const sampleSlotSize = 64

// EnforceConfiguredMinimum returns an error if a user-supplied size in
// configured is smaller than the size Simulate determined is required:
// this must be treated as a fatal configuration error rather than
// silently oversizing the region.
func EnforceConfiguredMinimum(configured, required Sizes) error {
	if configured.Data != 0 && configured.Data < required.Data {
		return fmt.Errorf("shm: configured data size %d smaller than required %d", configured.Data, required.Data)
	}

	if configured.ControlQM != 0 && configured.ControlQM < required.ControlQM {
		return fmt.Errorf("shm: configured control-qm size %d smaller than required %d", configured.ControlQM, required.ControlQM)
	}

	if configured.ControlB != 0 && configured.ControlB < required.ControlB {
		return fmt.Errorf("shm: configured control-b size %d smaller than required %d", configured.ControlB, required.ControlB)
	}

	return nil
}
