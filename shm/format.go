package shm

import (
	"encoding/binary"
	"hash/crc32"
)

// Control region header format ("LCT1"): fixed 128-byte header at the
// start of every control SHM region, followed by a contiguous array of
// EventControl records. Layout follows a magic, version, generation
// seqlock, trailing CRC32-C convention (the CRC covers everything but the
// generation and CRC fields themselves), applied to the fixed
// control-region fields below.
const (
	ctlMagic      = "LCT1"
	ctlVersion    = 1
	ctlHeaderSize = 128

	offCtlMagic          = 0x00 // [4]byte
	offCtlVersion        = 0x04 // uint32
	offCtlHeaderSize     = 0x08 // uint32
	offCtlEventCount     = 0x0C // uint32
	offCtlEventRecSize   = 0x10 // uint32
	offCtlSkeletonPID    = 0x18 // uint64
	offCtlGeneration     = 0x20 // uint64
	offCtlEventsOffset   = 0x28 // uint64
	offCtlHeaderCRC32C   = 0x30 // uint32
	offCtlReservedStart  = 0x34
)

// ControlHeader is the decoded form of a control region's fixed header.
type ControlHeader struct {
	Version          uint32
	EventCount       uint32
	EventRecordSize  uint32
	SkeletonPID      uint64
	// Generation is a seqlock-style counter: odd means a writer is
	// currently mutating the region (or crashed mid-commit); even means
	// stable. Readers retry when they observe an odd value or a change
	// across their read.
	Generation  uint64
	EventsOffset uint64
}

// EncodeControlHeader serializes h into a ctlHeaderSize-byte buffer with a
// trailing CRC32-C computed over the header with the Generation and CRC
// fields themselves zeroed.
func EncodeControlHeader(h ControlHeader) []byte {
	buf := make([]byte, ctlHeaderSize)

	copy(buf[offCtlMagic:], ctlMagic)
	binary.LittleEndian.PutUint32(buf[offCtlVersion:], ctlVersion)
	binary.LittleEndian.PutUint32(buf[offCtlHeaderSize:], ctlHeaderSize)
	binary.LittleEndian.PutUint32(buf[offCtlEventCount:], h.EventCount)
	binary.LittleEndian.PutUint32(buf[offCtlEventRecSize:], h.EventRecordSize)
	binary.LittleEndian.PutUint64(buf[offCtlSkeletonPID:], h.SkeletonPID)
	binary.LittleEndian.PutUint64(buf[offCtlGeneration:], h.Generation)
	binary.LittleEndian.PutUint64(buf[offCtlEventsOffset:], h.EventsOffset)

	crc := computeControlCRC(buf)
	binary.LittleEndian.PutUint32(buf[offCtlHeaderCRC32C:], crc)

	return buf
}

// DecodeControlHeader parses a control region header without validating
// its CRC; call ValidateControlHeaderCRC separately.
func DecodeControlHeader(buf []byte) ControlHeader {
	return ControlHeader{
		Version:         binary.LittleEndian.Uint32(buf[offCtlVersion:]),
		EventCount:      binary.LittleEndian.Uint32(buf[offCtlEventCount:]),
		EventRecordSize: binary.LittleEndian.Uint32(buf[offCtlEventRecSize:]),
		SkeletonPID:     binary.LittleEndian.Uint64(buf[offCtlSkeletonPID:]),
		Generation:      binary.LittleEndian.Uint64(buf[offCtlGeneration:]),
		EventsOffset:    binary.LittleEndian.Uint64(buf[offCtlEventsOffset:]),
	}
}

// ValidateControlHeaderCRC reports whether buf's stored CRC32-C matches
// its recomputed value.
func ValidateControlHeaderCRC(buf []byte) bool {
	stored := binary.LittleEndian.Uint32(buf[offCtlHeaderCRC32C:])
	return stored == computeControlCRC(buf)
}

func computeControlCRC(buf []byte) uint32 {
	tmp := make([]byte, ctlHeaderSize)
	copy(tmp, buf)

	for i := offCtlGeneration; i < offCtlGeneration+8; i++ {
		tmp[i] = 0
	}

	for i := offCtlHeaderCRC32C; i < offCtlHeaderCRC32C+4; i++ {
		tmp[i] = 0
	}

	return crc32.Checksum(tmp, crc32.MakeTable(crc32.Castagnoli))
}

// EventControlSize is the fixed size of a single EventControl record:
// the event id (bytes 0-1, padded to 8) plus the DataControl bitmap word
// (bytes 8-15).
const EventControlSize = 16

// EventControl tracks concurrent allocations for writing a single event's
// sample slots. DataControl is a bitmap of in-progress writer
// allocations; a set bit at reopen time after a crash means a
// torn/incomplete write that cleanupAfterCrash must clear.
type EventControl struct {
	EventId     uint16
	DataControl uint64
}

// EncodeEventControl serializes an EventControl record into a
// EventControlSize-byte buffer.
func EncodeEventControl(e EventControl) []byte {
	buf := make([]byte, EventControlSize)
	binary.LittleEndian.PutUint16(buf[0:], e.EventId)
	binary.LittleEndian.PutUint64(buf[8:], e.DataControl)

	return buf
}

// DecodeEventControl parses a single EventControl record.
func DecodeEventControl(buf []byte) EventControl {
	return EventControl{
		EventId:     binary.LittleEndian.Uint16(buf[0:]),
		DataControl: binary.LittleEndian.Uint64(buf[8:]),
	}
}

// Data region header ("LDT1"): fixed 64-byte header at the start of the
// data SHM region, tracking the owning skeleton PID (rewritten on every
// partial-restart reopen) ahead of the per-event sample slot arrays.
const (
	dataMagic      = "LDT1"
	dataVersion    = 1
	dataHeaderSize = 64

	offDataMagic       = 0x00
	offDataVersion     = 0x04
	offDataHeaderSize  = 0x08
	offDataSkeletonPID = 0x10
	offDataEventsOff   = 0x18
)

// DataHeader is the decoded form of a data region's fixed header.
type DataHeader struct {
	SkeletonPID uint64
	EventsOffset uint64
}

// EncodeDataHeader serializes h into a dataHeaderSize-byte buffer.
func EncodeDataHeader(h DataHeader) []byte {
	buf := make([]byte, dataHeaderSize)

	copy(buf[offDataMagic:], dataMagic)
	binary.LittleEndian.PutUint32(buf[offDataVersion:], dataVersion)
	binary.LittleEndian.PutUint32(buf[offDataHeaderSize:], dataHeaderSize)
	binary.LittleEndian.PutUint64(buf[offDataSkeletonPID:], h.SkeletonPID)
	binary.LittleEndian.PutUint64(buf[offDataEventsOff:], h.EventsOffset)

	return buf
}

// DecodeDataHeader parses a data region header.
func DecodeDataHeader(buf []byte) DataHeader {
	return DataHeader{
		SkeletonPID:  binary.LittleEndian.Uint64(buf[offDataSkeletonPID:]),
		EventsOffset: binary.LittleEndian.Uint64(buf[offDataEventsOff:]),
	}
}

// SetDataHeaderSkeletonPID rewrites just the skeleton PID field in an
// already-encoded data header buffer in place, used on partial-restart
// reopen without re-encoding the whole header.
func SetDataHeaderSkeletonPID(buf []byte, pid uint64) {
	binary.LittleEndian.PutUint64(buf[offDataSkeletonPID:], pid)
}
