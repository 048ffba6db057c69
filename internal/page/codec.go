// Package page implements component 4.B: the fixed page header and
// fixed-width entry codec. It is declarative by design (spec.md §2 rates it
// ~10% of the core) - no scanning or decision logic lives here, only
// encode/decode of the on-flash byte layout described in spec.md §6.
package page

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/azim0ff/nvkv/internal/flash"
)

// HeaderBytes is the size of a page header: one 32-bit status word.
const HeaderBytes = 4

// EntryBytes is the size of one entry slot: two u16 fields.
const EntryBytes = 4

// EmptyKey is the sentinel key value of an empty (never-written) slot -
// the natural value of erased flash (spec.md §3).
const EmptyKey = 0xFFFF

// Status is a page header tag. The three recognized raw values form a
// monotonic bit-clearing chain (ERASED ⊇ COPY ⊇ ACTIVE) so that rewriting a
// header in place never needs to set a bit back to 1 (spec.md §3, §9).
type Status uint32

const (
	// Erased is the post-erase header value: the page holds no useful
	// content.
	Erased Status = 0xFFFFFFFF

	// Active marks the current log page: reads and appends target it.
	Active Status = 0x00000000

	// Copy marks the destination of an in-progress pack.
	Copy Status = 0xAAAAAAAA
)

func (s Status) String() string {
	switch s {
	case Erased:
		return "ERASED"
	case Active:
		return "ACTIVE"
	case Copy:
		return "COPY"
	default:
		return fmt.Sprintf("UNKNOWN(%#08x)", uint32(s))
	}
}

// ErrUnknownStatus is returned by DecodeStatus when a raw header value is
// none of Erased/Active/Copy - the codec treats this as corruption
// (spec.md §4.B), never as a fourth valid state.
var ErrUnknownStatus = errors.New("page: unknown header status")

// DecodeStatus validates raw against the three recognized header values.
func DecodeStatus(raw uint32) (Status, error) {
	switch s := Status(raw); s {
	case Erased, Active, Copy:
		return s, nil
	default:
		return 0, fmt.Errorf("%w: %#08x", ErrUnknownStatus, raw)
	}
}

// Entry is a single 4-byte (key, value) record (spec.md §3). Key == EmptyKey
// denotes an empty slot; a key in [0, MAX_KEY] is live.
type Entry struct {
	Key   uint16
	Value uint16
}

// IsEmpty reports whether e is the natural value of an erased, never-written
// slot.
func (e Entry) IsEmpty() bool { return e.Key == EmptyKey }

// Layout carries the page geometry codec operations need: PageBytes comes
// from flash.Geometry, SlotCount is derived from it.
type Layout struct {
	Geom flash.Geometry
}

// SlotCount returns (PAGE_BYTES - HEADER_BYTES) / ENTRY_BYTES, the number of
// 1-based entry slots per page (spec.md §3).
func (l Layout) SlotCount() uint32 {
	return (l.Geom.PageBytes - HeaderBytes) / EntryBytes
}

// slotAddr returns the absolute byte address of slot on page.
func (l Layout) slotAddr(pg uint32, slot uint32) uint32 {
	return l.Geom.SectorAddr(pg) + HeaderBytes + (slot-1)*EntryBytes
}

// ReadHeader reads and decodes page pg's header.
func ReadHeader(dev flash.Device, l Layout, pg uint32) (Status, error) {
	var buf [HeaderBytes]byte
	if err := dev.ReadAt(l.Geom.SectorAddr(pg), buf[:]); err != nil {
		return 0, err
	}

	return DecodeStatus(binary.LittleEndian.Uint32(buf[:]))
}

// ReadRawStatus reads page pg's header without rejecting an unrecognized raw
// value. original_source/eeprom.c's eeprom_init classifies a header this way
// during boot: its switch has a default case that counts an unknown value as
// neither ACTIVE nor COPY and lets it flow into the recovery decision matrix
// (spec.md §7), rather than treating the read itself as a failure. Callers
// that need a hard ERASED/ACTIVE/COPY answer (e.g. the pack-time self-check)
// should use ReadHeader/DecodeStatus instead.
func ReadRawStatus(dev flash.Device, l Layout, pg uint32) (Status, error) {
	var buf [HeaderBytes]byte
	if err := dev.ReadAt(l.Geom.SectorAddr(pg), buf[:]); err != nil {
		return 0, err
	}

	return Status(binary.LittleEndian.Uint32(buf[:])), nil
}

// WriteHeader writes status to page pg's header. Callers (component 4.E)
// are responsible for only ever moving a header along the monotonic chain
// ERASED -> COPY -> ACTIVE; the codec itself does not re-check the prior
// value, mirroring spec.md §4.B's description of write_header as a direct
// primitive, not a transition-validating one.
func WriteHeader(dev flash.Device, l Layout, pg uint32, status Status) error {
	var buf [HeaderBytes]byte
	binary.LittleEndian.PutUint32(buf[:], uint32(status))

	return dev.WriteAt(l.Geom.SectorAddr(pg), buf[:])
}

// ReadEntry reads entry slot (1-based) on page pg.
func ReadEntry(dev flash.Device, l Layout, pg uint32, slot uint32) (Entry, error) {
	var buf [EntryBytes]byte
	if err := dev.ReadAt(l.slotAddr(pg, slot), buf[:]); err != nil {
		return Entry{}, err
	}

	return Entry{
		Key:   binary.LittleEndian.Uint16(buf[0:2]),
		Value: binary.LittleEndian.Uint16(buf[2:4]),
	}, nil
}

// WriteEntry writes e to entry slot (1-based) on page pg.
func WriteEntry(dev flash.Device, l Layout, pg uint32, slot uint32, e Entry) error {
	var buf [EntryBytes]byte
	binary.LittleEndian.PutUint16(buf[0:2], e.Key)
	binary.LittleEndian.PutUint16(buf[2:4], e.Value)

	return dev.WriteAt(l.slotAddr(pg, slot), buf[:])
}
