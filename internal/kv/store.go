// Package kv implements components 4.D (log engine) and 4.E (compaction &
// recovery): the two heaviest pieces of the engine (spec.md rates them
// ~25% and ~40% of the core respectively), which is why they share one
// package - pack and recover are tightly coupled to the log engine's notion
// of "active page" and cannot be understood in isolation from it.
package kv

import (
	"errors"
	"fmt"

	"github.com/azim0ff/nvkv/internal/directory"
	"github.com/azim0ff/nvkv/internal/flash"
	"github.com/azim0ff/nvkv/internal/page"
)

// Store is the engine described in spec.md §2: a single logical unit over
// one flash device. It is not safe for concurrent use - spec.md §5 assumes
// a single implicit mutator and no reentrancy.
type Store struct {
	dev    flash.Device
	layout page.Layout
	maxKey uint16

	// active caches the page index most recently known to be ACTIVE, kept
	// up to date by Init/Write/pack. Read trusts this cache directly and
	// never consults the directory itself; only pack re-derives the active
	// page via locateActive, since it cannot assume its caller's cache is
	// still current after a crash.
	active uint32

	// Trace, if non-nil, is called with a step-by-step narrative of
	// Init/Write/pack (Read does not trace), mirroring the optional EEPROM_DEBUG_PRINTF
	// calls in original_source/eeprom.c. Nil by default so tracing costs
	// nothing unless a caller (cmd/nvkv's --verbose) opts in.
	Trace func(format string, args ...any)

	initialized bool
}

// New constructs a Store over dev with a key space of [0, numKeys). numKeys
// must satisfy spec.md §9's hard precondition:
// numKeys*page.EntryBytes < dev.Geometry().PageBytes-page.HeaderBytes.
func New(dev flash.Device, numKeys uint16) (*Store, error) {
	geom := dev.Geometry()
	if err := geom.Validate(); err != nil {
		return nil, err
	}

	l := page.Layout{Geom: geom}

	if numKeys == 0 {
		return nil, fmt.Errorf("kv: NUM_KEYS must be at least 1")
	}

	if uint32(numKeys)*page.EntryBytes >= geom.PageBytes-page.HeaderBytes {
		return nil, fmt.Errorf("kv: NUM_KEYS*ENTRY_BYTES (%d) must be < PAGE_BYTES-HEADER_BYTES (%d)",
			uint32(numKeys)*page.EntryBytes, geom.PageBytes-page.HeaderBytes)
	}

	return &Store{
		dev:    dev,
		layout: l,
		maxKey: numKeys - 1,
	}, nil
}

func (s *Store) trace(format string, args ...any) {
	if s.Trace != nil {
		s.Trace(format, args...)
	}
}

func (s *Store) validateKey(key uint16) error {
	if key == page.EmptyKey || key > s.maxKey {
		return fmt.Errorf("%w: %#04x", ErrInvalidKey, key)
	}

	return nil
}

// Init performs boot recovery (spec.md §4.E, §6). It must be called exactly
// once before any Read/Write.
func (s *Store) Init() error {
	pg, err := s.recover()
	if err != nil {
		return err
	}

	s.active = pg
	s.initialized = true

	return nil
}

// Read returns the logical value of key, or ErrNotFound if key is absent
// from the active page (spec.md §4.D Read).
func (s *Store) Read(key uint16) (uint16, error) {
	if !s.initialized {
		return 0, ErrNotInitialized
	}

	if err := s.validateKey(key); err != nil {
		return 0, err
	}

	return s.readFrom(s.active, key)
}

// readFrom scans page pg from its highest slot down to 1, returning the
// first (i.e. most recently written) match - the reverse scan that
// implements latest-wins semantics (spec.md §4.D step 3-4).
func (s *Store) readFrom(pg uint32, key uint16) (uint16, error) {
	slotCount := s.layout.SlotCount()

	for slot := slotCount; slot >= 1; slot-- {
		e, err := page.ReadEntry(s.dev, s.layout, pg, slot)
		if err != nil {
			return 0, err
		}

		if e.Key == key {
			return e.Value, nil
		}
	}

	return 0, ErrNotFound
}

// Write appends (key, value) to the active page, invoking pack first if the
// page is full (spec.md §4.D Write).
//
// Fullness is detected by computing the append target via the same
// used-prefix scan step 4 uses: if it lands on SlotCount (the reserved last
// slot), the page has no room left for this entry and pack runs first. This
// is equivalent to step 3's "read the last slot" for every normal fill
// pattern, but where the two diverge - a page whose used prefix reaches
// exactly SlotCount-1 - this is the reading that matches spec.md's own
// worked example (S4: 1022 fills of a 1023-slot page leave slot 1023
// untouched and the very next write triggers pack) and keeps invariant I3
// (the last slot of the ACTIVE page is always empty) holding between every
// public call, not just eventually.
func (s *Store) Write(key, value uint16) error {
	if !s.initialized {
		return ErrNotInitialized
	}

	if err := s.validateKey(key); err != nil {
		return err
	}

	slotCount := s.layout.SlotCount()

	target, err := appendTarget(s.dev, s.layout, s.active)
	if err != nil {
		return err
	}

	if target == slotCount {
		s.trace("write(%d): active page %d full, packing", key, s.active)

		if err := s.pack(); err != nil {
			return err
		}

		target, err = appendTarget(s.dev, s.layout, s.active)
		if err != nil {
			return err
		}
	}

	s.trace("write(%d, %#04x): appending to page %d slot %d", key, value, s.active, target)

	return page.WriteEntry(s.dev, s.layout, s.active, target, page.Entry{Key: key, Value: value})
}

// appendTarget finds the next free slot on page pg by scanning from the
// second-to-last slot downward; the first non-empty slot found bounds the
// used prefix and the append target is one slot above it. If the scan finds
// no non-empty slot, the target is slot 1 (spec.md §4.D step 4).
func appendTarget(dev flash.Device, l page.Layout, pg uint32) (uint32, error) {
	slotCount := l.SlotCount()

	for slot := slotCount - 1; slot >= 1; slot-- {
		e, err := page.ReadEntry(dev, l, pg, slot)
		if err != nil {
			return 0, err
		}

		if !e.IsEmpty() {
			return slot + 1, nil
		}
	}

	return 1, nil
}

// Pack forces compaction of the active page immediately, regardless of how
// full it is. Write calls the same machinery automatically when a page
// fills; Pack exists for cmd/nvkv's `pack` subcommand and for tests that
// want to drive compaction on demand.
func (s *Store) Pack() error {
	if !s.initialized {
		return ErrNotInitialized
	}

	return s.pack()
}

// Format erases every page and reinitializes page 0 as ACTIVE, discarding
// all stored data (spec.md §4.E "Format procedure"). Exposed for cmd/nvkv's
// `format` subcommand; Init calls the same path automatically on a virgin
// or unrecoverable device.
func (s *Store) Format() error {
	pg, err := s.format()
	if err != nil {
		return err
	}

	s.active = pg
	s.initialized = true

	return nil
}

// MaxKey returns the highest valid key (numKeys-1, as passed to New).
func (s *Store) MaxKey() uint16 {
	return s.maxKey
}

// ActivePage returns the index of the page currently serving reads/writes.
func (s *Store) ActivePage() uint32 {
	return s.active
}

// Dump returns every live (key, value) pair on the active page, for
// cmd/nvkv's `inspect` subcommand. It walks the same [0, maxKey] range
// migrate does, but only reads - it never mutates the device.
func (s *Store) Dump() (map[uint16]uint16, error) {
	if !s.initialized {
		return nil, ErrNotInitialized
	}

	out := make(map[uint16]uint16)

	for key := uint16(0); ; key++ {
		value, err := s.readFrom(s.active, key)

		switch {
		case err == nil:
			out[key] = value
		case !errors.Is(err, ErrNotFound):
			return nil, err
		}

		if key == s.maxKey {
			break
		}
	}

	return out, nil
}

// locateActive finds the unique ACTIVE page via the directory, for callers
// (pack, recovery) that cannot trust a cached index.
func (s *Store) locateActive() (uint32, error) {
	pg, err := directory.Find(s.dev, s.layout, page.Active)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}

	return pg, nil
}
