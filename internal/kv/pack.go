package kv

import (
	"errors"
	"fmt"

	"github.com/azim0ff/nvkv/internal/directory"
	"github.com/azim0ff/nvkv/internal/page"
)

// pack migrates the live entries of the current active page onto a freshly
// erased neighbor and retires the old page, via the three-phase protocol of
// spec.md §4.E. On success s.active is updated to the new page.
func (s *Store) pack() error {
	src, dst, err := s.beginPack()
	if err != nil {
		return err
	}

	if err := s.migrate(src, dst); err != nil {
		return err
	}

	if err := s.commit(src, dst); err != nil {
		return err
	}

	s.active = dst

	return nil
}

// beginPack is Phase 1 (Arm). src is re-located through the directory
// rather than trusted from the caller's cache, mirroring
// original_source/eeprom.c's eeprom_get_pack_dest, which re-reads the
// current page's header and fails if it is not ACTIVE before computing the
// destination - cheap insurance against packing from a stale or corrupted
// notion of "the" active page.
func (s *Store) beginPack() (src, dst uint32, err error) {
	src, err = s.locateActive()
	if err != nil {
		return 0, 0, err
	}

	status, err := page.ReadHeader(s.dev, s.layout, src)
	if err != nil {
		return 0, 0, err
	}

	if status != page.Active {
		return 0, 0, fmt.Errorf("%w: pack source page %d is %s, not ACTIVE", ErrCorrupt, src, status)
	}

	dst = (src + 1) % s.layout.Geom.NumPages

	dstStatus, err := page.ReadHeader(s.dev, s.layout, dst)
	if err != nil {
		return 0, 0, err
	}

	if dstStatus != page.Erased {
		return 0, 0, fmt.Errorf("%w: pack destination page %d is %s, not ERASED", ErrCorrupt, dst, dstStatus)
	}

	s.trace("pack: arming page %d as COPY (src=%d)", dst, src)

	if err := page.WriteHeader(s.dev, s.layout, dst, page.Copy); err != nil {
		return 0, 0, err
	}

	return src, dst, nil
}

// migrate is Phase 2. For every key in [0, maxKey], read it from src
// (still ACTIVE - the open question in spec.md §9 is resolved in favor of
// reading through the normal ACTIVE-page path during pack) and, if present,
// append it to dst counting up from slot 1. It then verifies dst's last
// slot is still empty; if not, the working set does not fit on one page,
// which is fatal (spec.md §4.E Phase 2, §8 boundary behavior).
func (s *Store) migrate(src, dst uint32) error {
	next := uint32(1)

	for key := uint16(0); ; key++ {
		value, err := s.readFrom(src, key)
		if err == nil {
			s.trace("pack: migrating key=%d value=%#04x to page %d slot %d", key, value, dst, next)

			if err := page.WriteEntry(s.dev, s.layout, dst, next, page.Entry{Key: key, Value: value}); err != nil {
				return err
			}

			next++
		} else if !errors.Is(err, ErrNotFound) {
			return err
		}

		if key == s.maxKey {
			break
		}
	}

	slotCount := s.layout.SlotCount()

	last, err := page.ReadEntry(s.dev, s.layout, dst, slotCount)
	if err != nil {
		return err
	}

	if !last.IsEmpty() {
		return fmt.Errorf("%w", ErrWorkingSetTooLarge)
	}

	return nil
}

// commit is Phase 3. src is erased first, then dst is promoted to ACTIVE -
// this order is load-bearing: if dst were promoted first, a crash before
// erasing src would leave two ACTIVE pages with no COPY, indistinguishable
// from deeper corruption (spec.md §4.E Phase 3).
func (s *Store) commit(src, dst uint32) error {
	s.trace("pack: erasing old source page %d", src)

	if err := s.dev.EraseSector(src); err != nil {
		return err
	}

	s.trace("pack: promoting page %d to ACTIVE", dst)

	return page.WriteHeader(s.dev, s.layout, dst, page.Active)
}

// format erases every page and promotes page 0 to ACTIVE (spec.md §4.E
// "Format procedure"). Errors during format are fatal to the call.
func (s *Store) format() (uint32, error) {
	s.trace("recover: formatting device (%d pages)", s.layout.Geom.NumPages)

	for pg := uint32(0); pg < s.layout.Geom.NumPages; pg++ {
		if err := s.dev.EraseSector(pg); err != nil {
			return 0, err
		}
	}

	if err := page.WriteHeader(s.dev, s.layout, 0, page.Active); err != nil {
		return 0, err
	}

	return 0, nil
}

// recover implements the boot recovery decision matrix of spec.md §4.E,
// dispatching on (#ACTIVE, #COPY) classified by the page directory. It
// returns the index of the page that is ACTIVE once recovery completes.
func (s *Store) recover() (uint32, error) {
	counts, err := directory.Count(s.dev, s.layout)
	if err != nil {
		return 0, err
	}

	s.trace("recover: counts = %+v", counts)

	switch {
	case counts.Active == 0 && counts.Copy == 0:
		// Virgin device or deep corruption: format.
		return s.format()

	case counts.Active == 1 && counts.Copy == 0:
		// Normal: no-op.
		active, err := directory.Find(s.dev, s.layout, page.Active)
		if err != nil {
			return 0, err
		}

		return active, nil

	case counts.Active == 0 && counts.Copy == 1:
		// Pack completed Phase 2 but Phase 3 was interrupted (either before
		// the commit write, or after it but before the prior ACTIVE was
		// erased): promote the COPY page and erase every straggler.
		return s.promoteCopy()

	case counts.Active == 1 && counts.Copy == 1:
		// Pack was interrupted before Phase 2 completed: erase the COPY
		// page and re-run pack from scratch.
		return s.eraseCopyAndRepack()

	default:
		// (>=2, *) or (*, >=2): impossible under the protocol: corruption.
		// Both legs share this one branch; each has its own test
		// (TestRecoverTwoActiveFormats, TestRecoverTwoCopyFormats).
		s.trace("recover: %d ACTIVE, %d COPY pages - corruption, formatting", counts.Active, counts.Copy)

		return s.format()
	}
}

// promoteCopy locates the unique COPY page, promotes it to ACTIVE, and
// erases every other page (spec.md §4.E recovery row (0,1)).
func (s *Store) promoteCopy() (uint32, error) {
	cp, err := directory.Find(s.dev, s.layout, page.Copy)
	if err != nil {
		return 0, err
	}

	s.trace("recover: promoting COPY page %d to ACTIVE", cp)

	if err := page.WriteHeader(s.dev, s.layout, cp, page.Active); err != nil {
		return 0, err
	}

	for pg := uint32(0); pg < s.layout.Geom.NumPages; pg++ {
		if pg == cp {
			continue
		}

		status, err := page.ReadRawStatus(s.dev, s.layout, pg)
		if err != nil {
			return 0, err
		}

		if status != page.Erased {
			s.trace("recover: erasing straggler page %d (%s)", pg, status)

			if err := s.dev.EraseSector(pg); err != nil {
				return 0, err
			}
		}
	}

	return cp, nil
}

// eraseCopyAndRepack erases the COPY page and re-runs pack from the still
// ACTIVE source (spec.md §4.E recovery row (1,1)).
func (s *Store) eraseCopyAndRepack() (uint32, error) {
	cp, err := directory.Find(s.dev, s.layout, page.Copy)
	if err != nil {
		return 0, err
	}

	s.trace("recover: erasing stale COPY page %d, re-packing", cp)

	if err := s.dev.EraseSector(cp); err != nil {
		return 0, err
	}

	active, err := directory.Find(s.dev, s.layout, page.Active)
	if err != nil {
		return 0, err
	}

	s.active = active

	if err := s.pack(); err != nil {
		return 0, err
	}

	return s.active, nil
}
