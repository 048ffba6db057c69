// Package directory implements component 4.C: scanning all pages and
// classifying each by header status. It is grounded on the original
// eeprom_find_page's linear scan (original_source/eeprom.c) and holds no
// state of its own - every call re-scans the device, matching spec.md's
// description of it as leaf logic sitting directly on top of 4.A/4.B.
package directory

import (
	"errors"
	"fmt"

	"github.com/azim0ff/nvkv/internal/flash"
	"github.com/azim0ff/nvkv/internal/page"
)

// ErrNotFound is returned by Find when no page currently has the requested
// status.
var ErrNotFound = errors.New("directory: no page with requested status")

// Find performs a linear scan over every page (spec.md §4.C) and returns the
// index of the first one whose header equals target. Ties are impossible
// under the engine's invariants during normal operation; when two pages
// share a role it is a recovery case the caller (internal/kv) must detect
// via Count, not Find. Like Count, Find reads raw header values rather than
// DecodeStatus-validated ones, so a corrupt header on a page other than the
// one being searched for never prevents finding the target (spec.md §7).
func Find(dev flash.Device, l page.Layout, target page.Status) (uint32, error) {
	n := l.Geom.NumPages

	for pg := uint32(0); pg < n; pg++ {
		status, err := page.ReadRawStatus(dev, l, pg)
		if err != nil {
			return 0, fmt.Errorf("directory: reading header of page %d: %w", pg, err)
		}

		if status == target {
			return pg, nil
		}
	}

	return 0, fmt.Errorf("%w: status %s", ErrNotFound, target)
}

// Counts is the result of a full-device classification, used only at boot
// (spec.md §4.C) to dispatch the recovery decision matrix.
type Counts struct {
	Active int
	Copy   int
}

// Count classifies every page and returns how many are ACTIVE and how many
// are COPY. A page whose header is Erased, or any other unrecognized raw
// value, contributes to neither - mirroring original_source/eeprom.c's
// eeprom_init, whose classifying switch has a `default: break` rather than
// a failure path. This lets a single corrupt header flow into the recovery
// decision matrix as part of the (Active, Copy) tally instead of aborting
// boot outright (spec.md §7: deep corruption triggers a format, not an
// unrecoverable error).
func Count(dev flash.Device, l page.Layout) (Counts, error) {
	var c Counts

	n := l.Geom.NumPages

	for pg := uint32(0); pg < n; pg++ {
		status, err := page.ReadRawStatus(dev, l, pg)
		if err != nil {
			return Counts{}, fmt.Errorf("directory: reading header of page %d: %w", pg, err)
		}

		switch status {
		case page.Active:
			c.Active++
		case page.Copy:
			c.Copy++
		}
	}

	return c, nil
}
