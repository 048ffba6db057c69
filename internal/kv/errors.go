package kv

import "errors"

var (
	// ErrNotFound is returned by Read when key is absent from the active
	// page. Not a failure mode - spec.md §7 is explicit that NOT_FOUND is a
	// normal read outcome, never an error of the device.
	ErrNotFound = errors.New("kv: key not found")

	// ErrInvalidKey is returned by Read/Write for EmptyKey or any key above
	// MaxKey (spec.md §4.D step 1).
	ErrInvalidKey = errors.New("kv: invalid key")

	// ErrCorrupt wraps internal corruption found when pack starts: no ACTIVE
	// page to pack from, or a destination page that is not ERASED (spec.md
	// §7). An unrecognized header value read during pack surfaces as
	// page.ErrUnknownStatus instead, and two pages sharing a role are not
	// reported at all: Init's recovery formats the device.
	ErrCorrupt = errors.New("kv: corrupt device state")

	// ErrWorkingSetTooLarge is returned by pack when the live key set does
	// not fit on a freshly erased page - a fatal, non-recoverable condition
	// (spec.md §4.E Phase 2, §8 boundary behavior).
	ErrWorkingSetTooLarge = errors.New("kv: working set does not fit on one page")

	// ErrNotInitialized is returned by Read/Write if called before Init
	// (spec.md §6: "Must be called exactly once before any read/write").
	ErrNotInitialized = errors.New("kv: store not initialized")
)
