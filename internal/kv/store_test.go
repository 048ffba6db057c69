package kv

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/azim0ff/nvkv/internal/flash"
	"github.com/azim0ff/nvkv/internal/page"
)

// newTestStore builds a Store over a fresh in-memory Sim with the reference
// geometry from spec.md §8: NUM_PAGES=2, PAGE_BYTES=4096, NUM_KEYS=16 (so
// SLOT_COUNT=1023).
func newTestStore(t *testing.T) *Store {
	t.Helper()

	dev, err := flash.NewSim(flash.Geometry{PageBytes: 4096, NumPages: 2})
	require.NoError(t, err)

	s, err := New(dev, 16)
	require.NoError(t, err)

	return s
}

// TestVirginInit is scenario S1: flash all 0xFF, init, page 0 becomes
// ACTIVE and page 1 stays ERASED.
func TestVirginInit(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	require.NoError(t, s.Init())

	status0, err := page.ReadHeader(s.dev, s.layout, 0)
	require.NoError(t, err)
	require.Equal(t, page.Active, status0)

	status1, err := page.ReadHeader(s.dev, s.layout, 1)
	require.NoError(t, err)
	require.Equal(t, page.Erased, status1)
}

// TestSingleWriteThenRead is scenario S2.
func TestSingleWriteThenRead(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	require.NoError(t, s.Init())

	require.NoError(t, s.Write(3, 0xBEEF))

	entry, err := page.ReadEntry(s.dev, s.layout, 0, 1)
	require.NoError(t, err)
	require.Equal(t, page.Entry{Key: 3, Value: 0xBEEF}, entry)

	v, err := s.Read(3)
	require.NoError(t, err)
	require.Equal(t, uint16(0xBEEF), v)

	_, err = s.Read(4)
	require.ErrorIs(t, err, ErrNotFound)
}

// TestOverwrite is scenario S3 and law L2 (last-writer-wins).
func TestOverwrite(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	require.NoError(t, s.Init())

	require.NoError(t, s.Write(3, 0xBEEF))
	require.NoError(t, s.Write(3, 0x1234))

	v, err := s.Read(3)
	require.NoError(t, err)
	require.Equal(t, uint16(0x1234), v)

	e1, err := page.ReadEntry(s.dev, s.layout, 0, 1)
	require.NoError(t, err)
	require.Equal(t, page.Entry{Key: 3, Value: 0xBEEF}, e1)

	e2, err := page.ReadEntry(s.dev, s.layout, 0, 2)
	require.NoError(t, err)
	require.Equal(t, page.Entry{Key: 3, Value: 0x1234}, e2)
}

// TestPackByFill is scenario S4: filling page 0 to its penultimate slot
// triggers exactly one pack, landing the next write on page 1's slot 2
// (slot 1 holds the migrated survivor of key 1).
func TestPackByFill(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	require.NoError(t, s.Init())

	slotCount := s.layout.SlotCount()

	var last uint16
	for i := 0; i < int(slotCount)-1; i++ {
		last = uint16(i + 1)
		require.NoError(t, s.Write(1, last))
	}

	// Page 0 now has slots 1..slotCount-1 filled, slot slotCount empty.
	status0, err := page.ReadHeader(s.dev, s.layout, 0)
	require.NoError(t, err)
	require.Equal(t, page.Active, status0)

	require.NoError(t, s.Write(1, last+1))

	// Pack happened: page 1 is now ACTIVE, page 0 is ERASED.
	status1, err := page.ReadHeader(s.dev, s.layout, 1)
	require.NoError(t, err)
	require.Equal(t, page.Active, status1)

	status0, err = page.ReadHeader(s.dev, s.layout, 0)
	require.NoError(t, err)
	require.Equal(t, page.Erased, status0)

	slot1, err := page.ReadEntry(s.dev, s.layout, 1, 1)
	require.NoError(t, err)
	require.Equal(t, page.Entry{Key: 1, Value: last}, slot1)

	slot2, err := page.ReadEntry(s.dev, s.layout, 1, 2)
	require.NoError(t, err)
	require.Equal(t, page.Entry{Key: 1, Value: last + 1}, slot2)

	v, err := s.Read(1)
	require.NoError(t, err)
	require.Equal(t, last+1, v)
}

// TestWriteReadRoundTrip is law L1.
func TestWriteReadRoundTrip(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	require.NoError(t, s.Init())

	require.NoError(t, s.Write(7, 42))

	v, err := s.Read(7)
	require.NoError(t, err)
	require.Equal(t, uint16(42), v)
}

// TestWriteIndependence is law L3: writing k1 does not alter reads of k2.
func TestWriteIndependence(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	require.NoError(t, s.Init())

	require.NoError(t, s.Write(1, 100))
	require.NoError(t, s.Write(2, 200))
	require.NoError(t, s.Write(1, 101))

	v2, err := s.Read(2)
	require.NoError(t, err)
	require.Equal(t, uint16(200), v2)
}

// TestRejectsEmptyKeyAndOutOfRange covers the §8 boundary behavior: key 0
// is valid (§9 open question, resolved), but EmptyKey and anything above
// MaxKey must be rejected.
func TestRejectsEmptyKeyAndOutOfRange(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	require.NoError(t, s.Init())

	require.NoError(t, s.Write(0, 0xAAAA))

	v, err := s.Read(0)
	require.NoError(t, err)
	require.Equal(t, uint16(0xAAAA), v)

	_, err = s.Read(page.EmptyKey)
	require.ErrorIs(t, err, ErrInvalidKey)

	_, err = s.Read(s.maxKey + 1)
	require.ErrorIs(t, err, ErrInvalidKey)

	require.ErrorIs(t, s.Write(page.EmptyKey, 1), ErrInvalidKey)
	require.ErrorIs(t, s.Write(s.maxKey+1, 1), ErrInvalidKey)
}

// TestReadWriteBeforeInit covers spec.md §6: init() must be called exactly
// once before any read/write.
func TestReadWriteBeforeInit(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)

	_, err := s.Read(1)
	require.ErrorIs(t, err, ErrNotInitialized)

	require.ErrorIs(t, s.Write(1, 1), ErrNotInitialized)
}

// TestPackWorkingSetTooLarge is the §8 boundary case: a working set that
// does not fit on a fresh page is fatal, without corrupting the source.
//
// Write's own fullness gate (see Write's doc comment) means a page built up
// through normal writes can never accumulate more live keys than
// SlotCount-1 in the first place when New's precondition holds - this is
// exactly what that precondition guarantees. To exercise Phase 2's own
// overflow check, this test pokes a corrupted state directly (more live
// entries on the source page than a fresh page has room for) and calls
// pack() itself, modeling what deep corruption or a misconfigured NUM_KEYS
// would produce.
func TestPackWorkingSetTooLarge(t *testing.T) {
	t.Parallel()

	geom := flash.Geometry{PageBytes: 4 + 4*4, NumPages: 2} // SlotCount == 4
	dev, err := flash.NewSim(geom)
	require.NoError(t, err)

	l := page.Layout{Geom: geom}
	s := &Store{dev: dev, layout: l, maxKey: 3, initialized: true} // 4 keys, only 3 fit

	require.NoError(t, page.WriteHeader(dev, l, 0, page.Active))

	for i, key := range []uint16{0, 1, 2, 3} {
		require.NoError(t, page.WriteEntry(dev, l, 0, uint32(i+1), page.Entry{Key: key, Value: key + 10}))
	}

	s.active = 0

	err = s.pack()
	require.ErrorIs(t, err, ErrWorkingSetTooLarge)

	// Source page must be left intact: every key still readable from it
	// despite the failed pack.
	status, err := page.ReadHeader(dev, l, 0)
	require.NoError(t, err)
	require.Equal(t, page.Active, status)

	v, err := s.readFrom(0, 2)
	require.NoError(t, err)
	require.Equal(t, uint16(12), v)
}
