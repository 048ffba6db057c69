package kv

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/azim0ff/nvkv/internal/flash"
	"github.com/azim0ff/nvkv/internal/page"
)

// reopen simulates a process restart: a fresh Store over the same device,
// forced through Init (boot recovery).
func reopen(t *testing.T, dev flash.Device, numKeys uint16) *Store {
	t.Helper()

	s, err := New(dev, numKeys)
	require.NoError(t, err)
	require.NoError(t, s.Init())

	return s
}

// TestCrashBetweenArmAndMigrate is scenario S5: power loss immediately after
// header(dst) := COPY. Recovery must observe (ACTIVE=1, COPY=1), erase the
// COPY page, re-pack, and end with exactly one ACTIVE page and the same
// logical map as before the crash.
func TestCrashBetweenArmAndMigrate(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	require.NoError(t, s.Init())

	require.NoError(t, s.Write(1, 0x1111))
	require.NoError(t, s.Write(2, 0x2222))

	// Drive Phase 1 by hand and stop - the crash point.
	_, _, err := s.beginPack()
	require.NoError(t, err)

	counts, err := countStatuses(s.dev, s.layout)
	require.NoError(t, err)
	require.Equal(t, 1, counts.active)
	require.Equal(t, 1, counts.copy)

	reopened := reopen(t, s.dev, 16)

	assertSinglePage(t, reopened)

	v1, err := reopened.Read(1)
	require.NoError(t, err)
	require.Equal(t, uint16(0x1111), v1)

	v2, err := reopened.Read(2)
	require.NoError(t, err)
	require.Equal(t, uint16(0x2222), v2)
}

// TestCrashBetweenMigrateAndCommit is scenario S6: power loss immediately
// after Phase 2 completes but before the source erase.
func TestCrashBetweenMigrateAndCommit(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	require.NoError(t, s.Init())

	require.NoError(t, s.Write(1, 0x1111))
	require.NoError(t, s.Write(2, 0x2222))

	src, dst, err := s.beginPack()
	require.NoError(t, err)
	require.NoError(t, s.migrate(src, dst))

	counts, err := countStatuses(s.dev, s.layout)
	require.NoError(t, err)
	require.Equal(t, 1, counts.active)
	require.Equal(t, 1, counts.copy)

	reopened := reopen(t, s.dev, 16)

	assertSinglePage(t, reopened)

	v1, err := reopened.Read(1)
	require.NoError(t, err)
	require.Equal(t, uint16(0x1111), v1)

	v2, err := reopened.Read(2)
	require.NoError(t, err)
	require.Equal(t, uint16(0x2222), v2)
}

// TestCrashBetweenEraseAndPromote is scenario S7: power loss after erasing
// the old source but before setting COPY -> ACTIVE.
func TestCrashBetweenEraseAndPromote(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	require.NoError(t, s.Init())

	require.NoError(t, s.Write(1, 0x1111))
	require.NoError(t, s.Write(2, 0x2222))

	src, dst, err := s.beginPack()
	require.NoError(t, err)
	require.NoError(t, s.migrate(src, dst))
	require.NoError(t, s.dev.EraseSector(src)) // first half of commit only

	counts, err := countStatuses(s.dev, s.layout)
	require.NoError(t, err)
	require.Equal(t, 0, counts.active)
	require.Equal(t, 1, counts.copy)

	reopened := reopen(t, s.dev, 16)

	assertSinglePage(t, reopened)

	v1, err := reopened.Read(1)
	require.NoError(t, err)
	require.Equal(t, uint16(0x1111), v1)

	v2, err := reopened.Read(2)
	require.NoError(t, err)
	require.Equal(t, uint16(0x2222), v2)
}

// TestIdempotentInit is law L5.
func TestIdempotentInit(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	require.NoError(t, s.Init())
	require.NoError(t, s.Write(5, 0xCAFE))

	firstActive := s.active

	require.NoError(t, s.Init())
	require.Equal(t, firstActive, s.active)

	v, err := s.Read(5)
	require.NoError(t, err)
	require.Equal(t, uint16(0xCAFE), v)
}

// TestPackPreservesMap is law L6.
func TestPackPreservesMap(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	require.NoError(t, s.Init())

	want := map[uint16]uint16{1: 10, 2: 20, 3: 30, 15: 150}
	for k, v := range want {
		require.NoError(t, s.Write(k, v))
	}

	require.NoError(t, s.pack())

	for k, v := range want {
		got, err := s.Read(k)
		require.NoError(t, err)
		require.Equal(t, v, got)
	}
}

// TestCrashSafetyUnderChaos is law L4, driven through flash.Chaos: a
// randomized sequence of writes, each of which may lose power right after
// it applies (leaving it out of the durable image), followed by
// Crash()+Init(). After recovery, every key must read back as its last
// durably-confirmed value (see confirmed below), or be absent if it never
// had one, and P1-P3 must hold.
func TestCrashSafetyUnderChaos(t *testing.T) {
	t.Parallel()

	geom := flash.Geometry{PageBytes: 4096, NumPages: 2}
	dev, err := flash.NewSim(geom)
	require.NoError(t, err)

	chaos, err := flash.NewChaos(dev, 42, flash.ChaosConfig{PowerLossAfterWriteRate: 0.1})
	require.NoError(t, err)

	s, err := New(chaos, 16)
	require.NoError(t, err)
	require.NoError(t, s.Init())

	// live tracks every successfully issued write, regardless of whether it
	// becomes durable. confirmed is a full snapshot taken each time a write
	// completes with no power loss anywhere in its underlying device ops -
	// at that instant Chaos resyncs its entire durable image to match live
	// (see maybeLosePower), which durably confirms every write since the
	// last such snapshot, not just the current key. Only confirmed entries
	// are guaranteed to survive Crash(); a write whose own op (or a pack
	// triggered by it) hit PowerLossAfterWriteRate, with no later
	// non-hit op before the crash, may still be rolled back even though
	// Write itself returned nil (spec.md §5: power loss is asynchronous to
	// the caller).
	live := map[uint16]uint16{}
	confirmed := map[uint16]uint16{}

	for i := 0; i < 500; i++ {
		key := uint16(i % 16)
		value := uint16(i)

		before := chaos.Stats().PowerLosses

		if err := s.Write(key, value); err == nil {
			live[key] = value

			if chaos.Stats().PowerLosses == before {
				for k, v := range live {
					confirmed[k] = v
				}
			}
		}
	}

	chaos.Crash()

	reopened, err := New(chaos, 16)
	require.NoError(t, err)
	require.NoError(t, reopened.Init())

	counts, err := countStatuses(chaos, reopened.layout)
	require.NoError(t, err)
	require.Equal(t, 1, counts.active, "P1: exactly one ACTIVE page")
	require.Equal(t, 0, counts.copy, "P2: no COPY page")

	last, err := page.ReadEntry(chaos, reopened.layout, reopened.active, reopened.layout.SlotCount())
	require.NoError(t, err)
	require.True(t, last.IsEmpty(), "P3: last slot of ACTIVE page is empty")

	for key := uint16(0); key < 16; key++ {
		v, err := reopened.Read(key)

		want, wasWritten := confirmed[key]
		if !wasWritten {
			require.ErrorIs(t, err, ErrNotFound)

			continue
		}

		// Only the last durably-confirmed value per key is guaranteed to
		// survive the crash (see the confirmed snapshot above); live's
		// most recent write to this key may have been rolled back if
		// nothing after it resynced the durable image.
		require.NoError(t, err)
		require.Equal(t, want, v)
	}
}

type statusCounts struct {
	active int
	copy   int
}

func countStatuses(dev flash.Device, l page.Layout) (statusCounts, error) {
	var c statusCounts

	for pg := uint32(0); pg < l.Geom.NumPages; pg++ {
		status, err := page.ReadHeader(dev, l, pg)
		if err != nil {
			return statusCounts{}, err
		}

		switch status {
		case page.Active:
			c.active++
		case page.Copy:
			c.copy++
		}
	}

	return c, nil
}

func assertSinglePage(t *testing.T, s *Store) {
	t.Helper()

	counts, err := countStatuses(s.dev, s.layout)
	require.NoError(t, err)
	require.Equal(t, 1, counts.active)
	require.Equal(t, 0, counts.copy)
}
