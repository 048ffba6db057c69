package page

import (
	"testing"

	"github.com/azim0ff/nvkv/internal/flash"
)

// FuzzDecodeStatus checks that DecodeStatus accepts exactly the three
// recognized raw values and never panics on arbitrary input, matching
// spec.md §4.B's "unknown header raw value is treated as corrupted" rule.
func FuzzDecodeStatus(f *testing.F) {
	f.Add(uint32(0xFFFFFFFF))
	f.Add(uint32(0x00000000))
	f.Add(uint32(0xAAAAAAAA))
	f.Add(uint32(0x00000001))
	f.Add(uint32(0xFFFFFFFE))

	f.Fuzz(func(t *testing.T, raw uint32) {
		status, err := DecodeStatus(raw)

		switch raw {
		case 0xFFFFFFFF, 0x00000000, 0xAAAAAAAA:
			if err != nil {
				t.Fatalf("DecodeStatus(%#08x): unexpected error: %v", raw, err)
			}

			if uint32(status) != raw {
				t.Fatalf("DecodeStatus(%#08x) = %#08x, want unchanged", raw, uint32(status))
			}
		default:
			if err == nil {
				t.Fatalf("DecodeStatus(%#08x): expected ErrUnknownStatus, got nil", raw)
			}
		}
	})
}

// FuzzEntryRoundTrip checks that any (key, value) pair encodes and decodes
// through a real flash.Sim without alteration.
func FuzzEntryRoundTrip(f *testing.F) {
	f.Add(uint16(0), uint16(0))
	f.Add(uint16(0xFFFF), uint16(0xFFFF))
	f.Add(uint16(3), uint16(0xBEEF))

	f.Fuzz(func(t *testing.T, key uint16, value uint16) {
		geom := flash.Geometry{PageBytes: 4096, NumPages: 2}

		dev, err := flash.NewSim(geom)
		if err != nil {
			t.Fatalf("NewSim: %v", err)
		}

		l := Layout{Geom: geom}

		e := Entry{Key: key, Value: value}
		if err := WriteEntry(dev, l, 0, 1, e); err != nil {
			t.Fatalf("WriteEntry: %v", err)
		}

		got, err := ReadEntry(dev, l, 0, 1)
		if err != nil {
			t.Fatalf("ReadEntry: %v", err)
		}

		if got != e {
			t.Fatalf("round trip mismatch: wrote %+v, got %+v", e, got)
		}
	})
}
