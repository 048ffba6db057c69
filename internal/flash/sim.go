package flash

import "fmt"

// Sim is an in-memory [Device] for unit tests. It enforces NOR write
// semantics in software: WriteAt rejects attempts to set a bit that is
// currently 0 in the underlying image, the same failure a real NOR part
// would silently corrupt on, so a test that only "works in RAM" gets
// caught here instead of on real hardware.
type Sim struct {
	geom Geometry
	img  []byte
}

// NewSim allocates a Sim of the given geometry, erased (all 0xFF).
func NewSim(geom Geometry) (*Sim, error) {
	if err := geom.Validate(); err != nil {
		return nil, err
	}

	img := make([]byte, geom.PageBytes*geom.NumPages)
	for i := range img {
		img[i] = 0xFF
	}

	return &Sim{geom: geom, img: img}, nil
}

func (s *Sim) Geometry() Geometry { return s.geom }

func (s *Sim) offset(addr uint32) (int, error) {
	if addr < s.geom.BaseAddr {
		return 0, ErrOutOfRange
	}

	off := addr - s.geom.BaseAddr
	if off >= uint32(len(s.img)) {
		return 0, ErrOutOfRange
	}

	return int(off), nil
}

func (s *Sim) EraseSector(sector uint32) error {
	if sector >= s.geom.NumPages {
		return fmt.Errorf("%w: sector %d", ErrOutOfRange, sector)
	}

	start := sector * s.geom.PageBytes
	for i := start; i < start+s.geom.PageBytes; i++ {
		s.img[i] = 0xFF
	}

	return nil
}

func (s *Sim) ReadAt(addr uint32, dst []byte) error {
	if err := checkAlignment(addr, len(dst)); err != nil {
		return err
	}

	off, err := s.offset(addr)
	if err != nil {
		return err
	}

	if off+len(dst) > len(s.img) {
		return ErrOutOfRange
	}

	copy(dst, s.img[off:off+len(dst)])

	return nil
}

func (s *Sim) WriteAt(addr uint32, src []byte) error {
	if err := checkAlignment(addr, len(src)); err != nil {
		return err
	}

	off, err := s.offset(addr)
	if err != nil {
		return err
	}

	if off+len(src) > len(s.img) {
		return ErrOutOfRange
	}

	for i, b := range src {
		cur := s.img[off+i]
		// NOR flash can only clear bits; rejecting "cur | b != cur" catches
		// any attempt to set a bit that isn't already set, i.e. a write the
		// device would need an erase to perform.
		if cur|b != cur {
			return fmt.Errorf("%w: at byte offset %d (have %#02x, want %#02x)", ErrNotErased, off+i, cur, b)
		}

		s.img[off+i] = b
	}

	return nil
}
