package flash

import (
	"fmt"
	"os"
	"syscall"
)

// FileDevice is a [Device] backed by a flat image file on disk, mmap'd
// read-write the same way the teacher's binary cache maps its index file
// (cache_binary.go's LoadBinaryCache), rather than going through a
// read/write/pwrite syscall per access.
type FileDevice struct {
	geom Geometry
	file *os.File
	data []byte
}

// OpenFileDevice mmaps path as a flash image of the given geometry. If path
// does not exist, it is created and initialized to the erased state
// (all 0xFF); otherwise it must already be exactly geom.PageBytes*NumPages
// bytes long.
func OpenFileDevice(path string, geom Geometry) (*FileDevice, error) {
	if err := geom.Validate(); err != nil {
		return nil, err
	}

	size := int64(geom.PageBytes) * int64(geom.NumPages)

	file, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("flash: opening image %s: %w", path, err)
	}

	info, err := file.Stat()
	if err != nil {
		_ = file.Close()
		return nil, fmt.Errorf("flash: stat image %s: %w", path, err)
	}

	if info.Size() == 0 {
		blank := make([]byte, size)
		for i := range blank {
			blank[i] = 0xFF
		}

		if _, err := file.WriteAt(blank, 0); err != nil {
			_ = file.Close()
			return nil, fmt.Errorf("flash: initializing image %s: %w", path, err)
		}
	} else if info.Size() != size {
		_ = file.Close()
		return nil, fmt.Errorf("flash: image %s is %d bytes, want %d for this geometry", path, info.Size(), size)
	}

	data, err := syscall.Mmap(int(file.Fd()), 0, int(size), syscall.PROT_READ|syscall.PROT_WRITE, syscall.MAP_SHARED)
	if err != nil {
		_ = file.Close()
		return nil, fmt.Errorf("flash: mmap image %s: %w", path, err)
	}

	return &FileDevice{geom: geom, file: file, data: data}, nil
}

// Close unmaps and closes the backing image file.
func (d *FileDevice) Close() error {
	var errs []error

	if d.data != nil {
		if err := syscall.Munmap(d.data); err != nil {
			errs = append(errs, err)
		}

		d.data = nil
	}

	if err := d.file.Close(); err != nil {
		errs = append(errs, err)
	}

	if len(errs) > 0 {
		return fmt.Errorf("flash: closing image: %w", errs[0])
	}

	return nil
}

// Sync flushes the mmap'd image to the backing file. Not required for
// correctness within a process (the mapping is MAP_SHARED and visible to
// ReadAt immediately) but exposed so callers modeling a clean shutdown can
// make durability explicit.
func (d *FileDevice) Sync() error {
	return d.file.Sync()
}

func (d *FileDevice) Geometry() Geometry { return d.geom }

func (d *FileDevice) offset(addr uint32) (int, error) {
	if addr < d.geom.BaseAddr {
		return 0, ErrOutOfRange
	}

	off := addr - d.geom.BaseAddr
	if off >= uint32(len(d.data)) {
		return 0, ErrOutOfRange
	}

	return int(off), nil
}

func (d *FileDevice) EraseSector(sector uint32) error {
	if sector >= d.geom.NumPages {
		return fmt.Errorf("%w: sector %d", ErrOutOfRange, sector)
	}

	start := sector * d.geom.PageBytes
	for i := start; i < start+d.geom.PageBytes; i++ {
		d.data[i] = 0xFF
	}

	return nil
}

func (d *FileDevice) ReadAt(addr uint32, dst []byte) error {
	if err := checkAlignment(addr, len(dst)); err != nil {
		return err
	}

	off, err := d.offset(addr)
	if err != nil {
		return err
	}

	if off+len(dst) > len(d.data) {
		return ErrOutOfRange
	}

	copy(dst, d.data[off:off+len(dst)])

	return nil
}

func (d *FileDevice) WriteAt(addr uint32, src []byte) error {
	if err := checkAlignment(addr, len(src)); err != nil {
		return err
	}

	off, err := d.offset(addr)
	if err != nil {
		return err
	}

	if off+len(src) > len(d.data) {
		return ErrOutOfRange
	}

	for i, b := range src {
		cur := d.data[off+i]
		if cur|b != cur {
			return fmt.Errorf("%w: at byte offset %d (have %#02x, want %#02x)", ErrNotErased, off+i, cur, b)
		}
	}

	copy(d.data[off:off+len(src)], src)

	return nil
}
