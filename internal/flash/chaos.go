package flash

import (
	"fmt"
	"math/rand"
	"sync"
	"sync/atomic"
)

// ChaosConfig controls fault injection probabilities for [Chaos]. Each rate
// is a float64 from 0.0 (never) to 1.0 (always); the zero value disables
// all injection. Modeled on internal/fs's ChaosConfig, narrowed to the
// three flash primitives instead of a whole filesystem surface.
type ChaosConfig struct {
	// EraseFailRate controls how often EraseSector fails entirely, leaving
	// the sector's prior contents untouched.
	EraseFailRate float64

	// ReadFailRate controls how often ReadAt fails entirely.
	ReadFailRate float64

	// WriteFailRate controls how often WriteAt fails entirely, as if the
	// bytes were never applied.
	WriteFailRate float64

	// PowerLossAfterWriteRate controls how often, on a successful
	// EraseSector/WriteAt, a simulated power loss hits immediately after the
	// operation. The op takes effect on the live image and the caller sees no
	// error, but the durable snapshot is not advanced, so a later
	// [Chaos.Crash] rolls the op back unless a subsequent op without a power
	// loss has resynced the durable snapshot first.
	PowerLossAfterWriteRate float64
}

// ChaosMode controls how [Chaos] behaves.
type ChaosMode uint8

const (
	// ChaosModeActive enables fault-rate injection. Default for a new Chaos.
	ChaosModeActive ChaosMode = iota

	// ChaosModeNoOp passes every operation through to the underlying Device.
	ChaosModeNoOp
)

// ChaosStats counts injected faults, for test assertions.
type ChaosStats struct {
	EraseFails  int64
	ReadFails   int64
	WriteFails  int64
	PowerLosses int64
}

// ChaosError marks an error as intentionally injected by [Chaos]. Wraps the
// underlying sentinel so errors.Is keeps working.
type ChaosError struct {
	Err error
}

func (e *ChaosError) Error() string { return "chaos: " + e.Err.Error() }
func (e *ChaosError) Unwrap() error { return e.Err }

// IsChaosErr reports whether err was injected by a [Chaos] wrapper.
func IsChaosErr(err error) bool {
	ce, ok := err.(*ChaosError)
	return ok && ce != nil
}

// Chaos wraps a [Device] and injects errno-style failures and simulated
// power-loss events, the one concurrency hazard spec.md models (§5, §8).
//
// Power loss is modeled by keeping a durable snapshot of the image alongside
// the live one: every successful EraseSector/WriteAt applies to both, except
// that when PowerLossAfterWriteRate fires, the op applies only to the live
// image and [Chaos.Crash] discards the live image and resumes from the
// snapshot - simulating a reset that loses only in-flight writes.
type Chaos struct {
	dev    Device
	rng    *rand.Rand
	config ChaosConfig
	mode   atomic.Uint32
	rngMu  sync.Mutex

	eraseFails  atomic.Int64
	readFails   atomic.Int64
	writeFails  atomic.Int64
	powerLosses atomic.Int64

	mu       sync.Mutex
	durable  []byte // last state a Crash() would restore to
	live     []byte // state visible to ReadAt right now
	geom     Geometry
}

// NewChaos wraps dev, whose current contents become the initial durable and
// live snapshot. seed controls fault-injection reproducibility.
func NewChaos(dev Device, seed int64, config ChaosConfig) (*Chaos, error) {
	if dev == nil {
		panic("flash: NewChaos: dev is nil")
	}

	geom := dev.Geometry()
	size := int(geom.PageBytes) * int(geom.NumPages)

	live := make([]byte, size)
	if err := dev.ReadAt(geom.BaseAddr, live); err != nil {
		return nil, fmt.Errorf("flash: snapshotting wrapped device: %w", err)
	}

	durable := make([]byte, size)
	copy(durable, live)

	return &Chaos{
		dev:     dev,
		rng:     rand.New(rand.NewSource(seed)),
		config:  config,
		geom:    geom,
		durable: durable,
		live:    live,
	}, nil
}

// SetMode switches between fault injection and pass-through.
func (c *Chaos) SetMode(m ChaosMode) { c.mode.Store(uint32(m)) }

// Stats returns a snapshot of injected-fault counters.
func (c *Chaos) Stats() ChaosStats {
	return ChaosStats{
		EraseFails:  c.eraseFails.Load(),
		ReadFails:   c.readFails.Load(),
		WriteFails:  c.writeFails.Load(),
		PowerLosses: c.powerLosses.Load(),
	}
}

// Crash discards the live image and resumes from the last durable snapshot,
// simulating the effect of an asynchronous reset: any write whose
// PowerLossAfterWriteRate fired, or whose effects were never flushed, is
// rolled back, while everything durable survives. Callers must re-run
// Init() on the engine afterward, as spec.md §5/§8 requires.
func (c *Chaos) Crash() {
	c.mu.Lock()
	defer c.mu.Unlock()

	copy(c.live, c.durable)
}

func (c *Chaos) roll() float64 {
	c.rngMu.Lock()
	defer c.rngMu.Unlock()

	return c.rng.Float64()
}

func (c *Chaos) active() bool {
	return ChaosMode(c.mode.Load()) == ChaosModeActive
}

func (c *Chaos) Geometry() Geometry { return c.geom }

func (c *Chaos) EraseSector(sector uint32) error {
	if c.active() && c.roll() < c.config.EraseFailRate {
		c.eraseFails.Add(1)
		return &ChaosError{Err: fmt.Errorf("%w: injected erase failure on sector %d", ErrIO, sector)}
	}

	if err := c.dev.EraseSector(sector); err != nil {
		return err
	}

	c.mu.Lock()
	start := int(sector) * int(c.geom.PageBytes)
	for i := start; i < start+int(c.geom.PageBytes); i++ {
		c.live[i] = 0xFF
	}
	c.mu.Unlock()

	return c.maybeLosePower(sector)
}

func (c *Chaos) ReadAt(addr uint32, dst []byte) error {
	if c.active() && c.roll() < c.config.ReadFailRate {
		c.readFails.Add(1)
		return &ChaosError{Err: fmt.Errorf("%w: injected read failure at %#x", ErrIO, addr)}
	}

	if err := checkAlignment(addr, len(dst)); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	off := int(addr - c.geom.BaseAddr)
	if off < 0 || off+len(dst) > len(c.live) {
		return ErrOutOfRange
	}

	copy(dst, c.live[off:off+len(dst)])

	return nil
}

func (c *Chaos) WriteAt(addr uint32, src []byte) error {
	if c.active() && c.roll() < c.config.WriteFailRate {
		c.writeFails.Add(1)
		return &ChaosError{Err: fmt.Errorf("%w: injected write failure at %#x", ErrIO, addr)}
	}

	if err := c.dev.WriteAt(addr, src); err != nil {
		return err
	}

	c.mu.Lock()
	off := int(addr - c.geom.BaseAddr)
	copy(c.live[off:off+len(src)], src)
	c.mu.Unlock()

	return c.maybeLosePower(addr)
}

// maybeLosePower rolls PowerLossAfterWriteRate after an EraseSector/WriteAt
// that already durably applied to c.dev and c.live. On a hit, the durable
// snapshot is NOT advanced to match, so a later Crash() rolls the live image
// back to the last point that WAS synced - the caller still observes the
// completed op's error-free return, matching spec.md's "power loss is
// asynchronous" model (§5): the call itself does not fail, but its effects
// may not survive a crash.
func (c *Chaos) maybeLosePower(seed uint32) error {
	if c.active() && c.roll() < c.config.PowerLossAfterWriteRate {
		c.powerLosses.Add(1)
		return nil
	}

	c.mu.Lock()
	copy(c.durable, c.live)
	c.mu.Unlock()

	return nil
}
