// Package pca9548a provides a driver for the PCA9548A/TCA9548A 8-channel I2C
// switch. Selecting channels locks the upstream bus and returns a Handle that
// forwards transactions while that selection is guaranteed active:
//
//	h, err := mux.SelectSingle(ctx, 3) // lock + write 1<<3 to the mux
//	if err != nil { ... }
//	defer h.Close()                    // releases the lock
//	err = h.WriteRead(0x38, w, r)      // device behind channel 3
//
// Muxes cascade: a Device built over another Device's Channel re-selects the
// upstream channel before its own selection, and its Handle holds every lock
// on the path until Close.
//
// NOTE: the guarantee only holds if every user of the physical bus goes
// through the same Device. A bus shared behind the Device's back can change
// the selection at any time.
//
// The device state after a failed selection write is chip-dependent (the byte
// may or may not have latched). Callers must re-select before trusting the bus.
package pca9548a

import (
	"context"
	"log/slog"
	"strconv"

	"i2cmux-go/errcode"
)

// BaseAddress is the address with A2..A0 tied low.
const BaseAddress = 0x70

// NumChannels is the number of downstream buses.
const NumChannels = 8

// Address returns the effective address for the A2..A0 pin strapping
// (A2<<2 | A1<<1 | A0).
func Address(offset uint8) uint16 {
	return BaseAddress + uint16(offset&0x07)
}

// Config controls non-hardware behaviour. All fields are optional.
type Config struct {
	// Address defaults to BaseAddress if zero.
	Address uint16
	// Mutex defaults to a BlockingMutex.
	Mutex Mutex
	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// Device is one multiplexer on a bus. It owns the bus exclusively.
type Device struct {
	bus  Bus
	mu   Mutex
	addr uint16
	log  *slog.Logger
}

// New creates a Device over bus. It does not touch the hardware.
func New(bus Bus, cfgs ...Config) *Device {
	var c Config
	if len(cfgs) > 0 {
		c = cfgs[0]
	}
	if c.Address == 0 {
		c.Address = BaseAddress
	}
	if c.Mutex == nil {
		c.Mutex = &BlockingMutex{}
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return &Device{
		bus:  bus,
		mu:   c.Mutex,
		addr: c.Address,
		log:  c.Logger.With("mux", c.Address),
	}
}

// Address returns the device's I2C address.
func (d *Device) Address() uint16 { return d.addr }

// SelectSingle enables only channel and returns the locked Handle.
func (d *Device) SelectSingle(ctx context.Context, channel int) (*Handle, error) {
	mask, err := channelMask(channel)
	if err != nil {
		return nil, err
	}
	return d.SelectMask(ctx, mask)
}

// SelectNone disconnects every downstream bus.
func (d *Device) SelectNone(ctx context.Context) (*Handle, error) {
	return d.SelectMask(ctx, 0)
}

// SelectMask locks the bus, writes mask to the control register and returns
// a Handle that keeps the lock until closed. On failure nothing stays locked.
func (d *Device) SelectMask(ctx context.Context, mask uint8) (*Handle, error) {
	if err := d.mu.Lock(ctx); err != nil {
		return nil, d.lockErr(err)
	}
	bus, parent, err := d.upstream(ctx)
	if err != nil {
		d.mu.Unlock()
		return nil, err
	}
	if err := bus.Tx(d.addr, []byte{mask}, nil); err != nil {
		d.release(parent)
		d.log.Debug("select failed", "mask", mask, "err", err)
		return nil, transportErr("select", d.addr, err)
	}
	d.log.Debug("selected", "mask", mask)
	return &Handle{dev: d, bus: bus, parent: parent, mask: mask}, nil
}

// ReadMask returns the mask currently latched in the control register.
func (d *Device) ReadMask(ctx context.Context) (uint8, error) {
	if err := d.mu.Lock(ctx); err != nil {
		return 0, d.lockErr(err)
	}
	bus, parent, err := d.upstream(ctx)
	if err != nil {
		d.mu.Unlock()
		return 0, err
	}
	defer d.release(parent)

	var r [1]byte
	if err := bus.Tx(d.addr, nil, r[:]); err != nil {
		return 0, transportErr("read_mask", d.addr, err)
	}
	return r[0], nil
}

// Do selects mask, runs fn with the Handle and always releases it. If fn
// panics, a Poisoner mutex is poisoned before the panic continues.
func (d *Device) Do(ctx context.Context, mask uint8, fn func(h *Handle) error) error {
	h, err := d.SelectMask(ctx, mask)
	if err != nil {
		return err
	}
	done := false
	defer func() {
		if !done {
			if p, ok := d.mu.(Poisoner); ok {
				p.Poison()
			}
		}
		_ = h.Close()
	}()
	err = fn(h)
	done = true
	return err
}

// Single returns a sub-bus bound to one channel. It takes no lock; each
// transaction through it selects the channel for its own duration.
func (d *Device) Single(channel int) (*Channel, error) {
	mask, err := channelMask(channel)
	if err != nil {
		return nil, err
	}
	return d.Subbus(mask), nil
}

// Subbus returns a sub-bus bound to mask.
func (d *Device) Subbus(mask uint8) *Channel {
	return &Channel{dev: d, mask: mask}
}

// upstream resolves the transport for a selection write. When the bus is
// itself behind a mux, the upstream path is selected and its Handle is
// returned; the caller owns it.
func (d *Device) upstream(ctx context.Context) (Bus, *Handle, error) {
	s, ok := d.bus.(Selector)
	if !ok {
		return d.bus, nil, nil
	}
	p, err := s.Select(ctx)
	if err != nil {
		return nil, nil, err
	}
	return p, p, nil
}

// release drops this device's lock, then the upstream one.
func (d *Device) release(parent *Handle) {
	d.mu.Unlock()
	if parent != nil {
		_ = parent.Close()
	}
}

func (d *Device) lockErr(err error) error {
	return &errcode.E{C: errcode.Of(err), Op: "lock", Addr: d.addr, Err: err}
}

func channelMask(channel int) (uint8, error) {
	if channel < 0 || channel >= NumChannels {
		return 0, &errcode.E{C: errcode.InvalidChannel, Op: "select", Msg: "channel " + strconv.Itoa(channel)}
	}
	return 1 << uint(channel), nil
}

// transportErr tags a bus failure with the address it hit. Errors already
// tagged further down a cascade pass through unchanged.
func transportErr(op string, addr uint16, err error) error {
	if _, ok := err.(*errcode.E); ok {
		return err
	}
	return &errcode.E{C: errcode.Transport, Op: op, Addr: addr, Err: err}
}
