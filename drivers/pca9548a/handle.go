package pca9548a

import (
	"sync"

	"i2cmux-go/errcode"
)

// Handle is the bus as seen through a selected mux. It holds the Device's
// lock, and every upstream lock of a cascade, until Close. Operations are
// forwarded unmodified; a closed Handle fails with errcode.Closed.
//
// A Handle implements Bus and Transactor, so it can be given to any driver
// written against drivers.I2C for the duration of the selection.
type Handle struct {
	dev    *Device
	bus    Bus     // physical bus, or parent when cascaded
	parent *Handle // nil at the root of a cascade
	mask   uint8

	mu         sync.Mutex
	closed     bool
	reasserted bool
}

// Mask returns the channel mask this Handle selected.
func (h *Handle) Mask() uint8 { return h.mask }

// Tx forwards a write/read pair to addr.
func (h *Handle) Tx(addr uint16, w, r []byte) error {
	return h.forward("tx", addr, func(b Bus) error { return b.Tx(addr, w, r) })
}

func (h *Handle) Write(addr uint16, w []byte) error { return h.Tx(addr, w, nil) }

func (h *Handle) Read(addr uint16, r []byte) error { return h.Tx(addr, nil, r) }

func (h *Handle) WriteRead(addr uint16, w, r []byte) error { return h.Tx(addr, w, r) }

// Transaction forwards a batched transaction to addr.
func (h *Handle) Transaction(addr uint16, ops []Operation) error {
	return h.forward("transaction", addr, func(b Bus) error { return Transaction(b, addr, ops) })
}

// Close releases this Handle's lock and then its parent's. It is safe to call
// more than once.
func (h *Handle) Close() error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil
	}
	h.closed = true
	h.mu.Unlock()

	h.dev.release(h.parent)
	h.dev.log.Debug("released", "mask", h.mask)
	return nil
}

// forward runs fn against the underlying bus. Under a cascade, the parent's
// selection is written once more before the first forwarded operation; the
// parent lock is held throughout, so this is a reassertion, not a re-lock.
func (h *Handle) forward(op string, addr uint16, fn func(Bus) error) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return &errcode.E{C: errcode.Closed, Op: op, Addr: h.dev.addr}
	}
	if h.parent != nil && !h.reasserted {
		if err := h.parent.reassert(); err != nil {
			return err
		}
		h.reasserted = true
	}
	if err := fn(h.bus); err != nil {
		return transportErr(op, addr, err)
	}
	return nil
}

// reassert rewrites this Handle's mask without taking any lock.
func (h *Handle) reassert() error {
	if err := h.Write(h.dev.addr, []byte{h.mask}); err != nil {
		return transportErr("reselect", h.dev.addr, err)
	}
	return nil
}
