// Package i2csim simulates an I2C bus on the host: targets attached by
// address, PCA9548A-style switches that route to downstream segments, a
// transaction log and fault injection. It implements drivers.I2C so drivers
// can be exercised without hardware.
package i2csim

import (
	"errors"
	"sync"

	"i2cmux-go/drivers/pca9548a"
)

var (
	ErrNack      = errors.New("i2csim: nack")
	ErrCollision = errors.New("i2csim: address collision")
)

// Target is a device on a simulated segment. Handle receives one addressed
// transfer: w is what the controller wrote, r must be filled with the reply.
type Target interface {
	Handle(w, r []byte) error
}

// Record is one transfer seen on the bus.
type Record struct {
	Addr  uint16
	W     []byte
	Rn    int
	Batch bool // part of a Transaction
	Err   error
}

// Segment is one stretch of wire: the root bus or a switch channel.
type Segment struct {
	targets map[uint16]Target
	muxes   []*Mux
}

func newSegment() *Segment { return &Segment{targets: map[uint16]Target{}} }

// Attach places t at addr on the segment, replacing any previous target.
func (s *Segment) Attach(addr uint16, t Target) {
	if m, ok := t.(*Mux); ok {
		s.muxes = append(s.muxes, m)
	}
	s.targets[addr] = t
}

// Bus is a simulated physical bus.
type Bus struct {
	mu     sync.Mutex
	root   *Segment
	log    []Record
	faults map[uint16][]error
}

// New returns an empty bus.
func New() *Bus {
	return &Bus{root: newSegment(), faults: map[uint16][]error{}}
}

// Root returns the segment wired directly to the controller.
func (b *Bus) Root() *Segment { return b.root }

// Attach places t at addr on the root segment.
func (b *Bus) Attach(addr uint16, t Target) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.root.Attach(addr, t)
}

// AttachTo places t at addr on seg. Use it for segments behind a Mux.
func (b *Bus) AttachTo(seg *Segment, addr uint16, t Target) {
	b.mu.Lock()
	defer b.mu.Unlock()
	seg.Attach(addr, t)
}

// FailNext makes the next transfer to addr fail with err. Calls queue.
func (b *Bus) FailNext(addr uint16, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.faults[addr] = append(b.faults[addr], err)
}

// Tx implements drivers.I2C.
func (b *Bus) Tx(addr uint16, w, r []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.transfer(addr, w, r, false)
}

// Transaction runs ops back to back without another controller getting in.
func (b *Bus) Transaction(addr uint16, ops []pca9548a.Operation) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, op := range ops {
		var err error
		if op.Write != nil {
			err = b.transfer(addr, op.Write, nil, true)
		} else {
			err = b.transfer(addr, nil, op.Read, true)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func (b *Bus) transfer(addr uint16, w, r []byte, batch bool) error {
	rec := Record{Addr: addr, W: append([]byte(nil), w...), Rn: len(r), Batch: batch}
	defer func() { b.log = append(b.log, rec) }()

	if q := b.faults[addr]; len(q) > 0 {
		rec.Err = q[0]
		if len(q) == 1 {
			delete(b.faults, addr)
		} else {
			b.faults[addr] = q[1:]
		}
		return rec.Err
	}

	found := resolve(b.root, addr, nil)
	switch len(found) {
	case 0:
		rec.Err = ErrNack
	case 1:
		rec.Err = found[0].Handle(w, r)
	default:
		rec.Err = ErrCollision
	}
	return rec.Err
}

// resolve collects every target answering addr from seg, following enabled
// switch channels.
func resolve(seg *Segment, addr uint16, out []Target) []Target {
	if t, ok := seg.targets[addr]; ok {
		out = append(out, t)
	}
	for _, m := range seg.muxes {
		for ch := 0; ch < pca9548a.NumChannels; ch++ {
			if m.mask&(1<<uint(ch)) != 0 {
				out = resolve(m.segs[ch], addr, out)
			}
		}
	}
	return out
}

// Log returns a copy of every transfer so far.
func (b *Bus) Log() []Record {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]Record(nil), b.log...)
}

// Writes returns the payloads of successful write-only transfers to addr.
func (b *Bus) Writes(addr uint16) [][]byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out [][]byte
	for _, rec := range b.log {
		if rec.Addr == addr && rec.Rn == 0 && rec.Err == nil {
			out = append(out, rec.W)
		}
	}
	return out
}

// Reset clears the log and any pending faults.
func (b *Bus) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.log = nil
	b.faults = map[uint16][]error{}
}

// Probe reports whether any target acknowledges addr with the current switch
// settings. It is not logged.
func (b *Bus) Probe(addr uint16) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(resolve(b.root, addr, nil)) == 1
}
