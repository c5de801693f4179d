package i2csim

import "i2cmux-go/drivers/pca9548a"

// Mux models a PCA9548A: a write latches the last byte into the control
// register, a read returns it. Each channel leads to its own Segment.
type Mux struct {
	mask uint8
	segs [pca9548a.NumChannels]*Segment
}

// NewMux returns a switch with every channel disabled.
func NewMux() *Mux {
	m := &Mux{}
	for i := range m.segs {
		m.segs[i] = newSegment()
	}
	return m
}

// Channel returns the segment behind channel ch (0..7).
func (m *Mux) Channel(ch int) *Segment { return m.segs[ch] }

// Mask returns the latched control register. Callers outside the bus should
// only read it while no transfer is in flight.
func (m *Mux) Mask() uint8 { return m.mask }

func (m *Mux) Handle(w, r []byte) error {
	if len(w) > 0 {
		m.mask = w[len(w)-1]
	}
	for i := range r {
		r[i] = m.mask
	}
	return nil
}

// Register is a 256-byte register file with an auto-incrementing pointer:
// the first written byte sets the pointer, later bytes are stored, reads
// continue from the pointer.
type Register struct {
	Regs [256]byte
	ptr  uint8
}

func (d *Register) Handle(w, r []byte) error {
	if len(w) > 0 {
		d.ptr = w[0]
		for _, b := range w[1:] {
			d.Regs[d.ptr] = b
			d.ptr++
		}
	}
	for i := range r {
		r[i] = d.Regs[d.ptr]
		d.ptr++
	}
	return nil
}
