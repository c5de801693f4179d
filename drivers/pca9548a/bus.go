package pca9548a

import (
	"context"

	"tinygo.org/x/drivers"
)

// Bus is the transport a Device drives: a physical I2C bus, or a Channel of
// another Device when cascading.
//
// Tx MUST perform a write followed by a repeated-start read when both w and r
// are provided, without releasing the bus. An empty w with a nil r is a
// zero-length write (address probe).
type Bus = drivers.I2C

// Operation is one segment of a batched transaction: a write when Write is
// set, otherwise a read into Read.
type Operation struct {
	Write []byte
	Read  []byte
}

// Transactor is implemented by buses that can issue several operations to one
// address as a single transaction.
type Transactor interface {
	Transaction(addr uint16, ops []Operation) error
}

// Selector is implemented by buses that are themselves reached through a
// multiplexer. Select locks the upstream path, asserts it and returns the
// handle holding that lock.
type Selector interface {
	Select(ctx context.Context) (*Handle, error)
}

// Write sends w to addr.
func Write(bus Bus, addr uint16, w []byte) error { return bus.Tx(addr, w, nil) }

// Read fills r from addr.
func Read(bus Bus, addr uint16, r []byte) error { return bus.Tx(addr, nil, r) }

// WriteRead writes w then reads r with a repeated start.
func WriteRead(bus Bus, addr uint16, w, r []byte) error { return bus.Tx(addr, w, r) }

// Transaction issues ops to addr. Buses without native batching get one Tx
// per operation, with a trailing read merged into the preceding write.
func Transaction(bus Bus, addr uint16, ops []Operation) error {
	if t, ok := bus.(Transactor); ok {
		return t.Transaction(addr, ops)
	}
	for i := 0; i < len(ops); i++ {
		op := ops[i]
		if op.Write != nil && i+1 < len(ops) && ops[i+1].Write == nil {
			if err := bus.Tx(addr, op.Write, ops[i+1].Read); err != nil {
				return err
			}
			i++
			continue
		}
		var err error
		if op.Write != nil {
			err = bus.Tx(addr, op.Write, nil)
		} else {
			err = bus.Tx(addr, nil, op.Read)
		}
		if err != nil {
			return err
		}
	}
	return nil
}
