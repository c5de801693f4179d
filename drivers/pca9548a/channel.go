package pca9548a

import "context"

// Channel is a reusable sub-bus bound to a fixed mask of one Device. It holds
// no lock between calls: every Tx or Transaction selects the mask, forwards
// and releases.
//
// Passing a Channel to New builds a cascaded Device; the nested Device selects
// through Channel.Select and keeps the upstream lock for as long as its own
// Handle lives.
type Channel struct {
	dev  *Device
	mask uint8
}

// Mask returns the mask this Channel selects.
func (c *Channel) Mask() uint8 { return c.mask }

// Device returns the mux the Channel belongs to.
func (c *Channel) Device() *Device { return c.dev }

// Select locks the owning Device with this Channel's mask.
func (c *Channel) Select(ctx context.Context) (*Handle, error) {
	return c.dev.SelectMask(ctx, c.mask)
}

// Tx implements drivers.I2C. It blocks until the mux is free.
func (c *Channel) Tx(addr uint16, w, r []byte) error {
	h, err := c.Select(context.Background())
	if err != nil {
		return err
	}
	defer h.Close()
	return h.Tx(addr, w, r)
}

// Transaction implements Transactor.
func (c *Channel) Transaction(addr uint16, ops []Operation) error {
	h, err := c.Select(context.Background())
	if err != nil {
		return err
	}
	defer h.Close()
	return h.Transaction(addr, ops)
}
