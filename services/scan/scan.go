// Package scan walks a tree of I2C switches and reports which addresses
// answer behind each channel, i2cdetect style.
package scan

import (
	"context"
	"log/slog"

	"i2cmux-go/drivers/pca9548a"
)

// Probe range: 0x00-0x07 and 0x78-0x7F are reserved.
const (
	FirstAddr = 0x08
	LastAddr  = 0x77
)

// Result lists the addresses found behind one channel that are not visible
// with the switch's channels all off.
type Result struct {
	Mux     string
	Addr    uint16
	Channel int
	Found   []uint16
}

// Scanner probes nodes one channel at a time.
type Scanner struct {
	log *slog.Logger
}

func New(log *slog.Logger) *Scanner {
	if log == nil {
		log = slog.Default()
	}
	return &Scanner{log: log}
}

// Scan probes every channel of every node. A probe is a zero-length write;
// any error counts as absent. Selection errors abort the scan.
func (s *Scanner) Scan(ctx context.Context, nodes []Node) ([]Result, error) {
	var out []Result
	for _, n := range nodes {
		base, err := s.probeMask(ctx, n.Device, 0)
		if err != nil {
			return out, err
		}
		for ch := 0; ch < pca9548a.NumChannels; ch++ {
			found, err := s.probeMask(ctx, n.Device, 1<<uint(ch))
			if err != nil {
				return out, err
			}
			r := Result{Mux: n.Path, Addr: n.Device.Address(), Channel: ch}
			for _, a := range found {
				if !contains(base, a) {
					r.Found = append(r.Found, a)
				}
			}
			if len(r.Found) > 0 {
				s.log.Info("found", "mux", n.Path, "channel", ch, "count", len(r.Found))
			}
			out = append(out, r)
		}
	}
	return out, nil
}

func (s *Scanner) probeMask(ctx context.Context, dev *pca9548a.Device, mask uint8) ([]uint16, error) {
	var found []uint16
	err := dev.Do(ctx, mask, func(h *pca9548a.Handle) error {
		for a := uint16(FirstAddr); a <= LastAddr; a++ {
			if err := ctx.Err(); err != nil {
				return err
			}
			if h.Write(a, nil) == nil {
				found = append(found, a)
			}
		}
		return nil
	})
	if err != nil {
		s.log.Warn("probe failed", "mux", dev.Address(), "mask", mask, "err", err)
		return nil, err
	}
	return found, nil
}

func contains(s []uint16, v uint16) bool {
	for _, x := range s {
		if x == v {
			return true
		}
	}
	return false
}
