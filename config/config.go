// Package config describes an I2C switch tree: which PCA9548A devices sit on
// which segment, and which target addresses hang off each channel. It is
// loaded from YAML and validated against the address rules of a shared bus.
package config

import (
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"i2cmux-go/drivers/pca9548a"
)

// Topology is the root of the tree; Muxes sit on the controller's segment.
type Topology struct {
	Muxes []Mux `yaml:"muxes"`
}

// Mux is one switch. Channel is the upstream channel it hangs off and must
// be unset for top-level muxes.
type Mux struct {
	Name     string           `yaml:"name"`
	Offset   uint8            `yaml:"offset"`
	Channel  *int             `yaml:"channel,omitempty"`
	Async    bool             `yaml:"async,omitempty"` // suspend waiters instead of blocking
	Devices  map[int][]uint16 `yaml:"devices,omitempty"`
	Children []Mux            `yaml:"children,omitempty"`
}

// Address returns the switch's bus address.
func (m Mux) Address() uint16 { return pca9548a.Address(m.Offset) }

// Validation errors.
var (
	ErrName      = errors.New("invalid_name")
	ErrOffset    = errors.New("invalid_offset")
	ErrChannel   = errors.New("invalid_channel")
	ErrAddress   = errors.New("invalid_address")
	ErrCollision = errors.New("address_collision")
)

// Load decodes and validates a topology. Unknown fields are rejected.
func Load(r io.Reader) (*Topology, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	var t Topology
	if err := dec.Decode(&t); err != nil {
		return nil, fmt.Errorf("config: decode: %w", err)
	}
	if err := t.Validate(); err != nil {
		return nil, err
	}
	return &t, nil
}

// Parse is Load over a string.
func Parse(s string) (*Topology, error) { return Load(strings.NewReader(s)) }

// Validate checks names, offsets, channels and that no address is reachable
// twice: a downstream segment is electrically joined to every segment above
// it while selected.
func (t *Topology) Validate() error {
	names := map[string]bool{}
	return validateSegment(t.Muxes, nil, nil, names, "bus")
}

func validateSegment(muxes []Mux, devices []uint16, above map[uint16]string, names map[string]bool, where string) error {
	seen := map[uint16]string{}
	for a, w := range above {
		seen[a] = w
	}
	claim := func(addr uint16, who string) error {
		if prev, ok := seen[addr]; ok {
			return fmt.Errorf("%w: 0x%02x used by %s and %s", ErrCollision, addr, prev, who)
		}
		seen[addr] = who
		return nil
	}

	for _, a := range devices {
		if a < 0x08 || a > 0x77 {
			return fmt.Errorf("%w: 0x%02x on %s", ErrAddress, a, where)
		}
		if err := claim(a, "device on "+where); err != nil {
			return err
		}
	}
	for _, m := range muxes {
		if m.Name == "" {
			return fmt.Errorf("%w: empty name on %s", ErrName, where)
		}
		if names[m.Name] {
			return fmt.Errorf("%w: duplicate %q", ErrName, m.Name)
		}
		names[m.Name] = true
		if m.Offset > 7 {
			return fmt.Errorf("%w: %s offset %d", ErrOffset, m.Name, m.Offset)
		}
		if err := claim(m.Address(), "mux "+m.Name); err != nil {
			return err
		}
	}

	for _, m := range muxes {
		for ch := range m.Devices {
			if ch < 0 || ch >= pca9548a.NumChannels {
				return fmt.Errorf("%w: %s devices on channel %d", ErrChannel, m.Name, ch)
			}
		}
		byChan := map[int][]Mux{}
		for _, c := range m.Children {
			if c.Channel == nil || *c.Channel < 0 || *c.Channel >= pca9548a.NumChannels {
				return fmt.Errorf("%w: child %q of %s", ErrChannel, c.Name, m.Name)
			}
			byChan[*c.Channel] = append(byChan[*c.Channel], c)
		}
		for ch := 0; ch < pca9548a.NumChannels; ch++ {
			if len(m.Devices[ch]) == 0 && len(byChan[ch]) == 0 {
				continue
			}
			seg := fmt.Sprintf("%s/%d", m.Name, ch)
			if err := validateSegment(byChan[ch], m.Devices[ch], seen, names, seg); err != nil {
				return err
			}
		}
	}
	return nil
}

// Walk visits every mux depth-first, parents before children. parent is nil
// for top-level muxes.
func (t *Topology) Walk(fn func(parent, m *Mux) error) error {
	var walk func(parent *Mux, ms []Mux) error
	walk = func(parent *Mux, ms []Mux) error {
		for i := range ms {
			m := &ms[i]
			if err := fn(parent, m); err != nil {
				return err
			}
			if err := walk(m, m.Children); err != nil {
				return err
			}
		}
		return nil
	}
	return walk(nil, t.Muxes)
}

// DeviceChannels returns the channels of m that carry devices, ascending.
func (m Mux) DeviceChannels() []int {
	out := make([]int, 0, len(m.Devices))
	for ch := range m.Devices {
		out = append(out, ch)
	}
	sort.Ints(out)
	return out
}
