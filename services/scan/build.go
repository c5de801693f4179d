package scan

import (
	"log/slog"
	"strconv"

	"i2cmux-go/config"
	"i2cmux-go/drivers/pca9548a"
	"i2cmux-go/x/i2csim"
)

// Node is one switch of a built tree.
type Node struct {
	Name   string
	Path   string // e.g. "root/2/bank"
	Device *pca9548a.Device
}

// Simulate builds a simulated bus matching top, with a register device at
// every configured address.
func Simulate(top *config.Topology) *i2csim.Bus {
	bus := i2csim.New()
	var place func(seg *i2csim.Segment, ms []config.Mux)
	place = func(seg *i2csim.Segment, ms []config.Mux) {
		for _, m := range ms {
			sw := i2csim.NewMux()
			bus.AttachTo(seg, m.Address(), sw)
			for ch, addrs := range m.Devices {
				for _, a := range addrs {
					bus.AttachTo(sw.Channel(ch), a, &i2csim.Register{})
				}
			}
			for _, c := range m.Children {
				place(sw.Channel(*c.Channel), []config.Mux{c})
			}
		}
	}
	place(bus.Root(), top.Muxes)
	return bus
}

// Build constructs the driver chain for top over bus. Children are built over
// their parent's Channel, so selecting them re-selects the whole path.
func Build(top *config.Topology, bus pca9548a.Bus, log *slog.Logger) ([]Node, error) {
	if log == nil {
		log = slog.Default()
	}
	var nodes []Node
	byName := map[string]Node{}
	err := top.Walk(func(parent, m *config.Mux) error {
		upstream := bus
		path := m.Name
		if parent != nil {
			p := byName[parent.Name]
			ch, err := p.Device.Single(*m.Channel)
			if err != nil {
				return err
			}
			upstream = ch
			path = p.Path + "/" + strconv.Itoa(*m.Channel) + "/" + m.Name
		}
		cfg := pca9548a.Config{Address: m.Address(), Logger: log}
		if m.Async {
			cfg.Mutex = pca9548a.NewAsyncMutex()
		}
		n := Node{Name: m.Name, Path: path, Device: pca9548a.New(upstream, cfg)}
		byName[m.Name] = n
		nodes = append(nodes, n)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return nodes, nil
}
