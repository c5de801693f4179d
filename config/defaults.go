package config

// defaultTopology is a two-level tree: a root switch with a temperature
// sensor and a second switch behind channel 2, which fans out to three
// identical sensors.
const defaultTopology = `
muxes:
  - name: root
    offset: 0
    devices:
      0: [0x48]
      3: [0x38]
    children:
      - name: bank
        channel: 2
        offset: 1
        devices:
          0: [0x38]
          1: [0x38]
          5: [0x38, 0x40]
`

// Default returns the built-in topology.
func Default() *Topology {
	t, err := Parse(defaultTopology)
	if err != nil {
		panic("config: built-in topology: " + err.Error())
	}
	return t
}
