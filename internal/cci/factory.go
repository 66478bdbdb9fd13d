package cci

// NewController returns a Lepton client on the i2c-dev device at path, or a
// DisabledController when path is "none".
func NewController(path string, addr uint16, opts LeptonOptions) Controller {
	if path == "none" {
		return DisabledController{}
	}
	return NewLepton(NewI2CBus(path, addr), opts)
}
