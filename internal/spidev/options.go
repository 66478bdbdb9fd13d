package spidev

import "fmt"

// Mode is the SPI clock polarity/phase mode (0..3).
type Mode uint8

const (
	Mode0 Mode = iota
	Mode1
	Mode2
	// Mode3 is CPOL=1, CPHA=1, the mode required by the sensor's VoSPI port.
	Mode3
)

// Bus defaults for the sensor's VoSPI port.
const (
	DefaultDevice      = "/dev/spidev0.0"
	DefaultMode        = Mode3
	DefaultBitsPerWord = 8
	DefaultSpeedHz     = 32000000
	DefaultDelayUsecs  = 50
)

// PortOptions describes the bus configuration applied when the device is
// opened. The values are fixed for the lifetime of a transport.
type PortOptions struct {
	Mode        Mode   `json:"mode"`
	BitsPerWord uint8  `json:"bits_per_word"`
	SpeedHz     uint32 `json:"speed_hz"`
	// DelayUsecs is the delay applied after each transfer before the next
	// one (or before deselecting the chip).
	DelayUsecs uint16 `json:"delay_usecs"`
}

// DefaultPortOptions returns the bus configuration used by the sensor.
func DefaultPortOptions() PortOptions {
	return PortOptions{
		Mode:        DefaultMode,
		BitsPerWord: DefaultBitsPerWord,
		SpeedHz:     DefaultSpeedHz,
		DelayUsecs:  DefaultDelayUsecs,
	}
}

// Normalize validates the options and fills unset values with defaults.
// A zero Mode is a valid SPI mode, so Mode is never defaulted.
func (o PortOptions) Normalize() (PortOptions, error) {
	opts := o

	if opts.Mode > Mode3 {
		return opts, fmt.Errorf("invalid SPI mode %d: must be between 0 and 3", opts.Mode)
	}

	if opts.BitsPerWord == 0 {
		opts.BitsPerWord = DefaultBitsPerWord
	}
	if opts.BitsPerWord != 8 && opts.BitsPerWord != 16 {
		return opts, fmt.Errorf("invalid bits per word %d: supported values are 8 or 16", opts.BitsPerWord)
	}

	if opts.SpeedHz == 0 {
		opts.SpeedHz = DefaultSpeedHz
	}
	if opts.SpeedHz > DefaultSpeedHz {
		return opts, fmt.Errorf("invalid speed %d Hz: sensor maximum is %d Hz", opts.SpeedHz, DefaultSpeedHz)
	}

	return opts, nil
}

// Equal reports whether two option sets configure the bus identically.
func (o PortOptions) Equal(other PortOptions) bool {
	a, errA := o.Normalize()
	b, errB := other.Normalize()
	if errA != nil || errB != nil {
		return false
	}
	return a == b
}

func (o PortOptions) String() string {
	return fmt.Sprintf("mode=%d bits=%d speed=%dHz delay=%dus", o.Mode, o.BitsPerWord, o.SpeedHz, o.DelayUsecs)
}
