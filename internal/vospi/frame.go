package vospi

import (
	"encoding/binary"
	"time"
)

// Frame is one image reassembled from four in-order segments. Payload holds
// the packet payloads of segments 1-4 in order, each pixel a big-endian
// 16-bit word.
type Frame struct {
	Seq       uint64
	Completed time.Time
	Width     int
	Height    int
	Payload   []byte
}

// Pixels decodes the payload into row-major pixel values.
func (f *Frame) Pixels() []uint16 {
	out := make([]uint16, len(f.Payload)/2)
	for i := range out {
		out[i] = binary.BigEndian.Uint16(f.Payload[2*i:])
	}
	return out
}

// At returns the pixel at column x, row y.
func (f *Frame) At(x, y int) uint16 {
	i := 2 * (y*f.Width + x)
	return binary.BigEndian.Uint16(f.Payload[i:])
}

// MinMax returns the smallest and largest pixel values.
func (f *Frame) MinMax() (min, max uint16) {
	min = 0xFFFF
	for i := 0; i+1 < len(f.Payload); i += 2 {
		v := binary.BigEndian.Uint16(f.Payload[i:])
		if v < min {
			min = v
		}
		if v > max {
			max = v
		}
	}
	return min, max
}

// RawToCelsius converts a raw radiometric pixel to an approximate scene
// temperature, assuming a 25 °C ambient.
func RawToCelsius(raw uint16) float64 {
	const slope, ambient, offset = 0.0217, 25.0, 177.77
	return slope*float64(raw) + ambient - offset
}
