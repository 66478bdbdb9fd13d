package vospi

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestGeometry(t *testing.T) {
	g := DefaultGeometry()
	assert.NoError(t, g.Validate())
	assert.Equal(t, 164*60, g.SegmentSize())
	assert.Equal(t, 160, g.PayloadSize())
	assert.Equal(t, 160*120*2, g.FrameSize())
	assert.InDelta(t, float64(9434*time.Microsecond), float64(g.SegmentPeriod()), float64(10*time.Microsecond))

	assert.NoError(t, TelemetryGeometry().Validate())
	assert.Equal(t, 164*61, TelemetryGeometry().SegmentSize())
}

func TestGeometry_Validate(t *testing.T) {
	cases := map[string]func(*Geometry){
		"tiny packets":      func(g *Geometry) { g.PacketSize = 4 },
		"too few packets":   func(g *Geometry) { g.PacketsPerSegment = 20 },
		"too many packets":  func(g *Geometry) { g.PacketsPerSegment = 300 },
		"wrong segments":    func(g *Geometry) { g.SegmentsPerFrame = 3 },
		"zero segment rate": func(g *Geometry) { g.SegmentRate = 0 },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			g := DefaultGeometry()
			mutate(&g)
			assert.Error(t, g.Validate())
		})
	}
}

func TestFrame_Pixels(t *testing.T) {
	f := &Frame{Width: 2, Height: 2, Payload: []byte{0x00, 0x01, 0x12, 0x34, 0xFF, 0xFE, 0x00, 0x00}}
	assert.Equal(t, []uint16{1, 0x1234, 0xFFFE, 0}, f.Pixels())
	assert.Equal(t, uint16(0xFFFE), f.At(0, 1))
	min, max := f.MinMax()
	assert.Equal(t, uint16(0), min)
	assert.Equal(t, uint16(0xFFFE), max)
}

func TestRawToCelsius(t *testing.T) {
	assert.InDelta(t, -152.77, RawToCelsius(0), 1e-9)
	// 8000 counts is roughly room temperature.
	assert.InDelta(t, 20.83, RawToCelsius(8000), 1e-9)
}
