package vospi

import (
	"fmt"
	"time"
)

// Sensor geometry defaults.
const (
	DefaultPacketSize          = 164
	DefaultPacketsPerSegment   = 60
	TelemetryPacketsPerSegment = 61
	SegmentsPerFrame           = 4
	DefaultSegmentRate         = 106.0

	// FrameWidth is the number of pixels in one image row; two video
	// packets make up one row.
	FrameWidth = 160

	// PacketHeaderSize is the ID and CRC words preceding the payload.
	PacketHeaderSize = 4

	// SegmentIDPacket is the packet whose header carries the segment number.
	SegmentIDPacket = 20
)

// Geometry describes how the sensor lays out packets and segments.
type Geometry struct {
	PacketSize        int
	PacketsPerSegment int
	SegmentsPerFrame  int
	// SegmentRate is the nominal number of segments per second.
	SegmentRate float64
}

// DefaultGeometry is the raw 14-bit output without telemetry.
func DefaultGeometry() Geometry {
	return Geometry{
		PacketSize:        DefaultPacketSize,
		PacketsPerSegment: DefaultPacketsPerSegment,
		SegmentsPerFrame:  SegmentsPerFrame,
		SegmentRate:       DefaultSegmentRate,
	}
}

// TelemetryGeometry is DefaultGeometry with telemetry lines enabled.
func TelemetryGeometry() Geometry {
	g := DefaultGeometry()
	g.PacketsPerSegment = TelemetryPacketsPerSegment
	return g
}

// Validate checks that a segment can be read and its ID located.
func (g Geometry) Validate() error {
	if g.PacketSize <= PacketHeaderSize {
		return fmt.Errorf("packet size %d must exceed the %d byte header", g.PacketSize, PacketHeaderSize)
	}
	if g.PacketsPerSegment <= SegmentIDPacket || g.PacketsPerSegment > 256 {
		return fmt.Errorf("packets per segment %d must be between %d and 256", g.PacketsPerSegment, SegmentIDPacket+1)
	}
	if g.SegmentsPerFrame != SegmentsPerFrame {
		return fmt.Errorf("segments per frame must be %d, got %d", SegmentsPerFrame, g.SegmentsPerFrame)
	}
	if g.SegmentRate <= 0 {
		return fmt.Errorf("segment rate must be positive, got %f", g.SegmentRate)
	}
	return nil
}

// SegmentSize is the byte length of one segment buffer.
func (g Geometry) SegmentSize() int { return g.PacketSize * g.PacketsPerSegment }

// PayloadSize is the number of pixel bytes per packet.
func (g Geometry) PayloadSize() int { return g.PacketSize - PacketHeaderSize }

// FrameSize is the number of payload bytes in a reassembled frame.
func (g Geometry) FrameSize() int {
	return g.PayloadSize() * g.PacketsPerSegment * g.SegmentsPerFrame
}

// SegmentPeriod is the nominal time between segments (about 9.43ms at 106Hz).
func (g Geometry) SegmentPeriod() time.Duration {
	if g.SegmentRate <= 0 {
		return 0
	}
	return time.Duration(float64(time.Second) / g.SegmentRate)
}
