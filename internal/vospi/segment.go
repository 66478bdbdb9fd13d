package vospi

import (
	"context"
	"fmt"

	"github.com/banshee-data/lepton.grabber/internal/monitoring"
	"github.com/banshee-data/lepton.grabber/internal/spidev"
)

// NoSegment is the segment ID reported alongside a failed read.
const NoSegment = -1

// Segment is a view over one segment buffer of PacketsPerSegment packets.
type Segment struct {
	buf  []byte
	geom Geometry
}

// NewSegmentView wraps buf, which must hold exactly one segment.
func NewSegmentView(buf []byte, g Geometry) (Segment, error) {
	if len(buf) != g.SegmentSize() {
		return Segment{}, fmt.Errorf("segment buffer is %d bytes, want %d", len(buf), g.SegmentSize())
	}
	return Segment{buf: buf, geom: g}, nil
}

// Bytes returns the raw segment buffer.
func (s Segment) Bytes() []byte { return s.buf }

// Len is the number of packets in the segment.
func (s Segment) Len() int { return s.geom.PacketsPerSegment }

// Packet returns packet i.
func (s Segment) Packet(i int) Packet {
	off := i * s.geom.PacketSize
	return Packet(s.buf[off : off+s.geom.PacketSize])
}

// ID returns the segment number carried by packet 20.
func (s Segment) ID() (int, error) {
	return SegmentID(s.buf, s.geom.PacketSize)
}

// SegmentReader acquires one segment per call from a transport.
type SegmentReader struct {
	transport spidev.Transport
	geom      Geometry
	seg       Segment
	log       monitoring.Verbosity

	// discards counts packets skipped while waiting for packet 0 during the
	// last read.
	discards int
}

// NewSegmentReader returns a reader with its own segment buffer.
func NewSegmentReader(t spidev.Transport, g Geometry, log monitoring.Verbosity) *SegmentReader {
	return &SegmentReader{
		transport: t,
		geom:      g,
		seg:       Segment{buf: make([]byte, g.SegmentSize()), geom: g},
		log:       log,
	}
}

// Segment returns the buffer filled by the last successful ReadSegment. It is
// overwritten by the next call.
func (r *SegmentReader) Segment() Segment { return r.seg }

// SkippedPackets returns how many packets the last read discarded before
// finding packet 0.
func (r *SegmentReader) SkippedPackets() int { return r.discards }

// ReadSegment reads one segment and returns its ID (0-4).
//
// It opens the transport if needed, spins on single-packet reads until a
// non-discard packet numbered 0 arrives, reads the rest of the segment in one
// bulk transfer and validates packet 20. ctx is polled before every
// single-packet read; once it is done ReadSegment returns ctx.Err(). There
// are no retries: any failure is returned with NoSegment.
func (r *SegmentReader) ReadSegment(ctx context.Context) (int, error) {
	r.discards = 0

	if !r.transport.IsOpen() {
		r.log.Debugf("SPI device not open, trying to open it")
		if err := r.transport.Open(); err != nil {
			return NoSegment, err
		}
	}

	ps := r.geom.PacketSize
	first := r.seg.buf[:ps]
	for {
		if err := ctx.Err(); err != nil {
			return NoSegment, err
		}
		if err := r.transport.Transfer(first, false); err != nil {
			return NoSegment, err
		}
		c := Classify(first, r.geom.PacketsPerSegment)
		if c.Class == Valid && c.Number == 0 {
			break
		}
		r.discards++
	}

	if err := r.transport.Transfer(r.seg.buf[ps:], false); err != nil {
		return NoSegment, err
	}

	id, err := r.seg.ID()
	if err != nil {
		r.log.Debugf("wrong packet id for segment number: %v", err)
		return NoSegment, fmt.Errorf("%w: %w", ErrProtocolMismatch, err)
	}
	r.log.Debugf("retrieved segment %d after %d skipped packets", id, r.discards)
	return id, nil
}
