package vospi

import (
	"errors"
	"fmt"
)

var (
	// ErrSegmentIDUnavailable is returned when the segment ID packet does not
	// carry the expected packet number.
	ErrSegmentIDUnavailable = errors.New("vospi: segment id unavailable")

	// ErrProtocolMismatch marks a segment read rejected by validation.
	ErrProtocolMismatch = errors.New("vospi: protocol mismatch")
)

// Packet is a view over one raw VoSPI packet.
//
//	byte 0: bits 0-3 discard marker (0xF) / packet number high nibble,
//	        bits 4-6 segment number (packet 20 only)
//	byte 1: packet number
//	byte 2-3: CRC
//	byte 4..: payload
type Packet []byte

// IsDiscard reports whether the packet is discard filler. The low nibble of
// byte 0 alone decides; the remaining bytes are ignored.
func (p Packet) IsDiscard() bool {
	return len(p) > 0 && p[0]&0x0F == 0x0F
}

// Number is the packet number from byte 1.
func (p Packet) Number() int {
	if len(p) < 2 {
		return -1
	}
	return int(p[1])
}

// segmentField is the 3-bit segment number from byte 0.
func (p Packet) segmentField() int {
	return int(p[0]>>4) & 0x7
}

// Payload returns the bytes after the header.
func (p Packet) Payload() []byte {
	if len(p) < PacketHeaderSize {
		return nil
	}
	return p[PacketHeaderSize:]
}

// Class is the result of classifying a packet.
type Class int

const (
	Invalid Class = iota
	Discard
	Valid
)

func (c Class) String() string {
	switch c {
	case Discard:
		return "discard"
	case Valid:
		return "valid"
	default:
		return "invalid"
	}
}

// Classification pairs a Class with the packet number of a Valid packet.
type Classification struct {
	Class  Class
	Number int
}

// Classify decides whether p is discard filler, a valid video packet or
// unusable. A non-discard packet is Invalid when it is too short to carry a
// packet number or when its number does not fit in a segment of
// packetsPerSegment packets. packetsPerSegment <= 0 disables the range check.
func Classify(p Packet, packetsPerSegment int) Classification {
	if p.IsDiscard() {
		return Classification{Class: Discard}
	}
	n := p.Number()
	if n < 0 || (packetsPerSegment > 0 && n >= packetsPerSegment) {
		return Classification{Class: Invalid}
	}
	return Classification{Class: Valid, Number: n}
}

// SegmentID extracts the segment number from the segment buffer seg laid out
// as packets of packetSize bytes. It reads the packet at SegmentIDPacket and
// succeeds only if that packet's number is exactly SegmentIDPacket.
func SegmentID(seg []byte, packetSize int) (int, error) {
	off := SegmentIDPacket * packetSize
	if packetSize < 2 || off+packetSize > len(seg) {
		return -1, fmt.Errorf("%w: segment buffer of %d bytes too short", ErrSegmentIDUnavailable, len(seg))
	}
	p := Packet(seg[off : off+packetSize])
	if n := p.Number(); n != SegmentIDPacket {
		return -1, fmt.Errorf("%w: packet %d has number %d", ErrSegmentIDUnavailable, SegmentIDPacket, n)
	}
	return p.segmentField(), nil
}
