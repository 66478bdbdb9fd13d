package vospi

import (
	"context"

	"github.com/banshee-data/lepton.grabber/internal/monitoring"
	"github.com/banshee-data/lepton.grabber/internal/spidev"
)

func quietLog() monitoring.Verbosity {
	return monitoring.Verbosity{Level: monitoring.LevelNone}
}

// videoPacket returns packet n of a segment with the given ID. Payload bytes
// are set to fill.
func videoPacket(g Geometry, id, n int, fill byte) []byte {
	p := make([]byte, g.PacketSize)
	p[1] = byte(n)
	if n == SegmentIDPacket {
		p[0] = byte(id) << 4
	}
	for i := PacketHeaderSize; i < len(p); i++ {
		p[i] = fill
	}
	return p
}

func discard(g Geometry) []byte {
	p := make([]byte, g.PacketSize)
	p[0] = 0x0F
	return p
}

// enqueueSegment scripts the transfers ReadSegment performs for one segment:
// the discard packets, packet 0, then the rest in one bulk read.
func enqueueSegment(s *spidev.ScriptedTransport, g Geometry, id, discards int, fill byte) {
	for i := 0; i < discards; i++ {
		s.Enqueue(discard(g))
	}
	s.Enqueue(videoPacket(g, id, 0, fill))
	var rest []byte
	for n := 1; n < g.PacketsPerSegment; n++ {
		rest = append(rest, videoPacket(g, id, n, fill)...)
	}
	s.Enqueue(rest)
}

// fakeSource replays a fixed list of segment read results.
type fakeSource struct {
	results []fakeResult
	reads   int
	skipped int
}

type fakeResult struct {
	id      int
	err     error
	skipped int
}

func (f *fakeSource) ReadSegment(ctx context.Context) (int, error) {
	if f.reads >= len(f.results) {
		f.skipped = 0
		return NoSegment, context.Canceled
	}
	r := f.results[f.reads]
	f.reads++
	f.skipped = r.skipped
	return r.id, r.err
}

func (f *fakeSource) Segment() Segment { return Segment{} }

func (f *fakeSource) SkippedPackets() int { return f.skipped }

func segments(ids ...int) []fakeResult {
	out := make([]fakeResult, len(ids))
	for i, id := range ids {
		out[i] = fakeResult{id: id}
	}
	return out
}

type countingResyncer struct{ n int }

func (c *countingResyncer) Resync() { c.n++ }
