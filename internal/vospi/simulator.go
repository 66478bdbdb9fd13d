package vospi

import (
	"encoding/binary"
	"sync"
	"time"

	"github.com/banshee-data/lepton.grabber/internal/spidev"
	"github.com/banshee-data/lepton.grabber/internal/timeutil"
)

// SimulatorConfig shapes the synthetic VoSPI stream.
type SimulatorConfig struct {
	Geometry Geometry
	// DiscardsBefore is the number of discard packets sent before every
	// segment.
	DiscardsBefore int
	// InvalidSegments is the number of segments with ID 0 sent after every
	// frame.
	InvalidSegments int
	// Pace, when non-zero, is slept on Clock before each segment starts.
	Pace  time.Duration
	Clock timeutil.Clock
}

// Simulator is an in-memory spidev.Transport producing a well-formed VoSPI
// stream of a moving gradient. Deselecting the chip restarts the stream at
// segment 1.
type Simulator struct {
	cfg SimulatorConfig

	mu      sync.Mutex
	open    bool
	pending []byte
	// position within the stream
	seg     int // 1..SegmentsPerFrame, 0 while sending invalid segments
	invalid int
	frame   uint64
	segs    uint64
}

var _ spidev.Transport = (*Simulator)(nil)

// NewSimulator returns a closed simulator.
func NewSimulator(cfg SimulatorConfig) *Simulator {
	if cfg.Geometry == (Geometry{}) {
		cfg.Geometry = DefaultGeometry()
	}
	if cfg.Clock == nil {
		cfg.Clock = timeutil.RealClock{}
	}
	s := &Simulator{cfg: cfg}
	s.restart()
	return s
}

func (s *Simulator) restart() {
	s.pending = s.pending[:0]
	s.seg = 1
	s.invalid = 0
}

func (s *Simulator) Open() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.open = true
	return nil
}

func (s *Simulator) IsOpen() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.open
}

func (s *Simulator) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.open = false
	return nil
}

// Frames returns how many complete frames have been generated.
func (s *Simulator) Frames() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.frame
}

func (s *Simulator) Transfer(buf []byte, forceDeselect bool) error {
	s.mu.Lock()
	if !s.open {
		s.mu.Unlock()
		return spidev.ErrNotOpen
	}
	generated := 0
	for len(s.pending) < len(buf) {
		s.appendSegment()
		generated++
	}
	n := copy(buf, s.pending)
	s.pending = s.pending[n:]
	if forceDeselect {
		s.restart()
	}
	pace := s.cfg.Pace
	s.mu.Unlock()

	for ; pace > 0 && generated > 0; generated-- {
		s.cfg.Clock.Sleep(pace)
	}
	return nil
}

// appendSegment appends the discard prefix and the next segment to pending.
func (s *Simulator) appendSegment() {
	g := s.cfg.Geometry
	ps := g.PacketSize
	for i := 0; i < s.cfg.DiscardsBefore; i++ {
		s.pending = append(s.pending, discardPacket(ps)...)
	}

	id := s.seg
	if s.invalid > 0 {
		id = 0
	}
	for n := 0; n < g.PacketsPerSegment; n++ {
		pkt := make([]byte, ps)
		pkt[1] = byte(n)
		if n == SegmentIDPacket {
			pkt[0] = byte(id&0x7) << 4
		}
		if id != 0 {
			s.fillPayload(pkt[PacketHeaderSize:], id, n)
		}
		s.pending = append(s.pending, pkt...)
	}
	s.segs++

	switch {
	case s.invalid > 0:
		s.invalid--
	case s.seg == g.SegmentsPerFrame:
		s.seg = 1
		s.frame++
		s.invalid = s.cfg.InvalidSegments
	default:
		s.seg++
	}
}

// fillPayload writes a diagonal gradient that drifts by one level per frame.
func (s *Simulator) fillPayload(p []byte, seg, pkt int) {
	g := s.cfg.Geometry
	perPacket := len(p) / 2
	base := ((seg-1)*g.PacketsPerSegment + pkt) * perPacket
	for i := 0; i < perPacket; i++ {
		idx := base + i
		x, y := idx%FrameWidth, idx/FrameWidth
		v := 8000 + uint16((x+y+int(s.frame))%512)
		binary.BigEndian.PutUint16(p[2*i:], v)
	}
}

func discardPacket(size int) []byte {
	p := make([]byte, size)
	p[0] = 0x0F
	p[1] = 0xFF
	return p
}
