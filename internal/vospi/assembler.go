package vospi

import (
	"context"
	"errors"
	"time"

	"github.com/banshee-data/lepton.grabber/internal/monitoring"
	"github.com/banshee-data/lepton.grabber/internal/spidev"
	"github.com/banshee-data/lepton.grabber/internal/timeutil"
)

// DefaultResyncThreshold is the number of consecutive non-productive cycles
// tolerated; the next one triggers a resync.
const DefaultResyncThreshold = 10

// OutcomeKind classifies the result of one segment read.
type OutcomeKind int

const (
	// OutcomeSegment is a video segment 1-4.
	OutcomeSegment OutcomeKind = iota
	// OutcomeDiscardOnly is a segment reporting ID 0: no video this cycle.
	OutcomeDiscardOnly
	// OutcomeIOError is a failed transfer or open.
	OutcomeIOError
	// OutcomeProtocolMismatch is a segment rejected by validation.
	OutcomeProtocolMismatch
	// OutcomeCanceled is a read abandoned because stop was requested.
	OutcomeCanceled
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeSegment:
		return "segment"
	case OutcomeDiscardOnly:
		return "discard_only"
	case OutcomeIOError:
		return "io_error"
	case OutcomeProtocolMismatch:
		return "protocol_mismatch"
	case OutcomeCanceled:
		return "canceled"
	default:
		return "unknown"
	}
}

// Outcome is the result of one segment read as seen by the Assembler.
type Outcome struct {
	Kind    OutcomeKind
	Segment int
	Err     error
}

// Productive reports whether the outcome carried video (resets the failure
// counter).
func (o Outcome) Productive() bool { return o.Kind == OutcomeSegment }

// NewOutcome converts a SegmentReader result into an Outcome. Segment
// numbers outside 0-4 are treated as protocol mismatches.
func NewOutcome(id int, err error) Outcome {
	switch {
	case err == nil && id == 0:
		return Outcome{Kind: OutcomeDiscardOnly, Segment: 0}
	case err == nil && id >= 1 && id <= SegmentsPerFrame:
		return Outcome{Kind: OutcomeSegment, Segment: id}
	case err == nil:
		return Outcome{Kind: OutcomeProtocolMismatch, Segment: NoSegment, Err: ErrProtocolMismatch}
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return Outcome{Kind: OutcomeCanceled, Segment: NoSegment, Err: err}
	case errors.Is(err, ErrProtocolMismatch):
		return Outcome{Kind: OutcomeProtocolMismatch, Segment: NoSegment, Err: err}
	default:
		return Outcome{Kind: OutcomeIOError, Segment: NoSegment, Err: err}
	}
}

// SegmentSource yields segments; *SegmentReader is the production source.
type SegmentSource interface {
	ReadSegment(ctx context.Context) (int, error)
	Segment() Segment
	// SkippedPackets is the number of packets the last read discarded.
	SkippedPackets() int
}

// Resyncer forces the sensor back to packet zero; *Resynchronizer is the
// production implementation.
type Resyncer interface {
	Resync()
}

// State is the acquisition state owned by the Assembler.
type State struct {
	NextExpected        int       `json:"next_expected_segment"`
	ConsecutiveFailures int       `json:"consecutive_failures"`
	LastCycle           time.Time `json:"last_cycle"`
}

// Counters accumulate over the life of an Assembler.
type Counters struct {
	Cycles           uint64    `json:"cycles"`
	Frames           uint64    `json:"frames"`
	SegmentsByID     [5]uint64 `json:"segments_by_id"`
	IOErrors         uint64    `json:"io_errors"`
	ProtocolErrors   uint64    `json:"protocol_errors"`
	Canceled         uint64    `json:"canceled"`
	OutOfOrder       uint64    `json:"out_of_order"`
	Resyncs          uint64    `json:"resyncs"`
	ForcedResyncs    uint64    `json:"forced_resyncs"`
	SkippedPackets   uint64    `json:"skipped_packets"`
	LastFrameSeq     uint64    `json:"last_frame_seq"`
	LastFrameAt      time.Time `json:"last_frame_at"`
	LastResyncAt     time.Time `json:"last_resync_at"`
	LastFailureError string    `json:"last_failure_error,omitempty"`
}

// CycleResult describes what one Tick did.
type CycleResult struct {
	Outcome       Outcome
	Started       time.Time
	FrameComplete bool
	OutOfOrder    bool
	Resynced      bool
}

// AssemblerConfig configures an Assembler. Zero values select defaults.
type AssemblerConfig struct {
	Geometry Geometry
	// ResyncThreshold: a resync runs when the consecutive failure count
	// exceeds it.
	ResyncThreshold int
	// StrictSequence resets the expected segment when a video segment
	// arrives out of order. When false, out-of-order segments are ignored
	// and the sequence carries on.
	StrictSequence bool
	Clock          timeutil.Clock
	Log            monitoring.Verbosity
	// OnFrame receives each completed frame. It runs on the acquisition
	// goroutine and owns the frame it is given.
	OnFrame func(*Frame)
	// OnResync is called after each resync with the failure count that
	// triggered it (0 for a forced resync).
	OnResync func(failures int)
}

// Assembler is the frame assembly state machine. It is driven by Tick and is
// not safe for concurrent use.
type Assembler struct {
	cfg    AssemblerConfig
	source SegmentSource
	resync Resyncer

	state    State
	counters Counters
	frame    []byte
}

// NewAssembler returns an Assembler in its initial state.
func NewAssembler(source SegmentSource, resync Resyncer, cfg AssemblerConfig) *Assembler {
	if cfg.Geometry == (Geometry{}) {
		cfg.Geometry = DefaultGeometry()
	}
	if cfg.ResyncThreshold <= 0 {
		cfg.ResyncThreshold = DefaultResyncThreshold
	}
	if cfg.Clock == nil {
		cfg.Clock = timeutil.RealClock{}
	}
	a := &Assembler{
		cfg:    cfg,
		source: source,
		resync: resync,
		frame:  make([]byte, cfg.Geometry.FrameSize()),
	}
	a.Reset()
	return a
}

// NewTransportAssembler wires a SegmentReader and Resynchronizer over t.
func NewTransportAssembler(t spidev.Transport, quiet time.Duration, cfg AssemblerConfig) *Assembler {
	if cfg.Geometry == (Geometry{}) {
		cfg.Geometry = DefaultGeometry()
	}
	reader := NewSegmentReader(t, cfg.Geometry, cfg.Log)
	resync := NewResynchronizer(t, cfg.Clock, quiet, cfg.Log)
	return NewAssembler(reader, resync, cfg)
}

// Reset returns the acquisition state to its initial values. Counters and
// the last cycle timestamp are kept.
func (a *Assembler) Reset() {
	a.state = State{NextExpected: 1, LastCycle: a.state.LastCycle}
}

// State returns a copy of the acquisition state.
func (a *Assembler) State() State { return a.state }

// Counters returns a copy of the counters.
func (a *Assembler) Counters() Counters { return a.counters }

// Tick runs one acquisition cycle: read a segment, update the sequence and
// failure count, and resync when the threshold is exceeded.
func (a *Assembler) Tick(ctx context.Context) CycleResult {
	started := a.cfg.Clock.Now()
	a.state.LastCycle = started

	id, err := a.source.ReadSegment(ctx)
	a.counters.SkippedPackets += uint64(a.source.SkippedPackets())
	res := a.Apply(NewOutcome(id, err))
	res.Started = started
	return res
}

// Apply advances the state machine with an outcome. The segment data, when
// needed, is taken from the source's current segment.
func (a *Assembler) Apply(o Outcome) CycleResult {
	if o.Kind == OutcomeSegment && (o.Segment < 1 || o.Segment > SegmentsPerFrame) {
		o = Outcome{Kind: OutcomeProtocolMismatch, Segment: NoSegment, Err: ErrProtocolMismatch}
	}
	res := CycleResult{Outcome: o}
	a.counters.Cycles++

	switch o.Kind {
	case OutcomeSegment:
		a.counters.SegmentsByID[o.Segment]++
		a.state.ConsecutiveFailures = 0
		res.FrameComplete, res.OutOfOrder = a.advance(o.Segment)

	case OutcomeDiscardOnly:
		a.counters.SegmentsByID[0]++
		a.state.NextExpected = 1
		a.state.ConsecutiveFailures++

	default:
		switch o.Kind {
		case OutcomeProtocolMismatch:
			a.counters.ProtocolErrors++
		case OutcomeCanceled:
			a.counters.Canceled++
		default:
			a.counters.IOErrors++
		}
		if o.Err != nil {
			a.counters.LastFailureError = o.Err.Error()
		}
		a.state.ConsecutiveFailures++
	}

	// Resyncing while stopping would only delay shutdown by the quiet period.
	if o.Kind != OutcomeCanceled && a.state.ConsecutiveFailures > a.cfg.ResyncThreshold {
		failures := a.state.ConsecutiveFailures
		a.cfg.Log.Infof("%d consecutive cycles without video, resyncing", failures)
		a.doResync()
		a.Reset()
		res.Resynced = true
		if a.cfg.OnResync != nil {
			a.cfg.OnResync(failures)
		}
	}
	return res
}

// ForceResync resyncs immediately and resets the acquisition state.
func (a *Assembler) ForceResync() {
	a.cfg.Log.Infof("forced resync")
	a.doResync()
	a.counters.ForcedResyncs++
	a.Reset()
	if a.cfg.OnResync != nil {
		a.cfg.OnResync(0)
	}
}

func (a *Assembler) doResync() {
	a.resync.Resync()
	a.counters.Resyncs++
	a.counters.LastResyncAt = a.cfg.Clock.Now()
}

// advance handles a video segment. It returns whether a frame completed and
// whether the segment was out of order.
func (a *Assembler) advance(seg int) (complete, outOfOrder bool) {
	if seg != a.state.NextExpected {
		a.counters.OutOfOrder++
		a.cfg.Log.Debugf("segment %d out of order, expected %d", seg, a.state.NextExpected)
		if !a.cfg.StrictSequence {
			return false, true
		}
		a.state.NextExpected = 1
		if seg != 1 {
			return false, true
		}
		outOfOrder = true
	}

	a.store(seg)
	if a.state.NextExpected < a.cfg.Geometry.SegmentsPerFrame {
		a.state.NextExpected++
		return false, outOfOrder
	}

	a.state.NextExpected = 1
	a.emit()
	return true, outOfOrder
}

// store copies the payloads of the current segment into its frame slot.
func (a *Assembler) store(seg int) {
	s := a.source.Segment()
	if s.buf == nil {
		return
	}
	g := a.cfg.Geometry
	ps := g.PayloadSize()
	off := (seg - 1) * g.PacketsPerSegment * ps
	for i := 0; i < s.Len(); i++ {
		copy(a.frame[off+i*ps:off+(i+1)*ps], s.Packet(i).Payload())
	}
}

func (a *Assembler) emit() {
	a.counters.Frames++
	now := a.cfg.Clock.Now()
	a.counters.LastFrameSeq = a.counters.Frames
	a.counters.LastFrameAt = now
	a.cfg.Log.Debugf("frame %d complete", a.counters.Frames)

	if a.cfg.OnFrame == nil {
		return
	}
	payload := make([]byte, len(a.frame))
	copy(payload, a.frame)
	a.cfg.OnFrame(&Frame{
		Seq:       a.counters.Frames,
		Completed: now,
		Width:     FrameWidth,
		Height:    len(payload) / 2 / FrameWidth,
		Payload:   payload,
	})
}
