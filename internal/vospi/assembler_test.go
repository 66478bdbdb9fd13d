package vospi

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/lepton.grabber/internal/spidev"
	"github.com/banshee-data/lepton.grabber/internal/timeutil"
)

func newTestAssembler(results []fakeResult, strict bool) (*Assembler, *fakeSource, *countingResyncer) {
	src := &fakeSource{results: results}
	rs := &countingResyncer{}
	a := NewAssembler(src, rs, AssemblerConfig{
		StrictSequence: strict,
		Clock:          timeutil.NewMockClock(time.Unix(0, 0)),
		Log:            quietLog(),
	})
	return a, src, rs
}

func runAll(a *Assembler, n int) []CycleResult {
	out := make([]CycleResult, n)
	for i := range out {
		out[i] = a.Tick(context.Background())
	}
	return out
}

func TestAssembler_InitialState(t *testing.T) {
	a, _, _ := newTestAssembler(nil, true)
	assert.Equal(t, 1, a.State().NextExpected)
	assert.Equal(t, 0, a.State().ConsecutiveFailures)
}

func TestAssembler_TwoFramesInOrder(t *testing.T) {
	a, _, rs := newTestAssembler(segments(1, 2, 3, 4, 1, 2, 3, 4), true)
	res := runAll(a, 8)

	var complete []int
	for i, r := range res {
		if r.FrameComplete {
			complete = append(complete, i)
		}
	}
	assert.Equal(t, []int{3, 7}, complete)
	assert.Equal(t, uint64(2), a.Counters().Frames)
	assert.Equal(t, 1, a.State().NextExpected)
	assert.Equal(t, 0, a.State().ConsecutiveFailures)
	assert.Equal(t, 0, rs.n)
}

func TestAssembler_ResyncAfterThresholdExceeded(t *testing.T) {
	var resyncArgs []int
	src := &fakeSource{results: segments(0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0)}
	rs := &countingResyncer{}
	a := NewAssembler(src, rs, AssemblerConfig{
		StrictSequence: true,
		Clock:          timeutil.NewMockClock(time.Unix(0, 0)),
		Log:            quietLog(),
		OnResync:       func(n int) { resyncArgs = append(resyncArgs, n) },
	})

	res := runAll(a, 12)
	for i, r := range res {
		assert.Equal(t, i == 10, r.Resynced, "cycle %d", i+1)
		assert.Equal(t, OutcomeDiscardOnly, r.Outcome.Kind)
	}
	assert.Equal(t, 1, rs.n)
	assert.Equal(t, []int{11}, resyncArgs)
	assert.Equal(t, 1, a.State().ConsecutiveFailures)
	assert.Equal(t, 1, a.State().NextExpected)
	assert.Equal(t, uint64(12), a.Counters().SegmentsByID[0])
	assert.Equal(t, uint64(1), a.Counters().Resyncs)
}

func TestAssembler_FailuresKeepNextExpected(t *testing.T) {
	ioErr := errors.Join(spidev.ErrIO, errors.New("EIO"))
	results := []fakeResult{
		{id: 1}, {id: 2},
		{id: NoSegment, err: ioErr},
		{id: NoSegment, err: ErrProtocolMismatch},
		{id: 3}, {id: 4},
	}
	a, _, _ := newTestAssembler(results, true)

	res := runAll(a, 3)
	assert.Equal(t, OutcomeIOError, res[2].Outcome.Kind)
	assert.Equal(t, 3, a.State().NextExpected)
	assert.Equal(t, 1, a.State().ConsecutiveFailures)

	res = runAll(a, 1)
	assert.Equal(t, OutcomeProtocolMismatch, res[0].Outcome.Kind)
	assert.Equal(t, 2, a.State().ConsecutiveFailures)
	assert.Equal(t, 3, a.State().NextExpected)

	res = runAll(a, 2)
	assert.True(t, res[1].FrameComplete)
	assert.Equal(t, 0, a.State().ConsecutiveFailures)

	c := a.Counters()
	assert.Equal(t, uint64(1), c.IOErrors)
	assert.Equal(t, uint64(1), c.ProtocolErrors)
	assert.Equal(t, uint64(1), c.Frames)
	assert.NotEmpty(t, c.LastFailureError)
}

func TestAssembler_DiscardOnlyRestartsSequence(t *testing.T) {
	a, _, _ := newTestAssembler(segments(1, 2, 0, 3, 4), true)
	res := runAll(a, 5)
	assert.Equal(t, 1, a.State().NextExpected)
	for _, r := range res {
		assert.False(t, r.FrameComplete)
	}
	assert.Equal(t, uint64(2), a.Counters().OutOfOrder)
}

func TestAssembler_StrictSequence(t *testing.T) {
	// segment 1 out of order starts a new frame
	a, _, _ := newTestAssembler(segments(1, 2, 1, 2, 3, 4), true)
	res := runAll(a, 3)
	assert.True(t, res[2].OutOfOrder)
	assert.Equal(t, 2, a.State().NextExpected)

	res = runAll(a, 3)
	assert.True(t, res[2].FrameComplete)
	assert.Equal(t, uint64(1), a.Counters().Frames)
	assert.Equal(t, uint64(1), a.Counters().OutOfOrder)

	// any other out-of-order segment resets the expectation to 1
	a, _, _ = newTestAssembler(segments(1, 3, 2, 3, 4), true)
	res = runAll(a, 2)
	assert.True(t, res[1].OutOfOrder)
	assert.Equal(t, 1, a.State().NextExpected)
	runAll(a, 3)
	assert.Equal(t, uint64(0), a.Counters().Frames)
}

func TestAssembler_LenientSequence(t *testing.T) {
	a, _, _ := newTestAssembler(segments(1, 3, 2, 3, 4), false)
	res := runAll(a, 2)
	assert.True(t, res[1].OutOfOrder)
	assert.Equal(t, 2, a.State().NextExpected, "out-of-order segment is ignored")

	res = runAll(a, 3)
	assert.True(t, res[2].FrameComplete)
	assert.Equal(t, uint64(1), a.Counters().Frames)
	assert.Equal(t, uint64(1), a.Counters().OutOfOrder)
}

func TestAssembler_CanceledNeverResyncs(t *testing.T) {
	a, _, rs := newTestAssembler(nil, true)
	res := runAll(a, 20)
	for _, r := range res {
		assert.Equal(t, OutcomeCanceled, r.Outcome.Kind)
		assert.False(t, r.Resynced)
	}
	assert.Equal(t, 0, rs.n)
	assert.Equal(t, 20, a.State().ConsecutiveFailures)
	assert.Equal(t, uint64(20), a.Counters().Canceled)
}

func TestAssembler_CustomThreshold(t *testing.T) {
	src := &fakeSource{results: segments(0, 0, 0, 0)}
	rs := &countingResyncer{}
	a := NewAssembler(src, rs, AssemblerConfig{ResyncThreshold: 2, Log: quietLog()})
	res := runAll(a, 4)
	assert.False(t, res[1].Resynced)
	assert.True(t, res[2].Resynced)
	assert.False(t, res[3].Resynced)
	assert.Equal(t, 1, rs.n)
}

func TestAssembler_ApplyOutOfRangeSegment(t *testing.T) {
	a, _, _ := newTestAssembler(nil, true)
	res := a.Apply(Outcome{Kind: OutcomeSegment, Segment: 7})
	assert.Equal(t, OutcomeProtocolMismatch, res.Outcome.Kind)
	assert.Equal(t, uint64(1), a.Counters().ProtocolErrors)
	assert.Equal(t, 1, a.State().ConsecutiveFailures)
}

func TestAssembler_ForceResync(t *testing.T) {
	var forced []int
	src := &fakeSource{results: segments(1, 2)}
	rs := &countingResyncer{}
	a := NewAssembler(src, rs, AssemblerConfig{
		StrictSequence: true,
		Log:            quietLog(),
		OnResync:       func(n int) { forced = append(forced, n) },
	})
	runAll(a, 2)
	require.Equal(t, 3, a.State().NextExpected)

	a.ForceResync()
	assert.Equal(t, 1, a.State().NextExpected)
	assert.Equal(t, 1, rs.n)
	assert.Equal(t, uint64(1), a.Counters().ForcedResyncs)
	assert.Equal(t, uint64(1), a.Counters().Resyncs)
	assert.Equal(t, []int{0}, forced)
}

func TestNewOutcome(t *testing.T) {
	cases := []struct {
		id   int
		err  error
		want OutcomeKind
	}{
		{0, nil, OutcomeDiscardOnly},
		{1, nil, OutcomeSegment},
		{4, nil, OutcomeSegment},
		{5, nil, OutcomeProtocolMismatch},
		{NoSegment, context.Canceled, OutcomeCanceled},
		{NoSegment, context.DeadlineExceeded, OutcomeCanceled},
		{NoSegment, ErrProtocolMismatch, OutcomeProtocolMismatch},
		{NoSegment, spidev.ErrOpen, OutcomeIOError},
		{NoSegment, spidev.ErrIO, OutcomeIOError},
	}
	for _, tc := range cases {
		got := NewOutcome(tc.id, tc.err)
		assert.Equal(t, tc.want, got.Kind, "NewOutcome(%d, %v)", tc.id, tc.err)
		assert.Equal(t, tc.want == OutcomeSegment, got.Productive())
	}
}

func TestTransportAssembler_ReassemblesFrame(t *testing.T) {
	g := DefaultGeometry()
	tr := spidev.NewScriptedTransport()
	enqueueSegment(tr, g, 1, 3, 0x01)
	enqueueSegment(tr, g, 2, 0, 0x02)
	enqueueSegment(tr, g, 3, 1, 0x03)
	enqueueSegment(tr, g, 4, 0, 0x04)

	var frames []*Frame
	clock := timeutil.NewMockClock(time.Unix(500, 0))
	a := NewTransportAssembler(tr, 0, AssemblerConfig{
		StrictSequence: true,
		Clock:          clock,
		Log:            quietLog(),
		OnFrame:        func(f *Frame) { frames = append(frames, f) },
	})
	res := runAll(a, 4)
	require.True(t, res[3].FrameComplete)
	require.Len(t, frames, 1)

	f := frames[0]
	assert.Equal(t, uint64(1), f.Seq)
	assert.Equal(t, FrameWidth, f.Width)
	assert.Equal(t, 120, f.Height)
	assert.Len(t, f.Payload, g.FrameSize())
	assert.Equal(t, uint16(0x0101), f.At(0, 0))
	assert.Equal(t, uint16(0x0202), f.At(0, 30))
	assert.Equal(t, uint16(0x0303), f.At(159, 60))
	assert.Equal(t, uint16(0x0404), f.At(159, 119))
	assert.Equal(t, clock.Now(), f.Completed)

	c := a.Counters()
	assert.Equal(t, uint64(4), c.SkippedPackets)
	assert.Equal(t, [5]uint64{0, 1, 1, 1, 1}, c.SegmentsByID)
}

func TestTransportAssembler_ResyncsIdleBus(t *testing.T) {
	tr := spidev.NewScriptedTransport()
	require.NoError(t, tr.Open())
	clock := timeutil.NewMockClock(time.Unix(0, 0))
	// every cycle fails on the first transfer
	for i := 0; i < 11; i++ {
		tr.EnqueueError(errors.New("EIO"))
	}
	a := NewTransportAssembler(tr, 0, AssemblerConfig{Clock: clock, Log: quietLog()})
	res := runAll(a, 11)
	assert.True(t, res[10].Resynced)

	calls := tr.Calls()
	last := calls[len(calls)-1]
	assert.Equal(t, 5, last.Len)
	assert.True(t, last.ForceDeselect)
	assert.Equal(t, []time.Duration{DefaultResyncQuiet}, clock.Sleeps())
}

func TestAssembler_SkippedPacketsFromAnySource(t *testing.T) {
	a, _, _ := newTestAssembler([]fakeResult{
		{id: 1, skipped: 3},
		{id: 0, skipped: 7},
		{id: 2},
	}, true)

	runAll(a, 3)
	assert.Equal(t, uint64(10), a.Counters().SkippedPackets)
}

func TestAssembler_ThresholdResyncResetsSequence(t *testing.T) {
	ioErr := errors.Join(spidev.ErrIO, errors.New("EIO"))
	results := []fakeResult{{id: 1}, {id: 2}}
	for i := 0; i < DefaultResyncThreshold+1; i++ {
		results = append(results, fakeResult{id: NoSegment, err: ioErr})
	}
	a, _, rs := newTestAssembler(results, true)

	runAll(a, 2+DefaultResyncThreshold)
	require.Equal(t, 3, a.State().NextExpected, "failures alone keep the sequence")

	res := runAll(a, 1)
	assert.True(t, res[0].Resynced)
	assert.Equal(t, 1, rs.n)
	assert.Equal(t, 1, a.State().NextExpected)
	assert.Equal(t, 0, a.State().ConsecutiveFailures)
	assert.False(t, a.State().LastCycle.IsZero())
}
