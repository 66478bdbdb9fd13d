package main

import (
	"sync/atomic"
	"time"

	"github.com/banshee-data/lepton.grabber/internal/db"
	"github.com/banshee-data/lepton.grabber/internal/monitoring"
	"github.com/banshee-data/lepton.grabber/internal/vospi"
)

// frameSampleEvery is the frame interval between frame_sample events.
const frameSampleEvery = 1000

// sessionLog writes the acquisition session to the store. All methods are
// no-ops when no store is configured.
type sessionLog struct {
	store *db.DB
	id    string
	now   func() time.Time

	frames atomic.Uint64
}

func newSessionLog(store *db.DB, device, mode string, at time.Time) (*sessionLog, error) {
	l := &sessionLog{store: store, now: time.Now}
	if store == nil {
		return l, nil
	}
	s, err := store.StartSession(device, mode, at)
	if err != nil {
		return nil, err
	}
	l.id = s.ID
	monitoring.Logf("session %s started", s.ID)
	return l, nil
}

func (l *sessionLog) enabled() bool { return l.store != nil }

func (l *sessionLog) record(kind string, at time.Time, detail any) {
	if !l.enabled() {
		return
	}
	if err := l.store.RecordEvent(l.id, kind, at, detail); err != nil {
		monitoring.Logf("failed to record %s event: %v", kind, err)
	}
}

func (l *sessionLog) setFPATemperature(kelvin float64) {
	if !l.enabled() {
		return
	}
	if err := l.store.SetFPATemperature(l.id, kelvin); err != nil {
		monitoring.Logf("failed to store FPA temperature: %v", err)
	}
}

// frame samples every frameSampleEvery-th frame, starting with the first.
func (l *sessionLog) frame(f *vospi.Frame) {
	if l.frames.Add(1)%frameSampleEvery != 1 {
		return
	}
	lo, hi := f.MinMax()
	center := f.At(f.Width/2, f.Height/2)
	l.record(db.EventFrameSample, f.Completed, map[string]any{
		"seq":      f.Seq,
		"min":      lo,
		"max":      hi,
		"center":   center,
		"center_c": vospi.RawToCelsius(center),
		"min_c":    vospi.RawToCelsius(lo),
		"max_c":    vospi.RawToCelsius(hi),
	})
}

func (l *sessionLog) resync(failures int) {
	l.record(db.EventResync, l.now(), map[string]int{"failures": failures})
}

func (l *sessionLog) openFailed(err error, at time.Time) {
	l.record(db.EventOpenFailed, at, map[string]string{"error": err.Error()})
	l.finish(db.SessionSummary{StoppedAt: at, Error: err.Error()})
}

func (l *sessionLog) stopped(st vospi.Stats, at time.Time) {
	l.record(db.EventStopped, at, st.Counters)
	l.finish(db.SessionSummary{
		StoppedAt:      at,
		Cycles:         st.Counters.Cycles,
		Frames:         st.Counters.Frames,
		Resyncs:        st.Counters.Resyncs,
		IOErrors:       st.Counters.IOErrors,
		ProtocolErrors: st.Counters.ProtocolErrors,
		MeanCycleMs:    st.Cadence.MeanMs,
		Error:          st.Error,
	})
}

func (l *sessionLog) finish(sum db.SessionSummary) {
	if !l.enabled() {
		return
	}
	if err := l.store.FinishSession(l.id, sum); err != nil {
		monitoring.Logf("failed to finish session: %v", err)
	}
}
