package vospi

import (
	"sync"
	"time"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// cadenceStabilityThreshold is the largest cycle-period standard deviation,
// as a fraction of the mean, for the loop to be reported as stable.
const cadenceStabilityThreshold = 0.15

// CadenceStats summarises recent cycle periods.
type CadenceStats struct {
	Samples  int     `json:"samples"`
	MeanMs   float64 `json:"mean_ms"`
	StdDevMs float64 `json:"stddev_ms"`
	MinMs    float64 `json:"min_ms"`
	MaxMs    float64 `json:"max_ms"`
	// Rate is the measured cycles per second.
	Rate float64 `json:"rate_hz"`
	// NominalMs is the sensor's segment period.
	NominalMs float64 `json:"nominal_ms"`
	Stable    bool    `json:"stable"`
}

// CadenceWindow keeps the most recent cycle periods in a ring buffer. It is
// safe for concurrent use.
type CadenceWindow struct {
	mu      sync.Mutex
	periods []float64 // milliseconds
	next    int
	full    bool
	last    time.Time
	nominal time.Duration
}

// NewCadenceWindow returns a window holding up to size periods.
func NewCadenceWindow(size int, nominal time.Duration) *CadenceWindow {
	if size <= 0 {
		size = 512
	}
	return &CadenceWindow{periods: make([]float64, size), nominal: nominal}
}

// Mark records the start of a cycle at t. The first mark only sets the
// reference time.
func (w *CadenceWindow) Mark(t time.Time) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.last.IsZero() && t.After(w.last) {
		w.periods[w.next] = float64(t.Sub(w.last)) / float64(time.Millisecond)
		w.next++
		if w.next == len(w.periods) {
			w.next = 0
			w.full = true
		}
	}
	w.last = t
}

// Periods returns the recorded periods in milliseconds, oldest first.
func (w *CadenceWindow) Periods() []float64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.full {
		out := make([]float64, w.next)
		copy(out, w.periods[:w.next])
		return out
	}
	out := make([]float64, 0, len(w.periods))
	out = append(out, w.periods[w.next:]...)
	return append(out, w.periods[:w.next]...)
}

// Stats computes summary statistics over the window.
func (w *CadenceWindow) Stats() CadenceStats {
	periods := w.Periods()
	cs := CadenceStats{
		Samples:   len(periods),
		NominalMs: float64(w.nominal) / float64(time.Millisecond),
	}
	if len(periods) == 0 {
		return cs
	}
	cs.MeanMs, cs.StdDevMs = stat.PopMeanStdDev(periods, nil)
	cs.MinMs = floats.Min(periods)
	cs.MaxMs = floats.Max(periods)
	if cs.MeanMs > 0 {
		cs.Rate = 1000 / cs.MeanMs
		cs.Stable = len(periods) > 1 && cs.StdDevMs < cs.MeanMs*cadenceStabilityThreshold
	}
	return cs
}
