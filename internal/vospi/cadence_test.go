package vospi

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCadenceWindow_Stats(t *testing.T) {
	w := NewCadenceWindow(8, 10*time.Millisecond)
	assert.Equal(t, 0, w.Stats().Samples)

	base := time.Unix(100, 0)
	offsets := []time.Duration{0, 10, 20, 30, 40}
	for _, o := range offsets {
		w.Mark(base.Add(o * time.Millisecond))
	}

	st := w.Stats()
	assert.Equal(t, 4, st.Samples)
	assert.InDelta(t, 10.0, st.MeanMs, 1e-9)
	assert.InDelta(t, 0.0, st.StdDevMs, 1e-9)
	assert.InDelta(t, 100.0, st.Rate, 1e-9)
	assert.Equal(t, 10.0, st.NominalMs)
	assert.True(t, st.Stable)
}

func TestCadenceWindow_Wraps(t *testing.T) {
	w := NewCadenceWindow(3, 0)
	base := time.Unix(0, 0)
	at := base
	for _, p := range []time.Duration{1, 2, 3, 4, 5} {
		at = at.Add(p * time.Millisecond)
		w.Mark(at)
	}
	// first mark only sets the reference; periods 2,3,4,5 leave 3,4,5
	assert.Equal(t, []float64{3, 4, 5}, w.Periods())

	st := w.Stats()
	assert.Equal(t, 3.0, st.MinMs)
	assert.Equal(t, 5.0, st.MaxMs)
	assert.InDelta(t, 4.0, st.MeanMs, 1e-9)
}

func TestCadenceWindow_Unstable(t *testing.T) {
	w := NewCadenceWindow(0, 0)
	at := time.Unix(0, 0)
	w.Mark(at)
	for _, p := range []time.Duration{1, 200, 1, 200} {
		at = at.Add(p * time.Millisecond)
		w.Mark(at)
	}
	assert.False(t, w.Stats().Stable)
}

func TestCadenceWindow_IgnoresNonMonotonicMarks(t *testing.T) {
	w := NewCadenceWindow(4, 0)
	at := time.Unix(10, 0)
	w.Mark(at)
	w.Mark(at)
	w.Mark(at.Add(-time.Second))
	assert.Empty(t, w.Periods())
}
