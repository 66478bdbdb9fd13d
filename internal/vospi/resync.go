package vospi

import (
	"time"

	"github.com/banshee-data/lepton.grabber/internal/monitoring"
	"github.com/banshee-data/lepton.grabber/internal/spidev"
	"github.com/banshee-data/lepton.grabber/internal/timeutil"
)

// DefaultResyncQuiet is the minimum time the chip must stay deselected for the
// sensor to restart its VoSPI state machine.
const DefaultResyncQuiet = 185 * time.Millisecond

const resyncTransferLen = 5

// Resynchronizer forces the sensor's packet counter back to packet zero.
type Resynchronizer struct {
	transport spidev.Transport
	clock     timeutil.Clock
	quiet     time.Duration
	log       monitoring.Verbosity
	buf       [resyncTransferLen]byte
}

// NewResynchronizer returns a Resynchronizer. A zero quiet period selects
// DefaultResyncQuiet and a nil clock the real clock.
func NewResynchronizer(t spidev.Transport, clock timeutil.Clock, quiet time.Duration, log monitoring.Verbosity) *Resynchronizer {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	if quiet <= 0 {
		quiet = DefaultResyncQuiet
	}
	return &Resynchronizer{transport: t, clock: clock, quiet: quiet, log: log}
}

// Quiet returns the configured quiet period.
func (r *Resynchronizer) Quiet() time.Duration { return r.quiet }

// Resync issues a short transfer that deselects the chip afterwards, then
// sleeps for the quiet period. It never fails: the transfer exists only to
// produce the deselect edge, so its error is logged and dropped.
func (r *Resynchronizer) Resync() {
	r.log.Infof("resync: deselecting for %v", r.quiet)
	if err := r.transport.Transfer(r.buf[:], true); err != nil {
		r.log.Debugf("resync transfer failed (ignored): %v", err)
	}
	r.clock.Sleep(r.quiet)
}
