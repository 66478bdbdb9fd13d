package vospi

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/banshee-data/lepton.grabber/internal/monitoring"
	"github.com/banshee-data/lepton.grabber/internal/spidev"
	"github.com/banshee-data/lepton.grabber/internal/timeutil"
)

var (
	// ErrAlreadyRunning is returned by Start when the acquisition task is
	// already running.
	ErrAlreadyRunning = errors.New("vospi: grabber already running")
	// ErrNotRunning is returned by operations that need a running task.
	ErrNotRunning = errors.New("vospi: grabber not running")
)

// RunState is the lifecycle state of the acquisition task.
type RunState int32

const (
	Stopped RunState = iota
	Running
	Stopping
)

func (s RunState) String() string {
	switch s {
	case Running:
		return "running"
	case Stopping:
		return "stopping"
	default:
		return "stopped"
	}
}

// MarshalText renders the state name in JSON.
func (s RunState) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// Config configures a Grabber. Zero values select defaults.
type Config struct {
	Geometry        Geometry
	ResyncThreshold int
	ResyncQuiet     time.Duration
	StrictSequence  bool
	Clock           timeutil.Clock
	Log             monitoring.Verbosity
	// StatsWindow is the number of cycle periods kept for cadence stats.
	StatsWindow int

	// OnFrame receives completed frames on the acquisition goroutine.
	OnFrame func(*Frame)
	// OnResync is called on the acquisition goroutine after each resync.
	OnResync func(failures int)
	// OnStop is called on the acquisition goroutine after the transport has
	// been closed, with the final stats. The grabber reports Stopped, and
	// accepts a new Start, only once OnStop has returned.
	OnStop func(Stats)
}

// Stats is a snapshot of the acquisition task.
type Stats struct {
	State    RunState     `json:"state"`
	Started  time.Time    `json:"started"`
	Current  State        `json:"current"`
	Counters Counters     `json:"counters"`
	Cadence  CadenceStats `json:"cadence"`
	Error    string       `json:"error,omitempty"`
}

// Grabber runs the acquisition loop on a dedicated goroutine.
type Grabber struct {
	transport spidev.Transport
	cfg       Config
	cadence   *CadenceWindow

	mu      sync.Mutex
	state   RunState
	cancel  context.CancelFunc
	done    chan struct{}
	err     error
	started time.Time

	resyncRequested atomic.Bool

	statsMu  sync.Mutex
	current  State
	counters Counters
}

// NewGrabber returns a stopped Grabber reading from t.
func NewGrabber(t spidev.Transport, cfg Config) (*Grabber, error) {
	if cfg.Geometry == (Geometry{}) {
		cfg.Geometry = DefaultGeometry()
	}
	if err := cfg.Geometry.Validate(); err != nil {
		return nil, err
	}
	if cfg.ResyncThreshold <= 0 {
		cfg.ResyncThreshold = DefaultResyncThreshold
	}
	if cfg.ResyncQuiet <= 0 {
		cfg.ResyncQuiet = DefaultResyncQuiet
	}
	if cfg.Clock == nil {
		cfg.Clock = timeutil.RealClock{}
	}
	if cfg.Log.Prefix == "" {
		cfg.Log.Prefix = "[vospi] "
	}
	return &Grabber{
		transport: t,
		cfg:       cfg,
		cadence:   NewCadenceWindow(cfg.StatsWindow, cfg.Geometry.SegmentPeriod()),
		done:      closedChan(),
	}, nil
}

func closedChan() chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}

// Start launches the acquisition task and waits until it has opened the
// transport. If the transport cannot be opened the task exits and Start
// returns the error. Starting a running grabber returns ErrAlreadyRunning.
func (g *Grabber) Start(ctx context.Context) error {
	g.mu.Lock()
	if g.state != Stopped {
		g.mu.Unlock()
		return ErrAlreadyRunning
	}
	runCtx, cancel := context.WithCancel(ctx)
	ready := make(chan error, 1)
	done := make(chan struct{})
	g.state = Running
	g.cancel = cancel
	g.done = done
	g.err = nil
	g.started = g.cfg.Clock.Now()
	g.resyncRequested.Store(false)
	g.mu.Unlock()

	go g.run(runCtx, ready, done)

	if err := <-ready; err != nil {
		<-done
		cancel()
		return err
	}
	return nil
}

// Stop requests cancellation and blocks until the acquisition task has
// closed the transport and exited. Stopping a stopped grabber is a no-op.
func (g *Grabber) Stop() {
	g.mu.Lock()
	if g.state == Running {
		g.state = Stopping
		g.cancel()
	}
	done := g.done
	g.mu.Unlock()

	<-done
}

// Done is closed when the current acquisition task exits.
func (g *Grabber) Done() <-chan struct{} {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.done
}

// Err returns the error that ended the last run, if any.
func (g *Grabber) Err() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.err
}

// RunState returns the lifecycle state.
func (g *Grabber) RunState() RunState {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state
}

// RequestResync asks the acquisition task to resync at the end of its
// current cycle.
func (g *Grabber) RequestResync() error {
	if g.RunState() != Running {
		return fmt.Errorf("cannot resync: grabber is %s: %w", g.RunState(), ErrNotRunning)
	}
	g.resyncRequested.Store(true)
	return nil
}

// Stats returns a consistent snapshot. It is safe to call from any goroutine.
func (g *Grabber) Stats() Stats {
	g.mu.Lock()
	st := Stats{State: g.state, Started: g.started}
	if g.err != nil {
		st.Error = g.err.Error()
	}
	g.mu.Unlock()

	g.statsMu.Lock()
	st.Current = g.current
	st.Counters = g.counters
	g.statsMu.Unlock()

	st.Cadence = g.cadence.Stats()
	return st
}

// CyclePeriods returns the recent cycle periods in milliseconds.
func (g *Grabber) CyclePeriods() []float64 {
	return g.cadence.Periods()
}

func (g *Grabber) run(ctx context.Context, ready chan<- error, done chan struct{}) {
	defer close(done)
	log := g.cfg.Log
	log.Infof("grabber task started")

	if err := g.transport.Open(); err != nil {
		log.Errorf("grabber task stopped on start: %v", err)
		g.finish(err)
		ready <- err
		return
	}
	ready <- nil

	asm := NewTransportAssembler(g.transport, g.cfg.ResyncQuiet, AssemblerConfig{
		Geometry:        g.cfg.Geometry,
		ResyncThreshold: g.cfg.ResyncThreshold,
		StrictSequence:  g.cfg.StrictSequence,
		Clock:           g.cfg.Clock,
		Log:             log,
		OnFrame:         g.cfg.OnFrame,
		OnResync:        g.cfg.OnResync,
	})
	g.publish(asm)

	for ctx.Err() == nil {
		res := asm.Tick(ctx)
		g.cadence.Mark(res.Started)

		if g.resyncRequested.Swap(false) && ctx.Err() == nil {
			asm.ForceResync()
		}
		g.publish(asm)
	}
	log.Infof("grabber task stopping")

	if err := g.transport.Close(); err != nil {
		log.Errorf("error closing transport: %v", err)
	}

	// Stopped is published only after OnStop, so a new run cannot start
	// while the hook is still reading this run's stats.
	if g.cfg.OnStop != nil {
		final := g.Stats()
		final.State = Stopped
		g.cfg.OnStop(final)
	}
	g.finish(nil)
	log.Infof("grabber task finished")
}

func (g *Grabber) publish(asm *Assembler) {
	g.statsMu.Lock()
	g.current = asm.State()
	g.counters = asm.Counters()
	g.statsMu.Unlock()
}

func (g *Grabber) finish(err error) {
	g.mu.Lock()
	g.state = Stopped
	g.err = err
	g.mu.Unlock()
}
