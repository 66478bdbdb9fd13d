package cci

import (
	"encoding/binary"
	"fmt"
	"sync"
	"time"

	"github.com/banshee-data/lepton.grabber/internal/monitoring"
	"github.com/banshee-data/lepton.grabber/internal/timeutil"
)

// DefaultAddress is the sensor's fixed 7-bit I2C address.
const DefaultAddress = 0x2A

// Register map, 16-bit big-endian words.
const (
	regStatus     uint16 = 0x0002
	regCommand    uint16 = 0x0004
	regDataLength uint16 = 0x0006
	regData0      uint16 = 0x0008

	maxDataWords = 16
	statusBusy   = 0x0001
)

// Command types OR'ed into the command word.
const (
	typeGet uint16 = 0x0
	typeSet uint16 = 0x1
	typeRun uint16 = 0x2
)

// Command IDs (module base | command).
const (
	cmdSysPing          uint16 = 0x0200
	cmdSysFPATempKelvin uint16 = 0x0214
	cmdSysFFCNormalize  uint16 = 0x0240
	cmdRadEnableState   uint16 = 0x4E10
)

// Radiometry enable enum values.
const (
	radDisable uint32 = 0
	radEnable  uint32 = 1
)

// Bus is a register-addressed I2C connection to one device.
type Bus interface {
	Open() error
	Close() error
	Write(p []byte) error
	Read(p []byte) error
}

// LeptonOptions tunes the busy polling of a Lepton client.
type LeptonOptions struct {
	PollInterval time.Duration
	Timeout      time.Duration
	Clock        timeutil.Clock
	Log          monitoring.Verbosity
}

// Lepton is a Controller speaking the CCI register protocol over a Bus.
// Operations connect lazily and are serialized.
type Lepton struct {
	bus  Bus
	opts LeptonOptions

	mu        sync.Mutex
	connected bool
}

var _ Controller = (*Lepton)(nil)

// NewLepton returns an unconnected client.
func NewLepton(bus Bus, opts LeptonOptions) *Lepton {
	if opts.PollInterval <= 0 {
		opts.PollInterval = time.Millisecond
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 2 * time.Second
	}
	if opts.Clock == nil {
		opts.Clock = timeutil.RealClock{}
	}
	if opts.Log.Prefix == "" {
		opts.Log.Prefix = "[cci] "
	}
	return &Lepton{bus: bus, opts: opts}
}

func (l *Lepton) Connect() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.connectLocked()
}

func (l *Lepton) connectLocked() error {
	if l.connected {
		return nil
	}
	if err := l.bus.Open(); err != nil {
		l.opts.Log.Errorf("cannot connect CCI port: %v", err)
		return fmt.Errorf("%w: connect: %v", ErrControlChannel, err)
	}
	l.connected = true
	l.opts.Log.Infof("CCI port connected")
	return nil
}

func (l *Lepton) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.connected {
		return nil
	}
	l.connected = false
	return l.bus.Close()
}

func (l *Lepton) Ping() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.connectLocked(); err != nil {
		return err
	}
	return l.run("ping", cmdSysPing)
}

func (l *Lepton) FPATemperature() (float64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.connectLocked(); err != nil {
		return 0, err
	}
	data, err := l.get("fpa temperature", cmdSysFPATempKelvin, 1)
	if err != nil {
		return 0, err
	}
	k := float64(data[0]) / 100
	l.opts.Log.Infof("FPA temperature: %.2fK", k)
	return k, nil
}

func (l *Lepton) RunFFCNormalization() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.connectLocked(); err != nil {
		return err
	}
	return l.run("ffc normalization", cmdSysFFCNormalize)
}

func (l *Lepton) RadiometryEnabled() (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.connectLocked(); err != nil {
		return false, err
	}
	return l.radiometryLocked()
}

func (l *Lepton) radiometryLocked() (bool, error) {
	data, err := l.get("get radiometry", cmdRadEnableState, 2)
	if err != nil {
		return false, err
	}
	return words32(data) == radEnable, nil
}

func (l *Lepton) SetRadiometry(enable bool) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.connectLocked(); err != nil {
		return false, err
	}
	cur, err := l.radiometryLocked()
	if err != nil {
		return false, err
	}
	if cur == enable {
		return cur, nil
	}
	want := radDisable
	if enable {
		want = radEnable
	}
	if err := l.set("set radiometry", cmdRadEnableState, uint16(want), uint16(want>>16)); err != nil {
		return cur, err
	}
	l.opts.Log.Infof("radiometry enabled: %v", enable)
	return enable, nil
}

// get issues a GET command and reads n data words.
func (l *Lepton) get(op string, cmd uint16, n int) ([]uint16, error) {
	if _, err := l.waitIdle(op); err != nil {
		return nil, err
	}
	if err := l.writeReg(op, regDataLength, uint16(n)); err != nil {
		return nil, err
	}
	if err := l.execute(op, cmd|typeGet); err != nil {
		return nil, err
	}
	return l.readReg(op, regData0, n)
}

func (l *Lepton) set(op string, cmd uint16, data ...uint16) error {
	if len(data) > maxDataWords {
		return fmt.Errorf("%w: %s: %d data words", ErrControlChannel, op, len(data))
	}
	if _, err := l.waitIdle(op); err != nil {
		return err
	}
	if err := l.writeReg(op, regData0, data...); err != nil {
		return err
	}
	if err := l.writeReg(op, regDataLength, uint16(len(data))); err != nil {
		return err
	}
	return l.execute(op, cmd|typeSet)
}

func (l *Lepton) run(op string, cmd uint16) error {
	if _, err := l.waitIdle(op); err != nil {
		return err
	}
	if err := l.writeReg(op, regDataLength, 0); err != nil {
		return err
	}
	return l.execute(op, cmd|typeRun)
}

// execute writes the command word, waits for completion and checks the
// result code in the status high byte.
func (l *Lepton) execute(op string, word uint16) error {
	l.opts.Log.Debugf("%s: command 0x%04X", op, word)
	if err := l.writeReg(op, regCommand, word); err != nil {
		return err
	}
	status, err := l.waitIdle(op)
	if err != nil {
		return err
	}
	if code := int8(status >> 8); code != 0 {
		l.opts.Log.Errorf("%s failed: result %d", op, code)
		return &ResultError{Op: op, Code: code}
	}
	return nil
}

func (l *Lepton) waitIdle(op string) (uint16, error) {
	start := l.opts.Clock.Now()
	for {
		words, err := l.readReg(op, regStatus, 1)
		if err != nil {
			return 0, err
		}
		if words[0]&statusBusy == 0 {
			return words[0], nil
		}
		if l.opts.Clock.Since(start) >= l.opts.Timeout {
			return 0, fmt.Errorf("%w: %s: sensor busy for %v", ErrControlChannel, op, l.opts.Timeout)
		}
		l.opts.Clock.Sleep(l.opts.PollInterval)
	}
}

func (l *Lepton) writeReg(op string, reg uint16, words ...uint16) error {
	buf := make([]byte, 2+2*len(words))
	binary.BigEndian.PutUint16(buf, reg)
	for i, w := range words {
		binary.BigEndian.PutUint16(buf[2+2*i:], w)
	}
	if err := l.bus.Write(buf); err != nil {
		return fmt.Errorf("%w: %s: write 0x%04X: %v", ErrControlChannel, op, reg, err)
	}
	return nil
}

func (l *Lepton) readReg(op string, reg uint16, n int) ([]uint16, error) {
	var addr [2]byte
	binary.BigEndian.PutUint16(addr[:], reg)
	if err := l.bus.Write(addr[:]); err != nil {
		return nil, fmt.Errorf("%w: %s: address 0x%04X: %v", ErrControlChannel, op, reg, err)
	}
	buf := make([]byte, 2*n)
	if err := l.bus.Read(buf); err != nil {
		return nil, fmt.Errorf("%w: %s: read 0x%04X: %v", ErrControlChannel, op, reg, err)
	}
	out := make([]uint16, n)
	for i := range out {
		out[i] = binary.BigEndian.Uint16(buf[2*i:])
	}
	return out, nil
}

// words32 joins a 32-bit value sent least significant word first.
func words32(w []uint16) uint32 {
	return uint32(w[0]) | uint32(w[1])<<16
}
