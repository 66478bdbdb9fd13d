package cci

import (
	"encoding/binary"
	"errors"
	"sync"
)

// MockBus emulates the sensor's register file for testing the Lepton
// client without hardware.
type MockBus struct {
	mu sync.Mutex

	// FPATempCentiK is returned by the FPA temperature command.
	FPATempCentiK uint16
	// Radiometry is the radiometry enable state.
	Radiometry bool
	// Results forces a result code for a command word.
	Results map[uint16]int8
	// BusyPolls is the number of status reads reporting busy after each
	// command.
	BusyPolls int

	OpenError  error
	WriteError error
	ReadError  error

	open     bool
	opens    int
	pointer  uint16
	regs     map[uint16]uint16
	busyLeft int
	commands []uint16
	ffcRuns  int
}

var _ Bus = (*MockBus)(nil)

// NewMockBus returns a sensor at 300K with radiometry disabled.
func NewMockBus() *MockBus {
	return &MockBus{
		FPATempCentiK: 30000,
		Results:       map[uint16]int8{},
		regs:          map[uint16]uint16{},
	}
}

func (m *MockBus) Open() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.opens++
	if m.OpenError != nil {
		return m.OpenError
	}
	m.open = true
	return nil
}

func (m *MockBus) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.open = false
	return nil
}

func (m *MockBus) Write(p []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.open {
		return errBusClosed
	}
	if m.WriteError != nil {
		return m.WriteError
	}
	if len(p) < 2 || len(p)%2 != 0 {
		return errors.New("mock bus: malformed write")
	}
	reg := binary.BigEndian.Uint16(p)
	m.pointer = reg
	for i := 2; i < len(p); i += 2 {
		r := reg + uint16(i-2)
		m.regs[r] = binary.BigEndian.Uint16(p[i:])
		if r == regCommand {
			m.execute(m.regs[r])
		}
	}
	return nil
}

func (m *MockBus) Read(p []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.open {
		return errBusClosed
	}
	if m.ReadError != nil {
		return m.ReadError
	}
	for i := 0; i+1 < len(p); i += 2 {
		r := m.pointer + uint16(i)
		v := m.regs[r]
		if r == regStatus && m.busyLeft > 0 {
			m.busyLeft--
			v |= statusBusy
		}
		binary.BigEndian.PutUint16(p[i:], v)
	}
	return nil
}

func (m *MockBus) execute(word uint16) {
	m.commands = append(m.commands, word)
	code, forced := m.Results[word]
	if !forced {
		switch word {
		case cmdSysPing | typeRun:
		case cmdSysFPATempKelvin | typeGet:
			m.regs[regData0] = m.FPATempCentiK
		case cmdSysFFCNormalize | typeRun:
			m.ffcRuns++
		case cmdRadEnableState | typeGet:
			v := radDisable
			if m.Radiometry {
				v = radEnable
			}
			m.regs[regData0] = uint16(v)
			m.regs[regData0+2] = uint16(v >> 16)
		case cmdRadEnableState | typeSet:
			v := uint32(m.regs[regData0]) | uint32(m.regs[regData0+2])<<16
			m.Radiometry = v == radEnable
		default:
			code = -7
		}
	}
	m.regs[regStatus] = uint16(uint8(code)) << 8
	m.busyLeft = m.BusyPolls
}

// Commands returns the command words executed so far.
func (m *MockBus) Commands() []uint16 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]uint16(nil), m.commands...)
}

// FFCRuns returns how many FFC normalizations ran.
func (m *MockBus) FFCRuns() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ffcRuns
}

// Opens returns how many times Open was called.
func (m *MockBus) Opens() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.opens
}

// MockController is a Controller with canned answers and a call log.
type MockController struct {
	mu sync.Mutex

	TemperatureK float64
	Radiometry   bool
	Err          error

	calls []string
}

var _ Controller = (*MockController)(nil)

func (m *MockController) record(call string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, call)
	return m.Err
}

// Calls returns the operations invoked so far.
func (m *MockController) Calls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.calls...)
}

func (m *MockController) Connect() error { return m.record("connect") }
func (m *MockController) Close() error   { return m.record("close") }
func (m *MockController) Ping() error    { return m.record("ping") }

func (m *MockController) FPATemperature() (float64, error) {
	if err := m.record("fpa_temperature"); err != nil {
		return 0, err
	}
	return m.TemperatureK, nil
}

func (m *MockController) RunFFCNormalization() error { return m.record("ffc") }

func (m *MockController) RadiometryEnabled() (bool, error) {
	if err := m.record("radiometry"); err != nil {
		return false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.Radiometry, nil
}

func (m *MockController) SetRadiometry(enable bool) (bool, error) {
	if err := m.record("set_radiometry"); err != nil {
		return false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Radiometry = enable
	return enable, nil
}
