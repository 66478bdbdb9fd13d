package cci

import (
	"errors"
	"fmt"
	"io"
	"sync"
)

// DefaultI2CDevice is the bus the sensor breakout is usually wired to.
const DefaultI2CDevice = "/dev/i2c-1"

var errBusClosed = errors.New("i2c bus not open")

type i2cSyscaller interface {
	open(path string) (int, error)
	setAddress(fd int, addr uint16) error
	read(fd int, p []byte) (int, error)
	write(fd int, p []byte) (int, error)
	close(fd int) error
}

// I2CBus is a Bus on a Linux i2c-dev character device.
type I2CBus struct {
	path string
	addr uint16
	sys  i2cSyscaller

	mu sync.Mutex
	fd int
}

var _ Bus = (*I2CBus)(nil)

// NewI2CBus returns an unopened bus for the device at addr.
func NewI2CBus(path string, addr uint16) *I2CBus {
	if path == "" {
		path = DefaultI2CDevice
	}
	if addr == 0 {
		addr = DefaultAddress
	}
	return &I2CBus{path: path, addr: addr, sys: osI2C{}, fd: -1}
}

// Path returns the device path.
func (b *I2CBus) Path() string { return b.path }

func (b *I2CBus) Open() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.fd >= 0 {
		return nil
	}
	fd, err := b.sys.open(b.path)
	if err != nil {
		return fmt.Errorf("open %s: %w", b.path, err)
	}
	if err := b.sys.setAddress(fd, b.addr); err != nil {
		_ = b.sys.close(fd)
		return fmt.Errorf("%s: select address 0x%02X: %w", b.path, b.addr, err)
	}
	b.fd = fd
	return nil
}

func (b *I2CBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.fd < 0 {
		return nil
	}
	fd := b.fd
	b.fd = -1
	return b.sys.close(fd)
}

func (b *I2CBus) Write(p []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.fd < 0 {
		return errBusClosed
	}
	n, err := b.sys.write(b.fd, p)
	if err != nil {
		return err
	}
	if n != len(p) {
		return io.ErrShortWrite
	}
	return nil
}

func (b *I2CBus) Read(p []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.fd < 0 {
		return errBusClosed
	}
	n, err := b.sys.read(b.fd, p)
	if err != nil {
		return err
	}
	if n != len(p) {
		return io.ErrUnexpectedEOF
	}
	return nil
}
