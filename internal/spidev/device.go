package spidev

import (
	"fmt"
	"runtime"
	"sync"
	"unsafe"

	"github.com/banshee-data/lepton.grabber/internal/monitoring"
)

// ioctl request numbers from linux/spi/spidev.h ('k' magic).
const (
	spiIocWrMode        = 0x40016b01
	spiIocRdMode        = 0x80016b01
	spiIocWrBitsPerWord = 0x40016b03
	spiIocRdBitsPerWord = 0x80016b03
	spiIocWrMaxSpeedHz  = 0x40046b04
	spiIocRdMaxSpeedHz  = 0x80046b04
	spiIocMessage1      = 0x40206b00 // SPI_IOC_MESSAGE(1)
)

// iocTransfer mirrors struct spi_ioc_transfer (32 bytes).
type iocTransfer struct {
	txBuf          uint64
	rxBuf          uint64
	length         uint32
	speedHz        uint32
	delayUsecs     uint16
	bitsPerWord    uint8
	csChange       uint8
	txNbits        uint8
	rxNbits        uint8
	wordDelayUsecs uint8
	pad            uint8
}

// syscaller is the narrow OS surface used by Device. It is replaced in tests.
type syscaller interface {
	open(path string) (int, error)
	ioctl(fd int, req uintptr, arg unsafe.Pointer) error
	close(fd int) error
}

// Device is a Transport backed by a spidev character device.
type Device struct {
	path string
	opts PortOptions
	sys  syscaller
	log  monitoring.Verbosity

	mu sync.Mutex
	fd int
}

// NewDevice returns an unopened Device for path. The options are validated
// here so that Open only fails on driver errors.
func NewDevice(path string, opts PortOptions, log monitoring.Verbosity) (*Device, error) {
	if path == "" {
		path = DefaultDevice
	}
	normalized, err := opts.Normalize()
	if err != nil {
		return nil, err
	}
	if log.Prefix == "" {
		log.Prefix = "[spidev] "
	}
	return &Device{
		path: path,
		opts: normalized,
		sys:  osSyscaller{},
		log:  log,
		fd:   -1,
	}, nil
}

// Path returns the device path.
func (d *Device) Path() string { return d.path }

// Options returns the normalized bus configuration.
func (d *Device) Options() PortOptions { return d.opts }

func (d *Device) IsOpen() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.fd >= 0
}

// Open opens the device read/write and applies mode, word size and clock
// speed, writing each value and reading it back.
func (d *Device) Open() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.fd >= 0 {
		return nil
	}

	d.log.Infof("opening SPI device %s (%s)", d.path, d.opts)
	fd, err := d.sys.open(d.path)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrOpen, d.path, err)
	}

	mode := uint8(d.opts.Mode)
	bits := d.opts.BitsPerWord
	speed := d.opts.SpeedHz
	steps := []struct {
		name string
		req  uintptr
		arg  unsafe.Pointer
	}{
		{"mode (WR)", spiIocWrMode, unsafe.Pointer(&mode)},
		{"mode (RD)", spiIocRdMode, unsafe.Pointer(&mode)},
		{"bits per word (WR)", spiIocWrBitsPerWord, unsafe.Pointer(&bits)},
		{"bits per word (RD)", spiIocRdBitsPerWord, unsafe.Pointer(&bits)},
		{"max speed (WR)", spiIocWrMaxSpeedHz, unsafe.Pointer(&speed)},
		{"max speed (RD)", spiIocRdMaxSpeedHz, unsafe.Pointer(&speed)},
	}
	for _, step := range steps {
		if err := d.sys.ioctl(fd, step.req, step.arg); err != nil {
			_ = d.sys.close(fd)
			return fmt.Errorf("%w: %s: could not set SPI %s: %v", ErrOpen, d.path, step.name, err)
		}
	}

	d.log.Infof("SPI mode %d, %d bits per word, max speed %d Hz", mode, bits, speed)
	d.fd = fd
	return nil
}

// Transfer performs one SPI_IOC_MESSAGE(1) receiving len(buf) bytes. Zeros are
// clocked out on MOSI.
func (d *Device) Transfer(buf []byte, forceDeselect bool) error {
	d.mu.Lock()
	fd := d.fd
	d.mu.Unlock()

	if fd < 0 {
		return ErrNotOpen
	}
	if len(buf) == 0 {
		return nil
	}

	tr := iocTransfer{
		rxBuf:       uint64(uintptr(unsafe.Pointer(&buf[0]))),
		length:      uint32(len(buf)),
		speedHz:     d.opts.SpeedHz,
		delayUsecs:  d.opts.DelayUsecs,
		bitsPerWord: d.opts.BitsPerWord,
	}
	if forceDeselect {
		tr.csChange = 1
	}

	err := d.sys.ioctl(fd, spiIocMessage1, unsafe.Pointer(&tr))
	runtime.KeepAlive(buf)
	if err != nil {
		return fmt.Errorf("%w: %d bytes: %v", ErrIO, len(buf), err)
	}
	return nil
}

// Close releases the file descriptor. Errors are logged and returned.
func (d *Device) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.fd < 0 {
		return nil
	}
	fd := d.fd
	d.fd = -1
	if err := d.sys.close(fd); err != nil {
		d.log.Errorf("error closing SPI device [%d] %s: %v", fd, d.path, err)
		return err
	}
	return nil
}
