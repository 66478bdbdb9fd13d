// Package spidev provides the transport handle used to stream VoSPI packets
// from the sensor: a Linux spidev character device configured for a fixed bus
// mode, plus scripted and pcap-backed transports for tests and offline replay.
//
// A Transport is owned by a single goroutine. None of the implementations
// enforce a timeout on Transfer; a hung driver call blocks its caller.
package spidev

import (
	"errors"
	"fmt"
)

var (
	// ErrOpen reports that the device could not be opened or that the driver
	// rejected one of the configuration steps.
	ErrOpen = errors.New("spidev: open failed")

	// ErrIO reports a failed transfer.
	ErrIO = errors.New("spidev: transfer failed")

	// ErrNotOpen is returned by Transfer when the handle has not been opened.
	ErrNotOpen = fmt.Errorf("%w: device not open", ErrIO)
)

// Transport is a half of a VoSPI link: it opens the bus, performs fixed-length
// duplex transfers and releases the bus.
type Transport interface {
	// Open configures the bus. It is idempotent: calling it on an open
	// transport returns nil without reconfiguring.
	Open() error

	// Transfer clocks len(buf) bytes in from the device, overwriting buf.
	// When forceDeselect is set the chip select is released after the
	// transfer.
	Transfer(buf []byte, forceDeselect bool) error

	// Close releases the handle. Closing a closed transport is a no-op.
	Close() error

	// IsOpen reports whether Open has succeeded and Close has not been called.
	IsOpen() bool
}
