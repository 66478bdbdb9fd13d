//go:build !linux

package spidev

import (
	"errors"
	"unsafe"
)

var errUnsupported = errors.New("spidev is only available on linux")

type osSyscaller struct{}

func (osSyscaller) open(string) (int, error)                 { return -1, errUnsupported }
func (osSyscaller) ioctl(int, uintptr, unsafe.Pointer) error { return errUnsupported }
func (osSyscaller) close(int) error                          { return nil }
