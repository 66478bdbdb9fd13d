//go:build linux

package spidev

import (
	"unsafe"

	"golang.org/x/sys/unix"
)

type osSyscaller struct{}

func (osSyscaller) open(path string) (int, error) {
	return unix.Open(path, unix.O_RDWR|unix.O_CLOEXEC, 0)
}

func (osSyscaller) ioctl(fd int, req uintptr, arg unsafe.Pointer) error {
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(fd), req, uintptr(arg))
	if errno != 0 {
		return errno
	}
	return nil
}

func (osSyscaller) close(fd int) error {
	return unix.Close(fd)
}
