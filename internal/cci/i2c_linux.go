//go:build linux

package cci

import "golang.org/x/sys/unix"

type osI2C struct{}

func (osI2C) open(path string) (int, error) {
	return unix.Open(path, unix.O_RDWR|unix.O_CLOEXEC, 0)
}

func (osI2C) setAddress(fd int, addr uint16) error {
	return unix.IoctlSetInt(fd, unix.I2C_SLAVE, int(addr))
}

func (osI2C) read(fd int, p []byte) (int, error)  { return unix.Read(fd, p) }
func (osI2C) write(fd int, p []byte) (int, error) { return unix.Write(fd, p) }
func (osI2C) close(fd int) error                  { return unix.Close(fd) }
