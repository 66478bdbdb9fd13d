//go:build !linux

package cci

import "errors"

var errUnsupported = errors.New("i2c-dev is only available on linux")

type osI2C struct{}

func (osI2C) open(string) (int, error)       { return -1, errUnsupported }
func (osI2C) setAddress(int, uint16) error   { return errUnsupported }
func (osI2C) read(int, []byte) (int, error)  { return 0, errUnsupported }
func (osI2C) write(int, []byte) (int, error) { return 0, errUnsupported }
func (osI2C) close(int) error                { return errUnsupported }
