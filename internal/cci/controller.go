// Package cci talks to the Lepton command and control interface, the I2C
// side channel used for everything that is not video.
package cci

import (
	"errors"
	"fmt"
)

// ErrControlChannel marks every failed control operation. It never affects
// video acquisition.
var ErrControlChannel = errors.New("cci: control channel error")

// ErrDisabled is returned by DisabledController.
var ErrDisabled = fmt.Errorf("%w: control channel disabled", ErrControlChannel)

// Controller is the set of control operations the grabber uses. Every call
// is synchronous and is never retried.
type Controller interface {
	// Connect establishes the control session. It is idempotent.
	Connect() error
	Close() error
	Ping() error
	// FPATemperature returns the focal plane array temperature in kelvin.
	FPATemperature() (float64, error)
	RunFFCNormalization() error
	RadiometryEnabled() (bool, error)
	// SetRadiometry changes the radiometry state only when it differs from
	// enable and returns the resulting state.
	SetRadiometry(enable bool) (bool, error)
}

// ResultError carries a non-zero sensor result code.
type ResultError struct {
	Op   string
	Code int8
}

func (e *ResultError) Error() string {
	return fmt.Sprintf("cci: %s: result %d (%s)", e.Op, e.Code, resultName(e.Code))
}

func (e *ResultError) Unwrap() error { return ErrControlChannel }

func resultName(code int8) string {
	switch code {
	case 0:
		return "ok"
	case -1:
		return "error"
	case -2:
		return "not ready"
	case -3:
		return "range error"
	case -4:
		return "checksum error"
	case -5:
		return "bad argument pointer"
	case -6:
		return "data size error"
	case -7:
		return "undefined function"
	case -8:
		return "function not implemented"
	default:
		return "unknown"
	}
}

// KelvinToCelsius converts a kelvin reading.
func KelvinToCelsius(k float64) float64 { return k - 273.15 }

// DisabledController is used when no control bus is configured.
type DisabledController struct{}

func (DisabledController) Connect() error                   { return ErrDisabled }
func (DisabledController) Close() error                     { return nil }
func (DisabledController) Ping() error                      { return ErrDisabled }
func (DisabledController) FPATemperature() (float64, error) { return 0, ErrDisabled }
func (DisabledController) RunFFCNormalization() error       { return ErrDisabled }
func (DisabledController) RadiometryEnabled() (bool, error) { return false, ErrDisabled }
func (DisabledController) SetRadiometry(bool) (bool, error) { return false, ErrDisabled }
