package main

import (
	"fmt"
	"io"

	"github.com/banshee-data/lepton.grabber/internal/cci"
)

// controlRequest lists the one-shot control channel operations requested on
// the command line.
type controlRequest struct {
	Temperature bool
	FFC         bool
	Radiometry  string
}

// runControl performs the requested operations in order: radiometry, FFC,
// then temperature, and writes one line per result to out.
func runControl(out io.Writer, c cci.Controller, req controlRequest) error {
	if err := c.Connect(); err != nil {
		return err
	}
	if req.Radiometry != "" {
		enable, err := parseRadiometry(req.Radiometry)
		if err != nil {
			return err
		}
		state, err := c.SetRadiometry(enable)
		if err != nil {
			return fmt.Errorf("set radiometry: %w", err)
		}
		fmt.Fprintf(out, "radiometry: %s\n", onOff(state))
	}
	if req.FFC {
		if err := c.RunFFCNormalization(); err != nil {
			return fmt.Errorf("ffc: %w", err)
		}
		fmt.Fprintln(out, "ffc: done")
	}
	if req.Temperature {
		k, err := c.FPATemperature()
		if err != nil {
			return fmt.Errorf("fpa temperature: %w", err)
		}
		fmt.Fprintf(out, "fpa temperature: %.2f K (%.2f C)\n", k, cci.KelvinToCelsius(k))
	}
	return nil
}

func onOff(b bool) string {
	if b {
		return "on"
	}
	return "off"
}
