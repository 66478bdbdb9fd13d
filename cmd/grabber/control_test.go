package main

import (
	"bytes"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/lepton.grabber/internal/cci"
)

func TestRunControl(t *testing.T) {
	c := &cci.MockController{TemperatureK: 300.15}
	var out bytes.Buffer

	require.NoError(t, runControl(&out, c, controlRequest{
		Temperature: true,
		FFC:         true,
		Radiometry:  "on",
	}))

	want := []string{"connect", "set_radiometry", "ffc", "fpa_temperature"}
	if diff := cmp.Diff(want, c.Calls()); diff != "" {
		t.Errorf("calls mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, "radiometry: on\nffc: done\nfpa temperature: 300.15 K (27.00 C)\n", out.String())
}

func TestRunControl_Errors(t *testing.T) {
	var out bytes.Buffer

	c := &cci.MockController{Err: errors.New("nack")}
	assert.ErrorContains(t, runControl(&out, c, controlRequest{FFC: true}), "nack")

	err := runControl(&out, cci.DisabledController{}, controlRequest{Temperature: true})
	assert.ErrorIs(t, err, cci.ErrDisabled)

	c = &cci.MockController{}
	assert.Error(t, runControl(&out, c, controlRequest{Radiometry: "sideways"}))
	assert.Empty(t, out.String())
}
