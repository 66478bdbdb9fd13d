package cci

import (
	"net/http"

	"tailscale.com/tsweb"

	"github.com/banshee-data/lepton.grabber/internal/httputil"
)

// Status is the control channel summary served on /debug/cci.
type Status struct {
	TemperatureK float64  `json:"fpa_temperature_k,omitempty"`
	TemperatureC float64  `json:"fpa_temperature_c,omitempty"`
	Radiometry   *bool    `json:"radiometry,omitempty"`
	Errors       []string `json:"errors,omitempty"`
}

// ReadStatus queries temperature and radiometry state. Failures are
// collected rather than returned so a partial status can still be shown.
func ReadStatus(c Controller) Status {
	var st Status
	if k, err := c.FPATemperature(); err != nil {
		st.Errors = append(st.Errors, err.Error())
	} else {
		st.TemperatureK = k
		st.TemperatureC = KelvinToCelsius(k)
	}
	if on, err := c.RadiometryEnabled(); err != nil {
		st.Errors = append(st.Errors, err.Error())
	} else {
		st.Radiometry = &on
	}
	return st
}

// AttachAdminRoutes registers control channel debug endpoints.
func AttachAdminRoutes(mux *http.ServeMux, c Controller) {
	debug := tsweb.Debugger(mux)

	debug.HandleFunc("cci", "sensor control channel status", func(w http.ResponseWriter, r *http.Request) {
		httputil.WriteJSONOK(w, ReadStatus(c))
	})

	debug.HandleSilentFunc("cci-ffc", func(w http.ResponseWriter, r *http.Request) {
		if !httputil.RequireMethod(w, r, http.MethodPost) {
			return
		}
		if err := c.RunFFCNormalization(); err != nil {
			httputil.BadGateway(w, err.Error())
			return
		}
		httputil.WriteJSONOK(w, map[string]string{"status": "ffc done"})
	})

	debug.HandleSilentFunc("cci-radiometry", func(w http.ResponseWriter, r *http.Request) {
		if !httputil.RequireMethod(w, r, http.MethodPost) {
			return
		}
		var enable bool
		switch r.FormValue("enable") {
		case "on", "true", "1":
			enable = true
		case "off", "false", "0":
		default:
			httputil.BadRequest(w, "enable must be on or off")
			return
		}
		got, err := c.SetRadiometry(enable)
		if err != nil {
			httputil.BadGateway(w, err.Error())
			return
		}
		httputil.WriteJSONOK(w, map[string]bool{"radiometry": got})
	})
}
