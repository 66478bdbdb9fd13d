package vospi

import (
	"bytes"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
	"tailscale.com/tsweb"

	"github.com/banshee-data/lepton.grabber/internal/httputil"
)

// AttachAdminRoutes registers the grabber's debug pages under /debug/.
func (g *Grabber) AttachAdminRoutes(mux *http.ServeMux) {
	debug := tsweb.Debugger(mux)

	debug.HandleFunc("grabber", "acquisition loop state and counters", func(w http.ResponseWriter, r *http.Request) {
		httputil.WriteJSONOK(w, g.Stats())
	})

	debug.HandleSilentFunc("grabber-resync", func(w http.ResponseWriter, r *http.Request) {
		if !httputil.RequireMethod(w, r, http.MethodPost) {
			return
		}
		if err := g.RequestResync(); err != nil {
			httputil.Conflict(w, err.Error())
			return
		}
		httputil.WriteJSONOK(w, map[string]string{"status": "resync requested"})
	})

	debug.HandleFunc("grabber-chart", "recent acquisition cycle periods", g.handleCadenceChart)
	debug.HandleSilentFunc("grabber-hist.png", g.handleCadenceHistogram)
}

func (g *Grabber) handleCadenceChart(w http.ResponseWriter, r *http.Request) {
	periods := g.CyclePeriods()
	st := g.Stats()

	x := make([]int, len(periods))
	y := make([]opts.LineData, len(periods))
	for i, p := range periods {
		x[i] = i
		y[i] = opts.LineData{Value: p}
	}

	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "Lepton acquisition cadence", Width: "100%", Height: "520px"}),
		charts.WithTitleOpts(opts.Title{
			Title:    "Cycle period (ms)",
			Subtitle: fmt.Sprintf("state=%s frames=%d resyncs=%d mean=%.2fms rate=%.1fHz", st.State, st.Counters.Frames, st.Counters.Resyncs, st.Cadence.MeanMs, st.Cadence.Rate),
		}),
		charts.WithTooltipOpts(opts.Tooltip{Trigger: "axis"}),
	)
	line.SetXAxis(x).AddSeries("period", y)

	var buf bytes.Buffer
	if err := line.Render(&buf); err != nil {
		httputil.InternalServerError(w, "failed to render chart")
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write(buf.Bytes())
}

func (g *Grabber) handleCadenceHistogram(w http.ResponseWriter, r *http.Request) {
	periods := g.CyclePeriods()
	if len(periods) == 0 {
		httputil.NotFound(w, "no cycle samples yet")
		return
	}
	bins := 32
	if b := r.URL.Query().Get("bins"); b != "" {
		if v, err := strconv.Atoi(b); err == nil && v > 0 && v <= 256 {
			bins = v
		}
	}

	p := plot.New()
	p.Title.Text = "Acquisition cycle period"
	p.X.Label.Text = "ms"
	p.Y.Label.Text = "cycles"

	h, err := plotter.NewHist(plotter.Values(periods), bins)
	if err != nil {
		httputil.InternalServerError(w, "failed to build histogram")
		return
	}
	p.Add(h)

	wt, err := p.WriterTo(6*vg.Inch, 4*vg.Inch, "png")
	if err != nil {
		httputil.InternalServerError(w, "failed to render histogram")
		return
	}
	var buf bytes.Buffer
	if _, err := wt.WriteTo(&buf); err != nil {
		httputil.InternalServerError(w, "failed to render histogram")
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Write(buf.Bytes())
}
