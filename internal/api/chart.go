package api

import (
	"bytes"
	"fmt"
	"net/http"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/banshee-data/posture.report/internal/db"
	"github.com/banshee-data/posture.report/internal/httputil"
	"github.com/banshee-data/posture.report/internal/units"
)

const echartsAssetsHost = "https://go-echarts.github.io/go-echarts-assets/assets/"

// handleSessionChart renders the session's window angles and the time spent
// in each label as an HTML page.
func (s *Server) handleSessionChart(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.lookupSession(w, r)
	if !ok {
		return
	}
	windows, err := s.db.ListWindows(r.Context(), sess.ID, maxWindowLimit)
	if err != nil {
		httputil.InternalServerError(w, err.Error())
		return
	}

	var buf bytes.Buffer
	if err := renderSessionChart(&buf, sess, windows); err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("failed to render chart: %v", err))
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(buf.Bytes())
}

func renderSessionChart(buf *bytes.Buffer, sess *db.Session, windows []*db.PostureWindow) error {
	x := make([]string, 0, len(windows))
	angles := make([]opts.LineData, 0, len(windows))
	baselines := make([]opts.LineData, 0, len(windows))
	for _, win := range windows {
		x = append(x, win.Start.Format("15:04:05"))
		if win.AngleDeg != nil {
			angles = append(angles, opts.LineData{Value: *win.AngleDeg, Name: win.Label})
		} else {
			// Gap for insufficient windows.
			angles = append(angles, opts.LineData{Value: nil, Name: win.Label})
		}
		baselines = append(baselines, opts.LineData{Value: win.Baseline})
	}

	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "Posture Session", Width: "100%", Height: "480px", AssetsHost: echartsAssetsHost}),
		charts.WithTitleOpts(opts.Title{Title: "Spine angle per window", Subtitle: fmt.Sprintf("session=%s windows=%d", sess.ID, len(windows))}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true)}),
		charts.WithYAxisOpts(opts.YAxis{Name: "deg", NameLocation: "middle", NameGap: 30}),
	)
	line.SetXAxis(x).
		AddSeries("relative angle", angles).
		AddSeries("baseline", baselines)

	bar := charts.NewBar()
	bar.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{Width: "100%", Height: "360px", AssetsHost: echartsAssetsHost}),
		charts.WithTitleOpts(opts.Title{Title: "Time per label", Subtitle: "minutes"}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
	)
	bar.SetXAxis([]string{"good", "mild", "bad", "insufficient"}).
		AddSeries("minutes", []opts.BarData{
			{Value: units.Minutes(sess.GoodMs)},
			{Value: units.Minutes(sess.MildMs)},
			{Value: units.Minutes(sess.BadMs)},
			{Value: units.Minutes(sess.InsufficientMs)},
		}, charts.WithLabelOpts(opts.Label{Show: opts.Bool(true), Position: "top"}))

	page := components.NewPage()
	page.SetAssetsHost(echartsAssetsHost)
	page.AddCharts(line, bar)
	return page.Render(buf)
}
