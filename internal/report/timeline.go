// Package report renders offline summaries of recorded sessions.
package report

import (
	"errors"
	"fmt"
	"image/color"
	"io"
	"strings"
	"time"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"

	"github.com/banshee-data/posture.report/internal/db"
	"github.com/banshee-data/posture.report/internal/units"
)

// ErrNoWindows is returned when a session has no window with an angle.
var ErrNoWindows = errors.New("session has no scored windows")

// Default image size.
const (
	DefaultWidth  = 14 * vg.Inch
	DefaultHeight = 6 * vg.Inch
)

var labelColors = map[string]color.RGBA{
	"good": {R: 0x2e, G: 0x9e, B: 0x44, A: 0xff},
	"mild": {R: 0xe0, G: 0xa1, B: 0x1b, A: 0xff},
	"bad":  {R: 0xd0, G: 0x34, B: 0x2c, A: 0xff},
}

var labelOrder = []string{"good", "mild", "bad"}

// Options controls rendering. Zero values use the defaults and UTC.
type Options struct {
	Width    vg.Length
	Height   vg.Length
	Location *time.Location
}

// Timeline plots each scored window's relative spine angle against minutes
// since the session started, coloured by label, with the baseline drawn as
// a line. Insufficient windows leave gaps.
func Timeline(sess *db.Session, windows []*db.PostureWindow, loc *time.Location) (*plot.Plot, error) {
	if loc == nil {
		loc = time.UTC
	}
	byLabel := make(map[string]plotter.XYs, len(labelOrder))
	baseline := make(plotter.XYs, 0, len(windows))
	for _, w := range windows {
		if w.AngleDeg == nil {
			continue
		}
		x := w.Start.Sub(sess.StartedAt).Minutes()
		byLabel[w.Label] = append(byLabel[w.Label], plotter.XY{X: x, Y: *w.AngleDeg})
		baseline = append(baseline, plotter.XY{X: x, Y: w.Baseline})
	}
	if len(baseline) == 0 {
		return nil, ErrNoWindows
	}

	p := plot.New()
	p.Title.Text = fmt.Sprintf("Session %s (%s, good %s, bad %s)", shortID(sess.ID),
		sess.StartedAt.In(loc).Format("2006-01-02 15:04 MST"),
		units.FormatMillis(sess.GoodMs), units.FormatMillis(sess.BadMs))
	p.X.Label.Text = "minutes since start"
	p.Y.Label.Text = "relative spine angle (deg)"
	p.Add(plotter.NewGrid())

	baseLine, err := plotter.NewLine(baseline)
	if err != nil {
		return nil, fmt.Errorf("baseline line: %w", err)
	}
	baseLine.Width = vg.Points(1)
	baseLine.Dashes = []vg.Length{vg.Points(4), vg.Points(2)}
	baseLine.Color = color.Gray{Y: 0x70}
	p.Add(baseLine)
	p.Legend.Add("baseline", baseLine)

	for _, label := range labelOrder {
		pts := byLabel[label]
		if len(pts) == 0 {
			continue
		}
		sc, err := plotter.NewScatter(pts)
		if err != nil {
			return nil, fmt.Errorf("%s scatter: %w", label, err)
		}
		sc.GlyphStyle.Color = labelColors[label]
		sc.GlyphStyle.Shape = draw.CircleGlyph{}
		sc.GlyphStyle.Radius = vg.Points(3)
		p.Add(sc)
		p.Legend.Add(fmt.Sprintf("%s (%d)", label, len(pts)), sc)
	}
	p.Legend.Top = true
	return p, nil
}

// WritePNG renders the session timeline to w.
func WritePNG(w io.Writer, sess *db.Session, windows []*db.PostureWindow, opts Options) error {
	p, err := Timeline(sess, windows, opts.Location)
	if err != nil {
		return err
	}
	if opts.Width <= 0 {
		opts.Width = DefaultWidth
	}
	if opts.Height <= 0 {
		opts.Height = DefaultHeight
	}
	wt, err := p.WriterTo(opts.Width, opts.Height, "png")
	if err != nil {
		return fmt.Errorf("png writer: %w", err)
	}
	if _, err := wt.WriteTo(w); err != nil {
		return fmt.Errorf("write png: %w", err)
	}
	return nil
}

func shortID(id string) string {
	if i := strings.IndexByte(id, '-'); i > 0 {
		return id[:i]
	}
	return id
}
