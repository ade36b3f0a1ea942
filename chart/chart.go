// Package chart renders per-metric time series as stacked PNG panels and
// as an HTML page.
package chart

import (
	"fmt"
	"image/color"
	"math"
	"os"
	"sort"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/plotutil"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"
	"gonum.org/v1/plot/vg/vgimg"
)

type Point struct {
	X float64
	Y float64
}

type Series struct {
	Name   string
	Points []Point
}

// Panel is one metric. YMax > 0 pins the y axis to [0, YMax].
type Panel struct {
	Title  string
	YLabel string
	YMax   float64
	Series []Series
}

// HabitatColors are the fixed line colours of the habitats.
var HabitatColors = map[string]color.Color{
	"aquatic":    color.RGBA{R: 0, G: 0, B: 255, A: 255},
	"forest":     color.RGBA{R: 0, G: 128, B: 0, A: 255},
	"herbaceous": color.RGBA{R: 255, G: 165, B: 0, A: 255},
	"woody":      color.RGBA{R: 144, G: 238, B: 144, A: 255},
	"shrubland":  color.RGBA{R: 165, G: 42, B: 42, A: 255},
}

const (
	panelWidth  = 10 * vg.Inch
	panelHeight = 5 * vg.Inch
)

// Builder groups rows into panels by metric and series by name.
type Builder struct {
	panels map[string]map[string][]Point
}

func NewBuilder() *Builder {
	return &Builder{panels: make(map[string]map[string][]Point)}
}

func (b *Builder) Add(metric, series string, x, y float64) {
	if math.IsNaN(x) || math.IsNaN(y) {
		return
	}
	if _, ok := b.panels[metric]; !ok {
		b.panels[metric] = make(map[string][]Point)
	}
	b.panels[metric][series] = append(b.panels[metric][series], Point{X: x, Y: y})
}

// Panels returns panels and series sorted by name with points sorted on x.
func (b *Builder) Panels() []Panel {
	metrics := make([]string, 0, len(b.panels))
	for m := range b.panels {
		metrics = append(metrics, m)
	}
	sort.Strings(metrics)

	panels := make([]Panel, 0, len(metrics))
	for _, m := range metrics {
		panel := Panel{Title: m, YLabel: "Value"}
		names := make([]string, 0, len(b.panels[m]))
		for name := range b.panels[m] {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			pts := append([]Point(nil), b.panels[m][name]...)
			sort.SliceStable(pts, func(i, j int) bool { return pts[i].X < pts[j].X })
			panel.Series = append(panel.Series, Series{Name: name, Points: pts})
		}
		panels = append(panels, panel)
	}
	return panels
}

func seriesColor(name string, idx int, named bool) color.Color {
	if named {
		if c, ok := HabitatColors[name]; ok {
			return c
		}
		return color.Black
	}
	return plotutil.Color(idx)
}

// yearTicks puts a labelled tick on every whole x value in range.
func yearTicks(xs []float64) plot.Ticker {
	return plot.TickerFunc(func(min, max float64) []plot.Tick {
		seen := make(map[float64]bool)
		var ticks []plot.Tick
		for _, x := range xs {
			if seen[x] || x < min || x > max {
				continue
			}
			seen[x] = true
			ticks = append(ticks, plot.Tick{Value: x, Label: fmt.Sprintf("%.0f", x)})
		}
		sort.Slice(ticks, func(i, j int) bool { return ticks[i].Value < ticks[j].Value })
		return ticks
	})
}

// RenderPNG draws one panel per metric stacked vertically. With
// habitatColors set, series use HabitatColors and black for unknown names.
func RenderPNG(path, title string, panels []Panel, habitatColors bool) error {
	if len(panels) == 0 {
		return fmt.Errorf("nothing to plot")
	}

	plots := make([][]*plot.Plot, len(panels))
	for i, panel := range panels {
		p := plot.New()
		p.Title.Text = panel.Title
		if i == 0 && len(title) > 0 {
			p.Title.Text = title + "\n" + panel.Title
		}
		p.Y.Label.Text = panel.YLabel
		if i == len(panels)-1 {
			p.X.Label.Text = "Year"
		}
		p.Add(plotter.NewGrid())
		p.Legend.Top = true
		p.Legend.Left = false

		var xs []float64
		for j, s := range panel.Series {
			pts := make(plotter.XYs, len(s.Points))
			for k, pt := range s.Points {
				pts[k] = plotter.XY{X: pt.X, Y: pt.Y}
				xs = append(xs, pt.X)
			}

			line, points, err := plotter.NewLinePoints(pts)
			if err != nil {
				return fmt.Errorf("panel %s series %s: %w", panel.Title, s.Name, err)
			}
			c := seriesColor(s.Name, j, habitatColors)
			line.Color = c
			line.Width = vg.Points(1.5)
			line.Dashes = []vg.Length{vg.Points(4), vg.Points(3)}
			points.Color = c
			points.Shape = draw.CircleGlyph{}

			p.Add(line, points)
			p.Legend.Add(s.Name, line, points)
		}
		p.X.Tick.Marker = yearTicks(xs)

		if panel.YMax > 0 {
			p.Y.Min = 0
			p.Y.Max = panel.YMax
		}
		plots[i] = []*plot.Plot{p}
	}

	img := vgimg.New(panelWidth, panelHeight*vg.Length(len(panels)))
	dc := draw.New(img)
	t := draw.Tiles{
		Rows:      len(panels),
		Cols:      1,
		PadX:      vg.Millimeter * 4,
		PadY:      vg.Millimeter * 6,
		PadTop:    vg.Millimeter * 4,
		PadBottom: vg.Millimeter * 4,
		PadLeft:   vg.Millimeter * 4,
		PadRight:  vg.Millimeter * 8,
	}

	canvases := plot.Align(plots, t, dc)
	for j := range plots {
		plots[j][0].Draw(canvases[j][0])
	}

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	png := vgimg.PngCanvas{Canvas: img}
	if _, err = png.WriteTo(f); err != nil {
		f.Close()
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return f.Close()
}
