package chart

import (
	"fmt"
	"image/color"
	"os"
	"sort"
	"strconv"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"
)

func hexColor(c color.Color) string {
	r, g, b, _ := c.RGBA()
	return fmt.Sprintf("#%02x%02x%02x", r>>8, g>>8, b>>8)
}

// RenderHTML writes the panels as a page of interactive line charts.
func RenderHTML(path, title string, panels []Panel, habitatColors bool) error {
	if len(panels) == 0 {
		return fmt.Errorf("nothing to plot")
	}

	page := components.NewPage()
	page.PageTitle = title

	for _, panel := range panels {
		seen := make(map[float64]bool)
		var xs []float64
		for _, s := range panel.Series {
			for _, pt := range s.Points {
				if !seen[pt.X] {
					seen[pt.X] = true
					xs = append(xs, pt.X)
				}
			}
		}
		sort.Float64s(xs)
		labels := make([]string, len(xs))
		for i, x := range xs {
			labels[i] = strconv.FormatFloat(x, 'f', -1, 64)
		}

		yAxis := opts.YAxis{Name: panel.YLabel}
		if panel.YMax > 0 {
			yAxis.Min = 0
			yAxis.Max = panel.YMax
		}

		line := charts.NewLine()
		line.SetGlobalOptions(
			charts.WithInitializationOpts(opts.Initialization{PageTitle: title, Width: "900px", Height: "400px"}),
			charts.WithTitleOpts(opts.Title{Title: panel.Title, Subtitle: title}),
			charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
			charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true), Right: "10%"}),
			charts.WithXAxisOpts(opts.XAxis{Name: "Year"}),
			charts.WithYAxisOpts(yAxis),
		)
		line.SetXAxis(labels)

		for j, s := range panel.Series {
			byX := make(map[float64]float64, len(s.Points))
			for _, pt := range s.Points {
				byX[pt.X] = pt.Y
			}
			data := make([]opts.LineData, len(xs))
			for i, x := range xs {
				if y, ok := byX[x]; ok {
					data[i] = opts.LineData{Value: y}
				} else {
					data[i] = opts.LineData{Value: "-"}
				}
			}

			c := hexColor(seriesColor(s.Name, j, habitatColors))
			line.AddSeries(s.Name, data,
				charts.WithLineChartOpts(opts.LineChart{ShowSymbol: opts.Bool(true), ConnectNulls: opts.Bool(true)}),
				charts.WithLineStyleOpts(opts.LineStyle{Type: "dashed", Color: c}),
				charts.WithItemStyleOpts(opts.ItemStyle{Color: c}),
			)
		}
		page.AddCharts(line)
	}

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err = page.Render(f); err != nil {
		f.Close()
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return f.Close()
}
