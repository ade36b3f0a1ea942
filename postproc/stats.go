package postproc

import (
	"math"
	"strconv"
	"strings"

	"github.com/ad4gd/bioconn/chart"
	"github.com/ad4gd/bioconn/gdal"
	"github.com/ad4gd/bioconn/table"
)

const (
	StatsCsv    = "stats_loc.csv"
	ExtStatsCsv = "ext_stats_loc.csv"
	PlotTitle   = "Dynamics of local indices"
)

var StatsColumns = []string{"case_study", "habitat", "metric", "year", "min", "max", "mean", "stddev", "path"}

// StatsRow is one line of the local statistics table.
type StatsRow struct {
	Metadata
	gdal.Stats
	Path string
}

func formatFloat(v float64, valid bool) string {
	if !valid {
		return ""
	}
	return strconv.FormatFloat(v, 'g', -1, 64)
}

func (r *StatsRow) Record() []string {
	return []string{
		r.CaseStudy, r.Habitat, r.Metric, r.Year,
		formatFloat(r.Min, r.Valid), formatFloat(r.Max, r.Valid),
		formatFloat(r.Mean, r.Valid), formatFloat(r.StdDev, r.Valid),
		r.Path,
	}
}

// YLimit is the fixed upper bound of a metric axis, 0 when free.
func YLimit(metric string) float64 {
	m := strings.ToLower(metric)
	switch {
	case m == "ict":
		return 2.5
	case strings.Contains(m, "corridor") && !strings.Contains(m, "beta"):
		return 1
	}
	return 0
}

// LocalPanels plots the mean of every metric per habitat over the years
// for one case study. Rows without habitat, year or mean are left out.
func LocalPanels(tbl *table.Table, caseStudy string) []chart.Panel {
	b := chart.NewBuilder()
	for i := range tbl.Rows {
		if tbl.Value(i, "case_study") != caseStudy {
			continue
		}
		habitat := tbl.Value(i, "habitat")
		if len(habitat) == 0 {
			continue
		}
		year, err := strconv.ParseFloat(tbl.Value(i, "year"), 64)
		if err != nil {
			continue
		}
		mean, err := strconv.ParseFloat(tbl.Value(i, "mean"), 64)
		if err != nil {
			continue
		}
		b.Add(tbl.Value(i, "metric"), habitat, math.Trunc(year), mean)
	}

	panels := b.Panels()
	for i := range panels {
		panels[i].YMax = YLimit(panels[i].Title)
	}
	return panels
}
