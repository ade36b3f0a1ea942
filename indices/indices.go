// Package indices merges the per-year global connectivity indices written
// by Graphab into one table per habitat and one per case study.
package indices

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	log "github.com/sirupsen/logrus"

	"github.com/ad4gd/bioconn/catalogue"
	"github.com/ad4gd/bioconn/chart"
	"github.com/ad4gd/bioconn/crawl"
	"github.com/ad4gd/bioconn/graphab"
	"github.com/ad4gd/bioconn/table"
)

const (
	ConcatTxt   = "concat_glob.txt"
	ConcatCsv   = "concat_glob.csv"
	CombinedCsv = "stats_glob.csv"
	PlotTitle   = "Dynamics of global indices"
)

// globPattern selects the Graphab global index tables, glob*.txt.
const globPattern = `type == 'd' || (name =~ '^glob' && name =~ '[.]txt$')`

func globFiles(dir string) ([]string, error) {
	entries, err := crawl.Files(dir, globPattern)
	if err != nil {
		return nil, err
	}
	var files []string
	for _, e := range entries {
		files = append(files, e.Path)
	}
	return files, nil
}

// AppendYear writes a year column into every glob_{metric}_{year}*.txt
// below dir. Files with fewer than three name parts are left untouched.
func AppendYear(dir string) error {
	files, err := globFiles(dir)
	if err != nil {
		return err
	}
	for _, path := range files {
		parts := strings.Split(strings.TrimSuffix(filepath.Base(path), ".txt"), "_")
		if len(parts) < 3 {
			continue
		}
		tbl, err := table.Read(path, table.Tab)
		if err != nil {
			return err
		}
		tbl.SetColumn("year", parts[2])
		if err = tbl.Write(path, table.Tab); err != nil {
			return err
		}
		log.Infof("Processed %s with year %s", path, parts[2])
	}
	return nil
}

// MetricName is the second _ separated part of a glob file name.
func MetricName(file string) string {
	parts := strings.Split(file, "_")
	if len(parts) < 2 {
		return "Unknown"
	}
	return parts[1]
}

type rowKey [6]string

func keyOf(metric string, row []string) (rowKey, error) {
	switch metric {
	case "EC", "PC":
		if len(row) < 6 {
			return rowKey{}, fmt.Errorf("%d columns, need 6", len(row))
		}
		return rowKey{row[0], row[1], row[2], row[3], row[4], row[5]}, nil
	case "IIC", "NC":
		if len(row) < 3 {
			return rowKey{}, fmt.Errorf("%d columns, need 3", len(row))
		}
		return rowKey{row[0], "", "", "", row[1], row[2]}, nil
	}
	return rowKey{}, fmt.Errorf("unknown metric %s", metric)
}

// Concat merges every glob*.txt below dir into concat_glob.txt and
// concat_glob.csv in dir and returns the csv path. Rows sharing a key keep
// the position of their first occurrence and the metric of the last one.
// Column names come from the last table with at least six columns.
func Concat(dir, caseStudy string) (string, error) {
	files, err := globFiles(dir)
	if err != nil {
		return "", err
	}
	if len(files) == 0 {
		return "", fmt.Errorf("no global index tables in %s", dir)
	}

	var keys []rowKey
	metrics := make(map[rowKey]string)
	var header []string
	for _, path := range files {
		log.Infof("Processing: %s...", filepath.Base(path))
		tbl, err := table.Read(path, table.Tab)
		if err != nil {
			return "", err
		}
		if len(tbl.Columns) >= 6 || header == nil {
			header = tbl.Columns
		}

		metric := MetricName(filepath.Base(path))
		for i, row := range tbl.Rows {
			key, err := keyOf(metric, row)
			if err != nil {
				log.Warnf("Skipping row %d of %s: %v", i+1, path, err)
				continue
			}
			if _, ok := metrics[key]; !ok {
				keys = append(keys, key)
			}
			metrics[key] = metric
		}
	}

	columns := make([]string, 6)
	for i := range columns {
		if i < len(header) {
			columns[i] = header[i]
		} else {
			columns[i] = "col" + strconv.Itoa(i)
		}
	}
	columns[4] = "metric_val"

	out := table.New(append(columns, "metric", "case_study")...)
	for _, key := range keys {
		out.Append(append(key[:], metrics[key], caseStudy)...)
	}

	if err = out.Write(filepath.Join(dir, ConcatTxt), table.Tab); err != nil {
		return "", err
	}
	csvPath := filepath.Join(dir, ConcatCsv)
	if err = out.Write(csvPath, table.Comma); err != nil {
		return "", err
	}
	log.Infof("Global indices concatenated and saved to %s", csvPath)
	return csvPath, nil
}

// Combine stacks the concatenated tables of several habitats into
// outDir/stats_glob.csv, naming each habitat after the table's directory.
func Combine(paths []string, outDir string) (string, error) {
	if len(paths) == 0 {
		return "", fmt.Errorf("no tables to combine")
	}
	tables := make([]*table.Table, 0, len(paths))
	for _, path := range paths {
		tbl, err := table.Read(path, table.Comma)
		if err != nil {
			return "", err
		}
		tbl.SetColumn("habitat", filepath.Base(filepath.Dir(path)))
		tables = append(tables, tbl)
	}

	out := filepath.Join(outDir, CombinedCsv)
	if err := table.Concat(tables...).Write(out, table.Comma); err != nil {
		return "", err
	}
	log.Infof("Combined data saved to %s", out)
	return out, nil
}

// Panels groups a combined table by metric. Lines follow habitats when
// byHabitat is set, otherwise there is one line per metric.
func Panels(tbl *table.Table, byHabitat bool) []chart.Panel {
	b := chart.NewBuilder()
	for i := range tbl.Rows {
		metric := tbl.Value(i, "metric")
		year, err := strconv.ParseFloat(tbl.Value(i, "year"), 64)
		if err != nil {
			continue
		}
		val, err := strconv.ParseFloat(tbl.Value(i, "metric_val"), 64)
		if err != nil {
			continue
		}
		series := metric
		if byHabitat && tbl.Index("habitat") >= 0 {
			series = tbl.Value(i, "habitat")
		}
		b.Add(metric, series, year, val)
	}
	return b.Panels()
}

// Plot renders {csv}_plot.png and {csv}_plot.html and returns the png path.
func Plot(csvPath string, byHabitat bool) (string, error) {
	tbl, err := table.Read(csvPath, table.Comma)
	if err != nil {
		return "", err
	}
	panels := Panels(tbl, byHabitat)
	if len(panels) == 0 {
		return "", fmt.Errorf("%s has no plottable rows", csvPath)
	}

	base := strings.TrimSuffix(csvPath, filepath.Ext(csvPath)) + "_plot"
	if err = chart.RenderPNG(base+".png", PlotTitle, panels, false); err != nil {
		return "", err
	}
	if err = chart.RenderHTML(base+".html", PlotTitle, panels, false); err != nil {
		return "", err
	}
	return base + ".png", nil
}

// Recorder stores global index rows, see catalogue.Catalogue.
type Recorder interface {
	InsertGlobalIndex(ctx context.Context, runID string, row catalogue.GlobalIndex) error
}

type Step struct {
	DataDir   string
	ConfigDir string
	CleanTemp bool
	Catalogue Recorder
	RunID     string
}

type Result struct {
	Habitats []string
	Combined string
	Plot     string
}

// Run processes one case study: every habitat config gets its output
// directory merged, then the habitats are combined and plotted.
func (s *Step) Run(ctx context.Context, caseStudy string) (*Result, error) {
	log.Infof("Running case study: %s", caseStudy)
	configs, err := graphab.LoadCaseConfigs(filepath.Join(s.ConfigDir, caseStudy))
	if err != nil {
		return nil, err
	}

	res := &Result{}
	var csvPaths []string
	caseDir := filepath.Join(s.DataDir, caseStudy, "output")
	for _, cfg := range configs {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		habitatDir := filepath.Join(caseDir, cfg.Habitat)
		if err := AppendYear(habitatDir); err != nil {
			return res, fmt.Errorf("habitat %s: %w", cfg.Habitat, err)
		}
		csvPath, err := Concat(habitatDir, caseStudy)
		if err != nil {
			return res, fmt.Errorf("habitat %s: %w", cfg.Habitat, err)
		}
		csvPaths = append(csvPaths, csvPath)
		res.Habitats = append(res.Habitats, cfg.Habitat)
	}

	res.Combined, err = Combine(csvPaths, caseDir)
	if err != nil {
		return res, err
	}

	res.Plot, err = Plot(res.Combined, len(configs) > 1)
	if err != nil {
		log.Errorf("Plot creation failed: %v", err)
	} else {
		log.Infof("Plot successfully created and saved to: %s", res.Plot)
	}

	if s.Catalogue != nil {
		if err = s.record(ctx, res.Combined); err != nil {
			log.Errorf("Catalogue update failed: %v", err)
		}
	}

	if s.CleanTemp {
		s.clean(caseDir)
	}
	return res, nil
}

func (s *Step) record(ctx context.Context, combined string) error {
	tbl, err := table.Read(combined, table.Comma)
	if err != nil {
		return err
	}
	for i := range tbl.Rows {
		row := catalogue.GlobalIndex{
			CaseStudy: tbl.Value(i, "case_study"),
			Habitat:   tbl.Value(i, "habitat"),
			Metric:    tbl.Value(i, "metric"),
			Year:      tbl.Value(i, "year"),
			Value:     tbl.Value(i, "metric_val"),
		}
		if err = s.Catalogue.InsertGlobalIndex(ctx, s.RunID, row); err != nil {
			return err
		}
	}
	return nil
}

// clean removes the per-year glob*.txt tables once merged.
func (s *Step) clean(dir string) {
	files, err := globFiles(dir)
	if err != nil {
		log.Errorf("Listing temporary files in %s: %v", dir, err)
		return
	}
	for _, path := range files {
		log.Infof("Deleting file: %s", path)
		if err := os.Remove(path); err != nil {
			log.Errorf("Deleting %s: %v", path, err)
		}
	}
}
