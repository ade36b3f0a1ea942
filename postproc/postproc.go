// Package postproc prepares connectivity output rasters for publication:
// clipping to the LULC grid, nodata masking, statistics and COG
// conversion.
package postproc

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	log "github.com/sirupsen/logrus"

	"github.com/ad4gd/bioconn/catalogue"
	"github.com/ad4gd/bioconn/chart"
	"github.com/ad4gd/bioconn/crawl"
	"github.com/ad4gd/bioconn/gdal"
	"github.com/ad4gd/bioconn/graphab"
	"github.com/ad4gd/bioconn/table"
	"github.com/ad4gd/bioconn/worker"
)

// Recorder stores local statistics rows, see catalogue.Catalogue.
type Recorder interface {
	InsertLocalStats(ctx context.Context, runID string, row catalogue.LocalStat) error
}

type Step struct {
	Exec          worker.Executor
	GdalTranslate string
	Gdalinfo      string
	NoData        float64
	ClipSize      int
	COG           bool
	Pattern       string
	SkipDirs      []string
	Catalogue     Recorder
	RunID         string
}

// Source is one tree of rasters to process. Internal sources come from
// this pipeline and get the LULC nodata mask.
type Source struct {
	Base     string
	LulcDir  string
	StatsCsv string
	Internal bool
}

type Result struct {
	Processed []string
	Skipped   []string
	Failed    []string
	Plot      string
}

func (s *Step) skipDir(dir string) bool {
	base := strings.ToLower(filepath.Base(dir))
	for _, skip := range s.SkipDirs {
		if strings.Contains(base, strings.ToLower(skip)) {
			return true
		}
	}
	return false
}

// Targets lists the rasters below base accepted by the pattern whose
// directory is not skipped.
func (s *Step) Targets(base string) ([]string, error) {
	entries, err := crawl.Files(base, s.Pattern)
	if err != nil {
		return nil, err
	}
	var targets []string
	for _, e := range entries {
		if s.skipDir(e.Dir) {
			log.Debugf("Skipping %s in excluded folder", e.Path)
			continue
		}
		targets = append(targets, e.Path)
	}
	return targets, nil
}

// RunCaseStudy processes data/{cs}/output into stats_loc.csv and the
// external tree into ext_stats_loc.csv.
func (s *Step) RunCaseStudy(ctx context.Context, caseStudy, dataDir, extDir string) ([]*Result, error) {
	outputDir := filepath.Join(dataDir, caseStudy, "output")
	lulcDir := filepath.Join(dataDir, caseStudy, "input", "lulc")
	sources := []Source{
		{Base: outputDir, LulcDir: lulcDir, StatsCsv: filepath.Join(outputDir, StatsCsv), Internal: true},
		{Base: extDir, LulcDir: lulcDir, StatsCsv: filepath.Join(outputDir, ExtStatsCsv)},
	}

	var results []*Result
	for _, src := range sources {
		res, err := s.Run(ctx, caseStudy, src)
		results = append(results, res)
		if err != nil {
			return results, err
		}
	}
	return results, nil
}

// Run processes every target of one source. Failures of single rasters
// are logged and collected in the result.
func (s *Step) Run(ctx context.Context, caseStudy string, src Source) (*Result, error) {
	res := &Result{}
	if _, err := os.Stat(src.Base); errors.Is(err, os.ErrNotExist) {
		log.Infof("Nothing to postprocess, %s does not exist", src.Base)
		return res, nil
	}

	lulcTif := ""
	if lulcFiles, err := crawl.ListDir(src.LulcDir, ".tif"); err == nil && len(lulcFiles) > 0 {
		lulcTif = lulcFiles[0]
	}

	if err := os.Remove(src.StatsCsv); err != nil && !errors.Is(err, os.ErrNotExist) {
		return res, err
	}
	if err := os.MkdirAll(filepath.Dir(src.StatsCsv), 0755); err != nil {
		return res, err
	}

	targets, err := s.Targets(src.Base)
	if err != nil {
		return res, fmt.Errorf("listing %s: %w", src.Base, err)
	}

	for _, path := range targets {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		name := strings.ToLower(filepath.Base(path))
		if !strings.Contains(name, "ict") && s.IsCOG(ctx, path) {
			log.Infof("Skipping COG file: %s", path)
			res.Skipped = append(res.Skipped, path)
			continue
		}
		if len(lulcTif) == 0 {
			log.Warnf("No LULC TIFF file found in %s. Skipping %s.", src.LulcDir, path)
			res.Skipped = append(res.Skipped, path)
			continue
		}

		log.Infof("Processing file: %s", path)
		if err := s.process(ctx, caseStudy, path, lulcTif, src); err != nil {
			log.Errorf("Postprocessing %s: %v", path, err)
			res.Failed = append(res.Failed, path)
			continue
		}
		res.Processed = append(res.Processed, path)
	}

	if len(res.Processed) > 0 {
		plot, err := Plot(src.StatsCsv, caseStudy)
		if err != nil {
			log.Warnf("No plot for %s: %v", src.StatsCsv, err)
		} else {
			res.Plot = plot
			log.Infof("Plot saved to %s", plot)
		}
	}
	return res, nil
}

func (s *Step) process(ctx context.Context, caseStudy, path, lulcTif string, src Source) error {
	clipped, err := CheckAndClip(path, lulcTif, s.ClipSize)
	if err != nil {
		return fmt.Errorf("clipping: %w", err)
	}
	if clipped {
		log.Infof("File was clipped by %d pixel(s)", s.ClipSize)
	}

	if src.Internal {
		if err = ApplyNoDataMask(path, lulcTif, s.NoData); err != nil {
			return fmt.Errorf("masking: %w", err)
		}
	}

	row, err := s.Stats(caseStudy, path)
	if err != nil {
		return fmt.Errorf("stats: %w", err)
	}
	if err = table.AppendFile(src.StatsCsv, table.Comma, StatsColumns, row.Record()); err != nil {
		return err
	}
	log.Infof("Stats written to %s", src.StatsCsv)

	if s.Catalogue != nil {
		if err := s.Catalogue.InsertLocalStats(ctx, s.RunID, row.LocalStat()); err != nil {
			log.Errorf("Catalogue update failed: %v", err)
		}
	}

	if s.COG {
		return s.TranslateCOG(ctx, path)
	}
	return CompressCopy(path, s.NoData)
}

// Stats computes the statistics row of a raster. Metric and year come
// from the description and the habitat from the Graphab project, falling
// back to file name heuristics for rasters produced elsewhere.
func (s *Step) Stats(caseStudy, path string) (*StatsRow, error) {
	ds, err := gdal.Open(path, false)
	if err != nil {
		return nil, err
	}
	defer ds.Close()

	row := &StatsRow{Path: path}
	desc := strings.TrimSpace(ds.Description())
	parsed := false
	if len(desc) > 0 && !strings.EqualFold(desc, "none") {
		metric, year, err := ParseDescription(desc)
		if err != nil {
			log.Warnf("Description of %s: %v", path, err)
		} else {
			row.Metadata = Metadata{CaseStudy: caseStudy, Metric: metric, Year: year}
			row.Habitat = habitat(path)
			parsed = true
		}
	}
	if !parsed {
		log.Infof("No description found in %s, trying the file name", path)
		row.Metadata = FilenameMetadata(path)
	}

	row.Stats, err = ds.Statistics(1, s.NoData)
	if err != nil {
		return nil, err
	}
	return row, nil
}

func habitat(path string) string {
	xml, ok := graphab.FindProjectXML(path)
	if !ok {
		log.Infof("No .xml file found in the current or parent directory of %s", path)
		return ""
	}
	name, err := graphab.ProjectHabitat(xml)
	if err != nil {
		log.Warnf("No habitat in %s: %v", xml, err)
		return ""
	}
	return name
}

func (r *StatsRow) LocalStat() catalogue.LocalStat {
	return catalogue.LocalStat{
		File:      r.Path,
		CaseStudy: r.CaseStudy,
		Habitat:   r.Habitat,
		Metric:    r.Metric,
		Year:      r.Year,
		Min:       r.Min,
		Max:       r.Max,
		Mean:      r.Mean,
		StdDev:    r.StdDev,
		Valid:     r.Valid,
	}
}

// Plot renders {csv}_plot.png and .html for one case study.
func Plot(csvPath, caseStudy string) (string, error) {
	tbl, err := table.Read(csvPath, table.Comma)
	if err != nil {
		return "", err
	}
	panels := LocalPanels(tbl, caseStudy)
	if len(panels) == 0 {
		return "", fmt.Errorf("no rows of %s to plot", caseStudy)
	}

	base := strings.TrimSuffix(csvPath, filepath.Ext(csvPath)) + "_plot"
	if err = chart.RenderPNG(base+".png", PlotTitle, panels, true); err != nil {
		return "", err
	}
	if err = chart.RenderHTML(base+".html", PlotTitle, panels, true); err != nil {
		return "", err
	}
	return base + ".png", nil
}
