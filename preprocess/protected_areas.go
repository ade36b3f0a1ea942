// Package preprocess burns protected areas into the LULC rasters before
// impedance is derived from them.
package preprocess

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	log "github.com/sirupsen/logrus"

	"github.com/ad4gd/bioconn/crawl"
	"github.com/ad4gd/bioconn/worker"
)

const (
	TempDir     = "lulc_temp"
	PADir       = "pa_rasters"
	CombinedDir = "lulc_pa"
	MultiYearPA = "pa_multi_year.tif"

	// CombinedNoData is the Int32 nodata of the summed rasters.
	CombinedNoData = "-2147483647"
)

// PASum adds protected area rasters to the LULC rasters of a case study.
type PASum struct {
	Exec          worker.Executor
	GdalTranslate string
	GdalCalc      string
	YearlyPA      bool
	KeepTemp      bool

	LulcDir  string
	TempPath string
	PAPath   string
	OutPath  string
}

// NewPASum lays out the working directories below the case study input and
// output dirs, creating them when missing.
func NewPASum(exec worker.Executor, lulcDir, inputDir, outputDir string) (*PASum, error) {
	s := &PASum{
		Exec:          exec,
		GdalTranslate: "gdal_translate",
		GdalCalc:      "gdal_calc.py",
		YearlyPA:      true,
		LulcDir:       lulcDir,
		TempPath:      filepath.Join(inputDir, "protected_areas", TempDir),
		PAPath:        filepath.Join(outputDir, "protected_areas", PADir),
		OutPath:       filepath.Join(outputDir, "protected_areas", CombinedDir),
	}
	for _, dir := range []string{s.TempPath, s.PAPath, s.OutPath} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// Year returns the year token of a temporary LULC name such as
// lulc_albera_2017_temp.tif.
func Year(name string) (string, error) {
	parts := strings.Split(filepath.Base(name), "_")
	if len(parts) < 2 {
		return "", fmt.Errorf("no year in %s", name)
	}
	year := strings.SplitN(parts[len(parts)-2], ".", 2)[0]
	if len(year) == 0 {
		return "", fmt.Errorf("no year in %s", name)
	}
	return year, nil
}

func (s *PASum) PAFile(year string) string {
	if s.YearlyPA {
		return filepath.Join(s.PAPath, fmt.Sprintf("pa_%s.tif", year))
	}
	return filepath.Join(s.PAPath, MultiYearPA)
}

// AssignNoData drops the nodata flag of every LULC raster so protected area
// values are added to all cells.
func (s *PASum) AssignNoData(ctx context.Context) ([]string, error) {
	files, err := crawl.ListDir(s.LulcDir, ".tif")
	if err != nil {
		return nil, fmt.Errorf("listing LULC rasters: %w", err)
	}

	var outputs []string
	for _, path := range files {
		dst := filepath.Join(s.TempPath, strings.Replace(filepath.Base(path), ".tif", "_temp.tif", 1))
		err := s.Exec.Run(ctx, s.GdalTranslate, "-a_nodata", "none", "-co", "COMPRESS=LZW", "-co", "TILED=YES", path, dst)
		if err != nil {
			return outputs, fmt.Errorf("assigning nodata to %s: %w", path, err)
		}
		log.Infof("No data values assigned for file: %s", filepath.Base(path))
		outputs = append(outputs, dst)
	}
	return outputs, nil
}

// CombinePA writes lulc_{year}_pa.tif as the sum of each temporary LULC
// raster and its protected area raster.
func (s *PASum) CombinePA(ctx context.Context) ([]string, error) {
	files, err := crawl.ListDir(s.TempPath, ".tif")
	if err != nil {
		return nil, fmt.Errorf("listing temporary rasters: %w", err)
	}

	var outputs []string
	for _, path := range files {
		year, err := Year(path)
		if err != nil {
			return outputs, err
		}
		paFile := s.PAFile(year)
		if _, err := os.Stat(paFile); err != nil {
			return outputs, fmt.Errorf("PA file for year %s does not exist: %w", year, err)
		}

		dst := filepath.Join(s.OutPath, fmt.Sprintf("lulc_%s_pa.tif", year))
		err = s.Exec.Run(ctx, s.GdalCalc, "--overwrite", "--calc", "A+B", "--format", "GTiff",
			"--type", "Int32", "--NoDataValue="+CombinedNoData,
			"-A", path, "--A_band", "1", "-B", paFile,
			"--outfile", dst, "--co", "COMPRESS=LZW", "--co", "TILED=YES")
		if err != nil {
			return outputs, fmt.Errorf("summing %s and %s: %w", path, paFile, err)
		}
		log.Infof("Raster sum complete for year: %s", year)
		outputs = append(outputs, dst)
	}

	if !s.KeepTemp {
		if err := os.RemoveAll(s.TempPath); err != nil {
			return outputs, err
		}
	}
	return outputs, nil
}

func (s *PASum) Run(ctx context.Context) ([]string, error) {
	if _, err := s.AssignNoData(ctx); err != nil {
		return nil, err
	}
	return s.CombinePA(ctx)
}
