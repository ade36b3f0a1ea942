package impedance

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	log "github.com/sirupsen/logrus"

	"github.com/ad4gd/bioconn/crawl"
	"github.com/ad4gd/bioconn/gdal"
	"github.com/ad4gd/bioconn/worker"
)

// Step writes {habitat}_impedance/impedance_{lulc}.tif and the matching
// {habitat}_affinity/affinity_{lulc}.tif for every LULC raster.
type Step struct {
	Exec        worker.Executor
	Gdalwarp    string
	NoData      float64
	Compression string
}

type Result struct {
	Impedance []string
	Affinity  []string
	Failed    []string
}

func TablePath(inputDir, habitat string) string {
	return filepath.Join(inputDir, habitat+"_impedance", fmt.Sprintf("reclassification_%s.csv", habitat))
}

// AffinityPath swaps impedance for affinity in the part of the path below
// inputDir.
func AffinityPath(inputDir, impedancePath string) string {
	rel, err := filepath.Rel(inputDir, impedancePath)
	if err != nil || strings.HasPrefix(rel, "..") {
		return strings.ReplaceAll(impedancePath, "impedance", "affinity")
	}
	return filepath.Join(inputDir, strings.ReplaceAll(rel, "impedance", "affinity"))
}

func (s *Step) Run(ctx context.Context, lulcDir, inputDir string, habitats []string) (*Result, error) {
	lulcFiles, err := crawl.ListDir(lulcDir, ".tif")
	if err != nil {
		return nil, fmt.Errorf("listing LULC rasters: %w", err)
	}
	if len(lulcFiles) == 0 {
		return nil, fmt.Errorf("no LULC rasters in %s", lulcDir)
	}

	res := &Result{}
	for _, habitat := range habitats {
		habitat = strings.TrimSpace(habitat)
		impedanceDir := filepath.Join(inputDir, habitat+"_impedance")
		if err := os.MkdirAll(impedanceDir, 0755); err != nil {
			return res, err
		}

		reclass, err := LoadReclass(TablePath(inputDir, habitat), s.NoData)
		if err != nil {
			return res, fmt.Errorf("habitat %s: %w", habitat, err)
		}
		log.Infof("Data type used to reclassify LULC as impedance for %s is %s", habitat, reclass.DataType())

		for _, lulcPath := range lulcFiles {
			if err := ctx.Err(); err != nil {
				return res, err
			}
			log.Infof("Processing %s for habitat: %s", filepath.Base(lulcPath), habitat)

			impPath := filepath.Join(impedanceDir, "impedance_"+filepath.Base(lulcPath))
			if err := s.impedance(ctx, lulcPath, impPath, reclass); err != nil {
				log.Errorf("Impedance failed for %s: %v", lulcPath, err)
				res.Failed = append(res.Failed, impPath)
				continue
			}
			res.Impedance = append(res.Impedance, impPath)
			log.Infof("Reclassification for impedance complete for: %s", lulcPath)

			affPath := AffinityPath(inputDir, impPath)
			if err := s.affinity(ctx, impPath, affPath); err != nil {
				log.Errorf("Affinity failed for %s: %v", impPath, err)
				res.Failed = append(res.Failed, affPath)
				continue
			}
			res.Affinity = append(res.Affinity, affPath)
			log.Infof("Affinity computed for: %s", impPath)
		}
	}
	return res, nil
}

func (s *Step) impedance(ctx context.Context, lulcPath, impPath string, reclass *Reclass) error {
	src, err := gdal.Open(lulcPath, false)
	if err != nil {
		return err
	}
	defer src.Close()

	values, err := src.Read(1)
	if err != nil {
		return err
	}

	dst, err := gdal.CreateLike(impPath, src, 1, reclass.DataType(), nil)
	if err != nil {
		return err
	}
	err = dst.Write(1, reclass.Apply(values))
	dst.Close()
	if err != nil {
		return err
	}

	return s.compress(ctx, impPath, reclass.DataType())
}

func (s *Step) affinity(ctx context.Context, impPath, affPath string) error {
	if err := os.MkdirAll(filepath.Dir(affPath), 0755); err != nil {
		return err
	}

	src, err := gdal.Open(impPath, false)
	if err != nil {
		return err
	}
	defer src.Close()

	values, err := src.Read(1)
	if err != nil {
		return err
	}

	dst, err := gdal.CreateLike(affPath, src, 1, gdal.Float32, nil)
	if err != nil {
		return err
	}
	err = dst.Write(1, Affinity(values, s.NoData))
	dst.Close()
	if err != nil {
		return err
	}

	return s.compress(ctx, affPath, gdal.Float32)
}

// compress rewrites path through gdalwarp with the output nodata and
// compression, replacing the original on success.
func (s *Step) compress(ctx context.Context, path string, dtype gdal.DataType) error {
	compressed := strings.TrimSuffix(path, filepath.Ext(path)) + "_compr.tif"
	err := s.Exec.Run(ctx, s.Gdalwarp, path, compressed,
		"-dstnodata", strconv.FormatFloat(s.NoData, 'f', -1, 64),
		"-ot", dtype.String(),
		"-co", "COMPRESS="+s.Compression)
	if err != nil {
		os.Remove(compressed)
		return fmt.Errorf("compressing %s: %w", path, err)
	}

	if err = os.Remove(path); err != nil {
		return err
	}
	return os.Rename(compressed, path)
}
