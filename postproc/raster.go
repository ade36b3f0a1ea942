package postproc

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	log "github.com/sirupsen/logrus"

	"github.com/ad4gd/bioconn/gdal"
)

type band struct {
	data      []float64
	nodata    float64
	hasNoData bool
}

// Clip removes size pixels from every side of a raster in place, keeping
// its data type, band nodata values and description.
func Clip(path string, size int) error {
	ds, err := gdal.Open(path, false)
	if err != nil {
		return err
	}

	xSize, ySize := ds.Size()
	newX, newY := xSize-2*size, ySize-2*size
	if newX <= 0 || newY <= 0 {
		ds.Close()
		return fmt.Errorf("clip size %d is too large for %dx%d", size, xSize, ySize)
	}

	gt, err := ds.GeoTransform()
	if err != nil {
		ds.Close()
		return err
	}
	proj := ds.Projection()
	desc := ds.Description()
	dtype := ds.DataType(1)

	bands := make([]band, ds.BandCount())
	for i := range bands {
		data, err := ds.ReadWindow(i+1, size, size, newX, newY)
		if err != nil {
			ds.Close()
			return err
		}
		nodata, ok := ds.NoData(i + 1)
		bands[i] = band{data: data, nodata: nodata, hasNoData: ok}
	}
	ds.Close()

	out, err := gdal.Create(path, newX, newY, len(bands), dtype, nil)
	if err != nil {
		return err
	}
	defer out.Close()

	if err = out.SetGeoTransform(gt.Offset(size, size)); err != nil {
		return err
	}
	if len(proj) > 0 {
		if err = out.SetProjection(proj); err != nil {
			return err
		}
	}
	for i, b := range bands {
		if err = out.Write(i+1, b.data); err != nil {
			return err
		}
		if b.hasNoData {
			if err = out.SetNoData(i+1, b.nodata); err != nil {
				return err
			}
		}
	}
	if len(desc) > 0 {
		return out.SetMetadataItem(gdal.ImageDescription, desc)
	}
	return nil
}

// CheckAndClip clips path when it is exactly size pixels larger than ref
// on every side and reports whether it did.
func CheckAndClip(path, ref string, size int) (bool, error) {
	if size <= 0 {
		return false, nil
	}
	ds, err := gdal.Open(path, false)
	if err != nil {
		return false, err
	}
	xSize, ySize := ds.Size()
	ds.Close()

	refDs, err := gdal.Open(ref, false)
	if err != nil {
		return false, fmt.Errorf("reference: %w", err)
	}
	refX, refY := refDs.Size()
	refDs.Close()

	if xSize != refX+2*size || ySize != refY+2*size {
		log.Infof("Input dimensions (%dx%d) are not %d pixels larger than reference dimensions (%dx%d). No clipping needed.",
			xSize, ySize, 2*size, refX, refY)
		return false, nil
	}

	log.Infof("Input dimensions (%dx%d) are larger than reference dimensions (%dx%d). Clipping %d pixel(s) from each side.",
		xSize, ySize, refX, refY, size)
	if err = Clip(path, size); err != nil {
		return false, err
	}
	return true, nil
}

// ApplyNoDataMask sets band 1 pixels to nodata where the LULC raster or
// the band itself has no data. Both rasters must share the grid.
func ApplyNoDataMask(path, lulcPath string, nodata float64) error {
	ds, err := gdal.Open(path, true)
	if err != nil {
		return err
	}
	defer ds.Close()

	lulc, err := gdal.Open(lulcPath, false)
	if err != nil {
		return err
	}
	defer lulc.Close()

	xSize, ySize := ds.Size()
	lx, ly := lulc.Size()
	if xSize != lx || ySize != ly {
		return fmt.Errorf("%s is %dx%d but LULC %s is %dx%d", path, xSize, ySize, lulcPath, lx, ly)
	}

	desc := ds.Description()
	data, err := ds.Read(1)
	if err != nil {
		return err
	}
	lulcData, err := lulc.Read(1)
	if err != nil {
		return err
	}
	ownNoData, hasOwn := ds.NoData(1)
	lulcNoData, hasLulc := lulc.NoData(1)

	masked := 0
	for i := range data {
		if (hasLulc && lulcData[i] == lulcNoData) || (hasOwn && data[i] == ownNoData) {
			data[i] = nodata
			masked++
		}
	}

	if err = ds.Write(1, data); err != nil {
		return err
	}
	if err = ds.SetNoData(1, nodata); err != nil {
		return err
	}
	if len(desc) > 0 {
		if err = ds.SetMetadataItem(gdal.ImageDescription, desc); err != nil {
			return err
		}
	}
	log.Infof("Applied NoData mask to %s (%d pixels)", path, masked)
	return nil
}

const outputType = gdal.Float32

func compression(dtype gdal.DataType) string {
	if dtype.IsFloat() {
		return "ZSTD"
	}
	return "LZW"
}

// CompressCopy rewrites a raster as a compressed Float32 GeoTIFF through
// compressed_{name} and replaces the original.
func CompressCopy(path string, nodata float64) error {
	src, err := gdal.Open(path, false)
	if err != nil {
		return err
	}

	tmp := filepath.Join(filepath.Dir(path), "compressed_"+filepath.Base(path))
	dst, err := gdal.CreateLike(tmp, src, src.BandCount(), outputType, []string{"COMPRESS=" + compression(outputType)})
	if err != nil {
		src.Close()
		return err
	}

	err = copyBands(src, dst, nodata)
	if err == nil {
		if desc := src.Description(); len(desc) > 0 {
			err = dst.SetMetadataItem(gdal.ImageDescription, desc)
		}
	}
	dst.Close()
	src.Close()
	if err != nil {
		os.Remove(tmp)
		return err
	}
	return replace(tmp, path)
}

func copyBands(src, dst *gdal.Dataset, nodata float64) error {
	for b := 1; b <= src.BandCount(); b++ {
		data, err := src.Read(b)
		if err != nil {
			return err
		}
		if err = dst.Write(b, data); err != nil {
			return err
		}
		if err = dst.SetNoData(b, nodata); err != nil {
			return err
		}
	}
	return nil
}

func replace(tmp, path string) error {
	if err := os.Remove(path); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// IsCOG asks gdalinfo whether path is laid out as a Cloud Optimized
// GeoTIFF. Failures count as not COG.
func (s *Step) IsCOG(ctx context.Context, path string) bool {
	out, err := s.Exec.Output(ctx, s.Gdalinfo, path)
	if err != nil {
		log.Warnf("Error checking COG status of %s: %v", path, err)
		return false
	}
	return strings.Contains(out, "LAYOUT=COG")
}

// TranslateCOG converts path to a COG through {name}_cog.tif, carrying the
// description over, and replaces the original.
func (s *Step) TranslateCOG(ctx context.Context, path string) error {
	ds, err := gdal.Open(path, false)
	if err != nil {
		return err
	}
	desc := ds.Description()
	ds.Close()

	out := strings.TrimSuffix(path, filepath.Ext(path)) + "_cog.tif"
	args := []string{"-of", "COG", "-co", "COMPRESS=" + compression(outputType), "-ot", outputType.String()}
	if len(desc) > 0 {
		args = append(args, "-mo", gdal.ImageDescription+"="+desc)
	}
	args = append(args, path, out)

	if err = s.Exec.Run(ctx, s.GdalTranslate, args...); err != nil {
		os.Remove(out)
		return err
	}
	if err = replace(out, path); err != nil {
		return err
	}
	log.Infof("Replaced %s with COG version", path)
	return nil
}
