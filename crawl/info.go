package crawl

import (
	"bytes"
	"encoding/json"
	"math"
	"strconv"

	"github.com/ad4gd/bioconn/gdal"
)

type Overview struct {
	XSize int `json:"x_size"`
	YSize int `json:"y_size"`
}

type BandInfo struct {
	Band   int      `json:"band"`
	Type   string   `json:"array_type"`
	NoData *string  `json:"nodata,omitempty"`
	Min    *float64 `json:"min,omitempty"`
	Max    *float64 `json:"max,omitempty"`
	Mean   *float64 `json:"mean,omitempty"`
	StdDev *float64 `json:"stddev,omitempty"`
}

// RasterInfo is the JSON summary printed by the info command.
type RasterInfo struct {
	FileName     string      `json:"filename"`
	Driver       string      `json:"file_type"`
	XSize        int         `json:"x_size"`
	YSize        int         `json:"y_size"`
	RasterCount  int         `json:"raster_count"`
	GeoTransform []float64   `json:"geotransform,omitempty"`
	Polygon      string      `json:"polygon,omitempty"`
	ProjWKT      string      `json:"proj_wkt"`
	Description  string      `json:"description,omitempty"`
	Software     string      `json:"software,omitempty"`
	Overviews    []*Overview `json:"overviews,omitempty"`
	Bands        []*BandInfo `json:"bands"`
}

// ExtractInfo opens a raster and summarises its grid, metadata tags and
// per-band statistics when withStats is set.
func ExtractInfo(path string, withStats bool) (*RasterInfo, error) {
	ds, err := gdal.Open(path, false)
	if err != nil {
		return nil, err
	}
	defer ds.Close()

	xSize, ySize := ds.Size()
	info := &RasterInfo{
		FileName:    path,
		Driver:      ds.DriverName(),
		XSize:       xSize,
		YSize:       ySize,
		RasterCount: ds.BandCount(),
		ProjWKT:     ds.Projection(),
		Description: ds.Description(),
	}
	info.Software, _ = ds.MetadataItem(gdal.Software)

	if gt, err := ds.GeoTransform(); err == nil {
		info.GeoTransform = gt[:]
		info.Polygon = gt.Footprint(xSize, ySize)
	}

	for _, ovr := range ds.Overviews(1) {
		info.Overviews = append(info.Overviews, &Overview{XSize: ovr[0], YSize: ovr[1]})
	}

	for b := 1; b <= ds.BandCount(); b++ {
		band := &BandInfo{Band: b, Type: ds.DataType(b).String()}
		if nd, ok := ds.NoData(b); ok {
			text := strconv.FormatFloat(nd, 'g', -1, 64)
			band.NoData = &text
		}
		if withStats {
			stats, err := ds.Statistics(b)
			if err != nil {
				return nil, err
			}
			if stats.Valid {
				band.Min, band.Max = finite(stats.Min), finite(stats.Max)
				band.Mean, band.StdDev = finite(stats.Mean), finite(stats.StdDev)
			}
		}
		info.Bands = append(info.Bands, band)
	}
	return info, nil
}

// finite drops NaN and infinities, which JSON cannot encode.
func finite(v float64) *float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return &v
}

func (i *RasterInfo) ToJSON() (string, error) {
	buf := new(bytes.Buffer)
	enc := json.NewEncoder(buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(i); err != nil {
		return "", err
	}
	return buf.String(), nil
}
