package gdal

import (
	"fmt"
	"strings"
)

// DataType mirrors the GDALDataType codes.
type DataType int

const (
	Unknown DataType = iota
	Byte
	UInt16
	Int16
	UInt32
	Int32
	Float32
	Float64
)

var dataTypeNames = map[DataType]string{
	Unknown: "Unknown",
	Byte:    "Byte",
	UInt16:  "UInt16",
	Int16:   "Int16",
	UInt32:  "UInt32",
	Int32:   "Int32",
	Float32: "Float32",
	Float64: "Float64",
}

func (t DataType) String() string {
	if name, ok := dataTypeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("DataType(%d)", int(t))
}

// IsFloat reports whether values of this type carry a fractional part.
func (t DataType) IsFloat() bool {
	return t == Float32 || t == Float64
}

func ParseDataType(name string) (DataType, error) {
	for t, n := range dataTypeNames {
		if t != Unknown && strings.EqualFold(n, name) {
			return t, nil
		}
	}
	return Unknown, fmt.Errorf("unsupported data type: %s", name)
}

const (
	ImageDescription = "TIFFTAG_IMAGEDESCRIPTION"
	Software         = "TIFFTAG_SOFTWARE"
)

// GeoTransform is the affine pixel to georeferenced transform of a raster.
type GeoTransform [6]float64

// Apply maps a pixel/line position to georeferenced coordinates.
func (gt GeoTransform) Apply(pixel, line float64) (float64, float64) {
	x := gt[0] + pixel*gt[1] + line*gt[2]
	y := gt[3] + pixel*gt[4] + line*gt[5]
	return x, y
}

// Offset moves the origin by a number of pixels and lines, keeping the
// resolution.
func (gt GeoTransform) Offset(pixels, lines int) GeoTransform {
	out := gt
	out[0] += float64(pixels) * gt[1]
	out[3] += float64(lines) * gt[5]
	return out
}

// Footprint returns the WKT polygon covering an xSize by ySize grid.
func (gt GeoTransform) Footprint(xSize, ySize int) string {
	ulX, ulY := gt.Apply(0, 0)
	lrX, lrY := gt.Apply(float64(xSize), float64(ySize))
	return fmt.Sprintf("POLYGON ((%f %f,%f %f,%f %f,%f %f,%f %f))", ulX, ulY, ulX, lrY, lrX, lrY, lrX, ulY, ulX, ulY)
}
