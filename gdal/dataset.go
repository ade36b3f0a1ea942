package gdal

// #include <stdlib.h>
// #include "gdal.h"
// #include "cpl_string.h"
// #include "cpl_error.h"
// #cgo pkg-config: gdal
import "C"

import (
	"fmt"
	"unsafe"
)

func init() {
	C.GDALAllRegister()
}

// Dataset is an open GDAL raster or vector dataset.
type Dataset struct {
	path string
	h    C.GDALDatasetH
}

func lastError(format string, args ...interface{}) error {
	msg := fmt.Sprintf(format, args...)
	if cMsg := C.GoString(C.CPLGetLastErrorMsg()); len(cMsg) > 0 {
		return fmt.Errorf("%s: %s", msg, cMsg)
	}
	return fmt.Errorf("%s", msg)
}

func cStringList(items []string) **C.char {
	var list **C.char
	for _, item := range items {
		cItem := C.CString(item)
		list = C.CSLAddString(list, cItem)
		C.free(unsafe.Pointer(cItem))
	}
	return list
}

// Open opens a raster dataset, read-only unless update is set.
func Open(path string, update bool) (*Dataset, error) {
	cPath := C.CString(path)
	defer C.free(unsafe.Pointer(cPath))

	access := C.GDALAccess(C.GA_ReadOnly)
	if update {
		access = C.GDALAccess(C.GA_Update)
	}
	h := C.GDALOpen(cPath, access)
	if h == nil {
		return nil, lastError("failed to open %s", path)
	}
	return &Dataset{path: path, h: h}, nil
}

func getDriver(name string) (C.GDALDriverH, error) {
	cName := C.CString(name)
	defer C.free(unsafe.Pointer(cName))
	hDriver := C.GDALGetDriverByName(cName)
	if hDriver == nil {
		return nil, fmt.Errorf("GDAL driver %s is not available", name)
	}
	return hDriver, nil
}

// Create creates a GeoTIFF with the given creation options (KEY=VALUE).
func Create(path string, xSize, ySize, bands int, dtype DataType, options []string) (*Dataset, error) {
	hDriver, err := getDriver("GTiff")
	if err != nil {
		return nil, err
	}

	cPath := C.CString(path)
	defer C.free(unsafe.Pointer(cPath))
	opts := cStringList(options)
	defer C.CSLDestroy(opts)

	h := C.GDALCreate(hDriver, cPath, C.int(xSize), C.int(ySize), C.int(bands), C.GDALDataType(dtype), opts)
	if h == nil {
		return nil, lastError("failed to create %s", path)
	}
	return &Dataset{path: path, h: h}, nil
}

// CreateLike creates a GeoTIFF on the grid and projection of src.
func CreateLike(path string, src *Dataset, bands int, dtype DataType, options []string) (*Dataset, error) {
	xSize, ySize := src.Size()
	gt, err := src.GeoTransform()
	if err != nil {
		return nil, err
	}

	ds, err := Create(path, xSize, ySize, bands, dtype, options)
	if err != nil {
		return nil, err
	}
	if err = ds.SetGeoTransform(gt); err != nil {
		ds.Close()
		return nil, err
	}
	if proj := src.Projection(); len(proj) > 0 {
		if err = ds.SetProjection(proj); err != nil {
			ds.Close()
			return nil, err
		}
	}
	return ds, nil
}

// CreateCopy writes a copy of ds to path with the named driver.
func (ds *Dataset) CreateCopy(path string, driver string, options []string) (*Dataset, error) {
	hDriver, err := getDriver(driver)
	if err != nil {
		return nil, err
	}

	cPath := C.CString(path)
	defer C.free(unsafe.Pointer(cPath))
	opts := cStringList(options)
	defer C.CSLDestroy(opts)

	h := C.GDALCreateCopy(hDriver, cPath, ds.h, C.int(0), opts, nil, nil)
	if h == nil {
		return nil, lastError("failed to copy %s to %s", ds.path, path)
	}
	return &Dataset{path: path, h: h}, nil
}

func (ds *Dataset) Path() string {
	return ds.path
}

// Close flushes pending writes and releases the dataset.
func (ds *Dataset) Close() {
	if ds.h != nil {
		C.GDALClose(ds.h)
		ds.h = nil
	}
}

func (ds *Dataset) Flush() {
	C.GDALFlushCache(ds.h)
}

func (ds *Dataset) DriverName() string {
	hDriver := C.GDALGetDatasetDriver(ds.h)
	if hDriver == nil {
		return ""
	}
	return C.GoString(C.GDALGetDriverShortName(hDriver))
}

func (ds *Dataset) Size() (int, int) {
	return int(C.GDALGetRasterXSize(ds.h)), int(C.GDALGetRasterYSize(ds.h))
}

func (ds *Dataset) BandCount() int {
	return int(C.GDALGetRasterCount(ds.h))
}

func (ds *Dataset) GeoTransform() (GeoTransform, error) {
	var gt GeoTransform
	dArr := [6]C.double{}
	if C.GDALGetGeoTransform(ds.h, &dArr[0]) != C.CE_None {
		return gt, lastError("%s has no geotransform", ds.path)
	}
	for i := range dArr {
		gt[i] = float64(dArr[i])
	}
	return gt, nil
}

func (ds *Dataset) SetGeoTransform(gt GeoTransform) error {
	dArr := [6]C.double{}
	for i := range gt {
		dArr[i] = C.double(gt[i])
	}
	if C.GDALSetGeoTransform(ds.h, &dArr[0]) != C.CE_None {
		return lastError("failed to set geotransform on %s", ds.path)
	}
	return nil
}

func (ds *Dataset) Projection() string {
	return C.GoString(C.GDALGetProjectionRef(ds.h))
}

func (ds *Dataset) SetProjection(wkt string) error {
	cWkt := C.CString(wkt)
	defer C.free(unsafe.Pointer(cWkt))
	if C.GDALSetProjection(ds.h, cWkt) != C.CE_None {
		return lastError("failed to set projection on %s", ds.path)
	}
	return nil
}

func (ds *Dataset) band(idx int) (C.GDALRasterBandH, error) {
	if idx < 1 || idx > ds.BandCount() {
		return nil, fmt.Errorf("%s: band %d out of range", ds.path, idx)
	}
	return C.GDALGetRasterBand(ds.h, C.int(idx)), nil
}

func (ds *Dataset) DataType(band int) DataType {
	hBand, err := ds.band(band)
	if err != nil {
		return Unknown
	}
	return DataType(C.GDALGetRasterDataType(hBand))
}

// NoData returns the band nodata value and whether one is set.
func (ds *Dataset) NoData(band int) (float64, bool) {
	hBand, err := ds.band(band)
	if err != nil {
		return 0, false
	}
	var success C.int
	val := C.GDALGetRasterNoDataValue(hBand, &success)
	return float64(val), success != 0
}

func (ds *Dataset) SetNoData(band int, value float64) error {
	hBand, err := ds.band(band)
	if err != nil {
		return err
	}
	if C.GDALSetRasterNoDataValue(hBand, C.double(value)) != C.CE_None {
		return lastError("failed to set nodata on %s", ds.path)
	}
	return nil
}

func (ds *Dataset) Fill(band int, value float64) error {
	hBand, err := ds.band(band)
	if err != nil {
		return err
	}
	if C.GDALFillRaster(hBand, C.double(value), 0) != C.CE_None {
		return lastError("failed to fill %s", ds.path)
	}
	return nil
}

// Read returns the whole band as float64 values in row-major order.
func (ds *Dataset) Read(band int) ([]float64, error) {
	xSize, ySize := ds.Size()
	return ds.ReadWindow(band, 0, 0, xSize, ySize)
}

func (ds *Dataset) ReadWindow(band, xOff, yOff, width, height int) ([]float64, error) {
	hBand, err := ds.band(band)
	if err != nil {
		return nil, err
	}
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("%s: empty window %dx%d", ds.path, width, height)
	}

	buf := make([]float64, width*height)
	cErr := C.GDALRasterIO(hBand, C.GF_Read, C.int(xOff), C.int(yOff), C.int(width), C.int(height),
		unsafe.Pointer(&buf[0]), C.int(width), C.int(height), C.GDT_Float64, 0, 0)
	if cErr != C.CE_None {
		return nil, lastError("failed to read band %d of %s", band, ds.path)
	}
	return buf, nil
}

// Write stores a full band; values are converted to the band data type.
func (ds *Dataset) Write(band int, data []float64) error {
	hBand, err := ds.band(band)
	if err != nil {
		return err
	}
	xSize, ySize := ds.Size()
	if len(data) != xSize*ySize || len(data) == 0 {
		return fmt.Errorf("%s: got %d values for a %dx%d band", ds.path, len(data), xSize, ySize)
	}

	cErr := C.GDALRasterIO(hBand, C.GF_Write, 0, 0, C.int(xSize), C.int(ySize),
		unsafe.Pointer(&data[0]), C.int(xSize), C.int(ySize), C.GDT_Float64, 0, 0)
	if cErr != C.CE_None {
		return lastError("failed to write band %d of %s", band, ds.path)
	}
	return nil
}

// MetadataItem reads a dataset level metadata item from the default domain.
func (ds *Dataset) MetadataItem(key string) (string, bool) {
	cKey := C.CString(key)
	defer C.free(unsafe.Pointer(cKey))
	val := C.GDALGetMetadataItem(C.GDALMajorObjectH(ds.h), cKey, nil)
	if val == nil {
		return "", false
	}
	return C.GoString(val), true
}

func (ds *Dataset) SetMetadataItem(key, value string) error {
	cKey := C.CString(key)
	defer C.free(unsafe.Pointer(cKey))
	cVal := C.CString(value)
	defer C.free(unsafe.Pointer(cVal))
	if C.GDALSetMetadataItem(C.GDALMajorObjectH(ds.h), cKey, cVal, nil) != C.CE_None {
		return lastError("failed to set %s on %s", key, ds.path)
	}
	return nil
}

// Description returns the TIFFTAG_IMAGEDESCRIPTION item, empty when unset.
func (ds *Dataset) Description() string {
	desc, _ := ds.MetadataItem(ImageDescription)
	return desc
}

// Overviews lists the overview sizes of a band.
func (ds *Dataset) Overviews(band int) [][2]int {
	hBand, err := ds.band(band)
	if err != nil {
		return nil
	}
	nOvr := int(C.GDALGetOverviewCount(hBand))
	ovrs := make([][2]int, nOvr)
	for i := 0; i < nOvr; i++ {
		hOvr := C.GDALGetOverview(hBand, C.int(i))
		ovrs[i] = [2]int{int(C.GDALGetRasterBandXSize(hOvr)), int(C.GDALGetRasterBandYSize(hOvr))}
	}
	return ovrs
}
